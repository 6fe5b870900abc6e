package scheduler

import (
	"context"

	"github.com/shortwatch/shortwatch/internal/modules/reconciler"
	"github.com/shortwatch/shortwatch/internal/reliability"
)

// FeedPullerInterface defines the contract for scheduled feed pulls
// Used by scheduler to enable testing with mocks
type FeedPullerInterface interface {
	PullAll(ctx context.Context) error
}

// CacheSweeperInterface defines the contract for expired cache entry removal
// Used by scheduler to enable testing with mocks
type CacheSweeperInterface interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// RebuilderInterface defines the contract for projection rebuilds
// Used by scheduler to enable testing with mocks
type RebuilderInterface interface {
	Rebuild(ctx context.Context) (*reconciler.RebuildResult, error)
}

// BackupServiceInterface defines the contract for backup runs
// Used by scheduler to enable testing with mocks
type BackupServiceInterface interface {
	Enabled() bool
	Run(ctx context.Context) (*reliability.BackupResult, error)
}
