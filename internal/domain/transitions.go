package domain

// Transition labels the lifecycle edge a record (or implicit closure) caused.
type Transition string

const (
	// TransitionNone means the record changed nothing about activity, such
	// as a first record already below the threshold.
	TransitionNone Transition = "none"
	// TransitionOpened is UNSEEN to OPEN.
	TransitionOpened Transition = "opened"
	// TransitionAmended is OPEN to OPEN, size updated.
	TransitionAmended Transition = "amended"
	// TransitionClosed is OPEN to CLOSED.
	TransitionClosed Transition = "closed"
	// TransitionReopened is CLOSED back to OPEN.
	TransitionReopened Transition = "reopened"
)

// NewPositionState returns the UNSEEN state for a key. LatestEventID stays
// empty until the first record is applied.
func NewPositionState(key PositionKey) *PositionState {
	return &PositionState{Key: key}
}

// ApplyRecord advances a position state by one disclosure record and returns
// the transition taken. This is the only implementation of the lifecycle
// rules: the reconciler applies it batch by batch and the reconstruction
// sweep applies it in ledger order, which is what makes the two derivations
// provably agree.
//
// Records must be applied in ledger order (disclosure_date, batch_seq,
// event_seq); callers own that ordering.
func ApplyRecord(st *PositionState, rec *DisclosureRecord, threshold float64) Transition {
	unseen := st.LatestEventID == ""
	wasActive := st.IsActive
	active := rec.PositionSize >= threshold

	st.LatestEventID = rec.EventID
	st.CurrentSize = rec.PositionSize
	st.LatestDate = rec.DisclosureDate
	if rec.BatchSeq > st.LastSeenBatchSeq {
		st.LastSeenBatchSeq = rec.BatchSeq
	}

	switch {
	case active && !wasActive:
		st.IsActive = true
		st.ActiveSinceDate = rec.DisclosureDate
		if unseen {
			return TransitionOpened
		}
		return TransitionReopened
	case active && wasActive:
		// active_since_date marks the start of the current open run and
		// survives amendments.
		return TransitionAmended
	case !active && wasActive:
		st.IsActive = false
		st.ActiveSinceDate = ""
		return TransitionClosed
	default:
		return TransitionNone
	}
}

// ApplyImplicitClosure closes an open position that a snapshot pull no longer
// lists. The closure is dated at the pull's date; CurrentSize keeps the last
// reported size and LatestEventID the last real event, since no record exists
// for an implicit closure.
func ApplyImplicitClosure(st *PositionState, batchDate string, batchSeq int64) Transition {
	if !st.IsActive {
		return TransitionNone
	}
	st.IsActive = false
	st.ActiveSinceDate = ""
	st.LatestDate = batchDate
	if batchSeq > st.LastSeenBatchSeq {
		st.LastSeenBatchSeq = batchSeq
	}
	return TransitionClosed
}
