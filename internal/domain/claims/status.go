package claims

// ClaimStatus represents the status of an issue claim.
type ClaimStatus string

const (
	StatusActive          ClaimStatus = "active"
	StatusPaused          ClaimStatus = "paused"
	StatusBlocked         ClaimStatus = "blocked"
	StatusHandoffPending  ClaimStatus = "handoff-pending"
	StatusReviewRequested ClaimStatus = "review-requested"
	StatusStealable       ClaimStatus = "stealable"
	StatusCompleted       ClaimStatus = "completed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ClaimStatus) IsTerminal() bool {
	return s == StatusCompleted
}

// IsValid reports whether the status is one of the known values.
func (s ClaimStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusBlocked, StatusHandoffPending,
		StatusReviewRequested, StatusStealable, StatusCompleted:
		return true
	}
	return false
}

// StealReason explains why a claim was marked stealable.
type StealReason string

const (
	StealReasonOverloaded     StealReason = "overloaded"
	StealReasonStale          StealReason = "stale"
	StealReasonBlockedTimeout StealReason = "blocked-timeout"
	StealReasonVoluntary      StealReason = "voluntary"
)

// IsValid reports whether the reason is one of the known values.
func (r StealReason) IsValid() bool {
	switch r {
	case StealReasonOverloaded, StealReasonStale, StealReasonBlockedTimeout, StealReasonVoluntary:
		return true
	}
	return false
}
