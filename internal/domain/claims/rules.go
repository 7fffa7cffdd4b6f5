package claims

import "time"

// validTransitions defines the claim status machine. Release and expiry
// remove the claim rather than transitioning it, so they do not appear
// here; completed is terminal.
var validTransitions = map[ClaimStatus][]ClaimStatus{
	StatusActive: {
		StatusPaused,
		StatusBlocked,
		StatusHandoffPending,
		StatusReviewRequested,
		StatusStealable,
		StatusCompleted,
	},
	StatusPaused: {
		StatusActive,
		StatusBlocked,
		StatusStealable,
	},
	StatusBlocked: {
		StatusActive,
		StatusPaused,
		StatusStealable,
	},
	StatusHandoffPending: {
		StatusActive, // accept (ownership changes) or reject (unchanged)
	},
	StatusReviewRequested: {
		StatusActive,
		StatusCompleted,
	},
	StatusStealable: {
		StatusActive, // steal, ownership changes
	},
	StatusCompleted: {},
}

// CanTransition reports whether from -> to is a valid transition.
func CanTransition(from, to ClaimStatus) bool {
	for _, valid := range validTransitions[from] {
		if valid == to {
			return true
		}
	}
	return false
}

// ValidTransitions returns the allowed target statuses from a status.
func ValidTransitions(from ClaimStatus) []ClaimStatus {
	return validTransitions[from]
}

// IsDirectlySettable reports whether a status may be set through
// UpdateStatus. Handoff-pending and stealable require their dedicated
// operations because they carry extra state (target, stealable entry).
func IsDirectlySettable(status ClaimStatus) bool {
	return status != StatusHandoffPending && status != StatusStealable
}

// StealConfig holds the work-stealing sweep thresholds.
type StealConfig struct {
	// StaleThreshold is how long a claim may sit without a status change
	// before the sweep marks it stealable.
	StaleThreshold time.Duration `yaml:"staleThreshold"`
	// BlockedThreshold is how long a claim may stay blocked before the
	// sweep marks it stealable.
	BlockedThreshold time.Duration `yaml:"blockedThreshold"`
	// ProgressProtection keeps near-complete work from being auto-marked.
	ProgressProtection float64 `yaml:"progressProtection"`
	// ContestWindow bounds how long after a successful steal a losing
	// attempt is still reported as a contest.
	ContestWindow time.Duration `yaml:"contestWindow"`
}

// DefaultStealConfig returns the default steal thresholds.
func DefaultStealConfig() StealConfig {
	return StealConfig{
		StaleThreshold:     30 * time.Minute,
		BlockedThreshold:   60 * time.Minute,
		ProgressProtection: 75,
		ContestWindow:      time.Minute,
	}
}

// IsClaimStale reports whether the sweep should mark an active, paused,
// or review-requested claim stealable for inactivity.
func IsClaimStale(claim *IssueClaim, cfg StealConfig, now time.Time) bool {
	switch claim.Status {
	case StatusActive, StatusPaused, StatusReviewRequested:
	default:
		return false
	}
	if claim.Progress >= cfg.ProgressProtection {
		return false
	}
	return claim.IdleSince(now) > cfg.StaleThreshold
}

// IsClaimBlockedTooLong reports whether a blocked claim exceeded the
// blocked threshold.
func IsClaimBlockedTooLong(claim *IssueClaim, cfg StealConfig, now time.Time) bool {
	if claim.Status != StatusBlocked {
		return false
	}
	return claim.IdleSince(now) > cfg.BlockedThreshold
}
