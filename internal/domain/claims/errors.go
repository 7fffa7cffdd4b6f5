package claims

import "errors"

// Business errors for claim operations. All are expected, recoverable
// outcomes; callers match with errors.Is and decide presentation.
var (
	// ErrAlreadyClaimed indicates a live claim already exists for the issue.
	ErrAlreadyClaimed = errors.New("issue is already claimed")

	// ErrNotClaimed indicates no claim exists for the issue.
	ErrNotClaimed = errors.New("issue is not claimed")

	// ErrNotOwner indicates the caller does not own the claim.
	ErrNotOwner = errors.New("claimant does not own this claim")

	// ErrNotTarget indicates the caller is not the handoff target.
	ErrNotTarget = errors.New("claimant is not the handoff target")

	// ErrNoPendingHandoff indicates the claim has no pending handoff.
	ErrNoPendingHandoff = errors.New("no pending handoff")

	// ErrInvalidTransition indicates a disallowed status transition.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotStealable indicates the claim is not marked stealable.
	ErrNotStealable = errors.New("claim is not stealable")

	// ErrTypeMismatch indicates the stealer's type is not preferred.
	ErrTypeMismatch = errors.New("stealer type does not match preferred claimant types")

	// ErrAgentNotFound indicates an unknown agent id.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrOnCooldown indicates the rebalancer is within its cooldown period.
	ErrOnCooldown = errors.New("rebalance on cooldown")
)
