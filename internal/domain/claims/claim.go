package claims

import "time"

// IssueClaim is the exclusive right to work an issue. At most one claim
// exists per issue at any time; ownership is held by Claimant until the
// claim is released, handed off, stolen, or expired.
type IssueClaim struct {
	IssueID         string         `json:"issueId"`
	Claimant        Claimant       `json:"claimant"`
	Status          ClaimStatus    `json:"status"`
	ClaimedAt       time.Time      `json:"claimedAt"`
	StatusChangedAt time.Time      `json:"statusChangedAt"`
	ExpiresAt       *time.Time     `json:"expiresAt,omitempty"`
	HandoffTo       *Claimant      `json:"handoffTo,omitempty"`
	HandoffReason   string         `json:"handoffReason,omitempty"`
	BlockReason     string         `json:"blockReason,omitempty"`
	Progress        float64        `json:"progress"` // 0 to 100
	Context         map[string]any `json:"context,omitempty"`

	// Causal bookkeeping for the handoff protocol: the accept/reject
	// events reference the request event that caused them.
	HandoffRequestID     string `json:"handoffRequestId,omitempty"`
	HandoffCorrelationID string `json:"handoffCorrelationId,omitempty"`
}

// NewIssueClaim creates an active claim owned by claimant.
func NewIssueClaim(issueID string, claimant Claimant, now time.Time, context map[string]any) *IssueClaim {
	return &IssueClaim{
		IssueID:         issueID,
		Claimant:        claimant,
		Status:          StatusActive,
		ClaimedAt:       now,
		StatusChangedAt: now,
		Progress:        0,
		Context:         context,
	}
}

// IsOwnedBy reports whether the claimant holds this claim.
func (c *IssueClaim) IsOwnedBy(claimant Claimant) bool {
	return c.Claimant.Equals(claimant)
}

// SetProgress clamps progress into [0, 100].
func (c *IssueClaim) SetProgress(progress float64) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	c.Progress = progress
}

// SetStatus moves the claim to status without validating the transition;
// callers validate with CanTransition first.
func (c *IssueClaim) SetStatus(status ClaimStatus, now time.Time) {
	c.Status = status
	c.StatusChangedAt = now
}

// ClearHandoff resets all handoff-pending fields.
func (c *IssueClaim) ClearHandoff() {
	c.HandoffTo = nil
	c.HandoffReason = ""
	c.HandoffRequestID = ""
	c.HandoffCorrelationID = ""
}

// TransferTo moves ownership to claimant and reactivates the claim.
func (c *IssueClaim) TransferTo(claimant Claimant, now time.Time) {
	c.Claimant = claimant
	c.SetStatus(StatusActive, now)
}

// IsExpired reports whether the claim passed its expiry deadline.
func (c *IssueClaim) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && now.After(*c.ExpiresAt)
}

// IdleSince returns how long the claim has sat in its current status.
func (c *IssueClaim) IdleSince(now time.Time) time.Duration {
	return now.Sub(c.StatusChangedAt)
}

// Clone returns a deep copy so repository reads never alias live state.
func (c *IssueClaim) Clone() *IssueClaim {
	clone := *c
	if c.HandoffTo != nil {
		to := *c.HandoffTo
		clone.HandoffTo = &to
	}
	if c.ExpiresAt != nil {
		at := *c.ExpiresAt
		clone.ExpiresAt = &at
	}
	if c.Context != nil {
		clone.Context = make(map[string]any, len(c.Context))
		for k, v := range c.Context {
			clone.Context[k] = v
		}
	}
	return &clone
}
