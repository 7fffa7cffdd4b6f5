package claims

import "time"

// StealableEntry advertises a claim that may be taken over without the
// owner's consent. An entry exists iff the corresponding claim's status
// is stealable, and it is removed atomically with the claim mutation on
// steal or release.
type StealableEntry struct {
	IssueID                string         `json:"issueId"`
	Reason                 StealReason    `json:"reason"`
	StealableAt            time.Time      `json:"stealableAt"`
	PreferredClaimantTypes []string       `json:"preferredClaimantTypes,omitempty"`
	Progress               float64        `json:"progress"`
	Context                map[string]any `json:"context,omitempty"`
}

// AllowsStealer reports whether the stealer passes the
// preferred-claimant-type filter. An empty filter allows everyone.
func (e *StealableEntry) AllowsStealer(stealer Claimant) bool {
	if len(e.PreferredClaimantTypes) == 0 {
		return true
	}
	label := stealer.TypeLabel()
	for _, t := range e.PreferredClaimantTypes {
		if t == label {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the entry.
func (e *StealableEntry) Clone() *StealableEntry {
	clone := *e
	if e.PreferredClaimantTypes != nil {
		clone.PreferredClaimantTypes = append([]string(nil), e.PreferredClaimantTypes...)
	}
	if e.Context != nil {
		clone.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			clone.Context[k] = v
		}
	}
	return &clone
}
