package anomaly

import "errors"

// IssueKind names a detectable anomaly condition.
type IssueKind string

const (
	KindOutdated        IssueKind = "outdated"
	KindUnderperforming IssueKind = "underperforming"
	KindLowPower        IssueKind = "low_power"
	KindPowerDrop       IssueKind = "power_drop"
	KindDeactivated     IssueKind = "deactivated"
)

// Valid returns true when the kind is supported.
func (k IssueKind) Valid() bool {
	switch k {
	case KindOutdated, KindUnderperforming, KindLowPower, KindPowerDrop, KindDeactivated:
		return true
	default:
		return false
	}
}

// IssueKey identifies an active issue: one issue per (plant, scope, kind)
// may exist at a time. Scope is the device serial, or the plant name for
// plant-wide conditions.
type IssueKey struct {
	Plant string    `json:"plant"`
	Scope string    `json:"scope"`
	Kind  IssueKind `json:"kind"`
}

// Validate checks key invariants.
func (k IssueKey) Validate() error {
	if k.Plant == "" {
		return errors.New("issue key: empty plant")
	}
	if k.Scope == "" {
		return errors.New("issue key: empty scope")
	}
	if !k.Kind.Valid() {
		return errors.New("issue key: invalid kind")
	}
	return nil
}

// String renders the key in its canonical wire form.
func (k IssueKey) String() string {
	return k.Plant + "_" + k.Scope + "_" + string(k.Kind)
}

// ResolutionID derives the identifier used when announcing that the issue
// cleared. Resolution sends are not themselves deduplicated: a resolve
// fires at most once per ledger entry.
func (k IssueKey) ResolutionID() string {
	return k.String() + "_resolved"
}

// Candidate is a detected anomaly awaiting a dispatch decision. Details is
// the fingerprint used for deduplication; Message is the notification text.
type Candidate struct {
	Details string
	Message string
}

// Outcome is one rule evaluation result for an issue key. A nil Candidate
// means the condition was evaluated and found absent; Resolution carries
// the all-clear text used if a prior issue is still on the ledger.
// Evaluators that abstain emit no Outcome at all.
type Outcome struct {
	Key        IssueKey
	Candidate  *Candidate
	Resolution string
}
