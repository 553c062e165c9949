package model

// RejectedRecord is a ledger record that failed store validation during
// reconciliation. Rejections never abort the cycle; one bad record must not
// block the rest.
type RejectedRecord struct {
	OrderID string `yaml:"order_id"`
	Reason  string `yaml:"reason"`
}

// ProblemOrder flags an order with data issues that need human attention.
type ProblemOrder struct {
	OrderID  string   `yaml:"order_id"`
	Problems []string `yaml:"problems"`
}

// ReconcileReport is the sole observable side effect of a reconcile besides
// store mutation. Conflicted and MissingUpstream are surfaced for resolution
// through the administration channel, never acted on automatically.
type ReconcileReport struct {
	SchemaVersion   int              `yaml:"schema_version"`
	FileType        string           `yaml:"file_type"`
	StartedAt       string           `yaml:"started_at"`
	Created         []string         `yaml:"created"`
	Updated         []string         `yaml:"updated"`
	Conflicted      []string         `yaml:"conflicted"`
	Stale           []string         `yaml:"stale"`
	MissingUpstream []string         `yaml:"missing_upstream"`
	Rejected        []RejectedRecord `yaml:"rejected"`
}

// Empty reports true when the reconcile changed nothing and flagged nothing.
func (r ReconcileReport) Empty() bool {
	return len(r.Created) == 0 && len(r.Updated) == 0 && len(r.Conflicted) == 0 &&
		len(r.Stale) == 0 && len(r.MissingUpstream) == 0 && len(r.Rejected) == 0
}
