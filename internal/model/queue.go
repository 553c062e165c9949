package model

// QueueEntry is one ranked slot in the published production queue.
type QueueEntry struct {
	OrderID     string  `yaml:"order_id"`
	Rank        int     `yaml:"rank"`
	Score       float64 `yaml:"score"`
	IsEmergency bool    `yaml:"is_emergency"`
}

// QueueSnapshot is the published queue file, fully replaced each cycle.
type QueueSnapshot struct {
	SchemaVersion int          `yaml:"schema_version"`
	FileType      string       `yaml:"file_type"`
	GeneratedAt   string       `yaml:"generated_at"`
	Entries       []QueueEntry `yaml:"entries"`
}

// LedgerFile is the externally edited order ledger.
type LedgerFile struct {
	SchemaVersion int              `yaml:"schema_version"`
	FileType      string           `yaml:"file_type"`
	Orders        []RawOrderRecord `yaml:"orders"`
}

// OrderStateFile is the persisted Order Record Store.
type OrderStateFile struct {
	SchemaVersion int     `yaml:"schema_version"`
	FileType      string  `yaml:"file_type"`
	Orders        []Order `yaml:"orders"`
}
