package model

import "path/filepath"

// Workshop data directory layout. Every component addresses files through
// these helpers so the on-disk contract lives in one place.

const (
	CurrentSchemaVersion = 1

	FileTypeLedger     = "order_ledger"
	FileTypeOrderState = "order_state"
	FileTypeSnapshot   = "queue_snapshot"
	FileTypeReport     = "reconcile_report"

	DataDirName = ".printshop"
)

func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.yaml")
}

func LedgerPath(dataDir string) string {
	return filepath.Join(dataDir, "ledger", "orders.yaml")
}

func OrderStatePath(dataDir string) string {
	return filepath.Join(dataDir, "state", "orders.yaml")
}

func SnapshotPath(dataDir string) string {
	return filepath.Join(dataDir, "queue", "queue.yaml")
}

func ReportPath(dataDir string) string {
	return filepath.Join(dataDir, "reports", "reconcile.yaml")
}

func DaemonLogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "daemon.log")
}

func AuditLogPath(dataDir string) string {
	return filepath.Join(dataDir, "logs", "audit.jsonl")
}

func DaemonLockPath(dataDir string) string {
	return filepath.Join(dataDir, "locks", "daemon.lock")
}
