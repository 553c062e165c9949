// Package publish writes the per-cycle output files: the queue snapshot and
// the reconcile report. Both are full replacements, never in-place edits, so
// a reader always sees a complete document from some finished cycle.
package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	yamlutil "github.com/timofeysmykov/print-queue-agent/internal/yaml"
)

// Publisher owns the queue/ and reports/ subtrees of the data directory.
type Publisher struct {
	dataDir string
}

func New(dataDir string) *Publisher {
	return &Publisher{dataDir: dataDir}
}

// Snapshot replaces the published queue with the given entries.
func (p *Publisher) Snapshot(entries []model.QueueEntry, now time.Time) (model.QueueSnapshot, error) {
	snap := model.QueueSnapshot{
		SchemaVersion: model.CurrentSchemaVersion,
		FileType:      model.FileTypeSnapshot,
		GeneratedAt:   now.UTC().Format(time.RFC3339),
		Entries:       entries,
	}
	path := model.SnapshotPath(p.dataDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return model.QueueSnapshot{}, fmt.Errorf("snapshot dir: %w", err)
	}
	if err := yamlutil.AtomicWrite(path, snap); err != nil {
		return model.QueueSnapshot{}, fmt.Errorf("write snapshot: %w", err)
	}
	return snap, nil
}

// Report replaces the reconcile report from the latest cycle.
func (p *Publisher) Report(report model.ReconcileReport) error {
	report.SchemaVersion = model.CurrentSchemaVersion
	report.FileType = model.FileTypeReport
	path := model.ReportPath(p.dataDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report dir: %w", err)
	}
	if err := yamlutil.AtomicWrite(path, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// LoadSnapshot reads back the last published queue. A missing snapshot is
// not an error; before the first completed cycle there is nothing to load.
func (p *Publisher) LoadSnapshot() (model.QueueSnapshot, bool, error) {
	content, err := os.ReadFile(model.SnapshotPath(p.dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return model.QueueSnapshot{}, false, nil
		}
		return model.QueueSnapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var snap model.QueueSnapshot
	if err := yamlv3.Unmarshal(content, &snap); err != nil {
		return model.QueueSnapshot{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}

// LoadReport reads back the last reconcile report.
func (p *Publisher) LoadReport() (model.ReconcileReport, bool, error) {
	content, err := os.ReadFile(model.ReportPath(p.dataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return model.ReconcileReport{}, false, nil
		}
		return model.ReconcileReport{}, false, fmt.Errorf("read report: %w", err)
	}
	var report model.ReconcileReport
	if err := yamlv3.Unmarshal(content, &report); err != nil {
		return model.ReconcileReport{}, false, fmt.Errorf("parse report: %w", err)
	}
	return report, true, nil
}
