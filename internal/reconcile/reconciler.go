// Package reconcile merges externally supplied order snapshots into the
// locally authoritative store. Two writers touch the same orders — the
// external ledger and this engine — so the merge is revision-marker driven
// with explicit conflict reporting, never last-write-wins.
package reconcile

import (
	"fmt"
	"io"
	"log"
	"time"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/store"
)

type Reconciler struct {
	store  *store.Store
	logger *log.Logger
}

func New(s *store.Store, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Reconciler{store: s, logger: logger}
}

// Reconcile applies one external snapshot. Store-level violations (stale
// writes, invalid transitions) are folded into the report record by record;
// one bad record never blocks the rest. The report is the only observable
// side effect besides store mutation.
func (r *Reconciler) Reconcile(records []model.RawOrderRecord, now time.Time) model.ReconcileReport {
	report := model.ReconcileReport{
		SchemaVersion: model.CurrentSchemaVersion,
		FileType:      model.FileTypeReport,
		StartedAt:     now.UTC().Format(time.RFC3339),
	}

	upstream := make(map[string]bool, len(records))

	// All mutations of one reconcile happen inside a single store update so
	// concurrent readers see pre-cycle or post-cycle state, nothing between.
	_ = r.store.Update(func(tx *store.Tx) error {
		for _, rec := range records {
			if err := rec.Validate(); err != nil {
				report.Rejected = append(report.Rejected, model.RejectedRecord{
					OrderID: rec.OrderID,
					Reason:  err.Error(),
				})
				continue
			}
			upstream[rec.OrderID] = true
			r.applyRecord(tx, rec, &report)
		}
		return nil
	})

	for _, o := range r.store.ListByStatus(model.StatusPending, model.StatusQueued, model.StatusInProgress) {
		if !upstream[o.ID] {
			report.MissingUpstream = append(report.MissingUpstream, o.ID)
		}
	}
	if len(report.MissingUpstream) > 0 {
		r.logger.Printf("reconcile: %d active orders missing upstream (kept, not auto-cancelled)", len(report.MissingUpstream))
	}

	return report
}

func (r *Reconciler) applyRecord(tx *store.Tx, rec model.RawOrderRecord, report *model.ReconcileReport) {
	incoming := model.Order{
		ID:          rec.OrderID,
		CustomerID:  rec.CustomerID,
		Customer:    rec.Customer,
		Tier:        rec.Tier,
		Quantity:    rec.Quantity,
		Description: rec.Description,
		Deadline:    rec.Deadline,
		Status:      model.StatusPending,
		Revision:    rec.Revision,
	}

	existing, err := tx.Get(rec.OrderID)
	if err != nil {
		// First sight of this order: created as pending.
		if _, err := tx.Upsert(incoming, false); err != nil {
			report.Rejected = append(report.Rejected, model.RejectedRecord{OrderID: rec.OrderID, Reason: err.Error()})
			return
		}
		report.Created = append(report.Created, rec.OrderID)
		r.applyStatusHint(tx, rec, report)
		return
	}

	switch rel := model.CompareRevisions(rec.Revision, existing.Revision); rel {
	case model.RevisionEqual:
		// Already reconciled; idempotent.
		return
	case model.RevisionOlder:
		// An out-of-order snapshot. Ignorable, not a conflict.
		report.Stale = append(report.Stale, rec.OrderID)
		return
	case model.RevisionDiverged:
		// Neither side strictly newer: keep the local copy authoritative and
		// surface the conflict for human resolution.
		report.Conflicted = append(report.Conflicted, rec.OrderID)
		r.logger.Printf("reconcile: conflict on order %s (local %q vs external %q)",
			rec.OrderID, existing.Revision, rec.Revision)
		return
	case model.RevisionNewer:
		if _, err := tx.Upsert(incoming, false); err != nil {
			report.Rejected = append(report.Rejected, model.RejectedRecord{OrderID: rec.OrderID, Reason: err.Error()})
			return
		}
		report.Updated = append(report.Updated, rec.OrderID)
		r.applyStatusHint(tx, rec, report)
	}
}

// applyStatusHint folds an external status hint through the status graph.
// A hint that would violate the graph is rejected, not corrected.
func (r *Reconciler) applyStatusHint(tx *store.Tx, rec model.RawOrderRecord, report *model.ReconcileReport) {
	hint, ok := model.ParseStatusHint(rec.StatusHint)
	if !ok {
		return
	}
	current, err := tx.Get(rec.OrderID)
	if err != nil || current.Status == hint {
		return
	}
	if err := tx.MarkStatus(rec.OrderID, hint); err != nil {
		report.Rejected = append(report.Rejected, model.RejectedRecord{
			OrderID: rec.OrderID,
			Reason:  fmt.Sprintf("status hint %q: %v", rec.StatusHint, err),
		})
	}
}
