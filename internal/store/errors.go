package store

import (
	"fmt"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
)

// StaleWriteError rejects an upsert whose revision marker does not advance the
// stored one. It protects the store against reconciling out-of-order ledger
// snapshots.
type StaleWriteError struct {
	OrderID  string
	Stored   string
	Incoming string
	Relation model.RevisionOrder
}

func (e *StaleWriteError) Error() string {
	return fmt.Sprintf("stale write for order %s: incoming revision %q is %s relative to stored %q",
		e.OrderID, e.Incoming, e.Relation, e.Stored)
}

// InvalidTransitionError rejects a status change not present in the allowed
// status graph. The violating transition is not applied.
type InvalidTransitionError struct {
	OrderID string
	From    model.Status
	To      model.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for order %s: %q → %q", e.OrderID, e.From, e.To)
}

// NotFoundError reports a lookup for an order ID the store has never seen.
type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}
