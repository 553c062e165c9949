// Package model defines the data structures for the print queue agent's
// orders, configuration, queue snapshots and reconcile reports.
package model

import (
	"fmt"
	"time"
)

// Deadline date formats accepted from the ledger. The workshop's historical
// ledger uses DD.MM.YYYY; ISO dates are accepted as well.
var deadlineFormats = []string{"2006-01-02", "02.01.2006"}

// Order is the canonical record for a single print job. Exactly one Order per
// ID exists in the store at any time; orders are never physically deleted.
type Order struct {
	ID          string `yaml:"id"`
	CustomerID  string `yaml:"customer_id"`
	Customer    string `yaml:"customer,omitempty"`
	Tier        string `yaml:"tier"`
	Quantity    string `yaml:"quantity,omitempty"`
	Description string `yaml:"description,omitempty"`
	Deadline    string `yaml:"deadline,omitempty"` // empty = no deadline
	Status      Status `yaml:"status"`
	Revision    string `yaml:"revision"` // opaque marker from the external ledger
	CreatedAt   string `yaml:"created_at"`
	UpdatedAt   string `yaml:"updated_at"`
}

// DeadlineTime parses the order's deadline. ok is false when no deadline is
// set or the stored value does not parse; callers treat both as "no deadline".
func (o Order) DeadlineTime() (time.Time, bool) {
	return ParseDeadline(o.Deadline)
}

// CreatedAtTime parses the creation timestamp, zero time if unparseable.
func (o Order) CreatedAtTime() time.Time {
	t, err := time.Parse(time.RFC3339, o.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}

func ParseDeadline(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range deadlineFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// RawOrderRecord is one row of the external order ledger. The engine treats
// the ledger as pull-only; records are already structured when they arrive.
type RawOrderRecord struct {
	OrderID     string `yaml:"order_id"`
	CustomerID  string `yaml:"customer_id"`
	Customer    string `yaml:"customer,omitempty"`
	Tier        string `yaml:"tier"`
	Quantity    string `yaml:"quantity,omitempty"`
	Description string `yaml:"description,omitempty"`
	Deadline    string `yaml:"deadline,omitempty"`
	StatusHint  string `yaml:"status_hint,omitempty"`
	Revision    string `yaml:"revision"`
}

func (r RawOrderRecord) Validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("ledger record without order_id")
	}
	if r.Revision == "" {
		return fmt.Errorf("ledger record %s without revision marker", r.OrderID)
	}
	return nil
}
