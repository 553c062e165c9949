// Package store holds the canonical set of known orders. It is the single
// writer target of the evaluation cycle and supports concurrent reads from
// status-query callers: readers see either the pre-cycle or the fully updated
// post-cycle state, never a partially reconciled one, because all cycle
// mutations happen inside one Update call under the write lock.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	yamlutil "github.com/timofeysmykov/print-queue-agent/internal/yaml"
	yamlv3 "gopkg.in/yaml.v3"
)

type Store struct {
	mu     sync.RWMutex
	orders map[string]model.Order

	// statePath is the persistence file; empty means memory-only (tests).
	statePath string
	dataDir   string

	now func() time.Time
}

// New creates a memory-only store.
func New() *Store {
	return &Store{
		orders: make(map[string]model.Order),
		now:    time.Now,
	}
}

// Open loads the persisted store from the workshop data directory, recovering
// from a corrupted state file via backup or skeleton.
func Open(dataDir string) (*Store, error) {
	s := New()
	s.dataDir = dataDir
	s.statePath = model.OrderStatePath(dataDir)

	content, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read order state: %w", err)
	}

	var state model.OrderStateFile
	if err := yamlv3.Unmarshal(content, &state); err != nil {
		if rerr := yamlutil.RecoverCorruptedFile(dataDir, s.statePath, model.FileTypeOrderState); rerr != nil {
			return nil, fmt.Errorf("recover order state: %w", rerr)
		}
		// Recovery leaves either the restored backup or a fresh skeleton at
		// statePath; load whichever it is so restored orders are not lost.
		content, err = os.ReadFile(s.statePath)
		if err != nil {
			return nil, fmt.Errorf("read recovered order state: %w", err)
		}
		if err := yamlv3.Unmarshal(content, &state); err != nil {
			return nil, fmt.Errorf("parse recovered order state: %w", err)
		}
	}

	for _, o := range state.Orders {
		s.orders[o.ID] = o
	}
	return s, nil
}

// Tx exposes the mutating operations of one atomic update. All methods run
// under the store's write lock; a Tx must not outlive its Update call.
type Tx struct {
	s     *Store
	dirty bool
}

// Update runs fn with exclusive write access and persists the store once
// afterwards. Mutations survive even when fn returns an error: the reconciler
// folds per-record failures into its report while keeping the good records.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{s: s}
	fnErr := fn(tx)

	if tx.dirty {
		if err := s.flushLocked(); err != nil {
			return err
		}
	}
	return fnErr
}

// Get returns the order or a NotFoundError.
func (tx *Tx) Get(id string) (model.Order, error) {
	o, ok := tx.s.orders[id]
	if !ok {
		return model.Order{}, &NotFoundError{OrderID: id}
	}
	return o, nil
}

// Upsert inserts a new order or applies field updates to an existing one.
// Updates whose revision marker does not strictly advance the stored one are
// rejected with a StaleWriteError unless force is set. Status is never touched
// here; that is MarkStatus's job. Returns true when the order was created.
func (tx *Tx) Upsert(o model.Order, force bool) (bool, error) {
	if o.ID == "" {
		return false, fmt.Errorf("upsert without order ID")
	}

	existing, ok := tx.s.orders[o.ID]
	if !ok {
		if !model.IsValidStatus(o.Status) {
			o.Status = model.StatusPending
		}
		if o.CreatedAt == "" {
			o.CreatedAt = tx.s.now().UTC().Format(time.RFC3339)
		}
		o.UpdatedAt = tx.s.now().UTC().Format(time.RFC3339)
		tx.s.orders[o.ID] = o
		tx.dirty = true
		return true, nil
	}

	if !force {
		switch rel := model.CompareRevisions(o.Revision, existing.Revision); rel {
		case model.RevisionNewer:
		case model.RevisionEqual:
			// Same generation, nothing to apply.
			return false, nil
		default:
			return false, &StaleWriteError{
				OrderID:  o.ID,
				Stored:   existing.Revision,
				Incoming: o.Revision,
				Relation: rel,
			}
		}
	}

	// Field update: status and creation time stay local.
	updated := existing
	updated.CustomerID = o.CustomerID
	updated.Customer = o.Customer
	updated.Tier = o.Tier
	updated.Quantity = o.Quantity
	updated.Description = o.Description
	updated.Deadline = o.Deadline
	updated.Revision = o.Revision
	updated.UpdatedAt = tx.s.now().UTC().Format(time.RFC3339)

	tx.s.orders[o.ID] = updated
	tx.dirty = true
	return false, nil
}

// MarkStatus validates the transition against the status graph and applies it.
func (tx *Tx) MarkStatus(id string, to model.Status) error {
	o, ok := tx.s.orders[id]
	if !ok {
		return &NotFoundError{OrderID: id}
	}
	if o.Status == to {
		return nil
	}
	if err := model.ValidateOrderTransition(o.Status, to); err != nil {
		return &InvalidTransitionError{OrderID: id, From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = tx.s.now().UTC().Format(time.RFC3339)
	tx.s.orders[id] = o
	tx.dirty = true
	return nil
}

// ListByStatus returns matching orders within the transaction's view,
// sorted by ID. Unlike the store-level form it runs under the already held
// write lock.
func (tx *Tx) ListByStatus(statuses ...model.Status) []model.Order {
	want := make(map[model.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	return tx.s.sortedLocked(func(o model.Order) bool { return want[o.Status] })
}

// Get returns a single order under the read lock.
func (s *Store) Get(id string) (model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return model.Order{}, &NotFoundError{OrderID: id}
	}
	return o, nil
}

// All returns every order, sorted by ID for deterministic iteration.
func (s *Store) All() []model.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(func(model.Order) bool { return true })
}

// ListByStatus returns orders in any of the given statuses, sorted by ID.
func (s *Store) ListByStatus(statuses ...model.Status) []model.Order {
	want := make(map[model.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked(func(o model.Order) bool { return want[o.Status] })
}

// Upsert is the single-operation form of Tx.Upsert.
func (s *Store) Upsert(o model.Order, force bool) (bool, error) {
	var created bool
	err := s.Update(func(tx *Tx) error {
		var txErr error
		created, txErr = tx.Upsert(o, force)
		return txErr
	})
	return created, err
}

// MarkStatus is the single-operation form of Tx.MarkStatus.
func (s *Store) MarkStatus(id string, to model.Status) error {
	return s.Update(func(tx *Tx) error {
		return tx.MarkStatus(id, to)
	})
}

func (s *Store) sortedLocked(keep func(model.Order) bool) []model.Order {
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) flushLocked() error {
	if s.statePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}
	state := model.OrderStateFile{
		SchemaVersion: model.CurrentSchemaVersion,
		FileType:      model.FileTypeOrderState,
		Orders:        s.sortedLocked(func(model.Order) bool { return true }),
	}
	if err := yamlutil.AtomicWrite(s.statePath, state); err != nil {
		return fmt.Errorf("persist order state: %w", err)
	}
	return nil
}
