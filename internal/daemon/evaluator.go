package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/timofeysmykov/print-queue-agent/internal/events"
	"github.com/timofeysmykov/print-queue-agent/internal/ledger"
	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/notify"
	"github.com/timofeysmykov/print-queue-agent/internal/publish"
	"github.com/timofeysmykov/print-queue-agent/internal/queue"
	"github.com/timofeysmykov/print-queue-agent/internal/reconcile"
	"github.com/timofeysmykov/print-queue-agent/internal/store"
)

// State is the scheduler loop's externally visible mode.
type State string

const (
	StateIdle       State = "idle"
	StateEvaluating State = "evaluating"
)

// CycleResult summarizes one finished evaluation cycle.
type CycleResult struct {
	CycleID     string                `json:"cycle_id"`
	StartedAt   string                `json:"started_at"`
	FinishedAt  string                `json:"finished_at"`
	Report      model.ReconcileReport `json:"report"`
	QueueDepth  int                   `json:"queue_depth"`
	Emergencies int                   `json:"emergencies"`
	Err         string                `json:"error,omitempty"`
}

// Evaluator owns the fetch-reconcile-build-publish cycle. Ticker fires,
// ledger file changes and manual triggers all funnel into Trigger; a
// singleflight group collapses concurrent triggers into the running cycle
// so at most one evaluation mutates the store at a time.
type Evaluator struct {
	store      *store.Store
	source     ledger.Source
	reconciler *reconcile.Reconciler
	publisher  *publish.Publisher
	bus        *events.Bus
	audit      *events.AuditLogger
	notifier   notify.Notifier
	logger     *log.Logger
	now        func() time.Time

	sf singleflight.Group

	mu         sync.RWMutex
	config     model.Config
	state      State
	held       bool
	heldOrders map[string]bool
	prevRank   map[string]int
	notified   map[string]bool
	last       *CycleResult
	cycleSeq   uint64
}

// EvaluatorDeps bundles the evaluator's collaborators.
type EvaluatorDeps struct {
	Store     *store.Store
	Source    ledger.Source
	Publisher *publish.Publisher
	Bus       *events.Bus
	Audit     *events.AuditLogger
	Notifier  notify.Notifier
	Logger    *log.Logger
	Now       func() time.Time
}

func NewEvaluator(cfg model.Config, deps EvaluatorDeps) *Evaluator {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Discard{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	e := &Evaluator{
		store:      deps.Store,
		source:     deps.Source,
		reconciler: reconcile.New(deps.Store, deps.Logger),
		publisher:  deps.Publisher,
		bus:        deps.Bus,
		audit:      deps.Audit,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		now:        deps.Now,
		config:     cfg,
		state:      StateIdle,
		heldOrders: map[string]bool{},
		prevRank:   map[string]int{},
		notified:   map[string]bool{},
	}

	// Seed rank pinning from the last published snapshot so a restart does
	// not reshuffle jobs already on the press.
	if snap, ok, err := deps.Publisher.LoadSnapshot(); err != nil {
		e.logger.Printf("%s WARN evaluator: load snapshot for rank pinning: %v",
			e.now().Format(time.RFC3339), err)
	} else if ok {
		e.prevRank = queue.RankMap(snap.Entries)
	}
	return e
}

// StateNow reports the loop state and whether automatic evaluation is held.
func (e *Evaluator) StateNow() (State, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state, e.held
}

// LastCycle returns the most recent cycle result, if any cycle has run.
func (e *Evaluator) LastCycle() (CycleResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.last == nil {
		return CycleResult{}, false
	}
	return *e.last, true
}

// Hold pauses automatic evaluation. Manual triggers still run.
func (e *Evaluator) Hold() {
	e.mu.Lock()
	e.held = true
	e.mu.Unlock()
	e.logger.Printf("%s INFO evaluator: automatic evaluation held", e.now().Format(time.RFC3339))
}

// Release resumes automatic evaluation.
func (e *Evaluator) Release() {
	e.mu.Lock()
	e.held = false
	e.mu.Unlock()
	e.logger.Printf("%s INFO evaluator: automatic evaluation released", e.now().Format(time.RFC3339))
}

// HoldOrder demotes one order back to pending and keeps it out of admission
// until released. Only queued (or already pending) orders can be held.
func (e *Evaluator) HoldOrder(id string) error {
	o, err := e.store.Get(id)
	if err != nil {
		return err
	}
	if o.Status == model.StatusQueued {
		if err := e.store.MarkStatus(id, model.StatusPending); err != nil {
			return err
		}
	} else if o.Status != model.StatusPending {
		return &store.InvalidTransitionError{OrderID: id, From: o.Status, To: model.StatusPending}
	}

	e.mu.Lock()
	e.heldOrders[id] = true
	e.mu.Unlock()
	e.logger.Printf("%s INFO evaluator: order %s held", e.now().Format(time.RFC3339), id)
	return nil
}

// ReleaseOrder lets a held order compete for admission again.
func (e *Evaluator) ReleaseOrder(id string) error {
	if _, err := e.store.Get(id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.heldOrders, id)
	e.mu.Unlock()
	e.logger.Printf("%s INFO evaluator: order %s released", e.now().Format(time.RFC3339), id)
	return nil
}

// SetConfig swaps the configuration used by subsequent cycles. The running
// cycle, if any, finishes under the configuration it started with.
func (e *Evaluator) SetConfig(cfg model.Config) {
	e.mu.Lock()
	e.config = cfg
	e.mu.Unlock()
}

// TriggerAuto runs a cycle unless automatic evaluation is held.
func (e *Evaluator) TriggerAuto(ctx context.Context) {
	e.mu.RLock()
	held := e.held
	e.mu.RUnlock()
	if held {
		return
	}
	_, _ = e.Trigger(ctx)
}

// Trigger runs one evaluation cycle. Concurrent callers join the in-flight
// cycle and share its result instead of starting another.
func (e *Evaluator) Trigger(ctx context.Context) (CycleResult, error) {
	v, err, _ := e.sf.Do("evaluate", func() (any, error) {
		result, err := e.runCycle(ctx)
		return result, err
	})
	result, _ := v.(CycleResult)
	return result, err
}

func (e *Evaluator) runCycle(ctx context.Context) (CycleResult, error) {
	e.mu.Lock()
	e.state = StateEvaluating
	e.cycleSeq++
	seq := e.cycleSeq
	cfg := e.config
	prevRank := e.prevRank
	e.mu.Unlock()

	started := e.now()
	result := CycleResult{
		CycleID:   fmt.Sprintf("cycle-%d", seq),
		StartedAt: started.UTC().Format(time.RFC3339),
	}

	defer func() {
		result.FinishedAt = e.now().UTC().Format(time.RFC3339)
		e.mu.Lock()
		e.state = StateIdle
		e.last = &result
		e.mu.Unlock()
	}()

	e.logger.Printf("%s INFO evaluator: %s started", started.Format(time.RFC3339), result.CycleID)

	// Fetch. Failure here aborts the cycle before any store mutation; the
	// previous queue and report stay in force.
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Watcher.FetchTimeoutSec)*time.Second)
	records, err := e.source.Fetch(fetchCtx)
	cancel()
	if err != nil {
		return e.failCycle(result, fmt.Errorf("fetch: %w", err))
	}

	// Reconcile. Per-record failures fold into the report, never abort.
	report := e.reconciler.Reconcile(records, started)
	result.Report = report
	e.emitReconcileEvents(result.CycleID, report)

	// Admit pending orders into the schedulable set.
	if err := e.admitPending(result.CycleID); err != nil {
		return e.failCycle(result, fmt.Errorf("admit pending: %w", err))
	}

	// Build. A build error is fatal for the cycle; the previously published
	// snapshot stays in force, but the reconcile report is still published
	// because the store has already moved.
	orders := e.store.ListByStatus(model.StatusQueued, model.StatusInProgress)
	entries, buildErr := queue.Build(queue.Input{
		Orders:   orders,
		Now:      started,
		Weights:  cfg.Queue,
		PrevRank: prevRank,
	})
	if buildErr != nil {
		if perr := e.publisher.Report(report); perr != nil {
			e.logger.Printf("%s ERROR evaluator: publish report: %v", e.now().Format(time.RFC3339), perr)
		}
		return e.failCycle(result, buildErr)
	}

	// Publish.
	if _, err := e.publisher.Snapshot(entries, started); err != nil {
		return e.failCycle(result, fmt.Errorf("publish snapshot: %w", err))
	}
	if err := e.publisher.Report(report); err != nil {
		return e.failCycle(result, fmt.Errorf("publish report: %w", err))
	}

	e.mu.Lock()
	e.prevRank = queue.RankMap(entries)
	e.mu.Unlock()

	result.QueueDepth = len(entries)
	result.Emergencies = e.emitEmergencies(result.CycleID, entries)
	e.auditProblemOrders(result.CycleID)

	if e.bus != nil {
		e.bus.Publish(events.EventCycleCompleted, map[string]any{
			"cycle_id":    result.CycleID,
			"queue_depth": result.QueueDepth,
			"emergencies": result.Emergencies,
		})
	}
	e.auditLog(string(events.EventCycleCompleted), map[string]any{
		"cycle_id":    result.CycleID,
		"queue_depth": result.QueueDepth,
		"emergencies": result.Emergencies,
		"created":     len(report.Created),
		"updated":     len(report.Updated),
		"conflicted":  len(report.Conflicted),
		"stale":       len(report.Stale),
		"rejected":    len(report.Rejected),
	})
	e.logger.Printf("%s INFO evaluator: %s completed queue_depth=%d emergencies=%d",
		e.now().Format(time.RFC3339), result.CycleID, result.QueueDepth, result.Emergencies)

	return result, nil
}

func (e *Evaluator) failCycle(result CycleResult, err error) (CycleResult, error) {
	result.Err = err.Error()
	e.logger.Printf("%s ERROR evaluator: %s failed: %v", e.now().Format(time.RFC3339), result.CycleID, err)
	if e.bus != nil {
		e.bus.Publish(events.EventCycleFailed, map[string]any{
			"cycle_id": result.CycleID,
			"error":    err.Error(),
		})
	}
	e.auditLog(string(events.EventCycleFailed), map[string]any{
		"cycle_id": result.CycleID,
		"error":    err.Error(),
	})
	return result, err
}

// admitPending moves every pending order into queued so it competes for
// press time. Orders under an admin hold stay pending. A transition
// rejection on one order does not block the rest.
func (e *Evaluator) admitPending(cycleID string) error {
	e.mu.RLock()
	held := make(map[string]bool, len(e.heldOrders))
	for id := range e.heldOrders {
		held[id] = true
	}
	e.mu.RUnlock()

	return e.store.Update(func(tx *store.Tx) error {
		var errs []error
		for _, o := range tx.ListByStatus(model.StatusPending) {
			if held[o.ID] {
				continue
			}
			if err := tx.MarkStatus(o.ID, model.StatusQueued); err != nil {
				errs = append(errs, err)
				continue
			}
			if e.bus != nil {
				e.bus.Publish(events.EventStatusChanged, map[string]any{
					"order_id": o.ID,
					"from":     string(model.StatusPending),
					"to":       string(model.StatusQueued),
					"cycle_id": cycleID,
				})
			}
		}
		return errors.Join(errs...)
	})
}

func (e *Evaluator) emitReconcileEvents(cycleID string, report model.ReconcileReport) {
	for _, id := range report.Conflicted {
		if e.bus != nil {
			e.bus.Publish(events.EventConflictDetected, map[string]any{
				"order_id": id,
				"cycle_id": cycleID,
			})
		}
		e.auditLog(string(events.EventConflictDetected), map[string]any{
			"order_id": id,
			"cycle_id": cycleID,
		})
	}
	for _, rej := range report.Rejected {
		if e.bus != nil {
			e.bus.Publish(events.EventOrderRejected, map[string]any{
				"order_id": rej.OrderID,
				"reason":   rej.Reason,
				"cycle_id": cycleID,
			})
		}
		e.auditLog(string(events.EventOrderRejected), map[string]any{
			"order_id": rej.OrderID,
			"reason":   rej.Reason,
			"cycle_id": cycleID,
		})
	}
}

// emitEmergencies returns the number of emergencies in the queue. Events and
// desktop alerts fire only for orders newly entering the emergency set; an
// unresolved emergency does not re-alert every cycle. An order that leaves
// the set and comes back alerts again.
func (e *Evaluator) emitEmergencies(cycleID string, entries []model.QueueEntry) int {
	current := make(map[string]bool, len(entries))
	var fresh []string
	for _, entry := range entries {
		if !entry.IsEmergency {
			continue
		}
		current[entry.OrderID] = true
	}

	e.mu.Lock()
	for _, entry := range entries {
		if current[entry.OrderID] && !e.notified[entry.OrderID] {
			e.notified[entry.OrderID] = true
			fresh = append(fresh, entry.OrderID)
		}
	}
	for id := range e.notified {
		if !current[id] {
			delete(e.notified, id)
		}
	}
	e.mu.Unlock()

	for _, id := range fresh {
		order, err := e.store.Get(id)
		if err != nil {
			continue
		}
		if e.bus != nil {
			e.bus.Publish(events.EventEmergencyDetected, map[string]any{
				"order_id": order.ID,
				"deadline": order.Deadline,
				"cycle_id": cycleID,
			})
		}
		title, message := notify.EmergencyMessage(order.ID, order.Customer, order.Deadline)
		if err := e.notifier.Notify(title, message); err != nil {
			e.logger.Printf("%s WARN evaluator: notify %s: %v", e.now().Format(time.RFC3339), order.ID, err)
		}
	}
	return len(current)
}

func (e *Evaluator) auditProblemOrders(cycleID string) {
	problems := queue.IdentifyProblemOrders(e.store.All(), e.now())
	for _, p := range problems {
		e.auditLog("problem_order", map[string]any{
			"order_id": p.OrderID,
			"problems": p.Problems,
			"cycle_id": cycleID,
		})
	}
}

func (e *Evaluator) auditLog(eventType string, details map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(eventType, details); err != nil {
		e.logger.Printf("%s WARN evaluator: audit log: %v", e.now().Format(time.RFC3339), err)
	}
}
