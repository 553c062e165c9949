package daemon

import (
	"bytes"
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timofeysmykov/print-queue-agent/internal/ledger"
	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/publish"
	"github.com/timofeysmykov/print-queue-agent/internal/store"
)

type stubSource struct {
	mu      sync.Mutex
	records []model.RawOrderRecord
	err     error
	delay   time.Duration
	calls   int
}

func (s *stubSource) Fetch(ctx context.Context) ([]model.RawOrderRecord, error) {
	s.mu.Lock()
	s.calls++
	records, err, delay := s.records, s.err, s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, &ledger.FetchError{Err: ctx.Err()}
		}
	}
	if err != nil {
		return nil, &ledger.FetchError{Err: err}
	}
	return records, nil
}

func (s *stubSource) fetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func newTestEvaluator(t *testing.T, src *stubSource) (*Evaluator, *store.Store, *publish.Publisher, *recordingNotifier) {
	t.Helper()
	dataDir := t.TempDir()
	st, err := store.Open(dataDir)
	require.NoError(t, err)

	pub := publish.New(dataDir)
	notifier := &recordingNotifier{}
	cfg := model.DefaultConfig("test-shop")
	ev := NewEvaluator(cfg, EvaluatorDeps{
		Store:     st,
		Source:    src,
		Publisher: pub,
		Notifier:  notifier,
	})
	return ev, st, pub, notifier
}

func futureDate(days int) string {
	return time.Now().UTC().AddDate(0, 0, days).Format("2006-01-02")
}

func TestEvaluator_FullCycle(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Customer: "Acme", Tier: "standard", Revision: "1", Deadline: futureDate(20)},
		{OrderID: "ORD-2", Customer: "Birch", Tier: "vip", Revision: "1", Deadline: futureDate(2)},
		{OrderID: "ORD-3", Customer: "Cedar", Tier: "premium", Revision: "1", Deadline: futureDate(10)},
	}}
	ev, st, pub, _ := newTestEvaluator(t, src)

	result, err := ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, len(result.Report.Created))
	assert.Equal(t, 3, result.QueueDepth)
	assert.Equal(t, 1, result.Emergencies)

	// All created orders were admitted into the schedulable set.
	queued := st.ListByStatus(model.StatusQueued)
	assert.Len(t, queued, 3)

	// The published snapshot carries ranks 1..N with the emergency first.
	snap, ok, err := pub.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, snap.Entries, 3)
	assert.Equal(t, "ORD-2", snap.Entries[0].OrderID)
	for i, entry := range snap.Entries {
		assert.Equal(t, i+1, entry.Rank)
	}

	report, ok, err := pub.LoadReport()
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"ORD-1", "ORD-2", "ORD-3"}, report.Created)

	state, held := ev.StateNow()
	assert.Equal(t, StateIdle, state)
	assert.False(t, held)
}

func TestEvaluator_FetchFailureAbortsBeforeMutation(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Tier: "standard", Revision: "1", Deadline: futureDate(5)},
	}}
	ev, st, pub, _ := newTestEvaluator(t, src)

	_, err := ev.Trigger(context.Background())
	require.NoError(t, err)

	firstSnap, ok, err := pub.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)

	// Second cycle fails at fetch: the store and the published snapshot
	// must be exactly what the first cycle left.
	src.mu.Lock()
	src.err = context.DeadlineExceeded
	src.records = nil
	src.mu.Unlock()

	result, err := ev.Trigger(context.Background())
	require.Error(t, err)
	assert.NotEmpty(t, result.Err)

	assert.Len(t, st.All(), 1)
	secondSnap, ok, err := pub.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, firstSnap, secondSnap)
}

func TestEvaluator_ConcurrentTriggersJoin(t *testing.T) {
	src := &stubSource{
		records: []model.RawOrderRecord{{OrderID: "ORD-1", Tier: "standard", Revision: "1"}},
		delay:   150 * time.Millisecond,
	}
	ev, _, _, _ := newTestEvaluator(t, src)

	const callers = 8
	results := make([]CycleResult, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = ev.Trigger(context.Background())
		}(i)
	}
	wg.Wait()

	// Every caller shared one in-flight cycle.
	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0].CycleID, results[i].CycleID)
	}
	assert.LessOrEqual(t, src.fetchCalls(), 2)
}

func TestEvaluator_CycleIdempotent(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Tier: "standard", Revision: "1", Deadline: futureDate(5)},
	}}
	ev, _, _, _ := newTestEvaluator(t, src)

	first, err := ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Len(t, first.Report.Created, 1)

	second, err := ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Report.Created)
	assert.Empty(t, second.Report.Updated)
	assert.Equal(t, first.QueueDepth, second.QueueDepth)
}

func TestEvaluator_HoldBlocksAutomaticOnly(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Tier: "standard", Revision: "1"},
	}}
	ev, _, _, _ := newTestEvaluator(t, src)

	ev.Hold()
	ev.TriggerAuto(context.Background())
	assert.Equal(t, 0, src.fetchCalls())

	_, err := ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.fetchCalls())

	ev.Release()
	ev.TriggerAuto(context.Background())
	assert.Equal(t, 2, src.fetchCalls())
}

func TestEvaluator_HoldOrderExcludedUntilReleased(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Tier: "standard", Revision: "1", Deadline: futureDate(5)},
		{OrderID: "ORD-2", Tier: "standard", Revision: "1", Deadline: futureDate(6)},
	}}
	ev, st, pub, _ := newTestEvaluator(t, src)

	_, err := ev.Trigger(context.Background())
	require.NoError(t, err)

	require.NoError(t, ev.HoldOrder("ORD-2"))
	o, err := st.Get("ORD-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, o.Status)

	// Held orders stay out of admission and out of the queue.
	result, err := ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.QueueDepth)
	snap, _, err := pub.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, "ORD-1", snap.Entries[0].OrderID)

	require.NoError(t, ev.ReleaseOrder("ORD-2"))
	result, err = ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.QueueDepth)
}

func TestEvaluator_HoldOrderRejectsInProgress(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Tier: "standard", Revision: "1"},
	}}
	ev, st, _, _ := newTestEvaluator(t, src)
	_, err := ev.Trigger(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.MarkStatus("ORD-1", model.StatusInProgress))

	// Work already on the press cannot be pulled back.
	require.Error(t, ev.HoldOrder("ORD-1"))
	require.Error(t, ev.HoldOrder("ORD-404"))
}

func TestEvaluator_EmergencyNotifications(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Customer: "Acme", Tier: "standard", Revision: "1", Deadline: futureDate(1)},
		{OrderID: "ORD-2", Customer: "Birch", Tier: "standard", Revision: "1", Deadline: futureDate(30)},
	}}
	ev, _, _, notifier := newTestEvaluator(t, src)

	result, err := ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Emergencies)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.messages, 1)
	assert.Contains(t, notifier.messages[0], "ORD-1")
}

func TestEvaluator_EmergencyAlertsOnlyOnEntry(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Customer: "Acme", Tier: "standard", Revision: "1", Deadline: futureDate(1)},
	}}
	ev, _, _, notifier := newTestEvaluator(t, src)

	_, err := ev.Trigger(context.Background())
	require.NoError(t, err)

	// The emergency persists but must not re-alert every cycle.
	result, err := ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Emergencies)
	notifier.mu.Lock()
	assert.Len(t, notifier.messages, 1)
	notifier.mu.Unlock()

	// Upstream pushes the deadline out: the order leaves the emergency set.
	src.mu.Lock()
	src.records = []model.RawOrderRecord{
		{OrderID: "ORD-1", Customer: "Acme", Tier: "standard", Revision: "2", Deadline: futureDate(30)},
	}
	src.mu.Unlock()
	result, err = ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Emergencies)

	// Pulled back in: entering the set again alerts again.
	src.mu.Lock()
	src.records = []model.RawOrderRecord{
		{OrderID: "ORD-1", Customer: "Acme", Tier: "standard", Revision: "3", Deadline: futureDate(1)},
	}
	src.mu.Unlock()
	result, err = ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Emergencies)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.messages, 2)
	assert.Contains(t, notifier.messages[1], "ORD-1")
}

func TestEvaluator_MissingUpstreamKeepsOrderScheduled(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Tier: "standard", Revision: "1", Deadline: futureDate(5)},
		{OrderID: "ORD-2", Tier: "standard", Revision: "1", Deadline: futureDate(6)},
	}}
	ev, st, _, _ := newTestEvaluator(t, src)

	_, err := ev.Trigger(context.Background())
	require.NoError(t, err)

	src.mu.Lock()
	src.records = src.records[:1]
	src.mu.Unlock()

	result, err := ev.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ORD-2"}, result.Report.MissingUpstream)

	// Flagged, not cancelled: the order still competes for press time.
	o, err := st.Get("ORD-2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, o.Status)
	assert.Equal(t, 2, result.QueueDepth)
}

func TestNewEvaluator_WarnsWhenSnapshotSeedFails(t *testing.T) {
	dataDir := t.TempDir()
	st, err := store.Open(dataDir)
	require.NoError(t, err)

	snapPath := model.SnapshotPath(dataDir)
	require.NoError(t, os.MkdirAll(filepath.Dir(snapPath), 0755))
	require.NoError(t, os.WriteFile(snapPath, []byte("{{{ not yaml"), 0644))

	var buf bytes.Buffer
	NewEvaluator(model.DefaultConfig("test-shop"), EvaluatorDeps{
		Store:     st,
		Source:    &stubSource{},
		Publisher: publish.New(dataDir),
		Logger:    log.New(&buf, "", 0),
	})

	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), "rank pinning")
}

func TestEvaluator_InProgressPinnedAcrossRestart(t *testing.T) {
	src := &stubSource{records: []model.RawOrderRecord{
		{OrderID: "ORD-1", Tier: "standard", Revision: "1", Deadline: futureDate(5)},
		{OrderID: "ORD-2", Tier: "standard", Revision: "1", Deadline: futureDate(6)},
	}}
	dataDir := t.TempDir()
	st, err := store.Open(dataDir)
	require.NoError(t, err)
	pub := publish.New(dataDir)
	cfg := model.DefaultConfig("test-shop")

	ev := NewEvaluator(cfg, EvaluatorDeps{Store: st, Source: src, Publisher: pub})
	_, err = ev.Trigger(context.Background())
	require.NoError(t, err)

	snap, ok, err := pub.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ORD-1", snap.Entries[0].OrderID)

	// Both jobs go onto the press; upstream then flips the deadlines so raw
	// priority would reverse them.
	require.NoError(t, st.MarkStatus("ORD-1", model.StatusInProgress))
	require.NoError(t, st.MarkStatus("ORD-2", model.StatusInProgress))
	src.mu.Lock()
	src.records = []model.RawOrderRecord{
		{OrderID: "ORD-1", Tier: "standard", Revision: "2", Deadline: futureDate(10)},
		{OrderID: "ORD-2", Tier: "standard", Revision: "2", Deadline: futureDate(2)},
	}
	src.mu.Unlock()

	_, err = ev.Trigger(context.Background())
	require.NoError(t, err)

	snap2, ok, err := pub.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, snap2.Entries, 2)
	assert.Equal(t, "ORD-1", snap2.Entries[0].OrderID, "work on the press must not be reshuffled")

	// A restarted daemon seeds pinning from the published snapshot.
	st2, err := store.Open(dataDir)
	require.NoError(t, err)
	ev2 := NewEvaluator(cfg, EvaluatorDeps{Store: st2, Source: src, Publisher: pub})
	_, err = ev2.Trigger(context.Background())
	require.NoError(t, err)

	snap3, ok, err := pub.LoadSnapshot()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, snap3.Entries, 2)
	assert.Equal(t, "ORD-1", snap3.Entries[0].OrderID)
}
