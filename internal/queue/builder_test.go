package queue

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
)

var now = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)

func weights() model.PriorityWeights {
	return model.PriorityWeights{
		DeadlineWeight:         0.7,
		CustomerPriorityWeight: 0.3,
		EmergencyThresholdDays: 3,
		CustomerTiers:          []string{"standard", "premium", "vip"},
	}
}

func order(id string, status model.Status, daysAhead int, tier string) model.Order {
	return model.Order{
		ID:        id,
		Customer:  "Horizon Press",
		Tier:      tier,
		Quantity:  "500",
		Deadline:  now.AddDate(0, 0, daysAhead).Format("2006-01-02"),
		Status:    status,
		CreatedAt: "2026-08-01T10:00:00Z",
	}
}

func TestBuild_RanksAreStrictPermutation(t *testing.T) {
	orders := []model.Order{
		order("ORD-1", model.StatusQueued, 10, "standard"),
		order("ORD-2", model.StatusQueued, 2, "vip"),
		order("ORD-3", model.StatusInProgress, 30, "standard"),
		order("ORD-4", model.StatusQueued, 5, "premium"),
		order("ORD-5", model.StatusPending, 1, "vip"),   // not ranked
		order("ORD-6", model.StatusDone, 1, "vip"),      // not ranked
		order("ORD-7", model.StatusCancelled, 1, "vip"), // not ranked
	}

	entries, err := Build(Input{Orders: orders, Now: now, Weights: weights()})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.Rank != i+1 {
			t.Errorf("entry %d: rank = %d, want %d", i, e.Rank, i+1)
		}
	}
	for _, e := range entries {
		switch e.OrderID {
		case "ORD-5", "ORD-6", "ORD-7":
			t.Errorf("order %s must not be ranked", e.OrderID)
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	orders := []model.Order{
		order("ORD-1", model.StatusQueued, 10, "standard"),
		order("ORD-2", model.StatusQueued, 2, "vip"),
		order("ORD-3", model.StatusQueued, 2, "vip"), // full tie with ORD-2 except ID
		order("ORD-4", model.StatusInProgress, 5, "premium"),
	}
	in := Input{Orders: orders, Now: now, Weights: weights()}

	first, err := Build(in)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	second, err := Build(in)
	if err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("build is not deterministic:\n%v\n%v", first, second)
	}
}

func TestBuild_InProgressHeadKeepsRelativeOrder(t *testing.T) {
	// ORD-B is in progress with a worse score than everything queued; it
	// still occupies the head. Previous ranks pin B before A.
	orders := []model.Order{
		order("ORD-A", model.StatusInProgress, 1, "vip"),
		order("ORD-B", model.StatusInProgress, 60, "standard"),
		order("ORD-C", model.StatusQueued, 0, "vip"),
	}
	prev := map[string]int{"ORD-B": 1, "ORD-A": 2}

	entries, err := Build(Input{Orders: orders, Now: now, Weights: weights(), PrevRank: prev})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	got := []string{entries[0].OrderID, entries[1].OrderID, entries[2].OrderID}
	want := []string{"ORD-B", "ORD-A", "ORD-C"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("queue order = %v, want %v", got, want)
	}
}

func TestBuild_EmergencyOutranksHigherScore(t *testing.T) {
	orders := []model.Order{
		order("ORD-A", model.StatusQueued, 10, "standard"),
		order("ORD-B", model.StatusQueued, 2, "vip"),
	}
	entries, err := Build(Input{Orders: orders, Now: now, Weights: weights()})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if entries[0].OrderID != "ORD-B" {
		t.Errorf("expected ORD-B first, got %s", entries[0].OrderID)
	}
	if !entries[0].IsEmergency {
		t.Error("ORD-B must be flagged as an emergency")
	}
	if entries[1].IsEmergency {
		t.Error("ORD-A must not be flagged as an emergency")
	}
}

func TestBuild_EmptyInput(t *testing.T) {
	entries, err := Build(Input{Now: now, Weights: weights()})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty queue, got %d entries", len(entries))
	}
}

func TestBuild_AllOverdue(t *testing.T) {
	orders := []model.Order{
		order("ORD-1", model.StatusQueued, -2, "standard"),
		order("ORD-2", model.StatusQueued, -5, "standard"),
	}
	entries, err := Build(Input{Orders: orders, Now: now, Weights: weights()})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	// Both saturate urgency; the earlier deadline ranks first.
	if entries[0].OrderID != "ORD-2" {
		t.Errorf("expected the more overdue order first, got %s", entries[0].OrderID)
	}
	for _, e := range entries {
		if !e.IsEmergency {
			t.Errorf("overdue order %s must be an emergency", e.OrderID)
		}
	}
}

func TestBuild_DuplicateIDFails(t *testing.T) {
	orders := []model.Order{
		order("ORD-1", model.StatusQueued, 5, "standard"),
		order("ORD-1", model.StatusQueued, 5, "standard"),
	}
	_, err := Build(Input{Orders: orders, Now: now, Weights: weights()})
	if err == nil {
		t.Fatal("expected duplicate ID to fail the build")
	}
}

func TestRankMap(t *testing.T) {
	m := RankMap([]model.QueueEntry{
		{OrderID: "A", Rank: 1},
		{OrderID: "B", Rank: 2},
	})
	if m["A"] != 1 || m["B"] != 2 {
		t.Errorf("unexpected rank map: %v", m)
	}
}

func TestRenderReport(t *testing.T) {
	orders := []model.Order{
		order("ORD-1", model.StatusQueued, 2, "vip"),
		order("ORD-2", model.StatusQueued, 10, "standard"),
	}
	entries, err := Build(Input{Orders: orders, Now: now, Weights: weights()})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	byID := map[string]model.Order{}
	for _, o := range orders {
		byID[o.ID] = o
	}

	report := RenderReport(entries, byID, now)
	if !strings.Contains(report, "EMERGENCY ORDERS (1):") {
		t.Errorf("report missing emergency section:\n%s", report)
	}
	if !strings.Contains(report, "#1. Order ORD-1") {
		t.Errorf("report missing head entry:\n%s", report)
	}
	if !strings.Contains(report, "(2 d left)") {
		t.Errorf("report missing days-left annotation:\n%s", report)
	}
}

func TestIdentifyProblemOrders(t *testing.T) {
	orders := []model.Order{
		{ID: "ORD-1", Status: model.StatusQueued, Quantity: "10", Deadline: "2026-09-15", Customer: "K"},
		{ID: "ORD-2", Status: model.StatusQueued, Deadline: "sometime"},
		{ID: "ORD-3", Status: model.StatusQueued, Customer: "K", Quantity: "5", Deadline: "2020-01-01"},
		{ID: "ORD-4", Status: model.StatusDone}, // terminal orders are skipped
	}

	problems := IdentifyProblemOrders(orders, now)
	byID := map[string][]string{}
	for _, p := range problems {
		byID[p.OrderID] = p.Problems
	}

	if _, ok := byID["ORD-1"]; ok {
		t.Error("ORD-1 is clean and must not be flagged")
	}
	if got := byID["ORD-2"]; len(got) != 3 {
		t.Errorf("ORD-2 problems = %v, want missing customer, missing quantity, unparseable deadline", got)
	}
	if got := byID["ORD-3"]; len(got) != 1 || !strings.Contains(got[0], "passed") {
		t.Errorf("ORD-3 problems = %v, want deadline already passed", got)
	}
	if _, ok := byID["ORD-4"]; ok {
		t.Error("terminal orders must be skipped")
	}
}
