// Package queue builds the ranked production queue from the active orders.
package queue

import (
	"fmt"
	"sort"
	"time"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/priority"
)

// BuildError is an invariant violation inside a build. It should be
// unreachable; callers treat it as fatal for the cycle and keep the
// previously published queue in force.
type BuildError struct {
	Reason string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("queue build failed: %s", e.Reason)
}

// Input carries one build's full context. PrevRank holds the ranks of the
// previously published snapshot and pins the relative order of in-progress
// jobs: recomputation never shuffles work already on the press.
type Input struct {
	Orders   []model.Order
	Now      time.Time
	Weights  model.PriorityWeights
	PrevRank map[string]int
}

// Build produces the totally ordered queue covering exactly the orders with
// status queued or in_progress: the in-progress block first in its existing
// relative order, then the queued block sorted by score and the tie-break
// chain, ranks 1..N. Pure: callers persist the result.
func Build(in Input) ([]model.QueueEntry, error) {
	seen := make(map[string]bool, len(in.Orders))
	var inProgress, queued []model.Order
	for _, o := range in.Orders {
		if !model.IsValidStatus(o.Status) {
			return nil, &BuildError{Reason: fmt.Sprintf("order %s has unknown status %q", o.ID, o.Status)}
		}
		switch o.Status {
		case model.StatusInProgress:
			inProgress = append(inProgress, o)
		case model.StatusQueued:
			queued = append(queued, o)
		default:
			continue
		}
		if seen[o.ID] {
			return nil, &BuildError{Reason: fmt.Sprintf("duplicate order ID %s", o.ID)}
		}
		seen[o.ID] = true
	}

	horizon := priority.DeriveHorizon(append(queued, inProgress...), in.Now, in.Weights)

	rate := func(orders []model.Order) []priority.Rated {
		rated := make([]priority.Rated, len(orders))
		for i, o := range orders {
			rated[i] = priority.Rated{Order: o, Rating: priority.Rate(o, in.Now, in.Weights, horizon)}
		}
		return rated
	}

	head := rate(inProgress)
	sort.SliceStable(head, func(i, j int) bool {
		return lessPinned(head[i], head[j], in.PrevRank)
	})

	tail := rate(queued)
	sort.SliceStable(tail, func(i, j int) bool {
		return priority.Less(tail[i], tail[j])
	})

	entries := make([]model.QueueEntry, 0, len(head)+len(tail))
	for _, r := range append(head, tail...) {
		entries = append(entries, model.QueueEntry{
			OrderID:     r.Order.ID,
			Rank:        len(entries) + 1,
			Score:       r.Rating.Score,
			IsEmergency: r.Rating.IsEmergency,
		})
	}
	return entries, nil
}

// lessPinned orders the in-progress block: previously published rank first,
// jobs that never appeared in a snapshot fall back to FIFO by creation time,
// then order ID.
func lessPinned(a, b priority.Rated, prevRank map[string]int) bool {
	ra, aOK := prevRank[a.Order.ID]
	rb, bOK := prevRank[b.Order.ID]
	switch {
	case aOK && bOK:
		return ra < rb
	case aOK != bOK:
		return aOK
	}
	ca, cb := a.Order.CreatedAtTime(), b.Order.CreatedAtTime()
	if !ca.Equal(cb) {
		return ca.Before(cb)
	}
	return a.Order.ID < b.Order.ID
}

// RankMap extracts orderID → rank from a snapshot's entries.
func RankMap(entries []model.QueueEntry) map[string]int {
	m := make(map[string]int, len(entries))
	for _, e := range entries {
		m[e.OrderID] = e.Rank
	}
	return m
}
