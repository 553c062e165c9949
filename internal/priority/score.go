// Package priority implements the pure scoring function that ranks orders:
// a weighted combination of deadline urgency and customer tier, plus the
// emergency flag and the deterministic tie-break chain.
package priority

import (
	"time"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
)

// Rating is the scoring result for one order at one evaluation instant.
type Rating struct {
	Score       float64
	Urgency     float64
	TierScore   float64
	DaysLeft    int
	HasDeadline bool
	IsEmergency bool
}

// Rated pairs an order with its rating for sorting.
type Rated struct {
	Order  model.Order
	Rating Rating
}

// DaysUntil returns whole calendar days from now's date to the deadline's
// date. Today and past deadlines yield zero or negative values.
func DaysUntil(deadline, now time.Time) int {
	d := dateOf(deadline)
	n := dateOf(now)
	return int(d.Sub(n).Hours() / 24)
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DeriveHorizon returns the urgency normalization window in days: the
// configured value when set, otherwise the longest outstanding
// days-to-deadline among the given orders, never less than one day so a
// same-day-only backlog still normalizes.
func DeriveHorizon(orders []model.Order, now time.Time, w model.PriorityWeights) int {
	if w.HorizonDays > 0 {
		return w.HorizonDays
	}
	horizon := 1
	for _, o := range orders {
		deadline, ok := o.DeadlineTime()
		if !ok {
			continue
		}
		if days := DaysUntil(deadline, now); days > horizon {
			horizon = days
		}
	}
	return horizon
}

// TierRank maps a customer tier onto [0,1]: lowest configured tier → 0,
// highest → 1. Unknown tiers rank as the lowest; a single-tier configuration
// maps to 0.
func TierRank(tier string, tiers []string) float64 {
	if len(tiers) < 2 {
		return 0
	}
	for i, t := range tiers {
		if t == tier {
			return float64(i) / float64(len(tiers)-1)
		}
	}
	return 0
}

// Rate scores one order. Pure and deterministic: same order, instant, weights
// and horizon always produce the same rating.
func Rate(o model.Order, now time.Time, w model.PriorityWeights, horizonDays int) Rating {
	r := Rating{TierScore: TierRank(o.Tier, w.CustomerTiers)}

	deadline, ok := o.DeadlineTime()
	if ok {
		r.HasDeadline = true
		r.DaysLeft = DaysUntil(deadline, now)
		if horizonDays < 1 {
			horizonDays = 1
		}
		r.Urgency = clamp01(1 - float64(r.DaysLeft)/float64(horizonDays))
		r.IsEmergency = r.DaysLeft <= w.EmergencyThresholdDays
	}
	// No deadline: urgency stays 0 (maximal horizon), never an error.

	r.Score = w.DeadlineWeight*r.Urgency + w.CustomerPriorityWeight*r.TierScore
	return r
}

// Less is the strict total order over rated entries. Emergencies always rank
// first; within a block higher score wins; remaining ties fall through to
// earlier deadline, then creation time (FIFO), then order ID.
func Less(a, b Rated) bool {
	if a.Rating.IsEmergency != b.Rating.IsEmergency {
		return a.Rating.IsEmergency
	}
	if a.Rating.Score != b.Rating.Score {
		return a.Rating.Score > b.Rating.Score
	}
	da, aOK := a.Order.DeadlineTime()
	db, bOK := b.Order.DeadlineTime()
	switch {
	case aOK && bOK && !da.Equal(db):
		return da.Before(db)
	case aOK != bOK:
		return aOK // a deadline beats no deadline
	}
	ca, cb := a.Order.CreatedAtTime(), b.Order.CreatedAtTime()
	if !ca.Equal(cb) {
		return ca.Before(cb)
	}
	return a.Order.ID < b.Order.ID
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
