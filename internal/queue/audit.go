package queue

import (
	"time"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/priority"
)

// IdentifyProblemOrders flags active orders whose data needs human attention
// before they reach the press. Flags, never fixes.
func IdentifyProblemOrders(orders []model.Order, now time.Time) []model.ProblemOrder {
	var out []model.ProblemOrder
	for _, o := range orders {
		if !model.IsActive(o.Status) {
			continue
		}

		var problems []string
		if o.Customer == "" && o.CustomerID == "" {
			problems = append(problems, "missing customer")
		}
		if o.Quantity == "" {
			problems = append(problems, "missing quantity")
		}
		if o.Deadline == "" {
			problems = append(problems, "missing deadline")
		} else if deadline, ok := o.DeadlineTime(); !ok {
			problems = append(problems, "unparseable deadline "+o.Deadline)
		} else if priority.DaysUntil(deadline, now) < 0 && o.Status != model.StatusInProgress {
			problems = append(problems, "deadline already passed")
		}

		if len(problems) > 0 {
			out = append(out, model.ProblemOrder{OrderID: o.ID, Problems: problems})
		}
	}
	return out
}
