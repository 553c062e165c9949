package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/priority"
)

// RenderReport formats the human-readable queue report served to the
// administration channel: an emergency section first, then the full queue.
func RenderReport(entries []model.QueueEntry, orders map[string]model.Order, now time.Time) string {
	var b strings.Builder

	b.WriteString("=== CURRENT PRINT QUEUE ===\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Orders in queue: %d\n\n", len(entries))

	var emergencies []model.QueueEntry
	for _, e := range entries {
		if e.IsEmergency {
			emergencies = append(emergencies, e)
		}
	}

	fmt.Fprintf(&b, "EMERGENCY ORDERS (%d):\n", len(emergencies))
	if len(emergencies) == 0 {
		b.WriteString("none\n")
	}
	for _, e := range emergencies {
		b.WriteString(reportLine(e, orders[e.OrderID], now))
	}

	b.WriteString("\nFULL QUEUE:\n")
	for _, e := range entries {
		b.WriteString(reportLine(e, orders[e.OrderID], now))
	}

	return b.String()
}

func reportLine(e model.QueueEntry, o model.Order, now time.Time) string {
	customer := o.Customer
	if customer == "" {
		customer = o.CustomerID
	}
	if customer == "" {
		customer = "-"
	}
	quantity := o.Quantity
	if quantity == "" {
		quantity = "-"
	}

	deadline := "no deadline"
	if t, ok := o.DeadlineTime(); ok {
		days := priority.DaysUntil(t, now)
		switch {
		case days < 0:
			deadline = fmt.Sprintf("%s (overdue %d d)", o.Deadline, -days)
		case days == 0:
			deadline = fmt.Sprintf("%s (due today)", o.Deadline)
		default:
			deadline = fmt.Sprintf("%s (%d d left)", o.Deadline, days)
		}
	}

	marker := ""
	if e.IsEmergency {
		marker = " [EMERGENCY]"
	}
	return fmt.Sprintf("#%d. Order %s, %s, qty %s, due: %s%s\n",
		e.Rank, e.OrderID, customer, quantity, deadline, marker)
}
