package model

import "fmt"

type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

var terminalStatuses = map[Status]bool{
	StatusDone:      true,
	StatusCancelled: true,
}

// activeStatuses are the statuses that keep an order in play: they are the
// statuses the reconciler checks for missing_upstream and the superset of what
// the queue builder ranks.
var activeStatuses = map[Status]bool{
	StatusPending:    true,
	StatusQueued:     true,
	StatusInProgress: true,
}

// Order status transitions: pending ↔ queued → in_progress → done.
// pending ↔ queued may oscillate as the queue is recomputed (admission and
// admin holds); everything else is monotonic. Any non-terminal status may be
// cancelled.
var validOrderTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusQueued:    true,
		StatusCancelled: true,
	},
	StatusQueued: {
		StatusPending:    true, // admin hold → back to pending
		StatusInProgress: true,
		StatusCancelled:  true,
	},
	StatusInProgress: {
		StatusDone:      true,
		StatusCancelled: true,
	},
}

func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

func IsActive(s Status) bool {
	return activeStatuses[s]
}

func IsValidStatus(s Status) bool {
	return activeStatuses[s] || terminalStatuses[s]
}

func ValidateOrderTransition(from, to Status) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validOrderTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid order transition: %q → %q", from, to)
	}
	return nil
}

// ParseStatusHint maps an external ledger status hint onto an Order status.
// Hints are free-form upstream; unknown or empty hints carry no status signal.
func ParseStatusHint(hint string) (Status, bool) {
	switch Status(hint) {
	case StatusPending, StatusQueued, StatusInProgress, StatusDone, StatusCancelled:
		return Status(hint), true
	}
	switch hint {
	case "new", "open":
		return StatusPending, true
	case "printing", "active":
		return StatusInProgress, true
	case "completed", "finished":
		return StatusDone, true
	case "canceled", "rejected":
		return StatusCancelled, true
	}
	return "", false
}
