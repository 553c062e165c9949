// Package notify surfaces urgent scheduling events on the operator's
// desktop. Only macOS is supported; elsewhere callers should wire Discard.
package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

// Notifier delivers an operator-facing alert.
type Notifier interface {
	Notify(title, message string) error
}

// Desktop sends macOS notifications via osascript with sound.
type Desktop struct{}

func (Desktop) Notify(title, message string) error {
	title = escapeAppleScript(title)
	message = escapeAppleScript(message)

	script := fmt.Sprintf(
		`display notification %q with title %q sound name "default"`,
		message, title,
	)

	cmd := exec.Command("osascript", "-e", script)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Discard drops all notifications. Used headless and in tests.
type Discard struct{}

func (Discard) Notify(string, string) error { return nil }

// EmergencyMessage formats the alert body for an order that crossed the
// emergency deadline threshold.
func EmergencyMessage(orderID, customer, deadline string) (title, message string) {
	title = "Print queue: EMERGENCY order"
	if customer != "" {
		message = fmt.Sprintf("Order %s for %s is due %s", orderID, customer, deadline)
	} else {
		message = fmt.Sprintf("Order %s is due %s", orderID, deadline)
	}
	return title, message
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
