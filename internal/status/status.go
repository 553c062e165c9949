// Package status reports the overall engine state for the CLI.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/uds"
)

type ShopStatus struct {
	Daemon DaemonStatus   `json:"daemon"`
	Orders OrderCounts    `json:"orders"`
	Queue  QueueStatus    `json:"queue"`
	Report *ReportSummary `json:"last_reconcile,omitempty"`
}

type DaemonStatus struct {
	Running bool   `json:"running"`
	State   string `json:"state,omitempty"`
}

type OrderCounts struct {
	Pending    int `json:"pending"`
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Cancelled  int `json:"cancelled"`
}

type QueueStatus struct {
	Depth       int    `json:"depth"`
	Emergencies int    `json:"emergencies"`
	GeneratedAt string `json:"generated_at,omitempty"`
}

type ReportSummary struct {
	StartedAt       string `json:"started_at"`
	Created         int    `json:"created"`
	Updated         int    `json:"updated"`
	Conflicted      int    `json:"conflicted"`
	Stale           int    `json:"stale"`
	MissingUpstream int    `json:"missing_upstream"`
	Rejected        int    `json:"rejected"`
}

// Run collects the shop status and prints it to stdout.
func Run(dataDir string, jsonOutput bool) error {
	status := Collect(dataDir)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	printStatus(status)
	return nil
}

// Collect gathers daemon liveness, order counts, queue depth and the last
// reconcile summary from the data directory.
func Collect(dataDir string) ShopStatus {
	status := ShopStatus{}
	status.Daemon = checkDaemon(filepath.Join(dataDir, uds.DefaultSocketName))
	status.Orders = countOrders(dataDir)
	status.Queue = readQueue(dataDir)
	status.Report = readReport(dataDir)
	return status
}

func checkDaemon(sockPath string) DaemonStatus {
	client := uds.NewClient(sockPath)
	resp, err := client.SendCommand(uds.CmdPing, nil)
	if err != nil || !resp.Success {
		return DaemonStatus{Running: false}
	}
	var data struct {
		State string `json:"state"`
	}
	_ = json.Unmarshal(resp.Data, &data)
	return DaemonStatus{Running: true, State: data.State}
}

func countOrders(dataDir string) OrderCounts {
	content, err := os.ReadFile(model.OrderStatePath(dataDir))
	if err != nil {
		return OrderCounts{}
	}
	var state model.OrderStateFile
	if err := yaml.Unmarshal(content, &state); err != nil {
		return OrderCounts{}
	}

	var counts OrderCounts
	for _, order := range state.Orders {
		switch order.Status {
		case model.StatusPending:
			counts.Pending++
		case model.StatusQueued:
			counts.Queued++
		case model.StatusInProgress:
			counts.InProgress++
		case model.StatusDone:
			counts.Done++
		case model.StatusCancelled:
			counts.Cancelled++
		}
	}
	return counts
}

func readQueue(dataDir string) QueueStatus {
	content, err := os.ReadFile(model.SnapshotPath(dataDir))
	if err != nil {
		return QueueStatus{}
	}
	var snap model.QueueSnapshot
	if err := yaml.Unmarshal(content, &snap); err != nil {
		return QueueStatus{}
	}

	qs := QueueStatus{Depth: len(snap.Entries), GeneratedAt: snap.GeneratedAt}
	for _, entry := range snap.Entries {
		if entry.IsEmergency {
			qs.Emergencies++
		}
	}
	return qs
}

func readReport(dataDir string) *ReportSummary {
	content, err := os.ReadFile(model.ReportPath(dataDir))
	if err != nil {
		return nil
	}
	var report model.ReconcileReport
	if err := yaml.Unmarshal(content, &report); err != nil {
		return nil
	}
	return &ReportSummary{
		StartedAt:       report.StartedAt,
		Created:         len(report.Created),
		Updated:         len(report.Updated),
		Conflicted:      len(report.Conflicted),
		Stale:           len(report.Stale),
		MissingUpstream: len(report.MissingUpstream),
		Rejected:        len(report.Rejected),
	}
}

func printStatus(status ShopStatus) {
	if status.Daemon.Running {
		state := status.Daemon.State
		if state == "" {
			state = "unknown"
		}
		fmt.Printf("Daemon:  running (%s)\n", state)
	} else {
		fmt.Println("Daemon:  not running")
	}

	o := status.Orders
	fmt.Printf("Orders:  %d pending, %d queued, %d in progress, %d done, %d cancelled\n",
		o.Pending, o.Queued, o.InProgress, o.Done, o.Cancelled)

	if status.Queue.GeneratedAt != "" {
		fmt.Printf("Queue:   %d entries (%d emergency), published %s\n",
			status.Queue.Depth, status.Queue.Emergencies, status.Queue.GeneratedAt)
	} else {
		fmt.Println("Queue:   not published yet")
	}

	if r := status.Report; r != nil {
		fmt.Printf("Last reconcile (%s): %d created, %d updated, %d conflicted, %d stale, %d missing upstream, %d rejected\n",
			r.StartedAt, r.Created, r.Updated, r.Conflicted, r.Stale, r.MissingUpstream, r.Rejected)
	}
}
