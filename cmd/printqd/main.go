package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/timofeysmykov/print-queue-agent/internal/daemon"
	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/setup"
	"github.com/timofeysmykov/print-queue-agent/internal/status"
	"github.com/timofeysmykov/print-queue-agent/internal/uds"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "daemon":
		runDaemon(os.Args[2:])
	case "evaluate":
		runEvaluate(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "queue":
		runQueue(os.Args[2:])
	case "order":
		runOrder(os.Args[2:])
	case "override":
		runOverride(os.Args[2:])
	case "hold":
		runHoldRelease(uds.CmdHold, os.Args[2:])
	case "release":
		runHoldRelease(uds.CmdRelease, os.Args[2:])
	case "shutdown":
		runSimpleCommand(uds.CmdShutdown, nil)
	case "version":
		fmt.Printf("printqd %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runInit(args []string) {
	dir := "."
	name := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--name":
			if i+1 >= len(args) {
				fmt.Fprintln(os.Stderr, "--name requires a value")
				os.Exit(1)
			}
			i++
			name = args[i]
		default:
			dir = args[i]
		}
	}

	if err := setup.Run(dir, name); err != nil {
		fmt.Fprintf(os.Stderr, "init: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("initialized %s\n", filepath.Join(dir, model.DataDirName))
}

func runDaemon(_ []string) {
	dataDir := mustFindDataDir()
	cfg, err := setup.LoadConfig(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	d, err := daemon.New(dataDir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create daemon: %v\n", err)
		os.Exit(1)
	}
	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: %v\n", err)
		os.Exit(1)
	}
}

func runEvaluate(_ []string) {
	resp := sendOrDie(uds.CmdEvaluate, nil)

	var result daemon.CycleResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d in queue, %d emergency\n", result.CycleID, result.QueueDepth, result.Emergencies)
	if n := len(result.Report.Conflicted); n > 0 {
		fmt.Printf("warning: %d conflicted order(s), see reconcile report\n", n)
	}
	if n := len(result.Report.Rejected); n > 0 {
		fmt.Printf("warning: %d rejected ledger record(s)\n", n)
	}
}

func runStatus(args []string) {
	jsonOutput := len(args) > 0 && args[0] == "--json"
	dataDir := mustFindDataDir()
	if err := status.Run(dataDir, jsonOutput); err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		os.Exit(1)
	}
}

func runQueue(_ []string) {
	resp := sendOrDie(uds.CmdQueue, map[string]bool{"render": true})

	var data struct {
		Rendered string `json:"rendered"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(data.Rendered)
}

func runOrder(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: printqd order <order-id>")
		os.Exit(1)
	}
	resp := sendOrDie(uds.CmdOrderStatus, map[string]string{"order_id": args[0]})

	var order model.Order
	if err := json.Unmarshal(resp.Data, &order); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Order %s (rev %s)\n", order.ID, order.Revision)
	fmt.Printf("  status:   %s\n", order.Status)
	if order.Customer != "" {
		fmt.Printf("  customer: %s (%s)\n", order.Customer, order.Tier)
	}
	if order.Quantity != "" {
		fmt.Printf("  quantity: %s\n", order.Quantity)
	}
	if order.Deadline != "" {
		fmt.Printf("  deadline: %s\n", order.Deadline)
	}
}

func runOverride(args []string) {
	params := map[string]string{}
	for i := 0; i < len(args); i++ {
		key := ""
		switch args[i] {
		case "--order":
			key = "order_id"
		case "--revision":
			key = "revision"
		case "--deadline":
			key = "deadline"
		case "--tier":
			key = "tier"
		case "--status":
			key = "status"
		case "--quantity":
			key = "quantity"
		default:
			fmt.Fprintf(os.Stderr, "unknown flag: %s\n", args[i])
			os.Exit(1)
		}
		if i+1 >= len(args) {
			fmt.Fprintf(os.Stderr, "%s requires a value\n", args[i])
			os.Exit(1)
		}
		i++
		params[key] = args[i]
	}
	if params["order_id"] == "" || params["revision"] == "" {
		fmt.Fprintln(os.Stderr, "usage: printqd override --order <id> --revision <rev> [--deadline D] [--tier T] [--quantity Q] [--status S]")
		os.Exit(1)
	}

	resp := sendOrDie(uds.CmdForceOverride, params)

	var order model.Order
	if err := json.Unmarshal(resp.Data, &order); err != nil {
		fmt.Fprintf(os.Stderr, "decode response: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("override applied: order %s now rev %s, status %s\n", order.ID, order.Revision, order.Status)
}

func runHoldRelease(command string, args []string) {
	var params any
	if len(args) > 0 {
		params = map[string]string{"order_id": args[0]}
	}
	runSimpleCommand(command, params)
}

func runSimpleCommand(command string, params any) {
	resp := sendOrDie(command, params)

	var data map[string]string
	if err := json.Unmarshal(resp.Data, &data); err == nil && data["status"] != "" {
		fmt.Println(data["status"])
	} else {
		fmt.Println("ok")
	}
}

func sendOrDie(command string, params any) *uds.Response {
	dataDir := mustFindDataDir()
	client := uds.NewClient(filepath.Join(dataDir, uds.DefaultSocketName))
	resp, err := client.SendCommand(command, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if !resp.Success {
		if resp.Error != nil {
			fmt.Fprintf(os.Stderr, "error [%s]: %s\n", resp.Error.Code, resp.Error.Message)
		} else {
			fmt.Fprintln(os.Stderr, "error: request failed")
		}
		os.Exit(1)
	}
	return resp
}

func mustFindDataDir() string {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "getwd: %v\n", err)
		os.Exit(1)
	}
	dataDir, err := setup.FindDataDir(cwd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return dataDir
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `printqd %s — Print shop priority scheduling daemon

Usage: printqd <command> [options]

Workshop:
  init [dir] [--name N]   Initialize .printshop/ data directory
  daemon                  Run the scheduler daemon
  status [--json]         Show daemon, order and queue status

Queue:
  evaluate                Trigger an evaluation cycle now
  queue                   Print the current production queue
  order <id>              Show one order

Administration:
  override [flags]        Force-apply order fields past revision checks
  hold [order-id]         Hold one order out of the queue, or pause evaluation
  release [order-id]      Release a held order, or resume evaluation
  shutdown                Stop the daemon gracefully

  version                 Show version
  help                    Show this help

`, version)
}
