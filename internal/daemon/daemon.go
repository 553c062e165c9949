// Package daemon runs the scheduler loop: a single long-lived process that
// watches the order ledger, re-evaluates the production queue on a cadence
// and on ledger changes, and answers admin commands over a Unix socket.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/timofeysmykov/print-queue-agent/internal/events"
	"github.com/timofeysmykov/print-queue-agent/internal/ledger"
	"github.com/timofeysmykov/print-queue-agent/internal/lock"
	"github.com/timofeysmykov/print-queue-agent/internal/model"
	"github.com/timofeysmykov/print-queue-agent/internal/notify"
	"github.com/timofeysmykov/print-queue-agent/internal/publish"
	"github.com/timofeysmykov/print-queue-agent/internal/setup"
	"github.com/timofeysmykov/print-queue-agent/internal/store"
	"github.com/timofeysmykov/print-queue-agent/internal/uds"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Daemon is the scheduler daemon process.
type Daemon struct {
	dataDir string

	// cfgMu guards config and logLevel against the fsnotify hot-reload.
	cfgMu    sync.RWMutex
	config   model.Config
	logLevel LogLevel

	logger  *log.Logger
	logFile io.Closer

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	ticker   *time.Ticker

	store     *store.Store
	evaluator *Evaluator
	bus       *events.Bus
	audit     *events.AuditLogger
	notifier  notify.Notifier

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a Daemon logging into the data directory's daemon.log.
func New(dataDir string, cfg model.Config) (*Daemon, error) {
	logPath := model.DaemonLogPath(dataDir)
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(dataDir, cfg, logFile, logFile, notify.Desktop{})
}

// newDaemon is the internal constructor for testing.
func newDaemon(dataDir string, cfg model.Config, w io.Writer, closer io.Closer, notifier notify.Notifier) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		dataDir:  dataDir,
		config:   cfg,
		logLevel: parseLogLevel(cfg.Logging.Level),
		logger:   log.New(w, "", 0),
		logFile:  closer,
		fileLock: lock.NewFileLock(model.DaemonLockPath(dataDir)),
		server:   uds.NewServer(filepath.Join(dataDir, uds.DefaultSocketName)),
		ticker:   time.NewTicker(time.Duration(cfg.Watcher.CheckIntervalSec) * time.Second),
		notifier: notifier,
		ctx:      ctx,
		cancel:   cancel,
	}
	d.server.SetLogger(d.logger)

	return d, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Single daemon per workshop.
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	st, err := store.Open(d.dataDir)
	if err != nil {
		d.fileLock.Unlock()
		return fmt.Errorf("open order store: %w", err)
	}
	d.store = st

	audit, err := events.NewAuditLogger(model.AuditLogPath(d.dataDir), 0)
	if err != nil {
		d.fileLock.Unlock()
		return fmt.Errorf("open audit log: %w", err)
	}
	d.audit = audit
	d.bus = events.NewBus(0)

	d.evaluator = NewEvaluator(d.config, EvaluatorDeps{
		Store:     d.store,
		Source:    ledger.NewFileSource(d.dataDir),
		Publisher: publish.New(d.dataDir),
		Bus:       d.bus,
		Audit:     d.audit,
		Notifier:  d.notifier,
		Logger:    d.logger,
	})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher

	// Watch the ledger directory for order edits and the data dir root for
	// config.yaml changes.
	ledgerDir := filepath.Dir(model.LedgerPath(d.dataDir))
	if err := os.MkdirAll(ledgerDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure dir %s: %w", ledgerDir, err)
	}
	for _, dir := range []string{ledgerDir, d.dataDir} {
		if err := watcher.Add(dir); err != nil {
			d.cleanup()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.dataDir, uds.DefaultSocketName))

	d.wg.Add(2)
	go d.fsnotifyLoop()
	go d.tickerLoop()

	// Initial evaluation so a fresh daemon publishes a queue immediately.
	d.evaluator.TriggerAuto(d.ctx)
	d.log(LogLevelInfo, "daemon ready")

	d.waitSignals()
	return nil
}

// fsnotifyLoop reacts to ledger edits and configuration changes.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	ledgerPath := model.LedgerPath(d.dataDir)
	configPath := model.ConfigPath(d.dataDir)

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			switch event.Name {
			case ledgerPath:
				d.log(LogLevelDebug, "ledger changed, triggering evaluation")
				d.evaluator.TriggerAuto(d.ctx)
			case configPath:
				d.reloadConfig()
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// reloadConfig hot-swaps the configuration. The running cycle finishes under
// the old configuration; a broken config file is logged and ignored.
func (d *Daemon) reloadConfig() {
	cfg, err := setup.LoadConfig(d.dataDir)
	if err != nil {
		d.log(LogLevelWarn, "config reload rejected: %v", err)
		return
	}
	d.cfgMu.Lock()
	d.config = cfg
	d.logLevel = parseLogLevel(cfg.Logging.Level)
	d.cfgMu.Unlock()
	d.evaluator.SetConfig(cfg)
	d.ticker.Reset(time.Duration(cfg.Watcher.CheckIntervalSec) * time.Second)
	d.log(LogLevelInfo, "config reloaded, check interval now %ds", cfg.Watcher.CheckIntervalSec)
}

// tickerLoop triggers periodic evaluation at the configured cadence.
func (d *Daemon) tickerLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.ticker.C:
			d.log(LogLevelDebug, "periodic evaluation triggered")
			d.evaluator.TriggerAuto(d.ctx)
		}
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal forces exit.
	go func() {
		<-sigCh
		d.log(LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		d.cancel()

		d.ticker.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		d.cfgMu.RLock()
		timeout := d.config.Daemon.ShutdownTimeoutSec
		d.cfgMu.RUnlock()
		if timeout <= 0 {
			timeout = 30
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		if d.bus != nil {
			d.bus.Close()
		}
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	os.Remove(filepath.Join(d.dataDir, uds.DefaultSocketName))
	d.fileLock.Unlock()
	if d.audit != nil {
		d.audit.Close()
	}
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	d.cfgMu.RLock()
	minLevel := d.logLevel
	d.cfgMu.RUnlock()
	if level < minLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
