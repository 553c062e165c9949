// Package setup handles workshop data directory initialization and
// configuration loading.
package setup

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
	atomicyaml "github.com/timofeysmykov/print-queue-agent/internal/yaml"
)

// Run initializes the .printshop/ directory structure under projectDir.
// projectName overrides the auto-detected name (directory basename if empty).
func Run(projectDir, projectName string) error {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, model.DataDirName)

	if _, err := os.Stat(base); err == nil {
		return fmt.Errorf("%s already exists", base)
	}

	dirs := []string{
		"ledger",
		"state",
		"queue",
		"reports",
		"logs",
		"locks",
		"quarantine",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if projectName == "" {
		projectName = filepath.Base(absDir)
	}
	cfg := model.DefaultConfig(projectName)
	if err := atomicyaml.AtomicWrite(model.ConfigPath(base), cfg); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}

	// Empty ledger skeleton so the first cycle has something to fetch.
	if err := atomicyaml.GenerateSkeleton(model.LedgerPath(base), model.FileTypeLedger); err != nil {
		return fmt.Errorf("write ledger skeleton: %w", err)
	}
	if err := atomicyaml.GenerateSkeleton(model.OrderStatePath(base), model.FileTypeOrderState); err != nil {
		return fmt.Errorf("write state skeleton: %w", err)
	}

	if err := os.WriteFile(model.DaemonLockPath(base), nil, 0600); err != nil {
		return fmt.Errorf("create daemon.lock: %w", err)
	}

	return nil
}

// FindDataDir walks up from startDir looking for a .printshop/ directory.
func FindDataDir(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve dir: %w", err)
	}
	for {
		candidate := filepath.Join(dir, model.DataDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s directory found from %s upward; run: printqd init", model.DataDirName, startDir)
		}
		dir = parent
	}
}

// LoadConfig reads config.yaml from the data directory, applies defaults
// and validates the result.
func LoadConfig(dataDir string) (model.Config, error) {
	content, err := os.ReadFile(model.ConfigPath(dataDir))
	if err != nil {
		return model.Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg model.Config
	if err := yamlv3.Unmarshal(content, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
