package setup

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/timofeysmykov/print-queue-agent/internal/model"
)

func TestRun_CreatesDirectoryStructure(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myshop")
	if err := os.Mkdir(projectDir, 0755); err != nil {
		t.Fatalf("create project dir: %v", err)
	}

	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	base := filepath.Join(projectDir, model.DataDirName)

	expectedDirs := []string{
		"ledger",
		"state",
		"queue",
		"reports",
		"logs",
		"locks",
		"quarantine",
	}
	for _, d := range expectedDirs {
		path := filepath.Join(base, d)
		info, err := os.Stat(path)
		if err != nil {
			t.Errorf("directory %s does not exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestRun_WritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myshop")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir, "corner-press"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	base := filepath.Join(projectDir, model.DataDirName)
	content, err := os.ReadFile(model.ConfigPath(base))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}

	var cfg model.Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Project.Name != "corner-press" {
		t.Errorf("project name = %q, want corner-press", cfg.Project.Name)
	}
	if cfg.Queue.DeadlineWeight != 0.7 {
		t.Errorf("deadline weight = %v, want 0.7", cfg.Queue.DeadlineWeight)
	}
	if len(cfg.Queue.CustomerTiers) != 3 {
		t.Errorf("customer tiers = %v", cfg.Queue.CustomerTiers)
	}
}

func TestRun_ProjectNameDefaultsToBasename(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "harbor-prints")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg, err := LoadConfig(filepath.Join(projectDir, model.DataDirName))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Project.Name != "harbor-prints" {
		t.Errorf("project name = %q, want harbor-prints", cfg.Project.Name)
	}
}

func TestRun_RefusesExisting(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myshop")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := Run(projectDir, ""); err == nil {
		t.Fatal("second Run should refuse an existing data directory")
	}
}

func TestRun_WritesLedgerSkeleton(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myshop")
	os.Mkdir(projectDir, 0755)

	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	base := filepath.Join(projectDir, model.DataDirName)
	content, err := os.ReadFile(model.LedgerPath(base))
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	var ledger model.LedgerFile
	if err := yaml.Unmarshal(content, &ledger); err != nil {
		t.Fatalf("parse ledger: %v", err)
	}
	if ledger.FileType != model.FileTypeLedger {
		t.Errorf("file_type = %q, want %q", ledger.FileType, model.FileTypeLedger)
	}
	if len(ledger.Orders) != 0 {
		t.Errorf("skeleton ledger should have no orders, got %d", len(ledger.Orders))
	}
}

func TestFindDataDir(t *testing.T) {
	dir := t.TempDir()
	projectDir := filepath.Join(dir, "myshop")
	nested := filepath.Join(projectDir, "jobs", "august")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run: %v", err)
	}

	found, err := FindDataDir(nested)
	if err != nil {
		t.Fatalf("FindDataDir: %v", err)
	}
	want := filepath.Join(projectDir, model.DataDirName)
	if found != want {
		t.Errorf("FindDataDir = %q, want %q", found, want)
	}

	if _, err := FindDataDir(t.TempDir()); err == nil {
		t.Error("FindDataDir should fail when nothing is initialized")
	}
}
