package model

import "fmt"

type Config struct {
	Project ProjectConfig   `yaml:"project"`
	Queue   PriorityWeights `yaml:"queue"`
	Watcher WatcherConfig   `yaml:"watcher"`
	Daemon  DaemonConfig    `yaml:"daemon"`
	Logging LoggingConfig   `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// PriorityWeights configures the scoring function. Scores are only
// meaningfully compared within one weight configuration.
type PriorityWeights struct {
	DeadlineWeight         float64  `yaml:"deadline_weight"`
	CustomerPriorityWeight float64  `yaml:"customer_priority_weight"`
	EmergencyThresholdDays int      `yaml:"emergency_threshold_days"`
	HorizonDays            int      `yaml:"horizon_days"` // 0 = derive from outstanding deadlines
	CustomerTiers          []string `yaml:"customer_tiers"`
}

type WatcherConfig struct {
	CheckIntervalSec int `yaml:"check_interval_sec"`
	FetchTimeoutSec  int `yaml:"fetch_timeout_sec"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration written by `printqd init`.
func DefaultConfig(projectName string) Config {
	cfg := Config{
		Project: ProjectConfig{Name: projectName},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with workshop defaults.
func (c *Config) ApplyDefaults() {
	if c.Queue.DeadlineWeight == 0 && c.Queue.CustomerPriorityWeight == 0 {
		c.Queue.DeadlineWeight = 0.7
		c.Queue.CustomerPriorityWeight = 0.3
	}
	if c.Queue.EmergencyThresholdDays == 0 {
		c.Queue.EmergencyThresholdDays = 3
	}
	if len(c.Queue.CustomerTiers) == 0 {
		c.Queue.CustomerTiers = []string{"standard", "premium", "vip"}
	}
	if c.Watcher.CheckIntervalSec <= 0 {
		c.Watcher.CheckIntervalSec = 1800
	}
	if c.Watcher.FetchTimeoutSec <= 0 {
		c.Watcher.FetchTimeoutSec = 30
	}
	if c.Daemon.ShutdownTimeoutSec <= 0 {
		c.Daemon.ShutdownTimeoutSec = 30
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) Validate() error {
	q := c.Queue
	if q.DeadlineWeight < 0 || q.DeadlineWeight > 1 {
		return fmt.Errorf("queue.deadline_weight %v out of range [0,1]", q.DeadlineWeight)
	}
	if q.CustomerPriorityWeight < 0 || q.CustomerPriorityWeight > 1 {
		return fmt.Errorf("queue.customer_priority_weight %v out of range [0,1]", q.CustomerPriorityWeight)
	}
	if q.EmergencyThresholdDays < 0 {
		return fmt.Errorf("queue.emergency_threshold_days must be non-negative, got %d", q.EmergencyThresholdDays)
	}
	if q.HorizonDays < 0 {
		return fmt.Errorf("queue.horizon_days must be non-negative, got %d", q.HorizonDays)
	}
	if len(q.CustomerTiers) == 0 {
		return fmt.Errorf("queue.customer_tiers must not be empty")
	}
	seen := make(map[string]bool, len(q.CustomerTiers))
	for _, tier := range q.CustomerTiers {
		if seen[tier] {
			return fmt.Errorf("queue.customer_tiers contains duplicate %q", tier)
		}
		seen[tier] = true
	}
	return nil
}
