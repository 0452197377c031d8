package app

import "errors"

// Config holds all the necessary configuration for an App instance to
// run.
type Config struct {
	// PlanPath is a single .hcl plan file or a directory of them.
	PlanPath string
	// StorePath is the SQLite result cache location. Empty selects an
	// ephemeral in-memory store.
	StorePath string

	LogFormat   string
	LogLevel    string
	WorkerCount int
	// Watch keeps the process alive and re-runs the plan whenever its
	// files change.
	Watch bool
}

// NewConfig validates a Config and returns it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PlanPath == "" {
		return nil, errors.New("PlanPath is a required configuration field and cannot be empty")
	}
	return &cfg, nil
}
