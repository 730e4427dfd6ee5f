package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	NetworkPath string // hcl network description file or directory

	LogFormat string
	LogLevel  string
	OpsPort   int

	// Minibatch geometry for the run.
	Sequences int
	TimeSteps int
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.NetworkPath == "" {
		return nil, errors.New("NetworkPath is a required configuration field and cannot be empty")
	}
	if cfg.Sequences < 1 {
		return nil, errors.New("Sequences must be at least 1")
	}
	if cfg.TimeSteps < 1 {
		return nil, errors.New("TimeSteps must be at least 1")
	}

	return &cfg, nil
}
