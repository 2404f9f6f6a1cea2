package app

import (
	"errors"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ProgramPath string // hcl file

	LogFormat string
	LogLevel  string

	// Overrides applied on top of the program's trace block.
	Fake           bool
	Decompositions []string

	Run            bool // replay the traced graph on the declared inputs
	Tree           bool // print the output expression tree
	PublishURL     string
	PublishTimeout time.Duration
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ProgramPath == "" {
		return nil, errors.New("ProgramPath is a required configuration field and cannot be empty")
	}
	if cfg.PublishTimeout < 0 {
		return nil, errors.New("PublishTimeout cannot be negative")
	}
	return &cfg, nil
}
