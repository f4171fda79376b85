// Package config collects the validated, defaulted knobs for one
// upload run: a plain struct plus a Default() constructor and a
// Validate() pass, the place library and CLI callers converge before
// building the engine.
package config

import (
	"fmt"

	"github.com/ska-sa/skarabflash/internal/firmware"
	"github.com/ska-sa/skarabflash/internal/runloop"
	"github.com/ska-sa/skarabflash/internal/validation"
)

// Config is the fully-resolved set of knobs the engine and run loop
// need for one upload.
type Config struct {
	ImagePath string
	Peers     []string
	ChunkSize int

	ProblemLimit      int
	RetryBurstLimit   int
	RetryBurstPerPeer bool

	Verbosity int

	MetricsAddr string
	JSONLog     bool
}

// Default returns a Config with sensible defaults for everything but
// ImagePath and Peers, which the caller must always supply.
func Default() Config {
	return Config{
		ChunkSize:       firmware.DefaultChunkSize,
		ProblemLimit:    runloop.DefaultProblemLimit,
		RetryBurstLimit: runloop.DefaultBurstLimit,
	}
}

// Validate checks the configuration before the image is read or the
// socket is opened. It stats ImagePath and resolves MetricsAddr.
func (c Config) Validate() error {
	if err := validation.ValidateFilePath(c.ImagePath, true); err != nil {
		return fmt.Errorf("config: image path: %w", err)
	}
	if len(c.Peers) == 0 {
		return fmt.Errorf("config: at least one peer is required")
	}
	if err := firmware.ValidateChunkSize(c.ChunkSize); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ProblemLimit <= 0 {
		return fmt.Errorf("config: problem limit must be positive, got %d", c.ProblemLimit)
	}
	if c.RetryBurstLimit <= 0 {
		return fmt.Errorf("config: retry burst limit must be positive, got %d", c.RetryBurstLimit)
	}
	if c.MetricsAddr != "" {
		if err := validation.ValidateAddr(c.MetricsAddr); err != nil {
			return fmt.Errorf("config: metrics addr: %w", err)
		}
	}
	return nil
}

// RunloopOptions projects the retry/problem thresholds into
// runloop.Options.
func (c Config) RunloopOptions() runloop.Options {
	return runloop.Options{
		ProblemLimit:      c.ProblemLimit,
		RetryBurstLimit:   c.RetryBurstLimit,
		RetryBurstPerPeer: c.RetryBurstPerPeer,
	}
}
