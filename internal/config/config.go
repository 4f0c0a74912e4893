// Package config provides gapmesh's TOML configuration structures,
// styled on the katzenpost's common/config package: a Config struct with
// nested sections, sane defaults applied by Validate, and BurntSushi/toml
// for decoding.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "NOTICE"

	// DefaultAnnounceInterval is how often an Announce packet is
	// rebroadcast on the mesh (spec §4.8).
	DefaultAnnounceInterval = 60 * time.Second

	// DefaultReassemblyTimeout is the fragment reassembly window
	// (spec §4.5).
	DefaultReassemblyTimeout = 30 * time.Second

	// DefaultStallThreshold is the stream assembler's partial-frame
	// stall timeout (spec §4.6).
	DefaultStallThreshold = 1500 * time.Millisecond

	// DefaultOutboxMaxAge is how long an outbox entry survives before
	// being discarded (spec §5).
	DefaultOutboxMaxAge = 72 * time.Hour

	// DefaultDedupCapacity is the default LRU capacity of the dedup set
	// (spec §4.2).
	DefaultDedupCapacity = 4096

	// DefaultMaxDecodeLen is the default hard cap on a decoded payload
	// length (spec §4.1).
	DefaultMaxDecodeLen = 64 * 1024
)

// Logging configures the shared log backend.
type Logging struct {
	Disable bool
	File    string
	Level   string
}

// Validate fills in defaults and rejects unrecognized levels.
func (l *Logging) Validate() error {
	if l.Level == "" {
		l.Level = DefaultLogLevel
	}
	switch l.Level {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	default:
		return fmt.Errorf("config: invalid log level %q", l.Level)
	}
	return nil
}

// Mesh configures the BLE transport.
type Mesh struct {
	// Enable turns the BLE transport on. Disabled in headless test
	// environments with no radio.
	Enable bool

	// Nickname is announced on the mesh (spec §4.8 Announce policy).
	Nickname string

	// LegacyCompat advertises/scans the fixed legacy service UUID
	// alongside the rotating pool (spec §6).
	LegacyCompat bool

	// RotationSecretOverride is decoded from the config file but not
	// read anywhere; the rotator always uses the fixed default secret.
	RotationSecretOverride string
}

// Internet configures the Nostr gift-wrap transport.
type Internet struct {
	Enable bool
	Relays []string
}

// Config is the top-level gapmesh configuration.
type Config struct {
	DataDir  string
	Logging  Logging
	Mesh     Mesh
	Internet Internet
}

// Validate fills in defaults and checks invariants, following the
// teacher's Validate-after-decode convention.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: DataDir is required")
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Internet.Enable && len(c.Internet.Relays) == 0 {
		return errors.New("config: Internet.Enable requires at least one relay")
	}
	return nil
}

// Load decodes a TOML config file from path and validates it.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
