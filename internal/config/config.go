// Copyright (C) The Streamworkers Authors. All rights reserved.

// Package config loads the dispatch core's YAML configuration: the
// allocator and failover tuning knobs, plus the ambient settings (log
// level/format, admin bind address, management token) needed to run a
// real process.
package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"github.com/ghodss/yaml"
)

// Config is the top-level configuration document.
type Config struct {
	Allocator      Allocator      `json:"Allocator"`
	CommandBuilder CommandBuilder `json:"CommandBuilder"`
	Admin          Admin          `json:"Admin"`
	Log            Log            `json:"Log"`
}

// Allocator holds the control loop's tuning knobs: sleep interval,
// per-container resource shape, and the preferred-host retry delay.
type Allocator struct {
	SleepInterval           Duration `json:"SleepInterval"`
	ContainerMemoryMB       int64    `json:"ContainerMemoryMB"`
	ContainerCPUCores       float64  `json:"ContainerCPUCores"`
	PreferredHostRetryDelay Duration `json:"PreferredHostRetryDelay"`
	FailoverRetention       Duration `json:"FailoverRetention"`
}

// CommandBuilder selects and configures the registered command builder.
type CommandBuilder struct {
	Name   string            `json:"Name"`
	Config map[string]string `json:"Config"`
}

// Admin configures the management/metrics HTTP surface.
type Admin struct {
	Listen          string `json:"Listen"`
	ManagementToken string `json:"ManagementToken"`
}

// Log configures the ambient logger.
type Log struct {
	Level  string `json:"Level"`
	Format string `json:"Format"`
}

// Duration unmarshals from a YAML/JSON string like "500ms" or "30s",
// rather than requiring a raw integer nanosecond count.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler (ghodss/yaml round-trips
// through JSON).
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return yaml.Marshal(time.Duration(d).String())
}

// Default returns the configuration defaults applied before the user's
// YAML overlay, the way lib/config.Load applies DefaultYAML first.
func Default() Config {
	return Config{
		Allocator: Allocator{
			SleepInterval:           Duration(100 * time.Millisecond),
			ContainerMemoryMB:       1024,
			ContainerCPUCores:       1,
			PreferredHostRetryDelay: Duration(2 * time.Minute),
			FailoverRetention:       Duration(24 * time.Hour),
		},
		CommandBuilder: CommandBuilder{
			Name: "default",
		},
		Admin: Admin{
			Listen: ":9090",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads YAML from rdr, overlaying it onto Default().
func Load(rdr io.Reader) (*Config, error) {
	buf, err := ioutil.ReadAll(rdr)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
