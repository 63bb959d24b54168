// Copyright (C) The Streamworkers Authors. All rights reserved.

package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	yamlDoc := `
Allocator:
  SleepInterval: 250ms
  ContainerMemoryMB: 2048
CommandBuilder:
  Name: custom
  Config:
    image: streamworkers/processor:latest
`
	cfg, err := Load(strings.NewReader(yamlDoc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if time.Duration(cfg.Allocator.SleepInterval) != 250*time.Millisecond {
		t.Errorf("expected overridden SleepInterval, got %v", cfg.Allocator.SleepInterval)
	}
	if cfg.Allocator.ContainerMemoryMB != 2048 {
		t.Errorf("expected overridden ContainerMemoryMB, got %d", cfg.Allocator.ContainerMemoryMB)
	}
	// Untouched default should survive the overlay.
	if time.Duration(cfg.Allocator.PreferredHostRetryDelay) != 2*time.Minute {
		t.Errorf("expected default PreferredHostRetryDelay to survive, got %v", cfg.Allocator.PreferredHostRetryDelay)
	}
	if cfg.CommandBuilder.Name != "custom" {
		t.Errorf("expected overridden CommandBuilder.Name, got %q", cfg.CommandBuilder.Name)
	}
	if cfg.CommandBuilder.Config["image"] != "streamworkers/processor:latest" {
		t.Errorf("expected CommandBuilder.Config to be loaded, got %+v", cfg.CommandBuilder.Config)
	}
}

func TestLoadEmptyDocumentKeepsDefaults(t *testing.T) {
	cfg, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Admin.Listen != def.Admin.Listen {
		t.Errorf("expected default Admin.Listen, got %q", cfg.Admin.Listen)
	}
}
