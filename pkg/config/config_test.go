// Package config provides configuration tests for the resource manager.
package config

import (
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Server.SocketPath == "" {
		t.Error("SocketPath should not be empty")
	}
	if cfg.Server.Daemonize {
		t.Error("Daemonize should default to false")
	}
	if cfg.Server.MaxConnections <= 0 {
		t.Error("MaxConnections should default to a positive value")
	}

	if cfg.Cluster.AllocationPolicy != "even" {
		t.Errorf("AllocationPolicy should default to 'even', got %s", cfg.Cluster.AllocationPolicy)
	}
	if cfg.Cluster.BrokerMode != BrokerModeNone {
		t.Errorf("BrokerMode should default to NONE, got %s", cfg.Cluster.BrokerMode)
	}
	if cfg.Cluster.MaxResourceQueueNumber <= 0 {
		t.Error("MaxResourceQueueNumber should default to a positive value")
	}
	if cfg.Cluster.SliceNumPerSegLimit <= 0 {
		t.Error("SliceNumPerSegLimit should default to a positive value")
	}

	if cfg.Catalog.DSN == "" {
		t.Error("Catalog DSN should not be empty")
	}
	if cfg.Catalog.MaxOpenConns <= 0 {
		t.Error("Catalog MaxOpenConns should default to a positive value")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig validation failed: %v", err)
	}

	cfg.Server.SocketPath = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for empty SocketPath")
	}

	cfg = DefaultConfig()
	cfg.Logging.Level = "invalid"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid log level")
	}

	cfg = DefaultConfig()
	cfg.Cluster.AllocationPolicy = "round-robin"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid allocation policy")
	}

	cfg = DefaultConfig()
	cfg.Cluster.BrokerMode = "WEIRD_MODE"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid broker mode")
	}

	cfg = DefaultConfig()
	cfg.Cluster.GRMBreathReturnPercentage = 150
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for out-of-range breath return percentage")
	}

	cfg = DefaultConfig()
	cfg.Catalog.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for empty catalog DSN")
	}
}

func TestConfigPaths(t *testing.T) {
	paths := ConfigPaths()
	if len(paths) == 0 {
		t.Error("ConfigPaths should return at least one path")
	}
}
