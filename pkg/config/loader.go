// Package config provides configuration loading and management for the
// resource manager daemon.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load loads configuration from a file path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		for _, p := range ConfigPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		log.Printf("Warning: No configuration file found in default locations")
		log.Printf("Default locations checked:")
		for _, p := range ConfigPaths() {
			log.Printf("  - %s", p)
		}
		log.Printf("Using default configuration")
		log.Printf("Create a config with: resmgrctl init")
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDie loads configuration or exits on error.
func LoadOrDie(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) error {
	// Server overrides
	if v := os.Getenv("RESMGR_SOCKET"); v != "" {
		cfg.Server.SocketPath = v
	}
	if v := os.Getenv("RESMGR_PID_FILE"); v != "" {
		cfg.Server.PidFile = v
	}
	if v := os.Getenv("RESMGR_DAEMONIZE"); v != "" {
		cfg.Server.Daemonize = v == "true" || v == "1"
	}
	if v := os.Getenv("RESMGR_MAX_CONNECTIONS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Server.MaxConnections = n
		}
	}
	if v := os.Getenv("RESMGR_REQUESTS_PER_SECOND"); v != "" {
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil {
			cfg.Server.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("RESMGR_METRICS_ADDR"); v != "" {
		cfg.Server.MetricsAddr = v
	}

	// Cluster tunable overrides
	if v := os.Getenv("RESMGR_MAX_RESOURCE_QUEUE_NUMBER"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Cluster.MaxResourceQueueNumber = n
		}
	}
	if v := os.Getenv("RESMGR_RESOURCE_NOACTION_TIMEOUT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Cluster.ResourceNoActionTimeoutSec = n
		}
	}
	if v := os.Getenv("RESMGR_QUERY_RESOURCE_NORESOURCE_TIMEOUT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Cluster.QueryResourceNoResourceTimeoutSec = n
		}
	}
	if v := os.Getenv("RESMGR_RESOURCE_TIMEOUT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Cluster.ResourceTimeoutSec = n
		}
	}
	if v := os.Getenv("RESMGR_FORCE_FIFO_QUEUE"); v != "" {
		cfg.Cluster.ForceFIFOQueue = v == "true" || v == "1"
	}
	if v := os.Getenv("RESMGR_SLICE_NUM_PER_SEG_LIMIT"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Cluster.SliceNumPerSegLimit = n
		}
	}
	if v := os.Getenv("RESMGR_GRM_BREATH_RETURN_PERCENTAGE"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Cluster.GRMBreathReturnPercentage = n
		}
	}
	if v := os.Getenv("RESMGR_SEG_CONTAINER_DEFAULT_WATERLEVEL"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Cluster.SegContainerDefaultWaterLevel = n
		}
	}
	if v := os.Getenv("RESMGR_ALLOCATION_POLICY"); v != "" {
		cfg.Cluster.AllocationPolicy = v
	}
	if v := os.Getenv("RESMGR_BROKER_MODE"); v != "" {
		cfg.Cluster.BrokerMode = BrokerMode(v)
	}
	if v := os.Getenv("RESMGR_SEG_RESOURCE_QUOTA_MB"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Cluster.SegResourceQuotaMB = n
		}
	}

	// Catalog overrides
	if v := os.Getenv("RESMGR_CATALOG_DSN"); v != "" {
		cfg.Catalog.DSN = v
	}
	if v := os.Getenv("RESMGR_CATALOG_MAX_OPEN_CONNS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Catalog.MaxOpenConns = n
		}
	}
	if v := os.Getenv("RESMGR_CATALOG_STATEMENT_TIMEOUT_MS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			cfg.Catalog.StatementTimeoutMs = n
		}
	}

	// Logging overrides
	if v := os.Getenv("RESMGR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RESMGR_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RESMGR_LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("RESMGR_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}

	return nil
}

// Save saves the configuration to a file.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid configuration: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Normalize paths for TOML compatibility (forward slashes, no
	// backslashes) so \U is never interpreted as a Unicode escape.
	cfgCopy := *cfg
	cfgCopy.Server.SocketPath = filepath.ToSlash(cfg.Server.SocketPath)
	if cfgCopy.Server.PidFile != "" {
		cfgCopy.Server.PidFile = filepath.ToSlash(cfgCopy.Server.PidFile)
	}
	if cfgCopy.Logging.File != "" {
		cfgCopy.Logging.File = filepath.ToSlash(cfgCopy.Logging.File)
	}

	data, err := toml.Marshal(&cfgCopy)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GenerateExampleConfig generates an example configuration file.
func GenerateExampleConfig(path string) error {
	cfg := DefaultConfig()
	cfg.Cluster.BrokerMode = BrokerModeYarnLibYarn
	cfg.Catalog.DSN = "host=localhost port=5432 user=gpadmin dbname=postgres sslmode=disable"
	cfg.Logging.Level = "info"

	return Save(cfg, path)
}
