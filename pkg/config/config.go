// Package config provides configuration management for the resource
// manager daemon. Supports TOML configuration files with environment
// variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Helper function to validate directory exists or can be created.
func validateDirectoryWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("cannot create directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}

	testFile := filepath.Join(dir, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("cannot write to directory: %w", err)
	}
	f.Close()
	os.Remove(testFile)

	return nil
}

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingValue  = errors.New("missing required configuration value")
)

// Config holds all resource manager configuration.
type Config struct {
	// Server configuration: the client-facing RPC listener.
	Server ServerConfig `toml:"server"`

	// Cluster configuration: the rm_* tunables from the external
	// interface section of the spec.
	Cluster ClusterConfig `toml:"cluster"`

	// Catalog configuration: the Postgres connection used for
	// persistQueue{Insert,Update,Delete} and segment_configuration rows.
	Catalog CatalogConfig `toml:"catalog"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig holds the client RPC listener configuration.
type ServerConfig struct {
	// SocketPath is the path to the Unix domain socket dispatchers connect to.
	SocketPath string `toml:"socket_path" env:"RESMGR_SOCKET"`

	// PidFile is the path to the PID file for daemon mode.
	PidFile string `toml:"pid_file" env:"RESMGR_PID_FILE"`

	// Daemonize runs the server as a background daemon.
	Daemonize bool `toml:"daemonize" env:"RESMGR_DAEMONIZE"`

	// MaxConnections bounds concurrently open dispatcher connections.
	MaxConnections int `toml:"max_connections" env:"RESMGR_MAX_CONNECTIONS"`

	// RequestsPerSecond rate-limits inbound requests per connection.
	RequestsPerSecond float64 `toml:"requests_per_second" env:"RESMGR_REQUESTS_PER_SECOND"`

	// MetricsAddr is the listen address for the Prometheus /metrics endpoint.
	// Empty disables the metrics server.
	MetricsAddr string `toml:"metrics_addr" env:"RESMGR_METRICS_ADDR"`
}

// BrokerMode selects the resource broker implementation (spec §9: the
// ImpType NONE/YARN_LIBYARN branch).
type BrokerMode string

const (
	// BrokerModeNone is the self-contained mode: capacity equals FTS
	// heartbeat totals and containers are never returned to a provider.
	BrokerModeNone BrokerMode = "NONE"

	// BrokerModeYarnLibYarn is the external-provider mode: capacity
	// equals provider totals and containers flow through the four-stage
	// acceptance pipeline.
	BrokerModeYarnLibYarn BrokerMode = "YARN_LIBYARN"
)

// ClusterConfig holds the process-wide rm_* tunables (spec §6).
type ClusterConfig struct {
	// MaxResourceQueueNumber bounds the number of resource queues the
	// catalog may hold (rm_max_resource_queue_number).
	MaxResourceQueueNumber int `toml:"rm_max_resource_queue_number" env:"RESMGR_MAX_RESOURCE_QUEUE_NUMBER"`

	// ResourceNoActionTimeoutSec idles out a connection that has not
	// progressed state in this many seconds (rm_resource_noaction_timeout).
	ResourceNoActionTimeoutSec int `toml:"rm_resource_noaction_timeout" env:"RESMGR_RESOURCE_NOACTION_TIMEOUT"`

	// QueryResourceNoResourceTimeoutSec cancels a head-of-queue request
	// that cannot be dispatched within this many seconds
	// (rm_query_resource_noresource_timeout).
	QueryResourceNoResourceTimeoutSec int `toml:"rm_query_resource_noresource_timeout" env:"RESMGR_QUERY_RESOURCE_NORESOURCE_TIMEOUT"`

	// ResourceTimeoutSec is the water-mark retention window
	// (rm_resource_timeout).
	ResourceTimeoutSec int `toml:"rm_resource_timeout" env:"RESMGR_RESOURCE_TIMEOUT"`

	// ForceFIFOQueue requeues a failed dispatch at the head of its
	// queue's FIFO instead of the tail (rm_force_fifo_queue).
	ForceFIFOQueue bool `toml:"rm_force_fifo_queue" env:"RESMGR_FORCE_FIFO_QUEUE"`

	// SliceNumPerSegLimit caps concurrent query slices scheduled onto a
	// single segment (rm_slice_num_per_seg_limit).
	SliceNumPerSegLimit int `toml:"rm_slice_num_per_seg_limit" env:"RESMGR_SLICE_NUM_PER_SEG_LIMIT"`

	// GRMBreathReturnPercentage bounds how much of the idle surplus is
	// returned to the provider per breathing pass
	// (rm_grm_breath_return_percentage).
	GRMBreathReturnPercentage int `toml:"rm_grm_breath_return_percentage" env:"RESMGR_GRM_BREATH_RETURN_PERCENTAGE"`

	// SegContainerDefaultWaterLevel is the default idle reserve of
	// containers kept per segment (rm_seg_container_default_waterlevel).
	SegContainerDefaultWaterLevel int `toml:"rm_seg_container_default_waterlevel" env:"RESMGR_SEG_CONTAINER_DEFAULT_WATERLEVEL"`

	// AllocationPolicy is the cluster-wide default dispatch policy,
	// "even" or "fifo" (rm_allocation_policy); individual queues may
	// override it via DDL.
	AllocationPolicy string `toml:"rm_allocation_policy" env:"RESMGR_ALLOCATION_POLICY"`

	// BrokerMode selects NONE (self-contained) or YARN_LIBYARN (external
	// provider present).
	BrokerMode BrokerMode `toml:"broker_mode" env:"RESMGR_BROKER_MODE"`

	// SegResourceQuotaMB is the cluster-wide memory a single virtual
	// segment consumes (rm_seg_resource_quota_mb). HAWQ fixes the shape
	// of a vseg cluster-wide rather than letting a client request it, so
	// every new connection's segment is sized from this, and percentage
	// capacity refresh divides queue memory by it to derive
	// ClusterSegNumber(Max).
	SegResourceQuotaMB int `toml:"rm_seg_resource_quota_mb" env:"RESMGR_SEG_RESOURCE_QUOTA_MB"`
}

// CatalogConfig holds the Postgres connection used for DDL persistence.
type CatalogConfig struct {
	// DSN is a standard libpq connection string, e.g.
	// "host=localhost port=5432 user=gpadmin dbname=postgres sslmode=disable".
	DSN string `toml:"dsn" env:"RESMGR_CATALOG_DSN"`

	// MaxOpenConns bounds the catalog connection pool.
	MaxOpenConns int `toml:"max_open_conns" env:"RESMGR_CATALOG_MAX_OPEN_CONNS"`

	// StatementTimeoutMs aborts a catalog statement that runs longer
	// than this, matching the spec's "begin/commit transaction
	// bracketing each DDL operation".
	StatementTimeoutMs int `toml:"statement_timeout_ms" env:"RESMGR_CATALOG_STATEMENT_TIMEOUT_MS"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `toml:"level" env:"RESMGR_LOG_LEVEL"`

	// Format is the log format (json, text).
	Format string `toml:"format" env:"RESMGR_LOG_FORMAT"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `toml:"output" env:"RESMGR_LOG_OUTPUT"`

	// File is the log file path when output is "file".
	File string `toml:"file" env:"RESMGR_LOG_FILE"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			SocketPath:        "/run/resmgr/resmgr.sock",
			PidFile:           "/run/resmgr/resmgr.pid",
			Daemonize:         false,
			MaxConnections:    512,
			RequestsPerSecond: 200,
			MetricsAddr:       "127.0.0.1:9100",
		},
		Cluster: ClusterConfig{
			MaxResourceQueueNumber:            128,
			ResourceNoActionTimeoutSec:         600,
			QueryResourceNoResourceTimeoutSec:  600,
			ResourceTimeoutSec:                 60,
			ForceFIFOQueue:                     false,
			SliceNumPerSegLimit:                4,
			GRMBreathReturnPercentage:          50,
			SegContainerDefaultWaterLevel:      0,
			AllocationPolicy:                   "even",
			BrokerMode:                         BrokerModeNone,
			SegResourceQuotaMB:                 1024,
		},
		Catalog: CatalogConfig{
			DSN:                "host=localhost port=5432 user=gpadmin dbname=postgres sslmode=disable",
			MaxOpenConns:       4,
			StatementTimeoutMs: 5000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
			File:   "",
		},
	}
}

// ConfigPaths returns the list of default configuration file paths to check.
func ConfigPaths() []string {
	homeDir, _ := os.UserHomeDir()
	return []string{
		filepath.Join(homeDir, ".resmgr", "config.toml"),
		filepath.Join("/etc", "resmgr", "config.toml"),
		"./config.toml",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.SocketPath == "" {
		return fmt.Errorf("%w: server.socket_path is required", ErrInvalidConfig)
	}

	socketDir := filepath.Dir(c.Server.SocketPath)
	if err := validateDirectoryWritable(socketDir); err != nil {
		return fmt.Errorf("%w: socket directory %s: %w", ErrInvalidConfig, socketDir, err)
	}

	if c.Server.MaxConnections <= 0 {
		return fmt.Errorf("%w: server.max_connections must be positive", ErrInvalidConfig)
	}

	if c.Server.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: server.requests_per_second must be positive", ErrInvalidConfig)
	}

	if c.Cluster.MaxResourceQueueNumber <= 0 {
		return fmt.Errorf("%w: cluster.rm_max_resource_queue_number must be positive", ErrInvalidConfig)
	}

	if c.Cluster.ResourceNoActionTimeoutSec <= 0 {
		return fmt.Errorf("%w: cluster.rm_resource_noaction_timeout must be positive", ErrInvalidConfig)
	}

	if c.Cluster.QueryResourceNoResourceTimeoutSec <= 0 {
		return fmt.Errorf("%w: cluster.rm_query_resource_noresource_timeout must be positive", ErrInvalidConfig)
	}

	if c.Cluster.ResourceTimeoutSec <= 0 {
		return fmt.Errorf("%w: cluster.rm_resource_timeout must be positive", ErrInvalidConfig)
	}

	if c.Cluster.SliceNumPerSegLimit <= 0 {
		return fmt.Errorf("%w: cluster.rm_slice_num_per_seg_limit must be positive", ErrInvalidConfig)
	}

	if c.Cluster.GRMBreathReturnPercentage < 0 || c.Cluster.GRMBreathReturnPercentage > 100 {
		return fmt.Errorf("%w: cluster.rm_grm_breath_return_percentage must be between 0 and 100", ErrInvalidConfig)
	}

	if c.Cluster.SegContainerDefaultWaterLevel < 0 {
		return fmt.Errorf("%w: cluster.rm_seg_container_default_waterlevel cannot be negative", ErrInvalidConfig)
	}

	if c.Cluster.SegResourceQuotaMB <= 0 {
		return fmt.Errorf("%w: cluster.rm_seg_resource_quota_mb must be positive", ErrInvalidConfig)
	}

	switch c.Cluster.AllocationPolicy {
	case "even", "fifo":
	default:
		return fmt.Errorf("%w: cluster.rm_allocation_policy must be one of: even, fifo", ErrInvalidConfig)
	}

	switch c.Cluster.BrokerMode {
	case BrokerModeNone, BrokerModeYarnLibYarn:
	default:
		return fmt.Errorf("%w: cluster.broker_mode must be one of: NONE, YARN_LIBYARN", ErrInvalidConfig)
	}

	if c.Catalog.DSN == "" {
		return fmt.Errorf("%w: catalog.dsn is required", ErrInvalidConfig)
	}

	if c.Catalog.MaxOpenConns <= 0 {
		return fmt.Errorf("%w: catalog.max_open_conns must be positive", ErrInvalidConfig)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("%w: logging.level must be one of: debug, info, warn, error", ErrInvalidConfig)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("%w: logging.format must be one of: json, text", ErrInvalidConfig)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("%w: logging.output must be one of: stdout, stderr, file", ErrInvalidConfig)
	}

	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("%w: logging.file is required when logging.output is 'file'", ErrInvalidConfig)
	}

	return nil
}
