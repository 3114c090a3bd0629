package config

import (
	"time"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/observability"
)

// ValueSource describes where a configuration value originated from.
type ValueSource string

const (
	SourceDefault  ValueSource = "default"
	SourceFile     ValueSource = "file"
	SourceEnv      ValueSource = "environment"
	SourceOverride ValueSource = "override"
)

// Queue backends.
const (
	QueueBackendSQLite = "sqlite"
	QueueBackendFile   = "file"
)

const (
	// DefaultMaxPayloadBytes is the hard ceiling for a single captured image.
	DefaultMaxPayloadBytes = 10 << 20
	// DefaultRetentionDays ages out local media after three months.
	DefaultRetentionDays = 90
	// DefaultRetryCeiling bounds delivery attempts per submission.
	DefaultRetryCeiling = 3
	// DefaultMaxResponseBytes bounds remote response bodies.
	DefaultMaxResponseBytes = 1 << 20

	DefaultAPIBaseURL           = "https://api.ironstag.app"
	DefaultAnalyzePath          = "/api/analyze"
	DefaultSweepSchedule        = "0 3 * * *"
	DefaultServerHost           = "127.0.0.1"
	DefaultServerPort           = 8787
	DefaultProbeIntervalSeconds = 15
	DefaultProbeTimeoutSeconds  = 2
	DefaultRemoteTimeoutSeconds = 30
)

// StorageConfig configures the local media store.
type StorageConfig struct {
	// MediaRoot holds asset files; the ledger and policy files live beside
	// it so the startup sweep can treat everything under MediaRoot as data.
	MediaRoot       string `yaml:"media_root"`
	LedgerPath      string `yaml:"ledger_path"`
	PolicyPath      string `yaml:"policy_path"`
	MaxPayloadBytes int64  `yaml:"max_payload_bytes"`
	CacheEntries    int    `yaml:"cache_entries"`
}

// QueueConfig configures the submission queue.
type QueueConfig struct {
	Backend        string  `yaml:"backend"` // sqlite, file
	Path           string  `yaml:"path"`
	RetryCeiling   int     `yaml:"retry_ceiling"`
	ItemsPerSecond float64 `yaml:"items_per_second"`
}

// RemoteConfig configures the analysis service client.
type RemoteConfig struct {
	BaseURL          string `yaml:"base_url"`
	AnalyzePath      string `yaml:"analyze_path"`
	Token            string `yaml:"token"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	MaxResponseBytes int64  `yaml:"max_response_bytes"`
}

// Timeout returns the remote call timeout as a duration.
func (c RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConnectivityConfig configures the reachability monitor.
type ConnectivityConfig struct {
	ProbeURL             string `yaml:"probe_url"`
	ProbeIntervalSeconds int    `yaml:"probe_interval_seconds"`
	ProbeTimeoutSeconds  int    `yaml:"probe_timeout_seconds"`
}

// ProbeInterval returns the polling interval as a duration.
func (c ConnectivityConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the per-probe timeout as a duration.
func (c ConnectivityConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// RetentionConfig configures the scheduled cleanup sweep.
type RetentionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MaxAgeDays    int    `yaml:"max_age_days"`
	SweepSchedule string `yaml:"sweep_schedule"`
}

// ServerConfig configures the device-local control API.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Config captures all agent settings.
type Config struct {
	DataDir       string               `yaml:"data_dir"`
	Storage       StorageConfig        `yaml:"storage"`
	Queue         QueueConfig          `yaml:"queue"`
	Remote        RemoteConfig         `yaml:"remote"`
	Connectivity  ConnectivityConfig   `yaml:"connectivity"`
	Retention     RetentionConfig      `yaml:"retention"`
	Server        ServerConfig         `yaml:"server"`
	Observability observability.Config `yaml:"observability"`
}

// Metadata records where each effective value came from.
type Metadata struct {
	sources  map[string]ValueSource
	loadedAt time.Time
}

// Source reports the provenance of a field, defaulting to SourceDefault.
func (m Metadata) Source(field string) ValueSource {
	if src, ok := m.sources[field]; ok {
		return src
	}
	return SourceDefault
}

// LoadedAt reports when the configuration was resolved.
func (m Metadata) LoadedAt() time.Time {
	return m.loadedAt
}
