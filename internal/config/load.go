package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Asgard-Solutions/ironstag-sub000/internal/observability"
)

const envPrefix = "IRONSTAG_"

// EnvLookup resolves an environment variable, mirroring os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	configPath string
	overrides  []func(*Config)
}

// Option customizes Load, mostly so tests can inject lookups.
type Option func(*loadOptions)

// WithEnv replaces the environment lookup.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) { o.envLookup = lookup }
}

// WithFileReader replaces the config file reader.
func WithFileReader(read func(string) ([]byte, error)) Option {
	return func(o *loadOptions) { o.readFile = read }
}

// WithHomeDir replaces home directory resolution.
func WithHomeDir(fn func() (string, error)) Option {
	return func(o *loadOptions) { o.homeDir = fn }
}

// WithConfigPath pins the config file location (flag override).
func WithConfigPath(path string) Option {
	return func(o *loadOptions) { o.configPath = path }
}

// WithOverride applies a caller mutation after file and env layers.
func WithOverride(fn func(*Config)) Option {
	return func(o *loadOptions) {
		if fn != nil {
			o.overrides = append(o.overrides, fn)
		}
	}
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: "~/.ironstag",
		Storage: StorageConfig{
			MaxPayloadBytes: DefaultMaxPayloadBytes,
			CacheEntries:    32,
		},
		Queue: QueueConfig{
			Backend:        QueueBackendSQLite,
			RetryCeiling:   DefaultRetryCeiling,
			ItemsPerSecond: 2,
		},
		Remote: RemoteConfig{
			BaseURL:          DefaultAPIBaseURL,
			AnalyzePath:      DefaultAnalyzePath,
			TimeoutSeconds:   DefaultRemoteTimeoutSeconds,
			MaxResponseBytes: DefaultMaxResponseBytes,
		},
		Connectivity: ConnectivityConfig{
			ProbeIntervalSeconds: DefaultProbeIntervalSeconds,
			ProbeTimeoutSeconds:  DefaultProbeTimeoutSeconds,
		},
		Retention: RetentionConfig{
			Enabled:       true,
			MaxAgeDays:    DefaultRetentionDays,
			SweepSchedule: DefaultSweepSchedule,
		},
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
		},
		Observability: observability.DefaultConfig(),
	}
}

// Load resolves configuration with precedence defaults < file < env < overrides.
func Load(opts ...Option) (Config, Metadata, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	meta := Metadata{sources: map[string]ValueSource{}, loadedAt: time.Now()}
	cfg := Default()

	if err := applyFile(&cfg, &meta, options); err != nil {
		return Config{}, Metadata{}, err
	}

	applyEnv(&cfg, &meta, options.envLookup)

	for _, override := range options.overrides {
		override(&cfg)
	}
	if len(options.overrides) > 0 {
		meta.sources["overrides"] = SourceOverride
	}

	if err := normalize(&cfg, options); err != nil {
		return Config{}, Metadata{}, err
	}

	return cfg, meta, nil
}

func applyFile(cfg *Config, meta *Metadata, options loadOptions) error {
	path := options.configPath
	if path == "" {
		if envPath, ok := options.envLookup(envPrefix + "CONFIG"); ok && envPath != "" {
			path = envPath
		}
	}
	if path == "" {
		home, err := options.homeDir()
		if err != nil {
			// No home, no default config file. Defaults still apply.
			return nil
		}
		path = filepath.Join(home, ".ironstag", "config.yaml")
	}

	data, err := options.readFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	// Unmarshal straight over the defaults: absent keys keep their default,
	// and explicit false/zero values from the file win.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	// Record provenance per top-level section.
	var sections map[string]any
	if err := yaml.Unmarshal(data, &sections); err == nil {
		for section := range sections {
			meta.sources[section] = SourceFile
		}
	}

	return nil
}

func applyEnv(cfg *Config, meta *Metadata, lookup EnvLookup) {
	setString := func(key, field string, dst *string) {
		if value, ok := lookup(envPrefix + key); ok && value != "" {
			*dst = value
			meta.sources[field] = SourceEnv
		}
	}
	setInt := func(key, field string, dst *int) {
		if value, ok := lookup(envPrefix + key); ok && value != "" {
			if parsed, err := strconv.Atoi(value); err == nil {
				*dst = parsed
				meta.sources[field] = SourceEnv
			}
		}
	}
	setBool := func(key, field string, dst *bool) {
		if value, ok := lookup(envPrefix + key); ok && value != "" {
			if parsed, err := strconv.ParseBool(value); err == nil {
				*dst = parsed
				meta.sources[field] = SourceEnv
			}
		}
	}

	setString("DATA_DIR", "data_dir", &cfg.DataDir)
	setString("MEDIA_ROOT", "storage.media_root", &cfg.Storage.MediaRoot)
	setString("QUEUE_BACKEND", "queue.backend", &cfg.Queue.Backend)
	setString("QUEUE_PATH", "queue.path", &cfg.Queue.Path)
	setInt("RETRY_CEILING", "queue.retry_ceiling", &cfg.Queue.RetryCeiling)
	setString("API_BASE_URL", "remote.base_url", &cfg.Remote.BaseURL)
	setString("API_TOKEN", "remote.token", &cfg.Remote.Token)
	setString("PROBE_URL", "connectivity.probe_url", &cfg.Connectivity.ProbeURL)
	setString("SERVER_HOST", "server.host", &cfg.Server.Host)
	setInt("SERVER_PORT", "server.port", &cfg.Server.Port)
	setInt("RETENTION_DAYS", "retention.max_age_days", &cfg.Retention.MaxAgeDays)
	setString("SWEEP_SCHEDULE", "retention.sweep_schedule", &cfg.Retention.SweepSchedule)
	setString("LOG_LEVEL", "observability.logging.level", &cfg.Observability.Logging.Level)
	setString("LOG_FORMAT", "observability.logging.format", &cfg.Observability.Logging.Format)
	setBool("METRICS_ENABLED", "observability.metrics.enabled", &cfg.Observability.Metrics.Enabled)
	setInt("METRICS_PORT", "observability.metrics.prometheus_port", &cfg.Observability.Metrics.PrometheusPort)
	setBool("TRACING_ENABLED", "observability.tracing.enabled", &cfg.Observability.Tracing.Enabled)
}

func normalize(cfg *Config, options loadOptions) error {
	home := ""
	if options.homeDir != nil {
		if dir, err := options.homeDir(); err == nil {
			home = dir
		}
	}

	cfg.DataDir = expandPath(cfg.DataDir, home)

	if cfg.Storage.MediaRoot == "" {
		cfg.Storage.MediaRoot = filepath.Join(cfg.DataDir, "media")
	}
	cfg.Storage.MediaRoot = expandPath(cfg.Storage.MediaRoot, home)

	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = filepath.Join(cfg.DataDir, "ledger.json")
	}
	cfg.Storage.LedgerPath = expandPath(cfg.Storage.LedgerPath, home)

	if cfg.Storage.PolicyPath == "" {
		cfg.Storage.PolicyPath = filepath.Join(cfg.DataDir, "retention.json")
	}
	cfg.Storage.PolicyPath = expandPath(cfg.Storage.PolicyPath, home)

	if cfg.Storage.MaxPayloadBytes <= 0 {
		cfg.Storage.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if cfg.Storage.CacheEntries <= 0 {
		cfg.Storage.CacheEntries = 32
	}

	switch cfg.Queue.Backend {
	case QueueBackendSQLite:
		if cfg.Queue.Path == "" {
			cfg.Queue.Path = filepath.Join(cfg.DataDir, "queue.db")
		}
	case QueueBackendFile:
		if cfg.Queue.Path == "" {
			cfg.Queue.Path = filepath.Join(cfg.DataDir, "queue.json")
		}
	default:
		return fmt.Errorf("unknown queue backend %q (want sqlite or file)", cfg.Queue.Backend)
	}
	cfg.Queue.Path = expandPath(cfg.Queue.Path, home)

	if cfg.Queue.RetryCeiling <= 0 {
		cfg.Queue.RetryCeiling = DefaultRetryCeiling
	}
	if cfg.Queue.ItemsPerSecond <= 0 {
		cfg.Queue.ItemsPerSecond = 2
	}

	cfg.Remote.BaseURL = strings.TrimRight(cfg.Remote.BaseURL, "/")
	if cfg.Remote.AnalyzePath == "" {
		cfg.Remote.AnalyzePath = DefaultAnalyzePath
	}
	if !strings.HasPrefix(cfg.Remote.AnalyzePath, "/") {
		cfg.Remote.AnalyzePath = "/" + cfg.Remote.AnalyzePath
	}
	if cfg.Remote.TimeoutSeconds <= 0 {
		cfg.Remote.TimeoutSeconds = DefaultRemoteTimeoutSeconds
	}
	if cfg.Remote.MaxResponseBytes <= 0 {
		cfg.Remote.MaxResponseBytes = DefaultMaxResponseBytes
	}

	if cfg.Connectivity.ProbeURL == "" {
		cfg.Connectivity.ProbeURL = cfg.Remote.BaseURL + "/health"
	}
	if cfg.Connectivity.ProbeIntervalSeconds <= 0 {
		cfg.Connectivity.ProbeIntervalSeconds = DefaultProbeIntervalSeconds
	}
	if cfg.Connectivity.ProbeTimeoutSeconds <= 0 {
		cfg.Connectivity.ProbeTimeoutSeconds = DefaultProbeTimeoutSeconds
	}

	if cfg.Retention.MaxAgeDays <= 0 {
		cfg.Retention.MaxAgeDays = DefaultRetentionDays
	}
	if cfg.Retention.SweepSchedule == "" {
		cfg.Retention.SweepSchedule = DefaultSweepSchedule
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultServerPort
	}

	return nil
}

func expandPath(path, home string) string {
	if path == "" || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
