package mediastore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/trace"

	stagerrors "github.com/Asgard-Solutions/ironstag-sub000/internal/errors"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/logging"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/observability"
)

const (
	// DefaultMaxPayloadBytes is the hard ceiling for a single image (10 MiB).
	DefaultMaxPayloadBytes = 10 << 20
	// DefaultMaxAgeDays ages out local media after three months.
	DefaultMaxAgeDays = 90

	defaultCacheEntries = 32
)

// Config configures the media store paths and limits.
type Config struct {
	// MediaRoot holds the asset files. The store owns everything under it;
	// the startup sweep removes files it does not recognize.
	MediaRoot string
	// LedgerPath is the JSON ledger file. Must not live inside MediaRoot.
	LedgerPath string
	// PolicyPath is the retention policy file. Must not live inside MediaRoot.
	PolicyPath string
	// MaxPayloadBytes caps a single save. Zero means DefaultMaxPayloadBytes.
	MaxPayloadBytes int64
	// CacheEntries sizes the in-memory read cache. Zero means the default,
	// negative disables caching.
	CacheEntries int
	// DefaultMaxAgeDays seeds the retention policy when no policy file
	// exists yet. Zero means DefaultMaxAgeDays.
	DefaultMaxAgeDays int
}

// Store is the local media store: asset bytes on the filesystem plus a JSON
// ledger describing them. The ledger is the sole source of truth for which
// assets exist; all mutations serialize on a single writer lock.
type Store struct {
	cfg     Config
	logger  logging.Logger
	metrics *observability.MetricsCollector
	health  *observability.StoreMetrics
	tracer  *observability.TracerProvider

	mu     sync.RWMutex
	ledger map[string]Asset
	policy Policy

	cache *lru.Cache[string, []byte]
	now   func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the component logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Store) { s.logger = logging.OrNop(logger) }
}

// WithMetrics attaches the agent metrics collector.
func WithMetrics(metrics *observability.MetricsCollector) Option {
	return func(s *Store) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithStoreMetrics attaches the store health recorder.
func WithStoreMetrics(health *observability.StoreMetrics) Option {
	return func(s *Store) { s.health = health }
}

// WithTracer attaches a tracer; saves and cleanup sweeps then run
// inside spans.
func WithTracer(tracer *observability.TracerProvider) Option {
	return func(s *Store) { s.tracer = tracer }
}

// WithClock overrides the time source. Tests use it to age assets.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New opens the store: ensures the media root exists, loads the ledger and
// retention policy, and reconciles disk against ledger (startup sweep).
// Safe to call repeatedly on the same paths; initialization is idempotent.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.MediaRoot == "" {
		return nil, fmt.Errorf("mediastore: media root is required")
	}
	if cfg.LedgerPath == "" {
		return nil, fmt.Errorf("mediastore: ledger path is required")
	}
	if cfg.PolicyPath == "" {
		return nil, fmt.Errorf("mediastore: policy path is required")
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	if cfg.CacheEntries == 0 {
		cfg.CacheEntries = defaultCacheEntries
	}
	if cfg.DefaultMaxAgeDays <= 0 {
		cfg.DefaultMaxAgeDays = DefaultMaxAgeDays
	}

	s := &Store{
		cfg:     cfg,
		logger:  logging.Nop(),
		metrics: &observability.MetricsCollector{},
		ledger:  make(map[string]Asset),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(cfg.MediaRoot, 0o755); err != nil {
		return nil, stagerrors.NewStorageUnavailableError("initialize", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
		return nil, stagerrors.NewStorageUnavailableError("initialize", err)
	}

	if err := s.loadLedger(); err != nil {
		return nil, err
	}
	s.loadPolicy()
	s.sweepOrphans()

	if cfg.CacheEntries > 0 {
		cache, err := lru.New[string, []byte](cfg.CacheEntries)
		if err == nil {
			s.cache = cache
		}
	}

	s.logger.Info("Media store ready: %d assets under %s", len(s.ledger), cfg.MediaRoot)
	return s, nil
}

// Save streams image bytes to disk and records them in the ledger. Payloads
// over the configured ceiling are rejected before any ledger mutation and
// leave nothing behind. The size recorded is the byte count actually
// written, never a caller claim.
func (s *Store) Save(ctx context.Context, r io.Reader, origName string) (Asset, error) {
	if err := ctx.Err(); err != nil {
		return Asset{}, err
	}
	if r == nil {
		return Asset{}, fmt.Errorf("mediastore: reader is required")
	}

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.StartSpan(ctx, observability.SpanMediaSave)
		defer span.End()
	}

	limit := s.cfg.MaxPayloadBytes

	tmp, err := os.CreateTemp(s.cfg.MediaRoot, ".tmp-*")
	if err != nil {
		s.metrics.RecordSave(ctx, "error", 0)
		return Asset{}, stagerrors.NewStorageUnavailableError("save", err)
	}
	tmpPath := tmp.Name()
	discard := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	// Read at most limit+1 bytes so an oversized payload is detected without
	// buffering it whole.
	written, err := io.Copy(tmp, &io.LimitedReader{R: r, N: limit + 1})
	if err != nil {
		discard()
		s.metrics.RecordSave(ctx, "error", 0)
		return Asset{}, stagerrors.NewStorageUnavailableError("save", err)
	}
	if written > limit {
		discard()
		s.metrics.RecordSave(ctx, "rejected", 0)
		return Asset{}, stagerrors.NewPayloadTooLargeError(written, limit)
	}
	if err := tmp.Sync(); err != nil {
		discard()
		s.metrics.RecordSave(ctx, "error", 0)
		return Asset{}, stagerrors.NewStorageUnavailableError("save", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		s.metrics.RecordSave(ctx, "error", 0)
		return Asset{}, stagerrors.NewStorageUnavailableError("save", err)
	}

	asset := Asset{
		ID:        uuid.NewString(),
		CreatedAt: s.now().UTC(),
		SizeBytes: written,
		Extension: NormalizeExtension(origName),
	}
	asset.StorageKey = asset.ID + "." + asset.Extension

	finalPath := filepath.Join(s.cfg.MediaRoot, asset.StorageKey)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		s.metrics.RecordSave(ctx, "error", 0)
		return Asset{}, stagerrors.NewStorageUnavailableError("save", err)
	}

	s.mu.Lock()
	s.ledger[asset.ID] = asset
	if err := s.rewriteLedgerLocked(ctx); err != nil {
		// Roll the whole save back so a rejected save leaves no trace.
		delete(s.ledger, asset.ID)
		s.mu.Unlock()
		_ = os.Remove(finalPath)
		s.metrics.RecordSave(ctx, "error", 0)
		return Asset{}, err
	}
	s.mu.Unlock()

	if span != nil {
		span.SetAttributes(observability.AssetAttrs(asset.ID)...)
	}
	s.metrics.RecordSave(ctx, "ok", written)
	s.logger.Debug("Saved asset %s (%d bytes, %s)", asset.ID, written, asset.Extension)
	return asset, nil
}

// Get returns the asset bytes. A missing ledger entry and a ledger entry
// whose backing file has vanished both report not-found; the latter is a
// desync worth logging, not an internal error.
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	asset, ok := s.ledger[id]
	s.mu.RUnlock()
	if !ok {
		return nil, stagerrors.NewNotFoundError("asset", id)
	}

	if s.cache != nil {
		if data, hit := s.cache.Get(id); hit {
			s.health.RecordCacheHit()
			return data, nil
		}
		s.health.RecordCacheMiss()
	}

	data, err := os.ReadFile(filepath.Join(s.cfg.MediaRoot, asset.StorageKey))
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("Asset %s has a ledger entry but no file at %s", id, asset.StorageKey)
			s.health.RecordDesync()
			return nil, stagerrors.NewNotFoundError("asset", id)
		}
		return nil, stagerrors.NewStorageUnavailableError("get", err)
	}

	if s.cache != nil {
		s.cache.Add(id, data)
	}
	return data, nil
}

// Path returns the absolute path of the asset's backing file for callers
// that stream instead of loading bytes. Same not-found semantics as Get.
func (s *Store) Path(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.RLock()
	asset, ok := s.ledger[id]
	s.mu.RUnlock()
	if !ok {
		return "", stagerrors.NewNotFoundError("asset", id)
	}

	path := filepath.Join(s.cfg.MediaRoot, asset.StorageKey)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			s.logger.Warn("Asset %s has a ledger entry but no file at %s", id, asset.StorageKey)
			s.health.RecordDesync()
			return "", stagerrors.NewNotFoundError("asset", id)
		}
		return "", stagerrors.NewStorageUnavailableError("path", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", stagerrors.NewStorageUnavailableError("path", err)
	}
	return abs, nil
}

// Delete removes the backing file if present, then the ledger entry. It
// reports whether anything was removed and never errors on absence, so a
// double delete is a harmless no-op.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed, err := s.deleteLocked(ctx, id)
	if err != nil {
		return false, err
	}
	if removed {
		s.metrics.RecordDelete(ctx, "user", 1)
	}
	return removed, nil
}

// deleteLocked removes one asset. Caller holds the write lock and is
// responsible for the ledger rewrite when batching.
func (s *Store) deleteLocked(ctx context.Context, id string) (bool, error) {
	asset, ok := s.ledger[id]
	if !ok {
		return false, nil
	}

	if err := os.Remove(filepath.Join(s.cfg.MediaRoot, asset.StorageKey)); err != nil && !os.IsNotExist(err) {
		return false, stagerrors.NewStorageUnavailableError("delete", err)
	}

	delete(s.ledger, id)
	if s.cache != nil {
		s.cache.Remove(id)
	}
	if err := s.rewriteLedgerLocked(ctx); err != nil {
		// The file is gone and memory is ahead of disk; the next rewrite or
		// the startup sweep reconciles the dangling entry.
		return false, err
	}
	return true, nil
}

// Cleanup deletes every asset older than the cutoff (now minus maxAgeDays).
// A nil maxAgeDays falls back to the persisted retention policy. Returns
// the number of assets removed; running it again immediately removes none.
func (s *Store) Cleanup(ctx context.Context, maxAgeDays *int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.StartSpan(ctx, observability.SpanMediaCleanup)
		defer span.End()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	days := s.policy.MaxAgeDays
	if maxAgeDays != nil {
		if *maxAgeDays <= 0 {
			return 0, fmt.Errorf("mediastore: max age must be positive, got %d", *maxAgeDays)
		}
		days = *maxAgeDays
	}

	cutoff := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	var expired []Asset
	for _, asset := range s.ledger {
		if asset.CreatedAt.Before(cutoff) {
			expired = append(expired, asset)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	for _, asset := range expired {
		if err := os.Remove(filepath.Join(s.cfg.MediaRoot, asset.StorageKey)); err != nil && !os.IsNotExist(err) {
			return 0, stagerrors.NewStorageUnavailableError("cleanup", err)
		}
		delete(s.ledger, asset.ID)
		if s.cache != nil {
			s.cache.Remove(asset.ID)
		}
	}
	if err := s.rewriteLedgerLocked(ctx); err != nil {
		return 0, err
	}

	s.metrics.RecordDelete(ctx, "retention", len(expired))
	s.logger.Info("Retention cleanup removed %d assets older than %d days", len(expired), days)
	return len(expired), nil
}

// ClearAll deletes every asset individually and then removes the ledger
// file entirely, leaving a pristine state for the next initialization.
// The store itself stays usable.
func (s *Store) ClearAll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.ledger)
	for _, asset := range s.ledger {
		if err := os.Remove(filepath.Join(s.cfg.MediaRoot, asset.StorageKey)); err != nil && !os.IsNotExist(err) {
			return 0, stagerrors.NewStorageUnavailableError("clear", err)
		}
	}
	s.ledger = make(map[string]Asset)
	if s.cache != nil {
		s.cache.Purge()
	}

	if err := os.Remove(s.cfg.LedgerPath); err != nil && !os.IsNotExist(err) {
		return 0, stagerrors.NewStorageUnavailableError("clear", err)
	}

	if count > 0 {
		s.metrics.RecordDelete(ctx, "purge", count)
	}
	s.logger.Info("Cleared media store (%d assets removed)", count)
	return count, nil
}

// Stats reports the aggregate view of the store. An empty store yields zero
// counts and a nil oldest timestamp.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Count: len(s.ledger)}
	for _, asset := range s.ledger {
		stats.TotalBytes += asset.SizeBytes
		if stats.OldestCreatedAt == nil || asset.CreatedAt.Before(*stats.OldestCreatedAt) {
			created := asset.CreatedAt
			stats.OldestCreatedAt = &created
		}
	}
	return stats, nil
}

// Policy returns the current retention policy.
func (s *Store) Policy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// SetPolicy updates and persists the retention policy.
func (s *Store) SetPolicy(ctx context.Context, maxAgeDays int) error {
	if maxAgeDays <= 0 {
		return fmt.Errorf("mediastore: max age must be positive, got %d", maxAgeDays)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.policy
	s.policy = Policy{MaxAgeDays: maxAgeDays}
	if err := s.writePolicyLocked(ctx); err != nil {
		s.policy = previous
		return err
	}
	s.logger.Info("Retention policy set to %d days", maxAgeDays)
	return nil
}
