package mediastore

import (
	"context"
	"encoding/json"
	"os"
	"time"

	stagerrors "github.com/Asgard-Solutions/ironstag-sub000/internal/errors"
	"github.com/Asgard-Solutions/ironstag-sub000/internal/fsutil"
)

// ledgerRetry bounds rewrite retries. Only transient faults (EBUSY-style
// driver hiccups) are retried; a genuinely broken filesystem fails fast.
var ledgerRetry = stagerrors.RetryConfig{
	MaxAttempts:  2,
	BaseDelay:    25 * time.Millisecond,
	MaxDelay:     100 * time.Millisecond,
	JitterFactor: 0,
}

// loadLedger reads the ledger file into memory. A missing file is an empty
// store, not an error.
func (s *Store) loadLedger() error {
	data, err := os.ReadFile(s.cfg.LedgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			s.ledger = make(map[string]Asset)
			return nil
		}
		return stagerrors.NewStorageUnavailableError("load ledger", err)
	}

	ledger := make(map[string]Asset)
	if err := json.Unmarshal(data, &ledger); err != nil {
		return stagerrors.NewStorageUnavailableError("parse ledger", err)
	}
	s.ledger = ledger
	return nil
}

// rewriteLedgerLocked persists the in-memory ledger as one whole document:
// marshal, write to a temp file, rename over the old ledger. Caller holds
// the write lock.
func (s *Store) rewriteLedgerLocked(ctx context.Context) error {
	data, err := json.MarshalIndent(s.ledger, "", "  ")
	if err != nil {
		return stagerrors.NewStorageUnavailableError("encode ledger", err)
	}

	err = stagerrors.Retry(ctx, ledgerRetry, func(context.Context) error {
		return fsutil.AtomicWrite(s.cfg.LedgerPath, data, 0o644)
	})
	if err != nil {
		return stagerrors.NewStorageUnavailableError("write ledger", err)
	}
	s.health.RecordLedgerRewrite()
	return nil
}

// loadPolicy reads the retention policy file, falling back to the
// configured default when absent or unreadable.
func (s *Store) loadPolicy() {
	s.policy = Policy{MaxAgeDays: s.cfg.DefaultMaxAgeDays}

	data, err := os.ReadFile(s.cfg.PolicyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read retention policy, using %d days: %v", s.policy.MaxAgeDays, err)
		}
		return
	}

	var policy Policy
	if err := json.Unmarshal(data, &policy); err != nil || policy.MaxAgeDays <= 0 {
		s.logger.Warn("Ignoring malformed retention policy file %s", s.cfg.PolicyPath)
		return
	}
	s.policy = policy
}

// writePolicyLocked persists the retention policy. Caller holds the write lock.
func (s *Store) writePolicyLocked(ctx context.Context) error {
	data, err := json.MarshalIndent(s.policy, "", "  ")
	if err != nil {
		return stagerrors.NewStorageUnavailableError("encode policy", err)
	}

	err = stagerrors.Retry(ctx, ledgerRetry, func(context.Context) error {
		return fsutil.AtomicWrite(s.cfg.PolicyPath, data, 0o644)
	})
	if err != nil {
		return stagerrors.NewStorageUnavailableError("write policy", err)
	}
	return nil
}

