package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestClassifyHTTPStatus(t *testing.T) {
	permanent := []int{400, 401, 403, 404, 405, 409, 410, 422}
	for _, code := range permanent {
		err := ClassifyHTTPStatus(code, "nope")
		if !IsPermanent(err) {
			t.Errorf("status %d: expected permanent, got %v", code, err)
		}
		if IsTransient(err) {
			t.Errorf("status %d: classified both transient and permanent", code)
		}
	}

	transient := []int{408, 429, 500, 502, 503, 504}
	for _, code := range transient {
		err := ClassifyHTTPStatus(code, "later")
		if !IsTransient(err) {
			t.Errorf("status %d: expected transient, got %v", code, err)
		}
	}

	// Odd statuses default to transient so a flaky proxy cannot permanently
	// fail a submission.
	if err := ClassifyHTTPStatus(418, "teapot"); !IsTransient(err) {
		t.Errorf("status 418: expected transient fallback, got %v", err)
	}
}

func TestClassifyHTTPStatusCarriesCode(t *testing.T) {
	err := ClassifyHTTPStatus(422, "bad image")

	var permanentErr *PermanentError
	if !errors.As(err, &permanentErr) {
		t.Fatalf("expected *PermanentError, got %T", err)
	}
	if permanentErr.StatusCode != 422 {
		t.Errorf("StatusCode = %d, want 422", permanentErr.StatusCode)
	}
}

func TestIsTransientTimeoutsAndNetwork(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"deadline", fmt.Errorf("submit: %w", context.DeadlineExceeded)},
		{"dns", &net.DNSError{Err: "no such host", Name: "api.example.com"}},
		{"econnrefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED)},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("unreachable")}},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)")},
	}

	for _, tc := range cases {
		if !IsTransient(tc.err) {
			t.Errorf("%s: expected transient, got false for %v", tc.name, tc.err)
		}
		if IsPermanent(tc.err) {
			t.Errorf("%s: unexpectedly permanent", tc.name)
		}
	}
}

func TestExplicitMarksBeatHeuristics(t *testing.T) {
	// A permanent mark wins even when the wrapped error smells transient.
	perm := NewPermanentError(fmt.Errorf("upload: %w", context.DeadlineExceeded), "image rejected")
	wrapped := fmt.Errorf("pass: %w", perm)
	if !IsPermanent(wrapped) {
		t.Error("permanent mark lost through wrapping")
	}
	if IsTransient(wrapped) {
		t.Error("permanent-marked error classified transient")
	}

	trans := NewTransientError(errors.New("boom"), "try again")
	if !IsTransient(trans) || IsPermanent(trans) {
		t.Error("transient mark misclassified")
	}
}

func TestGetErrorTypeDefaultsToTransient(t *testing.T) {
	if got := GetErrorType(errors.New("mystery failure")); got != ErrorTypeTransient {
		t.Errorf("unclassified error type = %v, want transient", got)
	}
	if got := GetErrorType(nil); got != ErrorTypePermanent {
		t.Errorf("nil error type = %v, want permanent", got)
	}
}

func TestDomainErrorPredicates(t *testing.T) {
	nf := fmt.Errorf("get: %w", NewNotFoundError("asset", "a1b2"))
	if !IsNotFound(nf) {
		t.Error("IsNotFound failed through wrap")
	}
	if IsNotFound(errors.New("asset a1b2 not found")) {
		t.Error("IsNotFound matched on message instead of type")
	}

	tooBig := fmt.Errorf("save: %w", NewPayloadTooLargeError(11<<20, 10<<20))
	if !IsPayloadTooLarge(tooBig) {
		t.Error("IsPayloadTooLarge failed through wrap")
	}

	storage := fmt.Errorf("ledger: %w", NewStorageUnavailableError("flush", syscall.EIO))
	if !IsStorageUnavailable(storage) {
		t.Error("IsStorageUnavailable failed through wrap")
	}
	if !errors.Is(storage, syscall.EIO) {
		t.Error("StorageUnavailableError does not unwrap its cause")
	}
}
