package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ssau-fiit/coedit-api/internal/metrics"
)

// WithRetry wraps a store so transient backend failures are retried a
// bounded number of times with exponential backoff. Exhausting the budget
// surfaces ErrUnavailable to the caller; ErrNotFound is never retried.
func WithRetry(inner Store, maxRetries uint64, initialInterval time.Duration) Store {
	return &retryStore{inner: inner, maxRetries: maxRetries, initialInterval: initialInterval}
}

type retryStore struct {
	inner           Store
	maxRetries      uint64
	initialInterval time.Duration
}

func (s *retryStore) do(ctx context.Context, what string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialInterval
	err := backoff.RetryNotify(func() error {
		err := fn()
		if errors.Is(err, ErrNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx), func(error, time.Duration) {
		metrics.StoreRetries.Inc()
	})
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %s: %s", ErrUnavailable, what, err)
}

func (s *retryStore) CreateDocument(ctx context.Context, doc Document, initialContent string) error {
	return s.do(ctx, "create document", func() error {
		return s.inner.CreateDocument(ctx, doc, initialContent)
	})
}

func (s *retryStore) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.do(ctx, "get document", func() error {
		var err error
		doc, err = s.inner.GetDocument(ctx, id)
		return err
	})
	return doc, err
}

func (s *retryStore) ListDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	err := s.do(ctx, "list documents", func() error {
		var err error
		docs, err = s.inner.ListDocuments(ctx)
		return err
	})
	return docs, err
}

func (s *retryStore) DeleteDocument(ctx context.Context, id string) error {
	return s.do(ctx, "delete document", func() error {
		return s.inner.DeleteDocument(ctx, id)
	})
}

func (s *retryStore) LoadSnapshot(ctx context.Context, docID string) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, "load snapshot", func() error {
		var err error
		snap, err = s.inner.LoadSnapshot(ctx, docID)
		return err
	})
	return snap, err
}

func (s *retryStore) PersistSnapshot(ctx context.Context, docID string, snap Snapshot) error {
	return s.do(ctx, "persist snapshot", func() error {
		return s.inner.PersistSnapshot(ctx, docID, snap)
	})
}

func (s *retryStore) AppendLogEntry(ctx context.Context, docID string, entry LogEntry) (int64, error) {
	var version int64
	err := s.do(ctx, "append log entry", func() error {
		var err error
		version, err = s.inner.AppendLogEntry(ctx, docID, entry)
		return err
	})
	return version, err
}

func (s *retryStore) ReadLogEntriesSince(ctx context.Context, docID string, since int64) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.do(ctx, "read log entries", func() error {
		var err error
		entries, err = s.inner.ReadLogEntriesSince(ctx, docID, since)
		return err
	})
	return entries, err
}
