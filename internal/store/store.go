// Package store defines the document store consumed by the editing core
// and ships its in-memory, redis and postgres bindings.
package store

import (
	"context"
	"errors"

	"github.com/ssau-fiit/coedit-api/internal/ot"
)

var (
	// ErrNotFound is returned when a document id has no stored state.
	ErrNotFound = errors.New("document not found")

	// ErrUnavailable wraps backend failures that survived the retry budget.
	// Submissions that hit it are safe to resubmit with the last known
	// version; the rebase makes the retry harmless.
	ErrUnavailable = errors.New("document store unavailable")
)

// Document is the metadata clients see in listings.
type Document struct {
	ID     string `json:"id" mapstructure:"id"`
	Name   string `json:"name" mapstructure:"name"`
	Author string `json:"author" mapstructure:"author"`
}

// Snapshot is a point-in-time capture of document content. Version counts
// accepted operations since creation: it grows by exactly one per commit.
type Snapshot struct {
	Content string `json:"content"`
	Version int64  `json:"version"`
}

// LogEntry pairs a committed operation with the version it produced.
// Entries are append-only and ordered by version; replaying them over the
// empty string reproduces the snapshot content.
type LogEntry struct {
	Version int64        `json:"version"`
	Op      ot.Operation `json:"op"`
}

// Store persists document metadata, checkpointed snapshots and the
// operation log. Only a document's coordinator appends to its log; other
// processes may read it for audit or recovery.
type Store interface {
	CreateDocument(ctx context.Context, doc Document, initialContent string) error
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// LoadSnapshot returns the latest checkpoint, ErrNotFound for unknown ids.
	LoadSnapshot(ctx context.Context, docID string) (Snapshot, error)
	// PersistSnapshot overwrites the checkpoint; called periodically and on
	// drain, never per operation.
	PersistSnapshot(ctx context.Context, docID string, snap Snapshot) error
	// AppendLogEntry stores entry and returns its version. The caller
	// assigns contiguous versions; the store keeps them in order.
	AppendLogEntry(ctx context.Context, docID string, entry LogEntry) (int64, error)
	// ReadLogEntriesSince returns entries with version > since, in version
	// order. An empty result for in-range versions is not an error.
	ReadLogEntriesSince(ctx context.Context, docID string, since int64) ([]LogEntry, error)
}
