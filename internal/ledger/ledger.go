// Package ledger maintains the per-document version counter and the
// ordered history of committed operations used to rebase late arrivals.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ssau-fiit/coedit-api/internal/ot"
	"github.com/ssau-fiit/coedit-api/internal/store"
)

// ErrUnknownVersion is returned when a caller references a version the
// ledger has never assigned.
var ErrUnknownVersion = errors.New("unknown version")

// Ledger tracks the committed operation history of one document. Versions
// start at 0 for a freshly created document and advance by exactly one per
// appended operation. A Ledger is owned by its document coordinator and is
// not safe for concurrent use.
type Ledger struct {
	docID string
	store store.Store

	tip   int64
	base  int64            // version preceding cache[0]
	cache []store.LogEntry // entries in (base, tip], oldest first
}

// Open loads the latest snapshot and any operations committed after it,
// returning the ledger together with the reconstructed current content.
// Snapshots are checkpoints and may trail the log, so the tail is replayed
// on top of the snapshot to recover the live text.
func Open(ctx context.Context, docID string, st store.Store) (*Ledger, string, error) {
	snap, err := st.LoadSnapshot(ctx, docID)
	if err != nil {
		return nil, "", fmt.Errorf("loading snapshot: %w", err)
	}
	entries, err := st.ReadLogEntriesSince(ctx, docID, snap.Version)
	if err != nil {
		return nil, "", fmt.Errorf("reading log: %w", err)
	}
	content, err := Replay(snap.Content, entries)
	if err != nil {
		return nil, "", err
	}
	l := &Ledger{docID: docID, store: st, tip: snap.Version, base: snap.Version, cache: entries}
	if n := len(entries); n > 0 {
		l.tip = entries[n-1].Version
	}
	return l, content, nil
}

// Tip returns the version of the most recently committed operation.
func (l *Ledger) Tip() int64 { return l.tip }

// Append assigns the next version to op and stores it durably. Only the
// document coordinator calls this, and only with an operation already
// rebased against the tip.
func (l *Ledger) Append(ctx context.Context, op ot.Operation) (int64, error) {
	entry := store.LogEntry{Version: l.tip + 1, Op: op}
	got, err := l.store.AppendLogEntry(ctx, l.docID, entry)
	if err != nil {
		return 0, err
	}
	if got != entry.Version {
		return 0, fmt.Errorf("log for %v advanced to version %d, expected %d", l.docID, got, entry.Version)
	}
	l.cache = append(l.cache, entry)
	l.tip = entry.Version
	return entry.Version, nil
}

// EntriesSince returns every committed entry with a version greater than
// since, oldest first. A since equal to the tip yields an empty result;
// anything negative or past the tip is ErrUnknownVersion.
func (l *Ledger) EntriesSince(ctx context.Context, since int64) ([]store.LogEntry, error) {
	if since < 0 || since > l.tip {
		return nil, fmt.Errorf("%w: %d (tip is %d)", ErrUnknownVersion, since, l.tip)
	}
	if since >= l.base {
		out := make([]store.LogEntry, l.tip-since)
		copy(out, l.cache[since-l.base:])
		return out, nil
	}
	return l.store.ReadLogEntriesSince(ctx, l.docID, since)
}

// TrimThrough drops cached entries at or below version, keeping memory
// bounded after a checkpoint. Trimmed entries remain readable through the
// backing store.
func (l *Ledger) TrimThrough(version int64) {
	if version <= l.base {
		return
	}
	if version > l.tip {
		version = l.tip
	}
	l.cache = append([]store.LogEntry(nil), l.cache[version-l.base:]...)
	l.base = version
}

// Replay applies entries in order to content, reproducing the document
// text as of the last entry's version.
func Replay(content string, entries []store.LogEntry) (string, error) {
	for _, e := range entries {
		next, err := ot.Apply(content, e.Op)
		if err != nil {
			return "", fmt.Errorf("replaying version %d: %w", e.Version, err)
		}
		content = next
	}
	return content, nil
}
