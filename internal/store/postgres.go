package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ssau-fiit/coedit-api/internal/ot"
)

// Postgres persists documents in postgres. It trades redis's latency for a
// durable, queryable operation history.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Setup creates the schema when it does not exist yet.
func (s *Postgres) Setup(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			id     TEXT PRIMARY KEY,
			name   TEXT NOT NULL,
			author TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS snapshots (
			doc_id  TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			version BIGINT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS oplog (
			doc_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			version BIGINT NOT NULL,
			op      JSONB NOT NULL,
			PRIMARY KEY (doc_id, version)
		);`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *Postgres) CreateDocument(ctx context.Context, doc Document, initialContent string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create document: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO documents (id, name, author) VALUES ($1, $2, $3)`,
		doc.ID, doc.Name, doc.Author); err != nil {
		return fmt.Errorf("insert document %v: %w", doc.ID, err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO snapshots (doc_id, content, version) VALUES ($1, $2, 0)`,
		doc.ID, initialContent); err != nil {
		return fmt.Errorf("insert snapshot %v: %w", doc.ID, err)
	}
	return tx.Commit(ctx)
}

func (s *Postgres) GetDocument(ctx context.Context, id string) (Document, error) {
	var doc Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, author FROM documents WHERE id = $1`, id).
		Scan(&doc.ID, &doc.Name, &doc.Author)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document %v: %w", id, err)
	}
	return doc, nil
}

func (s *Postgres) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, author FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var documents []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Name, &doc.Author); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, doc)
	}
	return documents, rows.Err()
}

func (s *Postgres) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %v: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) LoadSnapshot(ctx context.Context, docID string) (Snapshot, error) {
	var snap Snapshot
	err := s.pool.QueryRow(ctx,
		`SELECT content, version FROM snapshots WHERE doc_id = $1`, docID).
		Scan(&snap.Content, &snap.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot %v: %w", docID, err)
	}
	return snap, nil
}

func (s *Postgres) PersistSnapshot(ctx context.Context, docID string, snap Snapshot) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE snapshots SET content = $2, version = $3 WHERE doc_id = $1`,
		docID, snap.Content, snap.Version)
	if err != nil {
		return fmt.Errorf("persist snapshot %v: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) AppendLogEntry(ctx context.Context, docID string, entry LogEntry) (int64, error) {
	buf, err := json.Marshal(entry.Op)
	if err != nil {
		return 0, fmt.Errorf("encode log entry: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO oplog (doc_id, version, op) VALUES ($1, $2, $3)`,
		docID, entry.Version, buf); err != nil {
		return 0, fmt.Errorf("append log entry %v: %w", docID, err)
	}
	return entry.Version, nil
}

func (s *Postgres) ReadLogEntriesSince(ctx context.Context, docID string, since int64) ([]LogEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT version, op FROM oplog WHERE doc_id = $1 AND version > $2 ORDER BY version`,
		docID, since)
	if err != nil {
		return nil, fmt.Errorf("read log entries %v: %w", docID, err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			entry LogEntry
			raw   []byte
		)
		if err := rows.Scan(&entry.Version, &raw); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		var op ot.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, fmt.Errorf("decode log entry %v: %w", docID, err)
		}
		entry.Op = op
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
