package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
)

// Redis key layout, one document spread over four keys:
//
//	documents.<id>  hash   id, name, author
//	texts.<id>      string checkpointed content
//	versions.<id>   string checkpointed version
//	oplog.<id>      list   JSON log entries, index i holds version i+1
const (
	keyDocument = "documents.%v"
	keyText     = "texts.%v"
	keyVersion  = "versions.%v"
	keyOplog    = "oplog.%v"
)

// Redis persists documents in redis, the primary production backend.
type Redis struct {
	db *redis.Client
}

func NewRedis(db *redis.Client) *Redis {
	return &Redis{db: db}
}

func (s *Redis) CreateDocument(ctx context.Context, doc Document, initialContent string) error {
	_, err := s.db.HSet(ctx, fmt.Sprintf(keyDocument, doc.ID),
		"id", doc.ID, "name", doc.Name, "author", doc.Author).Result()
	if err != nil {
		return fmt.Errorf("create document %v: %w", doc.ID, err)
	}
	if err := s.db.Set(ctx, fmt.Sprintf(keyText, doc.ID), initialContent, 0).Err(); err != nil {
		s.db.Del(ctx, fmt.Sprintf(keyDocument, doc.ID))
		return fmt.Errorf("create document text %v: %w", doc.ID, err)
	}
	if err := s.db.Set(ctx, fmt.Sprintf(keyVersion, doc.ID), "0", 0).Err(); err != nil {
		s.db.Del(ctx, fmt.Sprintf(keyDocument, doc.ID), fmt.Sprintf(keyText, doc.ID))
		return fmt.Errorf("create document version %v: %w", doc.ID, err)
	}
	return nil
}

func (s *Redis) GetDocument(ctx context.Context, id string) (Document, error) {
	raw, err := s.db.HGetAll(ctx, fmt.Sprintf(keyDocument, id)).Result()
	if err != nil {
		return Document{}, fmt.Errorf("get document %v: %w", id, err)
	}
	if len(raw) == 0 {
		return Document{}, ErrNotFound
	}
	var doc Document
	if err := mapstructure.Decode(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document %v: %w", id, err)
	}
	return doc, nil
}

func (s *Redis) ListDocuments(ctx context.Context) ([]Document, error) {
	keys, err := s.db.Keys(ctx, "documents.*").Result()
	if err != nil {
		return nil, fmt.Errorf("list document keys: %w", err)
	}
	var documents []Document
	for _, key := range keys {
		docMap, err := s.db.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("get document %v: %w", key, err)
		}
		var doc Document
		if err := mapstructure.Decode(docMap, &doc); err != nil {
			return nil, fmt.Errorf("decode document %v: %w", key, err)
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

func (s *Redis) DeleteDocument(ctx context.Context, id string) error {
	exists, err := s.db.Exists(ctx, fmt.Sprintf(keyDocument, id)).Result()
	if err != nil {
		return fmt.Errorf("check document %v: %w", id, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	_, err = s.db.Del(ctx,
		fmt.Sprintf(keyDocument, id),
		fmt.Sprintf(keyText, id),
		fmt.Sprintf(keyVersion, id),
		fmt.Sprintf(keyOplog, id)).Result()
	if err != nil {
		return fmt.Errorf("delete document %v: %w", id, err)
	}
	return nil
}

func (s *Redis) LoadSnapshot(ctx context.Context, docID string) (Snapshot, error) {
	content, err := s.db.Get(ctx, fmt.Sprintf(keyText, docID)).Result()
	if err == redis.Nil {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get document text %v: %w", docID, err)
	}
	raw, err := s.db.Get(ctx, fmt.Sprintf(keyVersion, docID)).Result()
	if err == redis.Nil {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get document version %v: %w", docID, err)
	}
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Snapshot{}, fmt.Errorf("parse document version %v: %w", docID, err)
	}
	return Snapshot{Content: content, Version: version}, nil
}

func (s *Redis) PersistSnapshot(ctx context.Context, docID string, snap Snapshot) error {
	if err := s.db.Set(ctx, fmt.Sprintf(keyText, docID), snap.Content, 0).Err(); err != nil {
		return fmt.Errorf("persist document text %v: %w", docID, err)
	}
	if err := s.db.Set(ctx, fmt.Sprintf(keyVersion, docID), strconv.FormatInt(snap.Version, 10), 0).Err(); err != nil {
		return fmt.Errorf("persist document version %v: %w", docID, err)
	}
	return nil
}

func (s *Redis) AppendLogEntry(ctx context.Context, docID string, entry LogEntry) (int64, error) {
	buf, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("encode log entry: %w", err)
	}
	if err := s.db.RPush(ctx, fmt.Sprintf(keyOplog, docID), buf).Err(); err != nil {
		return 0, fmt.Errorf("append log entry %v: %w", docID, err)
	}
	return entry.Version, nil
}

func (s *Redis) ReadLogEntriesSince(ctx context.Context, docID string, since int64) ([]LogEntry, error) {
	// Entry at list index i holds version i+1, so everything after version
	// `since` starts at index `since`.
	raw, err := s.db.LRange(ctx, fmt.Sprintf(keyOplog, docID), since, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read log entries %v: %w", docID, err)
	}
	entries := make([]LogEntry, 0, len(raw))
	for _, item := range raw {
		var entry LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("decode log entry %v: %w", docID, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
