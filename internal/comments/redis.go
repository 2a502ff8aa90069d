package comments

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

// Redis keeps each document's comments in the hash comments.<docID>,
// one JSON-encoded comment per field.
type Redis struct {
	db *redis.Client
}

func NewRedis(db *redis.Client) *Redis {
	return &Redis{db: db}
}

func key(docID string) string {
	return fmt.Sprintf("comments.%v", docID)
}

func (r *Redis) Add(ctx context.Context, c Comment) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding comment: %w", err)
	}
	if err := r.db.HSet(ctx, key(c.DocID), c.ID, raw).Err(); err != nil {
		return fmt.Errorf("storing comment: %w", err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, docID string) ([]Comment, error) {
	res, err := r.db.HGetAll(ctx, key(docID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing comments: %w", err)
	}
	out := make([]Comment, 0, len(res))
	for _, raw := range res {
		var c Comment
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("decoding comment: %w", err)
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *Redis) Resolve(ctx context.Context, docID, commentID string) (Comment, error) {
	raw, err := r.db.HGet(ctx, key(docID), commentID).Result()
	if err == redis.Nil {
		return Comment{}, ErrNotFound
	}
	if err != nil {
		return Comment{}, fmt.Errorf("finding comment: %w", err)
	}
	var c Comment
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Comment{}, fmt.Errorf("decoding comment: %w", err)
	}
	c.Resolved = true
	updated, err := json.Marshal(c)
	if err != nil {
		return Comment{}, fmt.Errorf("encoding comment: %w", err)
	}
	if err := r.db.HSet(ctx, key(docID), commentID, updated).Err(); err != nil {
		return Comment{}, fmt.Errorf("storing comment: %w", err)
	}
	return c, nil
}
