package auth

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
)

// RedisACL reads per-document access lists from redis. The ACL for a
// document lives in the hash acl.<docID>; a missing hash means the
// document is open to everyone.
type RedisACL struct {
	db *redis.Client
}

func NewRedisACL(db *redis.Client) *RedisACL {
	return &RedisACL{db: db}
}

func (a *RedisACL) CanAccess(ctx context.Context, userID, docID string) (Access, error) {
	rights, err := a.db.HGetAll(ctx, fmt.Sprintf("acl.%v", docID)).Result()
	if err != nil {
		return Access{}, fmt.Errorf("loading acl: %w", err)
	}
	return parseRights(rights, userID), nil
}

// RedisDirectory looks up accounts in the users.<username> hashes.
type RedisDirectory struct {
	db *redis.Client
}

func NewRedisDirectory(db *redis.Client) *RedisDirectory {
	return &RedisDirectory{db: db}
}

func (d *RedisDirectory) Authenticate(ctx context.Context, username, password string) (User, error) {
	res, err := d.db.HGetAll(ctx, fmt.Sprintf("users.%v", username)).Result()
	if err != nil {
		return User{}, fmt.Errorf("finding user: %w", err)
	}
	if len(res) == 0 {
		return User{}, ErrBadCredentials
	}
	var user User
	if err := mapstructure.Decode(res, &user); err != nil {
		return User{}, fmt.Errorf("decoding user: %w", err)
	}
	if user.Password != password {
		return User{}, ErrBadCredentials
	}
	return user, nil
}
