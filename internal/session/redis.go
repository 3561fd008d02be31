package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "upload:"

// RedisStore keeps the session document under upload:<token> and the
// received chunk numbers in the set upload:<token>:chunks. Both keys share
// the same TTL.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func sessionKey(token string) string {
	return keyPrefix + token
}

func chunksKey(token string) string {
	return keyPrefix + token + ":chunks"
}

func (r *RedisStore) TTL() time.Duration {
	return r.ttl
}

func (r *RedisStore) Create(ctx context.Context, s *Session) error {
	s.ExpiresAt = time.Now().Add(r.ttl)

	doc := s.clone()
	doc.Received = nil

	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal session, %w", err)
	}

	ok, err := r.rdb.SetNX(ctx, sessionKey(s.Token), b, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session, %w", err)
	}

	if !ok {
		return ErrExists
	}

	return nil
}

func decode(raw string, members []string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session, %w", err)
	}

	s.Received = make([]int, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			continue
		}

		s.Received = append(s.Received, n)
	}

	slices.Sort(s.Received)
	return &s, nil
}

func (r *RedisStore) Get(ctx context.Context, token string) (*Session, error) {
	var get *redis.StringCmd
	var members *redis.StringSliceCmd

	_, err := r.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, sessionKey(token))
		members = p.SMembers(ctx, chunksKey(token))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get session, %w", err)
	}

	raw, err := get.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to get session, %w", err)
	}

	return decode(raw, members.Val())
}

func (r *RedisStore) MarkReceived(ctx context.Context, token string, n int) (*Session, error) {
	var get *redis.StringCmd
	var members *redis.StringSliceCmd

	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		get = p.Get(ctx, sessionKey(token))
		p.SAdd(ctx, chunksKey(token), n)
		members = p.SMembers(ctx, chunksKey(token))
		p.Expire(ctx, sessionKey(token), r.ttl)
		p.Expire(ctx, chunksKey(token), r.ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to mark chunk as received, %w", err)
	}

	raw, err := get.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The session is gone, don't leave a dangling set behind
			r.rdb.Del(ctx, chunksKey(token))
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to get session, %w", err)
	}

	s, err := decode(raw, members.Val())
	if err != nil {
		return nil, err
	}

	s.ExpiresAt = time.Now().Add(r.ttl)
	return s, nil
}

func (r *RedisStore) Claim(ctx context.Context, token string) (*Session, error) {
	var get *redis.StringCmd
	var members *redis.StringSliceCmd

	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		get = p.GetDel(ctx, sessionKey(token))
		members = p.SMembers(ctx, chunksKey(token))
		p.Del(ctx, chunksKey(token))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to claim session, %w", err)
	}

	raw, err := get.Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to claim session, %w", err)
	}

	return decode(raw, members.Val())
}

func (r *RedisStore) Delete(ctx context.Context, token string) error {
	if err := r.rdb.Del(ctx, sessionKey(token), chunksKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete session, %w", err)
	}

	return nil
}

func (r *RedisStore) Exists(ctx context.Context, token string) (bool, error) {
	n, err := r.rdb.Exists(ctx, sessionKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session, %w", err)
	}

	return n > 0, nil
}

// Close is a no-op, the redis client is shared and closed by its owner
func (r *RedisStore) Close() error {
	return nil
}
