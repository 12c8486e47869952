// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps sessions in Redis hashes and sorted sets.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to the Redis server at url and verifies it answers.
//
// # Inputs
//
//   - ctx: Bounds the initial PING.
//   - url: redis:// or rediss:// URL, e.g. "redis://:secret@localhost:6379/0".
//
// # Outputs
//
//   - *RedisStore: Connected store. Caller must Close it.
//   - error: Non-nil if the URL is invalid or the server is unreachable.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	slog.Info("Connected to Redis session store", "addr", opts.Addr, "db", opts.DB)
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) SaveSession(ctx context.Context, rec *datatypes.SessionRecord) error {
	fields, err := rec.ToHash()
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rec.Key(), fields)
		pipe.ZAdd(ctx, datatypes.UserChatsKey(rec.UserID), redis.Z{
			Score:  float64(rec.CreatedAt),
			Member: rec.Key(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis write of %s failed: %w", rec.Key(), err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*datatypes.SessionRecord, error) {
	fields, err := s.client.HGetAll(ctx, datatypes.ChatKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read of %s failed: %w", datatypes.ChatKey(id), err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return datatypes.SessionRecordFromHash(fields)
}

func (s *RedisStore) ListUserSessions(ctx context.Context, userID string, limit int) ([]datatypes.SessionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	members, err := s.client.ZRevRange(ctx, datatypes.UserChatsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis index read failed: %w", err)
	}
	if len(members) == 0 {
		return []datatypes.SessionSummary{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.HGetAll(ctx, m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis session read failed: %w", err)
	}

	out := make([]datatypes.SessionSummary, 0, len(members))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			slog.Warn("Session index points at missing hash", "user_id", userID, "member", members[i])
			continue
		}
		rec, err := datatypes.SessionRecordFromHash(fields)
		if err != nil {
			slog.Warn("Skipping unreadable session", "member", members[i], "error", err)
			continue
		}
		// The id was rewritten by another user; the entry no longer belongs here.
		if rec.UserID != userID {
			stale = append(stale, members[i])
			continue
		}
		out = append(out, rec.Summary())
	}

	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, datatypes.UserChatsKey(userID), stale...).Err(); err != nil {
			slog.Warn("Failed to prune foreign session index entries", "user_id", userID, "error", err)
		}
	}
	return out, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, userID, id string) error {
	key := datatypes.ChatKey(id)
	owner, err := s.client.HGet(ctx, key, "userId").Result()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis read of %s failed: %w", key, err)
	}
	if owner != userID {
		return ErrNotFound
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.ZRem(ctx, datatypes.UserChatsKey(userID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete of %s failed: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

var _ SessionStore = (*RedisStore)(nil)
