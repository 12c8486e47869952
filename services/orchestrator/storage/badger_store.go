// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/AleutianAI/eipchat/services/orchestrator/datatypes"
	"github.com/dgraph-io/badger/v4"
)

// indexSep separates the sorted set key from its member in index keys.
const indexSep = "\x00"

// BadgerStore keeps sessions in an embedded Badger database.
//
// # Description
//
// The session hash is stored as a JSON object of its fields under
// "chat:{id}". The per-user sorted set is emulated with one key per member,
// "user:chat:{userId}\x00chat:{id}", whose value is the decimal score.
// Listing scans the user's prefix and sorts by score, which is adequate for
// the per-user session counts a chat UI produces.
//
// # Thread Safety
//
// Safe for concurrent use; Badger transactions serialize conflicting writes.
type BadgerStore struct {
	db *badger.DB
	gc *gcRunner
}

// OpenBadgerStore opens (or creates) the database described by cfg.
//
// # Outputs
//
//   - *BadgerStore: Ready store. Caller must Close it.
//   - error: Non-nil if the database cannot be opened.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}

	s := &BadgerStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

func indexKey(userID, member string) []byte {
	return []byte(datatypes.UserChatsKey(userID) + indexSep + member)
}

func indexPrefix(userID string) []byte {
	return []byte(datatypes.UserChatsKey(userID) + indexSep)
}

func (s *BadgerStore) SaveSession(ctx context.Context, rec *datatypes.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fields, err := rec.ToHash()
	if err != nil {
		return err
	}
	value, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode session hash: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(rec.Key()), value); err != nil {
			return err
		}
		score := strconv.FormatInt(rec.CreatedAt, 10)
		return txn.Set(indexKey(rec.UserID, rec.Key()), []byte(score))
	})
	if err != nil {
		return fmt.Errorf("badger write of %s failed: %w", rec.Key(), err)
	}
	return nil
}

func (s *BadgerStore) GetSession(ctx context.Context, id string) (*datatypes.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *datatypes.SessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readSession(txn, datatypes.ChatKey(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func readSession(txn *badger.Txn, key string) (*datatypes.SessionRecord, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger read of %s failed: %w", key, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("badger read of %s failed: %w", key, err)
	}
	var fields map[string]string
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return datatypes.SessionRecordFromHash(fields)
}

type scoredMember struct {
	member string
	score  int64
}

// IndexScore returns the score of member in userID's index.
func (s *BadgerStore) IndexScore(ctx context.Context, userID, member string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var score int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexKey(userID, member))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			score, err = strconv.ParseInt(string(val), 10, 64)
			return err
		})
	})
	return score, err
}

func (s *BadgerStore) ListUserSessions(ctx context.Context, userID string, limit int) ([]datatypes.SessionSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}

	out := []datatypes.SessionSummary{}
	var stale []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := indexPrefix(userID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var members []scoredMember
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			member := string(item.Key()[len(prefix):])
			var score int64
			if err := item.Value(func(val []byte) error {
				var err error
				score, err = strconv.ParseInt(string(val), 10, 64)
				return err
			}); err != nil {
				return fmt.Errorf("decode index entry %s: %w", member, err)
			}
			members = append(members, scoredMember{member: member, score: score})
		}

		sort.SliceStable(members, func(i, j int) bool {
			if members[i].score != members[j].score {
				return members[i].score > members[j].score
			}
			return members[i].member > members[j].member
		})
		if len(members) > limit {
			members = members[:limit]
		}

		for _, m := range members {
			rec, err := readSession(txn, m.member)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			// The id was rewritten by another user; the entry no longer belongs here.
			if rec.UserID != userID {
				stale = append(stale, m.member)
				continue
			}
			out = append(out, rec.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(stale) > 0 {
		if err := s.pruneIndex(userID, stale); err != nil {
			slog.Warn("Failed to prune foreign session index entries", "user_id", userID, "error", err)
		}
	}
	return out, nil
}

// pruneIndex removes members from a user's index.
func (s *BadgerStore) pruneIndex(userID string, members []string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, m := range members {
			if err := txn.Delete(indexKey(userID, m)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) DeleteSession(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := datatypes.ChatKey(id)
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := readSession(txn, key)
		if err != nil {
			return err
		}
		if rec.UserID != userID {
			return ErrNotFound
		}
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
		return txn.Delete(indexKey(userID, key))
	})
}

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return ctx.Err()
}

func (s *BadgerStore) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

var _ SessionStore = (*BadgerStore)(nil)
