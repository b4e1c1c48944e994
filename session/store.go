package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned for Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrConflict is returned when a concurrent writer kept invalidating an
// optimistic rewrite.
var ErrConflict = errors.New("session write conflict")

const maxRetries = 4

// Store is the Redis-backed session cache. Records live under
// prefix+SecondaryID, so a rotated-away token stops resolving the moment
// its replacement lands; they are indexed per account for bulk revocation.
// The TTL is bounded by the absolute lifetime from creation; rewrites
// recompute it and never extend a session past that bound.
type Store struct {
	redis    redis.UniversalClient
	prefix   string
	lifetime time.Duration
	minFloor time.Duration
}

// NewStore creates a session [Store]. lifetime is the absolute session
// lifetime from creation; minFloor is the smallest TTL a rewrite applies.
func NewStore(redisClient redis.UniversalClient, prefix string, lifetime, minFloor time.Duration) *Store {
	return &Store{
		redis:    redisClient,
		prefix:   prefix,
		lifetime: lifetime,
		minFloor: minFloor,
	}
}

func (s *Store) key(secondaryID string) string {
	return s.prefix + secondaryID
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + "acct:" + accountID
}

// rewriteTTL recomputes the TTL for a record being rewritten in place. The
// floor keeps a near-expiry session readable long enough to finish the
// operation that touched it; the absolute bound is enforced on read.
func (s *Store) rewriteTTL(rec *Record, now time.Time) time.Duration {
	remaining := time.Unix(rec.CreatedAt, 0).Add(s.lifetime).Sub(now)
	if remaining < s.minFloor {
		return s.minFloor
	}
	return remaining
}

// Save persists a new record with the full absolute lifetime and indexes it
// under the account.
func (s *Store) Save(ctx context.Context, rec *Record) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.SecondaryID), data, s.lifetime)
		pipe.SAdd(ctx, s.accountKey(rec.AccountID), rec.SecondaryID)
		pipe.Expire(ctx, s.accountKey(rec.AccountID), s.lifetime)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get loads a record by secondary id. A record past its absolute lifetime
// is deleted and reported as redis.Nil.
func (s *Store) Get(ctx context.Context, secondaryID string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(secondaryID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		return nil, err
	}
	rec.SecondaryID = secondaryID

	if !time.Now().Before(time.Unix(rec.CreatedAt, 0).Add(s.lifetime)) {
		if err := s.Delete(ctx, secondaryID); err != nil {
			return nil, err
		}
		return nil, redis.Nil
	}

	return rec, nil
}

// UpdateLevel rewrites the record with the given access level, marking the
// session MFA-verified when the proof included a second factor. Levels only
// move upward; a lower value is ignored.
func (s *Store) UpdateLevel(ctx context.Context, secondaryID string, level uint8, mfaVerified bool) (*Record, error) {
	return s.rewrite(ctx, secondaryID, func(rec *Record) {
		if level > rec.Level {
			rec.Level = level
		}
		if mfaVerified {
			rec.MFAVerified = true
		}
	})
}

// RotateSecondary moves the record from the old secondary id to a fresh
// one. The old key disappears in the same transaction that writes the new
// key, so only one token resolves at any instant.
func (s *Store) RotateSecondary(ctx context.Context, oldSecondaryID, newSecondaryID string) (*Record, error) {
	oldKey := s.key(oldSecondaryID)
	var out *Record

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, oldKey).Bytes()
			if err != nil {
				return err
			}

			rec, err := Decode(data)
			if err != nil {
				return err
			}
			rec.SecondaryID = newSecondaryID

			now := time.Now()
			if !now.Before(time.Unix(rec.CreatedAt, 0).Add(s.lifetime)) {
				return redis.Nil
			}

			encoded, err := Encode(rec)
			if err != nil {
				return err
			}

			accountKey := s.accountKey(rec.AccountID)
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, oldKey)
				pipe.Set(ctx, s.key(newSecondaryID), encoded, s.rewriteTTL(rec, now))
				pipe.SRem(ctx, accountKey, oldSecondaryID)
				pipe.SAdd(ctx, accountKey, newSecondaryID)
				return nil
			})
			if err == nil {
				out = rec
			}
			return err
		}, oldKey)

		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) || errors.Is(err, ErrCorruptRecord) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil, ErrConflict
}

func (s *Store) rewrite(ctx context.Context, secondaryID string, mutate func(*Record)) (*Record, error) {
	key := s.key(secondaryID)
	var out *Record

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := Decode(data)
			if err != nil {
				return err
			}
			rec.SecondaryID = secondaryID

			now := time.Now()
			if !now.Before(time.Unix(rec.CreatedAt, 0).Add(s.lifetime)) {
				return redis.Nil
			}

			mutate(rec)

			encoded, err := Encode(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, s.rewriteTTL(rec, now))
				return nil
			})
			if err == nil {
				out = rec
			}
			return err
		}, key)

		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, redis.Nil) || errors.Is(err, ErrCorruptRecord) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil, ErrConflict
}

// Delete removes a record and its account-index entry.
func (s *Store) Delete(ctx context.Context, secondaryID string) error {
	key := s.key(secondaryID)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	rec, err := Decode(data)
	if err != nil {
		// Unreadable blob still gets removed.
		if delErr := s.redis.Del(ctx, key).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, s.accountKey(rec.AccountID), secondaryID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// DeleteAllForAccount removes every cached record indexed under the
// account and returns how many existed. A record created concurrently with
// the sweep can escape it; the durable-store revocation marks still make it
// unusable on the next read.
func (s *Store) DeleteAllForAccount(ctx context.Context, accountID string) (int, error) {
	accountKey := s.accountKey(accountID)

	ids, err := s.redis.SMembers(ctx, accountKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}

	var existing int64
	if len(keys) > 0 {
		existing, err = s.redis.Exists(ctx, keys...).Result()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	keys = append(keys, accountKey)
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return int(existing), nil
}

// ActiveIDs returns the secondary ids indexed under the account.
func (s *Store) ActiveIDs(ctx context.Context, accountID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}
