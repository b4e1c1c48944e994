package stepauth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const verificationRecordVersionV1 = 1

var (
	errVerificationNotFound         = errors.New("verification record not found")
	errVerificationAttemptsExceeded = errors.New("verification attempts exceeded")
	errVerificationResendLimit      = errors.New("verification resend limit reached")
	errVerificationResendCooldown   = errors.New("verification resend cooldown active")
	errVerificationRedisUnavailable = errors.New("verification redis unavailable")
)

// verificationRecord is one pending code challenge, keyed by subject. A
// subject has at most one live record; starting a new challenge replaces
// the old one.
type verificationRecord struct {
	Intent  Intent
	Channel Channel

	// Token is the opaque caller-held handle; resend and verify must echo
	// it back.
	Token string
	// Code is the expected entry for the email channel. Empty for phone
	// (the provider holds the code) and totp (derived per slot).
	Code string
	// ProviderSID is the phone provider's verification-session id.
	ProviderSID string
	// OwnerID binds account-bound intents to the requesting account.
	OwnerID string

	Attempts    uint16
	ResendCount uint16
	LastSentAt  int64
	ExpiresAt   int64
}

// verificationStore holds pending challenges in Redis. All read-modify-
// write paths go through optimistic WATCH transactions so concurrent
// failures never lose an attempt increment.
type verificationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newVerificationStore(redisClient redis.UniversalClient, prefix string) *verificationStore {
	return &verificationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *verificationStore) key(subject string) string {
	return s.prefix + subject
}

func (s *verificationStore) Save(ctx context.Context, subject string, rec *verificationRecord) error {
	encoded, err := encodeVerificationRecord(rec)
	if err != nil {
		return err
	}

	ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
	if ttl <= 0 {
		return errVerificationNotFound
	}

	if err := s.redis.Set(ctx, s.key(subject), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errVerificationRedisUnavailable, err)
	}

	return nil
}

// Get loads the pending record for subject. Expired records are removed
// and reported as not found.
func (s *verificationStore) Get(ctx context.Context, subject string) (*verificationRecord, error) {
	data, err := s.redis.Get(ctx, s.key(subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errVerificationNotFound
		}
		return nil, fmt.Errorf("%w: %v", errVerificationRedisUnavailable, err)
	}

	rec, err := decodeVerificationRecord(data)
	if err != nil {
		return nil, err
	}

	if time.Now().Unix() > rec.ExpiresAt {
		if err := s.Delete(ctx, subject); err != nil {
			return nil, err
		}
		return nil, errVerificationNotFound
	}

	return rec, nil
}

// RecordFailure counts one wrong entry. The failure that reaches
// maxAttempts destroys the record and reports errVerificationAttemptsExceeded;
// earlier failures keep the record with its remaining TTL.
func (s *verificationStore) RecordFailure(ctx context.Context, subject string, maxAttempts int) error {
	const maxRetries = 4
	key := s.key(subject)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeVerificationRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > rec.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return errVerificationNotFound
			}

			rec.Attempts++
			if int(rec.Attempts) >= maxAttempts {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return errVerificationAttemptsExceeded
			}

			ttl := time.Until(time.Unix(rec.ExpiresAt, 0))
			if ttl <= 0 {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return errVerificationNotFound
			}

			updated, err := encodeVerificationRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return errVerificationNotFound
			case errors.Is(err, errVerificationNotFound),
				errors.Is(err, errVerificationAttemptsExceeded):
				return err
			default:
				return fmt.Errorf("%w: %v", errVerificationRedisUnavailable, err)
			}
		}
		return nil
	}

	return errVerificationNotFound
}

// MarkResent counts one resend. It enforces the cooldown since the last
// send and the strict resend cap, updates LastSentAt, and restarts the
// record's TTL so the re-delivered code lives a full window again.
func (s *verificationStore) MarkResent(ctx context.Context, subject string, maxResends int, cooldown, ttl time.Duration) (*verificationRecord, error) {
	const maxRetries = 4
	key := s.key(subject)

	for i := 0; i < maxRetries; i++ {
		var out *verificationRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			rec, err := decodeVerificationRecord(data)
			if err != nil {
				return err
			}

			now := time.Now()
			if now.Unix() > rec.ExpiresAt {
				if err := txDelete(ctx, tx, key); err != nil {
					return err
				}
				return errVerificationNotFound
			}

			if int(rec.ResendCount) >= maxResends {
				return errVerificationResendLimit
			}
			if now.Before(time.Unix(rec.LastSentAt, 0).Add(cooldown)) {
				return errVerificationResendCooldown
			}

			rec.ResendCount++
			rec.LastSentAt = now.Unix()
			rec.ExpiresAt = now.Add(ttl).Unix()

			updated, err := encodeVerificationRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			if err == nil {
				out = rec
			}
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errVerificationNotFound
			case errors.Is(err, errVerificationNotFound),
				errors.Is(err, errVerificationResendLimit),
				errors.Is(err, errVerificationResendCooldown):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errVerificationRedisUnavailable, err)
			}
		}
		return out, nil
	}

	return nil, errVerificationNotFound
}

func (s *verificationStore) Delete(ctx context.Context, subject string) error {
	if err := s.redis.Del(ctx, s.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errVerificationRedisUnavailable, err)
	}
	return nil
}

func txDelete(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeVerificationRecord(rec *verificationRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(verificationRecordVersionV1)
	buf.WriteByte(byte(rec.Intent))
	buf.WriteByte(byte(rec.Channel))

	if err := binary.Write(&buf, binary.BigEndian, rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ResendCount); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.LastSentAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{rec.Token, rec.Code, rec.ProviderSID, rec.OwnerID} {
		if len(field) > 65535 {
			return nil, errors.New("verification record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeVerificationRecord(data []byte) (*verificationRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != verificationRecordVersionV1 {
		return nil, errors.New("invalid verification record version")
	}

	intent, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	channel, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	rec := &verificationRecord{
		Intent:  Intent(intent),
		Channel: Channel(channel),
	}

	if err := binary.Read(reader, binary.BigEndian, &rec.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ResendCount); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.LastSentAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, err
	}

	for _, dst := range []*string{&rec.Token, &rec.Code, &rec.ProviderSID, &rec.OwnerID} {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		*dst = string(field)
	}

	return rec, nil
}
