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

const mfaLoginRecordVersionV1 = 1

var (
	errMFALoginNotFound         = errors.New("mfa login challenge not found")
	errMFALoginRedisUnavailable = errors.New("mfa login redis unavailable")
)

// mfaLoginRecord bridges a password login that still owes a second factor.
// It pins the account and, once a method is chosen, the live verification
// challenge.
type mfaLoginRecord struct {
	AccountID string
	Method    MFAMethod
	// Subject and VerifyToken reference the verification challenge started
	// for the chosen method. Empty until RequestLoginMFA runs.
	Subject     string
	VerifyToken string
	Delivery    PhoneChannel
}

type mfaLoginStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newMFALoginStore(redisClient redis.UniversalClient, prefix string) *mfaLoginStore {
	return &mfaLoginStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *mfaLoginStore) key(token string) string {
	return s.prefix + token
}

func (s *mfaLoginStore) Save(ctx context.Context, token string, rec *mfaLoginRecord, ttl time.Duration) error {
	encoded, err := encodeMFALoginRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errMFALoginRedisUnavailable, err)
	}
	return nil
}

func (s *mfaLoginStore) Get(ctx context.Context, token string) (*mfaLoginRecord, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errMFALoginNotFound
		}
		return nil, fmt.Errorf("%w: %v", errMFALoginRedisUnavailable, err)
	}
	return decodeMFALoginRecord(data)
}

func (s *mfaLoginStore) Delete(ctx context.Context, token string) error {
	if err := s.redis.Del(ctx, s.key(token)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errMFALoginRedisUnavailable, err)
	}
	return nil
}

func encodeMFALoginRecord(rec *mfaLoginRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(mfaLoginRecordVersionV1)

	for _, field := range []string{rec.AccountID, string(rec.Method), rec.Subject, rec.VerifyToken, string(rec.Delivery)} {
		if len(field) > 65535 {
			return nil, errors.New("mfa login record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeMFALoginRecord(data []byte) (*mfaLoginRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil || version != mfaLoginRecordVersionV1 {
		return nil, errors.New("invalid mfa login record version")
	}

	fields := make([]string, 5)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		field := make([]byte, n)
		if _, err := io.ReadFull(reader, field); err != nil {
			return nil, err
		}
		fields[i] = string(field)
	}

	return &mfaLoginRecord{
		AccountID:   fields[0],
		Method:      MFAMethod(fields[1]),
		Subject:     fields[2],
		VerifyToken: fields[3],
		Delivery:    PhoneChannel(fields[4]),
	}, nil
}
