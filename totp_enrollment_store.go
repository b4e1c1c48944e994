package stepauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	errEnrollmentNotFound         = errors.New("totp enrollment not found")
	errEnrollmentRedisUnavailable = errors.New("totp enrollment redis unavailable")
)

// totpEnrollmentStore holds begun-but-unconfirmed authenticator key
// material. The account key only moves to the durable store once the user
// proves the app produces matching codes.
type totpEnrollmentStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newTOTPEnrollmentStore(redisClient redis.UniversalClient, prefix string) *totpEnrollmentStore {
	return &totpEnrollmentStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *totpEnrollmentStore) key(accountID string) string {
	return s.prefix + "enroll:" + accountID
}

func (s *totpEnrollmentStore) Save(ctx context.Context, accountID string, accountKey []byte, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(accountID), accountKey, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errEnrollmentRedisUnavailable, err)
	}
	return nil
}

func (s *totpEnrollmentStore) Get(ctx context.Context, accountID string) ([]byte, error) {
	data, err := s.redis.Get(ctx, s.key(accountID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errEnrollmentNotFound
		}
		return nil, fmt.Errorf("%w: %v", errEnrollmentRedisUnavailable, err)
	}
	return data, nil
}

func (s *totpEnrollmentStore) Delete(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errEnrollmentRedisUnavailable, err)
	}
	return nil
}
