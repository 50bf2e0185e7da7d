package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/logging"
)

const registrationLockTTL = 30 * time.Second

// errLockHeld is returned when another registration for the same key is in flight.
var errLockHeld = errors.New("registration lock held")

// RegistrationLock serialises enrollments of one EncodingKey across replicas.
// It narrows the race window only; the store's Create and the unique index
// on students remain the authoritative duplicate checks.
type RegistrationLock struct {
	cache   Cache
	ttl     time.Duration
	retrier redisRetrier
}

func NewRegistrationLock(cache Cache, logger *zap.Logger) *RegistrationLock {
	return &RegistrationLock{
		cache:   cache,
		ttl:     registrationLockTTL,
		retrier: newRedisRetrier(logger.Named("registration_lock")),
	}
}

func lockKey(key face.EncodingKey) string {
	return fmt.Sprintf("enroll:%s:%d", key.StudentID, key.GroupID)
}

// Acquire takes the lock for key and returns its release function.
func (l *RegistrationLock) Acquire(ctx context.Context, key face.EncodingKey) (func(), error) {
	requestID := logging.RequestIDFromContext(ctx)
	name := lockKey(key)
	token := uuid.NewString()

	var acquired bool
	err := l.retrier.do(ctx, requestID, "lock.acquire", func() error {
		ok, err := l.cache.SetNX(ctx, name, token, l.ttl)
		acquired = ok
		return err
	})
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, errLockHeld
	}

	release := func() {
		// The lock may have expired and been taken by another request.
		current, err := l.cache.Get(context.Background(), name)
		if err != nil || current != token {
			return
		}
		if err := l.cache.Del(context.Background(), name); err != nil {
			logging.WithOperation(l.retrier.logger, "lock.release", requestID).Warn("failed to release registration lock", zap.Error(err))
		}
	}
	return release, nil
}
