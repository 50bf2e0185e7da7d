// Package reconcile removes encoding sets that have no student record, which
// is what a crash between the two enrollment writes leaves behind.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/encodingstore"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/repository"
)

// StudentLookup is the profile storage query the sweep needs.
type StudentLookup interface {
	FindStudent(ctx context.Context, studentID string, groupID uint) (*repository.Student, error)
}

// Sweeper deletes orphaned encoding sets older than the grace period. The
// grace period keeps it away from enrollments still in flight.
type Sweeper struct {
	store  encodingstore.Store
	repo   StudentLookup
	grace  time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewSweeper(store encodingstore.Store, repo StudentLookup, grace time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		repo:   repo,
		grace:  grace,
		logger: logger.Named("reconcile"),
		now:    time.Now,
	}
}

// Sweep runs one pass and returns the number of deleted encoding sets.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	opLogger := logging.WithOperation(s.logger, "reconcile.sweep", logging.RequestIDFromContext(ctx))

	objects, err := s.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing encodings: %w", err)
	}

	cutoff := s.now().Add(-s.grace)
	removed := 0
	var errs []error
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if obj.Modified.After(cutoff) {
			continue
		}
		_, err := s.repo.FindStudent(ctx, obj.Key.StudentID, obj.Key.GroupID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, repository.ErrNotFound):
			errs = append(errs, fmt.Errorf("looking up %s: %w", obj.Key, err))
			continue
		}

		if err := s.store.Delete(ctx, obj.Key); err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", obj.Key, err))
			continue
		}
		removed++
		opLogger.Info("removed orphaned encodings", logging.EncodingKey(obj.Key), zap.Time("modified", obj.Modified))
	}

	opLogger.Info("sweep complete", zap.Int("scanned", len(objects)), zap.Int("removed", removed))
	return removed, errors.Join(errs...)
}

// Schedule runs Sweep on the cron expression until the returned scheduler is stopped.
func (s *Sweeper) Schedule(ctx context.Context, cronExpr string) (*gocron.Scheduler, error) {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()
	_, err := scheduler.Cron(cronExpr).Do(func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("reconciliation sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling sweep %q: %w", cronExpr, err)
	}
	scheduler.StartAsync()
	return scheduler, nil
}
