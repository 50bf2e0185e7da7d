// Package repository stores groups, student profiles and attendance events.
package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/face-attendance/internal/logging"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique index.
	ErrDuplicate = errors.New("duplicate record")
)

// Repository provides persistence APIs for the attendance domain.
type Repository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRepository creates a new repository instance.
func NewRepository(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:             db,
		logger:         logger.Named("repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&Group{}, &Student{}, &Attendance{})
}

func (r *Repository) CreateGroup(ctx context.Context, group *Group) error {
	return r.executeOnce(ctx, "repository.create_group", logging.RequestIDFromContext(ctx), func() error {
		return translate(r.db.WithContext(ctx).Create(group).Error)
	})
}

func (r *Repository) FindGroupByRegistrationLink(ctx context.Context, link string) (*Group, error) {
	return r.findGroup(ctx, "repository.find_group_by_registration_link", "registration_link = ?", link)
}

func (r *Repository) FindGroupByAttendanceLink(ctx context.Context, link string) (*Group, error) {
	return r.findGroup(ctx, "repository.find_group_by_attendance_link", "attendance_link = ?", link)
}

func (r *Repository) FindGroup(ctx context.Context, id uint) (*Group, error) {
	return r.findGroup(ctx, "repository.find_group", "id = ?", id)
}

func (r *Repository) findGroup(ctx context.Context, operation, query string, arg interface{}) (*Group, error) {
	var group Group
	err := r.executeWithRetry(ctx, operation, logging.RequestIDFromContext(ctx), func() error {
		return translate(r.db.WithContext(ctx).Where(query, arg).First(&group).Error)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// ListGroupsByInstructor returns the instructor's groups ordered by creation.
func (r *Repository) ListGroupsByInstructor(ctx context.Context, instructorID string) ([]Group, error) {
	var groups []Group
	err := r.executeWithRetry(ctx, "repository.list_groups", logging.RequestIDFromContext(ctx), func() error {
		groups = nil
		return r.db.WithContext(ctx).Where("instructor_id = ?", instructorID).Order("id").Find(&groups).Error
	})
	return groups, err
}

// CreateStudent inserts the profile. A concurrent registration of the same
// (student_id, group_id) fails here with ErrDuplicate. The insert is not
// retried: after a timeout the row may or may not exist.
func (r *Repository) CreateStudent(ctx context.Context, student *Student) error {
	return r.executeOnce(ctx, "repository.create_student", logging.RequestIDFromContext(ctx), func() error {
		return translate(r.db.WithContext(ctx).Create(student).Error)
	})
}

func (r *Repository) FindStudent(ctx context.Context, studentID string, groupID uint) (*Student, error) {
	var student Student
	err := r.executeWithRetry(ctx, "repository.find_student", logging.RequestIDFromContext(ctx), func() error {
		return translate(r.db.WithContext(ctx).
			Where("student_id = ? AND group_id = ?", studentID, groupID).
			First(&student).Error)
	})
	if err != nil {
		return nil, err
	}
	return &student, nil
}

// ListStudents returns every registered student in primary key order.
func (r *Repository) ListStudents(ctx context.Context) ([]Student, error) {
	var students []Student
	err := r.executeWithRetry(ctx, "repository.list_students", logging.RequestIDFromContext(ctx), func() error {
		students = nil
		return r.db.WithContext(ctx).Order("id").Find(&students).Error
	})
	return students, err
}

func (r *Repository) ListStudentsByGroup(ctx context.Context, groupID uint) ([]Student, error) {
	var students []Student
	err := r.executeWithRetry(ctx, "repository.list_students_by_group", logging.RequestIDFromContext(ctx), func() error {
		students = nil
		return r.db.WithContext(ctx).Where("group_id = ?", groupID).Order("id").Find(&students).Error
	})
	return students, err
}

type groupCount struct {
	GroupID uint
	Count   int64
}

// CountStudentsByGroup returns registered students per group id.
func (r *Repository) CountStudentsByGroup(ctx context.Context, groupIDs []uint) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(groupIDs))
	if len(groupIDs) == 0 {
		return counts, nil
	}
	var rows []groupCount
	err := r.executeWithRetry(ctx, "repository.count_students", logging.RequestIDFromContext(ctx), func() error {
		rows = nil
		return r.db.WithContext(ctx).Model(&Student{}).
			Select("group_id, COUNT(*) AS count").
			Where("group_id IN ?", groupIDs).
			Group("group_id").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.GroupID] = row.Count
	}
	return counts, nil
}

// CreateAttendance appends an attendance event. No deduplication is applied.
func (r *Repository) CreateAttendance(ctx context.Context, attendance *Attendance) error {
	return r.executeOnce(ctx, "repository.create_attendance", logging.RequestIDFromContext(ctx), func() error {
		return r.db.WithContext(ctx).Create(attendance).Error
	})
}

// PresentStudents returns each student of the group with at least one
// "present" event in [from, to), once, in primary key order.
func (r *Repository) PresentStudents(ctx context.Context, groupID uint, from, to time.Time) ([]Student, error) {
	var students []Student
	err := r.executeWithRetry(ctx, "repository.present_students", logging.RequestIDFromContext(ctx), func() error {
		students = nil
		present := r.db.Model(&Attendance{}).
			Select("student_id").
			Where("status = ? AND timestamp >= ? AND timestamp < ?", AttendanceStatusPresent, from, to)
		return r.db.WithContext(ctx).
			Where("group_id = ? AND id IN (?)", groupID, present).
			Order("id").
			Find(&students).Error
	})
	return students, err
}

// CountPresentByGroup counts distinct present students per group in [from, to).
func (r *Repository) CountPresentByGroup(ctx context.Context, groupIDs []uint, from, to time.Time) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(groupIDs))
	if len(groupIDs) == 0 {
		return counts, nil
	}
	var rows []groupCount
	err := r.executeWithRetry(ctx, "repository.count_present", logging.RequestIDFromContext(ctx), func() error {
		rows = nil
		return r.db.WithContext(ctx).Table("students").
			Select("students.group_id AS group_id, COUNT(DISTINCT students.id) AS count").
			Joins("JOIN attendances ON attendances.student_id = students.id").
			Where("students.group_id IN ? AND attendances.status = ? AND attendances.timestamp >= ? AND attendances.timestamp < ?",
				groupIDs, AttendanceStatusPresent, from, to).
			Group("students.group_id").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.GroupID] = row.Count
	}
	return counts, nil
}

// executeOnce runs a write exactly once. Inserts are not idempotent, so a
// transient failure is reported to the caller instead of being replayed.
func (r *Repository) executeOnce(ctx context.Context, operation, requestID string, fn func() error) error {
	err := fn()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate):
		return err
	}
	logging.WithOperation(r.logger, operation, requestID).Error("database write failed",
		zap.Error(err), zap.Bool("transient", isTransientError(err)))
	return logging.NewRetriedError(operation, requestID, 1, err)
}

// executeWithRetry retries idempotent reads on transient errors.
func (r *Repository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicate) {
			return err
		}
		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewRetriedError(operation, requestID, attempt+1, err)
		}
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewRetriedError(operation, requestID, r.retryAttempts, err)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err):
		return ErrDuplicate
	}
	return err
}

// isUniqueViolation covers drivers without gorm's error translator.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}
	return false
}
