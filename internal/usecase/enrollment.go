package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/encodingstore"
	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/imageprocessor"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/repository"
)

// EnrollmentRepository defines the profile storage operations enrollment needs.
type EnrollmentRepository interface {
	FindGroupByRegistrationLink(ctx context.Context, link string) (*repository.Group, error)
	FindStudent(ctx context.Context, studentID string, groupID uint) (*repository.Student, error)
	CreateStudent(ctx context.Context, student *repository.Student) error
}

// Locker serialises work on one EncodingKey.
type Locker interface {
	Acquire(ctx context.Context, key face.EncodingKey) (release func(), err error)
}

// RegisterRequest is one student's enrollment submission.
type RegisterRequest struct {
	StudentID string
	GroupID   uint
	Profile   Profile
	Images    [][]byte
}

// RegistrationStatus reports whether an EncodingSet is stored for a key.
type RegistrationStatus struct {
	StudentID  string `json:"student_id"`
	GroupID    uint   `json:"group_id"`
	Registered bool   `json:"registered"`
	Encodings  int    `json:"encodings"`
}

// EnrollmentService extracts and stores encoding sets and creates student records.
type EnrollmentService struct {
	repo      EnrollmentRepository
	store     encodingstore.Store
	extractor imageprocessor.Extractor
	lock      Locker
	logger    *zap.Logger
}

// NewEnrollmentService constructs the service. lock may be nil.
func NewEnrollmentService(repo EnrollmentRepository, store encodingstore.Store, extractor imageprocessor.Extractor, lock Locker, logger *zap.Logger) *EnrollmentService {
	return &EnrollmentService{
		repo:      repo,
		store:     store,
		extractor: extractor,
		lock:      lock,
		logger:    logger.Named("enrollment_usecase"),
	}
}

// GroupForRegistration resolves a public registration link.
func (s *EnrollmentService) GroupForRegistration(ctx context.Context, link string) (*repository.Group, error) {
	return resolveGroup(ctx, link, s.repo.FindGroupByRegistrationLink)
}

// Register enrolls a student. The encoding set is written before the student
// record, and removed again if the record cannot be created, so neither
// exists without the other.
func (s *EnrollmentService) Register(ctx context.Context, req RegisterRequest) (*repository.Student, error) {
	ctx, requestID := ensureRequestID(ctx)
	opLogger := logging.WithOperation(s.logger, "usecase.register", requestID)

	profile := req.Profile.normalized()
	studentID := sanitize(req.StudentID)
	missing := profile.missingFields()
	if studentID == "" {
		missing = append([]string{"student_id"}, missing...)
	}
	if req.GroupID == 0 {
		missing = append(missing, "group_id")
	}
	if len(req.Images) == 0 {
		missing = append(missing, "images")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	key := face.EncodingKey{StudentID: studentID, GroupID: req.GroupID}
	opLogger = opLogger.With(logging.EncodingKey(key))

	if s.lock != nil {
		release, err := s.lock.Acquire(ctx, key)
		switch {
		case errors.Is(err, errLockHeld):
			opLogger.Info("concurrent registration in progress")
			return nil, ErrRegistrationInProgress
		case err != nil:
			opLogger.Warn("registration lock unavailable, relying on storage constraints", zap.Error(err))
		default:
			defer release()
		}
	}

	if err := s.checkNotRegistered(ctx, key); err != nil {
		return nil, err
	}

	set := make(face.EncodingSet, 0, len(req.Images))
	for i, image := range req.Images {
		descriptor, ok, err := firstDescriptor(ctx, s.extractor, image)
		if err != nil {
			opLogger.Warn("descriptor extraction failed", zap.Int("image", i), zap.Error(err))
			return nil, err
		}
		if !ok {
			opLogger.Debug("no face in image, skipping", zap.Int("image", i))
			continue
		}
		set = append(set, descriptor)
	}
	if len(set) == 0 {
		return nil, ErrNoFaceDetected
	}

	if err := s.store.Create(ctx, key, set); err != nil {
		if errors.Is(err, encodingstore.ErrExists) {
			return nil, ErrDuplicateRegistration
		}
		opLogger.Error("failed to persist encodings", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	student := &repository.Student{
		StudentID:        studentID,
		GroupID:          req.GroupID,
		Name:             profile.Name,
		Email:            profile.Email,
		Department:       profile.Department,
		Phone:            profile.Phone,
		FaceEncodingFile: encodingstore.ObjectName(key),
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.CreateStudent(ctx, student); err != nil {
		return s.recoverStudentInsert(ctx, opLogger, key, err)
	}

	opLogger.Info("student registered", zap.Int("encodings", len(set)))
	return student, nil
}

// recoverStudentInsert settles a failed student insert that followed a
// successful encoding write. A failed insert may still have committed, so the
// row is looked up before the encodings are removed.
func (s *EnrollmentService) recoverStudentInsert(ctx context.Context, opLogger *zap.Logger, key face.EncodingKey, insertErr error) (*repository.Student, error) {
	if errors.Is(insertErr, repository.ErrDuplicate) {
		s.removeEncodings(ctx, opLogger, key)
		return nil, ErrDuplicateRegistration
	}

	existing, err := s.repo.FindStudent(ctx, key.StudentID, key.GroupID)
	switch {
	case err == nil:
		opLogger.Warn("student insert reported failure but committed", zap.Error(insertErr))
		return existing, nil
	case errors.Is(err, repository.ErrNotFound):
		opLogger.Error("failed to create student record", zap.Error(insertErr))
		s.removeEncodings(ctx, opLogger, key)
	default:
		opLogger.Error("student insert outcome unknown, encodings left for reconciliation",
			zap.Error(insertErr), zap.NamedError("lookup_error", err))
	}
	return nil, fmt.Errorf("%w: %w", ErrPersistence, insertErr)
}

// removeEncodings deletes the set this registration wrote. Stores without an
// exclusive Create may hold another registration's set under the same key,
// so theirs are left to the reconciliation sweep, which only removes sets
// without a student record.
func (s *EnrollmentService) removeEncodings(ctx context.Context, opLogger *zap.Logger, key face.EncodingKey) {
	if !encodingstore.CreateIsExclusive(s.store) {
		opLogger.Warn("encoding store create is not exclusive, leaving encodings for reconciliation")
		return
	}
	if err := s.store.Delete(ctx, key); err != nil {
		opLogger.Error("failed to remove encodings after student insert failed", zap.Error(err))
	}
}

// checkNotRegistered is the advisory duplicate check that runs before the
// comparatively expensive extraction.
func (s *EnrollmentService) checkNotRegistered(ctx context.Context, key face.EncodingKey) error {
	exists, err := s.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if exists {
		return ErrDuplicateRegistration
	}

	_, err = s.repo.FindStudent(ctx, key.StudentID, key.GroupID)
	switch {
	case err == nil:
		return ErrDuplicateRegistration
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

// Status reports whether the student has a stored encoding set in the group.
func (s *EnrollmentService) Status(ctx context.Context, studentID string, groupID uint) (*RegistrationStatus, error) {
	key := face.EncodingKey{StudentID: sanitize(studentID), GroupID: groupID}
	if err := key.Validate(); err != nil {
		return nil, &ValidationError{Fields: []string{"student_id"}}
	}
	set, err := s.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return &RegistrationStatus{
		StudentID:  key.StudentID,
		GroupID:    key.GroupID,
		Registered: len(set) > 0,
		Encodings:  len(set),
	}, nil
}

func resolveGroup(ctx context.Context, link string, find func(context.Context, string) (*repository.Group, error)) (*repository.Group, error) {
	if link == "" {
		return nil, ErrGroupNotFound
	}
	group, err := find(ctx, link)
	switch {
	case err == nil:
		return group, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrGroupNotFound
	default:
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
}

func ensureRequestID(ctx context.Context) (context.Context, string) {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return logging.ContextWithRequestID(ctx, id), id
}
