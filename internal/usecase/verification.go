package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/face-attendance/internal/encodingstore"
	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/imageprocessor"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/repository"
)

const (
	candidateTTL           = 10 * time.Minute
	defaultIdentifyWorkers = 8
)

// VerificationRepository defines the profile storage operations verification needs.
type VerificationRepository interface {
	FindGroupByAttendanceLink(ctx context.Context, link string) (*repository.Group, error)
	FindStudent(ctx context.Context, studentID string, groupID uint) (*repository.Student, error)
	ListStudents(ctx context.Context) ([]repository.Student, error)
	CreateAttendance(ctx context.Context, attendance *repository.Attendance) error
}

// VerificationService matches probe images against stored encoding sets.
type VerificationService struct {
	repo      VerificationRepository
	store     encodingstore.Store
	extractor imageprocessor.Extractor
	matcher   *face.Matcher
	cache     Cache
	retrier   redisRetrier
	workers   int
	logger    *zap.Logger
	now       func() time.Time
}

// VerificationOption customises a VerificationService.
type VerificationOption func(*VerificationService)

// WithCandidateCache remembers identification results so that Confirm can
// check a student against them.
func WithCandidateCache(cache Cache) VerificationOption {
	return func(s *VerificationService) { s.cache = cache }
}

// WithIdentifyWorkers bounds how many encoding sets Identify loads at once.
func WithIdentifyWorkers(n int) VerificationOption {
	return func(s *VerificationService) {
		if n > 0 {
			s.workers = n
		}
	}
}

func withClock(now func() time.Time) VerificationOption {
	return func(s *VerificationService) { s.now = now }
}

// NewVerificationService constructs the service.
func NewVerificationService(repo VerificationRepository, store encodingstore.Store, extractor imageprocessor.Extractor, matcher *face.Matcher, logger *zap.Logger, opts ...VerificationOption) *VerificationService {
	named := logger.Named("verification_usecase")
	s := &VerificationService{
		repo:      repo,
		store:     store,
		extractor: extractor,
		matcher:   matcher,
		retrier:   newRedisRetrier(named),
		workers:   defaultIdentifyWorkers,
		logger:    named,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyResult is a successful 1:1 verification.
type VerifyResult struct {
	Student    *repository.Student
	Attendance *repository.Attendance
	Distance   float64
}

// Candidate is one student matched by Identify.
type Candidate struct {
	ID        uint    `json:"id"`
	StudentID string  `json:"student_id"`
	GroupID   uint    `json:"group_id"`
	Name      string  `json:"name"`
	Distance  float64 `json:"distance"`
}

// Identification is the outcome of a 1:N search. ID is empty when no
// candidate cache is configured.
type Identification struct {
	ID         string      `json:"identification_id,omitempty"`
	Candidates []Candidate `json:"matched_students"`
}

// ConfirmRequest commits attendance for a student, optionally one returned by
// an earlier identification.
type ConfirmRequest struct {
	StudentID        string
	GroupID          uint
	IdentificationID string
}

// GroupForAttendance resolves a public attendance link.
func (s *VerificationService) GroupForAttendance(ctx context.Context, link string) (*repository.Group, error) {
	return resolveGroup(ctx, link, s.repo.FindGroupByAttendanceLink)
}

// Verify matches image against the stored set of one student and records
// an attendance event on success.
func (s *VerificationService) Verify(ctx context.Context, studentID string, groupID uint, image []byte) (*VerifyResult, error) {
	ctx, requestID := ensureRequestID(ctx)
	studentID = sanitize(studentID)
	var missing []string
	if studentID == "" {
		missing = append(missing, "student_id")
	}
	if groupID == 0 {
		missing = append(missing, "group_id")
	}
	if len(image) == 0 {
		missing = append(missing, "image")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	key := face.EncodingKey{StudentID: studentID, GroupID: groupID}
	opLogger := logging.WithOperation(s.logger, "usecase.verify", requestID).With(logging.EncodingKey(key))

	probe, ok, err := firstDescriptor(ctx, s.extractor, image)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoFaceDetected
	}

	student, err := s.repo.FindStudent(ctx, studentID, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	known, err := s.store.Load(ctx, key)
	if err != nil {
		opLogger.Error("failed to load encodings", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if len(known) == 0 {
		return nil, ErrNotRegistered
	}

	distance, _ := s.matcher.BestDistance(known, probe)
	if !s.matcher.Match(known, probe) {
		opLogger.Info("face did not match", zap.Float64("distance", distance))
		return nil, ErrNoMatch
	}

	attendance, err := s.recordPresence(ctx, student)
	if err != nil {
		opLogger.Error("failed to record attendance", zap.Error(err))
		return nil, err
	}
	opLogger.Info("attendance marked", zap.Float64("distance", distance))
	return &VerifyResult{Student: student, Attendance: attendance, Distance: distance}, nil
}

// Identify searches every enrolled student for matches to image. All matches
// are returned in scan order. No attendance is written.
func (s *VerificationService) Identify(ctx context.Context, caller Caller, image []byte) (*Identification, error) {
	if !caller.IsInstructor() {
		return nil, ErrForbidden
	}
	ctx, requestID := ensureRequestID(ctx)
	opLogger := logging.WithOperation(s.logger, "usecase.identify", requestID)

	if len(image) == 0 {
		return nil, &ValidationError{Fields: []string{"image"}}
	}
	probe, ok, err := firstDescriptor(ctx, s.extractor, image)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoFaceDetected
	}

	students, err := s.repo.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	matches := make([]*Candidate, len(students))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range students {
		i, student := i, students[i]
		g.Go(func() error {
			key := face.EncodingKey{StudentID: student.StudentID, GroupID: student.GroupID}
			known, err := s.store.Load(gctx, key)
			if err != nil {
				if errors.Is(err, encodingstore.ErrCorrupt) {
					opLogger.Warn("skipping corrupt encodings", logging.EncodingKey(key), zap.Error(err))
					return nil
				}
				return err
			}
			if !s.matcher.Match(known, probe) {
				return nil
			}
			distance, _ := s.matcher.BestDistance(known, probe)
			matches[i] = &Candidate{
				ID:        student.ID,
				StudentID: student.StudentID,
				GroupID:   student.GroupID,
				Name:      student.Name,
				Distance:  distance,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		opLogger.Error("identification scan failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	result := &Identification{}
	for _, m := range matches {
		if m != nil {
			result.Candidates = append(result.Candidates, *m)
		}
	}
	if len(result.Candidates) == 0 {
		opLogger.Info("no enrolled student matched", zap.Int("scanned", len(students)))
		return nil, ErrNoMatch
	}

	if s.cache != nil {
		id := uuid.NewString()
		if err := s.storeCandidates(ctx, requestID, id, result.Candidates); err != nil {
			opLogger.Warn("failed to cache identification candidates", zap.Error(err))
		} else {
			result.ID = id
		}
	}
	opLogger.Info("identification complete", zap.Int("scanned", len(students)), zap.Int("matched", len(result.Candidates)))
	return result, nil
}

// Confirm records attendance for a student picked by an instructor.
func (s *VerificationService) Confirm(ctx context.Context, caller Caller, req ConfirmRequest) (*VerifyResult, error) {
	if !caller.IsInstructor() {
		return nil, ErrForbidden
	}
	ctx, requestID := ensureRequestID(ctx)
	opLogger := logging.WithOperation(s.logger, "usecase.confirm", requestID)

	studentID := sanitize(req.StudentID)
	if studentID == "" {
		return nil, &ValidationError{Fields: []string{"student_id"}}
	}
	groupID := req.GroupID

	if req.IdentificationID != "" {
		candidates, err := s.loadCandidates(ctx, requestID, req.IdentificationID)
		if err != nil {
			return nil, err
		}
		candidate, ok := pickCandidate(candidates, studentID, groupID)
		if !ok {
			return nil, ErrCandidateNotConfirmable
		}
		groupID = candidate.GroupID
	}
	if groupID == 0 {
		return nil, &ValidationError{Fields: []string{"group_id"}}
	}

	student, err := s.repo.FindStudent(ctx, studentID, groupID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrStudentNotFound
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	attendance, err := s.recordPresence(ctx, student)
	if err != nil {
		opLogger.Error("failed to record attendance", zap.Error(err))
		return nil, err
	}
	opLogger.Info("attendance confirmed", zap.String("student_id", student.StudentID), zap.Uint("group_id", student.GroupID), zap.String("confirmed_by", caller.ID))
	return &VerifyResult{Student: student, Attendance: attendance}, nil
}

func (s *VerificationService) recordPresence(ctx context.Context, student *repository.Student) (*repository.Attendance, error) {
	attendance := &repository.Attendance{
		StudentID: student.ID,
		Timestamp: s.now().UTC(),
		Status:    repository.AttendanceStatusPresent,
	}
	if err := s.repo.CreateAttendance(ctx, attendance); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return attendance, nil
}

func candidateKey(id string) string {
	return fmt.Sprintf("identification:%s", id)
}

func (s *VerificationService) storeCandidates(ctx context.Context, requestID, id string, candidates []Candidate) error {
	serialized, err := json.Marshal(candidates)
	if err != nil {
		return err
	}
	return s.retrier.do(ctx, requestID, "cache.set.candidates", func() error {
		return s.cache.Set(ctx, candidateKey(id), string(serialized), candidateTTL)
	})
}

func (s *VerificationService) loadCandidates(ctx context.Context, requestID, id string) ([]Candidate, error) {
	if s.cache == nil {
		return nil, ErrCandidateNotConfirmable
	}
	cached, err := s.retrier.get(ctx, s.cache, requestID, "cache.get.candidates", candidateKey(id))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrCandidateNotConfirmable
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	var candidates []Candidate
	if err := json.Unmarshal([]byte(cached), &candidates); err != nil {
		return nil, fmt.Errorf("%w: decoding cached candidates: %w", ErrPersistence, err)
	}
	return candidates, nil
}

// pickCandidate finds studentID among candidates. groupID 0 matches any group
// as long as the choice is unambiguous.
func pickCandidate(candidates []Candidate, studentID string, groupID uint) (Candidate, bool) {
	var found []Candidate
	for _, c := range candidates {
		if c.StudentID == studentID && (groupID == 0 || c.GroupID == groupID) {
			found = append(found, c)
		}
	}
	if len(found) != 1 {
		return Candidate{}, false
	}
	return found[0], true
}
