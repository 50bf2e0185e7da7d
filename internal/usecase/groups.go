package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/repository"
)

// GroupRepository defines the storage operations for instructor-facing views.
type GroupRepository interface {
	CreateGroup(ctx context.Context, group *repository.Group) error
	ListGroupsByInstructor(ctx context.Context, instructorID string) ([]repository.Group, error)
	ListStudentsByGroup(ctx context.Context, groupID uint) ([]repository.Student, error)
	CountStudentsByGroup(ctx context.Context, groupIDs []uint) (map[uint]int64, error)
	CountPresentByGroup(ctx context.Context, groupIDs []uint, from, to time.Time) (map[uint]int64, error)
	PresentStudents(ctx context.Context, groupID uint, from, to time.Time) ([]repository.Student, error)
}

// GroupService manages instructor groups and their attendance reports.
type GroupService struct {
	repo   GroupRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewGroupService(repo GroupRepository, logger *zap.Logger) *GroupService {
	return &GroupService{
		repo:   repo,
		logger: logger.Named("group_usecase"),
		now:    time.Now,
	}
}

// NewGroup holds the fields an instructor submits to create a group.
type NewGroup struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Department  string `json:"department"`
	Class       string `json:"class"`
	Section     string `json:"section"`
}

// GroupSummary is a group with its enrollment and today's attendance counts.
type GroupSummary struct {
	repository.Group
	StudentCount int64 `json:"student_count"`
	PresentToday int64 `json:"present_today"`
}

// CreateGroup creates a group owned by the caller with fresh registration
// and attendance links.
func (s *GroupService) CreateGroup(ctx context.Context, caller Caller, in NewGroup) (*repository.Group, error) {
	if !caller.IsInstructor() {
		return nil, ErrForbidden
	}
	ctx, requestID := ensureRequestID(ctx)

	group := &repository.Group{
		Name:         sanitize(in.Name),
		Description:  sanitize(in.Description),
		Department:   sanitize(in.Department),
		ClassName:    sanitize(in.Class),
		Section:      sanitize(in.Section),
		InstructorID: caller.ID,
		CreatedAt:    s.now().UTC(),
	}
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"name", group.Name},
		{"department", group.Department},
		{"class", group.ClassName},
		{"section", group.Section},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	group.RegistrationLink = newLinkToken()
	group.AttendanceLink = newLinkToken()
	if err := s.repo.CreateGroup(ctx, group); err != nil {
		logging.WithOperation(s.logger, "usecase.create_group", requestID).Error("failed to create group", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return group, nil
}

// ListGroups returns the caller's groups with student and present-today counts.
func (s *GroupService) ListGroups(ctx context.Context, caller Caller) ([]GroupSummary, error) {
	if !caller.IsInstructor() {
		return nil, ErrForbidden
	}
	groups, err := s.repo.ListGroupsByInstructor(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	ids := groupIDs(groups)
	students, err := s.repo.CountStudentsByGroup(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	from, to := dayBounds(s.now())
	present, err := s.repo.CountPresentByGroup(ctx, ids, from, to)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	summaries := make([]GroupSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, GroupSummary{
			Group:        g,
			StudentCount: students[g.ID],
			PresentToday: present[g.ID],
		})
	}
	return summaries, nil
}

func newLinkToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func groupIDs(groups []repository.Group) []uint {
	ids := make([]uint, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids
}

// dayBounds returns the UTC calendar day containing t as [from, to).
func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}
