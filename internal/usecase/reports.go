package usecase

import (
	"context"
	"fmt"
)

// PresentStudent is one entry of a daily report.
type PresentStudent struct {
	Name      string `json:"name"`
	StudentID string `json:"student_id"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// GroupReport lists who was present today in one group.
type GroupReport struct {
	GroupID         uint             `json:"group_id"`
	GroupName       string           `json:"group_name"`
	TotalStudents   int              `json:"total_students"`
	PresentCount    int              `json:"present_count"`
	PresentStudents []PresentStudent `json:"present_students"`
}

// DashboardStats summarises an instructor's groups.
type DashboardStats struct {
	TotalGroups       int64   `json:"totalGroups"`
	TotalStudents     int64   `json:"totalStudents"`
	OverallAttendance float64 `json:"overallAttendance"`
	ActiveLinks       int64   `json:"activeLinks"`
}

// DailyReport returns, per group of the caller, the students with at least
// one present event today (UTC). Repeated events count once.
func (s *GroupService) DailyReport(ctx context.Context, caller Caller) ([]GroupReport, error) {
	if !caller.IsInstructor() {
		return nil, ErrForbidden
	}
	groups, err := s.repo.ListGroupsByInstructor(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	from, to := dayBounds(s.now())

	report := make([]GroupReport, 0, len(groups))
	for _, g := range groups {
		students, err := s.repo.ListStudentsByGroup(ctx, g.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		present, err := s.repo.PresentStudents(ctx, g.ID, from, to)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		entry := GroupReport{
			GroupID:         g.ID,
			GroupName:       g.Name,
			TotalStudents:   len(students),
			PresentCount:    len(present),
			PresentStudents: make([]PresentStudent, 0, len(present)),
		}
		for _, st := range present {
			entry.PresentStudents = append(entry.PresentStudents, PresentStudent{
				Name:      st.Name,
				StudentID: st.StudentID,
				Email:     st.Email,
				Phone:     st.Phone,
			})
		}
		report = append(report, entry)
	}
	return report, nil
}

// DashboardStats aggregates the caller's groups. OverallAttendance is the
// share of enrolled students present today, in [0, 1].
func (s *GroupService) DashboardStats(ctx context.Context, caller Caller) (*DashboardStats, error) {
	if !caller.IsInstructor() {
		return nil, ErrForbidden
	}
	groups, err := s.repo.ListGroupsByInstructor(ctx, caller.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	stats := &DashboardStats{TotalGroups: int64(len(groups))}
	if len(groups) == 0 {
		return stats, nil
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

	var presentTotal int64
	for _, g := range groups {
		stats.TotalStudents += students[g.ID]
		presentTotal += present[g.ID]
		if g.RegistrationLink != "" || g.AttendanceLink != "" {
			stats.ActiveLinks++
		}
	}
	if stats.TotalStudents > 0 {
		stats.OverallAttendance = float64(presentTotal) / float64(stats.TotalStudents)
	}
	return stats, nil
}
