package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/repository"
)

func TestCreateGroupGeneratesDistinctLinks(t *testing.T) {
	repo := &fakeRepository{}
	svc := NewGroupService(repo, zap.NewNop())

	group, err := svc.CreateGroup(context.Background(), instructor, NewGroup{Name: "Algorithms", Department: "CS", Class: "BSCS", Section: "A"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if group.ID == 0 || group.InstructorID != instructor.ID {
		t.Fatalf("unexpected group %+v", group)
	}
	if group.RegistrationLink == "" || group.AttendanceLink == "" || group.RegistrationLink == group.AttendanceLink {
		t.Fatalf("expected two distinct links, got %q and %q", group.RegistrationLink, group.AttendanceLink)
	}
}

func TestCreateGroupValidation(t *testing.T) {
	svc := NewGroupService(&fakeRepository{}, zap.NewNop())

	_, err := svc.CreateGroup(context.Background(), instructor, NewGroup{Name: "Algorithms"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || len(vErr.Fields) != 3 {
		t.Fatalf("expected three missing fields, got %v", err)
	}

	_, err = svc.CreateGroup(context.Background(), Caller{ID: "s1", Role: RoleStudent}, NewGroup{Name: "x", Department: "x", Class: "x", Section: "x"})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func seedReportFixture(t *testing.T) (*fakeRepository, *GroupService, time.Time) {
	t.Helper()
	now := time.Date(2026, 10, 18, 14, 0, 0, 0, time.UTC)
	repo := &fakeRepository{}
	g1 := repo.addGroup(repository.Group{Name: "Algorithms", InstructorID: instructor.ID, RegistrationLink: "r1", AttendanceLink: "a1"})
	g2 := repo.addGroup(repository.Group{Name: "Databases", InstructorID: instructor.ID, RegistrationLink: "r2", AttendanceLink: "a2"})
	repo.addGroup(repository.Group{Name: "Other", InstructorID: "instructor-2"})

	repo.students = []repository.Student{
		{ID: 1, StudentID: "A1", GroupID: g1.ID, Name: "Ali"},
		{ID: 2, StudentID: "B1", GroupID: g1.ID, Name: "Bina"},
		{ID: 3, StudentID: "C1", GroupID: g2.ID, Name: "Chen"},
		{ID: 4, StudentID: "D1", GroupID: g2.ID, Name: "Dana"},
	}
	repo.attendances = []repository.Attendance{
		{StudentID: 1, Timestamp: now.Add(-2 * time.Hour), Status: repository.AttendanceStatusPresent},
		{StudentID: 1, Timestamp: now.Add(-time.Hour), Status: repository.AttendanceStatusPresent},
		{StudentID: 3, Timestamp: now.Add(-24 * time.Hour), Status: repository.AttendanceStatusPresent},
	}

	svc := NewGroupService(repo, zap.NewNop())
	svc.now = func() time.Time { return now }
	return repo, svc, now
}

func TestDailyReportCountsEachStudentOnce(t *testing.T) {
	_, svc, _ := seedReportFixture(t)

	report, err := svc.DailyReport(context.Background(), instructor)
	if err != nil {
		t.Fatalf("report failed: %v", err)
	}
	if len(report) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(report))
	}
	if report[0].TotalStudents != 2 || report[0].PresentCount != 1 || report[0].PresentStudents[0].StudentID != "A1" {
		t.Fatalf("unexpected first group report %+v", report[0])
	}
	if report[1].PresentCount != 0 || len(report[1].PresentStudents) != 0 {
		t.Fatalf("expected yesterday's event to be excluded, got %+v", report[1])
	}
}

func TestDashboardStats(t *testing.T) {
	_, svc, _ := seedReportFixture(t)

	stats, err := svc.DashboardStats(context.Background(), instructor)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalGroups != 2 || stats.TotalStudents != 4 || stats.ActiveLinks != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.OverallAttendance != 0.25 {
		t.Fatalf("expected attendance rate 0.25, got %v", stats.OverallAttendance)
	}

	empty, err := svc.DashboardStats(context.Background(), Caller{ID: "new", Role: RoleInstructor})
	if err != nil || empty.TotalGroups != 0 || empty.OverallAttendance != 0 {
		t.Fatalf("expected zero stats, got %+v (%v)", empty, err)
	}
}

func TestListGroupsIncludesCounts(t *testing.T) {
	_, svc, _ := seedReportFixture(t)

	groups, err := svc.ListGroups(context.Background(), instructor)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].StudentCount != 2 || groups[0].PresentToday != 1 || groups[1].PresentToday != 0 {
		t.Fatalf("unexpected summaries %+v", groups)
	}
}
