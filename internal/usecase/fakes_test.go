package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/imageprocessor"
	"github.com/example/face-attendance/internal/repository"
)

// fakeRepository is an in-memory stand-in for repository.Repository that
// enforces the (student_id, group_id) unique index.
type fakeRepository struct {
	mu          sync.Mutex
	groups      []repository.Group
	students    []repository.Student
	attendances []repository.Attendance

	createStudentErr error
	findStudentErr   error
	// insertThenFail stores the student and still returns this error, as a
	// commit whose acknowledgement was lost would.
	insertThenFail error
}

func (r *fakeRepository) addGroup(g repository.Group) repository.Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	g.ID = uint(len(r.groups) + 1)
	r.groups = append(r.groups, g)
	return g
}

func (r *fakeRepository) CreateGroup(ctx context.Context, group *repository.Group) error {
	stored := r.addGroup(*group)
	group.ID = stored.ID
	return nil
}

func (r *fakeRepository) findGroupBy(match func(repository.Group) bool) (*repository.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if match(g) {
			g := g
			return &g, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepository) FindGroupByRegistrationLink(ctx context.Context, link string) (*repository.Group, error) {
	return r.findGroupBy(func(g repository.Group) bool { return g.RegistrationLink == link })
}

func (r *fakeRepository) FindGroupByAttendanceLink(ctx context.Context, link string) (*repository.Group, error) {
	return r.findGroupBy(func(g repository.Group) bool { return g.AttendanceLink == link })
}

func (r *fakeRepository) ListGroupsByInstructor(ctx context.Context, instructorID string) ([]repository.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.Group
	for _, g := range r.groups {
		if g.InstructorID == instructorID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeRepository) CreateStudent(ctx context.Context, student *repository.Student) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createStudentErr != nil {
		return r.createStudentErr
	}
	for _, s := range r.students {
		if s.StudentID == student.StudentID && s.GroupID == student.GroupID {
			return repository.ErrDuplicate
		}
	}
	student.ID = uint(len(r.students) + 1)
	r.students = append(r.students, *student)
	return r.insertThenFail
}

func (r *fakeRepository) FindStudent(ctx context.Context, studentID string, groupID uint) (*repository.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findStudentErr != nil {
		return nil, r.findStudentErr
	}
	for _, s := range r.students {
		if s.StudentID == studentID && s.GroupID == groupID {
			s := s
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepository) ListStudents(ctx context.Context) ([]repository.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]repository.Student(nil), r.students...), nil
}

func (r *fakeRepository) ListStudentsByGroup(ctx context.Context, groupID uint) ([]repository.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []repository.Student
	for _, s := range r.students {
		if s.GroupID == groupID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRepository) CountStudentsByGroup(ctx context.Context, groupIDs []uint) (map[uint]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[uint]int64)
	for _, s := range r.students {
		counts[s.GroupID]++
	}
	return counts, nil
}

func (r *fakeRepository) presentIDs(from, to time.Time) map[uint]bool {
	present := make(map[uint]bool)
	for _, a := range r.attendances {
		if a.Status == repository.AttendanceStatusPresent && !a.Timestamp.Before(from) && a.Timestamp.Before(to) {
			present[a.StudentID] = true
		}
	}
	return present
}

func (r *fakeRepository) CountPresentByGroup(ctx context.Context, groupIDs []uint, from, to time.Time) (map[uint]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	present := r.presentIDs(from, to)
	counts := make(map[uint]int64)
	for _, s := range r.students {
		if present[s.ID] {
			counts[s.GroupID]++
		}
	}
	return counts, nil
}

func (r *fakeRepository) PresentStudents(ctx context.Context, groupID uint, from, to time.Time) ([]repository.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	present := r.presentIDs(from, to)
	var out []repository.Student
	for _, s := range r.students {
		if s.GroupID == groupID && present[s.ID] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRepository) CreateAttendance(ctx context.Context, attendance *repository.Attendance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	attendance.ID = uint(len(r.attendances) + 1)
	r.attendances = append(r.attendances, *attendance)
	return nil
}

func (r *fakeRepository) attendanceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attendances)
}

// Synthetic images understood by fakeExtractor.
var (
	imageAlice   = []byte("alice")
	imageAlice2  = []byte("alice-profile")
	imageBob     = []byte("bob")
	imageNoFace  = []byte("landscape")
	imageCorrupt = []byte("corrupt")
	imageDown    = []byte("extractor-down")
)

// fakeExtractor maps synthetic image payloads to fixed descriptors.
var fakeExtractor = imageprocessor.ExtractorFunc(func(ctx context.Context, image []byte) ([]face.Descriptor, error) {
	switch string(image) {
	case "alice":
		return []face.Descriptor{{0.1, 0.2, 0.3}}, nil
	case "alice-profile":
		return []face.Descriptor{{0.15, 0.25, 0.3}, {0.9, 0.9, 0.9}}, nil
	case "bob":
		return []face.Descriptor{{0.9, 0.8, 0.7}}, nil
	case "landscape":
		return nil, nil
	case "extractor-down":
		return nil, imageprocessor.ErrUnavailable
	default:
		return nil, imageprocessor.ErrInvalidImage
	}
})

// memoryCache implements Cache with a map and no expiry.
type memoryCache struct {
	mu     sync.Mutex
	values map[string]string
	setErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: make(map[string]string)}
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.values[key] = value.(string)
	return nil
}

func (c *memoryCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (c *memoryCache) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; ok {
		return false, nil
	}
	c.values[key] = value.(string)
	return true, nil
}

func (c *memoryCache) Del(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.values, k)
	}
	return nil
}

type heldLocker struct{}

func (heldLocker) Acquire(ctx context.Context, key face.EncodingKey) (func(), error) {
	return nil, errLockHeld
}

type brokenLocker struct{}

func (brokenLocker) Acquire(ctx context.Context, key face.EncodingKey) (func(), error) {
	return nil, errors.New("redis: connection refused")
}
