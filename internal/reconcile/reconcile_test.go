package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-attendance/internal/encodingstore"
	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/repository"
)

type stubLookup struct {
	known map[face.EncodingKey]bool
	err   error
}

func (s *stubLookup) FindStudent(ctx context.Context, studentID string, groupID uint) (*repository.Student, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.known[face.EncodingKey{StudentID: studentID, GroupID: groupID}] {
		return &repository.Student{StudentID: studentID, GroupID: groupID}, nil
	}
	return nil, repository.ErrNotFound
}

func newStore(t *testing.T, keys ...face.EncodingKey) *encodingstore.DiskStore {
	t.Helper()
	store, err := encodingstore.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	for _, key := range keys {
		if err := store.Save(context.Background(), key, face.EncodingSet{{0.1, 0.2}}); err != nil {
			t.Fatalf("failed to save %s: %v", key, err)
		}
	}
	return store
}

func TestSweepRemovesOnlyOrphans(t *testing.T) {
	kept := face.EncodingKey{StudentID: "S1", GroupID: 1}
	orphan := face.EncodingKey{StudentID: "S2", GroupID: 1}
	store := newStore(t, kept, orphan)
	lookup := &stubLookup{known: map[face.EncodingKey]bool{kept: true}}

	sweeper := NewSweeper(store, lookup, time.Hour, zap.NewNop())
	sweeper.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	removed, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if ok, _ := store.Exists(context.Background(), kept); !ok {
		t.Fatal("expected registered student's encodings to remain")
	}
	if ok, _ := store.Exists(context.Background(), orphan); ok {
		t.Fatal("expected orphaned encodings to be removed")
	}
}

func TestSweepRespectsGracePeriod(t *testing.T) {
	orphan := face.EncodingKey{StudentID: "S2", GroupID: 1}
	store := newStore(t, orphan)

	sweeper := NewSweeper(store, &stubLookup{}, time.Hour, zap.NewNop())
	removed, err := sweeper.Sweep(context.Background())
	if err != nil || removed != 0 {
		t.Fatalf("expected fresh encodings to be left alone, got %d (%v)", removed, err)
	}
}

func TestSweepKeepsEncodingsWhenLookupFails(t *testing.T) {
	orphan := face.EncodingKey{StudentID: "S2", GroupID: 1}
	store := newStore(t, orphan)

	sweeper := NewSweeper(store, &stubLookup{err: errors.New("db down")}, 0, zap.NewNop())
	sweeper.now = func() time.Time { return time.Now().Add(time.Minute) }

	removed, err := sweeper.Sweep(context.Background())
	if err == nil || removed != 0 {
		t.Fatalf("expected error and no removals, got %d (%v)", removed, err)
	}
	if ok, _ := store.Exists(context.Background(), orphan); !ok {
		t.Fatal("expected encodings to survive a failed lookup")
	}
}

func TestScheduleRejectsInvalidCron(t *testing.T) {
	sweeper := NewSweeper(newStore(t), &stubLookup{}, time.Hour, zap.NewNop())
	if _, err := sweeper.Schedule(context.Background(), "not a cron"); err == nil {
		t.Fatal("expected invalid cron expression to be rejected")
	}
}
