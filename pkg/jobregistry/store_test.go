package jobregistry

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/3leaps/geneflow/pkg/provider"
	"github.com/3leaps/geneflow/pkg/provider/file"
)

func newFileArea(t *testing.T) *file.Provider {
	t.Helper()
	p, err := file.New(file.Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("file.New: %v", err)
	}
	return p
}

// plainArea hides the conditional write capability of the wrapped provider.
type plainArea struct{ provider.ReadWriter }

// racingArea lets another writer sneak in before the first n conditional puts.
type racingArea struct {
	*file.Provider
	races int
}

func (r *racingArea) PutObjectIfMatch(ctx context.Context, key string, body io.Reader, n int64, etag string) error {
	if r.races > 0 && etag != "" {
		r.races--
		if err := r.Provider.PutObject(ctx, key, strings.NewReader(`{"jobId":"job-1","status":"processing","userEmail":"racer@example.com","createdAt":"2026-03-01T09:00:00Z"}`), -1); err != nil {
			return err
		}
	}
	return r.Provider.PutObjectIfMatch(ctx, key, body, n, etag)
}

func TestStore_CreateGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFileArea(t))
	if !s.Conditional() {
		t.Fatalf("file provider should enable compare-and-swap")
	}

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := s.Create(ctx, NewRecord("job-1", "alice@example.com", now)); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != JobStateUploaded || got.UserEmail != "alice@example.com" || !got.CreatedAt.Equal(now) {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := s.Create(ctx, NewRecord("job-1", "", now)); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}

	ok, err := s.Exists(ctx, "job-1")
	if err != nil || !ok {
		t.Fatalf("Exists() = %v, %v", ok, err)
	}
	ok, err = s.Exists(ctx, "job-2")
	if err != nil || ok {
		t.Fatalf("Exists(job-2) = %v, %v", ok, err)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore(newFileArea(t))
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := s.Update(context.Background(), "nope", func(*JobRecord) error { return nil }); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound from Update, got %v", err)
	}
}

func TestStore_WireFormat(t *testing.T) {
	ctx := context.Background()
	area := newFileArea(t)
	s := NewStore(area)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := s.Create(ctx, NewRecord("job-1", "alice@example.com", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	body, _, err := area.GetObject(ctx, "job-1/metadata.json")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer body.Close()
	raw, _ := io.ReadAll(body)
	for _, want := range []string{`"jobId": "job-1"`, `"status": "uploaded"`, `"userEmail": "alice@example.com"`, `"createdAt": "2026-03-01T09:00:00Z"`} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("metadata.json missing %s:\n%s", want, raw)
		}
	}
	if strings.Contains(string(raw), "startTime") || strings.Contains(string(raw), "durationSeconds") {
		t.Errorf("unset timestamps must be omitted:\n%s", raw)
	}
}

func TestStore_WireFormatZeroDuration(t *testing.T) {
	ctx := context.Background()
	area := newFileArea(t)
	s := NewStore(area)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := s.Create(ctx, NewRecord("job-1", "", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := s.Update(ctx, "job-1", func(r *JobRecord) error {
		if err := r.Transition(JobStateProcessing, now); err != nil {
			return err
		}
		return r.Transition(JobStateCompleted, now)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	body, _, err := area.GetObject(ctx, "job-1/metadata.json")
	if err != nil {
		t.Fatalf("GetObject: %v", err)
	}
	defer body.Close()
	raw, _ := io.ReadAll(body)
	if !strings.Contains(string(raw), `"durationSeconds": 0`) {
		t.Errorf("completed record must carry its duration even when zero:\n%s", raw)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 0 {
		t.Fatalf("durationSeconds = %v, want 0", got.DurationSeconds)
	}
}

func TestStore_UpdateMutateError(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFileArea(t))
	_ = s.Create(ctx, NewRecord("job-1", "", time.Now()))

	boom := errors.New("boom")
	if _, err := s.Update(ctx, "job-1", func(*JobRecord) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	got, _ := s.Get(ctx, "job-1")
	if got.Status != JobStateUploaded {
		t.Fatalf("record written despite mutate error: %+v", got)
	}
}

func TestStore_UpdateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	area := &racingArea{Provider: newFileArea(t), races: 1}
	s := NewStore(area)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := s.Create(ctx, NewRecord("job-1", "alice@example.com", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	calls := 0
	rec, err := s.Update(ctx, "job-1", func(r *JobRecord) error {
		calls++
		return r.Transition(JobStateProcessing, now.Add(time.Minute))
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if calls != 2 {
		t.Fatalf("mutate called %d times, want 2", calls)
	}
	// The second attempt saw the racer's write.
	if rec.UserEmail != "racer@example.com" || rec.StartTime == nil {
		t.Fatalf("update did not re-read: %+v", rec)
	}
}

func TestStore_UpdateGivesUp(t *testing.T) {
	ctx := context.Background()
	area := &racingArea{Provider: newFileArea(t), races: MaxUpdateAttempts}
	s := NewStore(area)
	_ = s.Create(ctx, NewRecord("job-1", "", time.Now()))

	_, err := s.Update(ctx, "job-1", func(r *JobRecord) error { r.Fail("x", time.Now()); return nil })
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestStore_LastWriteWinsWithoutConditionalWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore(plainArea{newFileArea(t)})
	if s.Conditional() {
		t.Fatalf("wrapped provider should not expose compare-and-swap")
	}

	now := time.Now()
	if err := s.Create(ctx, NewRecord("job-1", "", now)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, NewRecord("job-1", "", now)); !errors.Is(err, ErrJobExists) {
		t.Fatalf("expected ErrJobExists, got %v", err)
	}
	rec, err := s.Update(ctx, "job-1", func(r *JobRecord) error { return r.Transition(JobStateProcessing, now) })
	if err != nil || rec.Status != JobStateProcessing {
		t.Fatalf("Update = %+v, %v", rec, err)
	}
}

func TestStore_ListSortsNewestFirst(t *testing.T) {
	ctx := context.Background()
	area := newFileArea(t)
	s := NewStore(area)

	t1 := time.Date(2026, 1, 19, 12, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 19, 13, 0, 0, 0, time.UTC)
	if err := s.Create(ctx, NewRecord("job-1", "", t1)); err != nil {
		t.Fatalf("Create job-1: %v", err)
	}
	if err := s.Create(ctx, NewRecord("job-2", "", t2)); err != nil {
		t.Fatalf("Create job-2: %v", err)
	}
	_ = area.PutObject(ctx, "job-1/input.fq.gz", strings.NewReader("ACGT"), 4)

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected job count: %d", len(got))
	}
	if got[0].JobID != "job-2" {
		t.Fatalf("expected newest first, got[0]=%q", got[0].JobID)
	}
}
