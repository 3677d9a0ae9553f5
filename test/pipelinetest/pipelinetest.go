// Package pipelinetest provides a pipeline.Connector backed by temporary
// directories and in-memory fakes of the batch and mail services.
//
//	env := pipelinetest.New(t)
//	intake := pipeline.NewIntake(env, env.Settings)
package pipelinetest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3leaps/geneflow/pkg/batch"
	"github.com/3leaps/geneflow/pkg/jobregistry"
	"github.com/3leaps/geneflow/pkg/notify"
	"github.com/3leaps/geneflow/pkg/pipeline"
	"github.com/3leaps/geneflow/pkg/provider/file"
)

const (
	Pool  = "alignment-pool"
	Admin = "admin@example.com"
	From  = "noreply@example.com"

	// Account is the host used in signed URLs and event object URLs.
	Account = "acct.example"
)

// SignedArea is a local directory that hands out fake signed URLs.
type SignedArea struct {
	*file.Provider
	Container string
}

func (a *SignedArea) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return a.sign("get", key, ttl), nil
}

func (a *SignedArea) PresignPut(_ context.Context, key string, ttl time.Duration) (string, error) {
	return a.sign("put", key, ttl), nil
}

func (a *SignedArea) sign(op, key string, ttl time.Duration) string {
	q := url.Values{"op": {op}, "ttl": {ttl.String()}, "sig": {"test"}}
	return fmt.Sprintf("https://%s/%s/%s?%s", Account, a.Container, key, q.Encode())
}

// Batch records created jobs and tasks.
type Batch struct {
	mu    sync.Mutex
	Pools []batch.Pool
	Jobs  map[string]batch.JobSpec
	Tasks map[string]batch.TaskSpec
}

func (b *Batch) ListPools(context.Context) ([]batch.Pool, error) {
	return b.Pools, nil
}

func (b *Batch) CreateJob(_ context.Context, job batch.JobSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.Jobs[job.ID]; ok {
		return batch.ErrJobExists
	}
	b.Jobs[job.ID] = job
	return nil
}

func (b *Batch) AddTask(_ context.Context, task batch.TaskSpec) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.Tasks[task.ID]; ok {
		return batch.ErrTaskExists
	}
	b.Tasks[task.ID] = task
	return nil
}

// TaskCount returns the number of submitted tasks.
func (b *Batch) TaskCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Tasks)
}

// Mailer keeps sent messages.
type Mailer struct {
	mu   sync.Mutex
	Sent []notify.Message
}

func (m *Mailer) Send(_ context.Context, msg notify.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = append(m.Sent, msg)
	return fmt.Sprintf("<msg-%d@test>", len(m.Sent)), nil
}

// Messages returns a copy of the sent messages.
func (m *Mailer) Messages() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.Sent...)
}

// Env implements pipeline.Connector.
type Env struct {
	Settings pipeline.Settings
	Areas    map[pipeline.Area]*SignedArea
	Compute  *Batch
	Mail     *Mailer

	// Set to make the matching Connector call fail.
	ValidateErr error
	BatchErr    error
}

// New returns an Env with the three areas under t.TempDir and a reference
// genome already stored.
func New(t testing.TB) *Env {
	t.Helper()
	env := &Env{
		Settings: pipeline.DefaultSettings(),
		Areas:    map[pipeline.Area]*SignedArea{},
		Compute: &Batch{
			Pools: []batch.Pool{{ID: Pool, State: "ENABLED"}},
			Jobs:  map[string]batch.JobSpec{},
			Tasks: map[string]batch.TaskSpec{},
		},
		Mail: &Mailer{},
	}
	env.Settings.PoolID = Pool
	env.Settings.AdminEmail = Admin
	env.Settings.FromEmail = From

	base := t.TempDir()
	for area, container := range map[pipeline.Area]string{
		pipeline.AreaRaw:     env.Settings.Containers.Raw,
		pipeline.AreaRefs:    env.Settings.Containers.Refs,
		pipeline.AreaResults: env.Settings.Containers.Results,
	} {
		p, err := file.New(file.Config{BaseDir: filepath.Join(base, container), Create: true})
		if err != nil {
			t.Fatalf("create %s area: %v", area, err)
		}
		env.Areas[area] = &SignedArea{Provider: p, Container: container}
	}

	env.Put(t, pipeline.AreaRefs, "chrY.fa", ">chrY\nACGT\n")
	return env
}

func (e *Env) Validate(pipeline.Handler) error { return e.ValidateErr }

func (e *Env) Storage(_ context.Context, area pipeline.Area) (pipeline.Storage, error) {
	s, ok := e.Areas[area]
	if !ok {
		return nil, fmt.Errorf("%s area is not configured", area)
	}
	return s, nil
}

func (e *Env) Batch(context.Context) (batch.Client, error) {
	if e.BatchErr != nil {
		return nil, e.BatchErr
	}
	return e.Compute, nil
}

func (e *Env) Mailer(context.Context) (notify.Sender, error) { return e.Mail, nil }

// Put stores body at key in area.
func (e *Env) Put(t testing.TB, area pipeline.Area, key, body string) {
	t.Helper()
	if err := e.Areas[area].PutObject(context.Background(), key, strings.NewReader(body), int64(len(body))); err != nil {
		t.Fatalf("put %s/%s: %v", area, key, err)
	}
}

// Read returns the content of key in area.
func (e *Env) Read(t testing.TB, area pipeline.Area, key string) string {
	t.Helper()
	rc, _, err := e.Areas[area].GetObject(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s/%s: %v", area, key, err)
	}
	defer func() { _ = rc.Close() }()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s/%s: %v", area, key, err)
	}
	return string(b)
}

// Record returns the metadata record of jobID.
func (e *Env) Record(t testing.TB, jobID string) *jobregistry.JobRecord {
	t.Helper()
	r, err := jobregistry.NewStore(e.Areas[pipeline.AreaRaw]).Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get record %s: %v", jobID, err)
	}
	return r
}

// Upload runs intake and returns the job id.
func (e *Env) Upload(t testing.TB, email string) string {
	t.Helper()
	body := "@r1\nACGT\n+\nIIII\n"
	res, err := pipeline.NewIntake(e, e.Settings).Handle(context.Background(), strings.NewReader(body), int64(len(body)), email)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return res.JobID
}

// ObjectURL is the event URL of key in area.
func (e *Env) ObjectURL(area pipeline.Area, key string) string {
	return "https://" + Account + "/" + e.Areas[area].Container + "/" + key
}

// ErrUnavailable is a ready-made failure for BatchErr and ValidateErr.
var ErrUnavailable = errors.New("service unavailable")
