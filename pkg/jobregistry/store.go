package jobregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/3leaps/geneflow/pkg/provider"
)

var (
	// ErrJobNotFound indicates no metadata record exists for the job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobExists indicates a record already exists at create time.
	ErrJobExists = errors.New("job already exists")

	// ErrConflict indicates concurrent writers kept winning the update race.
	ErrConflict = errors.New("job record update conflict")
)

// MaxUpdateAttempts bounds the compare-and-swap loop in Update.
const MaxUpdateAttempts = 3

// Store persists JobRecords as JSON objects in a storage area.
//
// Layout:
//
//	<jobId>/metadata.json
//
// When the provider supports conditional writes, Create is create-only and
// Update is a compare-and-swap on the entity tag. Otherwise writes are
// last-write-wins.
type Store struct {
	area provider.ReadWriter
	cas  provider.ConditionalWriter
}

func NewStore(area provider.ReadWriter) *Store {
	s := &Store{area: area}
	if cw, ok := area.(provider.ConditionalWriter); ok {
		s.cas = cw
	}
	return s
}

// Conditional reports whether updates are guarded by compare-and-swap.
func (s *Store) Conditional() bool {
	return s.cas != nil
}

// Create writes a new record and fails with ErrJobExists if one is present.
func (s *Store) Create(ctx context.Context, record *JobRecord) error {
	if record == nil {
		return fmt.Errorf("job record is nil")
	}
	jobID := strings.TrimSpace(record.JobID)
	if jobID == "" {
		return fmt.Errorf("jobId is required")
	}
	b, err := encode(record)
	if err != nil {
		return err
	}

	key := MetadataKey(jobID)
	if s.cas != nil {
		err := s.cas.PutObjectIfMatch(ctx, key, bytes.NewReader(b), int64(len(b)), "")
		if provider.IsPreconditionFailed(err) {
			return fmt.Errorf("%s: %w", jobID, ErrJobExists)
		}
		if err != nil {
			return fmt.Errorf("write job record: %w", err)
		}
		return nil
	}

	exists, err := s.Exists(ctx, jobID)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%s: %w", jobID, ErrJobExists)
	}
	if err := s.area.PutObject(ctx, key, bytes.NewReader(b), int64(len(b))); err != nil {
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}

// Get loads the record for jobID.
func (s *Store) Get(ctx context.Context, jobID string) (*JobRecord, error) {
	record, _, err := s.read(ctx, jobID)
	return record, err
}

// Exists reports whether a record is stored for jobID.
func (s *Store) Exists(ctx context.Context, jobID string) (bool, error) {
	_, err := s.area.Head(ctx, MetadataKey(jobID))
	if err == nil {
		return true, nil
	}
	if provider.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat job record: %w", err)
}

// Update applies mutate to the stored record and writes the result back.
//
// With conditional writes the read-modify-write is retried when another
// writer got in between, up to MaxUpdateAttempts, then ErrConflict is
// returned. Errors from mutate are returned unchanged and nothing is written.
func (s *Store) Update(ctx context.Context, jobID string, mutate func(*JobRecord) error) (*JobRecord, error) {
	attempts := 1
	if s.cas != nil {
		attempts = MaxUpdateAttempts
	}

	for i := 0; i < attempts; i++ {
		record, etag, err := s.read(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if err := mutate(record); err != nil {
			return nil, err
		}
		b, err := encode(record)
		if err != nil {
			return nil, err
		}

		key := MetadataKey(jobID)
		if s.cas == nil {
			if err := s.area.PutObject(ctx, key, bytes.NewReader(b), int64(len(b))); err != nil {
				return nil, fmt.Errorf("write job record: %w", err)
			}
			return record, nil
		}

		err = s.cas.PutObjectIfMatch(ctx, key, bytes.NewReader(b), int64(len(b)), etag)
		if err == nil {
			return record, nil
		}
		if !provider.IsPreconditionFailed(err) {
			return nil, fmt.Errorf("write job record: %w", err)
		}
	}
	return nil, fmt.Errorf("%s: %w after %d attempts", jobID, ErrConflict, attempts)
}

// List returns every record in the area, newest first.
// Records that fail to load are skipped.
func (s *Store) List(ctx context.Context) ([]JobRecord, error) {
	var out []JobRecord
	opts := provider.ListOptions{}
	for {
		page, err := s.area.List(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("list job records: %w", err)
		}
		for _, obj := range page.Objects {
			if !strings.HasSuffix(obj.Key, "/"+MetadataName) {
				continue
			}
			r, err := s.Get(ctx, JobIDFromKey(obj.Key))
			if err != nil {
				continue
			}
			out = append(out, *r)
		}
		if !page.IsTruncated || page.ContinuationToken == "" {
			break
		}
		opts.ContinuationToken = page.ContinuationToken
	}

	sort.Slice(out, func(i, j int) bool {
		return jobSortTime(out[i]).After(jobSortTime(out[j]))
	})
	return out, nil
}

func jobSortTime(r JobRecord) time.Time {
	if r.StartTime != nil {
		return r.StartTime.UTC()
	}
	return r.CreatedAt.UTC()
}

func (s *Store) read(ctx context.Context, jobID string) (*JobRecord, string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, "", fmt.Errorf("jobId is required")
	}
	key := MetadataKey(jobID)

	var (
		body io.ReadCloser
		etag string
		err  error
	)
	if s.cas != nil {
		body, etag, err = s.cas.GetObjectETag(ctx, key)
	} else {
		body, _, err = s.area.GetObject(ctx, key)
	}
	if err != nil {
		if provider.IsNotFound(err) {
			return nil, "", fmt.Errorf("%s: %w", jobID, ErrJobNotFound)
		}
		return nil, "", fmt.Errorf("read job record: %w", err)
	}
	defer func() { _ = body.Close() }()

	b, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("read job record: %w", err)
	}
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, "", fmt.Errorf("%s is empty", key)
	}

	var record JobRecord
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", key, err)
	}
	return &record, etag, nil
}

func encode(record *JobRecord) ([]byte, error) {
	b, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal job record: %w", err)
	}
	return append(b, '\n'), nil
}
