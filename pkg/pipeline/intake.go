package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/3leaps/geneflow/pkg/jobregistry"
)

// IntakeResult is returned to the uploader.
type IntakeResult struct {
	JobID  string               `json:"jobId"`
	Status jobregistry.JobState `json:"status"`
}

// Intake stores uploaded sequence files.
type Intake struct {
	conn     Connector
	settings Settings
	opts     options
}

func NewIntake(conn Connector, settings Settings, opts ...Option) *Intake {
	return &Intake{conn: conn, settings: settings.withDefaults(), opts: newOptions(opts)}
}

// Handle writes body as the input of a new job and records it as uploaded.
// The content is not inspected. An empty email falls back to the admin
// address. size may be negative when unknown.
func (in *Intake) Handle(ctx context.Context, body io.Reader, size int64, email string) (*IntakeResult, error) {
	if err := in.conn.Validate(HandlerIntake); err != nil {
		return nil, err
	}

	raw, err := in.conn.Storage(ctx, AreaRaw)
	if err != nil {
		return nil, fmt.Errorf("open raw storage: %w", err)
	}
	defer closeStorage(in.opts.logger, AreaRaw, raw)

	jobID := jobregistry.NewJobID()
	log := in.opts.logger.With(zap.String("job_id", jobID))

	if err := raw.PutObject(ctx, jobregistry.InputKey(jobID), body, size); err != nil {
		log.Error("Failed to store upload", zap.Error(err))
		return nil, fmt.Errorf("store input: %w", err)
	}

	email = strings.TrimSpace(email)
	if email == "" {
		email = in.settings.AdminEmail
	}

	record := jobregistry.NewRecord(jobID, email, in.opts.now())
	if err := jobregistry.NewStore(raw).Create(ctx, record); err != nil {
		log.Error("Failed to write job record", zap.Error(err))
		return nil, fmt.Errorf("store metadata: %w", err)
	}

	log.Info("Stored upload", zap.Int64("size", size), zap.String("user_email", email))
	return &IntakeResult{JobID: jobID, Status: record.Status}, nil
}
