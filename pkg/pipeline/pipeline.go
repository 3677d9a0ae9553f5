// Package pipeline implements the job handlers.
//
// Intake stores an uploaded sequence file and its metadata record.
// Submission reacts to a stored input and starts the alignment task on the
// batch service. Notification reacts to a stored result, completes the record
// and emails a download link.
//
// Handlers keep no state between invocations. Every call opens the storage
// areas, batch client and mailer it needs through a Connector and closes
// them before returning.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/geneflow/pkg/batch"
	"github.com/3leaps/geneflow/pkg/jobregistry"
	"github.com/3leaps/geneflow/pkg/notify"
	"github.com/3leaps/geneflow/pkg/provider"
	"github.com/3leaps/geneflow/pkg/taskplan"
)

// Handler names a pipeline stage.
type Handler string

const (
	HandlerIntake       Handler = "intake"
	HandlerSubmission   Handler = "submission"
	HandlerNotification Handler = "notification"
)

// ParseHandler maps a name to a Handler.
func ParseHandler(s string) (Handler, error) {
	switch h := Handler(s); h {
	case HandlerIntake, HandlerSubmission, HandlerNotification:
		return h, nil
	default:
		return "", fmt.Errorf("unknown handler %q (want intake|submission|notification)", s)
	}
}

// Area names one of the storage areas the pipeline uses.
type Area string

const (
	// AreaRaw holds uploaded inputs and metadata records.
	AreaRaw Area = "raw"

	// AreaRefs holds the reference genome files.
	AreaRefs Area = "refs"

	// AreaResults receives task outputs.
	AreaResults Area = "results"
)

// Storage is the object surface each area must provide.
type Storage = provider.ReadWriter

// Connector opens the external services for one invocation.
type Connector interface {
	// Validate reports every setting h needs that is missing.
	Validate(h Handler) error

	Storage(ctx context.Context, area Area) (Storage, error)
	Batch(ctx context.Context) (batch.Client, error)
	Mailer(ctx context.Context) (notify.Sender, error)
}

// Containers are the container (bucket) names events refer to.
type Containers struct {
	Raw     string
	Refs    string
	Results string
}

// Settings are the handler parameters that do not depend on a connection.
type Settings struct {
	Containers Containers

	// PoolID is the compute pool tasks run on.
	PoolID string

	AdminEmail string
	FromEmail  string

	InputURLTTL  time.Duration
	OutputURLTTL time.Duration
	ResultURLTTL time.Duration

	// ReferencePrefix limits the reference listing; object names below it
	// become paths under the task's reference directory.
	ReferencePrefix   string
	ReferencePatterns []string

	Toolchain taskplan.Toolchain

	// WorkDirEnv names the variable the task script changes into. When
	// WorkDir is set, each task gets WorkDirEnv=<WorkDir>/<job id>;
	// otherwise the compute platform must provide the variable.
	WorkDirEnv string
	WorkDir    string
}

// Default containers and link lifetimes.
const (
	DefaultRawContainer     = "rawsequences"
	DefaultRefsContainer    = "references"
	DefaultResultsContainer = "results"

	DefaultInputURLTTL  = 2 * time.Hour
	DefaultOutputURLTTL = time.Hour
	DefaultResultURLTTL = 7 * 24 * time.Hour

	DefaultWorkDirEnv = "GENEFLOW_WORK_DIR"
	DefaultWorkDir    = "/tmp/geneflow"
)

// DefaultSettings returns settings with every optional field filled.
func DefaultSettings() Settings {
	return Settings{
		Containers: Containers{
			Raw:     DefaultRawContainer,
			Refs:    DefaultRefsContainer,
			Results: DefaultResultsContainer,
		},
		InputURLTTL:       DefaultInputURLTTL,
		OutputURLTTL:      DefaultOutputURLTTL,
		ResultURLTTL:      DefaultResultURLTTL,
		ReferencePatterns: []string{"**"},
		Toolchain:         taskplan.DefaultToolchain(),
		WorkDirEnv:        DefaultWorkDirEnv,
		WorkDir:           DefaultWorkDir,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Containers.Raw == "" {
		s.Containers.Raw = d.Containers.Raw
	}
	if s.Containers.Refs == "" {
		s.Containers.Refs = d.Containers.Refs
	}
	if s.Containers.Results == "" {
		s.Containers.Results = d.Containers.Results
	}
	if s.InputURLTTL <= 0 {
		s.InputURLTTL = d.InputURLTTL
	}
	if s.OutputURLTTL <= 0 {
		s.OutputURLTTL = d.OutputURLTTL
	}
	if s.ResultURLTTL <= 0 {
		s.ResultURLTTL = d.ResultURLTTL
	}
	if len(s.ReferencePatterns) == 0 {
		s.ReferencePatterns = d.ReferencePatterns
	}
	if s.Toolchain == (taskplan.Toolchain{}) {
		s.Toolchain = d.Toolchain
	}
	if s.WorkDirEnv == "" {
		s.WorkDirEnv = d.WorkDirEnv
		s.WorkDir = d.WorkDir
	}
	return s
}

// Outcome is the result of one handler invocation.
type Outcome struct {
	Handler Handler              `json:"handler"`
	EventID string               `json:"eventId,omitempty"`
	JobID   string               `json:"jobId,omitempty"`
	Skipped bool                 `json:"skipped,omitempty"`
	Reason  string               `json:"reason,omitempty"`
	Status  jobregistry.JobState `json:"status,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// Option configures a handler.
type Option func(*options)

type options struct {
	logger *zap.Logger
	now    func() time.Time
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func closeStorage(log *zap.Logger, area Area, s Storage) {
	if s == nil {
		return
	}
	if err := s.Close(); err != nil {
		log.Warn("Failed to close storage", zap.String("area", string(area)), zap.Error(err))
	}
}

// signer returns the URL signing capability of s.
func signer(area Area, s Storage) (provider.URLSigner, error) {
	us, ok := s.(provider.URLSigner)
	if !ok {
		return nil, fmt.Errorf("%s area cannot issue signed urls: %w", area, provider.ErrUnsupported)
	}
	return us, nil
}
