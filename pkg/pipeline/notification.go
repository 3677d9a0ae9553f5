package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/geneflow/pkg/event"
	"github.com/3leaps/geneflow/pkg/jobregistry"
	"github.com/3leaps/geneflow/pkg/notify"
)

// ResultPattern selects the task outputs that complete a job.
const ResultPattern = "*/*_result.{xls,csv}.gz"

// Notifier completes jobs whose result arrived and emails the user.
type Notifier struct {
	conn     Connector
	settings Settings
	route    *event.Route
	opts     options
}

func NewNotifier(conn Connector, settings Settings, opts ...Option) (*Notifier, error) {
	settings = settings.withDefaults()
	route, err := event.NewRoute(settings.Containers.Results, ResultPattern)
	if err != nil {
		return nil, err
	}
	return &Notifier{conn: conn, settings: settings, route: route, opts: newOptions(opts)}, nil
}

// Handle processes one storage event. Events that are not a result object
// are skipped. On failure the admin address is sent a failure report.
func (n *Notifier) Handle(ctx context.Context, ev event.StorageEvent) (Outcome, error) {
	out := Outcome{Handler: HandlerNotification, EventID: ev.ID}
	log := n.opts.logger.With(zap.String("handler", string(HandlerNotification)), zap.String("event_id", ev.ID))

	ref, err := n.route.Accept(ev)
	if err != nil {
		out.Skipped = true
		out.Reason = skipReason(err)
		log.Info("Ignoring event", zap.String("reason", out.Reason))
		return out, nil
	}
	out.JobID = ref.JobID()
	log = log.With(zap.String("job_id", out.JobID))
	log.Info("Processing result", zap.String("object", ref.String()))

	if err := n.notify(ctx, log, ref); err != nil {
		log.Error("Notification failed", zap.Error(err))
		n.reportFailure(ctx, log, out.JobID, err)
		out.Error = err.Error()
		return out, err
	}

	out.Status = jobregistry.JobStateCompleted
	return out, nil
}

func (n *Notifier) notify(ctx context.Context, log *zap.Logger, ref event.ObjectRef) error {
	if err := n.conn.Validate(HandlerNotification); err != nil {
		return err
	}
	jobID := ref.JobID()

	raw, err := n.conn.Storage(ctx, AreaRaw)
	if err != nil {
		return fmt.Errorf("open raw storage: %w", err)
	}
	defer closeStorage(log, AreaRaw, raw)

	now := n.opts.now()
	record, err := jobregistry.NewStore(raw).Update(ctx, jobID, func(r *jobregistry.JobRecord) error {
		return r.Transition(jobregistry.JobStateCompleted, now)
	})
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	log.Info("Updated job record",
		zap.String("status", record.Status.String()),
		zap.Float64("duration_seconds", record.Duration()))

	results, err := n.conn.Storage(ctx, AreaResults)
	if err != nil {
		return fmt.Errorf("open results storage: %w", err)
	}
	defer closeStorage(log, AreaResults, results)

	resultsSigner, err := signer(AreaResults, results)
	if err != nil {
		return err
	}
	link, err := resultsSigner.PresignGet(ctx, ref.Key, n.settings.ResultURLTTL)
	if err != nil {
		return fmt.Errorf("sign result url: %w", err)
	}

	to := record.UserEmail
	if to == "" {
		to = n.settings.AdminEmail
	}
	data := notify.CompletionData{
		JobID:           jobID,
		StartTime:       *record.StartTime,
		EndTime:         *record.EndTime,
		DurationSeconds: record.Duration(),
		DownloadURL:     link,
		FileType:        notify.FileType(ref.Key),
		LinkTTL:         n.settings.ResultURLTTL,
	}
	msg, err := notify.CompletionMessage(n.settings.FromEmail, to, data)
	if err != nil {
		return err
	}

	mailer, err := n.conn.Mailer(ctx)
	if err != nil {
		return fmt.Errorf("connect mail service: %w", err)
	}
	id, err := mailer.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("send completion email: %w", err)
	}
	log.Info("Sent completion email", zap.String("to", to), zap.String("message_id", id))
	return nil
}

// reportFailure emails the admin address. Errors are logged only.
func (n *Notifier) reportFailure(ctx context.Context, log *zap.Logger, jobID string, cause error) {
	if n.settings.AdminEmail == "" || n.settings.FromEmail == "" {
		log.Warn("No admin address configured, failure report not sent")
		return
	}
	msg, err := notify.FailureMessage(n.settings.FromEmail, n.settings.AdminEmail, notify.FailureData{
		JobID:   jobID,
		Handler: string(HandlerNotification),
		Error:   cause.Error(),
		Time:    n.opts.now(),
	})
	if err != nil {
		log.Error("Failed to render failure email", zap.Error(err))
		return
	}

	mailer, err := n.conn.Mailer(ctx)
	if err != nil {
		log.Error("Failed to send failure email", zap.Error(err))
		return
	}
	id, err := mailer.Send(ctx, msg)
	if err != nil {
		log.Error("Failed to send failure email", zap.Error(err))
		return
	}
	log.Info("Sent failure email", zap.String("to", n.settings.AdminEmail), zap.String("message_id", id))
}
