package handlers

import (
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/geneflow/internal/errors"
	"github.com/3leaps/geneflow/internal/observability"
	"github.com/3leaps/geneflow/pkg/event"
	"github.com/3leaps/geneflow/pkg/pipeline"
)

// Pipeline serves the upload, job lookup and event routes. Each request
// builds its handler from the connector so no state outlives the request.
type Pipeline struct {
	conn     pipeline.Connector
	settings pipeline.Settings
	origins  []string
	opts     []pipeline.Option
}

// NewPipeline returns the route handlers. allowedOrigins restricts the
// CloudEvents webhook handshake; empty allows any origin.
func NewPipeline(conn pipeline.Connector, settings pipeline.Settings, allowedOrigins []string, opts ...pipeline.Option) *Pipeline {
	return &Pipeline{conn: conn, settings: settings, origins: allowedOrigins, opts: opts}
}

func (p *Pipeline) options(r *http.Request) []pipeline.Option {
	return append(slices.Clip(p.opts), pipeline.WithLogger(observability.Logger(r.Context())))
}

// Upload stores the request body as a new job input. The optional email query
// parameter receives the completion notice.
func (p *Pipeline) Upload(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")

	res, err := pipeline.NewIntake(p.conn, p.settings, p.options(r)...).Handle(r.Context(), r.Body, r.ContentLength, email)
	if err != nil {
		observability.Logger(r.Context()).Error("Upload failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetJob returns the metadata record named by the jobId path parameter.
func (p *Pipeline) GetJob(w http.ResponseWriter, r *http.Request) {
	record, err := pipeline.NewJobs(p.conn, p.options(r)...).Get(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// EventsResponse is the body returned for a processed delivery.
type EventsResponse struct {
	Outcomes []pipeline.Outcome `json:"outcomes"`
}

type eventHandler interface {
	Handle(r *http.Request, ev event.StorageEvent) (pipeline.Outcome, error)
}

type submissionEvents struct{ p *Pipeline }

func (s submissionEvents) Handle(r *http.Request, ev event.StorageEvent) (pipeline.Outcome, error) {
	h, err := pipeline.NewSubmitter(s.p.conn, s.p.settings, s.p.options(r)...)
	if err != nil {
		return pipeline.Outcome{Handler: pipeline.HandlerSubmission, EventID: ev.ID}, err
	}
	return h.Handle(r.Context(), ev)
}

type notificationEvents struct{ p *Pipeline }

func (n notificationEvents) Handle(r *http.Request, ev event.StorageEvent) (pipeline.Outcome, error) {
	h, err := pipeline.NewNotifier(n.p.conn, n.p.settings, n.p.options(r)...)
	if err != nil {
		return pipeline.Outcome{Handler: pipeline.HandlerNotification, EventID: ev.ID}, err
	}
	return h.Handle(r.Context(), ev)
}

// SubmissionEvents handles input-created deliveries.
func (p *Pipeline) SubmissionEvents(w http.ResponseWriter, r *http.Request) {
	p.serveEvents(w, r, submissionEvents{p})
}

// NotificationEvents handles result-created deliveries.
func (p *Pipeline) NotificationEvents(w http.ResponseWriter, r *http.Request) {
	p.serveEvents(w, r, notificationEvents{p})
}

// serveEvents answers 200 once the delivery decoded, whatever the handler
// outcomes. Failures are already recorded on the job or emailed.
func (p *Pipeline) serveEvents(w http.ResponseWriter, r *http.Request, h eventHandler) {
	log := observability.Logger(r.Context())

	batch, err := event.DecodeRequest(r)
	if err != nil {
		log.Warn("Rejected event delivery", zap.Error(err))
		if !errors.Is(err, event.ErrMalformedPayload) {
			err = apperrors.NewBadRequest("unreadable event delivery", err)
		}
		respondWithError(w, r, err)
		return
	}

	if batch.ValidationCode != "" {
		log.Info("Answered subscription validation")
		writeJSON(w, http.StatusOK, map[string]string{"validationResponse": batch.ValidationCode})
		return
	}

	resp := EventsResponse{Outcomes: make([]pipeline.Outcome, 0, len(batch.Events))}
	for _, ev := range batch.Events {
		out, err := h.Handle(r, ev)
		if err != nil {
			log.Error("Event handler failed", zap.String("event_id", ev.ID), zap.Error(err))
			if out.Error == "" {
				out.Error = err.Error()
			}
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// WebhookHandshake answers the CloudEvents webhook validation request.
func (p *Pipeline) WebhookHandshake(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("WebHook-Request-Origin")
	if origin == "" {
		respondWithError(w, r, apperrors.NewBadRequest("missing WebHook-Request-Origin header", nil))
		return
	}
	if len(p.origins) > 0 && !slices.Contains(p.origins, origin) && !slices.Contains(p.origins, "*") {
		respondWithError(w, r, apperrors.NewForbidden("origin "+origin+" is not allowed"))
		return
	}

	w.Header().Set("WebHook-Allowed-Origin", origin)
	if rate := r.Header.Get("WebHook-Request-Rate"); rate != "" {
		w.Header().Set("WebHook-Allowed-Rate", rate)
	}
	w.Header().Set("Allow", "POST, OPTIONS")
	w.WriteHeader(http.StatusOK)
}
