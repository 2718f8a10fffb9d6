package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/helixir/report-pipeline-service/internal/domain"
	"github.com/helixir/report-pipeline-service/internal/events"
	"github.com/helixir/report-pipeline-service/internal/jobs"
	"github.com/helixir/report-pipeline-service/internal/llm"
)

// Validation constants.
const (
	maxComments        = 10000
	maxRequestBodySize = 8 << 20 // 8 MB limit; jobs carry full comment payloads
)

var validate = validator.New()

// submitReportRequest is the JSON request body for submitting a report job.
type submitReportRequest struct {
	UserID   string           `json:"user_id" validate:"required,max=128"`
	Model    string           `json:"model,omitempty"`
	Comments []commentRequest `json:"comments" validate:"required,min=1,dive"`
	Taxonomy []topicRequest   `json:"taxonomy" validate:"required,min=1,dive"`

	Concurrency      int     `json:"concurrency,omitempty" validate:"omitempty,min=1,max=64"`
	FailureThreshold float64 `json:"failure_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	SortBy           string  `json:"sort_by,omitempty" validate:"omitempty,oneof=speakers claims"`
}

type commentRequest struct {
	ID        string `json:"id" validate:"required,max=128"`
	SpeakerID string `json:"speaker_id" validate:"required,max=128"`
	Text      string `json:"text" validate:"required"`
}

type topicRequest struct {
	Name        string            `json:"name" validate:"required,max=256"`
	Description string            `json:"description,omitempty"`
	Subtopics   []subtopicRequest `json:"subtopics" validate:"required,min=1,dive"`
}

type subtopicRequest struct {
	Name        string `json:"name" validate:"required,max=256"`
	Description string `json:"description,omitempty"`
}

// submitReportResponse is returned on successful submission.
type submitReportResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// reportStatusResponse is returned for status queries. Report is present only
// once the job has completed.
type reportStatusResponse struct {
	Progress domain.Progress `json:"progress"`
	Report   *domain.Report  `json:"report,omitempty"`
}

// submitReport handles POST /api/v1/reports. It records the job as queued and
// hands it to the worker fleet via the jobs topic.
func (s *Server) submitReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req submitReportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if err := validate.Struct(&req); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid field: %s", invalid[0].Namespace()))
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if len(req.Comments) > maxComments {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("comments must have at most %d entries", maxComments))
		return
	}

	model := req.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}
	if !llm.SupportedModel(model) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported model: %s", model))
		return
	}

	job := &domain.Job{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Model:            model,
		Comments:         make([]domain.Comment, len(req.Comments)),
		Taxonomy:         make(domain.Taxonomy, len(req.Taxonomy)),
		CreatedAt:        time.Now().UTC(),
		Concurrency:      req.Concurrency,
		FailureThreshold: req.FailureThreshold,
		SortBy:           domain.SortKey(req.SortBy),
	}
	for i, c := range req.Comments {
		job.Comments[i] = domain.Comment{ID: c.ID, SpeakerID: c.SpeakerID, Text: c.Text}
	}
	for i, t := range req.Taxonomy {
		topic := domain.Topic{Name: t.Name, Description: t.Description, Subtopics: make([]domain.Subtopic, len(t.Subtopics))}
		for j, sub := range t.Subtopics {
			topic.Subtopics[j] = domain.Subtopic{Name: sub.Name, Description: sub.Description}
		}
		job.Taxonomy[i] = topic
	}
	if err := job.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	progressJSON, err := json.Marshal(domain.Progress{
		JobID:     job.ID,
		Status:    domain.JobStatusQueued,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record job")
		return
	}
	if err := s.store.Set(ctx, jobs.ProgressKey(job.ID), string(progressJSON), s.cfg.ResultTTL); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record queued job")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	if err := s.publisher.PublishJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to publish job")
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue job")
		return
	}
	s.publisher.PublishLifecycle(ctx, events.LifecycleEvent{
		Type:   events.EventJobSubmitted,
		JobID:  job.ID,
		UserID: job.UserID,
	})

	s.logger.Info().
		Str("job_id", job.ID).
		Str("user_id", job.UserID).
		Int("comments", len(job.Comments)).
		Msg("report job submitted")

	writeJSON(w, http.StatusAccepted, submitReportResponse{
		JobID:     job.ID,
		Status:    string(domain.JobStatusQueued),
		CreatedAt: job.CreatedAt,
	})
}

// getReport handles GET /api/v1/reports/{jobID}.
func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	raw, found, err := s.store.Get(ctx, jobs.ProgressKey(jobID))
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to read job progress")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	var progress domain.Progress
	if err := json.Unmarshal([]byte(raw), &progress); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("corrupt progress record")
		writeError(w, http.StatusInternalServerError, "corrupt job record")
		return
	}

	resp := reportStatusResponse{Progress: progress}
	if progress.Status == domain.JobStatusCompleted {
		rawReport, found, err := s.store.Get(ctx, jobs.ResultKey(jobID))
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to read report")
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
		if found {
			var report domain.Report
			if err := json.Unmarshal([]byte(rawReport), &report); err != nil {
				s.logger.Error().Err(err).Str("job_id", jobID).Msg("corrupt report record")
				writeError(w, http.StatusInternalServerError, "corrupt report record")
				return
			}
			resp.Report = &report
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
