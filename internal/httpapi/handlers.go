package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noctua-labs/jobqueue/internal/broker"
	"github.com/noctua-labs/jobqueue/internal/httpapi/response"
	"github.com/noctua-labs/jobqueue/internal/job"
	"github.com/noctua-labs/jobqueue/internal/ptr"
)

// API holds the dependencies backing the HTTP handlers.
type API struct {
	Store  job.Store
	Broker *broker.Broker
}

// createJobRequest is the producer-facing job creation body.
type createJobRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

type jobResponse struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Status         job.Status      `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

func toJobResponse(j *job.Job) jobResponse {
	return jobResponse{
		ID:             j.ID,
		Type:           j.Type,
		Payload:        j.Payload,
		Status:         j.Status,
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		ErrorMessage:   j.ErrorMessage,
		IdempotencyKey: j.IdempotencyKey,
		CreatedAt:      j.CreatedAt.Format("2006-01-02T15:04:05.999999Z07:00"),
		UpdatedAt:      j.UpdatedAt.Format("2006-01-02T15:04:05.999999Z07:00"),
	}
}

type jobListResponse struct {
	Items  []jobResponse `json:"items"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// CreateJob handles POST /jobs: inserts a pending job and pushes it onto the
// ready stream, honoring the Idempotency-Key header.
func (a *API) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "malformed request body")
		return
	}
	if req.Type == "" {
		response.ValidationError(w, "type", "is required")
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage("{}")
	}

	j := &job.Job{
		Type:        req.Type,
		Payload:     req.Payload,
		MaxAttempts: req.MaxAttempts,
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		j.IdempotencyKey = ptr.To(key)
	}

	created, isNew, err := a.Store.Insert(r.Context(), j)
	if err != nil {
		response.InternalError(w, r, err)
		return
	}

	if isNew {
		if err := a.Broker.ReadyPush(r.Context(), created.ID); err != nil {
			response.InternalError(w, r, err)
			return
		}
		response.Created(w, toJobResponse(created))
		return
	}

	response.OK(w, toJobResponse(created))
}

// GetJob handles GET /jobs/{id}.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, err := a.Store.Get(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.OK(w, toJobResponse(j))
}

// ListJobs handles GET /jobs.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	params := job.ListParams{Limit: limit, Offset: offset}
	if v := r.URL.Query().Get("status"); v != "" {
		st := job.Status(v)
		params.Status = &st
	}

	result, err := a.Store.List(r.Context(), params)
	if err != nil {
		response.InternalError(w, r, err)
		return
	}

	items := make([]jobResponse, 0, len(result.Items))
	for _, j := range result.Items {
		items = append(items, toJobResponse(j))
	}
	response.OK(w, jobListResponse{Items: items, Total: result.Total, Limit: limit, Offset: offset})
}

type deadLetterResponse struct {
	ID           string          `json:"id"`
	OriginalID   string          `json:"original_job_id,omitempty"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	ErrorMessage string          `json:"error_message"`
	Attempts     int             `json:"attempts"`
	FailedAt     string          `json:"failed_at"`
}

// ListDeadLetterJobs handles GET /jobs/dead-letter.
func (a *API) ListDeadLetterJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 200 {
			limit = n
		}
	}

	items, err := a.Store.ListDeadLetter(r.Context(), limit)
	if err != nil {
		response.InternalError(w, r, err)
		return
	}

	out := make([]deadLetterResponse, 0, len(items))
	for _, d := range items {
		out = append(out, deadLetterResponse{
			ID:           d.ID,
			OriginalID:   d.OriginalID,
			Type:         d.Type,
			Payload:      d.Payload,
			ErrorMessage: d.ErrorMessage,
			Attempts:     d.Attempts,
			FailedAt:     d.FailedAt.Format("2006-01-02T15:04:05.999999Z07:00"),
		})
	}
	response.OK(w, out)
}

// RetryDeadLetterJob handles POST /jobs/dead-letter/{id}/retry.
func (a *API) RetryDeadLetterJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	newID, err := a.Store.RetryDeadLetter(r.Context(), id)
	if err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	if err := a.Broker.ReadyPush(r.Context(), newID); err != nil {
		response.InternalError(w, r, err)
		return
	}
	response.OK(w, map[string]string{"new_job_id": newID})
}

type discardRequest struct {
	Note string `json:"note"`
}

// DiscardDeadLetterJob handles POST /jobs/dead-letter/{id}/discard.
func (a *API) DiscardDeadLetterJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body discardRequest
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := a.Store.DiscardDeadLetter(r.Context(), id, body.Note); err != nil {
		response.FromDomainError(w, r, err)
		return
	}
	response.NoContent(w)
}

type metricsResponse struct {
	TotalJobs       int64 `json:"total_jobs"`
	ActiveJobs      int64 `json:"active_jobs"`
	CompletedJobs   int64 `json:"completed_jobs"`
	FailedJobs      int64 `json:"failed_jobs"`
	DeadLetterJobs  int64 `json:"dead_letter_jobs"`
	QueueLength     int64 `json:"queue_length"`
	RetryQueueLength int64 `json:"retry_queue_length"`
	DLQLength       int64 `json:"dlq_length"`
}

// Metrics handles GET /metrics: counts-by-status plus stream-length summary.
func (a *API) Metrics(w http.ResponseWriter, r *http.Request) {
	counts, err := a.Store.Counts(r.Context())
	if err != nil {
		response.InternalError(w, r, err)
		return
	}

	ready, retrying, dead, err := a.Broker.Lengths(r.Context())
	if err != nil {
		response.InternalError(w, r, err)
		return
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	response.OK(w, metricsResponse{
		TotalJobs:        total,
		ActiveJobs:       counts[job.StatusProcessing],
		CompletedJobs:    counts[job.StatusCompleted],
		FailedJobs:       counts[job.StatusFailed],
		DeadLetterJobs:   counts[job.StatusDeadLetter],
		QueueLength:      ready,
		RetryQueueLength: retrying,
		DLQLength:        dead,
	})
}

// Health handles GET /health.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{"status": "ok"})
}
