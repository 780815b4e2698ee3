package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/uniqualizer/internal/event"
	"github.com/maauso/uniqualizer/internal/job"
	"github.com/maauso/uniqualizer/internal/job/id"
)

// DefaultMaxBodyBytes bounds POST /transform bodies. Base64 inflates a
// 20 MiB payload to about 27 MiB.
const DefaultMaxBodyBytes = 28 << 20

// Dispatcher runs a transform for one event.
type Dispatcher interface {
	Handle(ctx context.Context, ev event.Inbound) event.Outbound
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	dispatcher   Dispatcher
	jobs         job.Repository
	validator    *validator.Validate
	logger       *slog.Logger
	maxBodyBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxBodyBytes sets the largest accepted request body.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(dispatcher Dispatcher, jobs job.Repository, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterStructValidation(validateTransformRequest, TransformRequest{})

	h := &Handlers{
		dispatcher:   dispatcher,
		jobs:         jobs,
		validator:    v,
		logger:       logger.With("component", "http"),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// validateTransformRequest requires a payload for photo and video requests.
func validateTransformRequest(sl validator.StructLevel) {
	req := sl.Current().Interface().(TransformRequest)
	if req.Kind != "text" && req.DataBase64 == "" {
		sl.ReportError(req.DataBase64, "DataBase64", "data_base64", "required_unless", "Kind text")
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Transform handles POST /transform requests. The transform runs
// synchronously on the request context.
func (h *Handlers) Transform(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "BODY_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	ev, err := toInbound(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "data_base64 is not valid base64", "VALIDATION_ERROR")
		return
	}

	reply := h.dispatcher.Handle(r.Context(), ev)

	resp := TransformResponse{JobID: ev.ID, Kind: req.Kind}
	switch c := reply.Content.(type) {
	case event.TextMessage:
		resp.Text = c.Body
	case event.PhotoAttachment:
		resp.DataBase64 = base64.StdEncoding.EncodeToString(c.Data)
		resp.Filename = c.Filename
	case event.VideoAttachment:
		resp.DataBase64 = base64.StdEncoding.EncodeToString(c.Data)
		resp.Filename = c.Filename
	case event.ErrorNotice:
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: c.Message,
			Code:  "TRANSFORM_FAILED",
			JobID: ev.ID,
		})
		return
	default:
		h.logger.Error("unexpected reply content", slog.String("job_id", ev.ID))
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func toInbound(req TransformRequest) (event.Inbound, error) {
	ev := event.Inbound{ID: id.Generate("http")}

	kind, _ := event.ParseKind(req.Kind)
	if kind == event.KindText {
		ev.Payload = event.Text{Body: req.Text}
		return ev, nil
	}

	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		return event.Inbound{}, err
	}
	ref := event.FileRef{Size: int64(len(data)), Data: data}
	if kind == event.KindPhoto {
		ev.Payload = event.Photo{File: ref}
	} else {
		ev.Payload = event.Video{File: ref}
	}
	return ev, nil
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.jobs.FindByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// DeleteJob handles DELETE /jobs/{id} requests. Records still being
// processed cannot be removed.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.jobs.FindByID(r.Context(), jobID)
	if err == nil && !found.IsTerminal() {
		writeError(w, http.StatusConflict, "job is still running", "JOB_ACTIVE")
		return
	}
	if err == nil {
		err = h.jobs.Delete(r.Context(), jobID)
	}
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
		return
	}

	h.logger.Info("job deleted", slog.String("job_id", jobID))
	w.WriteHeader(http.StatusNoContent)
}

// ListJobs handles GET /jobs requests, optionally filtered by ?status=.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	status := strings.ToUpper(r.URL.Query().Get("status"))
	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		if status != "" && string(j.Status) != status {
			continue
		}
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	resp.Count = len(resp.Jobs)

	writeJSON(w, http.StatusOK, resp)
}

func toJobResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Kind:        j.Kind,
		Status:      string(j.Status),
		SenderID:    j.SenderID,
		ErrorKind:   j.ErrorKind,
		Error:       j.Error,
		InputBytes:  j.InputBytes,
		OutputBytes: j.OutputBytes,
		ArchiveURL:  j.ArchiveURL,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
