// Package server provides the operator HTTP surface: health, request record
// lookup and a synchronous transform endpoint. DTOs are kept separate from
// domain types.
package server

import "time"

// TransformRequest is the HTTP request body for POST /transform.
type TransformRequest struct {
	// Kind selects the transform: text, photo or video.
	Kind string `json:"kind" validate:"required,oneof=text photo video"`
	// Text is the input for the text transform.
	Text string `json:"text" validate:"required_if=Kind text,max=4096"`
	// DataBase64 is the base64-encoded photo or video.
	DataBase64 string `json:"data_base64" validate:"omitempty,base64"`
}

// TransformResponse is the HTTP response for a successful transform.
type TransformResponse struct {
	// JobID identifies the request record.
	JobID string `json:"job_id"`
	// Kind echoes the requested transform.
	Kind string `json:"kind"`
	// Text is the transformed text, set for text requests.
	Text string `json:"text,omitempty"`
	// DataBase64 is the base64-encoded output, set for photo and video requests.
	DataBase64 string `json:"data_base64,omitempty"`
	// Filename is the suggested name for DataBase64.
	Filename string `json:"filename,omitempty"`
}

// JobResponse is the HTTP response for a request record.
type JobResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	SenderID    int64     `json:"sender_id,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	InputBytes  int64     `json:"input_bytes"`
	OutputBytes int64     `json:"output_bytes"`
	ArchiveURL  string    `json:"archive_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// JobListResponse is the HTTP response for GET /jobs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// JobID is set when the failure was recorded.
	JobID string `json:"job_id,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
