package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/uniqualizer/internal/dispatch"
	"github.com/maauso/uniqualizer/internal/event"
	"github.com/maauso/uniqualizer/internal/job"
)

// mockDispatcher implements Dispatcher for testing.
type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Handle(ctx context.Context, ev event.Inbound) event.Outbound {
	args := m.Called(ctx, ev)
	return args.Get(0).(event.Outbound)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T, opts ...HandlerOption) (*Handlers, *mockDispatcher, *job.MemoryRepository) {
	t.Helper()
	repo := job.NewMemoryRepository(0)
	d := &mockDispatcher{}
	return NewHandlers(d, repo, testLogger(), opts...), d, repo
}

func postTransform(h *Handlers, body any) *httptest.ResponseRecorder {
	bodyJSON, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/transform", bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Transform(rec, req)
	return rec
}

func isPayload(kind event.Kind, data string) any {
	return mock.MatchedBy(func(ev event.Inbound) bool {
		if ev.Payload == nil || ev.Payload.Kind() != kind || !strings.HasPrefix(ev.ID, "http-") {
			return false
		}
		switch p := ev.Payload.(type) {
		case event.Text:
			return p.Body == data
		case event.Photo:
			return string(p.File.Data) == data
		case event.Video:
			return string(p.File.Data) == data
		}
		return false
	})
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
}

func TestTransform_Text(t *testing.T) {
	h, d, _ := newTestHandlers(t)
	d.On("Handle", mock.Anything, isPayload(event.KindText, "abc")).
		Return(event.Outbound{Content: event.TextMessage{Body: "transformed"}}).Once()

	rec := postTransform(h, TransformRequest{Kind: "text", Text: "abc"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp TransformResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "transformed", resp.Text)
	assert.Equal(t, "text", resp.Kind)
	assert.True(t, strings.HasPrefix(resp.JobID, "http-"))
	assert.Empty(t, resp.DataBase64)
	d.AssertExpectations(t)
}

func TestTransform_Media(t *testing.T) {
	tests := []struct {
		kind     string
		evKind   event.Kind
		reply    event.Content
		filename string
	}{
		{"photo", event.KindPhoto, event.PhotoAttachment{Data: []byte("jpeg"), Filename: event.PhotoFilename}, event.PhotoFilename},
		{"video", event.KindVideo, event.VideoAttachment{Data: []byte("mp4"), Filename: event.VideoFilename}, event.VideoFilename},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			h, d, _ := newTestHandlers(t)
			d.On("Handle", mock.Anything, isPayload(tt.evKind, "input")).
				Return(event.Outbound{Content: tt.reply}).Once()

			rec := postTransform(h, TransformRequest{
				Kind:       tt.kind,
				DataBase64: base64.StdEncoding.EncodeToString([]byte("input")),
			})

			assert.Equal(t, http.StatusOK, rec.Code)
			var resp TransformResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.filename, resp.Filename)
			decoded, err := base64.StdEncoding.DecodeString(resp.DataBase64)
			require.NoError(t, err)
			assert.NotEmpty(t, decoded)
			d.AssertExpectations(t)
		})
	}
}

func TestTransform_FailureIsGeneric(t *testing.T) {
	h, d, _ := newTestHandlers(t)
	d.On("Handle", mock.Anything, mock.Anything).
		Return(event.Outbound{Content: event.ErrorNotice{Message: event.GenericErrorMessage}}).Once()

	rec := postTransform(h, TransformRequest{
		Kind:       "video",
		DataBase64: base64.StdEncoding.EncodeToString([]byte("garbage")),
	})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "TRANSFORM_FAILED", resp.Code)
	assert.Equal(t, event.GenericErrorMessage, resp.Error)
	assert.NotEmpty(t, resp.JobID)
}

func TestTransform_InvalidJSON(t *testing.T) {
	h, d, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/transform", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.Transform(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "INVALID_JSON", resp.Code)
	d.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestTransform_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body TransformRequest
	}{
		{"missing kind", TransformRequest{Text: "abc"}},
		{"unknown kind", TransformRequest{Kind: "audio", DataBase64: "YWJj"}},
		{"text without text", TransformRequest{Kind: "text"}},
		{"text too long", TransformRequest{Kind: "text", Text: strings.Repeat("a", 4097)}},
		{"photo without data", TransformRequest{Kind: "photo"}},
		{"video with bad base64", TransformRequest{Kind: "video", DataBase64: "not base64!"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, d, _ := newTestHandlers(t)

			rec := postTransform(h, tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, "VALIDATION_ERROR", resp.Code)
			d.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
		})
	}
}

func TestTransform_BodyTooLarge(t *testing.T) {
	h, d, _ := newTestHandlers(t, WithMaxBodyBytes(64))

	rec := postTransform(h, TransformRequest{
		Kind:       "photo",
		DataBase64: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte("x"), 256)),
	})

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	d.AssertNotCalled(t, "Handle", mock.Anything, mock.Anything)
}

func TestGetJob_Success(t *testing.T) {
	h, _, repo := newTestHandlers(t)

	rec0 := job.NewWithID("tg-1-2", "video")
	rec0.SenderID = 42
	_ = rec0.Start()
	_ = rec0.Fail("decode", "no video stream")
	require.NoError(t, repo.Save(context.Background(), rec0))

	req := httptest.NewRequest(http.MethodGet, "/jobs/tg-1-2", nil)
	req.SetPathValue("id", "tg-1-2")
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "tg-1-2", resp.ID)
	assert.Equal(t, "video", resp.Kind)
	assert.Equal(t, "FAILED", resp.Status)
	assert.Equal(t, int64(42), resp.SenderID)
	assert.Equal(t, "decode", resp.ErrorKind)
	assert.Equal(t, "no video stream", resp.Error)
	assert.False(t, resp.CompletedAt.IsZero())
}

func TestGetJob_NotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/nonexistent", nil)
	req.SetPathValue("id", "nonexistent")
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "JOB_NOT_FOUND", resp.Code)
}

func TestDeleteJob(t *testing.T) {
	done := job.NewWithID("tg-1-2", "photo")
	_ = done.Start()
	_ = done.Complete(2048)
	running := job.NewWithID("tg-1-3", "video")
	_ = running.Start()

	tests := []struct {
		name     string
		id       string
		wantCode int
		wantErr  string
		wantLen  int
	}{
		{"finished record is removed", "tg-1-2", http.StatusNoContent, "", 1},
		{"running record is kept", "tg-1-3", http.StatusConflict, "JOB_ACTIVE", 2},
		{"unknown record", "tg-9-9", http.StatusNotFound, "JOB_NOT_FOUND", 2},
		{"missing id", "", http.StatusBadRequest, "MISSING_JOB_ID", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, repo := newTestHandlers(t)
			require.NoError(t, repo.Save(context.Background(), done))
			require.NoError(t, repo.Save(context.Background(), running))

			req := httptest.NewRequest(http.MethodDelete, "/jobs/"+tt.id, nil)
			req.SetPathValue("id", tt.id)
			rec := httptest.NewRecorder()

			h.DeleteJob(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantLen, repo.Len())
			if tt.wantErr != "" {
				var resp ErrorResponse
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
				assert.Equal(t, tt.wantErr, resp.Code)
			}
		})
	}
}

func TestGetJob_MissingID(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/jobs/", nil)
	rec := httptest.NewRecorder()

	h.GetJob(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "MISSING_JOB_ID", resp.Code)
}

func TestListJobs(t *testing.T) {
	h, _, repo := newTestHandlers(t)
	ctx := context.Background()

	done := job.NewWithID("a", "text")
	_ = done.Start()
	_ = done.Complete(3)
	failed := job.NewWithID("b", "photo")
	_ = failed.Start()
	_ = failed.Fail("decode", "not an image")
	require.NoError(t, repo.Save(ctx, done))
	require.NoError(t, repo.Save(ctx, failed))

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"a", "b"}},
		{"?status=failed", []string{"b"}},
		{"?status=COMPLETED", []string{"a"}},
		{"?status=RUNNING", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/jobs"+tt.query, nil)
			rec := httptest.NewRecorder()

			h.ListJobs(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			var resp JobListResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			ids := make([]string, 0, len(resp.Jobs))
			for _, j := range resp.Jobs {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, tt.want, ids)
			assert.Equal(t, len(tt.want), resp.Count)
		})
	}
}

func TestRouter_Integration(t *testing.T) {
	repo := job.NewMemoryRepository(0)
	d := dispatch.New(nil, nil, nil, repo, testLogger())
	h := NewHandlers(d, repo, testLogger())
	router := NewRouter(h, testLogger(), DefaultConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	bodyJSON, _ := json.Marshal(TransformRequest{Kind: "text", Text: "bad"})
	req = httptest.NewRequest(http.MethodPost, "/transform", bytes.NewReader(bodyJSON))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, "caller-id")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "caller-id", rec.Header().Get(RequestIDHeader))

	var resp TransformResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "\U0001D4B7\U0001D4B6\U0001D4B9", resp.Text)

	req = httptest.NewRequest(http.MethodGet, "/jobs/"+resp.JobID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var jobResp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobResp))
	assert.Equal(t, "COMPLETED", jobResp.Status)
	assert.Equal(t, "text", jobResp.Kind)

	req = httptest.NewRequest(http.MethodGet, "/jobs", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/jobs/"+resp.JobID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/jobs/"+resp.JobID, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, repo.Len())
}

func TestCORSMiddleware(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/transform", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	err := json.NewDecoder(rec.Body).Decode(&resp)
	require.NoError(t, err)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}
