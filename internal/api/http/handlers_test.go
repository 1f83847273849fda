package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termhost/internal/terminal"
)

type fakeSessions struct {
	sessions  map[string]terminal.SessionInfo
	createErr error
	requests  []terminal.CreateRequest
	ctxErrs   []error
}

func (f *fakeSessions) CreateSession(ctx context.Context, req terminal.CreateRequest) (terminal.SessionInfo, error) {
	f.requests = append(f.requests, req)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.createErr != nil {
		return terminal.SessionInfo{}, f.createErr
	}
	if req.UserID == "" {
		return terminal.SessionInfo{}, fmt.Errorf("%w: userId is required", terminal.ErrValidation)
	}
	info := terminal.SessionInfo{
		SessionID:        "sess_" + req.UserID,
		UserID:           req.UserID,
		ProjectID:        req.ProjectID,
		Username:         terminal.DeriveUsername(req.UserID, req.DisplayIdentity),
		Status:           terminal.StatusActive,
		WorkingDirectory: "/workspaces/" + req.ProjectID,
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	f.sessions[req.UserID] = info
	return info, nil
}

func (f *fakeSessions) DeleteSession(_ context.Context, userID string) bool {
	_, ok := f.sessions[userID]
	delete(f.sessions, userID)
	return ok
}

func (f *fakeSessions) GetSession(userID string) (terminal.SessionInfo, error) {
	info, ok := f.sessions[userID]
	if !ok {
		return terminal.SessionInfo{}, fmt.Errorf("%w: %s", terminal.ErrNotFound, userID)
	}
	return info, nil
}

func (f *fakeSessions) List() []terminal.SessionInfo {
	out := make([]terminal.SessionInfo, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func (f *fakeSessions) Count() int { return len(f.sessions) }

func setupRouter(sessions Sessions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(sessions, nil)

	r := gin.New()
	r.GET("/health", h.Health)
	r.POST("/terminal/create-session", h.CreateSession)
	r.GET("/terminal/session/:userId", h.GetSession)
	r.DELETE("/terminal/session/:userId", h.DeleteSession)
	r.GET("/terminal/sessions", h.ListSessions)
	return r
}

func do(r *gin.Engine, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestHealth(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]terminal.SessionInfo{"u1": {}}}
	w, body := do(setupRouter(sessions), "GET", "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 1, body["activeSessions"])
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestCreateSession(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]terminal.SessionInfo{}}
	r := setupRouter(sessions)

	w, body := do(r, "POST", "/terminal/create-session", `{"userId":"u1","projectId":"p1","userEmail":"a@b.com"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess_u1", body["sessionId"])
	assert.Equal(t, "u1", body["userId"])
	assert.Equal(t, "p1", body["projectId"])
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "a", body["username"])
	assert.Equal(t, "/workspaces/p1", body["workingDirectory"])
	assert.Equal(t, "2026-01-02T03:04:05Z", body["createdAt"])
}

func TestCreateSessionOutlivesClientDisconnect(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]terminal.SessionInfo{}}
	r := setupRouter(sessions)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("POST", "/terminal/create-session",
		strings.NewReader(`{"userId":"u1","projectId":"p1"}`)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, sessions.ctxErrs, 1)
	assert.NoError(t, sessions.ctxErrs[0])
	assert.Contains(t, sessions.sessions, "u1")
}

func TestCreateSessionFallsBackToHeaders(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]terminal.SessionInfo{}}
	r := setupRouter(sessions)

	w, _ := do(r, "POST", "/terminal/create-session", `{"projectId":"p1"}`, map[string]string{
		"X-User-ID":    "u7",
		"X-User-Email": "dev@example.com",
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, sessions.requests, 1)
	assert.Equal(t, terminal.CreateRequest{UserID: "u7", ProjectID: "p1", DisplayIdentity: "dev@example.com"}, sessions.requests[0])
}

func TestCreateSessionErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		createErr error
		want      int
	}{
		{"malformed body", `{"userId":`, nil, http.StatusBadRequest},
		{"validation", `{"projectId":"p1"}`, nil, http.StatusBadRequest},
		{"shutting down", `{"userId":"u1","projectId":"p1"}`, terminal.ErrShuttingDown, http.StatusServiceUnavailable},
		{"root fallback refused", `{"userId":"u1","projectId":"p1"}`, fmt.Errorf("%w: refusing to run a as root", terminal.ErrProvisioning), http.StatusServiceUnavailable},
		{"spawn failure", `{"userId":"u1","projectId":"p1"}`, fmt.Errorf("%w: fork failed", terminal.ErrProcess), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &fakeSessions{sessions: map[string]terminal.SessionInfo{}, createErr: tt.createErr}
			w, body := do(setupRouter(sessions), "POST", "/terminal/create-session", tt.body, nil)

			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetSession(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]terminal.SessionInfo{}}
	r := setupRouter(sessions)

	w, body := do(r, "GET", "/terminal/session/u1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, false, body["success"])

	do(r, "POST", "/terminal/create-session", `{"userId":"u1","projectId":"p1"}`, nil)
	w, body = do(r, "GET", "/terminal/session/u1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess_u1", body["sessionId"])
}

func TestDeleteSession(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]terminal.SessionInfo{}}
	r := setupRouter(sessions)
	do(r, "POST", "/terminal/create-session", `{"userId":"u1","projectId":"p1"}`, nil)

	w, body := do(r, "DELETE", "/terminal/session/u1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])

	w, body = do(r, "DELETE", "/terminal/session/u1", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = do(r, "DELETE", "/terminal/session/bad%20id", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessions(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]terminal.SessionInfo{}}
	r := setupRouter(sessions)
	do(r, "POST", "/terminal/create-session", `{"userId":"u1","projectId":"p1"}`, nil)
	do(r, "POST", "/terminal/create-session", `{"userId":"u2","projectId":"p1"}`, nil)

	w, body := do(r, "GET", "/terminal/sessions", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])
	assert.Len(t, body["sessions"], 2)
}
