package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmaster/taskpad/internal/adapters/repository"
	"github.com/taskmaster/taskpad/internal/application/services"
	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/config"
	"github.com/taskmaster/taskpad/internal/infrastructure/database"
	"github.com/taskmaster/taskpad/internal/infrastructure/logger"
	"github.com/taskmaster/taskpad/internal/ports"
)

type stubWeather struct{}

func (stubWeather) Lookup(_ context.Context, location string) (*entities.Weather, error) {
	if location == "London" {
		return &entities.Weather{Temperature: 9.5, Condition: "Rain", IconHint: "10d"}, nil
	}
	return nil, errors.New("city not found")
}

func testConfig() *config.Config {
	return &config.Config{
		App:     config.AppConfig{Name: "taskpad", Version: "test", Environment: "test"},
		Server:  config.ServerConfig{Host: "127.0.0.1", Port: 0, RequestTimeout: 5 * time.Second},
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Auth: config.AuthConfig{
			DemoUsername: "demo",
			DemoPassword: "password",
			DemoName:     "Demo User",
			LoginDelay:   5 * time.Millisecond,
			JWTSecret:    "test-secret",
			JWTIssuer:    "taskpad",
			JWTExpiresIn: time.Hour,
		},
		Security: config.SecurityConfig{CORSAllowedOrigins: "*"},
		Metrics:  config.MetricsConfig{Enabled: true},
	}
}

type harness struct {
	t      *testing.T
	server *Server
	blobs  ports.BlobStore
	token  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, repository.NewMemoryStore())
}

func newHarnessWith(t *testing.T, blobs ports.BlobStore) *harness {
	t.Helper()
	clock := services.NewFakeClock(time.Date(2026, 10, 15, 9, 0, 0, 0, time.Local))

	srv, err := New(context.Background(), testConfig(), Dependencies{
		Blobs:   blobs,
		Weather: stubWeather{},
		Clock:   clock,
	}, logger.NewNop())
	require.NoError(t, err)

	return &harness{t: t, server: srv, blobs: blobs}
}

func (h *harness) do(method, path, body string) *httptest.ResponseRecorder {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) login() {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/v1/auth/login", `{"username":"demo","password":"password"}`)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())

	var st entities.AuthState
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &st))
	h.token = st.Token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/ready", "").Code)

	rec := h.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestHealth_SQLStorage(t *testing.T) {
	db, err := database.New("sqlite3", filepath.Join(t.TempDir(), "taskpad.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	h := newHarnessWith(t, repository.NewSQLStore(db))

	rec := h.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	stats, ok := body["storage_stats"].(map[string]interface{})
	require.True(t, ok, rec.Body.String())
	assert.Equal(t, "sqlite3", stats["driver"])

	assert.Equal(t, http.StatusOK, h.do(http.MethodGet, "/ready", "").Code)

	require.NoError(t, db.Close())
	rec = h.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage_not_ready")
}

func TestLogin_Flow(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodPost, "/api/v1/auth/login", `{"username":"demo","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	st := decode[entities.AuthState](t, rec)
	assert.Equal(t, entities.AuthStatusFailed, st.Status)
	assert.Equal(t, "Invalid credentials", st.Error)

	rec = h.do(http.MethodDelete, "/api/v1/auth/error", "")
	assert.Empty(t, decode[entities.AuthState](t, rec).Error)

	h.login()
	rec = h.do(http.MethodGet, "/api/v1/auth/session", "")
	st = decode[entities.AuthState](t, rec)
	assert.Equal(t, entities.AuthStatusAuthenticated, st.Status)
	assert.Equal(t, "Demo User", st.Identity.Name)

	rec = h.do(http.MethodPost, "/api/v1/auth/login", `{"username":"demo","password":"password"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/auth/logout", "")
	assert.Equal(t, entities.AuthStatusIdle, decode[entities.AuthState](t, rec).Status)

	// the old token no longer opens the guarded routes
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/tasks", "").Code)
}

func TestLogin_RequiresFields(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/v1/auth/login", `{"username":"demo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTasks_RequireSession(t *testing.T) {
	h := newHarness(t)

	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/tasks", "").Code)

	h.token = "forged"
	assert.Equal(t, http.StatusUnauthorized, h.do(http.MethodGet, "/api/v1/tasks", "").Code)
}

func TestTasks_Lifecycle(t *testing.T) {
	h := newHarness(t)
	h.login()

	rec := h.do(http.MethodPost, "/api/v1/tasks", `{"title":"Buy Milk","priority":"high","due_date":"2026-10-15"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[map[string]ports.TaskView](t, rec)["task"]
	assert.Equal(t, entities.PriorityHigh, created.Priority)

	rec = h.do(http.MethodPost, "/api/v1/tasks", `{"title":"   "}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodPost, "/api/v1/tasks", `{"title":"x","priority":"urgent"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h.do(http.MethodPost, "/api/v1/tasks", `{"title":"Walk dog","priority":"low"}`)
	rec = h.do(http.MethodPost, "/api/v1/tasks/2/pin", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/api/v1/tasks?sort=priority&direction=descending", "")
	list := decode[ports.ListTasksResponse](t, rec)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, int64(2), list.Data[0].ID, "pinned first")

	rec = h.do(http.MethodGet, "/api/v1/tasks?search=MILK", "")
	list = decode[ports.ListTasksResponse](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "Buy Milk", list.Data[0].Title)

	h.do(http.MethodPost, "/api/v1/tasks/1/toggle", "")
	rec = h.do(http.MethodGet, "/api/v1/tasks?filter=pending&date=2026-10-15", "")
	assert.Zero(t, decode[ports.ListTasksResponse](t, rec).Total)

	rec = h.do(http.MethodGet, "/api/v1/tasks?filter=overdue", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPatch, "/api/v1/tasks/1/priority", `{"priority":"low"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodDelete, "/api/v1/tasks/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/api/v1/tasks/1", "").Code)

	// intents against the deleted task are inert
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/api/v1/tasks/1/toggle", "").Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPost, "/api/v1/tasks/abc/toggle", "").Code)
}

func TestTasks_PriorityIsCaseInsensitive(t *testing.T) {
	h := newHarness(t)
	h.login()

	rec := h.do(http.MethodPost, "/api/v1/tasks", `{"title":"a","priority":"High"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, entities.PriorityHigh, decode[map[string]ports.TaskView](t, rec)["task"].Priority)

	rec = h.do(http.MethodPatch, "/api/v1/tasks/1/priority", `{"priority":"LOW"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, entities.PriorityLow, decode[map[string]ports.TaskView](t, rec)["task"].Priority)

	rec = h.do(http.MethodPut, "/api/v1/tasks/1", `{"title":"a","priority":"Medium"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, entities.PriorityMedium, decode[map[string]ports.TaskView](t, rec)["task"].Priority)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, "/api/v1/tasks/1/priority", `{"priority":"Urgent"}`).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodPatch, "/api/v1/tasks/1/priority", `{}`).Code)
}

func TestTasks_Editing(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.do(http.MethodPost, "/api/v1/tasks", `{"title":"draft"}`)

	rec := h.do(http.MethodPost, "/api/v1/tasks/1/editing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]ports.TaskView](t, rec)["task"].Editing)

	rec = h.do(http.MethodPut, "/api/v1/tasks/1", `{"title":"final","priority":"low","location":"London"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[map[string]ports.TaskView](t, rec)["task"]
	assert.Equal(t, "final", view.Title)
	assert.Equal(t, "London", view.Location)
	assert.False(t, view.Editing)

	h.do(http.MethodPost, "/api/v1/tasks/1/editing", "")
	assert.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/api/v1/tasks/editing", "").Code)

	rec = h.do(http.MethodGet, "/api/v1/tasks/state", "")
	state := decode[entities.TaskState](t, rec)
	assert.Nil(t, state.CurrentlyEditing)
}

func TestTasks_Weather(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.do(http.MethodPost, "/api/v1/tasks", `{"title":"trip","location":"London"}`)
	h.do(http.MethodPost, "/api/v1/tasks", `{"title":"home"}`)
	h.do(http.MethodPost, "/api/v1/tasks", `{"title":"lost","location":"Atlantis"}`)

	rec := h.do(http.MethodPost, "/api/v1/tasks/1/weather?wait=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ports.WeatherFetchResponse](t, rec)
	assert.Equal(t, entities.WeatherStatusSucceeded, resp.Status)
	assert.Equal(t, "Rain", resp.Weather.Condition)

	rec = h.do(http.MethodPost, "/api/v1/tasks/2/weather", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp = decode[ports.WeatherFetchResponse](t, rec)
	assert.Equal(t, "no_location", resp.Kind)
	assert.Equal(t, entities.WeatherStatusAbsent, resp.Status)

	rec = h.do(http.MethodPost, "/api/v1/tasks/3/weather?wait=true", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp = decode[ports.WeatherFetchResponse](t, rec)
	assert.Equal(t, "network_or_upstream_error", resp.Kind)
	assert.Equal(t, entities.WeatherStatusFailed, resp.Status)

	rec = h.do(http.MethodDelete, "/api/v1/tasks/3/weather", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entities.WeatherStatusAbsent, decode[map[string]ports.TaskView](t, rec)["task"].WeatherStatus)
}

func TestTasks_WeatherAsync(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.do(http.MethodPost, "/api/v1/tasks", `{"title":"trip","location":"London"}`)

	rec := h.do(http.MethodPost, "/api/v1/tasks/1/weather", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		rec := h.do(http.MethodGet, "/api/v1/tasks/1", "")
		return decode[ports.TaskView](t, rec).WeatherStatus == entities.WeatherStatusSucceeded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew_RestoresPersistedState(t *testing.T) {
	h := newHarness(t)
	h.login()
	h.do(http.MethodPost, "/api/v1/tasks", `{"title":"survives"}`)

	restarted, err := New(context.Background(), testConfig(), Dependencies{
		Blobs:   h.blobs,
		Weather: stubWeather{},
	}, logger.NewNop())
	require.NoError(t, err)

	h2 := &harness{t: t, server: restarted, blobs: h.blobs, token: h.token}
	rec := h2.do(http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ports.ListTasksResponse](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "survives", list.Data[0].Title)
}
