package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	infra "github.com/pot-code/training-progress/internal/infrastructure"
	"github.com/pot-code/training-progress/internal/infrastructure/auth"
	"github.com/pot-code/training-progress/internal/infrastructure/driver"
	"github.com/pot-code/training-progress/internal/infrastructure/uuid"
	"github.com/pot-code/training-progress/internal/infrastructure/validate"
	"github.com/pot-code/training-progress/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeKV struct {
	mu      sync.Mutex
	revoked map[string]bool
	subs    map[string]chan string
}

func newFakeKV() *fakeKV {
	return &fakeKV{revoked: map[string]bool{}, subs: map[string]chan string{}}
}

func (f *fakeKV) SetEX(ctx context.Context, key string, value string, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[key] = true
	return nil
}

func (f *fakeKV) Exists(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[key], nil
}

func (f *fakeKV) Publish(ctx context.Context, channel string, message string) error {
	f.mu.Lock()
	ch, ok := f.subs[channel]
	f.mu.Unlock()
	if ok {
		ch <- message
	}
	return nil
}

func (f *fakeKV) Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan string, 8)
	f.subs[channel] = ch
	return ch, func() error { return nil }, nil
}

func (f *fakeKV) subscribed(channel string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[channel]
	return ok
}

func (f *fakeKV) Ping(ctx context.Context) error {
	return nil
}

type testServer struct {
	app     *echo.Echo
	conn    driver.ITransactionalDB
	kv      *fakeKV
	jwtUtil *auth.JWTUtil
}

func testConfig() *infra.AppConfig {
	option := &infra.AppConfig{
		AppID:          "training-progress",
		Env:            infra.EnvProduction,
		RequestTimeout: 5 * time.Second,
		SessionTimeout: time.Hour,
	}
	option.Security.JWTMethod = "HS256"
	option.Security.JWTSecret = "test-secret"
	option.Security.TokenName = "token"
	option.Progress.EventChannel = "training.events"
	return option
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	conn, err := driver.NewSQLiteConn(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(ctx) })
	require.NoError(t, progress.Migrate(ctx, conn))

	for _, stmt := range []string{
		`INSERT INTO training (id, title) VALUES ('t1', 'Safety'), ('t2', 'Privacy')`,
		`INSERT INTO content_item (id, training_id, position) VALUES ('c1', 't1', 1), ('c2', 't1', 2), ('x1', 't2', 1)`,
		`INSERT INTO quiz_question (id, training_id, position, correct_answer) VALUES ('q1', 't1', 1, 'A'), ('q2', 't1', 2, 'B')`,
		`INSERT INTO assignment (user_id, training_id) VALUES ('u1', 't1')`,
	} {
		_, err := conn.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	option := testConfig()
	kv := newFakeKV()
	repo := progress.NewProgressRepository(conn, uuid.NewNanoIDGenerator(16))
	uc := progress.NewUseCase(repo, nil, validate.NewValidator())
	return &testServer{
		app:  NewApp(conn, kv, option, uc, zap.NewNop()),
		conn: conn,
		kv:   kv,
		jwtUtil: auth.NewJWTUtil(option.Security.JWTMethod, option.Security.JWTSecret,
			option.Security.TokenName, option.SessionTimeout),
	}
}

func (ts *testServer) token(t *testing.T, uid string) string {
	tokenStr, err := ts.jwtUtil.Issue(uid)
	require.NoError(t, err)
	return tokenStr
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "token", Value: token})
	}
	rec := httptest.NewRecorder()
	ts.app.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestAPI_RequiresToken(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, http.MethodGet, "/api/v1/progress", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, float64(http.StatusUnauthorized), body["code"])

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/progress", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	anonymous, err := ts.jwtUtil.Issue("")
	require.NoError(t, err)
	rec, _ = ts.do(t, http.MethodGet, "/api/v1/progress", anonymous, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_RevokedToken(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "u1")
	require.NoError(t, ts.kv.SetEX(context.Background(), token, "1", time.Hour))

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/progress", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_ContentCompletion(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "u1")

	rec, body := ts.do(t, http.MethodPost, "/api/v1/trainings/t1/content/c1/complete", token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(50), body["progress_percent"])
	assert.Equal(t, "in_progress", body["status"])

	rec, body = ts.do(t, http.MethodPost, "/api/v1/trainings/t1/content/c1/complete", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(50), body["progress_percent"])

	rec, body = ts.do(t, http.MethodPost, "/api/v1/trainings/t1/content/x1/complete", token, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotEmpty(t, body["trace_id"])

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/trainings/t2/content/x1/complete", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = ts.do(t, http.MethodPost, "/api/v1/trainings/t1/content/c2/complete", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(100), body["progress_percent"])
	assert.Equal(t, "ready_for_quiz", body["status"])

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/trainings/t1/content", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []*progress.ContentStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 2)
	assert.True(t, items[0].Completed)
	assert.True(t, items[1].Completed)
}

func TestAPI_Quiz(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "u1")

	rec, body := ts.do(t, http.MethodPost, "/api/v1/trainings/t1/quiz", token, `{"answers": {}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, body["invalid_params"])

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/trainings/t1/quiz", token, `{"answers": ["A"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = ts.do(t, http.MethodPost, "/api/v1/trainings/t1/quiz", token, `{"answers": {"q1": "a", "q2": "c"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(50), body["score"])
	assert.Equal(t, "completed", body["status"])

	rec, body = ts.do(t, http.MethodGet, "/api/v1/trainings/t1/progress", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(50), body["score"])
	assert.NotNil(t, body["completed_at"])

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/progress", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var overview []*progress.TrainingOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &overview))
	require.Len(t, overview, 1)
	assert.Equal(t, "Safety", overview[0].Title)
	assert.Equal(t, progress.StatusCompleted, overview[0].Status)

	rec, _ = ts.do(t, http.MethodPost, "/api/v1/trainings/t2/quiz", token, `{"answers": {"q1": "A"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_EmptyListIsArray(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/progress", ts.token(t, "nobody"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestAPI_Healthz(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, ts.conn.Close(context.Background()))
	rec, _ = ts.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPI_EventStream(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts.app)
	defer server.Close()

	header := http.Header{}
	header.Set("Cookie", fmt.Sprintf("token=%s", ts.token(t, "u1")))
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws/events"
	client, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return ts.kv.subscribed("training.events.u1") }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, ts.kv.Publish(context.Background(), "training.events.u1", `{"type":"training_completed"}`))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"training_completed"}`, string(msg))
}

func TestAPI_EventStreamRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	server := httptest.NewServer(ts.app)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	if assert.NotNil(t, resp) {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
}

func TestAPI_SignOutRevokesToken(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "u1")

	rec, _ := ts.do(t, http.MethodDelete, "/api/v1/session", token, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	revoked, err := ts.kv.Exists(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, revoked)

	rec, _ = ts.do(t, http.MethodGet, "/api/v1/progress", token, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
