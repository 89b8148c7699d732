package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"worker-host/src/shim"
)

// echoModule answers fetch with the request path and records the rest.
type echoModule struct {
	starts atomic.Int32

	mu        sync.Mutex
	scheduled []*shim.ScheduledEvent
	batches   []*shim.MessageBatch
	queueErr  error
}

func (m *echoModule) Start(context.Context, *shim.Env) error {
	m.starts.Add(1)
	return nil
}

func (m *echoModule) Fetch(_ context.Context, req *http.Request, env *shim.Env) (*shim.Response, error) {
	body, _ := io.ReadAll(req.Body)
	greeting, _ := env.Var("GREETING")
	return shim.JSON(http.StatusOK, map[string]string{
		"path":     req.URL.Path,
		"method":   req.Method,
		"body":     string(body),
		"greeting": greeting,
	})
}

func (m *echoModule) Scheduled(_ context.Context, ev *shim.ScheduledEvent, _ *shim.Env) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, ev)
	return nil
}

func (m *echoModule) Queue(_ context.Context, batch *shim.MessageBatch, _ *shim.Env) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return m.queueErr
}

// scheduledOnly exports no fetch handler.
type scheduledOnly struct{}

func (scheduledOnly) Scheduled(context.Context, *shim.ScheduledEvent, *shim.Env) error { return nil }

func TestFetchIsForwardedToModule(t *testing.T) {
	mod := &echoModule{}
	env := newTestServer(t, mod)

	rr := env.do(t, http.MethodPost, "/orders/42", "req-1", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var out map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.Equal(t, "/orders/42", out["path"])
	assert.Equal(t, http.MethodPost, out["method"])
	assert.Equal(t, "req-1", out["body"])
	assert.Equal(t, "hello", out["greeting"])
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Limit"))

	env.do(t, http.MethodGet, "/again", "", "")
	assert.Equal(t, int32(1), mod.starts.Load())
}

func TestFetchWithoutCapabilityIs501(t *testing.T) {
	env := newTestServer(t, scheduledOnly{})

	rr := env.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
	assert.Contains(t, rr.Body.String(), "fetch")
}

func TestFetchWhenSetupFailsIs503(t *testing.T) {
	env := newTestServer(t, &echoModule{})
	env.mr.Close()

	rr := env.do(t, http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "setup")
	assert.Equal(t, shim.NotStarted, env.srv.shim.Status().Setup)
}

func TestFetchRateLimited(t *testing.T) {
	env := newTestServer(t, &echoModule{}, func(c *Config) { c.RateLimit = "2-M" })

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/", "", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/", "", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/", "", "").Code)
}

func TestScheduledAdminTrigger(t *testing.T) {
	mod := &echoModule{}
	env := newTestServer(t, mod)
	token := env.adminToken(t)

	rr := env.do(t, http.MethodPost, "/__scheduled?cron=*/5+*+*+*+*&time=2026-03-01T10:00:00Z", "", token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	require.Len(t, mod.scheduled, 1)
	assert.Equal(t, "*/5 * * * *", mod.scheduled[0].Cron)
	assert.Equal(t, 2026, mod.scheduled[0].ScheduledTime.Year())

	rr = env.do(t, http.MethodPost, "/__scheduled?time=yesterday", "", token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestEnqueueAdmin(t *testing.T) {
	env := newTestServer(t, &echoModule{})
	token := env.adminToken(t)

	rr := env.do(t, http.MethodPost, "/__queue/jobs", `{"n":1}`, token)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	pending, _, err := env.srv.queues.Len(context.Background(), "jobs")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/__queue/other", "x", token).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/__queue/jobs", "", token).Code)
}

func TestStatusReportsGates(t *testing.T) {
	env := newTestServer(t, &echoModule{})
	token := env.adminToken(t)

	var before struct {
		Bindings []string `json:"bindings"`
	}
	rr := env.do(t, http.MethodGet, "/__status", "", token)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &before))
	assert.Contains(t, rr.Body.String(), `"setup":"not_started"`)
	assert.ElementsMatch(t, []string{"KV", "QUEUE", "QUEUE_JOBS"}, before.Bindings)

	env.do(t, http.MethodGet, "/", "", "")

	rr = env.do(t, http.MethodGet, "/__status", "", token)
	assert.Contains(t, rr.Body.String(), `"setup":"complete"`)
	assert.Contains(t, rr.Body.String(), `"startup":"complete"`)
	assert.Contains(t, rr.Body.String(), `"capabilities":["start","fetch","scheduled","queue"]`)
}

func TestErrorStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotImplemented, errorStatus(errors.Join(shim.ErrMissingCapability)))
	assert.Equal(t, http.StatusServiceUnavailable, errorStatus(&shim.InitError{Stage: "setup", Err: errors.New("x")}))
	assert.Equal(t, http.StatusGatewayTimeout, errorStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(errors.New("boom")))
}

// fetchOnlyModule exports only a fetch handler.
type fetchOnlyModule struct{}

func (fetchOnlyModule) Fetch(context.Context, *http.Request, *shim.Env) (*shim.Response, error) {
	return shim.NewResponse(http.StatusNoContent, nil), nil
}
