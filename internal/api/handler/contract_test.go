package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kiranshivaraju/scrapejobs/internal/api"
	"github.com/kiranshivaraju/scrapejobs/internal/api/handler"
	"github.com/kiranshivaraju/scrapejobs/internal/dispatch"
	"github.com/kiranshivaraju/scrapejobs/internal/reaper"
	"github.com/kiranshivaraju/scrapejobs/internal/registry"
	"github.com/kiranshivaraju/scrapejobs/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── fake worker ─────────────────────────────────────────────────────────────

// gateWorker reports progress for the first account, then blocks until
// release is closed. Any account named "failing" fails the job.
type gateWorker struct {
	release chan struct{}
}

func (g *gateWorker) Run(ctx context.Context, accounts []string, progress dispatch.ProgressFunc) (models.Payload, error) {
	progress(1, len(accounts))
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	payload := make(models.Payload, 0, len(accounts))
	for i, a := range accounts {
		if a == "failing" {
			return nil, errors.New("profile unavailable")
		}
		payload = append(payload, models.Record{Account: a, Tweets: int64(i + 1)})
	}
	progress(len(accounts), len(accounts))
	return payload, nil
}

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server   *httptest.Server
	registry *registry.Registry
	reaper   *reaper.Reaper
	worker   *gateWorker
	offset   time.Duration
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		registry: registry.New(),
		worker:   &gateWorker{release: make(chan struct{})},
	}

	d, err := dispatch.New(dispatch.Options{
		Registry: ts.registry,
		Worker:   ts.worker,
		TTL:      time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	ts.reaper, err = reaper.New(reaper.Options{
		Registry: ts.registry,
		Interval: time.Hour,
		Now:      func() time.Time { return time.Now().Add(ts.offset) },
	})
	require.NoError(t, err)

	router := api.NewRouter(api.Dependencies{
		LiveHandler:   handler.NewLiveHandler(),
		SubmitHandler: handler.NewSubmitHandler(d),
		PollHandler:   handler.NewPollHandler(d),
		ResultHandler: handler.NewResultHandler(d),
		DeleteHandler: handler.NewDeleteHandler(d),
		StatusHandler: handler.NewStatusHandler(d),
	})
	ts.server = httptest.NewServer(router)
	t.Cleanup(ts.server.Close)

	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) submit(t *testing.T, accounts ...string) string {
	t.Helper()
	resp := ts.do(t, "POST", "/api/v1/reports", map[string]any{"accounts": accounts})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	return data["id"].(string)
}

// waitForPoll polls until the task answers with the wanted status code.
func (ts *testServer) waitForPoll(t *testing.T, id string, status int) map[string]any {
	t.Helper()
	var body map[string]any
	require.Eventually(t, func() bool {
		resp := ts.do(t, "GET", "/api/v1/tasks/"+id, nil)
		if resp.StatusCode != status {
			return false
		}
		body = parseBody(t, resp)
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return body
}

// waitForState polls until the task reports the wanted state.
func (ts *testServer) waitForState(t *testing.T, id string, state string) map[string]any {
	t.Helper()
	var data map[string]any
	require.Eventually(t, func() bool {
		resp := ts.do(t, "GET", "/api/v1/tasks/"+id, nil)
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return false
		}
		data = parseBody(t, resp)["data"].(map[string]any)
		return data["state"] == state
	}, 2*time.Second, 10*time.Millisecond, "task never reached %s", state)
	return data
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func errCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	return parseBody(t, resp)["error"].(map[string]any)["code"].(string)
}

// ─── submit ──────────────────────────────────────────────────────────────────

func TestContract_Submit_Accepted(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/reports", map[string]any{
		"accounts": []string{"https://twitter.com/alice", "@bob"},
	})

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	id := data["id"].(string)
	assert.Equal(t, "/api/v1/tasks/"+id, resp.Header.Get("Location"))
	assert.NotEmpty(t, data["created_at"])
	assert.NotEmpty(t, data["expires_at"])
}

func TestContract_Submit_SingleAccount(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/reports", map[string]any{"account": "@carol"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	id := parseBody(t, resp)["data"].(map[string]any)["id"].(string)
	body := ts.waitForPoll(t, id, http.StatusOK)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["total"])
}

// Empty input creates no job.
func TestContract_Submit_NoAccounts(t *testing.T) {
	ts := newTestServer(t)

	bodies := []any{
		map[string]any{"accounts": []string{}},
		map[string]any{"account": "   "},
		nil,
	}
	for _, body := range bodies {
		resp := ts.do(t, "POST", "/api/v1/reports", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "NO_ACCOUNT_PROVIDED", errCode(t, resp))
	}
	assert.Equal(t, 0, ts.registry.Len())
}

func TestContract_Submit_WrongFormat(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/reports", map[string]any{
		"accounts": []string{"alice", "https://example.com/bob"},
	})

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "WRONG_FORMAT_ACCOUNT_LIST", errCode(t, resp))
	assert.Equal(t, 0, ts.registry.Len())
}

func TestContract_Submit_InvalidJSON(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest("POST", ts.server.URL+"/api/v1/reports", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, resp))
}

// ─── task lifecycle ──────────────────────────────────────────────────────────

// Submit returns before the work is done; poll shows progress,
// then completion with the result location.
func TestContract_LifecycleCompletes(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submit(t, "alice", "bob")

	data := ts.waitForState(t, id, "running")
	assert.Equal(t, id, data["id"])
	assert.Equal(t, float64(1), data["done"])
	assert.Equal(t, float64(2), data["total"])
	assert.Contains(t, data, "elapsed_ms")

	resp := ts.do(t, "GET", "/api/v1/results/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "PROCESSED_DATA_NOT_FOUND", errCode(t, resp))

	close(ts.worker.release)

	body := ts.waitForPoll(t, id, http.StatusCreated)
	data = body["data"].(map[string]any)
	assert.Equal(t, "completed", data["state"])
	assert.Equal(t, float64(2), data["done"])

	resp = ts.do(t, "GET", "/api/v1/tasks/"+id, nil)
	assert.Equal(t, "/api/v1/results/"+id, resp.Header.Get("Location"))

	resp = ts.do(t, "GET", "/api/v1/results/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := parseBody(t, resp)["data"].(map[string]any)
	records := result["records"].([]any)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].(map[string]any)["account"])
	assert.Equal(t, "bob", records[1].(map[string]any)["account"])
}

// After the TTL a sweep removes the job and its result.
func TestContract_ExpiredTaskIsEvicted(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submit(t, "alice")
	close(ts.worker.release)
	ts.waitForPoll(t, id, http.StatusCreated)

	ts.offset = 2 * time.Minute
	stats := ts.reaper.Sweep(context.Background())
	assert.Equal(t, 1, stats.EvictedJobs)
	assert.Equal(t, 1, stats.EvictedResults)

	resp := ts.do(t, "GET", "/api/v1/tasks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "TASK_NOT_FOUND", errCode(t, resp))

	resp = ts.do(t, "GET", "/api/v1/results/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// A failing worker leaves a queryable failed job and no result.
func TestContract_FailedTaskStaysQueryable(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submit(t, "alice", "failing")
	close(ts.worker.release)

	data := ts.waitForState(t, id, "failed")
	assert.Equal(t, float64(2), data["total"])

	resp := ts.do(t, "GET", "/api/v1/results/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// Deleting an in-flight job removes it; the late result is dropped.
func TestContract_DeleteInFlightDropsLateResult(t *testing.T) {
	ts := newTestServer(t)
	id := ts.submit(t, "alice", "bob")
	ts.waitForState(t, id, "running")

	resp := ts.do(t, "DELETE", "/api/v1/tasks/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	close(ts.worker.release)

	resp = ts.do(t, "GET", "/api/v1/tasks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, "DELETE", "/api/v1/tasks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "TASK_NOT_FOUND", errCode(t, resp))

	assert.Never(t, func() bool {
		return len(ts.registry.Results().IDs()) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
}

// ─── lookups ─────────────────────────────────────────────────────────────────

func TestContract_MalformedID_NotFound(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		method string
		path   string
		code   string
	}{
		{"GET", "/api/v1/tasks/not-a-uuid", "TASK_NOT_FOUND"},
		{"DELETE", "/api/v1/tasks/not-a-uuid", "TASK_NOT_FOUND"},
		{"GET", "/api/v1/results/not-a-uuid", "PROCESSED_DATA_NOT_FOUND"},
		{"GET", "/api/v1/tasks/00000000-0000-0000-0000-000000000001", "TASK_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp := ts.do(t, tt.method, tt.path, nil)
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, tt.code, errCode(t, resp))
		})
	}
}

func TestContract_Status(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Empty(t, data["jobs"])
	assert.Empty(t, data["result_ids"])

	first := ts.submit(t, "alice")
	second := ts.submit(t, "bob")
	close(ts.worker.release)
	ts.waitForPoll(t, first, http.StatusCreated)
	ts.waitForPoll(t, second, http.StatusCreated)

	resp = ts.do(t, "GET", "/api/v1/status", nil)
	data = parseBody(t, resp)["data"].(map[string]any)
	jobs := data["jobs"].([]any)
	require.Len(t, jobs, 2)
	assert.Equal(t, first, jobs[0].(map[string]any)["id"])
	assert.Equal(t, second, jobs[1].(map[string]any)["id"])
	assert.Len(t, data["result_ids"], 2)
}

func TestContract_Live(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/live", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data := parseBody(t, resp)["data"].(map[string]any)
	assert.Equal(t, "system running", data["status"])
}
