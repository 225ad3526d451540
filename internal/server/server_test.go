package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/flowdebug/pkg/flowdebug"
)

func testFlow() *flowdebug.BusinessFlow {
	return &flowdebug.BusinessFlow{
		Name:        "signup",
		Description: "sign a user up",
		StartStep:   "validate",
		Steps: []flowdebug.FlowStep{
			{ID: "validate", Name: "Validate", Type: flowdebug.StepValidation, NextSteps: []string{"create"}},
			{ID: "create", Name: "Create", Type: flowdebug.StepAction, NextSteps: []string{"notify"}},
			{ID: "notify", Name: "Notify", Type: flowdebug.StepAction},
		},
	}
}

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *flowdebug.ServiceDebugger) {
	t.Helper()
	d := flowdebug.NewServiceDebugger("user-service", flowdebug.WithStepDelay(0))
	require.NoError(t, d.RegisterFlow(testFlow()))
	ts := httptest.NewServer(New(d, cfg).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = d.Close()
	})
	return ts, d
}

func doJSON(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func createSession(t *testing.T, baseURL string, initial map[string]any) string {
	t.Helper()
	status, body := doJSON(t, http.MethodPost, baseURL+"/debug/sessions", map[string]any{
		"flow_name":       "signup",
		"initial_context": initial,
	})
	require.Equal(t, http.StatusOK, status, body)
	return body["session_id"].(string)
}

func TestHome(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	status, body := doJSON(t, http.MethodGet, ts.URL+"/debug/", nil)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user-service", body["service"])
	assert.Equal(t, []any{"signup"}, body["flows"])
	assert.Equal(t, float64(0), body["active_sessions"])
	assert.Equal(t, "/debug/ui", body["ui_url"])
}

func TestCustomPrefix(t *testing.T) {
	ts, _ := newTestServer(t, Config{Prefix: "ops/flows/"})

	status, body := doJSON(t, http.MethodGet, ts.URL+"/ops/flows/", nil)

	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/ops/flows/ui", body["ui_url"])
}

func TestListFlows(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	status, body := doJSON(t, http.MethodGet, ts.URL+"/debug/flows", nil)

	require.Equal(t, http.StatusOK, status)
	flows := body["flows"].([]any)
	require.Len(t, flows, 1)
	assert.Equal(t, map[string]any{
		"name":        "signup",
		"description": "sign a user up",
		"steps":       float64(3),
		"start_step":  "validate",
	}, flows[0])
}

func TestFlowDetail(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	status, body := doJSON(t, http.MethodGet, ts.URL+"/debug/flows/signup", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "validate", body["start_step"])
	assert.Len(t, body["steps"], 3)
	assert.True(t, strings.HasPrefix(body["diagram"].(string), "flowchart TD"))

	status, body = doJSON(t, http.MethodGet, ts.URL+"/debug/flows/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["detail"], "flow not found")
}

func TestUnregisterFlow(t *testing.T) {
	ts, d := newTestServer(t, Config{})

	status, _ := doJSON(t, http.MethodDelete, ts.URL+"/debug/flows/signup", nil)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, d.FlowNames())

	status, body := doJSON(t, http.MethodDelete, ts.URL+"/debug/flows/signup", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, body["detail"], "flow not found")

	status, _ = doJSON(t, http.MethodGet, ts.URL+"/debug/flows/signup", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateSession(t *testing.T) {
	ts, d := newTestServer(t, Config{})

	status, body := doJSON(t, http.MethodPost, ts.URL+"/debug/sessions", map[string]any{
		"flow_name":       "signup",
		"initial_context": map[string]any{"email": "ann@example.com"},
	})

	require.Equal(t, http.StatusOK, status)
	id := body["session_id"].(string)
	assert.Equal(t, "signup", body["flow_name"])
	assert.Equal(t, "created", body["status"])
	assert.Equal(t, "/debug/sessions/"+id+"/ws", body["websocket_url"])
	assert.Equal(t, "ann@example.com", d.GetSession(id).Context()["email"])
}

func TestCreateSession_BadRequests(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	tests := []struct {
		name string
		body any
		want string
	}{
		{name: "missing flow name", body: map[string]any{}, want: "flow_name is required"},
		{name: "unknown flow", body: map[string]any{"flow_name": "nope"}, want: "flow not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := doJSON(t, http.MethodPost, ts.URL+"/debug/sessions", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Contains(t, body["detail"], tt.want)
		})
	}
}

func TestCreateSession_DebuggerClosed(t *testing.T) {
	ts, d := newTestServer(t, Config{})
	require.NoError(t, d.Close())

	status, body := doJSON(t, http.MethodPost, ts.URL+"/debug/sessions", map[string]any{"flow_name": "signup"})

	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "debugger closed", body["detail"])
}

func TestGetAndDeleteSession(t *testing.T) {
	ts, _ := newTestServer(t, Config{})
	id := createSession(t, ts.URL, map[string]any{"n": 1})

	status, body := doJSON(t, http.MethodGet, ts.URL+"/debug/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "created", body["status"])
	assert.Nil(t, body["current_step"])
	assert.Equal(t, map[string]any{"n": float64(1)}, body["context"])

	status, _ = doJSON(t, http.MethodDelete, ts.URL+"/debug/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, status)

	status, body = doJSON(t, http.MethodGet, ts.URL+"/debug/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Session not found", body["detail"])

	status, _ = doJSON(t, http.MethodDelete, ts.URL+"/debug/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthzAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "flowdebug_up 1\n")
	})
	ts, _ := newTestServer(t, Config{MetricsHandler: metrics})

	status, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "flowdebug_up 1\n", string(raw))
}

func TestMetricsDisabled(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUI(t *testing.T) {
	ts, _ := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + "/debug/ui")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(raw), `const prefix = "/debug";`)
	assert.NotContains(t, string(raw), prefixPlaceholder)
}
