package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uichat "github.com/uichat/uichat"
	"github.com/uichat/uichat/adapter"
	"github.com/uichat/uichat/api"
	"github.com/uichat/uichat/log"
)

// minimalPage satisfies every transport script: selectors resolve, commits
// and clicks succeed, and the container count stays at zero. Enough for
// fire-and-forget sends and for the non-send endpoints.
type minimalPage struct {
	url string
}

func (p *minimalPage) Evaluate(_ context.Context, expr string) (json.RawMessage, error) {
	if strings.HasPrefix(expr, "document.querySelectorAll") {
		return json.RawMessage("0"), nil
	}
	return json.RawMessage("true"), nil
}

func (p *minimalPage) Navigate(_ context.Context, url string) error {
	p.url = url
	return nil
}
func (p *minimalPage) URL() string { return p.url }
func (p *minimalPage) Close() error { return nil }

func testAdapter() adapter.Adapter {
	return adapter.Adapter{
		Name:              "testprov",
		URLHint:           "https://chat.test",
		Input:             []string{"#input"},
		Send:              []string{"#send"},
		Stop:              []string{"#stop"},
		ResponseContainer: []string{"div.reply"},
		ResponseContent:   []string{"div.content"},
		DefaultTimeout:    5 * time.Second,
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	a := testAdapter()
	control := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/version":
			w.WriteHeader(http.StatusOK)
		case "/json/list":
			require.NoError(t, json.NewEncoder(w).Encode([]map[string]string{{
				"id":                   "t1",
				"type":                 "page",
				"url":                  a.URLHint + "/c/1",
				"webSocketDebuggerUrl": "ws://ignored/t1",
			}}))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(control.Close)

	u, err := url.Parse(control.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	engine, err := uichat.New(uichat.Config{
		BrowserPath: "/nonexistent/browser-binary",
		ProfileDir:  t.TempDir(),
		ControlPort: port,
		Pidfile:     filepath.Join(t.TempDir(), "browser.pid"),
		Adapters:    []adapter.Adapter{a},
		Registerer:  prometheus.NewRegistry(),
		Dialer: func(_ context.Context, _, pageURL string) (api.Page, error) {
			return &minimalPage{url: pageURL}, nil
		},
	}, log.NewNullLogger())
	require.NoError(t, err)
	require.NoError(t, engine.Start(context.Background()))

	srv := httptest.NewServer(New(engine, log.NewNullLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestSendFireAndForget(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, body := postJSON(t, srv.URL+"/api/v1/send",
		`{"provider": "testprov", "prompt": "hello", "waitForResponse": false}`)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	md, ok := body["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, md["requestId"])
}

func TestSendFailureIsStillOK(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, body := postJSON(t, srv.URL+"/api/v1/send",
		`{"provider": "nosuch", "prompt": "hello"}`)

	// Interaction failures are part of the result contract, not HTTP faults.
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	md, ok := body["metadata"].(map[string]interface{})
	require.True(t, ok)
	errObj, ok := md["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(api.KindTransportNotAttached), errObj["kind"])
}

func TestSendRejectsBadRequests(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/send", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/send", "application/json", strings.NewReader(`{"prompt": "no provider"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpoints(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	resp, body := getJSON(t, srv.URL+"/api/v1/status")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	providers, ok := body["providers"].([]interface{})
	require.True(t, ok)
	require.Len(t, providers, 1)

	resp, body = getJSON(t, srv.URL+"/api/v1/status/testprov")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "testprov", body["provider"])
	browser, ok := body["browser"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "running", browser["state"])

	resp, _ = getJSON(t, srv.URL+"/api/v1/status/nosuch")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNewSessionEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/api/v1/providers/testprov/session", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "reset", body["status"])

	resp, _ = postJSON(t, srv.URL+"/api/v1/providers/nosuch/session", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDiscoverEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, body := postJSON(t, srv.URL+"/api/v1/discover", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
