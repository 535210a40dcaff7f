package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"bridgesync/internal/bridgesync"
	"bridgesync/internal/config"
	"bridgesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu      sync.Mutex
	states  map[string]models.SyncState
	queued  []models.SyncTask
	minPrio int
	running bool
	actions []bridgesync.Action
}

func (f *fakeController) Running() bool { return f.running }
func (f *fakeController) Idle() bool    { return len(f.queued) == 0 }

func (f *fakeController) States() map[string]models.SyncState {
	return f.states
}

func (f *fakeController) State(id string) models.SyncState {
	return f.states[id]
}

func (f *fakeController) Queued() []models.SyncTask { return f.queued }
func (f *fakeController) MinimumPriority() int      { return f.minPrio }

func (f *fakeController) Dispatch(_ context.Context, action bridgesync.Action) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if action == nil {
		return false
	}
	f.actions = append(f.actions, action)
	return true
}

func (f *fakeController) dispatched() []bridgesync.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bridgesync.Action(nil), f.actions...)
}

type fakeAccounts map[string]models.Account

func (f fakeAccounts) ListAccounts(context.Context) ([]models.Account, error) {
	out := make([]models.Account, 0, len(f))
	for _, a := range f {
		out = append(out, a)
	}
	return out, nil
}

func (f fakeAccounts) GetAccount(_ context.Context, id string) (*models.Account, error) {
	a, ok := f[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return &a, nil
}

type fakeReport struct {
	err error
}

func (f fakeReport) Write(_ context.Context, w io.Writer) error {
	if f.err != nil {
		return f.err
	}
	_, err := w.Write([]byte("PK-xlsx"))
	return err
}

func newTestHTTPServer(t *testing.T, cfg config.APIConfig) (*fakeController, *httptest.Server) {
	t.Helper()
	ctrl := &fakeController{
		running: true,
		states: map[string]models.SyncState{
			"btc-1": {Pending: true},
			"eth-1": {Error: models.NewSyncError(models.ErrorKindRemote, errors.New("explorer returned 502"))},
		},
		queued:  []models.SyncTask{{AccountIDs: []string{"sol-1"}, Priority: 20}},
		minPrio: -1,
	}
	accounts := fakeAccounts{"btc-1": {ID: "btc-1"}, "eth-1": {ID: "eth-1"}}
	server := NewHTTPServer(cfg, ctrl, accounts, fakeReport{}, true, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ctrl, ts
}

func doJSON(t *testing.T, method, url, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHTTPServer_States(t *testing.T) {
	_, ts := newTestHTTPServer(t, config.APIConfig{})

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sync/states", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		States map[string]models.SyncStateView `json:"states"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.States["btc-1"].Pending)
	assert.Equal(t, "Remote", body.States["eth-1"].ErrorKind)
}

func TestHTTPServer_State(t *testing.T) {
	_, ts := newTestHTTPServer(t, config.APIConfig{})

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sync/states/eth-1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view models.SyncStateView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, "Remote: explorer returned 502", view.Error)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/v1/sync/states/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPServer_Queue(t *testing.T) {
	_, ts := newTestHTTPServer(t, config.APIConfig{})

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sync/queue", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body queueResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Idle)
	assert.True(t, body.Running)
	assert.Equal(t, -1, body.MinimumPriority)
	assert.Equal(t, []models.SyncTask{{AccountIDs: []string{"sol-1"}, Priority: 20}}, body.Queued)
}

func TestHTTPServer_Actions(t *testing.T) {
	ctrl, ts := newTestHTTPServer(t, config.APIConfig{})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"sync all", "/api/v1/sync/all", `{"priority": 5}`, http.StatusAccepted},
		{"sync all empty body", "/api/v1/sync/all", "", http.StatusAccepted},
		{"sync some", "/api/v1/sync/accounts", `{"account_ids": ["btc-1", "eth-1"], "priority": 7}`, http.StatusAccepted},
		{"sync some without ids", "/api/v1/sync/accounts", `{"priority": 7}`, http.StatusBadRequest},
		{"sync one", "/api/v1/sync/accounts/btc-1", `{"priority": 30}`, http.StatusAccepted},
		{"sync one unknown", "/api/v1/sync/accounts/nope", `{"priority": 30}`, http.StatusNotFound},
		{"min priority", "/api/v1/sync/min-priority", `{"priority": 10}`, http.StatusAccepted},
		{"bad json", "/api/v1/sync/min-priority", `{priority`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, http.MethodPost, ts.URL+tt.path, tt.body, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	assert.Equal(t, []bridgesync.Action{
		bridgesync.SyncAllAccounts{Priority: 5},
		bridgesync.SyncAllAccounts{Priority: 0},
		bridgesync.SyncSomeAccounts{AccountIDs: []string{"btc-1", "eth-1"}, Priority: 7},
		bridgesync.SyncOneAccount{AccountID: "btc-1", Priority: 30},
		bridgesync.SetSkipUnderPriority{Priority: 10},
	}, ctrl.dispatched())
}

func TestHTTPServer_MethodNotAllowed(t *testing.T) {
	_, ts := newTestHTTPServer(t, config.APIConfig{})
	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sync/all", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPServer_HealthAndMetrics(t *testing.T) {
	_, ts := newTestHTTPServer(t, config.APIConfig{})

	resp := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["running"])

	resp = doJSON(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPServer_Report(t *testing.T) {
	_, ts := newTestHTTPServer(t, config.APIConfig{})

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sync/report.xlsx", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PK")))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "sync_status.xlsx")
}

func TestHTTPServer_ReportFailure(t *testing.T) {
	ctrl := &fakeController{}
	server := NewHTTPServer(config.APIConfig{}, ctrl, fakeAccounts{}, fakeReport{err: errors.New("db closed")}, false, nil)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/v1/sync/report.xlsx", "", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "metrics route is disabled")
}
