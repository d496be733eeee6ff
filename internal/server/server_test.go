package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rcliao/memops/internal/embedding"
	"github.com/rcliao/memops/internal/engine"
	"github.com/rcliao/memops/internal/memerr"
	"github.com/rcliao/memops/internal/metrics"
	"github.com/rcliao/memops/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "server.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := prometheus.NewRegistry()
	e, err := engine.New(engine.Options{
		Store:    s,
		Embedder: embedding.NewHashEmbedder(0),
		Metrics:  metrics.NewCollector(reg, zap.NewNop()),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(New(e, reg, zap.NewNop()).Handler())
	t.Cleanup(ts.Close)
	return ts
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *memerr.Error   `json:"error"`
	Meta    struct {
		TraceID string `json:"trace_id"`
	} `json:"meta"`
}

func post(t *testing.T, ts *httptest.Server, body string) (int, envelope) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/execute", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestExecuteRoundTrip(t *testing.T) {
	ts := newTestServer(t)

	code, env := post(t, ts, `{"stage":"ENC","op":"Encode","args":{"payload":{"text":"served memory"},"tags":["http"]}}`)
	require.Equal(t, http.StatusOK, code)
	require.True(t, env.Success)
	var enc struct {
		ID int64 `json:"inserted_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &enc))
	assert.NotZero(t, enc.ID)

	code, env = post(t, ts, `{"stage":"RET","op":"Retrieve","target":{"filter":{"has_tags":["http"]}}}`)
	require.Equal(t, http.StatusOK, code)
	var res struct {
		Count int              `json:"count"`
		Rows  []map[string]any `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "served memory", res.Rows[0]["text"])
}

func TestExecuteErrorStatus(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		body string
		code int
		kind memerr.Kind
	}{
		{"malformed", `{`, http.StatusBadRequest, memerr.KindValidation},
		{"unbounded all", `{"stage":"STO","op":"Delete","target":{"all":true}}`, http.StatusBadRequest, memerr.KindSafety},
		{"missing merge input", `{"stage":"STO","op":"Merge","target":{"ids":[41,42]}}`, http.StatusNotFound, memerr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := post(t, ts, tt.body)
			assert.Equal(t, tt.code, code)
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.kind, env.Error.Kind)
			assert.NotEmpty(t, env.Meta.TraceID)
		})
	}
}

func TestSweepEndpoint(t *testing.T) {
	ts := newTestServer(t)
	_, env := post(t, ts, `{"stage":"ENC","op":"Encode","args":{"payload":{"text":"short lived"},"expire_at":"2020-01-01T00:00:00Z"}}`)
	require.True(t, env.Success)

	resp, err := http.Post(ts.URL+"/v1/sweep?at="+time.Now().UTC().Format(time.RFC3339), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res engine.SweepResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, 1, res.Due)
	assert.Len(t, res.Applied, 1)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	post(t, ts, `{"stage":"ENC","op":"Encode","args":{"payload":{"text":"counted"}}}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "memops_operations_total")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusFor(&engine.Envelope{Success: true}))
	assert.Equal(t, http.StatusConflict, StatusFor(&engine.Envelope{Error: memerr.Conflict("locked")}))
	assert.Equal(t, http.StatusBadGateway, StatusFor(&engine.Envelope{Error: memerr.Provider(nil, "down")}))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(&engine.Envelope{Error: memerr.Store(nil, "disk")}))
}
