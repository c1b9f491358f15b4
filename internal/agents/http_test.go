package agents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

func newInvoker(t *testing.T, cfg Config) *HTTPInvoker {
	t.Helper()
	h, err := NewHTTPInvoker(cfg)
	require.NoError(t, err)
	return h
}

func TestHTTPInvoker_SendsCall(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output": {"category": "billing"}}`))
	}))
	defer srv.Close()

	h := newInvoker(t, Config{Endpoint: srv.URL, Headers: map[string]string{"Authorization": "Bearer k"}})
	resp, err := h.Invoke(context.Background(), engine.AgentCall{
		RunID:        "run-1",
		AgentID:      "triage",
		Attempt:      1,
		Prompt:       "classify this",
		OutputFormat: schema.OutputFormatJSON,
	})
	require.NoError(t, err)

	assert.Equal(t, "triage", got["agent_id"])
	assert.Equal(t, "classify this", got["prompt"])
	assert.Equal(t, "json", got["output_format"])
	assert.Equal(t, "run-1", got["run_id"])

	assert.Equal(t, map[string]any{"category": "billing"}, resp.Output)
	assert.JSONEq(t, `{"category":"billing"}`, resp.Raw)
}

func TestHTTPInvoker_ResponseShapes(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		format      schema.OutputFormat
		raw         string
		output      any
	}{
		{"output string parsed as json", "application/json", `{"output": "{\"score\": 0.9}"}`, schema.OutputFormatJSON, `{"score": 0.9}`, map[string]any{"score": 0.9}},
		{"text envelope with fence", "application/json", "{\"text\": \"```json\\n{\\\"ok\\\": true}\\n```\"}", schema.OutputFormatJSON, "```json\n{\"ok\": true}\n```", map[string]any{"ok": true}},
		{"plain text agent", "text/plain", "all done", schema.OutputFormatText, "all done", "all done"},
		{"json agent with prose", "text/plain", "no json here", schema.OutputFormatJSON, "no json here", "no json here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			resp, err := newInvoker(t, Config{Endpoint: srv.URL}).Invoke(context.Background(),
				engine.AgentCall{AgentID: "a", OutputFormat: tt.format})
			require.NoError(t, err)
			assert.Equal(t, tt.raw, resp.Raw)
			assert.Equal(t, tt.output, resp.Output)
		})
	}
}

func TestHTTPInvoker_ProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"code": 429, "status": "RESOURCE_EXHAUSTED", "message": "slow down",
			"details": [{"@type": "RetryInfo", "retryDelay": "7s"}]}}`))
	}))
	defer srv.Close()

	_, err := newInvoker(t, Config{Endpoint: srv.URL}).Invoke(context.Background(), engine.AgentCall{AgentID: "a"})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 429, ce.Status)
	assert.Equal(t, "RESOURCE_EXHAUSTED", ce.Code)
	assert.Equal(t, "slow down", ce.Message)

	cls := engine.ClassifyError(err)
	assert.Equal(t, engine.ClassTransient, cls.Class)
	assert.Equal(t, engine.CodeRateLimit, cls.Code)
	assert.Equal(t, int64(7000), engine.ComputeBackoff(cls, err, 0))
}

func TestHTTPInvoker_ErrorStatuses(t *testing.T) {
	tests := []struct {
		status int
		body   string
		class  engine.ErrorClass
		code   string
	}{
		{http.StatusBadRequest, `{"error": "bad prompt"}`, engine.ClassHard, ""},
		{http.StatusUnauthorized, `{"message": "no key"}`, engine.ClassHard, ""},
		{http.StatusServiceUnavailable, `upstream down`, engine.ClassTransient, engine.CodeNetwork},
		{http.StatusGatewayTimeout, ``, engine.ClassTransient, engine.CodeTimeout},
		{http.StatusInternalServerError, `boom`, engine.ClassUnknown, ""},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newInvoker(t, Config{Endpoint: srv.URL}).Invoke(context.Background(), engine.AgentCall{AgentID: "a"})
			require.Error(t, err)
			cls := engine.ClassifyError(err)
			assert.Equal(t, tt.class, cls.Class)
			assert.Equal(t, tt.code, cls.Code)
			assert.Equal(t, tt.status, cls.Status)
		})
	}
}

func TestHTTPInvoker_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newInvoker(t, Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond}).
		Invoke(context.Background(), engine.AgentCall{AgentID: "a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, engine.CodeTimeout, engine.ClassifyError(err).Code)
}

func TestHTTPInvoker_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newInvoker(t, Config{Endpoint: url}).Invoke(context.Background(), engine.AgentCall{AgentID: "a"})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeTransport, ce.Code)
	assert.Equal(t, engine.CodeNetwork, engine.ClassifyError(err).Code)
}

func TestHTTPInvoker_CircuitBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newInvoker(t, Config{Endpoint: srv.URL, Breaker: &BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour}})
	for range 2 {
		_, err := h.Invoke(context.Background(), engine.AgentCall{AgentID: "a"})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, h.Breakers().State("a"))

	_, err := h.Invoke(context.Background(), engine.AgentCall{AgentID: "a"})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeCircuitOpen, ce.Code)
	assert.Equal(t, int32(2), hits.Load(), "open circuit short-circuits")

	assert.Equal(t, CircuitClosed, h.Breakers().State("b"))
}

func TestHTTPInvoker_ClientErrorsKeepCircuitClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	h := newInvoker(t, Config{Endpoint: srv.URL, Breaker: &BreakerConfig{FailureThreshold: 1}})
	for range 3 {
		_, err := h.Invoke(context.Background(), engine.AgentCall{AgentID: "a"})
		require.Error(t, err)
	}
	assert.Equal(t, CircuitClosed, h.Breakers().State("a"))
}

func TestNewHTTPInvoker_RejectsBadEndpoint(t *testing.T) {
	for _, ep := range []string{"", "ftp://x", "not a url"} {
		_, err := NewHTTPInvoker(Config{Endpoint: ep})
		var wpErr *schema.WaypointError
		require.ErrorAs(t, err, &wpErr, ep)
		assert.Equal(t, schema.ErrCodeValidation, wpErr.Code)
	}
	h := newInvoker(t, Config{Endpoint: "http://localhost:1"})
	assert.Nil(t, h.Breakers())
}

func TestHTTPInvoker_InExecutor(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output": {"category": "billing"}}`))
	}))
	defer srv.Close()

	def := &schema.WorkflowDefinition{
		EntryAgentID: "triage",
		Agents:       []schema.AgentSpec{{ID: "triage", Prompt: "go"}},
	}
	exec := engine.NewExecutor(engine.ExecutorDeps{Agents: newInvoker(t, Config{Endpoint: srv.URL})})
	res, err := exec.Run(context.Background(), def, engine.RunConfig{Mode: engine.ModeReal, DisableSleep: true})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Len(t, res.Steps[0].Attempts, 2)
	assert.Equal(t, "policy_match:transient", res.Steps[0].Attempts[0].RetryReason)
	assert.Equal(t, map[string]any{"category": "billing"}, res.Steps[0].Output)
}
