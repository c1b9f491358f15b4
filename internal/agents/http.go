// Package agents calls live agents over HTTP.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultTimeout         = 60 * time.Second
)

// Config configures an HTTPInvoker.
type Config struct {
	Endpoint        string
	Headers         map[string]string
	Timeout         time.Duration
	MaxResponseBody int64
	Client          *http.Client
	// Breaker enables per-agent circuit breaking when non-nil.
	Breaker *BreakerConfig
	Logger  *slog.Logger
}

// request is the JSON body sent to the agent endpoint.
type request struct {
	RunID        string              `json:"run_id,omitempty"`
	StepIndex    int                 `json:"step_index"`
	Attempt      int                 `json:"attempt"`
	AgentID      string              `json:"agent_id"`
	AgentName    string              `json:"agent_name,omitempty"`
	AgentRole    string              `json:"agent_role,omitempty"`
	Prompt       string              `json:"prompt"`
	OutputFormat schema.OutputFormat `json:"output_format"`
	Context      map[string]any      `json:"context,omitempty"`
}

// HTTPInvoker implements engine.AgentInvoker against a single endpoint that
// serves every agent; the agent id travels in the request body.
//
// A 2xx response body may be an envelope {"output": ...} or {"text": "..."},
// or the agent text itself. Any other status becomes a *CallError.
type HTTPInvoker struct {
	endpoint string
	config   Config
	breakers *Breakers
	logger   *slog.Logger
}

// NewHTTPInvoker validates the endpoint and creates an invoker.
func NewHTTPInvoker(cfg Config) (*HTTPInvoker, error) {
	u, err := url.ParseRequestURI(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "agent endpoint must be an http(s) url, got %q", cfg.Endpoint)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &HTTPInvoker{endpoint: u.String(), config: cfg, logger: cfg.Logger}
	if cfg.Breaker != nil {
		h.breakers = NewBreakers(*cfg.Breaker)
	}
	return h, nil
}

// Breakers returns the circuit breakers, nil when disabled.
func (h *HTTPInvoker) Breakers() *Breakers { return h.breakers }

// Invoke sends one agent call.
func (h *HTTPInvoker) Invoke(ctx context.Context, call engine.AgentCall) (*engine.AgentResponse, error) {
	if h.breakers != nil {
		if err := h.breakers.Allow(call.AgentID); err != nil {
			return nil, err
		}
	}

	resp, err := h.do(ctx, call)
	if h.breakers != nil {
		var callErr *CallError
		switch {
		case err == nil:
			h.breakers.RecordSuccess(call.AgentID)
		case errors.As(err, &callErr) && callErr.Status > 0 && callErr.Status < 500:
			// The endpoint answered; the request was at fault.
			h.breakers.RecordSuccess(call.AgentID)
		default:
			if state := h.breakers.RecordFailure(call.AgentID); state == CircuitOpen {
				h.logger.WarnContext(ctx, "agent circuit opened", "agent_id", call.AgentID)
			}
		}
	}
	return resp, err
}

func (h *HTTPInvoker) do(ctx context.Context, call engine.AgentCall) (*engine.AgentResponse, error) {
	body, err := json.Marshal(request{
		RunID:        call.RunID,
		StepIndex:    call.StepIndex,
		Attempt:      call.Attempt,
		AgentID:      call.AgentID,
		AgentName:    call.AgentName,
		AgentRole:    call.AgentRole,
		Prompt:       call.Prompt,
		OutputFormat: call.OutputFormat,
		Context:      call.Context,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentCall, "agent %s: marshal request", call.AgentID).WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, h.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAgentCall, "agent %s: create request", call.AgentID).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.config.Headers {
		req.Header.Set(k, v)
	}

	started := time.Now()
	resp, err := h.config.Client.Do(req)
	if err != nil {
		return nil, &CallError{Code: CodeTransport, Message: err.Error(), Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxResponseBody))
	if err != nil {
		return nil, &CallError{Status: resp.StatusCode, Code: CodeTransport, Message: "read response body: " + err.Error(), Cause: err}
	}
	h.logger.DebugContext(ctx, "agent responded",
		"agent_id", call.AgentID, "status", resp.StatusCode, "bytes", len(raw), "duration_ms", time.Since(started).Milliseconds())

	isJSON := strings.Contains(resp.Header.Get("Content-Type"), "application/json")
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errorFromResponse(resp.StatusCode, raw, isJSON)
	}
	return decodeResponse(call.OutputFormat, raw, isJSON), nil
}

func decodeResponse(format schema.OutputFormat, raw []byte, isJSON bool) *engine.AgentResponse {
	if isJSON {
		var env map[string]any
		if json.Unmarshal(raw, &env) == nil {
			if out, ok := env["output"]; ok {
				if text, ok := out.(string); ok {
					return &engine.AgentResponse{Raw: text, Output: engine.ParseOutput(format, text)}
				}
				b, _ := json.Marshal(out)
				return &engine.AgentResponse{Raw: string(b), Output: out}
			}
			if text, ok := env["text"].(string); ok {
				return &engine.AgentResponse{Raw: text, Output: engine.ParseOutput(format, text)}
			}
		}
	}
	text := string(raw)
	return &engine.AgentResponse{Raw: text, Output: engine.ParseOutput(format, text)}
}

// errorFromResponse builds a CallError, reading the common
// {"error": {"code", "message", "status"}} provider shape when present.
func errorFromResponse(status int, raw []byte, isJSON bool) *CallError {
	ce := &CallError{Status: status, Message: http.StatusText(status)}
	text := strings.TrimSpace(string(raw))
	if text != "" {
		ce.Message = text
		ce.Body = text
	}
	if !isJSON {
		return ce
	}

	var body map[string]any
	if json.Unmarshal(raw, &body) != nil {
		return ce
	}
	ce.Body = body

	errObj, _ := body["error"].(map[string]any)
	if errObj == nil {
		if msg, ok := body["error"].(string); ok {
			ce.Message = msg
		}
		if msg, ok := body["message"].(string); ok {
			ce.Message = msg
		}
		return ce
	}
	if msg, ok := errObj["message"].(string); ok {
		ce.Message = msg
	}
	switch {
	case isString(errObj["status"]):
		ce.Code = errObj["status"].(string)
	case isString(errObj["code"]):
		ce.Code = errObj["code"].(string)
	case isString(errObj["type"]):
		ce.Code = errObj["type"].(string)
	}
	return ce
}

func isString(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}
