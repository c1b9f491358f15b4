package tooling

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

// HTTPConfig configures the HTTP tool runtime.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	Client          *http.Client
}

// HTTPInvoker runs tools described by a workflow's tool registry over HTTP.
// GET and DELETE send the input as query parameters, other methods as a
// JSON body. A tool's result_map jq program turns the response into
// context updates; it sees {result, input, context}.
type HTTPInvoker struct {
	defs   map[string]schema.ToolDefinition
	jq     *expressions.JQ
	config HTTPConfig
}

// NewHTTPInvoker creates an invoker for the given tool definitions.
func NewHTTPInvoker(defs map[string]schema.ToolDefinition, cfg HTTPConfig) *HTTPInvoker {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &HTTPInvoker{defs: defs, jq: expressions.NewJQ(), config: cfg}
}

// RegisterAll registers every defined tool on a registry.
func (h *HTTPInvoker) RegisterAll(r *Registry) error {
	for name := range h.defs {
		if err := r.Register(name, h); err != nil {
			return err
		}
	}
	return nil
}

// Invoke performs the HTTP call for one directive.
func (h *HTTPInvoker) Invoke(ctx context.Context, call Call) (*Response, error) {
	def, ok := h.defs[call.ToolName]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool %q has no definition", call.ToolName)
	}

	u, err := url.ParseRequestURI(def.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "tool %q: invalid url %q", call.ToolName, def.URL)
	}

	method := strings.ToUpper(def.Method)
	if method == "" {
		method = http.MethodPost
	}

	timeout := h.config.DefaultTimeout
	if def.Timeout != "" {
		if d, err := time.ParseDuration(def.Timeout); err == nil {
			timeout = d
		}
	}

	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		q := u.Query()
		for k, v := range call.Input {
			q.Set(k, expressions.Stringify(v))
		}
		u.RawQuery = q.Encode()
	} else {
		b, err := json.Marshal(call.Input)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeToolFailed, "tool %q: marshal input", call.ToolName).WithCause(err)
		}
		body = bytes.NewReader(b)
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), body)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolFailed, "tool %q: create request", call.ToolName).WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range def.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.config.Client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolFailed, "tool %q: request failed: %v", call.ToolName, err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, h.config.MaxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolFailed, "tool %q: read response body", call.ToolName).WithCause(err)
	}

	var result any
	if len(raw) > 0 {
		if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
			if err := json.Unmarshal(raw, &result); err != nil {
				result = string(raw)
			}
		} else {
			result = string(raw)
		}
	}

	if resp.StatusCode >= 400 {
		return nil, schema.NewErrorf(schema.ErrCodeToolFailed, "tool %q: server returned %d", call.ToolName, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": result})
	}

	out := &Response{Result: result}
	if def.ResultMap != "" {
		updates, err := h.jq.TransformObject(ctx, def.ResultMap, map[string]any{
			"result":  result,
			"input":   call.Input,
			"context": call.Context,
		})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeToolFailed, "tool %q: %s", call.ToolName, err.Error()).WithCause(err)
		}
		out.ContextUpdates = updates
	}
	return out, nil
}

