package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// InvokeRequest is one tool invocation as it arrives at the pipeline.
type InvokeRequest struct {
	Tool    string         `json:"tool"`
	Version string         `json:"version,omitempty"`
	Payload map[string]any `json:"payload"`
}

// ToolInvokeResponse is the normalized envelope every invocation returns,
// success or failure.
type ToolInvokeResponse struct {
	Success      bool           `json:"success"`
	Tool         string         `json:"tool"`
	Version      string         `json:"version,omitempty"`
	Result       any            `json:"result,omitempty"`
	Error        *ToolError     `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	InvocationID string         `json:"invocation_id"`
	DurationMs   float64        `json:"duration_ms"`
	Cached       bool           `json:"cached"`
}

// Dispatcher runs the gated invocation pipeline. Every gate failure becomes
// a structured error response; no error escapes as a raw failure.
type Dispatcher struct {
	registry     *Registry
	limiter      *RateLimiter
	resultCache  *ResultCache
	scrubber     *Scrubber
	validator    *schemaValidator
	metrics      *Metrics
	maxPayloadKB int
	logger       *slog.Logger
}

func NewDispatcher(registry *Registry, limiter *RateLimiter, resultCache *ResultCache, scrubber *Scrubber, metrics *Metrics, maxPayloadKB int) *Dispatcher {
	if maxPayloadKB <= 0 {
		maxPayloadKB = DefaultMaxPayloadKB
	}
	return &Dispatcher{
		registry:     registry,
		limiter:      limiter,
		resultCache:  resultCache,
		scrubber:     scrubber,
		validator:    newSchemaValidator(),
		metrics:      metrics,
		maxPayloadKB: maxPayloadKB,
		logger:       slog.With("component", "mcp_dispatcher"),
	}
}

// Registry exposes the underlying versioned registry.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Invoke runs the full pipeline for one request.
func (d *Dispatcher) Invoke(ctx context.Context, req InvokeRequest, ic *InvocationContext) *ToolInvokeResponse {
	start := time.Now()
	resp := &ToolInvokeResponse{
		Tool:         req.Tool,
		InvocationID: uuid.New().String(),
	}
	if req.Payload == nil {
		req.Payload = map[string]any{}
	}

	if toolErr := d.runGates(ctx, &req, ic, resp); toolErr != nil {
		resp.Error = toolErr
		d.finish(resp, start, ic)
		return resp
	}

	d.finish(resp, start, ic)
	return resp
}

// runGates executes the ordered gates, filling the response on success.
func (d *Dispatcher) runGates(ctx context.Context, req *InvokeRequest, ic *InvocationContext, resp *ToolInvokeResponse) *ToolError {
	if toolErr := validatePayloadSize(req.Payload, d.maxPayloadKB); toolErr != nil {
		return toolErr
	}
	if toolErr := validatePayloadStructure(req.Payload); toolErr != nil {
		return toolErr
	}
	if toolErr := checkScope(req.Tool, ic); toolErr != nil {
		return toolErr
	}
	perMinute := 0
	if known, specErr := d.registry.Resolve(req.Tool, req.Version); specErr == nil {
		perMinute = known.Spec().RateLimit
	}
	if toolErr := d.limiter.AllowWithLimit(ctx, ic.UserID, req.Tool, perMinute); toolErr != nil {
		return toolErr
	}

	tool, toolErr := d.registry.Resolve(req.Tool, req.Version)
	if toolErr != nil {
		return toolErr
	}
	spec := tool.Spec()
	resp.Version = spec.Version

	if spec.RequiresAuth && ic.UserID == "" {
		return newToolError(CodePermissionDenied,
			fmt.Sprintf("tool %s requires an authenticated caller", spec.Name))
	}
	if spec.MaxPayloadKB > 0 && spec.MaxPayloadKB < d.maxPayloadKB {
		if toolErr := validatePayloadSize(req.Payload, spec.MaxPayloadKB); toolErr != nil {
			return toolErr
		}
	}

	injectUserID(spec, req.Payload, ic)

	if toolErr := d.validator.validate(spec, req.Payload); toolErr != nil {
		return toolErr
	}

	docID := documentID(req.Payload)
	if d.resultCache != nil && spec.CacheTTL != 0 {
		if cached, ok := d.resultCache.Get(ctx, spec.Name, docID, req.Payload); ok {
			resp.Success = true
			resp.Result = cached
			resp.Cached = true
			if d.metrics != nil {
				d.metrics.CacheHits.WithLabelValues(spec.Name).Inc()
			}
			return nil
		}
	}

	result, toolErr := d.execute(ctx, tool, req.Payload, ic)
	if toolErr != nil {
		return toolErr
	}

	resp.Success = true
	resp.Result = result
	if d.resultCache != nil && spec.CacheTTL != 0 {
		d.resultCache.Set(ctx, spec.Name, docID, req.Payload, result)
	}
	return nil
}

// execute runs the tool under its declared timeout and maps failures to
// error codes.
func (d *Dispatcher) execute(ctx context.Context, tool Tool, payload map[string]any, ic *InvocationContext) (any, *ToolError) {
	spec := tool.Spec()
	timeout := time.Duration(spec.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := tool.Invoke(execCtx, payload, ic)
	if err == nil {
		return result, nil
	}

	var invalidInput *InvalidInputError
	var permission *PermissionError
	switch {
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		toolErr := newToolError(CodeTimeout,
			fmt.Sprintf("tool %s exceeded its %dms timeout", spec.Name, spec.TimeoutMs))
		toolErr.Retriable = true
		return nil, toolErr
	case errors.As(err, &invalidInput):
		return nil, newToolError(CodeInvalidInput, d.scrubber.ScrubString(invalidInput.Reason, ""))
	case errors.As(err, &permission):
		return nil, newToolError(CodePermissionDenied, d.scrubber.ScrubString(permission.Reason, ""))
	default:
		return nil, newToolError(CodeExecutionError, d.scrubber.ScrubString(err.Error(), "")).
			withDetail("exc_type", fmt.Sprintf("%T", err))
	}
}

func (d *Dispatcher) finish(resp *ToolInvokeResponse, start time.Time, ic *InvocationContext) {
	resp.DurationMs = float64(time.Since(start).Microseconds()) / 1000

	outcome := "success"
	status := "ok"
	if resp.Error != nil {
		outcome = "error"
		status = resp.Error.Code
	}
	userType := "user"
	if ic.IsAdmin {
		userType = "admin"
	}
	if d.metrics != nil {
		d.metrics.InvocationsTotal.WithLabelValues(resp.Tool, resp.Version, status, outcome, userType).Inc()
		d.metrics.InvocationDuration.WithLabelValues(resp.Tool).Observe(time.Since(start).Seconds())
	}

	d.logger.Info("Tool invocation finished",
		"tool", resp.Tool,
		"version", resp.Version,
		"outcome", outcome,
		"cached", resp.Cached,
		"duration_ms", resp.DurationMs,
		"invocation_id", resp.InvocationID)
}

// injectUserID fills payload["user_id"] with the caller's id when the tool's
// schema declares the parameter and the payload omits it.
func injectUserID(spec ToolSpec, payload map[string]any, ic *InvocationContext) {
	if _, present := payload["user_id"]; present {
		return
	}
	if !schemaDeclares(spec.InputSchema, "user_id") {
		return
	}
	payload["user_id"] = ic.UserID
}

func schemaDeclares(schema json.RawMessage, property string) bool {
	if len(schema) == 0 {
		return false
	}
	var parsed struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return false
	}
	_, ok := parsed.Properties[property]
	return ok
}

// documentID pulls the document identifier out of the payload for cache
// keying; payloads without one share the "_" bucket.
func documentID(payload map[string]any) string {
	for _, key := range []string{"document_id", "file_id", "doc_id"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return "_"
}
