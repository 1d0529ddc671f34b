package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/saptiva-ai/copilotos/pkg/mcp"
	"github.com/saptiva-ai/copilotos/pkg/models"
)

// invocationContext builds the tool-layer caller identity from the request.
func (s *Server) invocationContext(c *echo.Context) *mcp.InvocationContext {
	username, _ := c.Get(ctxUsername).(string)
	admin := isAdmin(c)
	return &mcp.InvocationContext{
		UserID:   userID(c),
		Username: username,
		IsAdmin:  admin,
		Scopes:   mcp.DefaultUserScopes(admin),
	}
}

func requireAdmin(c *echo.Context) error {
	if !isAdmin(c) {
		return echo.NewHTTPError(http.StatusForbidden, "admin scope required")
	}
	return nil
}

// mcpToolsHandler handles GET /api/mcp/tools.
func (s *Server) mcpToolsHandler(c *echo.Context) error {
	registry := s.dispatcher.Registry()
	specs := registry.Specs()

	tools := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, map[string]any{
			"name":                spec.Name,
			"version":             spec.Version,
			"available_versions":  registry.Versions(spec.Name),
			"display_name":        spec.DisplayName,
			"description":         spec.Description,
			"category":            spec.Category,
			"capabilities":        spec.Capabilities,
			"tags":                spec.Tags,
			"owner":               spec.Owner,
			"requires_auth":       spec.RequiresAuth,
			"input_schema":        spec.InputSchema,
			"output_schema":       spec.OutputSchema,
			"operations":          spec.Operations,
			"timeout_ms":          spec.TimeoutMs,
			"rate_limit":          spec.RateLimit,
			"max_payload_size_kb": spec.MaxPayloadKB,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tools":       tools,
		"total_count": len(tools),
	})
}

// mcpInvokeHandler handles POST /api/mcp/invoke. Pipeline failures never
// surface as HTTP errors; the envelope carries them.
func (s *Server) mcpInvokeHandler(c *echo.Context) error {
	var req mcp.InvokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Tool == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool is required")
	}

	resp := s.dispatcher.Invoke(c.Request().Context(), req, s.invocationContext(c))
	return c.JSON(http.StatusOK, resp)
}

// mcpHealthHandler handles GET /api/mcp/health.
func (s *Server) mcpHealthHandler(c *echo.Context) error {
	body := map[string]any{
		"status": "healthy",
	}
	if boolQuery(c, "include_tools", false) {
		body["tools"] = s.dispatcher.Registry().Names()
	}
	if boolQuery(c, "include_metrics", false) {
		body["lazy_registry"] = s.lazy.Stats()
	}
	if boolQuery(c, "include_tasks", false) {
		tasks := s.tasks.List(userID(c), "", "")
		pending, running := 0, 0
		for _, t := range tasks {
			switch t.Status {
			case models.TaskStatusPending:
				pending++
			case models.TaskStatusRunning:
				running++
			}
		}
		body["tasks"] = map[string]int{"pending": pending, "running": running, "total": len(tasks)}
	}
	return c.JSON(http.StatusOK, body)
}

// mcpDiscoverHandler handles GET /api/mcp/discover.
func (s *Server) mcpDiscoverHandler(c *echo.Context) error {
	infos := s.lazy.Discover(c.QueryParam("category"), c.QueryParam("search"))

	if !boolQuery(c, "include_schema", false) {
		return c.JSON(http.StatusOK, map[string]any{
			"tools":       infos,
			"total_count": len(infos),
		})
	}

	// Schema requests force a load per tool.
	detailed := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		entry := map[string]any{
			"name":        info.Name,
			"category":    info.Category,
			"description": info.Description,
			"loaded":      info.Loaded,
		}
		if spec, err := s.lazy.GetToolSpec(info.Name); err == nil {
			entry["input_schema"] = spec.InputSchema
			entry["version"] = spec.Version
		}
		detailed = append(detailed, entry)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tools":       detailed,
		"total_count": len(detailed),
	})
}

// mcpSchemaHandler handles GET /api/mcp/schema/:tool.
func (s *Server) mcpSchemaHandler(c *echo.Context) error {
	name := c.Param("tool")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool name is required")
	}

	tool, toolErr := s.dispatcher.Registry().Resolve(name, c.QueryParam("version"))
	if toolErr != nil {
		return echo.NewHTTPError(http.StatusNotFound, toolErr.Message)
	}

	spec := tool.Spec()
	return c.JSON(http.StatusOK, map[string]any{
		"tool":            spec.Name,
		"version":         spec.Version,
		"input_schema":    spec.InputSchema,
		"example_payload": examplePayload(spec.InputSchema),
	})
}

// examplePayload derives a minimal example from a JSON Schema's required
// string/number/boolean properties.
func examplePayload(schema json.RawMessage) map[string]any {
	example := map[string]any{}
	if len(schema) == 0 {
		return example
	}
	var parsed struct {
		Properties map[string]struct {
			Type string   `json:"type"`
			Enum []string `json:"enum"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return example
	}
	for _, name := range parsed.Required {
		prop, ok := parsed.Properties[name]
		if !ok {
			continue
		}
		switch {
		case len(prop.Enum) > 0:
			example[name] = prop.Enum[0]
		case prop.Type == "number" || prop.Type == "integer":
			example[name] = 0
		case prop.Type == "boolean":
			example[name] = false
		case prop.Type == "array":
			example[name] = []any{}
		case prop.Type == "object":
			example[name] = map[string]any{}
		default:
			example[name] = "ejemplo"
		}
	}
	return example
}

type createTaskRequest struct {
	Tool     string              `json:"tool"`
	Version  string              `json:"version,omitempty"`
	Payload  map[string]any      `json:"payload"`
	Priority models.TaskPriority `json:"priority,omitempty"`
}

// createTaskHandler handles POST /api/mcp/tasks.
func (s *Server) createTaskHandler(c *echo.Context) error {
	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Tool == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool is required")
	}

	tool, toolErr := s.dispatcher.Registry().Resolve(req.Tool, req.Version)
	if toolErr != nil {
		return echo.NewHTTPError(http.StatusNotFound, toolErr.Message)
	}

	ic := s.invocationContext(c)
	task := s.tasks.Enqueue(tool, req.Payload, req.Priority, ic,
		func(ctx context.Context, task *models.Task, ic *mcp.InvocationContext) (any, error) {
			resp := s.dispatcher.Invoke(ctx, mcp.InvokeRequest{
				Tool:    task.Tool,
				Version: req.Version,
				Payload: task.Payload,
			}, ic)
			if resp.Error != nil {
				return nil, resp.Error
			}
			return resp.Result, nil
		})

	return c.JSON(http.StatusAccepted, map[string]any{
		"task_id":               task.ID,
		"status":                task.Status,
		"poll_url":              mcp.PollURL(task.ID),
		"cancel_url":            mcp.CancelURL(task.ID),
		"estimated_duration_ms": int64(mcp.EstimateDuration(tool.Spec()) / time.Millisecond),
	})
}

// listTasksHandler handles GET /api/mcp/tasks.
func (s *Server) listTasksHandler(c *echo.Context) error {
	status := models.TaskStatus(c.QueryParam("status"))
	tasks := s.tasks.List(userID(c), status, c.QueryParam("tool"))
	return c.JSON(http.StatusOK, map[string]any{
		"tasks":       tasks,
		"total_count": len(tasks),
	})
}

// getTaskHandler handles GET /api/mcp/tasks/:id.
func (s *Server) getTaskHandler(c *echo.Context) error {
	task, err := s.tasks.Get(c.Param("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

// cancelTaskHandler handles DELETE /api/mcp/tasks/:id. Idempotent on
// terminal tasks.
func (s *Server) cancelTaskHandler(c *echo.Context) error {
	task, err := s.tasks.Cancel(c.Param("id"), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]any{
		"task_id":                task.ID,
		"status":                 task.Status,
		"cancellation_requested": task.CancellationRequested,
	})
}

// cacheInvalidateToolHandler handles DELETE /api/mcp/cache/tool/:tool/:doc.
func (s *Server) cacheInvalidateToolHandler(c *echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	removed, err := s.resultCache.InvalidateDocumentToolCache(c.Request().Context(), c.Param("doc"), c.Param("tool"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"removed": removed})
}

// cacheInvalidateDocumentHandler handles DELETE /api/mcp/cache/document/:doc.
func (s *Server) cacheInvalidateDocumentHandler(c *echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	removed, err := s.resultCache.InvalidateDocumentToolCache(c.Request().Context(), c.Param("doc"), c.QueryParam("tool"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"removed": removed})
}

// cacheInvalidateAllHandler handles DELETE /api/mcp/cache/all. Destructive;
// requires the explicit confirm flag.
func (s *Server) cacheInvalidateAllHandler(c *echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	if c.QueryParam("confirm") != "true" {
		return echo.NewHTTPError(http.StatusBadRequest, "confirm=true is required to flush tool caches")
	}
	removed, err := s.resultCache.InvalidateAllToolCaches(c.Request().Context(), c.QueryParam("tool"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"removed": removed})
}

// cacheStatsHandler handles GET /api/mcp/cache/stats.
func (s *Server) cacheStatsHandler(c *echo.Context) error {
	stats, err := s.resultCache.Stats(c.Request().Context(), c.QueryParam("doc_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// cacheWarmupHandler handles POST /api/mcp/cache/warmup.
func (s *Server) cacheWarmupHandler(c *echo.Context) error {
	tool := c.QueryParam("tool")
	docIDs := splitCSV(c.QueryParam("doc_ids"))
	if tool == "" || len(docIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "tool and doc_ids are required")
	}

	ic := s.invocationContext(c)
	warmed, failures := s.resultCache.Warmup(c.Request().Context(), tool, docIDs, ic.UserID,
		func(ctx context.Context, tool, docID, userID string) error {
			resp := s.dispatcher.Invoke(ctx, mcp.InvokeRequest{
				Tool:    tool,
				Payload: map[string]any{"document_id": docID},
			}, ic)
			if resp.Error != nil {
				return resp.Error
			}
			return nil
		})

	return c.JSON(http.StatusOK, map[string]any{
		"warmed":   warmed,
		"failures": failures,
	})
}

// lazyDiscoverHandler handles GET /api/mcp/lazy/discover.
func (s *Server) lazyDiscoverHandler(c *echo.Context) error {
	infos := s.lazy.Discover(c.QueryParam("category"), c.QueryParam("search"))
	return c.JSON(http.StatusOK, map[string]any{
		"tools":       infos,
		"total_count": len(infos),
	})
}

// lazyToolHandler handles GET /api/mcp/lazy/tools/:name; forces a load.
func (s *Server) lazyToolHandler(c *echo.Context) error {
	spec, err := s.lazy.GetToolSpec(c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, spec)
}

// lazyInvokeHandler handles POST /api/mcp/lazy/invoke. The load happens on
// demand; dispatch then follows the normal pipeline.
func (s *Server) lazyInvokeHandler(c *echo.Context) error {
	var req mcp.InvokeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Tool == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tool is required")
	}
	if _, err := s.lazy.Load(req.Tool); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	resp := s.dispatcher.Invoke(c.Request().Context(), req, s.invocationContext(c))
	return c.JSON(http.StatusOK, resp)
}

// lazyStatsHandler handles GET /api/mcp/lazy/stats. Admin only.
func (s *Server) lazyStatsHandler(c *echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.lazy.Stats())
}

// lazyUnloadHandler handles POST /api/mcp/lazy/tools/:name/unload. Admin only.
func (s *Server) lazyUnloadHandler(c *echo.Context) error {
	if err := requireAdmin(c); err != nil {
		return err
	}
	name := c.Param("name")
	return c.JSON(http.StatusOK, map[string]any{
		"tool":     name,
		"unloaded": s.lazy.Unload(name),
	})
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
