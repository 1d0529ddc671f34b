// Package tools provides the built-in document tools. Each tool is a thin
// HTTP callable against the internal tools service; schemas and timeouts
// live here so the dispatcher can gate invocations without loading remote
// metadata.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/saptiva-ai/copilotos/pkg/mcp"
)

// httpTool posts its payload to one endpoint of the tools service.
type httpTool struct {
	spec     mcp.ToolSpec
	endpoint string
	client   *http.Client
}

func (t *httpTool) Spec() mcp.ToolSpec { return t.spec }

func (t *httpTool) Invoke(ctx context.Context, payload map[string]any, ic *mcp.InvocationContext) (any, error) {
	if err := ic.CheckCancelled(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &mcp.InvalidInputError{Reason: "payload is not serializable"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool service call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read tool response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, &mcp.PermissionError{Reason: "tool service denied the request"}
	case resp.StatusCode == http.StatusUnprocessableEntity, resp.StatusCode == http.StatusBadRequest:
		return nil, &mcp.InvalidInputError{Reason: fmt.Sprintf("tool service rejected the payload: %s", data)}
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("tool service returned status %d", resp.StatusCode)
	}

	if err := ic.CheckCancelled(); err != nil {
		return nil, err
	}

	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("tool service returned malformed JSON: %w", err)
	}
	return result, nil
}

const documentSchema = `{
	"type": "object",
	"properties": {
		"document_id": {"type": "string", "minLength": 1},
		"user_id": {"type": "string"},
		"options": {"type": "object"}
	},
	"required": ["document_id"]
}`

const visualizationSchema = `{
	"type": "object",
	"properties": {
		"document_id": {"type": "string", "minLength": 1},
		"user_id": {"type": "string"},
		"chart_type": {"type": "string", "enum": ["bar", "line", "pie", "scatter", "table"]},
		"options": {"type": "object"}
	},
	"required": ["document_id"]
}`

const auditOutputSchema = `{
	"type": "object",
	"properties": {
		"findings": {"type": "array", "items": {"type": "object"}},
		"summary": {"type": "string"}
	},
	"required": ["findings", "summary"]
}`

const tabularOutputSchema = `{
	"type": "object",
	"properties": {
		"sheets": {"type": "array", "items": {"type": "object"}},
		"metrics": {"type": "object"},
		"summary": {"type": "string"}
	}
}`

const chartOutputSchema = `{
	"type": "object",
	"properties": {
		"chart_type": {"type": "string"},
		"data": {"type": "object"},
		"title": {"type": "string"}
	},
	"required": ["chart_type", "data"]
}`

const toolsOwner = "saptiva-copilotos"

// NewAuditFile audits a document for compliance findings.
func NewAuditFile(baseURL string, client *http.Client) mcp.Tool {
	return &httpTool{
		spec: mcp.ToolSpec{
			Name:         "audit_file",
			Version:      "1.2.0",
			DisplayName:  "Auditoría de documentos",
			Category:     "documents",
			Description:  "Audita un documento y genera hallazgos de cumplimiento",
			Capabilities: []string{"audit", "compliance"},
			Tags:         []string{"documentos", "cumplimiento"},
			Owner:        toolsOwner,
			InputSchema:  json.RawMessage(documentSchema),
			OutputSchema: json.RawMessage(auditOutputSchema),
			TimeoutMs:    30000,
			RateLimit:    20,
			MaxPayloadKB: 256,
			RequiresAuth: true,
			CacheTTL:     time.Hour,
		},
		endpoint: baseURL + "/tools/audit",
		client:   client,
	}
}

// NewExcelAnalyzer extracts structure and summary statistics from
// spreadsheets.
func NewExcelAnalyzer(baseURL string, client *http.Client) mcp.Tool {
	return &httpTool{
		spec: mcp.ToolSpec{
			Name:         "excel_analyzer",
			Version:      "1.0.0",
			DisplayName:  "Analizador de hojas de cálculo",
			Category:     "documents",
			Description:  "Analiza hojas de cálculo y resume sus datos",
			Capabilities: []string{"tabular", "statistics"},
			Tags:         []string{"excel", "datos"},
			Owner:        toolsOwner,
			InputSchema:  json.RawMessage(documentSchema),
			OutputSchema: json.RawMessage(tabularOutputSchema),
			TimeoutMs:    45000,
			RequiresAuth: true,
			CacheTTL:     30 * time.Minute,
			Operations:   []string{"summary", "statistics", "anomalies"},
		},
		endpoint: baseURL + "/tools/excel",
		client:   client,
	}
}

// NewBankAnalytics runs transaction analytics over bank statements.
func NewBankAnalytics(baseURL string, client *http.Client) mcp.Tool {
	return &httpTool{
		spec: mcp.ToolSpec{
			Name:         "bank_analytics",
			Version:      "1.1.0",
			DisplayName:  "Analítica bancaria",
			Category:     "finance",
			Description:  "Calcula métricas financieras sobre estados de cuenta",
			Capabilities: []string{"tabular", "finance"},
			Tags:         []string{"banca", "finanzas"},
			Owner:        toolsOwner,
			InputSchema:  json.RawMessage(documentSchema),
			OutputSchema: json.RawMessage(tabularOutputSchema),
			TimeoutMs:    45000,
			RateLimit:    30,
			RequiresAuth: true,
			CacheTTL:     time.Hour,
			Operations:   []string{"cashflow", "categories"},
		},
		endpoint: baseURL + "/tools/bank",
		client:   client,
	}
}

// NewDataVisualization renders chart payloads from document data.
func NewDataVisualization(baseURL string, client *http.Client) mcp.Tool {
	return &httpTool{
		spec: mcp.ToolSpec{
			Name:         "data_visualization",
			Version:      "1.0.0",
			DisplayName:  "Visualización de datos",
			Category:     "visualization",
			Description:  "Genera visualizaciones a partir de datos del documento",
			Capabilities: []string{"charts"},
			Tags:         []string{"gráficas", "datos"},
			Owner:        toolsOwner,
			InputSchema:  json.RawMessage(visualizationSchema),
			OutputSchema: json.RawMessage(chartOutputSchema),
			TimeoutMs:    20000,
			RequiresAuth: true,
			CacheTTL:     time.Hour,
		},
		endpoint: baseURL + "/tools/visualize",
		client:   client,
	}
}

// RegisterAll wires the built-in tools into the versioned registry and
// announces them for lazy discovery.
func RegisterAll(registry *mcp.Registry, lazy *mcp.LazyRegistry, baseURL string, client *http.Client) error {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	builders := []func() mcp.Tool{
		func() mcp.Tool { return NewAuditFile(baseURL, client) },
		func() mcp.Tool { return NewExcelAnalyzer(baseURL, client) },
		func() mcp.Tool { return NewBankAnalytics(baseURL, client) },
		func() mcp.Tool { return NewDataVisualization(baseURL, client) },
	}

	for _, build := range builders {
		tool := build()
		if err := registry.Register(tool); err != nil {
			return err
		}
		build := build
		spec := tool.Spec()
		lazy.Announce(spec.Name, spec.Category, spec.Description, func() (mcp.Tool, error) {
			return build(), nil
		})
	}
	return nil
}
