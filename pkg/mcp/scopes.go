package mcp

import (
	"fmt"
	"strings"
)

// ScopeWildcard grants every mcp:tools.* scope.
const ScopeWildcard = "mcp:tools.*"

// toolScopes maps tool name to the scope required to invoke it. Tools
// without an entry require the generic execute scope.
var toolScopes = map[string]string{
	"audit_file":         "mcp:tools.audit",
	"excel_analyzer":     "mcp:tools.excel",
	"bank_analytics":     "mcp:tools.analytics",
	"data_visualization": "mcp:tools.visualization",
}

const defaultToolScope = "mcp:tools.execute"

// RequiredScope returns the scope a tool demands.
func RequiredScope(toolName string) string {
	if scope, ok := toolScopes[toolName]; ok {
		return scope
	}
	return defaultToolScope
}

// checkScope verifies the caller holds the tool's scope. The wildcard
// matches any scope under mcp:tools.
func checkScope(toolName string, ic *InvocationContext) *ToolError {
	required := RequiredScope(toolName)
	for _, scope := range ic.Scopes {
		if scope == required {
			return nil
		}
		if scope == ScopeWildcard && strings.HasPrefix(required, "mcp:tools.") {
			return nil
		}
	}
	return newToolError(CodePermissionDenied,
		fmt.Sprintf("scope %s is required to invoke %s", required, toolName)).
		withDetail("required_scope", required)
}

// DefaultUserScopes are granted to every authenticated user; admins get the
// wildcard.
func DefaultUserScopes(isAdmin bool) []string {
	if isAdmin {
		return []string{ScopeWildcard}
	}
	return []string{
		"mcp:tools.execute",
		"mcp:tools.audit",
		"mcp:tools.excel",
		"mcp:tools.analytics",
		"mcp:tools.visualization",
	}
}
