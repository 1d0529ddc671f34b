package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Structural limits applied to every payload before schema validation.
const (
	DefaultMaxPayloadKB = 1024
	maxNestingDepth     = 10
	maxKeyLength        = 100
	maxStringLength     = 10000
	maxArrayLength      = 1000
)

// validatePayloadSize serializes the payload and enforces the size cap.
func validatePayloadSize(payload map[string]any, maxKB int) *ToolError {
	if maxKB <= 0 {
		maxKB = DefaultMaxPayloadKB
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return newToolError(CodeValidationError, "payload is not serializable")
	}
	if len(data) > maxKB*1024 {
		return newToolError(CodeValidationError,
			fmt.Sprintf("payload size %d bytes exceeds limit of %d KB", len(data), maxKB)).
			withDetail("max_payload_kb", maxKB)
	}
	return nil
}

// validatePayloadStructure walks the payload enforcing depth, key, string,
// and array limits.
func validatePayloadStructure(payload map[string]any) *ToolError {
	if err := checkValue(payload, 1); err != nil {
		return newToolError(CodeValidationError, err.Error())
	}
	return nil
}

func checkValue(v any, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("payload nesting exceeds %d levels", maxNestingDepth)
	}
	switch val := v.(type) {
	case map[string]any:
		for key, inner := range val {
			if len(key) > maxKeyLength {
				return fmt.Errorf("payload key exceeds %d characters", maxKeyLength)
			}
			if err := checkValue(inner, depth+1); err != nil {
				return err
			}
		}
	case []any:
		if len(val) > maxArrayLength {
			return fmt.Errorf("payload array exceeds %d elements", maxArrayLength)
		}
		for _, inner := range val {
			if err := checkValue(inner, depth+1); err != nil {
				return err
			}
		}
	case string:
		if len(val) > maxStringLength {
			return fmt.Errorf("payload string exceeds %d characters", maxStringLength)
		}
	}
	return nil
}

// schemaValidator compiles and caches tool input schemas.
type schemaValidator struct {
	compiled map[string]*jsonschema.Schema
}

func newSchemaValidator() *schemaValidator {
	return &schemaValidator{compiled: make(map[string]*jsonschema.Schema)}
}

// validate checks the payload against the tool's input schema. Tools without
// a schema pass.
func (sv *schemaValidator) validate(spec ToolSpec, payload map[string]any) *ToolError {
	if len(spec.InputSchema) == 0 {
		return nil
	}

	key := spec.Name + "@" + spec.Version
	schema, ok := sv.compiled[key]
	if !ok {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(key+".json", strings.NewReader(string(spec.InputSchema))); err != nil {
			return newToolError(CodeValidationError, fmt.Sprintf("tool schema is invalid: %v", err))
		}
		var err error
		schema, err = compiler.Compile(key + ".json")
		if err != nil {
			return newToolError(CodeValidationError, fmt.Sprintf("tool schema does not compile: %v", err))
		}
		sv.compiled[key] = schema
	}

	// Round-trip so nested values carry the generic types the validator expects.
	raw, err := json.Marshal(payload)
	if err != nil {
		return newToolError(CodeValidationError, "payload is not serializable")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return newToolError(CodeValidationError, "payload is not valid JSON")
	}

	if err := schema.Validate(doc); err != nil {
		return newToolError(CodeValidationError, "payload does not match tool schema").
			withDetail("schema_error", err.Error())
	}
	return nil
}
