// Package toolschema validates tool-call arguments and JSON function
// outputs against their configured schemas (spec.md 4.5).
package toolschema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/tzrouter/gateway/internal/apierror"
	"github.com/tzrouter/gateway/internal/content"
)

// compile builds a *jsonschema.Schema from raw schema bytes. Each call gets
// its own compiler instance since schemas can be dynamic per-request
// (spec.md 4.5 "dynamic output schemas override the function-level schema
// for a single call") and the compiler caches resources by name across
// Compile calls on the same instance.
func compile(schemaBytes json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schemaBytes, &doc); err != nil {
		return nil, fmt.Errorf("toolschema: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("toolschema: add schema resource: %w", err)
	}
	return c.Compile("schema.json")
}

// ValidateToolCall resolves a raw tool call against the configured tool
// set. raw_name/raw_arguments are always preserved on the returned call;
// name/arguments are populated only when the raw name matches a
// configured tool AND the raw arguments are valid JSON that validates
// against that tool's schema. A validation failure is never propagated as
// an error — the call is returned with name/arguments left nil so the
// caller can still see what the model produced.
func ValidateToolCall(tc *content.ToolCallConfig, call *content.ToolCallBlock) *content.ValidatedToolCall {
	out := &content.ValidatedToolCall{
		ID:           call.ID,
		RawName:      call.Name,
		RawArguments: call.Arguments,
	}

	def, ok := tc.ByName(call.Name)
	if !ok {
		return out
	}

	var args any
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return out
	}

	if len(def.Schema) > 0 {
		schema, err := compile(def.Schema)
		if err != nil {
			return out
		}
		if err := schema.Validate(args); err != nil {
			return out
		}
	}

	name := def.Name
	out.Name = &name
	out.Arguments = json.RawMessage(call.Arguments)
	return out
}

// JSONOutput is the result of validating a JSON function's raw text
// output against its effective schema (spec.md 4.5).
type JSONOutput struct {
	Parsed json.RawMessage
	Raw    string
}

// ValidateJSONOutput parses raw text as JSON and validates it against
// schema. If schema is empty, any valid JSON passes. On any failure
// (invalid JSON, schema mismatch), Parsed is left nil and Raw retains the
// original text — this never returns an error, matching "schema failures
// on output never fail the call" (spec.md 7).
func ValidateJSONOutput(raw string, schema json.RawMessage) JSONOutput {
	out := JSONOutput{Raw: raw}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return out
	}

	if len(schema) > 0 {
		compiled, err := compile(schema)
		if err != nil {
			return out
		}
		if err := compiled.Validate(parsed); err != nil {
			return out
		}
	}

	out.Parsed = json.RawMessage(raw)
	return out
}

// ValidateSchema compiles schemaBytes and reports whether it is itself a
// well-formed JSON Schema document, surfaced as apierror.KindJSONSchema so
// a malformed function/tool schema fails fast at config-load time rather
// than silently disabling validation for every call that uses it.
func ValidateSchema(schemaBytes json.RawMessage) error {
	if _, err := compile(schemaBytes); err != nil {
		return apierror.Wrap(apierror.KindJSONSchema, err, "invalid schema document")
	}
	return nil
}
