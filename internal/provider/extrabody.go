package provider

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"

	"github.com/tzrouter/gateway/internal/content"
)

// ApplyExtraBody merges a request's already-precedence-resolved ExtraBody
// overrides into a serialized provider wire body (spec.md 4.2). Each
// override's Pointer is a dotted path into the JSON document ("model",
// "generation_config.temperature", "messages.0.content"), matching the
// path syntax sjson.Set accepts.
func ApplyExtraBody(wireJSON []byte, overrides []content.ExtraBody) ([]byte, error) {
	out := wireJSON
	for _, o := range overrides {
		var value any
		if err := json.Unmarshal(o.Value, &value); err != nil {
			return nil, fmt.Errorf("provider: decoding extra_body value at %q: %w", o.Pointer, err)
		}
		next, err := sjson.SetBytes(out, o.Pointer, value)
		if err != nil {
			return nil, fmt.Errorf("provider: applying extra_body at %q: %w", o.Pointer, err)
		}
		out = next
	}
	return out, nil
}

// ApplyExtraHeaders sets each override as an HTTP header, overwriting
// whatever the adapter already set (extra_headers always wins — spec.md
// 4.2).
func ApplyExtraHeaders(set func(name, value string), overrides []content.ExtraHeader) {
	for _, h := range overrides {
		set(h.Name, h.Value)
	}
}
