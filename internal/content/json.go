package content

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON serializes a Block as {"type": "...", ...fields}, flattening
// the active variant's fields alongside the discriminator tag. This mirrors
// the tagged-union wire shape every provider and the client API expects.
func (b Block) MarshalJSON() ([]byte, error) {
	var payload any
	switch b.Type {
	case BlockTypeText:
		payload = b.Text
	case BlockTypeTemplateArguments:
		payload = b.TemplateArguments
	case BlockTypeRawText:
		payload = b.RawText
	case BlockTypeToolCall:
		payload = b.ToolCall
	case BlockTypeToolResult:
		payload = b.ToolResult
	case BlockTypeFile:
		payload = b.File
	case BlockTypeThought:
		payload = b.Thought
	case BlockTypeUnknown:
		payload = b.Unknown
	default:
		return nil, fmt.Errorf("content: marshaling block with unset type")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("content: marshaling %s block: %w", b.Type, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("content: flattening %s block: %w", b.Type, err)
	}
	typeTag, err := json.Marshal(b.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeTag

	return json.Marshal(fields)
}

// UnmarshalJSON decodes a tagged content block by peeking at "type" first,
// then decoding the remaining fields into the matching variant.
func (b *Block) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type BlockType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("content: reading block type: %w", err)
	}
	b.Type = tag.Type

	switch tag.Type {
	case BlockTypeText:
		b.Text = &TextBlock{}
		return json.Unmarshal(data, b.Text)
	case BlockTypeTemplateArguments:
		b.TemplateArguments = &TemplateArgumentsBlock{}
		return json.Unmarshal(data, b.TemplateArguments)
	case BlockTypeRawText:
		b.RawText = &RawTextBlock{}
		return json.Unmarshal(data, b.RawText)
	case BlockTypeToolCall:
		b.ToolCall = &ToolCallBlock{}
		return json.Unmarshal(data, b.ToolCall)
	case BlockTypeToolResult:
		b.ToolResult = &ToolResultBlock{}
		return json.Unmarshal(data, b.ToolResult)
	case BlockTypeFile:
		b.File = &FileBlock{}
		return json.Unmarshal(data, b.File)
	case BlockTypeThought:
		b.Thought = &ThoughtBlock{}
		return json.Unmarshal(data, b.Thought)
	case BlockTypeUnknown:
		b.Unknown = &UnknownBlock{}
		return json.Unmarshal(data, b.Unknown)
	default:
		return fmt.Errorf("content: unknown block type %q", tag.Type)
	}
}

// MarshalJSON for System: plain string when IsText, else the arguments
// object. Matches the wire contract in spec.md section 3 ("system is
// either a string or an object").
func (s System) MarshalJSON() ([]byte, error) {
	if s.IsText {
		return json.Marshal(s.Text)
	}
	return json.Marshal(s.Arguments)
}

// UnmarshalJSON for System accepts either a bare string or an object.
func (s *System) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		s.IsText = true
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return fmt.Errorf("content: system must be a string or object: %w", err)
	}
	s.Arguments = args
	s.IsText = false
	return nil
}

// MarshalJSON for OutputBlock mirrors Block's tagging but over the
// narrower output union.
func (o OutputBlock) MarshalJSON() ([]byte, error) {
	var payload any
	switch o.Type {
	case BlockTypeText:
		payload = o.Text
	case BlockTypeToolCall:
		payload = o.ToolCall
	case BlockTypeThought:
		payload = o.Thought
	case BlockTypeUnknown:
		payload = o.Unknown
	default:
		return nil, fmt.Errorf("content: marshaling output block with unset type")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	typeTag, err := json.Marshal(o.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeTag
	return json.Marshal(fields)
}

// MarshalJSON for ChatOutputBlock: the validated tool-call shape exposes
// raw_name/raw_arguments always, and name/arguments only when resolved.
func (c ChatOutputBlock) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case BlockTypeText:
		return json.Marshal(struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}{"text", c.Text.Text})
	case BlockTypeThought:
		return json.Marshal(struct {
			Type      string `json:"type"`
			Text      string `json:"text,omitempty"`
			Signature string `json:"signature,omitempty"`
		}{"thought", c.Thought.Text, c.Thought.Signature})
	case BlockTypeUnknown:
		return json.Marshal(struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}{"unknown", c.Unknown.Data})
	case BlockTypeToolCall:
		tc := c.ToolCall
		return json.Marshal(struct {
			Type         string          `json:"type"`
			ID           string          `json:"id"`
			RawName      string          `json:"raw_name"`
			RawArguments string          `json:"raw_arguments"`
			Name         *string         `json:"name"`
			Arguments    json.RawMessage `json:"arguments"`
		}{"tool_call", tc.ID, tc.RawName, tc.RawArguments, tc.Name, tc.Arguments})
	default:
		return nil, fmt.Errorf("content: marshaling chat output block with unset type")
	}
}
