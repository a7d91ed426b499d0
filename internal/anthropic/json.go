package anthropic

import (
	"encoding/json"
	"strings"
)

// MarshalJSON ensures Anthropic messages receive an array of content blocks.
func (c Content) MarshalJSON() ([]byte, error) {
	if len(c.Blocks) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Blocks)
}

// UnmarshalJSON for Content supports string and array shapes.
func (c *Content) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		c.Blocks = []ContentBlock{{Type: "text", Text: s}}
		return nil
	}
	var arr []ContentBlock
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	c.Blocks = arr
	return nil
}

// UnmarshalJSON for ContentBlock tolerates flexible tool_result shapes, where
// the nested content may be a string, a block, or an array of blocks.
func (b *ContentBlock) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["type"]; ok {
		_ = json.Unmarshal(v, &b.Type)
	}
	if v, ok := raw["text"]; ok {
		_ = json.Unmarshal(v, &b.Text)
	}
	if v, ok := raw["id"]; ok {
		_ = json.Unmarshal(v, &b.ID)
	}
	if v, ok := raw["name"]; ok {
		_ = json.Unmarshal(v, &b.Name)
	}
	if v, ok := raw["input"]; ok {
		var anyv interface{}
		if err := json.Unmarshal(v, &anyv); err == nil {
			if m, ok := anyv.(map[string]interface{}); ok {
				b.Input = m
			}
		}
	}
	if v, ok := raw["tool_use_id"]; ok {
		_ = json.Unmarshal(v, &b.ToolUseID)
	}
	if v, ok := raw["is_error"]; ok {
		_ = json.Unmarshal(v, &b.IsError)
	}
	if v, ok := raw["content"]; ok && len(v) > 0 && string(v) != "null" {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			b.Content = []ContentBlock{{Type: "text", Text: s}}
			return nil
		}
		var arr []ContentBlock
		if err := json.Unmarshal(v, &arr); err == nil {
			b.Content = arr
			return nil
		}
		var one ContentBlock
		if err := json.Unmarshal(v, &one); err == nil {
			b.Content = []ContentBlock{one}
			return nil
		}
	}
	return nil
}

// MarshalJSON encodes the system field in Anthropic-compatible form.
func (s SystemField) MarshalJSON() ([]byte, error) {
	text := strings.TrimSpace(s.Text)
	switch {
	case len(s.Blocks) > 0 && text != "":
		blocks := make([]ContentBlock, 0, len(s.Blocks)+1)
		blocks = append(blocks, ContentBlock{Type: "text", Text: text})
		blocks = append(blocks, s.Blocks...)
		return json.Marshal(blocks)
	case len(s.Blocks) > 0:
		return json.Marshal(s.Blocks)
	case text != "":
		return json.Marshal(text)
	default:
		return []byte("[]"), nil
	}
}

// UnmarshalJSON for SystemField allows string or array of blocks.
func (s *SystemField) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(b, &text); err != nil {
			return err
		}
		s.Text = text
		return nil
	}
	var arr []ContentBlock
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	s.Blocks = arr
	return nil
}
