package openai

import (
	"encoding/json"
	"time"
)

// ResponseRequest represents the subset of OpenAI's Responses API request the
// gateway consumes. Codex-style clients report tool results either as
// function_call_output input items or through the tool_outputs array.
type ResponseRequest struct {
	Model           string               `json:"model"`
	Input           []ResponseInputItem  `json:"input,omitempty"`
	Instructions    string               `json:"instructions,omitempty"`
	Temperature     *float64             `json:"temperature,omitempty"`
	TopP            *float64             `json:"top_p,omitempty"`
	MaxOutputTokens *int                 `json:"max_output_tokens,omitempty"`
	Stream          bool                 `json:"stream,omitempty"`
	Tools           []ResponseTool       `json:"tools,omitempty"`
	ToolChoice      interface{}          `json:"tool_choice,omitempty"`
	ToolOutputs     []ResponseToolOutput `json:"tool_outputs,omitempty"`
}

// ResponseInputItem is one entry of the Responses API input array. Message
// items carry role/content; function_call_output items carry call_id/output.
type ResponseInputItem struct {
	Type    string          `json:"type,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// function_call fields (assistant history replayed by the client)
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	// function_call_output fields
	Output string `json:"output,omitempty"`
}

// ResponseTool represents a tool in Responses API format (flat structure).
// Unlike Chat Completions which nests {type, function: {name, ...}}, the
// Responses API uses {type, name, description, parameters}.
type ResponseTool struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ResponseToolOutput describes a tool output entry submitted back to the Responses API.
type ResponseToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

// ToTool converts ResponseTool (flat format) to Tool (nested format) for Chat Completions.
func (rt ResponseTool) ToTool() Tool {
	return Tool{
		Type: rt.Type,
		Function: ToolFunction{
			Name:        rt.Name,
			Description: rt.Description,
			Parameters:  rt.Parameters,
		},
	}
}

// ResponseOutputItem is one entry of a Responses API response output array.
type ResponseOutputItem struct {
	Type      string            `json:"type"`
	ID        string            `json:"id,omitempty"`
	Role      string            `json:"role,omitempty"`
	Status    string            `json:"status,omitempty"`
	Content   []ResponseContent `json:"content,omitempty"`
	CallID    string            `json:"call_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Arguments string            `json:"arguments,omitempty"`
}

// ResponseContent is a content part of an output message item.
type ResponseContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Response mirrors the Responses API response envelope.
type Response struct {
	ID        string               `json:"id"`
	Object    string               `json:"object"`
	CreatedAt int64                `json:"created_at"`
	Status    string               `json:"status"`
	Model     string               `json:"model"`
	Output    []ResponseOutputItem `json:"output"`
	Usage     ResponseUsage        `json:"usage"`
}

// ResponseUsage follows the Responses API usage naming.
type ResponseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewResponse builds a completed Responses envelope with the given output items.
func NewResponse(id, model string, output []ResponseOutputItem, usage ResponseUsage) Response {
	return Response{
		ID:        id,
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    "completed",
		Model:     model,
		Output:    output,
		Usage:     usage,
	}
}

// TextContent extracts the plain-text content of a message input item. The
// Responses API allows content to be a bare string or an array of typed parts.
func (it ResponseInputItem) TextContent() string {
	if len(it.Content) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(it.Content, &asString); err == nil {
		return asString
	}
	var parts []ResponseContent
	if err := json.Unmarshal(it.Content, &parts); err != nil {
		return ""
	}
	out := ""
	for _, p := range parts {
		if p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}
