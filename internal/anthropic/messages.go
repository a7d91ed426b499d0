package anthropic

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/openai"
)

// MessagesRequest represents an Anthropic /v1/messages payload.
type MessagesRequest struct {
	Model       string      `json:"model"`
	Messages    []Message   `json:"messages"`
	System      SystemField `json:"system,omitempty"`
	Tools       []Tool      `json:"tools,omitempty"`
	MaxTokens   int         `json:"max_tokens,omitempty"`
	Stream      bool        `json:"stream,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
	TopP        *float64    `json:"top_p,omitempty"`
}

// Tool mirrors an Anthropic tool definition.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Message represents one Anthropic conversation turn.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// Content supports string or array-of-blocks payloads.
type Content struct {
	Blocks []ContentBlock
}

// ContentBlock captures text/tool_use/tool_result blocks.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use fields
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// tool_result fields
	ToolUseID string         `json:"tool_use_id,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
	Content   []ContentBlock `json:"content,omitempty"`
}

// SystemField supports string or array<content_block>.
type SystemField struct {
	Text   string
	Blocks []ContentBlock
}

// MessagesResponse models a minimal Anthropic response.
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// Usage carries Anthropic token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FlattenedText joins the text blocks of a tool_result content list. String
// content is normalized to a single text block by UnmarshalJSON, so this is
// the one read path handlers need.
func (b ContentBlock) FlattenedText() string {
	if b.Text != "" {
		return b.Text
	}
	var parts []string
	for _, c := range b.Content {
		if strings.EqualFold(c.Type, "text") && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToChatRequest maps a Messages payload to the internal chat representation.
// Tool results become role "tool" messages; assistant tool_use blocks become
// tool calls so the upstream sees the full exchange.
func (req MessagesRequest) ToChatRequest() openai.ChatCompletionRequest {
	var messages []openai.ChatMessage

	if sys := req.System.Flatten(); sys != "" {
		messages = append(messages, openai.ChatMessage{Role: "system", Content: sys})
	}

	for _, msg := range req.Messages {
		role := strings.ToLower(msg.Role)
		switch role {
		case "assistant":
			var textParts []string
			var toolCalls []openai.ToolCall
			for _, block := range msg.Content.Blocks {
				switch strings.ToLower(block.Type) {
				case "text":
					if block.Text != "" {
						textParts = append(textParts, block.Text)
					}
				case "tool_use":
					args := "{}"
					if block.Input != nil {
						if raw, err := json.Marshal(block.Input); err == nil {
							args = string(raw)
						}
					}
					toolCalls = append(toolCalls, openai.ToolCall{
						ID:   block.ID,
						Type: "function",
						Function: openai.ToolCallFunction{
							Name:      block.Name,
							Arguments: args,
						},
					})
				}
			}
			assistant := openai.ChatMessage{Role: "assistant"}
			if len(textParts) > 0 {
				assistant.Content = strings.Join(textParts, "\n\n")
			}
			if len(toolCalls) > 0 {
				assistant.ToolCalls = toolCalls
			}
			messages = append(messages, assistant)
		default:
			// user and unknown roles: text blocks become user text, tool_result
			// blocks become tool messages keyed by the originating call id.
			var texts []string
			for _, block := range msg.Content.Blocks {
				switch strings.ToLower(block.Type) {
				case "text":
					if strings.TrimSpace(block.Text) != "" {
						texts = append(texts, block.Text)
					}
				case "tool_result":
					messages = append(messages, openai.ChatMessage{
						Role:       "tool",
						Content:    block.FlattenedText(),
						ToolCallID: block.ToolUseID,
					})
				}
			}
			if len(texts) > 0 {
				messages = append(messages, openai.ChatMessage{
					Role:    "user",
					Content: strings.Join(texts, "\n\n"),
				})
			}
		}
	}

	var maxTokens *int
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		maxTokens = &mt
	}

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   maxTokens,
		Tools:       toolsToChat(req.Tools),
	}
}

func toolsToChat(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: "function",
			Function: openai.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

// FromChatResponse maps an internal chat response back to Messages form.
// Tool calls become tool_use blocks and flip stop_reason to "tool_use".
func FromChatResponse(resp openai.ChatCompletionResponse, model string) MessagesResponse {
	out := MessagesResponse{
		ID:         "msg_" + strings.TrimPrefix(resp.ID, "cmpl-"),
		Type:       "message",
		Role:       "assistant",
		Model:      model,
		StopReason: "end_turn",
	}
	out.Usage.InputTokens = resp.Usage.PromptTokens
	out.Usage.OutputTokens = resp.Usage.CompletionTokens
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		out.Content = append(out.Content, ContentBlock{Type: "text", Text: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		var input map[string]interface{}
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		out.Content = append(out.Content, ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}
	if len(msg.ToolCalls) > 0 {
		out.StopReason = "tool_use"
	}
	if out.ID == "msg_" {
		out.ID = "msg_" + time.Now().UTC().Format("20060102150405")
	}
	return out
}

// Flatten returns the combined system text.
func (s SystemField) Flatten() string {
	var parts []string
	if strings.TrimSpace(s.Text) != "" {
		parts = append(parts, s.Text)
	}
	for _, b := range s.Blocks {
		if strings.EqualFold(b.Type, "text") && strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}
