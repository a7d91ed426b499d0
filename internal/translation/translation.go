// Package translation adapts each provider wire format's tool-call
// representation to the bridge's call-identifier/output pairs: it extracts
// the tool results an inbound request reports back, and prepares the
// tool-call requests a model response forwards to the client.
package translation

import (
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/anthropic"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/bridge"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/openai"
)

// ToolResult is one (call_id, output) pair reported back by the client.
type ToolResult struct {
	CallID string
	Output string
}

// ExtractOpenAIToolResults collects tool-role messages from a chat request.
func ExtractOpenAIToolResults(req openai.ChatCompletionRequest) []ToolResult {
	var out []ToolResult
	for _, msg := range req.Messages {
		if !strings.EqualFold(msg.Role, "tool") || msg.ToolCallID == "" {
			continue
		}
		out = append(out, ToolResult{CallID: msg.ToolCallID, Output: msg.Content})
	}
	return out
}

// ExtractResponsesToolResults collects function_call_output input items and
// tool_outputs entries from a Responses request.
func ExtractResponsesToolResults(req openai.ResponseRequest) []ToolResult {
	var out []ToolResult
	for _, item := range req.Input {
		if !strings.EqualFold(item.Type, "function_call_output") || item.CallID == "" {
			continue
		}
		out = append(out, ToolResult{CallID: item.CallID, Output: item.Output})
	}
	for _, to := range req.ToolOutputs {
		if to.ToolCallID == "" {
			continue
		}
		out = append(out, ToolResult{CallID: to.ToolCallID, Output: to.Output})
	}
	return out
}

// ExtractAnthropicToolResults collects tool_result content blocks from a
// Messages request, flattening block-array content to text.
func ExtractAnthropicToolResults(req anthropic.MessagesRequest) []ToolResult {
	var out []ToolResult
	for _, msg := range req.Messages {
		for _, block := range msg.Content.Blocks {
			if !strings.EqualFold(block.Type, "tool_result") || block.ToolUseID == "" {
				continue
			}
			out = append(out, ToolResult{CallID: block.ToolUseID, Output: block.FlattenedText()})
		}
	}
	return out
}

// ResolveResults feeds extracted tool results into the conversation. A result
// with no pending entry is logged as a warning and skipped; the request as a
// whole still succeeds. Each input occurrence lands in exactly one of the
// returned slices, so a call id reported twice yields one resolved and one
// unresolved entry.
func ResolveResults(conv *bridge.Conversation, results []ToolResult, logger *logging.Leveled) (resolved, unresolved []ToolResult) {
	for _, res := range results {
		err := conv.ResolveToolCall(res.CallID, res.Output)
		switch {
		case err == nil:
			resolved = append(resolved, res)
		case errors.Is(err, bridge.ErrNoPending):
			logger.Warnf("no pending request for tool result call_id=%s conversation=%s", res.CallID, conv.ID())
			unresolved = append(unresolved, res)
		default:
			logger.Warnf("tool result for call_id=%s failed: %v", res.CallID, err)
			unresolved = append(unresolved, res)
		}
	}
	return resolved, unresolved
}

// ToolDefinitionsFromChat converts advertised chat tools to cache entries.
func ToolDefinitionsFromChat(tools []openai.Tool) []bridge.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]bridge.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, bridge.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return out
}

// ToolDefinitionsFromResponses converts flat Responses tools to cache entries.
func ToolDefinitionsFromResponses(tools []openai.ResponseTool) []bridge.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]bridge.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, bridge.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	return out
}

// ToolDefinitionsFromAnthropic converts Anthropic tools to cache entries.
func ToolDefinitionsFromAnthropic(tools []anthropic.Tool) []bridge.ToolDefinition {
	if len(tools) == 0 {
		return nil
	}
	out := make([]bridge.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, bridge.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

// PrepareToolCalls normalizes the tool calls of a model response before they
// are forwarded to the client: tool names are reconciled against the cached
// registrations, missing call ids get a generated one, and every call is
// registered with the conversation's router so the eventual result
// round-trips. A name the cache cannot reconcile is forwarded unchanged and
// logged; the client decides whether to fail that invocation. A call whose
// id already has a pending entry is dropped from the forwarded list: the
// stale entry keeps ownership of the id, and forwarding the re-issued call
// would route its result to the earlier, unrelated waiter.
func PrepareToolCalls(conv *bridge.Conversation, calls []openai.ToolCall, logger *logging.Leveled) []openai.ToolCall {
	if len(calls) == 0 {
		return calls
	}
	out := make([]openai.ToolCall, 0, len(calls))
	for _, call := range calls {
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		resolved := conv.ResolveToolName(call.Function.Name)
		if resolved != call.Function.Name {
			logger.Debugf("tool call name %q resolved to %q", call.Function.Name, resolved)
			call.Function.Name = resolved
		}
		if _, err := conv.RegisterCall(call.ID); err != nil {
			logger.Warnf("dropping tool call call_id=%s: %v", call.ID, err)
			continue
		}
		out = append(out, call)
	}
	return out
}

// ResponsesOutputFromChat maps an internal chat response to Responses API
// output items: assistant text becomes a message item, tool calls become
// function_call items.
func ResponsesOutputFromChat(resp openai.ChatCompletionResponse) []openai.ResponseOutputItem {
	var out []openai.ResponseOutputItem
	if len(resp.Choices) == 0 {
		return out
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		out = append(out, openai.ResponseOutputItem{
			Type:   "message",
			ID:     "msg_" + uuid.NewString(),
			Role:   "assistant",
			Status: "completed",
			Content: []openai.ResponseContent{{
				Type: "output_text",
				Text: msg.Content,
			}},
		})
	}
	for _, tc := range msg.ToolCalls {
		out = append(out, openai.ResponseOutputItem{
			Type:      "function_call",
			ID:        "fc_" + uuid.NewString(),
			Status:    "completed",
			CallID:    tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

// ChatMessagesFromResponses flattens a Responses input array into chat
// messages. function_call history items are replayed as assistant tool calls
// and function_call_output items as tool messages so the upstream sees the
// complete exchange.
func ChatMessagesFromResponses(req openai.ResponseRequest) []openai.ChatMessage {
	var messages []openai.ChatMessage
	if req.Instructions != "" {
		messages = append(messages, openai.ChatMessage{Role: "system", Content: req.Instructions})
	}
	for _, item := range req.Input {
		switch {
		case strings.EqualFold(item.Type, "function_call"):
			messages = append(messages, openai.ChatMessage{
				Role: "assistant",
				ToolCalls: []openai.ToolCall{{
					ID:   item.CallID,
					Type: "function",
					Function: openai.ToolCallFunction{
						Name:      item.Name,
						Arguments: item.Arguments,
					},
				}},
			})
		case strings.EqualFold(item.Type, "function_call_output"):
			messages = append(messages, openai.ChatMessage{
				Role:       "tool",
				Content:    item.Output,
				ToolCallID: item.CallID,
			})
		default:
			// message items (or untyped entries with a role)
			role := item.Role
			if role == "" {
				continue
			}
			text := item.TextContent()
			if text == "" {
				continue
			}
			messages = append(messages, openai.ChatMessage{Role: role, Content: text})
		}
	}
	return messages
}
