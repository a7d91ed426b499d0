package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/anthropic"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/translation"
)

// handleAnthropicMessages bridges the Anthropic Messages protocol: tool
// results arrive as tool_result content blocks, tool calls leave as tool_use
// blocks with stop_reason "tool_use".
func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if len(req.Messages) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("no messages provided"))
		return
	}

	conv := s.manager.Conversation(s.conversationID(r))
	s.resolveToolResults(r.Context(), conv, translation.ExtractAnthropicToolResults(req))

	if tools := translation.ToolDefinitionsFromAnthropic(req.Tools); len(tools) > 0 {
		conv.CacheTools(tools)
	}

	chatReq := req.ToChatRequest()
	chatReq.Messages = s.filter.ApplyToMessages(chatReq.Messages)

	model, err := s.resolveModel(req.Model)
	if err != nil {
		s.respondModelError(w, req.Model, err)
		return
	}
	chatReq.Model = model
	chatReq.Stream = false

	resp, err := s.upstream.CreateCompletion(r.Context(), chatReq)
	if err != nil {
		conv.MarkErrored()
		s.respondError(w, http.StatusBadGateway, err)
		return
	}

	if len(resp.Choices) > 0 && len(resp.Choices[0].Message.ToolCalls) > 0 {
		calls := translation.PrepareToolCalls(conv, resp.Choices[0].Message.ToolCalls, s.logger)
		resp.Choices[0].Message.ToolCalls = calls
		s.recordIssuedCalls(r.Context(), conv, calls)
	}

	s.respondJSON(w, http.StatusOK, anthropic.FromChatResponse(resp, req.Model))
}
