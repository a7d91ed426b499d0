package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/modelres"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/openai"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/translation"
)

// handleChatCompletions bridges the OpenAI Chat Completions protocol: tool
// results arrive as role "tool" messages, tool calls leave as assistant
// tool_calls entries.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var chatReq openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&chatReq); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	conv := s.manager.Conversation(s.conversationID(r))
	s.resolveToolResults(r.Context(), conv, translation.ExtractOpenAIToolResults(chatReq))

	if tools := translation.ToolDefinitionsFromChat(chatReq.Tools); len(tools) > 0 {
		conv.CacheTools(tools)
	}

	chatReq.Messages = s.filter.ApplyToMessages(chatReq.Messages)

	model, err := s.resolveModel(chatReq.Model)
	if err != nil {
		s.respondModelError(w, chatReq.Model, err)
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
		if len(calls) > 0 {
			resp.Choices[0].FinishReason = "tool_calls"
		}
		s.recordIssuedCalls(r.Context(), conv, calls)
	}

	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondModelError(w http.ResponseWriter, requested string, err error) {
	if errors.Is(err, modelres.ErrModelNotAvailable) {
		s.respondError(w, http.StatusNotFound, errors.New("model not available: "+requested))
		return
	}
	s.respondError(w, http.StatusBadRequest, err)
}
