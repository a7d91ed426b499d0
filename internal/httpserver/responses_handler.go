package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/openai"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/translation"
)

// handleResponses bridges the OpenAI Responses protocol: tool results arrive
// as function_call_output input items (or tool_outputs entries), tool calls
// leave as function_call output items.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	var req openai.ResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	conv := s.manager.Conversation(s.conversationID(r))
	s.resolveToolResults(r.Context(), conv, translation.ExtractResponsesToolResults(req))

	if tools := translation.ToolDefinitionsFromResponses(req.Tools); len(tools) > 0 {
		conv.CacheTools(tools)
	}

	messages := translation.ChatMessagesFromResponses(req)
	if len(messages) == 0 {
		s.respondError(w, http.StatusBadRequest, errors.New("no input provided"))
		return
	}
	messages = s.filter.ApplyToMessages(messages)

	model, err := s.resolveModel(req.Model)
	if err != nil {
		s.respondModelError(w, req.Model, err)
		return
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxOutputTokens,
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, t.ToTool())
	}

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

	output := translation.ResponsesOutputFromChat(resp)
	usage := openai.ResponseUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	s.respondJSON(w, http.StatusOK, openai.NewResponse("resp_"+uuid.NewString(), model, output, usage))
}
