package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/anthropic"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/bridge"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/ledger"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/modelres"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/openai"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/promptfilter"
)

type fakeCompleter struct {
	resp    openai.ChatCompletionResponse
	err     error
	models  []openai.Model
	lastReq openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return f.resp, nil
}

func (f *fakeCompleter) ListModels(ctx context.Context) ([]openai.Model, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.models, nil
}

func testLogger() *logging.Leveled {
	return logging.New(io.Discard, "", logging.LevelError)
}

func newTestServer(t *testing.T, fake *fakeCompleter) (*Server, *bridge.Manager) {
	t.Helper()
	logger := testLogger()
	manager := bridge.NewManager(logger)
	srv, err := New(Config{
		Manager:  manager,
		Upstream: fake,
		Resolver: modelres.New(logger),
		Filter:   promptfilter.New(nil, logger),
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv, manager
}

func doJSON(t *testing.T, srv *Server, method, path, convID string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	if convID != "" {
		req.Header.Set(ConversationHeader, convID)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestChatCompletionsToolCallRoundTrip(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.NewCompletionResponse("gpt-5", openai.ChatMessage{
			Role: "assistant",
			ToolCalls: []openai.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: openai.ToolCallFunction{Name: "XcodeRead", Arguments: `{"path":"main.swift"}`},
			}},
		}, openai.UsageBreakdown{}),
	}
	srv, manager := newTestServer(t, fake)

	// First request advertises the namespaced tool and triggers a tool call.
	first := openai.ChatCompletionRequest{
		Model:    "gpt-5",
		Messages: []openai.ChatMessage{{Role: "user", Content: "read main.swift"}},
		Tools: []openai.Tool{{
			Type:     "function",
			Function: openai.ToolFunction{Name: "mcp__xcode-tools__XcodeRead"},
		}},
	}
	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "conv_1", first)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	calls := resp.Choices[0].Message.ToolCalls
	if len(calls) != 1 || calls[0].Function.Name != "mcp__xcode-tools__XcodeRead" {
		t.Fatalf("abbreviated tool name not reconciled: %+v", calls)
	}
	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Fatalf("finish_reason = %q", resp.Choices[0].FinishReason)
	}

	conv, ok := manager.Lookup("conv_1")
	if !ok || conv.PendingCalls() != 1 {
		t.Fatalf("expected 1 pending call after issue")
	}

	// Second request reports the tool result as a tool-role message.
	fake.resp = openai.NewCompletionResponse("gpt-5", openai.ChatMessage{
		Role: "assistant", Content: "done",
	}, openai.UsageBreakdown{})
	second := openai.ChatCompletionRequest{
		Model: "gpt-5",
		Messages: []openai.ChatMessage{
			{Role: "user", Content: "read main.swift"},
			{Role: "tool", ToolCallID: "call_1", Content: "file contents"},
		},
	}
	rec = doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "conv_1", second)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if conv.PendingCalls() != 0 {
		t.Fatalf("pending = %d after result, want 0", conv.PendingCalls())
	}
}

func TestChatCompletionsInvalidBody(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCompleter{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestChatCompletionsStripsStream(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.NewCompletionResponse("gpt-5", openai.ChatMessage{Role: "assistant", Content: "hi"}, openai.UsageBreakdown{}),
	}
	srv, _ := newTestServer(t, fake)

	req := openai.ChatCompletionRequest{
		Model:    "gpt-5",
		Stream:   true,
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
	}
	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if fake.lastReq.Stream {
		t.Fatal("stream flag forwarded upstream")
	}
}

func TestResponsesFlow(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.NewCompletionResponse("gpt-5", openai.ChatMessage{
			Role: "assistant",
			ToolCalls: []openai.ToolCall{{
				ID:       "call_a",
				Type:     "function",
				Function: openai.ToolCallFunction{Name: "mcp__xcode-tools__XcodeBuild", Arguments: "{}"},
			}},
		}, openai.UsageBreakdown{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}),
	}
	srv, manager := newTestServer(t, fake)

	body := map[string]any{
		"model":        "gpt-5",
		"instructions": "be helpful",
		"input": []map[string]any{
			{"type": "message", "role": "user", "content": "build the project"},
		},
		"tools": []map[string]any{
			{"type": "function", "name": "mcp__xcode-tools__XcodeBuild"},
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/v1/responses", "conv_r", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp openai.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != "completed" || len(resp.Output) != 1 {
		t.Fatalf("unexpected envelope %+v", resp)
	}
	if resp.Output[0].Type != "function_call" || resp.Output[0].CallID != "call_a" {
		t.Fatalf("unexpected output item %+v", resp.Output[0])
	}
	if resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage not mapped: %+v", resp.Usage)
	}
	// Instructions became the system message upstream.
	if fake.lastReq.Messages[0].Role != "system" || fake.lastReq.Messages[0].Content != "be helpful" {
		t.Fatalf("instructions not forwarded: %+v", fake.lastReq.Messages[0])
	}

	conv, _ := manager.Lookup("conv_r")
	if conv.PendingCalls() != 1 {
		t.Fatalf("pending = %d, want 1", conv.PendingCalls())
	}

	// Report the result as a function_call_output item.
	fake.resp = openai.NewCompletionResponse("gpt-5", openai.ChatMessage{Role: "assistant", Content: "built"}, openai.UsageBreakdown{})
	followup := map[string]any{
		"model": "gpt-5",
		"input": []map[string]any{
			{"type": "message", "role": "user", "content": "build the project"},
			{"type": "function_call", "call_id": "call_a", "name": "mcp__xcode-tools__XcodeBuild", "arguments": "{}"},
			{"type": "function_call_output", "call_id": "call_a", "output": "BUILD SUCCEEDED"},
		},
	}
	rec = doJSON(t, srv, http.MethodPost, "/v1/responses", "conv_r", followup)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if conv.PendingCalls() != 0 {
		t.Fatalf("pending = %d after output, want 0", conv.PendingCalls())
	}
	// The replayed history reaches the upstream as assistant + tool messages.
	var sawToolMsg bool
	for _, m := range fake.lastReq.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_a" && m.Content == "BUILD SUCCEEDED" {
			sawToolMsg = true
		}
	}
	if !sawToolMsg {
		t.Fatalf("tool result not replayed upstream: %+v", fake.lastReq.Messages)
	}
}

func TestAnthropicMessagesFlow(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.NewCompletionResponse("gpt-5", openai.ChatMessage{
			Role: "assistant",
			ToolCalls: []openai.ToolCall{{
				ID:       "toolu_1",
				Type:     "function",
				Function: openai.ToolCallFunction{Name: "mcp__xcode-tools__XcodeRead", Arguments: `{"path":"a.swift"}`},
			}},
		}, openai.UsageBreakdown{}),
	}
	srv, manager := newTestServer(t, fake)

	body := map[string]any{
		"model":      "claude-opus-4-5",
		"max_tokens": 1024,
		"system":     "you are an assistant",
		"messages": []map[string]any{
			{"role": "user", "content": "read a.swift"},
		},
		"tools": []map[string]any{
			{"name": "mcp__xcode-tools__XcodeRead", "input_schema": map[string]any{"type": "object"}},
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/v1/messages", "conv_a", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp anthropic.MessagesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.StopReason != "tool_use" {
		t.Fatalf("stop_reason = %q, want tool_use", resp.StopReason)
	}
	var toolUse *anthropic.ContentBlock
	for i := range resp.Content {
		if resp.Content[i].Type == "tool_use" {
			toolUse = &resp.Content[i]
		}
	}
	if toolUse == nil || toolUse.ID != "toolu_1" || toolUse.Name != "mcp__xcode-tools__XcodeRead" {
		t.Fatalf("tool_use block missing or wrong: %+v", resp.Content)
	}

	conv, _ := manager.Lookup("conv_a")
	if conv.PendingCalls() != 1 {
		t.Fatalf("pending = %d, want 1", conv.PendingCalls())
	}

	// Report the result as a tool_result block.
	fake.resp = openai.NewCompletionResponse("gpt-5", openai.ChatMessage{Role: "assistant", Content: "the file says hi"}, openai.UsageBreakdown{})
	followup := map[string]any{
		"model":      "claude-opus-4-5",
		"max_tokens": 1024,
		"messages": []map[string]any{
			{"role": "user", "content": "read a.swift"},
			{"role": "user", "content": []map[string]any{
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "file contents"},
			}},
		},
	}
	rec = doJSON(t, srv, http.MethodPost, "/v1/messages", "conv_a", followup)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if conv.PendingCalls() != 0 {
		t.Fatalf("pending = %d after tool_result, want 0", conv.PendingCalls())
	}
}

func TestModelResolutionFallback(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.NewCompletionResponse("claude-opus-4-5", openai.ChatMessage{Role: "assistant", Content: "ok"}, openai.UsageBreakdown{}),
	}
	srv, _ := newTestServer(t, fake)
	srv.resolver.SetCandidates([]string{"claude-opus-4-5", "gpt-5"})

	req := openai.ChatCompletionRequest{
		Model:    "claude-opus-4-6",
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
	}
	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if fake.lastReq.Model != "claude-opus-4-5" {
		t.Fatalf("model forwarded = %q, want family fallback claude-opus-4-5", fake.lastReq.Model)
	}

	req.Model = "mistral-large"
	rec = doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "", req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d for unknown family, want 404", rec.Code)
	}
}

func TestModelsEndpointSeedsResolver(t *testing.T) {
	fake := &fakeCompleter{
		models: []openai.Model{
			openai.NewModel("gpt-5", "openai", 0),
			openai.NewModel("claude-opus-4-5", "anthropic", 0),
		},
	}
	srv, _ := newTestServer(t, fake)

	rec := doJSON(t, srv, http.MethodGet, "/v1/models", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := srv.resolver.Candidates(); len(got) != 2 {
		t.Fatalf("resolver candidates = %v", got)
	}
}

func TestDeleteConversation(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.NewCompletionResponse("gpt-5", openai.ChatMessage{Role: "assistant", Content: "hi"}, openai.UsageBreakdown{}),
	}
	srv, manager := newTestServer(t, fake)

	req := openai.ChatCompletionRequest{
		Model:    "gpt-5",
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
	}
	doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "conv_del", req)
	if _, ok := manager.Lookup("conv_del"); !ok {
		t.Fatal("conversation not created")
	}

	rec := doJSON(t, srv, http.MethodDelete, "/v1/conversations/conv_del", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := manager.Lookup("conv_del"); ok {
		t.Fatal("conversation still registered after delete")
	}

	rec = doJSON(t, srv, http.MethodDelete, "/v1/conversations/conv_del", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d for missing conversation, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &fakeCompleter{})
	rec := doJSON(t, srv, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

type fakeLedger struct {
	entries []ledger.Entry
}

func (f *fakeLedger) Record(ctx context.Context, entry ledger.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeLedger) ListRecent(ctx context.Context, conversationID string, limit int) ([]ledger.Entry, error) {
	return f.entries, nil
}

func (f *fakeLedger) Summary(ctx context.Context, conversationID string) (ledger.Summary, error) {
	return ledger.Summary{}, nil
}

func (f *fakeLedger) Close() error { return nil }

func (f *fakeLedger) count(event ledger.Event) int {
	n := 0
	for _, e := range f.entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

func TestDuplicateCallIDNotForwarded(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.NewCompletionResponse("gpt-5", openai.ChatMessage{
			Role: "assistant",
			ToolCalls: []openai.ToolCall{{
				ID:       "call_dup",
				Type:     "function",
				Function: openai.ToolCallFunction{Name: "XcodeRead", Arguments: "{}"},
			}},
		}, openai.UsageBreakdown{}),
	}
	srv, manager := newTestServer(t, fake)

	conv := manager.Conversation("conv_dup")
	if _, err := conv.RegisterCall("call_dup"); err != nil {
		t.Fatalf("RegisterCall failed: %v", err)
	}

	req := openai.ChatCompletionRequest{
		Model:    "gpt-5",
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
	}
	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "conv_dup", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Choices[0].Message.ToolCalls) != 0 {
		t.Fatalf("duplicate call forwarded: %+v", resp.Choices[0].Message.ToolCalls)
	}
	if resp.Choices[0].FinishReason == "tool_calls" {
		t.Fatalf("finish_reason tool_calls with no forwarded calls")
	}
	// The stale entry still owns the id.
	if conv.PendingCalls() != 1 {
		t.Fatalf("pending = %d, want 1", conv.PendingCalls())
	}
	if err := conv.ResolveToolCall("call_dup", "original"); err != nil {
		t.Fatalf("original entry no longer resolvable: %v", err)
	}
}

func TestUnknownModelNotMaskedByDefault(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.NewCompletionResponse("gpt-5", openai.ChatMessage{Role: "assistant", Content: "ok"}, openai.UsageBreakdown{}),
	}
	logger := testLogger()
	manager := bridge.NewManager(logger)
	resolver := modelres.New(logger)
	resolver.SetCandidates([]string{"gpt-5"})
	srv, err := New(Config{
		Manager:      manager,
		Upstream:     fake,
		Resolver:     resolver,
		Filter:       promptfilter.New(nil, logger),
		DefaultModel: "gpt-5",
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// An explicit model with no match fails even with a default configured.
	req := openai.ChatCompletionRequest{
		Model:    "mistral-large",
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
	}
	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "", req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	// The default only fills in an absent model field.
	req.Model = ""
	rec = doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if fake.lastReq.Model != "gpt-5" {
		t.Fatalf("model forwarded = %q, want default gpt-5", fake.lastReq.Model)
	}
}

func TestLedgerRecordsPerResultOccurrence(t *testing.T) {
	fake := &fakeCompleter{
		resp: openai.NewCompletionResponse("gpt-5", openai.ChatMessage{Role: "assistant", Content: "ok"}, openai.UsageBreakdown{}),
	}
	store := &fakeLedger{}
	logger := testLogger()
	manager := bridge.NewManager(logger)
	srv, err := New(Config{
		Manager:  manager,
		Upstream: fake,
		Resolver: modelres.New(logger),
		Filter:   promptfilter.New(nil, logger),
		Ledger:   store,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	conv := manager.Conversation("conv_led")
	if _, err := conv.RegisterCall("call_1"); err != nil {
		t.Fatalf("RegisterCall failed: %v", err)
	}

	// The same call id reported twice: the first occurrence resolves, the
	// second finds no pending entry.
	req := openai.ChatCompletionRequest{
		Model: "gpt-5",
		Messages: []openai.ChatMessage{
			{Role: "user", Content: "hi"},
			{Role: "tool", ToolCallID: "call_1", Content: "first"},
			{Role: "tool", ToolCallID: "call_1", Content: "second"},
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "conv_led", req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}

	if got := store.count(ledger.EventResolved); got != 1 {
		t.Fatalf("resolved events = %d, want 1", got)
	}
	if got := store.count(ledger.EventUnresolved); got != 1 {
		t.Fatalf("unresolved events = %d, want 1", got)
	}
}

func TestUpstreamErrorMarksConversationErrored(t *testing.T) {
	fake := &fakeCompleter{err: io.ErrUnexpectedEOF}
	srv, manager := newTestServer(t, fake)

	req := openai.ChatCompletionRequest{
		Model:    "gpt-5",
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
	}
	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", "conv_err", req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	conv, _ := manager.Lookup("conv_err")
	if !conv.Errored() {
		t.Fatal("conversation not flagged errored after upstream failure")
	}
}
