package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/openai"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/testutil"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg:  Config{BaseURL: "http://127.0.0.1:11434/v1", APIKey: "sk-test"},
		},
		{
			name: "trailing slash trimmed",
			cfg:  Config{BaseURL: "http://127.0.0.1:11434/v1/"},
		},
		{
			name:    "missing base url",
			cfg:     Config{APIKey: "sk-test"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if strings.HasSuffix(c.baseURL, "/") {
				t.Fatalf("base url not trimmed: %q", c.baseURL)
			}
		})
	}
}

func TestCreateCompletion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header = %q", got)
		}
		var req openai.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := openai.NewCompletionResponse(req.Model, openai.ChatMessage{
			Role:    "assistant",
			Content: "hello",
		}, openai.UsageBreakdown{PromptTokens: 3, CompletionTokens: 1, TotalTokens: 4})
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := testutil.NewIPv4Server(t, mux)
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL + "/v1", APIKey: "sk-test", HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	resp, err := c.CreateCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "claude-sonnet-4-5",
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateCompletion failed: %v", err)
	}
	if resp.Choices[0].Message.Content != "hello" {
		t.Fatalf("unexpected content %q", resp.Choices[0].Message.Content)
	}
}

func TestCreateCompletionUpstreamError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request_error","code":"model_not_found"}}`))
	})
	srv := testutil.NewIPv4Server(t, mux)
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL + "/v1", HTTPClient: srv.Client()})
	_, err := c.CreateCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "missing",
		Messages: []openai.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("expected upstream error message, got %v", err)
	}
}

func TestCreateCompletionNoMessages(t *testing.T) {
	c, _ := New(Config{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.CreateCompletion(context.Background(), openai.ChatCompletionRequest{}); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestListModels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.NewModelsResponse([]openai.Model{
			openai.NewModel("claude-sonnet-4-5", "anthropic", 0),
			openai.NewModel("claude-opus-4-5", "anthropic", 0),
		}))
	})
	srv := testutil.NewIPv4Server(t, mux)
	defer srv.Close()

	c, _ := New(Config{BaseURL: srv.URL + "/v1", HTTPClient: srv.Client()})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0].ID != "claude-sonnet-4-5" {
		t.Fatalf("unexpected models %+v", models)
	}
}
