// Package httpserver exposes the gateway's provider-facing REST endpoints:
// OpenAI chat completions, OpenAI Responses, and Anthropic Messages, all
// bridged over a single upstream completion service with tool-call
// correlation handled per conversation.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/bridge"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/ledger"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/logging"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/modelres"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/openai"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/promptfilter"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/translation"
	"github.com/theblixguy/xcode-copilot-server-sub001/internal/upstream"
)

// ConversationHeader carries the client's conversation key. Requests without
// it share the "default" conversation.
const ConversationHeader = "X-Conversation-Id"

const defaultConversationID = "default"

// Server exposes REST endpoints for the bridge gateway.
type Server struct {
	manager      *bridge.Manager
	upstream     upstream.Completer
	resolver     *modelres.Resolver
	filter       *promptfilter.Filter
	ledger       ledger.Store // nil when the audit ledger is disabled
	defaultModel string
	logger       *logging.Leveled
}

// Config wires the server's collaborators.
type Config struct {
	Manager      *bridge.Manager
	Upstream     upstream.Completer
	Resolver     *modelres.Resolver
	Filter       *promptfilter.Filter
	Ledger       ledger.Store
	DefaultModel string
	Logger       *logging.Leveled
}

// New creates a server. Manager and Upstream are required.
func New(cfg Config) (*Server, error) {
	if cfg.Manager == nil {
		return nil, errors.New("httpserver: conversation manager required")
	}
	if cfg.Upstream == nil {
		return nil, errors.New("httpserver: upstream completer required")
	}
	filter := cfg.Filter
	if filter == nil {
		filter = promptfilter.New(nil, cfg.Logger)
	}
	return &Server{
		manager:      cfg.Manager,
		upstream:     cfg.Upstream,
		resolver:     cfg.Resolver,
		filter:       filter,
		ledger:       cfg.Ledger,
		defaultModel: cfg.DefaultModel,
		logger:       cfg.Logger,
	}, nil
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/chat/completions", s.handleChatCompletions)
		v1.Post("/responses", s.handleResponses)
		v1.Post("/messages", s.handleAnthropicMessages)
		v1.Get("/models", s.handleModels)
		v1.Delete("/conversations/{id}", s.handleDeleteConversation)
		v1.Get("/conversations/{id}/events", s.handleConversationEvents)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"conversations": s.manager.Len(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.upstream.ListModels(r.Context())
	if err != nil {
		s.respondError(w, http.StatusBadGateway, err)
		return
	}
	if s.resolver != nil {
		ids := make([]string, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ID)
		}
		s.resolver.SetCandidates(ids)
	}
	s.respondJSON(w, http.StatusOK, openai.NewModelsResponse(models))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, ok := s.manager.Lookup(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, errors.New("unknown conversation"))
		return
	}
	for _, callID := range conv.PendingCallIDs() {
		s.record(r.Context(), ledger.Entry{
			ConversationID: id,
			CallID:         callID,
			Event:          ledger.EventRejected,
			Detail:         "conversation removed",
		})
	}
	s.manager.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConversationEvents(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotFound, errors.New("audit ledger disabled"))
		return
	}
	id := chi.URLParam(r, "id")
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := s.ledger.ListRecent(r.Context(), id, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	summary, err := s.ledger.Summary(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"summary":         summary,
		"events":          entries,
	})
}

// conversationID extracts the conversation key for a request.
func (s *Server) conversationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ConversationHeader)); id != "" {
		return id
	}
	return defaultConversationID
}

// resolveModel maps the requested model to one the upstream serves. With no
// resolver or no known candidates the identifier passes through unchanged.
// An unresolvable model is an error the client sees; the configured default
// only fills in an absent model field, it never overrides an explicit one.
func (s *Server) resolveModel(requested string) (string, error) {
	if requested == "" {
		requested = s.defaultModel
	}
	if s.resolver == nil || len(s.resolver.Candidates()) == 0 {
		return requested, nil
	}
	return s.resolver.Resolve(requested)
}

// resolveToolResults feeds reported results into the bridge and records the
// outcome of each occurrence in the audit ledger.
func (s *Server) resolveToolResults(ctx context.Context, conv *bridge.Conversation, results []translation.ToolResult) {
	if len(results) == 0 {
		return
	}
	resolved, unresolved := translation.ResolveResults(conv, results, s.logger)
	for _, res := range resolved {
		s.record(ctx, ledger.Entry{
			ConversationID: conv.ID(),
			CallID:         res.CallID,
			Event:          ledger.EventResolved,
		})
	}
	for _, res := range unresolved {
		s.record(ctx, ledger.Entry{
			ConversationID: conv.ID(),
			CallID:         res.CallID,
			Event:          ledger.EventUnresolved,
			Detail:         "no pending entry",
		})
	}
}

// recordIssuedCalls writes one issued event per outbound tool call.
func (s *Server) recordIssuedCalls(ctx context.Context, conv *bridge.Conversation, calls []openai.ToolCall) {
	for _, call := range calls {
		s.record(ctx, ledger.Entry{
			ConversationID: conv.ID(),
			CallID:         call.ID,
			ToolName:       call.Function.Name,
			Event:          ledger.EventIssued,
		})
	}
}

func (s *Server) record(ctx context.Context, entry ledger.Entry) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Record(ctx, entry); err != nil {
		s.logger.Warnf("ledger record failed event=%s call_id=%s: %v", entry.Event, entry.CallID, err)
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	s.respondJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    errorType(status),
		},
	})
}

// echoRequestID surfaces the request id assigned by middleware.RequestID in
// the response so clients can quote it when reporting problems.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("X-Request-Id", id)
		}
		next.ServeHTTP(w, r)
	})
}

func errorType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found_error"
	case status >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}
