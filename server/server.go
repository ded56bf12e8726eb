// Package server exposes the chat surface over HTTP: POST /chat answers in
// one shot, POST /chat/stream streams the answer as plain-text chunks. An
// optional conversation store resumes history across requests by session_id.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/model"
	"github.com/weichinwang/marketagent/storage"
)

// DefaultModel is used when the request body omits model_name.
const DefaultModel = "gemini-1.5-flash"

// ChatRequest is the body of both chat endpoints.
type ChatRequest struct {
	Prompt    string       `json:"prompt"`
	ModelName string       `json:"model_name"`
	History   []model.Turn `json:"history,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
}

// ChatResponse is the /chat reply body.
type ChatResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// ProviderFactory builds a provider for the requested model name.
type ProviderFactory func(modelName string) (llm.Provider, error)

// Server handles the chat endpoints.
type Server struct {
	providers ProviderFactory
	store     storage.ConversationStore
	logger    *log.Logger
}

// Option configures the server.
type Option func(*Server)

// WithStore enables conversation persistence keyed by session_id.
func WithStore(store storage.ConversationStore) Option {
	return func(s *Server) { s.store = store }
}

// WithLogger overrides the access/error logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// New creates a server that obtains providers from the factory.
func New(providers ProviderFactory, opts ...Option) *Server {
	s := &Server{providers: providers, logger: log.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler with access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /chat/stream", s.handleChatStream)
	return s.accessLog(mux)
}

// prepare decodes the request and assembles the full message list: stored or
// supplied history followed by the new prompt. The returned status applies
// when err is non-nil: 400 for a bad body, 500 for server-side failures.
func (s *Server) prepare(r *http.Request) (*ChatRequest, llm.Provider, []llm.ChatMessage, int, error) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, nil, nil, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err)
	}
	if req.Prompt == "" {
		return nil, nil, nil, http.StatusBadRequest, fmt.Errorf("prompt is required")
	}
	if req.ModelName == "" {
		req.ModelName = DefaultModel
	}

	provider, err := s.providers(req.ModelName)
	if err != nil {
		return nil, nil, nil, http.StatusInternalServerError, fmt.Errorf("provider for %q: %w", req.ModelName, err)
	}

	var history []llm.ChatMessage
	switch {
	case len(req.History) > 0:
		history = turnsToMessages(req.History)
	case req.SessionID != "" && s.store != nil:
		history, err = s.store.Load(r.Context(), req.SessionID)
		if err != nil {
			return nil, nil, nil, http.StatusInternalServerError, fmt.Errorf("failed to load session %q: %w", req.SessionID, err)
		}
	}

	messages := append(history, llm.UserMessage(req.Prompt))
	return &req, provider, messages, 0, nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, provider, messages, status, err := s.prepare(r)
	if err != nil {
		s.writeError(w, status, err)
		return
	}

	resp, err := provider.Chat(r.Context(), messages)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.persist(r, req, messages, resp.Content)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ChatResponse{Response: resp.Content}); err != nil {
		s.logger.Printf("chat: failed to write response: %v", err)
	}
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, provider, messages, status, err := s.prepare(r)
	if err != nil {
		s.writeError(w, status, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	chunks := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(chunks)
		_, err := provider.StreamChat(r.Context(), messages, chunks)
		errc <- err
	}()

	flusher, _ := w.(http.Flusher)
	var answer string
	for chunk := range chunks {
		answer += chunk
		if _, err := fmt.Fprint(w, chunk); err != nil {
			s.logger.Printf("chat/stream: client gone: %v", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	if err := <-errc; err != nil {
		// Headers are already out; the most we can do is log and cut off.
		s.logger.Printf("chat/stream: %v", err)
		return
	}

	s.persist(r, req, messages, answer)
}

// persist appends the exchange to the session history, best effort.
func (s *Server) persist(r *http.Request, req *ChatRequest, messages []llm.ChatMessage, answer string) {
	if s.store == nil || req.SessionID == "" {
		return
	}
	history := append(messages, llm.AssistantMessage(answer))
	if err := s.store.Save(r.Context(), req.SessionID, history); err != nil {
		s.logger.Printf("failed to save session %q: %v", req.SessionID, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(errorResponse{Detail: err.Error()}); encodeErr != nil {
		s.logger.Printf("failed to write error response: %v", encodeErr)
	}
}

// turnsToMessages converts wire-format history turns to chat messages. The
// source's "model" role maps to the assistant.
func turnsToMessages(turns []model.Turn) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case "model", "assistant":
			messages = append(messages, llm.AssistantMessage(turn.Text()))
		default:
			messages = append(messages, llm.UserMessage(turn.Text()))
		}
	}
	return messages
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
