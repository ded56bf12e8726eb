package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/storage"
)

// fakeProvider answers Chat with a fixed string and streams it word by word.
type fakeProvider struct {
	llm.Provider
	answer       string
	err          error
	lastMessages []llm.ChatMessage
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	p.lastMessages = messages
	if p.err != nil {
		return llm.LLMResponse{}, p.err
	}
	return llm.LLMResponse{Content: p.answer}, nil
}

func (p *fakeProvider) StreamChat(ctx context.Context, messages []llm.ChatMessage, chunks chan<- string) (*llm.TokenUsage, error) {
	p.lastMessages = messages
	if p.err != nil {
		return nil, p.err
	}
	for _, word := range strings.SplitAfter(p.answer, " ") {
		chunks <- word
	}
	return nil, nil
}

func newTestServer(provider llm.Provider, opts ...Option) *httptest.Server {
	opts = append(opts, WithLogger(log.New(io.Discard, "", 0)))
	s := New(func(string) (llm.Provider, error) { return provider, nil }, opts...)
	return httptest.NewServer(s.Handler())
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestChatReturnsResponse(t *testing.T) {
	provider := &fakeProvider{answer: "Revenue grew 8% YoY."}
	ts := newTestServer(provider)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/chat", `{"prompt": "How did Apple do?"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Response != "Revenue grew 8% YoY." {
		t.Errorf("response = %q", body.Response)
	}
}

func TestChatCarriesHistory(t *testing.T) {
	provider := &fakeProvider{answer: "ok"}
	ts := newTestServer(provider)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/chat", `{
		"prompt": "And operating income?",
		"history": [
			{"role": "user", "parts": [{"text": "How did Apple do?"}]},
			{"role": "model", "parts": [{"text": "Revenue grew."}]}
		]
	}`)
	resp.Body.Close()

	if len(provider.lastMessages) != 3 {
		t.Fatalf("messages = %d, want history + prompt", len(provider.lastMessages))
	}
	if provider.lastMessages[1].Role != "assistant" {
		t.Errorf("model turn mapped to %q", provider.lastMessages[1].Role)
	}
	if provider.lastMessages[2].Content != "And operating income?" {
		t.Errorf("prompt = %q", provider.lastMessages[2].Content)
	}
}

func TestChatMissingPrompt(t *testing.T) {
	ts := newTestServer(&fakeProvider{})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/chat", `{}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body["detail"], "prompt") {
		t.Errorf("detail = %q", body["detail"])
	}
}

func TestChatProviderErrorIs500WithDetail(t *testing.T) {
	ts := newTestServer(&fakeProvider{err: errors.New("quota exhausted")})
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/chat", `{"prompt": "hi"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body["detail"], "quota exhausted") {
		t.Errorf("detail = %q", body["detail"])
	}
}

func TestChatStreamWritesChunks(t *testing.T) {
	provider := &fakeProvider{answer: "one two three"}
	ts := newTestServer(provider)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/chat/stream", `{"prompt": "count"}`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "one two three" {
		t.Errorf("body = %q", body)
	}
}

func TestSessionPersistsAcrossRequests(t *testing.T) {
	provider := &fakeProvider{answer: "first answer"}
	store := storage.NewMemoryStore()
	ts := newTestServer(provider, WithStore(store))
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/chat", `{"prompt": "first question", "session_id": "s1"}`)
	resp.Body.Close()

	// Second request with only the session ID picks the history back up.
	provider.answer = "second answer"
	resp = postJSON(t, ts.URL+"/chat", `{"prompt": "second question", "session_id": "s1"}`)
	resp.Body.Close()

	if len(provider.lastMessages) != 3 {
		t.Fatalf("messages = %d, want stored history + prompt", len(provider.lastMessages))
	}
	if provider.lastMessages[0].Content != "first question" || provider.lastMessages[1].Content != "first answer" {
		t.Errorf("unexpected history: %+v", provider.lastMessages[:2])
	}

	history, err := store.Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(history) != 4 || history[3].Content != "second answer" {
		t.Errorf("stored history = %+v", history)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(&fakeProvider{})
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/chat")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
