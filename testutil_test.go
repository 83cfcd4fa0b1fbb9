package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

// TestHelper provides utilities for tests
type TestHelper struct {
	t       *testing.T
	tempDir string
}

// NewTestHelper creates a new test helper
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{t: t}
}

// CreateTempDir creates a temporary directory for testing
func (h *TestHelper) CreateTempDir() string {
	tempDir, err := os.MkdirTemp("", "llm-council-test-*")
	if err != nil {
		h.t.Fatalf("Failed to create temp dir: %v", err)
	}
	h.tempDir = tempDir
	return tempDir
}

// Cleanup removes the temporary directory
func (h *TestHelper) Cleanup() {
	if h.tempDir != "" {
		os.RemoveAll(h.tempDir)
	}
}

// AssertNotNil checks if a value is not nil
func (h *TestHelper) AssertNotNil(v *Conversation, message string) {
	if v == nil {
		h.t.Errorf("%s: expected non-nil value", message)
	}
}

// AssertNil checks if a conversation is nil
func (h *TestHelper) AssertNil(v *Conversation, message string) {
	if v != nil {
		h.t.Errorf("%s: expected nil, got %v", message, v)
	}
}

// AssertNoError checks if an error is nil
func (h *TestHelper) AssertNoError(err error, message string) {
	if err != nil {
		h.t.Errorf("%s: unexpected error: %v", message, err)
	}
}

// AssertError checks if an error is not nil
func (h *TestHelper) AssertError(err error, message string) {
	if err == nil {
		h.t.Errorf("%s: expected error, got nil", message)
	}
}

// MockOpenRouterServer creates a mock HTTP server for the OpenRouter API
func MockOpenRouterServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// writeCompletion writes an OpenAI-compatible chat completion with one choice
func writeCompletion(w http.ResponseWriter, content string) {
	resp := openai.ChatCompletionResponse{
		ID:     "gen-test",
		Object: "chat.completion",
		Choices: []openai.ChatCompletionChoice{
			{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: content,
				},
				FinishReason: openai.FinishReasonStop,
			},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// decodeCompletionRequest reads the chat completion request body
func decodeCompletionRequest(t *testing.T, r *http.Request) openai.ChatCompletionRequest {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		t.Errorf("Failed to decode request body: %v", err)
	}
	return req
}

// CreateMockOpenRouterHandler creates a handler that returns successful responses
func CreateMockOpenRouterHandler(t *testing.T, response string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected Content-Type application/json, got %s", r.Header.Get("Content-Type"))
		}

		if r.Header.Get("Authorization") == "" {
			t.Errorf("Missing Authorization header")
		}

		writeCompletion(w, response)
	}
}

// CreateMockOpenRouterErrorHandler creates a handler that returns errors
func CreateMockOpenRouterErrorHandler(statusCode int, errorMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		w.Write([]byte(errorMsg))
	}
}

// allowPrivateFetch lets reference fetches reach httptest servers on loopback
func allowPrivateFetch(t *testing.T) {
	t.Helper()
	old := AllowPrivateFetch
	AllowPrivateFetch = true
	t.Cleanup(func() { AllowPrivateFetch = old })
}

// invocation records one call made to a fakeInvoker
type invocation struct {
	Model    string
	Messages []ChatMessage
}

// Prompt returns the content of the last message
func (i invocation) Prompt() string {
	if len(i.Messages) == 0 {
		return ""
	}
	return i.Messages[len(i.Messages)-1].Content
}

// fakeInvoker is a scripted ModelInvoker that records every call
type fakeInvoker struct {
	mu      sync.Mutex
	calls   []invocation
	respond func(model string, prompt string) (string, error)
}

func newFakeInvoker(respond func(model string, prompt string) (string, error)) *fakeInvoker {
	return &fakeInvoker{respond: respond}
}

func (f *fakeInvoker) Invoke(ctx context.Context, model string, messages []ChatMessage) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, invocation{Model: model, Messages: messages})
	f.mu.Unlock()

	prompt := ""
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}
	return f.respond(model, prompt)
}

func (f *fakeInvoker) Calls() []invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]invocation(nil), f.calls...)
}

func (f *fakeInvoker) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Prompt classification for scripted responses
func isRankingPrompt(prompt string) bool {
	return strings.HasPrefix(prompt, "You are evaluating different responses")
}

func isChairmanPrompt(prompt string) bool {
	return strings.HasPrefix(prompt, "You are the Chairman")
}

func isTitlePrompt(prompt string) bool {
	return strings.HasPrefix(prompt, "Generate a very short title")
}

// SampleConversation creates a sample conversation for testing
func SampleConversation(id string) *Conversation {
	return &Conversation{
		ID:        id,
		CreatedAt: testTime(),
		Title:     "Test Conversation",
		Messages: []Message{
			{
				Role:    "user",
				Content: "What is Go?",
			},
			{
				Role: "assistant",
				Stage1: []Stage1Response{
					{Model: "test/model1", Response: "Go is a programming language."},
					{Model: "test/model2", Response: "Go is developed by Google."},
				},
				Stage2: []Stage2Ranking{
					{
						Model:         "test/model1",
						Ranking:       "FINAL RANKING:\n1. Response B\n2. Response A",
						ParsedRanking: []string{"B", "A"},
					},
				},
				Stage3: &Stage3Response{
					Model:    "test/chairman",
					Response: "Go is a programming language developed by Google.",
				},
			},
		},
	}
}

// testTime returns a fixed time for testing
func testTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}
