package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenRouterClientInvoke tests a single model query against a mock server
func TestOpenRouterClientInvoke(t *testing.T) {
	var gotPath, gotAuth, gotModel string
	var gotMessages []ChatMessage

	server := MockOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		req := decodeCompletionRequest(t, r)
		gotModel = req.Model
		for _, m := range req.Messages {
			gotMessages = append(gotMessages, ChatMessage{Role: m.Role, Content: m.Content})
		}
		writeCompletion(w, "Hello from the model")
	})

	client := NewOpenRouterClient("test-key", server.URL, 5*time.Second)
	messages := []ChatMessage{{Role: "user", Content: "Say hello"}}

	content, err := client.Invoke(context.Background(), "test/model", messages)
	require.NoError(t, err)

	assert.Equal(t, "Hello from the model", content)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test/model", gotModel)
	assert.Equal(t, messages, gotMessages)
}

// TestOpenRouterClientErrorStatus tests that non-2xx responses become errors
func TestOpenRouterClientErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
	}{
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom"}}`},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := MockOpenRouterServer(t, CreateMockOpenRouterErrorHandler(tt.statusCode, tt.body))
			client := NewOpenRouterClient("test-key", server.URL, 5*time.Second)

			content, err := client.Invoke(context.Background(), "test/model", []ChatMessage{{Role: "user", Content: "hi"}})
			require.Error(t, err)
			assert.Empty(t, content)
			assert.Contains(t, err.Error(), "test/model")
		})
	}
}

// TestOpenRouterClientNoChoices tests handling of an empty choices array
func TestOpenRouterClientNoChoices(t *testing.T) {
	server := MockOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"gen-1","object":"chat.completion","choices":[]}`))
	})

	client := NewOpenRouterClient("test-key", server.URL, 5*time.Second)
	_, err := client.Invoke(context.Background(), "test/model", []ChatMessage{{Role: "user", Content: "hi"}})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoChoices), "expected ErrNoChoices, got %v", err)
}

// TestOpenRouterClientTimeout tests that the per-call timeout bounds a hung model
func TestOpenRouterClientTimeout(t *testing.T) {
	release := make(chan struct{})
	server := MockOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	client := NewOpenRouterClient("test-key", server.URL, 50*time.Millisecond)

	start := time.Now()
	_, err := client.Invoke(context.Background(), "slow/model", []ChatMessage{{Role: "user", Content: "hi"}})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 5*time.Second)
}

// TestOpenRouterClientMalformedBody tests handling of a non-JSON success response
func TestOpenRouterClientMalformedBody(t *testing.T) {
	server := MockOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("not json"))
	})

	client := NewOpenRouterClient("test-key", server.URL, 5*time.Second)
	_, err := client.Invoke(context.Background(), "test/model", []ChatMessage{{Role: "user", Content: "hi"}})

	require.Error(t, err)
}

// TestDispatchParallelOverOpenRouter tests the dispatcher with the real client and one failing model
func TestDispatchParallelOverOpenRouter(t *testing.T) {
	server := MockOpenRouterServer(t, func(w http.ResponseWriter, r *http.Request) {
		req := decodeCompletionRequest(t, r)
		if strings.HasPrefix(req.Model, "bad/") {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":{"message":"upstream"}}`))
			return
		}
		writeCompletion(w, "answer from "+req.Model)
	})

	client := NewOpenRouterClient("test-key", server.URL, 5*time.Second)
	models := []string{"good/one", "bad/two", "good/three"}

	results := DispatchParallel(context.Background(), client, models, []ChatMessage{{Role: "user", Content: "Q"}})
	require.Len(t, results, 3)

	byModel := make(map[string]DispatchResult)
	for _, r := range results {
		byModel[r.Model] = r
	}

	assert.True(t, byModel["good/one"].OK())
	assert.Equal(t, "answer from good/one", byModel["good/one"].Content)
	assert.True(t, byModel["good/three"].OK())
	assert.False(t, byModel["bad/two"].OK())
}
