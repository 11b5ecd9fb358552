package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteSendsSystemAndUserMessages(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "  Hello Jane  "}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "test-model", false)
	out, err := client.Complete(context.Background(), Request{
		System:      "You write emails.",
		Prompt:      "Write to Jane.",
		Temperature: 0.7,
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello Jane", out, "output is trimmed")

	assert.Equal(t, "test-model", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "You write emails.", captured.Messages[0].Content)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.InDelta(t, 0.7, captured.Temperature, 0.001)
}

func TestCompleteOmitsEmptySystemMessage(t *testing.T) {
	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "test-model", false)
	_, err := client.Complete(context.Background(), Request{Prompt: "Write to Jane."})
	require.NoError(t, err)
	require.Len(t, captured.Messages, 1)
	assert.Equal(t, "user", captured.Messages[0].Role)
}

func TestCompleteEmptyChoicesIsEmptyString(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "test-model", false)
	out, err := client.Complete(context.Background(), Request{Prompt: "anything"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCompleteNon200IsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "test-model", false)
	_, err := client.Complete(context.Background(), Request{Prompt: "anything"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteStubMode(t *testing.T) {
	client := NewClient("http://unused.invalid", "", "", true)
	out, err := client.Complete(context.Background(), Request{Prompt: "Write to Jane.\nSecond line."})
	require.NoError(t, err)
	assert.Contains(t, out, "Write to Jane.")
	assert.NotContains(t, out, "Second line.")
}
