package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alchemistral/internal/config"
)

func TestChatReturnsAssistantText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, ModelSmall, req.Model)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hello from assistant"}},
			},
		})
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(config.Static{Key: "test-key"}, srv.URL)
	text, err := client.Chat(context.Background(), ModelSmall,
		[]Message{{Role: "user", Content: "hi"}}, 0.3)
	require.NoError(t, err)
	assert.Equal(t, "hello from assistant", text)
}

func TestChatFailsWithoutKey(t *testing.T) {
	client := NewClient(config.Static{})
	_, err := client.Chat(context.Background(), ModelSmall, nil, 0.3)
	assert.Error(t, err)
	assert.False(t, client.HasKey())
}

func TestChatFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(config.Static{Key: "bad-key"}, srv.URL)
	_, err := client.Chat(context.Background(), ModelLarge, nil, 0.2)
	assert.ErrorContains(t, err, "status 401")
}

func TestChatFailsOnEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewClientWithBaseURL(config.Static{Key: "k"}, srv.URL)
	_, err := client.Chat(context.Background(), ModelLarge, nil, 0.2)
	assert.ErrorContains(t, err, "no choices")
}
