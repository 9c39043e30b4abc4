package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waris-go/internal/config"
	"waris-go/internal/model"
)

type collectWriter struct {
	tokens []string
}

func (w *collectWriter) WriteToken(content string) error {
	w.tokens = append(w.tokens, content)
	return nil
}

func newOpenRouterTest(t *testing.T, handler http.HandlerFunc) Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenRouterProvider(config.LLMConfig{
		Temperature: 0.7,
		MaxTokens:   4096,
		OpenRouter: config.OpenRouterConfig{
			APIKey:  "test-key",
			BaseURL: srv.URL,
			Model:   "qwen/qwen-2.5-72b-instruct",
			Referer: "https://waris.pwa.co.th",
			Title:   "WARIS Assistant",
		},
	})
}

func TestOpenRouterChat(t *testing.T) {
	p := newOpenRouterTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "https://waris.pwa.co.th", r.Header.Get("HTTP-Referer"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen/qwen-2.5-72b-instruct", req.Model)
		assert.False(t, req.Stream)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		assert.Equal(t, 4096, req.MaxTokens)

		fmt.Fprint(w, `{"choices":[{"message":{"content":"NRW คือน้ำสูญเสียรายได้"}}]}`)
	})

	reply, err := p.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "NRW?"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "NRW คือน้ำสูญเสียรายได้", reply)
}

func TestOpenRouterChatRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	p := newOpenRouterTest(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"recovered"}}]}`)
	})

	reply, err := p.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "hi"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOpenRouterChatDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	p := newOpenRouterTest(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := p.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "hi"}}, Options{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenRouterStreamChat(t *testing.T) {
	p := newOpenRouterTest(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"น้ำ\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"สูญเสีย\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var w collectWriter
	err := p.StreamChat(context.Background(), []model.ChatMessage{{Role: "user", Content: "NRW?"}}, Options{}, &w)
	require.NoError(t, err)
	assert.Equal(t, []string{"น้ำ", "สูญเสีย"}, w.tokens)
}

func TestOpenRouterStreamChatSkipsMalformedChunks(t *testing.T) {
	p := newOpenRouterTest(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	var w collectWriter
	err := p.StreamChat(context.Background(), []model.ChatMessage{{Role: "user", Content: "hi"}}, Options{}, &w)
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, w.tokens)
}

func TestOpenRouterOptionsOverride(t *testing.T) {
	p := newOpenRouterTest(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "custom-model", req.Model)
		assert.InDelta(t, 0.2, req.Temperature, 1e-9)
		assert.Equal(t, 128, req.MaxTokens)
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})

	temp := 0.2
	maxTokens := 128
	_, err := p.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "hi"}}, Options{
		Model:       "custom-model",
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	require.NoError(t, err)
}
