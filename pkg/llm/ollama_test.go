package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waris-go/internal/config"
	"waris-go/internal/model"
)

func newOllamaTest(t *testing.T, handler http.HandlerFunc) Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOllamaProvider(config.LLMConfig{
		Temperature: 0.7,
		MaxTokens:   4096,
		Ollama: config.OllamaConfig{
			BaseURL: srv.URL,
			Model:   "qwen2.5:72b",
		},
	})
}

func TestOllamaChat(t *testing.T) {
	p := newOllamaTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5:72b", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, 4096, req.Options.NumPredict)

		fmt.Fprint(w, `{"message":{"content":"คำตอบจากโมเดลท้องถิ่น"},"done":true}`)
	})

	reply, err := p.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "NRW?"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "คำตอบจากโมเดลท้องถิ่น", reply)
}

func TestOllamaStreamChat(t *testing.T) {
	p := newOllamaTest(t, func(w http.ResponseWriter, r *http.Request) {
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		fmt.Fprint(w, "{\"message\":{\"content\":\"น้ำ\"},\"done\":false}\n")
		fmt.Fprint(w, "{\"message\":{\"content\":\"สูญเสีย\"},\"done\":false}\n")
		fmt.Fprint(w, "{\"message\":{\"content\":\"\"},\"done\":true}\n")
	})

	var w collectWriter
	err := p.StreamChat(context.Background(), []model.ChatMessage{{Role: "user", Content: "NRW?"}}, Options{}, &w)
	require.NoError(t, err)
	assert.Equal(t, []string{"น้ำ", "สูญเสีย"}, w.tokens)
}

func TestOllamaChatServerError(t *testing.T) {
	p := newOllamaTest(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := p.Chat(context.Background(), []model.ChatMessage{{Role: "user", Content: "hi"}}, Options{})
	require.Error(t, err)
}
