package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"waris-go/internal/config"
	"waris-go/internal/model"
	"waris-go/pkg/log"
)

// Retry configuration for non-streaming requests. Server errors, timeouts
// and connection failures are retried with exponential backoff; client
// errors are not.
const (
	maxRetries   = 3
	retryDelay   = 2 * time.Second
	retryBackoff = 1.5
)

type openRouterProvider struct {
	cfg    config.OpenRouterConfig
	gen    config.LLMConfig
	client *http.Client
}

// NewOpenRouterProvider creates the OpenRouter chat provider.
func NewOpenRouterProvider(cfg config.LLMConfig) Provider {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &openRouterProvider{
		cfg:    cfg.OpenRouter,
		gen:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *openRouterProvider) Name() string    { return "openrouter" }
func (p *openRouterProvider) Model() string   { return p.cfg.Model }
func (p *openRouterProvider) Available() bool { return p.cfg.APIKey != "" }

type chatRequest struct {
	Model       string              `json:"model"`
	Messages    []model.ChatMessage `json:"messages"`
	Temperature float64             `json:"temperature"`
	MaxTokens   int                 `json:"max_tokens"`
	Stream      bool                `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (p *openRouterProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", p.cfg.Referer)
	}
	if p.cfg.Title != "" {
		req.Header.Set("X-Title", p.cfg.Title)
	}
}

func (p *openRouterProvider) buildRequest(messages []model.ChatMessage, opts Options, stream bool) chatRequest {
	req := chatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: p.gen.Temperature,
		MaxTokens:   p.gen.MaxTokens,
		Stream:      stream,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.MaxTokens = *opts.MaxTokens
	}
	return req
}

// Chat calls the chat completions API. Server errors, timeouts and
// connection failures are retried up to maxRetries times.
func (p *openRouterProvider) Chat(ctx context.Context, messages []model.ChatMessage, opts Options) (string, error) {
	reqBytes, err := json.Marshal(p.buildRequest(messages, opts, false))
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	var lastErr error
	delay := retryDelay

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * retryBackoff)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
		if err != nil {
			return "", fmt.Errorf("failed to create chat request: %w", err)
		}
		p.setHeaders(req)

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = err
			log.Warnf("[OpenRouter] connection error (attempt %d/%d): %v", attempt+1, maxRetries, err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("chat api returned status %s: %s", resp.Status, string(bodyBytes))
			log.Warnf("[OpenRouter] HTTP error (attempt %d/%d): %d", attempt+1, maxRetries, resp.StatusCode)
			if resp.StatusCode >= 500 {
				continue
			}
			return "", lastErr
		}

		var parsed chatCompletionResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		if err != nil {
			return "", fmt.Errorf("failed to decode chat response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return "", fmt.Errorf("chat api returned no choices")
		}
		return parsed.Choices[0].Message.Content, nil
	}

	log.Errorf("[OpenRouter] request failed after %d retries: %v", maxRetries, lastErr)
	return "", fmt.Errorf("openrouter request failed after %d retries: %w", maxRetries, lastErr)
}

// StreamChat calls the chat completions API with SSE streaming and writes
// each delta token to w.
func (p *openRouterProvider) StreamChat(ctx context.Context, messages []model.ChatMessage, opts Options, w TokenWriter) error {
	reqBytes, err := json.Marshal(p.buildRequest(messages, opts, true))
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	p.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("chat api returned status %s: %s", resp.Status, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from stream: %w", err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := w.WriteToken(chunk.Choices[0].Delta.Content); err != nil {
			return fmt.Errorf("failed to write streamed token: %w", err)
		}
	}
	return nil
}
