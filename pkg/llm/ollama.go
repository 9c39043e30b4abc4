package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"waris-go/internal/config"
	"waris-go/internal/model"
)

type ollamaProvider struct {
	cfg    config.OllamaConfig
	gen    config.LLMConfig
	client *http.Client
}

// NewOllamaProvider creates the local Ollama chat provider.
func NewOllamaProvider(cfg config.LLMConfig) Provider {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ollamaProvider{
		cfg:    cfg.Ollama,
		gen:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *ollamaProvider) Name() string    { return "ollama" }
func (p *ollamaProvider) Model() string   { return p.cfg.Model }
func (p *ollamaProvider) Available() bool { return p.cfg.BaseURL != "" }

type ollamaRequest struct {
	Model    string              `json:"model"`
	Messages []model.ChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (p *ollamaProvider) buildRequest(messages []model.ChatMessage, opts Options, stream bool) ollamaRequest {
	req := ollamaRequest{
		Model:    p.cfg.Model,
		Messages: messages,
		Stream:   stream,
		Options: ollamaOptions{
			Temperature: p.gen.Temperature,
			NumPredict:  p.gen.MaxTokens,
		},
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Temperature != nil {
		req.Options.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		req.Options.NumPredict = *opts.MaxTokens
	}
	return req
}

// Chat calls the local Ollama chat API.
func (p *ollamaProvider) Chat(ctx context.Context, messages []model.ChatMessage, opts Options) (string, error) {
	reqBytes, err := json.Marshal(p.buildRequest(messages, opts, false))
	if err != nil {
		return "", fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/api/chat", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama returned status %s: %s", resp.Status, string(bodyBytes))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return parsed.Message.Content, nil
}

// StreamChat calls the Ollama chat API with streaming enabled. Ollama
// streams newline-delimited JSON objects until one carries done=true.
func (p *ollamaProvider) StreamChat(ctx context.Context, messages []model.ChatMessage, opts Options, w TokenWriter) error {
	reqBytes, err := json.Marshal(p.buildRequest(messages, opts, true))
	if err != nil {
		return fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/api/chat", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ollama returned status %s: %s", resp.Status, string(bodyBytes))
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("failed to read from ollama stream: %w", err)
		}

		var chunk ollamaResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			if err := w.WriteToken(chunk.Message.Content); err != nil {
				return fmt.Errorf("failed to write streamed token: %w", err)
			}
		}
		if chunk.Done {
			break
		}
	}
	return nil
}
