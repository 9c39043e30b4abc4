package model

// ChatMessage is one turn of a conversation in OpenAI message format.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/v1/chat and /api/v1/chat/stream.
// History carries earlier turns of the conversation; the server itself
// keeps no conversation state.
type ChatRequest struct {
	Message  string        `json:"message" binding:"required"`
	History  []ChatMessage `json:"history"`
	Provider string        `json:"provider"`
	UseRAG   *bool         `json:"use_rag"`
	TopK     int           `json:"top_k"`
}

// SourceRef points a chat answer back at a retrieved document.
type SourceRef struct {
	Title  string  `json:"title"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// ChatResponse is the non-streaming chat reply. ContextUsed reports
// whether retrieved knowledge was injected into the prompt.
type ChatResponse struct {
	Reply       string      `json:"reply"`
	Provider    string      `json:"provider"`
	Sources     []SourceRef `json:"sources,omitempty"`
	ContextUsed bool        `json:"contextUsed"`
	Filtered    bool        `json:"filtered,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// ProviderStatus reports one LLM provider's configuration and health.
type ProviderStatus struct {
	Name      string `json:"name"`
	Model     string `json:"model"`
	Healthy   bool   `json:"healthy"`
	Primary   bool   `json:"primary"`
	Available bool   `json:"available"`
}
