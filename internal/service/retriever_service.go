package service

import (
	"context"
	"fmt"
	"strings"

	"waris-go/internal/model"
	"waris-go/pkg/embedding"
	"waris-go/pkg/llm"
	"waris-go/pkg/log"
	"waris-go/pkg/vectorstore"
)

// DefaultTopK is the number of chunks retrieved per query.
const DefaultTopK = 5

// RetrieverService answers questions grounded in the knowledge base.
type RetrieverService interface {
	// Retrieve returns the chunks most similar to the query.
	Retrieve(ctx context.Context, query string, topK int, category string) ([]model.SearchResult, error)
	// BuildContext formats retrieved chunks into the Thai reference block
	// given to the model.
	BuildContext(results []model.SearchResult) string
	// QueryWithContext answers one chat turn, augmenting the prompt with
	// retrieved context unless the request disables it. A retrieval
	// failure aborts the turn rather than answering without context.
	QueryWithContext(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error)
	// StreamWithContext is QueryWithContext with a streamed reply. The
	// returned sources correspond to the retrieved context.
	StreamWithContext(ctx context.Context, req model.ChatRequest) (<-chan llm.StreamEvent, []model.SourceRef, error)
}

type retrieverService struct {
	embedder embedding.Client
	store    vectorstore.Store
	gateway  *llm.Gateway
}

// NewRetrieverService creates a new RetrieverService instance.
func NewRetrieverService(embedder embedding.Client, store vectorstore.Store, gateway *llm.Gateway) RetrieverService {
	return &retrieverService{
		embedder: embedder,
		store:    store,
		gateway:  gateway,
	}
}

// Retrieve embeds the query and searches the vector store.
func (s *retrieverService) Retrieve(ctx context.Context, query string, topK int, category string) ([]model.SearchResult, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}

	queryVector, err := s.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.store.Search(ctx, queryVector, topK, category)
	if err != nil {
		return nil, fmt.Errorf("failed to search vector store: %w", err)
	}

	log.Infof("[Retriever] retrieved %d documents for query", len(results))
	return results, nil
}

// BuildContext formats retrieved chunks into the reference block.
func (s *retrieverService) BuildContext(results []model.SearchResult) string {
	if len(results) == 0 {
		return ""
	}

	parts := []string{"ข้อมูลอ้างอิงจากฐานความรู้:\n"}
	for i, doc := range results {
		parts = append(parts, fmt.Sprintf("--- เอกสาร %d (%s) ---", i+1, doc.Title))
		parts = append(parts, doc.Content)
		parts = append(parts, fmt.Sprintf("แหล่งอ้างอิง: %s (ความเกี่ยวข้อง: %.0f%%)\n", doc.Source, doc.Score*100))
	}
	return strings.Join(parts, "\n")
}

// buildMessages assembles history, the context-carrying system message and
// the user turn. A retrieval failure is returned to the caller: answering
// from the model alone would look grounded without being so.
func (s *retrieverService) buildMessages(ctx context.Context, req model.ChatRequest) ([]model.ChatMessage, []model.SourceRef, error) {
	useRAG := req.UseRAG == nil || *req.UseRAG

	var results []model.SearchResult
	if useRAG {
		var err error
		results, err = s.Retrieve(ctx, req.Message, req.TopK, "")
		if err != nil {
			return nil, nil, fmt.Errorf("retrieval failed: %w", err)
		}
	}

	var messages []model.ChatMessage
	messages = append(messages, req.History...)

	if contextBlock := s.BuildContext(results); contextBlock != "" {
		messages = append(messages, model.ChatMessage{
			Role:    "system",
			Content: s.gateway.SystemPrompt() + "\n\n" + contextBlock,
		})
	}
	messages = append(messages, model.ChatMessage{Role: "user", Content: req.Message})

	sources := make([]model.SourceRef, 0, len(results))
	for _, doc := range results {
		sources = append(sources, model.SourceRef{
			Title:  doc.Title,
			Source: doc.Source,
			Score:  doc.Score,
		})
	}
	return messages, sources, nil
}

// QueryWithContext answers one chat turn with retrieved context.
func (s *retrieverService) QueryWithContext(ctx context.Context, req model.ChatRequest) (model.ChatResponse, error) {
	messages, sources, err := s.buildMessages(ctx, req)
	if err != nil {
		return model.ChatResponse{}, err
	}

	resp, err := s.gateway.Chat(ctx, messages, llm.Options{}, req.Provider)
	resp.Sources = sources
	resp.ContextUsed = len(sources) > 0
	return resp, err
}

// StreamWithContext streams the answer for one chat turn.
func (s *retrieverService) StreamWithContext(ctx context.Context, req model.ChatRequest) (<-chan llm.StreamEvent, []model.SourceRef, error) {
	messages, sources, err := s.buildMessages(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return s.gateway.StreamChat(ctx, messages, llm.Options{}, req.Provider), sources, nil
}
