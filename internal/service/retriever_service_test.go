package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waris-go/internal/config"
	"waris-go/internal/model"
	"waris-go/pkg/chunker"
	"waris-go/pkg/embedding"
	"waris-go/pkg/guardrails"
	"waris-go/pkg/llm"
	"waris-go/pkg/vectorstore"
)

// scriptedProvider records the conversation it was given and replies with
// a fixed answer.
type scriptedProvider struct {
	name     string
	reply    string
	messages []model.ChatMessage
}

func (p *scriptedProvider) Name() string    { return p.name }
func (p *scriptedProvider) Model() string   { return "scripted" }
func (p *scriptedProvider) Available() bool { return true }

func (p *scriptedProvider) Chat(_ context.Context, messages []model.ChatMessage, _ llm.Options) (string, error) {
	p.messages = messages
	return p.reply, nil
}

func (p *scriptedProvider) StreamChat(_ context.Context, messages []model.ChatMessage, _ llm.Options, w llm.TokenWriter) error {
	p.messages = messages
	for _, part := range strings.Fields(p.reply) {
		if err := w.WriteToken(part); err != nil {
			return err
		}
	}
	return nil
}

// brokenEmbedder fails every call, as an unreachable embedding backend
// would.
type brokenEmbedder struct{}

func (brokenEmbedder) EmbedOne(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("%w: connection refused", embedding.ErrUnavailable)
}

func (brokenEmbedder) EmbedMany(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: connection refused", embedding.ErrUnavailable)
}

func (brokenEmbedder) Dimension() int { return testDimension }

func newRetrieverParts(t *testing.T, provider *scriptedProvider, minScore float64, docs map[string]string) (embedding.Client, vectorstore.Store, *llm.Gateway) {
	t.Helper()
	store, err := vectorstore.NewEmbeddedStore(
		filepath.Join(t.TempDir(), "vectors.db"), "test_chunks", testDimension, minScore)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })

	ck, err := chunker.New(0, 0, 0)
	require.NoError(t, err)

	embedder := embedding.NewLocalClient(testDimension)
	indexer := NewIndexerService(ck, embedder, store, nil, 2, 1)

	ctx := context.Background()
	for source, content := range docs {
		_, err := indexer.IndexDocument(ctx, content, source, "", "")
		require.NoError(t, err)
	}

	gateway := llm.NewGateway(
		config.LLMConfig{Primary: provider.name, EnableFallback: false},
		guardrails.New(nil, nil, 0, 0),
		provider,
	)
	return embedder, store, gateway
}

func newTestRetriever(t *testing.T, provider *scriptedProvider) RetrieverService {
	t.Helper()
	embedder, store, gateway := newRetrieverParts(t, provider, 0, map[string]string{
		"km/nrw.md":   "น้ำสูญเสียใน DMA คือผลต่างระหว่างน้ำที่จ่ายเข้าระบบกับน้ำที่ขายได้",
		"km/meter.md": "การอ่านมิเตอร์ต้องบันทึกเลขมาตรทุกเดือน",
	})
	return NewRetrieverService(embedder, store, gateway)
}

func TestRetrieveRanksRelevantFirst(t *testing.T) {
	svc := newTestRetriever(t, &scriptedProvider{name: "openrouter"})

	results, err := svc.Retrieve(context.Background(), "น้ำสูญเสียใน DMA สูงผิดปกติ", 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "km/nrw.md", results[0].Source)
}

func TestRetrieveTopOneAboveThreshold(t *testing.T) {
	provider := &scriptedProvider{name: "openrouter"}
	embedder, store, gateway := newRetrieverParts(t, provider, 0.1, map[string]string{
		"km/doc1.md": "น้ำสูญเสีย (NRW) คือผลต่างระหว่างปริมาณน้ำที่ผลิตกับปริมาณน้ำที่จำหน่ายได้ในแต่ละ DMA",
		"km/doc2.md": "ขั้นตอนการเบิกวัสดุสำนักงานของหน่วยงาน",
	})
	svc := NewRetrieverService(embedder, store, gateway)

	results, err := svc.Retrieve(context.Background(), "น้ำสูญเสีย NRW ใน DMA คิดอย่างไร", 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "km/doc1.md", results[0].Source)
	assert.GreaterOrEqual(t, results[0].Score, 0.1)
}

func TestBuildContextFormat(t *testing.T) {
	svc := newTestRetriever(t, &scriptedProvider{name: "openrouter"})

	block := svc.BuildContext([]model.SearchResult{
		{Title: "nrw", Source: "km/nrw.md", Content: "เนื้อหา", Score: 0.85},
	})

	assert.True(t, strings.HasPrefix(block, "ข้อมูลอ้างอิงจากฐานความรู้:\n"))
	assert.Contains(t, block, "--- เอกสาร 1 (nrw) ---")
	assert.Contains(t, block, "เนื้อหา")
	assert.Contains(t, block, "แหล่งอ้างอิง: km/nrw.md (ความเกี่ยวข้อง: 85%)")

	assert.Empty(t, svc.BuildContext(nil))
}

func TestQueryWithContextInjectsContext(t *testing.T) {
	provider := &scriptedProvider{name: "openrouter", reply: "น้ำสูญเสียคือ NRW ครับ"}
	svc := newTestRetriever(t, provider)

	resp, err := svc.QueryWithContext(context.Background(), model.ChatRequest{
		Message: "น้ำสูญเสียใน DMA คืออะไร",
		History: []model.ChatMessage{
			{Role: "user", Content: "สวัสดี"},
			{Role: "assistant", Content: "สวัสดีครับ"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "น้ำสูญเสียคือ NRW ครับ", resp.Reply)
	assert.Equal(t, "openrouter", resp.Provider)
	assert.True(t, resp.ContextUsed)
	assert.NotEmpty(t, resp.Sources)
	assert.Equal(t, "km/nrw.md", resp.Sources[0].Source)

	// The provider saw history, one system message carrying the context,
	// then the user turn.
	require.NotEmpty(t, provider.messages)
	var systemContent string
	for _, m := range provider.messages {
		if m.Role == "system" {
			systemContent = m.Content
		}
	}
	assert.Contains(t, systemContent, "WARIS")
	assert.Contains(t, systemContent, "ข้อมูลอ้างอิงจากฐานความรู้:")
	assert.Equal(t, "user", provider.messages[len(provider.messages)-1].Role)
}

func TestQueryWithContextRAGDisabled(t *testing.T) {
	provider := &scriptedProvider{name: "openrouter", reply: "ตอบโดยไม่มีบริบท"}
	svc := newTestRetriever(t, provider)

	useRAG := false
	resp, err := svc.QueryWithContext(context.Background(), model.ChatRequest{
		Message: "น้ำสูญเสียใน DMA คืออะไร",
		UseRAG:  &useRAG,
	})
	require.NoError(t, err)

	assert.Empty(t, resp.Sources)
	for _, m := range provider.messages {
		assert.NotContains(t, m.Content, "ข้อมูลอ้างอิงจากฐานความรู้:")
	}
}

func TestQueryWithContextEmptyKnowledgeBase(t *testing.T) {
	provider := &scriptedProvider{name: "openrouter", reply: "ขออธิบายจากความรู้ทั่วไปครับ"}
	embedder, store, gateway := newRetrieverParts(t, provider, 0, nil)
	svc := NewRetrieverService(embedder, store, gateway)

	resp, err := svc.QueryWithContext(context.Background(), model.ChatRequest{
		Message: "น้ำสูญเสียใน DMA คืออะไร",
	})
	require.NoError(t, err)

	// Nothing indexed: the answer still comes back, flagged as not
	// grounded in the knowledge base.
	assert.NotEmpty(t, resp.Reply)
	assert.False(t, resp.ContextUsed)
	assert.Empty(t, resp.Sources)
}

func TestQueryWithContextEmbedderFailureAborts(t *testing.T) {
	provider := &scriptedProvider{name: "openrouter", reply: "คำตอบที่ไม่มีหลักฐาน"}
	_, store, gateway := newRetrieverParts(t, provider, 0, nil)
	svc := NewRetrieverService(brokenEmbedder{}, store, gateway)

	resp, err := svc.QueryWithContext(context.Background(), model.ChatRequest{
		Message: "น้ำสูญเสียใน DMA คืออะไร",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrUnavailable)

	// No answer without working retrieval, and the provider is never
	// consulted.
	assert.Empty(t, resp.Reply)
	assert.Empty(t, provider.messages)

	_, _, err = svc.StreamWithContext(context.Background(), model.ChatRequest{
		Message: "น้ำสูญเสียใน DMA คืออะไร",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, embedding.ErrUnavailable)
}

func TestQueryWithContextRAGDisabledSkipsEmbedder(t *testing.T) {
	provider := &scriptedProvider{name: "openrouter", reply: "ตอบโดยไม่มีบริบท"}
	_, store, gateway := newRetrieverParts(t, provider, 0, nil)
	svc := NewRetrieverService(brokenEmbedder{}, store, gateway)

	useRAG := false
	resp, err := svc.QueryWithContext(context.Background(), model.ChatRequest{
		Message: "สวัสดี",
		UseRAG:  &useRAG,
	})
	require.NoError(t, err)
	assert.Equal(t, "ตอบโดยไม่มีบริบท", resp.Reply)
}

func TestStreamWithContext(t *testing.T) {
	provider := &scriptedProvider{name: "openrouter", reply: "น้ำสูญเสีย คือ NRW"}
	svc := newTestRetriever(t, provider)

	events, sources, err := svc.StreamWithContext(context.Background(), model.ChatRequest{
		Message: "น้ำสูญเสียใน DMA คืออะไร",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sources)

	var tokens []string
	var done bool
	for ev := range events {
		require.NoError(t, ev.Err)
		if ev.Done {
			done = true
			break
		}
		tokens = append(tokens, ev.Content)
	}
	assert.True(t, done)
	assert.Equal(t, []string{"น้ำสูญเสีย", "คือ", "NRW"}, tokens)
}
