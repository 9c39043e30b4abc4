package vectorstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waris-go/internal/model"
	"waris-go/pkg/embedding"
)

func newTestStore(t *testing.T, dimension int, minScore float64) *EmbeddedStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vectors.db")
	store, err := NewEmbeddedStore(path, "test_chunks", dimension, minScore)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func chunk(id, content, source, category string, index int, vec []float32) model.EmbeddedChunk {
	return model.EmbeddedChunk{
		DocumentChunk: model.DocumentChunk{
			ID:         id,
			Content:    content,
			Source:     source,
			Category:   category,
			Title:      source,
			ChunkIndex: index,
		},
		Embedding: vec,
	}
}

func TestEmbeddedStoreSearchRanking(t *testing.T) {
	store := newTestStore(t, 3, 0)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []model.EmbeddedChunk{
		chunk("a", "close match", "a.md", "", 0, []float32{1, 0, 0}),
		chunk("b", "partial match", "b.md", "", 0, []float32{1, 1, 0}),
		chunk("c", "orthogonal", "c.md", "", 0, []float32{0, 0, 1}),
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, 2, "")
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestEmbeddedStoreMinScoreFilters(t *testing.T) {
	store := newTestStore(t, 3, 0.5)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []model.EmbeddedChunk{
		chunk("a", "match", "a.md", "", 0, []float32{1, 0, 0}),
		chunk("c", "orthogonal", "c.md", "", 0, []float32{0, 0, 1}),
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, 10, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestEmbeddedStoreCategoryFilter(t *testing.T) {
	store := newTestStore(t, 3, 0)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []model.EmbeddedChunk{
		chunk("a", "nrw doc", "a.md", "nrw", 0, []float32{1, 0, 0}),
		chunk("b", "report doc", "b.md", "reports", 0, []float32{1, 0, 0}),
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, 10, "reports")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestEmbeddedStoreUpsertByID(t *testing.T) {
	store := newTestStore(t, 3, 0)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []model.EmbeddedChunk{
		chunk("a", "old content", "a.md", "", 0, []float32{1, 0, 0}),
	}))
	require.NoError(t, store.Insert(ctx, []model.EmbeddedChunk{
		chunk("a", "new content", "a.md", "", 0, []float32{1, 0, 0}),
	}))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RowCount)
	assert.True(t, stats.Connected)

	results, err := store.Search(ctx, []float32{1, 0, 0}, 1, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new content", results[0].Content)
}

func TestEmbeddedStoreDimensionMismatch(t *testing.T) {
	store := newTestStore(t, 3, 0)
	ctx := context.Background()

	err := store.Insert(ctx, []model.EmbeddedChunk{
		chunk("a", "bad", "a.md", "", 0, []float32{1, 0}),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))

	_, err = store.Search(ctx, []float32{1, 0}, 5, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestEmbeddedStoreDeleteBySource(t *testing.T) {
	store := newTestStore(t, 3, 0)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []model.EmbeddedChunk{
		chunk("a0", "part one", "a.md", "", 0, []float32{1, 0, 0}),
		chunk("a1", "part two", "a.md", "", 1, []float32{0, 1, 0}),
		chunk("b0", "other", "b.md", "", 0, []float32{0, 0, 1}),
	}))

	deleted, err := store.DeleteBySource(ctx, "a.md")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RowCount)
}

func TestEmbeddedStoreDrop(t *testing.T) {
	store := newTestStore(t, 3, 0)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, []model.EmbeddedChunk{
		chunk("a", "doc", "a.md", "", 0, []float32{1, 0, 0}),
	}))
	require.NoError(t, store.Drop(ctx))

	// Recreate and verify empty.
	require.NoError(t, store.EnsureCollection(ctx))
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.RowCount)
}

// End-to-end with the in-process embedder: Thai water-loss content must
// come back first for a Thai water-loss query.
func TestEmbeddedStoreWithLocalEmbedder(t *testing.T) {
	const dim = 256
	store := newTestStore(t, dim, 0)
	embedder := embedding.NewLocalClient(dim)
	ctx := context.Background()

	docs := []struct {
		id, source, content string
	}{
		{"nrw", "km/nrw.md", "น้ำสูญเสียใน DMA คือผลต่างระหว่างน้ำที่จ่ายเข้าระบบกับน้ำที่ขายได้"},
		{"meter", "km/meter.md", "การอ่านมิเตอร์ประจำเดือนต้องบันทึกเลขมาตรทุกครั้ง"},
		{"hr", "km/leave.md", "พนักงานสามารถยื่นใบลาพักร้อนล่วงหน้าเจ็ดวัน"},
	}

	var chunks []model.EmbeddedChunk
	for i, d := range docs {
		vec, err := embedder.EmbedOne(ctx, d.content)
		require.NoError(t, err)
		chunks = append(chunks, chunk(d.id, d.content, d.source, "", i, vec))
	}
	require.NoError(t, store.Insert(ctx, chunks))

	queryVec, err := embedder.EmbedOne(ctx, "น้ำสูญเสียใน DMA สูงผิดปกติ ควรตรวจสอบอะไร")
	require.NoError(t, err)

	results, err := store.Search(ctx, queryVec, 3, "")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "nrw", results[0].ID)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	original := []float32{0.1, -2.5, 0, 3.75}
	assert.Equal(t, original, bytesToFloat32Slice(float32SliceToBytes(original)))
}
