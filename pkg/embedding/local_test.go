package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestLocalClientDeterministicUnitVector(t *testing.T) {
	client := NewLocalClient(64)
	ctx := context.Background()

	a, err := client.EmbedOne(ctx, "ตรวจสอบน้ำสูญเสียใน DMA")
	require.NoError(t, err)
	b, err := client.EmbedOne(ctx, "ตรวจสอบน้ำสูญเสียใน DMA")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Unit norm within float tolerance.
	assert.InDelta(t, 1.0, cosine(a, a), 1e-5)
}

func TestLocalClientSimilarityOrdering(t *testing.T) {
	client := NewLocalClient(256)
	ctx := context.Background()

	query, err := client.EmbedOne(ctx, "น้ำสูญเสียใน DMA สูงผิดปกติ")
	require.NoError(t, err)
	related, err := client.EmbedOne(ctx, "รายงานน้ำสูญเสียใน DMA ประจำเดือน")
	require.NoError(t, err)
	unrelated, err := client.EmbedOne(ctx, "quarterly financial statement review")
	require.NoError(t, err)

	assert.Greater(t, cosine(query, related), cosine(query, unrelated))
}

func TestLocalClientEmbedManyOrder(t *testing.T) {
	client := NewLocalClient(32)

	vectors, err := client.EmbedMany(context.Background(), []string{"หนึ่ง", "สอง"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	one, err := client.EmbedOne(context.Background(), "หนึ่ง")
	require.NoError(t, err)
	assert.Equal(t, one, vectors[0])
}

func TestLocalClientEmptyText(t *testing.T) {
	client := NewLocalClient(16)

	vec, err := client.EmbedOne(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, vec, 16)

	var norm float64
	for _, v := range vec {
		norm += float64(v)
	}
	assert.True(t, math.Abs(norm) < 1e-9)
}
