// Package model defines the data structures shared across the pipeline.
package model

// DocumentChunk is one piece of a source document, sized for embedding.
// ID is derived from the source path and chunk index, so re-indexing the
// same document overwrites its previous chunks.
type DocumentChunk struct {
	ID         string `json:"id"`
	Content    string `json:"content"`
	Source     string `json:"source"`
	Category   string `json:"category"`
	Title      string `json:"title"`
	ChunkIndex int    `json:"chunk_index"`
}

// EmbeddedChunk pairs a chunk with its embedding vector.
type EmbeddedChunk struct {
	DocumentChunk
	Embedding []float32 `json:"embedding"`
}
