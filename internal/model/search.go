package model

// SearchResult is one retrieved chunk with its similarity score.
// Score scales differ between vector store backends, so scores are only
// comparable within a single deployment.
type SearchResult struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Category   string  `json:"category"`
	Title      string  `json:"title"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// CollectionStats describes the state of the vector collection.
// Connected reports that the backend answered the stats query; a failed
// query additionally comes back as an error.
type CollectionStats struct {
	Backend   string `json:"backend"`
	Name      string `json:"name"`
	RowCount  int64  `json:"row_count"`
	Dimension int    `json:"dimension"`
	Connected bool   `json:"connected"`
}

// IndexReport summarizes one indexing run over a document or directory.
type IndexReport struct {
	TotalFiles    int      `json:"total_files"`
	IndexedFiles  int      `json:"indexed_files"`
	FailedFiles   int      `json:"failed_files"`
	TotalChunks   int      `json:"total_chunks"`
	FailedSources []string `json:"failed_sources,omitempty"`
}
