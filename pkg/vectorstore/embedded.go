package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite" // SQLite driver

	"waris-go/internal/model"
	"waris-go/pkg/log"
)

// EmbeddedStore keeps vectors in a local SQLite file and scans them with
// brute-force cosine similarity. It needs no external services, which is
// the point: it serves air-gapped and small deployments.
type EmbeddedStore struct {
	db        *sql.DB
	table     string
	dimension int
	minScore  float64
}

// NewEmbeddedStore opens (or creates) the SQLite file at path.
func NewEmbeddedStore(path, collection string, dimension int, minScore float64) (*EmbeddedStore, error) {
	if path == "" {
		path = "./data/vectors.db"
	}
	if collection == "" {
		collection = "chunks"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	// WAL mode keeps reads open while the indexer writes.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}

	s := &EmbeddedStore{
		db:        db,
		table:     collection,
		dimension: dimension,
		minScore:  minScore,
	}
	if err := s.EnsureCollection(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureCollection creates the chunk table if it does not exist.
func (s *EmbeddedStore) EnsureCollection(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %q (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL,
			embedding BLOB NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("%w: creating table: %v", ErrUnavailable, err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_source ON %q (source)`, s.table, s.table))
	if err != nil {
		return fmt.Errorf("%w: creating source index: %v", ErrUnavailable, err)
	}
	return nil
}

// Insert upserts chunks by ID inside one transaction.
func (s *EmbeddedStore) Insert(ctx context.Context, chunks []model.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, ch := range chunks {
		if len(ch.Embedding) != s.dimension {
			return fmt.Errorf("%w: chunk %s has dimension %d, collection expects %d",
				ErrDimensionMismatch, ch.ID, len(ch.Embedding), s.dimension)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %q (id, content, source, category, title, chunk_index, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", ErrUnavailable, err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Content, ch.Source, ch.Category,
			ch.Title, ch.ChunkIndex, float32SliceToBytes(ch.Embedding)); err != nil {
			return fmt.Errorf("%w: insert chunk %s: %v", ErrUnavailable, ch.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit insert: %v", ErrUnavailable, err)
	}
	log.Infof("[VectorStore] inserted %d chunks into embedded collection '%s'", len(chunks), s.table)
	return nil
}

// Search scans every stored vector and ranks by cosine similarity.
// Scores are raw cosine in [-1, 1].
func (s *EmbeddedStore) Search(ctx context.Context, vector []float32, topK int, category string) ([]model.SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, collection expects %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = 5
	}

	query := fmt.Sprintf(`SELECT id, content, source, category, title, chunk_index, embedding FROM %q`, s.table)
	args := []any{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query chunks: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		var blob []byte
		if err := rows.Scan(&r.ID, &r.Content, &r.Source, &r.Category, &r.Title, &r.ChunkIndex, &blob); err != nil {
			return nil, fmt.Errorf("%w: scan chunk: %v", ErrUnavailable, err)
		}
		score := cosineSimilarity(vector, bytesToFloat32Slice(blob))
		if score < s.minScore {
			continue
		}
		r.Score = score
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate chunks: %v", ErrUnavailable, err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// DeleteBySource removes every chunk of one source document.
func (s *EmbeddedStore) DeleteBySource(ctx context.Context, source string) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE source = ?`, s.table), source)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by source: %v", ErrUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Stats reports the collection size.
func (s *EmbeddedStore) Stats(ctx context.Context) (model.CollectionStats, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, s.table)).Scan(&count)
	if err != nil {
		return model.CollectionStats{}, fmt.Errorf("%w: count chunks: %v", ErrUnavailable, err)
	}
	return model.CollectionStats{
		Backend:   "embedded",
		Name:      s.table,
		RowCount:  count,
		Dimension: s.dimension,
		Connected: true,
	}, nil
}

// Drop removes the collection table.
func (s *EmbeddedStore) Drop(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, s.table)); err != nil {
		return fmt.Errorf("%w: drop table: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the database file.
func (s *EmbeddedStore) Close() error {
	return s.db.Close()
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// float32SliceToBytes converts a vector to little-endian bytes for storage.
func float32SliceToBytes(floats []float32) []byte {
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts stored bytes back to a vector.
func bytesToFloat32Slice(data []byte) []float32 {
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
