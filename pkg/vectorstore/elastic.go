package vectorstore

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"waris-go/internal/config"
	"waris-go/internal/model"
	"waris-go/pkg/log"
)

// ElasticStore keeps vectors in an Elasticsearch index with a dense_vector
// field and cosine knn search. Elasticsearch normalizes cosine scores to
// (1+cosine)/2, so its thresholds live in [0, 1].
type ElasticStore struct {
	client    *elasticsearch.Client
	index     string
	dimension int
	minScore  float64
}

// NewElasticStore connects to the cluster. The index itself is created
// lazily by EnsureCollection.
func NewElasticStore(cfg config.ElasticVectorConfig, index string, dimension int) (*ElasticStore, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Addresses},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if index == "" {
		index = "waris_knowledge"
	}
	return &ElasticStore{
		client:    client,
		index:     index,
		dimension: dimension,
		minScore:  cfg.MinScore,
	}, nil
}

// EnsureCollection creates the index with the vector mapping if it does
// not exist yet.
func (s *ElasticStore) EnsureCollection(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: check index: %v", ErrUnavailable, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("[VectorStore] index '%s' already exists", s.index)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: unexpected status %d checking index '%s'", ErrUnavailable, res.StatusCode, s.index)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"id": { "type": "keyword" },
				"content": { "type": "text" },
				"source": { "type": "keyword" },
				"category": { "type": "keyword" },
				"title": { "type": "text" },
				"chunk_index": { "type": "long" },
				"embedding": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, s.dimension)

	res, err = s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("%w: create index: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: create index '%s': %s", ErrUnavailable, s.index, res.String())
	}

	log.Infof("[VectorStore] index '%s' created", s.index)
	return nil
}

// Insert upserts chunks by chunk ID.
func (s *ElasticStore) Insert(ctx context.Context, chunks []model.EmbeddedChunk) error {
	for _, ch := range chunks {
		if len(ch.Embedding) != s.dimension {
			return fmt.Errorf("%w: chunk %s has dimension %d, index expects %d",
				ErrDimensionMismatch, ch.ID, len(ch.Embedding), s.dimension)
		}

		docBytes, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("marshal chunk %s: %w", ch.ID, err)
		}

		req := esapi.IndexRequest{
			Index:      s.index,
			DocumentID: ch.ID,
			Body:       bytes.NewReader(docBytes),
			Refresh:    "true",
		}
		res, err := req.Do(ctx, s.client)
		if err != nil {
			return fmt.Errorf("%w: index chunk %s: %v", ErrUnavailable, ch.ID, err)
		}
		if res.IsError() {
			msg := res.String()
			res.Body.Close()
			return fmt.Errorf("%w: index chunk %s: %s", ErrUnavailable, ch.ID, msg)
		}
		res.Body.Close()
	}
	log.Infof("[VectorStore] inserted %d chunks into index '%s'", len(chunks), s.index)
	return nil
}

type knnSearchResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64             `json:"_score"`
			Source model.EmbeddedChunk `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a cosine knn query. Scores are in [0, 1].
func (s *ElasticStore) Search(ctx context.Context, vector []float32, topK int, category string) ([]model.SearchResult, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = 5
	}

	knn := map[string]any{
		"field":          "embedding",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": topK * 10,
	}
	if category != "" {
		knn["filter"] = map[string]any{
			"term": map[string]any{"category": category},
		}
	}
	body := map[string]any{
		"knn":       knn,
		"min_score": s.minScore,
		"_source":   []string{"id", "content", "source", "category", "title", "chunk_index"},
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal knn query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(bodyBytes)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: knn search: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: knn search: %s", ErrUnavailable, res.String())
	}

	var parsed knnSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode knn response: %w", err)
	}

	results := make([]model.SearchResult, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		results = append(results, model.SearchResult{
			ID:         hit.Source.ID,
			Content:    hit.Source.Content,
			Source:     hit.Source.Source,
			Category:   hit.Source.Category,
			Title:      hit.Source.Title,
			ChunkIndex: hit.Source.ChunkIndex,
			Score:      hit.Score,
		})
	}
	return results, nil
}

// DeleteBySource removes every chunk of one source document.
func (s *ElasticStore) DeleteBySource(ctx context.Context, source string) (int64, error) {
	query := fmt.Sprintf(`{"query": {"term": {"source": %q}}}`, source)
	res, err := s.client.DeleteByQuery(
		[]string{s.index},
		strings.NewReader(query),
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by source: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, fmt.Errorf("%w: delete by source: %s", ErrUnavailable, res.String())
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return parsed.Deleted, nil
}

// Stats reports the index size.
func (s *ElasticStore) Stats(ctx context.Context) (model.CollectionStats, error) {
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.index),
	)
	if err != nil {
		return model.CollectionStats{}, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return model.CollectionStats{}, fmt.Errorf("%w: count: %s", ErrUnavailable, res.String())
	}

	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return model.CollectionStats{}, fmt.Errorf("decode count response: %w", err)
	}
	return model.CollectionStats{
		Backend:   "elastic",
		Name:      s.index,
		RowCount:  parsed.Count,
		Dimension: s.dimension,
		Connected: true,
	}, nil
}

// Drop deletes the index.
func (s *ElasticStore) Drop(ctx context.Context) error {
	res, err := s.client.Indices.Delete([]string{s.index}, s.client.Indices.Delete.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: delete index: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: delete index: %s", ErrUnavailable, res.String())
	}
	return nil
}

// Close is a no-op for the HTTP-backed client.
func (s *ElasticStore) Close() error {
	return nil
}
