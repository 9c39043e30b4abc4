// Package service contains the business logic of the knowledge pipeline.
package service

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"waris-go/internal/model"
	"waris-go/internal/repository"
	"waris-go/pkg/chunker"
	"waris-go/pkg/embedding"
	"waris-go/pkg/log"
	"waris-go/pkg/vectorstore"
)

// DefaultEmbedBatchSize is the number of chunks sent per embedding call.
const DefaultEmbedBatchSize = 10

// IndexerService turns documents into searchable vector chunks.
type IndexerService interface {
	// IndexDocument chunks, embeds and stores one document, replacing any
	// chunks previously indexed for the same source. It returns the
	// number of chunks written.
	IndexDocument(ctx context.Context, content, source, category, title string) (int, error)
	// IndexDirectory indexes every file under dir whose name matches
	// pattern, taking the category from the parent directory name.
	IndexDirectory(ctx context.Context, dir, pattern string) (model.IndexReport, error)
	// ReindexAll drops the collection and indexes the directory from
	// scratch.
	ReindexAll(ctx context.Context, dir string) (model.IndexReport, error)
	// DeleteDocument removes one source from the vector store.
	DeleteDocument(ctx context.Context, source string) (int64, error)
	// Stats reports the vector collection state.
	Stats(ctx context.Context) (model.CollectionStats, error)
	// ListDocuments returns the per-source indexing registry.
	ListDocuments() ([]*model.KnowledgeDocument, error)
	// GetDocument returns the registry row for one source, or nil when
	// no registry is configured.
	GetDocument(source string) (*model.KnowledgeDocument, error)
}

type indexerService struct {
	chunker     *chunker.Chunker
	embedder    embedding.Client
	store       vectorstore.Store
	docRepo     repository.DocumentRepository
	batchSize   int
	concurrency int
}

// NewIndexerService creates a new IndexerService instance. docRepo may be
// nil, in which case indexing outcomes are not recorded.
func NewIndexerService(
	ck *chunker.Chunker,
	embedder embedding.Client,
	store vectorstore.Store,
	docRepo repository.DocumentRepository,
	batchSize, concurrency int,
) IndexerService {
	if batchSize <= 0 {
		batchSize = DefaultEmbedBatchSize
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &indexerService{
		chunker:     ck,
		embedder:    embedder,
		store:       store,
		docRepo:     docRepo,
		batchSize:   batchSize,
		concurrency: concurrency,
	}
}

// IndexDocument chunks, embeds and stores one document, then records the
// outcome in the registry.
func (s *indexerService) IndexDocument(ctx context.Context, content, source, category, title string) (int, error) {
	log.Infof("[Indexer] indexing document, source: %s", source)

	chunks := s.chunker.ChunkDocument(content, source, category, title)
	meta := documentMeta(chunks, source)

	n, err := s.indexChunks(ctx, source, chunks)
	if s.docRepo != nil {
		if err != nil {
			if repoErr := s.docRepo.MarkFailed(source, meta.title, meta.category, err); repoErr != nil {
				log.Errorf("[Indexer] failed to record indexing failure for %s: %v", source, repoErr)
			}
		} else {
			if repoErr := s.docRepo.MarkIndexed(source, meta.title, meta.category, "", n); repoErr != nil {
				log.Errorf("[Indexer] failed to record indexing result for %s: %v", source, repoErr)
			}
		}
	}
	return n, err
}

func (s *indexerService) indexChunks(ctx context.Context, source string, chunks []model.DocumentChunk) (int, error) {
	// Replace semantics: old chunks of the same source go first.
	deleted, err := s.store.DeleteBySource(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("failed to delete existing chunks for %s: %w", source, err)
	}
	if deleted > 0 {
		log.Infof("[Indexer] deleted %d existing chunks from %s", deleted, source)
	}

	if len(chunks) == 0 {
		log.Warnf("[Indexer] document %s produced no chunks", source)
		return 0, nil
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("failed to embed chunks for %s: %w", source, err)
	}

	embedded := make([]model.EmbeddedChunk, len(chunks))
	for i, ch := range chunks {
		embedded[i] = model.EmbeddedChunk{DocumentChunk: ch, Embedding: vectors[i]}
	}
	if err := s.store.Insert(ctx, embedded); err != nil {
		return 0, fmt.Errorf("failed to insert chunks for %s: %w", source, err)
	}

	log.Infof("[Indexer] indexed %s: %d chunks", source, len(chunks))
	return len(chunks), nil
}

// embedChunks embeds chunk contents in batches, running up to
// s.concurrency batches in parallel. Vector order always matches chunk
// order.
func (s *indexerService) embedChunks(ctx context.Context, chunks []model.DocumentChunk) ([][]float32, error) {
	type batch struct {
		start int
		texts []string
	}

	var batches []batch
	for start := 0; start < len(chunks); start += s.batchSize {
		end := start + s.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Content)
		}
		batches = append(batches, batch{start: start, texts: texts})
	}

	vectors := make([][]float32, len(chunks))
	sem := make(chan struct{}, s.concurrency)
	errCh := make(chan error, len(batches))
	var wg sync.WaitGroup

	for _, b := range batches {
		wg.Add(1)
		sem <- struct{}{}
		go func(b batch) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := s.embedder.EmbedMany(ctx, b.texts)
			if err != nil {
				errCh <- err
				return
			}
			copy(vectors[b.start:], result)
		}(b)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	return vectors, nil
}

// IndexDirectory walks dir and indexes every matching file. Failures are
// recorded per source and do not stop the run.
func (s *indexerService) IndexDirectory(ctx context.Context, dir, pattern string) (model.IndexReport, error) {
	if pattern == "" {
		pattern = "*.md"
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return model.IndexReport{}, fmt.Errorf("directory not found: %s", dir)
	}

	var report model.IndexReport
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if ok, _ := filepath.Match(pattern, d.Name()); !ok {
			return nil
		}
		report.TotalFiles++

		source, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			source = path
		}
		source = filepath.ToSlash(source)

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			log.Errorf("[Indexer] failed to read %s: %v", path, readErr)
			report.FailedFiles++
			report.FailedSources = append(report.FailedSources, source)
			if s.docRepo != nil {
				_ = s.docRepo.MarkFailed(source, "", "", readErr)
			}
			return nil
		}

		// Parent directory name doubles as the category.
		category := filepath.Base(filepath.Dir(path))
		if filepath.Clean(filepath.Dir(path)) == filepath.Clean(dir) {
			category = ""
		}

		n, idxErr := s.IndexDocument(ctx, string(content), source, category, "")
		if idxErr != nil {
			log.Errorf("[Indexer] failed to index %s: %v", source, idxErr)
			report.FailedFiles++
			report.FailedSources = append(report.FailedSources, source)
			return nil
		}

		report.IndexedFiles++
		report.TotalChunks += n
		return nil
	})
	if walkErr != nil {
		return report, fmt.Errorf("failed to walk directory %s: %w", dir, walkErr)
	}

	log.Infof("[Indexer] directory %s: %d files found, %d indexed, %d failed, %d chunks",
		dir, report.TotalFiles, report.IndexedFiles, report.FailedFiles, report.TotalChunks)
	return report, nil
}

// ReindexAll drops the collection and rebuilds it from the directory.
func (s *indexerService) ReindexAll(ctx context.Context, dir string) (model.IndexReport, error) {
	log.Warnf("[Indexer] reindexing: dropping existing collection")
	if err := s.store.Drop(ctx); err != nil {
		return model.IndexReport{}, fmt.Errorf("failed to drop collection: %w", err)
	}
	if err := s.store.EnsureCollection(ctx); err != nil {
		return model.IndexReport{}, fmt.Errorf("failed to recreate collection: %w", err)
	}
	return s.IndexDirectory(ctx, dir, "*.md")
}

// DeleteDocument removes one source from the vector store and records it.
func (s *indexerService) DeleteDocument(ctx context.Context, source string) (int64, error) {
	deleted, err := s.store.DeleteBySource(ctx, source)
	if err != nil {
		return 0, err
	}
	if s.docRepo != nil {
		if repoErr := s.docRepo.MarkDeleted(source); repoErr != nil {
			log.Errorf("[Indexer] failed to record deletion of %s: %v", source, repoErr)
		}
	}
	log.Infof("[Indexer] deleted %d chunks for source %s", deleted, source)
	return deleted, nil
}

// Stats reports the vector collection state.
func (s *indexerService) Stats(ctx context.Context) (model.CollectionStats, error) {
	return s.store.Stats(ctx)
}

// ListDocuments returns the per-source indexing registry.
func (s *indexerService) ListDocuments() ([]*model.KnowledgeDocument, error) {
	if s.docRepo == nil {
		return nil, nil
	}
	return s.docRepo.ListAll()
}

// GetDocument returns the registry row for one source.
func (s *indexerService) GetDocument(source string) (*model.KnowledgeDocument, error) {
	if s.docRepo == nil {
		return nil, nil
	}
	return s.docRepo.FindBySource(source)
}

type docMeta struct {
	title    string
	category string
}

// documentMeta recovers the effective title and category after frontmatter
// defaults were applied.
func documentMeta(chunks []model.DocumentChunk, source string) docMeta {
	if len(chunks) > 0 {
		return docMeta{title: chunks[0].Title, category: chunks[0].Category}
	}
	base := filepath.Base(source)
	return docMeta{title: strings.TrimSuffix(base, filepath.Ext(base))}
}
