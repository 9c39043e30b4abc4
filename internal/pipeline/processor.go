// Package pipeline implements the async document indexing flow.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"waris-go/internal/config"
	"waris-go/internal/repository"
	"waris-go/internal/service"
	"waris-go/pkg/log"
	"waris-go/pkg/storage"
	"waris-go/pkg/tasks"
	"waris-go/pkg/tika"
)

// Processor consumes index tasks: it downloads the archived document,
// extracts its text and feeds it through the indexer.
type Processor struct {
	tikaClient *tika.Client
	indexer    service.IndexerService
	docRepo    repository.DocumentRepository
	minioCfg   config.MinIOConfig
}

// NewProcessor creates a Processor. tikaClient and docRepo may be nil;
// without a tika client only plain-text formats are accepted.
func NewProcessor(
	tikaClient *tika.Client,
	indexer service.IndexerService,
	docRepo repository.DocumentRepository,
	minioCfg config.MinIOConfig,
) *Processor {
	return &Processor{
		tikaClient: tikaClient,
		indexer:    indexer,
		docRepo:    docRepo,
		minioCfg:   minioCfg,
	}
}

// Process handles one document index task.
func (p *Processor) Process(ctx context.Context, task tasks.DocumentIndexTask) error {
	log.Infof("[Processor] processing document, source: %s, file: %s", task.Source, task.FileName)

	archiveKey := task.ArchiveKey
	if archiveKey == "" {
		archiveKey = storage.ArchiveKey(task.Source)
	}

	// 1. Download the archived document from MinIO.
	data, err := storage.FetchDocument(ctx, p.minioCfg.BucketName, archiveKey)
	if err != nil {
		log.Errorf("[Processor] download failed, key: %s, error: %v", archiveKey, err)
		return fmt.Errorf("failed to download document: %w", err)
	}
	log.Infof("[Processor] downloaded %d bytes from %s", len(data), archiveKey)
	if len(data) == 0 {
		log.Warnf("[Processor] document '%s' is empty, aborting", task.Source)
		return errors.New("document is empty")
	}

	// 2. Extract plain text.
	text, err := p.extractText(data, task.FileName)
	if err != nil {
		log.Errorf("[Processor] text extraction failed, file: %s, error: %v", task.FileName, err)
		return fmt.Errorf("failed to extract text: %w", err)
	}
	if text == "" {
		log.Warnf("[Processor] extracted text is empty, aborting, file: %s", task.FileName)
		return errors.New("extracted text is empty")
	}
	log.Infof("[Processor] extracted %d characters", utf8.RuneCountInString(text))

	// 3. Chunk, embed and index. The indexer replaces any existing
	// chunks for this source and records the outcome in the registry.
	chunkCount, err := p.indexer.IndexDocument(ctx, text, task.Source, task.Category, task.Title)
	if err != nil {
		log.Errorf("[Processor] indexing failed, source: %s, error: %v", task.Source, err)
		return fmt.Errorf("failed to index document: %w", err)
	}

	if p.docRepo != nil {
		if err := p.docRepo.SetArchiveKey(task.Source, archiveKey); err != nil {
			log.Warnf("[Processor] failed to record archive key for %s: %v", task.Source, err)
		}
	}

	log.Infof("[Processor] document indexed, source: %s, chunks: %d", task.Source, chunkCount)
	return nil
}

func (p *Processor) extractText(data []byte, fileName string) (string, error) {
	if !tika.NeedsExtraction(fileName) {
		return string(data), nil
	}
	if p.tikaClient == nil {
		return "", fmt.Errorf("no extraction server configured for %s", fileName)
	}
	return p.tikaClient.ExtractText(bytes.NewReader(data), fileName)
}
