package repository

import (
	"errors"

	"gorm.io/gorm"

	"waris-go/internal/model"
)

// DocumentRepository defines data access for the knowledge_document
// registry, which records the latest indexing outcome per source.
type DocumentRepository interface {
	MarkIndexed(source, title, category, archiveKey string, chunkCount int) error
	MarkFailed(source, title, category string, indexErr error) error
	MarkDeleted(source string) error
	SetArchiveKey(source, archiveKey string) error
	FindBySource(source string) (*model.KnowledgeDocument, error)
	ListAll() ([]*model.KnowledgeDocument, error)
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository instance.
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// upsert writes the row for one source, creating it if needed.
func (r *documentRepository) upsert(doc *model.KnowledgeDocument) error {
	var existing model.KnowledgeDocument
	err := r.db.Where("source = ?", doc.Source).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(doc).Error
	}
	if err != nil {
		return err
	}
	doc.ID = existing.ID
	doc.CreatedAt = existing.CreatedAt
	return r.db.Save(doc).Error
}

// MarkIndexed records a successful indexing run.
func (r *documentRepository) MarkIndexed(source, title, category, archiveKey string, chunkCount int) error {
	return r.upsert(&model.KnowledgeDocument{
		Source:     source,
		Title:      title,
		Category:   category,
		ChunkCount: chunkCount,
		Status:     model.IndexStatusIndexed,
		LastError:  "",
		ArchiveKey: archiveKey,
	})
}

// MarkFailed records a failed indexing run with its error.
func (r *documentRepository) MarkFailed(source, title, category string, indexErr error) error {
	msg := ""
	if indexErr != nil {
		msg = indexErr.Error()
	}
	return r.upsert(&model.KnowledgeDocument{
		Source:    source,
		Title:     title,
		Category:  category,
		Status:    model.IndexStatusFailed,
		LastError: msg,
	})
}

// MarkDeleted records that a source was removed from the vector store.
func (r *documentRepository) MarkDeleted(source string) error {
	return r.db.Model(&model.KnowledgeDocument{}).
		Where("source = ?", source).
		Updates(map[string]any{"status": model.IndexStatusDestroyed, "chunk_count": 0}).Error
}

// SetArchiveKey records where the raw document is archived.
func (r *documentRepository) SetArchiveKey(source, archiveKey string) error {
	return r.db.Model(&model.KnowledgeDocument{}).
		Where("source = ?", source).
		Update("archive_key", archiveKey).Error
}

// FindBySource returns the registry row for one source document.
func (r *documentRepository) FindBySource(source string) (*model.KnowledgeDocument, error) {
	var doc model.KnowledgeDocument
	err := r.db.Where("source = ?", source).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListAll returns every registered document, newest first.
func (r *documentRepository) ListAll() ([]*model.KnowledgeDocument, error) {
	var docs []*model.KnowledgeDocument
	err := r.db.Order("updated_at DESC").Find(&docs).Error
	return docs, err
}
