package handler

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"waris-go/internal/config"
	"waris-go/internal/model"
	"waris-go/internal/service"
	"waris-go/pkg/kafka"
	"waris-go/pkg/log"
	"waris-go/pkg/storage"
	"waris-go/pkg/tasks"
)

// KnowledgeHandler manages the knowledge base: uploads, indexing,
// search and the document registry.
type KnowledgeHandler struct {
	indexer   service.IndexerService
	retriever service.RetrieverService
	minioCfg  config.MinIOConfig
	archiving bool
	queueing  bool
}

// NewKnowledgeHandler creates a new KnowledgeHandler. archiving enables
// the MinIO-backed endpoints; queueing selects async indexing through
// Kafka for uploaded documents.
func NewKnowledgeHandler(
	indexer service.IndexerService,
	retriever service.RetrieverService,
	minioCfg config.MinIOConfig,
	archiving, queueing bool,
) *KnowledgeHandler {
	return &KnowledgeHandler{
		indexer:   indexer,
		retriever: retriever,
		minioCfg:  minioCfg,
		archiving: archiving,
		queueing:  queueing,
	}
}

// documentView is the registry row as presented over the API.
type documentView struct {
	Source     string          `json:"source"`
	Title      string          `json:"title"`
	Category   string          `json:"category"`
	ChunkCount int             `json:"chunkCount"`
	Status     int             `json:"status"`
	LastError  string          `json:"lastError,omitempty"`
	ArchiveKey string          `json:"archiveKey,omitempty"`
	UpdatedAt  model.LocalTime `json:"updatedAt"`
}

// ListDocuments returns the per-source indexing registry.
func (h *KnowledgeHandler) ListDocuments(c *gin.Context) {
	docs, err := h.indexer.ListDocuments()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	views := make([]documentView, 0, len(docs))
	for _, d := range docs {
		views = append(views, documentView{
			Source:     d.Source,
			Title:      d.Title,
			Category:   d.Category,
			ChunkCount: d.ChunkCount,
			Status:     d.Status,
			LastError:  d.LastError,
			ArchiveKey: d.ArchiveKey,
			UpdatedAt:  model.LocalTime(d.UpdatedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"documents": views, "total": len(views)})
}

// Search runs a similarity query against the vector store.
func (h *KnowledgeHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing query parameter 'q'"})
		return
	}
	topK, _ := strconv.Atoi(c.DefaultQuery("top_k", "5"))
	category := c.Query("category")

	results, err := h.retriever.Retrieve(c.Request.Context(), query, topK, category)
	if err != nil {
		log.Errorf("[KnowledgeHandler] search failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "total": len(results)})
}

// Stats reports the vector collection state.
func (h *KnowledgeHandler) Stats(c *gin.Context) {
	stats, err := h.indexer.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type indexDirectoryRequest struct {
	Directory string `json:"directory" binding:"required"`
	Pattern   string `json:"pattern"`
}

// IndexDirectory indexes every matching file under a directory on the
// server's filesystem.
func (h *KnowledgeHandler) IndexDirectory(c *gin.Context) {
	var req indexDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	report, err := h.indexer.IndexDirectory(c.Request.Context(), req.Directory, req.Pattern)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Reindex drops the collection and rebuilds it from a directory.
func (h *KnowledgeHandler) Reindex(c *gin.Context) {
	var req indexDirectoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	report, err := h.indexer.ReindexAll(c.Request.Context(), req.Directory)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// DeleteDocument removes one source from the vector store and, when
// archiving is on, its archived original from MinIO.
func (h *KnowledgeHandler) DeleteDocument(c *gin.Context) {
	source := strings.TrimPrefix(c.Param("source"), "/")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing source"})
		return
	}

	deleted, err := h.indexer.DeleteDocument(c.Request.Context(), source)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.archiving {
		key := h.archiveKeyFor(source)
		if err := storage.RemoveDocument(c.Request.Context(), h.minioCfg.BucketName, key); err != nil {
			// The chunks are already gone; an orphaned archive object is
			// not worth failing the request over.
			log.Warnf("[KnowledgeHandler] failed to remove archive %s: %v", key, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"source": source, "deleted_chunks": deleted})
}

// archiveKeyFor resolves the archive object key for a source, preferring
// the key recorded in the registry over the conventional one.
func (h *KnowledgeHandler) archiveKeyFor(source string) string {
	if doc, err := h.indexer.GetDocument(source); err == nil && doc != nil && doc.ArchiveKey != "" {
		return doc.ArchiveKey
	}
	return storage.ArchiveKey(source)
}

// DocumentLink returns a time-limited download URL for the archived
// original of one source document.
func (h *KnowledgeHandler) DocumentLink(c *gin.Context) {
	source := strings.TrimPrefix(c.Param("source"), "/")
	if source == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing source"})
		return
	}

	expiry := 15 * time.Minute
	url, err := storage.GetPresignedURL(h.minioCfg.BucketName, h.archiveKeyFor(source), expiry)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"source":     source,
		"url":        url,
		"expires_in": int(expiry.Seconds()),
	})
}

// Upload archives an uploaded document and queues it for indexing.
// With queueing disabled the document is indexed synchronously; only
// plain-text formats are accepted in that mode.
func (h *KnowledgeHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file: " + err.Error()})
		return
	}

	category := c.PostForm("category")
	title := c.PostForm("title")
	source := c.PostForm("source")
	if source == "" {
		source = fileHeader.Filename
		if category != "" {
			source = category + "/" + fileHeader.Filename
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "uploaded file is empty"})
		return
	}

	ctx := c.Request.Context()
	archiveKey, err := storage.ArchiveDocument(ctx, h.minioCfg.BucketName, source,
		fileHeader.Header.Get("Content-Type"), data)
	if err != nil {
		log.Errorf("[KnowledgeHandler] archive failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.queueing {
		task := tasks.DocumentIndexTask{
			Source:     source,
			FileName:   fileHeader.Filename,
			ArchiveKey: archiveKey,
			Category:   category,
			Title:      title,
		}
		if err := kafka.ProduceIndexTask(task); err != nil {
			log.Errorf("[KnowledgeHandler] enqueue failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue indexing task"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"source": source, "archive_key": archiveKey, "status": "queued"})
		return
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext != ".md" && ext != ".markdown" && ext != ".txt" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only markdown and plain text uploads are supported without the indexing queue"})
		return
	}
	chunks, err := h.indexer.IndexDocument(ctx, string(data), source, category, title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": source, "archive_key": archiveKey, "chunks": chunks, "status": "indexed"})
}
