// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIndexTask represents a knowledge base indexing job. The raw
// document is archived in object storage under ArchiveKey; the consumer
// downloads it, extracts text and feeds it through the indexing pipeline.
type DocumentIndexTask struct {
	Source     string `json:"source"`
	FileName   string `json:"file_name"`
	ArchiveKey string `json:"archive_key"`
	Category   string `json:"category"`
	Title      string `json:"title"`
}
