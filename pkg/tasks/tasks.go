// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// IngestTask asks a worker to index a document already saved to object storage.
type IngestTask struct {
	DocumentID uint   `json:"document_id"`
	FileMD5    string `json:"file_md5"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
	UserID     string `json:"user_id"`
}
