package models

import (
	"io"
	"time"
)

// ContentTypePDF is served for every recompressed document
const ContentTypePDF = "application/pdf"

// ResultRecord indexes a published recompressed document
type ResultRecord struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`     // download name, e.g. compressed_a.pdf
	SourceName      string    `json:"source_name"`  // name inside the uploaded archive
	StorageKey      string    `json:"storage_key"`
	ContentType     string    `json:"content_type"`
	OriginalBytes   int64     `json:"original_bytes"`
	CompressedBytes int64     `json:"compressed_bytes"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at t
func (r *ResultRecord) Expired(t time.Time) bool {
	return !r.ExpiresAt.IsZero() && !t.Before(r.ExpiresAt)
}

// CallbackPayload is sent to the callback URL after a run
type CallbackPayload struct {
	ID                  string `json:"id"`
	Status              string `json:"status"`
	Timestamp           string `json:"timestamp"`
	Message             string `json:"message,omitempty"`
	DurationMs          int64  `json:"duration_ms"`
	DocumentCount       int    `json:"document_count"`
	Succeeded           int    `json:"succeeded"`
	Failed              int    `json:"failed"`
	OriginalSizeBytes   int64  `json:"original_size_bytes"`
	CompressedSizeBytes int64  `json:"compressed_size_bytes"`
}

// ByteCounter wraps an io.Writer and counts bytes written
type ByteCounter struct {
	Writer io.Writer
	Count  int64
}

func (bc *ByteCounter) Write(p []byte) (int, error) {
	n, err := bc.Writer.Write(p)
	bc.Count += int64(n)
	return n, err
}
