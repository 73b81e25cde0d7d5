package models

import (
	"path/filepath"
	"strings"
	"time"
)

// DocumentType is stored with every record created through an upload.
const DocumentType = "uploaded_document"

type MediaType string

const (
	MediaPDF      MediaType = "pdf"
	MediaDOCX     MediaType = "docx"
	MediaText     MediaType = "txt"
	MediaMarkdown MediaType = "markdown"
)

// MediaTypeFromFilename maps a file extension to a supported media type.
func MediaTypeFromFilename(name string) (MediaType, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return MediaPDF, true
	case ".docx":
		return MediaDOCX, true
	case ".txt":
		return MediaText, true
	case ".md", ".markdown":
		return MediaMarkdown, true
	}
	return "", false
}

type Document struct {
	ID        string
	TenantID  string
	Filename  string
	MediaType MediaType
	Size      int64
	Content   string
}

type Chunk struct {
	ID          string
	DocumentID  string
	Index       int
	TotalChunks int
	Text        string
	Length      int
}

// VectorRecord is a chunk plus its embedding as owned by a store.
type VectorRecord struct {
	ID           string
	DocumentID   string
	Index        int
	TotalChunks  int
	Text         string
	Vector       []float32
	Source       string
	TenantID     string
	DocumentType string
	CreatedAt    time.Time
}

func NewVectorRecord(doc Document, chunk Chunk, vector []float32) VectorRecord {
	return VectorRecord{
		ID:           chunk.ID,
		DocumentID:   doc.ID,
		Index:        chunk.Index,
		TotalChunks:  chunk.TotalChunks,
		Text:         chunk.Text,
		Vector:       vector,
		Source:       doc.Filename,
		TenantID:     doc.TenantID,
		DocumentType: DocumentType,
		CreatedAt:    time.Now().UTC(),
	}
}

type SearchHit struct {
	Record VectorRecord
	Score  float64
}

type DocumentSummary struct {
	Name   string `json:"name"`
	Chunks int    `json:"chunks"`
	Type   string `json:"type"`
}

const (
	StoreStatusExists = "exists"
	StoreStatusEmpty  = "empty"
)

type StoreInfo struct {
	TotalDocuments int               `json:"total_documents"`
	TotalChunks    int               `json:"total_chunks"`
	Documents      []DocumentSummary `json:"documents"`
	Status         string            `json:"status"`
}
