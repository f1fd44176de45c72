package model

import (
	"time"

	"github.com/google/uuid"
)

// OpportunityDocument is one file attached to an opportunity.
type OpportunityDocument struct {
	ID            uuid.UUID      `json:"id"`
	OpportunityID uuid.UUID      `json:"opportunity_id"`
	OriginalURL   string         `json:"original_url"`
	StorageKey    string         `json:"storage_key"`
	FileName      string         `json:"file_name"`
	DocType       string         `json:"doc_type"`
	FileHash      string         `json:"file_hash"`
	FileSize      int64          `json:"file_size"`
	MimeType      string         `json:"mime_type"`
	Status        DocumentStatus `json:"status"`
	ExtractedText string         `json:"-"`
	PageCount     int            `json:"page_count"`
	OCRUsed       bool           `json:"ocr_used"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// DocumentSource is the document with the opportunity fields the pipeline
// needs to build a storage key.
type DocumentSource struct {
	OpportunityDocument
	Source Source
}

// DocumentChunk is one token window of a document's text. HasEmbedding is
// false until the embedding stage writes its vector.
type DocumentChunk struct {
	ID           uuid.UUID `json:"id"`
	DocumentID   uuid.UUID `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	TokenCount   int       `json:"token_count"`
	PageNumber   int       `json:"page_number"`
	HasEmbedding bool      `json:"has_embedding"`
	CreatedAt    time.Time `json:"created_at"`
}

// ScoredChunk is a retrieval hit.
type ScoredChunk struct {
	ChunkID       uuid.UUID `json:"chunk_id"`
	DocumentID    uuid.UUID `json:"document_id"`
	OpportunityID uuid.UUID `json:"opportunity_id"`
	FileName      string    `json:"file_name"`
	ChunkIndex    int       `json:"chunk_index"`
	PageNumber    int       `json:"page_number"`
	Content       string    `json:"content"`
	Distance      float64   `json:"distance"`
}
