// Package repository defines domain models and data access interfaces for
// ingested documents and their chunks.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ChunkerConfig holds chunking configuration
type ChunkerConfig struct {
	Method     string `json:"method"`      // semantic, fixed, sentence
	TargetSize int    `json:"target_size"` // target tokens per chunk
	MaxSize    int    `json:"max_size"`    // max tokens per chunk
	Overlap    int    `json:"overlap"`     // overlap tokens
}

// Document represents an ingested document
type Document struct {
	ID           uuid.UUID
	Source       string
	Title        string
	ContentHash  string
	ChunkCount   int
	Status       string
	ErrorMessage string
	Metadata     map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DocumentChunk represents a chunk of a document
type DocumentChunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	ChunkIndex int
	Content    string
	Metadata   map[string]string
	CreatedAt  time.Time
}

// DocumentRepository defines operations for document persistence
type DocumentRepository interface {
	Create(ctx context.Context, doc *Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
	GetByHash(ctx context.Context, hash string) (*Document, error)
	List(ctx context.Context, status string, limit, offset int) ([]*Document, int, error)
	Update(ctx context.Context, doc *Document) error
	Delete(ctx context.Context, id uuid.UUID) error

	// Chunk operations
	CreateChunks(ctx context.Context, chunks []*DocumentChunk) error
	GetChunks(ctx context.Context, documentID uuid.UUID, limit, offset int) ([]*DocumentChunk, error)
	DeleteChunks(ctx context.Context, documentID uuid.UUID) error
}
