package domain

import (
	"context"
	"errors"
	"time"
)

// Document is the unit of ingestion. It exists only until it has been
// chunked; downstream components work with chunks exclusively.
type Document struct {
	ID       string
	Filename string
	Title    string
	Text     string
}

// Chunk is a bounded contiguous span of a document's text, the unit of
// retrieval. CharStart/CharEnd are offsets into the normalized source text
// measured before any overlap duplication.
type Chunk struct {
	ID         string
	DocumentID string
	Text       string
	Ordinal    int
	CharStart  int
	CharEnd    int
	Strategy   string
}

// EmbeddedChunk pairs a chunk with its vector. Transient: it lives only
// between the embedder's output and the vector index's input.
type EmbeddedChunk struct {
	Chunk
	Vector []float32
}

// RetrievalResult is one hit of a top-k similarity search, score descending.
type RetrievalResult struct {
	ChunkID string
	Text    string
	Source  string
	Score   float32
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one message in a session. Turns are appended, never
// mutated.
type ConversationTurn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
}

type ExtractionSource string

const (
	ExtractionLLM   ExtractionSource = "llm"
	ExtractionRegex ExtractionSource = "regex"
)

// BookingRecord holds a fully validated interview booking. All four fields
// are present and well-formed or the record does not exist; extraction fails
// as a unit, never partially.
type BookingRecord struct {
	Name     string
	Email    string
	Date     string // ISO calendar date, YYYY-MM-DD
	Time     string // 24h clock, HH:MM
	Source   ExtractionSource
	RawQuery string
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is the call boundary to the generative model.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// VectorIndex stores embedded chunks and answers top-k similarity searches.
type VectorIndex interface {
	Upsert(ctx context.Context, chunks []EmbeddedChunk) error
	Search(ctx context.Context, vector []float32, topK int) ([]RetrievalResult, error)
}

// MemoryStore keeps the ordered conversation history per session. The store
// is append-only; windowing is the reader's concern. An unknown session id
// yields an empty history, not an error.
type MemoryStore interface {
	Append(ctx context.Context, sessionID string, turn ConversationTurn) error
	ReadWindow(ctx context.Context, sessionID string, maxTurns int) ([]ConversationTurn, error)
}

// BookingStore persists validated booking records.
type BookingStore interface {
	SaveBooking(ctx context.Context, rec BookingRecord) (int64, error)
}

// TurnLogger records finished turns for traceability. Best effort: callers
// log failures and move on.
type TurnLogger interface {
	LogTurn(ctx context.Context, sessionID, role, text string) error
}

var (
	ErrInvalidConfig          = errors.New("invalid chunking config")
	ErrEmbeddingUnavailable   = errors.New("embedding service unavailable")
	ErrIndexUnavailable       = errors.New("vector index unavailable")
	ErrMemoryUnavailable      = errors.New("session memory unavailable")
	ErrLLMUnavailable         = errors.New("llm unavailable")
	ErrLLMMalformed           = errors.New("llm returned malformed response")
	ErrExtractionIncomplete   = errors.New("booking extraction incomplete")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

// Upstream reports whether err is an external-collaborator failure that the
// caller should surface as a temporary outage.
func Upstream(err error) bool {
	return errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrIndexUnavailable) ||
		errors.Is(err, ErrMemoryUnavailable) ||
		errors.Is(err, ErrLLMUnavailable) ||
		errors.Is(err, ErrPersistenceUnavailable)
}
