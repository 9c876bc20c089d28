package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/chunker"
	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/internal/metrics"
	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/internal/storage/sqlite"
	"github.com/docuchat/backend/pkg/logger"
)

// Upload is one document submitted for ingestion. Strategy and the chunking
// config are optional; empty values fall back to the processor's defaults.
type Upload struct {
	Filename    string
	Title       string
	Content     string
	ContentType string
	Strategy    string
}

// Result summarizes a completed ingestion.
type Result struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	ChunkCount int    `json:"chunk_count"`
}

// Processor runs the ingestion pipeline: clean, chunk, embed, index, record.
type Processor struct {
	db       *sqlite.Client
	index    domain.VectorIndex
	embedder domain.Embedder

	strategy       string
	cfg            chunker.Config
	embeddingModel string
}

func NewProcessor(db *sqlite.Client, index domain.VectorIndex, embedder domain.Embedder, strategy string, cfg chunker.Config, embeddingModel string) *Processor {
	if strategy == "" {
		strategy = chunker.StrategyRecursive
	}
	if cfg.Size <= 0 {
		cfg = chunker.DefaultConfig(strategy)
	}
	return &Processor{
		db:             db,
		index:          index,
		embedder:       embedder,
		strategy:       strategy,
		cfg:            cfg,
		embeddingModel: embeddingModel,
	}
}

// Process ingests one document. The vector index is written before the
// relational record so a failure never leaves a document listed as ingested
// without retrievable chunks.
func (p *Processor) Process(ctx context.Context, up Upload) (Result, error) {
	var res Result

	text := up.Content
	title := strings.TrimSpace(up.Title)
	if isHTML(up) {
		text = cleanHTML(up.Content)
		if title == "" {
			title = extractTitle(up.Content)
		}
	}
	if strings.TrimSpace(text) == "" {
		return res, fmt.Errorf("no content extracted from %q", up.Filename)
	}
	if title == "" {
		title = up.Filename
	}

	strategy := up.Strategy
	cfg := p.cfg
	if strategy == "" {
		strategy = p.strategy
	} else if strategy != p.strategy {
		cfg = chunker.DefaultConfig(strategy)
	}

	chunks, err := chunker.Chunk(text, strategy, cfg)
	if err != nil {
		return res, fmt.Errorf("failed to chunk document: %w", err)
	}
	if len(chunks) == 0 {
		return res, fmt.Errorf("document %q produced no chunks", up.Filename)
	}

	docID := uuid.New().String()
	texts := make([]string, len(chunks))
	for i := range chunks {
		chunks[i].ID = fmt.Sprintf("%s_chunk_%d", docID, i)
		chunks[i].DocumentID = docID
		texts[i] = chunks[i].Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return res, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return res, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(chunks))
	}

	embedded := make([]domain.EmbeddedChunk, len(chunks))
	for i := range chunks {
		embedded[i] = domain.EmbeddedChunk{Chunk: chunks[i], Vector: vectors[i]}
	}

	if err := p.index.Upsert(ctx, embedded); err != nil {
		return res, fmt.Errorf("failed to index chunks: %w", err)
	}

	doc := &models.Document{
		ID:             docID,
		Filename:       up.Filename,
		Title:          title,
		ChunkStrategy:  strategy,
		EmbeddingModel: p.embeddingModel,
		ChunkCount:     len(chunks),
		UploadedAt:     time.Now(),
	}
	if err := p.db.InsertDocument(doc); err != nil {
		return res, fmt.Errorf("failed to record document: %w", err)
	}

	now := time.Now()
	for i := range chunks {
		dbChunk := &models.DocumentChunk{
			ID:         chunks[i].ID,
			DocID:      docID,
			ChunkIndex: chunks[i].Ordinal,
			Text:       chunks[i].Text,
			CharStart:  chunks[i].CharStart,
			CharEnd:    chunks[i].CharEnd,
			CreatedAt:  now,
		}
		if err := p.db.InsertChunk(dbChunk); err != nil {
			logger.Warn("Failed to record chunk",
				zap.String("chunk_id", chunks[i].ID),
				zap.Error(err),
			)
		}
	}

	metrics.DocumentsProcessed.Inc()
	metrics.ChunksIngested.Add(float64(len(chunks)))

	logger.Info("Document ingested",
		zap.String("doc_id", docID),
		zap.String("filename", up.Filename),
		zap.String("strategy", strategy),
		zap.Int("chunks", len(chunks)),
	)

	return Result{DocumentID: docID, Title: title, ChunkCount: len(chunks)}, nil
}

func isHTML(up Upload) bool {
	if strings.Contains(strings.ToLower(up.ContentType), "html") {
		return true
	}
	name := strings.ToLower(up.Filename)
	return strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")
}

func cleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	return strings.TrimSpace(doc.Find("body").Text())
}

func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	title := doc.Find("title").First().Text()
	if title == "" {
		title = doc.Find("h1").First().Text()
	}

	return strings.TrimSpace(title)
}
