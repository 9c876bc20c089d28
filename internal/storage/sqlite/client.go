package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/internal/storage/models"
	"github.com/docuchat/backend/pkg/logger"
)

// Client is the relational store for ingested documents, their chunks,
// extracted bookings and the chat audit log. It implements
// domain.BookingStore and domain.TurnLogger.
type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err = db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err = db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		title TEXT,
		chunk_strategy TEXT NOT NULL,
		embedding_model TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		uploaded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_filename ON documents(filename);
	CREATE INDEX IF NOT EXISTS idx_documents_uploaded ON documents(uploaded_at);

	CREATE TABLE IF NOT EXISTS document_chunks (
		id TEXT PRIMARY KEY,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL,
		char_start INTEGER NOT NULL,
		char_end INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc ON document_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		source TEXT NOT NULL,
		raw_query TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bookings_created ON bookings(created_at);

	CREATE TABLE IF NOT EXISTS chat_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_session ON chat_log(session_id);
	CREATE INDEX IF NOT EXISTS idx_chat_created ON chat_log(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	query := `
		INSERT INTO documents (id, filename, title, chunk_strategy, embedding_model, chunk_count, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			chunk_strategy = excluded.chunk_strategy,
			embedding_model = excluded.embedding_model,
			chunk_count = excluded.chunk_count,
			uploaded_at = excluded.uploaded_at
	`

	_, err := c.db.Exec(
		query,
		doc.ID,
		doc.Filename,
		doc.Title,
		doc.ChunkStrategy,
		doc.EmbeddingModel,
		doc.ChunkCount,
		doc.UploadedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("filename", doc.Filename))
	return nil
}

func (c *Client) InsertChunk(chunk *models.DocumentChunk) error {
	query := `
		INSERT INTO document_chunks (id, doc_id, chunk_index, text, char_start, char_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		chunk.ID,
		chunk.DocID,
		chunk.ChunkIndex,
		chunk.Text,
		chunk.CharStart,
		chunk.CharEnd,
		chunk.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	return nil
}

func (c *Client) SaveBooking(ctx context.Context, rec domain.BookingRecord) (int64, error) {
	query := `
		INSERT INTO bookings (name, email, date, time, source, raw_query, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := c.db.ExecContext(
		ctx,
		query,
		rec.Name,
		rec.Email,
		rec.Date,
		rec.Time,
		string(rec.Source),
		rec.RawQuery,
		time.Now().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert booking: %v", domain.ErrPersistenceUnavailable, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: booking id: %v", domain.ErrPersistenceUnavailable, err)
	}

	logger.Info("Booking saved",
		zap.Int64("booking_id", id),
		zap.String("email", rec.Email),
		zap.String("source", string(rec.Source)),
	)

	return id, nil
}

func (c *Client) ListBookings(ctx context.Context, limit int) ([]models.Booking, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, name, email, date, time, source, raw_query, created_at
		FROM bookings
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list bookings: %v", domain.ErrPersistenceUnavailable, err)
	}
	defer rows.Close()

	var bookings []models.Booking
	for rows.Next() {
		var b models.Booking
		var createdAt int64

		if err := rows.Scan(&b.ID, &b.Name, &b.Email, &b.Date, &b.Time, &b.Source, &b.RawQuery, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		b.CreatedAt = time.Unix(createdAt, 0)
		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

func (c *Client) LogTurn(ctx context.Context, sessionID, role, text string) error {
	query := `INSERT INTO chat_log (session_id, role, text, created_at) VALUES (?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query, sessionID, role, text, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to log turn: %w", err)
	}

	return nil
}

func (c *Client) GetChatLog(ctx context.Context, sessionID string, limit int) ([]models.ChatLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, session_id, role, text, created_at
		FROM chat_log
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat log: %w", err)
	}
	defer rows.Close()

	var entries []models.ChatLogEntry
	for rows.Next() {
		var e models.ChatLogEntry
		var createdAt int64

		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
