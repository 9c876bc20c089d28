package models

import "time"

type Document struct {
	ID             string
	Filename       string
	Title          string
	ChunkStrategy  string
	EmbeddingModel string
	ChunkCount     int
	UploadedAt     time.Time
}

type DocumentChunk struct {
	ID         string
	DocID      string
	ChunkIndex int
	Text       string
	CharStart  int
	CharEnd    int
	CreatedAt  time.Time
}

type Booking struct {
	ID        int64
	Name      string
	Email     string
	Date      string
	Time      string
	Source    string
	RawQuery  string
	CreatedAt time.Time
}

type ChatLogEntry struct {
	ID        int64
	SessionID string
	Role      string
	Text      string
	CreatedAt time.Time
}
