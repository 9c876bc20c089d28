package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })

	return c
}

func TestSaveAndListBookings(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	id, err := c.SaveBooking(ctx, domain.BookingRecord{
		Name:     "Jane Doe",
		Email:    "jane@x.com",
		Date:     "2025-12-01",
		Time:     "15:00",
		Source:   domain.ExtractionRegex,
		RawQuery: "book interview, name: Jane Doe, email jane@x.com, date 2025-12-01, time 15:00",
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = c.SaveBooking(ctx, domain.BookingRecord{
		Name:   "John Smith",
		Email:  "john@x.com",
		Date:   "2026-01-15",
		Time:   "09:30",
		Source: domain.ExtractionLLM,
	})
	require.NoError(t, err)

	bookings, err := c.ListBookings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, bookings, 2)

	emails := []string{bookings[0].Email, bookings[1].Email}
	assert.Contains(t, emails, "jane@x.com")
	assert.Contains(t, emails, "john@x.com")
}

func TestListBookingsRespectsLimit(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.SaveBooking(ctx, domain.BookingRecord{
			Name:   "Jane Doe",
			Email:  "jane@x.com",
			Date:   "2025-12-01",
			Time:   "15:00",
			Source: domain.ExtractionRegex,
		})
		require.NoError(t, err)
	}

	bookings, err := c.ListBookings(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, bookings, 3)
}

func TestDocumentAndChunkRoundTrip(t *testing.T) {
	c := newTestClient(t)

	doc := &models.Document{
		ID:             "doc-1",
		Filename:       "policy.html",
		Title:          "Refund Policy",
		ChunkStrategy:  "recursive",
		EmbeddingModel: "test-model",
		ChunkCount:     2,
	}
	require.NoError(t, c.InsertDocument(doc))

	// Re-inserting the same id updates in place rather than failing.
	doc.Title = "Refund Policy v2"
	require.NoError(t, c.InsertDocument(doc))

	for i := 0; i < 2; i++ {
		require.NoError(t, c.InsertChunk(&models.DocumentChunk{
			ID:         "doc-1_chunk_" + string(rune('0'+i)),
			DocID:      "doc-1",
			ChunkIndex: i,
			Text:       "chunk text",
		}))
	}
}

func TestChatLogRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.LogTurn(ctx, "s1", domain.RoleUser, "question"))
	require.NoError(t, c.LogTurn(ctx, "s1", domain.RoleAssistant, "answer"))
	require.NoError(t, c.LogTurn(ctx, "s2", domain.RoleUser, "other session"))

	entries, err := c.GetChatLog(ctx, "s1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "s1", e.SessionID)
	}
}
