package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/booking"
	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/internal/metrics"
	"github.com/docuchat/backend/pkg/logger"
)

const groundingInstruction = `You are a helpful assistant answering questions about the provided documents.
Answer using ONLY the numbered context passages below. If the context does not
contain the answer, say so plainly instead of guessing. Keep answers concise.`

const (
	defaultTopK          = 4
	defaultHistoryWindow = 20
)

// TurnResult is the outcome of one chat turn.
type TurnResult struct {
	SessionID string                   `json:"session_id"`
	TurnID    string                   `json:"turn_id"`
	Answer    string                   `json:"answer"`
	Sources   []domain.RetrievalResult `json:"sources,omitempty"`
	Booking   *domain.BookingRecord    `json:"booking,omitempty"`
	LatencyMS int64                    `json:"latency_ms"`
}

// Orchestrator drives a chat turn end to end: history load, booking intent
// check, retrieval, generation and persistence of both sides of the exchange.
type Orchestrator struct {
	embedder  domain.Embedder
	index     domain.VectorIndex
	memory    domain.MemoryStore
	generator domain.Generator
	extractor *booking.Extractor
	bookings  domain.BookingStore
	turnLog   domain.TurnLogger

	topK          int
	historyWindow int
}

type Option func(*Orchestrator)

func WithTopK(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.topK = k
		}
	}
}

func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyWindow = n
		}
	}
}

// WithTurnLogger attaches a best-effort audit log for finished turns.
func WithTurnLogger(tl domain.TurnLogger) Option {
	return func(o *Orchestrator) {
		o.turnLog = tl
	}
}

func NewOrchestrator(
	embedder domain.Embedder,
	index domain.VectorIndex,
	memory domain.MemoryStore,
	generator domain.Generator,
	extractor *booking.Extractor,
	bookings domain.BookingStore,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		embedder:      embedder,
		index:         index,
		memory:        memory,
		generator:     generator,
		extractor:     extractor,
		bookings:      bookings,
		topK:          defaultTopK,
		historyWindow: defaultHistoryWindow,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Answer runs one turn. A grounded answer requires retrieval to succeed: if
// embedding or search fails the turn fails, it never degrades into an
// unanchored reply. Turns are persisted only after generation succeeds, user
// turn first. Concurrent calls for the same session are not serialized; their
// turns land in history in completion order.
func (o *Orchestrator) Answer(ctx context.Context, sessionID, query string) (TurnResult, error) {
	start := time.Now()
	res := TurnResult{SessionID: sessionID, TurnID: uuid.New().String()}

	query = strings.TrimSpace(query)
	if sessionID == "" || query == "" {
		metrics.TurnsTotal.WithLabelValues("invalid").Inc()
		return res, fmt.Errorf("session id and query must not be empty")
	}

	history, err := o.memory.ReadWindow(ctx, sessionID, o.historyWindow)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to load history: %w", err)
	}

	if booking.IsBookingIntent(query) {
		return o.bookingTurn(ctx, start, res, query)
	}

	vector, err := o.embedder.Embed(ctx, query)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := o.index.Search(ctx, vector, o.topK)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to search index: %w", err)
	}
	metrics.RetrievalResults.Observe(float64(len(hits)))

	answer, err := o.generator.Generate(ctx, groundingInstruction, buildPrompt(hits, history, query))
	if err != nil {
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to generate answer: %w", err)
	}

	o.persistTurns(ctx, sessionID, query, answer)

	res.Answer = answer
	res.Sources = hits
	res.LatencyMS = time.Since(start).Milliseconds()

	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())

	logger.Info("Chat turn completed",
		zap.String("session_id", sessionID),
		zap.String("turn_id", res.TurnID),
		zap.Int("sources", len(hits)),
		zap.Int64("latency_ms", res.LatencyMS),
	)

	return res, nil
}

// bookingTurn short-circuits retrieval: booking queries never hit the index.
// An incomplete extraction is a normal outcome, answered with a request for
// the missing details.
func (o *Orchestrator) bookingTurn(ctx context.Context, start time.Time, res TurnResult, query string) (TurnResult, error) {
	rec, err := o.extractor.Extract(ctx, query)
	if err != nil {
		metrics.BookingExtractions.WithLabelValues("none", "incomplete").Inc()

		res.Answer = "To book an interview I need your full name, email, a date and a time. " +
			"Could you provide the missing details?"
		o.persistTurns(ctx, res.SessionID, query, res.Answer)
		res.LatencyMS = time.Since(start).Milliseconds()
		metrics.TurnsTotal.WithLabelValues("ok").Inc()
		return res, nil
	}

	id, err := o.bookings.SaveBooking(ctx, rec)
	if err != nil {
		metrics.BookingExtractions.WithLabelValues(string(rec.Source), "save_failed").Inc()
		metrics.TurnsTotal.WithLabelValues("error").Inc()
		return res, fmt.Errorf("failed to save booking: %w", err)
	}
	metrics.BookingExtractions.WithLabelValues(string(rec.Source), "ok").Inc()

	res.Answer = fmt.Sprintf("Interview booked for %s on %s at %s. A confirmation will be sent to %s.",
		rec.Name, rec.Date, rec.Time, rec.Email)
	res.Booking = &rec
	o.persistTurns(ctx, res.SessionID, query, res.Answer)
	res.LatencyMS = time.Since(start).Milliseconds()

	metrics.TurnsTotal.WithLabelValues("ok").Inc()
	metrics.TurnDuration.Observe(time.Since(start).Seconds())

	logger.Info("Booking turn completed",
		zap.String("session_id", res.SessionID),
		zap.Int64("booking_id", id),
		zap.String("source", string(rec.Source)),
	)

	return res, nil
}

// persistTurns appends both sides of the exchange, user first so history
// replays in utterance order. The answer was already produced; memory
// failures are logged, not surfaced.
func (o *Orchestrator) persistTurns(ctx context.Context, sessionID, query, answer string) {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	now := time.Now().UTC()
	turns := []domain.ConversationTurn{
		{Role: domain.RoleUser, Text: query, Timestamp: now},
		{Role: domain.RoleAssistant, Text: answer, Timestamp: now},
	}
	for _, turn := range turns {
		if err := o.memory.Append(ctx, sessionID, turn); err != nil {
			logger.Warn("Failed to persist turn",
				zap.String("session_id", sessionID),
				zap.String("role", turn.Role),
				zap.Error(err),
			)
		}
		if o.turnLog != nil {
			if err := o.turnLog.LogTurn(ctx, sessionID, turn.Role, turn.Text); err != nil {
				logger.Warn("Failed to write chat log",
					zap.String("session_id", sessionID),
					zap.Error(err),
				)
			}
		}
	}
}

// buildPrompt assembles the user prompt: numbered context passages in score
// order, the recent conversation, then the current query.
func buildPrompt(hits []domain.RetrievalResult, history []domain.ConversationTurn, query string) string {
	var b strings.Builder

	if len(hits) == 0 {
		b.WriteString("Context: no relevant passages were found.\n")
	} else {
		b.WriteString("Context:\n")
		for i, hit := range hits {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, hit.Text)
		}
	}

	if len(history) > 0 {
		b.WriteString("\nConversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Text)
		}
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(query)

	return b.String()
}
