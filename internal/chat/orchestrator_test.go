package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuchat/backend/internal/booking"
	"github.com/docuchat/backend/internal/domain"
)

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1}
	}
	return out, nil
}

type fakeIndex struct {
	hits  []domain.RetrievalResult
	err   error
	calls int
}

func (f *fakeIndex) Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error { return nil }

func (f *fakeIndex) Search(ctx context.Context, vector []float32, topK int) ([]domain.RetrievalResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeMemory struct {
	mu        sync.Mutex
	sessions  map[string][]domain.ConversationTurn
	appendErr error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{sessions: make(map[string][]domain.ConversationTurn)}
}

func (f *fakeMemory) Append(ctx context.Context, sessionID string, turn domain.ConversationTurn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.sessions[sessionID] = append(f.sessions[sessionID], turn)
	return nil
}

func (f *fakeMemory) ReadWindow(ctx context.Context, sessionID string, maxTurns int) ([]domain.ConversationTurn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	turns := f.sessions[sessionID]
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	out := make([]domain.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

func (f *fakeMemory) turns(sessionID string) []domain.ConversationTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ConversationTurn, len(f.sessions[sessionID]))
	copy(out, f.sessions[sessionID])
	return out
}

type fakeGenerator struct {
	answer     string
	err        error
	lastSystem string
	lastUser   string
	calls      int
}

func (f *fakeGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakeBookingStore struct {
	saved []domain.BookingRecord
	err   error
}

func (f *fakeBookingStore) SaveBooking(ctx context.Context, rec domain.BookingRecord) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.saved = append(f.saved, rec)
	return int64(len(f.saved)), nil
}

func newTestOrchestrator(emb *fakeEmbedder, idx *fakeIndex, mem *fakeMemory, gen *fakeGenerator, store *fakeBookingStore) *Orchestrator {
	return NewOrchestrator(emb, idx, mem, gen, booking.NewExtractor(gen), store)
}

func TestAnswerHappyPath(t *testing.T) {
	mem := newFakeMemory()
	gen := &fakeGenerator{answer: "The refund window is 30 days."}
	idx := &fakeIndex{hits: []domain.RetrievalResult{
		{ChunkID: "d1_chunk_0", Text: "Refunds are accepted within 30 days.", Source: "d1", Score: 0.92},
		{ChunkID: "d1_chunk_3", Text: "Contact support to start a refund.", Source: "d1", Score: 0.81},
	}}
	o := newTestOrchestrator(&fakeEmbedder{}, idx, mem, gen, &fakeBookingStore{})

	res, err := o.Answer(context.Background(), "s1", "what is the refund policy?")
	require.NoError(t, err)

	assert.Equal(t, "The refund window is 30 days.", res.Answer)
	assert.Len(t, res.Sources, 2)
	assert.NotEmpty(t, res.TurnID)
	assert.Nil(t, res.Booking)

	turns := mem.turns("s1")
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleUser, turns[0].Role)
	assert.Equal(t, "what is the refund policy?", turns[0].Text)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
	assert.Equal(t, res.Answer, turns[1].Text)
}

func TestAnswerPromptContract(t *testing.T) {
	mem := newFakeMemory()
	require.NoError(t, mem.Append(context.Background(), "s1",
		domain.ConversationTurn{Role: domain.RoleUser, Text: "earlier question"}))
	require.NoError(t, mem.Append(context.Background(), "s1",
		domain.ConversationTurn{Role: domain.RoleAssistant, Text: "earlier answer"}))

	gen := &fakeGenerator{answer: "ok"}
	idx := &fakeIndex{hits: []domain.RetrievalResult{
		{ChunkID: "c1", Text: "first passage", Score: 0.9},
		{ChunkID: "c2", Text: "second passage", Score: 0.7},
	}}
	o := newTestOrchestrator(&fakeEmbedder{}, idx, mem, gen, &fakeBookingStore{})

	_, err := o.Answer(context.Background(), "s1", "follow-up question")
	require.NoError(t, err)

	assert.Contains(t, gen.lastSystem, "ONLY the numbered context passages")

	prompt := gen.lastUser
	assert.Contains(t, prompt, "[1] first passage")
	assert.Contains(t, prompt, "[2] second passage")
	assert.Less(t, strings.Index(prompt, "first passage"), strings.Index(prompt, "second passage"))
	assert.Contains(t, prompt, "user: earlier question")
	assert.Contains(t, prompt, "assistant: earlier answer")
	assert.Contains(t, prompt, "Question: follow-up question")
}

func TestAnswerEmbeddingFailureAborts(t *testing.T) {
	mem := newFakeMemory()
	gen := &fakeGenerator{answer: "should not be produced"}
	idx := &fakeIndex{}
	emb := &fakeEmbedder{err: fmt.Errorf("%w: offline", domain.ErrEmbeddingUnavailable)}
	o := newTestOrchestrator(emb, idx, mem, gen, &fakeBookingStore{})

	_, err := o.Answer(context.Background(), "s1", "any question")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)

	assert.Zero(t, idx.calls)
	assert.Zero(t, gen.calls)
	assert.Empty(t, mem.turns("s1"))
}

func TestAnswerGenerationFailurePersistsNothing(t *testing.T) {
	mem := newFakeMemory()
	gen := &fakeGenerator{err: fmt.Errorf("%w: timeout", domain.ErrLLMUnavailable)}
	idx := &fakeIndex{hits: []domain.RetrievalResult{{ChunkID: "c1", Text: "passage"}}}
	o := newTestOrchestrator(&fakeEmbedder{}, idx, mem, gen, &fakeBookingStore{})

	_, err := o.Answer(context.Background(), "s1", "any question")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
	assert.Empty(t, mem.turns("s1"))
}

func TestBookingShortCircuit(t *testing.T) {
	mem := newFakeMemory()
	// Generator down: extraction must still succeed via the regex parser.
	gen := &fakeGenerator{err: errors.New("llm offline")}
	idx := &fakeIndex{}
	emb := &fakeEmbedder{}
	store := &fakeBookingStore{}
	o := newTestOrchestrator(emb, idx, mem, gen, store)

	res, err := o.Answer(context.Background(), "s1",
		"book interview, name: Jane Doe, email jane@x.com, date 2025-12-01, time 15:00")
	require.NoError(t, err)

	require.NotNil(t, res.Booking)
	assert.Equal(t, domain.ExtractionRegex, res.Booking.Source)
	assert.Contains(t, res.Answer, "Jane Doe")
	assert.Contains(t, res.Answer, "2025-12-01")
	assert.Contains(t, res.Answer, "15:00")

	require.Len(t, store.saved, 1)
	assert.Equal(t, "jane@x.com", store.saved[0].Email)

	// Retrieval is skipped entirely on the booking path.
	assert.Zero(t, emb.calls)
	assert.Zero(t, idx.calls)

	turns := mem.turns("s1")
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleAssistant, turns[1].Role)
}

func TestBookingIncompleteAsksForDetails(t *testing.T) {
	mem := newFakeMemory()
	gen := &fakeGenerator{err: errors.New("llm offline")}
	store := &fakeBookingStore{}
	o := newTestOrchestrator(&fakeEmbedder{}, &fakeIndex{}, mem, gen, store)

	res, err := o.Answer(context.Background(), "s1", "book an interview on 2025-12-01")
	require.NoError(t, err)

	assert.Nil(t, res.Booking)
	assert.Contains(t, res.Answer, "missing details")
	assert.Empty(t, store.saved)

	// The clarifying exchange still lands in history.
	assert.Len(t, mem.turns("s1"), 2)
}

func TestBookingSaveFailureSurfaces(t *testing.T) {
	mem := newFakeMemory()
	gen := &fakeGenerator{err: errors.New("llm offline")}
	store := &fakeBookingStore{err: fmt.Errorf("%w: disk", domain.ErrPersistenceUnavailable)}
	o := newTestOrchestrator(&fakeEmbedder{}, &fakeIndex{}, mem, gen, store)

	_, err := o.Answer(context.Background(), "s1",
		"book interview, name: Jane Doe, email jane@x.com, date 2025-12-01, time 15:00")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistenceUnavailable)
	assert.Empty(t, mem.turns("s1"))
}

func TestAnswerRejectsEmptyInput(t *testing.T) {
	o := newTestOrchestrator(&fakeEmbedder{}, &fakeIndex{}, newFakeMemory(), &fakeGenerator{}, &fakeBookingStore{})

	_, err := o.Answer(context.Background(), "", "question")
	assert.Error(t, err)

	_, err = o.Answer(context.Background(), "s1", "   ")
	assert.Error(t, err)
}

func TestConcurrentSessionsStayIsolated(t *testing.T) {
	mem := newFakeMemory()
	gen := &fakeGenerator{answer: "answer"}
	idx := &fakeIndex{hits: []domain.RetrievalResult{{ChunkID: "c", Text: "passage"}}}
	o := newTestOrchestrator(&fakeEmbedder{}, idx, mem, gen, &fakeBookingStore{})

	const sessions = 8
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := fmt.Sprintf("s%d", i)
			_, err := o.Answer(context.Background(), sid, fmt.Sprintf("question %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		sid := fmt.Sprintf("s%d", i)
		turns := mem.turns(sid)
		require.Len(t, turns, 2, sid)
		assert.Equal(t, fmt.Sprintf("question %d", i), turns[0].Text)
	}
}
