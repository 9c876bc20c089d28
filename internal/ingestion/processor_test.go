package ingestion

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docuchat/backend/internal/chunker"
	"github.com/docuchat/backend/internal/domain"
	"github.com/docuchat/backend/internal/storage/sqlite"
)

type fakeEmbedder struct {
	batches [][]string
	err     error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.5}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	batch := make([]string, len(texts))
	copy(batch, texts)
	f.batches = append(f.batches, batch)

	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i)}
	}
	return out, nil
}

type fakeIndex struct {
	upserted []domain.EmbeddedChunk
	err      error
}

func (f *fakeIndex) Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error {
	if f.err != nil {
		return f.err
	}
	f.upserted = append(f.upserted, chunks...)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vector []float32, topK int) ([]domain.RetrievalResult, error) {
	return nil, nil
}

func newTestDB(t *testing.T) *sqlite.Client {
	t.Helper()

	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	return db
}

func TestProcessPlainText(t *testing.T) {
	idx := &fakeIndex{}
	emb := &fakeEmbedder{}
	p := NewProcessor(newTestDB(t), idx, emb, chunker.StrategyRecursive, chunker.Config{Size: 120, Overlap: 20}, "test-model")

	content := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)
	res, err := p.Process(context.Background(), Upload{
		Filename: "notes.txt",
		Content:  content,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, "notes.txt", res.Title)
	assert.Greater(t, res.ChunkCount, 1)
	require.Len(t, idx.upserted, res.ChunkCount)

	for i, c := range idx.upserted {
		assert.Equal(t, res.DocumentID, c.DocumentID)
		assert.Contains(t, c.ID, res.DocumentID)
		assert.NotEmpty(t, c.Vector, i)
		assert.LessOrEqual(t, len(c.Text), 120)
	}
}

func TestProcessCleansHTML(t *testing.T) {
	idx := &fakeIndex{}
	emb := &fakeEmbedder{}
	p := NewProcessor(newTestDB(t), idx, emb, chunker.StrategyRecursive, chunker.Config{}, "test-model")

	html := `<html><head><title>Refund Policy</title><script>alert(1)</script></head>
	<body><nav>Home | About</nav><p>Refunds are accepted within 30 days of purchase.</p>
	<footer>Copyright</footer></body></html>`

	res, err := p.Process(context.Background(), Upload{
		Filename:    "policy.html",
		Content:     html,
		ContentType: "text/html",
	})
	require.NoError(t, err)

	assert.Equal(t, "Refund Policy", res.Title)
	require.NotEmpty(t, idx.upserted)

	all := ""
	for _, c := range idx.upserted {
		all += c.Text
	}
	assert.Contains(t, all, "Refunds are accepted")
	assert.NotContains(t, all, "alert(1)")
	assert.NotContains(t, all, "Home | About")
	assert.NotContains(t, all, "Copyright")
}

func TestProcessEmptyContentFails(t *testing.T) {
	p := NewProcessor(newTestDB(t), &fakeIndex{}, &fakeEmbedder{}, "", chunker.Config{}, "test-model")

	_, err := p.Process(context.Background(), Upload{Filename: "empty.txt", Content: "   "})
	assert.Error(t, err)
}

func TestProcessEmbeddingFailureLeavesIndexUntouched(t *testing.T) {
	idx := &fakeIndex{}
	emb := &fakeEmbedder{err: domain.ErrEmbeddingUnavailable}
	p := NewProcessor(newTestDB(t), idx, emb, "", chunker.Config{}, "test-model")

	_, err := p.Process(context.Background(), Upload{Filename: "a.txt", Content: "some text to ingest"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Empty(t, idx.upserted)
}

func TestProcessChunkTextsAreDeterministic(t *testing.T) {
	content := strings.Repeat("Sentence one here. Sentence two follows on. ", 15)

	run := func() []string {
		idx := &fakeIndex{}
		p := NewProcessor(newTestDB(t), idx, &fakeEmbedder{}, chunker.StrategySmall, chunker.Config{Size: 100, Overlap: 20}, "test-model")
		_, err := p.Process(context.Background(), Upload{Filename: "a.txt", Content: content})
		require.NoError(t, err)

		texts := make([]string, len(idx.upserted))
		for i, c := range idx.upserted {
			texts[i] = c.Text
		}
		return texts
	}

	assert.Equal(t, run(), run())
}

func TestProcessPerUploadStrategyOverride(t *testing.T) {
	idx := &fakeIndex{}
	p := NewProcessor(newTestDB(t), idx, &fakeEmbedder{}, chunker.StrategyRecursive, chunker.Config{}, "test-model")

	_, err := p.Process(context.Background(), Upload{
		Filename: "a.txt",
		Content:  strings.Repeat("Short sentences pack tightly. ", 30),
		Strategy: chunker.StrategySmall,
	})
	require.NoError(t, err)

	require.NotEmpty(t, idx.upserted)
	for _, c := range idx.upserted {
		assert.Equal(t, chunker.StrategySmall, c.Strategy)
		// Small profile default is 300 chars.
		assert.LessOrEqual(t, len(c.Text), 300)
	}
}
