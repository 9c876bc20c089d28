package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdkato/prose/v2"

	"github.com/docuchat/backend/internal/domain"
)

const (
	StrategySmall     = "small"
	StrategyRecursive = "recursive"
)

// Config controls chunk sizing. Size and Overlap are measured in characters
// of the normalized text.
type Config struct {
	Size    int
	Overlap int
}

// DefaultConfig returns the stock sizing for a strategy: 300/50 for small,
// 800/100 otherwise.
func DefaultConfig(strategy string) Config {
	if strategy == StrategySmall {
		return Config{Size: 300, Overlap: 50}
	}
	return Config{Size: 800, Overlap: 100}
}

var (
	horizontalWS = regexp.MustCompile(`[ \t]+`)
	newlinePad   = regexp.MustCompile(` *\n *`)
	multiNewline = regexp.MustCompile(`\n{3,}`)

	paragraphBreak   = regexp.MustCompile(`\n{2,}`)
	sentenceBoundary = regexp.MustCompile(`([.!?]["']?)\s+|\n+`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

// Normalize collapses runs of horizontal whitespace, trims padding around
// line breaks and reduces blank-line runs to a single paragraph break.
func Normalize(text string) string {
	t := strings.ReplaceAll(text, "\r\n", "\n")
	t = strings.ReplaceAll(t, "\r", "\n")
	t = horizontalWS.ReplaceAllString(t, " ")
	t = newlinePad.ReplaceAllString(t, "\n")
	t = multiNewline.ReplaceAllString(t, "\n\n")
	return strings.TrimSpace(t)
}

// Chunk splits text into ordered chunks using the named strategy. Unknown
// strategies fall back to recursive. Empty input (after trimming) yields an
// empty sequence. Chunk texts are contiguous slices of the normalized text;
// when overlap is configured, each chunk after the first carries trailing
// content of its predecessor as a prefix, and CharStart/CharEnd mark the
// non-duplicated body.
func Chunk(text, strategy string, cfg Config) ([]domain.Chunk, error) {
	if cfg.Size <= 0 || cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", domain.ErrInvalidConfig, cfg.Size, cfg.Overlap)
	}

	norm := Normalize(text)
	if norm == "" {
		return nil, nil
	}

	if strategy == StrategySmall {
		return chunkSmall(norm, cfg), nil
	}
	return chunkRecursive(norm, cfg), nil
}

type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// chunkSmall packs whole sentences greedily until the next sentence would
// exceed the target size. A single sentence longer than the target becomes
// its own chunk, never split. Overlap repeats trailing sentences of the
// previous chunk, up to Overlap characters, as leading content.
func chunkSmall(norm string, cfg Config) []domain.Chunk {
	sentences := sentenceSpans(norm)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []domain.Chunk
	prevFirst := 0
	i := 0
	for i < len(sentences) {
		textStart := sentences[i].start
		if cfg.Overlap > 0 && i > 0 {
			k := i
			for k-1 >= prevFirst && sentences[i-1].end-sentences[k-1].start <= cfg.Overlap {
				k--
			}
			if k < i && sentences[i].end-sentences[k].start <= cfg.Size {
				textStart = sentences[k].start
			}
		}

		j := i + 1
		for j < len(sentences) && sentences[j].end-textStart <= cfg.Size {
			j++
		}

		chunks = append(chunks, domain.Chunk{
			Text:      norm[textStart:sentences[j-1].end],
			Ordinal:   len(chunks),
			CharStart: sentences[i].start,
			CharEnd:   sentences[j-1].end,
			Strategy:  StrategySmall,
		})

		prevFirst = i
		i = j
	}

	return chunks
}

// sentenceSpans segments norm into sentence spans. The prose segmenter is
// used first; if its output cannot be mapped back onto norm without losing
// characters, a punctuation-regex splitter takes over so that coverage of
// the source text is always complete.
func sentenceSpans(norm string) []span {
	if spans := proseSpans(norm); spans != nil {
		return spans
	}
	return regexSpans(norm)
}

func proseSpans(norm string) []span {
	doc, err := prose.NewDocument(norm,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil
	}

	var spans []span
	cursor := 0
	for _, sent := range doc.Sentences() {
		t := strings.TrimSpace(sent.Text)
		if t == "" {
			continue
		}
		idx := strings.Index(norm[cursor:], t)
		if idx < 0 {
			return nil
		}
		start := cursor + idx
		if strings.TrimSpace(norm[cursor:start]) != "" {
			return nil
		}
		spans = append(spans, span{start, start + len(t)})
		cursor = start + len(t)
	}
	if len(spans) == 0 || strings.TrimSpace(norm[cursor:]) != "" {
		return nil
	}
	return spans
}

func regexSpans(norm string) []span {
	var spans []span
	start := 0
	appendTrimmed := func(end int) {
		for end > start && (norm[end-1] == ' ' || norm[end-1] == '\n') {
			end--
		}
		if end > start {
			spans = append(spans, span{start, end})
		}
	}
	for _, m := range sentenceBoundary.FindAllStringSubmatchIndex(norm, -1) {
		if m[1] <= start {
			continue
		}
		end := m[0]
		if m[2] >= 0 {
			end = m[3]
		}
		appendTrimmed(end)
		start = m[1]
	}
	if start < len(norm) {
		appendTrimmed(len(norm))
	}
	return spans
}

// chunkRecursive splits on the coarsest separator first (paragraph breaks,
// then sentence boundaries, then whitespace) and re-splits any piece that
// still exceeds the target with the next separator, bottoming out at a hard
// character cut.
func chunkRecursive(norm string, cfg Config) []domain.Chunk {
	spans := splitRecursive(norm, span{0, len(norm)}, 0, cfg.Size)

	chunks := make([]domain.Chunk, 0, len(spans))
	for idx, s := range spans {
		textStart := s.start
		if cfg.Overlap > 0 && idx > 0 {
			prev := spans[idx-1]
			prefixStart := prev.end - cfg.Overlap
			if prefixStart < prev.start {
				prefixStart = prev.start
			}
			if prefixStart < s.end-cfg.Size {
				prefixStart = s.end - cfg.Size
			}
			for prefixStart < s.start && !utf8.RuneStart(norm[prefixStart]) {
				prefixStart++
			}
			if prefixStart < s.start {
				textStart = prefixStart
			}
		}
		chunks = append(chunks, domain.Chunk{
			Text:      norm[textStart:s.end],
			Ordinal:   idx,
			CharStart: s.start,
			CharEnd:   s.end,
			Strategy:  StrategyRecursive,
		})
	}
	return chunks
}

func splitRecursive(norm string, s span, level, size int) []span {
	if s.len() <= size {
		return []span{s}
	}
	if level > 2 {
		var out []span
		for p := s.start; p < s.end; {
			q := p + size
			if q >= s.end {
				q = s.end
			} else {
				// Cut on a rune boundary so multibyte text stays valid.
				for q > p && !utf8.RuneStart(norm[q]) {
					q--
				}
				if q == p {
					q = p + size
				}
			}
			out = append(out, span{p, q})
			p = q
		}
		return out
	}

	pieces := splitOnce(norm, s, level)
	if len(pieces) <= 1 {
		return splitRecursive(norm, s, level+1, size)
	}

	var out []span
	cur := span{-1, -1}
	flush := func() {
		if cur.start >= 0 {
			out = append(out, cur)
			cur = span{-1, -1}
		}
	}
	for _, p := range pieces {
		if p.len() > size {
			flush()
			out = append(out, splitRecursive(norm, p, level+1, size)...)
			continue
		}
		if cur.start < 0 {
			cur = p
			continue
		}
		if p.end-cur.start <= size {
			cur.end = p.end
		} else {
			flush()
			cur = p
		}
	}
	flush()
	return out
}

// splitOnce cuts a span at every separator occurrence for the given level.
// Separator whitespace is excluded from the pieces; sentence punctuation
// stays with the piece it terminates.
func splitOnce(norm string, s span, level int) []span {
	text := norm[s.start:s.end]

	type cut struct{ pieceEnd, nextStart int }
	var cuts []cut
	switch level {
	case 0:
		for _, m := range paragraphBreak.FindAllStringIndex(text, -1) {
			cuts = append(cuts, cut{m[0], m[1]})
		}
	case 1:
		for _, m := range sentenceBoundary.FindAllStringSubmatchIndex(text, -1) {
			end := m[0]
			if m[2] >= 0 {
				end = m[3]
			}
			cuts = append(cuts, cut{end, m[1]})
		}
	default:
		for _, m := range whitespaceRun.FindAllStringIndex(text, -1) {
			cuts = append(cuts, cut{m[0], m[1]})
		}
	}

	var pieces []span
	start := 0
	for _, c := range cuts {
		if c.pieceEnd > start {
			pieces = append(pieces, span{s.start + start, s.start + c.pieceEnd})
		}
		if c.nextStart > start {
			start = c.nextStart
		}
	}
	if start < len(text) {
		pieces = append(pieces, span{s.start + start, s.start + len(text)})
	}
	return pieces
}
