package ingest

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reassemble joins the non-overlapping part of each span.
func reassemble(text string, spans []Span) string {
	var b strings.Builder
	prevEnd := 0
	for _, sp := range spans {
		start := sp.Start
		if start < prevEnd {
			start = prevEnd
		}
		b.WriteString(text[start:sp.End])
		prevEnd = sp.End
	}
	return b.String()
}

func assertSpanInvariants(t *testing.T, s Splitter, text string, spans []Span) {
	t.Helper()
	require.NotEmpty(t, spans)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, len(text), spans[len(spans)-1].End)
	for i, sp := range spans {
		assert.Less(t, sp.Start, sp.End, "span %d is empty", i)
		assert.LessOrEqual(t, utf8.RuneCountInString(text[sp.Start:sp.End]), s.Size, "span %d too long", i)
		if i > 0 {
			assert.LessOrEqual(t, sp.Start, spans[i-1].End, "gap before span %d", i)
			assert.Greater(t, sp.End, spans[i-1].End, "span %d adds nothing", i)
		}
	}
	assert.Equal(t, text, reassemble(text, spans))
}

func TestSplitterThreeThousandCharDocument(t *testing.T) {
	s := NewSplitter(1000, 200)
	text := strings.Repeat("lorem ", 500) // 3000 runes
	spans := s.Spans(text)

	assert.GreaterOrEqual(t, len(spans), 3)
	assertSpanInvariants(t, s, text, spans)

	for i := 1; i < len(spans); i++ {
		overlap := utf8.RuneCountInString(text[spans[i].Start:spans[i-1].End])
		assert.InDelta(t, 200, overlap, 6, "overlap between chunk %d and %d", i-1, i)
	}
}

func TestSplitterPrefersParagraphs(t *testing.T) {
	s := NewSplitter(50, 10)
	p1 := strings.Repeat("a", 30) + "\n\n"
	p2 := strings.Repeat("b", 30) + "\n\n"
	p3 := strings.Repeat("c", 30)
	text := p1 + p2 + p3

	chunks := s.Split(text)
	require.Len(t, chunks, 3)
	assert.Equal(t, p1, chunks[0])
	assert.Equal(t, p2, chunks[1])
	assert.Equal(t, p3, chunks[2])
}

func assertOverlap(t *testing.T, text string, spans []Span, want, delta int) {
	t.Helper()
	for i := 1; i < len(spans); i++ {
		overlap := utf8.RuneCountInString(text[spans[i].Start:spans[i-1].End])
		assert.InDelta(t, want, overlap, float64(delta), "overlap between chunk %d and %d", i-1, i)
	}
}

func TestSplitterFallsBackToRunes(t *testing.T) {
	s := NewSplitter(100, 20)
	text := strings.Repeat("é", 350) // no separators, multi-byte runes
	spans := s.Spans(text)
	assertSpanInvariants(t, s, text, spans)
	assert.Len(t, spans, 5)
	assertOverlap(t, text, spans, 20, 0)
}

func TestSplitterKeepsOverlapWithoutSeparators(t *testing.T) {
	s := NewSplitter(1000, 200)
	for name, text := range map[string]string{
		"ascii": strings.Repeat("a", 3000),
		"cjk":   strings.Repeat("装饰器包装函数。", 375),
	} {
		t.Run(name, func(t *testing.T) {
			spans := s.Spans(text)
			assertSpanInvariants(t, s, text, spans)
			assert.Len(t, spans, 4)
			assertOverlap(t, text, spans, 200, 0)
		})
	}
}

func TestSplitterMixedText(t *testing.T) {
	s := NewSplitter(120, 30)
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("Decorators wrap functions. They return new callables.\n")
		if i%7 == 0 {
			b.WriteString("\n")
		}
	}
	b.WriteString(strings.Repeat("x", 400))
	text := b.String()

	assertSpanInvariants(t, s, text, s.Spans(text))
}

func TestSplitterShortAndEmpty(t *testing.T) {
	s := NewSplitter(1000, 200)
	assert.Equal(t, []string{"hello"}, s.Split("hello"))
	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split(" \n\n\t "))
}

func TestNewSplitterRejectsBadOverlap(t *testing.T) {
	assert.Panics(t, func() { NewSplitter(100, 100) })
	assert.Panics(t, func() { NewSplitter(0, 0) })
	assert.Panics(t, func() { NewSplitter(100, -1) })
	assert.NotPanics(t, func() { NewSplitter(100, 0) })
}
