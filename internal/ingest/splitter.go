// Package ingest turns uploaded documents into ordered, overlapping text chunks.
package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order: paragraph, line, sentence, word, rune.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Span is a byte range [Start, End) of the source text.
type Span struct {
	Start, End int
}

// Splitter is a greedy recursive separator splitter. Size and Overlap are
// measured in runes.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewSplitter panics when overlap is not in [0, size).
func NewSplitter(size, overlap int) Splitter {
	if size <= 0 || overlap < 0 || overlap >= size {
		panic(fmt.Sprintf("ingest: invalid chunking size=%d overlap=%d", size, overlap))
	}
	return Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Split returns the chunk texts in document order.
func (s Splitter) Split(text string) []string {
	spans := s.Spans(text)
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = text[sp.Start:sp.End]
	}
	return out
}

// Spans returns the chunk byte ranges. The first span starts at 0, the last
// ends at len(text), and every span starts at or before the end of the
// previous one, so the non-overlapping parts reassemble the input exactly.
// Whitespace-only input yields no spans.
func (s Splitter) Spans(text string) []Span {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	atoms := s.atomize(text, 0, len(text), seps)
	return s.merge(text, atoms)
}

// atomize cuts text[start:end] into contiguous pieces of at most Size runes,
// keeping each separator at the end of the piece it terminates.
func (s Splitter) atomize(text string, start, end int, seps []string) []Span {
	if runes(text, start, end) <= s.Size {
		return []Span{{start, end}}
	}
	if len(seps) == 0 || seps[0] == "" {
		return s.cutRunes(text, start, end)
	}
	sep, rest := seps[0], seps[1:]
	segment := text[start:end]
	if !strings.Contains(segment, sep) {
		return s.atomize(text, start, end, rest)
	}

	var out []Span
	pos := start
	for pos < end {
		i := strings.Index(text[pos:end], sep)
		next := end
		if i >= 0 {
			next = pos + i + len(sep)
		}
		if runes(text, pos, next) <= s.Size {
			out = append(out, Span{pos, next})
		} else {
			out = append(out, s.atomize(text, pos, next, rest)...)
		}
		pos = next
	}
	return out
}

// cutRunes yields one atom per rune so merge can backfill a full Overlap
// even when the text has no separators at all.
func (s Splitter) cutRunes(text string, start, end int) []Span {
	out := make([]Span, 0, runes(text, start, end))
	for i, r := range text[start:end] {
		pos := start + i
		out = append(out, Span{pos, pos + utf8.RuneLen(r)})
	}
	return out
}

// merge packs atoms greedily up to Size and carries whole trailing atoms of
// at most Overlap runes into the next chunk.
func (s Splitter) merge(text string, atoms []Span) []Span {
	var (
		out    []Span
		window []Span
		total  int
	)
	for _, a := range atoms {
		n := runes(text, a.Start, a.End)
		if len(window) > 0 && total+n > s.Size {
			out = append(out, Span{window[0].Start, window[len(window)-1].End})
			for len(window) > 0 && (total > s.Overlap || total+n > s.Size) {
				total -= runes(text, window[0].Start, window[0].End)
				window = window[1:]
			}
		}
		window = append(window, a)
		total += n
	}
	if len(window) > 0 {
		out = append(out, Span{window[0].Start, window[len(window)-1].End})
	}
	return out
}

func runes(text string, start, end int) int {
	return utf8.RuneCountInString(text[start:end])
}
