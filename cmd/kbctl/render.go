package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"kb-assistant-go/internal/model"
	"kb-assistant-go/internal/rag"
)

const snippetRunes = 160

var (
	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	sourceStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	scoreStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	snippetStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

func renderIngestResult(res model.IngestResult) string {
	if !res.Success {
		return failStyle.Render("✗") + " " + res.Source + ": " + res.Error
	}
	line := okStyle.Render("✓") + " " + res.String()
	if res.Duplicate {
		line += scoreStyle.Render(" (already ingested)")
	}
	return line
}

func renderTotal(size int) string {
	return fmt.Sprintf("Knowledge base: %s chunks", okStyle.Render(fmt.Sprint(size)))
}

func renderHits(hits []model.ScoredChunk) string {
	if len(hits) == 0 {
		return "No matching chunks.\n"
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. %s %s\n   %s\n", i+1,
			sourceStyle.Render(sourceLabel(h.Chunk)),
			scoreStyle.Render(fmt.Sprintf("%.4f", h.Score)),
			snippetStyle.Render(snippet(h.Chunk.Text)))
	}
	return b.String()
}

func renderAnswer(resp rag.Response) string {
	var b strings.Builder
	b.WriteString(resp.Text)
	b.WriteString("\n")
	if len(resp.Sources) > 0 {
		b.WriteString("\nSources:\n")
		for i, s := range resp.Sources {
			fmt.Fprintf(&b, "  [Source %d] %s\n", i+1, sourceStyle.Render(sourceLabel(s.Chunk)))
		}
	}
	return b.String()
}

func sourceLabel(c model.Chunk) string {
	if c.Page > 0 {
		return fmt.Sprintf("%s, page %d", c.Source, c.Page)
	}
	return c.Source
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= snippetRunes {
		return text
	}
	return string(r[:snippetRunes]) + "..."
}
