package rag

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/models"
)

// NoContentAnswer is returned when retrieval finds nothing for the question.
const NoContentAnswer = "No relevant content found in the provided documents."

const snippetChars = 200

const systemPrompt = `You answer questions using only the document excerpts provided.
Each excerpt is tagged [Document: <id>, Page: <n>]. Cite the tags of the excerpts you rely on.
If the excerpts do not contain the answer, say that the documents do not cover it.`

type SynthesisKind int

const (
	SynthesisEmpty SynthesisKind = iota
	SynthesisExtractive
	SynthesisGenerated
)

func (k SynthesisKind) String() string {
	switch k {
	case SynthesisGenerated:
		return "generated"
	case SynthesisExtractive:
		return "extractive"
	default:
		return "empty"
	}
}

// Synthesis is the outcome of answering from a context window. Model is the
// generating model for SynthesisGenerated.
type Synthesis struct {
	Kind  SynthesisKind
	Text  string
	Model string
}

func (s Synthesis) ModelUsed() string {
	switch s.Kind {
	case SynthesisGenerated:
		return s.Model
	case SynthesisExtractive:
		return models.ModelExtractive
	default:
		return models.ModelNone
	}
}

// Screener flags questions that must not reach the generative backend.
// guardrails.InjectionScreen satisfies it.
type Screener interface {
	Screen(question string) (flags []string, blocked bool)
}

type SynthesizerOptions struct {
	ExtractiveChars int
	MaxTokens       int
	Temperature     float64
	Screen          Screener // optional
	// StreamIdle ends a generated stream that produces nothing for this
	// long. Zero disables the bound.
	StreamIdle      time.Duration
}

// Synthesizer turns a context window into an answer, through the LLM gateway
// when one is configured and by quoting the retrieved text otherwise.
type Synthesizer struct {
	gateway llm.Gateway
	opts    SynthesizerOptions
}

// NewSynthesizer accepts a nil gateway, in which case every answer is
// extractive.
func NewSynthesizer(gw llm.Gateway, opts SynthesizerOptions) *Synthesizer {
	if opts.ExtractiveChars <= 0 {
		opts.ExtractiveChars = 2000
	}
	return &Synthesizer{gateway: gw, opts: opts}
}

// Synthesize never fails: backend errors fall back to an extractive answer.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, window ContextWindow) Synthesis {
	if window.Empty() {
		return Synthesis{Kind: SynthesisEmpty, Text: NoContentAnswer}
	}
	if !s.generative(question) {
		return s.extractive(window)
	}

	resp, err := s.gateway.Chat(ctx, s.chatRequest(question, window))
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		slog.Warn("answer generation failed, using extractive fallback",
			"error", err,
			"transient", llm.IsTransient(err),
		)
		return s.extractive(window)
	}

	slog.Debug("answer generated",
		"provider", resp.Provider,
		"model", resp.Model,
		"total_tokens", resp.TotalTokens,
		"cost_usd", resp.CostUSD,
		"latency_ms", resp.LatencyMs,
	)
	return Synthesis{Kind: SynthesisGenerated, Text: resp.Content, Model: cmp.Or(resp.Model, resp.Provider, s.gateway.DefaultModel())}
}

// generative reports whether question may be sent to the backend.
func (s *Synthesizer) generative(question string) bool {
	if s.gateway == nil {
		return false
	}
	if s.opts.Screen != nil {
		if flags, blocked := s.opts.Screen.Screen(question); blocked {
			slog.Warn("question screened, answering extractively", "flags", flags)
			return false
		}
	}
	return true
}

func (s *Synthesizer) Answer(ctx context.Context, question string, window ContextWindow) *models.Answer {
	syn := s.Synthesize(ctx, question, window)
	return &models.Answer{
		Text:       syn.Text,
		Sources:    Sources(window),
		ModelUsed:  syn.ModelUsed(),
		Confidence: Confidence(window),
	}
}

func (s *Synthesizer) extractive(window ContextWindow) Synthesis {
	return Synthesis{Kind: SynthesisExtractive, Text: ExtractiveText(window, s.opts.ExtractiveChars)}
}

func (s *Synthesizer) chatRequest(question string, window ContextWindow) llm.ChatRequest {
	return llm.ChatRequest{
		Messages:    BuildPrompt(question, window),
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
}

// BuildPrompt embeds the window's chunk texts, tagged with document and page,
// ahead of the question.
func BuildPrompt(question string, window ContextWindow) []llm.Message {
	var sb strings.Builder
	for _, span := range window.Spans {
		fmt.Fprintf(&sb, "[Document: %s, Page: %d]\n%s\n\n", span.Chunk.DocumentID, span.Chunk.PageNumber, span.Chunk.Text)
	}
	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Excerpts:\n\n%sQuestion: %s", sb.String(), question)},
	}
}

// ExtractiveText joins the span texts verbatim, cut to at most limit runes.
func ExtractiveText(window ContextWindow, limit int) string {
	parts := make([]string, len(window.Spans))
	for i, span := range window.Spans {
		parts[i] = span.Chunk.Text
	}
	return truncateRunes(strings.Join(parts, "\n\n"), limit)
}

// Sources lists the window's spans in order, independent of any generated text.
func Sources(window ContextWindow) []models.Source {
	sources := make([]models.Source, len(window.Spans))
	for i, span := range window.Spans {
		c := span.Chunk
		sources[i] = models.Source{
			DocumentID:  c.DocumentID,
			PageNumber:  c.PageNumber,
			CharStart:   c.CharStart,
			CharEnd:     c.CharEnd,
			TextSnippet: truncateRunes(c.Text, snippetChars),
		}
	}
	return sources
}

// Confidence is the best span score, or nil for an empty window.
func Confidence(window ContextWindow) *float64 {
	if window.Empty() {
		return nil
	}
	best := window.Spans[0].Score
	for _, s := range window.Spans[1:] {
		best = max(best, s.Score)
	}
	return &best
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
