package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfiguration is returned when chunk size and overlap cannot produce
// forward progress.
var ErrInvalidConfiguration = errors.New("invalid chunk configuration")

type Chunker interface {
	Chunk(text string, opts ChunkOptions) ([]TextChunk, error)
}

type ChunkOptions struct {
	ChunkSize    int // window size in characters (runes)
	ChunkOverlap int // characters shared by consecutive windows
}

// TextChunk is one window over the input. Start and End are rune offsets,
// half-open.
type TextChunk struct {
	Content string
	Index   int
	Start   int
	End     int
}

func DefaultOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize:    1500,
		ChunkOverlap: 300,
	}
}

func (o ChunkOptions) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfiguration, o.ChunkSize)
	}
	if o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize {
		return fmt.Errorf("%w: overlap must satisfy 0 <= overlap < %d, got %d",
			ErrInvalidConfiguration, o.ChunkSize, o.ChunkOverlap)
	}
	return nil
}

// Step is the distance between the starts of consecutive windows.
func (o ChunkOptions) Step() int {
	return o.ChunkSize - o.ChunkOverlap
}

type windowChunker struct{}

func New() Chunker {
	return &windowChunker{}
}

func (c *windowChunker) Chunk(text string, opts ChunkOptions) ([]TextChunk, error) {
	return Split(text, opts)
}

// Split cuts text into overlapping fixed-size windows. Whitespace-only input
// yields no windows.
func Split(text string, opts ChunkOptions) ([]TextChunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	runes := []rune(text)
	step := opts.Step()
	chunks := make([]TextChunk, 0, Count(len(runes), opts))

	for start := 0; ; start += step {
		end := min(start+opts.ChunkSize, len(runes))
		chunks = append(chunks, TextChunk{
			Content: string(runes[start:end]),
			Index:   len(chunks),
			Start:   start,
			End:     end,
		})
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

// Count returns how many windows Split produces for a text of length n runes,
// assuming the text is not blank.
func Count(n int, opts ChunkOptions) int {
	if n <= 0 {
		return 0
	}
	if n <= opts.ChunkSize {
		return 1
	}
	step := opts.Step()
	return 1 + (n-opts.ChunkSize+step-1)/step
}

// Reassemble joins windows back into the original text by dropping the overlap
// from every window after the first.
func Reassemble(chunks []TextChunk, overlap int) string {
	var sb strings.Builder
	for i, ch := range chunks {
		if i == 0 {
			sb.WriteString(ch.Content)
			continue
		}
		sb.WriteString(string([]rune(ch.Content)[overlap:]))
	}
	return sb.String()
}
