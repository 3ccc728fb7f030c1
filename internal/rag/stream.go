package rag

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docqa/internal/llm"
	"github.com/nikhilbhutani/docqa/internal/models"
	"github.com/nikhilbhutani/docqa/pkg/tokenizer"
)

type EventType string

const (
	EventToken   EventType = "token"
	EventSources EventType = "sources"
	EventDone    EventType = "done"
)

// Event is one element of an answer stream: any number of tokens, then one
// sources event, then one done event.
type Event struct {
	Type       EventType
	Token      string
	Sources    []models.Source
	ModelUsed  string
	Confidence *float64
}

// Stream is a finite, single-use sequence of answer events. The producer
// stops as soon as the consumer's context is cancelled or Close is called.
// Callers must Close the stream.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}
}

func newStream(ctx context.Context) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
}

// Next returns the next event. It returns false once the stream is finished
// or its context is done, and never yields an event after cancellation.
func (s *Stream) Next() (Event, bool) {
	if s.ctx.Err() != nil {
		return Event{}, false
	}
	select {
	case ev, ok := <-s.events:
		if !ok || s.ctx.Err() != nil {
			return Event{}, false
		}
		return ev, true
	case <-s.ctx.Done():
		return Event{}, false
	}
}

// Close abandons the stream and waits for the producer to exit.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// Done is closed when the producer has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Stream produces the answer for window as events. Generated answers relay
// backend deltas; extractive answers are emitted word by word every pace.
func (s *Synthesizer) Stream(ctx context.Context, question string, window ContextWindow, pace time.Duration) *Stream {
	st := newStream(ctx)
	go func() {
		defer close(st.done)
		defer close(st.events)
		s.produce(st, question, window, pace)
	}()
	return st
}

func (s *Synthesizer) produce(st *Stream, question string, window ContextWindow, pace time.Duration) {
	model := models.ModelNone
	var ok bool

	switch {
	case window.Empty():
		ok = st.emit(Event{Type: EventToken, Token: NoContentAnswer})
	case !s.generative(question):
		model, ok = s.streamExtractive(st, window, pace)
	default:
		model, ok = s.streamGenerated(st, question, window, pace)
	}
	if !ok {
		return
	}

	if !st.emit(Event{Type: EventSources, Sources: Sources(window)}) {
		return
	}
	st.emit(Event{Type: EventDone, ModelUsed: model, Confidence: Confidence(window)})
}

func (s *Synthesizer) streamExtractive(st *Stream, window ContextWindow, pace time.Duration) (string, bool) {
	words := tokenizer.Words(ExtractiveText(window, s.opts.ExtractiveChars))
	for i, w := range words {
		if i > 0 && pace > 0 {
			select {
			case <-time.After(pace):
			case <-st.ctx.Done():
				return "", false
			}
		}
		if !st.emit(Event{Type: EventToken, Token: w}) {
			return "", false
		}
	}
	return models.ModelExtractive, true
}

// streamGenerated falls back to extractive output if the backend stream
// cannot be opened, or fails or stalls before its first token. A failure
// after tokens were sent ends the answer early.
func (s *Synthesizer) streamGenerated(st *Stream, question string, window ContextWindow, pace time.Duration) (string, bool) {
	genCtx, cancel := context.WithCancel(st.ctx)
	defer cancel()

	ch, err := s.gateway.ChatStream(genCtx, s.chatRequest(question, window))
	if err != nil {
		if st.ctx.Err() != nil {
			return "", false
		}
		slog.Warn("answer stream failed to open, using extractive fallback", "error", err)
		return s.streamExtractive(st, window, pace)
	}
	defer llm.Drain(ch)

	var stalled <-chan time.Time
	var timer *time.Timer
	if s.opts.StreamIdle > 0 {
		timer = time.NewTimer(s.opts.StreamIdle)
		defer timer.Stop()
		stalled = timer.C
	}

	model := ""
	sent := 0
	var failure error
	for failure == nil {
		var chunk llm.StreamChunk
		var open bool
		select {
		case chunk, open = <-ch:
		case <-stalled:
			cancel()
			failure = fmt.Errorf("%w: no output for %s", llm.ErrTransient, s.opts.StreamIdle)
			continue
		}
		if !open {
			break
		}
		if chunk.Error != nil {
			failure = chunk.Error
			continue
		}
		model = cmp.Or(chunk.Model, model)
		if chunk.Content != "" {
			if !st.emit(Event{Type: EventToken, Token: chunk.Content}) {
				return "", false
			}
			sent++
		}
		if chunk.Done {
			break
		}
		if timer != nil {
			timer.Reset(s.opts.StreamIdle)
		}
	}
	if st.ctx.Err() != nil {
		return "", false
	}
	if failure != nil {
		if sent == 0 {
			slog.Warn("answer stream failed, using extractive fallback", "error", failure)
			return s.streamExtractive(st, window, pace)
		}
		slog.Warn("answer stream interrupted", "error", failure, "tokens_sent", sent)
	}
	if sent == 0 {
		return s.streamExtractive(st, window, pace)
	}
	return cmp.Or(model, s.gateway.DefaultModel()), true
}
