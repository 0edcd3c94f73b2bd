package research

import (
	"context"
	"errors"

	"ai-research-be/internal/entity"
)

// Query is what a producer receives for one dispatch.
type Query struct {
	SessionID string
	Turn      int
	Text      string
	Mode      entity.ResearchMode
}

// Outcome is a producer's terminal success marker.
type Outcome struct {
	Findings   []string
	Sources    []string
	Confidence float64
}

// Partial is one element of a producer stream. Exactly one of the fields is
// set. Done and Err are terminal; the producer closes the stream after
// sending one of them.
type Partial struct {
	WebResult *entity.WebResult
	Analysis  *entity.AIAnalysis
	Done      *Outcome
	Err       error
}

// ResultProducer is one information source (a search backend or a model).
// Submit must return immediately; the work happens in the producer's own
// goroutine, which must stop and close the stream once ctx is done.
type ResultProducer interface {
	Name() string
	Submit(ctx context.Context, q Query) <-chan Partial
}

var ErrStreamClosed = errors.New("stream closed without a terminal result")

// Emitter is the producer-side half of a stream.
type Emitter struct {
	ctx context.Context
	ch  chan<- Partial
}

// Stream starts fn in a goroutine and returns its stream. fn reports partial
// results through the Emitter; its return value becomes the terminal marker.
// The send of the terminal marker is abandoned if ctx is done.
func Stream(ctx context.Context, fn func(ctx context.Context, emit *Emitter) (*Outcome, error)) <-chan Partial {
	ch := make(chan Partial)
	go func() {
		defer close(ch)
		emit := &Emitter{ctx: ctx, ch: ch}

		outcome, err := fn(ctx, emit)
		terminal := Partial{Err: err}
		if err == nil {
			if outcome == nil {
				outcome = &Outcome{}
			}
			terminal.Done = outcome
		}
		select {
		case ch <- terminal:
		case <-ctx.Done():
		}
	}()
	return ch
}

// WebResult forwards a web result. It returns ctx.Err() once the consumer has
// gone away.
func (e *Emitter) WebResult(r entity.WebResult) error {
	return e.send(Partial{WebResult: &r})
}

func (e *Emitter) Analysis(a entity.AIAnalysis) error {
	return e.send(Partial{Analysis: &a})
}

func (e *Emitter) send(p Partial) error {
	select {
	case e.ch <- p:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}
