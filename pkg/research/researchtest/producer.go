// Package researchtest provides scripted producers for tests.
package researchtest

import (
	"context"
	"sync/atomic"

	"ai-research-be/internal/entity"
	"ai-research-be/pkg/research"
)

// Producer replays a fixed script: its web results and analyses, then Err or
// Outcome. When Wait is set the terminal marker waits for it (or for
// cancellation).
type Producer struct {
	ProducerName string
	WebResults   []entity.WebResult
	Analyses     []entity.AIAnalysis
	Outcome      *research.Outcome
	Err          error
	Wait         <-chan struct{}

	// Stuck producers ignore cancellation and keep their stream open until
	// Release is closed.
	Stuck   bool
	Release chan struct{}

	calls atomic.Int32
}

func (p *Producer) Name() string {
	return p.ProducerName
}

// Calls reports how many times Submit was called.
func (p *Producer) Calls() int {
	return int(p.calls.Load())
}

func (p *Producer) Submit(ctx context.Context, q research.Query) <-chan research.Partial {
	p.calls.Add(1)

	if p.Stuck {
		ch := make(chan research.Partial)
		go func() {
			defer close(ch)
			<-p.Release
		}()
		return ch
	}

	return research.Stream(ctx, func(ctx context.Context, emit *research.Emitter) (*research.Outcome, error) {
		for _, r := range p.WebResults {
			if err := emit.WebResult(r); err != nil {
				return nil, err
			}
		}
		for _, a := range p.Analyses {
			if err := emit.Analysis(a); err != nil {
				return nil, err
			}
		}
		if p.Wait != nil {
			select {
			case <-p.Wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if p.Err != nil {
			return nil, p.Err
		}
		return p.Outcome, nil
	})
}

// Succeeding returns a producer that emits one analysis and succeeds.
func Succeeding(name string, confidence float64, findings ...string) *Producer {
	return &Producer{
		ProducerName: name,
		Analyses:     []entity.AIAnalysis{{Model: name, Analysis: "analysis from " + name, Confidence: confidence}},
		Outcome: &research.Outcome{
			Findings:   findings,
			Sources:    []string{"source:" + name},
			Confidence: confidence,
		},
	}
}

// Failing returns a producer that fails immediately with err.
func Failing(name string, err error) *Producer {
	return &Producer{ProducerName: name, Err: err}
}
