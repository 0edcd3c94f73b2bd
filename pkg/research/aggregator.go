package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const aggregatorModule = "Aggregator"

// Appender is where a dispatch writes its output. *OutputLog satisfies it.
type Appender interface {
	Append(entry entity.OutputEntry) entity.OutputEntry
}

type AggregatorConfig struct {
	// Timeout bounds a whole dispatch. Zero disables it.
	Timeout time.Duration
	// CancelGrace is how long producers get to close their streams after
	// cancellation before they are abandoned.
	CancelGrace time.Duration
	// MaxConcurrentProducers bounds producer calls across all sessions. Zero
	// means unbounded.
	MaxConcurrentProducers int64
}

func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Timeout:                2 * time.Minute,
		CancelGrace:            2 * time.Second,
		MaxConcurrentProducers: 64,
	}
}

// Aggregator fans a query out to producers and merges their streams into an
// Appender in arrival order. It holds no per-session state and is shared.
type Aggregator struct {
	cfg    AggregatorConfig
	sem    *semaphore.Weighted
	logger logger.ILogger
	tracer trace.Tracer
}

func NewAggregator(cfg AggregatorConfig, log logger.ILogger) *Aggregator {
	a := &Aggregator{
		cfg:    cfg,
		logger: log,
		tracer: otel.Tracer("ai-research-be/pkg/research"),
	}
	if cfg.MaxConcurrentProducers > 0 {
		a.sem = semaphore.NewWeighted(cfg.MaxConcurrentProducers)
	}
	return a
}

type mergedPartial struct {
	index   int
	partial Partial
	closed  bool
}

type producerState struct {
	terminal bool
	closed   bool
	reported bool
	outcome  *Outcome
}

// Dispatch runs one research turn. It returns the synthesized result, an
// *AggregationError when no producer succeeded (TimedOut set when the window
// closed first), or the
// context's error when ctx was cancelled by the caller. Entries already
// appended stay in place in every case.
func (a *Aggregator) Dispatch(ctx context.Context, q Query, producers []ResultProducer, out Appender) (*entity.ResearchResult, error) {
	ctx, span := a.tracer.Start(ctx, "research.dispatch", trace.WithAttributes(
		attribute.String("research.session_id", q.SessionID),
		attribute.String("research.mode", string(q.Mode)),
		attribute.Int("research.producers", len(producers)),
	))
	defer span.End()

	if len(producers) == 0 {
		err := &AggregationError{}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timeout <-chan time.Time
	if a.cfg.Timeout > 0 {
		timer := time.NewTimer(a.cfg.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	merged := make(chan mergedPartial)
	quit := make(chan struct{})
	defer close(quit)

	for i, p := range producers {
		go a.pump(dispatchCtx, i, p, q, merged, quit)
	}

	a.logger.Info(aggregatorModule, "Dispatch started", map[string]interface{}{
		"session_id": q.SessionID,
		"turn":       q.Turn,
		"producers":  producerNames(producers),
	})

	states := make([]producerState, len(producers))
	failures := make([]*ProducerError, 0)
	remaining := len(producers)

	fail := func(i int, err error) {
		states[i].reported = true
		perr := &ProducerError{Producer: producers[i].Name(), Err: err}
		failures = append(failures, perr)
		out.Append(entity.OutputEntry{Kind: entity.OutputKindError, Text: perr.Error()})
		a.logger.Warn(aggregatorModule, "Producer failed", map[string]interface{}{
			"session_id": q.SessionID,
			"producer":   perr.Producer,
			"error":      err.Error(),
		})
	}

	timedOut := false
loop:
	for remaining > 0 {
		select {
		case m := <-merged:
			st := &states[m.index]
			if m.closed {
				st.closed = true
				if !st.terminal {
					st.terminal = true
					remaining--
					fail(m.index, ErrStreamClosed)
				}
				continue
			}
			if st.terminal {
				continue
			}
			switch p := m.partial; {
			case p.Err != nil:
				st.terminal = true
				remaining--
				if ctx.Err() != nil {
					// cancelled by the caller, not a producer failure
					continue
				}
				fail(m.index, p.Err)
			case p.Done != nil:
				st.terminal = true
				st.outcome = p.Done
				remaining--
			case p.WebResult != nil:
				out.Append(webResultEntry(*p.WebResult))
			case p.Analysis != nil:
				out.Append(analysisEntry(*p.Analysis))
			}
		case <-timeout:
			timedOut = true
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if remaining > 0 {
		cancel()
		if timedOut {
			for i := range states {
				if !states[i].terminal {
					fail(i, context.DeadlineExceeded)
				}
			}
		}
		a.awaitClose(q, producers, states, merged, out)
	}

	if !timedOut && ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		a.logger.Info(aggregatorModule, "Dispatch cancelled", map[string]interface{}{"session_id": q.SessionID})
		return nil, ctx.Err()
	}

	// producers that finished inside the window still count after a timeout
	result := synthesize(q, producers, states)
	if result == nil {
		err := &AggregationError{Failures: failures, TimedOut: timedOut}
		span.SetStatus(codes.Error, err.Error())
		a.logger.Error(aggregatorModule, "Dispatch failed", map[string]interface{}{
			"session_id": q.SessionID,
			"error":      err.Error(),
		})
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("research.failed_producers", len(failures)),
		attribute.Float64("research.confidence", result.Confidence),
	)
	a.logger.Info(aggregatorModule, "Dispatch completed", map[string]interface{}{
		"session_id": q.SessionID,
		"findings":   len(result.Findings),
		"sources":    len(result.Sources),
		"confidence": result.Confidence,
		"failed":     len(failures),
		"timed_out":  timedOut,
	})
	return result, nil
}

// awaitClose gives cancelled producers CancelGrace to close their streams.
// Nothing they send in the meantime is forwarded.
func (a *Aggregator) awaitClose(q Query, producers []ResultProducer, states []producerState, merged <-chan mergedPartial, out Appender) {
	open := 0
	for i := range states {
		if !states[i].closed {
			open++
		}
	}

	grace := time.NewTimer(a.cfg.CancelGrace)
	defer grace.Stop()

	for open > 0 {
		select {
		case m := <-merged:
			if m.closed && !states[m.index].closed {
				states[m.index].closed = true
				open--
			}
		case <-grace.C:
			for i := range states {
				if states[i].closed {
					continue
				}
				if states[i].reported {
					a.logger.Warn(aggregatorModule, "Producer abandoned", map[string]interface{}{
						"session_id": q.SessionID,
						"producer":   producers[i].Name(),
					})
					continue
				}
				perr := &ProducerError{
					Producer: producers[i].Name(),
					Err:      fmt.Errorf("did not stop within %s, abandoned", a.cfg.CancelGrace),
				}
				out.Append(entity.OutputEntry{Kind: entity.OutputKindError, Text: perr.Error()})
				a.logger.Warn(aggregatorModule, "Producer abandoned", map[string]interface{}{
					"session_id": q.SessionID,
					"producer":   perr.Producer,
				})
			}
			return
		}
	}
}

// pump forwards one producer's stream into merged and reports its closure.
// Its concurrency slot is given back as soon as the dispatch is cancelled or
// stops listening, so a producer that never closes its stream cannot hold it.
func (a *Aggregator) pump(ctx context.Context, index int, p ResultProducer, q Query, merged chan<- mergedPartial, quit <-chan struct{}) {
	ctx, span := a.tracer.Start(ctx, "research.producer", trace.WithAttributes(
		attribute.String("research.producer", p.Name()),
	))
	defer span.End()

	forward := func(m mergedPartial) bool {
		select {
		case merged <- m:
			return true
		case <-quit:
			return false
		}
	}

	release := func() {}
	if a.sem != nil {
		if err := a.sem.Acquire(ctx, 1); err != nil {
			if forward(mergedPartial{index: index, partial: Partial{Err: err}}) {
				forward(mergedPartial{index: index, closed: true})
			}
			return
		}
		var once sync.Once
		release = func() { once.Do(func() { a.sem.Release(1) }) }
	}
	defer release()

	stream := p.Submit(ctx, q)
	done := ctx.Done()
	for {
		select {
		case partial, ok := <-stream:
			if !ok {
				forward(mergedPartial{index: index, closed: true})
				return
			}
			if partial.Err != nil {
				span.SetStatus(codes.Error, partial.Err.Error())
			}
			if !forward(mergedPartial{index: index, partial: partial}) {
				release()
				drain(stream)
				return
			}
		case <-done:
			release()
			done = nil
		case <-quit:
			release()
			drain(stream)
			return
		}
	}
}

func drain(stream <-chan Partial) {
	for range stream {
	}
}

func synthesize(q Query, producers []ResultProducer, states []producerState) *entity.ResearchResult {
	var (
		findings  []string
		sources   []string
		total     float64
		succeeded int
	)
	for i := range states {
		o := states[i].outcome
		if o == nil {
			continue
		}
		succeeded++
		findings = append(findings, o.Findings...)
		sources = append(sources, o.Sources...)
		total += clamp01(o.Confidence)
	}
	if succeeded == 0 {
		return nil
	}

	result := &entity.ResearchResult{
		Findings:   nonNil(findings),
		Sources:    nonNil(sources),
		Confidence: total / float64(succeeded),
	}
	result.Summary = summarize(q.Text, result, succeeded, len(producers))
	return result
}

func summarize(query string, r *entity.ResearchResult, succeeded, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research on %q: %d findings from %d/%d sources queried.", query, len(r.Findings), succeeded, total)
	for _, f := range r.Findings {
		b.WriteString("\n- ")
		b.WriteString(f)
	}
	if len(r.Sources) > 0 {
		b.WriteString("\nSources:")
		for i, s := range r.Sources {
			fmt.Fprintf(&b, "\n%d. %s", i+1, s)
		}
	}
	return b.String()
}

func webResultEntry(r entity.WebResult) entity.OutputEntry {
	return entity.OutputEntry{
		Kind:       entity.OutputKindWebResult,
		Text:       fmt.Sprintf("[%s] %s - %s", r.Source, r.Title, r.URL),
		WebResults: []entity.WebResult{r},
	}
}

func analysisEntry(a entity.AIAnalysis) entity.OutputEntry {
	return entity.OutputEntry{
		Kind:       entity.OutputKindAIAnalysis,
		Text:       fmt.Sprintf("[%s] %s", a.Model, a.Analysis),
		AIAnalyses: []entity.AIAnalysis{a},
	}
}

func producerNames(producers []ResultProducer) []string {
	names := make([]string, len(producers))
	for i, p := range producers {
		names[i] = p.Name()
	}
	return names
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
