package model

import (
	"context"
	"errors"
	"testing"

	"ai-research-be/pkg/llm"
	"ai-research-be/pkg/research"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	answer string
	err    error
	got    []llm.Message
}

func (f *fakeProvider) Model() string { return "fake-7b" }

func (f *fakeProvider) Chat(_ context.Context, history []llm.Message, _ ...llm.Option) (string, error) {
	f.got = history
	return f.answer, f.err
}

func collect(ch <-chan research.Partial) []research.Partial {
	var out []research.Partial
	for p := range ch {
		out = append(out, p)
	}
	return out
}

func TestSubmitEmitsAnalysis(t *testing.T) {
	provider := &fakeProvider{answer: "Summary line.\n- Qubits decohere quickly\n* Error correction needs many physical qubits\n\nMore text."}
	p := NewProducer(provider, "", 0.7)
	assert.Equal(t, "fake-7b", p.Name())

	partials := collect(p.Submit(context.Background(), research.Query{Text: "What limits quantum computers?"}))
	require.Len(t, partials, 2)

	analysis := partials[0].Analysis
	require.NotNil(t, analysis)
	assert.Equal(t, "fake-7b", analysis.Model)
	assert.InDelta(t, 0.7, analysis.Confidence, 1e-9)

	done := partials[1].Done
	require.NotNil(t, done)
	assert.Equal(t, []string{"Qubits decohere quickly", "Error correction needs many physical qubits"}, done.Findings)
	assert.Equal(t, []string{"model:fake-7b"}, done.Sources)

	require.Len(t, provider.got, 2)
	assert.Equal(t, "system", provider.got[0].Role)
	assert.Equal(t, "What limits quantum computers?", provider.got[1].Content)
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
	}{
		{name: "provider error", provider: &fakeProvider{err: errors.New("rate limited")}},
		{name: "empty answer", provider: &fakeProvider{answer: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			partials := collect(NewProducer(tt.provider, "local:fake", 0.5).Submit(context.Background(), research.Query{Text: "q"}))
			require.Len(t, partials, 1)
			assert.Error(t, partials[0].Err)
		})
	}
}

func TestExtractFindings(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   []string
	}{
		{name: "bullets", answer: "- a\n- b", want: []string{"a", "b"}},
		{name: "mixed markers", answer: "• a\n* b\n-c", want: []string{"a", "b"}},
		{name: "first paragraph", answer: "Plain answer.\n\nSecond paragraph.", want: []string{"Plain answer."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractFindings(tt.answer))
		})
	}
}

func TestExtractFindingsCapsCount(t *testing.T) {
	answer := ""
	for i := 0; i < maxFindings+5; i++ {
		answer += "- finding\n"
	}
	assert.Len(t, extractFindings(answer), maxFindings)
}
