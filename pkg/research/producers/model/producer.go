// Package model adapts an llm.LLMProvider into a result producer that emits
// one analysis per query.
package model

import (
	"context"
	"fmt"
	"strings"

	"ai-research-be/internal/entity"
	"ai-research-be/pkg/llm"
	"ai-research-be/pkg/research"
)

const systemPrompt = `You are a research assistant. Answer the user's research question with
concise, factual findings. Put each finding on its own line starting with "- ".
Do not invent citations.`

const (
	maxFindings     = 10
	maxAnswerTokens = 1024
)

type Producer struct {
	provider   llm.LLMProvider
	label      string
	confidence float64
}

var _ research.ResultProducer = &Producer{}

// NewProducer wraps provider. confidence is reported for every analysis,
// since chat models give no calibrated score of their own.
func NewProducer(provider llm.LLMProvider, label string, confidence float64) *Producer {
	if label == "" {
		label = provider.Model()
	}
	return &Producer{provider: provider, label: label, confidence: confidence}
}

func (p *Producer) Name() string {
	return p.label
}

func (p *Producer) Submit(ctx context.Context, q research.Query) <-chan research.Partial {
	return research.Stream(ctx, func(ctx context.Context, emit *research.Emitter) (*research.Outcome, error) {
		answer, err := p.provider.Chat(ctx, []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: q.Text},
		}, llm.WithTemperature(0.3), llm.WithMaxTokens(maxAnswerTokens))
		if err != nil {
			return nil, err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return nil, fmt.Errorf("model %s returned an empty answer", p.provider.Model())
		}

		analysis := entity.AIAnalysis{
			Model:      p.provider.Model(),
			Analysis:   answer,
			Confidence: p.confidence,
		}
		if err := emit.Analysis(analysis); err != nil {
			return nil, err
		}

		return &research.Outcome{
			Findings:   extractFindings(answer),
			Sources:    []string{"model:" + p.provider.Model()},
			Confidence: p.confidence,
		}, nil
	})
}

// extractFindings takes bullet lines from the answer, or the first paragraph
// when the model ignored the format.
func extractFindings(answer string) []string {
	var findings []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"- ", "* ", "• "} {
			if strings.HasPrefix(line, prefix) {
				if f := strings.TrimSpace(strings.TrimPrefix(line, prefix)); f != "" {
					findings = append(findings, f)
				}
				break
			}
		}
		if len(findings) == maxFindings {
			break
		}
	}
	if len(findings) == 0 {
		para, _, _ := strings.Cut(answer, "\n\n")
		findings = append(findings, strings.TrimSpace(para))
	}
	return findings
}
