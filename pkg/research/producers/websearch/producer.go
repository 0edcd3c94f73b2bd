// Package websearch is a result producer backed by a SearxNG-compatible JSON
// search endpoint.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/pkg/research"
)

const (
	defaultMaxResults = 8
	snippetLimit      = 400
)

type Producer struct {
	name       string
	baseURL    string
	maxResults int
	client     *http.Client
}

var _ research.ResultProducer = &Producer{}

func NewProducer(name, baseURL string, maxResults int) *Producer {
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Producer{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: maxResults,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Producer) Name() string {
	return p.name
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Content string   `json:"content"`
	Engine  string   `json:"engine"`
	Engines []string `json:"engines"`
	Score   float64  `json:"score"`
}

func (p *Producer) Submit(ctx context.Context, q research.Query) <-chan research.Partial {
	return research.Stream(ctx, func(ctx context.Context, emit *research.Emitter) (*research.Outcome, error) {
		results, err := p.search(ctx, q.Text)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return nil, fmt.Errorf("no results for %q", q.Text)
		}

		maxScore := 0.0
		for _, r := range results {
			if r.Score > maxScore {
				maxScore = r.Score
			}
		}

		outcome := &research.Outcome{}
		total := 0.0
		for _, r := range results {
			wr := entity.WebResult{
				Title:       r.Title,
				URL:         r.URL,
				Snippet:     truncate(r.Content, snippetLimit),
				Source:      sourceLabel(r),
				Reliability: reliability(r.Score, maxScore),
			}
			if err := emit.WebResult(wr); err != nil {
				return nil, err
			}
			total += wr.Reliability
			outcome.Sources = append(outcome.Sources, wr.URL)
			if wr.Snippet != "" {
				outcome.Findings = append(outcome.Findings, fmt.Sprintf("%s: %s", wr.Title, wr.Snippet))
			}
		}
		outcome.Confidence = total / float64(len(results))
		return outcome, nil
	})
}

func (p *Producer) search(ctx context.Context, query string) ([]searchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search error: status %d, body: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out searchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if len(out.Results) > p.maxResults {
		out.Results = out.Results[:p.maxResults]
	}
	return out.Results, nil
}

// reliability normalises engine scores to 0..1. Results without a score get
// a neutral 0.5.
func reliability(score, maxScore float64) float64 {
	if maxScore <= 0 || score <= 0 {
		return 0.5
	}
	v := score / maxScore
	if v > 1 {
		v = 1
	}
	return v
}

func sourceLabel(r searchResult) string {
	if r.Engine != "" {
		return r.Engine
	}
	if len(r.Engines) > 0 {
		return r.Engines[0]
	}
	if u, err := url.Parse(r.URL); err == nil && u.Host != "" {
		return u.Host
	}
	return "web"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
