package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-research-be/pkg/research"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch <-chan research.Partial) []research.Partial {
	var out []research.Partial
	for p := range ch {
		out = append(out, p)
	}
	return out
}

func TestSubmitParsesSearchResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "quantum error correction", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results": [
			{"title": "Surface codes", "url": "https://arxiv.org/abs/1", "content": "Surface codes tolerate 1% error.", "engine": "arxiv", "score": 4},
			{"title": "Overview", "url": "https://en.wikipedia.org/wiki/QEC", "content": "", "engines": ["wikipedia"], "score": 2},
			{"title": "Dropped", "url": "https://example.com", "content": "over the limit", "score": 1}
		]}`))
	}))
	defer srv.Close()

	p := NewProducer("web", srv.URL+"/", 2)
	partials := collect(p.Submit(context.Background(), research.Query{Text: "quantum error correction"}))
	require.Len(t, partials, 3)

	first := partials[0].WebResult
	require.NotNil(t, first)
	assert.Equal(t, "Surface codes", first.Title)
	assert.Equal(t, "arxiv", first.Source)
	assert.InDelta(t, 1.0, first.Reliability, 1e-9)

	second := partials[1].WebResult
	require.NotNil(t, second)
	assert.Equal(t, "wikipedia", second.Source)
	assert.InDelta(t, 0.5, second.Reliability, 1e-9)

	done := partials[2].Done
	require.NotNil(t, done)
	assert.Equal(t, []string{"https://arxiv.org/abs/1", "https://en.wikipedia.org/wiki/QEC"}, done.Sources)
	assert.Equal(t, []string{"Surface codes: Surface codes tolerate 1% error."}, done.Findings)
	assert.InDelta(t, 0.75, done.Confidence, 1e-9)
}

func TestSubmitFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{name: "server error", status: http.StatusBadGateway, body: "upstream down", wantErr: "status 502"},
		{name: "no results", status: http.StatusOK, body: `{"results": []}`, wantErr: "no results"},
		{name: "malformed body", status: http.StatusOK, body: `{"results": [`, wantErr: "unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			partials := collect(NewProducer("web", srv.URL, 0).Submit(context.Background(), research.Query{Text: "x"}))
			require.Len(t, partials, 1)
			require.Error(t, partials[0].Err)
			assert.Contains(t, partials[0].Err.Error(), tt.wantErr)
		})
	}
}

func TestReliability(t *testing.T) {
	assert.InDelta(t, 0.5, reliability(0, 10), 1e-9)
	assert.InDelta(t, 0.5, reliability(3, 0), 1e-9)
	assert.InDelta(t, 0.25, reliability(1, 4), 1e-9)
}

func TestSourceLabelFallsBackToHost(t *testing.T) {
	assert.Equal(t, "example.org", sourceLabel(searchResult{URL: "https://example.org/page"}))
	assert.Equal(t, "web", sourceLabel(searchResult{URL: "::"}))
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", snippetLimit+10)
	got := truncate(long, snippetLimit)
	assert.Equal(t, snippetLimit+3, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "short", truncate("  short ", snippetLimit))
}
