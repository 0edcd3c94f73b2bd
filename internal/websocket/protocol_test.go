package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/entity"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/pkg/research"
	"ai-research-be/pkg/research/researchtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticResolver struct {
	sub entity.SubscriptionContext
	err error
}

func (r staticResolver) Resolve(context.Context, entity.Identity) (entity.SubscriptionContext, error) {
	return r.sub, r.err
}

type decodedFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []decodedFrame
}

func (r *frameRecorder) send(frame []byte) bool {
	var f decodedFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	return true
}

func (r *frameRecorder) ofType(eventType string) []decodedFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []decodedFrame
	for _, f := range r.frames {
		if f.Type == eventType {
			out = append(out, f)
		}
	}
	return out
}

func (r *frameRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

func frame(t *testing.T, eventType string, data interface{}) []byte {
	t.Helper()
	b, err := EncodeFrame(eventType, data)
	require.NoError(t, err)
	return b
}

func newTestProtocol(t *testing.T, sub entity.SubscriptionContext, producers ...research.ResultProducer) (*Protocol, *frameRecorder) {
	t.Helper()
	catalog, err := research.NewModeCatalog(research.VocabularyDepth, research.ProducerSet{Models: producers})
	require.NoError(t, err)

	rec := &frameRecorder{}
	cfg := research.AggregatorConfig{Timeout: 5 * time.Second, CancelGrace: 200 * time.Millisecond}
	p, err := NewProtocol(context.Background(), SessionDeps{
		Catalog:      catalog,
		Dispatcher:   research.NewAggregator(cfg, logger.NewNopLogger()),
		CancelGrace:  cfg.CancelGrace,
		Subscription: staticResolver{sub: sub},
	}, entity.Identity{UserID: "user-1", Email: "a@b.c"}, rec.send, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, rec
}

func TestNewProtocolSendsInitialStatus(t *testing.T) {
	_, rec := newTestProtocol(t, entity.NewSubscriptionContext(entity.TierPro), researchtest.Succeeding("m1", 0.5))

	statuses := rec.ofType(dto.EventSessionStatus)
	require.Len(t, statuses, 1)

	var st dto.SessionStatusResponse
	require.NoError(t, json.Unmarshal(statuses[0].Data, &st))
	assert.True(t, st.Authenticated)
	require.NotNil(t, st.Identity)
	assert.Equal(t, "user-1", st.Identity.UserID)
	assert.Equal(t, entity.SessionStatusIdle, st.Status)
	assert.Equal(t, entity.ModeQuick, st.Mode)
	assert.Equal(t, entity.TierPro, st.Tier)
	assert.NotEmpty(t, st.SessionID)
}

func TestNewProtocolResolverError(t *testing.T) {
	catalog, err := research.NewModeCatalog(research.VocabularyDepth, research.ProducerSet{})
	require.NoError(t, err)

	_, err = NewProtocol(context.Background(), SessionDeps{
		Catalog:      catalog,
		Subscription: staticResolver{err: errors.New("billing down")},
	}, entity.Identity{UserID: "user-1"}, func([]byte) bool { return true }, nil)
	assert.EqualError(t, err, "billing down")
}

func TestProtocolResearchQueryStreamsOutput(t *testing.T) {
	p, rec := newTestProtocol(t, entity.NewSubscriptionContext(entity.TierFree), researchtest.Succeeding("m1", 0.9, "finding"))

	require.NoError(t, p.Handle(frame(t, dto.EventResearchQuery, dto.ResearchQueryRequest{Query: "what is rust"})))

	require.Eventually(t, func() bool {
		return p.Machine().Snapshot().Status == entity.SessionStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	updates := rec.ofType(dto.EventOutputUpdate)
	require.NotEmpty(t, updates)

	var kinds []entity.OutputKind
	for i, f := range updates {
		var u dto.OutputUpdateResponse
		require.NoError(t, json.Unmarshal(f.Data, &u))
		assert.Equal(t, uint64(i+1), u.Sequence)
		kinds = append(kinds, u.Kind)
	}
	assert.Equal(t, entity.OutputKindInput, kinds[0])
	assert.Equal(t, entity.OutputKindOutput, kinds[len(kinds)-1])
	assert.Contains(t, kinds, entity.OutputKindAIAnalysis)

	var last dto.SessionStatusResponse
	statuses := rec.ofType(dto.EventSessionStatus)
	require.NoError(t, json.Unmarshal(statuses[len(statuses)-1].Data, &last))
	assert.Equal(t, entity.SessionStatusCompleted, last.Status)
	assert.Equal(t, uint64(len(updates)), last.LastSequence)
	require.NotNil(t, last.Result)
	assert.Equal(t, []string{"finding"}, last.Result.Findings)
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name     string
		frame    []byte
		wantCode string
	}{
		{name: "malformed json", frame: []byte(`{"type":`), wantCode: "VALIDATION_ERROR"},
		{name: "missing type", frame: []byte(`{"data":{}}`), wantCode: "VALIDATION_ERROR"},
		{name: "unknown type", frame: []byte(`{"type":"explode"}`), wantCode: "VALIDATION_ERROR"},
		{name: "malformed payload", frame: []byte(`{"type":"research_query","data":"nope"}`), wantCode: "VALIDATION_ERROR"},
		{name: "empty query", frame: []byte(`{"type":"research_query","data":{"query":"  "}}`), wantCode: "VALIDATION_ERROR"},
		{name: "mode change without mode", frame: []byte(`{"type":"mode_change","data":{}}`), wantCode: "VALIDATION_ERROR"},
		{name: "query too long", frame: frame(t, dto.EventResearchQuery, dto.ResearchQueryRequest{Query: strings.Repeat("q", 4001)}), wantCode: "VALIDATION_ERROR"},
		{name: "malformed resume", frame: []byte(`{"type":"resume","data":{"fromSequence":"x"}}`), wantCode: "VALIDATION_ERROR"},
		{name: "mode from other vocabulary", frame: []byte(`{"type":"mode_change","data":{"mode":"local"}}`), wantCode: "INVALID_MODE"},
		{name: "continuous without feature", frame: []byte(`{"type":"research_query","data":{"query":"q","mode":"continuous"}}`), wantCode: "INVALID_MODE"},
		{name: "stop while idle", frame: []byte(`{"type":"stop"}`), wantCode: "SESSION_BUSY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := newTestProtocol(t, entity.NewSubscriptionContext(entity.TierFree), researchtest.Succeeding("m1", 0.5))

			err := p.Handle(tt.frame)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, research.ErrorCode(err))

			errs := rec.ofType(dto.EventError)
			require.Len(t, errs, 1)
			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(errs[0].Data, &resp))
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, err.Error(), resp.Message)

			// rejected commands also land in the session log
			var logged []string
			for _, e := range p.Machine().Replay(0) {
				if e.Kind == entity.OutputKindError {
					logged = append(logged, e.Text)
				}
			}
			assert.Equal(t, []string{err.Error()}, logged)
		})
	}
}

func TestProtocolPing(t *testing.T) {
	tests := []struct {
		name  string
		data  interface{}
		check func(t *testing.T, ts int64)
	}{
		{
			name:  "echoes timestamp",
			data:  dto.PingRequest{Timestamp: 1700000000000},
			check: func(t *testing.T, ts int64) { assert.Equal(t, int64(1700000000000), ts) },
		},
		{
			name:  "fills missing timestamp",
			data:  nil,
			check: func(t *testing.T, ts int64) { assert.Positive(t, ts) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rec := newTestProtocol(t, entity.NewSubscriptionContext(entity.TierFree), researchtest.Succeeding("m1", 0.5))

			require.NoError(t, p.Handle(frame(t, dto.EventPing, tt.data)))

			pongs := rec.ofType(dto.EventPong)
			require.Len(t, pongs, 1)
			var pong dto.PongResponse
			require.NoError(t, json.Unmarshal(pongs[0].Data, &pong))
			tt.check(t, pong.Timestamp)
		})
	}
}

func TestProtocolModeChange(t *testing.T) {
	p, rec := newTestProtocol(t, entity.NewSubscriptionContext(entity.TierPro, entity.FeatureContinuousResearch), researchtest.Succeeding("m1", 0.5))
	rec.reset()

	require.NoError(t, p.Handle(frame(t, dto.EventModeChange, dto.ModeChangeRequest{Mode: "continuous"})))
	assert.Equal(t, entity.ModeContinuous, p.Machine().Snapshot().Mode)

	statuses := rec.ofType(dto.EventSessionStatus)
	require.Len(t, statuses, 1)
	var st dto.SessionStatusResponse
	require.NoError(t, json.Unmarshal(statuses[0].Data, &st))
	assert.Equal(t, entity.ModeContinuous, st.Mode)
}

func TestProtocolResumeReplaysAfterSequence(t *testing.T) {
	p, rec := newTestProtocol(t, entity.NewSubscriptionContext(entity.TierFree), researchtest.Succeeding("m1", 0.5, "f"))

	require.NoError(t, p.Handle(frame(t, dto.EventResearchQuery, dto.ResearchQueryRequest{Query: "q"})))
	require.Eventually(t, func() bool {
		return p.Machine().Snapshot().Status == entity.SessionStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)

	total := p.Machine().Log().LastSeq()
	require.Greater(t, total, uint64(2))

	rec.reset()
	require.NoError(t, p.Handle(frame(t, dto.EventResume, dto.ResumeRequest{FromSequence: 2})))

	updates := rec.ofType(dto.EventOutputUpdate)
	require.Len(t, updates, int(total-2))
	for i, f := range updates {
		var u dto.OutputUpdateResponse
		require.NoError(t, json.Unmarshal(f.Data, &u))
		assert.Equal(t, uint64(i+3), u.Sequence)
	}
	assert.Len(t, rec.ofType(dto.EventSessionStatus), 1)
}

func TestProtocolResetStartsNewSession(t *testing.T) {
	p, rec := newTestProtocol(t, entity.NewSubscriptionContext(entity.TierFree), researchtest.Succeeding("m1", 0.5))
	before := p.Machine().Snapshot().ID
	rec.reset()

	require.NoError(t, p.Handle(frame(t, dto.EventReset, nil)))

	after := p.Machine().Snapshot()
	assert.NotEqual(t, before, after.ID)
	assert.Equal(t, entity.SessionStatusIdle, after.Status)
	assert.Len(t, rec.ofType(dto.EventSessionStatus), 1)
}

func TestProtocolDroppedFrameDoesNotFail(t *testing.T) {
	catalog, err := research.NewModeCatalog(research.VocabularyDepth, research.ProducerSet{Models: []research.ResultProducer{researchtest.Succeeding("m1", 0.5)}})
	require.NoError(t, err)

	p, err := NewProtocol(context.Background(), SessionDeps{
		Catalog:      catalog,
		Dispatcher:   research.NewAggregator(research.DefaultAggregatorConfig(), logger.NewNopLogger()),
		Subscription: staticResolver{sub: entity.NewSubscriptionContext(entity.TierFree)},
	}, entity.Identity{UserID: "user-1"}, func([]byte) bool { return false }, logger.NewNopLogger())
	require.NoError(t, err)
	defer p.Close()

	assert.NoError(t, p.Handle([]byte(`{"type":"ping"}`)))
}

func TestEncodeFrame(t *testing.T) {
	b, err := EncodeFrame(dto.EventPong, dto.PongResponse{Timestamp: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","data":{"timestamp":42}}`, string(b))
}
