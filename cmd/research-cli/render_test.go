package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/entity"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		useLocal bool
		wantType string
		wantData string
		wantQuit bool
		wantErr  bool
	}{
		{name: "blank", line: "   "},
		{name: "query", line: " what is rust ", wantType: dto.EventResearchQuery, wantData: `{"query":"what is rust","mode":"","useLocalModel":false}`},
		{name: "local query", line: "q", useLocal: true, wantType: dto.EventResearchQuery, wantData: `{"query":"q","mode":"","useLocalModel":true}`},
		{name: "quit", line: "/quit", wantQuit: true},
		{name: "exit", line: "/exit", wantQuit: true},
		{name: "stop", line: "/stop", wantType: dto.EventStop, wantData: `{}`},
		{name: "reset", line: "/reset", wantType: dto.EventReset, wantData: `{}`},
		{name: "mode", line: "/mode continuous", wantType: dto.EventModeChange, wantData: `{"mode":"continuous"}`},
		{name: "mode without name", line: "/mode", wantErr: true},
		{name: "resume", line: "/resume 12", wantType: dto.EventResume, wantData: `{"fromSequence":12}`},
		{name: "resume from start", line: "/resume", wantType: dto.EventResume, wantData: `{"fromSequence":0}`},
		{name: "resume bad sequence", line: "/resume ten", wantErr: true},
		{name: "unknown command", line: "/dance", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, quit, err := parseLine(tt.line, tt.useLocal)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantQuit, quit)
			if tt.wantType == "" {
				assert.Nil(t, frame)
				return
			}

			var env dto.Envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			assert.Equal(t, tt.wantType, env.Type)
			assert.JSONEq(t, tt.wantData, string(env.Data))
		})
	}
}

func outputFrame(t *testing.T, sessionID string, seq uint64, kind entity.OutputKind, text string) []byte {
	t.Helper()
	b, err := encode(dto.EventOutputUpdate, dto.OutputUpdateResponse{SessionID: sessionID, Sequence: seq, Kind: kind, Text: text})
	require.NoError(t, err)
	return b
}

// renderAll renders frames that must not trigger a resume.
func renderAll(t *testing.T, term *terminal, frames ...[]byte) {
	t.Helper()
	for _, f := range frames {
		resume, err := term.render(f)
		require.NoError(t, err)
		require.Nil(t, resume)
	}
}

func TestRenderSkipsReplayedEntries(t *testing.T) {
	var buf bytes.Buffer
	term := &terminal{out: &buf}

	renderAll(t, term,
		outputFrame(t, "s1", 1, entity.OutputKindInput, "what is rust"),
		outputFrame(t, "s1", 2, entity.OutputKindSystem, "Researching"),
		outputFrame(t, "s1", 1, entity.OutputKindInput, "what is rust"),
		outputFrame(t, "s1", 3, entity.OutputKindError, "[web] failed"),
	)

	assert.Equal(t, "> what is rust\n* Researching\nx [web] failed\n", buf.String())
}

func TestRenderNewSessionRestartsSequence(t *testing.T) {
	var buf bytes.Buffer
	term := &terminal{out: &buf}

	renderAll(t, term,
		outputFrame(t, "s1", 1, entity.OutputKindInput, "first"),
		outputFrame(t, "s1", 2, entity.OutputKindOutput, "answer"),
		outputFrame(t, "s2", 1, entity.OutputKindInput, "second"),
	)

	assert.Equal(t, "> first\nanswer\n> second\n", buf.String())
}

func TestRenderStatusAndErrors(t *testing.T) {
	var buf bytes.Buffer
	term := &terminal{out: &buf}

	status, err := encode(dto.EventSessionStatus, dto.SessionStatusResponse{
		SessionID: "s1",
		Status:    entity.SessionStatusActive,
		Mode:      entity.ModeQuick,
		Tier:      entity.TierFree,
	})
	require.NoError(t, err)
	errFrame, err := encode(dto.EventError, dto.ErrorResponse{Message: "session busy", Code: "SESSION_BUSY"})
	require.NoError(t, err)
	pong, err := encode(dto.EventPong, dto.PongResponse{Timestamp: 1})
	require.NoError(t, err)

	renderAll(t, term, status, errFrame, pong)
	_, err = term.render([]byte("{"))
	assert.Error(t, err)

	assert.Equal(t, "[active | mode quick | tier free]\n! session busy (SESSION_BUSY)\n", buf.String())
}

func resumeFrom(t *testing.T, frame []byte) uint64 {
	t.Helper()
	require.NotNil(t, frame)
	var env dto.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	require.Equal(t, dto.EventResume, env.Type)
	var req dto.ResumeRequest
	require.NoError(t, json.Unmarshal(env.Data, &req))
	return req.FromSequence
}

func TestRenderRequestsResumeOnGap(t *testing.T) {
	var buf bytes.Buffer
	term := &terminal{out: &buf}

	renderAll(t, term,
		outputFrame(t, "s1", 1, entity.OutputKindInput, "q"),
		outputFrame(t, "s1", 2, entity.OutputKindSystem, "Researching"),
	)

	// seq 3 never arrived
	resume, err := term.render(outputFrame(t, "s1", 4, entity.OutputKindOutput, "answer"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), resumeFrom(t, resume))

	// no second request while the replay is pending
	resume, err = term.render(outputFrame(t, "s1", 5, entity.OutputKindSystem, "done"))
	require.NoError(t, err)
	assert.Nil(t, resume)

	renderAll(t, term,
		outputFrame(t, "s1", 3, entity.OutputKindAIAnalysis, "[m1] analysis"),
		outputFrame(t, "s1", 4, entity.OutputKindOutput, "answer"),
		outputFrame(t, "s1", 5, entity.OutputKindSystem, "done"),
	)
	assert.Equal(t, "> q\n* Researching\n[missed entries after #2, resuming]\n  [m1] analysis\nanswer\n* done\n", buf.String())
}

func TestRenderRequestsResumeWhenStatusIsAhead(t *testing.T) {
	var buf bytes.Buffer
	term := &terminal{out: &buf}
	renderAll(t, term, outputFrame(t, "s1", 1, entity.OutputKindInput, "q"))

	status, err := encode(dto.EventSessionStatus, dto.SessionStatusResponse{
		SessionID:    "s1",
		Status:       entity.SessionStatusCompleted,
		LastSequence: 3,
	})
	require.NoError(t, err)

	resume, err := term.render(status)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), resumeFrom(t, resume))
}
