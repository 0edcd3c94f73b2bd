package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/entity"

	"github.com/fatih/color"
)

var (
	inputColor    = color.New(color.FgCyan, color.Bold)
	outputColor   = color.New(color.FgWhite)
	errorColor    = color.New(color.FgRed)
	systemColor   = color.New(color.FgYellow)
	webColor      = color.New(color.FgBlue)
	analysisColor = color.New(color.FgMagenta)
	statusColor   = color.New(color.Faint)
)

// terminal tracks what has been printed so replays after /resume do not
// repeat entries, and notices when the server skipped some.
type terminal struct {
	out       io.Writer
	sessionID string
	lastSeq   uint64
	resuming  bool
}

// render prints one inbound frame. When it sees a sequence gap it returns a
// resume frame for the caller to send; entries past the gap are held back
// until the replay fills it.
func (t *terminal) render(frame []byte) (resume []byte, err error) {
	var env dto.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch env.Type {
	case dto.EventOutputUpdate:
		var u dto.OutputUpdateResponse
		if err := json.Unmarshal(env.Data, &u); err != nil {
			return nil, fmt.Errorf("decode output_update: %w", err)
		}
		if u.SessionID != t.sessionID {
			t.sessionID = u.SessionID
			t.lastSeq = 0
			t.resuming = false
		}
		if u.Sequence <= t.lastSeq {
			return nil, nil
		}
		if u.Sequence > t.lastSeq+1 {
			if t.resuming {
				return nil, nil
			}
			t.resuming = true
			statusColor.Fprintf(t.out, "[missed entries after #%d, resuming]\n", t.lastSeq)
			return encode(dto.EventResume, dto.ResumeRequest{FromSequence: t.lastSeq})
		}
		t.lastSeq = u.Sequence
		t.resuming = false
		t.entry(u)

	case dto.EventSessionStatus:
		var s dto.SessionStatusResponse
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, fmt.Errorf("decode session_status: %w", err)
		}
		if s.SessionID != t.sessionID {
			t.sessionID = s.SessionID
			t.lastSeq = 0
			t.resuming = false
		}
		statusColor.Fprintf(t.out, "[%s | mode %s | tier %s]\n", s.Status, s.Mode, s.Tier)
		if s.LastSequence > t.lastSeq && !t.resuming {
			t.resuming = true
			return encode(dto.EventResume, dto.ResumeRequest{FromSequence: t.lastSeq})
		}

	case dto.EventError:
		var e dto.ErrorResponse
		if err := json.Unmarshal(env.Data, &e); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		errorColor.Fprintf(t.out, "! %s (%s)\n", e.Message, e.Code)

	case dto.EventPong:
	default:
		statusColor.Fprintf(t.out, "? unknown event %s\n", env.Type)
	}
	return nil, nil
}

func (t *terminal) entry(u dto.OutputUpdateResponse) {
	switch u.Kind {
	case entity.OutputKindInput:
		inputColor.Fprintf(t.out, "> %s\n", u.Text)
	case entity.OutputKindOutput:
		outputColor.Fprintf(t.out, "%s\n", u.Text)
	case entity.OutputKindError:
		errorColor.Fprintf(t.out, "x %s\n", u.Text)
	case entity.OutputKindWebResult:
		webColor.Fprintf(t.out, "  %s\n", u.Text)
	case entity.OutputKindAIAnalysis:
		analysisColor.Fprintf(t.out, "  %s\n", u.Text)
	default:
		systemColor.Fprintf(t.out, "* %s\n", u.Text)
	}
}

// parseLine turns a line of user input into an outbound frame. quit is set
// for /quit.
func parseLine(line string, useLocal bool) (frame []byte, quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, false, nil
	}
	if !strings.HasPrefix(line, "/") {
		frame, err = encode(dto.EventResearchQuery, dto.ResearchQueryRequest{Query: line, UseLocalModel: useLocal})
		return frame, false, err
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "quit", "exit":
		return nil, true, nil
	case "stop":
		frame, err = encode(dto.EventStop, struct{}{})
	case "reset":
		frame, err = encode(dto.EventReset, struct{}{})
	case "mode":
		if arg == "" {
			return nil, false, fmt.Errorf("usage: /mode <name>")
		}
		frame, err = encode(dto.EventModeChange, dto.ModeChangeRequest{Mode: arg})
	case "resume":
		var from uint64
		if arg != "" {
			if from, err = strconv.ParseUint(arg, 10, 64); err != nil {
				return nil, false, fmt.Errorf("usage: /resume <sequence>")
			}
		}
		frame, err = encode(dto.EventResume, dto.ResumeRequest{FromSequence: from})
	default:
		return nil, false, fmt.Errorf("unknown command /%s", cmd)
	}
	return frame, false, err
}

func encode(eventType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(dto.Envelope{Type: eventType, Data: raw})
}
