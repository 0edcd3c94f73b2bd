package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		body     string
		wantType string
		wantUser string
		wantErr  bool
	}{
		{
			name:     "envelope",
			subject:  "events.SUBSCRIPTION_UPDATED",
			body:     `{"type":"SUBSCRIPTION_UPDATED","data":{"user_id":"u1"},"occurred_at":"2026-01-02T03:04:05Z"}`,
			wantType: "SUBSCRIPTION_UPDATED",
			wantUser: "u1",
		},
		{
			name:     "bare payload typed from subject",
			subject:  "events.SUBSCRIPTION_CANCELLED",
			body:     `{"user_id":"u2","plan":"pro"}`,
			wantType: "SUBSCRIPTION_CANCELLED",
			wantUser: "u2",
		},
		{name: "not json", subject: "events.X", body: `{`, wantErr: true},
		{name: "not an object", subject: "events.X", body: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := DecodeEvent(tt.subject, []byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, evt.EventType())
			assert.Equal(t, tt.wantUser, evt.Payload()["user_id"])
		})
	}
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "events.RESEARCH_STARTED", Subject("RESEARCH_STARTED"))
	assert.Equal(t, "events.>", Subject(">"))
}
