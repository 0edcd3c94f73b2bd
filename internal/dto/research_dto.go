package dto

import (
	"encoding/json"
	"time"

	"ai-research-be/internal/entity"
)

// Inbound websocket event types.
const (
	EventResearchQuery = "research_query"
	EventModeChange    = "mode_change"
	EventStop          = "stop"
	EventReset         = "reset"
	EventResume        = "resume"
	EventPing          = "ping"
)

// Outbound websocket event types.
const (
	EventOutputUpdate  = "output_update"
	EventSessionStatus = "session_status"
	EventError         = "error"
	EventPong          = "pong"
)

// Envelope is the frame shape in both directions.
type Envelope struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ResearchQueryRequest struct {
	Query         string `json:"query" validate:"max=4000"`
	Mode          string `json:"mode" validate:"omitempty,max=32"`
	UseLocalModel bool   `json:"useLocalModel"`
}

type ModeChangeRequest struct {
	Mode string `json:"mode" validate:"required,max=32"`
}

type ResumeRequest struct {
	FromSequence uint64 `json:"fromSequence"`
}

type PingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type OutputUpdateResponse struct {
	SessionID  string              `json:"sessionId"`
	Sequence   uint64              `json:"sequence"`
	Kind       entity.OutputKind   `json:"kind"`
	Text       string              `json:"text"`
	Timestamp  time.Time           `json:"timestamp"`
	WebResults []entity.WebResult  `json:"webResults,omitempty"`
	AIAnalyses []entity.AIAnalysis `json:"aiAnalyses,omitempty"`
}

type IdentityResponse struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
}

type SessionStatusResponse struct {
	Authenticated bool                    `json:"authenticated"`
	Identity      *IdentityResponse       `json:"identity,omitempty"`
	SessionID     string                  `json:"sessionId"`
	Status        entity.SessionStatus    `json:"status"`
	Mode          entity.ResearchMode     `json:"mode"`
	Tier          entity.SubscriptionTier `json:"tier"`
	Turn          int                     `json:"turn"`
	LastSequence  uint64                  `json:"lastSequence"`
	Result        *entity.ResearchResult  `json:"result,omitempty"`
}

type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type PongResponse struct {
	Timestamp int64 `json:"timestamp"`
}

type ModeResponse struct {
	Mode            entity.ResearchMode `json:"mode"`
	Description     string              `json:"description"`
	RequiredFeature string              `json:"requiredFeature,omitempty"`
	Continuous      bool                `json:"continuous"`
	Allowed         bool                `json:"allowed"`
}

type ModesResponse struct {
	Vocabulary string         `json:"vocabulary"`
	Default    string         `json:"default"`
	Tier       string         `json:"tier"`
	Modes      []ModeResponse `json:"modes"`
}

type SessionOutputResponse struct {
	SessionID string                 `json:"sessionId"`
	LastSeq   uint64                 `json:"lastSequence"`
	Entries   []OutputUpdateResponse `json:"entries"`
}

type BroadcastRequest struct {
	Message string `json:"message" validate:"required,max=1000"`
}

func ToOutputUpdate(sessionID string, e entity.OutputEntry) OutputUpdateResponse {
	return OutputUpdateResponse{
		SessionID:  sessionID,
		Sequence:   e.Seq,
		Kind:       e.Kind,
		Text:       e.Text,
		Timestamp:  e.Timestamp,
		WebResults: e.WebResults,
		AIAnalyses: e.AIAnalyses,
	}
}
