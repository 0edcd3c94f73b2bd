// FILE: internal/entity/research_entity.go
package entity

import (
	"encoding/json"
	"time"
)

type ResearchMode string
type SessionStatus string
type OutputKind string
type SubscriptionTier string

const (
	// Depth vocabulary
	ModeQuick         ResearchMode = "quick"
	ModeComprehensive ResearchMode = "comprehensive"
	ModeContinuous    ResearchMode = "continuous"

	// Source vocabulary
	ModeWeb   ResearchMode = "web"
	ModeLocal ResearchMode = "local"

	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusError     SessionStatus = "error"

	OutputKindInput      OutputKind = "input"
	OutputKindOutput     OutputKind = "output"
	OutputKindError      OutputKind = "error"
	OutputKindSystem     OutputKind = "system"
	OutputKindWebResult  OutputKind = "web-result"
	OutputKindAIAnalysis OutputKind = "ai-analysis"

	TierFree       SubscriptionTier = "free"
	TierBasic      SubscriptionTier = "basic"
	TierPro        SubscriptionTier = "pro"
	TierEnterprise SubscriptionTier = "enterprise"
	TierPremium    SubscriptionTier = "premium"

	// Feature keys (match features.key in the billing catalog)
	FeatureContinuousResearch = "continuous_research"
	FeatureLocalModelAccess   = "local_model_access"
)

// Session is one research run scoped to a single connection.
type Session struct {
	ID        string
	Mode      ResearchMode
	Status    SessionStatus
	Query     string
	Turn      int
	StartedAt time.Time
	EndedAt   *time.Time
	Result    *ResearchResult
	LastSeq   uint64 // filled on snapshots
}

// OutputEntry is one immutable unit of terminal output.
type OutputEntry struct {
	Seq        uint64
	Kind       OutputKind
	Text       string
	Timestamp  time.Time
	WebResults []WebResult
	AIAnalyses []AIAnalysis
}

type WebResult struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Snippet     string  `json:"snippet"`
	Source      string  `json:"source"`
	Reliability float64 `json:"reliability"`
}

type AIAnalysis struct {
	Model      string  `json:"model"`
	Analysis   string  `json:"analysis"`
	Confidence float64 `json:"confidence"`
}

// ResearchResult is created once per successful dispatch.
type ResearchResult struct {
	Summary        string          `json:"summary"`
	Sources        []string        `json:"sources"`
	Findings       []string        `json:"findings"`
	Confidence     float64         `json:"confidence"`
	KnowledgeGraph json.RawMessage `json:"knowledgeGraph,omitempty"`
}

// SubscriptionContext is supplied per connection and never mutated by the core.
type SubscriptionContext struct {
	Tier     SubscriptionTier
	Features map[string]bool
}

func NewSubscriptionContext(tier SubscriptionTier, features ...string) SubscriptionContext {
	set := make(map[string]bool, len(features))
	for _, f := range features {
		set[f] = true
	}
	return SubscriptionContext{Tier: tier, Features: set}
}

func (s SubscriptionContext) HasFeature(key string) bool {
	return s.Features[key]
}

// DefaultFeaturesForTier is used when the upstream provider only knows the tier.
func DefaultFeaturesForTier(tier SubscriptionTier) []string {
	switch tier {
	case TierPro:
		return []string{FeatureContinuousResearch}
	case TierEnterprise, TierPremium:
		return []string{FeatureContinuousResearch, FeatureLocalModelAccess}
	default:
		return nil
	}
}

// Identity is what the authentication provider vouches for on a connection.
type Identity struct {
	UserID   string
	Email    string
	Tier     SubscriptionTier // optional, from the token
	Features []string         // optional, from the token
	Role     string
}

const RoleAdmin = "admin"

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
