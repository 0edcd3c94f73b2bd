package research

import (
	"fmt"

	"ai-research-be/internal/entity"
)

// Vocabulary selects which mode enumeration a deployment speaks. The two are
// never mixed: a mode of the other vocabulary is rejected.
type Vocabulary string

const (
	VocabularyDepth  Vocabulary = "depth"  // quick | comprehensive | continuous
	VocabularySource Vocabulary = "source" // web | local
)

// ProducerSet is the process-wide producer configuration. It is read-only
// once handed to a catalog.
type ProducerSet struct {
	Web         []ResultProducer
	Models      []ResultProducer // first entry is the primary model
	LocalModels []ResultProducer
}

type ModeSpec struct {
	Mode            entity.ResearchMode `json:"mode"`
	Description     string              `json:"description"`
	RequiredFeature string              `json:"requiredFeature,omitempty"`
	Continuous      bool                `json:"continuous"`
}

type ModeCatalog struct {
	vocabulary Vocabulary
	order      []entity.ResearchMode
	specs      map[entity.ResearchMode]ModeSpec
	producers  ProducerSet
}

func NewModeCatalog(vocabulary Vocabulary, producers ProducerSet) (*ModeCatalog, error) {
	var specs []ModeSpec
	switch vocabulary {
	case VocabularyDepth:
		specs = []ModeSpec{
			{Mode: entity.ModeQuick, Description: "Web search plus the primary model"},
			{Mode: entity.ModeComprehensive, Description: "Web search plus every configured model"},
			{Mode: entity.ModeContinuous, Description: "Comprehensive research that stays open for follow-up turns", RequiredFeature: entity.FeatureContinuousResearch, Continuous: true},
		}
	case VocabularySource:
		specs = []ModeSpec{
			{Mode: entity.ModeWeb, Description: "Web search plus cloud models"},
			{Mode: entity.ModeLocal, Description: "Local models only", RequiredFeature: entity.FeatureLocalModelAccess},
		}
	default:
		return nil, fmt.Errorf("unknown mode vocabulary %q", vocabulary)
	}

	c := &ModeCatalog{
		vocabulary: vocabulary,
		specs:      make(map[entity.ResearchMode]ModeSpec, len(specs)),
		producers:  producers,
	}
	for _, s := range specs {
		c.order = append(c.order, s.Mode)
		c.specs[s.Mode] = s
	}
	return c, nil
}

func (c *ModeCatalog) Vocabulary() Vocabulary {
	return c.vocabulary
}

func (c *ModeCatalog) DefaultMode() entity.ResearchMode {
	return c.order[0]
}

func (c *ModeCatalog) Modes() []ModeSpec {
	out := make([]ModeSpec, 0, len(c.order))
	for _, m := range c.order {
		out = append(out, c.specs[m])
	}
	return out
}

func (c *ModeCatalog) Spec(mode entity.ResearchMode) (ModeSpec, bool) {
	s, ok := c.specs[mode]
	return s, ok
}

// Validate checks mode and the local-model switch against the subscription.
// useLocalModel only has meaning in the depth vocabulary.
func (c *ModeCatalog) Validate(sub entity.SubscriptionContext, mode entity.ResearchMode, useLocalModel bool) (ModeSpec, error) {
	spec, ok := c.specs[mode]
	if !ok {
		return ModeSpec{}, &InvalidModeError{Mode: mode}
	}
	if spec.RequiredFeature != "" && !sub.HasFeature(spec.RequiredFeature) {
		return ModeSpec{}, &InvalidModeError{Mode: mode, Feature: spec.RequiredFeature}
	}
	if useLocalModel && c.vocabulary == VocabularyDepth && !sub.HasFeature(entity.FeatureLocalModelAccess) {
		return ModeSpec{}, &InvalidModeError{Mode: mode, Feature: entity.FeatureLocalModelAccess}
	}
	if len(c.Producers(mode, useLocalModel)) == 0 {
		return ModeSpec{}, &InvalidModeError{Mode: mode}
	}
	return spec, nil
}

// Allowed reports whether sub may use mode, for listing purposes.
func (c *ModeCatalog) Allowed(sub entity.SubscriptionContext, mode entity.ResearchMode) bool {
	_, err := c.Validate(sub, mode, false)
	return err == nil
}

// Producers returns the ordered producer set for mode.
func (c *ModeCatalog) Producers(mode entity.ResearchMode, useLocalModel bool) []ResultProducer {
	models := c.producers.Models
	if useLocalModel && c.vocabulary == VocabularyDepth {
		models = c.producers.LocalModels
	}

	var out []ResultProducer
	switch mode {
	case entity.ModeQuick:
		out = append(out, c.producers.Web...)
		if len(models) > 0 {
			out = append(out, models[0])
		}
	case entity.ModeComprehensive, entity.ModeContinuous, entity.ModeWeb:
		out = append(out, c.producers.Web...)
		out = append(out, models...)
	case entity.ModeLocal:
		out = append(out, c.producers.LocalModels...)
	}
	return out
}
