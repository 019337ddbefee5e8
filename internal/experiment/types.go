package experiment

import (
	"time"

	"github.com/google/uuid"

	"github.com/brightreach/engagement-engine/internal/segment"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// TargetAll is the wildcard value for a targeting dimension.
const TargetAll = "all"

// Targeting is the segment pattern an experiment serves. Either dimension
// may be the wildcard "all".
type Targeting struct {
	Persona     string `json:"persona"`
	FunnelStage string `json:"funnel_stage"`
}

// Matches reports whether the targeting pattern covers the given segment.
// A wildcard dimension matches anything, including an unresolved one.
func (t Targeting) Matches(seg segment.Segment) bool {
	if t.Persona != TargetAll && t.Persona != string(seg.Persona) {
		return false
	}
	if t.FunnelStage != TargetAll && t.FunnelStage != string(seg.FunnelStage) {
		return false
	}
	return true
}

// Specificity ranks targeting patterns so the most specific match wins.
// An exact persona outranks an exact funnel stage, so the order is total:
// exact/exact > exact/wildcard > wildcard/exact > wildcard/wildcard.
func (t Targeting) Specificity() int {
	score := 0
	if t.Persona != TargetAll {
		score += 2
	}
	if t.FunnelStage != TargetAll {
		score++
	}
	return score
}

// Overlaps reports whether two targeting patterns can both match some
// segment. Used to reject conflicting active experiments at activation time.
func (t Targeting) Overlaps(other Targeting) bool {
	if t.Persona != TargetAll && other.Persona != TargetAll && t.Persona != other.Persona {
		return false
	}
	if t.FunnelStage != TargetAll && other.FunnelStage != TargetAll && t.FunnelStage != other.FunnelStage {
		return false
	}
	return true
}

// Variant is one candidate presentation of an experiment.
type Variant struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	ContentRef string    `json:"content_ref"`
	Weight     int       `json:"weight"` // relative draw weight; 0 means 1
}

// Experiment is an A/B test definition.
type Experiment struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	Targeting Targeting `json:"targeting"`
	Status    Status    `json:"status"`
	Variants  []Variant `json:"variants"`
	CreatedAt time.Time `json:"created_at"`
}

// Assignment is the durable visitor-to-variant binding for one experiment.
type Assignment struct {
	VisitorID     string    `json:"visitor_id"`
	ExperimentKey string    `json:"experiment_key"`
	VariantID     uuid.UUID `json:"variant_id"`
	AssignedAt    time.Time `json:"assigned_at"`
}

// ConversionEvent records a goal reached by an assigned visitor.
type ConversionEvent struct {
	ID            uuid.UUID `json:"id"`
	VisitorID     string    `json:"visitor_id"`
	ExperimentKey string    `json:"experiment_key"`
	VariantID     uuid.UUID `json:"variant_id"`
	Goal          string    `json:"goal"`
	OccurredAt    time.Time `json:"occurred_at"`
}
