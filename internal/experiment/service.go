package experiment

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/brightreach/engagement-engine/internal/segment"
)

// Recorder counts service outcomes for observability. Implementations must
// be safe for concurrent use; a nil Recorder disables counting.
type Recorder interface {
	AssignmentCreated()
	ConversionRecorded()
	OrphanConversionDropped()
}

// ContentValidator checks whether a content reference still points at a
// renderable content object. The content catalog itself is an external
// collaborator.
type ContentValidator interface {
	IsValid(ctx context.Context, contentRef string) bool
}

// Service implements variant assignment and conversion attribution.
type Service struct {
	repo           Repository
	recorder       Recorder
	defaultContent string

	// intn is the draw source, injectable for deterministic tests.
	intn func(n int) int
}

// NewService creates an experiment service. recorder may be nil.
func NewService(repo Repository, recorder Recorder, defaultContent string) *Service {
	return &Service{
		repo:           repo,
		recorder:       recorder,
		defaultContent: defaultContent,
		intn:           rand.Intn,
	}
}

// CreateDraft persists a new draft experiment. Empty targeting fields widen
// to the wildcard; drafts never serve traffic until activated, so overlap
// checking waits for Activate.
func (s *Service) CreateDraft(ctx context.Context, key string, targeting Targeting, variants []Variant) (*Experiment, error) {
	if key == "" {
		return nil, fmt.Errorf("experiment key is required")
	}
	if len(variants) == 0 {
		return nil, ErrNoVariants
	}
	if targeting.Persona == "" {
		targeting.Persona = TargetAll
	}
	if targeting.FunnelStage == "" {
		targeting.FunnelStage = TargetAll
	}

	exp := &Experiment{
		Key:       key,
		Targeting: targeting,
		Variants:  variants,
	}
	if err := s.repo.CreateExperiment(ctx, exp); err != nil {
		return nil, fmt.Errorf("create experiment: %w", err)
	}
	return exp, nil
}

// GetOrAssign returns the visitor's variant for an experiment key, assigning
// one on first contact. An existing assignment is returned unconditionally,
// never re-rolled. When no active experiment targets the segment the return
// is nil: the control/default path.
func (s *Service) GetOrAssign(ctx context.Context, visitorID, key string, seg segment.Segment) (*Variant, error) {
	existing, err := s.repo.GetAssignment(ctx, visitorID, key)
	if err != nil {
		return nil, fmt.Errorf("lookup assignment: %w", err)
	}
	if existing != nil {
		return s.variantFor(ctx, existing)
	}

	exp, err := s.matchExperiment(ctx, key, seg)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, nil
	}
	if len(exp.Variants) == 0 {
		return nil, ErrNoVariants
	}

	chosen := exp.Variants[s.draw(exp.Variants)]
	winner, created, err := s.repo.CreateAssignment(ctx, &Assignment{
		VisitorID:     visitorID,
		ExperimentKey: key,
		VariantID:     chosen.ID,
		AssignedAt:    time.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("persist assignment: %w", err)
	}
	if !created {
		// A concurrent request assigned first; its variant stands.
		return s.variantFor(ctx, winner)
	}
	if s.recorder != nil {
		s.recorder.AssignmentCreated()
	}
	return &chosen, nil
}

// RecordConversion attributes a goal to the visitor's assignment. A
// conversion for a visitor who was never enrolled is dropped with a warning,
// never an error. Duplicate goals are recorded as-is; the aggregator
// de-duplicates first-write (earliest OccurredAt wins).
func (s *Service) RecordConversion(ctx context.Context, visitorID, key, goal string) error {
	a, err := s.repo.GetAssignment(ctx, visitorID, key)
	if err != nil {
		return fmt.Errorf("lookup assignment: %w", err)
	}
	if a == nil {
		log.Printf("[Experiments] dropping conversion %q for unassigned visitor %s on %s", goal, visitorID, key)
		if s.recorder != nil {
			s.recorder.OrphanConversionDropped()
		}
		return nil
	}

	err = s.repo.InsertConversion(ctx, &ConversionEvent{
		ID:            uuid.New(),
		VisitorID:     visitorID,
		ExperimentKey: key,
		VariantID:     a.VariantID,
		Goal:          goal,
		OccurredAt:    time.Now(),
	})
	if err != nil {
		return fmt.Errorf("persist conversion: %w", err)
	}
	if s.recorder != nil {
		s.recorder.ConversionRecorded()
	}
	return nil
}

// Activate transitions a draft experiment to active, rejecting it when
// another active experiment for the same key has overlapping targeting.
// Conflicts are fatal here so they can never affect live traffic.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) error {
	exp, err := s.repo.GetExperiment(ctx, id)
	if err != nil {
		return err
	}
	if exp.Status != StatusDraft {
		return ErrNotActivatable
	}
	if len(exp.Variants) == 0 {
		return ErrNoVariants
	}

	active, err := s.repo.ActiveExperiments(ctx, exp.Key)
	if err != nil {
		return fmt.Errorf("list active experiments: %w", err)
	}
	for _, other := range active {
		if other.ID != exp.ID && exp.Targeting.Overlaps(other.Targeting) {
			return fmt.Errorf("%w: %s conflicts with %s", ErrConfigConflict, exp.ID, other.ID)
		}
	}
	return s.repo.SetStatus(ctx, id, StatusActive)
}

// ConversionResults reports first-write de-duplicated conversion counts per
// variant for an experiment key.
func (s *Service) ConversionResults(ctx context.Context, key string) (map[uuid.UUID]int, error) {
	counts, err := s.repo.ConversionsByVariant(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("count conversions: %w", err)
	}
	return counts, nil
}

// ResolveContent resolves a page element's content reference with the
// three-tier fallback: the assigned variant's content when it still points
// at a valid object, then the segment-matched default, then the hardcoded
// default. It never returns an empty reference.
func (s *Service) ResolveContent(ctx context.Context, visitorID, key string, seg segment.Segment, segmentDefault string, validator ContentValidator) string {
	v, err := s.GetOrAssign(ctx, visitorID, key, seg)
	if err != nil {
		log.Printf("[Experiments] content resolution falling through for %s on %s: %v", visitorID, key, err)
	} else if v != nil && v.ContentRef != "" && validator.IsValid(ctx, v.ContentRef) {
		return v.ContentRef
	}

	if segmentDefault != "" && validator.IsValid(ctx, segmentDefault) {
		return segmentDefault
	}
	return s.defaultContent
}

// matchExperiment finds the unique active experiment targeting the segment.
// The most specific match wins; two distinct matches at the same specificity
// are a configuration conflict and the call is rejected rather than letting
// results vary across calls.
func (s *Service) matchExperiment(ctx context.Context, key string, seg segment.Segment) (*Experiment, error) {
	active, err := s.repo.ActiveExperiments(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("list active experiments: %w", err)
	}

	var best *Experiment
	bestScore := -1
	conflict := false
	for i := range active {
		exp := &active[i]
		if !exp.Targeting.Matches(seg) {
			continue
		}
		score := exp.Targeting.Specificity()
		switch {
		case score > bestScore:
			best, bestScore, conflict = exp, score, false
		case score == bestScore:
			conflict = true
		}
	}
	if conflict {
		return nil, fmt.Errorf("%w: key %s", ErrConfigConflict, key)
	}
	return best, nil
}

// draw picks a variant index by relative weight; unweighted variants count
// as weight 1.
func (s *Service) draw(variants []Variant) int {
	total := 0
	for _, v := range variants {
		total += max(v.Weight, 1)
	}
	n := s.intn(total)
	for i, v := range variants {
		n -= max(v.Weight, 1)
		if n < 0 {
			return i
		}
	}
	return len(variants) - 1
}

// variantFor resolves an assignment back to its variant. A retired variant
// comes back as a bare ID so the caller still sees a stable assignment.
func (s *Service) variantFor(ctx context.Context, a *Assignment) (*Variant, error) {
	v, err := s.repo.GetVariant(ctx, a.VariantID)
	if err != nil {
		return nil, fmt.Errorf("lookup variant: %w", err)
	}
	if v == nil {
		return &Variant{ID: a.VariantID}, nil
	}
	return v, nil
}
