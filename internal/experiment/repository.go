package experiment

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines the data access contract for experiments, assignments,
// and conversions. Implementations must be safe for concurrent use.
type Repository interface {
	// CreateExperiment persists a draft experiment with its variants,
	// filling in missing IDs.
	CreateExperiment(ctx context.Context, exp *Experiment) error

	// GetExperiment returns a single experiment with its variants.
	// Returns ErrNotFound if it doesn't exist.
	GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error)

	// ActiveExperiments returns all active experiments for a key, variants
	// included.
	ActiveExperiments(ctx context.Context, key string) ([]Experiment, error)

	// SetStatus transitions an experiment's lifecycle status.
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error

	// GetAssignment returns the visitor's assignment for an experiment key,
	// or nil when none exists.
	GetAssignment(ctx context.Context, visitorID, key string) (*Assignment, error)

	// CreateAssignment persists an assignment with assign-if-absent
	// semantics: when a concurrent request won the race, the first writer's
	// assignment is returned and created is false. The write must be
	// guarded by a unique constraint, never a read-then-write.
	CreateAssignment(ctx context.Context, a *Assignment) (winner *Assignment, created bool, err error)

	// GetVariant returns a variant by ID, or nil when it no longer exists.
	GetVariant(ctx context.Context, id uuid.UUID) (*Variant, error)

	// InsertConversion persists a conversion event.
	InsertConversion(ctx context.Context, ev *ConversionEvent) error

	// ConversionsByVariant counts conversions per variant for an experiment
	// key. Duplicate goals for one visitor collapse to the earliest event,
	// so re-firing a goal never inflates a variant's count.
	ConversionsByVariant(ctx context.Context, key string) (map[uuid.UUID]int, error)
}
