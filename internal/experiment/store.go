package experiment

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store is the Postgres-backed Repository implementation.
type Store struct {
	db *sql.DB
}

// NewStore creates a new experiment store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateExperiment inserts a draft experiment and its variants.
func (s *Store) CreateExperiment(ctx context.Context, exp *Experiment) error {
	if exp.ID == uuid.Nil {
		exp.ID = uuid.New()
	}
	exp.Status = StatusDraft
	exp.CreatedAt = time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO experiments (id, key, persona, funnel_stage, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, exp.ID, exp.Key, exp.Targeting.Persona, exp.Targeting.FunnelStage, exp.Status, exp.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}

	for i := range exp.Variants {
		v := &exp.Variants[i]
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO experiment_variants (id, experiment_id, name, content_ref, weight)
			VALUES ($1, $2, $3, $4, $5)
		`, v.ID, exp.ID, v.Name, v.ContentRef, v.Weight)
		if err != nil {
			return fmt.Errorf("insert variant %s: %w", v.Name, err)
		}
	}

	return tx.Commit()
}

// GetExperiment retrieves an experiment with its variants.
func (s *Store) GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error) {
	exp := &Experiment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, key, persona, funnel_stage, status, created_at
		FROM experiments WHERE id = $1
	`, id).Scan(&exp.ID, &exp.Key, &exp.Targeting.Persona, &exp.Targeting.FunnelStage, &exp.Status, &exp.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query experiment: %w", err)
	}

	if err := s.loadVariants(ctx, []*Experiment{exp}); err != nil {
		return nil, err
	}
	return exp, nil
}

// ActiveExperiments returns all active experiments for a key.
func (s *Store) ActiveExperiments(ctx context.Context, key string) ([]Experiment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, persona, funnel_stage, status, created_at
		FROM experiments WHERE key = $1 AND status = 'active'
		ORDER BY created_at
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query active experiments: %w", err)
	}
	defer rows.Close()

	var exps []Experiment
	for rows.Next() {
		var exp Experiment
		if err := rows.Scan(&exp.ID, &exp.Key, &exp.Targeting.Persona, &exp.Targeting.FunnelStage, &exp.Status, &exp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan experiment: %w", err)
		}
		exps = append(exps, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*Experiment, len(exps))
	for i := range exps {
		ptrs[i] = &exps[i]
	}
	if err := s.loadVariants(ctx, ptrs); err != nil {
		return nil, err
	}
	return exps, nil
}

// loadVariants attaches variants to the given experiments in one query.
func (s *Store) loadVariants(ctx context.Context, exps []*Experiment) error {
	if len(exps) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(exps))
	byID := make(map[uuid.UUID]*Experiment, len(exps))
	for i, exp := range exps {
		ids[i] = exp.ID
		byID[exp.ID] = exp
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, experiment_id, name, content_ref, weight
		FROM experiment_variants WHERE experiment_id = ANY($1)
		ORDER BY name
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v Variant
		var expID uuid.UUID
		if err := rows.Scan(&v.ID, &expID, &v.Name, &v.ContentRef, &v.Weight); err != nil {
			return fmt.Errorf("scan variant: %w", err)
		}
		if exp, ok := byID[expID]; ok {
			exp.Variants = append(exp.Variants, v)
		}
	}
	return rows.Err()
}

// SetStatus transitions an experiment's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE experiments SET status = $2 WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAssignment retrieves the visitor's assignment for an experiment key.
func (s *Store) GetAssignment(ctx context.Context, visitorID, key string) (*Assignment, error) {
	a := &Assignment{}
	err := s.db.QueryRowContext(ctx, `
		SELECT visitor_id, experiment_key, variant_id, assigned_at
		FROM experiment_assignments WHERE visitor_id = $1 AND experiment_key = $2
	`, visitorID, key).Scan(&a.VisitorID, &a.ExperimentKey, &a.VariantID, &a.AssignedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query assignment: %w", err)
	}
	return a, nil
}

// CreateAssignment performs the conditional upsert that makes assignment
// exactly-once: ON CONFLICT DO NOTHING against the (visitor_id,
// experiment_key) primary key, then a re-read when another writer won. The
// first writer's variant is never overwritten.
func (s *Store) CreateAssignment(ctx context.Context, a *Assignment) (*Assignment, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO experiment_assignments (visitor_id, experiment_key, variant_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (visitor_id, experiment_key) DO NOTHING
	`, a.VisitorID, a.ExperimentKey, a.VariantID, a.AssignedAt)
	if err != nil {
		return nil, false, fmt.Errorf("insert assignment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n > 0 {
		return a, true, nil
	}

	existing, err := s.GetAssignment(ctx, a.VisitorID, a.ExperimentKey)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Lost the race and the winner vanished between statements; treat
		// as a persistence failure rather than retrying unbounded.
		return nil, false, fmt.Errorf("assignment for %s/%s disappeared after conflict", a.VisitorID, a.ExperimentKey)
	}
	return existing, false, nil
}

// GetVariant retrieves a variant by ID, or nil when it no longer exists.
func (s *Store) GetVariant(ctx context.Context, id uuid.UUID) (*Variant, error) {
	v := &Variant{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, content_ref, weight FROM experiment_variants WHERE id = $1
	`, id).Scan(&v.ID, &v.Name, &v.ContentRef, &v.Weight)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query variant: %w", err)
	}
	return v, nil
}

// InsertConversion persists a conversion event.
func (s *Store) InsertConversion(ctx context.Context, ev *ConversionEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO experiment_conversions (id, visitor_id, experiment_key, variant_id, goal, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.VisitorID, ev.ExperimentKey, ev.VariantID, ev.Goal, ev.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert conversion: %w", err)
	}
	return nil
}

// ConversionsByVariant counts distinct (visitor, goal) conversions per
// variant for an experiment key. De-duplication is first-write: only the
// earliest occurrence of each pair counts.
func (s *Store) ConversionsByVariant(ctx context.Context, key string) (map[uuid.UUID]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT variant_id, COUNT(*) FROM (
			SELECT DISTINCT ON (visitor_id, goal) variant_id
			FROM experiment_conversions
			WHERE experiment_key = $1
			ORDER BY visitor_id, goal, occurred_at
		) firsts
		GROUP BY variant_id
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query conversions: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan conversion count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}
