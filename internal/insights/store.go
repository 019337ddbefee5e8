package insights

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventStore reads the engagement event log from Postgres.
type EventStore struct {
	db *sql.DB
}

// NewEventStore creates a new event store
func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

// LoadEngagement loads the sent and opened facts for a scope. The two event
// types are fetched concurrently; aggregation has no ordering requirement
// on its input.
func (s *EventStore) LoadEngagement(ctx context.Context, scope Scope, scopeID string) ([]EngagementRecord, error) {
	g, ctx := errgroup.WithContext(ctx)

	var sent, opened []EngagementRecord
	g.Go(func() error {
		var err error
		sent, err = s.loadByType(ctx, EventSent, scope, scopeID)
		return err
	})
	g.Go(func() error {
		var err error
		opened, err = s.loadByType(ctx, EventOpened, scope, scopeID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(sent, opened...), nil
}

func (s *EventStore) loadByType(ctx context.Context, et EventType, scope Scope, scopeID string) ([]EngagementRecord, error) {
	query := `
		SELECT subject_id, event_type, occurred_at, recipient_id
		FROM engagement_events
		WHERE event_type = $1`
	args := []any{string(et)}
	if scope == ScopeSubject {
		query += ` AND subject_id = $2`
		args = append(args, scopeID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s events: %w", et, err)
	}
	defer rows.Close()

	var records []EngagementRecord
	for rows.Next() {
		var rec EngagementRecord
		if err := rows.Scan(&rec.SubjectID, &rec.EventType, &rec.Timestamp, &rec.RecipientID); err != nil {
			return nil, fmt.Errorf("scan %s event: %w", et, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadSubjectEvents loads the timestamps of one subject's events of a
// single metric.
func (s *EventStore) LoadSubjectEvents(ctx context.Context, subjectID string, metric EventType) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT occurred_at FROM engagement_events
		WHERE subject_id = $1 AND event_type = $2
		ORDER BY occurred_at
	`, subjectID, string(metric))
	if err != nil {
		return nil, fmt.Errorf("query subject events: %w", err)
	}
	defer rows.Close()

	var timestamps []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan timestamp: %w", err)
		}
		timestamps = append(timestamps, ts)
	}
	return timestamps, rows.Err()
}
