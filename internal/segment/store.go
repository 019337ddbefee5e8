package segment

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ProfileStore persists account-scoped segment preferences in Postgres.
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// GetPreference retrieves the stored segment preference for an account.
// Returns the zero segment when no preference exists.
func (s *ProfileStore) GetPreference(ctx context.Context, visitorID string) (Segment, error) {
	var persona, stage sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT persona, funnel_stage FROM account_preferences WHERE visitor_id = $1
	`, visitorID).Scan(&persona, &stage)
	if err == sql.ErrNoRows {
		return Segment{}, nil
	}
	if err != nil {
		return Segment{}, fmt.Errorf("query preference: %w", err)
	}
	return Segment{
		Persona:     Persona(persona.String),
		FunnelStage: FunnelStage(stage.String),
	}.Normalize(), nil
}

// SavePreference upserts the account's segment preference.
func (s *ProfileStore) SavePreference(ctx context.Context, visitorID string, seg Segment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_preferences (visitor_id, persona, funnel_stage, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NOW())
		ON CONFLICT (visitor_id) DO UPDATE SET
			persona = EXCLUDED.persona,
			funnel_stage = EXCLUDED.funnel_stage,
			updated_at = NOW()
	`, visitorID, string(seg.Persona), string(seg.FunnelStage))
	if err != nil {
		return fmt.Errorf("save preference: %w", err)
	}
	return nil
}

// SessionStore persists session-scoped segment choices and the one-time
// prompt flag in Redis with a TTL matching the session lifetime.
type SessionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSessionStore creates a new session store
func NewSessionStore(rdb *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionStore{rdb: rdb, ttl: ttl}
}

func choiceKey(sessionID string) string {
	return "segment:choice:" + sessionID
}

func promptKey(sessionID string) string {
	return "segment:prompt_seen:" + sessionID
}

// GetChoice retrieves the session-scoped segment choice.
// Returns the zero segment when no choice has been made.
func (s *SessionStore) GetChoice(ctx context.Context, sessionID string) (Segment, error) {
	data, err := s.rdb.Get(ctx, choiceKey(sessionID)).Bytes()
	if err == redis.Nil {
		return Segment{}, nil
	}
	if err != nil {
		return Segment{}, fmt.Errorf("get session choice: %w", err)
	}
	var seg Segment
	if err := json.Unmarshal(data, &seg); err != nil {
		return Segment{}, fmt.Errorf("decode session choice: %w", err)
	}
	return seg.Normalize(), nil
}

// SaveChoice stores the session-scoped segment choice.
func (s *SessionStore) SaveChoice(ctx context.Context, sessionID string, seg Segment) error {
	data, err := json.Marshal(seg)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, choiceKey(sessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session choice: %w", err)
	}
	return nil
}

// PromptSeen reports whether the one-time segment invitation was already
// shown in this session.
func (s *SessionStore) PromptSeen(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, promptKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("check prompt flag: %w", err)
	}
	return n > 0, nil
}

// MarkPromptSeen records that the invitation was shown.
func (s *SessionStore) MarkPromptSeen(ctx context.Context, sessionID string) error {
	if err := s.rdb.Set(ctx, promptKey(sessionID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("mark prompt seen: %w", err)
	}
	return nil
}
