package segment

import (
	"context"
	"log"
)

// SourceName identifies which resolution source produced a segment.
type SourceName string

const (
	SourceAdminOverride     SourceName = "admin_override"
	SourceAccountPreference SourceName = "account_preference"
	SourceSessionChoice     SourceName = "session_choice"
	SourceUnresolved        SourceName = "unresolved"
)

// ResolveInput is everything resolution depends on. Resolve is a pure
// function of this struct; persistence order never changes its output.
type ResolveInput struct {
	AdminOverride    *AdminOverride
	Authenticated    bool
	StoredPreference Segment // account-scoped; only consulted when authenticated
	SessionChoice    Segment // session-scoped; only consulted when anonymous
	PromptSeen       bool    // one-time invitation already shown this session
}

// Resolution is the outcome of segment resolution.
type Resolution struct {
	Segment    Segment    `json:"segment"`
	Source     SourceName `json:"source"`
	ShowPrompt bool       `json:"show_prompt"`
}

// source is one named step in the ordered fallback chain.
type source struct {
	name    SourceName
	resolve func(ResolveInput) (Segment, bool)
}

// sources is the precedence chain, evaluated in order with short-circuit on
// the first source that produces a segment.
var sources = []source{
	{SourceAdminOverride, func(in ResolveInput) (Segment, bool) {
		if !in.AdminOverride.Active() {
			return Segment{}, false
		}
		seg := Segment{
			Persona:     Persona(in.AdminOverride.Persona),
			FunnelStage: FunnelStage(in.AdminOverride.FunnelStage),
		}.Normalize()
		return seg, seg.IsResolved()
	}},
	{SourceAccountPreference, func(in ResolveInput) (Segment, bool) {
		if !in.Authenticated {
			return Segment{}, false
		}
		seg := in.StoredPreference.Normalize()
		return seg, seg.IsResolved()
	}},
	{SourceSessionChoice, func(in ResolveInput) (Segment, bool) {
		if in.Authenticated {
			return Segment{}, false
		}
		seg := in.SessionChoice.Normalize()
		return seg, seg.IsResolved()
	}},
}

// Resolve walks the precedence chain: admin override, then the stored
// account preference for authenticated visitors, then the session choice for
// anonymous ones. A segment resolved from a preference or session choice
// without an explicit funnel stage defaults to awareness. When nothing
// matches the segment is unresolved, and anonymous visitors who have not yet
// seen the one-time invitation get ShowPrompt.
func Resolve(in ResolveInput) Resolution {
	for _, src := range sources {
		seg, ok := src.resolve(in)
		if !ok {
			continue
		}
		if src.name != SourceAdminOverride && seg.FunnelStage == "" {
			seg.FunnelStage = StageAwareness
		}
		return Resolution{Segment: seg, Source: src.name}
	}
	return Resolution{
		Source:     SourceUnresolved,
		ShowPrompt: !in.Authenticated && !in.PromptSeen,
	}
}

// ProfilePreferences reads the account-scoped segment preference.
type ProfilePreferences interface {
	GetPreference(ctx context.Context, visitorID string) (Segment, error)
	SavePreference(ctx context.Context, visitorID string, seg Segment) error
}

// SessionChoices reads and writes the session-scoped segment choice.
type SessionChoices interface {
	GetChoice(ctx context.Context, sessionID string) (Segment, error)
	SaveChoice(ctx context.Context, sessionID string, seg Segment) error
	PromptSeen(ctx context.Context, sessionID string) (bool, error)
	MarkPromptSeen(ctx context.Context, sessionID string) error
}

// Resolver loads resolution inputs from the profile and session stores and
// commits visitor choices back to them.
type Resolver struct {
	profiles ProfilePreferences
	sessions SessionChoices
}

// NewResolver creates a resolver backed by the given stores.
func NewResolver(profiles ProfilePreferences, sessions SessionChoices) *Resolver {
	return &Resolver{profiles: profiles, sessions: sessions}
}

// ResolveVisitor gathers the stored preference and session choice for the
// visitor and resolves the segment. Store read failures degrade to the empty
// source rather than failing resolution.
func (r *Resolver) ResolveVisitor(ctx context.Context, vc VisitorContext) Resolution {
	in := ResolveInput{
		AdminOverride: vc.AdminOverride,
		Authenticated: vc.Authenticated,
	}

	if vc.Authenticated && vc.VisitorID != "" {
		pref, err := r.profiles.GetPreference(ctx, vc.VisitorID)
		if err != nil {
			log.Printf("[SegmentResolver] preference lookup failed for %s: %v", vc.VisitorID, err)
		} else {
			in.StoredPreference = pref
		}
	}

	if !vc.Authenticated && vc.SessionID != "" {
		choice, err := r.sessions.GetChoice(ctx, vc.SessionID)
		if err != nil {
			log.Printf("[SegmentResolver] session choice lookup failed for %s: %v", vc.SessionID, err)
		} else {
			in.SessionChoice = choice
		}
		seen, err := r.sessions.PromptSeen(ctx, vc.SessionID)
		if err != nil {
			// Treat an unreadable flag as already seen so the prompt is
			// never shown twice in one session.
			seen = true
		}
		in.PromptSeen = seen
	}

	res := Resolve(in)
	if res.ShowPrompt && vc.SessionID != "" {
		if err := r.sessions.MarkPromptSeen(ctx, vc.SessionID); err != nil {
			log.Printf("[SegmentResolver] mark prompt seen failed for %s: %v", vc.SessionID, err)
		}
	}
	return res
}

// CommitChoice persists an explicit segment choice: to the account record
// when authenticated, to the session store otherwise. Persistence is
// best-effort; a store failure is logged and the normalized in-memory
// segment is returned so the visitor experience is never blocked.
func (r *Resolver) CommitChoice(ctx context.Context, vc VisitorContext, seg Segment) Segment {
	seg = seg.Normalize()
	if !seg.IsResolved() {
		return seg
	}

	if vc.Authenticated && vc.VisitorID != "" {
		if err := r.profiles.SavePreference(ctx, vc.VisitorID, seg); err != nil {
			log.Printf("[SegmentResolver] preference persist failed for %s: %v", vc.VisitorID, err)
		}
	} else if vc.SessionID != "" {
		if err := r.sessions.SaveChoice(ctx, vc.SessionID, seg); err != nil {
			log.Printf("[SegmentResolver] session persist failed for %s: %v", vc.SessionID, err)
		}
	}
	return seg
}
