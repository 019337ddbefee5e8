package segment

// Persona identifies the audience bucket a visitor belongs to.
type Persona string

const (
	PersonaStudent   Persona = "student"
	PersonaProvider  Persona = "provider"
	PersonaParent    Persona = "parent"
	PersonaDonor     Persona = "donor"
	PersonaVolunteer Persona = "volunteer"
)

// Valid reports whether p is one of the known personas.
func (p Persona) Valid() bool {
	switch p {
	case PersonaStudent, PersonaProvider, PersonaParent, PersonaDonor, PersonaVolunteer:
		return true
	}
	return false
}

// FunnelStage identifies how far along the engagement funnel a visitor is.
type FunnelStage string

const (
	StageAwareness     FunnelStage = "awareness"
	StageConsideration FunnelStage = "consideration"
	StageDecision      FunnelStage = "decision"
	StageRetention     FunnelStage = "retention"
)

// Valid reports whether s is one of the known funnel stages.
func (s FunnelStage) Valid() bool {
	switch s {
	case StageAwareness, StageConsideration, StageDecision, StageRetention:
		return true
	}
	return false
}

// Segment is a resolved (persona, funnel stage) pair. The zero value is the
// unresolved segment. A funnel stage without a persona is meaningless, so
// Normalize drops the stage when the persona is empty.
type Segment struct {
	Persona     Persona     `json:"persona,omitempty"`
	FunnelStage FunnelStage `json:"funnel_stage,omitempty"`
}

// IsResolved reports whether the segment carries a persona.
func (s Segment) IsResolved() bool {
	return s.Persona != ""
}

// Normalize drops invalid values and enforces that a funnel stage never
// rides on an empty persona.
func (s Segment) Normalize() Segment {
	if !s.Persona.Valid() {
		return Segment{}
	}
	if !s.FunnelStage.Valid() {
		s.FunnelStage = ""
	}
	return s
}

// OverrideNone is the admin override sentinel meaning "no override active".
const OverrideNone = "none"

// AdminOverride is a request-scoped preview override set by internal tooling.
// It bypasses persistence entirely.
type AdminOverride struct {
	Persona     string `json:"persona"`
	FunnelStage string `json:"funnel_stage,omitempty"`
}

// Active reports whether the override actually overrides anything.
func (o *AdminOverride) Active() bool {
	return o != nil && o.Persona != "" && o.Persona != OverrideNone
}

// VisitorContext identifies one browsing session or authenticated account.
type VisitorContext struct {
	VisitorID     string         `json:"visitor_id"`
	SessionID     string         `json:"session_id"`
	Authenticated bool           `json:"authenticated"`
	AdminOverride *AdminOverride `json:"admin_override,omitempty"`
}
