package visibility

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brightreach/engagement-engine/internal/segment"
)

func donorAwareness() segment.Segment {
	return segment.Segment{Persona: segment.PersonaDonor, FunnelStage: segment.StageAwareness}
}

func TestProjectRequiresActivityAndAssignment(t *testing.T) {
	all := TargetingAssignment{Persona: TargetAll, FunnelStage: TargetAll}
	catalog := []CatalogItem{
		{ID: "1", SectionKey: "impact", IsActive: true, Targeting: []TargetingAssignment{all}},
		{ID: "2", SectionKey: "events", IsActive: false, Targeting: []TargetingAssignment{all}},
		{ID: "3", SectionKey: "donation", IsActive: true}, // active but untargeted
	}

	visible := Project(donorAwareness(), catalog)

	assert.True(t, visible["impact"])
	assert.False(t, visible["events"], "inactive items never make a section visible")
	assert.False(t, visible["donation"], "activity without a targeting assignment is not visible")
}

func TestProjectTargetingMatch(t *testing.T) {
	catalog := []CatalogItem{
		{ID: "1", SectionKey: "services", IsActive: true, Targeting: []TargetingAssignment{
			{Persona: "donor", FunnelStage: "awareness"},
		}},
		{ID: "2", SectionKey: "testimonials", IsActive: true, Targeting: []TargetingAssignment{
			{Persona: "student", FunnelStage: TargetAll},
		}},
		{ID: "3", SectionKey: "impact", IsActive: true, Targeting: []TargetingAssignment{
			{Persona: "donor", FunnelStage: "decision"},
			{Persona: TargetAll, FunnelStage: "awareness"},
		}},
	}

	visible := Project(donorAwareness(), catalog)

	assert.True(t, visible["services"])
	assert.False(t, visible["testimonials"])
	assert.True(t, visible["impact"], "any one matching assignment suffices")
}

func TestProjectOneVisibleItemSuffices(t *testing.T) {
	catalog := []CatalogItem{
		{ID: "1", SectionKey: "events", IsActive: false, Targeting: []TargetingAssignment{
			{Persona: TargetAll, FunnelStage: TargetAll},
		}},
		{ID: "2", SectionKey: "events", IsActive: true, Targeting: []TargetingAssignment{
			{Persona: TargetAll, FunnelStage: TargetAll},
		}},
	}

	visible := Project(donorAwareness(), catalog)
	assert.True(t, visible["events"])
}

func TestProjectUnresolvedSegment(t *testing.T) {
	catalog := []CatalogItem{
		{ID: "1", SectionKey: "impact", IsActive: true, Targeting: []TargetingAssignment{
			{Persona: TargetAll, FunnelStage: TargetAll},
		}},
		{ID: "2", SectionKey: "services", IsActive: true, Targeting: []TargetingAssignment{
			{Persona: "donor", FunnelStage: TargetAll},
		}},
	}

	visible := Project(segment.Segment{}, catalog)
	assert.True(t, visible["impact"], "full wildcard matches unresolved visitors")
	assert.False(t, visible["services"])
}

func TestNavigationFallback(t *testing.T) {
	tests := []struct {
		name      string
		preferred string
		visible   map[string]bool
		want      string
	}{
		{
			name:      "preferred section visible",
			preferred: "donation",
			visible:   map[string]bool{"donation": true, "services": true},
			want:      "donation",
		},
		{
			name:      "first visible priority section",
			preferred: "donation",
			visible:   map[string]bool{"donation": false, "lead-magnet": true, "events": true},
			want:      "lead-magnet",
		},
		{
			name:      "nothing visible falls back to preferred",
			preferred: "donation",
			visible:   map[string]bool{"donation": false, "services": false},
			want:      "donation",
		},
		{
			name:      "empty visibility map",
			preferred: "impact",
			visible:   map[string]bool{},
			want:      "impact",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NavigationFallback(tt.preferred, tt.visible))
		})
	}
}
