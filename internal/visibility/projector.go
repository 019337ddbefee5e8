// Package visibility maps a resolved segment and the content catalog to a
// per-section visibility map, and picks navigation targets when a persona's
// preferred section is hidden.
package visibility

import (
	"github.com/brightreach/engagement-engine/internal/segment"
)

// TargetAll is the wildcard value in a targeting assignment.
const TargetAll = "all"

// TargetingAssignment scopes a catalog item to a segment. Either dimension
// may be the wildcard "all".
type TargetingAssignment struct {
	Persona     string `json:"persona"`
	FunnelStage string `json:"funnel_stage"`
}

// Matches reports whether the assignment covers the given segment.
func (t TargetingAssignment) Matches(seg segment.Segment) bool {
	if t.Persona != TargetAll && t.Persona != string(seg.Persona) {
		return false
	}
	if t.FunnelStage != TargetAll && t.FunnelStage != string(seg.FunnelStage) {
		return false
	}
	return true
}

// CatalogItem is one content object as read from the content subsystem.
type CatalogItem struct {
	ID         string                `json:"id"`
	SectionKey string                `json:"section_key"`
	IsActive   bool                  `json:"is_active"`
	Targeting  []TargetingAssignment `json:"targeting"`
}

// Project computes the visibility map for a segment over the catalog. A
// section is visible iff at least one of its items is active AND carries a
// targeting assignment matching the segment. An active item with no
// targeting assignments at all contributes nothing: visibility requires
// both activity and an assignment.
func Project(seg segment.Segment, catalog []CatalogItem) map[string]bool {
	visible := make(map[string]bool)
	for _, item := range catalog {
		if _, ok := visible[item.SectionKey]; !ok {
			visible[item.SectionKey] = false
		}
		if !item.IsActive {
			continue
		}
		for _, t := range item.Targeting {
			if t.Matches(seg) {
				visible[item.SectionKey] = true
				break
			}
		}
	}
	return visible
}

// fallbackPriority is the fixed order navigation falls back through when a
// persona's preferred section is hidden.
var fallbackPriority = []string{
	"services",
	"lead-magnet",
	"impact",
	"testimonials",
	"donation",
	"events",
}

// NavigationFallback returns the preferred section when visible, otherwise
// the first visible section from the fixed priority list. When nothing on
// the list is visible the original preferred key comes back regardless, so
// navigation never points at nothing.
func NavigationFallback(preferred string, visible map[string]bool) string {
	if visible[preferred] {
		return preferred
	}
	for _, key := range fallbackPriority {
		if visible[key] {
			return key
		}
	}
	return preferred
}
