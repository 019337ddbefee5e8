package insights

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/brightreach/engagement-engine/internal/cache"
)

const (
	// BucketCount is 7 days x 24 hours.
	BucketCount = 168

	// TopWindowCount is the number of headline recommendations.
	TopWindowCount = 3

	// minBucketSends is the per-bucket sample floor below which the
	// confidence score is pinned to zero.
	minBucketSends = 5

	// confidenceK is the curve constant in 100*(1-exp(-sends/k)). With
	// k=50 a bucket crosses confidence 70 near 60 sends and 40 near 25,
	// matching the threshold bands shown in the admin UI.
	confidenceK = 50.0
)

// ErrInvalidScope is returned for an unknown aggregation scope.
var ErrInvalidScope = errors.New("invalid insights scope")

// EventSource reads the raw engagement event log. The log itself belongs to
// the messaging collaborators; the aggregator only ever reads it.
type EventSource interface {
	LoadEngagement(ctx context.Context, scope Scope, scopeID string) ([]EngagementRecord, error)
	LoadSubjectEvents(ctx context.Context, subjectID string, metric EventType) ([]time.Time, error)
}

// Aggregator turns raw engagement events into windowed, confidence-scored
// summaries. Aggregation is batch/on-demand with caching, not
// event-at-a-time; it is read-only over the log and safe to run in
// parallel across scopes.
type Aggregator struct {
	events           EventSource
	cache            *cache.Cache
	loc              *time.Location
	minBaselineSends int
	cacheTTL         time.Duration
}

// NewAggregator creates an aggregator. All bucketing happens in the given
// reference timezone so cross-bucket comparisons are meaningful.
func NewAggregator(events EventSource, c *cache.Cache, loc *time.Location, minBaselineSends int, cacheTTL time.Duration) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if minBaselineSends <= 0 {
		minBaselineSends = 100
	}
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &Aggregator{
		events:           events,
		cache:            c,
		loc:              loc,
		minBaselineSends: minBaselineSends,
		cacheTTL:         cacheTTL,
	}
}

// GetSendTimeInsights returns the cached send-time aggregation for a scope,
// recomputing when stale. CacheAgeHours on the result is the true age of
// the returned value.
func (a *Aggregator) GetSendTimeInsights(ctx context.Context, scope Scope, scopeID string) (*SendTimeInsights, error) {
	if scope != ScopeAll && scope != ScopeSubject {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	key := fmt.Sprintf("send-times:%s:%s", scope, scopeID)
	var result SendTimeInsights
	age, err := a.cache.GetOrCompute(ctx, key, a.cacheTTL, &result, func(ctx context.Context) (any, error) {
		return a.ComputeSendTimeInsights(ctx, scope, scopeID)
	})
	if err != nil {
		return nil, err
	}
	result.CacheAgeHours = age
	return &result, nil
}

// ComputeSendTimeInsights aggregates the event log for a scope without
// touching the cache. Recomputing over an unchanged log yields identical
// bucket values and ranks.
func (a *Aggregator) ComputeSendTimeInsights(ctx context.Context, scope Scope, scopeID string) (*SendTimeInsights, error) {
	records, err := a.events.LoadEngagement(ctx, scope, scopeID)
	if err != nil {
		return nil, fmt.Errorf("load engagement: %w", err)
	}
	return a.aggregate(records), nil
}

// aggregate is the pure bucketing core.
func (a *Aggregator) aggregate(records []EngagementRecord) *SendTimeInsights {
	type bucket struct {
		sends int
		opens int
	}
	var buckets [BucketCount]bucket

	totalSends, totalOpens := 0, 0
	for _, rec := range records {
		idx := bucketIndex(rec.Timestamp.In(a.loc))
		switch rec.EventType {
		case EventSent:
			buckets[idx].sends++
			totalSends++
		case EventOpened:
			buckets[idx].opens++
			totalOpens++
		}
	}

	result := &SendTimeInsights{BaselineSendCount: totalSends}

	// Below the minimum baseline sample the windows would be noise; signal
	// insufficient data instead of ranking misleading low-confidence
	// buckets.
	if totalSends < a.minBaselineSends {
		result.Status = StatusInsufficientData
		return result
	}

	result.Status = StatusOK
	result.BaselineOpenRateBP = rateBP(totalOpens, totalSends)

	var ranked []SendTimeWindow
	for idx, b := range buckets {
		if b.sends == 0 && b.opens == 0 {
			continue
		}
		w := SendTimeWindow{
			DayOfWeek:       idx / 24,
			HourOfDay:       idx % 24,
			SendCount:       b.sends,
			OpenCount:       b.opens,
			OpenRateBP:      rateBP(b.opens, b.sends),
			ConfidenceScore: confidence(b.sends),
		}
		if result.BaselineOpenRateBP > 0 {
			w.LiftPercent = float64(w.OpenRateBP-result.BaselineOpenRateBP) / float64(result.BaselineOpenRateBP) * 100
		}
		result.Heatmap[idx] = &w
		if b.sends > 0 {
			ranked = append(ranked, w)
		}
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].OpenRateBP != ranked[j].OpenRateBP {
			return ranked[i].OpenRateBP > ranked[j].OpenRateBP
		}
		if ranked[i].SendCount != ranked[j].SendCount {
			return ranked[i].SendCount > ranked[j].SendCount
		}
		return bucketOrder(ranked[i]) < bucketOrder(ranked[j])
	})
	if len(ranked) > TopWindowCount {
		ranked = ranked[:TopWindowCount]
	}
	result.TopWindows = ranked

	return result
}

func bucketIndex(t time.Time) int {
	return int(t.Weekday())*24 + t.Hour()
}

func bucketOrder(w SendTimeWindow) int {
	return w.DayOfWeek*24 + w.HourOfDay
}

// rateBP is an integer basis-point rate: opens/sends * 10000. Integer all
// the way down so stored and compared values never drift.
func rateBP(opens, sends int) int {
	if sends == 0 {
		return 0
	}
	return opens * 10000 / sends
}

// confidence increases monotonically with sample size and saturates
// asymptotically at 100. Below the per-bucket floor it is pinned to zero.
func confidence(sends int) int {
	if sends < minBucketSends {
		return 0
	}
	return int(math.Round(100 * (1 - math.Exp(-float64(sends)/confidenceK))))
}
