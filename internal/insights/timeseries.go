package insights

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidMetric is returned for an unknown time series metric.
var ErrInvalidMetric = errors.New("invalid time series metric")

// ErrInvalidInterval is returned for an unknown bucketing interval.
var ErrInvalidInterval = errors.New("invalid time series interval")

// ComputeTimeSeries buckets one subject's events of a single metric by
// hour, day, or week in the reference timezone. The returned points are
// ordered ascending and sparse: a timestamp absent from the sequence means
// a count of zero for that bucket, not missing data.
func (a *Aggregator) ComputeTimeSeries(ctx context.Context, subjectID string, metric EventType, interval Interval) ([]DataPoint, error) {
	switch metric {
	case EventSent, EventOpened, EventClicked:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidMetric, metric)
	}
	switch interval {
	case IntervalHour, IntervalDay, IntervalWeek:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}

	timestamps, err := a.events.LoadSubjectEvents(ctx, subjectID, metric)
	if err != nil {
		return nil, fmt.Errorf("load subject events: %w", err)
	}

	counts := make(map[time.Time]int)
	for _, ts := range timestamps {
		counts[truncate(ts.In(a.loc), interval)]++
	}

	points := make([]DataPoint, 0, len(counts))
	for ts, n := range counts {
		points = append(points, DataPoint{Timestamp: ts, Count: n})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}

// truncate floors a timestamp to its bucket start. Weeks start on Monday.
func truncate(t time.Time, interval Interval) time.Time {
	switch interval {
	case IntervalHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case IntervalWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	default: // IntervalDay
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
}
