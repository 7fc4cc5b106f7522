package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/t77yq/alertd/internal/model"
)

// Point is a timestamped metric value
type Point struct {
	At    time.Time
	Value float64
}

// SeriesReader returns the samples of a metric within [from, to]. An empty
// scope returns the samples of every scope merged in time order.
type SeriesReader interface {
	Samples(ctx context.Context, metricType, scope string, from, to time.Time) ([]Point, error)
}

type seriesKey struct {
	metricType string
	scope      string
}

type series struct {
	mu     sync.Mutex
	points []Point
}

// SeriesBuffer keeps a short, bounded history of the live metric stream. It
// feeds sweep aggregates and trend windows; it is not long-term storage.
type SeriesBuffer struct {
	capacity int
	maxAge   time.Duration

	mu     sync.RWMutex
	series map[seriesKey]*series
}

// NewSeriesBuffer creates a buffer keeping at most capacity points per
// (metric, scope) and nothing older than maxAge.
func NewSeriesBuffer(capacity int, maxAge time.Duration) *SeriesBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	if maxAge <= 0 {
		maxAge = 2 * time.Hour
	}
	return &SeriesBuffer{
		capacity: capacity,
		maxAge:   maxAge,
		series:   make(map[seriesKey]*series),
	}
}

// Record appends a sample to its series
func (b *SeriesBuffer) Record(sample model.MetricSample) {
	key := seriesKey{metricType: sample.MetricType, scope: sample.ScopeID}

	b.mu.RLock()
	s, ok := b.series[key]
	b.mu.RUnlock()
	if !ok {
		b.mu.Lock()
		if s, ok = b.series[key]; !ok {
			s = &series{}
			b.series[key] = s
		}
		b.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := Point{At: sample.Timestamp, Value: sample.Value}
	n := len(s.points)
	if n == 0 || !p.At.Before(s.points[n-1].At) {
		s.points = append(s.points, p)
	} else {
		i := sort.Search(n, func(i int) bool { return s.points[i].At.After(p.At) })
		s.points = append(s.points, Point{})
		copy(s.points[i+1:], s.points[i:])
		s.points[i] = p
	}

	cutoff := s.points[len(s.points)-1].At.Add(-b.maxAge)
	drop := sort.Search(len(s.points), func(i int) bool { return !s.points[i].At.Before(cutoff) })
	if over := len(s.points) - drop - b.capacity; over > 0 {
		drop += over
	}
	if drop > 0 {
		s.points = append(s.points[:0], s.points[drop:]...)
	}
}

// Samples implements SeriesReader
func (b *SeriesBuffer) Samples(_ context.Context, metricType, scope string, from, to time.Time) ([]Point, error) {
	b.mu.RLock()
	var matched []*series
	for key, s := range b.series {
		if key.metricType != metricType {
			continue
		}
		if scope != "" && key.scope != scope {
			continue
		}
		matched = append(matched, s)
	}
	b.mu.RUnlock()

	var out []Point
	for _, s := range matched {
		s.mu.Lock()
		for _, p := range s.points {
			if p.At.Before(from) || p.At.After(to) {
				continue
			}
			out = append(out, p)
		}
		s.mu.Unlock()
	}

	if len(matched) > 1 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	}
	return out, nil
}
