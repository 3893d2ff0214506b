// Package history keeps a short rolling window of rate points per pair for
// live plotting, together with the latest event of each pair.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/mutker/cemctl/internal/errors"
	"codeberg.org/mutker/cemctl/internal/telemetry"
)

const (
	DefaultSpan   = 2 * time.Second
	DefaultPoints = 50
)

// Point is one tick of a pair's rate history.
type Point struct {
	Timestamp         time.Time `json:"timestamp"`
	InstantaneousRate float64   `json:"instantaneous_rate"`
	SmoothedRate      float64   `json:"smoothed_rate"`
	CommandVoltage    float64   `json:"command_voltage"`
	FullScaleRate     float64   `json:"full_scale_rate"`
}

type series struct {
	points []Point
	latest telemetry.Event
}

// Store holds at most Points ticks per pair, none older than Span before
// the newest. It implements telemetry.Collector.
type Store struct {
	span   time.Duration
	limit  int
	mu     sync.RWMutex
	series map[string]*series
}

func New(span time.Duration, points int) *Store {
	if span <= 0 {
		span = DefaultSpan
	}
	if points <= 0 {
		points = DefaultPoints
	}

	return &Store{
		span:   span,
		limit:  points,
		series: make(map[string]*series),
	}
}

// Record appends tick events to the pair's window. Other kinds only update
// the latest event.
func (s *Store) Record(_ context.Context, event *telemetry.Event) error {
	if event == nil {
		return errors.New().New(telemetry.ErrInvalidEvent)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.series[event.Pair]
	if !ok {
		sr = &series{points: make([]Point, 0, s.limit)}
		s.series[event.Pair] = sr
	}
	sr.latest = *event

	if event.Kind != telemetry.KindTick {
		return nil
	}

	sr.points = append(sr.points, Point{
		Timestamp:         event.Timestamp,
		InstantaneousRate: event.InstantaneousRate,
		SmoothedRate:      event.SmoothedRate,
		CommandVoltage:    event.CommandVoltage,
		FullScaleRate:     event.FullScaleRate,
	})
	s.trim(sr)

	return nil
}

func (s *Store) trim(sr *series) {
	drop := len(sr.points) - s.limit
	if drop < 0 {
		drop = 0
	}

	cutoff := sr.points[len(sr.points)-1].Timestamp.Add(-s.span)
	for drop < len(sr.points) && sr.points[drop].Timestamp.Before(cutoff) {
		drop++
	}

	if drop > 0 {
		n := copy(sr.points, sr.points[drop:])
		sr.points = sr.points[:n]
	}
}

// Points returns a copy of the pair's window, oldest first.
func (s *Store) Points(pair string) ([]Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.series[pair]
	if !ok {
		return nil, false
	}

	out := make([]Point, len(sr.points))
	copy(out, sr.points)

	return out, true
}

// Latest returns the most recent event of every pair.
func (s *Store) Latest() map[string]telemetry.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]telemetry.Event, len(s.series))
	for pair, sr := range s.series {
		out[pair] = sr.latest
	}

	return out
}

// Pairs returns the known pair names in order.
func (s *Store) Pairs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make([]string, 0, len(s.series))
	for pair := range s.series {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)

	return pairs
}

func (s *Store) Close() error {
	return nil
}
