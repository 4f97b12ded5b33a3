// Package schedule produces a heuristic capacity plan from the local
// wall-clock hour. Peak windows get the heavy model preloaded and more
// committee slots; off-peak favors the light interactive committee.
package schedule

import "time"

// Peak windows on the local clock, inclusive.
var peakWindows = [][2]int{{8, 11}, {14, 17}}

// Plan is the predicted allocation for the current hour.
type Plan struct {
	Allocate      map[string]int `json:"allocate"`
	PreloadModels []string       `json:"preload_models"`
	Notes         string         `json:"notes"`
	Explain       Explain        `json:"explain"`
}

// Explain carries the inputs behind the plan.
type Explain struct {
	Hour    int     `json:"hour"`
	Peak    bool    `json:"peak"`
	QPSPred float64 `json:"qps_pred"`
}

// Scheduler predicts capacity plans. Models are the ids preloaded during
// peak hours, typically the precision committee.
type Scheduler struct {
	heavyModels []string
	lightModels []string
	now         func() time.Time
}

// New creates a scheduler. now may be nil, in which case the system clock is
// used; tests inject a fixed clock.
func New(heavyModels, lightModels []string, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{heavyModels: heavyModels, lightModels: lightModels, now: now}
}

// IsPeak reports whether hour falls inside a peak window.
func IsPeak(hour int) bool {
	for _, w := range peakWindows {
		if hour >= w[0] && hour <= w[1] {
			return true
		}
	}
	return false
}

// Predict returns the plan for the current local hour. Deterministic given
// the clock.
func (s *Scheduler) Predict() Plan {
	hour := s.now().Local().Hour()
	if IsPeak(hour) {
		return Plan{
			Allocate:      map[string]int{"analyste": 2, "createur": 1, "chef": 1},
			PreloadModels: s.heavyModels,
			Notes:         "peak window: heavy committee preloaded",
			Explain:       Explain{Hour: hour, Peak: true, QPSPred: 4.0},
		}
	}
	return Plan{
		Allocate:      map[string]int{"analyste": 1, "createur": 1},
		PreloadModels: s.lightModels,
		Notes:         "off-peak: light committee only",
		Explain:       Explain{Hour: hour, Peak: false, QPSPred: 0.5},
	}
}
