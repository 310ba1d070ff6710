package source

import (
	"fmt"
	"time"
)

// PollingState is the adaptive poll interval. Current stays within [Min, Max].
type PollingState struct {
	Current time.Duration
	Min     time.Duration
	Max     time.Duration
}

// NewPollingState starts polling at min.
func NewPollingState(min, max time.Duration) (PollingState, error) {
	if min <= 0 {
		return PollingState{}, fmt.Errorf("min poll interval must be positive, got %v", min)
	}
	if max < min {
		return PollingState{}, fmt.Errorf("max poll interval %v is less than min poll interval %v", max, min)
	}
	return PollingState{Current: min, Min: min, Max: max}, nil
}

// Next returns the state after a cycle: back to Min after progress, doubled
// up to Max otherwise.
func (s PollingState) Next(progressed bool) PollingState {
	if progressed {
		s.Current = s.Min
		return s
	}
	if s.Current > s.Max/2 {
		s.Current = s.Max
		return s
	}
	s.Current *= 2
	return s
}
