package logging

import "strings"

// ProgressSampler suppresses repetitive progress logs for long listings whose
// total is unknown. It emits when the running count crosses a multiple of the
// interval or when the phase changes.
type ProgressSampler struct {
	interval  int
	lastPhase string
	lastStep  int
}

// NewProgressSampler constructs a sampler with the given count interval
// (default 500).
func NewProgressSampler(interval int) *ProgressSampler {
	if interval <= 0 {
		interval = 500
	}
	return &ProgressSampler{interval: interval, lastStep: -1}
}

// ShouldLog reports whether a progress event at count should be logged.
func (s *ProgressSampler) ShouldLog(count int, phase string) bool {
	if s == nil {
		return true
	}
	emit := false
	phase = strings.TrimSpace(phase)
	if phase != "" && phase != s.lastPhase {
		s.lastPhase = phase
		s.lastStep = -1
		emit = true
	}
	if count >= 0 {
		if step := count / s.interval; step > s.lastStep {
			s.lastStep = step
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastPhase = ""
	s.lastStep = -1
}
