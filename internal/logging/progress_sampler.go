package logging

import "strings"

// ProgressSampler suppresses repetitive download/install progress logs while
// preserving signal when phases or percentage buckets change.
type ProgressSampler struct {
	bucketSize float64
	lastPhase  string
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 5%) or when the phase changes.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 5
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress event should be logged. Percent can be
// negative to indicate "unknown" (chunked transfers without a total).
func (s *ProgressSampler) ShouldLog(percent float64, phase string) bool {
	if s == nil {
		return true
	}
	phase = strings.TrimSpace(phase)
	emit := false
	if phase != "" && phase != s.lastPhase {
		s.lastPhase = phase
		s.lastBucket = -1
		emit = true
	}
	if percent >= 0 {
		bucket := int(percent / s.bucketSize)
		if percent >= 100 {
			bucket = int(100 / s.bucketSize)
		}
		if bucket > s.lastBucket {
			s.lastBucket = bucket
			emit = true
		}
	}
	return emit
}

// Reset clears the sampler state when a new transfer starts.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastPhase = ""
	s.lastBucket = -1
}
