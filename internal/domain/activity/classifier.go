package activity

import (
	"math"
	"sort"
	"time"

	"github.com/studyhub/league-core/internal/domain/shared"
)

// ClassifierConfig holds the segmentation rules.
type ClassifierConfig struct {
	// MergeGap is the largest gap between same-type events that still merges them.
	// The bound is inclusive.
	MergeGap time.Duration

	// MinDuration discards shorter spans as noise.
	MinDuration time.Duration

	// DensityUnit is the span length that one event is expected to cover
	// for full frequency credit in the confidence score.
	DensityUnit time.Duration

	// RulesVersion is stamped on every derived session.
	RulesVersion string
}

// DefaultClassifierConfig returns the default segmentation rules.
func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MergeGap:     5 * time.Minute,
		MinDuration:  5 * time.Minute,
		DensityUnit:  10 * time.Minute,
		RulesVersion: "v1",
	}
}

// Confidence weights. They sum to 1.
const (
	coverageWeight  = 0.5
	deviceWeight    = 0.3
	frequencyWeight = 0.2
)

// Classification is the outcome of one classifier pass.
type Classification struct {
	Sessions []*Session

	// Dropped counts malformed events skipped individually.
	Dropped int

	// Absorbed counts events fully covered by an earlier span of another type.
	Absorbed int

	// Noise counts spans discarded for being shorter than MinDuration.
	Noise int
}

// Classifier segments one user's raw events into typed, non-overlapping sessions.
// It holds no state between calls and is safe for concurrent use.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier creates a classifier, filling zero fields with defaults.
func NewClassifier(cfg ClassifierConfig) *Classifier {
	def := DefaultClassifierConfig()
	if cfg.MergeGap <= 0 {
		cfg.MergeGap = def.MergeGap
	}
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	if cfg.DensityUnit <= 0 {
		cfg.DensityUnit = def.DensityUnit
	}
	if cfg.RulesVersion == "" {
		cfg.RulesVersion = def.RulesVersion
	}
	return &Classifier{cfg: cfg}
}

// Config returns the classifier rules.
func (c *Classifier) Config() ClassifierConfig {
	return c.cfg
}

// span is a session under construction.
type span struct {
	typ    Type
	start  time.Time
	end    time.Time
	events []*RawEvent
}

// Classify segments the events of a single user. The input may be in any order.
// An empty input yields an empty classification.
func (c *Classifier) Classify(userID shared.UserID, events []*RawEvent) Classification {
	var result Classification

	valid := make([]*RawEvent, 0, len(events))
	for _, ev := range events {
		if ev == nil || ev.Validate(time.Time{}) != nil || ev.UserID != userID {
			result.Dropped++
			continue
		}
		valid = append(valid, ev)
	}
	if len(valid) == 0 {
		result.Sessions = []*Session{}
		return result
	}

	sort.SliceStable(valid, func(i, j int) bool {
		a, b := valid[i], valid[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.ID < b.ID
	})

	var (
		cur     *span
		lastEnd time.Time // end of the last kept session
	)

	openSpan := func(ev *RawEvent, start time.Time) {
		cur = &span{typ: ev.Type, start: start, end: ev.End, events: []*RawEvent{ev}}
	}

	closeSpan := func() {
		if cur == nil {
			return
		}
		if cur.end.Sub(cur.start) < c.cfg.MinDuration {
			result.Noise++
			cur = nil
			return
		}
		result.Sessions = append(result.Sessions, c.build(userID, cur))
		lastEnd = cur.end
		cur = nil
	}

	for _, ev := range valid {
		if cur != nil && ev.Type == cur.typ && !ev.Start.After(cur.end.Add(c.cfg.MergeGap)) {
			if ev.End.After(cur.end) {
				cur.end = ev.End
			}
			cur.events = append(cur.events, ev)
			continue
		}

		// A different type that starts inside the open span is clipped to its end.
		boundary := lastEnd
		if cur != nil && cur.end.Sub(cur.start) >= c.cfg.MinDuration && cur.end.After(boundary) {
			boundary = cur.end
		}
		start := ev.Start
		if start.Before(boundary) {
			if !ev.End.After(boundary) {
				result.Absorbed++
				continue
			}
			start = boundary
		}

		closeSpan()
		openSpan(ev, start)
	}
	closeSpan()

	if result.Sessions == nil {
		result.Sessions = []*Session{}
	}
	return result
}

func (c *Classifier) build(userID shared.UserID, sp *span) *Session {
	var questions, correct int
	subjects := make(map[string]int)
	devices := make(map[string]int)
	fingerprinted := 0
	for _, ev := range sp.events {
		questions += ev.Questions
		correct += ev.Correct
		if ev.Subject != "" {
			subjects[ev.Subject]++
		}
		if ev.DeviceFingerprint != "" {
			devices[ev.DeviceFingerprint]++
			fingerprinted++
		}
	}

	device, deviceHits := majority(devices)
	subject, _ := majority(subjects)

	deviceConsistency := 0.0
	if fingerprinted > 0 {
		// Events without a fingerprint dilute consistency.
		deviceConsistency = float64(deviceHits) / float64(len(sp.events))
	}

	return &Session{
		ID:           DeriveSessionID(userID, sp.typ, sp.start, sp.end, c.cfg.RulesVersion),
		UserID:       userID,
		Type:         sp.typ,
		Start:        sp.start,
		End:          sp.end,
		Subject:      subject,
		Confidence:   c.confidence(sp, deviceConsistency),
		Device:       device,
		Questions:    questions,
		Correct:      correct,
		EventCount:   len(sp.events),
		Source:       SourceAuto,
		RulesVersion: c.cfg.RulesVersion,
	}
}

// confidence rises with event density and a consistent device and falls with sparsity.
func (c *Classifier) confidence(sp *span, deviceConsistency float64) float64 {
	length := sp.end.Sub(sp.start)
	if length <= 0 {
		return 0
	}

	coverage := float64(coveredDuration(sp)) / float64(length)
	expected := float64(length) / float64(c.cfg.DensityUnit)
	frequency := 1.0
	if expected > 0 {
		frequency = math.Min(1, float64(len(sp.events))/expected)
	}

	score := coverageWeight*coverage + deviceWeight*deviceConsistency + frequencyWeight*frequency
	return math.Round(clamp01(score)*1000) / 1000
}

// coveredDuration returns the union of event intervals clipped to the span.
// Events are already sorted by start.
func coveredDuration(sp *span) time.Duration {
	var total time.Duration
	var runStart, runEnd time.Time
	open := false
	for _, ev := range sp.events {
		s, e := ev.Start, ev.End
		if s.Before(sp.start) {
			s = sp.start
		}
		if e.After(sp.end) {
			e = sp.end
		}
		if !e.After(s) {
			continue
		}
		if open && !s.After(runEnd) {
			if e.After(runEnd) {
				runEnd = e
			}
			continue
		}
		if open {
			total += runEnd.Sub(runStart)
		}
		runStart, runEnd, open = s, e, true
	}
	if open {
		total += runEnd.Sub(runStart)
	}
	return total
}

// majority returns the most frequent key, breaking ties lexicographically.
func majority(counts map[string]int) (string, int) {
	best, bestN := "", 0
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best, bestN
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
