package trust

import (
	"fmt"
	"sort"
	"time"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/pkg/timeutil"
)

// Input is everything a pattern evaluator may look at.
type Input struct {
	Session  *activity.Session
	History  []*activity.Session // prior sessions inside the lookback, current excluded
	Policy   *Policy
	Location *time.Location
}

// Evaluator checks one pattern. It returns whether the pattern fired and a short detail.
type Evaluator func(in *Input) (bool, string)

// Registry maps each pattern kind to its evaluator.
type Registry struct {
	evaluators map[PatternKind]Evaluator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{evaluators: make(map[PatternKind]Evaluator)}
}

// DefaultRegistry returns a registry with all six built-in evaluators.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PatternRapidSessions, evalRapidSessions)
	r.Register(PatternPerfectAccuracy, evalPerfectAccuracy)
	r.Register(PatternExcessiveDuration, evalExcessiveDuration)
	r.Register(PatternDeviceSwitching, evalDeviceSwitching)
	r.Register(PatternNightPattern, evalNightPattern)
	r.Register(PatternAnswerRate, evalAnswerRate)
	return r
}

// Register binds an evaluator to a pattern kind, replacing any previous one.
func (r *Registry) Register(kind PatternKind, fn Evaluator) {
	r.evaluators[kind] = fn
}

// Kinds returns registered kinds in a stable order.
func (r *Registry) Kinds() []PatternKind {
	kinds := make([]PatternKind, 0, len(r.evaluators))
	for k := range r.evaluators {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// ═══════════════════════════════════════════════════════════════════════════
// BUILT-IN EVALUATORS
// ═══════════════════════════════════════════════════════════════════════════

// evalRapidSessions counts session starts in (start-window, start], current included.
func evalRapidSessions(in *Input) (bool, string) {
	rule := in.Policy.RapidSessions
	from := in.Session.Start.Add(-rule.Window)

	count := 1
	for _, s := range in.History {
		if s.Start.After(from) && !s.Start.After(in.Session.Start) {
			count++
		}
	}
	if count > rule.MaxSessions {
		return true, fmt.Sprintf("%d sessions within %s", count, rule.Window)
	}
	return false, ""
}

func qualifiesAccuracy(s *activity.Session, rule PerfectAccuracyRule) bool {
	return s.Questions >= rule.MinQuestions && s.Accuracy() >= rule.MinAccuracy
}

// evalPerfectAccuracy fires when near-perfect accuracy repeats, or on a flawless run.
func evalPerfectAccuracy(in *Input) (bool, string) {
	rule := in.Policy.PerfectAccuracy
	if !qualifiesAccuracy(in.Session, rule) {
		return false, ""
	}
	if rule.FlawlessAlone && in.Session.Correct == in.Session.Questions {
		return true, fmt.Sprintf("flawless %d/%d", in.Session.Correct, in.Session.Questions)
	}

	repeats := 1
	for _, s := range in.History {
		if qualifiesAccuracy(s, rule) {
			repeats++
		}
	}
	if repeats >= rule.MinRepeats {
		return true, fmt.Sprintf("%d sessions at >=%.0f%% accuracy", repeats, rule.MinAccuracy)
	}
	return false, ""
}

// evalExcessiveDuration caps one session and the local-day total.
func evalExcessiveDuration(in *Input) (bool, string) {
	rule := in.Policy.ExcessiveDuration
	minutes := in.Session.Minutes()
	if minutes > rule.MaxSessionMinutes {
		return true, fmt.Sprintf("session of %d minutes", minutes)
	}

	total := minutes
	for _, s := range sameDay(in) {
		total += s.Minutes()
	}
	if total > rule.MaxDailyMinutes {
		return true, fmt.Sprintf("%d minutes in one day", total)
	}
	return false, ""
}

// evalDeviceSwitching counts distinct fingerprints on the session's local day.
func evalDeviceSwitching(in *Input) (bool, string) {
	rule := in.Policy.DeviceSwitching
	devices := make(map[string]struct{})
	if in.Session.Device != "" {
		devices[in.Session.Device] = struct{}{}
	}
	for _, s := range sameDay(in) {
		if s.Device != "" {
			devices[s.Device] = struct{}{}
		}
	}
	if len(devices) > rule.MaxDevicesPerDay {
		return true, fmt.Sprintf("%d devices in one day", len(devices))
	}
	return false, ""
}

// evalNightPattern measures the share of lookback sessions started at night.
func evalNightPattern(in *Input) (bool, string) {
	rule := in.Policy.NightPattern
	total := len(in.History) + 1
	if total < rule.MinSessions {
		return false, ""
	}

	night := 0
	if inNightWindow(in.Session.Start.In(in.Location).Hour(), rule) {
		night++
	}
	for _, s := range in.History {
		if inNightWindow(s.Start.In(in.Location).Hour(), rule) {
			night++
		}
	}
	share := float64(night) / float64(total)
	if share > rule.MinShare {
		return true, fmt.Sprintf("%d of %d sessions at night", night, total)
	}
	return false, ""
}

// evalAnswerRate bounds questions per minute and think time per question.
func evalAnswerRate(in *Input) (bool, string) {
	rule := in.Policy.AnswerRate
	if !in.Session.HasQuestions() {
		return false, ""
	}
	if qpm := in.Session.QuestionsPerMinute(); qpm > rule.MaxQuestionsPerMinute {
		return true, fmt.Sprintf("%.1f questions per minute", qpm)
	}
	if spq := in.Session.SecondsPerQuestion(); spq < rule.MinSecondsPerQuestion {
		return true, fmt.Sprintf("%.1f seconds per question", spq)
	}
	return false, ""
}

// sameDay returns history sessions starting on the current session's local day.
func sameDay(in *Input) []*activity.Session {
	var out []*activity.Session
	for _, s := range in.History {
		if timeutil.IsSameDay(s.Start, in.Session.Start, in.Location) {
			out = append(out, s)
		}
	}
	return out
}

func inNightWindow(hour int, rule NightPatternRule) bool {
	return timeutil.InHourWindow(hour, rule.StartHour, rule.EndHour)
}
