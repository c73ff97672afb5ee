// Package trust scores classified sessions for fraud and abuse.
// The scoring model is a versioned Policy passed into a pure Validator,
// so it can be tuned without touching control flow.
package trust

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/studyhub/league-core/internal/domain/shared"
)

// PatternKind is the closed set of fraud patterns.
type PatternKind string

const (
	PatternRapidSessions     PatternKind = "rapid_sessions"
	PatternPerfectAccuracy   PatternKind = "perfect_accuracy"
	PatternExcessiveDuration PatternKind = "excessive_duration"
	PatternDeviceSwitching   PatternKind = "device_switching"
	PatternNightPattern      PatternKind = "night_pattern"
	PatternAnswerRate        PatternKind = "answer_rate"
)

// AllPatterns returns every known pattern kind in a stable order.
func AllPatterns() []PatternKind {
	return []PatternKind{
		PatternRapidSessions,
		PatternPerfectAccuracy,
		PatternExcessiveDuration,
		PatternDeviceSwitching,
		PatternNightPattern,
		PatternAnswerRate,
	}
}

// IsValid checks if the kind belongs to the closed set.
func (k PatternKind) IsValid() bool {
	for _, p := range AllPatterns() {
		if p == k {
			return true
		}
	}
	return false
}

// String returns the string representation.
func (k PatternKind) String() string {
	return string(k)
}

// ═══════════════════════════════════════════════════════════════════════════
// POLICY
// ═══════════════════════════════════════════════════════════════════════════

// RiskThresholds are the lower score bounds of each risk band above low.
type RiskThresholds struct {
	Medium   int `mapstructure:"medium" json:"medium"`
	High     int `mapstructure:"high" json:"high"`
	Critical int `mapstructure:"critical" json:"critical"`
}

// RapidSessionsRule flags more than MaxSessions session starts within Window.
type RapidSessionsRule struct {
	Window      time.Duration `mapstructure:"window" json:"window"`
	MaxSessions int           `mapstructure:"max_sessions" json:"max_sessions"`
}

// PerfectAccuracyRule flags near-perfect accuracy that keeps repeating.
type PerfectAccuracyRule struct {
	MinAccuracy  float64 `mapstructure:"min_accuracy" json:"min_accuracy"`
	MinQuestions int     `mapstructure:"min_questions" json:"min_questions"`
	MinRepeats   int     `mapstructure:"min_repeats" json:"min_repeats"`

	// FlawlessAlone lets a single 100% session trigger without repeats.
	FlawlessAlone bool `mapstructure:"flawless_alone" json:"flawless_alone"`
}

// ExcessiveDurationRule caps single-session and per-day minutes.
type ExcessiveDurationRule struct {
	MaxSessionMinutes int `mapstructure:"max_session_minutes" json:"max_session_minutes"`
	MaxDailyMinutes   int `mapstructure:"max_daily_minutes" json:"max_daily_minutes"`
}

// DeviceSwitchingRule caps distinct device fingerprints per day.
type DeviceSwitchingRule struct {
	MaxDevicesPerDay int `mapstructure:"max_devices_per_day" json:"max_devices_per_day"`
}

// NightPatternRule flags a disproportionate share of sessions in the night window.
// The window is [StartHour, EndHour) in local time and may wrap midnight.
type NightPatternRule struct {
	StartHour   int     `mapstructure:"start_hour" json:"start_hour"`
	EndHour     int     `mapstructure:"end_hour" json:"end_hour"`
	MinShare    float64 `mapstructure:"min_share" json:"min_share"`
	MinSessions int     `mapstructure:"min_sessions" json:"min_sessions"`
}

// AnswerRateRule bounds plausible answering speed.
type AnswerRateRule struct {
	MaxQuestionsPerMinute float64 `mapstructure:"max_questions_per_minute" json:"max_questions_per_minute"`
	MinSecondsPerQuestion float64 `mapstructure:"min_seconds_per_question" json:"min_seconds_per_question"`
}

// RestrictionRule turns repeated high-risk assessments into a time-boxed block.
type RestrictionRule struct {
	Threshold int           `mapstructure:"threshold" json:"threshold"`
	Window    time.Duration `mapstructure:"window" json:"window"`
	Duration  time.Duration `mapstructure:"duration" json:"duration"`
}

// Policy is the versioned fraud model: pattern weights, thresholds and risk bands.
type Policy struct {
	Version     int                 `mapstructure:"version" json:"version"`
	HistoryDays int                 `mapstructure:"history_days" json:"history_days"`
	Weights     map[PatternKind]int `mapstructure:"weights" json:"weights"`
	Risk        RiskThresholds      `mapstructure:"risk" json:"risk"`

	RapidSessions     RapidSessionsRule     `mapstructure:"rapid_sessions" json:"rapid_sessions"`
	PerfectAccuracy   PerfectAccuracyRule   `mapstructure:"perfect_accuracy" json:"perfect_accuracy"`
	ExcessiveDuration ExcessiveDurationRule `mapstructure:"excessive_duration" json:"excessive_duration"`
	DeviceSwitching   DeviceSwitchingRule   `mapstructure:"device_switching" json:"device_switching"`
	NightPattern      NightPatternRule      `mapstructure:"night_pattern" json:"night_pattern"`
	AnswerRate        AnswerRateRule        `mapstructure:"answer_rate" json:"answer_rate"`

	Restriction RestrictionRule `mapstructure:"restriction" json:"restriction"`

	UpdatedAt time.Time `mapstructure:"-" json:"updated_at"`
	UpdatedBy string    `mapstructure:"-" json:"updated_by,omitempty"`
}

// DefaultPolicy returns the documented starting weights and thresholds.
// It seeds the policy file and tests. Runtime code never falls back to it.
func DefaultPolicy() *Policy {
	return &Policy{
		Version:     1,
		HistoryDays: 7,
		Weights: map[PatternKind]int{
			PatternRapidSessions:     30,
			PatternPerfectAccuracy:   35,
			PatternExcessiveDuration: 25,
			PatternDeviceSwitching:   30,
			PatternNightPattern:      15,
			PatternAnswerRate:        35,
		},
		Risk: RiskThresholds{Medium: 30, High: 60, Critical: 80},
		RapidSessions: RapidSessionsRule{
			Window:      time.Hour,
			MaxSessions: 4,
		},
		PerfectAccuracy: PerfectAccuracyRule{
			MinAccuracy:   95,
			MinQuestions:  10,
			MinRepeats:    3,
			FlawlessAlone: true,
		},
		ExcessiveDuration: ExcessiveDurationRule{
			MaxSessionMinutes: 180,
			MaxDailyMinutes:   480,
		},
		DeviceSwitching: DeviceSwitchingRule{MaxDevicesPerDay: 2},
		NightPattern: NightPatternRule{
			StartHour:   0,
			EndHour:     6,
			MinShare:    0.7,
			MinSessions: 3,
		},
		AnswerRate: AnswerRateRule{
			MaxQuestionsPerMinute: 10,
			MinSecondsPerQuestion: 3,
		},
		Restriction: RestrictionRule{
			Threshold: 3,
			Window:    7 * 24 * time.Hour,
			Duration:  24 * time.Hour,
		},
	}
}

// Validate checks the policy for completeness. Every known pattern must carry
// an explicit weight; a missing one is an error, never a silent zero.
func (p *Policy) Validate() error {
	if p == nil {
		return shared.ErrPolicyMissing
	}

	var errs []string
	if p.Version <= 0 {
		errs = append(errs, "version must be positive")
	}
	if p.HistoryDays <= 0 {
		errs = append(errs, "history_days must be positive")
	}
	for _, kind := range AllPatterns() {
		w, ok := p.Weights[kind]
		if !ok {
			errs = append(errs, fmt.Sprintf("weight for %s is missing", kind))
			continue
		}
		if w < 0 || w > 100 {
			errs = append(errs, fmt.Sprintf("weight for %s must be in [0,100]", kind))
		}
	}
	for kind := range p.Weights {
		if !kind.IsValid() {
			errs = append(errs, fmt.Sprintf("unknown pattern %q", kind))
		}
	}
	if !(0 < p.Risk.Medium && p.Risk.Medium < p.Risk.High && p.Risk.High < p.Risk.Critical && p.Risk.Critical <= 100) {
		errs = append(errs, "risk thresholds must satisfy 0 < medium < high < critical <= 100")
	}
	if p.RapidSessions.Window <= 0 || p.RapidSessions.MaxSessions <= 0 {
		errs = append(errs, "rapid_sessions window and max_sessions must be positive")
	}
	if p.PerfectAccuracy.MinAccuracy <= 0 || p.PerfectAccuracy.MinAccuracy > 100 ||
		p.PerfectAccuracy.MinQuestions <= 0 || p.PerfectAccuracy.MinRepeats <= 0 {
		errs = append(errs, "perfect_accuracy thresholds are out of range")
	}
	if p.ExcessiveDuration.MaxSessionMinutes <= 0 || p.ExcessiveDuration.MaxDailyMinutes <= 0 {
		errs = append(errs, "excessive_duration limits must be positive")
	}
	if p.DeviceSwitching.MaxDevicesPerDay <= 0 {
		errs = append(errs, "device_switching max_devices_per_day must be positive")
	}
	np := p.NightPattern
	if np.StartHour < 0 || np.StartHour > 23 || np.EndHour < 0 || np.EndHour > 24 || np.StartHour == np.EndHour ||
		np.MinShare <= 0 || np.MinShare > 1 || np.MinSessions <= 0 {
		errs = append(errs, "night_pattern window or share is out of range")
	}
	if p.AnswerRate.MaxQuestionsPerMinute <= 0 || p.AnswerRate.MinSecondsPerQuestion < 0 {
		errs = append(errs, "answer_rate limits are out of range")
	}
	if p.Restriction.Threshold <= 0 || p.Restriction.Window <= 0 || p.Restriction.Duration <= 0 {
		errs = append(errs, "restriction threshold, window and duration must be positive")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return shared.WrapError("trust", "ValidatePolicy", shared.ErrPolicyMissing,
			"invalid fraud policy", errors.New(strings.Join(errs, "; ")))
	}
	return nil
}

// Weight returns the configured weight of a pattern.
func (p *Policy) Weight(kind PatternKind) int {
	return p.Weights[kind]
}

// RiskFor maps a score onto a risk band.
func (p *Policy) RiskFor(score int) RiskLevel {
	switch {
	case score >= p.Risk.Critical:
		return RiskCritical
	case score >= p.Risk.High:
		return RiskHigh
	case score >= p.Risk.Medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// History returns the validator lookback as a duration.
func (p *Policy) History() time.Duration {
	return time.Duration(p.HistoryDays) * 24 * time.Hour
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	cp := *p
	cp.Weights = make(map[PatternKind]int, len(p.Weights))
	for k, v := range p.Weights {
		cp.Weights[k] = v
	}
	return &cp
}

// ═══════════════════════════════════════════════════════════════════════════
// POLICY HOLDER
// ═══════════════════════════════════════════════════════════════════════════

// PolicyHolder keeps the active policy and swaps it atomically on update.
type PolicyHolder struct {
	current atomic.Pointer[Policy]
}

// NewPolicyHolder validates the initial policy. A missing or invalid policy
// is returned as an error so the caller can refuse to start.
func NewPolicyHolder(p *Policy) (*PolicyHolder, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	h := &PolicyHolder{}
	h.current.Store(p.Clone())
	return h, nil
}

// Current returns the active policy. Callers must not mutate it.
func (h *PolicyHolder) Current() *Policy {
	return h.current.Load()
}

// Replace validates and installs a new policy.
func (h *PolicyHolder) Replace(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	h.current.Store(p.Clone())
	return nil
}
