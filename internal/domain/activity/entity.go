// Package activity contains domain entities and business logic
// for raw activity capture and its segmentation into study sessions.
package activity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/studyhub/league-core/internal/domain/shared"
)

// Domain errors for activity package.
var (
	ErrUnknownType      = errors.New("activity: unknown activity type")
	ErrEndBeforeStart   = errors.New("activity: end is before start")
	ErrNegativeCounters = errors.New("activity: question counters cannot be negative")
	ErrCorrectExceeds   = errors.New("activity: correct answers exceed questions")
	ErrInvalidDuration  = errors.New("activity: duration must be positive")
	ErrMissingUser      = errors.New("activity: invalid user ID")
	ErrFutureEvent      = errors.New("activity: event ends in the future")
	ErrStaleEvent       = errors.New("activity: event is older than the accepted age")
)

// futureEventTolerance absorbs clock skew between capture devices and the server.
const futureEventTolerance = 2 * time.Minute

// MaxEventAge is how old an event may be when it is submitted. Older
// activity could land in reports that competitions already settled.
const MaxEventAge = 7 * 24 * time.Hour

// Type is the kind of activity an event or session represents.
type Type string

const (
	TypeStudy  Type = "study"
	TypeTest   Type = "test"
	TypeBreak  Type = "break"
	TypeIdle   Type = "idle"
	TypeFocus  Type = "focus"
	TypeReview Type = "review"
)

// IsValid checks if the type is one of the known activity types.
func (t Type) IsValid() bool {
	switch t {
	case TypeStudy, TypeTest, TypeBreak, TypeIdle, TypeFocus, TypeReview:
		return true
	}
	return false
}

// Countable reports whether sessions of this type go through validation
// and count toward reports. Breaks and idle time are classified but never counted.
func (t Type) Countable() bool {
	switch t {
	case TypeStudy, TypeTest, TypeFocus, TypeReview:
		return true
	}
	return false
}

// String returns the string representation.
func (t Type) String() string {
	return string(t)
}

// ═══════════════════════════════════════════════════════════════════════════
// RAW EVENT
// ═══════════════════════════════════════════════════════════════════════════

// RawEvent is a single observation from the capture collaborator.
// It is created once and never mutated.
type RawEvent struct {
	ID                string            `json:"id"`
	UserID            shared.UserID     `json:"user_id"`
	Type              Type              `json:"activity_type"`
	Start             time.Time         `json:"start"`
	End               time.Time         `json:"end"`
	DeviceFingerprint string            `json:"device_fingerprint,omitempty"`
	Subject           string            `json:"subject,omitempty"`
	Questions         int               `json:"questions,omitempty"`
	Correct           int               `json:"correct,omitempty"`
	Payload           map[string]string `json:"payload,omitempty"`
	ReceivedAt        time.Time         `json:"received_at"`
}

// Validate checks the event shape. The returned error wraps shared.ErrMalformedActivity.
func (e *RawEvent) Validate(now time.Time) error {
	var cause error
	switch {
	case !e.UserID.IsValid():
		cause = ErrMissingUser
	case !e.Type.IsValid():
		cause = ErrUnknownType
	case e.Start.IsZero() || e.End.IsZero() || e.End.Before(e.Start):
		cause = ErrEndBeforeStart
	case e.Questions < 0 || e.Correct < 0:
		cause = ErrNegativeCounters
	case e.Correct > e.Questions:
		cause = ErrCorrectExceeds
	case !now.IsZero() && e.End.After(now.Add(futureEventTolerance)):
		cause = ErrFutureEvent
	case !now.IsZero() && e.End.Before(now.Add(-MaxEventAge)):
		cause = ErrStaleEvent
	}
	if cause != nil {
		return shared.WrapError("activity", "Validate", shared.ErrMalformedActivity, cause.Error(), cause)
	}
	return nil
}

// DedupeKey returns the idempotency key of the event.
func (e *RawEvent) DedupeKey() string {
	return DedupeKey(e.UserID, e.Start, e.End, e.Type)
}

// Duration returns the event length.
func (e *RawEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// DedupeKey hashes (user, start, end, type) into a stable hex key.
// Timestamps are normalized to UTC nanoseconds so the same instant
// submitted with different offsets yields the same key.
func DedupeKey(userID shared.UserID, start, end time.Time, t Type) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(start.UTC().UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(end.UTC().UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(t))
	return hex.EncodeToString(h.Sum(nil))
}

// ═══════════════════════════════════════════════════════════════════════════
// SESSION
// ═══════════════════════════════════════════════════════════════════════════

// Source tells where a session came from.
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// ManualRulesVersion is stamped on manually reported sessions.
const ManualRulesVersion = "manual"

// ManualReplayWindow buckets the report time of keyless manual sessions,
// so a retried report inside the bucket keeps its identity.
const ManualReplayWindow = 5 * time.Minute

// sessionNamespace seeds deterministic session IDs for classified spans.
var sessionNamespace = uuid.MustParse("6f1c7a52-1f0e-4c39-9a2a-4a0c35b1d7e3")

// Session is a contiguous block of one activity type with a derived duration.
// A session is not authoritative until it has been assessed.
type Session struct {
	ID           string        `json:"id"`
	UserID       shared.UserID `json:"user_id"`
	Type         Type          `json:"type"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Subject      string        `json:"subject,omitempty"`
	Confidence   float64       `json:"confidence"`
	Device       string        `json:"device,omitempty"`
	Questions    int           `json:"questions"`
	Correct      int           `json:"correct"`
	EventCount   int           `json:"event_count"`
	Source       Source        `json:"source"`
	RulesVersion string        `json:"rules_version"`
}

// NewManualSession builds a session reported by the user through chat.
// The session ends at now and spans the given number of minutes. The ID
// is derived from the client key when one is given, otherwise from the
// report itself and its time bucket.
func NewManualSession(userID shared.UserID, key string, minutes, questions, correct int, subject string, now time.Time) (*Session, error) {
	if !userID.IsValid() {
		return nil, shared.WrapError("activity", "NewManualSession", shared.ErrMalformedActivity, "invalid user", ErrMissingUser)
	}
	if minutes <= 0 {
		return nil, shared.WrapError("activity", "NewManualSession", shared.ErrMalformedActivity, "duration must be positive", ErrInvalidDuration)
	}
	if questions < 0 || correct < 0 {
		return nil, shared.WrapError("activity", "NewManualSession", shared.ErrMalformedActivity, "negative counters", ErrNegativeCounters)
	}
	if correct > questions {
		return nil, shared.WrapError("activity", "NewManualSession", shared.ErrMalformedActivity, "correct exceeds questions", ErrCorrectExceeds)
	}

	t := TypeStudy
	if questions > 0 {
		t = TypeTest
	}
	idKey := fmt.Sprintf("%s|manual|key|%s", userID, key)
	if key == "" {
		idKey = fmt.Sprintf("%s|manual|%d|%d|%d|%s|%d", userID, minutes, questions, correct, subject,
			now.UTC().Truncate(ManualReplayWindow).Unix())
	}
	return &Session{
		ID:           uuid.NewSHA1(sessionNamespace, []byte(idKey)).String(),
		UserID:       userID,
		Type:         t,
		Start:        now.Add(-time.Duration(minutes) * time.Minute),
		End:          now,
		Subject:      subject,
		Confidence:   1,
		Questions:    questions,
		Correct:      correct,
		Source:       SourceManual,
		RulesVersion: ManualRulesVersion,
	}, nil
}

// DeriveSessionID returns a stable ID for a classified span so the same
// span classified twice under the same rules gets the same identity.
func DeriveSessionID(userID shared.UserID, t Type, start, end time.Time, rulesVersion string) string {
	key := fmt.Sprintf("%s|%s|%d|%d|%s", userID, t, start.UTC().UnixNano(), end.UTC().UnixNano(), rulesVersion)
	return uuid.NewSHA1(sessionNamespace, []byte(key)).String()
}

// Duration returns the session length.
func (s *Session) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Minutes returns the whole minutes of the session.
func (s *Session) Minutes() int {
	return int(s.Duration() / time.Minute)
}

// HasQuestions reports whether test data is attached.
func (s *Session) HasQuestions() bool {
	return s.Questions > 0
}

// Accuracy returns the share of correct answers in percent, or 0 without questions.
func (s *Session) Accuracy() float64 {
	if s.Questions <= 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Questions) * 100
}

// QuestionsPerMinute returns the answer rate of the session.
// A session shorter than a second is treated as one second long.
func (s *Session) QuestionsPerMinute() float64 {
	d := s.Duration()
	if d < time.Second {
		d = time.Second
	}
	return float64(s.Questions) / d.Minutes()
}

// SecondsPerQuestion returns the average think time, or 0 without questions.
func (s *Session) SecondsPerQuestion() float64 {
	if s.Questions <= 0 {
		return 0
	}
	return s.Duration().Seconds() / float64(s.Questions)
}

// Overlaps reports whether two sessions share any instant.
func (s *Session) Overlaps(o *Session) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// Uncovered returns the parts of s that none of covered overlaps, each as
// a session with its own derived ID. Questions already counted by covered
// sessions are subtracted and the rest is split by duration. Pieces shorter
// than a minute are dropped. Without overlap s itself is returned.
func (s *Session) Uncovered(covered []*Session) []*Session {
	overlapping := make([]*Session, 0, len(covered))
	for _, c := range covered {
		if c.Overlaps(s) {
			overlapping = append(overlapping, c)
		}
	}
	if len(overlapping) == 0 {
		return []*Session{s}
	}
	sort.Slice(overlapping, func(i, j int) bool { return overlapping[i].Start.Before(overlapping[j].Start) })

	type gap struct{ start, end time.Time }
	var gaps []gap
	cur := s.Start
	for _, c := range overlapping {
		if c.Start.After(cur) {
			gaps = append(gaps, gap{cur, c.Start})
		}
		if c.End.After(cur) {
			cur = c.End
		}
	}
	if cur.Before(s.End) {
		gaps = append(gaps, gap{cur, s.End})
	}

	var total time.Duration
	kept := gaps[:0]
	for _, g := range gaps {
		if d := g.end.Sub(g.start); d >= time.Minute {
			kept = append(kept, g)
			total += d
		}
	}
	if len(kept) == 0 {
		return nil
	}

	questions, correct := s.Questions, s.Correct
	for _, c := range overlapping {
		questions -= c.Questions
		correct -= c.Correct
	}
	questions = max(questions, 0)
	correct = min(max(correct, 0), questions)

	out := make([]*Session, 0, len(kept))
	restQ, restC := questions, correct
	for i, g := range kept {
		piece := *s
		piece.Start, piece.End = g.start, g.end
		piece.ID = DeriveSessionID(s.UserID, s.Type, g.start, g.end, s.ID)
		if i == len(kept)-1 {
			piece.Questions, piece.Correct = restQ, min(restC, restQ)
		} else {
			share := float64(g.end.Sub(g.start)) / float64(total)
			piece.Questions = int(float64(questions) * share)
			piece.Correct = min(int(float64(correct)*share), piece.Questions)
			restQ -= piece.Questions
			restC -= piece.Correct
		}
		out = append(out, &piece)
	}
	return out
}
