package shared

import "time"

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that happened in the domain.
const (
	// Trust events
	EventSessionAssessed EventType = "trust.session_assessed"
	EventSessionRejected EventType = "trust.session_rejected"

	// Restriction events
	EventRestrictionImposed EventType = "restriction.imposed"
	EventRestrictionCleared EventType = "restriction.cleared"

	// Competition events
	EventCompetitionStatusChanged EventType = "competition.status_changed"
	EventParticipantJoined        EventType = "competition.participant_joined"
	EventStandingsRecomputed      EventType = "competition.standings_recomputed"
	EventRewardIssued             EventType = "competition.reward_issued"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Trust Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionAssessedEvent is emitted for every assessed session, whatever the outcome.
type SessionAssessedEvent struct {
	BaseEvent
	UserID        string   `json:"user_id"`
	SessionID     string   `json:"session_id"`
	RiskLevel     string   `json:"risk_level"`
	Score         int      `json:"score"`
	Outcome       string   `json:"outcome"`
	Patterns      []string `json:"patterns"`
	PolicyVersion int      `json:"policy_version"`
}

// Payload implements Event interface.
func (e SessionAssessedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":        e.UserID,
		"session_id":     e.SessionID,
		"risk_level":     e.RiskLevel,
		"score":          e.Score,
		"outcome":        e.Outcome,
		"patterns":       e.Patterns,
		"policy_version": e.PolicyVersion,
	}
}

// NewSessionAssessedEvent creates a new SessionAssessedEvent.
func NewSessionAssessedEvent(userID, sessionID, risk string, score int, outcome string, patterns []string, policyVersion int) SessionAssessedEvent {
	eventType := EventSessionAssessed
	if outcome == "rejected" {
		eventType = EventSessionRejected
	}
	return SessionAssessedEvent{
		BaseEvent:     NewBaseEvent(eventType, userID),
		UserID:        userID,
		SessionID:     sessionID,
		RiskLevel:     risk,
		Score:         score,
		Outcome:       outcome,
		Patterns:      patterns,
		PolicyVersion: policyVersion,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Restriction Events
// ═══════════════════════════════════════════════════════════════════════════

// RestrictionImposedEvent is emitted when a user gets restricted.
type RestrictionImposedEvent struct {
	BaseEvent
	RestrictionID string    `json:"restriction_id"`
	UserID        string    `json:"user_id"`
	Kind          string    `json:"kind"`
	Reason        string    `json:"reason"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Payload implements Event interface.
func (e RestrictionImposedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"restriction_id": e.RestrictionID,
		"user_id":        e.UserID,
		"kind":           e.Kind,
		"reason":         e.Reason,
		"expires_at":     e.ExpiresAt.Format(time.RFC3339),
	}
}

// NewRestrictionImposedEvent creates a new RestrictionImposedEvent.
func NewRestrictionImposedEvent(restrictionID, userID, kind, reason string, expiresAt time.Time) RestrictionImposedEvent {
	return RestrictionImposedEvent{
		BaseEvent:     NewBaseEvent(EventRestrictionImposed, userID),
		RestrictionID: restrictionID,
		UserID:        userID,
		Kind:          kind,
		Reason:        reason,
		ExpiresAt:     expiresAt,
	}
}

// RestrictionClearedEvent is emitted when an operator lifts a restriction early.
type RestrictionClearedEvent struct {
	BaseEvent
	RestrictionID string `json:"restriction_id"`
	UserID        string `json:"user_id"`
	ClearedBy     string `json:"cleared_by"`
}

// Payload implements Event interface.
func (e RestrictionClearedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"restriction_id": e.RestrictionID,
		"user_id":        e.UserID,
		"cleared_by":     e.ClearedBy,
	}
}

// NewRestrictionClearedEvent creates a new RestrictionClearedEvent.
func NewRestrictionClearedEvent(restrictionID, userID, clearedBy string) RestrictionClearedEvent {
	return RestrictionClearedEvent{
		BaseEvent:     NewBaseEvent(EventRestrictionCleared, userID),
		RestrictionID: restrictionID,
		UserID:        userID,
		ClearedBy:     clearedBy,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Competition Events
// ═══════════════════════════════════════════════════════════════════════════

// CompetitionStatusChangedEvent is emitted on every lifecycle transition.
type CompetitionStatusChangedEvent struct {
	BaseEvent
	CompetitionID string `json:"competition_id"`
	From          string `json:"from"`
	To            string `json:"to"`
}

// Payload implements Event interface.
func (e CompetitionStatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"competition_id": e.CompetitionID,
		"from":           e.From,
		"to":             e.To,
	}
}

// NewCompetitionStatusChangedEvent creates a new CompetitionStatusChangedEvent.
func NewCompetitionStatusChangedEvent(competitionID, from, to string) CompetitionStatusChangedEvent {
	return CompetitionStatusChangedEvent{
		BaseEvent:     NewBaseEvent(EventCompetitionStatusChanged, competitionID),
		CompetitionID: competitionID,
		From:          from,
		To:            to,
	}
}

// ParticipantJoinedEvent is emitted when a user joins a competition.
type ParticipantJoinedEvent struct {
	BaseEvent
	CompetitionID string `json:"competition_id"`
	UserID        string `json:"user_id"`
}

// Payload implements Event interface.
func (e ParticipantJoinedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"competition_id": e.CompetitionID,
		"user_id":        e.UserID,
	}
}

// NewParticipantJoinedEvent creates a new ParticipantJoinedEvent.
func NewParticipantJoinedEvent(competitionID, userID string) ParticipantJoinedEvent {
	return ParticipantJoinedEvent{
		BaseEvent:     NewBaseEvent(EventParticipantJoined, competitionID),
		CompetitionID: competitionID,
		UserID:        userID,
	}
}

// StandingsRecomputedEvent is emitted after a ranking pass.
type StandingsRecomputedEvent struct {
	BaseEvent
	CompetitionID string `json:"competition_id"`
	Participants  int    `json:"participants"`
	Final         bool   `json:"final"`
}

// Payload implements Event interface.
func (e StandingsRecomputedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"competition_id": e.CompetitionID,
		"participants":   e.Participants,
		"final":          e.Final,
	}
}

// NewStandingsRecomputedEvent creates a new StandingsRecomputedEvent.
func NewStandingsRecomputedEvent(competitionID string, participants int, final bool) StandingsRecomputedEvent {
	return StandingsRecomputedEvent{
		BaseEvent:     NewBaseEvent(EventStandingsRecomputed, competitionID),
		CompetitionID: competitionID,
		Participants:  participants,
		Final:         final,
	}
}

// RewardIssuedEvent is emitted once per newly issued reward record.
type RewardIssuedEvent struct {
	BaseEvent
	CompetitionID string `json:"competition_id"`
	UserID        string `json:"user_id"`
	Tier          string `json:"tier"`
	Rank          int    `json:"rank"`
	Points        int    `json:"points"`
	Badge         string `json:"badge,omitempty"`
}

// Payload implements Event interface.
func (e RewardIssuedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"competition_id": e.CompetitionID,
		"user_id":        e.UserID,
		"tier":           e.Tier,
		"rank":           e.Rank,
		"points":         e.Points,
		"badge":          e.Badge,
	}
}

// NewRewardIssuedEvent creates a new RewardIssuedEvent.
func NewRewardIssuedEvent(competitionID, userID, tier string, rank, points int, badge string) RewardIssuedEvent {
	return RewardIssuedEvent{
		BaseEvent:     NewBaseEvent(EventRewardIssued, userID),
		CompetitionID: competitionID,
		UserID:        userID,
		Tier:          tier,
		Rank:          rank,
		Points:        points,
		Badge:         badge,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Envelope (for serialization and transport)
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// NoopPublisher drops every event. Used where no bus is wired.
type NoopPublisher struct{}

func (NoopPublisher) Publish(Event) error { return nil }

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
