// Package memory provides in-process implementations of the domain
// repositories. They back tests and single-node development runs; every
// type is safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studyhub/league-core/internal/domain/activity"
	"github.com/studyhub/league-core/internal/domain/shared"
)

type storedEvent struct {
	event   *activity.RawEvent
	settled bool
}

// EventRepository implements activity.EventRepository.
type EventRepository struct {
	mu     sync.RWMutex
	byKey  map[string]struct{}
	byUser map[shared.UserID][]*storedEvent
}

// NewEventRepository creates an empty event store.
func NewEventRepository() *EventRepository {
	return &EventRepository{
		byKey:  make(map[string]struct{}),
		byUser: make(map[shared.UserID][]*storedEvent),
	}
}

func (r *EventRepository) Append(ctx context.Context, event *activity.RawEvent) (bool, error) {
	key := event.DedupeKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byKey[key]; dup {
		return false, nil
	}
	r.byKey[key] = struct{}{}
	cp := *event
	r.byUser[event.UserID] = append(r.byUser[event.UserID], &storedEvent{event: &cp})
	return true, nil
}

func (r *EventRepository) ListByUser(ctx context.Context, userID shared.UserID, from, to time.Time) ([]*activity.RawEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*activity.RawEvent
	for _, se := range r.byUser[userID] {
		if se.event.Start.Before(from) || !se.event.Start.Before(to) {
			continue
		}
		cp := *se.event
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (r *EventRepository) ListUnsettledUsers(ctx context.Context, before time.Time, limit int) ([]shared.UserID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []shared.UserID
	for userID, events := range r.byUser {
		for _, se := range events {
			if !se.settled && !se.event.End.After(before) {
				out = append(out, userID)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *EventRepository) EarliestUnsettled(ctx context.Context, userID shared.UserID) (time.Time, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var earliest time.Time
	found := false
	for _, se := range r.byUser[userID] {
		if se.settled {
			continue
		}
		if !found || se.event.Start.Before(earliest) {
			earliest = se.event.Start
			found = true
		}
	}
	return earliest, found, nil
}

func (r *EventRepository) MarkSettled(ctx context.Context, userID shared.UserID, upTo time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, se := range r.byUser[userID] {
		if !se.settled && !se.event.End.After(upTo) {
			se.settled = true
			n++
		}
	}
	return n, nil
}

func (r *EventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for userID, events := range r.byUser {
		kept := events[:0]
		for _, se := range events {
			if se.event.End.Before(cutoff) {
				delete(r.byKey, se.event.DedupeKey())
				n++
				continue
			}
			kept = append(kept, se)
		}
		if len(kept) == 0 {
			delete(r.byUser, userID)
		} else {
			r.byUser[userID] = kept
		}
	}
	return n, nil
}

// SessionRepository implements activity.SessionRepository.
type SessionRepository struct {
	mu     sync.RWMutex
	byID   map[string]*activity.Session
	byUser map[shared.UserID][]*activity.Session
}

// NewSessionRepository creates an empty session store.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byID:   make(map[string]*activity.Session),
		byUser: make(map[shared.UserID][]*activity.Session),
	}
}

func (r *SessionRepository) Save(ctx context.Context, session *activity.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[session.ID]; ok {
		return nil
	}
	cp := *session
	r.byID[cp.ID] = &cp
	r.byUser[cp.UserID] = append(r.byUser[cp.UserID], &cp)
	return nil
}

func (r *SessionRepository) FindOverlapping(ctx context.Context, userID shared.UserID, start, end time.Time) ([]*activity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*activity.Session
	for _, s := range r.byUser[userID] {
		if s.Start.Before(end) && start.Before(s.End) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*activity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}
