package eventhandler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/internal/infrastructure/messaging"
	"github.com/studyhub/league-core/pkg/logger"
)

type fakeNotifier struct {
	mu           sync.Mutex
	restrictions []RestrictionNotice
	rewards      []RewardNotice
	err          error
}

func (n *fakeNotifier) NotifyRestriction(ctx context.Context, notice RestrictionNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("delivery without deadline")
	}
	n.restrictions = append(n.restrictions, notice)
	return n.err
}

func (n *fakeNotifier) NotifyReward(ctx context.Context, notice RewardNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rewards = append(n.rewards, notice)
	return n.err
}

func newWiredBus(t *testing.T, n Notifier) *messaging.InMemoryEventBus {
	t.Helper()
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: logger.Discard()})
	h := NewNotifyHandler(n, logger.Discard(), NotifyConfig{})
	require.NoError(t, h.Register(bus))
	return bus
}

func TestNotifyHandler_RestrictionImposed(t *testing.T) {
	n := &fakeNotifier{}
	bus := newWiredBus(t, n)
	expires := time.Date(2026, 3, 11, 15, 0, 0, 0, time.UTC)

	require.NoError(t, bus.Publish(shared.NewRestrictionImposedEvent(
		"r1", "u1", "study_limit", "Fraud detected: 3 high-risk sessions", expires)))

	require.Len(t, n.restrictions, 1)
	got := n.restrictions[0]
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "r1", got.RestrictionID)
	assert.Equal(t, "study_limit", got.Kind)
	assert.Equal(t, "Fraud detected: 3 high-risk sessions", got.Reason)
	assert.Equal(t, expires, got.ExpiresAt)
	assert.Empty(t, n.rewards)
}

func TestNotifyHandler_RewardIssued(t *testing.T) {
	n := &fakeNotifier{}
	bus := newWiredBus(t, n)

	require.NoError(t, bus.Publish(shared.NewRewardIssuedEvent("c1", "u2", "top_1", 1, 100, "gold_sprint")))
	require.NoError(t, bus.Publish(shared.NewParticipantJoinedEvent("c1", "u3")))

	require.Len(t, n.rewards, 1)
	assert.Equal(t, RewardNotice{
		UserID:        "u2",
		CompetitionID: "c1",
		Tier:          "top_1",
		Rank:          1,
		Points:        100,
		Badge:         "gold_sprint",
	}, n.rewards[0])
	assert.Empty(t, n.restrictions)
}

func TestNotifyHandler_DeliveryFailureIsReturned(t *testing.T) {
	n := &fakeNotifier{err: errors.New("webhook down")}
	h := NewNotifyHandler(n, logger.Discard(), DefaultNotifyConfig())

	err := h.HandleRewardIssued(shared.NewRewardIssuedEvent("c1", "u1", "top_3", 2, 50, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u1")

	// Events of another type are ignored.
	assert.NoError(t, h.HandleRestrictionImposed(shared.NewParticipantJoinedEvent("c1", "u1")))
}
