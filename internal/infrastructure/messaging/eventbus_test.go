package messaging

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/league-core/internal/domain/shared"
	"github.com/studyhub/league-core/pkg/logger"
)

type countingObserver struct {
	mu        sync.Mutex
	published int
	handled   int
	failed    []error
}

func (o *countingObserver) EventPublished(shared.EventType) {
	o.mu.Lock()
	o.published++
	o.mu.Unlock()
}

func (o *countingObserver) EventHandled(_ shared.EventType, _ time.Duration, err error) {
	o.mu.Lock()
	o.handled++
	if err != nil {
		o.failed = append(o.failed, err)
	}
	o.mu.Unlock()
}

func newBus(async bool, obs Observer) *InMemoryEventBus {
	return NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:      async,
		WorkerPoolSize: 2,
		Logger:         logger.Discard(),
		Observer:       obs,
	})
}

func TestInMemoryEventBus_SyncDeliversToTypedAndGlobalHandlers(t *testing.T) {
	bus := newBus(false, nil)
	var typed, global []shared.EventType

	require.NoError(t, bus.Subscribe(shared.EventParticipantJoined, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		global = append(global, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewParticipantJoinedEvent("c1", "u1")))
	require.NoError(t, bus.Publish(shared.NewRewardIssuedEvent("c1", "u1", "top_1", 1, 100, "")))

	assert.Equal(t, []shared.EventType{shared.EventParticipantJoined}, typed)
	assert.Equal(t, []shared.EventType{shared.EventParticipantJoined, shared.EventRewardIssued}, global)
}

func TestInMemoryEventBus_HandlerErrorsAreNotReturned(t *testing.T) {
	obs := &countingObserver{}
	bus := newBus(false, obs)
	boom := errors.New("boom")
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return boom }))

	assert.NoError(t, bus.Publish(shared.NewParticipantJoinedEvent("c1", "u1")))
	require.Len(t, obs.failed, 1)
	assert.ErrorIs(t, obs.failed[0], boom)
}

func TestInMemoryEventBus_AsyncRecoversPanics(t *testing.T) {
	obs := &countingObserver{}
	bus := newBus(true, obs)
	var delivered atomic.Int32

	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("handler bug") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		delivered.Add(1)
		return nil
	}))

	for i := 0; i < 5; i++ {
		require.NoError(t, bus.Publish(shared.NewParticipantJoinedEvent("c1", "u1")))
	}
	bus.Wait()

	assert.Equal(t, int32(5), delivered.Load())
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 5, obs.published)
	assert.Equal(t, 10, obs.handled)
	require.Len(t, obs.failed, 5)
	assert.ErrorIs(t, obs.failed[0], ErrHandlerPanic)
}

func TestInMemoryEventBus_Close(t *testing.T) {
	bus := newBus(true, nil)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(shared.NewParticipantJoinedEvent("c1", "u1")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventRewardIssued, func(shared.Event) error { return nil }), ErrEventBusClosed)
}

func TestInMemoryEventBus_RejectsNil(t *testing.T) {
	bus := newBus(false, nil)
	assert.Error(t, bus.Subscribe(shared.EventRewardIssued, nil))
	assert.Error(t, bus.Publish(nil))
}
