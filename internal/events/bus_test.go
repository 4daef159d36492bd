package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	var got []string
	for i := 0; i < 3; i++ {
		bus.Subscribe(TopicAlert, func(e any) {
			mu.Lock()
			got = append(got, e.(string))
			mu.Unlock()
		})
	}

	bus.Publish(TopicAlert, "hello")
	assert.Len(t, got, 3)
	for _, g := range got {
		assert.Equal(t, "hello", g)
	}
}

func TestBus_UnsubscribedHandlerNotInvoked(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	calls := 0
	id := bus.Subscribe(TopicSceneChange, func(any) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	bus.Publish(TopicSceneChange, 1)
	bus.Unsubscribe(id)
	bus.Publish(TopicSceneChange, 2)
	assert.Equal(t, 1, calls)
}

func TestBus_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	delivered := 0
	bus.Subscribe(TopicMCPLog, func(any) { panic("bad subscriber") })
	bus.Subscribe(TopicMCPLog, func(any) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	assert.NotPanics(t, func() { bus.Publish(TopicMCPLog, "event") })
	assert.Equal(t, 1, delivered)
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	alerts := 0
	bus.Subscribe(TopicAlert, func(any) {
		mu.Lock()
		alerts++
		mu.Unlock()
	})

	bus.Publish(TopicSceneChange, 1)
	assert.Zero(t, alerts)
}
