// Package events is the in-process topic pub/sub fabric that lets the MCP
// server, the REST/SSE layer, and the chat bridges observe the same
// perception events without owning each other.
package events

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Standard topics.
const (
	TopicMCPLog      = "mcp_log"
	TopicSceneChange = "scene_change"
	TopicScene       = "scene"
	TopicAlert       = "alert"
)

// Handler receives one published event. Handlers run on their own
// goroutines; a panicking handler is logged and swallowed.
type Handler func(event any)

// Bus is a topic pub/sub registry guarded by one mutex. Publish copies the
// handler list under the lock and releases it before running anything, so a
// slow subscriber never blocks a publisher or another subscriber.
type Bus struct {
	mu     sync.Mutex
	topics map[string]map[string]Handler
	log    *logrus.Logger
}

func NewBus(log *logrus.Logger) *Bus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bus{
		topics: make(map[string]map[string]Handler),
		log:    log,
	}
}

// Subscribe registers a handler and returns its subscription id.
func (b *Bus) Subscribe(topic string, h Handler) string {
	id := uuid.New().String()
	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]Handler)
	}
	b.topics[topic][id] = h
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	for _, handlers := range b.topics {
		delete(handlers, subID)
	}
	b.mu.Unlock()
}

// Publish delivers the event to every current subscriber of the topic,
// concurrently. Per-publish ordering is preserved for a single subscriber
// only in the sense that each handler invocation gets the event it was
// published with; cross-publisher ordering is not guaranteed.
func (b *Bus) Publish(topic string, event any) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.topics[topic]))
	for _, h := range b.topics[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Warnf("event subscriber panic on %q: %v", topic, r)
				}
			}()
			h(event)
		}(h)
	}
	wg.Wait()
}
