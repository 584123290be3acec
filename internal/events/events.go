// Package events defines the fragment lifecycle notifications and a small
// in-process bus delivering them to subscribers.
package events

import (
	"fragloadd/internal/logger"
	"fragloadd/internal/models"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names a notification.
type Event string

const (
	// FragLoading asks for a fragment to be loaded.
	FragLoading Event = "FRAGMENT_LOADING"
	// FragLoaded carries the payload of a successfully loaded fragment.
	FragLoaded Event = "FRAGMENT_LOADED"
	// FragSkipped reports a fragment whose load failed or timed out.
	FragSkipped Event = "FRAGMENT_SKIPPED"
	// FragLoadProgress reports bytes received by an in-flight load.
	FragLoadProgress Event = "FRAGMENT_LOAD_PROGRESS"
)

// Notification is the payload delivered for every event.
type Notification struct {
	ID             string
	Event          Event
	Time           time.Time
	Frag           *models.Fragment
	Payload        []byte
	Stats          *models.Stats
	NetworkDetails *models.NetworkDetails
}

// New builds a notification stamped with an id and the current time.
func New(event Event, frag *models.Fragment) Notification {
	return Notification{
		ID:    uuid.New().String(),
		Event: event,
		Time:  time.Now(),
		Frag:  frag,
	}
}

// Sink consumes notifications.
type Sink interface {
	Emit(n Notification)
}

// Handler is invoked for each notification of a subscribed event.
type Handler func(n Notification)

// Bus dispatches notifications synchronously, in emission order, to the
// handlers subscribed to their event.
type Bus struct {
	mutex    sync.RWMutex
	handlers map[Event][]Handler
	logger   logger.Logger
}

// NewBus creates an empty bus.
func NewBus(log logger.Logger) *Bus {
	return &Bus{
		handlers: make(map[Event][]Handler),
		logger:   log,
	}
}

// Subscribe registers h for event.
func (b *Bus) Subscribe(event Event, h Handler) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.handlers[event] = append(b.handlers[event], h)
}

// Emit delivers n to every handler subscribed to its event. A panicking
// handler is logged and does not prevent delivery to the others.
func (b *Bus) Emit(n Notification) {
	b.mutex.RLock()
	handlers := append([]Handler(nil), b.handlers[n.Event]...)
	b.mutex.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debugf("No handler for %s", n.Event)
		return
	}
	for _, h := range handlers {
		b.dispatch(h, n)
	}
}

func (b *Bus) dispatch(h Handler, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("Handler for %s panicked: %v", n.Event, r)
		}
	}()
	h(n)
}

var _ Sink = (*Bus)(nil)
