// internal/handler/event_bus.go
package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"pulsepal-service/internal/pulsepal"
)

// Session event types
const (
	EventSessionOpened = "session_opened"
	EventSessionClosed = "session_closed"
	EventSessionFailed = "session_failed"
)

// EventBus manages event distribution
type EventBus struct {
	subscribers map[string][]chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger

	closeMu  sync.RWMutex // guards events against send after close
	closed   bool
	stopOnce sync.Once
}

// Event represents a system event
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		subscribers: make(map[string][]chan Event),
		events:      make(chan Event, 1000),
		logger:      logger,
	}
}

// Start distributes events until Stop is called, then closes every
// subscriber channel
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()
	for eventType, subscribers := range eb.subscribers {
		for _, subscriber := range subscribers {
			close(subscriber)
		}
		delete(eb.subscribers, eventType)
	}
}

// Stop ends distribution. Events published afterwards are dropped.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		eb.closeMu.Lock()
		eb.closed = true
		close(eb.events)
		eb.closeMu.Unlock()
	})
}

// Publish publishes an event
func (eb *EventBus) Publish(event Event) {
	eb.closeMu.RLock()
	defer eb.closeMu.RUnlock()
	if eb.closed {
		return
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", event.Type),
		)
	}
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType string) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, 100)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	return subscriber
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	subscribers := eb.subscribers[event.Type]
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// DeviceEventHandler publishes connection manager events on the event bus
type DeviceEventHandler struct {
	eventBus *EventBus
	logger   *zap.Logger
}

// NewDeviceEventHandler creates a new device event handler
func NewDeviceEventHandler(eventBus *EventBus, logger *zap.Logger) *DeviceEventHandler {
	return &DeviceEventHandler{
		eventBus: eventBus,
		logger:   logger,
	}
}

func (deh *DeviceEventHandler) emit(name, eventType string, data map[string]interface{}) {
	deh.eventBus.Publish(Event{
		Type:      eventType,
		Source:    name,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// OnSessionOpened handles session opened events
func (deh *DeviceEventHandler) OnSessionOpened(name string, info pulsepal.Info) {
	deh.emit(name, EventSessionOpened, map[string]interface{}{
		"status":  "online",
		"session": info,
	})

	deh.logger.Info("Session opened event published",
		zap.String("device", name),
		zap.Int("firmware", info.FirmwareVersion),
	)
}

// OnSessionClosed handles session closed events
func (deh *DeviceEventHandler) OnSessionClosed(name string, info pulsepal.Info) {
	deh.emit(name, EventSessionClosed, map[string]interface{}{
		"status":  "offline",
		"session": info,
	})

	deh.logger.Info("Session closed event published", zap.String("device", name))
}

// OnSessionFailed handles session failures, both at connect and while open
func (deh *DeviceEventHandler) OnSessionFailed(name, portName string, err error) {
	deh.emit(name, EventSessionFailed, map[string]interface{}{
		"status": "error",
		"port":   portName,
		"error":  err.Error(),
	})

	deh.logger.Error("Session failure event published",
		zap.String("device", name),
		zap.String("port", portName),
		zap.Error(err),
	)
}
