// Package bus provides an internal event bus for component communication
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for Saathi
const (
	// Conversation events
	EventTypeMessageAppended EventType = "conversation.message_appended"
	EventTypeMessageRemoved  EventType = "conversation.message_removed"
	EventTypePhaseChanged    EventType = "conversation.phase_changed"
	EventTypeReset           EventType = "conversation.reset"

	// Speech input events
	EventTypeListeningStarted EventType = "stt.listening_started"
	EventTypeListeningStopped EventType = "stt.listening_stopped"
	EventTypeTranscript       EventType = "stt.transcript"

	// Speech output events
	EventTypeSpeakingStarted EventType = "tts.speaking_started"
	EventTypeSpeakingStopped EventType = "tts.speaking_stopped"
	EventTypeVoiceResolved   EventType = "tts.voice_resolved"

	// Shell events
	EventTypeNotice   EventType = "shell.notice"
	EventTypeSnapshot EventType = "shell.snapshot"
)

// Event represents a bus event
type Event struct {
	Type EventType
	Data map[string]any
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handlers := make([]Handler, len(b.handlers[eventType]))
	copy(handlers, b.handlers[eventType])
	return handlers
}

// Publish sends an event to all subscribed handlers without blocking.
// Handlers run on their own goroutines, so delivery order is not guaranteed.
func (b *EventBus) Publish(event Event) {
	for _, handler := range b.snapshot(event.Type) {
		go handler(event)
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]Handler)
}
