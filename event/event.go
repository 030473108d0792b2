// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventQueueSize      = 20
	AsyncQueueSize      = 1000
	AsyncWorkerPoolSize = 4
)

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

// asyncEvent wraps an event with its type for the async queue
type asyncEvent struct {
	eventType EventType
	event     Event
}

type EventBus struct {
	subscribers map[EventType]map[EventSubscriberId]Subscriber
	metrics     *eventMetrics
	logger      *slog.Logger
	lastSubId   EventSubscriberId
	mu          sync.RWMutex

	// Async workers are started by the first PublishAsync and stopped by Stop
	asyncQueue   chan asyncEvent
	stopCh       chan struct{}
	asyncWg      sync.WaitGroup
	asyncStarted bool
	asyncMu      sync.Mutex
	// Serializes SubscribeFunc registration against Stop
	stopMu       sync.Mutex
	subscriberWg sync.WaitGroup
}

// NewEventBus creates a new EventBus. A nil registry disables metrics.
func NewEventBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
) *EventBus {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e := &EventBus{
		subscribers: make(map[EventType]map[EventSubscriberId]Subscriber),
		logger:      logger.With("component", "event"),
	}
	if promRegistry != nil {
		e.initMetrics(promRegistry)
	}
	return e
}

// asyncWorker processes events from the async queue
func (e *EventBus) asyncWorker(queue <-chan asyncEvent, stopCh <-chan struct{}) {
	defer e.asyncWg.Done()
	for {
		select {
		case <-stopCh:
			return
		case ae := <-queue:
			e.Publish(ae.eventType, ae.event)
		}
	}
}

// Subscriber is a delivery abstraction that allows the EventBus to deliver
// events to in-memory channels and to external sinks via the same interface.
// Implementations must make Close idempotent.
type Subscriber interface {
	Deliver(Event) error
	Close()
}

// channelSubscriber is the in-memory subscriber. Deliver never blocks: an
// event is dropped when the buffer is full.
type channelSubscriber struct {
	ch     chan Event
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

func newChannelSubscriber(buffer int, logger *slog.Logger) *channelSubscriber {
	return &channelSubscriber{
		ch:     make(chan Event, buffer),
		logger: logger,
	}
}

func (c *channelSubscriber) Deliver(evt Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil
	}
	select {
	case c.ch <- evt:
	default:
		if c.logger != nil {
			c.logger.Warn(
				"subscriber buffer full, dropping event",
				"type", evt.Type,
			)
		}
	}
	return nil
}

func (c *channelSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

func subscriberKind(sub Subscriber) string {
	if _, ok := sub.(*channelSubscriber); ok {
		return "in-memory"
	}
	return "remote"
}

func (e *EventBus) addSubscriber(
	eventType EventType,
	sub Subscriber,
) EventSubscriberId {
	e.mu.Lock()
	defer e.mu.Unlock()
	subId := e.lastSubId + 1
	e.lastSubId = subId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[EventSubscriberId]Subscriber)
	}
	e.subscribers[eventType][subId] = sub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType), subscriberKind(sub)).
			Inc()
	}
	return subId
}

// Subscribe allows a consumer to receive events of a particular type via a channel
func (e *EventBus) Subscribe(
	eventType EventType,
) (EventSubscriberId, <-chan Event) {
	chSub := newChannelSubscriber(EventQueueSize, e.logger)
	return e.addSubscriber(eventType, chSub), chSub.ch
}

// SubscribeFunc allows a consumer to receive events of a particular type via
// a callback function. A panicking handler is logged and keeps receiving.
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handlerFunc EventHandlerFunc,
) EventSubscriberId {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	subId, evtCh := e.Subscribe(eventType)
	e.subscriberWg.Add(1)
	go func() {
		defer e.subscriberWg.Done()
		for evt := range evtCh {
			e.runHandler(handlerFunc, evt)
		}
	}()
	return subId
}

func (e *EventBus) runHandler(handlerFunc EventHandlerFunc, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(
				"event handler panic",
				"type", evt.Type,
				"panic", r,
			)
		}
	}()
	handlerFunc(evt)
}

// Unsubscribe stops delivery of events for a particular type for an existing subscriber
func (e *EventBus) Unsubscribe(eventType EventType, subId EventSubscriberId) {
	e.mu.Lock()
	var subToClose Subscriber
	if evtTypeSubs, ok := e.subscribers[eventType]; ok {
		if sub, ok2 := evtTypeSubs[subId]; ok2 {
			subToClose = sub
			delete(evtTypeSubs, subId)
			if len(evtTypeSubs) == 0 {
				delete(e.subscribers, eventType)
			}
			if e.metrics != nil {
				e.metrics.subscribers.WithLabelValues(string(eventType), subscriberKind(sub)).
					Dec()
			}
		}
	}
	e.mu.Unlock()

	if subToClose != nil {
		subToClose.Close()
	}
}

// Publish delivers an event of a particular type to all subscribers. A
// subscriber whose Deliver fails or panics is unregistered.
func (e *EventBus) Publish(eventType EventType, evt Event) {
	// Build list of subscribers inside read lock to avoid map race condition
	e.mu.RLock()
	subs := e.subscribers[eventType]
	type subItem struct {
		sub Subscriber
		id  EventSubscriberId
	}
	subList := make([]subItem, 0, len(subs))
	for id, sub := range subs {
		subList = append(subList, subItem{id: id, sub: sub})
	}
	e.mu.RUnlock()
	for _, item := range subList {
		var deliverErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					deliverErr = fmt.Errorf("subscriber deliver panic: %v", r)
				}
			}()
			deliverErr = item.sub.Deliver(evt)
		}()
		if deliverErr == nil {
			continue
		}
		e.Unsubscribe(eventType, item.id)
		if e.metrics != nil {
			e.metrics.deliveryErrors.WithLabelValues(string(eventType), subscriberKind(item.sub)).
				Inc()
		}
		e.logger.Debug(
			"event delivery error",
			"type", eventType,
			"error", deliverErr,
		)
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

// PublishAsync enqueues an event for delivery by the worker pool and returns
// immediately. It returns false when the queue is full and the event was
// dropped.
func (e *EventBus) PublishAsync(eventType EventType, evt Event) bool {
	e.asyncMu.Lock()
	if !e.asyncStarted {
		e.asyncQueue = make(chan asyncEvent, AsyncQueueSize)
		e.stopCh = make(chan struct{})
		for range AsyncWorkerPoolSize {
			e.asyncWg.Add(1)
			go e.asyncWorker(e.asyncQueue, e.stopCh)
		}
		e.asyncStarted = true
	}
	queue := e.asyncQueue
	e.asyncMu.Unlock()

	select {
	case queue <- asyncEvent{eventType: eventType, event: evt}:
		return true
	default:
		e.logger.Warn(
			"async event queue full, dropping event",
			"type", eventType,
		)
		if e.metrics != nil {
			e.metrics.deliveryErrors.WithLabelValues(string(eventType), "async-dropped").
				Inc()
		}
		return false
	}
}

// RegisterSubscriber allows external sinks to register with the EventBus. It
// returns the assigned subscriber id.
func (e *EventBus) RegisterSubscriber(
	eventType EventType,
	sub Subscriber,
) EventSubscriberId {
	return e.addSubscriber(eventType, sub)
}

// Stop shuts down the async workers, closes all subscribers and waits for
// SubscribeFunc handlers to return. Events still queued for async delivery
// are dropped. The bus can be used again afterwards.
func (e *EventBus) Stop() {
	e.asyncMu.Lock()
	if e.asyncStarted {
		close(e.stopCh)
		e.asyncWg.Wait()
		e.asyncStarted = false
	}
	e.asyncMu.Unlock()

	e.stopMu.Lock()
	defer e.stopMu.Unlock()

	e.mu.Lock()
	subsCopy := e.subscribers
	e.subscribers = make(map[EventType]map[EventSubscriberId]Subscriber)
	e.mu.Unlock()

	for _, evtTypeSubs := range subsCopy {
		for _, sub := range evtTypeSubs {
			sub.Close()
		}
	}
	e.subscriberWg.Wait()

	if e.metrics != nil {
		e.metrics.subscribers.Reset()
	}
}
