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

// Package kafka exports bus events to a Kafka topic as JSON messages
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/blinklabs-io/walkrbot/event"
	kafkago "github.com/segmentio/kafka-go"
)

const DefaultWriteTimeout = 10 * time.Second

// MessageWriter is the part of kafka.Writer the sink uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Message is the JSON document written for each event
type Message struct {
	Timestamp time.Time       `json:"timestamp"`
	Data      any             `json:"data"`
	Type      event.EventType `json:"type"`
}

type Config struct {
	Logger       *slog.Logger
	Writer       MessageWriter
	Topic        string
	Brokers      []string
	WriteTimeout time.Duration
}

// Sink writes bus events to Kafka. Write failures are logged and do not
// unregister the sink. The owner closes it after the bus is stopped.
type Sink struct {
	writer    MessageWriter
	logger    *slog.Logger
	timeout   time.Duration
	closeOnce sync.Once
	mu        sync.Mutex
	subs      map[event.EventType]event.EventSubscriberId
	bus       *event.EventBus
}

// New creates a sink. Without an explicit Writer a kafka.Writer for the
// given brokers and topic is created, partitioning by message key.
func New(cfg Config) (*Sink, error) {
	if cfg.Writer == nil {
		if len(cfg.Brokers) == 0 {
			return nil, fmt.Errorf("no kafka brokers configured")
		}
		if cfg.Topic == "" {
			return nil, fmt.Errorf("no kafka topic configured")
		}
		cfg.Writer = &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafkago.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	return &Sink{
		writer:  cfg.Writer,
		logger:  cfg.Logger.With("component", "kafka"),
		timeout: cfg.WriteTimeout,
		subs:    make(map[event.EventType]event.EventSubscriberId),
	}, nil
}

// Register subscribes the sink to the given event types, or to all of
// event.EventTypes when none are given
func (s *Sink) Register(bus *event.EventBus, types ...event.EventType) {
	if len(types) == 0 {
		types = event.EventTypes
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bus = bus
	for _, typ := range types {
		s.subs[typ] = bus.RegisterSubscriber(typ, registration{sink: s})
	}
}

// registration ties the sink to one event type. Closing it does not close
// the shared writer.
type registration struct {
	sink *Sink
}

func (r registration) Deliver(evt event.Event) error {
	return r.sink.Deliver(evt)
}

func (registration) Close() {}

// Unregister removes the sink from the bus it was registered with
func (s *Sink) Unregister() {
	s.mu.Lock()
	subs := s.subs
	bus := s.bus
	s.subs = make(map[event.EventType]event.EventSubscriberId)
	s.mu.Unlock()
	if bus == nil {
		return
	}
	for typ, id := range subs {
		bus.Unsubscribe(typ, id)
	}
}

// Deliver writes one event. Only encoding failures are returned.
func (s *Sink) Deliver(evt event.Event) error {
	data, err := json.Marshal(Message{
		Timestamp: evt.Timestamp,
		Data:      evt.Data,
		Type:      evt.Type,
	})
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", evt.Type, err)
	}
	msg := kafkago.Message{
		Key:   messageKey(evt),
		Value: data,
		Time:  evt.Timestamp,
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Warn(
			"failed to export event",
			"type", evt.Type,
			"error", err,
		)
	}
	return nil
}

// Close closes the underlying writer. Later calls do nothing.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		if err := s.writer.Close(); err != nil {
			s.logger.Warn("failed to close kafka writer", "error", err)
		}
	})
}

// messageKey keeps the events of one user in one partition
func messageKey(evt event.Event) []byte {
	var userID int64
	switch data := evt.Data.(type) {
	case event.DonationRequestedEvent:
		userID = data.UserID
	case event.TokenDeactivatedEvent:
		userID = data.UserID
	case event.ProgressRecordedEvent:
		userID = data.UserID
	default:
		return []byte(evt.Type)
	}
	return []byte(strconv.FormatInt(userID, 10))
}
