// Package memory records published notifications in process for local runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Message is one recorded publish. Data holds the JSON encoding a broker would receive.
type Message struct {
	ID         string
	Topic      string
	Payload    any
	Data       []byte
	Attributes map[string]string
}

// Publisher keeps every publish in order so local runs can log and tests can inspect them.
type Publisher struct {
	mu     sync.RWMutex
	log    []Message
	logger *zap.Logger
}

// New returns an empty Publisher. A nil logger is allowed.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger.Named("memory_publisher")}
}

// Publish encodes payload as JSON and records it under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := Message{Topic: topic, Payload: payload, Data: data}
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		msg.Attributes = a.Attributes()
	}

	p.mu.Lock()
	msg.ID = fmt.Sprintf("%s-%d", topic, len(p.log)+1)
	p.log = append(p.log, msg)
	p.mu.Unlock()

	p.logger.Debug("notification recorded", zap.String("topic", topic), zap.String("id", msg.ID))
	return msg.ID, nil
}

// Messages returns a snapshot of every recorded publish, oldest first.
func (p *Publisher) Messages() []Message {
	return p.filter(func(Message) bool { return true })
}

// OnTopic returns the recorded publishes for topic.
func (p *Publisher) OnTopic(topic string) []Message {
	return p.filter(func(m Message) bool { return m.Topic == topic })
}

func (p *Publisher) filter(keep func(Message) bool) []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, 0, len(p.log))
	for _, m := range p.log {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}
