package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps normalized topic names to strategies.
type Registry struct {
	mu      sync.RWMutex
	byTopic map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{byTopic: make(map[string]Strategy)}
}

// NormalizeTopic trims and lower-cases a topic.
func NormalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

// Register adds s under topic. Registering the same topic twice is an error.
func (r *Registry) Register(topic string, s Strategy) error {
	key := NormalizeTopic(topic)
	if key == "" {
		return errors.New("strategy: topic must not be empty")
	}
	if s == nil {
		return fmt.Errorf("strategy: nil strategy for topic %q", key)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTopic[key]; ok {
		return fmt.Errorf("strategy: topic %q already registered", key)
	}
	r.byTopic[key] = s
	return nil
}

// Lookup returns the strategy registered for topic or ErrUnknownTopic.
func (r *Registry) Lookup(topic string) (Strategy, error) {
	key := NormalizeTopic(topic)
	r.mu.RLock()
	s, ok := r.byTopic[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, key)
	}
	return s, nil
}

// Has reports whether topic is registered.
func (r *Registry) Has(topic string) bool {
	_, err := r.Lookup(topic)
	return err == nil
}

// Topics returns the registered topics in sorted order.
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byTopic))
	for k := range r.byTopic {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
