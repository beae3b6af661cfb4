package events

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tallyhr/accesscore/internal/querycache"
)

var (
	// ErrEmptyEventName indicates a rule registration without an event name.
	ErrEmptyEventName = errors.New("events: event name is required")
	// ErrEmptyRule indicates a rule with neither static nor dynamic keys.
	ErrEmptyRule = errors.New("events: rule resolves no keys")
	// ErrDuplicateEvent indicates a rule registration conflict.
	ErrDuplicateEvent = errors.New("events: rule already registered")
)

// Context carries the mutation-side values dynamic key functions may need,
// such as the affected employee or department id.
type Context map[string]string

// String returns the named value, or empty when absent.
func (c Context) String(name string) string { return c[name] }

// Rule maps a domain event to the derived-query keys it stales. StaticKeys
// are evicted on every occurrence; DynamicKeys derives additional keys from
// the mutation context.
type Rule struct {
	StaticKeys  []querycache.Key
	DynamicKeys func(Context) []querycache.Key
}

// Registry holds the event-to-invalidation rules. It is an explicit,
// constructed object mutable only through Register, so no hidden cross-module
// coupling accumulates; components receive it by reference.
type Registry struct {
	mu    sync.RWMutex
	rules map[string]Rule
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]Rule)}
}

// Register adds an invalidation rule for the named event.
func (r *Registry) Register(event string, rule Rule) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return ErrEmptyEventName
	}
	if len(rule.StaticKeys) == 0 && rule.DynamicKeys == nil {
		return fmt.Errorf("%w: %s", ErrEmptyRule, event)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[event]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, event)
	}
	r.rules[event] = rule
	return nil
}

// MustRegister registers a rule and panics on error. For built-in rule sets.
func (r *Registry) MustRegister(event string, rule Rule) {
	if err := r.Register(event, rule); err != nil {
		panic(err)
	}
}

// Resolve returns the deduplicated keys the event stales, and whether a rule
// is registered at all.
func (r *Registry) Resolve(event string, ectx Context) ([]querycache.Key, bool) {
	r.mu.RLock()
	rule, ok := r.rules[event]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}

	keys := make([]querycache.Key, 0, len(rule.StaticKeys))
	keys = append(keys, rule.StaticKeys...)
	if rule.DynamicKeys != nil {
		keys = append(keys, rule.DynamicKeys(ectx)...)
	}

	seen := make(map[string]struct{}, len(keys))
	deduped := keys[:0]
	for _, key := range keys {
		if len(key) == 0 {
			continue
		}
		id := key.String()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, key)
	}
	return deduped, true
}

// Events lists the registered event names. Primarily for diagnostics.
func (r *Registry) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	return names
}
