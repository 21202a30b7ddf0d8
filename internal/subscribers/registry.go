// Package subscribers owns the set of recipients that opted into shop updates.
package subscribers

import (
	"context"
	"fmt"
	"sync"

	"shopwatch/internal/eventbus"
	"shopwatch/internal/storage"
	logx "shopwatch/pkg/logx"
)

// Result reports what a Subscribe/Unsubscribe call did.
type Result int

const (
	Added Result = iota + 1
	AlreadyPresent
	Removed
	NotPresent
)

func (r Result) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	case Removed:
		return "removed"
	case NotPresent:
		return "not_present"
	default:
		return "unknown"
	}
}

// Gauge receives the subscriber count after every change.
type Gauge interface {
	Set(float64)
}

// Registry is the subscriber set. All mutations and their persistence run under
// one mutex, so the set on disk always matches a state the registry held.
type Registry struct {
	mu    sync.Mutex
	ids   []string
	index map[string]struct{}

	store storage.Store
	log   logx.Logger
	bus   eventbus.Bus
	gauge Gauge
}

type Option func(*Registry)

func WithBus(bus eventbus.Bus) Option { return func(r *Registry) { r.bus = bus } }
func WithGauge(g Gauge) Option        { return func(r *Registry) { r.gauge = g } }

func New(store storage.Store, log logx.Logger, opts ...Option) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{store: store, log: log, index: map[string]struct{}{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Load replaces the in-memory set with the stored one. A storage error (including
// storage.ErrCorrupt) is returned unchanged; callers treat it as fatal at startup.
func (r *Registry) Load(ctx context.Context) ([]string, error) {
	ids, existed, err := r.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}

	r.mu.Lock()
	r.ids = r.ids[:0]
	r.index = make(map[string]struct{}, len(ids))
	dupes := 0
	for _, id := range ids {
		if _, ok := r.index[id]; ok {
			dupes++
			continue
		}
		r.index[id] = struct{}{}
		r.ids = append(r.ids, id)
	}
	out := append([]string(nil), r.ids...)
	r.mu.Unlock()

	if dupes > 0 {
		r.log.Warn("duplicate subscribers collapsed", logx.Int("duplicates", dupes))
	}
	r.log.Info("subscribers loaded", logx.Int("count", len(out)), logx.Bool("existed", existed))
	r.setGauge(len(out))
	return out, nil
}

// Subscribe adds id if absent and persists the full set before returning Added.
// If persisting fails the addition is rolled back and the error returned.
func (r *Registry) Subscribe(ctx context.Context, id string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; ok {
		return AlreadyPresent, nil
	}
	next := append(append([]string(nil), r.ids...), id)
	if err := r.store.Save(ctx, next); err != nil {
		return 0, fmt.Errorf("persist subscribe: %w", err)
	}
	r.ids = next
	r.index[id] = struct{}{}
	r.changed(eventbus.SubscriberAdded, id)
	return Added, nil
}

// Unsubscribe removes id if present and persists the full set before returning Removed.
func (r *Registry) Unsubscribe(ctx context.Context, id string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; !ok {
		return NotPresent, nil
	}
	next := make([]string, 0, len(r.ids))
	for _, v := range r.ids {
		if v != id {
			next = append(next, v)
		}
	}
	if err := r.store.Save(ctx, next); err != nil {
		return 0, fmt.Errorf("persist unsubscribe: %w", err)
	}
	r.ids = next
	delete(r.index, id)
	r.changed(eventbus.SubscriberRemoved, id)
	return Removed, nil
}

// changed runs with r.mu held.
func (r *Registry) changed(typ, id string) {
	n := len(r.ids)
	r.log.Info("subscriber "+typ[len("subscriber."):], logx.String("id", id), logx.Int("count", n))
	r.setGauge(n)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.SubscriberEvent{ID: id, Count: n}})
	}
}

func (r *Registry) setGauge(n int) {
	if r.gauge != nil {
		r.gauge.Set(float64(n))
	}
}

// Snapshot returns a copy of the current set in subscription order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func (r *Registry) Contains(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[id]
	return ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
