package subscription

import (
	"sort"
	"sync"

	"github.com/nordicopen/pyeasee/pkg/wire"
)

// Callback receives one coerced event for a subscribed device. value is a
// bool, float64, int or string depending on dataType (see wire.Coerce).
type Callback func(deviceID string, dataType wire.DataType, fieldID int, value any)

// Entry is a registered subscription.
type Entry struct {
	DeviceID string
	Callback Callback
}

// Outcome reports what Dispatch did with an event.
type Outcome uint8

const (
	// OutcomeDelivered means the callback was invoked.
	OutcomeDelivered Outcome = iota

	// OutcomeNoSubscriber means no callback is registered for the device.
	OutcomeNoSubscriber

	// OutcomeInvalid means the value failed coercion and was dropped.
	OutcomeInvalid
)

// String returns the outcome name, also used as a metric label.
func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeNoSubscriber:
		return "no_subscriber"
	case OutcomeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Registry maps device IDs to callbacks. It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	entries map[string]Callback

	// Hooks
	onUnrouted func(ev wire.Event, outcome Outcome, err error)
	onPanic    func(ev wire.Event, recovered any)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Callback),
	}
}

// Add registers cb for deviceID, replacing any previous callback. It reports
// whether an entry was replaced. cb must not be nil.
func (r *Registry) Add(deviceID string, cb Callback) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced = r.entries[deviceID]
	r.entries[deviceID] = cb
	return replaced
}

// Remove deletes the entry for deviceID and reports whether it existed.
// Removing an unknown device is a no-op.
func (r *Registry) Remove(deviceID string) (existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed = r.entries[deviceID]
	delete(r.entries, deviceID)
	return existed
}

// Has reports whether deviceID is registered.
func (r *Registry) Has(deviceID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[deviceID]
	return ok
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// All returns a snapshot of the registered entries. Later changes to the
// registry do not affect the returned slice. Entries are ordered by device
// ID.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for id, cb := range r.entries {
		out = append(out, Entry{DeviceID: id, Callback: cb})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// DeviceIDs returns the registered device IDs in order.
func (r *Registry) DeviceIDs() []string {
	entries := r.All()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.DeviceID
	}
	return ids
}

// OnUnrouted sets a hook called for every event that was not delivered.
// err is the coercion error for OutcomeInvalid and nil otherwise.
func (r *Registry) OnUnrouted(fn func(ev wire.Event, outcome Outcome, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onUnrouted = fn
}

// OnPanic sets a hook called when a callback panics.
func (r *Registry) OnPanic(fn func(ev wire.Event, recovered any)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPanic = fn
}

// Dispatch routes ev to the callback registered for its device.
func (r *Registry) Dispatch(ev wire.Event) Outcome {
	// Capture callback and hooks for use outside lock
	r.mu.RLock()
	cb, ok := r.entries[ev.DeviceID]
	onUnrouted := r.onUnrouted
	onPanic := r.onPanic
	r.mu.RUnlock()

	if !ok {
		if onUnrouted != nil {
			onUnrouted(ev, OutcomeNoSubscriber, nil)
		}
		return OutcomeNoSubscriber
	}

	value, err := ev.Coerce()
	if err != nil {
		if onUnrouted != nil {
			onUnrouted(ev, OutcomeInvalid, err)
		}
		return OutcomeInvalid
	}

	invoke(cb, ev, value, onPanic)
	return OutcomeDelivered
}

func invoke(cb Callback, ev wire.Event, value any, onPanic func(wire.Event, any)) {
	defer func() {
		if rec := recover(); rec != nil && onPanic != nil {
			onPanic(ev, rec)
		}
	}()
	cb(ev.DeviceID, ev.DataType, ev.ID, value)
}
