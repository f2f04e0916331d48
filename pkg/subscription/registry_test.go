package subscription

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordicopen/pyeasee/pkg/wire"
)

type received struct {
	deviceID string
	dataType wire.DataType
	fieldID  int
	value    any
}

type recorder struct {
	mu     sync.Mutex
	events []received
}

func (r *recorder) callback(deviceID string, dataType wire.DataType, fieldID int, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, received{deviceID, dataType, fieldID, value})
}

func (r *recorder) all() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.events...)
}

func TestRegistryAddRemove(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{}

	t.Run("AddNew", func(t *testing.T) {
		if replaced := r.Add("EH1", rec.callback); replaced {
			t.Error("Add of new device reported replaced")
		}
		if !r.Has("EH1") {
			t.Error("Has(EH1) = false after Add")
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1", r.Len())
		}
	})

	t.Run("AddIsIdempotentPerDevice", func(t *testing.T) {
		if replaced := r.Add("EH1", rec.callback); !replaced {
			t.Error("second Add of same device should report replaced")
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1", r.Len())
		}
	})

	t.Run("RemoveExisting", func(t *testing.T) {
		if !r.Remove("EH1") {
			t.Error("Remove(EH1) = false, want true")
		}
		if r.Has("EH1") {
			t.Error("Has(EH1) = true after Remove")
		}
	})

	t.Run("RemoveUnknownIsNoop", func(t *testing.T) {
		if r.Remove("nope") {
			t.Error("Remove(nope) = true, want false")
		}
		if r.Len() != 0 {
			t.Errorf("Len() = %d, want 0", r.Len())
		}
	})
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	first, second := &recorder{}, &recorder{}

	r.Add("EH1", first.callback)
	r.Add("EH1", second.callback)

	r.Dispatch(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeInteger, ID: 114, Value: "16"})

	assert.Empty(t, first.all())
	assert.Len(t, second.all(), 1)
}

func TestRegistryAllIsSnapshot(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{}
	r.Add("EH2", rec.callback)
	r.Add("EH1", rec.callback)

	snap := r.All()
	r.Add("EH3", rec.callback)
	r.Remove("EH1")

	require.Len(t, snap, 2)
	assert.Equal(t, "EH1", snap[0].DeviceID)
	assert.Equal(t, "EH2", snap[1].DeviceID)
	assert.Equal(t, []string{"EH2", "EH3"}, r.DeviceIDs())
}

func TestRegistryDispatch(t *testing.T) {
	tests := []struct {
		name    string
		event   wire.Event
		outcome Outcome
		want    *received
	}{
		{
			name:    "integer",
			event:   wire.Event{DeviceID: "EH1", DataType: wire.DataTypeInteger, ID: 114, Value: "16"},
			outcome: OutcomeDelivered,
			want:    &received{"EH1", wire.DataTypeInteger, 114, 16},
		},
		{
			name:    "boolean",
			event:   wire.Event{DeviceID: "EH1", DataType: wire.DataTypeBoolean, ID: 31, Value: "YES"},
			outcome: OutcomeDelivered,
			want:    &received{"EH1", wire.DataTypeBoolean, 31, true},
		},
		{
			name:    "double",
			event:   wire.Event{DeviceID: "EH1", DataType: wire.DataTypeDouble, ID: 120, Value: "12.5"},
			outcome: OutcomeDelivered,
			want:    &received{"EH1", wire.DataTypeDouble, 120, 12.5},
		},
		{
			name:    "string",
			event:   wire.Event{DeviceID: "EH1", DataType: wire.DataTypeString, ID: 1, Value: "x"},
			outcome: OutcomeDelivered,
			want:    &received{"EH1", wire.DataTypeString, 1, "x"},
		},
		{
			name:    "unregistered device",
			event:   wire.Event{DeviceID: "EH9", DataType: wire.DataTypeInteger, ID: 114, Value: "16"},
			outcome: OutcomeNoSubscriber,
		},
		{
			name:    "invalid value",
			event:   wire.Event{DeviceID: "EH1", DataType: wire.DataTypeInteger, ID: 114, Value: "sixteen"},
			outcome: OutcomeInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			rec := &recorder{}
			r.Add("EH1", rec.callback)

			if got := r.Dispatch(tt.event); got != tt.outcome {
				t.Fatalf("Dispatch() = %v, want %v", got, tt.outcome)
			}

			events := rec.all()
			if tt.want == nil {
				if len(events) != 0 {
					t.Errorf("callback invoked %d times, want 0", len(events))
				}
				return
			}
			if len(events) != 1 {
				t.Fatalf("callback invoked %d times, want 1", len(events))
			}
			if events[0] != *tt.want {
				t.Errorf("callback got %+v, want %+v", events[0], *tt.want)
			}
		})
	}
}

func TestRegistryUnroutedHook(t *testing.T) {
	r := NewRegistry()
	r.Add("EH1", func(string, wire.DataType, int, any) {})

	var outcomes []Outcome
	var errs []error
	r.OnUnrouted(func(_ wire.Event, o Outcome, err error) {
		outcomes = append(outcomes, o)
		errs = append(errs, err)
	})

	r.Dispatch(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeInteger, ID: 114, Value: "16"})
	r.Dispatch(wire.Event{DeviceID: "EH2", DataType: wire.DataTypeInteger, ID: 114, Value: "16"})
	r.Dispatch(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeDouble, ID: 120, Value: "abc"})

	require.Equal(t, []Outcome{OutcomeNoSubscriber, OutcomeInvalid}, outcomes)
	assert.NoError(t, errs[0])
	assert.True(t, errors.Is(errs[1], wire.ErrInvalidValue))
}

func TestRegistryPanickingCallback(t *testing.T) {
	r := NewRegistry()
	r.Add("EH1", func(string, wire.DataType, int, any) {
		panic("boom")
	})

	var recovered any
	r.OnPanic(func(_ wire.Event, rec any) { recovered = rec })

	outcome := r.Dispatch(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeString, ID: 1, Value: "x"})

	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, "boom", recovered)
}

func TestRegistryCallbackMayMutate(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{}

	r.Add("EH1", func(deviceID string, _ wire.DataType, _ int, _ any) {
		r.Remove(deviceID)
		r.Add("EH2", rec.callback)
	})

	r.Dispatch(wire.Event{DeviceID: "EH1", DataType: wire.DataTypeString, ID: 1, Value: "x"})

	assert.False(t, r.Has("EH1"))
	assert.True(t, r.Has("EH2"))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("EH%d", i%5)
			r.Add(id, rec.callback)
			r.Dispatch(wire.Event{DeviceID: id, DataType: wire.DataTypeInteger, ID: i, Value: "1"})
			_ = r.All()
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Len(), 5)
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{OutcomeDelivered, "delivered"},
		{OutcomeNoSubscriber, "no_subscriber"},
		{OutcomeInvalid, "invalid"},
		{Outcome(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.o.String(); got != tt.want {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.o, got, tt.want)
		}
	}
}
