package backend

import (
	"sync"
	"testing"

	"github.com/hitoshi/heartrisk/internal/model"
)

func TestEmitter_DeliversInEmissionOrder(t *testing.T) {
	e := NewEmitter()

	var got []AuthChangeEvent
	e.Subscribe(func(ev AuthEvent) {
		got = append(got, ev.Type)
	})

	e.Emit(AuthEvent{Type: EventSignedIn, Session: &model.Session{AccessToken: "a"}})
	e.Emit(AuthEvent{Type: EventTokenRefreshed, Session: &model.Session{AccessToken: "b"}})
	e.Emit(AuthEvent{Type: EventSignedOut})

	want := []AuthChangeEvent{EventSignedIn, EventTokenRefreshed, EventSignedOut}
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmitter_UnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter()

	calls := 0
	sub := e.Subscribe(func(ev AuthEvent) { calls++ })

	e.Emit(AuthEvent{Type: EventSignedIn})
	sub.Unsubscribe()
	sub.Unsubscribe()
	e.Emit(AuthEvent{Type: EventSignedOut})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if e.Len() != 0 {
		t.Errorf("Len() = %d, want 0", e.Len())
	}
}

func TestEmitter_ListenersCalledInRegistrationOrder(t *testing.T) {
	e := NewEmitter()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		e.Subscribe(func(ev AuthEvent) { order = append(order, i) })
	}

	e.Emit(AuthEvent{Type: EventUserUpdated})

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want ascending", order)
		}
	}
}

func TestEmitter_ConcurrentEmitIsSerialized(t *testing.T) {
	e := NewEmitter()

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	e.Subscribe(func(ev AuthEvent) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Emit(AuthEvent{Type: EventTokenRefreshed})
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("maxInFlight = %d, want 1", maxInFlight)
	}
}
