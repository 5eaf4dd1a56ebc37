package kgraph

import "testing"

func TestEmitterDeliversToTypedAndWildcard(t *testing.T) {
	e := NewEmitter(false, nil)
	var typedCount, wildCount int
	e.On(EventEntityCreated, func(Event) { typedCount++ })
	e.OnAny(func(Event) { wildCount++ })

	e.Emit(Event{Type: EventEntityCreated, Data: map[string]any{"name": "A"}})
	e.Emit(Event{Type: EventRelationCreated})

	if typedCount != 1 {
		t.Errorf("expected typed listener to fire once, got %d", typedCount)
	}
	if wildCount != 2 {
		t.Errorf("expected wildcard listener to fire for every event, got %d", wildCount)
	}
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := NewEmitter(false, nil)
	var count int
	unsub := e.On(EventEntityCreated, func(Event) { count++ })
	e.Emit(Event{Type: EventEntityCreated})
	unsub()
	e.Emit(Event{Type: EventEntityCreated})
	if count != 1 {
		t.Errorf("expected listener to stop firing after unsubscribe, got %d calls", count)
	}
}

func TestEmitterSwallowsListenerPanicByDefault(t *testing.T) {
	e := NewEmitter(false, nil)
	fired := false
	e.On(EventEntityCreated, func(Event) { panic("boom") })
	e.On(EventEntityCreated, func(Event) { fired = true })

	e.Emit(Event{Type: EventEntityCreated})
	if !fired {
		t.Error("expected a panicking listener to not block delivery to later listeners")
	}
}

func TestEmitterStrictModeRethrows(t *testing.T) {
	e := NewEmitter(true, nil)
	e.On(EventEntityCreated, func(Event) { panic("boom") })

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected strict mode to rethrow the listener panic")
		}
	}()
	e.Emit(Event{Type: EventEntityCreated})
}

func TestEmitterTimestampDefaultedWhenZero(t *testing.T) {
	e := NewEmitter(false, nil)
	var got Event
	e.OnAny(func(ev Event) { got = ev })
	e.Emit(Event{Type: EventGraphSaved})
	if got.Timestamp.IsZero() {
		t.Error("expected Emit to stamp a timestamp when none is provided")
	}
}
