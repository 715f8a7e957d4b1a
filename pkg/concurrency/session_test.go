package concurrency

import "testing"

func TestIsAliveReflectsOwnerBindingAndInterrupt(t *testing.T) {
	s := NewSessionContext()
	if s.IsAlive() {
		t.Fatalf("expected an unbound session to not be alive")
	}

	owner := &struct{}{}
	s.Bind(owner)
	if !s.IsAlive() {
		t.Fatalf("expected a bound session to be alive")
	}

	other := &struct{}{}
	s.Interrupt(other)
	if s.IsAlive() {
		t.Fatalf("expected an interrupted session to not be alive")
	}

	s.Bind(owner)
	if !s.IsAlive() {
		t.Fatalf("expected rebinding to clear the interrupt and restore liveness")
	}
}

func TestIsAliveUnaffectedBySelfInterrupt(t *testing.T) {
	s := NewSessionContext()
	owner := &struct{}{}
	s.Bind(owner)

	s.Interrupt(owner)
	if !s.IsAlive() {
		t.Fatalf("expected a session to be unable to interrupt its own liveness")
	}
}
