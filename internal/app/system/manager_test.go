package system

import (
	"context"
	"fmt"
	"testing"
)

type recordedService struct {
	name     string
	startErr error
	events   *[]string
}

func (s *recordedService) Name() string { return s.name }

func (s *recordedService) Start(context.Context) error {
	*s.events = append(*s.events, "start "+s.name)
	return s.startErr
}

func (s *recordedService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop "+s.name)
	return nil
}

func TestManagerStartsInOrderStopsInReverse(t *testing.T) {
	var events []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordedService{name: name, events: &events}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	want := []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %q, want %q", i, events[i], want[i])
		}
	}
}

func TestManagerStartFailureUnwindsStartedServices(t *testing.T) {
	var events []string
	m := NewManager()
	m.Register(&recordedService{name: "a", events: &events})
	m.Register(&recordedService{name: "b", startErr: fmt.Errorf("boom"), events: &events})
	m.Register(&recordedService{name: "c", events: &events})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start a", "start b", "stop a"}
	if len(events) != len(want) {
		t.Fatalf("unexpected events: %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("event %d: got %q, want %q", i, events[i], want[i])
		}
	}
}

func TestManagerRejectsDuplicatesAndLateRegistration(t *testing.T) {
	var events []string
	m := NewManager()
	if err := m.Register(&recordedService{name: "a", events: &events}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordedService{name: "a", events: &events}); err == nil {
		t.Fatal("expected duplicate name error")
	}
	if err := m.Register(nil); err == nil {
		t.Fatal("expected nil service error")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(&recordedService{name: "b", events: &events}); err == nil {
		t.Fatal("expected error registering after start")
	}
}
