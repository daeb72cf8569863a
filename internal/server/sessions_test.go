package server

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notes-mvi/internal/list"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes"
	"github.com/MarcoPoloResearchLab/notes-mvi/internal/notes/notestest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubScreen struct {
	closed int
}

func (s *stubScreen) screen() string { return "stub" }
func (s *stubScreen) dispatch(intentPayload) (string, error) { return "", nil }
func (s *stubScreen) confirmDelete(string) error { return nil }
func (s *stubScreen) view(context.Context, int) (any, error) { return nil, nil }
func (s *stubScreen) effects(context.Context) <-chan eventPayload { return nil }
func (s *stubScreen) states(context.Context) <-chan eventPayload { return nil }
func (s *stubScreen) close() { s.closed++ }

func TestSessionRegistryOpenAndClose(t *testing.T) {
	registry := NewSessionRegistry(SessionConfig{})
	sequence := 0
	registry.newID = func() string {
		sequence++
		return fmt.Sprintf("session-%d", sequence)
	}

	first := &stubScreen{}
	second := &stubScreen{}
	firstSession := registry.open(first)
	registry.open(second)

	if firstSession.id != "session-1" {
		t.Fatalf("unexpected session id %q", firstSession.id)
	}
	if registry.Count() != 2 {
		t.Fatalf("expected 2 sessions, got %d", registry.Count())
	}
	if found, ok := registry.get("session-2"); !ok || found.machine != second {
		t.Fatalf("expected to find second session")
	}

	if !registry.Close("session-1") {
		t.Fatalf("expected first session to close")
	}
	if registry.Close("session-1") {
		t.Fatalf("expected second close to report missing session")
	}
	if first.closed != 1 {
		t.Fatalf("expected machine to close once, got %d", first.closed)
	}

	registry.CloseAll()
	if registry.Count() != 0 || second.closed != 1 {
		t.Fatalf("expected all sessions closed, count=%d closed=%d", registry.Count(), second.closed)
	}
}

func TestSessionIdentifiersAreUnique(t *testing.T) {
	registry := NewSessionRegistry(SessionConfig{})
	seen := make(map[string]struct{})
	for range 50 {
		session := registry.open(&stubScreen{})
		if _, duplicate := seen[session.id]; duplicate {
			t.Fatalf("duplicate session id %q", session.id)
		}
		seen[session.id] = struct{}{}
	}
	registry.CloseAll()
}

type manualClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *manualClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(step)
}

func TestSweepClosesIdleSessionsWithoutStreams(t *testing.T) {
	clock := &manualClock{current: time.Unix(1700000000, 0).UTC()}
	registry := NewSessionRegistry(SessionConfig{IdleTimeout: time.Minute, Clock: clock.Now})

	idle, touched, streaming := &stubScreen{}, &stubScreen{}, &stubScreen{}
	registry.open(idle)
	touchedSession := registry.open(touched)
	streamingSession := registry.open(streaming)
	detach := registry.attachStream(streamingSession)

	clock.Advance(30 * time.Second)
	registry.get(touchedSession.id)
	clock.Advance(45 * time.Second)

	if expired := registry.Sweep(); expired != 1 {
		t.Fatalf("expected one expired session, got %d", expired)
	}
	if idle.closed != 1 || touched.closed != 0 || streaming.closed != 0 {
		t.Fatalf("unexpected closes idle=%d touched=%d streaming=%d", idle.closed, touched.closed, streaming.closed)
	}

	detach()
	clock.Advance(time.Minute)
	if expired := registry.Sweep(); expired != 2 {
		t.Fatalf("expected remaining sessions to expire, got %d", expired)
	}
	if registry.Count() != 0 || streaming.closed != 1 {
		t.Fatalf("expected all sessions closed, count=%d", registry.Count())
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	registry := NewSessionRegistry(SessionConfig{IdleTimeout: 10 * time.Millisecond})
	registry.open(&stubScreen{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		registry.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for registry.Count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected janitor to close the idle session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected janitor to stop after cancel")
	}
}

func TestShareFollowUpFailureIsLogged(t *testing.T) {
	machine, err := list.NewMachine(list.Config{Repository: notestest.NewRepository()})
	if err != nil {
		t.Fatalf("failed to start list machine: %v", err)
	}
	machine.Close()

	core, logs := observer.New(zapcore.ErrorLevel)
	screen := &listScreen{machine: machine, logger: zap.New(core)}

	screen.delivered(list.NoteDeleted{})
	if logs.Len() != 0 {
		t.Fatalf("expected no follow-up for other effects, got %d logs", logs.Len())
	}
	screen.delivered(list.ShareNote{Note: notes.Note{ID: "note-a", Title: "Alpha"}})
	if logs.FilterMessage("failed to leave selection mode after share").Len() != 1 {
		t.Fatalf("expected the failed dispatch to be logged, got %v", logs.All())
	}
}
