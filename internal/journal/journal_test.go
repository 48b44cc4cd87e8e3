package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-ime/internal/command"
	"github.com/loqalabs/loqa-ime/internal/config"
	"github.com/loqalabs/loqa-ime/internal/eventstore"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memStore struct {
	mu         sync.Mutex
	sessions   []eventstore.Session
	events     []eventstore.Event
	sessionErr error
}

func (m *memStore) AppendSession(_ context.Context, sess eventstore.Session) error {
	if m.sessionErr != nil {
		return m.sessionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, sess)
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, evt eventstore.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func runToCompletion(j *Journal) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j.Run(ctx)
}

func TestJournalWritesToEventStore(t *testing.T) {
	cfg := config.EventStoreConfig{Path: filepath.Join(t.TempDir(), "events.db"), RetentionMode: "session"}
	store, err := eventstore.Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	j, err := New(context.Background(), store, Options{RuntimeName: "loqa-ime", RecordText: true}, newLogger())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx)
	}()

	j.CommandSent(command.Toggle, true)
	j.Committed("hello")
	j.Dropped("lost")
	cancel()
	<-done

	sess, err := store.LatestSession(context.Background())
	if err != nil {
		t.Fatalf("latest session: %v", err)
	}
	if sess.ID != j.SessionID() || sess.RuntimeName != "loqa-ime" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	events, err := store.ListSessionEvents(context.Background(), j.SessionID(), 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != eventstore.KindCommand || events[0].Command != "toggle" || !events[0].Delivered {
		t.Fatalf("unexpected command event: %+v", events[0])
	}
	if events[1].Kind != eventstore.KindCommit || events[1].Text != "hello" {
		t.Fatalf("unexpected commit event: %+v", events[1])
	}
	if events[2].Kind != eventstore.KindDrop || events[2].Text != "lost" {
		t.Fatalf("unexpected drop event: %+v", events[2])
	}
}

func TestJournalOmitsTextByDefault(t *testing.T) {
	store := &memStore{}
	j, err := New(context.Background(), store, Options{}, newLogger())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	j.Committed("secret words")
	runToCompletion(j)

	if len(store.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(store.events))
	}
	evt := store.events[0]
	if evt.Text != "" || evt.Length != len("secret words") {
		t.Fatalf("expected length only, got %+v", evt)
	}
	if evt.SessionID != j.SessionID() || evt.CreatedAt.IsZero() {
		t.Fatalf("expected session and timestamp stamped, got %+v", evt)
	}
}

func TestJournalDiscardsWhenQueueFull(t *testing.T) {
	store := &memStore{}
	j, err := New(context.Background(), store, Options{QueueSize: 2}, newLogger())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	for i := 0; i < 5; i++ {
		j.CommandSent(command.CommandMode, false)
	}
	runToCompletion(j)

	if len(store.events) != 2 {
		t.Fatalf("expected queue bound of 2 events, got %d", len(store.events))
	}
}

func TestJournalSessionIDsAreUnique(t *testing.T) {
	store := &memStore{}
	a, err := New(context.Background(), store, Options{}, newLogger())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	b, err := New(context.Background(), store, Options{}, newLogger())
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	if a.SessionID() == "" || a.SessionID() == b.SessionID() {
		t.Fatalf("expected distinct session ids, got %q and %q", a.SessionID(), b.SessionID())
	}
}

func TestJournalSessionFailure(t *testing.T) {
	store := &memStore{sessionErr: errors.New("disk full")}
	if _, err := New(context.Background(), store, Options{}, newLogger()); err == nil {
		t.Fatalf("expected session failure to surface")
	}
}
