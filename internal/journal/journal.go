// Package journal records engine activity in the event store without ever
// blocking the caller.
package journal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-ime/internal/command"
	"github.com/loqalabs/loqa-ime/internal/eventstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/loqalabs/loqa-ime/journal"

// Store is the subset of eventstore.Store the journal writes to.
type Store interface {
	AppendSession(ctx context.Context, sess eventstore.Session) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
}

// Journal implements engine.Observer. Events are queued on a bounded channel
// and written by Run; when the queue is full the event is discarded.
type Journal struct {
	store      Store
	sessionID  string
	recordText bool
	log        *slog.Logger
	clock      func() time.Time

	queue    chan eventstore.Event
	overflow metric.Int64Counter
}

type Options struct {
	RuntimeName string
	RecordText  bool
	QueueSize   int
}

// New opens a session for this run and returns a journal bound to it.
func New(ctx context.Context, store Store, opts Options, log *slog.Logger) (*Journal, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	j := &Journal{
		store:      store,
		sessionID:  uuid.NewString(),
		recordText: opts.RecordText,
		log:        log.With(slog.String("component", "journal")),
		clock:      time.Now,
		queue:      make(chan eventstore.Event, opts.QueueSize),
	}
	overflow, err := otel.Meter(meterName).Int64Counter("loqa.ime.journal.overflow",
		metric.WithDescription("Journal events discarded because the queue was full"))
	if err != nil {
		j.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	j.overflow = overflow

	if err := store.AppendSession(ctx, eventstore.Session{
		ID:          j.sessionID,
		RuntimeName: opts.RuntimeName,
		StartedAt:   j.clock(),
	}); err != nil {
		return nil, err
	}
	j.log.Info("journal session started", slog.String("session_id", j.sessionID))
	return j, nil
}

func (j *Journal) SessionID() string {
	return j.sessionID
}

func (j *Journal) Committed(text string) {
	j.enqueue(j.lineEvent(eventstore.KindCommit, text))
}

func (j *Journal) Dropped(text string) {
	j.enqueue(j.lineEvent(eventstore.KindDrop, text))
}

func (j *Journal) CommandSent(c command.Command, delivered bool) {
	j.enqueue(eventstore.Event{
		Kind:      eventstore.KindCommand,
		Command:   string(c),
		Delivered: delivered,
	})
}

func (j *Journal) lineEvent(kind eventstore.Kind, text string) eventstore.Event {
	evt := eventstore.Event{Kind: kind, Length: len(text)}
	if j.recordText {
		evt.Text = text
	}
	return evt
}

func (j *Journal) enqueue(evt eventstore.Event) {
	evt.SessionID = j.sessionID
	evt.CreatedAt = j.clock()
	select {
	case j.queue <- evt:
	default:
		if j.overflow != nil {
			j.overflow.Add(context.Background(), 1)
		}
		j.log.Debug("journal queue full, discarding event", slog.String("kind", string(evt.Kind)))
	}
}

// Run writes queued events until ctx is done, then flushes what is left.
func (j *Journal) Run(ctx context.Context) {
	for {
		select {
		case evt := <-j.queue:
			j.write(ctx, evt)
		case <-ctx.Done():
			j.flush()
			return
		}
	}
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case evt := <-j.queue:
			j.write(ctx, evt)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, evt eventstore.Event) {
	if err := j.store.AppendEvent(ctx, evt); err != nil {
		j.log.Warn("failed to append journal event", slog.String("kind", string(evt.Kind)), slog.String("error", err.Error()))
	}
}
