// Package host exposes the engine to input-method frontends over NATS.
//
// Frontends publish focus changes and key presses for an opaque context id
// and subscribe to commits for the contexts they own. Every notification is
// handled on one goroutine in arrival order, so a focus-in published before a
// key press is always seen first.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-ime/internal/bus"
	"github.com/loqalabs/loqa-ime/internal/engine"
	"github.com/loqalabs/loqa-ime/internal/hotkey"
	"github.com/loqalabs/loqa-ime/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/loqalabs/loqa-ime/host"
	inboxSize  = 256
	// maxTargets bounds the per-context cache; past it every inactive entry is evicted.
	maxTargets = 64
)

// Controller is the part of engine.Engine the adapter drives.
type Controller interface {
	FocusIn(t engine.Target)
	FocusOut(t engine.Target)
	Reset(t engine.Target)
	KeyEvent(t engine.Target, k hotkey.Key, release bool) bool
	Active() engine.Target
}

type Adapter struct {
	ctrl   Controller
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
	tracer trace.Tracer
	clock  func() time.Time

	mu      sync.Mutex
	targets map[string]*target

	inbox     chan *nats.Msg
	subs      []*nats.Subscription
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	ready     atomic.Bool
}

// target is the engine.Target for one frontend context. Pointers are cached
// per context id so the engine's identity comparison holds across messages.
type target struct {
	id string
	a  *Adapter
}

func (t *target) CommitString(text string) {
	t.a.publishCommit(t.id, text)
}

func New(ctrl Controller, client *bus.Client, prefix string) *Adapter {
	return &Adapter{
		ctrl:    ctrl,
		conn:    client.Conn(),
		prefix:  prefix,
		log:     client.Logger().With(slog.String("component", "host")),
		tracer:  otel.Tracer(tracerName),
		clock:   time.Now,
		targets: make(map[string]*target),
		inbox:   make(chan *nats.Msg, inboxSize),
		stop:    make(chan struct{}),
	}
}

// Start subscribes to the frontend subjects and dispatches until ctx is done
// or Close is called.
func (a *Adapter) Start(ctx context.Context) error {
	for _, suffix := range []string{
		protocol.SubjectFocusIn,
		protocol.SubjectFocusOut,
		protocol.SubjectReset,
		protocol.SubjectKey,
	} {
		subject := protocol.Subject(a.prefix, suffix)
		sub, err := a.conn.ChanSubscribe(subject, a.inbox)
		if err != nil {
			a.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		a.subs = append(a.subs, sub)
	}
	if err := a.conn.Flush(); err != nil {
		a.unsubscribe()
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	a.wg.Add(1)
	go a.run(ctx)
	a.ready.Store(true)
	a.log.Info("host adapter listening", slog.String("prefix", a.prefix))
	return nil
}

// Close stops dispatching. Messages still queued are discarded.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		a.ready.Store(false)
		a.unsubscribe()
		close(a.stop)
	})
	a.wg.Wait()
}

func (a *Adapter) Healthy() bool {
	return a.ready.Load() && a.conn.IsConnected()
}

func (a *Adapter) unsubscribe() {
	for _, sub := range a.subs {
		_ = sub.Unsubscribe()
	}
	a.subs = nil
}

func (a *Adapter) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case msg := <-a.inbox:
			a.dispatch(ctx, msg)
		}
	}
}

func (a *Adapter) dispatch(ctx context.Context, msg *nats.Msg) {
	switch msg.Subject {
	case protocol.Subject(a.prefix, protocol.SubjectKey):
		a.handleKey(ctx, msg)
	case protocol.Subject(a.prefix, protocol.SubjectFocusIn):
		if t := a.focusTarget(msg); t != nil {
			a.ctrl.FocusIn(t)
		}
	case protocol.Subject(a.prefix, protocol.SubjectFocusOut):
		if t := a.focusTarget(msg); t != nil {
			a.ctrl.FocusOut(t)
			a.forget(t.id)
		}
	case protocol.Subject(a.prefix, protocol.SubjectReset):
		if t := a.focusTarget(msg); t != nil {
			a.ctrl.Reset(t)
		}
	}
}

func (a *Adapter) focusTarget(msg *nats.Msg) *target {
	var evt protocol.FocusEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		a.log.Warn("failed to decode focus event", slog.String("subject", msg.Subject), slogError(err))
		return nil
	}
	if evt.Context == "" {
		a.log.Debug("focus event without context", slog.String("subject", msg.Subject))
		return nil
	}
	return a.lookup(evt.Context)
}

func (a *Adapter) handleKey(ctx context.Context, msg *nats.Msg) {
	_, span := a.tracer.Start(ctx, "ime.key")
	defer span.End()

	reply := a.keyReply(msg, span)
	span.SetAttributes(attribute.Bool("ime.key.accepted", reply.Accepted))
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		a.log.Warn("failed to marshal key reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		a.log.Warn("failed to respond to key event", slogError(err))
	}
}

func (a *Adapter) keyReply(msg *nats.Msg, span trace.Span) protocol.KeyReply {
	var evt protocol.KeyEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		span.SetStatus(codes.Error, "decode")
		return protocol.KeyReply{Error: fmt.Sprintf("decode key event: %v", err)}
	}
	span.SetAttributes(
		attribute.String("ime.context", evt.Context),
		attribute.String("ime.key", evt.Key),
		attribute.Bool("ime.key.release", evt.Release),
	)
	if evt.Context == "" {
		span.SetStatus(codes.Error, "missing context")
		return protocol.KeyReply{Error: "key event without context"}
	}
	k, err := hotkey.ParseKey(evt.Key)
	if err != nil {
		// Keys the grammar cannot express are never bound, so they pass through.
		span.RecordError(err)
		return protocol.KeyReply{Error: err.Error()}
	}
	return protocol.KeyReply{Accepted: a.ctrl.KeyEvent(a.lookup(evt.Context), k, evt.Release)}
}

func (a *Adapter) lookup(id string) *target {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.targets[id]
	if ok {
		return t
	}
	if len(a.targets) >= maxTargets {
		a.evictInactive()
	}
	t = &target{id: id, a: a}
	a.targets[id] = t
	return t
}

// evictInactive drops every cached target except the active one. Only the
// active target's identity is ever compared, so a later message for an
// evicted context simply gets a fresh target.
func (a *Adapter) evictInactive() {
	active := a.ctrl.Active()
	for id, t := range a.targets {
		if engine.Target(t) != active {
			delete(a.targets, id)
		}
	}
}

func (a *Adapter) forget(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.targets, id)
}

func (a *Adapter) publishCommit(id, text string) {
	data, err := json.Marshal(protocol.Commit{
		Context:   id,
		Text:      text,
		Timestamp: a.clock().UTC(),
	})
	if err != nil {
		a.log.Warn("failed to marshal commit", slogError(err))
		return
	}
	if err := a.conn.Publish(protocol.Subject(a.prefix, protocol.SubjectCommit), data); err != nil {
		a.log.Warn("failed to publish commit", slog.String("context", id), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
