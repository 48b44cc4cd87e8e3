package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-ime/internal/bus"
	"github.com/loqalabs/loqa-ime/internal/config"
	"github.com/loqalabs/loqa-ime/internal/engine"
	"github.com/loqalabs/loqa-ime/internal/eventloop"
	"github.com/loqalabs/loqa-ime/internal/eventstore"
	"github.com/loqalabs/loqa-ime/internal/host"
	"github.com/loqalabs/loqa-ime/internal/hotkey"
	"github.com/loqalabs/loqa-ime/internal/journal"
	"github.com/loqalabs/loqa-ime/internal/natsserver"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	ready  atomic.Bool
	wg     sync.WaitGroup

	// stack holds teardown steps in start order; they run in reverse.
	stack []func(context.Context)

	httpAddr  net.Addr
	bus       *bus.Client
	host      *host.Adapter
	loopAlive atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, blocks until ctx is cancelled and then
// tears them down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	err := r.start(ctx)
	if err == nil {
		r.ready.Store(true)
		r.logger.Info("runtime started", slog.String("addr", r.httpAddr.String()))
		<-ctx.Done()
		r.logger.Info("runtime stopping")
	}
	r.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(r.stack) - 1; i >= 0; i-- {
		r.stack[i](shutdownCtx)
	}
	r.stack = nil
	r.wg.Wait()
	return err
}

func (r *Runtime) onStop(fn func(context.Context)) {
	r.stack = append(r.stack, fn)
}

func (r *Runtime) start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.onStop(func(ctx context.Context) {
		if err := shutdownTelemetry(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	})

	if err := r.startHTTP(metricsHandler); err != nil {
		return err
	}

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
		r.onStop(func(context.Context) { embedded.Shutdown() })
	}

	client, err := bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client
	r.onStop(func(context.Context) { client.Close() })

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.onStop(func(context.Context) {
		if err := store.Close(); err != nil {
			r.logger.Error("event store close error", slogError(err))
		}
	})

	j, err := journal.New(ctx, store, journal.Options{
		RuntimeName: r.cfg.RuntimeName,
		RecordText:  r.cfg.EventStore.RecordText,
		QueueSize:   r.cfg.EventStore.QueueSize,
	}, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start journal: %w", err)
	}
	r.goUntilStopped(func(ctx context.Context) { j.Run(ctx) })

	loop, err := eventloop.New(r.logger)
	if err != nil {
		return fmt.Errorf("failed to create event loop: %w", err)
	}
	r.onStop(func(context.Context) {
		if err := loop.Close(); err != nil {
			r.logger.Error("event loop close error", slogError(err))
		}
	})

	table := hotkey.Load(r.cfg.Hotkeys.File, r.cfg.Hotkeys.CommandMode, r.logger)
	eng, err := engine.New(r.cfg.Channels, table, loop, r.logger, engine.WithObserver(j))
	if err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	r.onStop(func(context.Context) {
		if err := eng.Close(); err != nil {
			r.logger.Error("engine close error", slogError(err))
		}
	})

	// The loop is stopped before the engine closes the descriptor it polls.
	r.goUntilStopped(func(ctx context.Context) {
		r.loopAlive.Store(true)
		defer r.loopAlive.Store(false)
		if err := loop.Run(ctx); err != nil {
			r.logger.Error("event loop failed", slogError(err))
		}
	})

	adapter := host.New(eng, client, r.cfg.Host.SubjectPrefix)
	if err := adapter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start host adapter: %w", err)
	}
	r.host = adapter
	r.onStop(func(context.Context) { adapter.Close() })
	return nil
}

// goUntilStopped runs fn on its own goroutine. Its context is cancelled, and
// the goroutine awaited, at the matching point of teardown.
func (r *Runtime) goUntilStopped(fn func(context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn(ctx)
	}()
	r.onStop(func(context.Context) {
		cancel()
		<-done
	})
}

func (r *Runtime) startHTTP(metrics http.Handler) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.Handle("/metrics", metrics)

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, fmt.Sprint(r.cfg.HTTP.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.httpAddr = ln.Addr()
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slogError(err))
		}
	}()
	r.onStop(func(ctx context.Context) {
		if err := server.Shutdown(ctx); err != nil {
			r.logger.Error("http shutdown error", slogError(err))
		}
	})
	return nil
}

// BusURL is the server the runtime's bus client is connected to.
func (r *Runtime) BusURL() string {
	if r.bus == nil {
		return ""
	}
	return r.bus.Conn().ConnectedUrl()
}

// Addr is the bound HTTP address, valid once Ready reports true.
func (r *Runtime) Addr() net.Addr {
	return r.httpAddr
}

// Ready reports whether every component is up and the bus is connected.
func (r *Runtime) Ready() bool {
	return r.ready.Load() && r.loopAlive.Load() && r.bus.Healthy() && r.host.Healthy()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.Ready() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
