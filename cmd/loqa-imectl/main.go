package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/loqalabs/loqa-ime/internal/command"
	"github.com/loqalabs/loqa-ime/internal/config"
	"github.com/loqalabs/loqa-ime/internal/eventstore"
	"github.com/loqalabs/loqa-ime/internal/fifo"
	"github.com/loqalabs/loqa-ime/internal/hotkey"
)

var version = "0.1.0-dev"

const usage = "usage: loqa-imectl send <token> | hotkeys | ensure | journal | version"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var configPath string
	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	limit := 0
	if os.Args[1] == "journal" {
		fs.IntVar(&limit, "limit", 50, "Maximum number of events to print")
	}

	var err error
	switch os.Args[1] {
	case "send", "hotkeys", "ensure", "journal":
		fs.Parse(os.Args[2:])
		var cfg config.Config
		if cfg, err = config.Load(configPath); err != nil {
			break
		}
		log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		switch os.Args[1] {
		case "send":
			if fs.NArg() != 1 {
				err = errors.New("send expects exactly one command token")
				break
			}
			err = runSend(cfg, fs.Arg(0), log)
		case "hotkeys":
			runHotkeys(os.Stdout, cfg, log)
		case "ensure":
			err = runEnsure(cfg)
		case "journal":
			err = runJournal(os.Stdout, cfg, limit, log)
		}
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runSend(cfg config.Config, token string, log *slog.Logger) error {
	c, err := command.Parse(token)
	if err != nil {
		return err
	}
	if err := command.NewSender(cfg.Channels.CommandPath, log).TrySend(c); err != nil {
		if errors.Is(err, fifo.ErrNoReader) {
			return fmt.Errorf("daemon is not listening on %s", cfg.Channels.CommandPath)
		}
		return err
	}
	fmt.Printf("sent %s\n", c)
	return nil
}

func runHotkeys(w io.Writer, cfg config.Config, log *slog.Logger) {
	path := cfg.Hotkeys.File
	if path == "" {
		path = hotkey.ConfigPath()
	}
	table := hotkey.Load(cfg.Hotkeys.File, cfg.Hotkeys.CommandMode, log)
	fmt.Fprintf(w, "file:         %s\n", path)
	fmt.Fprintf(w, "command mode: %s\n", table.CommandModeKey())
	for _, k := range table.ToggleKeys() {
		fmt.Fprintf(w, "toggle:       %s\n", k)
	}
}

func runEnsure(cfg config.Config) error {
	for _, path := range []string{cfg.Channels.CommandPath, cfg.Channels.CommitPath} {
		if err := fifo.Ensure(path); err != nil {
			return err
		}
		fmt.Printf("ok %s\n", path)
	}
	return nil
}

func runJournal(w io.Writer, cfg config.Config, limit int, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := eventstore.Open(ctx, cfg.EventStore, log)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.LatestSession(ctx)
	if err != nil {
		return err
	}
	events, err := store.ListSessionEvents(ctx, sess.ID, limit)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "session %s (%s) started %s\n", sess.ID, sess.RuntimeName, sess.StartedAt.Local().Format(time.RFC3339))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range events {
		detail := e.Text
		switch {
		case e.Kind == eventstore.KindCommand:
			detail = fmt.Sprintf("%s delivered=%t", e.Command, e.Delivered)
		case detail == "":
			detail = fmt.Sprintf("%d bytes", e.Length)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.CreatedAt.Local().Format("15:04:05.000"), e.Kind, detail)
	}
	return tw.Flush()
}
