// ABOUTME: Entry point for coven-chat, the terminal chat client
// ABOUTME: Restores the saved session and runs the interactive command loop

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/credentials"
	"github.com/2389/coven-chat/internal/logging"
	"github.com/2389/coven-chat/internal/reconcile"
	"github.com/2389/coven-chat/internal/remote"
	"github.com/2389/coven-chat/internal/session"
)

func main() {
	configPath := flag.String("config", config.DefaultClientConfigPath(), "client config file")
	server := flag.String("server", "", "gateway URL (overrides the config file)")
	mode := flag.String("mode", "", "sync mode: merge or replace (overrides the config file)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *server, *mode); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, configPath, server, mode string) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if server != "" {
		cfg.Gateway.URL = server
	}
	if mode != "" {
		cfg.Sync.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	syncMode, err := reconcile.ParseMode(cfg.Sync.Mode)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, os.Stderr)

	credPath := cfg.Credentials.Path
	if credPath == "" {
		if credPath, err = credentials.DefaultPath(); err != nil {
			return err
		}
	}

	client := remote.New(cfg.Gateway.URL, remote.WithLogger(logger))
	out := newPrinter(os.Stdout)
	ctrl, err := session.New(session.Config{
		Client:      client,
		Auth:        client,
		Credentials: credentials.NewFileStore(credPath),
		Navigator:   out,
		Notifier:    out,
		Mode:        syncMode,
		Logger:      logger,
	}, session.WithObserver(out.observe))
	if err != nil {
		return err
	}
	defer ctrl.Close()

	out.printf("coven-chat connected to %s (%s mode)\n", cfg.Gateway.URL, syncMode)
	if sess, err := ctrl.Restore(ctx); err == nil {
		out.printf("welcome back, %s\n", sess.User.Name)
	} else if errors.Is(err, chat.ErrNotLoggedIn) {
		out.printf("/login EMAIL or /signup EMAIL [NAME] to start. /help for commands.\n")
	} else {
		out.printf("could not restore session: %v\n", err)
	}

	a := &app{
		ctrl:   ctrl,
		signup: client.Signup,
		out:    out,
		lines:  readLines(os.Stdin),
	}
	return a.run(ctx)
}
