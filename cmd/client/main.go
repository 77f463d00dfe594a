package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"

	"github.com/andy6609/termtalk/internal/config"
	"github.com/andy6609/termtalk/internal/logging"
	"github.com/andy6609/termtalk/internal/peer"
	"github.com/andy6609/termtalk/internal/protocol"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return exitConfig, err
	}
	flag.StringVar(&cfg.ServerAddr, "addr", cfg.ServerAddr, "relay address")
	flag.Parse()

	if cfg.NoColor {
		color.Enable = false
	}

	// Logs go to the file only so the terminal stays readable.
	log, closer := logging.NewWithFile(cfg.LogFile, cfg.LogLevel)
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := peer.Dial(dialCtx, cfg.ServerAddr, log)
	cancel()
	if err != nil {
		log.Debug("failed to connect to the server", "error", err)
		return exitRuntime, err
	}
	defer client.Close()

	display := newTerminalDisplay(os.Stdout)
	inputs := readInputs(ctx, os.Stdin)

	fmt.Fprintf(os.Stdout, "Connected, token %d. Type %s for online users, %s to leave.\n",
		client.Token(), usersCommand, quitCommand)
	display.setPrompt(protocol.NamePrompt)
	if err := client.Login(ctx, inputs, display); err != nil {
		if errors.Is(err, peer.ErrQuit) || ctx.Err() != nil {
			return exitOK, nil
		}
		return exitRuntime, err
	}
	display.setSelf(client.Name())
	log.Debug("transitioning to chat state", "username", client.Name())

	if err := client.Chat(ctx, inputs, display); err != nil && ctx.Err() == nil {
		return exitRuntime, fmt.Errorf("disconnected from server: %w", err)
	}
	return exitOK, nil
}
