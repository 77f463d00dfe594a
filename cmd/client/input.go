package main

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/andy6609/termtalk/internal/peer"
)

const (
	usersCommand = "/users"
	quitCommand  = "/quit"
)

// readInputs turns stdin lines into peer inputs until EOF or ctx is done.
// The channel is closed when reading stops.
func readInputs(ctx context.Context, r io.Reader) <-chan peer.Input {
	out := make(chan peer.Input)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- parseInput(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func parseInput(line string) peer.Input {
	switch strings.TrimSpace(line) {
	case usersCommand:
		return peer.Input{Kind: peer.InputUserList}
	case quitCommand:
		return peer.Input{Kind: peer.InputQuit}
	default:
		return peer.Text(line)
	}
}
