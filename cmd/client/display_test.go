package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/stretchr/testify/require"

	"github.com/andy6609/termtalk/internal/peer"
)

func plainDisplay(t *testing.T) (*terminalDisplay, *bytes.Buffer) {
	t.Helper()
	prev := color.Enable
	color.Enable = false
	t.Cleanup(func() { color.Enable = prev })

	var buf bytes.Buffer
	d := newTerminalDisplay(&buf)
	d.now = func() time.Time { return time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC) }
	return d, &buf
}

func TestTerminalDisplay_FormatsLines(t *testing.T) {
	d, buf := plainDisplay(t)
	d.setSelf("alice")

	d.ShowLine("SERVER: bob has joined the chat!")
	d.ShowLine("bob: hi @alice")
	d.ShowUserList([]string{"alice", "bob"})

	require.Equal(t,
		"[09.03.2024 14:05] SERVER: bob has joined the chat!\n"+
			"[09.03.2024 14:05] bob       : hi @alice\n"+
			"[09.03.2024 14:05] online (2): alice, bob\n",
		buf.String())
}

func TestTerminalDisplay_ErrorRepromptsDuringLogin(t *testing.T) {
	d, buf := plainDisplay(t)
	d.setPrompt("Enter your username: ")
	d.ShowError("Error: Username cannot be empty!")

	require.Equal(t,
		"Enter your username: Error: Username cannot be empty!\nEnter your username: ",
		buf.String())
}

func TestParseInput(t *testing.T) {
	require.Equal(t, peer.InputUserList, parseInput("/users").Kind)
	require.Equal(t, peer.InputQuit, parseInput(" /quit ").Kind)
	require.Equal(t, peer.Text("hello"), parseInput("hello"))
}
