package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gookit/color"

	"github.com/andy6609/termtalk/internal/protocol"
)

var mention = color.New(color.FgRed, color.OpBold)

// terminalDisplay prints received lines to a plain terminal, coloring
// server notices and sender names.
type terminalDisplay struct {
	mu     sync.Mutex
	out    io.Writer
	self   string
	prompt string
	now    func() time.Time
}

func newTerminalDisplay(out io.Writer) *terminalDisplay {
	return &terminalDisplay{out: out, now: time.Now}
}

func (d *terminalDisplay) setSelf(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.self = name
	d.prompt = ""
}

func (d *terminalDisplay) setPrompt(prompt string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompt = prompt
	fmt.Fprint(d.out, prompt)
}

func (d *terminalDisplay) ShowLine(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out, d.format(line))
}

func (d *terminalDisplay) ShowUserList(names []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintf(d.out, "%s %s\n", color.Gray.Sprint(d.timestamp()),
		color.Cyan.Sprintf("online (%d): %s", len(names), strings.Join(names, ", ")))
}

func (d *terminalDisplay) ShowError(msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out, color.Red.Sprint(msg))
	if d.prompt != "" {
		fmt.Fprint(d.out, d.prompt)
	}
}

func (d *terminalDisplay) timestamp() string {
	return d.now().Format("[02.01.2006 15:04]")
}

func (d *terminalDisplay) format(line string) string {
	ts := color.Gray.Sprint(d.timestamp())
	if protocol.IsServerNotice(line) {
		return ts + " " + color.Magenta.Sprint(line)
	}
	name, text, ok := protocol.SplitChatLine(line)
	if !ok {
		return ts + " " + line
	}

	styled := color.Blue.Sprint(name)
	if name == d.self {
		styled = color.Green.Sprint(name)
	}
	// Pad on the visible width so colored names still line up.
	if pad := 10 - len([]rune(name)); pad > 0 {
		styled += strings.Repeat(" ", pad)
	}
	return fmt.Sprintf("%s %s: %s", ts, styled, d.highlight(text))
}

func (d *terminalDisplay) highlight(text string) string {
	me := "@" + d.self
	words := strings.Fields(text)
	for i, w := range words {
		if w == "@all" || (d.self != "" && w == me) {
			words[i] = mention.Sprint(w)
		}
	}
	return strings.Join(words, " ")
}
