// Package peer is the remote side of the relay: it receives a token,
// negotiates a display name and then chats, answering keepalive probes and
// caching user-list replies on the way.
package peer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/andy6609/termtalk/internal/protocol"
)

var (
	ErrEmptyName          = errors.New("username cannot be empty")
	ErrNameTaken          = errors.New("username is already taken")
	ErrNameInvalid        = errors.New("username is not allowed")
	ErrUnexpectedResponse = errors.New("unexpected server response")
	ErrBadToken           = errors.New("no session token")
	ErrNotRegistered      = errors.New("name not negotiated")
	ErrQuit               = errors.New("quit")
)

type State int

const (
	Connecting State = iota
	AwaitingToken
	NegotiatingName
	Chatting
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case AwaitingToken:
		return "awaiting_token"
	case NegotiatingName:
		return "negotiating_name"
	case Chatting:
		return "chatting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Display renders what the client receives. Layout and styling are up to
// the implementation.
type Display interface {
	ShowLine(line string)
	ShowUserList(names []string)
	ShowError(msg string)
}

type InputKind int

const (
	InputText InputKind = iota
	InputUserList
	InputQuit
)

// Input is one submitted action from the local operator.
type Input struct {
	Kind InputKind
	Text string
}

func Text(s string) Input { return Input{Kind: InputText, Text: s} }

type Client struct {
	conn   net.Conn
	r      *bufio.Reader
	w      *protocol.LineWriter
	logger *slog.Logger

	mu    sync.Mutex
	state State
	token uint64
	name  string
	users []string
}

// Dial connects to the relay at addr and waits for the session token.
func Dial(ctx context.Context, addr string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("connecting to server", "addr", addr)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	return NewClient(conn, logger)
}

// NewClient takes over an established connection and reads the token. The
// connection is closed on failure.
func NewClient(conn net.Conn, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		conn:   conn,
		r:      bufio.NewReader(conn),
		w:      protocol.NewLineWriter(conn, 0),
		logger: logger,
		state:  AwaitingToken,
	}

	line, err := protocol.ReadLine(c.r)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %w", ErrBadToken, err)
	}
	token, err := protocol.ParseToken(line)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %w", ErrBadToken, err)
	}

	c.mu.Lock()
	c.token = token
	c.state = NegotiatingName
	c.mu.Unlock()

	c.logger = logger.With("token", token)
	c.logger.Debug("received token")
	return c, nil
}

func (c *Client) Token() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UserList returns the last snapshot received from the relay.
func (c *Client) UserList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.users...)
}

// Negotiate submits one candidate name and reads exactly one reply.
func (c *Client) Negotiate(name string) error {
	if st := c.State(); st != NegotiatingName {
		return fmt.Errorf("negotiate in state %s", st)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyName
	}

	if err := c.w.WriteLine(name); err != nil {
		return err
	}
	line, err := protocol.ReadLine(c.r)
	if err != nil {
		return err
	}
	reply := protocol.StripPrompt(line)
	c.logger.Debug("server response", "reply", reply)

	switch reply {
	case protocol.NameAccepted:
		c.mu.Lock()
		c.name = name
		c.state = Chatting
		c.mu.Unlock()
		c.logger = c.logger.With("username", name)
		return nil
	case protocol.NameTaken:
		return ErrNameTaken
	case protocol.NameInvalid:
		return ErrNameInvalid
	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedResponse, reply)
	}
}

// Login runs name negotiation from inputs until a name is accepted. Local
// and protocol rejections are shown on d and the operator is asked again;
// transport errors and quitting end it.
func (c *Client) Login(ctx context.Context, inputs <-chan Input, d Display) error {
	for {
		var in Input
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-inputs:
			if !ok {
				return ErrQuit
			}
			in = v
		}

		switch in.Kind {
		case InputQuit:
			return ErrQuit
		case InputUserList:
			continue
		}

		err := c.Negotiate(in.Text)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrEmptyName):
			d.ShowError("Error: Username cannot be empty!")
		case errors.Is(err, ErrNameTaken):
			d.ShowError(protocol.NameTaken)
		case errors.Is(err, ErrNameInvalid):
			d.ShowError(protocol.NameInvalid)
		case errors.Is(err, ErrUnexpectedResponse):
			d.ShowError("Unexpected server response. Please try again.")
		default:
			return err
		}
	}
}

// Chat runs the input loop and the remote-read loop until the operator
// quits, the relay hangs up or a write fails. Quitting returns nil.
func (c *Client) Chat(ctx context.Context, inputs <-chan Input, d Display) error {
	if st := c.State(); st != Chatting {
		return fmt.Errorf("%w: state %s", ErrNotRegistered, st)
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = c.conn.Close() })
	g.Go(func() error { return c.inputLoop(gctx, inputs) })
	g.Go(func() error { return c.readLoop(gctx, d) })
	err := g.Wait()
	stop()
	c.Close()

	if errors.Is(err, ErrQuit) {
		c.logger.Debug("client quit")
		return nil
	}
	c.logger.Debug("disconnected from server", "error", err)
	return err
}

func (c *Client) inputLoop(ctx context.Context, inputs <-chan Input) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-inputs:
			if !ok {
				return ErrQuit
			}
			switch in.Kind {
			case InputQuit:
				return ErrQuit
			case InputUserList:
				if err := c.w.WriteLine(protocol.UserListRequest); err != nil {
					return err
				}
			default:
				text := strings.TrimSpace(in.Text)
				if text == "" {
					continue
				}
				if err := c.w.WriteLine(text); err != nil {
					return err
				}
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, d Display) error {
	for {
		line, err := protocol.ReadLine(c.r)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := c.handleLine(line, d); err != nil {
			return err
		}
	}
}

// handleLine classifies one incoming line. Probes and user lists never
// reach the message view.
func (c *Client) handleLine(line string, d Display) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case line == protocol.Ping:
		if err := c.w.WriteLine(protocol.Pong); err != nil {
			return fmt.Errorf("pong: %w", err)
		}
		return nil
	}

	if names, ok := protocol.ParseUserList(line); ok {
		c.mu.Lock()
		c.users = names
		c.mu.Unlock()
		d.ShowUserList(names)
		return nil
	}

	d.ShowLine(line)
	return nil
}

// Close releases the connection. It is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	c.state = Closed
	c.mu.Unlock()
	_ = c.conn.Close()
}
