package chat

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/andy6609/termtalk/internal/protocol"
)

const (
	DefaultIdleTimeout    = 15 * time.Second
	DefaultMaxMissedPings = 3
	DefaultWriteTimeout   = 10 * time.Second
	DefaultLoginTimeout   = 30 * time.Second
	DefaultMaxLineBytes   = 4096
)

// SessionConfig tunes the keepalive policy of every session.
type SessionConfig struct {
	// IdleTimeout is how long the read loop waits for a line before probing.
	IdleTimeout time.Duration
	// MaxMissedPings ends the session after that many consecutive probes got
	// no complete inbound line. Zero or less never gives up.
	MaxMissedPings int
	WriteTimeout   time.Duration
	// LoginTimeout bounds each wait for a name while negotiating.
	LoginTimeout time.Duration
	// MaxLineBytes caps one inbound line, terminator excluded. A longer
	// line ends the session.
	MaxLineBytes int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		IdleTimeout:    DefaultIdleTimeout,
		MaxMissedPings: DefaultMaxMissedPings,
		WriteTimeout:   DefaultWriteTimeout,
		LoginTimeout:   DefaultLoginTimeout,
		MaxLineBytes:   DefaultMaxLineBytes,
	}
}

// Session owns one peer connection: name negotiation first, then a read
// loop and a forward loop sharing one write path.
type Session struct {
	token   Token
	name    string
	conn    net.Conn
	reader  *bufio.Reader
	out     *protocol.LineWriter
	partial []byte

	registry *Registry
	bus      *Bus
	cfg      SessionConfig
	logger   *slog.Logger
}

func NewSession(token Token, conn net.Conn, registry *Registry, bus *Bus, cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Session{
		token:    token,
		conn:     conn,
		reader:   bufio.NewReader(conn),
		out:      protocol.NewLineWriter(conn, cfg.WriteTimeout),
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.With("token", uint64(token)),
	}
}

// Run drives the session to completion and closes the connection. The
// returned error says why the session ended; it is never nil once relaying
// started.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		_ = s.conn.Close()
	}()
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	if err := s.out.WriteLine(protocol.TokenLine(uint64(s.token))); err != nil {
		s.logger.Debug("failed to send token", "error", err)
		return fmt.Errorf("send token: %w", err)
	}

	if err := s.negotiate(); err != nil {
		s.logger.Debug("name negotiation ended", "error", err)
		return err
	}

	return s.relay(ctx)
}

func (s *Session) negotiate() error {
	for {
		if err := s.out.WriteRaw(protocol.NamePrompt); err != nil {
			return fmt.Errorf("prompt: %w", err)
		}
		line, err := s.readLine(s.cfg.LoginTimeout)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			s.logger.Info("no username before login timeout", "timeout", s.cfg.LoginTimeout)
			return ErrLoginTimeout
		}
		if err != nil {
			return err
		}

		switch err := s.registry.TryRegister(s.token, line); {
		case errors.Is(err, ErrNameTaken):
			s.logger.Debug("username already taken", "username", line)
			if err := s.out.WriteLine(protocol.NameTaken); err != nil {
				return fmt.Errorf("reject: %w", err)
			}
			continue
		case errors.Is(err, ErrNameInvalid):
			reply := protocol.NameInvalid
			if line == "" {
				reply = protocol.NameEmpty
			}
			s.logger.Debug("username rejected", "username", line)
			if err := s.out.WriteLine(reply); err != nil {
				return fmt.Errorf("reject: %w", err)
			}
			continue
		case err != nil:
			return err
		}

		s.name = line
		if err := s.out.WriteLine(protocol.NameAccepted); err != nil {
			s.registry.Unregister(s.token)
			return fmt.Errorf("accept: %w", err)
		}
		s.logger = s.logger.With("username", s.name)
		return nil
	}
}

func (s *Session) relay(ctx context.Context) error {
	sub := s.bus.Subscribe()
	s.bus.Publish(JoinEvent(s.name))

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = s.conn.Close() })
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.forwardLoop(gctx, sub) })
	err := g.Wait()
	stop()

	sub.Unsubscribe()
	s.registry.Unregister(s.token)
	s.bus.Publish(LeaveEvent(s.name))

	reason := exitReason(err)
	SessionsTotal.WithLabelValues(reason).Inc()
	s.logger.Info("session closed", "reason", reason, "dropped", sub.Dropped())
	return err
}

// readLoop never returns nil, so its exit always cancels the forward loop.
func (s *Session) readLoop(ctx context.Context) error {
	misses := 0
	for {
		line, err := s.readLine(s.cfg.IdleTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, os.ErrDeadlineExceeded) {
				return err
			}
			if s.cfg.MaxMissedPings > 0 && misses >= s.cfg.MaxMissedPings {
				s.logger.Warn("peer unresponsive", "missed", misses)
				return ErrPeerUnresponsive
			}
			if err := s.out.WriteLine(protocol.Ping); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			misses++
			KeepaliveProbesTotal.Inc()
			continue
		}
		misses = 0

		switch line {
		case protocol.Pong, "":
			continue
		case protocol.UserListRequest:
			reply := UserListEvent(s.registry.Snapshot())
			if err := s.out.WriteLine(reply.Line()); err != nil {
				return fmt.Errorf("userlist: %w", err)
			}
		default:
			s.bus.Publish(ChatEvent(s.name, line))
		}
	}
}

func (s *Session) forwardLoop(ctx context.Context, sub *Subscription) error {
	for {
		ev, err := sub.Receive(ctx)
		if err != nil {
			return err
		}
		if err := s.out.WriteLine(ev.Line()); err != nil {
			return fmt.Errorf("forward: %w", err)
		}
	}
}

// readLine reads one trimmed line. A zero timeout waits forever. Bytes read
// before a deadline hit are kept for the next call, up to MaxLineBytes.
func (s *Session) readLine(timeout time.Duration) (string, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return "", fmt.Errorf("read: %w", err)
	}

	for {
		chunk, err := s.reader.ReadSlice('\n')
		s.partial = append(s.partial, chunk...)
		if len(bytes.TrimRight(s.partial, "\r\n")) > s.cfg.MaxLineBytes {
			s.partial = nil
			s.logger.Warn("inbound line too long", "limit", s.cfg.MaxLineBytes)
			return "", ErrLineTooLong
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case err == nil, err == io.EOF && len(s.partial) > 0:
			// a final line may lack its newline
			line := strings.TrimSpace(string(s.partial))
			s.partial = s.partial[:0]
			return line, nil
		case err == io.EOF:
			return "", io.EOF
		default:
			return "", fmt.Errorf("read: %w", err)
		}
	}
}

func exitReason(err error) string {
	switch {
	case errors.Is(err, io.EOF):
		return "eof"
	case errors.Is(err, ErrPeerUnresponsive):
		return "unresponsive"
	case errors.Is(err, ErrLineTooLong):
		return "line_too_long"
	case errors.Is(err, context.Canceled), errors.Is(err, ErrBusClosed):
		return "shutdown"
	default:
		return "error"
	}
}
