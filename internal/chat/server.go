package chat

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
)

// DefaultAddr is the relay's fixed listen address.
const DefaultAddr = "127.0.0.1:8080"

// Options configures a Server. Zero values fall back to the defaults.
type Options struct {
	Addr      string
	QueueSize int
	Session   SessionConfig
}

// Server is the relay: it accepts peers, hands each a token and runs a
// Session per connection. The Registry and Bus it owns are shared by every
// session it spawns.
type Server struct {
	opts     Options
	logger   *slog.Logger
	tokens   TokenAllocator
	reg      *Registry
	bus      *Bus
	listener net.Listener

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
	done     chan struct{}
}

func NewServer(opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Session == (SessionConfig{}) {
		opts.Session = DefaultSessionConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:   opts,
		logger: logger,
		reg:    NewRegistry(logger),
		bus:    NewBus(opts.QueueSize, logger),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go s.acceptLoop(ln)

	s.logger.Info("server started", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Registry() *Registry { return s.reg }

func (s *Server) Bus() *Bus { return s.bus }

// Stop closes the listener, ends every session and waits for them.
func (s *Server) Stop() {
	s.logger.Info("shutting down")

	if s.listener != nil {
		s.listener.Close()
		<-s.done
	}

	s.cancel()
	s.sessions.Wait()
	s.bus.Close()

	s.logger.Info("shutdown complete")
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer close(s.done)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error("accept failed", "error", err)
			return
		}

		token := s.tokens.Next()
		s.logger.Info("client connected", "addr", conn.RemoteAddr().String(), "token", uint64(token))

		session := NewSession(token, conn, s.reg, s.bus, s.opts.Session, s.logger)
		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			_ = session.Run(s.ctx)
			s.logger.Debug("client disconnected", "token", uint64(token))
		}()
	}
}
