package chat

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andy6609/termtalk/internal/protocol"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func startServer(t *testing.T, cfg SessionConfig) *Server {
	t.Helper()
	srv := NewServer(Options{Addr: "127.0.0.1:0", Session: cfg}, quietLogger)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

type testPeer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, srv *Server) *testPeer {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &testPeer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (p *testPeer) readLine() (string, error) {
	_ = p.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := p.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return protocol.TrimEOL(line), nil
}

func (p *testPeer) mustReadLine() string {
	p.t.Helper()
	line, err := p.readLine()
	if err != nil {
		p.t.Fatalf("read line: %v", err)
	}
	return line
}

func (p *testPeer) send(line string) {
	p.t.Helper()
	_, err := io.WriteString(p.conn, protocol.Frame(line))
	require.NoError(p.t, err)
}

// login sends name and returns the reply with any glued prompt removed.
func (p *testPeer) login(name string) string {
	p.t.Helper()
	p.send(name)
	return protocol.StripPrompt(p.mustReadLine())
}

// register logs in and waits for the own join notice, which proves the
// session is subscribed.
func (p *testPeer) register(name string) {
	p.t.Helper()
	p.mustReadLine() // token
	require.Equal(p.t, protocol.NameAccepted, p.login(name))
	p.waitFor(protocol.JoinLine(name))
}

func (p *testPeer) waitFor(want string) {
	p.t.Helper()
	for {
		line := p.mustReadLine()
		if line == want {
			return
		}
	}
}

func (p *testPeer) waitForPrefix(prefix string) string {
	p.t.Helper()
	for {
		line := p.mustReadLine()
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

func TestServer_TokenAndNameNegotiation(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, DefaultSessionConfig())

	alice := dial(t, srv)
	req.Equal("Your token: 0", alice.mustReadLine())
	req.Equal(protocol.NameAccepted, alice.login("alice"))

	second := dial(t, srv)
	req.Equal("Your token: 1", second.mustReadLine())
	req.Equal(protocol.NameTaken, second.login("alice"))
	req.Equal(protocol.NameEmpty, second.login("   "))
	req.Equal(protocol.NameAccepted, second.login("bob"))

	req.ElementsMatch([]string{"alice", "bob"}, srv.Registry().Snapshot())
}

func TestServer_ChatLineReachesEverySession(t *testing.T) {
	srv := startServer(t, DefaultSessionConfig())

	alice := dial(t, srv)
	alice.register("alice")
	bob := dial(t, srv)
	bob.register("bob")

	alice.send("hello @all")

	alice.waitFor("alice: hello @all")
	bob.waitFor("alice: hello @all")
}

func TestServer_IdleSessionIsProbed(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, SessionConfig{IdleTimeout: 100 * time.Millisecond, MaxMissedPings: 3})

	alice := dial(t, srv)
	alice.register("alice")

	for i := 0; i < 4; i++ {
		req.Equal(protocol.Ping, alice.mustReadLine())
		alice.send(protocol.Pong)
	}
	req.Equal([]string{"alice"}, srv.Registry().Snapshot())
}

func TestServer_UnresponsivePeerIsDropped(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, SessionConfig{IdleTimeout: 50 * time.Millisecond, MaxMissedPings: 2})

	alice := dial(t, srv)
	alice.register("alice")

	req.Equal(protocol.Ping, alice.mustReadLine())
	req.Equal(protocol.Ping, alice.mustReadLine())
	_, err := alice.readLine()
	req.ErrorIs(err, io.EOF)

	req.Eventually(func() bool { return srv.Registry().Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_UserListIsPrivate(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, DefaultSessionConfig())

	alice := dial(t, srv)
	alice.register("alice")
	bob := dial(t, srv)
	bob.register("bob")

	alice.send(protocol.UserListRequest)
	names, ok := protocol.ParseUserList(alice.waitForPrefix(protocol.UserListPrefix))
	req.True(ok)
	req.ElementsMatch([]string{"alice", "bob"}, names)

	// A later chat line is the next thing bob sees.
	alice.send("marker")
	req.Equal("alice: marker", bob.mustReadLine())
}

func TestServer_DisconnectAnnouncesLeave(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, DefaultSessionConfig())

	alice := dial(t, srv)
	alice.register("alice")
	bob := dial(t, srv)
	bob.register("bob")

	req.NoError(alice.conn.Close())

	bob.waitFor("SERVER: alice has left the chat!")
	req.Equal([]string{"bob"}, srv.Registry().Snapshot())

	// The name is free again.
	carol := dial(t, srv)
	carol.mustReadLine()
	req.Equal(protocol.NameAccepted, carol.login("alice"))
}

func TestServer_EOFDuringNegotiationPublishesNothing(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, DefaultSessionConfig())

	bob := dial(t, srv)
	bob.register("bob")

	quitter := dial(t, srv)
	quitter.mustReadLine()
	req.NoError(quitter.conn.Close())

	bob.send("still here")
	req.Equal("bob: still here", bob.mustReadLine())
	req.Equal(1, srv.Registry().Len())
}

func TestServer_StopClosesSessions(t *testing.T) {
	srv := NewServer(Options{Addr: "127.0.0.1:0"}, quietLogger)
	require.NoError(t, srv.Start())

	alice := dial(t, srv)
	alice.register("alice")

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()

	_, err := alice.readLine()
	require.ErrorIs(t, err, io.EOF)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	require.Zero(t, srv.Registry().Len())
}

func TestServer_PartialLineSurvivesIdleTimeout(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, SessionConfig{IdleTimeout: 200 * time.Millisecond, MaxMissedPings: 1})

	alice := dial(t, srv)
	alice.register("alice")

	_, err := io.WriteString(alice.conn, "hel")
	req.NoError(err)
	req.Equal(protocol.Ping, alice.mustReadLine())

	_, err = io.WriteString(alice.conn, "lo\n")
	req.NoError(err)
	alice.waitFor("alice: hello")
}

func TestServer_RejectsNamesThatBreakFraming(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, DefaultSessionConfig())

	bob := dial(t, srv)
	bob.register("bob")

	carol := dial(t, srv)
	carol.mustReadLine()
	for _, name := range []string{"x,y", "a:b", "USERLIST", "SERVER", strings.Repeat("n", protocol.MaxNameLength+1)} {
		if got := carol.login(name); got != protocol.NameInvalid {
			t.Fatalf("login %q: expected %q, got %q", name, protocol.NameInvalid, got)
		}
	}
	req.Equal(protocol.NameAccepted, carol.login("carol"))
	carol.waitFor(protocol.JoinLine("carol"))

	carol.send(protocol.UserListRequest)
	names, ok := protocol.ParseUserList(carol.waitForPrefix(protocol.UserListPrefix))
	req.True(ok)
	req.Equal([]string{"bob", "carol"}, names)

	// A chat line from bob never parses as a user list.
	bob.send("USERLIST: mallory")
	line := carol.waitForPrefix("bob: ")
	_, ok = protocol.ParseUserList(line)
	req.False(ok)
}

func TestServer_OversizeLineEndsSession(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, SessionConfig{MaxLineBytes: 64})

	alice := dial(t, srv)
	alice.register("alice")
	bob := dial(t, srv)
	bob.register("bob")

	fits := strings.Repeat("y", 64)
	alice.send(fits)
	bob.waitFor("alice: " + fits)

	_, err := io.WriteString(alice.conn, strings.Repeat("x", 200))
	req.NoError(err)

	bob.waitFor(protocol.LeaveLine("alice"))
	req.Equal([]string{"bob"}, srv.Registry().Snapshot())
	// Drain what was queued before the close.
	for {
		if _, err := alice.readLine(); err != nil {
			break
		}
	}
}

func TestServer_TricklingPeerIsDropped(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, SessionConfig{IdleTimeout: 100 * time.Millisecond, MaxMissedPings: 2})

	alice := dial(t, srv)
	alice.register("alice")

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				if _, err := io.WriteString(alice.conn, "a"); err != nil {
					return
				}
			}
		}
	}()

	req.Equal(protocol.Ping, alice.mustReadLine())
	req.Equal(protocol.Ping, alice.mustReadLine())
	_, err := alice.readLine()
	req.Error(err)

	req.Eventually(func() bool { return srv.Registry().Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_SilentPeerTimesOutDuringLogin(t *testing.T) {
	req := require.New(t)
	srv := startServer(t, SessionConfig{LoginTimeout: 100 * time.Millisecond})

	bob := dial(t, srv)
	bob.register("bob")

	silent := dial(t, srv)
	req.Equal("Your token: 1", silent.mustReadLine())
	start := time.Now()
	_, err := silent.readLine()
	req.ErrorIs(err, io.EOF)
	req.Less(time.Since(start), time.Second)

	bob.send("still here")
	req.Equal("bob: still here", bob.mustReadLine())
	req.Equal(1, srv.Registry().Len())
}
