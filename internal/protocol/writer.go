package protocol

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// LineWriter is the single write path of a connection. Every writer on a
// connection goes through one LineWriter so frames never interleave
// mid-line.
type LineWriter struct {
	mu      sync.Mutex
	conn    io.Writer
	w       *bufio.Writer
	timeout time.Duration
}

// NewLineWriter wraps conn. When conn is a net.Conn and timeout is positive
// every write gets its own deadline.
func NewLineWriter(conn io.Writer, timeout time.Duration) *LineWriter {
	return &LineWriter{conn: conn, w: bufio.NewWriter(conn), timeout: timeout}
}

// WriteLine writes line followed by the terminator.
func (lw *LineWriter) WriteLine(line string) error {
	return lw.write(Frame(line))
}

// WriteRaw writes s as is. Only the name prompt goes out unterminated.
func (lw *LineWriter) WriteRaw(s string) error {
	return lw.write(s)
}

func (lw *LineWriter) write(s string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if c, ok := lw.conn.(net.Conn); ok && lw.timeout > 0 {
		_ = c.SetWriteDeadline(time.Now().Add(lw.timeout))
	}
	if _, err := lw.w.WriteString(s); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := lw.w.Flush(); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// ReadLine reads one line and strips the terminator. A final line without
// terminator is returned before io.EOF.
func ReadLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == nil {
		return TrimEOL(line), nil
	}
	if err == io.EOF && line != "" {
		return TrimEOL(line), nil
	}
	if err == io.EOF {
		return "", io.EOF
	}
	return "", fmt.Errorf("read: %w", err)
}
