package channel

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

type inbound struct {
	data []byte
	err  error
}

// fakeConn is an in-memory socket. The test side pushes frames and
// closes; the channel side reads, writes and closes.
type fakeConn struct {
	in   chan inbound
	done chan struct{}
	once sync.Once

	mu          sync.Mutex
	written     []string
	writeErr    error
	closeCode   int
	closeReason string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:   make(chan inbound, 16),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg.data, msg.err
	case <-c.done:
		return nil, &CloseError{Code: c.code(), Reason: "closed locally"}
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.closeReason = reason
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) code() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode
}

// frame delivers a text frame to the reader
func (c *fakeConn) frame(s string) {
	c.in <- inbound{data: []byte(s)}
}

// serverClose simulates the server closing the socket with code
func (c *fakeConn) serverClose(code int) {
	c.in <- inbound{err: &CloseError{Code: code, Reason: "server close"}}
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// fakeDialer hands out fakeConns. Failures queued with failNext are
// returned first; hang makes Dial block until its context ends.
type fakeDialer struct {
	mu       sync.Mutex
	urls     []string
	conns    []*fakeConn
	failures []error
	hang     bool
}

var errRefused = errors.New("connection refused")

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	hang := d.hang
	var failure error
	if len(d.failures) > 0 {
		failure = d.failures[0]
		d.failures = d.failures[1:]
	}
	d.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if failure != nil {
		return nil, failure
	}

	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) failNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.failures = append(d.failures, errRefused)
	}
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

// logBuffer captures log output written from several goroutines
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) count(level zerolog.Level) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Count(b.buf.Bytes(), []byte(`"level":"`+level.String()+`"`))
}
