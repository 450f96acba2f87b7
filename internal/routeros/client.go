// Package routeros implements the RouterOS binary API: one authenticated
// TCP/TLS channel per device, tag-correlated request/reply multiplexing,
// buffered and streamed command execution.
package routeros

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/talkincode/routerman/internal/routeros/proto"
	"go.uber.org/zap"
)

const defaultQueueSize = 16

// tagHandler receives the reply sentences routed to one in-flight command.
// done is closed by the command owner when it stops listening, so the read
// loop never blocks on an abandoned tag.
type tagHandler struct {
	ch   chan *proto.Sentence
	done chan struct{}
}

// Client is one authenticated channel to one RouterOS device. Commands may
// be issued concurrently: writes are serialized, replies are demultiplexed
// by tag. A transport or protocol failure closes the client permanently;
// recovery is creating a new client.
type Client struct {
	// Queue is the reply channel buffer for streamed commands.
	Queue int

	conn net.Conn
	r    *proto.Reader
	w    *proto.Writer

	writeMu sync.Mutex

	mu     sync.Mutex
	tags   map[string]*tagHandler
	err    error
	closed bool

	dying     chan struct{}
	closeOnce sync.Once
	nextTag   int64
}

// NewClient wraps an established connection and starts the reply reader.
// Callers normally use Dial/DialTLS, which also perform the login
// handshake.
func NewClient(conn net.Conn) *Client {
	c := &Client{
		Queue: defaultQueueSize,
		conn:  conn,
		r:     proto.NewReader(conn),
		w:     proto.NewWriter(conn),
		tags:  make(map[string]*tagHandler),
		dying: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Dial opens a plain TCP connection and logs in.
func Dial(ctx context.Context, address, username, password string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("routeros: dial %s: %w", address, err)
	}
	return loginClient(ctx, conn, username, password)
}

// DialTLS opens a TLS connection and logs in.
func DialTLS(ctx context.Context, address, username, password string, tlsConfig *tls.Config) (*Client, error) {
	d := tls.Dialer{Config: tlsConfig}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("routeros: dial tls %s: %w", address, err)
	}
	return loginClient(ctx, conn, username, password)
}

func loginClient(ctx context.Context, conn net.Conn, username, password string) (*Client, error) {
	c := NewClient(conn)
	if err := c.Login(ctx, username, password); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Login performs the handshake. Post-6.43 firmware accepts the plain
// name/password sentence; older firmware replies with a challenge in `ret`
// and expects an MD5 response on a second /login.
func (c *Client) Login(ctx context.Context, username, password string) error {
	r, err := c.RunContext(ctx, "/login", "=name="+username, "=password="+password)
	if err != nil {
		return asAuthError(username, err)
	}
	ret, hasChallenge := "", false
	if r.Done != nil {
		ret, hasChallenge = r.Done.Map["ret"]
	}
	if !hasChallenge {
		return nil
	}

	challenge, err := hex.DecodeString(ret)
	if err != nil {
		return &ProtocolError{Err: fmt.Errorf("bad login challenge %q: %w", ret, err)}
	}
	h := md5.New()
	h.Write([]byte{0})
	h.Write([]byte(password))
	h.Write(challenge)
	response := fmt.Sprintf("00%x", h.Sum(nil))

	if _, err := c.RunContext(ctx, "/login", "=name="+username, "=response="+response); err != nil {
		return asAuthError(username, err)
	}
	return nil
}

func asAuthError(username string, err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return &AuthError{Username: username, Err: err}
	}
	return err
}

// Run executes a command and buffers all data rows until the terminal
// reply.
func (c *Client) Run(words ...string) (*Reply, error) {
	return c.RunContext(context.Background(), words...)
}

// RunArgs is Run with a prebuilt word slice, for callers assembling
// commands dynamically.
func (c *Client) RunArgs(args []string) (*Reply, error) {
	return c.Run(args...)
}

// RunContext executes a command and buffers all data rows. When ctx expires
// a best-effort /cancel is written for the command's tag before the error
// is returned, so the device releases server-side resources.
func (c *Client) RunContext(ctx context.Context, words ...string) (*Reply, error) {
	tag := c.newTag()
	h, err := c.registerTag(tag)
	if err != nil {
		return nil, err
	}
	defer c.releaseTag(tag, h)

	if err := c.writeSentence(append(words, ".tag="+tag)); err != nil {
		return nil, err
	}

	reply := &Reply{}
	for {
		select {
		case <-ctx.Done():
			c.cancelTag(tag)
			return nil, fmt.Errorf("routeros: command %s: %w", words[0], ctx.Err())
		case <-c.dying:
			return nil, c.Err()
		case sen := <-h.ch:
			switch sen.Word {
			case "!re":
				reply.Re = append(reply.Re, sen)
			case "!done":
				reply.Done = sen
				return reply, nil
			case "!trap":
				return nil, &DeviceError{Sentence: sen}
			}
		}
	}
}

// Cancel writes a cancellation word for the given tag. Exposed for callers
// holding a streamed reply; buffered RunContext cancels automatically.
func (c *Client) Cancel(tag string) error {
	return c.cancelTag(tag)
}

func (c *Client) cancelTag(tag string) error {
	return c.writeSentence([]string{"/cancel", "=tag=" + tag})
}

// Close tears the client down. All pending commands fail with ErrClosed.
func (c *Client) Close() {
	c.fatal(ErrClosed)
}

// Closed reports whether the client has been invalidated.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Err returns the error that invalidated the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Client) newTag() string {
	return strconv.FormatInt(atomic.AddInt64(&c.nextTag, 1), 10)
}

func (c *Client) registerTag(tag string) (*tagHandler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		if c.err != nil {
			return nil, c.err
		}
		return nil, ErrClosed
	}
	h := &tagHandler{
		ch:   make(chan *proto.Sentence, c.Queue),
		done: make(chan struct{}),
	}
	c.tags[tag] = h
	return h, nil
}

// releaseTag forgets the tag; a stray late reply is then discarded by the
// read loop.
func (c *Client) releaseTag(tag string, h *tagHandler) {
	c.mu.Lock()
	delete(c.tags, tag)
	c.mu.Unlock()
	close(h.done)
}

func (c *Client) writeSentence(words []string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.Err(); err != nil {
		return err
	}
	if err := c.w.WriteSentence(words); err != nil {
		err = fmt.Errorf("routeros: write: %w", err)
		c.fatal(err)
		return err
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		sen, err := c.r.ReadSentence()
		if err != nil {
			if errors.Is(err, proto.ErrBadLengthPrefix) {
				err = &ProtocolError{Err: err}
			}
			c.fatal(err)
			return
		}
		if sen.Word == "" && len(sen.List) == 0 {
			continue
		}
		if sen.Word == "!fatal" {
			c.fatal(fmt.Errorf("routeros: fatal from device: %s", sen.String()))
			return
		}

		c.mu.Lock()
		h := c.tags[sen.Tag]
		c.mu.Unlock()
		if h == nil {
			// Late reply for a canceled or timed-out command.
			zap.L().Debug("discarding untagged reply", zap.String("sentence", sen.String()))
			continue
		}
		select {
		case h.ch <- sen:
		case <-h.done:
		}
	}
}

// fatal invalidates the client: the connection is closed and every pending
// waiter observes the error through the dying channel.
func (c *Client) fatal(err error) {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.err = err
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.dying)
	})
}
