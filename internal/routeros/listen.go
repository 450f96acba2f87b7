package routeros

import (
	"context"
	"fmt"

	"github.com/talkincode/routerman/internal/routeros/proto"
)

// AsyncReply delivers data rows of a streamed command as they arrive.
// Used for commands with unbounded output such as live monitors. The
// channel is closed when the command terminates, the stream is canceled,
// or the client dies; Err then reports the outcome.
type AsyncReply struct {
	Tag string

	ch       chan *proto.Sentence
	cancel   context.CancelFunc
	canceled chan struct{}
	done     chan struct{}
	err      error
}

// Chan returns the row channel. Receive until it is closed, then check
// Err.
func (a *AsyncReply) Chan() <-chan *proto.Sentence {
	return a.ch
}

// Cancel stops the stream: no further rows are delivered, a best-effort
// cancellation word is sent, and the tag is released so a stray late reply
// is discarded. Err reports nil after a deliberate cancel.
func (a *AsyncReply) Cancel() {
	select {
	case <-a.canceled:
	default:
		close(a.canceled)
	}
	a.cancel()
}

// Err blocks until the stream has terminated and returns the terminal
// error, nil on !done or deliberate cancel.
func (a *AsyncReply) Err() error {
	<-a.done
	return a.err
}

// Listen executes a command in streaming mode. Rows are delivered on the
// returned reply's channel; the caller must either drain it to completion
// or call Cancel.
func (c *Client) Listen(ctx context.Context, words ...string) (*AsyncReply, error) {
	tag := c.newTag()
	h, err := c.registerTag(tag)
	if err != nil {
		return nil, err
	}

	if err := c.writeSentence(append(words, ".tag="+tag)); err != nil {
		c.releaseTag(tag, h)
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	a := &AsyncReply{
		Tag:      tag,
		ch:       make(chan *proto.Sentence, c.Queue),
		cancel:   cancel,
		canceled: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.stream(sctx, a, tag, h, words[0])
	return a, nil
}

func (c *Client) stream(ctx context.Context, a *AsyncReply, tag string, h *tagHandler, verb string) {
	defer func() {
		c.releaseTag(tag, h)
		close(a.ch)
		close(a.done)
	}()

	for {
		select {
		case <-ctx.Done():
			c.cancelTag(tag)
			select {
			case <-a.canceled:
				// Deliberate Cancel, not a failure.
			default:
				a.err = fmt.Errorf("routeros: stream %s: %w", verb, ctx.Err())
			}
			return
		case <-c.dying:
			a.err = c.Err()
			return
		case sen := <-h.ch:
			switch sen.Word {
			case "!re":
				select {
				case a.ch <- sen:
				case <-ctx.Done():
					c.cancelTag(tag)
					select {
					case <-a.canceled:
					default:
						a.err = fmt.Errorf("routeros: stream %s: %w", verb, ctx.Err())
					}
					return
				}
			case "!done":
				return
			case "!trap":
				a.err = &DeviceError{Sentence: sen}
				return
			}
		}
	}
}
