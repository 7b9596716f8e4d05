// Package robot talks to the liquid handling robot over a comm link.
//
// Each operation is one telegram; the robot answers with OK once the
// operation has finished or ERR with a code.  Commands are never retried:
// a dispense that may have partly happened cannot be repeated safely.
package robot

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/op13/liquidplan/comm"
	"github.com/op13/liquidplan/transfer"
)

// ErrSequence is generated when a reply answers a different telegram
var ErrSequence = fmt.Errorf("%w: reply sequence mismatch", ErrMalformed)

// Client is a transfer.Handler backed by a robot
type Client struct {
	dev *comm.RemoteDevice
	log *zap.Logger

	mu  sync.Mutex
	seq uint16
}

// NewClient wraps a device.  log may be nil.
func NewClient(dev *comm.RemoteDevice, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{dev: dev, log: log}
}

// Open connects to the robot
func (c *Client) Open(ctx context.Context) error {
	return c.dev.Open(ctx)
}

// Close disconnects from the robot
func (c *Client) Close() error {
	return c.dev.Close()
}

func (c *Client) next() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

func (c *Client) do(ctx context.Context, t Telegram) error {
	if err := c.dev.Open(ctx); err != nil {
		return err
	}
	c.log.Debug("send", zap.Uint16("seq", t.Seq), zap.String("verb", t.Verb))
	resp, err := c.dev.SendRecv(ctx, t.Encode())
	if err != nil {
		return err
	}
	reply, err := Decode(resp)
	if err != nil {
		return err
	}
	if reply.Seq != t.Seq {
		return fmt.Errorf("%w: sent %d got %d", ErrSequence, t.Seq, reply.Seq)
	}
	switch reply.Verb {
	case VerbOK:
		return nil
	case VerbErr:
		code, _ := reply.Get("code")
		msg, _ := reply.Get("msg")
		c.log.Warn("robot error", zap.Uint16("seq", t.Seq), zap.String("code", code), zap.String("msg", msg))
		return errorFromCode(code, msg)
	default:
		return fmt.Errorf("%w: reply verb %q", ErrMalformed, reply.Verb)
	}
}

// Home sends the robot's gantry home
func (c *Client) Home(ctx context.Context) error {
	return c.do(ctx, Telegram{Seq: c.next(), Verb: VerbHome})
}

// Distribute implements transfer.Handler
func (c *Client) Distribute(ctx context.Context, b transfer.Broadcast) error {
	return c.do(ctx, EncodeBroadcast(c.next(), b))
}

// Transfer implements transfer.Handler
func (c *Client) Transfer(ctx context.Context, p transfer.Paired) error {
	return c.do(ctx, EncodePaired(c.next(), p))
}
