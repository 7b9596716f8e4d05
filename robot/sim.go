package robot

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/op13/liquidplan/comm"
	"github.com/op13/liquidplan/transfer"
)

// Simulator speaks the robot protocol on a listener and hands every
// operation to a transfer.Handler, usually a transfer.Mock.
type Simulator struct {
	Handler transfer.Handler

	// Log may be nil
	Log *zap.Logger

	wg sync.WaitGroup
}

// Serve accepts connections until the listener is closed or ctx is done
func (s *Simulator) Serve(ctx context.Context, ln net.Listener) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	defer s.wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		log.Info("connection accepted", zap.String("remote", conn.RemoteAddr().String()))
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			s.handle(ctx, conn, log)
		}()
	}
}

func (s *Simulator) handle(ctx context.Context, conn net.Conn, log *zap.Logger) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadBytes(comm.DefaultTerminator)
		if err != nil {
			return
		}
		reply := s.reply(ctx, line[:len(line)-1], log)
		if _, err := conn.Write(append(reply.Encode(), comm.DefaultTerminator)); err != nil {
			return
		}
	}
}

func (s *Simulator) reply(ctx context.Context, line []byte, log *zap.Logger) Telegram {
	t, err := Decode(line)
	if err != nil {
		log.Warn("bad telegram", zap.Error(err))
		out := Telegram{Verb: VerbErr}
		out.Set("code", "E98")
		out.Set("msg", err.Error())
		return out
	}
	out := Telegram{Seq: t.Seq, Verb: VerbOK}
	if t.Verb == VerbHome {
		return out
	}
	op, err := DecodeOp(t)
	if err == nil {
		switch o := op.(type) {
		case transfer.Broadcast:
			err = s.Handler.Distribute(ctx, o)
		case transfer.Paired:
			err = s.Handler.Transfer(ctx, o)
		}
	}
	if err != nil {
		log.Info("operation refused", zap.Uint16("seq", t.Seq), zap.Error(err))
		out.Verb = VerbErr
		out.Set("code", codeFromError(err))
		out.Set("msg", err.Error())
	}
	return out
}
