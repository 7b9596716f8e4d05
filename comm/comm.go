/*Package comm provides a line-oriented link to a remote instrument over TCP
or RS232.

Most usages of this package will boil down to:
	1.  create a RemoteDevice with NewRemoteDevice
	2.  Open it, which retries with an exponential backoff
	3.  call SendRecv for each command; the device serializes callers and
		spaces commands by MinInterval
	4.  Close it

A minimal example for an instrument that answers "STATUS?" with one line:

	dev := comm.NewRemoteDevice("192.168.100.20:5025", false)
	if err := dev.Open(ctx); err != nil {
		return err
	}
	defer dev.Close()
	resp, err := dev.SendRecv(ctx, []byte("STATUS?"))
*/
package comm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

const (
	// DefaultTerminator ends every line in both directions
	DefaultTerminator = byte('\r')

	// DefaultTimeout bounds a single command when the context has no deadline
	DefaultTimeout = 5 * time.Minute
)

/*RemoteDevice has an address and a single connection to it.

If IsSerial is true, Addr is the name of the serial port, e.g. /dev/ttyUSB0,
and Baud is used.  Otherwise Addr is host:port.

The device is concurrent-safe; callers of SendRecv are served one at a time.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Baud     int

	// Terminator ends each line, DefaultTerminator if zero
	Terminator byte

	// Timeout bounds each command when the context carries no deadline
	Timeout time.Duration

	// Retry bounds how long Open keeps retrying
	Retry time.Duration

	// MinInterval is the least time between two commands, zero for none
	MinInterval time.Duration

	Conn io.ReadWriteCloser

	mu      sync.Mutex
	rd      *bufio.Reader
	limiter *rate.Limiter
}

// NewRemoteDevice creates a new RemoteDevice instance
func NewRemoteDevice(addr string, serial bool) *RemoteDevice {
	return &RemoteDevice{
		Addr:       addr,
		IsSerial:   serial,
		Baud:       9600,
		Terminator: DefaultTerminator,
		Timeout:    DefaultTimeout,
		Retry:      3 * time.Second,
	}
}

// SerialConf yields a serial config for use with serial.OpenPort
func (rd *RemoteDevice) SerialConf() *serial.Config {
	return &serial.Config{Name: rd.Addr, Baud: rd.Baud, ReadTimeout: rd.Timeout}
}

// Open the connection, setting the Conn variable.  Connection attempts back
// off exponentially; instruments do not like being connection thrashed.
func (rd *RemoteDevice) Open(ctx context.Context) error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn != nil {
		return nil
	}
	exp := &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      rd.Retry,
		Clock:               backoff.SystemClock}
	exp.Reset()
	err := backoff.Retry(func() error { return rd.open(ctx) }, backoff.WithContext(exp, ctx))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", rd.Addr, err)
	}
	return nil
}

func (rd *RemoteDevice) open(ctx context.Context) error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		conn, err = serial.OpenPort(rd.SerialConf())
	} else {
		var d net.Dialer
		dctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		conn, err = d.DialContext(dctx, "tcp", rd.Addr)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rd = bufio.NewReader(conn)
	if rd.MinInterval > 0 {
		rd.limiter = rate.NewLimiter(rate.Every(rd.MinInterval), 1)
	}
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rd = nil
	return err
}

func (rd *RemoteDevice) terminator() byte {
	if rd.Terminator == 0 {
		return DefaultTerminator
	}
	return rd.Terminator
}

func (rd *RemoteDevice) send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	buf := make([]byte, 0, len(b)+1)
	buf = append(append(buf, b...), rd.terminator())
	_, err := rd.Conn.Write(buf)
	return err
}

func (rd *RemoteDevice) recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	term := rd.terminator()
	buf, err := rd.rd.ReadBytes(term)
	if err != nil {
		if errors.Is(err, io.EOF) && len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimSuffix(buf, []byte{term}), nil
}

// SendRecv sends a line and returns the response line, terminators handled
// on both sides.  The context bounds the wait for the rate limiter and, on a
// network connection, the I/O itself.
func (rd *RemoteDevice) SendRecv(ctx context.Context, b []byte) ([]byte, error) {
	rd.mu.Lock()
	defer rd.mu.Unlock()
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if rd.limiter != nil {
		if err := rd.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if nc, ok := rd.Conn.(net.Conn); ok {
		deadline, ok := ctx.Deadline()
		if !ok {
			timeout := rd.Timeout
			if timeout == 0 {
				timeout = DefaultTimeout
			}
			deadline = time.Now().Add(timeout)
		}
		if err := nc.SetDeadline(deadline); err != nil {
			return nil, err
		}
	}
	if err := rd.send(b); err != nil {
		return nil, err
	}
	return rd.recv()
}
