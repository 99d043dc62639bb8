/*
Package comm provides embeddable types for communication with lab hardware.

Most usages of this package will boil down to:
 1. embed *RemoteDevice in a type that represents your hardware.
 2. construct it with NewRemoteDevice, passing Terminators if the
    device does not use carriage returns, and a serial.Config if
    it is connected over RS232.
 3. write methods which Lock the device, Open it, transact, Unlock,
    and CloseEventually.

A minimal example is provided below for a sensor that responds to "RD?" with
the current reading:

	type MySensor struct {
		*comm.RemoteDevice
	}

	func (ms *MySensor) Read() (float64, error) {
		resp, err := ms.OpenSendRecvClose([]byte("RD?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
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
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
	"github.com/tarm/serial"
	"golang.org/x/time/rate"
)

const (
	// DefaultIdleTimeout is how long a connection is held open after the
	// last call to CloseEventually
	DefaultIdleTimeout = 5 * time.Second

	// DefaultTimeout is the default per-transaction timeout
	DefaultTimeout = 3 * time.Second
)

var (
	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrNoSerialConf is generated when IsSerial is true but no serial.Config was given
	ErrNoSerialConf = errors.New("device is serial but has no serial.Config")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// Terminators holds the receive and transmit termination bytes
type Terminators struct {
	Rx byte
	Tx byte
}

/*
RemoteDevice has an address and can Open, Send, Recv and Close.

Transactions must hold the embedded mutex for their duration.  The idle
timer started by CloseEventually also takes it, so a connection is never
closed out from under a transaction.
*/
type RemoteDevice struct {
	sync.Mutex

	// Addr is the network address or serial port name
	Addr string

	// IsSerial selects RS232 (true) or TCP (false)
	IsSerial bool

	// Conn is the live connection, nil when closed
	Conn io.ReadWriteCloser

	// Timeout is the per-transaction timeout.  Zero means wait forever.
	Timeout time.Duration

	// IdleTimeout is the delay used by CloseEventually
	IdleTimeout time.Duration

	// LastComm is the time of the last transmission
	LastComm time.Time

	// Maker, if not nil, replaces the serial or TCP dialer
	Maker CreationFunc

	terms   Terminators
	serCfg  *serial.Config
	reader  *bufio.Reader
	limiter *rate.Limiter

	connMu sync.Mutex
	timer  *time.Timer
}

// NewRemoteDevice creates a new RemoteDevice instance.  If terms is nil,
// carriage returns are used for both directions.
func NewRemoteDevice(addr string, serial bool, terms *Terminators, serCfg *serial.Config) RemoteDevice {
	t := Terminators{Rx: '\r', Tx: '\r'}
	if terms != nil {
		t = *terms
	}
	return RemoteDevice{
		Addr:        addr,
		IsSerial:    serial,
		Timeout:     DefaultTimeout,
		IdleTimeout: DefaultIdleTimeout,
		terms:       t,
		serCfg:      serCfg}
}

// SetMinInterval paces transmissions so that no two are closer than d.
// A zero duration removes the limit.
func (rd *RemoteDevice) SetMinInterval(d time.Duration) {
	if d <= 0 {
		rd.limiter = nil
		return
	}
	rd.limiter = rate.NewLimiter(rate.Every(d), 1)
}

// Open the connection, setting the Conn variable.  Open is a no-op if the
// connection is already open.
func (rd *RemoteDevice) Open() error {
	rd.connMu.Lock()
	defer rd.connMu.Unlock()
	if rd.timer != nil {
		rd.timer.Stop()
	}
	if rd.Conn != nil {
		return nil
	}
	// exponential backoff; some devices (and portservers) do not like
	// connection thrashing.  Refusals and missing configuration are not
	// retried; op returns nil to end the retry loop and fatal holds the cause.
	var lastErr, fatal error
	op := func() error {
		err := rd.open()
		if err == nil {
			return nil
		}
		lastErr = err
		if err == ErrNoSerialConf || strings.Contains(strings.ToLower(err.Error()), "refused") {
			fatal = err
			return nil
		}
		return err
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if fatal != nil {
		return fmt.Errorf("connecting to %s: %w", rd.Addr, fatal)
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", rd.Addr, lastErr)
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	switch {
	case rd.Maker != nil:
		conn, err = rd.Maker()
	case rd.IsSerial:
		if rd.serCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.serCfg)
	default:
		conn, err = TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	if f, ok := conn.(flusher); ok {
		if err = f.Flush(); err != nil {
			conn.Close()
			return err
		}
	}
	rd.Conn = conn
	rd.reader = bufio.NewReader(conn)
	return nil
}

// flusher is a port that can discard bytes queued in the driver
type flusher interface {
	Flush() error
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	rd.connMu.Lock()
	defer rd.connMu.Unlock()
	return rd.closeConn()
}

func (rd *RemoteDevice) closeConn() error {
	if rd.timer != nil {
		rd.timer.Stop()
	}
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.reader = nil
	return err
}

// Reset closes the connection, discarding anything received on it that was
// not yet read.  The next Open reconnects.  The caller must hold the lock.
func (rd *RemoteDevice) Reset() error {
	rd.connMu.Lock()
	defer rd.connMu.Unlock()
	return rd.closeConn()
}

// CloseEventually closes the connection after IdleTimeout has passed
// without another call to Open.  A non-positive IdleTimeout keeps the
// connection open until Close is called.
func (rd *RemoteDevice) CloseEventually() {
	if rd.IdleTimeout <= 0 {
		return
	}
	rd.connMu.Lock()
	defer rd.connMu.Unlock()
	if rd.timer == nil {
		rd.timer = time.AfterFunc(rd.IdleTimeout, rd.idleClose)
		return
	}
	rd.timer.Reset(rd.IdleTimeout)
}

func (rd *RemoteDevice) idleClose() {
	rd.Lock()
	defer rd.Unlock()
	rd.connMu.Lock()
	defer rd.connMu.Unlock()
	if time.Since(rd.LastComm) < rd.IdleTimeout {
		return
	}
	rd.closeConn()
}

func (rd *RemoteDevice) setDeadline() time.Time {
	if rd.Timeout <= 0 {
		return time.Time{}
	}
	deadline := time.Now().Add(rd.Timeout)
	if conn, ok := rd.Conn.(net.Conn); ok {
		conn.SetDeadline(deadline)
	}
	return deadline
}

// Send writes data to the remote after appending the Tx terminator
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if rd.limiter != nil {
		rd.limiter.Wait(context.Background())
	}
	msg := make([]byte, len(b), len(b)+1)
	copy(msg, b)
	msg = append(msg, rd.terms.Tx)
	rd.setDeadline()
	n, err := rd.Conn.Write(msg)
	rd.LastComm = time.Now()
	if err == nil && n != len(msg) {
		log.Warn().Str("addr", rd.Addr).Int("wrote", n).Int("expected", len(msg)).
			Msgf("unsuccessful command %q", b)
	}
	return err
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	rd.setDeadline()
	buf, err := rd.reader.ReadBytes(rd.terms.Rx)
	if err != nil {
		return buf, err
	}
	return buf[:len(buf)-1], nil
}

// RecvUntil reads until the response ends with suffix, and returns the
// response with the suffix removed.  On a serial port, read timeouts are
// retried until the transaction Timeout elapses.
func (rd *RemoteDevice) RecvUntil(suffix []byte) ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if len(suffix) == 0 {
		return nil, ErrTerminatorNotFound
	}
	deadline := rd.setDeadline()
	last := suffix[len(suffix)-1]
	var buf []byte
	for {
		chunk, err := rd.reader.ReadBytes(last)
		buf = append(buf, chunk...)
		if err == nil {
			if bytes.HasSuffix(buf, suffix) {
				return buf[:len(buf)-len(suffix)], nil
			}
			continue
		}
		expired := !deadline.IsZero() && time.Now().After(deadline)
		if err == io.EOF && rd.IsSerial && !expired {
			continue
		}
		if err == io.EOF || expired {
			return buf, fmt.Errorf("%w: waiting for %q, got %q", ErrTerminatorNotFound, suffix, buf)
		}
		return buf, err
	}
}

// Drain discards and returns any bytes received but not yet consumed
func (rd *RemoteDevice) Drain() []byte {
	if rd.reader == nil {
		return nil
	}
	n := rd.reader.Buffered()
	if n == 0 {
		return nil
	}
	dumped := make([]byte, n)
	rd.reader.Read(dumped)
	return dumped
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	start := time.Now()
	err := rd.Send(b)
	if err != nil {
		observe(rd.Addr, start, err)
		return nil, err
	}
	resp, err := rd.Recv()
	observe(rd.Addr, start, err)
	return resp, err
}

// SendRecvUntil sends a buffer after appending the Tx terminator, then
// returns the response up to (not including) suffix
func (rd *RemoteDevice) SendRecvUntil(b, suffix []byte) ([]byte, error) {
	start := time.Now()
	err := rd.Send(b)
	if err != nil {
		observe(rd.Addr, start, err)
		return nil, err
	}
	resp, err := rd.RecvUntil(suffix)
	observe(rd.Addr, start, err)
	return resp, err
}

// OpenSendRecvClose locks the device, opens the connection, performs
// SendRecv, unlocks and then calls CloseEventually
func (rd *RemoteDevice) OpenSendRecvClose(b []byte) ([]byte, error) {
	rd.Lock()
	defer func() {
		rd.Unlock()
		rd.CloseEventually()
	}()
	err := rd.Open()
	if err != nil {
		return nil, err
	}
	return rd.SendRecv(b)
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
