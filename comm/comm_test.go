package comm_test

import (
	"bufio"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/labctl/spectrolab/comm"
)

// pipeDevice returns a RemoteDevice whose connection is one end of a
// net.Pipe; the other end is returned for the test to play the remote.
func pipeDevice(t *testing.T) (*comm.RemoteDevice, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	rd := comm.NewRemoteDevice("pipe", false, nil, nil)
	rd.Maker = func() (io.ReadWriteCloser, error) { return local, nil }
	rd.IdleTimeout = 0
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		rd.Close()
		remote.Close()
	})
	return &rd, remote
}

func TestSendAppendsTerminator(t *testing.T) {
	rd, remote := pipeDevice(t)
	got := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(remote).ReadString('\r')
		got <- line
	}()
	if err := rd.Send([]byte("?NM")); err != nil {
		t.Fatal(err)
	}
	if line := <-got; line != "?NM\r" {
		t.Errorf("expected ?NM\\r on the wire, got %q", line)
	}
}

func TestSendRecvUntilStripsSuffix(t *testing.T) {
	rd, remote := pipeDevice(t)
	go func() {
		bufio.NewReader(remote).ReadString('\r')
		remote.Write([]byte(" 500.000 nm  ok\r\n"))
	}()
	resp, err := rd.SendRecvUntil([]byte("?NM"), []byte("ok\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != " 500.000 nm  " {
		t.Errorf("expected suffix to be stripped, got %q", resp)
	}
}

func TestDrainReturnsUnconsumedBytes(t *testing.T) {
	rd, remote := pipeDevice(t)
	go func() {
		bufio.NewReader(remote).ReadString('\r')
		remote.Write([]byte("1 ok\r\nstale"))
	}()
	_, err := rd.SendRecvUntil([]byte("?GRATING"), []byte("ok\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if d := rd.Drain(); string(d) != "stale" {
		t.Errorf("expected drained bytes to be \"stale\", got %q", d)
	}
	if d := rd.Drain(); d != nil {
		t.Errorf("expected second drain to be empty, got %q", d)
	}
}

func TestRecvUntilTimesOut(t *testing.T) {
	rd, _ := pipeDevice(t)
	rd.Timeout = 20 * time.Millisecond
	_, err := rd.RecvUntil([]byte("ok\r\n"))
	if !errors.Is(err, comm.ErrTerminatorNotFound) {
		t.Errorf("expected ErrTerminatorNotFound, got %v", err)
	}
}

func TestSendWithoutConnection(t *testing.T) {
	rd := comm.NewRemoteDevice("nowhere", false, nil, nil)
	if err := rd.Send([]byte("MODEL")); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	made := 0
	rd := comm.NewRemoteDevice("counted", false, nil, nil)
	rd.Maker = func() (io.ReadWriteCloser, error) {
		made++
		a, _ := net.Pipe()
		return a, nil
	}
	for i := 0; i < 3; i++ {
		if err := rd.Open(); err != nil {
			t.Fatal(err)
		}
	}
	defer rd.Close()
	if made != 1 {
		t.Errorf("expected one connection to be made, got %d", made)
	}
}

func TestCloseEventuallyClosesIdleConnection(t *testing.T) {
	rd := comm.NewRemoteDevice("idle", false, nil, nil)
	rd.Maker = func() (io.ReadWriteCloser, error) {
		a, _ := net.Pipe()
		return a, nil
	}
	rd.IdleTimeout = 10 * time.Millisecond
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	rd.CloseEventually()
	time.Sleep(100 * time.Millisecond)
	rd.Lock()
	conn := rd.Conn
	rd.Unlock()
	if conn != nil {
		t.Error("expected the idle connection to have been closed")
	}
}

func TestSerialWithoutConfigFails(t *testing.T) {
	rd := comm.NewRemoteDevice("/dev/null", true, nil, nil)
	if err := rd.Open(); !errors.Is(err, comm.ErrNoSerialConf) {
		t.Errorf("expected ErrNoSerialConf, got %v", err)
	}
}

func TestResetReconnects(t *testing.T) {
	var remotes []net.Conn
	rd := comm.NewRemoteDevice("reset", false, nil, nil)
	rd.Maker = func() (io.ReadWriteCloser, error) {
		a, b := net.Pipe()
		remotes = append(remotes, b)
		return a, nil
	}
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	rd.Lock()
	err := rd.Reset()
	rd.Unlock()
	if err != nil {
		t.Fatal(err)
	}
	if rd.Conn != nil {
		t.Fatal("expected Reset to drop the connection")
	}
	// the remote end of a closed pipe sees the close
	if _, err = remotes[0].Write([]byte("late ok\r\n")); err == nil {
		t.Error("expected a write to the old connection to fail")
	}
	if err = rd.Open(); err != nil {
		t.Fatal(err)
	}
	if len(remotes) != 2 {
		t.Errorf("expected Open after Reset to reconnect, made %d connections", len(remotes))
	}
	for _, r := range remotes {
		r.Close()
	}
}

// flushConn counts calls to Flush, as a serial port's driver queue would be
// discarded
type flushConn struct {
	net.Conn
	flushes int
}

func (f *flushConn) Flush() error {
	f.flushes++
	return nil
}

func TestOpenFlushesPort(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	conn := &flushConn{Conn: a}
	rd := comm.NewRemoteDevice("flushed", false, nil, nil)
	rd.Maker = func() (io.ReadWriteCloser, error) { return conn, nil }
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	if conn.flushes != 1 {
		t.Errorf("expected the port to be flushed once on open, got %d", conn.flushes)
	}
}
