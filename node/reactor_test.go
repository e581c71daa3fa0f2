//go:build linux
// +build linux

package node

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// startServer runs a server on an ephemeral port until the test ends.
func startServer(t *testing.T, cfg Config, factory ProtocolFactory) (*Server, string) {
	t.Helper()
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1000
	}
	s := NewServer(cfg)
	s.SetHandler(factory)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s, fmt.Sprintf("127.0.0.1:%d", s.Addr().Port)
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, rd *bufio.Reader, line string) string {
	t.Helper()
	_, err := io.WriteString(conn, line)
	require.NoError(t, err)
	got, err := rd.ReadString('\n')
	require.NoError(t, err)
	return got
}

func TestServerKeepAlive(t *testing.T) {
	s, addr := startServer(t, Config{}, nil)
	conn := dial(t, addr)
	rd := bufio.NewReader(conn)

	for i := 0; i < 10; i++ {
		line := fmt.Sprintf("request %d\n", i)
		assert.Equal(t, line, roundTrip(t, conn, rd, line))
	}
	assert.EqualValues(t, 1, s.UserCount())

	assert.Equal(t, "quit\n", roundTrip(t, conn, rd, "quit\n"))
	_, err := rd.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
	require.Eventually(t, func() bool { return s.UserCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerPipelinedRequests(t *testing.T) {
	_, addr := startServer(t, Config{}, nil)
	conn := dial(t, addr)
	rd := bufio.NewReader(conn)

	_, err := io.WriteString(conn, "one\ntwo\nthree\n")
	require.NoError(t, err)
	for _, want := range []string{"one\n", "two\n", "three\n"} {
		got, err := rd.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestServerSplitRequest(t *testing.T) {
	_, addr := startServer(t, Config{}, nil)
	conn := dial(t, addr)
	rd := bufio.NewReader(conn)

	_, err := io.WriteString(conn, "hel")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	// nothing may be answered for an incomplete request
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(50*time.Millisecond)))
	_, err = rd.ReadByte()
	require.Error(t, err)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	assert.Equal(t, "hello\n", roundTrip(t, conn, rd, "lo\n"))
}

func TestServerCapacity(t *testing.T) {
	s, addr := startServer(t, Config{MaxFD: 2}, nil)

	for i := 0; i < 2; i++ {
		conn := dial(t, addr)
		assert.Equal(t, "ping\n", roundTrip(t, conn, bufio.NewReader(conn), "ping\n"))
	}
	assert.EqualValues(t, 2, s.UserCount())

	extra := dial(t, addr)
	_, err := io.WriteString(extra, "ping\n")
	if err == nil {
		_, err = bufio.NewReader(extra).ReadString('\n')
	}
	assert.Error(t, err, "the connection beyond capacity is closed")
	assert.EqualValues(t, 2, s.UserCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Metrics().ConnectionsRejected.WithLabelValues("capacity")))
}

func TestServerSurvivesPeerReset(t *testing.T) {
	s, addr := startServer(t, Config{}, nil)

	for i := 0; i < 20; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		_, err = io.WriteString(conn, "abandoned request\n")
		require.NoError(t, err)
		// linger 0 makes close send RST
		require.NoError(t, conn.(*net.TCPConn).SetLinger(0))
		require.NoError(t, conn.Close())
	}

	conn := dial(t, addr)
	assert.Equal(t, "still here\n", roundTrip(t, conn, bufio.NewReader(conn), "still here\n"))
	require.Eventually(t, func() bool { return s.UserCount() == 1 }, 2*time.Second, 10*time.Millisecond)
}

// exclusiveProtocol records whether two goroutines ever process the same connection at once.
type exclusiveProtocol struct {
	inFlight *atomic.Int32
	maxSeen  *atomic.Int32
}

func (p exclusiveProtocol) Process(in []byte, out *bytes.Buffer, full bool) (int, bool, error) {
	n := p.inFlight.Inc()
	defer p.inFlight.Dec()
	for {
		seen := p.maxSeen.Load()
		if n <= seen || p.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(100 * time.Microsecond)
	return EchoProtocol{}.Process(in, out, full)
}

func TestServerSlotMutualExclusion(t *testing.T) {
	maxSeen := atomic.NewInt32(0)
	factory := func(*net.TCPAddr) Protocol {
		return exclusiveProtocol{inFlight: atomic.NewInt32(0), maxSeen: maxSeen}
	}
	s, addr := startServer(t, Config{Workers: 8}, factory)

	const (
		clients  = 16
		requests = 50
	)
	var wg sync.WaitGroup
	for c := 0; c < clients; c++ {
		conn := dial(t, addr)
		wg.Add(1)
		go func(c int, conn net.Conn) {
			defer wg.Done()
			rd := bufio.NewReader(conn)
			for i := 0; i < requests; i += 2 {
				// two lines per write, the second one split across writes
				batch := fmt.Sprintf("c%d-%d\nc%d-", c, i, c)
				if _, err := io.WriteString(conn, batch); err != nil {
					t.Error(err)
					return
				}
				if _, err := io.WriteString(conn, fmt.Sprintf("%d\n", i+1)); err != nil {
					t.Error(err)
					return
				}
				for j := 0; j < 2; j++ {
					got, err := rd.ReadString('\n')
					if err != nil {
						t.Error(err)
						return
					}
					if want := fmt.Sprintf("c%d-%d\n", c, i+j); got != want {
						t.Errorf("got %q, want %q", got, want)
						return
					}
				}
			}
		}(c, conn)
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int32(1))
	assert.Zero(t, testutil.ToFloat64(s.Metrics().OwnershipViolations))
	assert.EqualValues(t, clients, s.UserCount())
}

func TestServerShutdownClosesConnections(t *testing.T) {
	s := NewServer(Config{Workers: 2, MaxRequests: 10})
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	<-s.Ready()

	conn := dial(t, fmt.Sprintf("127.0.0.1:%d", s.Addr().Port))
	rd := bufio.NewReader(conn)
	assert.Equal(t, "hi\n", roundTrip(t, conn, rd, "hi\n"))

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err := rd.ReadByte()
	assert.Error(t, err)
	assert.EqualValues(t, 0, s.UserCount())
}

func TestServerRejectsInvalidPool(t *testing.T) {
	s := NewServer(Config{Workers: 0, MaxRequests: 10})
	err := s.Run(context.Background())

	var perr *PoolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, InvalidWorkerCount, perr.Reason)
}
