package readers

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"observatory-collector/internal/config"
	"observatory-collector/internal/health"
)

// sqmScript answers one command on the n-th accepted connection (0-based).
// Returning hangup closes the connection without answering.
type sqmScript func(conn int, cmd string) (reply string, hangup bool)

type fakeSQM struct {
	ln     net.Listener
	script sqmScript

	mu    sync.Mutex
	conns int
}

func startFakeSQM(t *testing.T, script sqmScript) *fakeSQM {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSQM{ln: ln, script: script}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			f.mu.Lock()
			n := f.conns
			f.conns++
			f.mu.Unlock()
			go f.serve(c, n)
		}
	}()
	return f
}

func (f *fakeSQM) serve(c net.Conn, n int) {
	defer c.Close()
	buf := make([]byte, 2)
	for {
		if _, err := io.ReadFull(c, buf); err != nil {
			return
		}
		reply, hangup := f.script(n, string(buf))
		if hangup {
			return
		}
		if _, err := io.WriteString(c, reply); err != nil {
			return
		}
	}
}

func (f *fakeSQM) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

// newTestSQM points a reader configured for host at the fake server.
func newTestSQM(t *testing.T, host string, f *fakeSQM, sink Sink) *SQM {
	t.Helper()
	r := NewSQM(config.Device{Type: config.DeviceSQM, Host: host, Port: 10001, Interval: time.Minute, Slot: 1}, 2*time.Second, sink)
	d := &net.Dialer{Timeout: 2 * time.Second}
	r.dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
		return d.DialContext(ctx, network, f.ln.Addr().String())
	}
	t.Cleanup(r.close)
	return r
}

const rxReply = "r, 19.52m,0000005915Hz,0000000000c,0000000.000s, 027.0C\r\n"

func TestSQM_PromotesToSerial(t *testing.T) {
	f := startFakeSQM(t, func(conn int, cmd string) (string, bool) {
		switch {
		case cmd == "ix" && conn == 0:
			return "?\r\n", false
		case cmd == "ix":
			return "i,00000002,00000003,00000001,00000041\r\n", false
		case cmd == "rx" && conn == 0:
			return rxReply, false
		default:
			return "r, 20.10m,0000005915Hz,0000000000c,0000000.000s, 026.5C\r\n", false
		}
	})
	sink, _ := newTestSink()
	r := newTestSQM(t, "192.168.1.5", f, sink)
	ctx := context.Background()

	// First connection: serial lookup fails, reading stored under the address code.
	require.NoError(t, r.Poll(ctx))
	assert.Equal(t, "sqm-192-168-1-5", r.Code())
	provisional := sink.Store.Get("sqm-192-168-1-5")
	require.NotNil(t, provisional.SkyQuality)
	assert.Equal(t, 19.52, *provisional.SkyQuality)
	assert.Equal(t, 27.0, *provisional.SQMTemperature)

	// Drop the connection so the next poll reconnects and retries the lookup.
	r.close()
	require.NoError(t, r.Poll(ctx))
	assert.Equal(t, "sqm-41", r.Code())
	require.NoError(t, r.Poll(ctx))

	promoted := sink.Store.Get("sqm-41")
	require.NotNil(t, promoted.SkyQuality)
	assert.Equal(t, 20.10, *promoted.SkyQuality)

	assert.Equal(t, []string{"sqm-192-168-1-5", "sqm-41"}, sink.Store.Codes())
	assert.Equal(t, provisional.Timestamp, sink.Store.Get("sqm-192-168-1-5").Timestamp,
		"address-derived entry must not be written after promotion")
	assert.Equal(t, 2, f.connections())
}

func TestSQM_NeverRegressesAfterPromotion(t *testing.T) {
	f := startFakeSQM(t, func(conn int, cmd string) (string, bool) {
		if cmd == "ix" {
			if conn == 0 {
				return "i,00000002,00000003,00000001,00000413\r\n", false
			}
			return "i,00000002,00000003,00000001,00000999\r\n", false
		}
		return rxReply, false
	})
	sink, _ := newTestSink()
	r := newTestSQM(t, "10.0.0.9", f, sink)

	require.NoError(t, r.Poll(context.Background()))
	assert.Equal(t, "sqm-413", r.Code())

	r.close()
	require.NoError(t, r.Poll(context.Background()))
	assert.Equal(t, "sqm-413", r.Code(), "a promoted reader does not look up the serial again")
	assert.Equal(t, []string{"sqm-413"}, sink.Store.Codes())
}

func TestSQM_LateSerialReplyDoesNotDesyncStream(t *testing.T) {
	f := startFakeSQM(t, func(conn int, cmd string) (string, bool) {
		switch {
		case cmd == "ix" && conn == 0:
			time.Sleep(400 * time.Millisecond)
			return "i,00000002,00000003,00000001,00000041\r\n", false
		case cmd == "ix":
			return "i,00000002,00000003,00000001,00000041\r\n", false
		default:
			return rxReply, false
		}
	})
	sink, _ := newTestSink()
	r := newTestSQM(t, "192.168.1.5", f, sink)
	r.timeout = 250 * time.Millisecond
	ctx := context.Background()

	// The lookup times out: the reading comes from a fresh connection and is
	// not a health failure.
	require.NoError(t, r.Poll(ctx))
	assert.Equal(t, "sqm-192-168-1-5", r.Code())
	assert.Equal(t, 0.0, sink.Health.FailureRate("sqm-192-168-1-5"))
	reading := sink.Store.Get("sqm-192-168-1-5")
	require.NotNil(t, reading.SkyQuality)
	assert.Equal(t, 19.52, *reading.SkyQuality)

	// The next poll reconnects and the lookup succeeds.
	require.NoError(t, r.Poll(ctx))
	assert.Equal(t, "sqm-41", r.Code())
	assert.Equal(t, 0.0, sink.Health.FailureRate("sqm-41"))
	assert.Equal(t, 3, f.connections())

	require.NoError(t, r.Poll(ctx))
	assert.Equal(t, 3, f.connections(), "a promoted reader keeps its connection")
}

func TestSQM_InvalidReadingDropsConnection(t *testing.T) {
	f := startFakeSQM(t, func(conn int, cmd string) (string, bool) {
		switch {
		case cmd == "ix":
			return "i,00000002,00000003,00000001,00000007\r\n", false
		case conn == 0:
			return "x,garbage\r\n", false
		default:
			return rxReply, false
		}
	})
	sink, _ := newTestSink()
	r := newTestSQM(t, "10.0.0.7", f, sink)
	ctx := context.Background()

	err := r.Poll(ctx)
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, 1.0, sink.Health.FailureRate("sqm-7"))

	require.NoError(t, r.Poll(ctx))
	assert.Equal(t, 2, f.connections())
	assert.Equal(t, 0.5, sink.Health.FailureRate("sqm-7"))
}

func TestSQM_ConnectionLossRecordsFailureAndReconnects(t *testing.T) {
	f := startFakeSQM(t, func(conn int, cmd string) (string, bool) {
		if cmd == "ix" {
			return "i,00000002,00000003,00000001,00000007\r\n", false
		}
		if conn == 0 {
			return "", true
		}
		return rxReply, false
	})
	sink, obs := newTestSink()
	r := newTestSQM(t, "10.0.0.7", f, sink)
	ctx := context.Background()

	require.Error(t, r.Poll(ctx))
	assert.Equal(t, 1.0, sink.Health.FailureRate("sqm-7"))
	assert.Empty(t, sink.Store.Codes())

	require.NoError(t, r.Poll(ctx))
	assert.Equal(t, 0.5, sink.Health.FailureRate("sqm-7"))
	assert.Equal(t, 2, f.connections())
	assert.Equal(t, []pollRecord{{KindSQM, false}, {KindSQM, true}}, obs.all())
}

func TestSQM_UnreachableIsHealthFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	sink, _ := newTestSink()
	r := NewSQM(config.Device{Type: config.DeviceSQM, Host: "127.0.0.1", Port: addr.Port, Interval: time.Minute}, time.Second, sink)

	for i := 0; i < 3; i++ {
		require.Error(t, r.Poll(context.Background()))
	}
	assert.Equal(t, health.Offline, sink.Health.Status("sqm-127-0-0-1"))
	assert.False(t, r.id.Promoted())
}

func TestParseSQMSerial(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "i,00000002,00000003,00000001,00000413", want: "413"},
		{in: "i,00000002,00000003,00000001,00000000", want: "0"},
		{in: "i,00000002,00000003,00000001, 00041 ", want: "41"},
		{in: "i,00000002,00000003", want: ""},
		{in: "r, 19.52m", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseSQMSerial(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidResponse, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseSQMReading(t *testing.T) {
	f, err := ParseSQMReading("r, 19.52m,0000005915Hz,0000000000c,0000000.000s, 027.0C")
	require.NoError(t, err)
	assert.Equal(t, 19.52, *f.SkyQuality)
	assert.Equal(t, 27.0, *f.SQMTemperature)

	f, err = ParseSQMReading("r,-00.42m,0000005915Hz")
	require.NoError(t, err)
	assert.Equal(t, -0.42, *f.SkyQuality)
	assert.Nil(t, f.SQMTemperature)

	for _, bad := range []string{"x, 19.52m", "r,", "r, abcm, 027.0C"} {
		_, err := ParseSQMReading(bad)
		assert.ErrorIs(t, err, ErrInvalidResponse, bad)
	}
}
