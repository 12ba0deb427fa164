package readers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"observatory-collector/internal/config"
	"observatory-collector/internal/identity"
	"observatory-collector/internal/schedule"
	"observatory-collector/internal/store"
)

var ErrInvalidResponse = errors.New("invalid response")

// SQM reads an Unihedron SQM-LE sky quality meter over its TCP port. The
// connection is kept open between polls and re-dialled after any error.
type SQM struct {
	host     string
	addr     string
	slot     int
	interval time.Duration
	timeout  time.Duration
	id       *identity.Resolver
	sink     Sink
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)

	conn net.Conn
	rd   *bufio.Reader
	// relookup drops the connection after the next reading so the serial
	// lookup is retried on a fresh stream.
	relookup bool
}

func NewSQM(dev config.Device, timeout time.Duration, sink Sink) *SQM {
	d := &net.Dialer{Timeout: timeout}
	return &SQM{
		host:     dev.Host,
		addr:     dev.Addr(),
		slot:     dev.Slot,
		interval: dev.Interval,
		timeout:  timeout,
		id:       identity.New(KindSQM, dev.Host),
		sink:     sink,
		dial:     d.DialContext,
	}
}

// Code is the instrument code currently used for this meter.
func (r *SQM) Code() string {
	return r.id.Code()
}

func (r *SQM) Run(ctx context.Context) error {
	r.sink.Logger.Info("starting sqm reader", "slot", r.slot, "addr", r.addr)
	defer r.close()
	return schedule.Every(ctx, 0, r.interval, func(ctx context.Context) {
		_ = r.Poll(ctx)
	})
}

// Poll performs one read cycle, connecting first if needed.
func (r *SQM) Poll(ctx context.Context) error {
	started := time.Now()

	if r.conn == nil {
		if err := r.connect(ctx); err != nil {
			r.sink.fail(KindSQM, r.id.Code(), err, started)
			return err
		}
	}

	line, err := r.command("rx")
	if err != nil {
		r.close()
		r.sink.fail(KindSQM, r.id.Code(), err, started)
		return err
	}

	fields, err := ParseSQMReading(line)
	if err != nil {
		r.close()
		r.sink.fail(KindSQM, r.id.Code(), err, started)
		return err
	}
	r.sink.publish(KindSQM, r.id.Code(), fields, started)
	if r.relookup {
		r.relookup = false
		r.close()
	}
	return nil
}

func (r *SQM) connect(ctx context.Context) error {
	r.relookup = false
	if err := r.dialConn(ctx); err != nil {
		return err
	}
	if r.id.Promoted() {
		return nil
	}
	code, err := r.id.Resolve(ctx, r.serial)
	switch {
	case errors.Is(err, ErrInvalidResponse):
		r.sink.Logger.Warn("sqm serial lookup failed, retrying on next connection",
			"addr", r.addr, "instrument", code, "error", err)
	case err != nil:
		// A late reply would be read as the answer to the next command.
		r.sink.Logger.Warn("sqm serial lookup failed, redialling",
			"addr", r.addr, "instrument", code, "error", err)
		r.close()
		r.relookup = true
		return r.dialConn(ctx)
	case code == identity.AddressCode(KindSQM, r.host):
		r.sink.Logger.Info("sqm has no serial, using address code", "addr", r.addr, "instrument", code)
	default:
		r.sink.Logger.Info("sqm identified", "addr", r.addr, "instrument", code)
	}
	return nil
}

func (r *SQM) dialConn(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn, err := r.dial(dialCtx, "tcp", r.addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", r.addr, err)
	}
	r.conn = conn
	r.rd = bufio.NewReader(conn)
	r.sink.Logger.Info("sqm connected", "addr", r.addr)
	return nil
}

func (r *SQM) serial(context.Context) (string, error) {
	line, err := r.command("ix")
	if err != nil {
		return "", err
	}
	return ParseSQMSerial(line)
}

// command sends a two-letter SQM command and reads one response line.
func (r *SQM) command(cmd string) (string, error) {
	if err := r.conn.SetDeadline(time.Now().Add(r.timeout)); err != nil {
		return "", fmt.Errorf("set deadline: %w", err)
	}
	if _, err := io.WriteString(r.conn, cmd); err != nil {
		return "", fmt.Errorf("send %s: %w", cmd, err)
	}
	line, err := r.rd.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read %s response: %w", cmd, err)
	}
	return strings.TrimSpace(line), nil
}

func (r *SQM) close() {
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
		r.rd = nil
	}
}

// ParseSQMSerial extracts the serial number from an "ix" response such as
// "i,00000002,00000003,00000001,00000413". Leading zeros are dropped. A unit
// information response without a serial field yields "".
func ParseSQMSerial(line string) (string, error) {
	if !strings.HasPrefix(line, "i,") {
		return "", fmt.Errorf("%w to ix: %q", ErrInvalidResponse, line)
	}
	parts := strings.Split(line, ",")
	if len(parts) < 5 {
		return "", nil
	}
	serial := strings.TrimLeft(strings.TrimSpace(parts[4]), "0")
	if serial == "" {
		serial = "0"
	}
	return serial, nil
}

// ParseSQMReading parses an "rx" response such as
// "r, 19.52m,0000005915Hz,0000000000c,0000000.000s, 027.0C".
func ParseSQMReading(line string) (store.Fields, error) {
	var f store.Fields
	if !strings.HasPrefix(line, "r,") {
		return f, fmt.Errorf("%w to rx: %q", ErrInvalidResponse, line)
	}
	parts := strings.Split(line, ",")
	if len(parts) < 2 {
		return f, fmt.Errorf("%w to rx: %q", ErrInvalidResponse, line)
	}

	mag, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(parts[1]), "m"), 64)
	if err != nil {
		return f, fmt.Errorf("%w: magnitude %q", ErrInvalidResponse, parts[1])
	}
	f.SkyQuality = store.Float(mag)

	if len(parts) > 2 {
		last := strings.TrimSpace(parts[len(parts)-1])
		if t, ok := strings.CutSuffix(last, "C"); ok {
			if v, err := strconv.ParseFloat(t, 64); err == nil {
				f.SQMTemperature = store.Float(v)
			}
		}
	}
	return f, nil
}
