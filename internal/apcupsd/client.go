package apcupsd

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the port apcupsd's NIS listens on.
const DefaultPort = 3551

const (
	defaultTimeout = 10 * time.Second
	statusCommand  = "status"

	// maxRecord bounds a single NIS record; real status lines are < 100 bytes.
	maxRecord = 4096
)

// ErrRecordTooLarge is returned when the daemon announces a record longer
// than any legitimate status line.
var ErrRecordTooLarge = errors.New("apcupsd: record too large")

// Client fetches status reports from apcupsd. Every Poll opens its own
// connection and closes it before returning, so a Client holds no socket
// between cycles and Close is a no-op.
type Client struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
}

// NewClient returns a Client for the NIS at host:port. A zero timeout selects
// a 10 s default.
func NewClient(host string, port int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: timeout,
	}
}

// Addr returns the daemon address the client dials.
func (c *Client) Addr() string { return c.addr }

// Poll requests one status report and returns it parsed, units stripped.
func (c *Client) Poll(ctx context.Context) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to apcupsd at %s: %w", c.addr, err)
	}
	defer conn.Close() //nolint:errcheck

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("setting deadline: %w", err)
		}
	}

	if err := writeRecord(conn, statusCommand); err != nil {
		return nil, fmt.Errorf("sending %s request: %w", statusCommand, err)
	}
	lines, err := readReport(bufio.NewReader(conn))
	if err != nil {
		return nil, fmt.Errorf("reading status from %s: %w", c.addr, err)
	}
	return ParseStatus(lines), nil
}

// Close implements Source.
func (c *Client) Close() error { return nil }

// writeRecord frames payload with its 2-byte big-endian length.
func writeRecord(w io.Writer, payload string) error {
	buf := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[2:], payload)
	_, err := w.Write(buf)
	return err
}

// readReport reads length-prefixed records until the zero-length terminator.
func readReport(r io.Reader) ([]string, error) {
	var lines []string
	var hdr [2]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint16(hdr[:])
		if n == 0 {
			return lines, nil
		}
		if n > maxRecord {
			return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, n)
		}
		rec := make([]byte, n)
		if _, err := io.ReadFull(r, rec); err != nil {
			return nil, err
		}
		lines = append(lines, strings.TrimRight(string(rec), "\r\n"))
	}
}
