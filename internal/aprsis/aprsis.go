// Package aprsis implements the persistent TCP client for an APRS-IS
// backbone server: login, logresp verification, heartbeat keepalive,
// idle-timeout and error reconnect with backoff, and framing
// TNC2-text lines in both directions.
package aprsis

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/logx"
	"github.com/gmcintire/aprstx/internal/packet"
)

// State is the client's connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggingIn
	StateActive
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggingIn:
		return "logging_in"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

// Config parameterizes one APRS-IS client connection.
type Config struct {
	Server   string
	Port     int
	Callsign string
	Passcode string
	Filter   string

	TxEnable bool
	RxEnable bool

	// ConnectTimeout bounds dialing the server, default 10s.
	ConnectTimeout time.Duration
	// LoginTimeout bounds waiting for the server's logresp line,
	// default 15s.
	LoginTimeout time.Duration
	// KeepaliveInterval is how often a "#" comment is sent when the
	// write side is otherwise idle, default 30s.
	KeepaliveInterval time.Duration
	// ReadIdleTimeout returns the client to Disconnected if no bytes
	// arrive for this long, default 120s.
	ReadIdleTimeout time.Duration
	// MinBackoff/MaxBackoff bound the reconnect exponential backoff,
	// default 1s/300s.
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// StaleAfter drops packets that sat in the egress queue this long
	// while disconnected, so a reconnect does not replay old traffic.
	// Default 60s.
	StaleAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 15 * time.Second
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 120 * time.Second
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 300 * time.Second
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 60 * time.Second
	}
	return c
}

// queuedPacket remembers when a packet was submitted so a stale
// pending send can be dropped per the at-most-once policy.
type queuedPacket struct {
	pkt      callsign.AprsPacket
	queuedAt time.Time
}

// Client is the persistent APRS-IS connection. The zero value is not
// usable; construct with New.
type Client struct {
	cfg Config

	egress chan queuedPacket

	stateCh chan State
}

// New creates a Client. egressBuf sizes its outbound packet queue.
func New(cfg Config, egressBuf int) *Client {
	if egressBuf <= 0 {
		egressBuf = 64
	}
	return &Client{
		cfg:     cfg.withDefaults(),
		egress:  make(chan queuedPacket, egressBuf),
		stateCh: make(chan State, 1),
	}
}

// Enqueue submits p for transmission to the server, subject to
// TxEnable and drop-oldest overflow on a saturated queue.
func (c *Client) Enqueue(p callsign.AprsPacket) {
	if !c.cfg.TxEnable {
		return
	}
	qp := queuedPacket{pkt: p, queuedAt: time.Now()}
	select {
	case c.egress <- qp:
		return
	default:
	}
	select {
	case <-c.egress:
	default:
	}
	select {
	case c.egress <- qp:
	default:
	}
}

// States returns a channel of state transitions, most recent pending
// transition only (buffered 1, overwritten), for health reporting.
func (c *Client) States() <-chan State { return c.stateCh }

func (c *Client) setState(s State) {
	select {
	case <-c.stateCh:
	default:
	}
	c.stateCh <- s
}

// Run owns the connection for the lifetime of ctx, reconnecting with
// exponential backoff whenever the socket drops.
func (c *Client) Run(ctx context.Context, ingress chan<- packet.RoutedPacket) {
	log := logx.With("component", "aprsis", "server", c.cfg.Server)
	backoff := c.cfg.MinBackoff

	for ctx.Err() == nil {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			log.Warn("connect failed, retrying", "err", err, "backoff", backoff)
			c.setState(StateDisconnected)
			if !sleepCtx(ctx, jitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
			continue
		}

		reader := bufio.NewReaderSize(conn, 1024)

		c.setState(StateLoggingIn)
		verified, pending, err := c.login(conn, reader)
		if err != nil {
			log.Warn("login failed, retrying", "err", err, "backoff", backoff)
			conn.Close()
			c.setState(StateDisconnected)
			if !sleepCtx(ctx, jitter(backoff)) {
				return
			}
			backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
			continue
		}
		backoff = c.cfg.MinBackoff

		log.Info("connected and logged in", "verified", verified)
		c.setState(StateActive)
		if pending != "" && c.cfg.RxEnable {
			c.handleLine(pending, ingress, log)
		}
		if err := c.session(ctx, conn, reader, verified, ingress, log); err != nil && ctx.Err() == nil {
			log.Warn("session ended, reconnecting", "err", err)
		}
		conn.Close()
		c.setState(StateDisconnected)
		if !sleepCtx(ctx, jitter(backoff)) {
			return
		}
		backoff = nextBackoff(backoff, c.cfg.MaxBackoff)
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	addr := net.JoinHostPort(c.cfg.Server, fmt.Sprintf("%d", c.cfg.Port))
	d := net.Dialer{}
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("aprsis: dial %s: %w", addr, err)
	}
	return conn, nil
}

// loginLine builds the "user CALL pass PASS vers ... filter ..."
// APRS-IS login command.
func (c *Client) loginLine() string {
	line := fmt.Sprintf("user %s pass %s vers aprstx 1.0", c.cfg.Callsign, c.cfg.Passcode)
	if c.cfg.Filter != "" {
		line += " filter " + c.cfg.Filter
	}
	return line
}

// login sends the login line and waits up to LoginTimeout for a
// "# logresp ... verified|unverified" banner line. It returns whether
// the server verified the passcode; an unverified login is accepted
// (read-only), not treated as an error. If a server skips straight to
// data without a banner, that line is treated as an implicit verify
// and handed back as pending so the read loop processes it rather
// than losing it.
func (c *Client) login(conn net.Conn, r *bufio.Reader) (verified bool, pending string, err error) {
	if _, err := fmt.Fprintf(conn, "%s\r\n", c.loginLine()); err != nil {
		return false, "", fmt.Errorf("aprsis: send login: %w", err)
	}

	deadline := time.Now().Add(c.cfg.LoginTimeout)
	for {
		conn.SetReadDeadline(deadline)
		raw, err := r.ReadString('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return false, "", fmt.Errorf("aprsis: no logresp within %s", c.cfg.LoginTimeout)
			}
			return false, "", fmt.Errorf("aprsis: logresp: %w", err)
		}
		line := strings.TrimRight(raw, "\r\n")
		if !strings.HasPrefix(line, "#") {
			return true, line, nil
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "logresp") {
			switch {
			case strings.Contains(lower, "unverified"):
				return false, "", nil
			case strings.Contains(lower, "verified"):
				return true, "", nil
			}
		}
	}
}

// session runs the read loop and the keepalive/write loop
// concurrently until either errors out or ctx is cancelled. verified
// gates whether queued packets are actually written; an unverified
// login stays connected read-only.
func (c *Client) session(ctx context.Context, conn net.Conn, r *bufio.Reader, verified bool, ingress chan<- packet.RoutedPacket, log *logx.Logger) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- c.readLoop(sessionCtx, conn, r, ingress, log) }()
	go func() { errs <- c.writeLoop(sessionCtx, conn, verified) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn, r *bufio.Reader, ingress chan<- packet.RoutedPacket, log *logx.Logger) error {
	if !c.cfg.RxEnable {
		<-ctx.Done()
		return nil
	}
	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadIdleTimeout))
		raw, err := r.ReadString('\n')
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return fmt.Errorf("aprsis: idle timeout (%s)", c.cfg.ReadIdleTimeout)
			}
			return fmt.Errorf("aprsis: read: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		c.handleLine(strings.TrimRight(raw, "\r\n"), ingress, log)
	}
}

func (c *Client) handleLine(line string, ingress chan<- packet.RoutedPacket, log *logx.Logger) {
	if line == "" || strings.HasPrefix(line, "#") {
		log.Debug("server comment", "line", line)
		return
	}
	pkt, err := callsign.Parse(line)
	if err != nil {
		log.Debug("unparseable line from server", "err", err)
		return
	}
	rp := packet.NewRoutedPacket(pkt, packet.FromAprsIs(), time.Now())
	select {
	case ingress <- rp:
	default:
		log.Debug("ingress saturated, dropping")
	}
}

func (c *Client) writeLoop(ctx context.Context, conn net.Conn, verified bool) error {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(conn, "#\r\n"); err != nil {
				return fmt.Errorf("aprsis: keepalive: %w", err)
			}
		case qp := <-c.egress:
			if !verified {
				continue
			}
			if time.Since(qp.queuedAt) > c.cfg.StaleAfter {
				continue // at-most-once: drop stale queued packet
			}
			if _, err := fmt.Fprintf(conn, "%s\r\n", qp.pkt.String()); err != nil {
				return fmt.Errorf("aprsis: write: %w", err)
			}
			ticker.Reset(c.cfg.KeepaliveInterval)
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// jitter spreads a backoff duration by +/-25%.
func jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * delta
	return time.Duration(float64(d) + offset)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
