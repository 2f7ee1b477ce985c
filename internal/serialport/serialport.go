// Package serialport owns one TNC's serial device: opening it (with
// exponential-backoff reconnect), decoding its ingress byte stream
// into packets, and draining an egress queue onto it with PTT keying
// around each write. Both KISS and raw TNC2-text framings are
// supported, and udev hotplug events short-circuit the reopen backoff
// when a yanked USB adapter comes back.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jochenvg/go-udev"
	"github.com/pkg/term"

	"github.com/gmcintire/aprstx/internal/ax25"
	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/kiss"
	"github.com/gmcintire/aprstx/internal/logx"
	"github.com/gmcintire/aprstx/internal/packet"
	"github.com/gmcintire/aprstx/internal/ptt"
)

// Protocol selects how bytes on the wire are framed.
type Protocol int

const (
	ProtocolKISS Protocol = iota
	ProtocolTNC2Text
)

// Config parameterizes one serial port task.
type Config struct {
	ID        string
	Device    string
	Baud      int
	Protocol  Protocol
	TxEnable  bool
	RxEnable  bool
	EgressBuf int // egress queue depth; overflow drops the oldest

	// PTTLine selects RTS or DTR keying on the port's own
	// modem-control lines ("rts" or "dtr"; empty for none). Unlike an
	// injected Backend, this is bound to the open descriptor at the
	// start of each session.
	PTTLine     string
	PTTInverted bool

	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 30s
}

func (c Config) backoffBounds() (time.Duration, time.Duration) {
	min, max := c.MinBackoff, c.MaxBackoff
	if min <= 0 {
		min = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return min, max
}

// Port runs the reconnect/read/write loop for one configured serial
// device. Zero value is not usable; construct with New.
type Port struct {
	cfg Config
	ptt ptt.Backend

	ingress chan<- packet.RoutedPacket // owned by the router, written here
	egress  chan callsign.AprsPacket
}

// New creates a Port. ingress is the router's shared inbound channel;
// the Port's own egress queue is created with cfg.EgressBuf capacity.
// backend may be ptt.None{} for devices with no PTT control.
func New(cfg Config, backend ptt.Backend, ingress chan<- packet.RoutedPacket) *Port {
	if backend == nil {
		backend = ptt.None{}
	}
	buf := cfg.EgressBuf
	if buf <= 0 {
		buf = 32
	}
	return &Port{
		cfg:     cfg,
		ptt:     backend,
		ingress: ingress,
		egress:  make(chan callsign.AprsPacket, buf),
	}
}

// ID returns the configured identifier for this port.
func (p *Port) ID() string { return p.cfg.ID }

// Enqueue submits p for transmission on this port, subject to TxEnable
// and the egress queue's drop-oldest overflow policy.
func (p *Port) Enqueue(pkt callsign.AprsPacket) {
	if !p.cfg.TxEnable {
		return
	}
	select {
	case p.egress <- pkt:
		return
	default:
	}
	select {
	case <-p.egress:
	default:
	}
	select {
	case p.egress <- pkt:
	default:
	}
}

// Run owns the device for the lifetime of ctx: opens it, spawns the
// read and write loops, and reconnects with exponential backoff on
// any I/O error.
func (p *Port) Run(ctx context.Context) {
	log := logx.With("port", p.cfg.ID, "device", p.cfg.Device)
	minBackoff, maxBackoff := p.cfg.backoffBounds()
	backoff := minBackoff

	for ctx.Err() == nil {
		fd, err := p.open()
		if err != nil {
			log.Warn("open failed, retrying", "err", err, "backoff", backoff)
			if !p.waitRetry(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = minBackoff
		log.Info("opened")

		runErr := p.runSession(ctx, fd)
		fd.Close()
		if runErr != nil && ctx.Err() == nil {
			log.Warn("session ended, reopening", "err", runErr, "backoff", backoff)
			if !p.waitRetry(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
		}
	}
}

func (p *Port) open() (*term.Term, error) {
	fd, err := term.Open(p.cfg.Device, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", p.cfg.Device, err)
	}
	switch p.cfg.Baud {
	case 0:
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		if err := fd.SetSpeed(p.cfg.Baud); err != nil {
			fd.Close()
			return nil, fmt.Errorf("serialport: set speed %d on %s: %w", p.cfg.Baud, p.cfg.Device, err)
		}
	default:
		fd.Close()
		return nil, fmt.Errorf("serialport: unsupported baud %d", p.cfg.Baud)
	}
	return fd, nil
}

// runSession drives one opened file descriptor until either ctx is
// cancelled or an unrecoverable I/O error occurs, returning that error
// so Run can decide whether to reopen.
func (p *Port) runSession(ctx context.Context, fd *term.Term) error {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)

	// The read loop always runs, even with rx_enable=false: decoded
	// packets are simply dropped at delivery so the wire can still be
	// observed for debugging.
	go func() { errs <- p.readLoop(sessionCtx, fd) }()
	go func() { errs <- p.writeLoop(sessionCtx, fd, p.sessionPTT(fd)) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errs:
		return err
	}
}

func (p *Port) readLoop(ctx context.Context, fd *term.Term) error {
	dec := kiss.NewDecoder()
	var line []byte
	buf := make([]byte, 1)
	for ctx.Err() == nil {
		n, err := fd.Read(buf)
		if err != nil {
			return fmt.Errorf("serialport: read: %w", err)
		}
		if n != 1 {
			continue
		}
		switch p.cfg.Protocol {
		case ProtocolKISS:
			p.handleKISSByte(dec, buf[0])
		case ProtocolTNC2Text:
			line = p.handleTextByte(line, buf[0])
		}
	}
	return ctx.Err()
}

func (p *Port) handleKISSByte(dec *kiss.Decoder, b byte) {
	frame, ferr := dec.Feed(b)
	if ferr != nil {
		logx.Debug("kiss framing error", "port", p.cfg.ID, "err", ferr.Reason)
		return
	}
	if frame == nil || frame.Command != kiss.CmdDataFrame {
		return
	}
	axf, err := ax25.Decode(frame.Payload)
	if err != nil {
		logx.Debug("ax25 decode error", "port", p.cfg.ID, "err", err)
		return
	}
	p.deliver(fromAX25(axf))
}

// handleTextByte accumulates bytes into line until a newline, then
// parses and delivers the completed TNC2 text line, returning the
// (possibly reset) buffer for the next call.
func (p *Port) handleTextByte(line []byte, b byte) []byte {
	if b == '\n' {
		text := string(line)
		if len(text) > 0 && text[len(text)-1] == '\r' {
			text = text[:len(text)-1]
		}
		if len(text) > 0 {
			pkt, err := callsign.Parse(text)
			if err != nil {
				logx.Debug("tnc2 parse error", "port", p.cfg.ID, "err", err)
			} else {
				p.deliver(pkt)
			}
		}
		return line[:0]
	}
	return append(line, b)
}

func fromAX25(f ax25.Frame) callsign.AprsPacket {
	return callsign.AprsPacket{
		Source:      f.Source,
		Destination: f.Destination,
		Path:        f.Digis,
		Payload:     f.Payload,
	}
}

func (p *Port) deliver(pkt callsign.AprsPacket) {
	if !p.cfg.RxEnable {
		return
	}
	rp := packet.NewRoutedPacket(pkt, packet.FromSerialPort(p.cfg.ID), time.Now())
	select {
	case p.ingress <- rp:
	default:
		logx.Debug("ingress saturated, dropping", "port", p.cfg.ID)
	}
}

// sessionPTT returns the keying backend for one opened device: the
// configured RTS/DTR line of the device itself, or the injected
// backend otherwise.
func (p *Port) sessionPTT(fd *term.Term) ptt.Backend {
	if p.cfg.PTTLine != "" {
		return ptt.NewRTSDTR(fd, p.cfg.PTTLine == "rts", p.cfg.PTTInverted)
	}
	return p.ptt
}

func (p *Port) writeLoop(ctx context.Context, fd *term.Term, key ptt.Backend) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt := <-p.egress:
			if err := p.transmit(fd, key, pkt); err != nil {
				return err
			}
		}
	}
}

func (p *Port) transmit(fd *term.Term, key ptt.Backend, pkt callsign.AprsPacket) error {
	raw, err := p.encode(pkt)
	if err != nil {
		logx.Debug("encode error, dropping", "port", p.cfg.ID, "err", err)
		return nil
	}

	if err := key.Assert(); err != nil {
		return fmt.Errorf("serialport: ptt assert: %w", err)
	}
	defer key.Release()

	written, err := fd.Write(raw)
	if err != nil || written != len(raw) {
		if err == nil {
			err = errors.New("short write")
		}
		return fmt.Errorf("serialport: write: %w", err)
	}
	return nil
}

func (p *Port) encode(pkt callsign.AprsPacket) ([]byte, error) {
	switch p.cfg.Protocol {
	case ProtocolKISS:
		axf := ax25.Frame{Destination: pkt.Destination, Source: pkt.Source, Digis: pkt.Path, Payload: pkt.Payload}
		raw, err := ax25.Encode(axf)
		if err != nil {
			return nil, err
		}
		return kiss.Encode(0, raw), nil
	case ProtocolTNC2Text:
		return append([]byte(pkt.String()), '\r', '\n'), nil
	default:
		return nil, fmt.Errorf("unknown protocol %d", p.cfg.Protocol)
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

// waitRetry waits out one reopen backoff, returning early when udev
// reports the configured device node appearing, so a replugged USB
// adapter is reopened immediately instead of waiting the rest of the
// backoff. Returns false when ctx was cancelled.
func (p *Port) waitRetry(ctx context.Context, backoff time.Duration) bool {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	appeared := make(chan struct{})
	go func() {
		// A monitor setup failure (no udev on this system) just means
		// the timer below is the only wake-up source.
		if WaitForDevice(waitCtx, p.cfg.Device) == nil {
			close(appeared)
		}
	}()

	t := time.NewTimer(backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-appeared:
		return true
	case <-t.C:
		return true
	}
}

// WaitForDevice blocks until path appears as a udev device node or
// ctx is cancelled, for serial adapters that are hot-plugged after
// the daemon starts.
func WaitForDevice(ctx context.Context, path string) error {
	u := udev.Udev{}
	mon := u.NewMonitorFromNetlink("udev")
	if err := mon.FilterAddMatchSubsystemDevtype("tty", ""); err != nil {
		return fmt.Errorf("serialport: udev filter: %w", err)
	}

	ch, errCh, err := mon.DeviceChan(ctx)
	if err != nil {
		return fmt.Errorf("serialport: udev monitor: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return fmt.Errorf("serialport: udev monitor: %w", err)
		case dev, ok := <-ch:
			if !ok {
				return ctx.Err()
			}
			if dev.Devnode() == path {
				return nil
			}
		}
	}
}
