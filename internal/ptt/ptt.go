// Package ptt selects and drives a transmit-key backend: the serial
// port's own RTS/DTR control lines, a GPIO line on a Linux gpiochip,
// or Hamlib/CAT rig control. Exactly one backend is asserted before
// an egress write begins and released once it completes.
package ptt

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"github.com/xylo04/goHamlib"
	"golang.org/x/sys/unix"
)

// Backend keys and unkeys a transmitter. Assert and Release must be
// safe to call from the single serial-port task that owns them; no
// backend here is shared across goroutines.
type Backend interface {
	Assert() error
	Release() error
	Close() error
}

// None is the no-op backend for ports with no PTT control (VOX, or a
// software modem that doesn't need one).
type None struct{}

func (None) Assert() error  { return nil }
func (None) Release() error { return nil }
func (None) Close() error   { return nil }

// rtsDtrFD is the subset of a serial port's file descriptor access
// this backend needs; *os.File and github.com/pkg/term's *term.Term
// both satisfy it via Fd().
type rtsDtrFD interface {
	Fd() uintptr
}

// RTSDTR keys PTT via the RTS or DTR modem control line of the same
// serial port used for TNC data. No GPIO or Hamlib dependency is
// needed for this method.
type RTSDTR struct {
	f        rtsDtrFD
	useRTS   bool // false selects DTR
	inverted bool
}

// NewRTSDTR returns a Backend driving the RTS line (useRTS true) or
// the DTR line (false) of f. inverted swaps the asserted polarity for
// interface hardware that keys on the opposite transition.
func NewRTSDTR(f rtsDtrFD, useRTS, inverted bool) *RTSDTR {
	return &RTSDTR{f: f, useRTS: useRTS, inverted: inverted}
}

func (r *RTSDTR) set(on bool) error {
	if r.inverted {
		on = !on
	}
	fd := int(r.f.Fd())
	bit := unix.TIOCM_DTR
	if r.useRTS {
		bit = unix.TIOCM_RTS
	}
	stuff, err := unix.IoctlGetInt(fd, unix.TIOCMGET)
	if err != nil {
		return fmt.Errorf("ptt: TIOCMGET: %w", err)
	}
	if on {
		stuff |= bit
	} else {
		stuff &^= bit
	}
	if err := unix.IoctlSetPointerInt(fd, unix.TIOCMSET, stuff); err != nil {
		return fmt.Errorf("ptt: TIOCMSET: %w", err)
	}
	return nil
}

func (r *RTSDTR) Assert() error  { return r.set(true) }
func (r *RTSDTR) Release() error { return r.set(false) }
func (r *RTSDTR) Close() error   { return r.set(false) }

// GPIO keys PTT via a line on a Linux gpiochip character device.
type GPIO struct {
	line     *gpiocdev.Line
	inverted bool
}

// NewGPIO requests chip's line offset as an output, initially
// de-asserted. inverted matches hardware that pulls the line low to
// key the transmitter.
func NewGPIO(chip string, offset int, inverted bool) (*GPIO, error) {
	initial := 0
	if inverted {
		initial = 1
	}
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(initial))
	if err != nil {
		return nil, fmt.Errorf("ptt: gpio request %s:%d: %w", chip, offset, err)
	}
	return &GPIO{line: line, inverted: inverted}, nil
}

func (g *GPIO) set(on bool) error {
	if g.inverted {
		on = !on
	}
	v := 0
	if on {
		v = 1
	}
	return g.line.SetValue(v)
}

func (g *GPIO) Assert() error  { return g.set(true) }
func (g *GPIO) Release() error { return g.set(false) }
func (g *GPIO) Close() error {
	_ = g.set(false)
	return g.line.Close()
}

// Hamlib keys PTT through a CAT-controlled radio via Hamlib rig
// control.
type Hamlib struct {
	rig goHamlib.Rig
}

// NewHamlib opens a rig of the given Hamlib model number on device
// (e.g. "/dev/ttyUSB1" for a CAT serial link).
func NewHamlib(rigModel int, device string) (*Hamlib, error) {
	h := &Hamlib{}
	if err := h.rig.Init(rigModel); err != nil {
		return nil, fmt.Errorf("ptt: hamlib init model %d: %w", rigModel, err)
	}
	if err := h.rig.SetConf("rig_pathname", device); err != nil {
		return nil, fmt.Errorf("ptt: hamlib set rig_pathname %s: %w", device, err)
	}
	if err := h.rig.Open(); err != nil {
		return nil, fmt.Errorf("ptt: hamlib open model %d on %s: %w", rigModel, device, err)
	}
	return h, nil
}

func (h *Hamlib) Assert() error {
	return h.rig.SetPtt(goHamlib.VFOCurrent, goHamlib.PttOn)
}

func (h *Hamlib) Release() error {
	return h.rig.SetPtt(goHamlib.VFOCurrent, goHamlib.PttOff)
}

func (h *Hamlib) Close() error {
	_ = h.Release()
	return h.rig.Close()
}
