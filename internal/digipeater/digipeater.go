// Package digipeater implements WIDEn-N path rewriting, viscous-delay
// buffering, and loop avoidance for RF-to-RF packet repeating.
package digipeater

import (
	"strings"
	"sync"
	"time"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/packet"
)

// Config parameterizes one digipeater instance.
type Config struct {
	MyCall       callsign.Callsign
	Aliases      []string // configured literal aliases, consumed-and-replaced
	MaxHops      int
	ViscousDelay time.Duration
}

// pendingEntry is a packet held for ViscousDelay awaiting confirmation
// that no other digipeater has already covered the area.
type pendingEntry struct {
	rewritten       callsign.AprsPacket
	releaseAt       time.Time
	otherCopiesSeen int
	timer           *time.Timer
}

// Digipeater evaluates eligibility, rewrites paths, and manages the
// viscous-delay pending table. The pending table and all mutable
// state live here, never touched directly by other tasks.
type Digipeater struct {
	cfg Config

	mu      sync.Mutex
	pending map[packet.Fingerprint]*pendingEntry

	releases chan packet.RoutedPacket
}

// New creates a Digipeater. releaseBuf sizes the one-way channel back
// into the router's ingress (the design notes' break for the cyclic
// router<->digipeater reference).
func New(cfg Config, releaseBuf int) *Digipeater {
	return &Digipeater{
		cfg:      cfg,
		pending:  make(map[packet.Fingerprint]*pendingEntry),
		releases: make(chan packet.RoutedPacket, releaseBuf),
	}
}

// Releases returns the channel on which viscous-delayed (and, for
// ViscousDelay==0, immediately rewritten) packets are re-emitted for the
// router to treat as a fresh ingress under Internal(digipeated).
func (d *Digipeater) Releases() <-chan packet.RoutedPacket { return d.releases }

// Eligible reports whether a packet's current path warrants a
// retransmission, and if so returns the rewritten packet. It mutates
// no state; Submit layers the viscous-delay bookkeeping on top.
func Eligible(cfg Config, p callsign.AprsPacket) (callsign.AprsPacket, bool) {
	if len(p.Path) == 0 {
		return callsign.AprsPacket{}, false
	}

	idx := -1
	for i, el := range p.Path {
		if !el.Consumed() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return callsign.AprsPacket{}, false
	}

	// Loop prevention: mycall must not already appear as a used element.
	for _, el := range p.Path {
		if !el.Wide && el.Used && el.Call.Equal(cfg.MyCall) {
			return callsign.AprsPacket{}, false
		}
	}

	// Used-prefix cap.
	usedPrefix := 0
	for _, el := range p.Path[:idx] {
		if el.Consumed() {
			usedPrefix++
		}
	}
	if cfg.MaxHops > 0 && usedPrefix >= cfg.MaxHops {
		return callsign.AprsPacket{}, false
	}

	el := p.Path[idx]
	result := p.Clone()

	switch {
	case !el.Wide && el.Call.Equal(cfg.MyCall):
		// Explicit use of our own call: mark used in place.
		result.Path[idx].Used = true

	case !el.Wide && isAlias(cfg.Aliases, el.Call.Base):
		// Configured literal alias: replace with mycall, marked used.
		result.Path[idx] = callsign.NewLiteral(cfg.MyCall, true)

	case el.Wide && el.WideH > 0:
		newH := el.WideH - 1
		rewritten := callsign.PathElement{Wide: true, WideN: el.WideN, WideH: newH, Used: newH == 0}
		mycallEl := callsign.NewLiteral(cfg.MyCall, true)

		newPath := make([]callsign.PathElement, 0, len(result.Path)+1)
		newPath = append(newPath, result.Path[:idx]...)
		newPath = append(newPath, mycallEl, rewritten)
		newPath = append(newPath, result.Path[idx+1:]...)
		result.Path = newPath

	default:
		return callsign.AprsPacket{}, false
	}

	return result, true
}

func isAlias(aliases []string, base string) bool {
	for _, a := range aliases {
		if strings.EqualFold(a, base) {
			return true
		}
	}
	return false
}

// Submit evaluates rp for digipeating. If eligible and ViscousDelay is 0,
// the rewritten packet is emitted on Releases() synchronously (the
// caller should still return promptly). If ViscousDelay > 0, the packet
// is registered in the pending table and a timer schedules the release
// decision. Submit is a no-op if rp is not eligible.
func (d *Digipeater) Submit(rp packet.RoutedPacket, now time.Time) {
	rewritten, ok := Eligible(d.cfg, rp.Packet)
	if !ok {
		return
	}

	if d.cfg.ViscousDelay <= 0 {
		d.emit(rp.Rewritten(rewritten, now))
		return
	}

	d.mu.Lock()
	releaseAt := now.Add(d.cfg.ViscousDelay)
	entry := &pendingEntry{rewritten: rewritten, releaseAt: releaseAt}
	d.pending[rp.Fingerprint] = entry
	entry.timer = time.AfterFunc(d.cfg.ViscousDelay, func() {
		d.release(rp, rewritten)
	})
	d.mu.Unlock()
}

// ObserveOtherCopy notifies the pending table that fp was seen again
// (from any origin) while potentially pending; if no entry is pending
// for fp this is a no-op. The router calls it for every packet it
// sees, including duplicates, except its own digipeated output.
func (d *Digipeater) ObserveOtherCopy(fp packet.Fingerprint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.pending[fp]; ok {
		e.otherCopiesSeen++
	}
}

func (d *Digipeater) release(rp packet.RoutedPacket, rewritten callsign.AprsPacket) {
	d.mu.Lock()
	entry, ok := d.pending[rp.Fingerprint]
	if ok {
		delete(d.pending, rp.Fingerprint)
	}
	d.mu.Unlock()
	if !ok {
		return
	}
	if entry.otherCopiesSeen > 0 {
		return // another digipeater already covered the area
	}
	d.emit(rp.Rewritten(rewritten, time.Now()))
}

func (d *Digipeater) emit(rp packet.RoutedPacket) {
	select {
	case d.releases <- rp:
	default:
		// Release channel saturated; drop rather than block the
		// digipeater's own goroutines.
	}
}
