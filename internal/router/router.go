// Package router's Hub is the single owner of routing decisions:
// dedup, filter, digipeat, and bounded-queue fan-out to every egress.
// It never imports the port/client packages that feed it or drain it;
// those satisfy small structural interfaces defined here instead, so
// the dedup table and the digipeat pending table stay owned by the
// router task alone.
package router

import (
	"context"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/dedupe"
	"github.com/gmcintire/aprstx/internal/digipeater"
	"github.com/gmcintire/aprstx/internal/packet"
	"github.com/gmcintire/aprstx/internal/pfilter"
)

// RFEgress is anything the hub can hand an outbound packet to for
// transmission on RF: internal/serialport.Port satisfies this.
type RFEgress interface {
	ID() string
	Enqueue(callsign.AprsPacket)
}

// ISEgress is anything the hub can hand an outbound packet to for
// relay onto APRS-IS: internal/aprsis.Client satisfies this.
type ISEgress interface {
	Enqueue(callsign.AprsPacket)
}

// Hub owns the dedup detector, the admission engine, and the
// digipeater, and fans ingress packets out to every registered
// egress.
type Hub struct {
	myCall callsign.Callsign

	ingress chan packet.RoutedPacket

	dedup   *dedupe.Detector
	pfilter *pfilter.Engine
	digi    *digipeater.Digipeater
	digiOn  bool

	rf []RFEgress
	is ISEgress

	sinks []func(packet.RoutedPacket)
}

// NewHub constructs a Hub. digi may be nil if digipeating is
// disabled; the IS egress is registered separately via SetISEgress
// and may remain unset.
func NewHub(dedup *dedupe.Detector, pf *pfilter.Engine, digi *digipeater.Digipeater, mycall callsign.Callsign, ingressBuf int) *Hub {
	if ingressBuf <= 0 {
		ingressBuf = 256
	}
	return &Hub{
		myCall:  mycall,
		ingress: make(chan packet.RoutedPacket, ingressBuf),
		dedup:   dedup,
		pfilter: pf,
		digi:    digi,
		digiOn:  digi != nil,
	}
}

// Ingress returns the channel every source (serial ports, the APRS-IS
// client, beacon/telemetry generators) sends RoutedPackets on.
func (h *Hub) Ingress() chan<- packet.RoutedPacket { return h.ingress }

// AddRFEgress registers a serial port as an RF transmit target.
func (h *Hub) AddRFEgress(e RFEgress) { h.rf = append(h.rf, e) }

// SetISEgress registers the APRS-IS client as the IS transmit target.
func (h *Hub) SetISEgress(e ISEgress) { h.is = e }

// AddSink registers an observer called with every packet the hub
// finishes processing (fresh or duplicate), for mheard tracking,
// packet logging, and similar side channels that must not themselves
// own routing state.
func (h *Hub) AddSink(fn func(packet.RoutedPacket)) { h.sinks = append(h.sinks, fn) }

// DigipeaterReleases exposes the digipeater's release channel so the
// caller can wire it back into Ingress() as Internal(digipeated)
// traffic. Returns nil if digipeating is disabled.
func (h *Hub) DigipeaterReleases() <-chan packet.RoutedPacket {
	if !h.digiOn {
		return nil
	}
	return h.digi.Releases()
}

// Run drains the ingress channel until ctx is cancelled, processing
// every packet in arrival order.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rp := <-h.ingress:
			h.process(rp)
		}
	}
}

func (h *Hub) process(rp packet.RoutedPacket) {
	for _, sink := range h.sinks {
		sink(rp)
	}

	// Step 1: dedup. A duplicate still informs the digipeater's
	// viscous-pending table before the hub stops processing it. Our own
	// digipeater output shares the original packet's fingerprint, so it
	// updates the table without being dropped by it, and it is not
	// "another digipeater's copy" for viscous purposes.
	digipeated := rp.Origin.OriginKind() == packet.OriginInternal && rp.Origin.Internal == packet.InternalDigipeated
	result, _ := h.dedup.Observe(rp.Fingerprint)
	if h.digiOn && !digipeated {
		h.digi.ObserveOtherCopy(rp.Fingerprint)
	}
	if result == dedupe.Duplicate && !digipeated {
		return
	}

	// Step 2: filter.
	adm := h.pfilter.Evaluate(rp)

	// Step 3: digipeat. Output re-enters via Ingress() as an
	// internal digipeated packet, wired by the caller from
	// DigipeaterReleases().
	if h.digiOn && adm.ToDigipeat {
		h.digi.Submit(rp, rp.ReceivedAt)
	}

	switch rp.Origin.OriginKind() {
	case packet.OriginSerialPort:
		h.gateToIS(rp, adm)
	case packet.OriginAprsIs:
		h.gateToRF(rp, adm)
	case packet.OriginInternal:
		h.handleInternal(rp, adm)
	}
}

// gateToIS implements step 4: SerialPort -> AprsIs, appending the
// qAR,mycall third-party path suffix per APRS-IS convention.
func (h *Hub) gateToIS(rp packet.RoutedPacket, adm pfilter.Admission) {
	if h.is == nil || !adm.ToIS {
		return
	}
	h.is.Enqueue(h.withQConstruct(rp.Packet))
}

// gateToRF implements step 5: AprsIs -> every SerialPort, path
// preserved unmodified.
func (h *Hub) gateToRF(rp packet.RoutedPacket, adm pfilter.Admission) {
	if !adm.ToRF {
		return
	}
	for _, e := range h.rf {
		e.Enqueue(rp.Packet)
	}
}

// handleInternal implements step 6: beacon/telemetry/message packets
// go to every RF egress and, subject to filters, to IS with the
// q-construct appended. Digipeater output re-entering as
// Internal(digipeated) goes to RF only; the packet it was rewritten
// from was already gated to IS under the same fingerprint.
func (h *Hub) handleInternal(rp packet.RoutedPacket, adm pfilter.Admission) {
	for _, e := range h.rf {
		e.Enqueue(rp.Packet)
	}
	if rp.Origin.Internal == packet.InternalDigipeated {
		return
	}
	if h.is == nil || !adm.ToIS {
		return
	}
	h.is.Enqueue(h.withQConstruct(rp.Packet))
}

// withQConstruct appends the ",qAR,mycall" q-construct suffix used
// to mark a packet as relayed onto APRS-IS from a verified RF
// receiver. "qAR" keeps its conventional mixed case, which is why it
// is built directly as a Callsign literal rather than through
// ParseCallsign (which upper-cases its input).
func (h *Hub) withQConstruct(p callsign.AprsPacket) callsign.AprsPacket {
	out := p.Clone()
	out.Path = append(out.Path,
		callsign.NewLiteral(callsign.Callsign{Base: "qAR"}, false),
		callsign.NewLiteral(h.myCall, false),
	)
	return out
}
