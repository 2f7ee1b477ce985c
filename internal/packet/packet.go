// Package packet defines the routed-packet model shared by every
// ingress source, the routing hub, and every egress sink: the origin
// tag, the path-independent fingerprint, and the RoutedPacket wrapper
// itself.
package packet

import (
	"crypto/sha256"
	"time"

	"github.com/gmcintire/aprstx/internal/callsign"
)

// OriginKind distinguishes where a RoutedPacket entered the system.
type OriginKind int

const (
	OriginSerialPort OriginKind = iota
	OriginAprsIs
	OriginInternal
)

// InternalKind refines OriginInternal.
type InternalKind int

const (
	InternalBeacon InternalKind = iota
	InternalTelemetry
	InternalMessage
	InternalDigipeated
)

// Origin tags a RoutedPacket with where it came from. It is immutable
// after creation.
type Origin struct {
	kind       OriginKind
	SerialPort string       // valid when OriginKind() is OriginSerialPort
	Internal   InternalKind // valid when OriginKind() is OriginInternal
}

func FromSerialPort(id string) Origin    { return Origin{kind: OriginSerialPort, SerialPort: id} }
func FromAprsIs() Origin                 { return Origin{kind: OriginAprsIs} }
func FromInternal(k InternalKind) Origin { return Origin{kind: OriginInternal, Internal: k} }

func (o Origin) OriginKind() OriginKind { return o.kind }

func (o Origin) String() string {
	switch o.kind {
	case OriginSerialPort:
		return "serial:" + o.SerialPort
	case OriginAprsIs:
		return "aprs-is"
	case OriginInternal:
		switch o.Internal {
		case InternalBeacon:
			return "internal:beacon"
		case InternalTelemetry:
			return "internal:telemetry"
		case InternalMessage:
			return "internal:message"
		case InternalDigipeated:
			return "internal:digipeated"
		}
	}
	return "unknown"
}

// Fingerprint is a stable digest of (source, destination, payload),
// intentionally excluding the path, so the same information relayed via
// different paths is recognized as a duplicate.
type Fingerprint [32]byte

func computeFingerprint(p callsign.AprsPacket) Fingerprint {
	h := sha256.New()
	h.Write([]byte(p.Source.String()))
	h.Write([]byte{0})
	h.Write([]byte(p.Destination.String()))
	h.Write([]byte{0})
	h.Write(p.Payload)
	var out Fingerprint
	copy(out[:], h.Sum(nil))
	return out
}

// RoutedPacket wraps an AprsPacket with routing metadata.
type RoutedPacket struct {
	Packet      callsign.AprsPacket
	Origin      Origin
	ReceivedAt  time.Time
	Fingerprint Fingerprint
}

// NewRoutedPacket wraps a freshly-ingested packet, computing its
// fingerprint and stamping the current time.
func NewRoutedPacket(p callsign.AprsPacket, origin Origin, now time.Time) RoutedPacket {
	return RoutedPacket{
		Packet:      p,
		Origin:      origin,
		ReceivedAt:  now,
		Fingerprint: computeFingerprint(p),
	}
}

// Rewritten produces a new RoutedPacket carrying a rewritten path (e.g.
// from digipeating), with origin Internal(digipeated) and a fresh
// timestamp, while preserving the original fingerprint for duplicate
// tracking.
func (r RoutedPacket) Rewritten(newPacket callsign.AprsPacket, now time.Time) RoutedPacket {
	return RoutedPacket{
		Packet:      newPacket,
		Origin:      FromInternal(InternalDigipeated),
		ReceivedAt:  now,
		Fingerprint: r.Fingerprint,
	}
}
