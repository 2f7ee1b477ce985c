// Package pfilter evaluates directional and area admission for a
// packet: whether it may be gated to APRS-IS, gated to RF, or
// digipeated, from the RFONLY/NOGATE/TCPIP/TCPXX path keywords, the
// payload type, and the configured area rules.
package pfilter

import (
	"strings"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/geo"
	"github.com/gmcintire/aprstx/internal/packet"
)

// Admission is the routing decision for one packet given its origin.
type Admission struct {
	ToRF       bool
	ToIS       bool
	ToDigipeat bool
}

// AreaRule configures IS-to-RF area admission: callsign allow/deny lists
// and an optional range check against a reference position.
type AreaRule struct {
	Whitelist []string // base calls; empty means "allow all"
	Blacklist []string // base calls; checked after whitelist

	RangeCheck    bool
	Reference     geo.Position
	MaxRangeKm    float64
	PacketHasFix  func(callsign.AprsPacket) (geo.Position, bool)
}

// Engine evaluates Admission for ingress packets.
type Engine struct {
	Area                     AreaRule
	DigipeatDefaultForNOGATE bool
	AllowISOriginDigipeat    bool
}

func pathHasToken(path []callsign.PathElement, token string) bool {
	for _, el := range path {
		if el.Wide {
			continue
		}
		if strings.EqualFold(el.Call.Base, token) {
			return true
		}
	}
	return false
}

func pathHasUsedToken(path []callsign.PathElement, token string) bool {
	for _, el := range path {
		if el.Wide || !el.Used {
			continue
		}
		if strings.EqualFold(el.Call.Base, token) {
			return true
		}
	}
	return false
}

// Evaluate computes admission for rp given the rest of the routing
// context (origin already carried on rp).
func (e *Engine) Evaluate(rp packet.RoutedPacket) Admission {
	p := rp.Packet

	rfonly := pathHasToken(p.Path, "RFONLY")
	nogate := pathHasToken(p.Path, "NOGATE")
	tcpip := pathHasToken(p.Path, "TCPIP") || pathHasToken(p.Path, "TCPXX")
	thirdParty := p.Kind() == callsign.PayloadThirdParty

	adm := Admission{ToRF: true, ToIS: true, ToDigipeat: true}

	if rfonly || nogate {
		adm.ToIS = false
	}
	if nogate {
		adm.ToDigipeat = e.DigipeatDefaultForNOGATE
	}
	if tcpip {
		// TCPIP/TCPXX marks IS-origin in the path: never digipeat
		// further, unless explicitly opted in. A used TCPIP* marker is
		// the hard anti-loop case and stays out even with the opt-in.
		// The direct IS->RF gate step is a separate concern, governed
		// below by origin and area admission, not by this token.
		tcpipUsed := pathHasUsedToken(p.Path, "TCPIP") || pathHasUsedToken(p.Path, "TCPXX")
		if tcpipUsed || !e.AllowISOriginDigipeat {
			adm.ToDigipeat = false
		}
	}
	if thirdParty {
		adm.ToRF = false
	}

	switch rp.Origin.OriginKind() {
	case packet.OriginAprsIs:
		adm.ToIS = false // never gate IS traffic back to IS
		if !e.areaAllows(p) {
			adm.ToRF = false
		}
		if !e.AllowISOriginDigipeat {
			adm.ToDigipeat = false
		}
	case packet.OriginInternal:
		// Beacons/telemetry/messages: leave defaults, never digipeated again.
		if rp.Origin.Internal == packet.InternalDigipeated {
			adm.ToDigipeat = false
		}
	}

	return adm
}

func (e *Engine) areaAllows(p callsign.AprsPacket) bool {
	base := p.Source.Base
	if len(e.Area.Whitelist) > 0 && !containsFold(e.Area.Whitelist, base) {
		return false
	}
	if containsFold(e.Area.Blacklist, base) {
		return false
	}
	if e.Area.RangeCheck && e.Area.PacketHasFix != nil {
		if pos, ok := e.Area.PacketHasFix(p); ok {
			if geo.DistanceKm(e.Area.Reference, pos) > e.Area.MaxRangeKm {
				return false
			}
		}
	}
	return true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
