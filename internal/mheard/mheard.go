// Package mheard tracks recently-heard stations: last time seen on RF
// and on APRS-IS, most recent digipeater hop count, and last known
// position.
//
// The table is read-only for consumers; only the router's sink
// callback writes to it.
package mheard

import (
	"strconv"
	"sync"
	"time"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/geo"
	"github.com/gmcintire/aprstx/internal/packet"
)

// Entry is one station's heard history.
type Entry struct {
	Callsign    string
	Count       int
	LastHeardRF time.Time
	LastHeardIS time.Time
	NumDigiHops int
	Position    geo.Position
	HasPosition bool
}

// Table is the heard-station map, safe for concurrent use from the
// router's sink callback and from read-side queries (e.g. a status
// endpoint).
type Table struct {
	mu sync.RWMutex
	m  map[string]*Entry
}

// New creates an empty Table.
func New() *Table {
	return &Table{m: make(map[string]*Entry)}
}

// Observe updates the table from a routed packet, splitting the
// last-heard timestamps by origin.
func (t *Table) Observe(rp packet.RoutedPacket) {
	call := rp.Packet.Source.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.m[call]
	if !ok {
		e = &Entry{Callsign: call}
		t.m[call] = e
	}
	e.Count++

	switch rp.Origin.OriginKind() {
	case packet.OriginSerialPort:
		e.LastHeardRF = rp.ReceivedAt
		e.NumDigiHops = usedHopCount(rp.Packet)
	case packet.OriginAprsIs:
		e.LastHeardIS = rp.ReceivedAt
	}

	if pos, ok := positionOf(rp.Packet); ok {
		e.Position = pos
		e.HasPosition = true
	}
}

// Get returns a copy of the entry for call, and whether it exists.
func (t *Table) Get(call string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.m[call]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns a copy of every tracked entry, for a dump or
// status view.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.m))
	for _, e := range t.m {
		out = append(out, *e)
	}
	return out
}

func usedHopCount(p callsign.AprsPacket) int {
	n := 0
	for _, el := range p.Path {
		if el.Used || el.Consumed() {
			n++
		}
	}
	return n
}

// positionOf extracts a position from a position-report payload,
// "=DDMM.mmN/DDDMM.mmW..." or "!.../@...", enough to keep the heard
// table's last-known position current.
func positionOf(p callsign.AprsPacket) (geo.Position, bool) {
	if p.Kind() != callsign.PayloadPosition {
		return geo.Position{}, false
	}
	body := string(p.Payload[1:])
	if len(body) < 19 {
		return geo.Position{}, false
	}
	lat, ok := parseAPRSLat(body[0:8])
	if !ok {
		return geo.Position{}, false
	}
	lon, ok := parseAPRSLon(body[9:18])
	if !ok {
		return geo.Position{}, false
	}
	return geo.Position{Lat: lat, Lon: lon}, true
}

func parseAPRSLat(s string) (float64, bool) {
	// "DDMM.mmN"
	if len(s) != 8 {
		return 0, false
	}
	deg, mins, hemi := s[0:2], s[2:7], s[7]
	d, err1 := atofSafe(deg)
	m, err2 := atofSafe(mins)
	if !err1 || !err2 {
		return 0, false
	}
	lat := d + m/60
	if hemi == 'S' || hemi == 's' {
		lat = -lat
	}
	return lat, true
}

func parseAPRSLon(s string) (float64, bool) {
	// "DDDMM.mmW"
	if len(s) != 9 {
		return 0, false
	}
	deg, mins, hemi := s[0:3], s[3:8], s[8]
	d, err1 := atofSafe(deg)
	m, err2 := atofSafe(mins)
	if !err1 || !err2 {
		return 0, false
	}
	lon := d + m/60
	if hemi == 'W' || hemi == 'w' {
		lon = -lon
	}
	return lon, true
}

func atofSafe(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}
