// Package beacon implements the adaptive SmartBeaconing position
// beacon: a fixed slow rate at rest, a fixed fast rate above a speed
// threshold, a linear interpolation between them, and an
// early "corner pegging" retransmission on a sharp course change.
package beacon

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/geo"
	"github.com/gmcintire/aprstx/internal/packet"
)

// SmartBeacon parameterizes the adaptive rate and turn formulas.
type SmartBeacon struct {
	LowSpeedMPH  float64
	HighSpeedMPH float64
	SlowRate     time.Duration
	FastRate     time.Duration
	TurnMinAngle float64 // degrees
	TurnSlope    float64 // degrees * MPH
	TurnTimeMin  time.Duration
}

// Config parameterizes one beacon source.
type Config struct {
	MyCall      callsign.Callsign
	Symbol      string
	Comment     string
	Path        []string
	SmartBeacon SmartBeacon
}

// Fix is one GPS position sample. HasCourse is false for receivers
// that omit course over ground (common below walking speed); the
// beacon then derives one from successive positions.
type Fix struct {
	Position  geo.Position
	SpeedMPH  float64
	CourseDeg float64
	HasCourse bool
	HasFix    bool
	At        time.Time
}

// Beacon holds the scheduling state between fixes: the last
// transmitted position and course, used to compute the next send
// time on each new fix.
type Beacon struct {
	cfg Config

	lastXmitAt     time.Time
	lastXmitCourse float64
	haveLastCourse bool

	lastPos     geo.Position
	haveLastPos bool
}

// New creates a Beacon with no transmit history; the first Update
// call that carries a fix fires immediately.
func New(cfg Config) *Beacon {
	return &Beacon{cfg: cfg}
}

// NextTime computes when the next beacon should fire given the
// current fix and the time of the last transmission.
func NextTime(sb SmartBeacon, now time.Time, fix Fix, lastXmitAt time.Time, lastXmitCourse float64, haveLastCourse bool) time.Time {
	var rate time.Duration
	switch {
	case !fix.HasFix:
		rate = (sb.FastRate + sb.SlowRate) / 2
	case fix.SpeedMPH >= sb.HighSpeedMPH:
		rate = sb.FastRate
	case fix.SpeedMPH <= sb.LowSpeedMPH:
		rate = sb.SlowRate
	default:
		// Interpolate linearly from slow_rate at low_speed to fast_rate
		// at high_speed.
		frac := (fix.SpeedMPH - sb.LowSpeedMPH) / (sb.HighSpeedMPH - sb.LowSpeedMPH)
		rate = sb.SlowRate + time.Duration(math.Round(frac*float64(sb.FastRate-sb.SlowRate)))
	}

	next := lastXmitAt.Add(rate)

	if fix.HasFix && fix.HasCourse && fix.SpeedMPH >= 1.0 && haveLastCourse {
		change := geo.HeadingDelta(fix.CourseDeg, lastXmitCourse)
		threshold := sb.TurnMinAngle + sb.TurnSlope/fix.SpeedMPH
		if change >= threshold && now.Sub(lastXmitAt) >= sb.TurnTimeMin {
			next = now
		}
	}

	return next
}

// Update evaluates whether now's fix warrants a beacon, and if so
// returns the built packet and advances the internal transmit
// history. The caller is responsible for actually sending the
// returned packet.
func (b *Beacon) Update(now time.Time, fix Fix) (packet.RoutedPacket, bool) {
	if b.lastXmitAt.IsZero() {
		b.lastXmitAt = now.Add(-b.cfg.SmartBeacon.SlowRate - time.Second)
	}

	if fix.HasFix {
		if !fix.HasCourse {
			if c, ok := b.derivedCourse(fix); ok {
				fix.CourseDeg = c
				fix.HasCourse = true
			}
		}
		b.lastPos = fix.Position
		b.haveLastPos = true
	}

	next := NextTime(b.cfg.SmartBeacon, now, fix, b.lastXmitAt, b.lastXmitCourse, b.haveLastCourse)
	if now.Before(next) {
		return packet.RoutedPacket{}, false
	}
	if !fix.HasFix {
		return packet.RoutedPacket{}, false
	}

	pkt := b.build(fix)
	b.lastXmitAt = now
	if fix.HasCourse {
		b.lastXmitCourse = fix.CourseDeg
		b.haveLastCourse = true
	}

	return packet.NewRoutedPacket(pkt, packet.FromInternal(packet.InternalBeacon), now), true
}

// minCourseTravelKm is how far two fixes must be apart before a
// bearing between them says anything about the direction of travel.
const minCourseTravelKm = 0.02

// derivedCourse infers course over ground as the bearing from the
// previous fix's position, for sources that report no course of
// their own.
func (b *Beacon) derivedCourse(fix Fix) (float64, bool) {
	if !b.haveLastPos {
		return 0, false
	}
	if geo.DistanceKm(b.lastPos, fix.Position) < minCourseTravelKm {
		return 0, false
	}
	return geo.BearingDeg(b.lastPos, fix.Position), true
}

func (b *Beacon) build(fix Fix) callsign.AprsPacket {
	lat := geo.FormatAPRSLat(fix.Position.Lat)
	lon := geo.FormatAPRSLon(fix.Position.Lon)
	symTable, symCode := symbolParts(b.cfg.Symbol)

	payload := fmt.Sprintf("=%s%c%s%c%s", lat, symTable, lon, symCode, b.cfg.Comment)

	path := make([]callsign.PathElement, 0, len(b.cfg.Path))
	for _, tok := range b.cfg.Path {
		el, err := callsign.ParsePathElement(tok)
		if err != nil {
			continue
		}
		path = append(path, el)
	}

	dest, _ := callsign.ParseCallsign("APRS")
	return callsign.AprsPacket{
		Source:      b.cfg.MyCall,
		Destination: dest,
		Path:        path,
		Payload:     []byte(payload),
	}
}

// Source is the interface this package expects from whatever
// supplies GPS fixes: a lazy "give me the next fix" pull rather than
// a push API, so a parked or fixless station never busy-loops the
// beacon task.
type Source interface {
	// Read blocks until a new fix is available or ctx is cancelled.
	Read(ctx context.Context) (Fix, error)
}

// Run drives Update from src's fix stream until ctx is cancelled,
// sending every emitted beacon packet on out. out is expected to be
// the router hub's ingress channel.
func (b *Beacon) Run(ctx context.Context, src Source, out chan<- packet.RoutedPacket) {
	for {
		fix, err := src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		rp, ok := b.Update(time.Now(), fix)
		if !ok {
			continue
		}

		select {
		case out <- rp:
		case <-ctx.Done():
			return
		}
	}
}

// symbolParts splits a two-character APRS symbol spec ("/>" for a
// primary-table red car, "\\>" for the alternate table) into its
// table and code bytes, defaulting to the primary table car symbol.
func symbolParts(symbol string) (byte, byte) {
	if len(symbol) != 2 {
		return '/', '>'
	}
	return symbol[0], symbol[1]
}
