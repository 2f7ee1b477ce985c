package beacon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/geo"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	mycall, err := callsign.ParseCallsign("N0CALL-10")
	require.NoError(t, err)
	return Config{
		MyCall:  mycall,
		Symbol:  "/>",
		Comment: "test",
		Path:    []string{"WIDE1-1"},
		SmartBeacon: SmartBeacon{
			LowSpeedMPH:  5,
			HighSpeedMPH: 60,
			SlowRate:     30 * time.Minute,
			FastRate:     1 * time.Minute,
			TurnMinAngle: 25,
			TurnSlope:    255,
			TurnTimeMin:  15 * time.Second,
		},
	}
}

func TestNextTimeNoFixUsesAverageRate(t *testing.T) {
	sb := testConfig(t).SmartBeacon
	now := time.Now()
	fix := Fix{HasFix: false}
	next := NextTime(sb, now, fix, now, 0, false)
	assert.WithinDuration(t, now.Add((sb.SlowRate+sb.FastRate)/2), next, time.Second)
}

func TestNextTimeFastAboveThreshold(t *testing.T) {
	sb := testConfig(t).SmartBeacon
	now := time.Now()
	fix := Fix{HasFix: true, SpeedMPH: 70}
	next := NextTime(sb, now, fix, now, 0, false)
	assert.WithinDuration(t, now.Add(sb.FastRate), next, time.Second)
}

func TestNextTimeSlowBelowThreshold(t *testing.T) {
	sb := testConfig(t).SmartBeacon
	now := time.Now()
	fix := Fix{HasFix: true, SpeedMPH: 2}
	next := NextTime(sb, now, fix, now, 0, false)
	assert.WithinDuration(t, now.Add(sb.SlowRate), next, time.Second)
}

func TestNextTimeCornerPegging(t *testing.T) {
	sb := testConfig(t).SmartBeacon
	lastXmit := time.Now().Add(-1 * time.Minute)
	now := lastXmit.Add(20 * time.Second)
	fix := Fix{HasFix: true, SpeedMPH: 30, CourseDeg: 90, HasCourse: true}
	next := NextTime(sb, now, fix, lastXmit, 0, true)
	assert.True(t, !next.After(now))
}

func TestNextTimeNoCornerPeggingTooSoon(t *testing.T) {
	sb := testConfig(t).SmartBeacon
	lastXmit := time.Now()
	now := lastXmit.Add(5 * time.Second) // less than TurnTimeMin
	fix := Fix{HasFix: true, SpeedMPH: 30, CourseDeg: 90, HasCourse: true}
	next := NextTime(sb, now, fix, lastXmit, 0, true)
	assert.True(t, next.After(now))
}

func TestUpdateBuildsPacketOnFirstFix(t *testing.T) {
	b := New(testConfig(t))
	now := time.Now()
	fix := Fix{HasFix: true, Position: geo.Position{Lat: 40.7, Lon: -74.0}, SpeedMPH: 0, At: now}

	rp, ok := b.Update(now, fix)
	require.True(t, ok)
	assert.Contains(t, rp.Packet.String(), "N0CALL-10>APRS,WIDE1-1:=")
}

func TestUpdateDerivesCourseFromMovement(t *testing.T) {
	b := New(testConfig(t))
	t0 := time.Now()

	_, ok := b.Update(t0, Fix{HasFix: true, Position: geo.Position{Lat: 40.0, Lon: -74.0}, SpeedMPH: 30})
	require.True(t, ok)
	assert.False(t, b.haveLastCourse, "single fix gives no direction of travel")

	// ~8.5 km due east; the bearing between the fixes stands in for
	// the course the source never reported.
	_, ok = b.Update(t0.Add(20*time.Minute), Fix{HasFix: true, Position: geo.Position{Lat: 40.0, Lon: -73.9}, SpeedMPH: 30})
	require.True(t, ok)
	require.True(t, b.haveLastCourse)
	assert.InDelta(t, 90, b.lastXmitCourse, 2)
}

func TestUpdateSkipsWithoutFix(t *testing.T) {
	b := New(testConfig(t))
	_, ok := b.Update(time.Now(), Fix{HasFix: false})
	assert.False(t, ok)
}
