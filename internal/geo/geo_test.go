package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKmZero(t *testing.T) {
	p := Position{Lat: 40.7, Lon: -74.0}
	assert.InDelta(t, 0, DistanceKm(p, p), 0.001)
}

func TestDistanceKmKnown(t *testing.T) {
	// Roughly NYC to Boston, ~300km great-circle.
	nyc := Position{Lat: 40.7128, Lon: -74.0060}
	boston := Position{Lat: 42.3601, Lon: -71.0589}
	d := DistanceKm(nyc, boston)
	assert.InDelta(t, 306, d, 15)
}

func TestBearingDegDueEast(t *testing.T) {
	a := Position{Lat: 0, Lon: 0}
	b := Position{Lat: 0, Lon: 10}
	assert.InDelta(t, 90, BearingDeg(a, b), 0.5)
}

func TestHeadingDeltaWraps(t *testing.T) {
	assert.InDelta(t, 20, HeadingDelta(350, 10), 0.001)
	assert.InDelta(t, 45, HeadingDelta(90, 135), 0.001)
}

func TestFormatAPRSLat(t *testing.T) {
	s := FormatAPRSLat(40.7000)
	assert.Equal(t, "4042.00N", s)
}

func TestFormatAPRSLon(t *testing.T) {
	s := FormatAPRSLon(-74.0000)
	assert.Equal(t, "07400.00W", s)
}
