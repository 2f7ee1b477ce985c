// Package geo provides the distance, bearing, and coordinate-format
// helpers shared by the filter engine's range admission and the
// smart-beacon scheduler's turn detection.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/tzneal/coordconv"
)

// Position is a WGS-84 latitude/longitude in decimal degrees.
type Position struct {
	Lat float64
	Lon float64
}

// DistanceKm returns the great-circle distance between two positions
// using golang/geo's spherical LatLng distance.
func DistanceKm(a, b Position) float64 {
	const earthRadiusKm = 6371.0
	aa := s2.LatLngFromDegrees(a.Lat, a.Lon)
	bb := s2.LatLngFromDegrees(b.Lat, b.Lon)
	return float64(aa.Distance(bb)) * earthRadiusKm
}

// BearingDeg returns the initial bearing, in degrees 0-360, from a to b.
func BearingDeg(a, b Position) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// HeadingDelta returns the absolute difference between two headings
// (degrees), normalized to 0-180.
func HeadingDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// latHemisphere reports lat's hemisphere as a coordconv.Hemisphere.
// Longitude (E/W) has no coordconv counterpart (that package only
// models UTM's north/south banding), so FormatAPRSLon below keys it
// directly off sign.
func latHemisphere(lat float64) coordconv.Hemisphere {
	if lat < 0 {
		return coordconv.HemisphereSouth
	}
	return coordconv.HemisphereNorth
}

func latHemisphereLetter(h coordconv.Hemisphere) rune {
	if h == coordconv.HemisphereSouth {
		return 'S'
	}
	return 'N'
}

// FormatAPRSLat renders a decimal latitude in APRS "DDMM.mmN" form.
func FormatAPRSLat(lat float64) string {
	letter := latHemisphereLetter(latHemisphere(lat))
	lat = math.Abs(lat)
	deg := math.Floor(lat)
	min := (lat - deg) * 60
	return fmt.Sprintf("%02d%05.2f%c", int(deg), min, letter)
}

// FormatAPRSLon renders a decimal longitude in APRS "DDDMM.mmE" form.
func FormatAPRSLon(lon float64) string {
	letter := byte('E')
	if lon < 0 {
		letter = 'W'
	}
	lon = math.Abs(lon)
	deg := math.Floor(lon)
	min := (lon - deg) * 60
	return fmt.Sprintf("%03d%05.2f%c", int(deg), min, letter)
}
