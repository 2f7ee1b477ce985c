package mheard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/packet"
)

func TestObserveTracksRFAndIS(t *testing.T) {
	tbl := New()

	p, err := callsign.Parse("N0AAA-9>APRS,WIDE2-1*:=4042.00N/07400.00W>test")
	require.NoError(t, err)
	rp := packet.NewRoutedPacket(p, packet.FromSerialPort("vhf"), time.Now())
	tbl.Observe(rp)

	e, ok := tbl.Get("N0AAA-9")
	require.True(t, ok)
	assert.Equal(t, 1, e.Count)
	assert.False(t, e.LastHeardRF.IsZero())
	assert.True(t, e.LastHeardIS.IsZero())
	assert.Equal(t, 1, e.NumDigiHops)
	require.True(t, e.HasPosition)
	assert.InDelta(t, 40.7, e.Position.Lat, 0.01)
	assert.InDelta(t, -74.0, e.Position.Lon, 0.01)

	p2, err := callsign.Parse("N0AAA-9>APRS:status")
	require.NoError(t, err)
	tbl.Observe(packet.NewRoutedPacket(p2, packet.FromAprsIs(), time.Now()))

	e2, ok := tbl.Get("N0AAA-9")
	require.True(t, ok)
	assert.Equal(t, 2, e2.Count)
	assert.False(t, e2.LastHeardIS.IsZero())
}

func TestSnapshotReturnsAllEntries(t *testing.T) {
	tbl := New()
	p, err := callsign.Parse("N0AAA>APRS:test")
	require.NoError(t, err)
	tbl.Observe(packet.NewRoutedPacket(p, packet.FromSerialPort("vhf"), time.Now()))

	snap := tbl.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "N0AAA", snap[0].Callsign)
}

func TestGetUnknownCallsign(t *testing.T) {
	tbl := New()
	_, ok := tbl.Get("N0NOBODY")
	assert.False(t, ok)
}
