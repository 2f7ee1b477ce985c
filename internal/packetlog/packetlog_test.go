package packetlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/packet"
)

func TestObserveWritesHeaderAndRow(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "")
	require.NoError(t, err)
	defer l.Close()

	p, err := callsign.Parse("N0AAA-9>APRS,WIDE2-1*:test")
	require.NoError(t, err)
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	l.Observe(packet.NewRoutedPacket(p, packet.FromSerialPort("vhf"), now))

	name := now.Format("2006-01-02") + ".log"
	content, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Contains(t, string(content), "utime,isotime,origin,source,destination,path,payload")
	assert.Contains(t, string(content), "N0AAA-9")
	assert.Contains(t, string(content), "WIDE2-1*")
}

func TestObserveRotatesOnDayChange(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, "")
	require.NoError(t, err)
	defer l.Close()

	p, err := callsign.Parse("N0AAA>APRS:test")
	require.NoError(t, err)

	day1 := time.Date(2026, 7, 29, 23, 59, 0, 0, time.UTC)
	day2 := time.Date(2026, 7, 30, 0, 1, 0, 0, time.UTC)
	l.Observe(packet.NewRoutedPacket(p, packet.FromSerialPort("vhf"), day1))
	l.Observe(packet.NewRoutedPacket(p, packet.FromSerialPort("vhf"), day2))

	_, err1 := os.Stat(filepath.Join(dir, "2026-07-29.log"))
	_, err2 := os.Stat(filepath.Join(dir, "2026-07-30.log"))
	assert.NoError(t, err1)
	assert.NoError(t, err2)
}
