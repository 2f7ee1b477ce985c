package ptt

import (
	"testing"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneBackendIsNoop(t *testing.T) {
	var b None
	assert.NoError(t, b.Assert())
	assert.NoError(t, b.Release())
	assert.NoError(t, b.Close())
}

func TestRTSDTRAssertReleaseOnPty(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	b := NewRTSDTR(master, true, false)
	if err := b.Assert(); err != nil {
		t.Skipf("pty has no modem control lines: %v", err)
	}
	assert.NoError(t, b.Release())
}

func TestRTSDTRInvertedPolarity(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	b := NewRTSDTR(master, false, true)
	if err := b.Assert(); err != nil {
		t.Skipf("pty has no modem control lines: %v", err)
	}
	assert.NoError(t, b.Close())
}
