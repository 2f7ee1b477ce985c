package dedupe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gmcintire/aprstx/internal/packet"
)

func TestObserveFreshThenDuplicate(t *testing.T) {
	d := New(30 * time.Second)
	clock := time.Now()
	d.now = func() time.Time { return clock }

	var fp packet.Fingerprint
	fp[0] = 1

	res, _ := d.Observe(fp)
	assert.Equal(t, Fresh, res)

	res, entry := d.Observe(fp)
	assert.Equal(t, Duplicate, res)
	assert.Equal(t, 2, entry.Count)
}

func TestWindowExpiry(t *testing.T) {
	d := New(30 * time.Second)
	clock := time.Now()
	d.now = func() time.Time { return clock }

	var fp packet.Fingerprint
	fp[0] = 2

	res, _ := d.Observe(fp)
	assert.Equal(t, Fresh, res)

	clock = clock.Add(30 * time.Second)
	res, _ = d.Observe(fp)
	assert.Equal(t, Fresh, res, "entry should have expired after the window elapsed")
}

func TestSweepEvictsExpired(t *testing.T) {
	d := New(time.Second)
	clock := time.Now()
	d.now = func() time.Time { return clock }

	var fp packet.Fingerprint
	fp[0] = 3
	d.Observe(fp)

	clock = clock.Add(2 * time.Second)
	d.Sweep()

	d.mu.Lock()
	_, ok := d.table[fp]
	d.mu.Unlock()
	assert.False(t, ok)
}
