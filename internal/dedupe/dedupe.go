// Package dedupe implements the short-horizon fingerprint cache used
// to suppress retransmission of packets already seen, independent of
// the path they arrived by.
package dedupe

import (
	"sync"
	"time"

	"github.com/gmcintire/aprstx/internal/packet"
)

// Result is the outcome of Detector.Observe.
type Result int

const (
	Fresh Result = iota
	Duplicate
)

// Entry records activity for one fingerprint.
type Entry struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Count     int
}

// Detector maintains fingerprint -> Entry with a configurable TTL,
// evicting expired entries on a periodic sweep.
type Detector struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	table  map[packet.Fingerprint]*Entry
}

// New creates a Detector with the given dedup window (default 30s is the
// caller's responsibility to supply; this package has no opinion).
func New(window time.Duration) *Detector {
	return &Detector{
		window: window,
		now:    time.Now,
		table:  make(map[packet.Fingerprint]*Entry),
	}
}

// Observe records a sighting of fp and reports whether it is Fresh or a
// Duplicate of one seen within the window. It always updates LastSeen and
// Count.
func (d *Detector) Observe(fp packet.Fingerprint) (Result, *Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	e, ok := d.table[fp]
	if ok && now.Sub(e.FirstSeen) < d.window {
		e.LastSeen = now
		e.Count++
		cp := *e
		return Duplicate, &cp
	}

	e = &Entry{FirstSeen: now, LastSeen: now, Count: 1}
	d.table[fp] = e
	cp := *e
	return Fresh, &cp
}

// Sweep removes entries whose LastSeen is older than the dedup
// window. It is intended to run on a ~1s ticker.
func (d *Detector) Sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for fp, e := range d.table {
		if now.Sub(e.LastSeen) >= d.window {
			delete(d.table, fp)
		}
	}
}

// Run drives Sweep on the given ticker interval until done is closed.
func (d *Detector) Run(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}
