package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/dedupe"
	"github.com/gmcintire/aprstx/internal/digipeater"
	"github.com/gmcintire/aprstx/internal/packet"
	"github.com/gmcintire/aprstx/internal/pfilter"
)

type fakeRF struct {
	id  string
	out chan callsign.AprsPacket
}

func newFakeRF(id string) *fakeRF { return &fakeRF{id: id, out: make(chan callsign.AprsPacket, 8)} }
func (f *fakeRF) ID() string      { return f.id }
func (f *fakeRF) Enqueue(p callsign.AprsPacket) {
	f.out <- p
}

type fakeIS struct {
	out chan callsign.AprsPacket
}

func newFakeIS() *fakeIS { return &fakeIS{out: make(chan callsign.AprsPacket, 8)} }
func (f *fakeIS) Enqueue(p callsign.AprsPacket) {
	f.out <- p
}

func mycall(t *testing.T) callsign.Callsign {
	t.Helper()
	c, err := callsign.ParseCallsign("N0CALL-10")
	require.NoError(t, err)
	return c
}

func newTestHub(t *testing.T) (*Hub, *fakeRF, *fakeIS) {
	t.Helper()
	mc := mycall(t)
	dedup := dedupe.New(30 * time.Second)
	pf := &pfilter.Engine{}
	digi := digipeater.New(digipeater.Config{MyCall: mc, MaxHops: 7}, 8)
	h := NewHub(dedup, pf, digi, mc, 16)
	rf := newFakeRF("vhf")
	is := newFakeIS()
	h.AddRFEgress(rf)
	h.SetISEgress(is)
	return h, rf, is
}

func TestSerialPortPacketGatedToISWithQConstruct(t *testing.T) {
	h, _, is := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	p, err := callsign.Parse("N0AAA-9>APRS,WIDE2-2:test")
	require.NoError(t, err)
	h.Ingress() <- packet.NewRoutedPacket(p, packet.FromSerialPort("vhf"), time.Now())

	select {
	case out := <-is.out:
		assert.Contains(t, out.String(), ",qAR,N0CALL-10:")
	case <-time.After(time.Second):
		t.Fatal("expected packet gated to IS")
	}
}

func TestAprsIsPacketGatedToRF(t *testing.T) {
	h, rf, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	p, err := callsign.Parse("N0AAA-9>APRS,TCPIP*:test")
	require.NoError(t, err)
	h.Ingress() <- packet.NewRoutedPacket(p, packet.FromAprsIs(), time.Now())

	select {
	case out := <-rf.out:
		assert.Equal(t, "N0AAA-9>APRS,TCPIP*:test", out.String())
	case <-time.After(time.Second):
		t.Fatal("expected packet gated to RF")
	}
}

func TestDuplicateStopsProcessing(t *testing.T) {
	h, rf, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	p, err := callsign.Parse("N0AAA-9>APRS,TCPIP*:test")
	require.NoError(t, err)
	rp := packet.NewRoutedPacket(p, packet.FromAprsIs(), time.Now())
	h.Ingress() <- rp

	select {
	case <-rf.out:
	case <-time.After(time.Second):
		t.Fatal("expected first copy gated to RF")
	}

	h.Ingress() <- rp // exact same fingerprint, duplicate

	select {
	case <-rf.out:
		t.Fatal("duplicate should not be gated again")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDigipeatedReentryReachesRF(t *testing.T) {
	// WIDE2-2 arrives on RF, the digipeater rewrites it, and the
	// rewritten copy re-enters the hub under the same fingerprint.
	// It must still reach RF egress, and a second RF copy must not.
	h, rf, _ := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	releases := h.DigipeaterReleases()
	require.NotNil(t, releases)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case rp := <-releases:
				h.Ingress() <- rp
			}
		}
	}()

	p, err := callsign.Parse("N0AAA-9>APRS,WIDE2-2:=4042.00N/07400.00W>test")
	require.NoError(t, err)
	h.Ingress() <- packet.NewRoutedPacket(p, packet.FromSerialPort("vhf"), time.Now())

	select {
	case out := <-rf.out:
		assert.Equal(t, "N0AAA-9>APRS,N0CALL-10*,WIDE2-1:=4042.00N/07400.00W>test", out.String())
	case <-time.After(time.Second):
		t.Fatal("expected rewritten packet on RF egress")
	}

	h.Ingress() <- packet.NewRoutedPacket(p, packet.FromSerialPort("vhf"), time.Now())
	select {
	case out := <-rf.out:
		t.Fatalf("duplicate ingress should not digipeat again, got %s", out.String())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInternalBeaconGoesToRFAndIS(t *testing.T) {
	h, rf, is := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	p, err := callsign.Parse("N0CALL-10>APRS,WIDE1-1:=4042.00N/07400.00W>test")
	require.NoError(t, err)
	h.Ingress() <- packet.NewRoutedPacket(p, packet.FromInternal(packet.InternalBeacon), time.Now())

	select {
	case <-rf.out:
	case <-time.After(time.Second):
		t.Fatal("expected beacon on RF")
	}
	select {
	case <-is.out:
	case <-time.After(time.Second):
		t.Fatal("expected beacon on IS")
	}
}
