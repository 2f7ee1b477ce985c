package serialport

import (
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/pkg/term"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmcintire/aprstx/internal/ax25"
	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/kiss"
	"github.com/gmcintire/aprstx/internal/packet"
	"github.com/gmcintire/aprstx/internal/ptt"
)

func TestHandleKISSByteDeliversDecodedPacket(t *testing.T) {
	ingress := make(chan packet.RoutedPacket, 4)
	p := New(Config{ID: "vhf", Protocol: ProtocolKISS, RxEnable: true}, nil, ingress)

	src, err := callsign.ParseCallsign("N0AAA-9")
	require.NoError(t, err)
	dst, err := callsign.ParseCallsign("APRS")
	require.NoError(t, err)
	frame := ax25.Frame{Source: src, Destination: dst, Payload: []byte("test")}
	raw, err := ax25.Encode(frame)
	require.NoError(t, err)
	wire := kiss.Encode(0, raw)

	dec := kiss.NewDecoder()
	for _, b := range wire {
		p.handleKISSByte(dec, b)
	}

	select {
	case rp := <-ingress:
		assert.Equal(t, "N0AAA-9", rp.Packet.Source.String())
		assert.Equal(t, packet.OriginSerialPort, rp.Origin.OriginKind())
	case <-time.After(time.Second):
		t.Fatal("expected a delivered packet")
	}
}

func TestHandleTextByteDeliversParsedLine(t *testing.T) {
	ingress := make(chan packet.RoutedPacket, 4)
	p := New(Config{ID: "vhf", Protocol: ProtocolTNC2Text, RxEnable: true}, nil, ingress)

	line := []byte("N0AAA-9>APRS,WIDE2-2:test\r\n")
	var buf []byte
	for _, b := range line {
		buf = p.handleTextByte(buf, b)
	}

	select {
	case rp := <-ingress:
		assert.Equal(t, "N0AAA-9>APRS,WIDE2-2:test", rp.Packet.String())
	case <-time.After(time.Second):
		t.Fatal("expected a delivered packet")
	}
}

func TestRxDisabledDecodesButDropsAtDelivery(t *testing.T) {
	ingress := make(chan packet.RoutedPacket, 4)
	p := New(Config{ID: "vhf", Protocol: ProtocolTNC2Text, RxEnable: false}, nil, ingress)

	var buf []byte
	for _, b := range []byte("N0AAA-9>APRS:test\n") {
		buf = p.handleTextByte(buf, b)
	}

	select {
	case <-ingress:
		t.Fatal("rx-disabled port must not deliver packets")
	default:
	}
}

func TestEnqueueDropsOldestWhenFull(t *testing.T) {
	ingress := make(chan packet.RoutedPacket, 1)
	p := New(Config{ID: "vhf", Protocol: ProtocolTNC2Text, TxEnable: true, EgressBuf: 1}, nil, ingress)

	first, err := callsign.Parse("N0AAA>APRS:first")
	require.NoError(t, err)
	second, err := callsign.Parse("N0AAA>APRS:second")
	require.NoError(t, err)

	p.Enqueue(first)
	p.Enqueue(second)

	got := <-p.egress
	assert.Equal(t, "second", string(got.Payload))
}

func TestSessionPTTSelectsConfiguredLine(t *testing.T) {
	master, slave, err := pty.Open()
	require.NoError(t, err)
	defer master.Close()
	defer slave.Close()

	fd, err := term.Open(slave.Name())
	if err != nil {
		t.Skipf("cannot open pty slave as a terminal: %v", err)
	}
	defer fd.Close()

	ingress := make(chan packet.RoutedPacket, 1)
	withLine := New(Config{ID: "vhf", PTTLine: "rts"}, nil, ingress)
	_, isRTSDTR := withLine.sessionPTT(fd).(*ptt.RTSDTR)
	assert.True(t, isRTSDTR, "configured line must key the port's own descriptor")

	plain := New(Config{ID: "vhf"}, nil, ingress)
	assert.Equal(t, ptt.None{}, plain.sessionPTT(fd))
}

func TestEnqueueNoopWhenTxDisabled(t *testing.T) {
	ingress := make(chan packet.RoutedPacket, 1)
	p := New(Config{ID: "vhf", Protocol: ProtocolTNC2Text, TxEnable: false}, nil, ingress)

	pkt, err := callsign.Parse("N0AAA>APRS:test")
	require.NoError(t, err)
	p.Enqueue(pkt)

	select {
	case <-p.egress:
		t.Fatal("expected no enqueue while tx disabled")
	default:
	}
}
