// Package ax25 implements the AX.25 address encoding and UI-frame
// assembly/parsing used to carry APRS packets over a KISS link.
package ax25

import (
	"fmt"

	"github.com/gmcintire/aprstx/internal/callsign"
)

const (
	ControlUI = 0x03
	PIDNoL3   = 0xF0

	addrLen  = 7
	maxAddrs = 10 // dest + src + up to 8 digis
	maxDigis = 8
)

// EncodeAddress packs one AX.25 address field: 6 base-call bytes
// (left-shifted, space padded) plus the SSID/command-response/reserved
// byte. last marks end-of-address (low bit set).
func EncodeAddress(c callsign.Callsign, used bool, last bool) ([addrLen]byte, error) {
	var out [addrLen]byte
	base := c.Base
	if len(base) > 6 {
		return out, fmt.Errorf("ax25: base call %q too long", base)
	}
	for i := 0; i < 6; i++ {
		ch := byte(' ')
		if i < len(base) {
			ch = base[i]
		}
		out[i] = ch << 1
	}

	b := byte(0x60) // reserved bits per convention; 0x80 is set only for used
	b |= byte(c.SSID) << 1
	if used {
		b |= 0x80
	}
	if last {
		b |= 0x01
	}
	out[6] = b
	return out, nil
}

// DecodeAddress unpacks one 7-byte AX.25 address field.
func DecodeAddress(b [addrLen]byte) (c callsign.Callsign, used bool, last bool) {
	var base [6]byte
	for i := 0; i < 6; i++ {
		base[i] = b[i] >> 1
	}
	baseStr := trimTrailingSpace(base[:])
	ssid := int((b[6] >> 1) & 0x0F)
	used = b[6]&0x80 != 0
	last = b[6]&0x01 != 0
	return callsign.Callsign{Base: baseStr, SSID: ssid}, used, last
}

func trimTrailingSpace(b []byte) string {
	n := len(b)
	for n > 0 && b[n-1] == ' ' {
		n--
	}
	return string(b[:n])
}

// Frame is an assembled AX.25 UI frame destined for, or received from, a
// KISS link.
type Frame struct {
	Destination callsign.Callsign
	Source      callsign.Callsign
	Digis       []callsign.PathElement // WIDEn-N aliases travel as base "WIDEn" with SSID N
	Payload     []byte
}

// Encode serializes a Frame into raw AX.25 bytes: destination, source,
// up to 8 digipeater addresses, control 0x03, PID 0xF0, payload.
func Encode(f Frame) ([]byte, error) {
	if len(f.Digis) > maxDigis {
		return nil, fmt.Errorf("ax25: %d digipeater addresses exceeds max %d", len(f.Digis), maxDigis)
	}

	out := make([]byte, 0, addrLen*(2+len(f.Digis))+2+len(f.Payload))

	dest, err := EncodeAddress(f.Destination, false, false)
	if err != nil {
		return nil, err
	}
	out = append(out, dest[:]...)

	src, err := EncodeAddress(f.Source, false, len(f.Digis) == 0)
	if err != nil {
		return nil, err
	}
	out = append(out, src[:]...)

	for i, d := range f.Digis {
		isLast := i == len(f.Digis)-1
		call := d.Call
		if d.Wide {
			call = d.WideBaseCallsign()
		}
		addr, err := EncodeAddress(call, d.Used, isLast)
		if err != nil {
			return nil, err
		}
		out = append(out, addr[:]...)
	}

	out = append(out, ControlUI, PIDNoL3)
	out = append(out, f.Payload...)
	return out, nil
}

// Decode parses raw AX.25 bytes into a Frame. It tolerates the H-bit set
// on digipeated addresses and preserves it on the returned PathElements.
func Decode(raw []byte) (Frame, error) {
	if len(raw) < addrLen*2+2 {
		return Frame{}, fmt.Errorf("ax25: frame too short (%d bytes)", len(raw))
	}

	var addrs [][addrLen]byte
	pos := 0
	for {
		if pos+addrLen > len(raw) {
			return Frame{}, fmt.Errorf("ax25: truncated address field")
		}
		var a [addrLen]byte
		copy(a[:], raw[pos:pos+addrLen])
		addrs = append(addrs, a)
		pos += addrLen

		last := a[6]&0x01 != 0
		if last {
			break
		}
		if len(addrs) >= maxAddrs {
			return Frame{}, fmt.Errorf("ax25: too many addresses, missing end-of-address bit")
		}
	}

	if len(addrs) < 2 {
		return Frame{}, fmt.Errorf("ax25: end-of-address bit before source address")
	}
	if pos+2 > len(raw) {
		return Frame{}, fmt.Errorf("ax25: missing control/PID bytes")
	}
	control := raw[pos]
	pid := raw[pos+1]
	pos += 2
	if control != ControlUI {
		return Frame{}, fmt.Errorf("ax25: unsupported control byte 0x%02x", control)
	}
	if pid != PIDNoL3 {
		return Frame{}, fmt.Errorf("ax25: unsupported PID byte 0x%02x", pid)
	}

	dest, _, _ := DecodeAddress(addrs[0])
	src, _, _ := DecodeAddress(addrs[1])

	var digis []callsign.PathElement
	for _, a := range addrs[2:] {
		c, used, _ := DecodeAddress(a)
		if el, ok := callsign.ParseWideBase(c, used); ok {
			digis = append(digis, el)
			continue
		}
		digis = append(digis, callsign.NewLiteral(c, used))
	}

	return Frame{
		Destination: dest,
		Source:      src,
		Digis:       digis,
		Payload:     append([]byte(nil), raw[pos:]...),
	}, nil
}
