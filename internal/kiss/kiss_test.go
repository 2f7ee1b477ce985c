package kiss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func feedAll(d *Decoder, stream []byte) ([]Frame, []error) {
	var frames []Frame
	var errs []error
	for _, b := range stream {
		f, ferr := d.Feed(b)
		if ferr != nil {
			errs = append(errs, ferr)
			continue
		}
		if f != nil {
			frames = append(frames, *f)
		}
	}
	return frames, errs
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte{0x00, 0xC0, 0xDB, 0xDC, 0xDD, 0x01, 0x02}
	encoded := Encode(3, payload)

	frames, errs := Decode(encoded)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, 3, frames[0].Channel)
	assert.Equal(t, CmdDataFrame, frames[0].Command)
	assert.Equal(t, payload, frames[0].Payload)
}

func TestEmptyFramesIgnored(t *testing.T) {
	stream := []byte{FEND, FEND, FEND}
	frames, errs := Decode(stream)
	assert.Empty(t, frames)
	assert.Empty(t, errs)
}

func TestDecoderResyncsAfterBadEscape(t *testing.T) {
	d := NewDecoder()
	bad := []byte{FEND, 0x00, FESC, 0x99, FEND}
	good := Encode(0, []byte("hello"))

	_, errs := feedAll(d, bad)
	assert.Len(t, errs, 1)

	frames, errs2 := feedAll(d, good)
	assert.Empty(t, errs2)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("hello"), frames[0].Payload)
}

func TestKissEscapeTransparencyProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(rt, "n")
		body := make([]byte, n)
		for i := range body {
			body[i] = byte(rapid.IntRange(0, 255).Draw(rt, "byte"))
		}
		channel := rapid.IntRange(0, 15).Draw(rt, "channel")

		encoded := Encode(channel, body)
		frames, errs := Decode(encoded)
		require.Empty(rt, errs)
		require.Len(rt, frames, 1)
		assert.Equal(rt, channel, frames[0].Channel)
		assert.Equal(rt, body, frames[0].Payload)
	})
}
