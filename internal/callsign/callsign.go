// Package callsign implements the APRS address and packet text model:
// callsigns, WIDEn-N path elements, and TNC2-line parsing/rendering.
package callsign

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var wideRe = regexp.MustCompile(`^WIDE([1-7])-([0-7])$`)
var baseCallRe = regexp.MustCompile(`^[A-Z0-9]{1,6}$`)

// Callsign is a base call of 1-6 uppercase alphanumerics plus an optional
// SSID in 0-15. Identity equality never considers the digipeated marker.
type Callsign struct {
	Base string
	SSID int // 0-15
}

// ParseCallsign accepts "BASE" or "BASE-SSID", case-insensitive on input.
func ParseCallsign(s string) (Callsign, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Callsign{}, &ParseError{Kind: ErrEmptySource}
	}
	for _, r := range s {
		if r > 0x7f {
			return Callsign{}, &ParseError{Kind: ErrNonASCII}
		}
	}

	base := s
	ssid := 0
	if i := strings.IndexByte(s, '-'); i >= 0 {
		base = s[:i]
		ssidStr := s[i+1:]
		n, err := strconv.Atoi(ssidStr)
		if err != nil || n < 0 || n > 15 || ssidStr == "" {
			return Callsign{}, &ParseError{Kind: ErrBadSSID}
		}
		ssid = n
	}

	if !baseCallRe.MatchString(base) {
		return Callsign{}, &ParseError{Kind: ErrBadBase}
	}

	return Callsign{Base: base, SSID: ssid}, nil
}

// String renders BASE or BASE-SSID, the exact inverse of ParseCallsign for
// well-formed input.
func (c Callsign) String() string {
	if c.SSID == 0 {
		return c.Base
	}
	return fmt.Sprintf("%s-%d", c.Base, c.SSID)
}

// Equal compares identity only; a digipeated marker is not part of it.
func (c Callsign) Equal(o Callsign) bool {
	return c.Base == o.Base && c.SSID == o.SSID
}

// PathElement is either a literal callsign (possibly marked used) or a
// WIDEn-N alias.
type PathElement struct {
	Call Callsign // zero value when Wide is true and alias form is used
	Used bool     // the '*' marker

	Wide  bool
	WideN int // original hop width, 1-7
	WideH int // remaining hops, 0-7, WideH <= WideN
}

// NewLiteral builds a literal path element.
func NewLiteral(c Callsign, used bool) PathElement {
	return PathElement{Call: c, Used: used}
}

// NewWide builds a WIDEn-N alias path element.
func NewWide(n, h int, used bool) PathElement {
	return PathElement{Wide: true, WideN: n, WideH: h, Used: used}
}

// WideBaseCallsign renders a WIDE alias as the "WIDEn" base call plus a
// numeric SSID of h, the form AX.25 address fields use on the wire
// (there being no textual "-" separator in a 7-byte address): e.g.
// WIDE2-1 becomes base "WIDE2", SSID 1.
func (p PathElement) WideBaseCallsign() Callsign {
	return Callsign{Base: fmt.Sprintf("WIDE%d", p.WideN), SSID: p.WideH}
}

var wideBaseRe = regexp.MustCompile(`^WIDE([1-7])$`)

// ParseWideBase recognizes an AX.25-decoded address whose base call is
// "WIDEn" and SSID encodes the remaining hop count N, reconstructing the
// WIDEn-N alias that address represents on the wire.
func ParseWideBase(c Callsign, used bool) (PathElement, bool) {
	m := wideBaseRe.FindStringSubmatch(c.Base)
	if m == nil {
		return PathElement{}, false
	}
	n, _ := strconv.Atoi(m[1])
	if c.SSID > n {
		return PathElement{}, false
	}
	return NewWide(n, c.SSID, used), true
}

// Consumed reports whether this element can no longer be matched for
// digipeating: a literal already used, or a WIDE alias whose N has reached
// zero.
func (p PathElement) Consumed() bool {
	if p.Wide {
		return p.WideH == 0
	}
	return p.Used
}

func (p PathElement) String() string {
	var s string
	if p.Wide {
		s = fmt.Sprintf("WIDE%d-%d", p.WideN, p.WideH)
	} else {
		s = p.Call.String()
	}
	if p.Used {
		s += "*"
	}
	return s
}

var qConstructRe = regexp.MustCompile(`^q[A-Z]{2}$`)

// ParsePathElement parses one comma-separated path token, recognizing the
// WIDEn-N alias form and a trailing '*' used-marker. APRS-IS q-constructs
// (qAC, qAR, ...) keep their lowercase 'q' so the path renders unchanged.
func ParsePathElement(tok string) (PathElement, error) {
	tok = strings.TrimSpace(tok)
	if q := strings.TrimSuffix(tok, "*"); qConstructRe.MatchString(q) {
		return PathElement{Call: Callsign{Base: q}, Used: len(q) != len(tok)}, nil
	}
	tok = strings.ToUpper(tok)
	if tok == "" {
		return PathElement{}, &ParseError{Kind: ErrBadPath}
	}
	used := strings.HasSuffix(tok, "*")
	if used {
		tok = tok[:len(tok)-1]
	}

	if m := wideRe.FindStringSubmatch(tok); m != nil {
		n, _ := strconv.Atoi(m[1])
		h, _ := strconv.Atoi(m[2])
		if h > n {
			return PathElement{}, &ParseError{Kind: ErrBadWide}
		}
		return PathElement{Wide: true, WideN: n, WideH: h, Used: used}, nil
	}

	c, err := ParseCallsign(tok)
	if err != nil {
		return PathElement{}, err
	}
	return PathElement{Call: c, Used: used}, nil
}

// AprsPacket is a parsed TNC2-style APRS frame.
type AprsPacket struct {
	Source      Callsign
	Destination Callsign
	Path        []PathElement // 0-8 elements
	Payload     []byte        // raw information field, preserved verbatim
}

const maxPathLen = 8

// PayloadKind is an advisory discriminator over the raw payload bytes.
type PayloadKind int

const (
	PayloadOther PayloadKind = iota
	PayloadPosition
	PayloadMessage
	PayloadTelemetry
	PayloadStatus
	PayloadThirdParty
)

// Kind inspects the payload's leading byte(s) to classify it. This is
// advisory only; callers must still treat Payload as authoritative bytes.
func (p AprsPacket) Kind() PayloadKind {
	if len(p.Payload) == 0 {
		return PayloadOther
	}
	switch p.Payload[0] {
	case '!', '=', '/', '@':
		return PayloadPosition
	case ':':
		return PayloadMessage
	case 'T':
		return PayloadTelemetry
	case '>':
		return PayloadStatus
	case '}':
		return PayloadThirdParty
	default:
		return PayloadOther
	}
}

// Parse parses "SRC>DEST,PATH:PAYLOAD" into an AprsPacket.
func Parse(line string) (AprsPacket, error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return AprsPacket{}, &ParseError{Kind: ErrNoColon}
	}
	header := line[:colon]
	payload := line[colon+1:]

	gt := strings.IndexByte(header, '>')
	if gt < 0 {
		return AprsPacket{}, &ParseError{Kind: ErrNoSource, Offset: 0}
	}
	srcStr := header[:gt]
	if srcStr == "" {
		return AprsPacket{}, &ParseError{Kind: ErrEmptySource}
	}
	src, err := ParseCallsign(srcStr)
	if err != nil {
		return AprsPacket{}, err
	}

	rest := header[gt+1:]
	destAndPath := strings.Split(rest, ",")
	if destAndPath[0] == "" {
		return AprsPacket{}, &ParseError{Kind: ErrNoDest}
	}
	dest, err := ParseCallsign(destAndPath[0])
	if err != nil {
		return AprsPacket{}, err
	}

	var path []PathElement
	for _, tok := range destAndPath[1:] {
		if tok == "" {
			continue
		}
		el, err := ParsePathElement(tok)
		if err != nil {
			return AprsPacket{}, err
		}
		path = append(path, el)
	}
	if len(path) > maxPathLen {
		return AprsPacket{}, &ParseError{Kind: ErrPathTooLong}
	}

	return AprsPacket{
		Source:      src,
		Destination: dest,
		Path:        path,
		Payload:     []byte(payload),
	}, nil
}

// String renders the packet back to TNC2 text, the exact inverse of Parse
// for well-formed input.
func (p AprsPacket) String() string {
	var b strings.Builder
	b.WriteString(p.Source.String())
	b.WriteByte('>')
	b.WriteString(p.Destination.String())
	for _, el := range p.Path {
		b.WriteByte(',')
		b.WriteString(el.String())
	}
	b.WriteByte(':')
	b.Write(p.Payload)
	return b.String()
}

// Clone deep-copies the packet so callers may rewrite Path without
// aliasing the original.
func (p AprsPacket) Clone() AprsPacket {
	path := make([]PathElement, len(p.Path))
	copy(path, p.Path)
	payload := make([]byte, len(p.Payload))
	copy(payload, p.Payload)
	return AprsPacket{Source: p.Source, Destination: p.Destination, Path: path, Payload: payload}
}
