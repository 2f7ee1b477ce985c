// Package packetlog writes every routed packet to a daily-rotated CSV
// file, one row per packet, for later import into a spreadsheet or a
// mapping tool.
package packetlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lestrrat-go/strftime"

	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/packet"
)

var header = []string{
	"utime", "isotime", "origin", "source", "destination", "path", "payload",
}

// Logger appends one CSV row per observed packet to a daily-rotated
// file under Dir, named by Pattern (strftime format, default
// "%Y-%m-%d.log").
type Logger struct {
	dir     string
	pattern *strftime.Strftime

	mu       sync.Mutex
	f        *os.File
	w        *csv.Writer
	openName string
}

// New creates a Logger writing under dir. pattern is an strftime
// format string; an empty pattern defaults to "%Y-%m-%d.log".
func New(dir, pattern string) (*Logger, error) {
	if pattern == "" {
		pattern = "%Y-%m-%d.log"
	}
	p, err := strftime.New(pattern)
	if err != nil {
		return nil, fmt.Errorf("packetlog: bad pattern %q: %w", pattern, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("packetlog: mkdir %s: %w", dir, err)
	}
	return &Logger{dir: dir, pattern: p}, nil
}

// Observe appends rp as one CSV row, rotating to a new file if the
// day has changed since the last write. Matches the router's
// AddSink(func(RoutedPacket)) signature.
func (l *Logger) Observe(rp packet.RoutedPacket) {
	l.mu.Lock()
	defer l.mu.Unlock()

	name := l.pattern.FormatString(rp.ReceivedAt.UTC())
	if l.f == nil || name != l.openName {
		if err := l.rotate(name); err != nil {
			return
		}
	}

	row := []string{
		fmt.Sprintf("%d", rp.ReceivedAt.Unix()),
		rp.ReceivedAt.UTC().Format("2006-01-02T15:04:05Z"),
		rp.Origin.String(),
		rp.Packet.Source.String(),
		rp.Packet.Destination.String(),
		pathSummary(rp.Packet),
		string(rp.Packet.Payload),
	}
	if err := l.w.Write(row); err != nil {
		return
	}
	l.w.Flush()
}

func (l *Logger) rotate(name string) error {
	if l.f != nil {
		l.w.Flush()
		l.f.Close()
	}

	full := filepath.Join(l.dir, name)
	_, statErr := os.Stat(full)
	alreadyThere := statErr == nil

	f, err := os.OpenFile(full, os.O_RDWR|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		l.f, l.w, l.openName = nil, nil, ""
		return fmt.Errorf("packetlog: open %s: %w", full, err)
	}

	l.f = f
	l.w = csv.NewWriter(f)
	l.openName = name

	if !alreadyThere {
		if err := l.w.Write(header); err == nil {
			l.w.Flush()
		}
	}
	return nil
}

// Close flushes and closes the currently open log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	l.w.Flush()
	err := l.f.Close()
	l.f, l.w, l.openName = nil, nil, ""
	return err
}

func pathSummary(p callsign.AprsPacket) string {
	toks := make([]string, len(p.Path))
	for i, el := range p.Path {
		toks[i] = el.String()
	}
	return strings.Join(toks, ",")
}
