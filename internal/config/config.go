// Package config loads the immutable, startup-only Config value from
// a YAML file. The daemon is parameterized once per process lifetime;
// there is no reload path.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration decodes a YAML scalar as either a Go duration string ("90s",
// "5m") or a bare number of seconds, since yaml.v3 has no native
// time.Duration support.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := value.Value
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(n * float64(time.Second)))
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SerialPortConfig describes one configured TNC.
type SerialPortConfig struct {
	ID       string    `yaml:"id"`
	Device   string    `yaml:"device"`
	Baud     int       `yaml:"baud"`
	Protocol string    `yaml:"protocol"` // "kiss" or "tnc2"
	TxEnable bool      `yaml:"tx_enable"`
	RxEnable bool      `yaml:"rx_enable"`
	PTT      PTTConfig `yaml:"ptt"`
}

// PTTConfig selects and parameterizes a transmit-key backend. "rts"
// and "dtr" key the port's own modem-control lines and need no
// further parameters beyond inverted.
type PTTConfig struct {
	Method   string `yaml:"method"` // "", "none", "rts", "dtr", "gpio", "hamlib"
	Inverted bool   `yaml:"inverted"`
	GPIO     struct {
		Chip string `yaml:"chip"`
		Line int    `yaml:"line"`
	} `yaml:"gpio"`
	Hamlib struct {
		RigModel int    `yaml:"rig_model"`
		Device   string `yaml:"device"`
	} `yaml:"hamlib"`
}

// AprsIsConfig configures the persistent APRS-IS client.
type AprsIsConfig struct {
	Server           string   `yaml:"server"`
	Port             int      `yaml:"port"`
	Callsign         string   `yaml:"callsign"`
	Passcode         string   `yaml:"passcode"`
	Filter           string   `yaml:"filter"`
	TxEnable         bool     `yaml:"tx_enable"`
	RxEnable         bool     `yaml:"rx_enable"`
	KeepaliveTimeout Duration `yaml:"keepalive_timeout"`
}

// DigipeaterConfig configures WIDEn-N digipeating.
type DigipeaterConfig struct {
	Enabled               bool     `yaml:"enabled"`
	Aliases               []string `yaml:"aliases"`
	ViscousDelay          Duration `yaml:"viscous_delay"`
	MaxHops               int      `yaml:"max_hops"`
	DedupWindow           Duration `yaml:"dedup_window"`
	DigipeatNogate        bool     `yaml:"digipeat_nogate"`
	AllowISOriginDigipeat bool     `yaml:"allow_is_origin_digipeat"`
}

// SmartBeaconConfig parameterizes the adaptive beacon rate.
type SmartBeaconConfig struct {
	LowSpeed     float64  `yaml:"low_speed"`
	HighSpeed    float64  `yaml:"high_speed"`
	SlowRate     Duration `yaml:"slow_rate"`
	FastRate     Duration `yaml:"fast_rate"`
	TurnMinAngle float64  `yaml:"turn_min_angle"`
	TurnSlope    float64  `yaml:"turn_slope"`
	TurnTimeMin  Duration `yaml:"turn_time_min"`
}

// BeaconConfig configures the self-position beacon, static fields plus
// smart-beacon adaptive timing.
type BeaconConfig struct {
	Symbol      string            `yaml:"symbol"`
	Comment     string            `yaml:"comment"`
	Path        []string          `yaml:"path"`
	SmartBeacon SmartBeaconConfig `yaml:"smart_beacon"`
}

// AreaFilterConfig configures IS->RF area admission. The whitelist and
// blacklist are applied. The range fields are passed to the filter
// engine without a packet position extractor, so no packet is ever
// rejected for being out of range.
type AreaFilterConfig struct {
	Whitelist    []string `yaml:"whitelist"`
	Blacklist    []string `yaml:"blacklist"`
	RangeCheck   bool     `yaml:"range_check"`
	ReferenceLat float64  `yaml:"reference_lat"`
	ReferenceLon float64  `yaml:"reference_lon"`
	MaxRangeKm   float64  `yaml:"max_range_km"`
}

// DiscoveryConfig configures optional LAN service announcement.
type DiscoveryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
	Port        int    `yaml:"port"`
}

// PacketLogConfig configures the optional daily-rotated CSV packet log.
type PacketLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Config is the immutable, startup-only configuration for the daemon. It
// is parameterized once per process lifetime; hot reload is an explicit
// non-goal.
type Config struct {
	MyCall      string             `yaml:"mycall"`
	SerialPorts []SerialPortConfig `yaml:"serial_ports"`
	AprsIs      AprsIsConfig       `yaml:"aprs_is"`
	Digipeater  DigipeaterConfig   `yaml:"digipeater"`
	Beacon      BeaconConfig       `yaml:"beacon"`
	Area        AreaFilterConfig   `yaml:"area_filter"`
	Discovery   DiscoveryConfig    `yaml:"discovery"`
	PacketLog   PacketLogConfig    `yaml:"packet_log"`

	// Overlaid from CLI flags, not from the file.
	Debug      bool `yaml:"-"`
	Foreground bool `yaml:"-"`
	DryRun     bool `yaml:"-"`
}

func defaults() Config {
	var c Config
	c.Digipeater.DedupWindow = Duration(30 * time.Second)
	c.Digipeater.MaxHops = 7
	c.AprsIs.KeepaliveTimeout = Duration(120 * time.Second)
	c.AprsIs.Port = 14580
	return c
}

// Load reads and parses the YAML configuration file at path, applying
// defaults first. A missing or malformed file is a ConfigError, fatal
// at startup.
func Load(path string) (Config, error) {
	c := defaults()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}

	if err := c.Validate(); err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}

	return c, nil
}

// Validate checks the minimal invariants needed before any component can
// start: a non-empty mycall and unique serial port IDs.
func (c Config) Validate() error {
	if c.MyCall == "" {
		return fmt.Errorf("mycall is required")
	}
	seen := make(map[string]bool, len(c.SerialPorts))
	for _, sp := range c.SerialPorts {
		if sp.ID == "" {
			return fmt.Errorf("serial port missing id")
		}
		if seen[sp.ID] {
			return fmt.Errorf("duplicate serial port id %q", sp.ID)
		}
		seen[sp.ID] = true
	}
	return nil
}

// ConfigError wraps a startup configuration failure, the only fatal
// error kind; the caller should exit with code 1.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
