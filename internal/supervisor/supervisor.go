// Package supervisor starts every long-lived task, wires the router's
// ingress/egress channels to the serial ports and the APRS-IS client,
// and owns orderly shutdown with a bounded grace period.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/gmcintire/aprstx/internal/aprsis"
	"github.com/gmcintire/aprstx/internal/beacon"
	"github.com/gmcintire/aprstx/internal/callsign"
	"github.com/gmcintire/aprstx/internal/config"
	"github.com/gmcintire/aprstx/internal/dedupe"
	"github.com/gmcintire/aprstx/internal/digipeater"
	"github.com/gmcintire/aprstx/internal/discovery"
	"github.com/gmcintire/aprstx/internal/geo"
	"github.com/gmcintire/aprstx/internal/logx"
	"github.com/gmcintire/aprstx/internal/mheard"
	"github.com/gmcintire/aprstx/internal/packetlog"
	"github.com/gmcintire/aprstx/internal/pfilter"
	"github.com/gmcintire/aprstx/internal/ptt"
	"github.com/gmcintire/aprstx/internal/router"
	"github.com/gmcintire/aprstx/internal/serialport"
)

// GracePeriod bounds how long shutdown waits for tasks to drain
// before giving up on them.
const GracePeriod = 10 * time.Second

// Supervisor owns every long-lived task's lifecycle.
type Supervisor struct {
	cfg config.Config
	mc  callsign.Callsign

	hub    *router.Hub
	dedup  *dedupe.Detector
	ports  []*serialport.Port
	is     *aprsis.Client
	mheard *mheard.Table
	plog   *packetlog.Logger
	beacon *beacon.Beacon
	gps    beacon.Source

	wg sync.WaitGroup
}

// Option configures optional collaborators New cannot construct
// itself: GPS position providers supply a lazy stream of fixes and
// are injected by the hosting binary.
type Option func(*Supervisor)

// WithGPSSource wires a GPS fix source into the smart-beacon scheduler.
// Without one, a configured beacon is built but never driven, matching
// a fixed station with no position source running headless.
func WithGPSSource(src beacon.Source) Option {
	return func(s *Supervisor) { s.gps = src }
}

// New wires every component from cfg but starts nothing; call Run to
// start all tasks.
func New(cfg config.Config, opts ...Option) (*Supervisor, error) {
	mc, err := callsign.ParseCallsign(cfg.MyCall)
	if err != nil {
		return nil, err
	}

	dedupWindow := cfg.Digipeater.DedupWindow.Std()
	if dedupWindow <= 0 {
		dedupWindow = 30 * time.Second
	}
	dedup := dedupe.New(dedupWindow)

	pf := &pfilter.Engine{
		DigipeatDefaultForNOGATE: cfg.Digipeater.DigipeatNogate,
		AllowISOriginDigipeat:    cfg.Digipeater.AllowISOriginDigipeat,
	}
	if cfg.Area.RangeCheck || len(cfg.Area.Whitelist) > 0 || len(cfg.Area.Blacklist) > 0 {
		pf.Area = pfilter.AreaRule{
			Whitelist:  cfg.Area.Whitelist,
			Blacklist:  cfg.Area.Blacklist,
			RangeCheck: cfg.Area.RangeCheck,
			Reference:  geo.Position{Lat: cfg.Area.ReferenceLat, Lon: cfg.Area.ReferenceLon},
			MaxRangeKm: cfg.Area.MaxRangeKm,
		}
	}

	var digi *digipeater.Digipeater
	if cfg.Digipeater.Enabled {
		digi = digipeater.New(digipeater.Config{
			MyCall:       mc,
			Aliases:      cfg.Digipeater.Aliases,
			MaxHops:      cfg.Digipeater.MaxHops,
			ViscousDelay: cfg.Digipeater.ViscousDelay.Std(),
		}, 64)
	}

	hub := router.NewHub(dedup, pf, digi, mc, 256)

	s := &Supervisor{cfg: cfg, mc: mc, hub: hub, dedup: dedup}

	for _, spCfg := range cfg.SerialPorts {
		backend, err := buildPTT(spCfg.PTT)
		if err != nil {
			return nil, err
		}
		proto := serialport.ProtocolKISS
		if spCfg.Protocol == "tnc2" {
			proto = serialport.ProtocolTNC2Text
		}
		pttLine := ""
		if spCfg.PTT.Method == "rts" || spCfg.PTT.Method == "dtr" {
			pttLine = spCfg.PTT.Method
		}
		port := serialport.New(serialport.Config{
			ID:          spCfg.ID,
			Device:      spCfg.Device,
			Baud:        spCfg.Baud,
			Protocol:    proto,
			TxEnable:    spCfg.TxEnable,
			RxEnable:    spCfg.RxEnable,
			PTTLine:     pttLine,
			PTTInverted: spCfg.PTT.Inverted,
		}, backend, hub.Ingress())
		s.ports = append(s.ports, port)
		hub.AddRFEgress(port)
	}

	if cfg.AprsIs.Server != "" {
		s.is = aprsis.New(aprsis.Config{
			Server:          cfg.AprsIs.Server,
			Port:            cfg.AprsIs.Port,
			Callsign:        cfg.AprsIs.Callsign,
			Passcode:        cfg.AprsIs.Passcode,
			Filter:          cfg.AprsIs.Filter,
			TxEnable:        cfg.AprsIs.TxEnable,
			RxEnable:        cfg.AprsIs.RxEnable,
			ReadIdleTimeout: cfg.AprsIs.KeepaliveTimeout.Std(),
		}, 64)
		hub.SetISEgress(s.is)
	}

	s.mheard = mheard.New()
	hub.AddSink(s.mheard.Observe)

	if cfg.PacketLog.Enabled {
		plog, err := packetlog.New(cfg.PacketLog.Dir, "")
		if err != nil {
			return nil, err
		}
		s.plog = plog
		hub.AddSink(s.plog.Observe)
	}

	if cfg.Beacon.Symbol != "" {
		s.beacon = beacon.New(beacon.Config{
			MyCall:  mc,
			Symbol:  cfg.Beacon.Symbol,
			Comment: cfg.Beacon.Comment,
			Path:    cfg.Beacon.Path,
			SmartBeacon: beacon.SmartBeacon{
				LowSpeedMPH:  cfg.Beacon.SmartBeacon.LowSpeed,
				HighSpeedMPH: cfg.Beacon.SmartBeacon.HighSpeed,
				SlowRate:     cfg.Beacon.SmartBeacon.SlowRate.Std(),
				FastRate:     cfg.Beacon.SmartBeacon.FastRate.Std(),
				TurnMinAngle: cfg.Beacon.SmartBeacon.TurnMinAngle,
				TurnSlope:    cfg.Beacon.SmartBeacon.TurnSlope,
				TurnTimeMin:  cfg.Beacon.SmartBeacon.TurnTimeMin.Std(),
			},
		})
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func buildPTT(cfg config.PTTConfig) (ptt.Backend, error) {
	switch cfg.Method {
	case "", "none", "rts", "dtr":
		// rts/dtr key the port's own control lines; the serial port
		// task builds that backend once the device is open.
		return ptt.None{}, nil
	case "gpio":
		return ptt.NewGPIO(cfg.GPIO.Chip, cfg.GPIO.Line, cfg.Inverted)
	case "hamlib":
		return ptt.NewHamlib(cfg.Hamlib.RigModel, cfg.Hamlib.Device)
	default:
		return ptt.None{}, nil
	}
}

// Run starts every task and blocks until ctx is cancelled, then waits
// up to GracePeriod for them to finish before returning.
func (s *Supervisor) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.hub.Run(runCtx) }()

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.dedup.Run(runCtx.Done(), time.Second) }()

	if releases := s.hub.DigipeaterReleases(); releases != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-runCtx.Done():
					return
				case rp := <-releases:
					select {
					case s.hub.Ingress() <- rp:
					case <-runCtx.Done():
						return
					}
				}
			}
		}()
	}

	for _, p := range s.ports {
		p := p
		s.wg.Add(1)
		go func() { defer s.wg.Done(); p.Run(runCtx) }()
	}

	if s.is != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.is.Run(runCtx, s.hub.Ingress()) }()
	}

	if s.beacon != nil && s.gps != nil {
		s.wg.Add(1)
		go func() { defer s.wg.Done(); s.beacon.Run(runCtx, s.gps, s.hub.Ingress()) }()
	}

	if s.cfg.Discovery.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := discovery.Announce(runCtx, s.cfg.Discovery.ServiceName, s.cfg.Discovery.Port); err != nil {
				logx.Warn("discovery announce failed", "err", err)
			}
		}()
	}

	<-ctx.Done()
	logx.Info("shutdown signal received, draining tasks", "grace_period", GracePeriod)
	cancel()

	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-done:
		logx.Info("all tasks stopped")
	case <-time.After(GracePeriod):
		logx.Warn("grace period elapsed, forcing exit")
	}

	if s.plog != nil {
		s.plog.Close()
	}
}
