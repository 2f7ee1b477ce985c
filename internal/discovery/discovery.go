// Package discovery publishes an mDNS/DNS-SD record of the network
// KISS TNC service type for the configured name and port on the local
// network. It only announces; nothing in this daemon serves KISS over
// TCP on that port.
//
// It uses the pure-Go github.com/brutella/dnssd package, so no system
// mDNS daemon or C library is required.
package discovery

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"

	"github.com/gmcintire/aprstx/internal/logx"
)

// ServiceType is the conventional DNS-SD service type for a network
// KISS TNC.
const ServiceType = "_kiss-tnc._tcp"

// Announce registers name (defaulted if empty) at port and runs the
// mDNS responder until ctx is cancelled. It blocks; callers should run
// it in its own goroutine.
func Announce(ctx context.Context, name string, port int) error {
	cfg := serviceConfig(name, port)
	svc, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("discovery: create service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("discovery: create responder: %w", err)
	}

	if _, err := rp.Add(svc); err != nil {
		return fmt.Errorf("discovery: add service: %w", err)
	}

	logx.Info("dns-sd: announcing", "name", cfg.Name, "type", ServiceType, "port", port)
	return rp.Respond(ctx)
}

func serviceConfig(name string, port int) dnssd.Config {
	if name == "" {
		name = "aprstx"
	}
	return dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
	}
}
