package capture

import (
	"fmt"

	"github.com/droidcap/droidcap/internal/config"
	"github.com/droidcap/droidcap/internal/device"
	"github.com/droidcap/droidcap/internal/logger"
)

// Factory builds a backend for a device. Registered by New's callers via
// Backends to avoid an import cycle between this package and the backend
// packages.
type Factory func(dev device.Device, cfg *config.Config) Capturer

// registry maps backend names to factories, in preference order for auto
// selection
var registry []struct {
	name    config.Backend
	factory Factory
}

// Register adds a backend factory. Preference order for auto selection
// follows registration order.
func Register(name config.Backend, f Factory) {
	registry = append(registry, struct {
		name    config.Backend
		factory Factory
	}{name, f})
}

// New selects and constructs a backend for the device. An explicit backend
// in the config is honored without an availability probe (its Start will
// report unsupported setups); auto selection probes registered backends in
// preference order and picks the first available one.
func New(dev device.Device, cfg *config.Config) (Capturer, error) {
	log := logger.WithComponent("capture-router")

	if cfg.Backend != config.BackendAuto && cfg.Backend != "" {
		for _, e := range registry {
			if e.name == cfg.Backend {
				log.Info().Str("backend", string(e.name)).Msg("Using configured backend")
				return e.factory(dev, cfg), nil
			}
		}
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Backend)
	}

	for _, e := range registry {
		c := e.factory(dev, cfg)
		if c.IsAvailable() {
			log.Info().Str("backend", c.Name()).Msg("Auto-selected backend")
			return c, nil
		}
		log.Debug().Str("backend", c.Name()).Msg("Backend unavailable, trying next")
	}

	return nil, fmt.Errorf("no capture backends available for device %s", dev.Serial())
}
