// Package backends registers every capture backend with the router.
// Importing it (for side effects) is what makes the backends selectable;
// keeping registration here avoids an import cycle between the router and
// the backend packages.
package backends

import (
	"github.com/droidcap/droidcap/internal/capture"
	"github.com/droidcap/droidcap/internal/capture/adbcap"
	"github.com/droidcap/droidcap/internal/capture/droidcast"
	"github.com/droidcap/droidcap/internal/capture/minicap"
	"github.com/droidcap/droidcap/internal/capture/screenrecord"
	"github.com/droidcap/droidcap/internal/config"
	"github.com/droidcap/droidcap/internal/device"
)

func init() {
	// Preference order for auto selection: lowest latency first, universal
	// fallback last.
	capture.Register(config.BackendMinicap, func(dev device.Device, cfg *config.Config) capture.Capturer {
		return minicap.New(dev, cfg.Minicap, cfg.BufferSize, true)
	})
	capture.Register(config.BackendScreenrecord, func(dev device.Device, cfg *config.Config) capture.Capturer {
		return screenrecord.New(dev, cfg.Screenrecord, cfg.BufferSize)
	})
	capture.Register(config.BackendDroidCast, func(dev device.Device, cfg *config.Config) capture.Capturer {
		return droidcast.New(dev, cfg.DroidCast, cfg.DroidCast.APK)
	})
	capture.Register(config.BackendADBCap, func(dev device.Device, cfg *config.Config) capture.Capturer {
		return adbcap.New(dev)
	})
}
