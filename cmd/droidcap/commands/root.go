package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/droidcap/droidcap/internal/capture"
	_ "github.com/droidcap/droidcap/internal/capture/backends" // register backends
	"github.com/droidcap/droidcap/internal/config"
	"github.com/droidcap/droidcap/internal/device"
	"github.com/droidcap/droidcap/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "droidcap",
		Short: "droidcap - screen capture for Android devices and emulators",
		Long: `droidcap captures the screen of a connected Android device through
interchangeable backends, trading off latency, fidelity, and setup cost:

  minicap       streamed raw RGBA over a forwarded socket (lowest latency)
  screenrecord  streamed H264, decoded locally
  droidcast     HTTP polling via an on-device APK
  adbcap        one-shot screencap, zero setup`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/droidcap/config.yaml)")
	rootCmd.PersistentFlags().StringP("serial", "s", "", "device serial number")
	rootCmd.PersistentFlags().String("backend", "", "capture backend (auto, minicap, screenrecord, droidcast, adbcap)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "human-friendly log output")

	viper.BindPFlag("serial", rootCmd.PersistentFlags().Lookup("serial"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig merges the config file with flag overrides and initializes
// logging
func loadConfig() (*config.Config, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := mgr.Get()

	if v := viper.GetString("serial"); v != "" {
		cfg.Serial = v
	}
	if v := viper.GetString("backend"); v != "" {
		cfg.Backend = config.Backend(v)
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}

	pretty, _ := rootCmd.PersistentFlags().GetBool("pretty")
	logger.Init(cfg.LogLevel, pretty)
	return cfg, nil
}

// newCapturer builds the device handle and selects a backend per config
func newCapturer(cfg *config.Config) (capture.Capturer, device.Device, error) {
	dev, err := device.NewADB(cfg.Serial, "")
	if err != nil {
		return nil, nil, err
	}
	c, err := capture.New(dev, cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, dev, nil
}
