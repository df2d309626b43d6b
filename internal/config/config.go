package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/droidcap/droidcap/internal/logger"
)

// Backend identifies a capture backend implementation
type Backend string

const (
	BackendAuto         Backend = "auto"
	BackendMinicap      Backend = "minicap"
	BackendScreenrecord Backend = "screenrecord"
	BackendADBCap       Backend = "adbcap"
	BackendDroidCast    Backend = "droidcast"
)

// MinicapConfig holds settings for the minicap streaming backend
type MinicapConfig struct {
	Quality   int    `json:"quality" yaml:"quality"`       // JPEG quality 1-100 (one-shot mode)
	Rate      int    `json:"rate" yaml:"rate"`             // capture frame rate, 0 = device default
	SkipFrame bool   `json:"skip_frame" yaml:"skip_frame"` // drop frames rather than block the encoder
	BinDir    string `json:"bin_dir" yaml:"bin_dir"`       // local dir holding minicap prebuilts
}

// ScreenrecordConfig holds settings for the H264 screenrecord backend
type ScreenrecordConfig struct {
	Bitrate   string `json:"bitrate" yaml:"bitrate"`       // e.g. "20M"
	Width     int    `json:"width" yaml:"width"`           // 0 = device width
	Height    int    `json:"height" yaml:"height"`         // 0 = device height
	TimeLimit int    `json:"time_limit" yaml:"time_limit"` // seconds, screenrecord caps at 180
	FFmpeg    string `json:"ffmpeg" yaml:"ffmpeg"`         // decoder binary path
}

// DroidCastConfig holds settings for the HTTP polling backend
type DroidCastConfig struct {
	Port      int    `json:"port" yaml:"port"` // remote listen port
	TimeoutMs int    `json:"timeout_ms" yaml:"timeout_ms"`
	APK       string `json:"apk" yaml:"apk"` // local path of the DroidCast apk
}

// Config represents the application configuration
type Config struct {
	Serial       string             `json:"serial" yaml:"serial"`
	Backend      Backend            `json:"backend" yaml:"backend"`
	BufferSize   int                `json:"buffer_size" yaml:"buffer_size"` // frame buffer capacity
	ServerPort   int                `json:"server_port" yaml:"server_port"`
	LogLevel     string             `json:"log_level" yaml:"log_level"`
	Minicap      MinicapConfig      `json:"minicap" yaml:"minicap"`
	Screenrecord ScreenrecordConfig `json:"screenrecord" yaml:"screenrecord"`
	DroidCast    DroidCastConfig    `json:"droidcast" yaml:"droidcast"`
}

// Manager handles loading, saving and concurrent access to the configuration
type Manager struct {
	mu         sync.RWMutex
	config     *Config
	configPath string
}

// NewManager creates a config manager, loading the file at configPath if it
// exists. An empty configPath uses the default location.
func NewManager(configPath string) (*Manager, error) {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "droidcap", "config.yaml")
	}

	m := &Manager{
		config:     Defaults(),
		configPath: configPath,
	}

	if err := m.load(); err != nil {
		return nil, err
	}

	return m, nil
}

// Defaults returns the built-in configuration defaults
func Defaults() *Config {
	return &Config{
		Backend:    BackendAuto,
		BufferSize: 10,
		ServerPort: 8080,
		LogLevel:   "info",
		Minicap: MinicapConfig{
			Quality:   100,
			SkipFrame: true,
		},
		Screenrecord: ScreenrecordConfig{
			Bitrate:   "20M",
			TimeLimit: 179,
			FFmpeg:    "ffmpeg",
		},
		DroidCast: DroidCastConfig{
			Port:      53516,
			TimeoutMs: 3000,
		},
	}
}

// load reads the config file into the manager. A missing file is not an
// error; defaults remain in effect.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Debug().Str("path", m.configPath).Msg("No config file, using defaults")
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	logger.WithComponent("config").Info().Str("path", m.configPath).Msg("Configuration loaded")
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	return &cfg
}

// Update replaces the current configuration
func (m *Manager) Update(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *cfg
	m.config = &c
}

// Save writes the current configuration back to the config file
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the path of the backing config file
func (m *Manager) ConfigPath() string {
	return m.configPath
}
