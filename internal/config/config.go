package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	AppName        = "Octoplay"
	AppDescription = "A terminal music player for Emby and Jellyfin servers"

	ConfigDir      = ".config/octoplay"
	ConfigFileName = "config.yml"

	DefaultVolume      = 100
	MinVolume          = 0
	MaxVolume          = 100
	DefaultBitrateKbps = 320
	DefaultFormat      = "mp3"

	// EnvServerURL overrides the configured server URL.
	EnvServerURL = "OCTOPLAY_SERVER_URL"
	// EnvDebug enables debug logging when set to a non-empty value.
	EnvDebug = "OCTOPLAY_DEBUG"
)

// AppVersion can be overridden at build time using ldflags:
// go build -ldflags "-X github.com/douwec/octoplay/internal/config.AppVersion=1.0.0"
var AppVersion = "dev"

// ClampVolume ensures volume is within the valid range [0, 100].
func ClampVolume(volume int) int {
	if volume < MinVolume {
		return MinVolume
	}
	if volume > MaxVolume {
		return MaxVolume
	}
	return volume
}

// Transcode holds the streaming settings that shape the effective stream
// URL. Changing any of them while a track is active reloads the session.
type Transcode struct {
	Enabled     bool   `yaml:"enabled"`
	BitrateKbps int    `yaml:"bitrate_kbps"`
	Format      string `yaml:"format"`
}

type Config struct {
	ServerURL  string    `yaml:"server_url"`
	Username   string    `yaml:"username"`
	Volume     int       `yaml:"volume"`
	Shuffle    bool      `yaml:"shuffle"`
	RepeatMode int       `yaml:"repeat_mode"` // 0 off, 1 all, 2 one
	Transcode  Transcode `yaml:"transcode"`
	Theme      Theme     `yaml:"theme"`
}

func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ConfigDir, ConfigFileName), nil
}

func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return DefaultConfig(), err
	}
	return LoadFrom(configPath)
}

// LoadFrom reads the configuration at path, falling back to defaults for a
// missing file and applying environment overrides on top.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg.applyEnv()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		cfg.applyEnv()
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		fresh := DefaultConfig()
		fresh.applyEnv()
		return fresh, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.normalize()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Volume = ClampVolume(c.Volume)
	if c.Transcode.BitrateKbps <= 0 {
		c.Transcode.BitrateKbps = DefaultBitrateKbps
	}
	if c.Transcode.Format == "" {
		c.Transcode.Format = DefaultFormat
	}
	if c.RepeatMode < 0 || c.RepeatMode > 2 {
		c.RepeatMode = 0
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvServerURL); v != "" {
		c.ServerURL = v
	}
}

// Save writes the configuration to disk atomically using temp file + rename.
func (c *Config) Save() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(configPath)
}

func (c *Config) SaveTo(path string) error {
	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpFile, err := os.CreateTemp(configDir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename config file: %w", err)
	}

	tmpPath = "" // Prevent defer from removing the final file
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Volume: DefaultVolume,
		Transcode: Transcode{
			Enabled:     false,
			BitrateKbps: DefaultBitrateKbps,
			Format:      DefaultFormat,
		},
		Theme: DefaultTheme(),
	}
}
