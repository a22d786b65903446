// Package config loads the server and client YAML configuration documents
// named in spec.md §6, via github.com/spf13/viper, modeled on the teacher
// pack's viper-based Load/setupViper/readConfigFile pattern.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

func decode(v *viper.Viper, out interface{}) error {
	return v.Unmarshal(out, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
}

// ServerConfig is the wsfsd configuration schema.
type ServerConfig struct {
	Listen      string `mapstructure:"listen"`
	VirtualRoot string `mapstructure:"virtualRoot"`
	ReadOnly    bool   `mapstructure:"readOnly"`
	HideUIDGID  bool   `mapstructure:"hideUidGid"`
}

// ReadTrackingConfig controls the client's read-access tracking file: the
// paths it accumulates, how often it flushes them, and how long an entry
// survives without being touched again.
type ReadTrackingConfig struct {
	File string `mapstructure:"file"`
	// Modified only tracks paths whose cached mtime predates this many
	// seconds ago; zero disables the threshold.
	Modified time.Duration `mapstructure:"modified"`
	// Timeout evicts a tracked path once it hasn't been reopened for this
	// long; zero disables eviction.
	Timeout time.Duration `mapstructure:"timeout"`
	// Update is how often the tracking file is rewritten to disk.
	Update time.Duration `mapstructure:"update"`
}

// ClientConfig is the wsfsmount configuration schema.
type ClientConfig struct {
	URL        string `mapstructure:"url"`
	Mountpoint string `mapstructure:"mountpoint"`

	CacheTTL         time.Duration `mapstructure:"cacheTimeout"`
	CacheStatTimeout time.Duration `mapstructure:"cacheStatTimeout"`
	CacheDirTimeout  time.Duration `mapstructure:"cacheDirTimeout"`
	CacheLinkTimeout time.Duration `mapstructure:"cacheLinkTimeout"`

	// Reconnect toggles automatic reconnection after the channel drops.
	Reconnect bool `mapstructure:"reconnect"`

	ReadTracking ReadTrackingConfig `mapstructure:"readTracking"`

	MetadataFile string   `mapstructure:"metadataFile"`
	HidePath     []string `mapstructure:"hidePath"`
}

func newViper(configPath, envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	return v
}

func readIfPresent(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// LoadServer reads a ServerConfig from configPath (or the default search
// path when empty), applying WSFSD_* environment overrides.
func LoadServer(configPath string) (*ServerConfig, error) {
	v := newViper(configPath, "WSFSD")
	v.SetDefault("listen", ":2345")
	v.SetDefault("virtualRoot", ".")
	if err := readIfPresent(v); err != nil {
		return nil, err
	}
	var cfg ServerConfig
	if err := decode(v, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server config: %w", err)
	}
	return &cfg, nil
}

// LoadClient reads a ClientConfig from configPath (or the default search
// path when empty), applying WSFSC_* environment overrides.
func LoadClient(configPath string) (*ClientConfig, error) {
	v := newViper(configPath, "WSFSC")
	v.SetDefault("cacheTimeout", 2*time.Second)
	v.SetDefault("reconnect", true)
	v.SetDefault("readTracking.update", 10*time.Second)
	if err := readIfPresent(v); err != nil {
		return nil, err
	}
	var cfg ClientConfig
	if err := decode(v, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client config: %w", err)
	}
	return &cfg, nil
}
