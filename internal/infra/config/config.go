// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Player   PlayerConfig   `yaml:"player"`
	Resolver ResolverConfig `yaml:"resolver"`
	Spotify  SpotifyConfig  `yaml:"spotify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// DiscordConfig represents the bot connection settings.
type DiscordConfig struct {
	Token string `yaml:"token"`
	// GuildID and TextChannelID are used by the operator console.
	GuildID       string `yaml:"guild_id"`
	TextChannelID string `yaml:"text_channel_id"`
	// LeaveWhenAlone disconnects a session once its voice channel has no
	// members other than bots.
	LeaveWhenAlone *bool `yaml:"leave_when_alone" default:"true"`
}

// PlayerConfig represents per-session playback defaults.
type PlayerConfig struct {
	Volume        int           `yaml:"volume" default:"100" validate:"gte=0,lte=150"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" default:"600s" validate:"gte=0"`
	Mode          string        `yaml:"mode" default:"linear" validate:"oneof=linear single"`
	NotifyTimeout time.Duration `yaml:"notify_timeout" default:"10s" validate:"gt=0"`
	Encoder       string        `yaml:"encoder" default:"ffmpeg" validate:"required"` // ffmpeg binary used to decode sources
}

// ResolverConfig represents the lookup provider chain.
type ResolverConfig struct {
	Rate        float64          `yaml:"rate" default:"4" validate:"gt=0"`
	Burst       int              `yaml:"burst" default:"10" validate:"gte=1"`
	Concurrency int              `yaml:"concurrency" default:"4" validate:"gte=1,lte=32"`
	Timeout     time.Duration    `yaml:"timeout" default:"60s" validate:"gt=0"`
	Providers   []ProviderConfig `yaml:"providers" validate:"required,min=1,dive"`
}

// ProviderConfig represents a single resolver provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=ytdlp ytsearch spotify"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings,omitempty"`
}

// SpotifyConfig represents Spotify API configuration.
// Both credentials must be set for the spotify provider to be usable.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// Enabled reports whether Spotify credentials are configured.
func (s SpotifyConfig) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// MetricsConfig represents the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path" default:"/metrics"`
}

// LogConfig represents logger configuration.
type LogConfig struct {
	Output string `yaml:"output" default:"stdout"`
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	File   string `yaml:"file"`
}

var defaultProviders = []ProviderConfig{
	{Type: "ytdlp", DisplayName: "yt-dlp"},
}

// Load loads configuration from a YAML file.
// An empty path yields the defaults. Environment variables take precedence
// over file values for sensitive fields.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if len(cfg.Resolver.Providers) == 0 {
		cfg.Resolver.Providers = append([]ProviderConfig(nil), defaultProviders...)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	for i, p := range c.Resolver.Providers {
		if p.Type == "spotify" && !c.Spotify.Enabled() {
			return errors.Newf("provider %d (%s) requires spotify client_id and client_secret", i, p.DisplayName)
		}
	}
	return nil
}

// RequireDiscord checks the settings needed to run the Discord bot.
func (c *Config) RequireDiscord() error {
	if c.Discord.Token == "" {
		return errors.New("discord token is required (set discord.token or DISCORD_TOKEN)")
	}
	return nil
}

// LeaveWhenAlone reports whether empty voice channels should be left.
func (c *Config) LeaveWhenAlone() bool {
	return c.Discord.LeaveWhenAlone == nil || *c.Discord.LeaveWhenAlone
}
