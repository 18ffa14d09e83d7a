// Package config loads the bot configuration from a TOML file.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath             = "config.toml"
	DefaultMetricsAddr            = ":9090"
	DefaultMetadataTimeoutSeconds = 30
	DefaultDownloadTimeoutSeconds = 120
	DefaultResizeTimeoutSeconds   = 120
	DefaultAttachmentCeiling      = 25_000_000
	DefaultMaxRecords             = 4096
	DefaultRecordTTL              = "24h"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Discord  DiscordConfig  `toml:"discord"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Media    MediaConfig    `toml:"media"`
	Delivery DeliveryConfig `toml:"delivery"`
	Servers  []ServerConfig `toml:"servers" validate:"dive"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type DiscordConfig struct {
	Token string `toml:"token" validate:"required"`
}

type MetricsConfig struct {
	Addr string `toml:"addr"`
}

type MediaConfig struct {
	BackendOrder           []string `toml:"backend_order" validate:"min=1,dive,oneof=gallery-dl yt-dlp"`
	MetadataTimeoutSeconds int      `toml:"metadata_timeout_seconds" validate:"gt=0"`
	DownloadTimeoutSeconds int      `toml:"download_timeout_seconds" validate:"gt=0"`
	ResizeTimeoutSeconds   int      `toml:"resize_timeout_seconds" validate:"gt=0"`
	AttachmentCeilingBytes int64    `toml:"attachment_ceiling_bytes" validate:"gt=0"`
}

func (m MediaConfig) MetadataTimeout() time.Duration {
	return time.Duration(m.MetadataTimeoutSeconds) * time.Second
}

func (m MediaConfig) DownloadTimeout() time.Duration {
	return time.Duration(m.DownloadTimeoutSeconds) * time.Second
}

func (m MediaConfig) ResizeTimeout() time.Duration {
	return time.Duration(m.ResizeTimeoutSeconds) * time.Second
}

type DeliveryConfig struct {
	MaxRecords int    `toml:"max_records" validate:"gt=0"`
	RecordTTL  string `toml:"record_ttl"`
}

func (d DeliveryConfig) TTL() time.Duration {
	ttl, err := time.ParseDuration(d.RecordTTL)
	if err != nil || ttl <= 0 {
		ttl, _ = time.ParseDuration(DefaultRecordTTL)
	}
	return ttl
}

// ServerConfig is the per-guild embed policy. The core treats it as a
// read-only lookup table.
type ServerConfig struct {
	ServerID          string   `toml:"server_id" validate:"required"`
	AutoEmbedChannels []string `toml:"auto_embed_channels"`
	EmbedEnabled      *bool    `toml:"embed_enabled"`
	DisabledDomains   []string `toml:"disabled_domains"`
}

// Enabled reports whether embedding is enabled; absent means enabled.
func (s ServerConfig) Enabled() bool {
	return s.EmbedEnabled == nil || *s.EmbedEnabled
}

// AutoEmbed reports whether channelID is in the auto-embed set.
func (s ServerConfig) AutoEmbed(channelID string) bool {
	for _, id := range s.AutoEmbedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// DomainDisabled reports whether the URL's host matches a disabled domain,
// either exactly or as a subdomain.
func (s ServerConfig) DomainDisabled(rawURL string) bool {
	if len(s.DisabledDomains) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	for _, domain := range s.DisabledDomains {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Server looks up the config for a guild ID.
func (c Config) Server(serverID string) (ServerConfig, bool) {
	for _, s := range c.Servers {
		if s.ServerID == serverID {
			return s, true
		}
	}
	return ServerConfig{}, false
}

func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
		Media: MediaConfig{
			BackendOrder:           []string{"gallery-dl", "yt-dlp"},
			MetadataTimeoutSeconds: DefaultMetadataTimeoutSeconds,
			DownloadTimeoutSeconds: DefaultDownloadTimeoutSeconds,
			ResizeTimeoutSeconds:   DefaultResizeTimeoutSeconds,
			AttachmentCeilingBytes: DefaultAttachmentCeiling,
		},
		Delivery: DeliveryConfig{
			MaxRecords: DefaultMaxRecords,
			RecordTTL:  DefaultRecordTTL,
		},
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}

	return cfg, nil
}
