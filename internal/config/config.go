package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Twitch     TwitchConfig    `yaml:"twitch"`
	Database   DatabaseConfig  `yaml:"database"`
	Server     ServerConfig    `yaml:"server"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Game       GameConfig      `yaml:"game"`
	Cashin     CashinConfig    `yaml:"cashin"`
}

// TwitchConfig holds chat connection settings.
type TwitchConfig struct {
	Username   string `yaml:"username"`
	OAuthToken string `yaml:"oauth_token"`
	Channel    string `yaml:"channel"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// RateLimitConfig bounds the outbound message dispatcher. Twitch drops the
// connection when the per-window quota is exceeded, so these are hard caps.
type RateLimitConfig struct {
	// WindowMessages is the maximum number of messages per Window.
	WindowMessages int           `yaml:"window_messages"`
	Window         time.Duration `yaml:"window"`
	// MinSpacing is the minimum gap between consecutive sends.
	MinSpacing time.Duration `yaml:"min_spacing"`
}

// GameConfig holds every raid tuning constant.
type GameConfig struct {
	RaidInterval time.Duration `yaml:"raid_interval"`
	RaidDuration time.Duration `yaml:"raid_duration"`
	// LoadoutLock is how long before raid end loadout changes freeze.
	LoadoutLock time.Duration `yaml:"loadout_lock"`
	// WarningOffsets are times before raid end at which a reminder fires.
	WarningOffsets []time.Duration `yaml:"warning_offsets"`

	BaseExtractChance float64 `yaml:"base_extract_chance"`
	MaxItemsPerRaid   int     `yaml:"max_items_per_raid"`
	MaxValuePerRaid   int     `yaml:"max_value_per_raid"`

	PVPExtractDelta            float64 `yaml:"pvp_extract_delta"`
	PVPValueMultiplier         float64 `yaml:"pvp_value_multiplier"`
	PVEExtractDelta            float64 `yaml:"pve_extract_delta"`
	PVEValueMultiplier         float64 `yaml:"pve_value_multiplier"`
	LootingExtractDelta        float64 `yaml:"looting_extract_delta"`
	LootingItemCountMultiplier float64 `yaml:"looting_item_count_multiplier"`
	LootingValueMultiplier     float64 `yaml:"looting_value_multiplier"`
	FreeExtractDelta           float64 `yaml:"free_extract_delta"`
	FreeValueMultiplier        float64 `yaml:"free_value_multiplier"`

	KillAttributionChance float64 `yaml:"kill_attribution_chance"`
	MaxKillMessages       int     `yaml:"max_kill_messages"`
	CoopBonusPerEvent     float64 `yaml:"coop_bonus_per_event"`
	CoopBonusMax          float64 `yaml:"coop_bonus_max"`
	MapModifierCap        float64 `yaml:"map_modifier_cap"`
	EncounterMax          int     `yaml:"encounter_max"`

	StreamerApprovalRequired bool `yaml:"streamer_approval_required"`
}

// CashinOption describes one redeemable credit sink.
type CashinOption struct {
	Cost             int    `yaml:"cost"`
	RequiresApproval bool   `yaml:"requires_approval"`
	Description      string `yaml:"description"`
}

// CashinConfig holds redemption settings.
type CashinConfig struct {
	PingCooldown time.Duration           `yaml:"ping_cooldown"`
	Options      map[string]CashinOption `yaml:"options"`
}

// Default returns the built-in configuration, matching live tuning.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "raidbot",
			ServiceVersion: "0.1.0",
		},
		RateLimits: RateLimitConfig{
			WindowMessages: 20,
			Window:         30 * time.Second,
			MinSpacing:     time.Second,
		},
		Game: GameConfig{
			RaidInterval:   15 * time.Minute,
			RaidDuration:   7 * time.Minute,
			LoadoutLock:    time.Minute,
			WarningOffsets: []time.Duration{3 * time.Minute, time.Minute},

			BaseExtractChance: 0.60,
			MaxItemsPerRaid:   8,
			MaxValuePerRaid:   5000,

			PVPExtractDelta:            -0.20,
			PVPValueMultiplier:         1.40,
			PVEExtractDelta:            0.0,
			PVEValueMultiplier:         1.0,
			LootingExtractDelta:        0.05,
			LootingItemCountMultiplier: 1.15,
			LootingValueMultiplier:     0.90,
			FreeExtractDelta:           -0.25,
			FreeValueMultiplier:        0.80,

			KillAttributionChance: 0.35,
			MaxKillMessages:       5,
			CoopBonusPerEvent:     0.01,
			CoopBonusMax:          0.02,
			MapModifierCap:        0.01,
			EncounterMax:          3,

			StreamerApprovalRequired: true,
		},
		Cashin: CashinConfig{
			PingCooldown: time.Minute,
			Options: map[string]CashinOption{
				"ping":     {Cost: 250, Description: "Ping effect"},
				"shoutout": {Cost: 1000, Description: "Shoutout"},
				"scout":    {Cost: 1500, Description: "Scout"},
				"insure":   {Cost: 5000, Description: "Insurance"},
				"shoot":    {Cost: 500, RequiresApproval: true, Description: "Streamer shoots weapon"},
				"instigate": {
					Cost:             2000,
					RequiresApproval: true,
					Description:      "Instigate fight",
				},
			},
		},
	}
}

// Load reads a YAML configuration file from the given path on top of the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants. Scheduling never starts on an
// invalid config.
func (c *Config) validate() error {
	if c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\"", c.Database.Driver)
	}
	g := c.Game
	if g.RaidInterval <= 0 || g.RaidDuration <= 0 {
		return fmt.Errorf("raid interval and duration must be positive")
	}
	if g.LoadoutLock <= 0 || g.LoadoutLock >= g.RaidDuration {
		return fmt.Errorf("loadout lock %v must be positive and shorter than raid duration %v", g.LoadoutLock, g.RaidDuration)
	}
	if g.BaseExtractChance <= 0 || g.BaseExtractChance >= 1 {
		return fmt.Errorf("base extract chance %v must be in (0, 1)", g.BaseExtractChance)
	}
	if g.MaxItemsPerRaid <= 0 || g.MaxValuePerRaid <= 0 {
		return fmt.Errorf("loot caps must be positive")
	}
	if g.KillAttributionChance < 0 || g.KillAttributionChance > 1 {
		return fmt.Errorf("kill attribution chance %v must be in [0, 1]", g.KillAttributionChance)
	}
	for _, off := range g.WarningOffsets {
		if off <= 0 || off >= g.RaidDuration {
			return fmt.Errorf("warning offset %v must be inside the raid duration", off)
		}
	}
	r := c.RateLimits
	if r.WindowMessages <= 0 || r.Window <= 0 || r.MinSpacing <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}
