package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jensholdgaard/twitch-raid-bot/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
twitch:
  username: "raidbot"
  oauth_token: "oauth:abc"
  channel: "somestreamer"
database:
  host: "db.example.com"
  port: 5433
  user: "raidbot"
  password: "secret"
  dbname: "raids"
  sslmode: "require"
server:
  port: 9090
telemetry:
  service_name: "my-bot"
  otlp_endpoint: "localhost:4318"
game:
  raid_duration: 5m
  loadout_lock: 45s
  warning_offsets: [2m, 1m]
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Twitch.Channel != "somestreamer" {
					t.Errorf("got channel %q, want %q", cfg.Twitch.Channel, "somestreamer")
				}
				if cfg.Database.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Database.Port, 5433)
				}
				if cfg.Game.RaidDuration != 5*time.Minute {
					t.Errorf("got raid duration %v, want 5m", cfg.Game.RaidDuration)
				}
				if len(cfg.Game.WarningOffsets) != 2 {
					t.Errorf("got %d warning offsets, want 2", len(cfg.Game.WarningOffsets))
				}
				if cfg.Telemetry.ServiceName != "my-bot" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "my-bot")
				}
			},
		},
		{
			name: "defaults applied",
			yaml: `
twitch:
  username: "raidbot"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Host != "localhost" {
					t.Errorf("got db host %q, want %q", cfg.Database.Host, "localhost")
				}
				if cfg.Game.BaseExtractChance != 0.60 {
					t.Errorf("got base chance %v, want 0.60", cfg.Game.BaseExtractChance)
				}
				if cfg.RateLimits.WindowMessages != 20 {
					t.Errorf("got window cap %d, want 20", cfg.RateLimits.WindowMessages)
				}
				if cfg.RateLimits.Window != 30*time.Second {
					t.Errorf("got window %v, want 30s", cfg.RateLimits.Window)
				}
				if cfg.Game.MaxKillMessages != 5 {
					t.Errorf("got max kill messages %d, want 5", cfg.Game.MaxKillMessages)
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "invalid driver rejected",
			yaml: `
database:
  driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "lock window longer than raid rejected",
			yaml: `
game:
  raid_duration: 1m
  loadout_lock: 2m
`,
			wantErr: true,
		},
		{
			name: "warning offset outside raid rejected",
			yaml: `
game:
  warning_offsets: [10m]
`,
			wantErr: true,
		},
		{
			name: "zero rate limit rejected",
			yaml: `
rate_limits:
  window_messages: 0
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
