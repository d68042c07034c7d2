package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default health port",
			check:  func(c *Config) bool { return c.HealthPort == 8882 },
			expect: "8882",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default auto-initiate delay",
			check:  func(c *Config) bool { return c.AutoInitiateDelayMinutes == 3 },
			expect: "3",
		},
		{
			name:   "default alert controls",
			check:  func(c *Config) bool { return len(c.AlertControls) == 3 },
			expect: "acknowledge,talk,history",
		},
		{
			name:   "default severity thresholds",
			check:  func(c *Config) bool { return c.ThresholdCritical == 0.85 && c.ThresholdLow == 0.16 },
			expect: "0.85/0.16",
		},
		{
			name:   "health addr format",
			check:  func(c *Config) bool { return c.HealthAddr() == "0.0.0.0:8882" },
			expect: "0.0.0.0:8882",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestLoadSecretsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	if err := os.WriteFile(path, []byte("super-secret\n"), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	t.Setenv("BOT_DISCORD_TOKEN_FILE", path)
	t.Setenv("CLAUDE_API_KEY_FILE", "")
	t.Setenv("REDIS_TOKEN_FILE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DiscordToken != "super-secret" {
		t.Errorf("DiscordToken = %q, want %q", cfg.DiscordToken, "super-secret")
	}
}

func TestValidateRequiresSecrets(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing discord token")
	}
}

func TestValidateRequiresAutoInitiateRange(t *testing.T) {
	cfg := &Config{
		DiscordToken:             "t",
		ClaudeAPIKey:             "k",
		MonitoredChannels:        []string{"123"},
		AlertChannelCrisis:       "1",
		AlertChannelMonitor:      "2",
		CRTRoleID:                "3",
		AutoInitiateDelayMinutes: 0,
		UserOptOutTTLDays:        30,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range auto-initiate delay")
	}
}
