package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/vcplay/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "missing credentials",
			yaml:    "server:\n  log_level: info\n",
			wantErr: []string{"discord.token", "discord.guild_id"},
		},
		{
			name:    "non numeric guild",
			yaml:    "discord:\n  token: x\n  guild_id: my-guild\n",
			wantErr: []string{"numeric"},
		},
		{
			name:    "bad log level",
			yaml:    minimalYAML + "server:\n  log_level: bananas\n",
			wantErr: []string{"log_level"},
		},
		{
			name:    "volume too high",
			yaml:    minimalYAML + "playback:\n  default_volume: 2.5\n",
			wantErr: []string{"default_volume"},
		},
		{
			name:    "negative pipelines",
			yaml:    minimalYAML + "source:\n  max_pipelines: -1\n",
			wantErr: []string{"max_pipelines"},
		},
		{
			name:    "retry interval inverted",
			yaml:    minimalYAML + "source:\n  retry:\n    initial_interval: 5s\n    max_interval: 1s\n",
			wantErr: []string{"initial_interval"},
		},
		{
			name:    "multiple problems joined",
			yaml:    "server:\n  log_level: loud\nplayback:\n  default_volume: -1\n",
			wantErr: []string{"log_level", "default_volume", "discord.token"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should mention %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(minimalYAML + "bogus: true\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_MalformedYAML(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("discord: [unterminated"))
	if err == nil {
		t.Fatal("expected decode error, got nil")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "test-token" {
		t.Errorf("Token = %q, want %q", cfg.Discord.Token, "test-token")
	}
}

// The following tests modify the process environment and therefore cannot
// run in parallel.

func TestLoadFromReader_EnvOverrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("GUILD_ID", "999")
	t.Setenv("APPLICATION_ID", "111")
	t.Setenv("VCPLAY_LOG_LEVEL", "warn")
	t.Setenv("VCPLAY_FFMPEG_PATH", "/opt/ffmpeg")

	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Errorf("Token = %q, want env value", cfg.Discord.Token)
	}
	if cfg.Discord.GuildID != "999" {
		t.Errorf("GuildID = %q, want %q", cfg.Discord.GuildID, "999")
	}
	if cfg.Discord.ApplicationID != "111" {
		t.Errorf("ApplicationID = %q, want %q", cfg.Discord.ApplicationID, "111")
	}
	if cfg.Server.LogLevel != config.LogWarn {
		t.Errorf("LogLevel = %q, want %q", cfg.Server.LogLevel, config.LogWarn)
	}
	if cfg.Source.FFmpegPath != "/opt/ffmpeg" {
		t.Errorf("FFmpegPath = %q, want %q", cfg.Source.FFmpegPath, "/opt/ffmpeg")
	}
}

func TestLoadFromReader_EnvOnly(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("GUILD_ID", "123")

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader with empty document: %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Errorf("Token = %q, want %q", cfg.Discord.Token, "env-token")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("VCPLAY_TEST_DOTENV=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VCPLAY_TEST_DOTENV", "")
	os.Unsetenv("VCPLAY_TEST_DOTENV")

	if err := config.LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("VCPLAY_TEST_DOTENV"); got != "from-file" {
		t.Errorf("VCPLAY_TEST_DOTENV = %q, want %q", got, "from-file")
	}

	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("LoadDotEnv(missing) = %v, want nil", err)
	}
}
