package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values applied by [ApplyDefaults].
const (
	DefaultLogLevel         = LogInfo
	DefaultCommandTimeout   = 30 * time.Second
	DefaultAckAfter         = 2 * time.Second
	DefaultVolume           = float32(1.0)
	DefaultFFmpegPath       = "ffmpeg"
	DefaultStartupTimeout   = 10 * time.Second
	DefaultMaxPipelines     = 8
	DefaultSpawnRate        = 4.0
	DefaultRetryAttempts    = 3
	DefaultRetryInitial     = 250 * time.Millisecond
	DefaultRetryMax         = 2 * time.Second
	DefaultBreakerFailures  = 5
	DefaultBreakerResetTime = 30 * time.Second
)

// MaxVolume is the highest accepted gain.
const MaxVolume = float32(2.0)

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment without overriding variables that are
// already set. Missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("config: no dotenv file", "path", p)
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with environment overrides applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document is accepted so
// that a deployment can be configured from the environment alone.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = DefaultLogLevel
	}
	if cfg.Discord.CommandTimeout == 0 {
		cfg.Discord.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Discord.AckAfter == 0 {
		cfg.Discord.AckAfter = DefaultAckAfter
	}
	if cfg.Playback.DefaultVolume == 0 {
		cfg.Playback.DefaultVolume = DefaultVolume
	}
	s := &cfg.Source
	if s.FFmpegPath == "" {
		s.FFmpegPath = DefaultFFmpegPath
	}
	if s.StartupTimeout == 0 {
		s.StartupTimeout = DefaultStartupTimeout
	}
	if s.MaxPipelines == 0 {
		s.MaxPipelines = DefaultMaxPipelines
	}
	if s.SpawnRate == 0 {
		s.SpawnRate = DefaultSpawnRate
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = DefaultRetryAttempts
	}
	if s.Retry.InitialInterval == 0 {
		s.Retry.InitialInterval = DefaultRetryInitial
	}
	if s.Retry.MaxInterval == 0 {
		s.Retry.MaxInterval = DefaultRetryMax
	}
	if s.Breaker.MaxFailures == 0 {
		s.Breaker.MaxFailures = DefaultBreakerFailures
	}
	if s.Breaker.ResetTimeout == 0 {
		s.Breaker.ResetTimeout = DefaultBreakerResetTime
	}
}

// Validate checks that cfg is usable. It returns a joined error listing every
// problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required (or set DISCORD_TOKEN)"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required (or set GUILD_ID)"))
	} else if !isSnowflake(cfg.Discord.GuildID) {
		errs = append(errs, fmt.Errorf("discord.guild_id %q must be a numeric ID", cfg.Discord.GuildID))
	}
	if cfg.Discord.ApplicationID != "" && !isSnowflake(cfg.Discord.ApplicationID) {
		errs = append(errs, fmt.Errorf("discord.application_id %q must be a numeric ID", cfg.Discord.ApplicationID))
	}
	if cfg.Discord.CommandTimeout < 0 {
		errs = append(errs, fmt.Errorf("discord.command_timeout %v must not be negative", cfg.Discord.CommandTimeout))
	}
	if cfg.Discord.AckAfter < 0 {
		errs = append(errs, fmt.Errorf("discord.ack_after %v must not be negative", cfg.Discord.AckAfter))
	}
	if cfg.Discord.CommandTimeout > 0 && cfg.Discord.AckAfter > cfg.Discord.CommandTimeout {
		slog.Warn("discord.ack_after exceeds command_timeout; replies will never be deferred",
			"ack_after", cfg.Discord.AckAfter,
			"command_timeout", cfg.Discord.CommandTimeout,
		)
	}

	if v := cfg.Playback.DefaultVolume; v < 0 || v > MaxVolume {
		errs = append(errs, fmt.Errorf("playback.default_volume %.2f is out of range [0, %.0f]", v, MaxVolume))
	}

	s := cfg.Source
	if s.StartupTimeout < 0 {
		errs = append(errs, fmt.Errorf("source.startup_timeout %v must not be negative", s.StartupTimeout))
	}
	if s.MaxPipelines < 0 {
		errs = append(errs, fmt.Errorf("source.max_pipelines %d must not be negative", s.MaxPipelines))
	}
	if s.SpawnRate < 0 {
		errs = append(errs, fmt.Errorf("source.spawn_rate %.2f must not be negative", s.SpawnRate))
	}
	if s.MaxDownloadBytes < 0 {
		errs = append(errs, fmt.Errorf("source.max_download_bytes %d must not be negative", s.MaxDownloadBytes))
	}
	if s.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("source.retry.max_attempts %d must not be negative", s.Retry.MaxAttempts))
	}
	if s.Retry.InitialInterval > 0 && s.Retry.MaxInterval > 0 && s.Retry.InitialInterval > s.Retry.MaxInterval {
		errs = append(errs, fmt.Errorf("source.retry.initial_interval %v exceeds max_interval %v", s.Retry.InitialInterval, s.Retry.MaxInterval))
	}
	if s.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("source.breaker.max_failures %d must not be negative", s.Breaker.MaxFailures))
	}

	return errors.Join(errs...)
}

func isSnowflake(id string) bool {
	_, err := strconv.ParseUint(id, 10, 64)
	return err == nil
}
