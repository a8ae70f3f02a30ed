// Package config provides the configuration schema, loader, validation and
// hot-reload watcher for vcplay.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is loaded from a YAML file
// with [Load] or [LoadFromReader]; selected fields can be overridden from the
// environment (see the env tags).
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Discord  DiscordConfig  `yaml:"discord"`
	Playback PlaybackConfig `yaml:"playback"`
	Source   SourceConfig   `yaml:"source"`
}

// ServerConfig holds the ops HTTP server and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the health/metrics server (e.g. ":9090").
	// Empty disables the server.
	ListenAddr string `yaml:"listen_addr" env:"VCPLAY_LISTEN_ADDR"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level" env:"VCPLAY_LOG_LEVEL"`
}

// DiscordConfig holds the gateway credentials and interaction timing.
type DiscordConfig struct {
	// Token is the bot token without the "Bot " prefix.
	Token string `yaml:"token" env:"DISCORD_TOKEN"`

	// GuildID is the guild that slash commands are registered in.
	GuildID string `yaml:"guild_id" env:"GUILD_ID"`

	// ApplicationID is the application that owns the commands. Defaults to
	// the bot user ID reported by the gateway.
	ApplicationID string `yaml:"application_id" env:"APPLICATION_ID"`

	// CommandTimeout bounds the handling of a single command. Default: 30s.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// AckAfter is how long a command may run before its interaction is
	// deferred and the reply sent as a follow-up. Default: 2s.
	AckAfter time.Duration `yaml:"ack_after"`
}

// PlaybackConfig holds playback defaults.
type PlaybackConfig struct {
	// DefaultVolume is the gain applied to new sessions, in [0, 2].
	// Default: 1.0. Hot-reloadable for sessions created afterwards.
	DefaultVolume float32 `yaml:"default_volume"`
}

// SourceConfig tunes the fetch and decode pipeline.
type SourceConfig struct {
	// FFmpegPath is the decoder binary. Default: "ffmpeg" (looked up in PATH).
	FFmpegPath string `yaml:"ffmpeg_path" env:"VCPLAY_FFMPEG_PATH"`

	// StartupTimeout bounds the time until the decoder produces its first
	// frame. Default: 10s.
	StartupTimeout time.Duration `yaml:"startup_timeout"`

	// MaxPipelines caps concurrently running decoders. Default: 8.
	MaxPipelines int `yaml:"max_pipelines"`

	// SpawnRate limits decoder starts per second. Default: 4.
	SpawnRate float64 `yaml:"spawn_rate"`

	// MaxDownloadBytes caps the bytes read from a remote resource.
	// Zero means unlimited.
	MaxDownloadBytes int64 `yaml:"max_download_bytes"`

	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
}

// RetryConfig controls retries of failed resource fetches.
type RetryConfig struct {
	// MaxAttempts includes the first try. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialInterval is the first backoff delay. Default: 250ms.
	InitialInterval time.Duration `yaml:"initial_interval"`

	// MaxInterval caps the backoff delay. Default: 2s.
	MaxInterval time.Duration `yaml:"max_interval"`
}

// BreakerConfig configures the per-host circuit breaker.
type BreakerConfig struct {
	// MaxFailures opens the breaker after this many consecutive failed
	// fetches. Default: 5.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open breaker rejects fetches. Default: 30s.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}
