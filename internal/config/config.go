// Package config provides configuration management for livesub using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// DecodeHooks extends viper's default hooks with TextUnmarshaler support so
// human-readable values like chunk_size "64KB" decode into ByteSize.
func DecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// Default configuration values.
const (
	defaultServerPort          = 8080
	defaultServerTimeout       = 30 * time.Second
	defaultShutdownTimeout     = 10 * time.Second
	defaultPollInterval        = 2 * time.Second
	defaultHTTPTimeout         = 15 * time.Second
	defaultHandshakeTimeout    = 10 * time.Second
	defaultPingInterval        = 20 * time.Second
	defaultBufferDuration      = 30 * time.Second
	defaultStopTimeout         = 10 * time.Second
	defaultChunkSize           = ByteSize(64 * 1024)
	defaultMaxReconnects       = 5
	defaultReconnectDelay      = 2 * time.Second
	defaultReplayCapacity      = 3
	defaultFragmentsToKeep     = 10
	defaultCleanupSafetyBuffer = 3
	defaultJanitorCron         = "0 */10 * * * *"
	defaultJanitorMaxAge       = 6 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Source      SourceConfig      `mapstructure:"source"`
	SideChannel SideChannelConfig `mapstructure:"sidechannel"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Publisher   PublisherConfig   `mapstructure:"publisher"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
	Janitor     JanitorConfig     `mapstructure:"janitor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// DatabaseConfig holds the sqlite job-history database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StorageConfig holds on-disk layout configuration.
type StorageConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	WorkDir     string `mapstructure:"work_dir"`
	FragmentDir string `mapstructure:"fragment_dir"`
}

// SourceConfig holds HLS segment source configuration.
type SourceConfig struct {
	PlaylistURL  string        `mapstructure:"playlist_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	HTTPTimeout  time.Duration `mapstructure:"http_timeout"`
}

// SideChannelConfig holds audio side-processor connection configuration.
type SideChannelConfig struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

// PipelineConfig holds batching and coordinator configuration.
type PipelineConfig struct {
	// BufferDuration is the accumulated segment duration that triggers
	// batch creation.
	BufferDuration time.Duration `mapstructure:"buffer_duration"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
}

// PublisherConfig holds resilient publisher configuration.
type PublisherConfig struct {
	// IngestURL is the RTMP-style push address without the stream key.
	IngestURL string `mapstructure:"ingest_url"`
	// StreamKey is appended to IngestURL to form the full push address.
	// Redacted from logs.
	StreamKey string `mapstructure:"stream_key"`
	// ChunkSize bounds individual pipe writes to the publisher subprocess.
	// Supports human-readable values like "64KB".
	ChunkSize            ByteSize      `mapstructure:"chunk_size"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	// ReplayCapacity is the number of sent fragments kept in memory for
	// replay after a reconnect.
	ReplayCapacity int `mapstructure:"replay_capacity"`
	// MaxFragmentsToKeep and CleanupSafetyBuffer bound the on-disk
	// sliding window of fragment files.
	MaxFragmentsToKeep  int           `mapstructure:"max_fragments_to_keep"`
	CleanupSafetyBuffer int           `mapstructure:"cleanup_safety_buffer"`
	StopTimeout         time.Duration `mapstructure:"stop_timeout"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // empty = auto-detect
	ProbePath  string `mapstructure:"probe_path"`  // empty = auto-detect
}

// JanitorConfig holds scheduled workdir cleanup configuration.
type JanitorConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Cron    string        `mapstructure:"cron"` // 6-field cron expression
	MaxAge  time.Duration `mapstructure:"max_age"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with LIVESUB_ and use underscores
// for nesting. Example: LIVESUB_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/livesub")
		v.AddConfigPath("$HOME/.livesub")
	}

	v.SetEnvPrefix("LIVESUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHooks())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Database defaults
	v.SetDefault("database.path", "livesub.db")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.work_dir", "work")
	v.SetDefault("storage.fragment_dir", "fragments")

	// Source defaults
	v.SetDefault("source.playlist_url", "")
	v.SetDefault("source.poll_interval", defaultPollInterval)
	v.SetDefault("source.http_timeout", defaultHTTPTimeout)

	// Side-channel defaults
	v.SetDefault("sidechannel.url", "ws://localhost:4000/stream")
	v.SetDefault("sidechannel.handshake_timeout", defaultHandshakeTimeout)
	v.SetDefault("sidechannel.ping_interval", defaultPingInterval)

	// Pipeline defaults
	v.SetDefault("pipeline.buffer_duration", defaultBufferDuration)
	v.SetDefault("pipeline.stop_timeout", defaultStopTimeout)

	// Publisher defaults
	v.SetDefault("publisher.ingest_url", "")
	v.SetDefault("publisher.stream_key", "")
	v.SetDefault("publisher.chunk_size", int64(defaultChunkSize))
	v.SetDefault("publisher.max_reconnect_attempts", defaultMaxReconnects)
	v.SetDefault("publisher.reconnect_delay", defaultReconnectDelay)
	v.SetDefault("publisher.replay_capacity", defaultReplayCapacity)
	v.SetDefault("publisher.max_fragments_to_keep", defaultFragmentsToKeep)
	v.SetDefault("publisher.cleanup_safety_buffer", defaultCleanupSafetyBuffer)
	v.SetDefault("publisher.stop_timeout", defaultStopTimeout)

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Janitor defaults
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.cron", defaultJanitorCron)
	v.SetDefault("janitor.max_age", defaultJanitorMaxAge)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	if c.Source.PlaylistURL != "" {
		if _, err := url.Parse(c.Source.PlaylistURL); err != nil {
			return fmt.Errorf("source.playlist_url is not a valid URL: %w", err)
		}
	}
	if c.Source.PollInterval <= 0 {
		return fmt.Errorf("source.poll_interval must be positive")
	}

	if c.Pipeline.BufferDuration <= 0 {
		return fmt.Errorf("pipeline.buffer_duration must be positive")
	}

	if c.Publisher.ChunkSize <= 0 {
		return fmt.Errorf("publisher.chunk_size must be positive")
	}
	if c.Publisher.MaxReconnectAttempts < 0 {
		return fmt.Errorf("publisher.max_reconnect_attempts must not be negative")
	}
	if c.Publisher.ReplayCapacity < 0 {
		return fmt.Errorf("publisher.replay_capacity must not be negative")
	}
	if c.Publisher.MaxFragmentsToKeep < 1 {
		return fmt.Errorf("publisher.max_fragments_to_keep must be at least 1")
	}
	if c.Publisher.CleanupSafetyBuffer < 0 {
		return fmt.Errorf("publisher.cleanup_safety_buffer must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WorkPath returns the full path to the working directory.
func (c *StorageConfig) WorkPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.WorkDir)
}

// FragmentPath returns the full path to the fragment output directory.
func (c *StorageConfig) FragmentPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.FragmentDir)
}

// PushAddress returns the full ingest push address including the stream key.
func (c *PublisherConfig) PushAddress() string {
	if c.StreamKey == "" {
		return c.IngestURL
	}
	return strings.TrimRight(c.IngestURL, "/") + "/" + c.StreamKey
}
