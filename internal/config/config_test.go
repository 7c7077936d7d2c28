package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/privlog/internal/channel"
	"github.com/roach88/privlog/internal/engine"
	"github.com/roach88/privlog/internal/ir"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30*time.Second, cfg.TickInterval)
	assert.Equal(t, engine.DefaultResendInterval, cfg.ResendInterval)
	assert.Equal(t, channel.DefaultChunkSize, cfg.Channel.ChunkSize)
	assert.Equal(t, channel.DefaultInlineThreshold, cfg.Channel.InlineThreshold)
	assert.Equal(t, "privlog", cfg.Redis.Prefix)
	assert.True(t, cfg.Redis.Durable)
	assert.NoError(t, cfg.Validate())
}

func TestParse_OverlaysDefaults(t *testing.T) {
	device := ir.AgentID(strings.Repeat("ab", 64))
	data := []byte(`
db_path: /var/lib/privlog/alice.db
tick_interval: 5s
resend_interval: 48h
redis:
  addr: localhost:6379
  durable: false
transport:
  rate_per_second: 2.5
  burst: 4
linked_devices:
  - ` + string(device) + `
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/privlog/alice.db", cfg.DBPath)
	assert.Equal(t, "identity.yaml", cfg.IdentityPath, "default kept")
	assert.Equal(t, 5*time.Second, cfg.TickInterval)
	assert.Equal(t, 48*time.Hour, cfg.ResendInterval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "privlog", cfg.Redis.Prefix, "default kept")
	assert.False(t, cfg.Redis.Durable)
	assert.Equal(t, 2.5, cfg.Transport.RatePerSecond)
	assert.Equal(t, 4, cfg.Transport.Burst)
	assert.Equal(t, []ir.AgentID{device}, cfg.LinkedDevices)
	assert.Equal(t, channel.DefaultChunkSize, cfg.Channel.ChunkSize)
}

func TestParse_EmptyFileIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "db_pth: x\n", "db_pth"},
		{"bad duration", "tick_interval: soon\n", "tick_interval"},
		{"chunk too small", "channel:\n  chunk_size: 8\n", "chunk_size"},
		{"negative rate", "transport:\n  rate_per_second: -1\n", "rate_per_second"},
		{"bad log level", "log_level: loud\n", "log_level"},
		{"bad device", "linked_devices: [nope]\n", "linked_devices"},
		{"bad age recipient", "export:\n  recipients: [ssh-ed25519]\n", "recipients"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("db_path: [unterminated\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse yaml")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "privlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestTransportOptions(t *testing.T) {
	cfg := Default()
	cfg.Redis.Prefix = "test"
	cfg.Transport.RatePerSecond = 10

	opts := cfg.TransportOptions(nil)
	assert.Equal(t, "test", opts.Keys.Prefix)
	assert.True(t, opts.Durable)
	assert.Equal(t, 10.0, opts.RatePerSecond)
	assert.Len(t, opts.ChannelOptions, 2)
}
