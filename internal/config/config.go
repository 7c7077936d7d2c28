// Package config loads node configuration from YAML.
//
// Files are checked against an embedded CUE schema before decoding, so
// unknown keys and out-of-range values are reported with their path.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/privlog/internal/channel"
	"github.com/roach88/privlog/internal/engine"
	"github.com/roach88/privlog/internal/ir"
	"github.com/roach88/privlog/internal/node"
	"github.com/roach88/privlog/internal/transport"
)

//go:embed schema.cue
var schemaSource string

// Config is a node configuration.
type Config struct {
	DBPath         string          `yaml:"db_path"`
	IdentityPath   string          `yaml:"identity_path"`
	LogLevel       string          `yaml:"log_level"`
	TickInterval   time.Duration   `yaml:"tick_interval"`
	ResendInterval time.Duration   `yaml:"resend_interval"`
	Redis          RedisConfig     `yaml:"redis"`
	Channel        ChannelConfig   `yaml:"channel"`
	Transport      TransportConfig `yaml:"transport"`
	LinkedDevices  []ir.AgentID    `yaml:"linked_devices"`
	Export         ExportConfig    `yaml:"export"`
}

// RedisConfig locates the Redis deployment used for transport and the
// directory. An empty Addr runs the node without a network.
type RedisConfig struct {
	Addr    string        `yaml:"addr"`
	Prefix  string        `yaml:"prefix"`
	Durable bool          `yaml:"durable"`
	BlobTTL time.Duration `yaml:"blob_ttl"`
}

type ChannelConfig struct {
	ChunkSize       int `yaml:"chunk_size"`
	InlineThreshold int `yaml:"inline_threshold"`
}

// TransportConfig bounds durable sends. Zero RatePerSecond disables
// limiting.
type TransportConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// ExportConfig lists extra age recipients for exported histories.
type ExportConfig struct {
	Recipients []string `yaml:"recipients"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DBPath:         "privlog.db",
		IdentityPath:   "identity.yaml",
		LogLevel:       "info",
		TickInterval:   node.DefaultTickInterval,
		ResendInterval: engine.DefaultResendInterval,
		Redis: RedisConfig{
			Prefix:  transport.DefaultPrefix,
			Durable: true,
		},
		Channel: ChannelConfig{
			ChunkSize:       channel.DefaultChunkSize,
			InlineThreshold: channel.DefaultInlineThreshold,
		},
	}
}

// Load reads path and overlays it on Default. A missing path is an
// error; use Default directly to run without a file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates YAML data against the schema and decodes it over
// Default.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	if err := checkSchema(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// checkSchema unifies raw with #Config. A nil raw (empty file) passes.
func checkSchema(raw map[string]any) error {
	if raw == nil {
		return nil
	}
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %s", cueerrors.Details(err, nil))
	}
	return nil
}

// Validate checks constraints the schema cannot express.
func (c Config) Validate() error {
	if c.TickInterval < 0 || c.ResendInterval < 0 {
		return fmt.Errorf("invalid config: negative interval")
	}
	for _, d := range c.LinkedDevices {
		if _, err := ir.ParseAgentID(string(d)); err != nil {
			return fmt.Errorf("invalid config: linked device %s: %w", d.Short(), err)
		}
	}
	return nil
}

// SlogLevel maps LogLevel to a slog level. Unknown values map to Info.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ChannelOptions returns the encrypted channel options for c.
func (c Config) ChannelOptions() []channel.Option {
	return []channel.Option{
		channel.WithChunkSize(c.Channel.ChunkSize),
		channel.WithInlineThreshold(c.Channel.InlineThreshold),
	}
}

// TransportOptions returns the Redis transport options for c.
func (c Config) TransportOptions(logger *slog.Logger) transport.Options {
	return transport.Options{
		Keys:           transport.Keys{Prefix: c.Redis.Prefix},
		Durable:        c.Redis.Durable,
		RatePerSecond:  c.Transport.RatePerSecond,
		Burst:          c.Transport.Burst,
		BlobTTL:        c.Redis.BlobTTL,
		ChannelOptions: c.ChannelOptions(),
		Logger:         logger,
	}
}
