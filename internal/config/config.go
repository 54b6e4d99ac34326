package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leengari/burpdb/internal/codec"
	"github.com/leengari/burpdb/internal/envelope"
	"github.com/leengari/burpdb/internal/storage"
	"github.com/leengari/burpdb/internal/storage/manager"
)

// DefaultFile is the config file looked up when no path is given
const DefaultFile = "burpdb.yaml"

// ServerConfig configures the HTTP transport
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsPath string `yaml:"metrics_path"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `yaml:"level"`   // debug, info, warn, error
	SeqURL string `yaml:"seq_url"` // empty disables the Seq sink
}

// Config is the full runtime configuration
type Config struct {
	DataDir      string       `yaml:"data_dir"`
	Extension    string       `yaml:"extension"`
	Encoding     string       `yaml:"encoding"`
	KeySize      int          `yaml:"key_size"`
	AtomicWrites bool         `yaml:"atomic_writes"`
	Indent       int          `yaml:"indent"`
	Server       ServerConfig `yaml:"server"`
	Log          LogConfig    `yaml:"log"`
}

// Default returns the configuration used when no file is present
func Default() Config {
	return Config{
		DataDir:      ".",
		Extension:    storage.DefaultExtension,
		Encoding:     codec.DefaultEncoding,
		KeySize:      envelope.DefaultKeySize,
		AtomicWrites: true,
		Server: ServerConfig{
			Addr:        ":8000",
			MetricsPath: "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file over Default. A missing file at DefaultFile is not
// an error; a missing file named explicitly is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks field values
func (c Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	if !codec.ValidEncoding(c.Encoding) {
		return fmt.Errorf("encoding %q is not one of %v", c.Encoding, codec.SupportedEncodings())
	}
	if c.KeySize < envelope.MinKeySize {
		return fmt.Errorf("key_size must be at least %d", envelope.MinKeySize)
	}
	if c.Indent < 0 {
		return errors.New("indent must not be negative")
	}
	if ext := storage.NormalizeExtension(c.Extension); ext == "." || strings.ContainsAny(ext, `/\`) {
		return fmt.Errorf("extension %q is not a valid file extension", c.Extension)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// RegistryOptions maps the config onto registry options
func (c Config) RegistryOptions() manager.Options {
	return manager.Options{
		DataDir:      c.DataDir,
		Extension:    storage.NormalizeExtension(c.Extension),
		Encoding:     c.Encoding,
		Indent:       c.Indent,
		KeySize:      c.KeySize,
		AtomicWrites: c.AtomicWrites,
	}
}
