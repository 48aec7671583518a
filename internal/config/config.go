package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	TmpDir  string `toml:"tmp_dir"`
}

// API contains HTTP API configuration.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Downloads contains remote fetch and validation limits.
type Downloads struct {
	AllowedExtensions     []string `toml:"allowed_extensions"`
	MaxFileSize           int64    `toml:"max_file_size"`
	TimeoutSeconds        int      `toml:"timeout_seconds"`
	ConnectTimeoutSeconds int      `toml:"connect_timeout_seconds"`
	Retries               int      `toml:"retries"`
	BaseBackoffMS         int      `toml:"base_backoff_ms"`
	UserAgent             string   `toml:"user_agent"`
	TmpPrefix             string   `toml:"tmp_prefix"`
}

// DiskDefinition describes one named storage disk.
type DiskDefinition struct {
	Driver  string `toml:"driver"`
	Root    string `toml:"root"`
	BaseURL string `toml:"base_url"`

	// S3 driver settings.
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Disks names the disks used for original and variant assets and defines them.
type Disks struct {
	Original    string                    `toml:"original"`
	Variant     string                    `toml:"variant"`
	Definitions map[string]DiskDefinition `toml:"definitions"`
}

// Dispatch modes.
const (
	DispatchSync    = "sync"
	DispatchChained = "chained"
	DispatchQueued  = "queued"
)

// Dispatch selects how pipeline stages run after a submit.
type Dispatch struct {
	Mode         string   `toml:"mode"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
	KafkaGroup   string   `toml:"kafka_group"`
}

// Expiry controls reaping of records stuck mid-pipeline.
type Expiry struct {
	Auto            bool `toml:"auto"`
	AfterHours      int  `toml:"after_hours"`
	BatchSize       int  `toml:"batch_size"`
	IntervalMinutes int  `toml:"interval_minutes"`
}

// TransformConfig is one operation in a variant's transform chain.
type TransformConfig struct {
	Op         string `toml:"op"`
	Width      int    `toml:"width"`
	Height     int    `toml:"height"`
	Background string `toml:"background"`
	Position   string `toml:"position"`
}

// EncodingConfig is one output encoding of a variant.
type EncodingConfig struct {
	Ext           string `toml:"ext"`
	Quality       int    `toml:"quality"`
	StripMetadata bool   `toml:"strip_metadata"`
}

// VariantConfig defines one derived variant. An empty list in the config file
// selects the built-in defaults.
type VariantConfig struct {
	Name      string            `toml:"name"`
	Transform []TransformConfig `toml:"transform"`
	Encoding  []EncodingConfig  `toml:"encoding"`
}

// Config encapsulates all configuration values for imageserver.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and temp directories
//   - API: HTTP bind address and optional bearer token
//   - Logging: log format and level
//   - Downloads: fetch limits, retry policy, and the image allow-list
//   - Disks: named blob storage disks for original and variant assets
//   - Dispatch: how pipeline stages run after a submit (sync/chained/queued)
//   - Expiry: reaping of records stuck mid-pipeline
//   - Variants: derived variant definitions (empty selects built-in defaults)
type Config struct {
	Paths     Paths           `toml:"paths"`
	API       API             `toml:"api"`
	Logging   Logging         `toml:"logging"`
	Downloads Downloads       `toml:"downloads"`
	Disks     Disks           `toml:"disks"`
	Dispatch  Dispatch        `toml:"dispatch"`
	Expiry    Expiry          `toml:"expiry"`
	Variants  []VariantConfig `toml:"variants"`
}

// SampleConfig returns the embedded sample configuration file contents.
func SampleConfig() string {
	return sampleConfig
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/imageserver/config.toml")
}

// Load locates, parses, normalizes, and validates a configuration file. The
// returned config has all path fields expanded.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("imageserver.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.TmpDir) != "" {
		if c.Paths.TmpDir, err = expandPath(c.Paths.TmpDir); err != nil {
			return fmt.Errorf("paths.tmp_dir: %w", err)
		}
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	normalized := make([]string, 0, len(c.Downloads.AllowedExtensions))
	for _, ext := range c.Downloads.AllowedExtensions {
		cleaned := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if cleaned != "" {
			normalized = append(normalized, cleaned)
		}
	}
	c.Downloads.AllowedExtensions = normalized

	c.Dispatch.Mode = strings.ToLower(strings.TrimSpace(c.Dispatch.Mode))
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = defaultDispatchMode
	}

	definitions := make(map[string]DiskDefinition, len(c.Disks.Definitions))
	for name, def := range c.Disks.Definitions {
		def.Driver = strings.ToLower(strings.TrimSpace(def.Driver))
		if def.Driver == "" {
			def.Driver = "local"
		}
		if def.Driver == "local" {
			if strings.TrimSpace(def.Root) == "" {
				def.Root = filepath.Join(c.Paths.DataDir, "disks", name)
			}
			if def.Root, err = expandPath(def.Root); err != nil {
				return fmt.Errorf("disks.definitions.%s.root: %w", name, err)
			}
		}
		definitions[name] = def
	}
	c.Disks.Definitions = definitions

	// Disks named as original/variant but never defined get local defaults.
	for _, name := range []string{c.Disks.Original, c.Disks.Variant} {
		if name == "" {
			continue
		}
		if _, ok := c.Disks.Definitions[name]; !ok {
			root, err := expandPath(filepath.Join(c.Paths.DataDir, "disks", name))
			if err != nil {
				return fmt.Errorf("disks.definitions.%s.root: %w", name, err)
			}
			c.Disks.Definitions[name] = DiskDefinition{Driver: "local", Root: root}
		}
	}

	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if strings.TrimSpace(c.Paths.TmpDir) != "" {
		dirs = append(dirs, c.Paths.TmpDir)
	}
	for _, def := range c.Disks.Definitions {
		if def.Driver == "local" && strings.TrimSpace(def.Root) != "" {
			dirs = append(dirs, def.Root)
		}
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TempDir returns the directory used for download temp files.
func (c *Config) TempDir() string {
	if strings.TrimSpace(c.Paths.TmpDir) != "" {
		return c.Paths.TmpDir
	}
	return os.TempDir()
}

// ExpandPath resolves a user-supplied path, expanding a leading tilde and
// making it absolute.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
