package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load assembles the effective configuration: defaults, then the config file
// (when path is non-empty), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)
	applyFallbacks(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json config %s: %w", path, err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("REMOTION_ASSETS_DIR")); v != "" {
		cfg.AssetsDir = v
	}
	if v := strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")); v != "" {
		cfg.APIKeys.ElevenLabs = v
	}
	if v := strings.TrimSpace(os.Getenv("FREESOUND_API_KEY")); v != "" {
		cfg.APIKeys.Freesound = v
	}
	if v := strings.TrimSpace(os.Getenv("FLUX_API_KEY")); v != "" {
		cfg.APIKeys.Flux = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FILE")); v != "" {
		cfg.Logging.File = v
	}
	if v := strings.TrimSpace(os.Getenv("AUDIO_ENABLED")); v != "" {
		cfg.AudioEnabled = v == "1" || strings.EqualFold(v, "true")
	}
}

func applyFallbacks(cfg *Config) {
	if cfg.AssetsDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.AssetsDir = filepath.Join(home, ".roughcut", "assets")
		}
	}
	if cfg.ProjectsDir == "" && cfg.AssetsDir != "" {
		cfg.ProjectsDir = filepath.Join(cfg.AssetsDir, "projects")
	}
	if cfg.Logging.File == "" && cfg.AssetsDir != "" {
		cfg.Logging.File = filepath.Join(cfg.AssetsDir, "roughcut-debug.log")
	}
}

// Validate rejects configurations the broker cannot start with. Failures here
// are fatal: the process exits non-zero before touching the host channel.
func (c *Config) Validate() error {
	if c.AssetsDir == "" {
		return fmt.Errorf("assetsDir is required (set REMOTION_ASSETS_DIR or assetsDir)")
	}
	if c.PortRange.Start <= 0 || c.PortRange.End <= 0 {
		return fmt.Errorf("portRange bounds must be positive, got %d-%d", c.PortRange.Start, c.PortRange.End)
	}
	if c.PortRange.Start > c.PortRange.End {
		return fmt.Errorf("portRange start %d exceeds end %d", c.PortRange.Start, c.PortRange.End)
	}
	if c.Remotion.Concurrency < 1 {
		return fmt.Errorf("remotion.concurrency must be >= 1, got %d", c.Remotion.Concurrency)
	}
	if c.Remotion.TimeoutMs <= 0 {
		return fmt.Errorf("remotion.timeout must be > 0, got %d", c.Remotion.TimeoutMs)
	}
	switch c.Logging.Level {
	case "error", "warn", "info", "debug", "":
	default:
		return fmt.Errorf("logging.level must be one of error|warn|info|debug, got %q", c.Logging.Level)
	}
	if c.Context.MaxWeight <= 0 {
		return fmt.Errorf("context.maxWeight must be positive, got %d", c.Context.MaxWeight)
	}
	if c.Context.Warning <= 0 || c.Context.Warning >= 1 {
		return fmt.Errorf("context.warning must be in (0,1), got %v", c.Context.Warning)
	}
	if c.Context.Critical <= c.Context.Warning || c.Context.Critical > 1 {
		return fmt.Errorf("context.critical must be in (warning,1], got %v", c.Context.Critical)
	}
	switch c.Context.Strategy {
	case "lru", "lfu", "priority", "smart", "":
	default:
		return fmt.Errorf("context.strategy must be one of lru|lfu|priority|smart, got %q", c.Context.Strategy)
	}
	for _, endpoint := range []struct{ name, raw string }{
		{"apiEndpoints.elevenlabs", c.APIEndpoints.ElevenLabs},
		{"apiEndpoints.freesound", c.APIEndpoints.Freesound},
		{"apiEndpoints.flux", c.APIEndpoints.Flux},
	} {
		if endpoint.raw == "" {
			continue
		}
		u, err := url.Parse(endpoint.raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s is not a valid URL: %q", endpoint.name, endpoint.raw)
		}
	}
	return nil
}

// EnsureDirectories creates the writable directories the broker owns.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{
		c.AssetsDir,
		c.ProjectsDir,
		filepath.Join(c.AssetsDir, "voice"),
		filepath.Join(c.AssetsDir, "sfx"),
		filepath.Join(c.AssetsDir, "image"),
	} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
