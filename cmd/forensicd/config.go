package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	forensic "github.com/sightline/forensic"
)

// fileConfig is the on-disk YAML configuration shared by both
// commands. Missing sections fall back to the core defaults.
type fileConfig struct {
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Camera struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"camera"`

	Inference struct {
		Addr string `yaml:"addr"`
	} `yaml:"inference"`

	Queue           string   `yaml:"queue"`
	PollInterval    duration `yaml:"poll_interval"`
	ResultHistory   int      `yaml:"result_history"`
	FrameTTL        duration `yaml:"frame_ttl"`
	ShutdownTimeout duration `yaml:"shutdown_timeout"`

	// Listen is the bridge's HTTP listen address.
	Listen string `yaml:"listen"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// duration accepts Go duration strings ("30s", "5m") in YAML.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = duration(parsed)
	return nil
}

func loadConfig(path string) (*fileConfig, error) {
	cfg := &fileConfig{Listen: ":8089"}
	cfg.Redis.Addr = "localhost:6379"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// coreConfig maps the file settings onto the library configuration,
// keeping the library defaults for anything unset.
func (c *fileConfig) coreConfig() forensic.Config {
	core := forensic.DefaultConfig()
	core.CameraHost = c.Camera.Host
	core.CameraPort = c.Camera.Port
	core.InferenceAddr = c.Inference.Addr
	if c.Queue != "" {
		core.Queue = c.Queue
	}
	if c.PollInterval > 0 {
		core.PollInterval = time.Duration(c.PollInterval)
	}
	if c.ResultHistory > 0 {
		core.ResultHistory = c.ResultHistory
	}
	if c.FrameTTL > 0 {
		core.FrameTTL = time.Duration(c.FrameTTL)
	}
	if c.ShutdownTimeout > 0 {
		core.ShutdownTimeout = time.Duration(c.ShutdownTimeout)
	}
	return core
}

func (c *fileConfig) newLogger() *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func (c *fileConfig) newRedisClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
}
