// Package config loads server and client settings: compiled-in defaults, then
// an optional yaml file, then BKO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"bkonline.net/internal/emu"
)

var ErrInvalid = errors.New("invalid config")

type Log struct {
	Level string `yaml:"level" env:"BKO_LOG_LEVEL"`
	// Format is "json" or "console".
	Format string `yaml:"format" env:"BKO_LOG_FORMAT"`
}

type Server struct {
	Listen      string `yaml:"listen" env:"BKO_LISTEN"`
	AdminListen string `yaml:"admin_listen" env:"BKO_ADMIN_LISTEN"`
	DataDir     string `yaml:"data_dir" env:"BKO_DATA_DIR"`

	MaxPeers      int           `yaml:"max_peers" env:"BKO_MAX_PEERS"`
	QueueSize     int           `yaml:"queue_size" env:"BKO_QUEUE_SIZE"`
	ReadTimeout   time.Duration `yaml:"read_timeout" env:"BKO_READ_TIMEOUT"`
	SnapshotEvery time.Duration `yaml:"snapshot_every" env:"BKO_SNAPSHOT_EVERY"`
	SnapshotKeep  int           `yaml:"snapshot_keep" env:"BKO_SNAPSHOT_KEEP"`
	Journal       bool          `yaml:"journal" env:"BKO_JOURNAL"`
	// IndexPath "-" disables the sqlite index.
	IndexPath      string `yaml:"index_path" env:"BKO_INDEX_PATH"`
	ValidateFrames bool   `yaml:"validate_frames" env:"BKO_VALIDATE_FRAMES"`

	Mirror Mirror `yaml:"mirror"`

	Log Log `yaml:"log"`
}

// Mirror configures snapshot uploads to an S3-compatible bucket. An empty
// endpoint disables them.
type Mirror struct {
	Endpoint        string `yaml:"endpoint" env:"BKO_MIRROR_ENDPOINT"`
	Bucket          string `yaml:"bucket" env:"BKO_MIRROR_BUCKET"`
	Region          string `yaml:"region" env:"BKO_MIRROR_REGION"`
	Prefix          string `yaml:"prefix" env:"BKO_MIRROR_PREFIX"`
	AccessKeyID     string `yaml:"-" env:"BKO_MIRROR_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"BKO_MIRROR_SECRET_ACCESS_KEY"`
}

type Client struct {
	URL          string        `yaml:"url" env:"BKO_URL"`
	Lobby        string        `yaml:"lobby" env:"BKO_LOBBY"`
	Nickname     string        `yaml:"nickname" env:"BKO_NICKNAME"`
	TickInterval time.Duration `yaml:"tick_interval" env:"BKO_TICK_INTERVAL"`
	QueueSize    int           `yaml:"queue_size" env:"BKO_QUEUE_SIZE"`

	// Layout overrides individual fields of the default memory layout.
	Layout emu.Layout `yaml:"layout,omitempty"`

	Log Log `yaml:"log"`
}

func DefaultServer() Server {
	return Server{
		Listen:         ":8080",
		DataDir:        "./data",
		MaxPeers:       16,
		QueueSize:      256,
		ReadTimeout:    60 * time.Second,
		SnapshotEvery:  time.Minute,
		SnapshotKeep:   10,
		Journal:        true,
		ValidateFrames: true,
		Log:            Log{Level: "info", Format: "json"},
	}
}

func DefaultClient() Client {
	return Client{
		URL:          "ws://127.0.0.1:8080/v1/ws",
		Lobby:        "main",
		Nickname:     "banjo",
		TickInterval: 50 * time.Millisecond,
		QueueSize:    256,
		Log:          Log{Level: "info", Format: "console"},
	}
}

func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func load(path string, target any) error {
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(b, target); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (l *Log) normalize() {
	l.Level = strings.ToLower(strings.TrimSpace(l.Level))
	l.Format = strings.ToLower(strings.TrimSpace(l.Format))
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
}

func (l Log) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log level %q", ErrInvalid, l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, l.Format)
	}
	return nil
}

func (c *Server) Normalize() {
	c.Listen = strings.TrimSpace(c.Listen)
	c.AdminListen = strings.TrimSpace(c.AdminListen)
	c.DataDir = strings.TrimSpace(c.DataDir)
	c.Mirror.Endpoint = strings.TrimSpace(c.Mirror.Endpoint)
	if c.MaxPeers <= 0 {
		c.MaxPeers = 16
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.SnapshotEvery <= 0 {
		c.SnapshotEvery = time.Minute
	}
	c.Log.normalize()
}

func (c Server) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: empty listen address", ErrInvalid)
	}
	if c.DataDir == "" {
		return fmt.Errorf("%w: empty data_dir", ErrInvalid)
	}
	if c.AdminListen != "" && c.AdminListen == c.Listen {
		return fmt.Errorf("%w: admin_listen equals listen", ErrInvalid)
	}
	if c.SnapshotKeep < 0 {
		return fmt.Errorf("%w: snapshot_keep must be >= 0", ErrInvalid)
	}
	if m := c.Mirror; m.Endpoint != "" && (m.Bucket == "" || m.AccessKeyID == "" || m.SecretAccessKey == "") {
		return fmt.Errorf("%w: mirror needs bucket and BKO_MIRROR_ACCESS_KEY_ID/BKO_MIRROR_SECRET_ACCESS_KEY", ErrInvalid)
	}
	return c.Log.validate()
}

func (c *Client) Normalize() {
	c.URL = strings.TrimSpace(c.URL)
	c.Lobby = strings.TrimSpace(c.Lobby)
	c.Nickname = strings.TrimSpace(c.Nickname)
	if c.TickInterval <= 0 {
		c.TickInterval = 50 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	c.Log.normalize()
}

func (c Client) Validate() error {
	if !strings.HasPrefix(c.URL, "ws://") && !strings.HasPrefix(c.URL, "wss://") {
		return fmt.Errorf("%w: url %q is not a websocket url", ErrInvalid, c.URL)
	}
	if c.Lobby == "" || len(c.Lobby) > 64 {
		return fmt.Errorf("%w: lobby must be 1..64 characters", ErrInvalid)
	}
	if c.Nickname == "" || len(c.Nickname) > 32 {
		return fmt.Errorf("%w: nickname must be 1..32 characters", ErrInvalid)
	}
	if err := c.GameLayout().Validate(); err != nil {
		return fmt.Errorf("%w: layout: %v", ErrInvalid, err)
	}
	return c.Log.validate()
}

// GameLayout is the default layout with the configured overrides applied.
func (c Client) GameLayout() emu.Layout {
	return emu.DefaultLayout().Merge(c.Layout)
}
