package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for inconsistent configuration.
var ErrInvalid = errors.New("invalid config")

// Node holds all configuration for one grid rank.
type Node struct {
	// Identity
	Rank      int `yaml:"rank"`
	WorldSize int `yaml:"world_size"`

	LogLevel string `yaml:"log_level"` // debug|info|warn|error

	// Peers lists the listen address of every rank, indexed by rank.
	Peers []string `yaml:"peers"`

	Grid      GridConfig      `yaml:"grid"`
	Transport TransportConfig `yaml:"transport"`
	Database  DatabaseConfig  `yaml:"database"`
}

// GridConfig describes the global grid and its ownership policy.
type GridConfig struct {
	Nx   int     `yaml:"nx"`
	Ny   int     `yaml:"ny"`
	Xmin float64 `yaml:"xmin"`
	Xmax float64 `yaml:"xmax"`
	Ymin float64 `yaml:"ymin"`
	Ymax float64 `yaml:"ymax"`

	// Policy names the partition used by the coordinator: blocks|stripes|quadrants.
	Policy string `yaml:"policy"`
}

// TransportConfig tunes the TCP mesh.
type TransportConfig struct {
	CipherKey    string        `yaml:"cipher_key"` // empty disables frame encryption
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	DialRetry    time.Duration `yaml:"dial_retry"`
	MaxFrameSize int           `yaml:"max_frame_size"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// DefaultNode returns a single-rank Node config with sensible defaults.
func DefaultNode() Node {
	return Node{
		Rank:      0,
		WorldSize: 1,
		LogLevel:  "info",
		Peers:     []string{"127.0.0.1:7400"},
		Grid: GridConfig{
			Nx:     10,
			Ny:     15,
			Xmin:   0,
			Xmax:   1,
			Ymin:   0,
			Ymax:   1,
			Policy: "blocks",
		},
		Transport: TransportConfig{
			DialTimeout:  30 * time.Second,
			DialRetry:    200 * time.Millisecond,
			MaxFrameSize: 16 << 20,
		},
		Database: DatabaseConfig{
			Enabled:  false,
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "tilegrid",
			Password: "tilegrid",
			DBName:   "tilegrid",
			SSLMode:  "disable",
		},
	}
}

// LoadNode loads node config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadNode(path string) (Node, error) {
	cfg := DefaultNode()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks that the config describes a consistent rank.
func (c Node) Validate() error {
	if c.WorldSize <= 0 {
		return fmt.Errorf("world_size %d: %w", c.WorldSize, ErrInvalid)
	}
	if c.Rank < 0 || c.Rank >= c.WorldSize {
		return fmt.Errorf("rank %d outside world of %d: %w", c.Rank, c.WorldSize, ErrInvalid)
	}
	if len(c.Peers) != c.WorldSize {
		return fmt.Errorf("%d peer addresses for %d ranks: %w", len(c.Peers), c.WorldSize, ErrInvalid)
	}
	if c.Grid.Nx <= 0 || c.Grid.Ny <= 0 {
		return fmt.Errorf("grid %dx%d: %w", c.Grid.Nx, c.Grid.Ny, ErrInvalid)
	}
	if !(c.Grid.Xmin < c.Grid.Xmax) || !(c.Grid.Ymin < c.Grid.Ymax) {
		return fmt.Errorf("grid extents x [%g, %g], y [%g, %g]: %w",
			c.Grid.Xmin, c.Grid.Xmax, c.Grid.Ymin, c.Grid.Ymax, ErrInvalid)
	}
	return nil
}
