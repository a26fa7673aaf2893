package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.thryve/config.toml.
type Config struct {
	DefaultProfile string   `toml:"default_profile"`
	Remote         Remote   `toml:"remote"`
	Sync           Sync     `toml:"sync"`
	Typing         Typing   `toml:"typing"`
	Receipts       Receipts `toml:"receipts"`
	Relay          Relay    `toml:"relay"`
}

// Remote configures the remote message store the daemon delivers to.
type Remote struct {
	BaseURL       string   `toml:"base_url"`
	Token         string   `toml:"token"`
	Timeout       Duration `toml:"timeout"`
	CheckInterval Duration `toml:"check_interval"`
}

// Sync configures the pending message drain.
type Sync struct {
	Interval      Duration `toml:"interval"`
	MaxRetries    int      `toml:"max_retries"`
	UploadFailure string   `toml:"upload_failure"` // degrade, require
	UploadFolder  string   `toml:"upload_folder"`
}

// Typing configures the typing presence tracker.
type Typing struct {
	Throttle Duration `toml:"throttle"`
	Expiry   Duration `toml:"expiry"`
}

// Receipts configures the read receipt tracker.
type Receipts struct {
	MaxWatchedRooms int `toml:"max_watched_rooms"`
}

// Relay configures the development relay server.
type Relay struct {
	Listen    string `toml:"listen"`
	DataDir   string `toml:"data_dir"`
	Token     string `toml:"token"`
	PublicURL string `toml:"public_url"`
}

// Duration is a time.Duration that reads and writes as a string like "2s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Remote: Remote{
			BaseURL:       "http://127.0.0.1:8088",
			Timeout:       Duration{15 * time.Second},
			CheckInterval: Duration{5 * time.Second},
		},
		Sync: Sync{
			Interval:      Duration{30 * time.Second},
			MaxRetries:    3,
			UploadFailure: "degrade",
			UploadFolder:  "chat-images",
		},
		Typing: Typing{
			Throttle: Duration{2 * time.Second},
			Expiry:   Duration{5 * time.Second},
		},
		Receipts: Receipts{
			MaxWatchedRooms: 10,
		},
		Relay: Relay{
			Listen:    ":8088",
			PublicURL: "http://127.0.0.1:8088",
		},
	}
}

// Load reads config from the given path on top of Default. Returns error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
