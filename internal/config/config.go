package config

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config is the on-disk configuration. Every field can also be set by a
// flag, which takes precedence.
type Config struct {
	// Adapter is the BlueZ adapter name, Linux only.
	Adapter string `toml:"adapter"`
	// Address pairs with one specific dispenser instead of the first found.
	// It is a MAC address, or a CoreBluetooth UUID on macOS.
	Address       string `toml:"address"`
	Theme         string `toml:"theme"`
	ClearOnRescan bool   `toml:"clear_on_rescan"`

	ScanInterval   time.Duration `toml:"scan_interval"`
	Timeout        time.Duration `toml:"timeout"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	JoinTimeout    time.Duration `toml:"join_timeout"`

	LogFile string `toml:"log_file"`
	Verbose bool   `toml:"verbose"`
}

const (
	DefaultScanInterval   = 5 * time.Second
	DefaultTimeout        = 10 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	DefaultJoinTimeout    = 60 * time.Second

	minScanInterval = time.Second
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ScanInterval:   DefaultScanInterval,
		Timeout:        DefaultTimeout,
		ConnectTimeout: DefaultConnectTimeout,
		JoinTimeout:    DefaultJoinTimeout,
	}
}

// Load decodes r on top of the defaults. Keys missing from the file keep
// their default value.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return cfg, cfg.Validate()
}

// LoadFile loads the config at path. An empty path returns the defaults.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Default(), err
	}
	defer f.Close()
	return Load(f)
}

// Validate checks values a flag or file could get wrong.
func (c Config) Validate() error {
	var errs []error
	if c.Address != "" {
		if _, err := net.ParseMAC(c.Address); err != nil {
			if _, uerr := uuid.Parse(c.Address); uerr != nil {
				errs = append(errs, fmt.Errorf("address %q is neither a MAC address nor a UUID", c.Address))
			}
		}
	}
	if c.ScanInterval != 0 && c.ScanInterval < minScanInterval {
		errs = append(errs, fmt.Errorf("scan_interval must be 0 or at least %s, got %s", minScanInterval, c.ScanInterval))
	}
	for name, d := range map[string]time.Duration{
		"timeout":         c.Timeout,
		"connect_timeout": c.ConnectTimeout,
		"join_timeout":    c.JoinTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %s", name, d))
		}
	}
	return errors.Join(errs...)
}
