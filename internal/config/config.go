// Package config loads the settings for lam serve from TOML or YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBind    = "127.0.0.1:3000"
	DefaultTimeout = 60 * time.Second
	DefaultMaxBody = 1 << 20
)

// Duration reads "1.5s" style strings, or a bare number of seconds, from
// either format.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseSeconds(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// ParseSeconds parses a bare number as seconds ("30", "0.5") and anything
// else as a Go duration ("1m30s").
func ParseSeconds(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("invalid duration %q: must be a non-negative number of seconds", s)
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: use seconds (30) or a duration (1m30s)", s)
	}
	return d, nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Serve holds the settings of the request harness. Zero fields in a file
// keep their defaults.
type Serve struct {
	Bind    string   `toml:"bind" yaml:"bind"`
	File    string   `toml:"file" yaml:"file"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
	Store   string   `toml:"store" yaml:"store"`
	// RateLimit is requests per second across all clients; 0 disables it.
	RateLimit    float64 `toml:"rate_limit" yaml:"rate_limit"`
	Burst        int     `toml:"burst" yaml:"burst"`
	MaxBodyBytes int64   `toml:"max_body_bytes" yaml:"max_body_bytes"`
}

func DefaultServe() Serve {
	return Serve{
		Bind:         DefaultBind,
		Timeout:      Duration{DefaultTimeout},
		Burst:        1,
		MaxBodyBytes: DefaultMaxBody,
	}
}

// Load reads path over the defaults. The format follows the extension.
func Load(path string) (Serve, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Serve{}, fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext := filepath.Ext(path); ext {
	case ".toml":
		return Parse(data, FormatTOML)
	case ".yaml", ".yml":
		return Parse(data, FormatYAML)
	default:
		return Serve{}, fmt.Errorf("unsupported config format: %s", ext)
	}
}

type Format int

const (
	FormatTOML Format = iota
	FormatYAML
)

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte, format Format) (Serve, error) {
	cfg := DefaultServe()

	var err error
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&cfg)
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&cfg)
		if errors.Is(err, io.EOF) {
			err = nil
		}
	default:
		err = fmt.Errorf("unknown format %d", format)
	}
	if err != nil {
		return Serve{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Serve{}, err
	}
	return cfg, nil
}

func (s Serve) Validate() error {
	var errs []error
	if s.Bind == "" {
		errs = append(errs, errors.New("bind must not be empty"))
	}
	if s.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", s.Timeout))
	}
	if s.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit must not be negative, got %v", s.RateLimit))
	}
	if s.RateLimit > 0 && s.Burst < 1 {
		errs = append(errs, fmt.Errorf("burst must be at least 1, got %d", s.Burst))
	}
	if s.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must be positive, got %d", s.MaxBodyBytes))
	}
	return errors.Join(errs...)
}
