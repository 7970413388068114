// Package config resolves named options per INI section with typed
// defaults. Unset keys are filled with their defaults in memory so a
// subsequent Save persists the fully resolved configuration.
package config

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Config is a sectioned key/value configuration backed by an INI file.
type Config struct {
	file *ini.File
	path string
}

// Load reads the INI file at path. A missing file yields an empty
// configuration that Save will create.
func Load(path string) (*Config, error) {
	f, err := ini.LooseLoad(path)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return &Config{file: f, path: path}, nil
}

// Save writes the resolved configuration, defaults included, back to the
// file it was loaded from.
func (c *Config) Save() error {
	return errors.Wrap(c.file.SaveTo(c.path), "save config")
}

// key returns the raw value for section/name, recording def when unset.
func (c *Config) key(section, name, def string) string {
	k := c.file.Section(section).Key(name)
	if k.String() == "" {
		k.SetValue(def)
	}
	return k.String()
}

// Str resolves a string option.
func (c *Config) Str(section, name, def string) string {
	return c.key(section, name, def)
}

// Float resolves a float option, falling back to def on parse failure.
func (c *Config) Float(section, name string, def float64) float64 {
	v, err := strconv.ParseFloat(c.key(section, name, strconv.FormatFloat(def, 'g', -1, 64)), 64)
	if err != nil {
		return def
	}
	return v
}

// Int resolves an integer option, falling back to def on parse failure.
func (c *Config) Int(section, name string, def int) int {
	v, err := strconv.Atoi(c.key(section, name, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

// Bool resolves a boolean option, falling back to def on parse failure.
func (c *Config) Bool(section, name string, def bool) bool {
	v, err := strconv.ParseBool(c.key(section, name, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

// Floats resolves a comma-separated list of floats, falling back to def
// when unset or on parse failure of any element.
func (c *Config) Floats(section, name string, def []float64) []float64 {
	parts := make([]string, len(def))
	for i, v := range def {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	raw := c.key(section, name, strings.Join(parts, ","))
	fields := strings.Split(raw, ",")
	out := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return def
		}
		out = append(out, v)
	}
	return out
}
