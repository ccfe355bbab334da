// Copyright 2024 The hedge Authors
// This file is part of the hedge library.
//
// The hedge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hedge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hedge library. If not, see <http://www.gnu.org/licenses/>.

// Package config loads broker configuration from a TOML file plus a .env
// file in the same directory. TOML string values of the form "$NAME" resolve
// through the .env table (falling back to the process environment), keeping
// credentials out of the config file proper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml"
	"github.com/subosito/gotenv"
)

// FileName is the expected TOML file name inside the config directory.
const FileName = "config.toml"

// Config is an immutable view over the merged TOML and env tables.
type Config struct {
	tree *toml.Tree
	env  gotenv.Env
}

// Load reads <dir>/config.toml and <dir>/.env. A missing .env is not an
// error; a missing or malformed TOML file is.
func Load(dir string) (*Config, error) {
	tree, err := toml.LoadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	env := gotenv.Env{}
	if raw, err := os.ReadFile(filepath.Join(dir, ".env")); err == nil {
		env = gotenv.Parse(strings.NewReader(string(raw)))
	}
	return &Config{tree: tree, env: env}, nil
}

// Parse builds a Config from in-memory TOML, mainly for tests.
func Parse(tomlSrc string, env map[string]string) (*Config, error) {
	tree, err := toml.Load(tomlSrc)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Config{tree: tree, env: env}, nil
}

// resolve expands a "$NAME" string through the env table.
func (c *Config) resolve(v string) (string, error) {
	if !strings.HasPrefix(v, "$") {
		return v, nil
	}
	name := strings.TrimPrefix(v, "$")
	if val, ok := c.env[name]; ok {
		return val, nil
	}
	if val, ok := os.LookupEnv(name); ok {
		return val, nil
	}
	return "", fmt.Errorf("config: reference %q not found in env", v)
}

// Has reports whether the dotted key exists.
func (c *Config) Has(key string) bool {
	return c.tree.Has(key)
}

// String returns the string at the dotted key, with $-references resolved.
func (c *Config) String(key string) (string, error) {
	v := c.tree.Get(key)
	if v == nil {
		return "", fmt.Errorf("config: key %q not set", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config: key %q is %T, want string", key, v)
	}
	return c.resolve(s)
}

// StringOr returns the string at the dotted key or def when absent.
func (c *Config) StringOr(key, def string) string {
	if !c.tree.Has(key) {
		return def
	}
	s, err := c.String(key)
	if err != nil {
		return def
	}
	return s
}

// Int returns the integer at the dotted key.
func (c *Config) Int(key string) (int, error) {
	v := c.tree.Get(key)
	if v == nil {
		return 0, fmt.Errorf("config: key %q not set", key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("config: key %q is %T, want integer", key, v)
	}
	return int(n), nil
}

// IntOr returns the integer at the dotted key or def when absent.
func (c *Config) IntOr(key string, def int) int {
	n, err := c.Int(key)
	if err != nil {
		return def
	}
	return n
}

// Env returns the raw .env value for name.
func (c *Config) Env(name string) (string, bool) {
	v, ok := c.env[name]
	return v, ok
}
