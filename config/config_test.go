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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
[server]
host = "localhost"
port = 8080

[api.fred]
key = "$FRED_API_KEY"

[daemon]
start = "09:30:00"
`

func TestStringAndInt(t *testing.T) {
	c, err := Parse(sample, map[string]string{"FRED_API_KEY": "sekrit"})
	require.NoError(t, err)

	host, err := c.String("server.host")
	require.NoError(t, err)
	assert.Equal(t, "localhost", host)

	port, err := c.Int("server.port")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	_, err = c.String("server.port")
	assert.Error(t, err, "type mismatch")
	_, err = c.String("server.missing")
	assert.Error(t, err)
}

func TestEnvReference(t *testing.T) {
	c, err := Parse(sample, map[string]string{"FRED_API_KEY": "sekrit"})
	require.NoError(t, err)

	key, err := c.String("api.fred.key")
	require.NoError(t, err)
	assert.Equal(t, "sekrit", key)

	c, err = Parse(sample, nil)
	require.NoError(t, err)
	_, err = c.String("api.fred.key")
	assert.Error(t, err, "unresolved reference")
}

func TestLoadFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(sample), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FRED_API_KEY=abc\n"), 0o600))

	c, err := Load(dir)
	require.NoError(t, err)
	key, err := c.String("api.fred.key")
	require.NoError(t, err)
	assert.Equal(t, "abc", key)

	assert.Equal(t, "fallback", c.StringOr("server.nope", "fallback"))
	assert.Equal(t, 9, c.IntOr("server.nope", 9))
}
