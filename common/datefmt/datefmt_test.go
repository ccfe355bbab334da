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

package datefmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2020, 1, 8, 9, 30, 15, 123456000, time.UTC)
	parsed, err := ParseTimestamp(FormatTimestamp(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}

func TestParseTimestampBareDate(t *testing.T) {
	parsed, err := ParseTimestamp("2020-01-08")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 8, 0, 0, 0, 0, time.UTC), parsed)
}

func TestDurationRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		0,
		time.Second,
		time.Minute,
		90 * time.Minute,
		24 * time.Hour,
		7 * 24 * time.Hour,
		49*time.Hour + 3*time.Minute + 7*time.Second,
	} {
		parsed, err := ParseDuration(FormatDuration(d))
		require.NoError(t, err, "duration %v", d)
		assert.Equal(t, d, parsed)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "P1D", FormatDuration(24*time.Hour))
	assert.Equal(t, "PT1M", FormatDuration(time.Minute))
	assert.Equal(t, "P7D", FormatDuration(7*24*time.Hour))
	assert.Equal(t, "P1DT2H30M", FormatDuration(26*time.Hour+30*time.Minute))
	assert.Equal(t, "PT0S", FormatDuration(0))
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "P", "PT", "1D", "P-1D", "PT1X", "one day"} {
		_, err := ParseDuration(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestParseOffset(t *testing.T) {
	d, err := ParseOffset("09:30:00")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+30*time.Minute, d)

	_, err = ParseOffset("9h30m")
	assert.Error(t, err)
}
