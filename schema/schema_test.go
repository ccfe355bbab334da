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

package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeNameRoundTrip(t *testing.T) {
	for _, typ := range []Type{Text, Bool, Int, Float, Date, Time, Timestamp, Interval} {
		got, err := TypeFromString(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := TypeFromString("varchar")
	assert.Error(t, err)
}

func TestCoerce(t *testing.T) {
	v, err := Int.Coerce("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = Float.Coerce(7)
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)

	v, err = Timestamp.Coerce("2020-01-01T00:00:00.000000")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), v)

	v, err = Interval.Coerce("P1D")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, v)

	_, err = Int.Coerce("forty-two")
	assert.Error(t, err)
	_, err = Bool.Coerce(3.14)
	assert.Error(t, err)
}

func TestValidateRecord(t *testing.T) {
	fields := []Field{{"date", Date}, {"close", Float}, {"volume", Int}}
	good := []interface{}{time.Now(), 101.5, int64(4000)}
	assert.NoError(t, ValidateRecord(fields, good))

	short := []interface{}{time.Now(), 101.5}
	assert.Error(t, ValidateRecord(fields, short))

	wrong := []interface{}{"2020-01-01", 101.5, int64(4000)}
	assert.Error(t, ValidateRecord(fields, wrong))

	withNull := []interface{}{time.Now(), nil, int64(0)}
	assert.NoError(t, ValidateRecord(fields, withNull))
}
