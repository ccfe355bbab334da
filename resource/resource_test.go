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

package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehq/hedge/schema"
)

func stockSpec() *Spec {
	return &Spec{
		Class: "Stock",
		Constant: []Param{
			{Field: schema.Field{Name: "sec_type", Type: schema.Text}, Required: true, Default: "STK"},
		},
		Variable: []Param{
			{Field: schema.Field{Name: "symbol", Type: schema.Text}, Required: true},
			{Field: schema.Field{Name: "exchange", Type: schema.Text}, Default: "SMART"},
		},
		HandleFields: []string{"symbol", "exchange"},
	}
}

func TestNewValidates(t *testing.T) {
	spec := stockSpec()

	r, err := spec.New(map[string]interface{}{"symbol": "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, "AAPL", r.Text("symbol"))
	assert.Equal(t, "SMART", r.Text("exchange"))
	assert.Equal(t, "STK", r.Text("sec_type"))

	_, err = spec.New(map[string]interface{}{})
	assert.Error(t, err, "missing required symbol")

	_, err = spec.New(map[string]interface{}{"symbol": "AAPL", "color": "red"})
	assert.Error(t, err, "extraneous key")
}

func TestEncodeDecodeIdentity(t *testing.T) {
	spec := stockSpec()
	reg := NewRegistry(spec)

	r, err := spec.New(map[string]interface{}{"symbol": "MSFT", "exchange": "NASDAQ"})
	require.NoError(t, err)
	assert.Equal(t, "Stock$MSFT:NASDAQ", r.Encode())

	decoded, err := reg.Decode(r.Encode())
	require.NoError(t, err)
	assert.Equal(t, r.Encode(), decoded.Encode())
	assert.Equal(t, "MSFT", decoded.Text("symbol"))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	reg := NewRegistry(stockSpec())

	_, err := reg.Decode("Stock")
	assert.Error(t, err, "no separator")

	_, err = reg.Decode("Bond$X:Y")
	assert.Error(t, err, "unknown class")

	_, err = reg.Decode("Stock$MSFT")
	assert.Error(t, err, "wrong handle arity")
}
