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

package ibkr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/vendors"
)

func TestResolveDuration(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		span time.Duration
		want string
	}{
		{30 * time.Minute, "1800 S"},
		{36 * time.Hour, "1 D"},
		{14 * 24 * time.Hour, "2 W"},
		{90 * 24 * time.Hour, "3 M"},
		{800 * 24 * time.Hour, "2 Y"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ResolveDuration(base, base.Add(c.span)), c.want)
	}
}

func TestResolveBarSize(t *testing.T) {
	cases := []struct {
		res  time.Duration
		want string
	}{
		{time.Second, "1 secs"},
		{12 * time.Second, "10 secs"},
		{time.Minute, "1 mins"},
		{7 * time.Minute, "5 mins"},
		{time.Hour, "1 hrs"},
		{24 * time.Hour, "1 days"},
		{10 * 24 * time.Hour, "1 weeks"},
		{40 * 24 * time.Hour, "1 months"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ResolveBarSize(c.res), c.res.String())
	}
}

func TestContractFromRequest(t *testing.T) {
	r, err := ContractSpec.New(map[string]interface{}{"symbol": "MSFT"})
	require.NoError(t, err)

	c, err := contractFromRequest(feed.Request{Params: feed.Params{Resource: r}})
	require.NoError(t, err)
	assert.Equal(t, "MSFT", c.Symbol)
	assert.Equal(t, "STK", c.SecType, "defaulted")
	assert.Equal(t, "SMART", c.Exchange)
	assert.Equal(t, "USD", c.Currency)

	_, err = contractFromRequest(feed.Request{})
	assert.Error(t, err)
}

func TestContractHandleRoundTrip(t *testing.T) {
	r, err := ContractSpec.New(map[string]interface{}{"symbol": "MSFT", "exchange": "NASDAQ"})
	require.NoError(t, err)
	assert.Equal(t, "Contract$MSFT:NASDAQ", r.Encode())
}

func TestSpecShape(t *testing.T) {
	spec := Spec(Config{Host: "127.0.0.1", Port: 4002, ClientID: 100})
	v, err := vendors.New(spec)
	require.NoError(t, err)
	require.NotNil(t, v.Runner, "broker vendor has a runner")

	// Broker correlation IDs are the protocol's monotonic request IDs.
	a, ok := v.NewCorrID().Int()
	require.True(t, ok)
	b, _ := v.NewCorrID().Int()
	assert.Equal(t, a+1, b)

	streams := map[string]bool{
		"account_summary": true, "realtime_bars": true, "realtime_ticks": true,
		"historical_bars": false, "historical_ticks": false, "contract_details": false,
	}
	for name, want := range streams {
		g, err := v.Getter(name)
		require.NoError(t, err)
		assert.Equal(t, want, g.Streams, name)
	}
}
