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

package vendors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/hedgehq/hedge/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextDerived(t *testing.T) {
	ctx, err := NewContext(
		map[string]string{"api_key": "abc", "host": "api.example.com"},
		map[string]Derive{
			"auth": func(static map[string]string) (string, error) {
				return "Bearer " + static["api_key"], nil
			},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "abc", ctx.Get("api_key"))
	assert.Equal(t, "Bearer abc", ctx.Get("auth"))

	_, ok := ctx.Lookup("missing")
	assert.False(t, ok)

	_, err = NewContext(nil, map[string]Derive{
		"bad": func(map[string]string) (string, error) { return "", errors.New("boom") },
	})
	assert.Error(t, err)
}

func TestLoadAndEndpointResolution(t *testing.T) {
	getter := NewGetter(func(_ context.Context, _ App, req feed.Request, _ Context) (*feed.Response, error) {
		return &feed.Response{Request: req}, nil
	}, nil)

	spec := &Spec{
		Name:    "demo",
		Getters: map[string]*Getter{"observations": getter},
		NewApp:  func(Context) (App, error) { return struct{}{}, nil },
	}
	table, err := Load(spec)
	require.NoError(t, err)
	v := table["demo"]
	require.NotNil(t, v)

	g, err := v.Getter("observations")
	require.NoError(t, err)
	assert.Same(t, getter, g)

	_, err = v.Getter("nope")
	assert.Error(t, err)

	// Default corr IDs are UUIDs, so never integer-shaped.
	_, ok := v.NewCorrID().Int()
	assert.False(t, ok)

	_, err = New(&Spec{Name: "empty"})
	assert.Error(t, err, "no app constructor")
}

func TestHTTPSessionGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "token", r.Header.Get("X-Api-Key"))
			assert.Equal(t, "GNPCA", r.URL.Query().Get("series_id"))
			w.Write([]byte(`{"value": 42}`))
		default:
			http.Error(w, "nope", http.StatusForbidden)
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host := u.Hostname()

	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	spec := &HTTPSessionSpec{
		Scheme:  "http",
		Host:    host,
		Port:    port,
		Headers: map[string]string{"X-Api-Key": "token"},
	}

	sess, err := spec.NewSession()
	require.NoError(t, err)

	var out struct {
		Value int `json:"value"`
	}
	q := url.Values{"series_id": {"GNPCA"}}
	require.NoError(t, sess.GetJSON(context.Background(), "/ok", q, &out))
	assert.Equal(t, 42, out.Value)

	err = sess.GetJSON(context.Background(), "/denied", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}
