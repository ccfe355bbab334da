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

package fred

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/vendors"
)

// testSession points the vendor session at a local mock of the upstream.
func testSession(t *testing.T, handler http.Handler) *vendors.Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	sess, err := (&vendors.HTTPSessionSpec{Scheme: "http", Host: u.Hostname(), Port: port}).NewSession()
	require.NoError(t, err)
	return sess
}

func seriesRequest(t *testing.T, id string) feed.Request {
	t.Helper()
	r, err := SeriesSpec.New(map[string]interface{}{"series_id": id})
	require.NoError(t, err)
	return feed.Request{
		Vendor:   Name,
		Endpoint: "series_observations",
		Params:   feed.Params{Resource: r},
		CorrID:   feed.NewCorrID(),
	}
}

func TestSeriesObservations(t *testing.T) {
	sess := testSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fred/series/observations", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "json", r.URL.Query().Get("file_type"))
		assert.Equal(t, "GNPCA", r.URL.Query().Get("series_id"))
		assert.Equal(t, "2020-01-01", r.URL.Query().Get("observation_start"))
		w.Write([]byte(`{"observations": [
			{"date": "2020-01-01", "value": "21734.266"},
			{"date": "2020-04-01", "value": "."}
		]}`))
	}))

	req := seriesRequest(t, "GNPCA")
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	req.Params.Start = &start

	vctx := vendors.StaticContext(map[string]string{"api_key": "test-key"})
	resp, err := getSeriesObservations(context.Background(), sess, req, vctx)
	require.NoError(t, err)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, []interface{}{"2020-01-01", "GNPCA", "21734.266"}, resp.Data[0])

	// Formatter parses values and nulls out missing observations.
	resp, err = formatObservations(resp)
	require.NoError(t, err)
	assert.Equal(t, 21734.266, resp.Data[0][2])
	assert.Nil(t, resp.Data[1][2])
}

func TestCategoryDefaultsToRoot(t *testing.T) {
	sess := testSession(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fred/category", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("category_id"))
		w.Write([]byte(`{"categories": [{"id": 0, "name": "Categories", "parent_id": 0}]}`))
	}))

	vctx := vendors.StaticContext(map[string]string{"api_key": "k"})
	resp, err := getCategory(context.Background(), sess, feed.Request{Vendor: Name, Endpoint: "category"}, vctx)
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, []interface{}{int64(0), "Categories", int64(0)}, resp.Data[0])
}

func TestSpecShape(t *testing.T) {
	spec := Spec("k")
	assert.Equal(t, Name, spec.Name)
	require.NotNil(t, spec.Session)

	for _, name := range []string{"series", "series_observations", "series_categories", "releases", "category", "category_children"} {
		assert.Contains(t, spec.Getters, name)
	}
	obs := spec.Getters["series_observations"]
	assert.False(t, obs.Streams)
	assert.NotNil(t, obs.Formatter)

	v, err := vendors.New(spec)
	require.NoError(t, err)
	r, err := v.Resources.Decode("Series$GNPCA")
	require.NoError(t, err)
	assert.Equal(t, "GNPCA", r.Text("series_id"))
}
