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

package node

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/pipeline"
	"github.com/hedgehq/hedge/vendors"
)

// gate lets a test hold a getter open until it decides the response may
// complete.
type gate struct {
	release chan struct{}
}

func frontend(t *testing.T, running bool) (*httptest.Server, *pipeline.Pipeline, *gate) {
	t.Helper()
	g := &gate{release: make(chan struct{})}
	getter := vendors.NewGetter(func(ctx context.Context, _ vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &feed.Response{Request: req, Data: [][]interface{}{{"row"}}}, nil
	}, nil)

	table, err := vendors.Load(&vendors.Spec{
		Name:    "v",
		Getters: map[string]*vendors.Getter{"e": getter},
		NewApp:  func(vendors.Context) (vendors.App, error) { return struct{}{}, nil },
	})
	require.NoError(t, err)
	pipe, err := pipeline.New(table, 0)
	require.NoError(t, err)

	h := newHTTPServer(pipe, "127.0.0.1", 0, nil)
	srv := httptest.NewServer(h.server.Handler)
	t.Cleanup(srv.Close)

	if running {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = pipe.Run(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}
	return srv, pipe, g
}

func postRequest(t *testing.T, url, body string) map[string]string {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitRejectsMalformed(t *testing.T) {
	srv, _, _ := frontend(t, false)

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL, "application/json",
		strings.NewReader(`{"vendor":"nope","endpoint":"e"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown vendor rejected before enqueue")

	resp, err = http.Post(srv.URL, "application/json",
		strings.NewReader(`{"vendor":"v","endpoint":"nope"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCorrelationLifecycle(t *testing.T) {
	srv, _, g := frontend(t, true)

	out := postRequest(t, srv.URL, `{"vendor":"v","endpoint":"e"}`)
	id := out["corr_id"]
	require.NotEmpty(t, id)

	// Before completion the response is absent.
	resp, err := http.Get(srv.URL + "/?corr_id=" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	close(g.release)

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/?corr_id=" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var got feed.Response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, id, string(got.Request.CorrID))
		assert.Equal(t, "row", got.Data[0][0])
		return true
	}, 5*time.Second, 10*time.Millisecond)

	// Pickup is destructive.
	resp, err = http.Get(srv.URL + "/?corr_id=" + id)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchWaitBlocks(t *testing.T) {
	srv, _, g := frontend(t, true)

	out := postRequest(t, srv.URL, `{"vendor":"v","endpoint":"e"}`)
	id := out["corr_id"]

	got := make(chan int, 1)
	go func() {
		resp, err := http.Get(srv.URL + "/?corr_id=" + id + "&wait=true")
		if err != nil {
			got <- 0
			return
		}
		defer resp.Body.Close()
		got <- resp.StatusCode
	}()

	select {
	case code := <-got:
		t.Fatalf("wait returned %d before completion", code)
	case <-time.After(100 * time.Millisecond):
	}

	close(g.release)
	select {
	case code := <-got:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(5 * time.Second):
		t.Fatal("wait never resolved")
	}
}

func TestStatusProbe(t *testing.T) {
	srv, pipe, _ := frontend(t, false)

	_, err := pipe.Submit(feed.Request{Vendor: "v", Endpoint: "e"}, pipeline.BandNormal)
	require.NoError(t, err)
	pipe.Store().Put(&feed.Response{Request: feed.Request{CorrID: "x"}})

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	var status map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, 1, status["pending_requests"])
	assert.Equal(t, 1, status["pending_responses"])
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := frontend(t, false)

	req, err := http.NewRequest(http.MethodDelete, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStreamFanOut(t *testing.T) {
	srv, pipe, _ := frontend(t, false)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream?corr_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler time to subscribe before pushing.
	require.Eventually(t, func() bool {
		return pipe.Store().Subscribers() > 0
	}, 5*time.Second, 10*time.Millisecond)

	pipe.Store().PutStream(&feed.Response{
		Request: feed.Request{CorrID: "other"},
	})
	pipe.Store().PutStream(&feed.Response{
		Request: feed.Request{Vendor: "v", Endpoint: "e", CorrID: "s1"},
		Data:    [][]interface{}{{"tick"}},
	})

	// The "other" push is filtered out; the first frame is s1's.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got feed.Response
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, feed.CorrID("s1"), got.Request.CorrID)
	assert.Equal(t, "tick", got.Data[0][0])
}

func TestMetricsExposed(t *testing.T) {
	srv, _, _ := frontend(t, false)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "hedge_")
}
