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
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hedgehq/hedge/feed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives the rate limiter deterministically: sleeps advance the
// clock instead of blocking.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type callRecorder struct {
	mu       sync.Mutex
	requests []feed.Request
	respond  func(feed.Request) (*feed.Response, error)
}

func (r *callRecorder) Call(_ context.Context, _ App, req feed.Request, _ Context) (*feed.Response, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.respond != nil {
		return r.respond(req)
	}
	return &feed.Response{Request: req}, nil
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	clock := newFakeClock()
	rec := &callRecorder{}
	rl := &rateLimiter{
		max:      2,
		interval: time.Second,
		next:     rec,
		now:      clock.now,
		sleep:    clock.sleep,
	}
	req := feed.Request{Vendor: "v", Endpoint: "e"}

	// Two calls pass immediately, the third sleeps out the window.
	for i := 0; i < 2; i++ {
		_, err := rl.Call(context.Background(), nil, req, Context{})
		require.NoError(t, err)
	}
	assert.Empty(t, clock.slept)

	_, err := rl.Call(context.Background(), nil, req, Context{})
	require.NoError(t, err)
	require.Len(t, clock.slept, 1)
	assert.Equal(t, time.Second, clock.slept[0])

	// After the window expires no sleep is needed.
	clock.advance(2 * time.Second)
	_, err = rl.Call(context.Background(), nil, req, Context{})
	require.NoError(t, err)
	assert.Len(t, clock.slept, 1)
	assert.Len(t, rec.requests, 4)
	assert.LessOrEqual(t, len(rl.history), rl.max, "history stays bounded")
}

func TestRateLimiterBurstTiming(t *testing.T) {
	// 5 back-to-back calls at (2, 1s): calls 1-2 immediate, each later call
	// waits for the one two places ahead of it to age out.
	clock := newFakeClock()
	start := clock.now()
	rec := &callRecorder{}
	rl := &rateLimiter{
		max:      2,
		interval: time.Second,
		next:     rec,
		now:      clock.now,
		sleep:    clock.sleep,
	}
	req := feed.Request{Vendor: "v", Endpoint: "e"}
	for i := 0; i < 5; i++ {
		_, err := rl.Call(context.Background(), nil, req, Context{})
		require.NoError(t, err)
	}
	// Admission times land at 0s, 0s, 1s, 1s, 2s.
	assert.Equal(t, 2*time.Second, clock.now().Sub(start))
	assert.Len(t, clock.slept, 2, "calls 3 and 5 wait")
}

func TestRateLimiterCancel(t *testing.T) {
	rl := &rateLimiter{
		max:      1,
		interval: time.Hour,
		next:     &callRecorder{},
		now:      time.Now,
		sleep:    sleepCtx,
	}
	req := feed.Request{Vendor: "v", Endpoint: "e"}
	_, err := rl.Call(context.Background(), nil, req, Context{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rl.Call(ctx, nil, req, Context{})
	assert.ErrorIs(t, err, context.Canceled)
}

func chunkIDs() func(App) feed.CorrID {
	n := 0
	return func(App) feed.CorrID {
		n++
		return feed.CorrID(fmt.Sprintf("sub-%d", n))
	}
}

func TestTimeChunkerPartitions(t *testing.T) {
	rec := &callRecorder{respond: func(req feed.Request) (*feed.Response, error) {
		return &feed.Response{
			Request: req,
			Data:    [][]interface{}{{req.Params.Start.Format("2006-01-02")}},
		}, nil
	}}
	tc := &timeChunker{
		schedule: map[time.Duration]time.Duration{time.Minute: 24 * time.Hour},
		corrID:   chunkIDs(),
		next:     rec,
		now:      time.Now,
	}

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 8, 0, 0, 0, 0, time.UTC)
	res := time.Minute
	req := feed.Request{
		Vendor:   "v",
		Endpoint: "e",
		Params:   feed.Params{Start: &start, End: &end, Resolution: &res},
		CorrID:   "orig",
	}

	resp, err := tc.Call(context.Background(), nil, req, Context{})
	require.NoError(t, err)
	require.Len(t, rec.requests, 7, "7 day window at a 24h cap")

	// Windows tile [start, end] with no gaps and no overlap; the first
	// sub-request keeps the original corr ID.
	for i, sub := range rec.requests {
		want := start.Add(time.Duration(i) * 24 * time.Hour)
		assert.True(t, sub.Params.Start.Equal(want), "window %d start", i)
		assert.True(t, sub.Params.End.Equal(want.Add(24*time.Hour)), "window %d end", i)
	}
	assert.Equal(t, feed.CorrID("orig"), rec.requests[0].CorrID)
	assert.Equal(t, feed.CorrID("sub-1"), rec.requests[1].CorrID)

	// Merged response carries the original request and the rows in window
	// start order.
	assert.Equal(t, feed.CorrID("orig"), resp.Request.CorrID)
	require.Len(t, resp.Data, 7)
	assert.Equal(t, "2020-01-01", resp.Data[0][0])
	assert.Equal(t, "2020-01-07", resp.Data[6][0])
}

func TestTimeChunkerRaggedFinalWindow(t *testing.T) {
	rec := &callRecorder{}
	tc := &timeChunker{
		schedule: map[time.Duration]time.Duration{time.Minute: 24 * time.Hour},
		corrID:   chunkIDs(),
		next:     rec,
		now:      time.Now,
	}
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(36 * time.Hour)
	res := time.Minute
	req := feed.Request{Params: feed.Params{Start: &start, End: &end, Resolution: &res}, CorrID: "orig"}

	_, err := tc.Call(context.Background(), nil, req, Context{})
	require.NoError(t, err)
	require.Len(t, rec.requests, 2)
	assert.True(t, rec.requests[1].Params.End.Equal(end), "final window clipped to request end")
}

func TestTimeChunkerPassThrough(t *testing.T) {
	rec := &callRecorder{}
	tc := &timeChunker{
		schedule: map[time.Duration]time.Duration{time.Minute: 24 * time.Hour},
		corrID:   chunkIDs(),
		next:     rec,
		now:      time.Now,
	}

	// No window: forwarded untouched.
	req := feed.Request{Vendor: "v", Endpoint: "e", CorrID: "orig"}
	_, err := tc.Call(context.Background(), nil, req, Context{})
	require.NoError(t, err)
	require.Len(t, rec.requests, 1)
	assert.Equal(t, feed.CorrID("orig"), rec.requests[0].CorrID)

	// Window within the cap: forwarded untouched.
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Hour)
	res := time.Minute
	req.Params = feed.Params{Start: &start, End: &end, Resolution: &res}
	_, err = tc.Call(context.Background(), nil, req, Context{})
	require.NoError(t, err)
	assert.Len(t, rec.requests, 2)
}

func TestTimeChunkerScheduleSelection(t *testing.T) {
	tc := &timeChunker{schedule: map[time.Duration]time.Duration{
		time.Second: time.Hour,
		time.Minute: 24 * time.Hour,
		time.Hour:   30 * 24 * time.Hour,
	}}

	w, ok := tc.capFor(time.Minute)
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, w, "exact match")

	w, ok = tc.capFor(5 * time.Second)
	require.True(t, ok)
	assert.Equal(t, 24*time.Hour, w, "smallest resolution at or above")

	_, ok = tc.capFor(48 * time.Hour)
	assert.False(t, ok, "resolution coarser than any entry")
}

func TestTimeChunkerSubError(t *testing.T) {
	calls := 0
	rec := &callRecorder{respond: func(req feed.Request) (*feed.Response, error) {
		calls++
		if calls == 2 {
			return nil, fmt.Errorf("upstream down")
		}
		return &feed.Response{Request: req}, nil
	}}
	tc := &timeChunker{
		schedule: map[time.Duration]time.Duration{time.Minute: 24 * time.Hour},
		corrID:   chunkIDs(),
		next:     rec,
		now:      time.Now,
	}
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(72 * time.Hour)
	res := time.Minute
	req := feed.Request{Params: feed.Params{Start: &start, End: &end, Resolution: &res}, CorrID: "orig"}

	_, err := tc.Call(context.Background(), nil, req, Context{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, 2, calls, "stops at the first failing window")
}

func TestSerializerExclusion(t *testing.T) {
	var mu sync.Mutex
	active, maxActive := 0, 0
	inner := &callRecorder{respond: func(req feed.Request) (*feed.Response, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return &feed.Response{Request: req}, nil
	}}
	s := &serializer{next: inner}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Call(context.Background(), nil, feed.Request{}, Context{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive, "calls never overlap")
}

func TestNewGetterChainOrder(t *testing.T) {
	var got []feed.CorrID
	target := func(_ context.Context, _ App, req feed.Request, _ Context) (*feed.Response, error) {
		got = append(got, req.CorrID)
		return &feed.Response{Request: req}, nil
	}
	g := NewGetter(target, nil,
		WithRateLimit(100, time.Second),
		WithChunking(map[time.Duration]time.Duration{time.Minute: 24 * time.Hour}, chunkIDs()),
	)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(48 * time.Hour)
	res := time.Minute
	req := feed.Request{Params: feed.Params{Start: &start, End: &end, Resolution: &res}, CorrID: "orig"}

	resp, err := g.Call(context.Background(), nil, req, Context{})
	require.NoError(t, err)
	assert.Equal(t, []feed.CorrID{"orig", "sub-1"}, got, "chunker outermost, each window reaches the target")
	assert.Equal(t, feed.CorrID("orig"), resp.Request.CorrID)
}
