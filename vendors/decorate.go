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
	"time"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/metrics"
)

// serializer forces invocations of one endpoint into single file. It is the
// innermost decorator so the vendor session never sees the same endpoint
// concurrently.
type serializer struct {
	mu   sync.Mutex
	next Caller
}

func (s *serializer) Call(ctx context.Context, app App, req feed.Request, vctx Context) (*feed.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Call(ctx, app, req, vctx)
}

// WithRateLimit caps the endpoint at max calls per sliding interval.
func WithRateLimit(max int, interval time.Duration) GetterOption {
	return func(c *getterConfig) {
		c.rate = &rateLimiter{
			max:      max,
			interval: interval,
			history:  make([]time.Time, 0, max),
			now:      time.Now,
			sleep:    sleepCtx,
		}
	}
}

// rateLimiter keeps the timestamps of the last max invocations. When a new
// call would be the max+1'th inside the interval, it sleeps until the
// oldest timestamp falls out of the window. The history never exceeds max
// entries, so memory is bounded regardless of call volume.
type rateLimiter struct {
	max      int
	interval time.Duration
	next     Caller

	mu      sync.Mutex
	history []time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func (rl *rateLimiter) Call(ctx context.Context, app App, req feed.Request, vctx Context) (*feed.Response, error) {
	if err := rl.wait(ctx, req); err != nil {
		return nil, err
	}
	return rl.next.Call(ctx, app, req, vctx)
}

func (rl *rateLimiter) wait(ctx context.Context, req feed.Request) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if len(rl.history) >= rl.max {
		oldest := rl.history[0]
		if wait := rl.interval - rl.now().Sub(oldest); wait > 0 {
			metrics.RateLimitWait.WithLabelValues(req.Vendor, req.Endpoint).Add(wait.Seconds())
			if err := rl.sleep(ctx, wait); err != nil {
				return err
			}
		}
		rl.history = rl.history[:copy(rl.history, rl.history[1:])]
	}
	rl.history = append(rl.history, rl.now())
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithChunking splits long windowed requests per the schedule, which maps a
// bar resolution to the widest window the endpoint accepts at that
// resolution. corrID allocates IDs for the sub-requests after the first.
func WithChunking(schedule map[time.Duration]time.Duration, corrID func(App) feed.CorrID) GetterOption {
	if corrID == nil {
		corrID = func(App) feed.CorrID { return feed.NewCorrID() }
	}
	return func(c *getterConfig) {
		c.chunker = &timeChunker{schedule: schedule, corrID: corrID, now: time.Now}
	}
}

// timeChunker partitions [start, end] into back-to-back windows no wider
// than the schedule's cap for the request resolution, calls the inner chain
// once per window in ascending start order, and concatenates the rows under
// the original correlation ID. Requests without a window or resolution pass
// through untouched.
type timeChunker struct {
	schedule map[time.Duration]time.Duration
	corrID   func(App) feed.CorrID
	next     Caller
	now      func() time.Time
}

func (tc *timeChunker) Call(ctx context.Context, app App, req feed.Request, vctx Context) (*feed.Response, error) {
	if req.Params.Start == nil || req.Params.Resolution == nil {
		return tc.next.Call(ctx, app, req, vctx)
	}
	width, ok := tc.capFor(*req.Params.Resolution)
	if !ok {
		return nil, fmt.Errorf("no chunk schedule entry covers resolution %s", req.Params.Resolution)
	}

	start := *req.Params.Start
	end := tc.now()
	if req.Params.End != nil {
		end = *req.Params.End
	}
	if end.Sub(start) <= width {
		return tc.next.Call(ctx, app, req, vctx)
	}

	merged := &feed.Response{Request: req}
	for ws := start; ws.Before(end); ws = ws.Add(width) {
		we := ws.Add(width)
		if we.After(end) {
			we = end
		}
		id := req.CorrID
		if !ws.Equal(start) {
			id = tc.corrID(app)
		}
		metrics.ChunksTotal.Inc()
		sub, err := tc.next.Call(ctx, app, req.WithWindow(ws, we, id), vctx)
		if err != nil {
			return nil, fmt.Errorf("chunk [%s, %s): %w", ws, we, err)
		}
		merged.Data = append(merged.Data, sub.Data...)
	}
	return merged, nil
}

// capFor selects the smallest schedule resolution at or above res and
// returns its window cap.
func (tc *timeChunker) capFor(res time.Duration) (time.Duration, bool) {
	var best time.Duration
	found := false
	for r := range tc.schedule {
		if r >= res && (!found || r < best) {
			best, found = r, true
		}
	}
	if !found {
		return 0, false
	}
	return tc.schedule[best], true
}
