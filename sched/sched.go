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

// Package sched runs the daily request schedule. Within the configured
// trading window it fires a cycle every interval and posts each scheduled
// request to the broker's own HTTP front-end, so scheduled traffic takes
// the exact same path as ad-hoc traffic.
package sched

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/log"
	"github.com/hedgehq/hedge/metrics"
)

// StartupDelay holds the first cycle back after process start so vendor
// sessions finish connecting.
const StartupDelay = 5 * time.Second

const postTimeout = 10 * time.Second

// Config bounds the daily schedule. Start and Stop are offsets from
// midnight; cycles fire at Start, Start+Interval, ... while the offset
// stays below Stop.
type Config struct {
	Start    time.Duration
	Stop     time.Duration
	Interval time.Duration
	URL      string
}

func (c Config) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("sched: interval must be positive, got %v", c.Interval)
	}
	if c.Stop <= c.Start {
		return fmt.Errorf("sched: stop %v not after start %v", c.Stop, c.Start)
	}
	if c.URL == "" {
		return fmt.Errorf("sched: front-end URL not set")
	}
	return nil
}

// Cycles returns the number of firings per day.
func (c Config) Cycles() int {
	return int((c.Stop - c.Start) / c.Interval)
}

// Daemon posts the scheduled request set once per cycle. The set is
// swappable at runtime so template reloads take effect without a restart.
type Daemon struct {
	cfg    Config
	client *http.Client
	log    log.Logger

	mu       sync.RWMutex
	requests []feed.Request

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a daemon for the given window. The request set starts empty;
// call SetRequests before or after Run.
func New(cfg Config) (*Daemon, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Daemon{
		cfg:    cfg,
		client: &http.Client{Timeout: postTimeout},
		log:    log.New("module", "sched"),
		now:    time.Now,
		sleep:  sleepCtx,
	}, nil
}

// SetRequests swaps the scheduled request set.
func (d *Daemon) SetRequests(reqs []feed.Request) {
	d.mu.Lock()
	d.requests = append([]feed.Request(nil), reqs...)
	d.mu.Unlock()
	d.log.Info("Schedule updated", "requests", len(reqs))
}

func (d *Daemon) snapshot() []feed.Request {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.requests
}

// nextCycle returns the first firing time at or after now.
func (d *Daemon) nextCycle(now time.Time) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := now.Sub(midnight)

	switch {
	case offset < d.cfg.Start:
		return midnight.Add(d.cfg.Start)
	case offset >= d.cfg.Stop:
		return midnight.Add(24*time.Hour + d.cfg.Start)
	}
	elapsed := offset - d.cfg.Start
	next := d.cfg.Start + (elapsed/d.cfg.Interval+1)*d.cfg.Interval
	if next >= d.cfg.Stop {
		return midnight.Add(24*time.Hour + d.cfg.Start)
	}
	return midnight.Add(next)
}

// Run fires the day's cycles and returns once the budget is spent or ctx
// is cancelled. Failed posts are logged and counted; retrying is left to
// the next cycle.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.client.CloseIdleConnections()

	if err := d.sleep(ctx, StartupDelay); err != nil {
		return err
	}
	cycles := d.cfg.Cycles()
	d.log.Info("Scheduler started",
		"start", d.cfg.Start, "stop", d.cfg.Stop,
		"interval", d.cfg.Interval, "cycles", cycles)

	for fired := 0; fired < cycles; fired++ {
		next := d.nextCycle(d.now())
		if err := d.sleep(ctx, next.Sub(d.now())); err != nil {
			return err
		}
		d.fire(ctx)
	}
	d.log.Info("Schedule exhausted", "cycles", cycles)
	return nil
}

// fire posts every scheduled request once.
func (d *Daemon) fire(ctx context.Context) {
	reqs := d.snapshot()
	d.log.Debug("Cycle firing", "requests", len(reqs))
	for _, req := range reqs {
		if ctx.Err() != nil {
			return
		}
		if err := d.post(ctx, req); err != nil {
			metrics.SchedulePosts.WithLabelValues("error").Inc()
			d.log.Warn("Scheduled post failed",
				"vendor", req.Vendor, "endpoint", req.Endpoint, "err", err)
			continue
		}
		metrics.SchedulePosts.WithLabelValues("ok").Inc()
	}
}

func (d *Daemon) post(ctx context.Context, req feed.Request) error {
	body, err := req.Encode()
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("front-end returned %s", resp.Status)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
