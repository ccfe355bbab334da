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

// Package pipeline moves requests from the front-end queue through vendor
// getters into the response store. Dispatch is concurrent across endpoints;
// within one endpoint the getter's serializer imposes single file. Every
// request produces exactly one stored response, error-tagged on failure, so
// a client holding a correlation ID never waits on a request that died.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/log"
	"github.com/hedgehq/hedge/metrics"
	"github.com/hedgehq/hedge/vendors"
)

// idleTick bounds how long the dispatch loop sleeps when the queue is
// empty and no push notification arrives.
const idleTick = 50 * time.Millisecond

// Pipeline owns the queue, the store, and the dispatch loop.
type Pipeline struct {
	queue   *Queue
	store   *Store
	vendors map[string]*vendors.Vendor
	log     log.Logger
}

// New assembles a pipeline over the loaded vendor table.
func New(table map[string]*vendors.Vendor, retention int) (*Pipeline, error) {
	store, err := NewStore(retention)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		queue:   NewQueue(),
		store:   store,
		vendors: table,
		log:     log.New("module", "pipeline"),
	}, nil
}

// Queue returns the request queue.
func (p *Pipeline) Queue() *Queue { return p.queue }

// Store returns the response store.
func (p *Pipeline) Store() *Store { return p.store }

// Submit validates the request against the vendor table, assigns a
// correlation ID if the client left it empty, and enqueues it. The assigned
// ID is returned.
func (p *Pipeline) Submit(req feed.Request, band Band) (feed.CorrID, error) {
	v, ok := p.vendors[req.Vendor]
	if !ok {
		return "", fmt.Errorf("unknown vendor %q", req.Vendor)
	}
	if _, err := v.Getter(req.Endpoint); err != nil {
		return "", err
	}
	if req.Params.ResourceRef != "" {
		r, err := v.Resources.Decode(req.Params.ResourceRef)
		if err != nil {
			return "", fmt.Errorf("resource: %w", err)
		}
		req.Params.Resource = r
	}
	if req.CorrID == "" {
		req.CorrID = v.NewCorrID()
	}
	p.queue.Push(req, band)
	return req.CorrID, nil
}

// Run drives the dispatch loop until ctx is done. Each popped request runs
// in its own goroutine; Run returns once in-flight requests finish.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	ticker := time.NewTicker(idleTick)
	defer ticker.Stop()

	for {
		req, ok := p.queue.Pop()
		if !ok {
			select {
			case <-ctx.Done():
				return g.Wait()
			case <-p.queue.Notify():
			case <-ticker.C:
			}
			continue
		}
		g.Go(func() error {
			p.dispatch(ctx, req)
			return nil
		})
	}
}

// dispatch runs one request to completion and stores its response. Panics
// in vendor code are converted to error responses so one bad getter cannot
// take down the loop.
func (p *Pipeline) dispatch(ctx context.Context, req feed.Request) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Getter panicked", "vendor", req.Vendor, "endpoint", req.Endpoint,
				"corrid", req.CorrID, "panic", r, "stack", string(debug.Stack()))
			metrics.RequestsTotal.WithLabelValues(req.Vendor, req.Endpoint, "panic").Inc()
			p.store.Put(feed.ErrResponse(req, fmt.Errorf("internal: %v", r)))
		}
	}()

	v := p.vendors[req.Vendor]
	getter, err := v.Getter(req.Endpoint)
	if err != nil {
		p.store.Put(feed.ErrResponse(req, err))
		return
	}

	started := time.Now()
	resp, err := getter.Call(ctx, v.App, req, v.Context)
	metrics.VendorLatency.WithLabelValues(req.Vendor, req.Endpoint).Observe(time.Since(started).Seconds())
	if err != nil {
		p.log.Warn("Request failed", "vendor", req.Vendor, "endpoint", req.Endpoint,
			"corrid", req.CorrID, "err", err)
		metrics.RequestsTotal.WithLabelValues(req.Vendor, req.Endpoint, "error").Inc()
		p.store.Put(feed.ErrResponse(req, err))
		return
	}

	if getter.Formatter != nil {
		if resp, err = getter.Formatter(resp); err != nil {
			metrics.RequestsTotal.WithLabelValues(req.Vendor, req.Endpoint, "error").Inc()
			p.store.Put(feed.ErrResponse(req, fmt.Errorf("format: %w", err)))
			return
		}
	}

	metrics.RequestsTotal.WithLabelValues(req.Vendor, req.Endpoint, "ok").Inc()
	p.log.Debug("Request complete", "vendor", req.Vendor, "endpoint", req.Endpoint,
		"corrid", req.CorrID, "rows", len(resp.Data))
	if getter.Streams {
		p.store.PutStream(resp)
	} else {
		p.store.Put(resp)
	}
}

// Deliver lets vendor runners (push-based sources) inject responses that
// did not originate from a queued request.
func (p *Pipeline) Deliver(resp *feed.Response, streaming bool) {
	if streaming {
		p.store.PutStream(resp)
	} else {
		p.store.Put(resp)
	}
}
