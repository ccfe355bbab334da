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

// Package vendors defines the plugin contract that puts a uniform façade
// over heterogeneous upstream data sources. Each vendor module exports a
// Spec (getters, app constructor, optional runner, context, corr-ID
// function, resources); the loader turns specs into live Vendors. Getters
// are composable: rate limiting, time chunking and per-endpoint
// serialization wrap a raw endpoint function (see decorate.go).
package vendors

import (
	"context"
	"fmt"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/resource"
	"github.com/hedgehq/hedge/schema"
)

// App is a vendor's live session handle: a *Session for HTTP vendors, the
// TCP client for the broker vendor.
type App interface{}

// A Target is the raw endpoint function at the bottom of a getter chain.
type Target func(ctx context.Context, app App, req feed.Request, vctx Context) (*feed.Response, error)

// A Caller is one link in a getter's decorator chain.
type Caller interface {
	Call(ctx context.Context, app App, req feed.Request, vctx Context) (*feed.Response, error)
}

// A Formatter post-processes a raw response into canonical form.
type Formatter func(*feed.Response) (*feed.Response, error)

// A Getter implements one endpoint. Returns declares the record shape,
// Streams whether the endpoint pushes 0..N responses rather than returning
// exactly one, Formatter the optional post-processor applied by the
// pipeline.
type Getter struct {
	Returns   []schema.Field
	Streams   bool
	Formatter Formatter

	chain Caller
}

// GetterOption configures a getter at construction.
type GetterOption func(*getterConfig)

type getterConfig struct {
	streams   bool
	formatter Formatter
	rate      *rateLimiter
	chunker   *timeChunker
}

// WithStreams marks the endpoint as streaming.
func WithStreams() GetterOption {
	return func(c *getterConfig) { c.streams = true }
}

// WithFormatter attaches a response post-processor.
func WithFormatter(f Formatter) GetterOption {
	return func(c *getterConfig) { c.formatter = f }
}

// NewGetter builds the decorator chain around target. The serializer is
// always innermost so that no two invocations of the same endpoint share
// the session concurrently; the rate limiter wraps it, the time chunker
// wraps both, so chunked sub-requests are rate limited individually.
func NewGetter(target Target, returns []schema.Field, opts ...GetterOption) *Getter {
	cfg := &getterConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	var chain Caller = &serializer{next: targetCaller(target)}
	if cfg.rate != nil {
		cfg.rate.next = chain
		chain = cfg.rate
	}
	if cfg.chunker != nil {
		cfg.chunker.next = chain
		chain = cfg.chunker
	}
	return &Getter{
		Returns:   returns,
		Streams:   cfg.streams,
		Formatter: cfg.formatter,
		chain:     chain,
	}
}

// Call invokes the endpoint through its decorator chain.
func (g *Getter) Call(ctx context.Context, app App, req feed.Request, vctx Context) (*feed.Response, error) {
	return g.chain.Call(ctx, app, req, vctx)
}

type targetCaller Target

func (t targetCaller) Call(ctx context.Context, app App, req feed.Request, vctx Context) (*feed.Response, error) {
	return t(ctx, app, req, vctx)
}

// A Spec is a vendor module's exported descriptor. Exactly one of Session
// and NewApp must be set.
type Spec struct {
	Name      string
	Getters   map[string]*Getter
	Session   *HTTPSessionSpec
	NewApp    func(Context) (App, error)
	Runner    func(context.Context, App) error
	Context   Context
	CorrIDFn  func(App) feed.CorrID
	Resources []*resource.Spec
}

// A Vendor is a loaded plugin with a live session.
type Vendor struct {
	Name      string
	App       App
	Context   Context
	Getters   map[string]*Getter
	Runner    func(context.Context, App) error
	Resources resource.Registry

	corrIDFn func(App) feed.CorrID
}

// New constructs a Vendor from its spec, building the HTTP session when the
// spec is declarative.
func New(spec *Spec) (*Vendor, error) {
	var app App
	var err error
	switch {
	case spec.Session != nil:
		app, err = spec.Session.NewSession()
	case spec.NewApp != nil:
		app, err = spec.NewApp(spec.Context)
	default:
		err = fmt.Errorf("vendor %s: no app constructor", spec.Name)
	}
	if err != nil {
		return nil, err
	}
	return &Vendor{
		Name:      spec.Name,
		App:       app,
		Context:   spec.Context,
		Getters:   spec.Getters,
		Runner:    spec.Runner,
		Resources: resource.NewRegistry(spec.Resources...),
		corrIDFn:  spec.CorrIDFn,
	}, nil
}

// Load builds the vendor table from the registered specs.
func Load(specs ...*Spec) (map[string]*Vendor, error) {
	vendorsByName := make(map[string]*Vendor, len(specs))
	for _, spec := range specs {
		v, err := New(spec)
		if err != nil {
			return nil, err
		}
		vendorsByName[v.Name] = v
	}
	return vendorsByName, nil
}

// Getter resolves an endpoint name.
func (v *Vendor) Getter(endpoint string) (*Getter, error) {
	g, ok := v.Getters[endpoint]
	if !ok {
		return nil, fmt.Errorf("vendor %s: unknown endpoint %q", v.Name, endpoint)
	}
	return g, nil
}

// NewCorrID allocates a correlation ID using the vendor's corr-ID function,
// defaulting to a v4 UUID.
func (v *Vendor) NewCorrID() feed.CorrID {
	if v.corrIDFn != nil {
		return v.corrIDFn(v.App)
	}
	return feed.NewCorrID()
}
