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

// Package node assembles and hosts the broker: the vendor table, the
// request pipeline, the Postgres gateway, the coverage planner, the
// scheduler daemon and the HTTP front-end, started and stopped as one
// unit.
package node

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/hedgehq/hedge/common/datefmt"
	"github.com/hedgehq/hedge/config"
	"github.com/hedgehq/hedge/coverage"
	"github.com/hedgehq/hedge/db"
	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/log"
	"github.com/hedgehq/hedge/pipeline"
	"github.com/hedgehq/hedge/sched"
	"github.com/hedgehq/hedge/vendors"
	"github.com/hedgehq/hedge/vendors/edgar"
	"github.com/hedgehq/hedge/vendors/fred"
	"github.com/hedgehq/hedge/vendors/ibkr"
)

// Defaults for optional configuration keys.
const (
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 8050
	DefaultRetention = pipeline.DefaultRetention
)

// Node owns every long-lived component of a broker process.
type Node struct {
	cfg     *config.Config
	vendors map[string]*vendors.Vendor
	pipe    *pipeline.Pipeline
	server  *httpServer
	gateway *db.Gateway
	daemon  *sched.Daemon
	watcher *fsnotify.Watcher
	log     log.Logger

	templateDir string

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// New assembles a node from configuration. Vendors, the database and the
// scheduler are each optional: a section left out of the config simply
// leaves that component disabled.
func New(cfg *config.Config) (*Node, error) {
	table, err := loadVendors(cfg)
	if err != nil {
		return nil, err
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("node: no vendors configured")
	}

	pipe, err := pipeline.New(table, cfg.IntOr("server.retention", DefaultRetention))
	if err != nil {
		return nil, err
	}

	host := cfg.StringOr("server.host", DefaultHost)
	port := cfg.IntOr("server.port", DefaultPort)
	var origins []string
	if raw := cfg.StringOr("server.cors", ""); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			origins = append(origins, strings.TrimSpace(o))
		}
	}

	n := &Node{
		cfg:         cfg,
		vendors:     table,
		pipe:        pipe,
		server:      newHTTPServer(pipe, host, port, origins),
		templateDir: cfg.StringOr("templates.dir", ""),
		log:         log.New("module", "node"),
	}

	if cfg.Has("schedule") {
		daemon, err := loadSchedule(cfg, fmt.Sprintf("http://%s:%d/", host, port))
		if err != nil {
			return nil, err
		}
		n.daemon = daemon
	}
	return n, nil
}

// loadVendors instantiates every vendor with a config section.
func loadVendors(cfg *config.Config) (map[string]*vendors.Vendor, error) {
	var specs []*vendors.Spec
	if cfg.Has("vendor.fred") {
		key, err := cfg.String("vendor.fred.api_key")
		if err != nil {
			return nil, err
		}
		specs = append(specs, fred.Spec(key))
	}
	if cfg.Has("vendor.edgar") {
		ua, err := cfg.String("vendor.edgar.user_agent")
		if err != nil {
			return nil, err
		}
		specs = append(specs, edgar.Spec(ua))
	}
	if cfg.Has("vendor.ibkr") {
		specs = append(specs, ibkr.Spec(ibkr.Config{
			Host:     cfg.StringOr("vendor.ibkr.host", "127.0.0.1"),
			Port:     cfg.IntOr("vendor.ibkr.port", 4497),
			ClientID: int32(cfg.IntOr("vendor.ibkr.client_id", 0)),
		}))
	}
	return vendors.Load(specs...)
}

func loadSchedule(cfg *config.Config, url string) (*sched.Daemon, error) {
	start, err := offsetKey(cfg, "schedule.start")
	if err != nil {
		return nil, err
	}
	stop, err := offsetKey(cfg, "schedule.stop")
	if err != nil {
		return nil, err
	}
	rawInterval, err := cfg.String("schedule.interval")
	if err != nil {
		return nil, err
	}
	interval, err := datefmt.ParseDuration(rawInterval)
	if err != nil {
		return nil, fmt.Errorf("schedule.interval: %w", err)
	}
	return sched.New(sched.Config{Start: start, Stop: stop, Interval: interval, URL: url})
}

func offsetKey(cfg *config.Config, key string) (time.Duration, error) {
	raw, err := cfg.String(key)
	if err != nil {
		return 0, err
	}
	off, err := datefmt.ParseOffset(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return off, nil
}

// Start brings every component up. It returns once the front-end is
// listening; background loops run until Stop.
func (n *Node) Start(ctx context.Context) error {
	var startErr error
	n.startOnce.Do(func() { startErr = n.start(ctx) })
	return startErr
}

func (n *Node) start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	g, ctx := errgroup.WithContext(ctx)
	n.group = g

	if dsn := n.cfg.StringOr("database.url", ""); dsn != "" {
		gateway, err := db.Connect(ctx, dsn)
		if err != nil {
			cancel()
			return err
		}
		n.gateway = gateway
	}

	if err := n.server.Start(); err != nil {
		cancel()
		if n.gateway != nil {
			n.gateway.Close()
		}
		return err
	}

	g.Go(func() error { return n.pipe.Run(ctx) })

	for _, v := range n.vendors {
		if v.Runner == nil {
			continue
		}
		v := v
		g.Go(func() error {
			// A dead vendor session degrades that vendor only.
			if err := v.Runner(ctx, v.App); err != nil && ctx.Err() == nil {
				n.log.Error("Vendor runner exited", "vendor", v.Name, "err", err)
			}
			return nil
		})
	}

	if n.templateDir != "" {
		if err := n.startTemplates(ctx); err != nil {
			n.log.Warn("Template loading failed", "dir", n.templateDir, "err", err)
		}
	}
	if n.daemon != nil {
		g.Go(func() error {
			err := n.daemon.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	n.log.Info("Node started", "vendors", len(n.vendors),
		"database", n.gateway != nil, "scheduler", n.daemon != nil)
	return nil
}

// startTemplates loads the template directory, feeds the schedule, kicks
// the initial coverage sync, and keeps both updated on edits.
func (n *Node) startTemplates(ctx context.Context) error {
	templates, err := coverage.LoadDir(n.templateDir)
	if err != nil {
		return err
	}
	n.applyTemplates(ctx, templates)

	watcher, err := coverage.Watch(n.templateDir, func(ts map[string]*coverage.Template) {
		n.applyTemplates(ctx, ts)
	})
	if err != nil {
		return err
	}
	n.watcher = watcher
	return nil
}

// applyTemplates flattens the template set into the scheduler's request
// list and, when a database is attached, plans and enqueues coverage
// fills.
func (n *Node) applyTemplates(ctx context.Context, templates map[string]*coverage.Template) {
	desired, err := coverage.Flatten(templates)
	if err != nil {
		n.log.Warn("Template flatten failed", "err", err)
		return
	}
	if n.daemon != nil {
		reqs := make([]feed.Request, len(desired))
		for i, d := range desired {
			reqs[i] = d.Request
		}
		n.daemon.SetRequests(reqs)
	}
	if n.gateway != nil {
		n.group.Go(func() error {
			n.syncCoverage(ctx, desired)
			return nil
		})
	}
}

// syncCoverage diffs desired coverage against storage, enqueues fill
// requests at urgent priority, and persists what comes back.
func (n *Node) syncCoverage(ctx context.Context, desired []coverage.Desired) {
	actual, err := n.gateway.Struct(ctx)
	if err != nil {
		n.log.Error("Coverage introspection failed", "err", err)
		return
	}
	diff := coverage.DiffCoverage(desired, actual)
	for _, ref := range diff.Orphaned {
		n.log.Warn("Orphaned coverage", "schema", ref.Schema, "table", ref.Table)
	}
	fills, err := coverage.Fill(diff, n.vendors)
	if err != nil {
		n.log.Error("Coverage planning failed", "err", err)
		return
	}
	n.log.Info("Coverage sync", "missing", len(diff.Missing), "fills", len(fills))

	for _, req := range fills {
		id, err := n.pipe.Submit(req, pipeline.BandUrgent)
		if err != nil {
			n.log.Warn("Fill rejected", "vendor", req.Vendor, "endpoint", req.Endpoint, "err", err)
			continue
		}
		req := req
		n.group.Go(func() error {
			resp, err := n.pipe.Store().Wait(ctx, id)
			if err != nil {
				return nil
			}
			if resp.Err != "" {
				n.log.Warn("Fill failed upstream", "vendor", req.Vendor,
					"endpoint", req.Endpoint, "err", resp.Err)
				return nil
			}
			v := n.vendors[req.Vendor]
			getter, gerr := v.Getter(req.Endpoint)
			if gerr != nil {
				return nil
			}
			if err := n.gateway.StoreResponse(ctx, getter.Returns, req.Vendor, req.Endpoint, resp.Data); err != nil {
				n.log.Error("Fill persistence failed", "vendor", req.Vendor,
					"endpoint", req.Endpoint, "err", err)
			}
			return nil
		})
	}
}

// Stop tears the node down in reverse start order and waits for the
// background loops to drain.
func (n *Node) Stop() error {
	var stopErr error
	n.stopOnce.Do(func() {
		if n.cancel == nil {
			return
		}
		if n.watcher != nil {
			n.watcher.Close()
		}
		stopErr = n.server.Stop()
		n.cancel()
		if err := n.group.Wait(); err != nil && stopErr == nil {
			stopErr = err
		}
		if n.gateway != nil {
			n.gateway.Close()
		}
		n.log.Info("Node stopped")
	})
	return stopErr
}

// Pipeline exposes the request pipeline, mainly for tests and the CLI.
func (n *Node) Pipeline() *pipeline.Pipeline { return n.pipe }

// Vendors exposes the loaded vendor table.
func (n *Node) Vendors() map[string]*vendors.Vendor { return n.vendors }

// Gateway exposes the database gateway; nil when no database is
// configured.
func (n *Node) Gateway() *db.Gateway { return n.gateway }

// HTTPEndpoint returns the front-end address once started.
func (n *Node) HTTPEndpoint() string {
	if addr := n.server.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}
