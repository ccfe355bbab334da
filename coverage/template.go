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

// Package coverage turns on-disk templates into desired-data declarations,
// diffs them against what the database already holds, and plans the
// minimal set of fill requests.
package coverage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"

	"github.com/hedgehq/hedge/common/datefmt"
	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/log"
)

// An Item is one request declaration. Inside a template, item fields
// override the common block.
type Item struct {
	Vendor     string   `json:"vendor"`
	Endpoint   string   `json:"endpoint"`
	Resource   string   `json:"resource"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	Resolution string   `json:"resolution"`
	Columns    []string `json:"columns"`
}

// A Template declares a set of desired requests sharing a common block.
type Template struct {
	Common Item   `json:"common"`
	Items  []Item `json:"templates" validate:"required,min=1"`
}

// Desired is a flattened template item: the request to issue plus the
// columns the template requires in storage.
type Desired struct {
	Request feed.Request
	Columns []string
}

var validate = validator.New()

// Load parses and validates one template file.
func Load(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Template
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	if err := validate.Struct(&t); err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return &t, nil
}

// LoadDir loads every *.json template under dir, keyed by file stem. Any
// invalid template aborts the load.
func LoadDir(dir string) (map[string]*Template, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	templates := make(map[string]*Template, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), ".json")
		if strings.HasPrefix(name, "_") {
			continue
		}
		t, err := Load(p)
		if err != nil {
			return nil, err
		}
		templates[name] = t
	}
	return templates, nil
}

// merge overlays item fields on the common block.
func merge(common, item Item) Item {
	out := common
	if item.Vendor != "" {
		out.Vendor = item.Vendor
	}
	if item.Endpoint != "" {
		out.Endpoint = item.Endpoint
	}
	if item.Resource != "" {
		out.Resource = item.Resource
	}
	if item.Start != "" {
		out.Start = item.Start
	}
	if item.End != "" {
		out.End = item.End
	}
	if item.Resolution != "" {
		out.Resolution = item.Resolution
	}
	if len(item.Columns) > 0 {
		out.Columns = item.Columns
	}
	return out
}

// toRequest converts a merged item into a request. Time fields parse in
// the wire formats; corr IDs stay unassigned.
func toRequest(it Item) (feed.Request, error) {
	if it.Vendor == "" {
		return feed.Request{}, fmt.Errorf("item missing vendor")
	}
	req := feed.Request{
		Vendor:   it.Vendor,
		Endpoint: it.Endpoint,
		Params:   feed.Params{ResourceRef: it.Resource},
	}
	if it.Start != "" {
		t, err := datefmt.ParseTimestamp(it.Start)
		if err != nil {
			return feed.Request{}, fmt.Errorf("start: %w", err)
		}
		req.Params.Start = &t
	}
	if it.End != "" {
		t, err := datefmt.ParseTimestamp(it.End)
		if err != nil {
			return feed.Request{}, fmt.Errorf("end: %w", err)
		}
		req.Params.End = &t
	}
	if it.Resolution != "" {
		d, err := datefmt.ParseDuration(it.Resolution)
		if err != nil {
			return feed.Request{}, fmt.Errorf("resolution: %w", err)
		}
		req.Params.Resolution = &d
	}
	return req, nil
}

// Flatten merges each item over its template's common block and produces
// one Desired per item.
func Flatten(templates map[string]*Template) ([]Desired, error) {
	var out []Desired
	for name, t := range templates {
		for i, item := range t.Items {
			merged := merge(t.Common, item)
			req, err := toRequest(merged)
			if err != nil {
				return nil, fmt.Errorf("template %s item %d: %w", name, i, err)
			}
			out = append(out, Desired{Request: req, Columns: merged.Columns})
		}
	}
	return out, nil
}

// Watch reloads the template directory on file changes and passes each
// valid load to onChange. Invalid edits are logged and skipped; the last
// good set stays active.
func Watch(dir string, onChange func(map[string]*Template)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	logger := log.New("module", "coverage", "dir", dir)

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				templates, err := LoadDir(dir)
				if err != nil {
					logger.Warn("Ignoring invalid template change", "event", ev.Name, "err", err)
					continue
				}
				logger.Info("Templates reloaded", "count", len(templates))
				onChange(templates)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Template watcher error", "err", err)
			}
		}
	}()
	return watcher, nil
}

// coverageKey locates a desired item's storage: schema is the vendor,
// table the endpoint.
func coverageKey(d Desired) (schemaName, table string) {
	return d.Request.Vendor, d.Request.Endpoint
}

// Window returns the desired date range, if declared.
func (d Desired) Window() (start, end time.Time, ok bool) {
	if d.Request.Params.Start == nil || d.Request.Params.End == nil {
		return time.Time{}, time.Time{}, false
	}
	return *d.Request.Params.Start, *d.Request.Params.End, true
}
