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

package coverage

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/schema"
	"github.com/hedgehq/hedge/vendors"
)

// SelectEndpoints resolves which endpoints of v supply the required
// columns. Preference order: the single endpoint whose returns form a
// superset of the columns with the fewest extras; failing that, a greedy
// cover over multiple endpoints. A residual after the greedy pass is an
// error.
func SelectEndpoints(v *vendors.Vendor, columns []string) ([]string, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns to cover")
	}
	want := mapset.NewSet(columns...)

	// Single-endpoint superset with the smallest excess.
	best := ""
	bestExtra := -1
	for name, g := range v.Getters {
		returns := mapset.NewSet(schema.Names(g.Returns)...)
		if want.IsSubset(returns) {
			extra := returns.Cardinality() - want.Cardinality()
			if bestExtra < 0 || extra < bestExtra || (extra == bestExtra && name < best) {
				best, bestExtra = name, extra
			}
		}
	}
	if bestExtra >= 0 {
		return []string{best}, nil
	}

	// Greedy cover: repeatedly take the endpoint covering the most of the
	// residual.
	residual := want.Clone()
	var picked []string
	for residual.Cardinality() > 0 {
		bestName := ""
		bestCovered := 0
		for name, g := range v.Getters {
			covered := residual.Intersect(mapset.NewSet(schema.Names(g.Returns)...)).Cardinality()
			if covered > bestCovered || (covered == bestCovered && covered > 0 && name < bestName) {
				bestName, bestCovered = name, covered
			}
		}
		if bestCovered == 0 {
			left := residual.ToSlice()
			sort.Strings(left)
			return nil, fmt.Errorf("vendor %s: no endpoint supplies columns %v", v.Name, left)
		}
		picked = append(picked, bestName)
		residual = residual.Difference(mapset.NewSet(schema.Names(v.Getters[bestName].Returns)...))
	}
	sort.Strings(picked)
	return picked, nil
}

// Fill emits one request per (endpoint, window) for every missing entry.
// Callers enqueue these at urgent priority. Missing entries without an
// explicit endpoint are resolved through the vendor table via column
// cover; entries with no window and no columns request the endpoint once.
func Fill(diff Diff, table map[string]*vendors.Vendor) ([]feed.Request, error) {
	var out []feed.Request
	for _, m := range diff.Missing {
		endpoints := []string{m.Desired.Request.Endpoint}
		if endpoints[0] == "" {
			v, ok := table[m.Desired.Request.Vendor]
			if !ok {
				return nil, fmt.Errorf("unknown vendor %q", m.Desired.Request.Vendor)
			}
			var err error
			if endpoints, err = SelectEndpoints(v, m.Desired.Columns); err != nil {
				return nil, err
			}
		}

		windows := fillWindows(m)
		for _, ep := range endpoints {
			base := m.Desired.Request
			base.Endpoint = ep
			if len(windows) == 0 {
				out = append(out, base)
				continue
			}
			for _, w := range windows {
				req := base
				start, end := w.Start, w.End
				req.Params.Start = &start
				req.Params.End = &end
				out = append(out, req)
			}
		}
	}
	return out, nil
}

func fillWindows(m Missing) []Window {
	var windows []Window
	if m.Backfill != nil {
		windows = append(windows, *m.Backfill)
	}
	if m.Frontfill != nil {
		windows = append(windows, *m.Frontfill)
	}
	return windows
}
