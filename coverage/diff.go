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
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/hedgehq/hedge/db"
)

// A Window is a half-open [Start, End) date range to fetch.
type Window struct {
	Start time.Time
	End   time.Time
}

// Missing is one gap between a desired item and storage. Whole missing
// tables carry the full desired window in Backfill; partially covered
// tables carry distinct backfill and frontfill windows. Interior gaps are
// not modeled: a table's coverage is one interval.
type Missing struct {
	Schema    string
	Table     string
	Columns   []string
	Backfill  *Window
	Frontfill *Window
	Desired   Desired
}

// TableRef names one stored table.
type TableRef struct {
	Schema string
	Table  string
}

// Diff is the three-way projection of desired against actual coverage.
// Orphaned storage is reported only, never deleted.
type Diff struct {
	Missing  []Missing
	Orphaned []TableRef
	Common   []TableRef
}

// DiffCoverage walks desired items top-down (schemas, tables, columns,
// date ranges) against the introspected database structure.
func DiffCoverage(desired []Desired, actual db.Coverage) Diff {
	var diff Diff
	referenced := mapset.NewSet[TableRef]()

	for _, d := range desired {
		schemaName, table := coverageKey(d)
		ref := TableRef{Schema: schemaName, Table: table}
		referenced.Add(ref)

		info, exists := lookupTable(actual, schemaName, table)
		if !exists {
			m := Missing{Schema: schemaName, Table: table, Columns: d.Columns, Desired: d}
			if s, e, ok := d.Window(); ok {
				m.Backfill = &Window{Start: s, End: e}
			}
			diff.Missing = append(diff.Missing, m)
			continue
		}

		m := Missing{Schema: schemaName, Table: table, Desired: d}
		if len(d.Columns) > 0 {
			have := mapset.NewSet(info.Columns...)
			want := mapset.NewSet(d.Columns...)
			missingCols := want.Difference(have).ToSlice()
			sort.Strings(missingCols)
			m.Columns = missingCols
		}
		if s, e, windowed := d.Window(); windowed {
			if info.HasDateRange() {
				if s.Before(*info.MinDate) {
					m.Backfill = &Window{Start: s, End: *info.MinDate}
				}
				if e.After(*info.MaxDate) {
					m.Frontfill = &Window{Start: *info.MaxDate, End: e}
				}
			} else {
				// Table exists but holds no dated rows; fetch the whole
				// window.
				m.Backfill = &Window{Start: s, End: e}
			}
		}

		if len(m.Columns) > 0 || m.Backfill != nil || m.Frontfill != nil {
			diff.Missing = append(diff.Missing, m)
		}
		diff.Common = append(diff.Common, ref)
	}

	for schemaName, tables := range actual {
		for table := range tables {
			ref := TableRef{Schema: schemaName, Table: table}
			if !referenced.Contains(ref) {
				diff.Orphaned = append(diff.Orphaned, ref)
			}
		}
	}
	return diff
}

func lookupTable(actual db.Coverage, schemaName, table string) (db.TableInfo, bool) {
	tables, ok := actual[schemaName]
	if !ok {
		return db.TableInfo{}, false
	}
	info, ok := tables[table]
	return info, ok
}
