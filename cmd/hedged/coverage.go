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

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"github.com/hedgehq/hedge/common/datefmt"
	"github.com/hedgehq/hedge/coverage"
	"github.com/hedgehq/hedge/db"
)

// reportCoverage prints the diff between the template set and the
// database, without enqueueing any fills.
func reportCoverage(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	dsn, err := cfg.String("database.url")
	if err != nil {
		return err
	}
	dir, err := cfg.String("templates.dir")
	if err != nil {
		return err
	}

	templates, err := coverage.LoadDir(dir)
	if err != nil {
		return err
	}
	desired, err := coverage.Flatten(templates)
	if err != nil {
		return err
	}

	gateway, err := db.Connect(ctx.Context, dsn)
	if err != nil {
		return err
	}
	defer gateway.Close()
	actual, err := gateway.Struct(ctx.Context)
	if err != nil {
		return err
	}

	diff := coverage.DiffCoverage(desired, actual)
	renderMissing(diff.Missing)
	renderTables("ORPHANED", diff.Orphaned)
	renderTables("COVERED", diff.Common)
	return nil
}

func renderMissing(missing []coverage.Missing) {
	fmt.Println("MISSING")
	if len(missing) == 0 {
		fmt.Println("  (none)")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Schema", "Table", "Columns", "Backfill", "Frontfill"})
	for _, m := range missing {
		table.Append([]string{
			m.Schema,
			m.Table,
			strings.Join(m.Columns, ","),
			formatWindow(m.Backfill),
			formatWindow(m.Frontfill),
		})
	}
	table.Render()
}

func renderTables(title string, refs []coverage.TableRef) {
	fmt.Println(title)
	if len(refs) == 0 {
		fmt.Println("  (none)")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Schema", "Table"})
	for _, ref := range refs {
		table.Append([]string{ref.Schema, ref.Table})
	}
	table.Render()
}

func formatWindow(w *coverage.Window) string {
	if w == nil {
		return ""
	}
	return datefmt.FormatDate(w.Start) + " .. " + datefmt.FormatDate(w.End)
}
