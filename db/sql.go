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

package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/hedgehq/hedge/schema"
)

// Every identifier flowing into SQL text passes through pgx's quoting;
// values are always bound as placeholders.

func createSchemaSQL(schemaName string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{schemaName}.Sanitize()
}

func createTableSQL(schemaName, table string, fields []schema.Field) string {
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = pgx.Identifier{f.Name}.Sanitize() + " " + f.Type.SQLType()
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pgx.Identifier{schemaName, table}.Sanitize(), strings.Join(cols, ", "))
}

func addColumnSQL(schemaName, table string, field schema.Field) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
		pgx.Identifier{schemaName, table}.Sanitize(),
		pgx.Identifier{field.Name}.Sanitize(),
		field.Type.SQLType())
}

func dropTableSQL(schemaName, table string) string {
	return "DROP TABLE IF EXISTS " + pgx.Identifier{schemaName, table}.Sanitize()
}

func dropSchemaSQL(schemaName string) string {
	return "DROP SCHEMA IF EXISTS " + pgx.Identifier{schemaName}.Sanitize() + " CASCADE"
}

func insertSQL(schemaName, table string, columns []string) string {
	cols := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = pgx.Identifier{c}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{schemaName, table}.Sanitize(),
		strings.Join(cols, ", "), strings.Join(params, ", "))
}

func selectAllSQL(schemaName, table string, columns []string) string {
	cols := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = pgx.Identifier{c}.Sanitize()
		}
		cols = strings.Join(quoted, ", ")
	}
	return fmt.Sprintf("SELECT %s FROM %s", cols, pgx.Identifier{schemaName, table}.Sanitize())
}

// listSchemasSQL excludes the catalog schemas; everything else is assumed
// to be vendor data.
const listSchemasSQL = `SELECT schema_name FROM information_schema.schemata
WHERE schema_name NOT IN ('pg_catalog', 'information_schema', 'pg_toast', 'public')`

const listTablesSQL = `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 ORDER BY table_name`

const listColumnsSQL = `SELECT column_name FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2 ORDER BY ordinal_position`

func dateRangeSQL(schemaName, table, dateColumn string) string {
	col := pgx.Identifier{dateColumn}.Sanitize()
	return fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM %s",
		col, col, pgx.Identifier{schemaName, table}.Sanitize())
}

// checkRecordsSQL counts rows matching one candidate record, used to skip
// re-inserting data that is already present.
func checkRecordsSQL(schemaName, table string, columns []string) string {
	preds := make([]string, len(columns))
	for i, c := range columns {
		preds[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
	}
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s",
		pgx.Identifier{schemaName, table}.Sanitize(), strings.Join(preds, " AND "))
}
