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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hedgehq/hedge/schema"
)

func TestCreateTableSQL(t *testing.T) {
	got := createTableSQL("fred", "series_observations", []schema.Field{
		{Name: "date", Type: schema.Date},
		{Name: "series_id", Type: schema.Text},
		{Name: "value", Type: schema.Float},
	})
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "fred"."series_observations" ("date" DATE, "series_id" TEXT, "value" DOUBLE PRECISION)`,
		got)
}

func TestInsertSQL(t *testing.T) {
	got := insertSQL("fred", "series_observations", []string{"date", "series_id", "value"})
	assert.Equal(t,
		`INSERT INTO "fred"."series_observations" ("date", "series_id", "value") VALUES ($1, $2, $3)`,
		got)
}

func TestIdentifierQuotingDefangsInjection(t *testing.T) {
	// A hostile identifier stays inside its quotes.
	got := createSchemaSQL(`x"; DROP TABLE users; --`)
	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "x""; DROP TABLE users; --"`, got)

	got = dateRangeSQL("s", "t", `d"col`)
	assert.Contains(t, got, `"d""col"`)
	assert.NotContains(t, got, `d"col FROM`)
}

func TestCheckRecordsSQL(t *testing.T) {
	got := checkRecordsSQL("edgar", "submissions", []string{"form", "accession_number"})
	assert.Equal(t,
		`SELECT COUNT(*) FROM "edgar"."submissions" WHERE "form" = $1 AND "accession_number" = $2`,
		got)
}

func TestSelectAllSQL(t *testing.T) {
	assert.Equal(t, `SELECT * FROM "s"."t"`, selectAllSQL("s", "t", nil))
	assert.Equal(t, `SELECT "a", "b" FROM "s"."t"`, selectAllSQL("s", "t", []string{"a", "b"}))
}

func TestDDLStatements(t *testing.T) {
	assert.Equal(t, `DROP TABLE IF EXISTS "s"."t"`, dropTableSQL("s", "t"))
	assert.Equal(t, `DROP SCHEMA IF EXISTS "s" CASCADE`, dropSchemaSQL("s"))
	assert.Equal(t,
		`ALTER TABLE "s"."t" ADD COLUMN IF NOT EXISTS "value" DOUBLE PRECISION`,
		addColumnSQL("s", "t", schema.Field{Name: "value", Type: schema.Float}))
}

func TestTableInfoDateRange(t *testing.T) {
	assert.False(t, TableInfo{}.HasDateRange())
}
