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

// Package db is the persistence gateway: schema/table introspection,
// idempotent DDL, and bulk inserts over a pgx pool. The introspected
// Coverage map is the planner's sole authority on what data is already
// stored.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hedgehq/hedge/log"
	"github.com/hedgehq/hedge/schema"
)

// DateColumn is the conventional date column name; tables carrying it get
// a date range in the coverage map.
const DateColumn = "date"

// TableInfo describes one stored table.
type TableInfo struct {
	Columns []string
	MinDate *time.Time
	MaxDate *time.Time
}

// HasDateRange reports whether the table carries dated rows.
func (t TableInfo) HasDateRange() bool {
	return t.MinDate != nil && t.MaxDate != nil
}

// Coverage maps schema → table → TableInfo.
type Coverage map[string]map[string]TableInfo

// Gateway wraps the connection pool. On any database error the pool is
// closed and the error re-raised; retry policy belongs to the caller.
type Gateway struct {
	pool *pgxpool.Pool
	log  log.Logger
}

// Connect opens and pings a pool for the DSN.
func Connect(ctx context.Context, dsn string) (*Gateway, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return &Gateway{pool: pool, log: log.New("module", "db")}, nil
}

// Close releases the pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// fail closes the pool and wraps the error. Consistency errors must not
// leave half-open connections behind.
func (g *Gateway) fail(op string, err error) error {
	g.log.Error("Database operation failed, closing pool", "op", op, "err", err)
	g.pool.Close()
	return fmt.Errorf("db: %s: %w", op, err)
}

// EnsureTable idempotently creates the schema, table, and any missing
// columns for the field set.
func (g *Gateway) EnsureTable(ctx context.Context, schemaName, table string, fields []schema.Field) error {
	if _, err := g.pool.Exec(ctx, createSchemaSQL(schemaName)); err != nil {
		return g.fail("create schema", err)
	}
	if _, err := g.pool.Exec(ctx, createTableSQL(schemaName, table, fields)); err != nil {
		return g.fail("create table", err)
	}
	for _, f := range fields {
		if _, err := g.pool.Exec(ctx, addColumnSQL(schemaName, table, f)); err != nil {
			return g.fail("add column", err)
		}
	}
	return nil
}

// Insert bulk-loads rows via COPY. A missing relation triggers one
// EnsureTable pass and a single retry.
func (g *Gateway) Insert(ctx context.Context, schemaName, table string, fields []schema.Field, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	columns := schema.Names(fields)
	n, err := g.pool.CopyFrom(ctx, pgx.Identifier{schemaName, table}, columns, pgx.CopyFromRows(rows))
	if err != nil && isUndefinedRelation(err) {
		if err = g.EnsureTable(ctx, schemaName, table, fields); err != nil {
			return err
		}
		n, err = g.pool.CopyFrom(ctx, pgx.Identifier{schemaName, table}, columns, pgx.CopyFromRows(rows))
	}
	if err != nil {
		return g.fail("copy", err)
	}
	g.log.Debug("Rows inserted", "schema", schemaName, "table", table, "rows", n)
	return nil
}

// undefined_table (42P01) and invalid_schema_name (3F000).
func isUndefinedRelation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01" || pgErr.Code == "3F000"
	}
	return false
}

// CheckRecords returns how many stored rows equal the candidate record.
func (g *Gateway) CheckRecords(ctx context.Context, schemaName, table string, columns []string, record []interface{}) (int64, error) {
	var count int64
	err := g.pool.QueryRow(ctx, checkRecordsSQL(schemaName, table, columns), record...).Scan(&count)
	if err != nil {
		return 0, g.fail("check records", err)
	}
	return count, nil
}

// Select streams back rows from one table.
func (g *Gateway) Select(ctx context.Context, schemaName, table string, columns []string) ([][]interface{}, error) {
	rows, err := g.pool.Query(ctx, selectAllSQL(schemaName, table, columns))
	if err != nil {
		return nil, g.fail("select", err)
	}
	defer rows.Close()

	var out [][]interface{}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, g.fail("select scan", err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, g.fail("select", err)
	}
	return out, nil
}

// DropTable removes one table.
func (g *Gateway) DropTable(ctx context.Context, schemaName, table string) error {
	if _, err := g.pool.Exec(ctx, dropTableSQL(schemaName, table)); err != nil {
		return g.fail("drop table", err)
	}
	return nil
}

// DropSchema removes a schema and everything under it.
func (g *Gateway) DropSchema(ctx context.Context, schemaName string) error {
	if _, err := g.pool.Exec(ctx, dropSchemaSQL(schemaName)); err != nil {
		return g.fail("drop schema", err)
	}
	return nil
}

// Struct introspects the whole database into a Coverage map: every
// non-catalog schema, its tables, their columns, and the date range of any
// table with a date column.
func (g *Gateway) Struct(ctx context.Context) (Coverage, error) {
	schemas, err := g.queryStrings(ctx, listSchemasSQL)
	if err != nil {
		return nil, err
	}

	cov := make(Coverage, len(schemas))
	for _, s := range schemas {
		tables, err := g.queryStrings(ctx, listTablesSQL, s)
		if err != nil {
			return nil, err
		}
		cov[s] = make(map[string]TableInfo, len(tables))
		for _, t := range tables {
			columns, err := g.queryStrings(ctx, listColumnsSQL, s, t)
			if err != nil {
				return nil, err
			}
			info := TableInfo{Columns: columns}
			for _, c := range columns {
				if c == DateColumn {
					if err := g.pool.QueryRow(ctx, dateRangeSQL(s, t, c)).Scan(&info.MinDate, &info.MaxDate); err != nil {
						return nil, g.fail("date range", err)
					}
					break
				}
			}
			cov[s][t] = info
		}
	}
	return cov, nil
}

func (g *Gateway) queryStrings(ctx context.Context, sql string, args ...interface{}) ([]string, error) {
	rows, err := g.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, g.fail("introspect", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, g.fail("introspect scan", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, g.fail("introspect", err)
	}
	return out, nil
}

// StoreResponse persists a completed response under the vendor schema,
// one table per endpoint.
func (g *Gateway) StoreResponse(ctx context.Context, fields []schema.Field, vendor, endpoint string, data [][]interface{}) error {
	return g.Insert(ctx, vendor, endpoint, fields, data)
}
