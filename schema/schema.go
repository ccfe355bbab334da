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

// Package schema defines the field/type model shared by vendor endpoints and
// the persistence gateway. The type set is fixed and maps bijectively onto
// both Go types and Postgres column types.
package schema

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hedgehq/hedge/common/datefmt"
)

// Type enumerates the storable value types.
type Type int

const (
	Text Type = iota
	Bool
	Int
	Float
	Date
	Time
	Timestamp
	Interval
)

var typeNames = map[Type]string{
	Text:      "text",
	Bool:      "bool",
	Int:       "int",
	Float:     "float",
	Date:      "date",
	Time:      "time",
	Timestamp: "timestamp",
	Interval:  "interval",
}

var sqlTypes = map[Type]string{
	Text:      "TEXT",
	Bool:      "BOOLEAN",
	Int:       "BIGINT",
	Float:     "DOUBLE PRECISION",
	Date:      "DATE",
	Time:      "TIME",
	Timestamp: "TIMESTAMP",
	Interval:  "INTERVAL",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("schema.Type(%d)", int(t))
}

// SQLType returns the Postgres column type for t.
func (t Type) SQLType() string {
	return sqlTypes[t]
}

// TypeFromString is the inverse of String.
func TypeFromString(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// A Field is a (name, type) pair. Every endpoint declares the tuple of
// fields its records carry.
type Field struct {
	Name string
	Type Type
}

// Names returns the field names in declaration order.
func Names(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// Assignable reports whether v can be stored in a column of type t.
func (t Type) Assignable(v interface{}) bool {
	if v == nil {
		return true
	}
	switch t {
	case Text:
		_, ok := v.(string)
		return ok
	case Bool:
		_, ok := v.(bool)
		return ok
	case Int:
		switch v.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case Float:
		switch v.(type) {
		case float32, float64, int, int64:
			return true
		}
		return false
	case Date, Time, Timestamp:
		_, ok := v.(time.Time)
		return ok
	case Interval:
		_, ok := v.(time.Duration)
		return ok
	}
	return false
}

// Coerce converts v to the canonical Go representation of t, converting
// compatible types (strings in wire format, widening ints) where possible.
func (t Type) Coerce(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case Text:
		switch x := v.(type) {
		case string:
			return x, nil
		case fmt.Stringer:
			return x.String(), nil
		}
		return fmt.Sprintf("%v", v), nil
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			return strconv.ParseBool(x)
		}
	case Int:
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float64:
			if x == float64(int64(x)) {
				return int64(x), nil
			}
		case string:
			return strconv.ParseInt(x, 10, 64)
		}
	case Float:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case string:
			return strconv.ParseFloat(x, 64)
		}
	case Date:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return datefmt.ParseDate(x)
		}
	case Time:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return datefmt.ParseTime(x)
		}
	case Timestamp:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			return datefmt.ParseTimestamp(x)
		}
	case Interval:
		switch x := v.(type) {
		case time.Duration:
			return x, nil
		case string:
			return datefmt.ParseDuration(x)
		}
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", v, t)
}

// ValidateRecord checks that record arity and element types match the
// declared fields.
func ValidateRecord(fields []Field, record []interface{}) error {
	if len(record) != len(fields) {
		return fmt.Errorf("record arity %d does not match declared fields %d", len(record), len(fields))
	}
	for i, f := range fields {
		if !f.Type.Assignable(record[i]) {
			return fmt.Errorf("field %s: %T is not assignable to %s", f.Name, record[i], f.Type)
		}
	}
	return nil
}
