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

package vendors

import "fmt"

// Context is a vendor's immutable key/value environment (API keys, base
// URLs, account IDs). Derived values are computed once at construction from
// the static entries and frozen alongside them.
type Context struct {
	values map[string]string
}

// Derive computes one context entry from the static entries.
type Derive func(static map[string]string) (string, error)

// NewContext freezes the static entries plus any derived ones. Derivations
// see only the static entries, so their evaluation order is immaterial.
func NewContext(static map[string]string, derived map[string]Derive) (Context, error) {
	values := make(map[string]string, len(static)+len(derived))
	for k, v := range static {
		values[k] = v
	}
	for k, fn := range derived {
		v, err := fn(static)
		if err != nil {
			return Context{}, fmt.Errorf("context: derive %q: %w", k, err)
		}
		values[k] = v
	}
	return Context{values: values}, nil
}

// StaticContext freezes the given entries with no derivations.
func StaticContext(static map[string]string) Context {
	ctx, _ := NewContext(static, nil)
	return ctx
}

// Get returns the value for key, or the empty string.
func (c Context) Get(key string) string {
	return c.values[key]
}

// Lookup returns the value for key and whether it is present.
func (c Context) Lookup(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Len returns the number of entries.
func (c Context) Len() int { return len(c.values) }
