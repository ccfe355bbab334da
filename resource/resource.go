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

// Package resource models the immutable, validated parameter bundles that
// name addressable units at a vendor. A Spec describes a resource class
// (constant and variable parameter groups); a Resource is a validated
// instance, keyed by a canonical string handle and serialized on the wire as
// "<Class>$<handle>".
package resource

import (
	"fmt"
	"strings"

	"github.com/hedgehq/hedge/schema"
)

// HandleSep joins the handle field values inside the encoded form.
const HandleSep = ":"

// A Param declares one parameter of a resource class.
type Param struct {
	Field    schema.Field
	Required bool
	Default  interface{} // used when absent; nil means no default
}

// A Spec describes a resource class. Constant parameters are fixed for all
// instances of the class, variable parameters are per-instance. HandleFields
// selects the variable fields whose values form the canonical handle.
type Spec struct {
	Class        string
	Constant     []Param
	Variable     []Param
	HandleFields []string
}

// A Resource is an immutable validated instance of a Spec. All mutation
// paths are unexported; values are only reachable through Get.
type Resource struct {
	spec   *Spec
	values map[string]interface{}
}

// New validates kwargs against the spec and constructs a Resource.
// Validation enforces: required parameters present (or defaulted), values
// coercible to the declared field types, no extraneous keys.
func (s *Spec) New(kwargs map[string]interface{}) (*Resource, error) {
	values := make(map[string]interface{})
	seen := make(map[string]bool, len(kwargs))

	for _, group := range [][]Param{s.Constant, s.Variable} {
		for _, p := range group {
			raw, ok := kwargs[p.Field.Name]
			switch {
			case ok:
				seen[p.Field.Name] = true
			case p.Default != nil:
				raw = p.Default
			case p.Required:
				return nil, fmt.Errorf("resource %s: missing required argument %q", s.Class, p.Field.Name)
			default:
				continue
			}
			v, err := p.Field.Type.Coerce(raw)
			if err != nil {
				return nil, fmt.Errorf("resource %s: argument %q: %v", s.Class, p.Field.Name, err)
			}
			values[p.Field.Name] = v
		}
	}
	for name := range kwargs {
		if !seen[name] {
			return nil, fmt.Errorf("resource %s: invalid argument %q", s.Class, name)
		}
	}
	return &Resource{spec: s, values: values}, nil
}

// Class returns the name of the resource class.
func (r *Resource) Class() string {
	return r.spec.Class
}

// Get returns the value of the named parameter.
func (r *Resource) Get(name string) (interface{}, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Text returns the named parameter rendered as a string, or "" when absent.
func (r *Resource) Text(name string) string {
	v, ok := r.values[name]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Handle returns the canonical handle: the values of the spec's handle
// fields joined by HandleSep.
func (r *Resource) Handle() string {
	parts := make([]string, len(r.spec.HandleFields))
	for i, name := range r.spec.HandleFields {
		parts[i] = r.Text(name)
	}
	return strings.Join(parts, HandleSep)
}

// Encode serializes the resource as "<Class>$<handle>".
func (r *Resource) Encode() string {
	return r.spec.Class + "$" + r.Handle()
}

func (r *Resource) String() string {
	return r.Encode()
}

// A Registry maps class names to specs, scoped per vendor.
type Registry map[string]*Spec

// NewRegistry builds a registry from specs.
func NewRegistry(specs ...*Spec) Registry {
	reg := make(Registry, len(specs))
	for _, s := range specs {
		reg[s.Class] = s
	}
	return reg
}

// Decode is the inverse of Resource.Encode: it splits "<Class>$<handle>",
// resolves the class in the registry, and reconstructs the instance from the
// handle field values.
func (reg Registry) Decode(encoded string) (*Resource, error) {
	class, handle, ok := strings.Cut(encoded, "$")
	if !ok {
		return nil, fmt.Errorf("malformed resource handle %q", encoded)
	}
	spec, ok := reg[class]
	if !ok {
		return nil, fmt.Errorf("unknown resource class %q", class)
	}
	parts := strings.Split(handle, HandleSep)
	if len(parts) != len(spec.HandleFields) {
		return nil, fmt.Errorf("resource %s: handle %q has %d fields, want %d",
			class, handle, len(parts), len(spec.HandleFields))
	}
	kwargs := make(map[string]interface{}, len(parts))
	for i, name := range spec.HandleFields {
		kwargs[name] = parts[i]
	}
	return spec.New(kwargs)
}
