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

// Package feed defines the request and response types that travel between
// the HTTP front-end, the pipeline, and the vendor getters.
package feed

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hedgehq/hedge/common/datefmt"
	"github.com/hedgehq/hedge/resource"
)

// A CorrID correlates a Request with its Response. HTTP-based vendors use
// v4 UUIDs; the broker vendor uses a monotonically increasing integer tied
// to its wire protocol. Both are carried as opaque strings.
type CorrID string

// NewCorrID returns a fresh v4 UUID correlation ID.
func NewCorrID() CorrID {
	return CorrID(uuid.NewString())
}

// IntCorrID returns a correlation ID wrapping a broker request ID.
func IntCorrID(n int32) CorrID {
	return CorrID(strconv.FormatInt(int64(n), 10))
}

// Int returns the integer view of the correlation ID, if it has one.
func (c CorrID) Int() (int32, bool) {
	n, err := strconv.ParseInt(string(c), 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

// Params carries the time-range and resource parameters of a request.
// Resource is reified from ResourceRef ("<Class>$<handle>") by the server
// once the vendor is known; ResourceRef alone survives JSON round-trips.
type Params struct {
	Start       *time.Time
	End         *time.Time
	Resolution  *time.Duration
	Resource    *resource.Resource
	ResourceRef string
}

type jsonParams struct {
	Start      string `json:"start,omitempty"`
	End        string `json:"end,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Resource   string `json:"resource,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Params) MarshalJSON() ([]byte, error) {
	jp := jsonParams{Resource: p.ResourceRef}
	if p.Start != nil {
		jp.Start = datefmt.FormatTimestamp(*p.Start)
	}
	if p.End != nil {
		jp.End = datefmt.FormatTimestamp(*p.End)
	}
	if p.Resolution != nil {
		jp.Resolution = datefmt.FormatDuration(*p.Resolution)
	}
	if p.Resource != nil {
		jp.Resource = p.Resource.Encode()
	}
	return json.Marshal(jp)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Params) UnmarshalJSON(data []byte) error {
	var jp jsonParams
	if err := json.Unmarshal(data, &jp); err != nil {
		return err
	}
	*p = Params{ResourceRef: jp.Resource}
	if jp.Start != "" {
		t, err := datefmt.ParseTimestamp(jp.Start)
		if err != nil {
			return err
		}
		p.Start = &t
	}
	if jp.End != "" {
		t, err := datefmt.ParseTimestamp(jp.End)
		if err != nil {
			return err
		}
		p.End = &t
	}
	if jp.Resolution != "" {
		d, err := datefmt.ParseDuration(jp.Resolution)
		if err != nil {
			return err
		}
		p.Resolution = &d
	}
	return nil
}

// A Request names one vendor endpoint invocation. CorrID is empty at client
// construction; the server assigns one before the request enters the
// pipeline.
type Request struct {
	Vendor   string `json:"vendor"`
	Endpoint string `json:"endpoint"`
	Params   Params `json:"params"`
	CorrID   CorrID `json:"corr_id,omitempty"`
}

// WithWindow returns a copy of the request covering [start, end) under the
// given correlation ID. Used by the time chunker to derive sub-requests.
func (r Request) WithWindow(start, end time.Time, id CorrID) Request {
	sub := r
	sub.CorrID = id
	sub.Params.Start = &start
	sub.Params.End = &end
	return sub
}

// Encode renders the request as JSON.
func (r Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRequest parses a JSON request body. The resource reference, if any,
// remains unreified in Params.ResourceRef.
func DecodeRequest(data []byte) (Request, error) {
	var r Request
	err := json.Unmarshal(data, &r)
	return r, err
}

// A Response pairs a request with the records it produced. Data is nil and
// Err non-empty when the upstream call failed; the response still reaches
// the store so a GET resolves rather than hanging.
type Response struct {
	Request Request         `json:"request"`
	Data    [][]interface{} `json:"data"`
	Err     string          `json:"error,omitempty"`
}

// ErrResponse builds the error-tagged response for a failed request.
func ErrResponse(req Request, err error) *Response {
	return &Response{Request: req, Err: err.Error()}
}
