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

// Package fred adapts the St. Louis Fed's FRED REST API. All endpoints are
// plain JSON GETs keyed by an API key; the public limit is 120 requests
// per minute.
package fred

import (
	"context"
	"net/url"
	"time"

	"github.com/hedgehq/hedge/common/datefmt"
	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/resource"
	"github.com/hedgehq/hedge/schema"
	"github.com/hedgehq/hedge/vendors"
)

// Name is the vendor key in requests and configuration.
const Name = "fred"

const (
	host         = "api.stlouisfed.org"
	rateRequests = 120
	rateInterval = time.Minute
)

// SeriesSpec declares the Series resource: one FRED series keyed by its ID.
var SeriesSpec = &resource.Spec{
	Class: "Series",
	Variable: []resource.Param{
		{Field: schema.Field{Name: "series_id", Type: schema.Text}, Required: true},
	},
	HandleFields: []string{"series_id"},
}

// CategorySpec declares the Category resource.
var CategorySpec = &resource.Spec{
	Class: "Category",
	Variable: []resource.Param{
		{Field: schema.Field{Name: "category_id", Type: schema.Text}, Required: true},
	},
	HandleFields: []string{"category_id"},
}

// Spec builds the vendor descriptor. apiKey comes from configuration.
func Spec(apiKey string) *vendors.Spec {
	return &vendors.Spec{
		Name:    Name,
		Session: &vendors.HTTPSessionSpec{Scheme: "https", Host: host},
		Context: vendors.StaticContext(map[string]string{"api_key": apiKey}),
		Getters: map[string]*vendors.Getter{
			"series": vendors.NewGetter(getSeries, []schema.Field{
				{Name: "series_id", Type: schema.Text},
				{Name: "title", Type: schema.Text},
				{Name: "observation_start", Type: schema.Text},
				{Name: "observation_end", Type: schema.Text},
				{Name: "frequency", Type: schema.Text},
				{Name: "units", Type: schema.Text},
				{Name: "seasonal_adjustment", Type: schema.Text},
				{Name: "last_updated", Type: schema.Text},
			}, vendors.WithRateLimit(rateRequests, rateInterval)),

			"series_observations": vendors.NewGetter(getSeriesObservations, []schema.Field{
				{Name: "date", Type: schema.Text},
				{Name: "series_id", Type: schema.Text},
				{Name: "value", Type: schema.Float},
			},
				vendors.WithRateLimit(rateRequests, rateInterval),
				vendors.WithChunking(map[time.Duration]time.Duration{
					24 * time.Hour: 365 * 24 * time.Hour,
				}, nil),
				vendors.WithFormatter(formatObservations),
			),

			"series_categories": vendors.NewGetter(getSeriesCategories, categoryFields,
				vendors.WithRateLimit(rateRequests, rateInterval)),

			"releases": vendors.NewGetter(getReleases, []schema.Field{
				{Name: "release_id", Type: schema.Int},
				{Name: "name", Type: schema.Text},
				{Name: "link", Type: schema.Text},
			}, vendors.WithRateLimit(rateRequests, rateInterval)),

			"category": vendors.NewGetter(getCategory, categoryFields,
				vendors.WithRateLimit(rateRequests, rateInterval)),

			"category_children": vendors.NewGetter(getCategoryChildren, categoryFields,
				vendors.WithRateLimit(rateRequests, rateInterval)),
		},
		Resources: []*resource.Spec{SeriesSpec, CategorySpec},
	}
}

var categoryFields = []schema.Field{
	{Name: "category_id", Type: schema.Int},
	{Name: "name", Type: schema.Text},
	{Name: "parent_id", Type: schema.Int},
}

// baseQuery carries the key and response format every call needs.
func baseQuery(vctx vendors.Context) url.Values {
	return url.Values{
		"api_key":   {vctx.Get("api_key")},
		"file_type": {"json"},
	}
}

// resourceValue pulls a named field off the request's resource.
func resourceValue(req feed.Request, field string) string {
	if req.Params.Resource == nil {
		return ""
	}
	return req.Params.Resource.Text(field)
}

func getSeries(ctx context.Context, app vendors.App, req feed.Request, vctx vendors.Context) (*feed.Response, error) {
	q := baseQuery(vctx)
	q.Set("series_id", resourceValue(req, "series_id"))

	var body struct {
		Seriess []struct {
			ID                 string `json:"id"`
			Title              string `json:"title"`
			ObservationStart   string `json:"observation_start"`
			ObservationEnd     string `json:"observation_end"`
			Frequency          string `json:"frequency_short"`
			Units              string `json:"units_short"`
			SeasonalAdjustment string `json:"seasonal_adjustment_short"`
			LastUpdated        string `json:"last_updated"`
		} `json:"seriess"`
	}
	if err := app.(*vendors.Session).GetJSON(ctx, "/fred/series", q, &body); err != nil {
		return nil, err
	}

	resp := &feed.Response{Request: req}
	for _, s := range body.Seriess {
		resp.Data = append(resp.Data, []interface{}{
			s.ID, s.Title, s.ObservationStart, s.ObservationEnd,
			s.Frequency, s.Units, s.SeasonalAdjustment, s.LastUpdated,
		})
	}
	return resp, nil
}

func getSeriesObservations(ctx context.Context, app vendors.App, req feed.Request, vctx vendors.Context) (*feed.Response, error) {
	id := resourceValue(req, "series_id")
	q := baseQuery(vctx)
	q.Set("series_id", id)
	if req.Params.Start != nil {
		q.Set("observation_start", datefmt.FormatDate(*req.Params.Start))
	}
	if req.Params.End != nil {
		q.Set("observation_end", datefmt.FormatDate(*req.Params.End))
	}

	var body struct {
		Observations []struct {
			Date  string `json:"date"`
			Value string `json:"value"`
		} `json:"observations"`
	}
	if err := app.(*vendors.Session).GetJSON(ctx, "/fred/series/observations", q, &body); err != nil {
		return nil, err
	}

	resp := &feed.Response{Request: req}
	for _, o := range body.Observations {
		resp.Data = append(resp.Data, []interface{}{o.Date, id, o.Value})
	}
	return resp, nil
}

// formatObservations coerces the value column: the upstream reports missing
// observations as ".", which becomes null; everything else parses as float.
func formatObservations(resp *feed.Response) (*feed.Response, error) {
	fields := []schema.Field{
		{Name: "date", Type: schema.Text},
		{Name: "series_id", Type: schema.Text},
		{Name: "value", Type: schema.Float},
	}
	for i, row := range resp.Data {
		if s, ok := row[2].(string); ok && s == "." {
			row[2] = nil
		} else {
			v, err := schema.Float.Coerce(row[2])
			if err != nil {
				return nil, err
			}
			row[2] = v
		}
		if err := schema.ValidateRecord(fields, row); err != nil {
			return nil, err
		}
		resp.Data[i] = row
	}
	return resp, nil
}

func getSeriesCategories(ctx context.Context, app vendors.App, req feed.Request, vctx vendors.Context) (*feed.Response, error) {
	q := baseQuery(vctx)
	q.Set("series_id", resourceValue(req, "series_id"))
	return getCategories(ctx, app, req, "/fred/series/categories", q)
}

func getCategory(ctx context.Context, app vendors.App, req feed.Request, vctx vendors.Context) (*feed.Response, error) {
	q := baseQuery(vctx)
	q.Set("category_id", categoryID(req))
	return getCategories(ctx, app, req, "/fred/category", q)
}

func getCategoryChildren(ctx context.Context, app vendors.App, req feed.Request, vctx vendors.Context) (*feed.Response, error) {
	q := baseQuery(vctx)
	q.Set("category_id", categoryID(req))
	return getCategories(ctx, app, req, "/fred/category/children", q)
}

// categoryID defaults to the root category when no resource is given.
func categoryID(req feed.Request) string {
	if id := resourceValue(req, "category_id"); id != "" {
		return id
	}
	return "0"
}

func getCategories(ctx context.Context, app vendors.App, req feed.Request, path string, q url.Values) (*feed.Response, error) {
	var body struct {
		Categories []struct {
			ID       int64  `json:"id"`
			Name     string `json:"name"`
			ParentID int64  `json:"parent_id"`
		} `json:"categories"`
	}
	if err := app.(*vendors.Session).GetJSON(ctx, path, q, &body); err != nil {
		return nil, err
	}
	resp := &feed.Response{Request: req}
	for _, c := range body.Categories {
		resp.Data = append(resp.Data, []interface{}{c.ID, c.Name, c.ParentID})
	}
	return resp, nil
}

func getReleases(ctx context.Context, app vendors.App, req feed.Request, vctx vendors.Context) (*feed.Response, error) {
	q := baseQuery(vctx)
	var body struct {
		Releases []struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
			Link string `json:"link"`
		} `json:"releases"`
	}
	if err := app.(*vendors.Session).GetJSON(ctx, "/fred/releases", q, &body); err != nil {
		return nil, err
	}
	resp := &feed.Response{Request: req}
	for _, r := range body.Releases {
		resp.Data = append(resp.Data, []interface{}{r.ID, r.Name, r.Link})
	}
	return resp, nil
}
