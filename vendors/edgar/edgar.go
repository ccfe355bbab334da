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

// Package edgar adapts the SEC's EDGAR company filings API. The SEC
// requires a descriptive User-Agent and caps clients at 10 requests per
// second.
package edgar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/resource"
	"github.com/hedgehq/hedge/schema"
	"github.com/hedgehq/hedge/vendors"
)

// Name is the vendor key in requests and configuration.
const Name = "edgar"

const (
	host         = "data.sec.gov"
	rateRequests = 10
	rateInterval = time.Second
)

// CompanySpec declares the Company resource, keyed by the zero-padded CIK.
var CompanySpec = &resource.Spec{
	Class: "Company",
	Variable: []resource.Param{
		{Field: schema.Field{Name: "cik", Type: schema.Text}, Required: true},
		{Field: schema.Field{Name: "tag", Type: schema.Text}},
	},
	HandleFields: []string{"cik"},
}

// Spec builds the vendor descriptor. userAgent identifies the operator to
// the SEC, per their fair-access policy.
func Spec(userAgent string) *vendors.Spec {
	return &vendors.Spec{
		Name: Name,
		Session: &vendors.HTTPSessionSpec{
			Scheme:  "https",
			Host:    host,
			Headers: map[string]string{"User-Agent": userAgent},
		},
		Getters: map[string]*vendors.Getter{
			"tickers": vendors.NewGetter(getTickers, []schema.Field{
				{Name: "cik", Type: schema.Text},
				{Name: "ticker", Type: schema.Text},
			}, vendors.WithRateLimit(rateRequests, rateInterval)),

			"submissions": vendors.NewGetter(getSubmissions, []schema.Field{
				{Name: "form", Type: schema.Text},
				{Name: "accession_number", Type: schema.Text},
				{Name: "filing_date", Type: schema.Text},
				{Name: "report_date", Type: schema.Text},
				{Name: "file_number", Type: schema.Text},
				{Name: "film_number", Type: schema.Text},
				{Name: "primary_document", Type: schema.Text},
				{Name: "is_xbrl", Type: schema.Bool},
			}, vendors.WithRateLimit(rateRequests, rateInterval)),

			"concept": vendors.NewGetter(getConcept, []schema.Field{
				{Name: "unit", Type: schema.Text},
				{Name: "fiscal_year", Type: schema.Int},
				{Name: "fiscal_period", Type: schema.Text},
				{Name: "form", Type: schema.Text},
				{Name: "value", Type: schema.Float},
				{Name: "accession_number", Type: schema.Text},
			}, vendors.WithRateLimit(rateRequests, rateInterval)),
		},
		Resources: []*resource.Spec{CompanySpec},
	}
}

// SanitizeCIK zero-pads a CIK to the 10 digits the API expects.
func SanitizeCIK(cik string) string {
	if len(cik) >= 10 {
		return cik
	}
	return strings.Repeat("0", 10-len(cik)) + cik
}

func companyCIK(req feed.Request) (string, error) {
	if req.Params.Resource == nil {
		return "", fmt.Errorf("edgar: request needs a Company resource")
	}
	return SanitizeCIK(req.Params.Resource.Text("cik")), nil
}

func getTickers(ctx context.Context, app vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
	var body map[string]struct {
		CIK    int64  `json:"cik_str"`
		Ticker string `json:"ticker"`
	}
	if err := app.(*vendors.Session).GetJSON(ctx, "/files/company_tickers.json", nil, &body); err != nil {
		return nil, err
	}
	resp := &feed.Response{Request: req}
	for _, rec := range body {
		resp.Data = append(resp.Data, []interface{}{SanitizeCIK(fmt.Sprintf("%d", rec.CIK)), rec.Ticker})
	}
	return resp, nil
}

func getSubmissions(ctx context.Context, app vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
	cik, err := companyCIK(req)
	if err != nil {
		return nil, err
	}

	var body struct {
		Filings struct {
			Recent struct {
				Form            []string      `json:"form"`
				AccessionNumber []string      `json:"accessionNumber"`
				FilingDate      []string      `json:"filingDate"`
				ReportDate      []string      `json:"reportDate"`
				FileNumber      []string      `json:"fileNumber"`
				FilmNumber      []string      `json:"filmNumber"`
				PrimaryDocument []string      `json:"primaryDocument"`
				IsXBRL          []interface{} `json:"isXBRL"`
			} `json:"recent"`
		} `json:"filings"`
	}
	if err := app.(*vendors.Session).GetJSON(ctx, "/submissions/CIK"+cik+".json", nil, &body); err != nil {
		return nil, err
	}

	// The API serves parallel arrays; ragged upstream data must not panic.
	recent := body.Filings.Recent
	resp := &feed.Response{Request: req}
	for i := range recent.Form {
		isXBRL := false
		if i < len(recent.IsXBRL) {
			switch x := recent.IsXBRL[i].(type) {
			case bool:
				isXBRL = x
			case float64:
				isXBRL = x != 0
			}
		}
		resp.Data = append(resp.Data, []interface{}{
			recent.Form[i], at(recent.AccessionNumber, i), at(recent.FilingDate, i),
			at(recent.ReportDate, i), at(recent.FileNumber, i), at(recent.FilmNumber, i),
			at(recent.PrimaryDocument, i), isXBRL,
		})
	}
	return resp, nil
}

// at indexes a parallel array, blank past its end.
func at(xs []string, i int) string {
	if i < len(xs) {
		return xs[i]
	}
	return ""
}

func getConcept(ctx context.Context, app vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
	cik, err := companyCIK(req)
	if err != nil {
		return nil, err
	}
	tag := req.Params.Resource.Text("tag")
	if tag == "" {
		return nil, fmt.Errorf("edgar: concept needs a tag on the Company resource")
	}

	var body struct {
		Units map[string][]struct {
			FY    int64   `json:"fy"`
			FP    string  `json:"fp"`
			Form  string  `json:"form"`
			Value float64 `json:"val"`
			Accn  string  `json:"accn"`
		} `json:"units"`
	}
	path := "/api/xbrl/companyconcept/CIK" + cik + "/us-gaap/" + tag + ".json"
	if err := app.(*vendors.Session).GetJSON(ctx, path, nil, &body); err != nil {
		return nil, err
	}

	resp := &feed.Response{Request: req}
	for unit, records := range body.Units {
		for _, rec := range records {
			resp.Data = append(resp.Data, []interface{}{unit, rec.FY, rec.FP, rec.Form, rec.Value, rec.Accn})
		}
	}
	return resp, nil
}
