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

// Package ibkr adapts the Interactive Brokers workstation API. Unlike the
// HTTP vendors it speaks a framed binary protocol over one TCP socket (see
// the tws subpackage); correlation IDs are the protocol's own monotonic
// request IDs.
package ibkr

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/resource"
	"github.com/hedgehq/hedge/schema"
	"github.com/hedgehq/hedge/vendors"
	"github.com/hedgehq/hedge/vendors/ibkr/tws"
)

// Name is the vendor key in requests and configuration.
const Name = "ibkr"

// wireTimeLayout is the workstation's datetime format.
const wireTimeLayout = "20060102 15:04:05"

// ContractSpec declares the Contract resource. Only symbol is required;
// sec_type, exchange and currency default to US stocks.
var ContractSpec = &resource.Spec{
	Class: "Contract",
	Variable: []resource.Param{
		{Field: schema.Field{Name: "symbol", Type: schema.Text}, Required: true},
		{Field: schema.Field{Name: "sec_type", Type: schema.Text}, Default: "STK"},
		{Field: schema.Field{Name: "exchange", Type: schema.Text}, Default: "SMART"},
		{Field: schema.Field{Name: "currency", Type: schema.Text}, Default: "USD"},
	},
	HandleFields: []string{"symbol", "exchange"},
}

// Config locates the workstation gateway.
type Config struct {
	Host     string
	Port     int
	ClientID int32
}

// Spec builds the vendor descriptor around a TCP client for cfg.
func Spec(cfg Config) *vendors.Spec {
	return &vendors.Spec{
		Name: Name,
		NewApp: func(vendors.Context) (vendors.App, error) {
			return tws.NewClient(cfg.Host, cfg.Port, cfg.ClientID), nil
		},
		Runner: runner,
		CorrIDFn: func(app vendors.App) feed.CorrID {
			return feed.IntCorrID(app.(*tws.Client).NextReqID())
		},
		Context: vendors.StaticContext(map[string]string{
			"host": cfg.Host,
			"port": strconv.Itoa(cfg.Port),
		}),
		Getters: map[string]*vendors.Getter{
			"account_summary": vendors.NewGetter(getAccountSummary, []schema.Field{
				{Name: "account", Type: schema.Text},
				{Name: "tag", Type: schema.Text},
				{Name: "value", Type: schema.Text},
				{Name: "currency", Type: schema.Text},
			}, vendors.WithStreams()),

			"historical_bars": vendors.NewGetter(getHistoricalBars, []schema.Field{
				{Name: "date", Type: schema.Text},
				{Name: "open", Type: schema.Float},
				{Name: "high", Type: schema.Float},
				{Name: "low", Type: schema.Float},
				{Name: "close", Type: schema.Float},
				{Name: "volume", Type: schema.Int},
			}, vendors.WithChunking(chunkSchedule, corrIDFromApp)),

			"historical_ticks": vendors.NewGetter(getHistoricalTicks, []schema.Field{
				{Name: "time", Type: schema.Float},
				{Name: "price", Type: schema.Float},
				{Name: "size", Type: schema.Float},
			}),

			"realtime_bars": vendors.NewGetter(getRealTimeBars, []schema.Field{
				{Name: "time", Type: schema.Float},
				{Name: "open", Type: schema.Float},
				{Name: "high", Type: schema.Float},
				{Name: "low", Type: schema.Float},
				{Name: "close", Type: schema.Float},
				{Name: "volume", Type: schema.Int},
				{Name: "wap", Type: schema.Float},
				{Name: "count", Type: schema.Int},
			}, vendors.WithStreams()),

			"realtime_ticks": vendors.NewGetter(getRealTimeTicks, []schema.Field{
				{Name: "tick_type", Type: schema.Int},
				{Name: "price", Type: schema.Float},
			}, vendors.WithStreams()),

			"contract_details": vendors.NewGetter(getContractDetails, []schema.Field{
				{Name: "label", Type: schema.Text},
				{Name: "value", Type: schema.Text},
			}),
		},
		Resources: []*resource.Spec{ContractSpec},
	}
}

// chunkSchedule caps historical bar windows per bar resolution: the
// upstream refuses wide windows at fine resolutions.
var chunkSchedule = map[time.Duration]time.Duration{
	time.Second:    24 * time.Hour,
	time.Minute:    7 * 24 * time.Hour,
	time.Hour:      30 * 24 * time.Hour,
	24 * time.Hour: 365 * 24 * time.Hour,
}

func corrIDFromApp(app vendors.App) feed.CorrID {
	return feed.IntCorrID(app.(*tws.Client).NextReqID())
}

// runner connects the TCP client and holds the session open until
// shutdown. Reconnection is left to the next scheduler cycle.
func runner(ctx context.Context, app vendors.App) error {
	client := app.(*tws.Client)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	client.Disconnect()
	return nil
}

// contractFromRequest maps the request's resource onto a wire contract.
func contractFromRequest(req feed.Request) (tws.Contract, error) {
	if req.Params.Resource == nil {
		return tws.Contract{}, fmt.Errorf("ibkr: request needs a Contract resource")
	}
	r := req.Params.Resource
	c := tws.StockContract(r.Text("symbol"))
	if v := r.Text("sec_type"); v != "" {
		c.SecType = v
	}
	if v := r.Text("exchange"); v != "" {
		c.Exchange = v
	}
	if v := r.Text("currency"); v != "" {
		c.Currency = v
	}
	return c, nil
}

// ResolveDuration renders a window length in the upstream's duration
// grammar (seconds up to a day, then days, weeks, months, years).
func ResolveDuration(start, end time.Time) string {
	s := int(end.Sub(start).Seconds())
	day := 60 * 60 * 24
	switch {
	case s < day:
		return fmt.Sprintf("%d S", s)
	case s < day*7:
		return fmt.Sprintf("%d D", s/day)
	case s < day*30:
		return fmt.Sprintf("%d W", s/(day*7))
	case s < day*365:
		return fmt.Sprintf("%d M", s/(day*30))
	default:
		return fmt.Sprintf("%d Y", s/(day*365))
	}
}

// ResolveBarSize renders a resolution in the upstream's bar-size grammar,
// snapping to the nearest legal setting.
func ResolveBarSize(resolution time.Duration) string {
	s := int(resolution.Seconds())
	switch {
	case s < 60:
		for _, legal := range []int{30, 15, 10, 5, 1} {
			if s >= legal {
				return fmt.Sprintf("%d secs", legal)
			}
		}
		return "1 secs"
	case s < 60*60:
		m := s / 60
		for _, legal := range []int{30, 20, 15, 10, 5, 3, 2, 1} {
			if m >= legal {
				return fmt.Sprintf("%d mins", legal)
			}
		}
		return "1 mins"
	case s < 60*60*24:
		h := s / (60 * 60)
		for _, legal := range []int{8, 4, 3, 2, 1} {
			if h >= legal {
				return fmt.Sprintf("%d hrs", legal)
			}
		}
		return "1 hrs"
	case s < 60*60*24*7:
		return "1 days"
	case s < 60*60*24*30:
		return "1 weeks"
	default:
		return "1 months"
	}
}

func getAccountSummary(ctx context.Context, app vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
	return app.(*tws.Client).AccountSummary(ctx, req)
}

func getHistoricalBars(ctx context.Context, app vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
	contract, err := contractFromRequest(req)
	if err != nil {
		return nil, err
	}
	if req.Params.Start == nil || req.Params.End == nil || req.Params.Resolution == nil {
		return nil, fmt.Errorf("ibkr: historical_bars needs start, end and resolution")
	}
	end := ""
	if req.Params.End.Before(time.Now()) {
		end = req.Params.End.Format(wireTimeLayout)
	}
	return app.(*tws.Client).HistoricalBars(ctx, req, contract, end,
		ResolveDuration(*req.Params.Start, *req.Params.End),
		ResolveBarSize(*req.Params.Resolution))
}

func getHistoricalTicks(ctx context.Context, app vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
	contract, err := contractFromRequest(req)
	if err != nil {
		return nil, err
	}
	if req.Params.End == nil {
		return nil, fmt.Errorf("ibkr: historical_ticks needs an end timestamp")
	}
	return app.(*tws.Client).HistoricalTicks(ctx, req, contract, req.Params.End.Format(wireTimeLayout), 1000)
}

func getRealTimeBars(ctx context.Context, app vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
	contract, err := contractFromRequest(req)
	if err != nil {
		return nil, err
	}
	return app.(*tws.Client).RealTimeBars(ctx, req, contract)
}

func getRealTimeTicks(ctx context.Context, app vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
	contract, err := contractFromRequest(req)
	if err != nil {
		return nil, err
	}
	return app.(*tws.Client).RealTimeTicks(ctx, req, contract)
}

func getContractDetails(ctx context.Context, app vendors.App, req feed.Request, _ vendors.Context) (*feed.Response, error) {
	contract, err := contractFromRequest(req)
	if err != nil {
		return nil, err
	}
	return app.(*tws.Client).ContractDetails(ctx, req, contract)
}
