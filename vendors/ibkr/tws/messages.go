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

package tws

import (
	"strconv"
)

// Outbound message codes.
const (
	outReqMktData        = 1
	outReqContractData   = 9
	outReqHistoricalData = 20
	outReqRealTimeBars   = 50
	outReqAccountSummary = 62
	outStartAPI          = 71
	outReqHistoricalTicks = 88
)

// Inbound message codes.
const (
	inTickPrice          = 1
	inErrMsg             = 4
	inContractData       = 10
	inHistoricalData     = 17
	inRealTimeBars       = 50
	inContractDataEnd    = 52
	inAccountSummary     = 63
	inAccountSummaryEnd  = 64
	inHistoricalTicks    = 96
	inHistoricalTicksLast = 98
)

// Supported client protocol version range, announced in the handshake.
const (
	minClientVersion = 100
	maxClientVersion = 187
)

// AccountSummaryTags requests every summary tag the upstream knows.
const AccountSummaryTags = "AccountType,NetLiquidation,TotalCashValue,SettledCash," +
	"AccruedCash,BuyingPower,EquityWithLoanValue,GrossPositionValue,InitMarginReq," +
	"MaintMarginReq,AvailableFunds,ExcessLiquidity,Cushion,DayTradesRemaining,Leverage"

// A Contract identifies one tradeable instrument. Only Symbol is mandatory;
// the remaining fields narrow the match.
type Contract struct {
	ConID                        int
	Symbol                       string
	SecType                      string
	LastTradeDateOrContractMonth string
	Strike                       float64
	Right                        string
	Multiplier                   string
	Exchange                     string
	PrimaryExchange              string
	Currency                     string
	LocalSymbol                  string
	TradingClass                 string
}

// StockContract is the common case: a stock on SMART routing in USD.
func StockContract(symbol string) Contract {
	return Contract{Symbol: symbol, SecType: "STK", Exchange: "SMART", Currency: "USD"}
}

// fields renders the contract in its fixed wire order. Empty strings are
// sent as "-" placeholders; the framing reserves empty fields for message
// termination.
func (c Contract) fields() []string {
	return []string{
		itoa(c.ConID),
		orDash(c.Symbol),
		orDash(c.SecType),
		orDash(c.LastTradeDateOrContractMonth),
		ftoa(c.Strike),
		orDash(c.Right),
		orDash(c.Multiplier),
		orDash(c.Exchange),
		orDash(c.PrimaryExchange),
		orDash(c.Currency),
		orDash(c.LocalSymbol),
		orDash(c.TradingClass),
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func itoa(n int) string { return strconv.Itoa(n) }

func itoa32(n int32) string { return strconv.FormatInt(int64(n), 10) }

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// startAPIFields builds the post-handshake activation message.
func startAPIFields(clientID int32) []string {
	return []string{itoa(outStartAPI), "2", itoa32(clientID), "-"}
}

func accountSummaryFields(reqID int32, group, tags string) []string {
	return []string{itoa(outReqAccountSummary), "1", itoa32(reqID), group, tags}
}

func historicalDataFields(reqID int32, contract Contract, endDateTime, duration, barSize, whatToShow string, useRTH bool) []string {
	f := []string{itoa(outReqHistoricalData), itoa32(reqID)}
	f = append(f, contract.fields()...)
	return append(f,
		orDash(endDateTime),
		barSize,
		duration,
		btoa(useRTH),
		whatToShow,
		"1", // formatDate: yyyymmdd hh:mm:ss
		"0", // keepUpToDate
	)
}

func historicalTicksFields(reqID int32, contract Contract, endDateTime string, count int, whatToShow string, useRTH, ignoreSize bool) []string {
	f := []string{itoa(outReqHistoricalTicks), itoa32(reqID)}
	f = append(f, contract.fields()...)
	return append(f,
		orDash(endDateTime),
		itoa(count),
		whatToShow,
		btoa(useRTH),
		btoa(ignoreSize),
	)
}

func realTimeBarsFields(reqID int32, contract Contract, barSize int, whatToShow string, useRTH bool) []string {
	f := []string{itoa(outReqRealTimeBars), "3", itoa32(reqID)}
	f = append(f, contract.fields()...)
	return append(f, itoa(barSize), whatToShow, btoa(useRTH))
}

func mktDataFields(reqID int32, contract Contract, genericTicks string, snapshot bool) []string {
	f := []string{itoa(outReqMktData), "11", itoa32(reqID)}
	f = append(f, contract.fields()...)
	return append(f, orDash(genericTicks), btoa(snapshot), "0")
}

func contractDetailsFields(reqID int32, contract Contract) []string {
	f := []string{itoa(outReqContractData), "8", itoa32(reqID)}
	return append(f, contract.fields()...)
}
