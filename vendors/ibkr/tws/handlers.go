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
	"fmt"
	"strconv"

	"github.com/hedgehq/hedge/feed"
)

// handle routes one inbound message to its per-code handler. Unknown codes
// are logged and dropped; the upstream emits far more message types than
// the endpoints here consume.
func (c *Client) handle(msg []string) {
	if len(msg) == 0 {
		return
	}
	code, err := strconv.Atoi(msg[0])
	if err != nil {
		c.log.Warn("Unparseable message code", "field", msg[0])
		return
	}
	switch code {
	case inAccountSummary:
		c.handleAccountSummary(msg)
	case inAccountSummaryEnd:
		c.handleEnd(msg, 2)
	case inHistoricalData:
		c.handleHistoricalData(msg)
	case inHistoricalTicks, inHistoricalTicksLast:
		c.handleHistoricalTicks(msg)
	case inRealTimeBars:
		c.handleRealTimeBars(msg)
	case inTickPrice:
		c.handleTickPrice(msg)
	case inContractData:
		c.handleContractData(msg)
	case inContractDataEnd:
		c.handleEnd(msg, 2)
	case inErrMsg:
		c.handleErr(msg)
	default:
		c.log.Trace("Ignoring message", "code", code, "fields", len(msg))
	}
}

// lookup resolves the pending request for a reqId field.
func (c *Client) lookup(field string) (int32, *pendingReq, bool) {
	id, err := strconv.ParseInt(field, 10, 32)
	if err != nil {
		c.log.Warn("Unparseable request ID", "field", field)
		return 0, nil, false
	}
	c.mu.Lock()
	p, ok := c.pending[int32(id)]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("Message for unknown request", "reqid", id)
	}
	return int32(id), p, ok
}

// push appends one row. Streaming requests deliver each row immediately;
// buffered requests accumulate until end-of-data.
func (c *Client) push(id int32, p *pendingReq, row []interface{}) {
	if p.streams {
		if c.Deliver != nil {
			c.Deliver(&feed.Response{Request: p.req, Data: [][]interface{}{row}}, true)
		}
		return
	}
	c.mu.Lock()
	p.rows = append(p.rows, row)
	c.mu.Unlock()
}

// finish resolves a buffered request with everything accumulated so far.
func (c *Client) finish(id int32, p *pendingReq) {
	c.mu.Lock()
	delete(c.pending, id)
	rows := p.rows
	c.mu.Unlock()
	if p.streams {
		return
	}
	p.done <- &feed.Response{Request: p.req, Data: rows}
}

// handleEnd terminates a buffered request. idIdx names the reqId field
// position (end messages carry a version field first).
func (c *Client) handleEnd(msg []string, idIdx int) {
	if len(msg) <= idIdx {
		return
	}
	id, p, ok := c.lookup(msg[idIdx])
	if !ok {
		return
	}
	c.finish(id, p)
}

// handleAccountSummary: [code, version, reqId, account, tag, value, currency].
func (c *Client) handleAccountSummary(msg []string) {
	if len(msg) < 7 {
		return
	}
	id, p, ok := c.lookup(msg[2])
	if !ok {
		return
	}
	c.push(id, p, []interface{}{msg[3], msg[4], msg[5], msg[6]})
}

// handleHistoricalData decodes a whole bar batch:
// [code, reqId, startDate, endDate, barCount, then per bar: date, open,
// high, low, close, volume]. The batch is terminal.
func (c *Client) handleHistoricalData(msg []string) {
	if len(msg) < 5 {
		return
	}
	id, p, ok := c.lookup(msg[1])
	if !ok {
		return
	}
	count, err := strconv.Atoi(msg[4])
	if err != nil || len(msg) < 5+count*6 {
		c.failPending(id, p, fmt.Errorf("tws: malformed bar batch (count %s, fields %d)", msg[4], len(msg)))
		return
	}
	for i := 0; i < count; i++ {
		f := msg[5+i*6 : 5+(i+1)*6]
		c.push(id, p, []interface{}{f[0], atofOr0(f[1]), atofOr0(f[2]), atofOr0(f[3]), atofOr0(f[4]), atoiOr0(f[5])})
	}
	c.finish(id, p)
}

// handleHistoricalTicks decodes [code, reqId, tickCount, per tick: time,
// price, size, then done flag].
func (c *Client) handleHistoricalTicks(msg []string) {
	if len(msg) < 3 {
		return
	}
	id, p, ok := c.lookup(msg[1])
	if !ok {
		return
	}
	count, err := strconv.Atoi(msg[2])
	if err != nil || len(msg) < 3+count*3+1 {
		c.failPending(id, p, fmt.Errorf("tws: malformed tick batch (count %s, fields %d)", msg[2], len(msg)))
		return
	}
	for i := 0; i < count; i++ {
		f := msg[3+i*3 : 3+(i+1)*3]
		c.push(id, p, []interface{}{atofOr0(f[0]), atofOr0(f[1]), atofOr0(f[2])})
	}
	if msg[3+count*3] == "1" {
		c.finish(id, p)
	}
}

// handleRealTimeBars: [code, version, reqId, time, open, high, low, close,
// volume, wap, count]. Always streaming.
func (c *Client) handleRealTimeBars(msg []string) {
	if len(msg) < 11 {
		return
	}
	id, p, ok := c.lookup(msg[2])
	if !ok {
		return
	}
	c.push(id, p, []interface{}{
		atofOr0(msg[3]), atofOr0(msg[4]), atofOr0(msg[5]), atofOr0(msg[6]),
		atofOr0(msg[7]), atoiOr0(msg[8]), atofOr0(msg[9]), atoiOr0(msg[10]),
	})
}

// handleTickPrice: [code, version, reqId, tickType, price, size, attrib].
func (c *Client) handleTickPrice(msg []string) {
	if len(msg) < 5 {
		return
	}
	id, p, ok := c.lookup(msg[2])
	if !ok {
		return
	}
	c.push(id, p, []interface{}{atoiOr0(msg[3]), atofOr0(msg[4])})
}

// handleContractData: [code, version, reqId, then alternating label,
// value]. The record set closes at CONTRACT_DATA_END.
func (c *Client) handleContractData(msg []string) {
	if len(msg) < 3 {
		return
	}
	id, p, ok := c.lookup(msg[2])
	if !ok {
		return
	}
	for i := 3; i+1 < len(msg); i += 2 {
		c.push(id, p, []interface{}{msg[i], msg[i+1]})
	}
}

// handleErr fails the named request: [code, version, reqId, errorCode,
// errorMsg]. A reqId of -1 is a connection-level notice.
func (c *Client) handleErr(msg []string) {
	if len(msg) < 5 {
		return
	}
	if msg[2] == "-1" {
		c.log.Info("Broker notice", "code", msg[3], "msg", msg[4])
		return
	}
	id, p, ok := c.lookup(msg[2])
	if !ok {
		return
	}
	c.failPending(id, p, fmt.Errorf("tws: upstream error %s: %s", msg[3], msg[4]))
}

func (c *Client) failPending(id int32, p *pendingReq, err error) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
	c.log.Warn("Request failed", "reqid", id, "err", err)
	if p.streams {
		if c.Deliver != nil {
			c.Deliver(feed.ErrResponse(p.req, err), true)
		}
		return
	}
	p.done <- feed.ErrResponse(p.req, err)
}

func atofOr0(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func atoiOr0(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
