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
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/log"
)

// State is the connection lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	// MaxRetries bounds handshake read attempts.
	MaxRetries = 100
	// retryBackoff separates handshake read attempts.
	retryBackoff = 100 * time.Millisecond
	// readPoll is the reader's deadline cadence; each expiry re-checks for
	// shutdown before blocking again.
	readPoll = 200 * time.Millisecond
	// writeRate caps outbound messages per second, the upstream's limit.
	writeRate = 50
)

// ErrNotConnected is returned for requests issued outside StateConnected.
var ErrNotConnected = errors.New("tws: not connected")

// DeliverFunc receives out-of-band responses (streaming rows). The bool
// marks streaming delivery.
type DeliverFunc func(resp *feed.Response, streaming bool)

// Client is the broker API client: one socket, one reader goroutine, all
// requests multiplexed by a monotonic int32 request ID.
type Client struct {
	host     string
	port     int
	clientID int32

	conn    *Conn
	state   atomic.Int32
	reqID   atomic.Int32
	limiter *rate.Limiter
	log     log.Logger

	// Set once before Connect; receives streaming rows.
	Deliver DeliverFunc

	mu            sync.Mutex
	pending       map[int32]*pendingReq
	serverVersion int
	connTime      string

	readerDone chan struct{}
}

type pendingReq struct {
	req     feed.Request
	streams bool
	rows    [][]interface{}
	done    chan *feed.Response
}

// NewClient prepares a client for the given upstream.
func NewClient(host string, port int, clientID int32) *Client {
	c := &Client{
		host:     host,
		port:     port,
		clientID: clientID,
		limiter:  rate.NewLimiter(rate.Limit(writeRate), writeRate),
		pending:  make(map[int32]*pendingReq),
		log:      log.New("module", "tws", "host", host, "port", port),
	}
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// ServerVersion returns the version announced in the handshake.
func (c *Client) ServerVersion() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverVersion
}

// ConnTime returns the connection timestamp announced in the handshake.
func (c *Client) ConnTime() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connTime
}

// NextReqID allocates a request ID. IDs double as correlation IDs for the
// broker vendor.
func (c *Client) NextReqID() int32 {
	return c.reqID.Add(1)
}

// Connect dials, handshakes, activates the API, and starts the reader.
func (c *Client) Connect(ctx context.Context) error {
	if c.State() != StateDisconnected {
		return fmt.Errorf("tws: connect from state %s", c.State())
	}

	conn, err := Dial(ctx, c.host, c.port)
	if err != nil {
		return err
	}
	c.conn = conn
	c.state.Store(int32(StateConnecting))
	c.log.Debug("Socket open", "state", c.State())

	if err := c.handshake(ctx); err != nil {
		c.teardown(err)
		return err
	}
	// START_API completes the handshake sequence; the session is usable
	// only after it is on the wire.
	if err := c.send(ctx, startAPIFields(c.clientID)...); err != nil {
		c.teardown(err)
		return err
	}
	c.state.Store(int32(StateConnected))
	c.log.Info("Broker session established", "version", c.ServerVersion(), "conntime", c.ConnTime())

	c.readerDone = make(chan struct{})
	go c.readLoop(ctx)
	return nil
}

// ConnectConn runs the session over an established socket, for tests.
func (c *Client) ConnectConn(ctx context.Context, sock net.Conn) error {
	c.conn = NewConn(sock)
	c.state.Store(int32(StateConnecting))

	if err := c.handshake(ctx); err != nil {
		c.teardown(err)
		return err
	}
	if err := c.send(ctx, startAPIFields(c.clientID)...); err != nil {
		c.teardown(err)
		return err
	}
	c.state.Store(int32(StateConnected))

	c.readerDone = make(chan struct{})
	go c.readLoop(ctx)
	return nil
}

// handshake announces the supported version range and reads the server's
// three delimiter bytes, version field, and connection-time field. Reads
// retry on timeout up to MaxRetries with a fixed backoff; peeked framing
// means a timed-out partial read loses nothing.
func (c *Client) handshake(ctx context.Context) error {
	preamble := append([]byte("API\x00"), []byte(fmt.Sprintf("v%d..%d", minClientVersion, maxClientVersion))...)
	preamble = append(preamble, 0)
	if err := c.conn.WriteRaw(preamble); err != nil {
		return err
	}
	c.state.Store(int32(StateHandshaking))

	read := func(step func() error) error {
		op := func() error {
			c.conn.SetReadDeadline(time.Now().Add(readPoll))
			err := step()
			if err != nil {
				var nerr net.Error
				if errors.As(err, &nerr) && nerr.Timeout() {
					return err // retriable
				}
				return backoff.Permanent(err)
			}
			return nil
		}
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(retryBackoff), MaxRetries), ctx)
		return backoff.Retry(op, bo)
	}

	if err := read(func() error { return c.conn.ReadDelim(3) }); err != nil {
		return fmt.Errorf("tws: handshake delimiter: %w", err)
	}

	var version, connTime string
	if err := read(func() (err error) { version, err = c.conn.ReadField(); return }); err != nil {
		return fmt.Errorf("tws: server version: %w", err)
	}
	if err := read(func() (err error) { connTime, err = c.conn.ReadField(); return }); err != nil {
		return fmt.Errorf("tws: connection time: %w", err)
	}

	v, err := strconv.Atoi(version)
	if err != nil {
		return fmt.Errorf("tws: bad server version %q", version)
	}
	c.mu.Lock()
	c.serverVersion = v
	c.connTime = connTime
	c.mu.Unlock()
	return nil
}

// Disconnect closes the socket and fails in-flight requests.
func (c *Client) Disconnect() {
	c.teardown(ErrNotConnected)
	if c.readerDone != nil {
		<-c.readerDone
	}
}

func (c *Client) teardown(cause error) {
	if State(c.state.Swap(int32(StateDisconnected))) == StateDisconnected {
		return
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int32]*pendingReq)
	c.mu.Unlock()

	for id, p := range pending {
		if !p.streams {
			p.done <- feed.ErrResponse(p.req, cause)
		}
		c.log.Warn("In-flight request failed on disconnect", "reqid", id)
	}
	c.log.Info("Broker session closed", "state", c.State())
}

// send writes one framed message under the outbound rate cap.
func (c *Client) send(ctx context.Context, fields ...string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.conn.WriteMsg(fields...)
}

// track registers a pending request before its message is written.
func (c *Client) track(id int32, req feed.Request, streams bool) *pendingReq {
	p := &pendingReq{req: req, streams: streams, done: make(chan *feed.Response, 1)}
	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()
	return p
}

// await blocks until end-of-data for a non-streaming request. Failures
// resolve as error-tagged responses, not Go errors, so the pipeline stores
// them and a waiting GET sees the failure.
func (c *Client) await(ctx context.Context, id int32, p *pendingReq) (*feed.Response, error) {
	select {
	case resp := <-p.done:
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// roundTrip issues a request and, for non-streaming endpoints, waits for
// end-of-data. Streaming endpoints return an empty acknowledgement; rows
// flow through Deliver as they arrive.
func (c *Client) roundTrip(ctx context.Context, req feed.Request, streams bool, fields []string) (*feed.Response, error) {
	if c.State() != StateConnected {
		return nil, ErrNotConnected
	}
	id, ok := req.CorrID.Int()
	if !ok {
		return nil, fmt.Errorf("tws: non-integer corr ID %q", req.CorrID)
	}
	p := c.track(id, req, streams)
	if err := c.send(ctx, fields...); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	if streams {
		return &feed.Response{Request: req}, nil
	}
	return c.await(ctx, id, p)
}

// AccountSummary requests every account summary tag. Streaming.
func (c *Client) AccountSummary(ctx context.Context, req feed.Request) (*feed.Response, error) {
	id, _ := req.CorrID.Int()
	return c.roundTrip(ctx, req, true, accountSummaryFields(id, "All", AccountSummaryTags))
}

// HistoricalBars requests a bar series ending at endDateTime.
func (c *Client) HistoricalBars(ctx context.Context, req feed.Request, contract Contract, endDateTime, duration, barSize string) (*feed.Response, error) {
	id, _ := req.CorrID.Int()
	return c.roundTrip(ctx, req, false,
		historicalDataFields(id, contract, endDateTime, duration, barSize, "MIDPOINT", false))
}

// HistoricalTicks requests up to count ticks ending at endDateTime.
func (c *Client) HistoricalTicks(ctx context.Context, req feed.Request, contract Contract, endDateTime string, count int) (*feed.Response, error) {
	id, _ := req.CorrID.Int()
	return c.roundTrip(ctx, req, false,
		historicalTicksFields(id, contract, endDateTime, count, "TRADES", false, false))
}

// RealTimeBars subscribes to 5 second bars. Streaming.
func (c *Client) RealTimeBars(ctx context.Context, req feed.Request, contract Contract) (*feed.Response, error) {
	id, _ := req.CorrID.Int()
	return c.roundTrip(ctx, req, true, realTimeBarsFields(id, contract, 5, "MIDPOINT", false))
}

// RealTimeTicks subscribes to tick-by-tick prices. Streaming.
func (c *Client) RealTimeTicks(ctx context.Context, req feed.Request, contract Contract) (*feed.Response, error) {
	id, _ := req.CorrID.Int()
	return c.roundTrip(ctx, req, true, mktDataFields(id, contract, "1,2", false))
}

// ContractDetails requests the full contract record set.
func (c *Client) ContractDetails(ctx context.Context, req feed.Request, contract Contract) (*feed.Response, error) {
	id, _ := req.CorrID.Int()
	return c.roundTrip(ctx, req, false, contractDetailsFields(id, contract))
}

// readLoop is the sole socket reader. It frames messages and hands each to
// its per-code handler until shutdown or a fatal read error.
func (c *Client) readLoop(ctx context.Context) {
	defer close(c.readerDone)
	for {
		select {
		case <-ctx.Done():
			c.teardown(ctx.Err())
			return
		default:
		}
		c.conn.SetReadDeadline(time.Now().Add(readPoll))
		msg, err := c.conn.ReadMsg()
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			if c.State() == StateDisconnected {
				return
			}
			c.log.Error("Read failed, dropping session", "err", err)
			c.teardown(err)
			return
		}
		c.handle(msg)
	}
}
