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

// Package tws implements the wire client for the broker's TCP API: a
// field-delimited binary framing, the version handshake, and a single
// reader goroutine that demultiplexes responses by request ID.
package tws

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

// readBufferSize must hold the largest single message; historical bar
// batches arrive as one message.
const readBufferSize = 1 << 20

// Conn frames messages over the raw socket. Fields are NUL-terminated byte
// strings; a message ends at two consecutive NULs (an empty terminating
// field). Reads peek before consuming, so a timed-out partial read leaves
// the buffer intact for retry.
type Conn struct {
	wmu  sync.Mutex
	sock net.Conn
	br   *bufio.Reader
}

// Dial opens the TCP connection.
func Dial(ctx context.Context, host string, port int) (*Conn, error) {
	var d net.Dialer
	sock, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, err
	}
	return NewConn(sock), nil
}

// NewConn wraps an established socket, mainly for tests over net.Pipe.
func NewConn(sock net.Conn) *Conn {
	return &Conn{sock: sock, br: bufio.NewReaderSize(sock, readBufferSize)}
}

// Close tears down the socket.
func (c *Conn) Close() error {
	return c.sock.Close()
}

// SetReadDeadline bounds the next read.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.sock.SetReadDeadline(t)
}

// WriteMsg emits the fields followed by the message terminator. Interior
// fields must be non-empty; an empty field would end the message early.
func (c *Conn) WriteMsg(fields ...string) error {
	var buf bytes.Buffer
	for _, f := range fields {
		buf.WriteString(f)
		buf.WriteByte(0)
	}
	buf.WriteByte(0)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.sock.Write(buf.Bytes())
	return err
}

// WriteRaw emits bytes verbatim, used only for the handshake preamble.
func (c *Conn) WriteRaw(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.sock.Write(data)
	return err
}

// ReadMsg returns the next complete message's fields. Nothing is consumed
// until the whole message, terminator included, is buffered.
func (c *Conn) ReadMsg() ([]string, error) {
	for n := 2; ; n++ {
		buf, err := c.br.Peek(n)
		if err != nil {
			return nil, err
		}
		if buf[n-1] == 0 && buf[n-2] == 0 {
			if _, err := c.br.Discard(n); err != nil {
				return nil, err
			}
			if n == 2 {
				// Stray terminator with no fields; skip it.
				n = 1
				continue
			}
			return strings.Split(string(buf[:n-2]), "\x00"), nil
		}
	}
}

// ReadField returns the next single NUL-terminated field.
func (c *Conn) ReadField() (string, error) {
	for n := 1; ; n++ {
		buf, err := c.br.Peek(n)
		if err != nil {
			return "", err
		}
		if buf[n-1] == 0 {
			if _, err := c.br.Discard(n); err != nil {
				return "", err
			}
			return string(buf[:n-1]), nil
		}
	}
}

// ReadDelim consumes exactly n NUL bytes.
func (c *Conn) ReadDelim(n int) error {
	buf, err := c.br.Peek(n)
	if err != nil {
		return err
	}
	for i, b := range buf {
		if b != 0 {
			return fmt.Errorf("tws: expected %d delimiter bytes, got 0x%02x at %d", n, b, i)
		}
	}
	_, err = c.br.Discard(n)
	return err
}
