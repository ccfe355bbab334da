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

package pipeline

import (
	"sync"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/metrics"
)

// Band selects a queue priority lane.
type Band int

const (
	// BandNormal holds client-submitted requests.
	BandNormal Band = iota
	// BandUrgent holds internally generated requests (coverage fills).
	// Urgent requests always dispatch before normal ones.
	BandUrgent
)

func (b Band) String() string {
	if b == BandUrgent {
		return "urgent"
	}
	return "normal"
}

// Queue is a two-band FIFO. Each band preserves submission order; the
// urgent band drains before the normal band.
type Queue struct {
	mu     sync.Mutex
	urgent []feed.Request
	normal []feed.Request
	notify chan struct{}
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends the request to its band.
func (q *Queue) Push(req feed.Request, band Band) {
	q.mu.Lock()
	if band == BandUrgent {
		q.urgent = append(q.urgent, req)
	} else {
		q.normal = append(q.normal, req)
	}
	metrics.QueueDepth.WithLabelValues(band.String()).Inc()
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop removes and returns the next request, urgent band first.
func (q *Queue) Pop() (feed.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.urgent) > 0 {
		req := q.urgent[0]
		q.urgent = q.urgent[1:]
		metrics.QueueDepth.WithLabelValues(BandUrgent.String()).Dec()
		return req, true
	}
	if len(q.normal) > 0 {
		req := q.normal[0]
		q.normal = q.normal[1:]
		metrics.QueueDepth.WithLabelValues(BandNormal.String()).Dec()
		return req, true
	}
	return feed.Request{}, false
}

// Len returns the number of pending requests across both bands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.urgent) + len(q.normal)
}

// Notify returns a channel that receives a token after each Push. It is
// 1-buffered, so a receive may cover several pushes; the dispatch loop
// drains the queue after each wakeup.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
