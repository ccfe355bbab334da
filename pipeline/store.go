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
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/log"
	"github.com/hedgehq/hedge/metrics"
)

// DefaultRetention bounds how many unclaimed responses the store keeps.
const DefaultRetention = 4096

// Store holds completed responses keyed by correlation ID until a client
// claims them. Claims are destructive: a response is delivered exactly once.
// A blocked Wait is satisfied directly by Put without the response touching
// the retention cache. Unclaimed responses are evicted least-recently-put
// once the retention bound fills.
//
// Streaming responses bypass retention semantics: PutStream overwrites the
// last value for the correlation ID and fans the response out to all
// subscribers.
type Store struct {
	mu      sync.Mutex
	done    *lru.Cache
	waiters map[feed.CorrID][]chan *feed.Response
	subs    map[chan *feed.Response]struct{}
	log     log.Logger

	// claiming distinguishes a deliberate Remove from a capacity eviction
	// inside the cache's evict callback. Guarded by mu, as is every cache
	// mutation.
	claiming bool
}

// NewStore returns a store retaining at most retention unclaimed responses.
func NewStore(retention int) (*Store, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	s := &Store{
		waiters: make(map[feed.CorrID][]chan *feed.Response),
		subs:    make(map[chan *feed.Response]struct{}),
		log:     log.New("module", "store"),
	}
	cache, err := lru.NewWithEvict(retention, s.onEvict)
	if err != nil {
		return nil, err
	}
	s.done = cache
	return s, nil
}

func (s *Store) onEvict(key, _ interface{}) {
	metrics.ResponsesPending.Dec()
	if !s.claiming {
		metrics.ResponsesEvicted.Inc()
		s.log.Warn("Evicted unclaimed response", "corrid", key)
	}
}

// Put delivers a completed response. Pending waiters receive it directly;
// otherwise it is retained for a later Claim.
func (s *Store) Put(resp *feed.Response) {
	id := resp.Request.CorrID

	s.mu.Lock()
	if chans, ok := s.waiters[id]; ok {
		delete(s.waiters, id)
		s.mu.Unlock()
		for _, ch := range chans {
			ch <- resp
		}
		return
	}
	s.done.Add(id, resp)
	s.mu.Unlock()
	metrics.ResponsesPending.Inc()
}

// PutStream records the latest value for a streaming correlation ID and
// broadcasts it to subscribers. Slow subscribers drop updates rather than
// stalling the pipeline.
func (s *Store) PutStream(resp *feed.Response) {
	id := resp.Request.CorrID

	s.mu.Lock()
	if _, ok := s.done.Peek(id); ok {
		// Overwrite in place: streamed values do not accumulate.
		s.done.Add(id, resp)
	} else {
		s.done.Add(id, resp)
		metrics.ResponsesPending.Inc()
	}
	for ch := range s.subs {
		select {
		case ch <- resp:
		default:
		}
	}
	s.mu.Unlock()
}

// Claim removes and returns the response for id, if one is stored.
func (s *Store) Claim(id feed.CorrID) (*feed.Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.done.Peek(id)
	if !ok {
		return nil, false
	}
	s.claiming = true
	s.done.Remove(id)
	s.claiming = false
	return v.(*feed.Response), true
}

// Wait blocks until the response for id arrives or ctx is done. If the
// response is already stored it is claimed immediately.
func (s *Store) Wait(ctx context.Context, id feed.CorrID) (*feed.Response, error) {
	s.mu.Lock()
	if v, ok := s.done.Peek(id); ok {
		s.claiming = true
		s.done.Remove(id)
		s.claiming = false
		s.mu.Unlock()
		return v.(*feed.Response), nil
	}
	ch := make(chan *feed.Response, 1)
	s.waiters[id] = append(s.waiters[id], ch)
	s.mu.Unlock()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		if !s.dropWaiter(id, ch) {
			// Put already detached this waiter, so a delivery into ch is
			// committed. Re-store it or the response vanishes with the
			// abandoned channel.
			s.Put(<-ch)
		}
		return nil, ctx.Err()
	}
}

// dropWaiter deregisters ch. It reports false when ch was no longer
// registered, which means a concurrent Put claimed it for delivery.
func (s *Store) dropWaiter(id feed.CorrID, ch chan *feed.Response) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.waiters[id]
	for i, c := range chans {
		if c == ch {
			s.waiters[id] = append(chans[:i], chans[i+1:]...)
			if len(s.waiters[id]) == 0 {
				delete(s.waiters, id)
			}
			return true
		}
	}
	return false
}

// Subscribe registers a stream fan-out channel. The caller must
// Unsubscribe when done.
func (s *Store) Subscribe() chan *feed.Response {
	ch := make(chan *feed.Response, 64)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a stream channel.
func (s *Store) Unsubscribe(ch chan *feed.Response) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// Pending returns the number of unclaimed responses.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done.Len()
}

// Subscribers returns the number of live stream channels.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
