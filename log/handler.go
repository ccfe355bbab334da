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

package log

import (
	"io"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// A Handler writes log records.
type Handler interface {
	Log(r *Record)
}

// FuncHandler returns a Handler that logs records with the given function.
func FuncHandler(fn func(r *Record)) Handler {
	return funcHandler(fn)
}

type funcHandler func(r *Record)

func (h funcHandler) Log(r *Record) {
	h(r)
}

// StreamHandler writes log records to an io.Writer with the given format.
// StreamHandler is safe for concurrent use by wrapping writes in a mutex.
func StreamHandler(wr io.Writer, fmtr Format) Handler {
	var mu sync.Mutex
	return FuncHandler(func(r *Record) {
		mu.Lock()
		defer mu.Unlock()
		wr.Write(fmtr.Format(r))
	})
}

// FileHandler writes log records to the given path with size-based rotation.
func FileHandler(path string, fmtr Format) Handler {
	return StreamHandler(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // MB
		MaxBackups: 10,
		Compress:   true,
	}, fmtr)
}

// LvlFilterHandler returns a Handler that only writes records which are
// less than the given verbosity level to the wrapped Handler.
func LvlFilterHandler(maxLvl Lvl, h Handler) Handler {
	return FuncHandler(func(r *Record) {
		if r.Lvl <= maxLvl {
			h.Log(r)
		}
	})
}

// MultiHandler dispatches any write to each of its handlers.
func MultiHandler(hs ...Handler) Handler {
	return FuncHandler(func(r *Record) {
		for _, h := range hs {
			h.Log(r)
		}
	})
}

// DiscardHandler reports success for all writes but does nothing.
func DiscardHandler() Handler {
	return FuncHandler(func(r *Record) {})
}

// swapHandler wraps another handler that may be swapped out
// dynamically at runtime in a thread-safe fashion.
type swapHandler struct {
	handler atomic.Value
}

func (h *swapHandler) Log(r *Record) {
	(*h.handler.Load().(*Handler)).Log(r)
}

func (h *swapHandler) Swap(newHandler Handler) {
	h.handler.Store(&newHandler)
}

func (h *swapHandler) Get() Handler {
	return *h.handler.Load().(*Handler)
}
