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

package node

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/hedgehq/hedge/feed"
	"github.com/hedgehq/hedge/log"
	"github.com/hedgehq/hedge/metrics"
	"github.com/hedgehq/hedge/pipeline"
)

// maxRequestBody bounds inbound JSON bodies.
const maxRequestBody = 1 << 20

// httpServer is the broker front-end. One path carries the whole request
// API; /stream upgrades to a websocket fed from the store's streaming
// fan-out; /metrics serves Prometheus.
type httpServer struct {
	pipe     *pipeline.Pipeline
	server   *http.Server
	listener net.Listener
	endpoint string
	upgrader websocket.Upgrader
	log      log.Logger
}

func newHTTPServer(pipe *pipeline.Pipeline, host string, port int, corsOrigins []string) *httpServer {
	h := &httpServer{
		pipe:     pipe,
		endpoint: fmt.Sprintf("%s:%d", host, port),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		log:      log.New("module", "http"),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stream", h.handleStream)
	mux.HandleFunc("/", h.handleRoot)

	handler := newCorsHandler(mux, corsOrigins)
	handler = h.newRecoveryHandler(handler)
	h.server = &http.Server{Handler: handler}
	return h
}

// Start binds the endpoint and serves until Stop.
func (h *httpServer) Start() error {
	listener, err := net.Listen("tcp", h.endpoint)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	h.listener = listener
	go h.server.Serve(listener)
	h.log.Info("HTTP endpoint opened", "url", fmt.Sprintf("http://%v/", listener.Addr()))
	return nil
}

// Stop shuts the server down, letting in-flight requests drain.
func (h *httpServer) Stop() error {
	if h.listener == nil {
		return nil
	}
	url := fmt.Sprintf("http://%v/", h.listener.Addr())
	err := h.server.Shutdown(context.Background())
	h.log.Info("HTTP endpoint closed", "url", url)
	return err
}

// Addr returns the bound address, for tests and the scheduler URL.
func (h *httpServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

func (h *httpServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleSubmit(w, r)
	case http.MethodGet:
		h.handleFetch(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *httpServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := feed.DecodeRequest(body)
	if err != nil {
		http.Error(w, fmt.Sprintf("malformed request: %v", err), http.StatusBadRequest)
		return
	}
	id, err := h.pipe.Submit(req, pipeline.BandNormal)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]feed.CorrID{"corr_id": id})
}

// handleFetch serves both the status probe and response pickup. Pickup is
// destructive: a claimed response is gone. With wait=true the handler
// blocks on the store waiter until the response lands or the client goes
// away.
func (h *httpServer) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := feed.CorrID(r.URL.Query().Get("corr_id"))
	if id == "" {
		// Bodies on GET are unusual but the request API allows them.
		var probe struct {
			CorrID feed.CorrID `json:"corr_id"`
		}
		if body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody)); err == nil && len(body) > 0 {
			json.Unmarshal(body, &probe)
			id = probe.CorrID
		}
	}
	if id == "" {
		writeJSON(w, map[string]int{
			"pending_requests":  h.pipe.Queue().Len(),
			"pending_responses": h.pipe.Store().Pending(),
		})
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		resp, err := h.pipe.Store().Wait(r.Context(), id)
		if err != nil {
			// Client went away; nothing sensible to write.
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, resp)
		return
	}

	resp, ok := h.pipe.Store().Claim(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, resp)
}

// handleStream upgrades to a websocket and relays streaming pushes. An
// optional corr_id query narrows the feed to one subscription.
func (h *httpServer) handleStream(w http.ResponseWriter, r *http.Request) {
	filter := feed.CorrID(r.URL.Query().Get("corr_id"))
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		// Reads only serve to notice the peer closing.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ch := h.pipe.Store().Subscribe()
	defer h.pipe.Store().Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-ch:
			if filter != "" && resp.Request.CorrID != filter {
				continue
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}
}

// newRecoveryHandler converts handler panics to plain-text 500s.
func (h *httpServer) newRecoveryHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.log.Error("Handler panicked", "path", r.URL.Path,
					"panic", rec, "stack", string(debug.Stack()))
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "internal error: %v", rec)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func newCorsHandler(next http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		return next
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		MaxAge:         600,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(next)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Response write failed", "err", err)
	}
}
