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

package vendors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/hedgehq/hedge/log"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPSessionSpec declaratively describes a vendor's HTTP session. The
// loader turns it into a live *Session with a cookie jar and the given
// headers applied to every request.
type HTTPSessionSpec struct {
	Scheme  string
	Host    string
	Port    int
	Headers map[string]string
	Cookies map[string]string
	Timeout time.Duration
}

// Session is the App handle for HTTP vendors.
type Session struct {
	client  *http.Client
	base    *url.URL
	headers map[string]string
	log     log.Logger
}

// NewSession builds the session described by the spec.
func (s *HTTPSessionSpec) NewSession() (*Session, error) {
	scheme := s.Scheme
	if scheme == "" {
		scheme = "https"
	}
	host := s.Host
	if s.Port != 0 {
		host = fmt.Sprintf("%s:%d", s.Host, s.Port)
	}
	base := &url.URL{Scheme: scheme, Host: host}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	if len(s.Cookies) > 0 {
		cookies := make([]*http.Cookie, 0, len(s.Cookies))
		for k, v := range s.Cookies {
			cookies = append(cookies, &http.Cookie{Name: k, Value: v})
		}
		jar.SetCookies(base, cookies)
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}
	return &Session{
		client:  &http.Client{Jar: jar, Timeout: timeout},
		base:    base,
		headers: s.Headers,
		log:     log.New("host", base.Host),
	}, nil
}

// URL resolves path and query against the session base.
func (s *Session) URL(path string, query url.Values) string {
	u := *s.base
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String()
}

// GetJSON issues a GET against the session base and decodes the JSON body
// into v. Non-2xx statuses are returned as errors with a body excerpt.
func (s *Session) GetJSON(ctx context.Context, path string, query url.Values, v interface{}) error {
	target := s.URL(path, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	for k, val := range s.headers {
		req.Header.Set(k, val)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	s.log.Trace("HTTP GET", "path", path)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, excerpt)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
