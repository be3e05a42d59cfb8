// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: December 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"rpipe/internal/protocol"
)

// waitDelay maps a backoff level onto the retry sleep: the entry with the
// largest key not exceeding the level applies.
var waitDelay = map[int]time.Duration{
	0:   300 * time.Millisecond,
	1:   500 * time.Millisecond,
	5:   time.Second,
	60:  2 * time.Second,
	300: 5 * time.Second,
}

// WaitDelay returns the retry sleep for a backoff level.
func WaitDelay(lvl int) time.Duration {
	if lvl < 0 {
		panic("invalid backoff level")
	}
	best := 0
	for k := range waitDelay {
		if k <= lvl && k >= best {
			best = k
		}
	}
	return waitDelay[best]
}

// response is a fully-read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r response) text() string {
	return string(r.body)
}

// httpClient wraps the shared HTTP session with the configured timeout.
type httpClient struct {
	c   *http.Client
	log *logrus.Entry
}

func newHTTPClient(cfg Config) *httpClient {
	timeout := time.Duration(cfg.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = DefaultTimeout * time.Second
	}
	return &httpClient{
		c:   &http.Client{Timeout: timeout},
		log: logrus.WithField("component", "request"),
	}
}

// do performs one request and reads the whole body. A 401 is mapped to
// BlockedError here since every endpoint can answer it.
func (h *httpClient) do(method, rawURL string, query url.Values, body []byte) (response, error) {
	if query != nil {
		rawURL = rawURL + "?" + query.Encode()
	}
	req, err := http.NewRequest(method, rawURL, bytes.NewReader(body))
	if err != nil {
		return response{}, err
	}
	if len(body) > 0 {
		h.log.WithFields(logrus.Fields{"method": method, "bytes": len(body)}).Debug("making request")
	}
	resp, err := h.c.Do(req)
	if err != nil {
		return response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, err
	}
	if resp.StatusCode == protocol.StatusBlocked {
		return response{}, BlockedError{}
	}
	return response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// endpoint joins the server URL and a path.
func endpoint(cfg Config, path string) string {
	return fmt.Sprintf("%s%s", cfg.URL, path)
}
