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

package protocol

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MaxSoftSizeMin is the smallest soft size limit a server may advertise.
const MaxSoftSizeMin = 8 * 1000 * 1000

// ErrBadHeaders is returned when a response is missing required headers.
var ErrBadHeaders = errors.New("response headers are missing or malformed")

// Booleans cross the wire as the literal strings "True" and "False".
func wireBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func boolFrom(q url.Values, name string, def bool) bool {
	if !q.Has(name) {
		return def
	}
	return q.Get(name) == "True"
}

func intFrom(q url.Values, name string) int {
	n, err := strconv.Atoi(q.Get(name))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// UploadParams are the query parameters of channel POST and PUT requests.
// StreamID is empty on the initial POST; TTL is zero when not provided and is
// only honored in seconds when positive.
type UploadParams struct {
	Version   Version
	Encrypted bool
	Final     bool
	Override  bool
	StreamID  string
	TTL       int
}

// Values encodes p with hyphen-cased keys, omitting unset optionals.
func (p UploadParams) Values() url.Values {
	q := url.Values{}
	q.Set("version", p.Version.String())
	q.Set("encrypted", wireBool(p.Encrypted))
	q.Set("final", wireBool(p.Final))
	q.Set("override", wireBool(p.Override))
	if p.StreamID != "" {
		q.Set("stream-id", p.StreamID)
	}
	if p.TTL > 0 {
		q.Set("ttl", strconv.Itoa(p.TTL))
	}
	return q
}

// UploadParamsFromQuery decodes q; missing version means a web client.
func UploadParamsFromQuery(q url.Values) UploadParams {
	ver := WebVersion
	if q.Has("version") {
		ver = ParseVersion(q.Get("version"))
	}
	return UploadParams{
		Version:   ver,
		Encrypted: boolFrom(q, "encrypted", false),
		Final:     boolFrom(q, "final", false),
		Override:  boolFrom(q, "override", false),
		StreamID:  q.Get("stream-id"),
		TTL:       intFrom(q, "ttl"),
	}
}

// DownloadParams are the query parameters of channel GET requests. Delete
// selects a consuming read; false is a peek.
type DownloadParams struct {
	Version  Version
	Delete   bool
	Override bool
	StreamID string
}

// Values encodes p with hyphen-cased keys, omitting unset optionals.
func (p DownloadParams) Values() url.Values {
	q := url.Values{}
	q.Set("version", p.Version.String())
	q.Set("delete", wireBool(p.Delete))
	q.Set("override", wireBool(p.Override))
	if p.StreamID != "" {
		q.Set("stream-id", p.StreamID)
	}
	return q
}

// DownloadParamsFromQuery decodes q; missing version means a web client.
func DownloadParamsFromQuery(q url.Values) DownloadParams {
	ver := WebVersion
	if q.Has("version") {
		ver = ParseVersion(q.Get("version"))
	}
	return DownloadParams{
		Version:  ver,
		Delete:   boolFrom(q, "delete", false),
		Override: boolFrom(q, "override", false),
		StreamID: q.Get("stream-id"),
	}
}

// UploadHeaders are the response headers of a successful POST or PUT.
type UploadHeaders struct {
	StreamID string
	MaxSize  int
}

// Apply writes h onto hdr.
func (h UploadHeaders) Apply(hdr http.Header) {
	hdr.Set("stream-id", h.StreamID)
	hdr.Set("max-size", strconv.Itoa(h.MaxSize))
}

// UploadHeadersFrom extracts UploadHeaders from a response.
func UploadHeadersFrom(hdr http.Header) (UploadHeaders, error) {
	id := hdr.Get("stream-id")
	size, err := strconv.Atoi(hdr.Get("max-size"))
	if id == "" || err != nil {
		return UploadHeaders{}, ErrBadHeaders
	}
	return UploadHeaders{StreamID: id, MaxSize: size}, nil
}

// DownloadHeaders are the response headers of a successful GET.
type DownloadHeaders struct {
	StreamID  string
	Final     bool
	Encrypted bool
}

// Apply writes h onto hdr.
func (h DownloadHeaders) Apply(hdr http.Header) {
	hdr.Set("stream-id", h.StreamID)
	hdr.Set("final", wireBool(h.Final))
	hdr.Set("encrypted", wireBool(h.Encrypted))
}

// DownloadHeadersFrom extracts DownloadHeaders from a response.
func DownloadHeadersFrom(hdr http.Header) (DownloadHeaders, error) {
	if hdr.Get("stream-id") == "" || hdr.Get("final") == "" || hdr.Get("encrypted") == "" {
		return DownloadHeaders{}, ErrBadHeaders
	}
	return DownloadHeaders{
		StreamID:  hdr.Get("stream-id"),
		Final:     hdr.Get("final") == "True",
		Encrypted: hdr.Get("encrypted") == "True",
	}, nil
}

// QueryResponse describes a channel without consuming it.
type QueryResponse struct {
	New            bool      `json:"new"`
	UploadComplete bool      `json:"upload_complete"`
	Size           int       `json:"size"`
	Encrypted      bool      `json:"encrypted"`
	Version        string    `json:"version"`
	Expiration     time.Time `json:"expiration"`
}

// ChannelInfo is the per-channel record of the admin channels listing.
type ChannelInfo struct {
	Version   string    `json:"version"`
	Packets   int       `json:"packets"`
	Size      int       `json:"size"`
	Encrypted bool      `json:"encrypted"`
	Expire    time.Time `json:"expire"`
}

// Supported is the body of GET /supported.
type Supported struct {
	Min    string   `json:"min"`
	Banned []string `json:"banned"`
}
