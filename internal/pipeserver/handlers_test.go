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

package pipeserver

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"rpipe/internal/pipeserver/admin"
	"rpipe/internal/pipeserver/blocked"
	"rpipe/internal/protocol"
)

// testServer bundles an App over a fake clock with an httptest listener.
type testServer struct {
	state *State
	clock *clockwork.FakeClock
	ts    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := clockwork.NewFakeClock()
	state := NewState(clock)
	bl, err := blocked.New("", clock)
	if err != nil {
		t.Fatal(err)
	}
	app := NewApp(state, bl, admin.NewVerifier(nil, clock), "", "")
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(ts.Close)
	return &testServer{state: state, clock: clock, ts: ts}
}

type reply struct {
	status int
	header http.Header
	body   []byte
}

func (s *testServer) do(t *testing.T, method, path string, query url.Values, body []byte) reply {
	t.Helper()
	u := s.ts.URL + path
	if query != nil {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return reply{status: resp.StatusCode, header: resp.Header, body: data}
}

func upQuery(final bool, streamID string) url.Values {
	q := protocol.UploadParams{
		Version:  protocol.Current,
		Final:    final,
		StreamID: streamID,
	}.Values()
	return q
}

func downQuery(del bool, streamID string) url.Values {
	return protocol.DownloadParams{
		Version:  protocol.Current,
		Delete:   del,
		StreamID: streamID,
	}.Values()
}

func (s *testServer) channelCount(t *testing.T) int {
	t.Helper()
	n := -1
	if err := s.state.With(func(u *UnlockedState) error {
		n = len(u.Streams)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestSendReceiveHello(t *testing.T) {
	s := newTestServer(t)
	r := s.do(t, "POST", "/c/c", upQuery(true, ""), []byte("hello"))
	if r.status != http.StatusCreated {
		t.Fatalf("POST status = %d, want 201", r.status)
	}
	if _, err := protocol.UploadHeadersFrom(r.header); err != nil {
		t.Fatalf("POST headers: %v", err)
	}

	r = s.do(t, "GET", "/c/c", downQuery(true, ""), nil)
	if r.status != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", r.status)
	}
	if string(r.body) != "hello" {
		t.Errorf("GET body = %q", r.body)
	}
	hdr, err := protocol.DownloadHeadersFrom(r.header)
	if err != nil {
		t.Fatal(err)
	}
	if !hdr.Final {
		t.Error("single-block read should be final")
	}
	if got := s.channelCount(t); got != 0 {
		t.Errorf("channel should be gone after a final consuming read, %d left", got)
	}
}

func TestStreamedBlocks(t *testing.T) {
	s := newTestServer(t)
	r := s.do(t, "POST", "/c/c", upQuery(false, ""), nil)
	if r.status != http.StatusCreated {
		t.Fatalf("POST status = %d", r.status)
	}
	up, err := protocol.UploadHeadersFrom(r.header)
	if err != nil {
		t.Fatal(err)
	}
	if len(up.StreamID) != 32 {
		t.Errorf("stream ID %q is not 32 chars", up.StreamID)
	}
	if up.MaxSize != MaxSizeSoft {
		t.Errorf("max-size = %d, want %d", up.MaxSize, MaxSizeSoft)
	}

	if r = s.do(t, "PUT", "/c/c", upQuery(false, up.StreamID), []byte("AAA")); r.status != http.StatusAccepted {
		t.Fatalf("PUT 1 status = %d", r.status)
	}
	if r = s.do(t, "PUT", "/c/c", upQuery(true, up.StreamID), []byte("BB")); r.status != http.StatusAccepted {
		t.Fatalf("PUT 2 status = %d", r.status)
	}

	// Blocks coalesce into one response when they fit the soft limit.
	r = s.do(t, "GET", "/c/c", downQuery(true, ""), nil)
	if r.status != http.StatusOK {
		t.Fatalf("GET status = %d", r.status)
	}
	if string(r.body) != "AAABB" {
		t.Errorf("GET body = %q, want AAABB", r.body)
	}
	hdr, _ := protocol.DownloadHeadersFrom(r.header)
	if !hdr.Final {
		t.Error("fully uploaded stream should read final")
	}
}

func TestOrderingAcrossReads(t *testing.T) {
	s := newTestServer(t)
	r := s.do(t, "POST", "/c/c", upQuery(false, ""), []byte("one."))
	up, _ := protocol.UploadHeadersFrom(r.header)

	// First read takes the queued block while the upload is still open.
	r = s.do(t, "GET", "/c/c", downQuery(true, ""), nil)
	if r.status != http.StatusOK || string(r.body) != "one." {
		t.Fatalf("GET 1: %d %q", r.status, r.body)
	}
	hdr, _ := protocol.DownloadHeadersFrom(r.header)
	if hdr.Final {
		t.Fatal("read of an open stream must not be final")
	}

	s.do(t, "PUT", "/c/c", upQuery(true, up.StreamID), []byte("two."))
	r = s.do(t, "GET", "/c/c", downQuery(true, hdr.StreamID), nil)
	if string(r.body) != "two." {
		t.Errorf("GET 2 body = %q", r.body)
	}
	if hdr, _ = protocol.DownloadHeadersFrom(r.header); !hdr.Final {
		t.Error("last block should be final")
	}
}

func TestReadWaitWhenEmpty(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/c/c", upQuery(false, ""), nil)
	r := s.do(t, "GET", "/c/c", downQuery(true, ""), nil)
	if r.status != protocol.DownloadWait {
		t.Errorf("GET on empty open stream = %d, want 425", r.status)
	}
}

func TestPeek(t *testing.T) {
	s := newTestServer(t)
	// Incomplete upload within the soft size: peek cannot serve it.
	s.do(t, "POST", "/c/c", upQuery(false, ""), []byte("partial"))
	r := s.do(t, "GET", "/c/c", downQuery(false, ""), nil)
	if r.status != protocol.DownloadCannotPeek {
		t.Fatalf("peek of incomplete stream = %d, want 452", r.status)
	}

	// Complete upload: peek returns everything without consuming.
	s.do(t, "POST", "/c/p", upQuery(true, ""), []byte("data"))
	r = s.do(t, "GET", "/c/p", downQuery(false, ""), nil)
	if r.status != http.StatusOK || string(r.body) != "data" {
		t.Fatalf("peek: %d %q", r.status, r.body)
	}
	hdr, _ := protocol.DownloadHeadersFrom(r.header)
	if !hdr.Final {
		t.Error("peek is always final")
	}
	// Still consumable afterwards.
	r = s.do(t, "GET", "/c/p", downQuery(true, ""), nil)
	if r.status != http.StatusOK || string(r.body) != "data" {
		t.Errorf("read after peek: %d %q", r.status, r.body)
	}
}

func TestSecondConsumer(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/c/c", upQuery(false, ""), []byte("x"))
	r := s.do(t, "GET", "/c/c", downQuery(true, ""), nil)
	if r.status != http.StatusOK {
		t.Fatal("first read should succeed")
	}
	// A second connector without the stream ID is rejected.
	r = s.do(t, "GET", "/c/c", downQuery(true, ""), nil)
	if r.status != protocol.DownloadInUse {
		t.Errorf("second consumer = %d, want 453", r.status)
	}
	// And a peek of a claimed stream likewise.
	r = s.do(t, "GET", "/c/c", downQuery(false, ""), nil)
	if r.status != protocol.DownloadInUse {
		t.Errorf("peek of claimed stream = %d, want 453", r.status)
	}
}

func TestStreamIDMismatch(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/c/c", upQuery(false, ""), []byte("x"))
	r := s.do(t, "GET", "/c/c", downQuery(true, "wrongwrongwrongwrongwrongwrong12"), nil)
	if r.status != protocol.DownloadConflict {
		t.Errorf("mismatched stream ID = %d, want 409", r.status)
	}
	r = s.do(t, "PUT", "/c/c", upQuery(false, "wrongwrongwrongwrongwrongwrong12"), []byte("y"))
	if r.status != protocol.UploadConflict {
		t.Errorf("mismatched PUT stream ID = %d, want 409", r.status)
	}
}

func TestPutAfterFinal(t *testing.T) {
	s := newTestServer(t)
	r := s.do(t, "POST", "/c/c", upQuery(true, ""), []byte("x"))
	up, _ := protocol.UploadHeadersFrom(r.header)
	r = s.do(t, "PUT", "/c/c", upQuery(false, up.StreamID), []byte("y"))
	if r.status != protocol.UploadForbidden {
		t.Errorf("PUT after final = %d, want 406", r.status)
	}
}

func TestStreamIDParams(t *testing.T) {
	s := newTestServer(t)
	r := s.do(t, "POST", "/c/c", upQuery(false, "shouldnothaveone0000000000000000"), nil)
	if r.status != protocol.UploadStreamID {
		t.Errorf("POST with stream ID = %d, want 422", r.status)
	}
	r = s.do(t, "PUT", "/c/c", upQuery(false, ""), []byte("x"))
	if r.status != protocol.UploadStreamID {
		t.Errorf("PUT without stream ID = %d, want 422", r.status)
	}
}

func TestVersionGuards(t *testing.T) {
	s := newTestServer(t)
	old := protocol.UploadParams{Version: protocol.ParseVersion("1.0.0")}.Values()
	if r := s.do(t, "POST", "/c/c", old, nil); r.status != protocol.UploadIllegalVersion {
		t.Errorf("old version POST = %d, want 426", r.status)
	}
	bad := protocol.UploadParams{Version: protocol.ParseVersion("nope")}.Values()
	if r := s.do(t, "POST", "/c/c", bad, nil); r.status != protocol.UploadIllegalVersion {
		t.Errorf("invalid version POST = %d, want 426", r.status)
	}
}

func TestVersionMismatch(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/c/c", upQuery(true, ""), []byte("x"))
	if err := s.state.With(func(u *UnlockedState) error {
		u.Streams["c"].Version = protocol.ParseVersion("7.0.0")
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	r := s.do(t, "GET", "/c/c", downQuery(true, ""), nil)
	if r.status != protocol.DownloadWrongVersion {
		t.Fatalf("mismatched version read = %d, want 412", r.status)
	}
	q := downQuery(true, "")
	q.Set("override", "True")
	r = s.do(t, "GET", "/c/c", q, nil)
	if r.status != http.StatusOK {
		t.Errorf("override read = %d, want 200", r.status)
	}
}

func TestWebClient(t *testing.T) {
	s := newTestServer(t)
	// Web clients read everything at once and bypass version equality.
	s.do(t, "POST", "/c/c", upQuery(true, ""), []byte("hi"))
	web := protocol.DownloadParams{Version: protocol.WebVersion, Delete: true}.Values()
	r := s.do(t, "GET", "/c/c", web, nil)
	if r.status != http.StatusOK || string(r.body) != "hi" {
		t.Fatalf("web read: %d %q", r.status, r.body)
	}
	if got := s.channelCount(t); got != 0 {
		t.Error("web read should consume the channel")
	}

	// Encrypted streams are not readable by the web client.
	q := upQuery(true, "")
	q.Set("encrypted", "True")
	s.do(t, "POST", "/c/e", q, []byte("cipher"))
	r = s.do(t, "GET", "/c/e", web, nil)
	if r.status != 422 {
		t.Errorf("web read of encrypted stream = %d, want 422", r.status)
	}
}

func TestCapacityBackpressure(t *testing.T) {
	s := newTestServer(t)
	r := s.do(t, "POST", "/c/c", upQuery(false, ""), []byte("12345"))
	up, _ := protocol.UploadHeadersFrom(r.header)
	if err := s.state.With(func(u *UnlockedState) error {
		u.Streams["c"].Capacity = 8
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	r = s.do(t, "PUT", "/c/c", upQuery(false, up.StreamID), []byte("6789"))
	if r.status != protocol.UploadWait {
		t.Errorf("PUT over capacity = %d, want 425", r.status)
	}
	// An empty flag-only PUT is still allowed.
	r = s.do(t, "PUT", "/c/c", upQuery(false, up.StreamID), nil)
	if r.status != http.StatusAccepted {
		t.Errorf("empty PUT at capacity = %d, want 202", r.status)
	}
}

func TestDelete(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/c/c", upQuery(true, ""), []byte("x"))
	if r := s.do(t, "DELETE", "/c/c", nil, nil); r.status != http.StatusAccepted {
		t.Errorf("DELETE = %d, want 202", r.status)
	}
	if r := s.do(t, "DELETE", "/c/c", nil, nil); r.status != http.StatusNoContent {
		t.Errorf("DELETE of absent channel = %d, want 204", r.status)
	}
}

func TestLockedChannel(t *testing.T) {
	s := newTestServer(t)
	r := s.do(t, "POST", "/c/c", upQuery(false, ""), []byte("x"))
	up, _ := protocol.UploadHeadersFrom(r.header)
	if err := s.state.With(func(u *UnlockedState) error {
		u.Streams["c"].Locked = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if r := s.do(t, "DELETE", "/c/c", nil, nil); r.status != protocol.DeleteLocked {
		t.Errorf("DELETE of locked channel = %d, want 423", r.status)
	}
	if r := s.do(t, "PUT", "/c/c", upQuery(false, up.StreamID), []byte("y")); r.status != protocol.UploadLocked {
		t.Errorf("PUT to locked channel = %d, want 423", r.status)
	}
	if r := s.do(t, "POST", "/c/c", upQuery(false, ""), nil); r.status != protocol.UploadLocked {
		t.Errorf("POST over locked channel = %d, want 423", r.status)
	}
	// Unlock, then deletion goes through.
	if err := s.state.With(func(u *UnlockedState) error {
		u.Streams["c"].Locked = false
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if r := s.do(t, "DELETE", "/c/c", nil, nil); r.status != http.StatusAccepted {
		t.Errorf("DELETE after unlock = %d, want 202", r.status)
	}
}

func TestQueryEndpoint(t *testing.T) {
	s := newTestServer(t)
	if r := s.do(t, "GET", "/q/c", nil, nil); r.status != protocol.QueryNoData {
		t.Fatalf("query of empty channel = %d, want 410", r.status)
	}
	s.do(t, "POST", "/c/c", upQuery(false, ""), []byte("abc"))
	r := s.do(t, "GET", "/q/c", nil, nil)
	if r.status != http.StatusOK {
		t.Fatalf("query = %d", r.status)
	}
	var q protocol.QueryResponse
	if err := json.Unmarshal(r.body, &q); err != nil {
		t.Fatal(err)
	}
	if q.UploadComplete {
		t.Error("upload_complete should be false while the writer still streams")
	}
	if !q.New || q.Size != 3 || q.Encrypted {
		t.Errorf("query response: %+v", q)
	}
	if q.Version != protocol.VersionString {
		t.Errorf("query version = %q", q.Version)
	}
}

func TestInfoEndpoints(t *testing.T) {
	s := newTestServer(t)
	if r := s.do(t, "GET", "/version", nil, nil); string(r.body) != protocol.VersionString {
		t.Errorf("/version body = %q", r.body)
	}
	r := s.do(t, "GET", "/supported", nil, nil)
	var sup protocol.Supported
	if err := json.Unmarshal(r.body, &sup); err != nil {
		t.Fatal(err)
	}
	if sup.Min != MinVersion.String() || sup.Banned == nil {
		t.Errorf("/supported = %+v", sup)
	}
	for _, path := range []string{"/", "/help"} {
		if r := s.do(t, "GET", path, nil, nil); r.status != http.StatusOK ||
			!strings.Contains(string(r.body), "rpipe") {
			t.Errorf("%s: %d", path, r.status)
		}
	}
	if r := s.do(t, "GET", "/no/such/route", nil, nil); r.status != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", r.status)
	}
	if r := s.do(t, "GET", "/favicon.ico", nil, nil); r.status != http.StatusNotFound {
		t.Errorf("favicon without a file = %d, want 404", r.status)
	}
}

func TestImmutableIdentity(t *testing.T) {
	s := newTestServer(t)
	r := s.do(t, "POST", "/c/c", upQuery(false, ""), []byte("x"))
	up, _ := protocol.UploadHeadersFrom(r.header)
	s.do(t, "PUT", "/c/c", upQuery(false, up.StreamID), []byte("y"))
	if err := s.state.With(func(u *UnlockedState) error {
		s2 := u.Streams["c"]
		if s2.ID != up.StreamID {
			t.Errorf("stream ID changed: %s != %s", s2.ID, up.StreamID)
		}
		if !s2.Version.Equal(protocol.Current) || s2.Encrypted {
			t.Errorf("stream identity mutated: %+v", s2)
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}
