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
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ssh"

	"rpipe/internal/pipeserver/admin"
	"rpipe/internal/pipeserver/blocked"
	"rpipe/internal/protocol"
)

// adminTestServer is a testServer with one authorized ed25519 admin key.
type adminTestServer struct {
	*testServer
	signer ssh.Signer
}

func newAdminTestServer(t *testing.T) *adminTestServer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	keyFile := filepath.Join(t.TempDir(), "admin.pub")
	if err := os.WriteFile(keyFile, ssh.MarshalAuthorizedKey(sshPub), 0o600); err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	clock := clockwork.NewFakeClock()
	state := NewState(clock)
	bl, err := blocked.New("", clock)
	if err != nil {
		t.Fatal(err)
	}
	app := NewApp(state, bl, admin.NewVerifier([]string{keyFile}, clock), "", "")
	ts := httptest.NewServer(app.Handler())
	t.Cleanup(ts.Close)
	return &adminTestServer{
		testServer: &testServer{state: state, clock: clock, ts: ts},
		signer:     signer,
	}
}

// uid fetches one fresh admin UID.
func (s *adminTestServer) uid(t *testing.T) []string {
	t.Helper()
	r := s.do(t, "GET", "/admin/uid", nil, nil)
	if r.status != http.StatusOK {
		t.Fatalf("/admin/uid status = %d", r.status)
	}
	var ids []string
	if err := json.Unmarshal(r.body, &ids); err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("/admin/uid returned %d UIDs, want 2", len(ids))
	}
	return ids
}

// envelope signs one admin request body.
func (s *adminTestServer) envelope(t *testing.T, path, body, uid, version string) []byte {
	t.Helper()
	js, err := json.Marshal(protocol.AdminMessage{Path: path, Body: body, UID: uid})
	if err != nil {
		t.Fatal(err)
	}
	sig, err := s.signer.Sign(rand.Reader, js)
	if err != nil {
		t.Fatal(err)
	}
	return protocol.EncodeAdminRequest(version, ssh.Marshal(sig), js)
}

func TestAdminDebugFlow(t *testing.T) {
	s := newAdminTestServer(t)
	ids := s.uid(t)

	env := s.envelope(t, "/admin/debug", "", ids[0], protocol.VersionString)
	r := s.do(t, "POST", "/admin/debug", nil, env)
	if r.status != http.StatusOK {
		t.Fatalf("signed debug = %d, want 200", r.status)
	}
	if got := string(r.body); got != "False" && got != "True" {
		t.Errorf("debug body = %q", got)
	}

	// Replaying the same UID is rejected.
	env = s.envelope(t, "/admin/debug", "", ids[0], protocol.VersionString)
	if r := s.do(t, "POST", "/admin/debug", nil, env); r.status != protocol.AdminUnauthorized {
		t.Errorf("UID replay = %d, want 403", r.status)
	}
}

func TestAdminOldVersion(t *testing.T) {
	s := newAdminTestServer(t)
	ids := s.uid(t)
	env := s.envelope(t, "/admin/debug", "", ids[0], "1.0.0")
	if r := s.do(t, "POST", "/admin/debug", nil, env); r.status != protocol.AdminIllegalVersion {
		t.Errorf("old admin version = %d, want 426", r.status)
	}
}

func TestAdminBadSignature(t *testing.T) {
	s := newAdminTestServer(t)
	ids := s.uid(t)
	js, _ := json.Marshal(protocol.AdminMessage{Path: "/admin/debug", Body: "", UID: ids[0]})
	env := protocol.EncodeAdminRequest(protocol.VersionString, []byte("garbage signature"), js)
	if r := s.do(t, "POST", "/admin/debug", nil, env); r.status != protocol.AdminUnauthorized {
		t.Errorf("bad signature = %d, want 403", r.status)
	}
}

func TestAdminUnknownUID(t *testing.T) {
	s := newAdminTestServer(t)
	env := s.envelope(t, "/admin/debug", "", "deadbeef", protocol.VersionString)
	if r := s.do(t, "POST", "/admin/debug", nil, env); r.status != protocol.AdminUnauthorized {
		t.Errorf("unknown UID = %d, want 403", r.status)
	}
}

func TestAdminChannelsAndStats(t *testing.T) {
	s := newAdminTestServer(t)
	s.do(t, "POST", "/c/chan", upQuery(true, ""), []byte("abc"))

	env := s.envelope(t, "/admin/channels", "", s.uid(t)[0], protocol.VersionString)
	r := s.do(t, "POST", "/admin/channels", nil, env)
	if r.status != http.StatusOK {
		t.Fatalf("channels = %d", r.status)
	}
	var channels map[string]protocol.ChannelInfo
	if err := json.Unmarshal(r.body, &channels); err != nil {
		t.Fatal(err)
	}
	info, ok := channels["chan"]
	if !ok || info.Size != 3 || info.Packets != 1 {
		t.Errorf("channels listing: %+v", channels)
	}

	env = s.envelope(t, "/admin/stats", "", s.uid(t)[0], protocol.VersionString)
	r = s.do(t, "POST", "/admin/stats", nil, env)
	if r.status != http.StatusOK {
		t.Fatalf("stats = %d", r.status)
	}
	var stats struct {
		Channels map[string]json.RawMessage `json:"channels"`
		Admin    []protocol.AdminStats      `json:"admin"`
	}
	if err := json.Unmarshal(r.body, &stats); err != nil {
		t.Fatal(err)
	}
	if _, ok := stats.Channels["chan"]; !ok {
		t.Error("stats should track the channel")
	}
	// Every admin attempt is logged, including this one.
	if len(stats.Admin) < 2 {
		t.Errorf("admin call log has %d entries", len(stats.Admin))
	}
}

func TestAdminLock(t *testing.T) {
	s := newAdminTestServer(t)
	s.do(t, "POST", "/c/keep", upQuery(true, ""), []byte("x"))

	body, _ := json.Marshal(map[string]any{"channel": "keep", "lock": true})
	env := s.envelope(t, "/admin/lock", string(body), s.uid(t)[0], protocol.VersionString)
	if r := s.do(t, "POST", "/admin/lock", nil, env); r.status != http.StatusOK {
		t.Fatalf("lock = %d", r.status)
	}
	if r := s.do(t, "DELETE", "/c/keep", nil, nil); r.status != protocol.DeleteLocked {
		t.Errorf("DELETE of admin-locked channel = %d, want 423", r.status)
	}

	body, _ = json.Marshal(map[string]any{"channel": "keep", "lock": false})
	env = s.envelope(t, "/admin/lock", string(body), s.uid(t)[0], protocol.VersionString)
	if r := s.do(t, "POST", "/admin/lock", nil, env); r.status != http.StatusOK {
		t.Fatalf("unlock = %d", r.status)
	}
	if r := s.do(t, "DELETE", "/c/keep", nil, nil); r.status != http.StatusAccepted {
		t.Errorf("DELETE after unlock = %d, want 202", r.status)
	}

	// Locking a missing channel is invalid.
	body, _ = json.Marshal(map[string]any{"channel": "ghost", "lock": true})
	env = s.envelope(t, "/admin/lock", string(body), s.uid(t)[0], protocol.VersionString)
	if r := s.do(t, "POST", "/admin/lock", nil, env); r.status != protocol.AdminInvalid {
		t.Errorf("lock of missing channel = %d, want 400", r.status)
	}
}

func TestAdminLogMissingFile(t *testing.T) {
	s := newAdminTestServer(t)
	env := s.envelope(t, "/admin/log", "", s.uid(t)[0], protocol.VersionString)
	if r := s.do(t, "POST", "/admin/log", nil, env); r.status != http.StatusInternalServerError {
		t.Errorf("log without a log file = %d, want 500", r.status)
	}
}

func TestAdminLogLevel(t *testing.T) {
	s := newAdminTestServer(t)
	// Empty body queries without changing anything.
	env := s.envelope(t, "/admin/log-level", "", s.uid(t)[0], protocol.VersionString)
	r := s.do(t, "POST", "/admin/log-level", nil, env)
	if r.status != http.StatusOK {
		t.Fatalf("log-level query = %d", r.status)
	}
	if len(bytes.Split(r.body, []byte("\n"))) != 2 {
		t.Errorf("log-level body = %q, want old and new", r.body)
	}
	// Unknown levels are invalid.
	env = s.envelope(t, "/admin/log-level", "chatty", s.uid(t)[0], protocol.VersionString)
	if r := s.do(t, "POST", "/admin/log-level", nil, env); r.status != protocol.AdminInvalid {
		t.Errorf("bad log level = %d, want 400", r.status)
	}
}

func TestAdminIPLists(t *testing.T) {
	s := newAdminTestServer(t)
	body, _ := json.Marshal(map[string]any{"list": "blacklist", "add": []string{"10.0.0.9"}})
	env := s.envelope(t, "/admin/ip", string(body), s.uid(t)[0], protocol.VersionString)
	r := s.do(t, "POST", "/admin/ip", nil, env)
	if r.status != http.StatusOK {
		t.Fatalf("ip = %d", r.status)
	}
	var lists map[string][]string
	if err := json.Unmarshal(r.body, &lists); err != nil {
		t.Fatal(err)
	}
	if len(lists["ip_blacklist"]) != 1 || lists["ip_blacklist"][0] != "10.0.0.9" {
		t.Errorf("ip lists: %v", lists)
	}
}
