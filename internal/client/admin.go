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
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"rpipe/internal/protocol"
)

// Admin asks the server to run signed admin commands. Every request carries a
// fresh single-use UID from /admin/uid and an SSH signature over the message
// JSON.
type Admin struct {
	cfg    Config
	signer ssh.Signer
	h      *httpClient
	log    *logrus.Entry
}

// NewAdmin loads the configured SSH private key for signing.
func NewAdmin(cfg Config) (*Admin, error) {
	if cfg.URL == "" || cfg.KeyFile == "" {
		return nil, UsageError{Msg: "admin mode requires a URL and key file to be set or provided via the CLI"}
	}
	raw, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, UsageError{Msg: fmt.Sprintf("key file %s does not exist", cfg.KeyFile)}
	}
	signer, err := ssh.ParsePrivateKey(raw)
	if err != nil {
		return nil, UsageError{Msg: fmt.Sprintf("key file %s is not a supported ssh key", cfg.KeyFile)}
	}
	if strings.HasSuffix(cfg.KeyFile, ".pub") {
		logrus.WithField("file", cfg.KeyFile).Warn("signing key should be a private key")
	}
	return &Admin{
		cfg:    cfg,
		signer: signer,
		h:      newHTTPClient(cfg),
		log:    logrus.WithField("component", "admin"),
	}, nil
}

// uids fetches fresh single-use UIDs from the server.
func (a *Admin) uids() ([]string, error) {
	r, err := a.h.do("GET", endpoint(a.cfg, "/admin/uid"), nil, nil)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, fmt.Errorf("failed to get admin UIDs: status %d", r.status)
	}
	var ids []string
	if err := json.Unmarshal(r.body, &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("server returned no admin UIDs")
	}
	return ids, nil
}

// request signs and posts one admin command.
func (a *Admin) request(path, body string) (response, error) {
	ids, err := a.uids()
	if err != nil {
		return response{}, err
	}
	msg := protocol.AdminMessage{Path: path, Body: body, UID: ids[0]}
	js, err := json.Marshal(msg)
	if err != nil {
		return response{}, err
	}
	a.log.WithField("path", path).Debug("signing request")
	sig, err := a.signer.Sign(rand.Reader, js)
	if err != nil {
		return response{}, err
	}
	envelope := protocol.EncodeAdminRequest(protocol.VersionString, ssh.Marshal(sig), js)
	r, err := a.h.do("POST", endpoint(a.cfg, path), nil, envelope)
	if err != nil {
		return response{}, err
	}
	switch r.status {
	case protocol.AdminUnauthorized:
		return r, ReportThisError{Msg: "admin access denied"}
	case protocol.AdminIllegalVersion:
		return r, VersionError{Msg: r.text()}
	}
	return r, nil
}

// guardPlaintext refuses to send signed requests over plain HTTP to a server
// in release mode.
func (a *Admin) guardPlaintext() error {
	if strings.HasPrefix(a.cfg.URL, "https://") || strings.Contains(a.cfg.URL, ":443/") {
		return nil
	}
	debug, err := a.Debug()
	if err != nil {
		return err
	}
	if !debug {
		return UsageError{Msg: "refusing to send admin request to a server in release mode over plaintext"}
	}
	return nil
}

// Debug reports whether the server runs in debug mode.
func (a *Admin) Debug() (bool, error) {
	r, err := a.request("/admin/debug", "")
	if err != nil {
		return false, err
	}
	if !r.ok() {
		return false, fmt.Errorf("failed to get debug information: status %d", r.status)
	}
	return r.text() == "True", nil
}

// Channels fetches the channel listing.
func (a *Admin) Channels() (map[string]protocol.ChannelInfo, error) {
	if err := a.guardPlaintext(); err != nil {
		return nil, err
	}
	r, err := a.request("/admin/channels", "")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, fmt.Errorf("channels failed with status %d", r.status)
	}
	out := map[string]protocol.ChannelInfo{}
	if err := json.Unmarshal(r.body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats fetches the raw stats JSON.
func (a *Admin) Stats() ([]byte, error) {
	if err := a.guardPlaintext(); err != nil {
		return nil, err
	}
	r, err := a.request("/admin/stats", "")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, fmt.Errorf("stats failed with status %d", r.status)
	}
	return r.body, nil
}

// Log fetches and decompresses the server log.
func (a *Admin) Log() ([]byte, error) {
	if err := a.guardPlaintext(); err != nil {
		return nil, err
	}
	r, err := a.request("/admin/log", "")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, fmt.Errorf("log failed with status %d: %s", r.status, r.text())
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(r.body, nil)
}

// LogLevel queries or sets the server log level; returns (old, new).
func (a *Admin) LogLevel(level string) (string, string, error) {
	if err := a.guardPlaintext(); err != nil {
		return "", "", err
	}
	r, err := a.request("/admin/log-level", level)
	if err != nil {
		return "", "", err
	}
	if !r.ok() {
		return "", "", fmt.Errorf("log-level failed with status %d: %s", r.status, r.text())
	}
	old, newLvl, _ := strings.Cut(r.text(), "\n")
	return old, newLvl, nil
}

// Lock sets or clears a channel's lock flag.
func (a *Admin) Lock(channel string, lock bool) (string, error) {
	if err := a.guardPlaintext(); err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]any{"channel": channel, "lock": lock})
	if err != nil {
		return "", err
	}
	r, err := a.request("/admin/lock", string(body))
	if err != nil {
		return "", err
	}
	if !r.ok() {
		return "", fmt.Errorf("lock failed with status %d: %s", r.status, r.text())
	}
	return r.text(), nil
}

// EditList edits or queries the blocklist's ip or route lists. kind is "ip"
// or "route"; list is "whitelist" or "blacklist".
func (a *Admin) EditList(kind, list string, add, remove []string) ([]byte, error) {
	if err := a.guardPlaintext(); err != nil {
		return nil, err
	}
	if kind != "ip" && kind != "route" {
		return nil, UsageError{Msg: "list kind must be ip or route"}
	}
	body, err := json.Marshal(map[string]any{"list": list, "add": add, "remove": remove})
	if err != nil {
		return nil, err
	}
	r, err := a.request("/admin/"+kind, string(body))
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, fmt.Errorf("%s failed with status %d: %s", kind, r.status, r.text())
	}
	return r.body, nil
}
