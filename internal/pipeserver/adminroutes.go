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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"rpipe/internal/pipeserver/blocked"
	"rpipe/internal/protocol"
)

// adminRoute is one signed admin operation. The body is the verified message
// body; the envelope has already been checked by the verifier.
type adminRoute func(a *App, body string, w http.ResponseWriter)

// adminRoutes is the explicit dispatch table of signed admin operations.
var adminRoutes = map[string]adminRoute{
	"debug":     adminDebug,
	"channels":  adminChannels,
	"stats":     adminStats,
	"log":       adminLog,
	"log-level": adminLogLevel,
	"lock":      adminLock,
	"ip":        adminIP,
	"route":     adminRouteLists,
}

// adminHandler wraps one admin operation in envelope verification. Every
// attempt, verified or not, is appended to the admin call log.
func (a *App) adminHandler(name string, route adminRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			httpError(w, err)
			return
		}
		res := a.verifier.Verify(name, remoteAddr(r), body)
		err = a.state.With(func(u *UnlockedState) error {
			u.Stats.Admin = append(u.Stats.Admin, res.Stat)
			return nil
		})
		if err != nil {
			httpError(w, err)
			return
		}
		if res.Status != 0 {
			w.WriteHeader(res.Status)
			return
		}
		a.log.WithField("command", name).Info("executing admin command")
		route(a, res.Body, w)
	}
}

func adminDebug(a *App, _ string, w http.ResponseWriter) {
	debug := false
	if err := a.state.With(func(u *UnlockedState) error {
		debug = u.Debug()
		return nil
	}); err != nil {
		httpError(w, err)
		return
	}
	if debug {
		plaintext(w, http.StatusOK, "True")
		return
	}
	plaintext(w, http.StatusOK, "False")
}

func adminChannels(a *App, _ string, w http.ResponseWriter) {
	out := map[string]protocol.ChannelInfo{}
	if err := a.state.With(func(u *UnlockedState) error {
		for name, s := range u.Streams {
			out[name] = protocol.ChannelInfo{
				Version:   s.Version.String(),
				Packets:   len(s.Data),
				Size:      s.Len(),
				Encrypted: s.Encrypted,
				Expire:    s.Expire(),
			}
		}
		return nil
	}); err != nil {
		httpError(w, err)
		return
	}
	jsonResponse(w, out)
}

func adminStats(a *App, _ string, w http.ResponseWriter) {
	var snapshot []byte
	if err := a.state.With(func(u *UnlockedState) error {
		var err error
		snapshot, err = json.Marshal(u.Stats)
		return err
	}); err != nil {
		httpError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(snapshot)
}

// adminLog sends the server log file, zstd-compressed.
func adminLog(a *App, _ string, w http.ResponseWriter) {
	if a.logFile == "" {
		plaintext(w, http.StatusInternalServerError, "Missing log file")
		return
	}
	raw, err := os.ReadFile(a.logFile)
	if err != nil {
		httpError(w, err)
		return
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		httpError(w, err)
		return
	}
	data := enc.EncodeAll([]byte(strings.TrimSpace(string(raw))), nil)
	enc.Close()
	a.log.WithField("bytes", len(data)).Debug("sending compressed log")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// adminLogLevel queries or sets the log level; the response is the old level
// and the new one, newline-separated.
func adminLogLevel(a *App, body string, w http.ResponseWriter) {
	old := logrus.GetLevel().String()
	if body == "" {
		plaintext(w, http.StatusOK, old+"\n"+old)
		return
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(body))
	if err != nil {
		plaintext(w, protocol.AdminInvalid, fmt.Sprintf("Invalid log level: %s", body))
		return
	}
	logrus.SetLevel(lvl)
	a.log.WithField("level", lvl).Info("log level changed")
	plaintext(w, http.StatusOK, old+"\n"+lvl.String())
}

// lockRequest is the body of an /admin/lock call.
type lockRequest struct {
	Channel string `json:"channel"`
	Lock    bool   `json:"lock"`
}

func adminLock(a *App, body string, w http.ResponseWriter) {
	var req lockRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil || req.Channel == "" {
		plaintext(w, protocol.AdminInvalid, "Bad lock request body")
		return
	}
	found := false
	if err := a.state.With(func(u *UnlockedState) error {
		if s, ok := u.Streams[req.Channel]; ok {
			s.Locked = req.Lock
			found = true
		}
		return nil
	}); err != nil {
		httpError(w, err)
		return
	}
	if !found {
		plaintext(w, protocol.AdminInvalid, fmt.Sprintf("No such channel: %s", req.Channel))
		return
	}
	verb := "unlocked"
	if req.Lock {
		verb = "locked"
	}
	a.log.WithFields(logrus.Fields{"channel": req.Channel, "locked": req.Lock}).Warn("channel lock changed")
	plaintext(w, http.StatusOK, fmt.Sprintf("Channel %s %s", req.Channel, verb))
}

// listRequest is the body of /admin/ip and /admin/route calls. Empty add and
// remove lists make the call a query.
type listRequest struct {
	List   string   `json:"list"`
	Add    []string `json:"add"`
	Remove []string `json:"remove"`
}

func (r listRequest) valid() bool {
	return r.List == "whitelist" || r.List == "blacklist"
}

func editList(current []string, req listRequest) []string {
	out := make([]string, 0, len(current)+len(req.Add))
	removed := map[string]struct{}{}
	for _, v := range req.Remove {
		removed[v] = struct{}{}
	}
	seen := map[string]struct{}{}
	for _, v := range append(append([]string{}, current...), req.Add...) {
		if _, drop := removed[v]; drop {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func adminIP(a *App, body string, w http.ResponseWriter) {
	var req listRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil || !req.valid() {
		plaintext(w, protocol.AdminInvalid, "Bad ip request body")
		return
	}
	data := a.blocked.Mutate(func(d *blocked.Data) {
		if req.List == "whitelist" {
			d.IPWhitelist = editList(d.IPWhitelist, req)
		} else {
			d.IPBlacklist = editList(d.IPBlacklist, req)
		}
	})
	jsonResponse(w, map[string][]string{
		"ip_whitelist": data.IPWhitelist,
		"ip_blacklist": data.IPBlacklist,
	})
}

func adminRouteLists(a *App, body string, w http.ResponseWriter) {
	var req listRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil || !req.valid() {
		plaintext(w, protocol.AdminInvalid, "Bad route request body")
		return
	}
	data := a.blocked.Mutate(func(d *blocked.Data) {
		if req.List == "whitelist" {
			d.RouteWhitelist = editList(d.RouteWhitelist, req)
		} else {
			d.RouteBlacklist = editList(d.RouteBlacklist, req)
		}
	})
	jsonResponse(w, map[string][]string{
		"route_whitelist": data.RouteWhitelist,
		"route_blacklist": data.RouteBlacklist,
	})
}
