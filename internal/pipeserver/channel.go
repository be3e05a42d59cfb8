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
	"fmt"
	"net/http"

	"rpipe/internal/protocol"
)

// handleDelete serves DELETE /c/{channel}. Removal is idempotent: 202 when a
// channel was removed, 204 when it was already absent, 423 when locked.
func (a *App) handleDelete(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	now := a.state.Clock().Now()
	addr := remoteAddr(r)
	locked := false
	removed := false
	err := a.state.With(func(u *UnlockedState) error {
		s, ok := u.Streams[channel]
		if !ok {
			return nil
		}
		if s.Locked {
			locked = true
			return nil
		}
		delete(u.Streams, channel)
		u.Stats.Delete(channel, addr, now)
		removed = true
		return nil
	})
	if err != nil {
		httpError(w, err)
		return
	}
	switch {
	case locked:
		plaintext(w, protocol.DeleteLocked, "Channel is locked and cannot be deleted")
	case removed:
		a.log.WithField("channel", channel).Info("channel deleted")
		plaintext(w, http.StatusAccepted, "Cleared")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleQuery serves GET /q/{channel}: a JSON description of the channel
// without consuming it.
func (a *App) handleQuery(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	version := protocol.WebVersion
	if r.URL.Query().Has("version") {
		version = protocol.ParseVersion(r.URL.Query().Get("version"))
	}
	if !versionGuard(version) {
		plaintext(w, protocol.QueryIllegalVersion, fmt.Sprintf("Bad version. Requires >= %s", MinVersion))
		return
	}
	var resp *protocol.QueryResponse
	err := a.state.With(func(u *UnlockedState) error {
		s, ok := u.Streams[channel]
		if !ok {
			return nil
		}
		resp = &protocol.QueryResponse{
			New:            s.New,
			UploadComplete: s.UploadComplete,
			Size:           s.Len(),
			Encrypted:      s.Encrypted,
			Version:        s.Version.String(),
			Expiration:     s.Expire(),
		}
		return nil
	})
	if err != nil {
		httpError(w, err)
		return
	}
	if resp == nil {
		plaintext(w, protocol.QueryNoData, "This channel is currently empty")
		return
	}
	jsonResponse(w, resp)
}
