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

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"rpipe/internal/protocol"
)

// handleWrite serves POST (open a stream) and PUT (continue a stream) on
// /c/{channel}.
func (a *App) handleWrite(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	params := protocol.UploadParamsFromQuery(r.URL.Query())
	log := a.log.WithFields(logrus.Fields{"handler": "write", "channel": channel})
	if !versionGuard(params.Version) {
		plaintext(w, protocol.UploadIllegalVersion, fmt.Sprintf("Bad version. Requires >= %s", MinVersion))
		return
	}
	body, err := readBody(r)
	if err != nil {
		httpError(w, err)
		return
	}
	if len(body) > MaxSizeHard {
		plaintext(w, protocol.UploadTooBig, fmt.Sprintf("Too much data sent. Max data size: %d", MaxSizeSoft))
		return
	}
	if r.Method == http.MethodPost {
		a.post(w, r, channel, params, body, log)
		return
	}
	a.put(w, r, channel, params, body, log)
}

// post opens a new stream, write-over replacing any existing one atomically.
func (a *App) post(w http.ResponseWriter, r *http.Request, channel string, params protocol.UploadParams, body []byte, log *logrus.Entry) {
	if params.StreamID != "" {
		plaintext(w, protocol.UploadStreamID, "POST request should not have a stream-id")
		return
	}
	now := a.state.Clock().Now()
	var hdr protocol.UploadHeaders
	locked := false
	err := a.state.With(func(u *UnlockedState) error {
		if s, ok := u.Streams[channel]; ok && s.Locked {
			locked = true
			return nil
		}
		s := newStream(params.Version, params.Encrypted, params.Final, params.TTL, body, now)
		u.Streams[channel] = s
		u.Stats.Write(channel, remoteAddr(r), now)
		hdr = protocol.UploadHeaders{StreamID: s.ID, MaxSize: MaxSizeSoft}
		return nil
	})
	if err != nil {
		httpError(w, err)
		return
	}
	if locked {
		plaintext(w, protocol.UploadLocked, "Channel is locked and cannot be replaced")
		return
	}
	log.WithField("bytes", len(body)).Info("stream opened")
	hdr.Apply(w.Header())
	w.WriteHeader(http.StatusCreated)
}

// put appends to an open stream. Check order is fixed: conflict, finalized,
// locked, version, capacity.
func (a *App) put(w http.ResponseWriter, r *http.Request, channel string, params protocol.UploadParams, body []byte, log *logrus.Entry) {
	if params.StreamID == "" {
		plaintext(w, protocol.UploadStreamID, "PUT request missing stream-id")
		return
	}
	now := a.state.Clock().Now()
	var hdr protocol.UploadHeaders
	status := 0
	msg := ""
	err := a.state.With(func(u *UnlockedState) error {
		s, ok := u.Streams[channel]
		switch {
		case !ok || s.ID != params.StreamID:
			status, msg = protocol.UploadConflict, "Stream ID mismatch"
		case s.UploadComplete:
			status, msg = protocol.UploadForbidden, "Cannot write to a completed stream"
		case s.Locked:
			status, msg = protocol.UploadLocked, "Channel is locked and cannot be edited"
		case !params.Version.Equal(s.Version) && !params.Override:
			status, msg = protocol.UploadWrongVersion, fmt.Sprintf("Override = False. Version should be: %s", s.Version)
		case len(body) > 0 && s.Len()+len(body) > s.Capacity:
			status, msg = protocol.UploadWait, "Pipe full; wait for the downloader to download more"
		default:
			s.UploadComplete = params.Final
			if len(body) > 0 {
				s.Data = append(s.Data, body)
				logPipeSize(log, s)
			}
			if params.TTL > 0 {
				s.TTL = params.TTL
			}
			s.Touch(now)
			u.Stats.Write(channel, remoteAddr(r), now)
			hdr = protocol.UploadHeaders{StreamID: s.ID, MaxSize: MaxSizeSoft}
		}
		return nil
	})
	if err != nil {
		httpError(w, err)
		return
	}
	if status != 0 {
		plaintext(w, status, msg)
		return
	}
	hdr.Apply(w.Header())
	w.WriteHeader(http.StatusAccepted)
}

func logPipeSize(log *logrus.Entry, s *Stream) {
	if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		n := s.Len()
		log.Debugf("pipe now contains %s/%s bytes, %.2f%% full",
			units.BytesSize(float64(n)), units.BytesSize(float64(s.Capacity)), 100*float64(n)/float64(s.Capacity))
	}
}
