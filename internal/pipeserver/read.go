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

	"github.com/sirupsen/logrus"

	"rpipe/internal/protocol"
)

type readError struct {
	status int
	msg    string
}

// checkAllAtOnce vets peek and web-client reads, which must deliver the whole
// pipe in one response.
func checkAllAtOnce(s *Stream, params protocol.DownloadParams) *readError {
	if params.Delete && !params.Version.Equal(protocol.WebVersion) {
		return nil
	}
	mode := "peek"
	if params.Delete {
		mode = "web client"
	}
	if params.StreamID != "" {
		return &readError{protocol.DownloadForbidden, fmt.Sprintf("Stream ID not allowed when using %s", mode)}
	}
	if !s.New {
		return &readError{protocol.DownloadInUse, "Another client has already connected to this pipe"}
	}
	if !s.UploadComplete {
		if s.Full() {
			return &readError{protocol.DownloadWait, fmt.Sprintf("Must wait until uploader completes upload when using %s", mode)}
		}
		return &readError{protocol.DownloadCannotPeek,
			fmt.Sprintf("Too much data to read all at once when using %s; data can only be read all at once", mode)}
	}
	return nil
}

// checkRead returns the error response for a GET against s, or nil when the
// data should be returned.
func checkRead(s *Stream, params protocol.DownloadParams) *readError {
	if s == nil {
		return &readError{protocol.DownloadNoData, "This channel is currently empty"}
	}
	if err := checkAllAtOnce(s, params); err != nil {
		return err
	}
	if params.Delete && !params.Version.Equal(protocol.WebVersion) {
		if params.StreamID == "" && !s.New {
			return &readError{protocol.DownloadInUse, "Another client has already connected to this pipe"}
		}
		if params.StreamID != "" && params.StreamID != s.ID {
			return &readError{protocol.DownloadConflict, "Stream ID mismatch"}
		}
	}
	if params.Version.Equal(protocol.WebVersion) && s.Encrypted {
		return &readError{422, "Web version cannot read encrypted data. Use the rpipe client instead"}
	}
	if !params.Version.Equal(protocol.WebVersion) && !params.Version.Equal(s.Version) && !params.Override {
		return &readError{protocol.DownloadWrongVersion, fmt.Sprintf("Override = False. Version should be: %s", s.Version)}
	}
	if !s.UploadComplete && len(s.Data) == 0 {
		return &readError{protocol.DownloadWait, "No data available; wait for the uploader to send more"}
	}
	return nil
}

// popCoalesced pops the head block, then greedily merges following head
// blocks while the total stays within the soft size limit.
func popCoalesced(s *Stream) []byte {
	if len(s.Data) == 0 {
		return nil
	}
	head := s.Data[0]
	s.Data = s.Data[1:]
	if len(s.Data) == 0 || len(head)+len(s.Data[0]) > MaxSizeSoft {
		return head
	}
	out := append([]byte{}, head...)
	for len(s.Data) > 0 && len(out)+len(s.Data[0]) <= MaxSizeSoft {
		out = append(out, s.Data[0]...)
		s.Data = s.Data[1:]
	}
	return out
}

// handleRead serves GET /c/{channel}: a consuming read, a peek, or a
// web-client read, per the delete parameter and version sentinel.
func (a *App) handleRead(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	params := protocol.DownloadParamsFromQuery(r.URL.Query())
	log := a.log.WithFields(logrus.Fields{"handler": "read", "channel": channel})
	if !versionGuard(params.Version) {
		plaintext(w, protocol.DownloadIllegalVersion, fmt.Sprintf("Bad version. Requires >= %s", MinVersion))
		return
	}
	now := a.state.Clock().Now()
	addr := remoteAddr(r)
	var (
		rerr *readError
		data []byte
		hdr  protocol.DownloadHeaders
	)
	err := a.state.With(func(u *UnlockedState) error {
		s := u.Streams[channel]
		if rerr = checkRead(s, params); rerr != nil {
			return nil
		}
		final := false
		switch {
		case !params.Delete:
			// Peek: all at once, no mutation.
			data = concat(s.Data)
			final = true
			u.Stats.Peek(channel, addr, now)
		case params.Version.Equal(protocol.WebVersion):
			// Web client: all at once, consume the channel.
			data = concat(s.Data)
			final = true
			delete(u.Streams, channel)
			u.Stats.Read(channel, addr, now)
		default:
			data = popCoalesced(s)
			final = s.UploadComplete && len(s.Data) == 0
			if s.New {
				s.New = false
				u.Stats.Read(channel, addr, now)
			}
			s.Touch(now)
			if final {
				delete(u.Streams, channel)
			}
		}
		hdr = protocol.DownloadHeaders{StreamID: s.ID, Final: final, Encrypted: s.Encrypted}
		return nil
	})
	if err != nil {
		httpError(w, err)
		return
	}
	if rerr != nil {
		plaintext(w, rerr.status, rerr.msg)
		return
	}
	log.WithFields(logrus.Fields{"bytes": len(data), "final": hdr.Final}).Info("read served")
	hdr.Apply(w.Header())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

func concat(blocks [][]byte) []byte {
	n := 0
	for _, b := range blocks {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out
}
