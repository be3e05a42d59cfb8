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
	"math/rand/v2"
	"time"

	"rpipe/internal/protocol"
)

// Size limits. The soft limit is soft to allow overhead of encryption headers
// and such; the hard limit applies to packets sent to the server only.
const (
	MaxSizeSoft = 64 * 1000 * 1000
	MaxSizeHard = 2*MaxSizeSoft + 0x200

	// PipeMaxBytes is the per-stream capacity: writes wait once this many
	// bytes are queued.
	PipeMaxBytes = 1 << 30

	// DefaultTTL is the stream time-to-live in seconds when the writer does
	// not choose one.
	DefaultTTL = 300
)

// MinVersion is the oldest client version the channel endpoints accept.
var MinVersion = protocol.ParseVersion("6.3.0")

const streamIDLen = 32

const streamIDCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func newStreamID() string {
	b := make([]byte, streamIDLen)
	for i := range b {
		b[i] = streamIDCharset[rand.IntN(len(streamIDCharset))]
	}
	return string(b)
}

// Stream holds the data queued on one channel. ID, Version, and Encrypted
// never change after creation.
type Stream struct {
	ID        string
	Version   protocol.Version
	Encrypted bool

	Data           [][]byte
	UploadComplete bool
	New            bool
	Locked         bool

	TTL         int // seconds
	LastTouched time.Time
	Capacity    int
}

func newStream(version protocol.Version, encrypted, final bool, ttl int, body []byte, now time.Time) *Stream {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Stream{
		ID:             newStreamID(),
		Version:        version,
		Encrypted:      encrypted,
		UploadComplete: final,
		New:            true,
		TTL:            ttl,
		LastTouched:    now,
		Capacity:       PipeMaxBytes,
	}
	if len(body) > 0 {
		s.Data = [][]byte{body}
	}
	return s
}

// Len is the number of bytes queued in the pipe.
func (s *Stream) Len() int {
	n := 0
	for _, b := range s.Data {
		n += len(b)
	}
	return n
}

// Full reports whether the pipe has reached capacity.
func (s *Stream) Full() bool {
	return s.Len() >= s.Capacity
}

// Expire is derived from the last mutation time and the TTL.
func (s *Stream) Expire() time.Time {
	return s.LastTouched.Add(time.Duration(s.TTL) * time.Second)
}

// Expired reports whether the stream may be pruned. Locked streams never
// expire.
func (s *Stream) Expired(now time.Time) bool {
	return !s.Locked && now.After(s.Expire())
}

// Touch resets the expiry window after a mutation.
func (s *Stream) Touch(now time.Time) {
	s.LastTouched = now
}
