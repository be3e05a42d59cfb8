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

// Package pipeserver implements the rpipe relay: the locked state container of
// channel streams, the HTTP channel state machine, the prune task, and the
// signed admin control plane that shares its lifecycle.
package pipeserver

import (
	"errors"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"rpipe/internal/protocol"
)

// ErrServerShutdown is returned by State.With once the server has shut down.
var ErrServerShutdown = errors.New("server is shut down")

// UnlockedState holds the mutable server state. It is not safe for concurrent
// use; all access goes through State.With.
type UnlockedState struct {
	Streams map[string]*Stream
	Stats   *Stats

	shutdown bool
	debug    bool
}

// Debug reports whether debug mode is on.
func (u *UnlockedState) Debug() bool {
	return u.debug
}

// EnableDebug turns debug mode on. Once on, it cannot be cleared.
func (u *UnlockedState) EnableDebug() {
	u.debug = true
}

// State is the thread-safe wrapper around UnlockedState. Critical sections are
// short: queue append/pop and map lookups only; network I/O happens outside
// the lock.
type State struct {
	mu    sync.Mutex
	state UnlockedState
	clock clockwork.Clock
	log   *logrus.Entry
}

// NewState builds an empty State using the given clock.
func NewState(clock clockwork.Clock) *State {
	s := &State{
		clock: clock,
		log:   logrus.WithField("component", "state"),
	}
	s.state.Streams = map[string]*Stream{}
	s.state.Stats = newStats(clock.Now())
	return s
}

// Clock returns the server clock.
func (s *State) Clock() clockwork.Clock {
	return s.clock
}

// With runs fn with the state lock held. It fails with ErrServerShutdown when
// the server has already shut down, without running fn.
func (s *State) With(fn func(*UnlockedState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.shutdown {
		s.log.Error("lock acquired, but server is shut down")
		return ErrServerShutdown
	}
	err := fn(&s.state)
	channelsGauge.Set(float64(len(s.state.Streams)))
	return err
}

// Shutdown marks the server as shut down and, if file is non-empty, saves the
// state exactly once. Subsequent With calls fail with ErrServerShutdown.
func (s *State) Shutdown(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.shutdown {
		return nil
	}
	s.log.Warn("server shutdown initiated")
	s.state.shutdown = true
	if file == "" {
		return nil
	}
	return saveState(file, &s.state, s.log)
}

// Load reads a saved state file into an empty State. A missing file leaves the
// state empty; a version older than the minimum discards the file contents.
func (s *State) Load(file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.Streams) != 0 {
		s.log.Error("existing state detected; will not overwrite")
		return errors.New("do not load a state on top of an existing state")
	}
	streams, err := loadState(file, s.log)
	if err != nil {
		return err
	}
	if streams != nil {
		s.state.Streams = streams
	}
	s.state.Stats = newStats(s.clock.Now())
	for name := range s.state.Streams {
		s.state.Stats.channel(name)
	}
	return nil
}

// versionGuard reports whether a client version may use the channel endpoints:
// the web sentinel is always allowed, otherwise the version must be valid and
// at least MinVersion.
func versionGuard(v protocol.Version) bool {
	if v.Equal(protocol.WebVersion) {
		return true
	}
	return !v.Invalid() && !v.Less(MinVersion)
}
