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
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"rpipe/internal/protocol"
)

func TestPrune(t *testing.T) {
	clock := clockwork.NewFakeClock()
	state := NewState(clock)
	now := clock.Now()
	if err := state.With(func(u *UnlockedState) error {
		expired := newStream(protocol.Current, false, true, 1, []byte("x"), now)
		locked := newStream(protocol.Current, false, true, 1, []byte("y"), now)
		locked.Locked = true
		fresh := newStream(protocol.Current, false, true, 3600, []byte("z"), now)
		u.Streams["expired"] = expired
		u.Streams["locked"] = locked
		u.Streams["fresh"] = fresh
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(10 * time.Second)
	p := NewPruner(state)
	if err := p.prune(); err != nil {
		t.Fatal(err)
	}
	if err := state.With(func(u *UnlockedState) error {
		if _, ok := u.Streams["expired"]; ok {
			t.Error("expired stream should be pruned")
		}
		if _, ok := u.Streams["locked"]; !ok {
			t.Error("locked stream must survive the prune task")
		}
		if _, ok := u.Streams["fresh"]; !ok {
			t.Error("fresh stream should survive")
		}
		return nil
	}); err != nil {
		t.Fatal(err)
	}
}

func TestPruneStopsOnShutdown(t *testing.T) {
	state := NewState(clockwork.NewFakeClock())
	if err := state.Shutdown(""); err != nil {
		t.Fatal(err)
	}
	p := NewPruner(state)
	if err := p.prune(); !errors.Is(err, ErrServerShutdown) {
		t.Errorf("prune after shutdown = %v, want ErrServerShutdown", err)
	}
}
