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

// Package admin verifies signed administrative requests: it issues single-use
// UIDs, checks request signatures against configured SSH public keys, and
// exposes the verified message body to the admin route handlers.
package admin

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	uidExpire = 300 * time.Second
	uidLen    = 32 // random bytes per UID, hex-encoded on the wire

	// UIDsPerQuery is how many UIDs /admin/uid hands out per request.
	UIDsPerQuery = 2
)

// UIDStore issues and verifies single-use, time-limited nonces. Each UID
// verifies at most once and never after five minutes.
type UIDStore struct {
	mu    sync.Mutex
	uids  map[string]time.Time
	clock clockwork.Clock
	log   *logrus.Entry
}

// NewUIDStore builds an empty store on the given clock.
func NewUIDStore(clock clockwork.Clock) *UIDStore {
	return &UIDStore{
		uids:  map[string]time.Time{},
		clock: clock,
		log:   logrus.WithField("component", "uid"),
	}
}

// New issues n fresh UIDs.
func (u *UIDStore) New(n int) []string {
	ret := make([]string, n)
	for i := range ret {
		raw := make([]byte, uidLen)
		if _, err := rand.Read(raw); err != nil {
			panic(err) // crypto/rand failure is not recoverable
		}
		ret[i] = hex.EncodeToString(raw)
	}
	u.mu.Lock()
	eol := u.clock.Now().Add(uidExpire)
	for _, id := range ret {
		u.uids[id] = eol
	}
	u.mu.Unlock()
	u.log.WithField("count", n).Debug("generated new UIDs")
	return ret
}

// Verify consumes uid. It returns true only for a known, unexpired UID;
// either way the UID is removed.
func (u *UIDStore) Verify(uid string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	eol, ok := u.uids[uid]
	if !ok {
		u.log.WithField("uid", uid).Error("UID not found")
		return false
	}
	delete(u.uids, uid)
	if u.clock.Now().After(eol) {
		u.log.WithField("uid", uid).Warn("UID expired")
		return false
	}
	return true
}
