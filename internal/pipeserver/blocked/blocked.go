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

// Package blocked decides whether requests should be rejected outright, based
// on IP allow/deny sets and route regex lists. An IP that trips a denied route
// is escalated onto the IP blacklist. The store persists to a versioned JSON
// file on graceful shutdown.
package blocked

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"rpipe/internal/protocol"
)

// MinVersion is the oldest blocklist file version that will be loaded.
var MinVersion = protocol.ParseVersion("9.11.0")

// Data is the persisted form of the blocklist. IP lists are sets; route lists
// are ordered regex patterns matched case-insensitively against the full path.
// Stats maps IP to a list of [timestamp, path] blocked attempts.
type Data struct {
	Version        string                `json:"version"`
	IPWhitelist    []string              `json:"ip_whitelist"`
	IPBlacklist    []string              `json:"ip_blacklist"`
	RouteWhitelist []string              `json:"route_whitelist"`
	RouteBlacklist []string              `json:"route_blacklist"`
	Stats          map[string][][]string `json:"stats"`
}

// Blocked is the live store. All mutation happens under the lock; route
// patterns are recompiled inside the lock whenever the lists change.
type Blocked struct {
	mu sync.Mutex

	ipWhite    map[string]struct{}
	ipBlack    map[string]struct{}
	routeWhite []string
	routeBlack []string
	stats      map[string][][]string

	whitePat []*regexp.Regexp
	blackPat []*regexp.Regexp

	file  string
	clock clockwork.Clock
	log   *logrus.Entry
}

// New loads the blocklist from file (empty defaults if file is "" or absent).
// Files recorded by versions older than MinVersion are refused.
func New(file string, clock clockwork.Clock) (*Blocked, error) {
	b := &Blocked{
		ipWhite: map[string]struct{}{},
		ipBlack: map[string]struct{}{},
		stats:   map[string][][]string{},
		file:    file,
		clock:   clock,
		log:     logrus.WithField("component", "blocked"),
	}
	if file == "" {
		b.log.Warn("no blocklist file is set, blocklist changes will not persist across restarts")
		return b, nil
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			b.log.WithField("file", file).Warn("blocklist not found, using defaults")
			return b, nil
		}
		return nil, err
	}
	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("blocklist %s: %w", file, err)
	}
	if old := protocol.ParseVersion(data.Version); old.Invalid() || old.Less(MinVersion) {
		return nil, fmt.Errorf("blocklist version too old: %s < %s", data.Version, MinVersion)
	}
	for _, ip := range data.IPWhitelist {
		b.ipWhite[ip] = struct{}{}
	}
	for _, ip := range data.IPBlacklist {
		b.ipBlack[ip] = struct{}{}
	}
	b.routeWhite = data.RouteWhitelist
	b.routeBlack = data.RouteBlacklist
	if data.Stats != nil {
		b.stats = data.Stats
	}
	b.recompile()
	b.log.WithField("file", file).Info("blocklist loaded")
	return b, nil
}

// compile builds case-insensitive full-match patterns, skipping invalid ones.
func (b *Blocked) compile(patterns []string) []*regexp.Regexp {
	ret := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)\\A(?:" + p + ")\\z")
		if err != nil {
			b.log.WithField("pattern", p).Error("could not compile pattern")
			continue
		}
		ret = append(ret, re)
	}
	return ret
}

func (b *Blocked) recompile() {
	b.whitePat = b.compile(b.routeWhite)
	b.blackPat = b.compile(b.routeBlack)
}

func matchAny(path string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

func (b *Blocked) notate(ip, path string) {
	b.stats[ip] = append(b.stats[ip], []string{b.clock.Now().Format(time.RFC3339), path})
}

// Check reports whether a request from ip for path should be blocked,
// recording the attempt and escalating route offenders onto the IP blacklist.
func (b *Blocked) Check(ip, path string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ipWhite[ip]; ok {
		return false
	}
	if _, ok := b.ipBlack[ip]; ok {
		b.notate(ip, path)
		return true
	}
	if matchAny(path, b.whitePat) {
		return false
	}
	if matchAny(path, b.blackPat) {
		b.log.WithFields(logrus.Fields{"ip": ip, "path": path}).Info("blocking IP based on route")
		b.ipBlack[ip] = struct{}{}
		b.notate(ip, path)
		return true
	}
	return false
}

// Mutate runs fn over the persisted-form snapshot and applies the result,
// recompiling route patterns. It is how admin ip/route commands edit the
// lists.
func (b *Blocked) Mutate(fn func(*Data)) Data {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.snapshot()
	fn(&data)
	b.ipWhite = map[string]struct{}{}
	b.ipBlack = map[string]struct{}{}
	for _, ip := range data.IPWhitelist {
		b.ipWhite[ip] = struct{}{}
	}
	for _, ip := range data.IPBlacklist {
		b.ipBlack[ip] = struct{}{}
	}
	b.routeWhite = data.RouteWhitelist
	b.routeBlack = data.RouteBlacklist
	b.recompile()
	return b.snapshot()
}

// Snapshot returns the persisted form of the current state.
func (b *Blocked) Snapshot() Data {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshot()
}

func (b *Blocked) snapshot() Data {
	white := make([]string, 0, len(b.ipWhite))
	for ip := range b.ipWhite {
		white = append(white, ip)
	}
	black := make([]string, 0, len(b.ipBlack))
	for ip := range b.ipBlack {
		black = append(black, ip)
	}
	sort.Strings(white)
	sort.Strings(black)
	stats := make(map[string][][]string, len(b.stats))
	for ip, attempts := range b.stats {
		stats[ip] = append([][]string{}, attempts...)
	}
	return Data{
		Version:        protocol.VersionString,
		IPWhitelist:    white,
		IPBlacklist:    black,
		RouteWhitelist: append([]string{}, b.routeWhite...),
		RouteBlacklist: append([]string{}, b.routeBlack...),
		Stats:          stats,
	}
}

// Save persists the blocklist; called once on graceful shutdown.
func (b *Blocked) Save() error {
	if b.file == "" {
		b.log.Warn("no blocklist file set, changes will not persist")
		return nil
	}
	js, err := json.MarshalIndent(b.Snapshot(), "", "    ")
	if err != nil {
		return err
	}
	b.log.WithField("file", b.file).Info("saving blocklist")
	return os.WriteFile(b.file, js, 0o600)
}
