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
	"time"

	"rpipe/internal/protocol"
)

// ChannelStats counts operations per remote address for one channel. NATime is
// the last time any new activity occurred on the channel.
type ChannelStats struct {
	Peeks   map[string]int `json:"peeks"`
	Reads   map[string]int `json:"reads"`
	Writes  map[string]int `json:"writes"`
	Deletes map[string]int `json:"deletes"`
	NATime  time.Time      `json:"natime"`
}

func newChannelStats() *ChannelStats {
	return &ChannelStats{
		Peeks:   map[string]int{},
		Reads:   map[string]int{},
		Writes:  map[string]int{},
		Deletes: map[string]int{},
	}
}

// Stats are the server-wide counters exposed via /admin/stats. Access is
// guarded by the state lock.
type Stats struct {
	Start    time.Time                `json:"start"`
	Channels map[string]*ChannelStats `json:"channels"`
	Admin    []protocol.AdminStats    `json:"admin"`
}

func newStats(now time.Time) *Stats {
	return &Stats{Start: now, Channels: map[string]*ChannelStats{}}
}

func (s *Stats) channel(name string) *ChannelStats {
	cs, ok := s.Channels[name]
	if !ok {
		cs = newChannelStats()
		s.Channels[name] = cs
	}
	return cs
}

// Peek records a non-consuming read.
func (s *Stats) Peek(channel, addr string, now time.Time) {
	cs := s.channel(channel)
	cs.Peeks[addr]++
	cs.NATime = now
	peeksTotal.Inc()
}

// Read records the first consuming read of a stream.
func (s *Stats) Read(channel, addr string, now time.Time) {
	cs := s.channel(channel)
	cs.Reads[addr]++
	cs.NATime = now
	readsTotal.Inc()
}

// Write records a stream open or append.
func (s *Stats) Write(channel, addr string, now time.Time) {
	cs := s.channel(channel)
	cs.Writes[addr]++
	cs.NATime = now
	writesTotal.Inc()
}

// Delete records a channel deletion.
func (s *Stats) Delete(channel, addr string, now time.Time) {
	cs := s.channel(channel)
	cs.Deletes[addr]++
	cs.NATime = now
	deletesTotal.Inc()
}
