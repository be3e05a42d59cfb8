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

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics — global only (no unbounded label cardinality).
var (
	readsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rpipe_channel_reads_total",
		Help: "Total consuming channel reads",
	})
	peeksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rpipe_channel_peeks_total",
		Help: "Total non-consuming channel peeks",
	})
	writesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rpipe_channel_writes_total",
		Help: "Total channel stream opens and appends",
	})
	deletesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rpipe_channel_deletes_total",
		Help: "Total channel deletions",
	})
	blockedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rpipe_blocked_requests_total",
		Help: "Total requests rejected by the blocklist",
	})
	channelsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "rpipe_channels",
		Help: "Number of live channels",
	})
	prunedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rpipe_channels_pruned_total",
		Help: "Total channels removed by the prune task",
	})
)

func init() {
	prometheus.MustRegister(readsTotal, peeksTotal, writesTotal, deletesTotal,
		blockedTotal, channelsGauge, prunedTotal)
}
