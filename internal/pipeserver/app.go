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
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"rpipe/internal/pipeserver/admin"
	"rpipe/internal/pipeserver/blocked"
	"rpipe/internal/protocol"
)

const helpText = "Welcome to the web UI of rpipe. " +
	"To interact with a given channel, use the path /c/<channel>. " +
	"To read a message from a given channel, use a GET request. " +
	"To write a message to a given channel, use PUT and POST requests. " +
	"To clear a channel, use a DELETE request. " +
	"Note: using the web version bypasses version consistency checks " +
	"and may result in safe but unexpected behavior; if possible use " +
	"the rpipe client CLI instead."

// App owns the HTTP surface of the server: the channel state machine, the
// query and info endpoints, and the signed admin routes.
type App struct {
	state    *State
	blocked  *blocked.Blocked
	verifier *admin.Verifier

	logFile     string
	faviconFile string
	log         *logrus.Entry
}

// NewApp wires the handlers onto the given state, blocklist, and admin
// verifier. logFile is what /admin/log serves (optional, as is the favicon).
func NewApp(state *State, bl *blocked.Blocked, verifier *admin.Verifier, logFile, faviconFile string) *App {
	return &App{
		state:       state,
		blocked:     bl,
		verifier:    verifier,
		logFile:     logFile,
		faviconFile: faviconFile,
		log:         logrus.WithField("component", "app"),
	}
}

// Handler builds the full route table wrapped in the block guard.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", a.handleHelp)
	mux.HandleFunc("GET /help", a.handleHelp)
	mux.HandleFunc("GET /version", a.handleVersion)
	mux.HandleFunc("GET /supported", a.handleSupported)
	mux.HandleFunc("GET /favicon.ico", a.handleFavicon)
	mux.HandleFunc("GET /c/{channel}", a.handleRead)
	mux.HandleFunc("POST /c/{channel}", a.handleWrite)
	mux.HandleFunc("PUT /c/{channel}", a.handleWrite)
	mux.HandleFunc("DELETE /c/{channel}", a.handleDelete)
	mux.HandleFunc("GET /q/{channel}", a.handleQuery)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /admin/uid", a.handleAdminUID)
	for name, route := range adminRoutes {
		mux.HandleFunc("POST /admin/"+name, a.adminHandler(name, route))
	}
	return a.blockGuard(mux)
}

// blockGuard rejects requests from blocked sources before any routing.
func (a *App) blockGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.blocked.Check(remoteAddr(r), r.URL.Path) {
			blockedTotal.Inc()
			w.WriteHeader(protocol.StatusBlocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) handleHelp(w http.ResponseWriter, _ *http.Request) {
	a.log.Info("request for /help")
	plaintext(w, http.StatusOK, helpText)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	plaintext(w, http.StatusOK, protocol.VersionString)
}

func (a *App) handleSupported(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, protocol.Supported{Min: MinVersion.String(), Banned: []string{}})
}

func (a *App) handleFavicon(w http.ResponseWriter, r *http.Request) {
	if a.faviconFile == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, a.faviconFile)
}

func (a *App) handleAdminUID(w http.ResponseWriter, _ *http.Request) {
	jsonResponse(w, a.verifier.UIDs.New(admin.UIDsPerQuery))
}
