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
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"rpipe/internal/pipeserver/admin"
	"rpipe/internal/pipeserver/blocked"
	"rpipe/internal/pipeserver/persist"
)

// Options configure a Server.
type Options struct {
	Host      string
	Port      int
	StateFile string // save/load server state here; "" disables persistence
	Blocklist string // blocklist JSON file; "" disables persistence
	KeyFiles  []string
	LogFile   string // file served by /admin/log
	Favicon   string
	StatsSink string // persist.Build selector
	Debug     bool
}

// Server assembles the state container, blocklist, admin verifier, prune
// task, stats sink, and HTTP listener, and owns their shutdown order.
type Server struct {
	opts    Options
	state   *State
	blocked *blocked.Blocked
	app     *App
	pruner  *Pruner
	sink    persist.Sink

	httpServer *http.Server
	stopStats  chan struct{}
	wg         sync.WaitGroup
	shutdownMu sync.Mutex
	done       bool
	log        *logrus.Entry
}

// statsSinkPeriod is how often the stats sink receives a snapshot.
const statsSinkPeriod = time.Minute

// NewServer builds a Server. State and blocklist files are loaded here, so a
// version-rejected blocklist fails startup rather than surfacing mid-flight.
func NewServer(opts Options, clock clockwork.Clock) (*Server, error) {
	log := logrus.WithField("component", "server")
	state := NewState(clock)
	if opts.Debug {
		if err := state.With(func(u *UnlockedState) error {
			u.EnableDebug()
			return nil
		}); err != nil {
			return nil, err
		}
		log.Warn("debug mode enabled")
	}
	if opts.StateFile != "" {
		if err := state.Load(opts.StateFile); err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
	}
	bl, err := blocked.New(opts.Blocklist, clock)
	if err != nil {
		return nil, err
	}
	sink, err := persist.Build(opts.StatsSink)
	if err != nil {
		return nil, err
	}
	verifier := admin.NewVerifier(opts.KeyFiles, clock)
	s := &Server{
		opts:      opts,
		state:     state,
		blocked:   bl,
		app:       NewApp(state, bl, verifier, opts.LogFile, opts.Favicon),
		pruner:    NewPruner(state),
		sink:      sink,
		stopStats: make(chan struct{}),
		log:       log,
	}
	return s, nil
}

// Handler exposes the HTTP surface, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.app.Handler()
}

// ListenAndServe starts the background tasks and serves until Shutdown is
// called. It returns once the listener closes.
func (s *Server) ListenAndServe() error {
	s.pruner.Start()
	if s.sink != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop()
		}()
	}
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.log.WithField("addr", addr).Info("serving")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops serving and tears the server down in order: listener, stats
// sink, the single state save (which sets the shutdown flag), prune task, then
// the blocklist save.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownMu.Lock()
	defer s.shutdownMu.Unlock()
	if s.done {
		return nil
	}
	s.done = true

	var errs *multierror.Error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	close(s.stopStats)
	s.wg.Wait()
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := s.state.Shutdown(s.opts.StateFile); err != nil {
		errs = multierror.Append(errs, err)
	}
	s.pruner.Stop()
	if err := s.blocked.Save(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// statsLoop periodically snapshots aggregate stats into the sink.
func (s *Server) statsLoop() {
	ticker := s.state.Clock().NewTicker(statsSinkPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			snap, err := s.snapshot()
			if err != nil {
				return // server shut down
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.sink.Store(ctx, snap); err != nil {
				s.log.WithError(err).Error("stats sink store failed")
			}
			cancel()
		case <-s.stopStats:
			return
		}
	}
}

func (s *Server) snapshot() (persist.Snapshot, error) {
	snap := persist.Snapshot{Taken: s.state.Clock().Now()}
	err := s.state.With(func(u *UnlockedState) error {
		snap.Start = u.Stats.Start
		snap.Channels = len(u.Streams)
		snap.Admin = len(u.Stats.Admin)
		for _, cs := range u.Stats.Channels {
			for _, n := range cs.Reads {
				snap.Reads += n
			}
			for _, n := range cs.Writes {
				snap.Writes += n
			}
			for _, n := range cs.Peeks {
				snap.Peeks += n
			}
			for _, n := range cs.Deletes {
				snap.Deletes += n
			}
		}
		return nil
	})
	return snap, err
}
