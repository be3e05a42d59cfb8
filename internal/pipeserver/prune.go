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
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PrunePeriod is how often expired streams are swept.
const PrunePeriod = 5 * time.Second

// Pruner periodically removes expired, unlocked streams. It stops on its own
// once the server shuts down.
type Pruner struct {
	state    *State
	period   time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	log      *logrus.Entry
}

// NewPruner builds a Pruner over state with the default period.
func NewPruner(state *State) *Pruner {
	return &Pruner{
		state:    state,
		period:   PrunePeriod,
		stopChan: make(chan struct{}),
		log:      logrus.WithField("component", "prune"),
	}
}

// Start launches the prune loop.
func (p *Pruner) Start() {
	p.log.Info("starting prune loop")
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop()
	}()
}

// Stop terminates the prune loop and waits for it to exit.
func (p *Pruner) Stop() {
	select {
	case <-p.stopChan:
	default:
		close(p.stopChan)
	}
	p.wg.Wait()
}

func (p *Pruner) loop() {
	ticker := p.state.Clock().NewTicker(p.period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			if err := p.prune(); errors.Is(err, ErrServerShutdown) {
				return
			}
		case <-p.stopChan:
			return
		}
	}
}

func (p *Pruner) prune() error {
	now := p.state.Clock().Now()
	return p.state.With(func(u *UnlockedState) error {
		for name, s := range u.Streams {
			if s.Expired(now) {
				p.log.WithField("channel", name).Info("pruning expired channel")
				delete(u.Streams, name)
				prunedTotal.Inc()
			}
		}
		return nil
	})
}
