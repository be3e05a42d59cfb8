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

package client

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"rpipe/internal/payload"
	"rpipe/internal/protocol"
)

// RecvOptions tune one download.
type RecvOptions struct {
	Block    bool // wait for the channel to exist; first GET only
	Peek     bool // non-consuming read
	Force    bool // override version mismatch
	Total    bool
	Checksum bool
	Output   io.Writer
}

// Recv reads the configured channel into opts.Output, following the stream-id
// continuation until the final block. A broken output pipe ends the read
// cleanly.
func Recv(ctx context.Context, cfg Config, opts RecvOptions) error {
	log := logrus.WithField("component", "recv")
	log.WithFields(logrus.Fields{"channel": cfg.Channel, "peek": opts.Peek, "force": opts.Force}).
		Info("reading from channel")
	h := newHTTPClient(cfg)
	params := protocol.DownloadParams{
		Version:  protocol.Current,
		Delete:   !opts.Peek,
		Override: opts.Force,
	}
	sum := sha256.New()
	var total int64
	block := opts.Block
	lvl := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, err := h.do("GET", cfg.ChannelURL(), params.Values(), nil)
		if err != nil {
			return err
		}
		if r.ok() {
			hdr, err := protocol.DownloadHeadersFrom(r.header)
			if err != nil {
				return err
			}
			log.WithField("bytes", len(r.body)).Info("received block")
			password := ""
			if hdr.Encrypted {
				if cfg.Password == "" {
					return UsageError{Msg: "channel data is encrypted; set " + PasswordEnv}
				}
				password = cfg.Password
			}
			got, err := payload.Decode(r.body, password)
			if err != nil {
				return err
			}
			if _, err := opts.Output.Write(got); err != nil {
				if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
					log.Warn("output pipe closed")
					return nil
				}
				return err
			}
			sum.Write(got)
			total += int64(len(got))
			if hdr.Final {
				break
			}
			params.StreamID = hdr.StreamID
			block = false // only the initial wait blocks
			lvl = 0
			continue
		}
		if r.status == protocol.DownloadWait || (block && r.status == protocol.DownloadNoData) {
			delay := WaitDelay(lvl)
			log.Infof("no data available yet, sleeping for %s", delay)
			time.Sleep(delay)
			lvl++
			continue
		}
		return recvError(r, cfg, opts.Peek, params.StreamID != "", lvl != 0)
	}
	log.Info("stream complete")
	if opts.Total {
		fmt.Printf("Total: %s (%d bytes)\n", units.HumanSize(float64(total)), total)
	}
	if opts.Checksum {
		fmt.Fprintf(os.Stderr, "SHA-256: %s\n", hex.EncodeToString(sum.Sum(nil)))
	}
	return nil
}

// recvError classifies a download error response. put reports whether this
// GET continued an existing stream; waited whether any wait-retry happened.
func recvError(r response, cfg Config, peek, put, waited bool) error {
	switch r.status {
	case protocol.DownloadWrongVersion:
		parts := strings.Split(r.text(), ":")
		v := strings.TrimSpace(parts[len(parts)-1])
		return VersionError{Msg: fmt.Sprintf("version mismatch; uploader version = %s; force a read with --force", v)}
	case protocol.DownloadIllegalVersion:
		return VersionError{Msg: r.text()}
	case protocol.DownloadNoData:
		if put {
			return MultipleClientsError{Msg: "this data stream no longer exists; maybe the sender cancelled sending?"}
		}
		return NoDataError{Channel: cfg.Channel}
	case protocol.DownloadConflict:
		if put {
			return MultipleClientsError{Msg: "this data stream no longer exists; maybe the channel was deleted?"}
		}
		return ReportThisError{Msg: r.text()}
	case protocol.DownloadCannotPeek:
		return StreamError{Msg: "too much data to peek; data is being streamed and does not all exist on server"}
	case protocol.DownloadInUse:
		if peek && waited {
			return MultipleClientsError{Msg: "another client started reading the data before peek was complete"}
		}
		return MultipleClientsError{Msg: r.text()}
	case protocol.DownloadForbidden:
		return ReportThisError{Msg: "attempt to read from stream with stream ID"}
	case protocol.DownloadLocked:
		return ChannelLockedError{Channel: cfg.Channel}
	default:
		return fmt.Errorf("download failed with status %d: %s", r.status, r.text())
	}
}
