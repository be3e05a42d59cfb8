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
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"rpipe/internal/chunker"
	"rpipe/internal/payload"
	"rpipe/internal/protocol"
)

// SendOptions tune one upload.
type SendOptions struct {
	TTL      int // seconds; 0 = server default
	Level    int // zstd level; only meaningful with a password
	Threads  int // compression goroutines
	Total    bool
	Checksum bool
	Input    io.Reader
}

// Send streams opts.Input to the configured channel: POST opens the stream,
// PUTs continue it, and the final flag rides the last block. After any bytes
// are accepted, a failure triggers a compensating DELETE so the channel is
// not left blocked by a half-stream.
func Send(ctx context.Context, cfg Config, opts SendOptions) (err error) {
	log := logrus.WithField("component", "send")
	enc, err := payload.NewEncryptor(cfg.Password, opts.Level, opts.Threads)
	if err != nil {
		return err
	}
	h := newHTTPClient(cfg)

	params := protocol.UploadParams{
		Version:   protocol.Current,
		Encrypted: cfg.Password != "",
		TTL:       opts.TTL,
	}
	r, err := h.do("POST", cfg.ChannelURL(), params.Values(), nil)
	if err != nil {
		return err
	}
	if !r.ok() {
		return sendError(r)
	}
	hdr, err := protocol.UploadHeadersFrom(r.header)
	if err != nil {
		return err
	}
	params.StreamID = hdr.StreamID
	log.WithFields(logrus.Fields{"channel": cfg.Channel, "block_size": hdr.MaxSize}).Info("writing to channel")

	reader := chunker.New(opts.Input, protocol.MaxSoftSizeMin)
	reader.IncreaseChunk(hdr.MaxSize)
	time.Sleep(10 * time.Millisecond) // let the reader prefill a chunk

	armed := false
	defer func() {
		if err != nil && armed {
			log.Warn("upload failed after data was accepted, deleting channel")
			if derr := Delete(cfg); derr != nil {
				log.WithError(derr).Error("compensating delete failed")
			}
		}
	}()

	sum := sha256.New()
	var total int64
	for {
		if cerr := ctx.Err(); cerr != nil {
			err = cerr
			return err
		}
		block, eof, rerr := reader.Read()
		if rerr != nil {
			err = rerr
			return err
		}
		params.Final = eof
		if len(block) > 0 || !eof {
			var frame []byte
			if frame, err = enc.Encode(block); err != nil {
				return err
			}
			log.WithField("bytes", len(block)).Debug("processing block")
			if err = sendBlock(h, cfg, &params, frame, 0); err != nil {
				return err
			}
			armed = true
			sum.Write(block)
			total += int64(len(block))
		} else {
			// Empty final: nothing was buffered when EOF arrived. We might
			// have hung after sending our data until the input closed, so a
			// stolen stream here is not fatal.
			if err = sendBlock(h, cfg, &params, nil, 0); err != nil {
				var mc MultipleClientsError
				if !errors.As(err, &mc) {
					return err
				}
				log.Warn("received MultipleClients error on final PUT")
				err = nil
			}
		}
		if eof {
			break
		}
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

// sendBlock uploads one block, retrying on 425 with the level-indexed
// backoff.
func sendBlock(h *httpClient, cfg Config, params *protocol.UploadParams, frame []byte, lvl int) error {
	for {
		r, err := h.do("PUT", cfg.ChannelURL(), params.Values(), frame)
		if err != nil {
			return err
		}
		if r.ok() {
			hdr, err := protocol.UploadHeadersFrom(r.header)
			if err != nil {
				return err
			}
			if hdr.StreamID != params.StreamID {
				return ReportThisError{Msg: "stream ID changed mid-upload"}
			}
			return nil
		}
		if r.status == protocol.UploadWait {
			delay := WaitDelay(lvl)
			logrus.WithField("component", "send").Infof("pipe full, sleeping for %s", delay)
			time.Sleep(delay)
			lvl++
			continue
		}
		return sendError(r)
	}
}

// sendError maps an upload error response onto a typed error.
func sendError(r response) error {
	switch r.status {
	case protocol.UploadIllegalVersion:
		return VersionError{Msg: fmt.Sprintf("server requires version >= %s", r.text())}
	case protocol.UploadConflict:
		return MultipleClientsError{Msg: "the stream ID changed mid-upload; maybe the receiver broke the pipe?"}
	case protocol.UploadLocked:
		return ChannelLockedError{}
	case protocol.UploadWrongVersion, protocol.UploadTooBig, protocol.UploadForbidden, protocol.UploadStreamID:
		return ReportThisError{Msg: r.text()}
	default:
		return fmt.Errorf("upload failed with status %d: %s", r.status, r.text())
	}
}
