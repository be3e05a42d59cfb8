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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"rpipe/internal/protocol"
)

// MinSaveStateVersion is the oldest state file version that will be loaded;
// streams recorded by older versions are discarded.
var MinSaveStateVersion = protocol.ParseVersion("7.3.0")

// streamRecord is the JSON header of one saved stream; the data blocks follow
// it in the file and are not part of the JSON.
type streamRecord struct {
	ID             string `json:"id"`
	Version        string `json:"version"`
	Encrypted      bool   `json:"encrypted"`
	UploadComplete bool   `json:"upload_complete"`
	New            bool   `json:"new"`
	Locked         bool   `json:"locked"`
	TTL            int    `json:"ttl"`
	LastTouched    string `json:"last_touched"`
	Capacity       int    `json:"capacity"`
}

// saveState writes the line-oriented state file:
//
//	<version> "\n" <stream count> "\n"
//	per stream: "<channel> <nblocks> <json>\n" then nblocks of "<len>\n<raw>"
//
// The caller must hold the state lock and have set the shutdown flag; the
// state is saved exactly once, at shutdown.
func saveState(file string, u *UnlockedState, log *logrus.Entry) error {
	if !u.shutdown {
		return fmt.Errorf("do not save state before shutdown")
	}
	log.WithField("file", file).Info("saving state")
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "%s\n%d\n", protocol.VersionString, len(u.Streams))
	for name, s := range u.Streams {
		rec := streamRecord{
			ID:             s.ID,
			Version:        s.Version.String(),
			Encrypted:      s.Encrypted,
			UploadComplete: s.UploadComplete,
			New:            s.New,
			Locked:         s.Locked,
			TTL:            s.TTL,
			LastTouched:    s.LastTouched.Format(time.RFC3339Nano),
			Capacity:       s.Capacity,
		}
		js, err := json.Marshal(rec)
		if err != nil {
			f.Close()
			return err
		}
		fmt.Fprintf(w, "%s %d %s\n", name, len(s.Data), js)
		for _, block := range s.Data {
			fmt.Fprintf(w, "%d\n", len(block))
			w.Write(block)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.WithField("channels", len(u.Streams)).Info("state saved successfully")
	return nil
}

// loadState reads a state file written by saveState. A missing file or one
// recorded by a version older than MinSaveStateVersion yields a nil map and no
// error; corrupt files are an error.
func loadState(file string, log *logrus.Entry) (map[string]*Stream, error) {
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("file", file).Warn("state file not found, state is set to empty")
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	verLine, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("state file version line: %w", err)
	}
	if ver := protocol.ParseVersion(strings.TrimSpace(verLine)); ver.Invalid() || ver.Less(MinSaveStateVersion) {
		log.WithField("version", strings.TrimSpace(verLine)).Error("state version too old, state is set to empty")
		return nil, nil
	}
	countLine, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("state file count line: %w", err)
	}
	count, err := strconv.Atoi(strings.TrimSpace(countLine))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("state file bad stream count %q", strings.TrimSpace(countLine))
	}

	streams := make(map[string]*Stream, count)
	for i := 0; i < count; i++ {
		header, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("state file stream header: %w", err)
		}
		parts := strings.SplitN(strings.TrimSuffix(header, "\n"), " ", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("state file bad stream header %q", header)
		}
		name := parts[0]
		nblocks, err := strconv.Atoi(parts[1])
		if err != nil || nblocks < 0 {
			return nil, fmt.Errorf("state file bad block count for channel %q", name)
		}
		var rec streamRecord
		if err := json.Unmarshal([]byte(parts[2]), &rec); err != nil {
			return nil, fmt.Errorf("state file channel %q: %w", name, err)
		}
		blocks := make([][]byte, 0, nblocks)
		for b := 0; b < nblocks; b++ {
			lenLine, err := r.ReadString('\n')
			if err != nil {
				return nil, fmt.Errorf("state file block length: %w", err)
			}
			n, err := strconv.Atoi(strings.TrimSpace(lenLine))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("state file bad block length %q", strings.TrimSpace(lenLine))
			}
			block := make([]byte, n)
			if _, err := io.ReadFull(r, block); err != nil {
				return nil, fmt.Errorf("state file block data: %w", err)
			}
			blocks = append(blocks, block)
		}
		ver := protocol.ParseVersion(rec.Version)
		if ver.Invalid() || ver.Less(MinSaveStateVersion) {
			log.WithFields(logrus.Fields{"channel": name, "version": rec.Version}).
				Warn("discarding stream recorded by an unsupported version")
			continue
		}
		touched, err := time.Parse(time.RFC3339Nano, rec.LastTouched)
		if err != nil {
			return nil, fmt.Errorf("state file channel %q timestamp: %w", name, err)
		}
		capacity := rec.Capacity
		if capacity <= 0 {
			capacity = PipeMaxBytes
		}
		streams[name] = &Stream{
			ID:             rec.ID,
			Version:        ver,
			Encrypted:      rec.Encrypted,
			Data:           blocks,
			UploadComplete: rec.UploadComplete,
			New:            rec.New,
			Locked:         rec.Locked,
			TTL:            rec.TTL,
			LastTouched:    touched,
			Capacity:       capacity,
		}
	}
	log.WithField("channels", len(streams)).Info("state loaded successfully")
	return streams, nil
}
