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

package persist

import (
	"context"
	"encoding/json"
	"os"
)

// FileSink appends one JSON line per snapshot to a local file.
type FileSink struct {
	f *os.File
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f}, nil
}

// Store appends s as a JSON line.
func (fs *FileSink) Store(ctx context.Context, s Snapshot) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	js, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fs.f.Write(append(js, '\n'))
	return err
}

// Close flushes and closes the file.
func (fs *FileSink) Close() error {
	return fs.f.Close()
}
