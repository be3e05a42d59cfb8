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

package protocol

import (
	"bytes"
	"encoding/ascii85"
	"errors"
	"time"
)

// AdminMessage is the signed payload of every admin request. The JSON encoding
// of this struct is exactly what gets signed.
type AdminMessage struct {
	Path string `json:"path"`
	Body string `json:"body"`
	UID  string `json:"uid"`
}

// ErrBadAdminRequest is returned when an admin POST body does not have the
// three-part envelope shape.
var ErrBadAdminRequest = errors.New("malformed admin request body")

// EncodeAdminRequest assembles the admin POST body:
//
//	version "\n" base85(signature) "\n" json(AdminMessage)
func EncodeAdminRequest(version string, signature, msgJSON []byte) []byte {
	var b bytes.Buffer
	b.WriteString(version)
	b.WriteByte('\n')
	enc := make([]byte, ascii85.MaxEncodedLen(len(signature)))
	n := ascii85.Encode(enc, signature)
	b.Write(enc[:n])
	b.WriteByte('\n')
	b.Write(msgJSON)
	return b.Bytes()
}

// SplitAdminRequest splits an admin POST body into its version string, decoded
// signature, and raw message JSON.
func SplitAdminRequest(body []byte) (version string, signature, msgJSON []byte, err error) {
	ver, rest, ok := bytes.Cut(body, []byte{'\n'})
	if !ok {
		return "", nil, nil, ErrBadAdminRequest
	}
	sig85, msg, ok := bytes.Cut(rest, []byte{'\n'})
	if !ok {
		return "", nil, nil, ErrBadAdminRequest
	}
	sig := make([]byte, len(sig85))
	n, _, err := ascii85.Decode(sig, sig85, true)
	if err != nil {
		return "", nil, nil, ErrBadAdminRequest
	}
	return string(ver), sig[:n], msg, nil
}

// AdminStats records one admin call attempt, successful or not.
type AdminStats struct {
	Time     time.Time `json:"time"`
	Version  string    `json:"version,omitempty"`
	Signer   string    `json:"signer,omitempty"`
	UIDValid bool      `json:"uid_valid"`
	UID      string    `json:"uid,omitempty"`
	Command  string    `json:"command"`
	Host     string    `json:"host"`
}
