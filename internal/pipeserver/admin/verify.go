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

package admin

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"

	"rpipe/internal/protocol"
)

// MinVersion is the oldest client version accepted on admin routes.
var MinVersion = protocol.ParseVersion("9.6.1")

const bruteForceDelay = 20 * time.Millisecond

type verifier struct {
	key  ssh.PublicKey
	path string
}

// Verifier checks the signed envelope of admin requests. Verification order
// and status codes are fixed: version (426), UID (403), signature (403).
type Verifier struct {
	UIDs *UIDStore

	verifiers []verifier
	bruteMu   sync.Mutex
	clock     clockwork.Clock
	log       *logrus.Entry
}

// NewVerifier loads the given SSH public key files (authorized_keys format,
// one key per file). Unreadable files and unsupported algorithms are skipped
// with a log message.
func NewVerifier(keyFiles []string, clock clockwork.Clock) *Verifier {
	v := &Verifier{
		UIDs:  NewUIDStore(clock),
		clock: clock,
		log:   logrus.WithField("component", "verify"),
	}
	v.log.Info("loading signing keys")
	for _, path := range keyFiles {
		raw, err := os.ReadFile(path)
		if err != nil {
			v.log.WithField("file", path).Error("key file does not exist")
			continue
		}
		key, _, _, _, err := ssh.ParseAuthorizedKey(raw)
		if err != nil {
			v.log.WithField("file", path).Error("skipping, signature verification algorithm not supported")
			continue
		}
		v.verifiers = append(v.verifiers, verifier{key: key, path: path})
	}
	return v
}

// Result is the outcome of verifying one admin request.
type Result struct {
	// Body is the verified message body, valid only when Status is zero.
	Body string
	// Status is the HTTP status to answer with, or zero on success.
	Status int
	// Stat records the attempt for the admin call log.
	Stat protocol.AdminStats
}

// Verify checks one admin POST body for the named command from host. The
// envelope is: version "\n" base85(signature) "\n" json(AdminMessage), where
// the JSON bytes are what was signed.
func (v *Verifier) Verify(command, host string, body []byte) Result {
	res := Result{Stat: protocol.AdminStats{
		Time:    v.clock.Now(),
		Command: command,
		Host:    host,
	}}
	version, signature, msgJSON, err := protocol.SplitAdminRequest(body)
	if err != nil {
		v.log.WithError(err).Warn("malformed admin request")
		res.Status = protocol.AdminInvalid
		return res
	}
	res.Stat.Version = version
	if ver := protocol.ParseVersion(version); ver.Invalid() || ver.Less(MinVersion) {
		v.log.WithFields(logrus.Fields{"command": command, "version": version}).
			Warn("rejecting request, client too old")
		res.Status = protocol.AdminIllegalVersion
		return res
	}
	var msg protocol.AdminMessage
	if err := json.Unmarshal(msgJSON, &msg); err != nil {
		res.Status = protocol.AdminInvalid
		return res
	}
	res.Stat.UID = msg.UID
	// Serialize a short sleep to slow down brute force attacks.
	v.bruteMu.Lock()
	time.Sleep(bruteForceDelay)
	v.bruteMu.Unlock()
	if !v.UIDs.Verify(msg.UID) {
		v.log.WithFields(logrus.Fields{"command": command, "uid": msg.UID}).
			Error("rejecting request, invalid UID")
		res.Status = protocol.AdminUnauthorized
		return res
	}
	res.Stat.UIDValid = true
	signer := v.verifySignature(signature, msgJSON)
	if signer == "" {
		v.log.WithField("command", command).Error("signature verification failed")
		res.Status = protocol.AdminUnauthorized
		return res
	}
	res.Stat.Signer = signer
	v.log.WithFields(logrus.Fields{"command": command, "signer": signer}).Info("signature verified")
	res.Body = msg.Body
	return res
}

// verifySignature tries each configured key against the signed JSON bytes;
// first match wins. Returns the matching key file path, or "".
func (v *Verifier) verifySignature(signature, msg []byte) string {
	var sig ssh.Signature
	if err := ssh.Unmarshal(signature, &sig); err != nil {
		return ""
	}
	for _, ver := range v.verifiers {
		if err := ver.key.Verify(msg, &sig); err == nil {
			return ver.path
		}
	}
	return ""
}
