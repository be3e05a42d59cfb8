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
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"rpipe/internal/protocol"
)

// Delete clears the configured channel.
func Delete(cfg Config) error {
	logrus.WithField("component", "delete").WithField("channel", cfg.Channel).Info("deleting channel")
	h := newHTTPClient(cfg)
	r, err := h.do("DELETE", cfg.ChannelURL(), nil, nil)
	if err != nil {
		return err
	}
	if r.status == protocol.DeleteLocked {
		return ChannelLockedError{Channel: cfg.Channel}
	}
	if !r.ok() {
		return fmt.Errorf("delete failed with status %d: %s", r.status, r.text())
	}
	return nil
}

// Query describes the configured channel without consuming it. A missing
// channel is a NoDataError.
func Query(cfg Config) (protocol.QueryResponse, error) {
	var out protocol.QueryResponse
	if cfg.Channel == "" {
		return out, UsageError{Msg: "channel unknown; try again with --channel"}
	}
	h := newHTTPClient(cfg)
	q := url.Values{}
	q.Set("version", protocol.VersionString)
	r, err := h.do("GET", endpoint(cfg, "/q/"+url.PathEscape(cfg.Channel)), q, nil)
	if err != nil {
		return out, err
	}
	switch {
	case r.status == protocol.QueryIllegalVersion:
		return out, VersionError{Msg: r.text()}
	case r.status == protocol.QueryNoData:
		return out, NoDataError{Channel: cfg.Channel}
	case !r.ok():
		return out, fmt.Errorf("query failed with status %d: %s", r.status, r.text())
	}
	if err := json.Unmarshal(r.body, &out); err != nil {
		return out, err
	}
	return out, nil
}

// ServerVersion fetches the server's version string.
func ServerVersion(cfg Config) (string, error) {
	h := newHTTPClient(cfg)
	r, err := h.do("GET", endpoint(cfg, "/version"), nil, nil)
	if err != nil {
		return "", err
	}
	if !r.ok() {
		return "", fmt.Errorf("failed to get version: status %d", r.status)
	}
	return r.text(), nil
}

// Outdated reports whether this client version is unsupported by the server.
func Outdated(cfg Config) (bool, error) {
	h := newHTTPClient(cfg)
	r, err := h.do("GET", endpoint(cfg, "/supported"), nil, nil)
	if err != nil {
		return false, err
	}
	if !r.ok() {
		return false, fmt.Errorf("failed to get server minimum version: status %d", r.status)
	}
	var sup protocol.Supported
	if err := json.Unmarshal(r.body, &sup); err != nil {
		return false, err
	}
	logrus.WithField("component", "client").Infof("server supports clients >= %s, banned %v", sup.Min, sup.Banned)
	ok := !protocol.Current.Less(protocol.ParseVersion(sup.Min))
	for _, banned := range sup.Banned {
		if protocol.Current.Equal(protocol.ParseVersion(banned)) {
			ok = false
		}
	}
	return !ok, nil
}

// BlockedCheck reports whether the server blocks this client's IP.
func BlockedCheck(cfg Config) (bool, error) {
	h := newHTTPClient(cfg)
	_, err := h.do("GET", endpoint(cfg, "/supported"), nil, nil)
	var blocked BlockedError
	if errors.As(err, &blocked) {
		return true, nil
	}
	return false, err
}
