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

// Package protocol defines the wire-level contract shared by the rpipe server
// and client: the version scheme, the fixed HTTP status codes, the query
// parameter and response header codecs, and the admin request envelope.
package protocol

import (
	"strconv"
	"strings"
)

// VersionString is the version of this rpipe build. Must be
// "<major>.<minor>.<patch>", all numbers.
const VersionString = "9.12.0"

const invalidVersionString = "Unable to parse version"

// Version is a semantic version triple with a total order. Values that fail to
// parse are marked invalid; input with a non-numeric part keeps a fixed
// placeholder string instead of the input. Invalid versions compare less than
// any valid version. Equality is string equality.
type Version struct {
	str    string
	triple [3]int
}

var invalidTriple = [3]int{-1, -1, -1}

// Current is the Version of this build.
var Current = ParseVersion(VersionString)

// WebVersion is the sentinel version sent by unversioned browser clients. It
// bypasses version equality checks but may not read encrypted streams.
var WebVersion = ParseVersion("0.0.0")

// ParseVersion parses "A.B.C" into a Version. It never fails; unparseable
// input yields an invalid Version.
func ParseVersion(s string) Version {
	v := Version{str: s, triple: invalidTriple}
	parts := strings.Split(s, ".")
	triple := [3]int{}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{str: invalidVersionString, triple: invalidTriple}
		}
		if i < 3 {
			triple[i] = n
		}
	}
	if len(parts) == 3 {
		v.triple = triple
	}
	return v
}

// Invalid reports whether v failed to parse.
func (v Version) Invalid() bool {
	return v.triple == invalidTriple
}

// String returns the exact input string for valid versions.
func (v Version) String() string {
	return v.str
}

// Compare orders versions by their triples: -1 if v < o, 0 if the triples are
// equal, 1 if v > o. Invalid versions order below all valid ones.
func (v Version) Compare(o Version) int {
	for i := range v.triple {
		if v.triple[i] != o.triple[i] {
			if v.triple[i] < o.triple[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool {
	return v.Compare(o) < 0
}

// Equal reports string equality, mirroring the wire contract: two versions are
// the same version only if their strings match exactly.
func (v Version) Equal(o Version) bool {
	return v.str == o.str
}
