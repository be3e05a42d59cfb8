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
	"fmt"
	"strings"
)

// Build constructs a Sink from a selector string:
//
//	""               -> nil sink (disabled)
//	"file:<path>"    -> FileSink appending JSON lines
//	"redis:<addr>"   -> RedisSink against a live Redis
//
// Unknown selectors are an error rather than a silently dropped sink.
func Build(selector string) (Sink, error) {
	if selector == "" {
		return nil, nil
	}
	kind, arg, ok := strings.Cut(selector, ":")
	if !ok || arg == "" {
		return nil, fmt.Errorf("stats sink %q: want <kind>:<arg>", selector)
	}
	switch kind {
	case "file":
		return NewFileSink(arg)
	case "redis":
		return NewRedisSink(NewGoRedisEvaler(arg), ""), nil
	default:
		return nil, fmt.Errorf("unknown stats sink kind: %s", kind)
	}
}
