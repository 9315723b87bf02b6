/*
 * Copyright 2025 the CableSync authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package classify decides which switch ports reconciliation may touch.
// Ports on an explicit exclude list or matching an exclude pattern are
// reported but never reconciled.
package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// Result is the verdict for one port.
type Result struct {
	Port    string
	Allowed bool
	Reason  string
}

// Filter classifies ports against an explicit list and a combined
// case-insensitive pattern.
type Filter struct {
	excluded map[string]struct{}
	pattern  *regexp.Regexp
}

// NewFilter compiles the exclude patterns into a single regexp.
// An empty pattern list yields a filter that only honors the list.
func NewFilter(ports, patterns []string) (*Filter, error) {
	f := &Filter{excluded: make(map[string]struct{}, len(ports))}

	for _, p := range ports {
		f.excluded[p] = struct{}{}
	}

	if len(patterns) > 0 {
		groups := make([]string, len(patterns))
		for i, p := range patterns {
			groups[i] = fmt.Sprintf("(%s)", p)
		}

		pattern, err := regexp.Compile("(?i)" + strings.Join(groups, "|"))
		if err != nil {
			return nil, fmt.Errorf("invalid exclude pattern: %w", err)
		}

		f.pattern = pattern
	}

	return f, nil
}

// Classify returns whether a port participates in reconciliation.
func (f *Filter) Classify(port string) Result {
	if _, ok := f.excluded[port]; ok {
		return Result{Port: port, Allowed: false, Reason: "port in exclude list"}
	}

	if f.pattern != nil {
		if match := f.pattern.FindString(port); match != "" {
			return Result{
				Port:    port,
				Allowed: false,
				Reason:  fmt.Sprintf("port name matches exclude pattern: %q", match),
			}
		}
	}

	return Result{Port: port, Allowed: true, Reason: "no exclude indicators"}
}

// Allowed is the quick form of Classify.
func (f *Filter) Allowed(port string) bool {
	return f.Classify(port).Allowed
}
