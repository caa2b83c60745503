/*
Copyright 2025 The Scalehub Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package jobruntime

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// The job runtime CLI is a text boundary; these are the only two line
// contracts parsed out of it, kept as pure functions so they are testable
// without a live cluster.

var jobIDPattern = regexp.MustCompile(`JobID ([0-9a-fA-F]+)`)

// ParseJobID extracts the job identifier from a submission response,
// matching the `JobID <hex-id>` contract. It returns an empty string when
// no identifier is present.
func ParseJobID(text string) string {
	matches := jobIDPattern.FindStringSubmatch(text)
	if len(matches) != 2 {
		return ""
	}
	return matches[1]
}

// ParseSavepointPath extracts the checkpoint locator from a stop response,
// matching the `Savepoint completed. Path:<path>` contract. It returns an
// empty string when no completed savepoint is reported.
func ParseSavepointPath(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if !strings.Contains(line, "Savepoint completed.") {
			continue
		}
		_, path, found := strings.Cut(line, "Path:")
		if found {
			return strings.TrimSpace(path)
		}
	}
	return ""
}

var operatorNameReplacer = strings.NewReplacer("</br>", "", "<br/>", "", ":", "_", " ", "_")

// NormalizeOperatorName turns an execution plan node description into the
// stable operator key used across every rescale: formatting tokens are
// stripped and separators replaced with a canonical delimiter.
func NormalizeOperatorName(description string) string {
	return operatorNameReplacer.Replace(description)
}

// FormatParallelismMap renders the operator map as the `op:par;op:par`
// argument of a redeploy, overriding only the monitored operator's entry.
// All other entries are preserved unchanged.
func FormatParallelismMap(operators map[string]int, monitoredOperator string, newParallelism int) string {
	names := make([]string, 0, len(operators))
	for name := range operators {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]string, 0, len(names))
	for _, name := range names {
		parallelism := operators[name]
		if strings.Contains(name, monitoredOperator) {
			parallelism = newParallelism
		}
		entries = append(entries, name+":"+strconv.Itoa(parallelism))
	}
	return strings.Join(entries, ";")
}
