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

package scaling

import (
	"github.com/scalehub/scalehub/pkg/config"
)

// LinearSequence decomposes a worker count into single-unit increments.
func LinearSequence(n int) []int {
	seq := make([]int, n)
	for i := range seq {
		seq[i] = 1
	}
	return seq
}

// BlockSequence applies the whole worker count as one increment.
func BlockSequence(n int) []int {
	return []int{n}
}

// ExponentialSequence doubles the increment at every step, clamping the
// last one so the sum is exactly n: 10 yields [1,2,4,3], 7 yields [1,2,4],
// 1 yields [1].
func ExponentialSequence(n int) []int {
	seq := []int{}
	sum := 0
	for next := 1; sum < n; next *= 2 {
		if sum+next > n {
			next = n - sum
		}
		seq = append(seq, next)
		sum += next
	}
	return seq
}

// SequenceFor decomposes n per the growth method. Unknown methods fall back
// to linear growth.
func SequenceFor(method config.GrowthMethod, n int) []int {
	switch method {
	case config.MethodBlock:
		return BlockSequence(n)
	case config.MethodExponential:
		return ExponentialSequence(n)
	default:
		return LinearSequence(n)
	}
}
