// Copyright 2026 The Dagger Authors
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

package dagger

import "math/bits"

// nextPowerOfTwo returns the smallest power of two >= v, treating 0 and 1
// as already rounded (both map to 1).
func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return uint64(1) << bits.Len64(v-1)
}

// log2Floor returns floor(log2(v)), with log2Floor(0) == 0.
func log2Floor(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	return uint64(bits.Len64(v) - 1)
}
