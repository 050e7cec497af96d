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

import "hash/maphash"

// HashFunc turns a key into a 64-bit digest. It must be deterministic and
// side-effect-free.
type HashFunc[K comparable] func(key K) uint64

// defaultHashFunc returns a hasher backed by hash/maphash with a
// per-table random seed, which defends against hash-flooding the same way
// Go's builtin map does.
func defaultHashFunc[K comparable]() HashFunc[K] {
	seed := maphash.MakeSeed()
	return func(key K) uint64 {
		return maphash.Comparable(seed, key)
	}
}
