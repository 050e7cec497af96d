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

import "fmt"

// option provide an interface to do work on Map while it is being created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type hashOption[K comparable, V any] struct {
	hash HashFunc[K]
}

func (op hashOption[K, V]) apply(m *Map[K, V]) {
	m.hash = op.hash
}

// WithHash is an option to specify the hash function to use for a Map[K,V].
// The function must be pure: equal keys must hash to equal digests for the
// lifetime of the map.
func WithHash[K comparable, V any](hash HashFunc[K]) option[K, V] {
	return hashOption[K, V]{hash}
}

type maxLoadFactorOption[K comparable, V any] struct {
	percent uint64
}

func (op maxLoadFactorOption[K, V]) apply(m *Map[K, V]) {
	m.maxLoadPercent = op.percent
}

// WithMaxLoadFactor is an option to specify the load factor bound for a
// Map[K,V] as a percentage: after every mutating operation,
// Len()*100 <= Cap()*percent holds, with growth triggered proactively to
// maintain it. The default is 90. WithMaxLoadFactor panics if percent is
// outside [50, 99].
func WithMaxLoadFactor[K comparable, V any](percent int) option[K, V] {
	if percent < 50 || percent > 99 {
		panic(fmt.Sprintf("dagger: max load factor %d%% outside [50%%, 99%%]", percent))
	}
	return maxLoadFactorOption[K, V]{uint64(percent)}
}

type displacementLimitOption[K comparable, V any] struct {
	limit uint64
}

func (op displacementLimitOption[K, V]) apply(m *Map[K, V]) {
	m.fixedLimit = op.limit
}

// WithDisplacementLimit is an option to pin the soft displacement cap of a
// Map[K,V] to a fixed value instead of the adaptive default of
// max(8, 2*log2(capacity)). An insertion probe that would displace an
// entry past the cap grows the table instead; once the table reaches its
// maximum capacity the cap is waived and only the load factor bound
// applies. WithDisplacementLimit panics if limit < 1.
func WithDisplacementLimit[K comparable, V any](limit int) option[K, V] {
	if limit < 1 {
		panic(fmt.Sprintf("dagger: displacement limit %d < 1", limit))
	}
	return displacementLimitOption[K, V]{uint64(limit)}
}

type maxCapacityOption[K comparable, V any] struct {
	capacity uint64
}

func (op maxCapacityOption[K, V]) apply(m *Map[K, V]) {
	m.maxCapacity = op.capacity
}

// WithMaxCapacity is an option to bound how large the slot array of a
// Map[K,V] may grow. The bound is rounded down to a power of two (and
// never below the minimum capacity of 8). A Put that cannot proceed
// without growing past the bound returns ErrCapacityExceeded.
// WithMaxCapacity panics if n < 1.
func WithMaxCapacity[K comparable, V any](n int) option[K, V] {
	if n < 1 {
		panic(fmt.Sprintf("dagger: max capacity %d < 1", n))
	}
	return maxCapacityOption[K, V]{uint64(n)}
}

// Allocator specifies an interface for allocating and releasing the slot
// memory used by a Map. The default allocator utilizes Go's builtin make()
// and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slot
// arrays be freed then Map.Close must be called in order to ensure Free is
// called for the final array.
type Allocator[K comparable, V any] interface {
	// Alloc should return a slice equivalent to make([]Slot[K,V], n).
	Alloc(n int) []Slot[K, V]

	// Free can optionally release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by Alloc.
	Free(v []Slot[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) Alloc(n int) []Slot[K, V] {
	return make([]Slot[K, V], n)
}

func (defaultAllocator[K, V]) Free(v []Slot[K, V]) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}
