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

// Package dagger is a Go implementation of Robin Hood hashing as described
// in Pedro Celis' 1986 thesis and popularized by
// https://codecapsule.com/2013/11/11/robin-hood-hashing/. See also:
// https://www.sebastiansylvan.com/post/robin-hood-hashing-should-be-your-default-hash-table-implementation/.
//
// # Robin Hood hashing
//
// A dagger.Map is a hash table mapping keys to values, similar to Go's
// builtin map type. It uses open-addressing with linear probing to handle
// collisions. The twist that distinguishes Robin Hood hashing from plain
// linear probing is the insertion rule: every resident entry remembers its
// displacement, the distance (in slots, wrapping at the end of the array)
// between the slot it occupies and its ideal home slot hash(key)&mask. When
// an insertion probe encounters a resident whose displacement is smaller
// than the distance the incoming entry has already traveled, the incoming
// entry is "poor" relative to the "rich" resident: the two swap, and the
// evicted resident continues probing forward in the incoming entry's place.
// Taking from the rich and giving to the poor equalizes probe lengths
// across the table, which keeps the variance of lookup cost low even under
// adversarial key distributions.
//
// The displacement bookkeeping pays for itself twice more:
//
//   - Lookups can stop early. Displacements encountered along a probe
//     sequence are non-decreasing in any slot that could hold the sought
//     key, so the moment a probe sees a resident displaced less than the
//     distance the probe itself has traveled, the key cannot exist farther
//     along and the lookup reports absent without scanning to the next
//     empty slot.
//
//   - Deletion needs no tombstones. Removing an entry shifts the
//     following cluster members backward one slot each (decrementing their
//     displacements) until a slot that is empty or already home is reached.
//     Every slot is therefore always either empty or live, and the
//     early-exit lookup property above is preserved forever rather than
//     decaying as deletions accumulate.
//
// The table's capacity is always a power of two so that the ideal home
// slot can be computed with a mask instead of a modulo. Two policies bound
// the worst case proactively rather than tolerating it: the table grows
// when its load factor would exceed a configured bound (90% by default),
// and it also grows when any insertion probe travels farther than a soft
// displacement cap (2*log2(capacity) by default). The second trigger is
// the defining design choice: it converts rare pathological probe chains
// into a resize instead of letting them accumulate, so the worst-case
// probe length stays bounded by the cap rather than by luck.
//
// # Implementation
//
// The table is a single flat []Slot array; entries are stored inline and
// indexed by integer, never heap-allocated per node. Each slot caches the
// key's 64-bit digest, so growing the table never recomputes hashes, and
// stores displacement-plus-one ("dib", distance from initial bucket) with
// zero marking an empty slot, so emptiness needs no separate tag. By
// default keys are hashed with a per-table seeded hash/maphash hasher; a
// different hash function can be supplied with WithHash.
package dagger

import (
	"errors"
	"fmt"
	"strings"
)

const (
	debug = false

	// minCapacity is the smallest slot array ever allocated. Requested
	// capacities (including 0) are rounded up to it.
	minCapacity = 8
	// defaultMaxLoadPercent is the load factor bound enforced after every
	// mutating operation: count*100 <= capacity*maxLoadPercent.
	defaultMaxLoadPercent = 90
	// minDisplacementLimit floors the adaptive displacement cap so that
	// tiny tables, where 2*log2(capacity) is smaller than the capacity
	// itself, do not grow on probe chains they can trivially absorb.
	minDisplacementLimit = 8
	// defaultMaxCapacity bounds growth when WithMaxCapacity is not used.
	// It is far beyond any allocatable slot array; its role is to keep the
	// load factor arithmetic safely inside uint64.
	defaultMaxCapacity = 1 << 56

	// noDisplacementLimit disables the soft cap once the table can no
	// longer grow.
	noDisplacementLimit = ^uint64(0)
)

// ErrCapacityExceeded is returned by Put when inserting another entry
// would violate the load factor bound and the table is already at its
// maximum permitted capacity. The table is left unchanged.
var ErrCapacityExceeded = errors.New("dagger: table capacity exceeded")

// Slot holds a key and value, the cached 64-bit digest of the key, and the
// entry's displacement from its home slot. An empty slot has dib==0; an
// occupied slot has dib==displacement+1.
type Slot[K comparable, V any] struct {
	key    K
	value  V
	digest uint64
	dib    uint64
}

// Map is an unordered map from keys to values with Put, Get, Has, Delete,
// and All operations, built on Robin Hood displacement hashing. By
// default, a Map[K,V] hashes keys with a per-table seeded hash/maphash
// hasher, though a different hash function can be specified using the
// WithHash option.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	// The hash function applied to keys of type K. Assumed pure: equal
	// keys must produce equal digests for the lifetime of the table.
	hash HashFunc[K]
	// The allocator to use for the slots array.
	allocator Allocator[K, V]
	// slots is capacity in length. The capacity is always a power of two
	// (>= minCapacity) so that i%capacity reduces to a bitwise &.
	slots []Slot[K, V]
	mask  uint64
	// The number of occupied slots (i.e. the number of elements in the
	// map).
	count int
	// limit is the soft displacement cap for the current capacity. An
	// insertion probe that travels past it triggers growth instead of
	// completing, unless the cap has been waived (see limitWaived).
	limit uint64
	// limitWaived records that the table reached maxCapacity and can no
	// longer buy shorter probe chains by growing. While set, insertion
	// probes run uncapped; only the load factor bound gates inserts.
	limitWaived bool
	// Policy knobs, set once at construction via options.
	maxLoadPercent uint64
	fixedLimit     uint64
	maxCapacity    uint64
}

// New constructs a new Map with the specified initial capacity, rounded up
// to the smallest power of two >= max(initialCapacity, 8). The zero value
// for a Map is not usable.
func New[K comparable, V any](initialCapacity int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{
		hash:           defaultHashFunc[K](),
		allocator:      defaultAllocator[K, V]{},
		maxLoadPercent: defaultMaxLoadPercent,
		maxCapacity:    defaultMaxCapacity,
	}

	for _, op := range options {
		op.apply(m)
	}

	// The maximum capacity acts as a bound on the power-of-two growth
	// sequence, so normalize it down to a power of two itself (never below
	// the minimum).
	m.maxCapacity = max(uint64(1)<<log2Floor(m.maxCapacity), minCapacity)

	capacity := uint64(minCapacity)
	if initialCapacity > minCapacity {
		capacity = nextPowerOfTwo(uint64(initialCapacity))
	}
	capacity = min(capacity, m.maxCapacity)

	m.slots = m.allocator.Alloc(int(capacity))
	m.mask = capacity - 1
	m.limit = m.displacementLimit(capacity)

	m.checkInvariants()
	return m
}

// Close closes the map, releasing its slot array back to the configured
// allocator. It is unnecessary to close a map using the default allocator.
// It is invalid to use a Map after it has been closed, though Close itself
// is idempotent.
func (m *Map[K, V]) Close() {
	if m.allocator != nil && m.slots != nil {
		m.allocator.Free(m.slots)
		m.slots = nil
		m.mask = 0
		m.count = 0
	}
	m.allocator = nil
}

// Put inserts an entry into the map, overwriting the value in place if an
// entry with the same key already exists. Put returns
// ErrCapacityExceeded, leaving the map unchanged, if the insert would
// violate the load factor bound and the map is already at its maximum
// permitted capacity.
func (m *Map[K, V]) Put(key K, value V) error {
	// Put is find composed with uncheckedPut. We perform find to see if
	// the key is already present. If it is, we overwrite the existing
	// value in place (the slot's digest and displacement are unchanged).
	// If it isn't, we ensure room for one more entry and then perform an
	// uncheckedPut, which inserts an entry known not to be in the table.
	digest := m.hash(key)
	if i, ok := m.find(digest, key); ok {
		m.slots[i].value = value
		m.checkInvariants()
		return nil
	}

	// Grow before placing anything so that a table at its capacity bound
	// fails cleanly: no slot has been touched when the error returns.
	if uint64(m.count)+1 > m.maxCount() {
		if err := m.grow(uint64(len(m.slots)) * 2); err != nil {
			return err
		}
	}

	m.uncheckedPut(digest, key, value)
	m.count++
	m.checkInvariants()
	return nil
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present. Get never mutates the map.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	digest := m.hash(key)
	if i, ok := m.find(digest, key); ok {
		return m.slots[i].value, true
	}
	return value, false
}

// Has reports whether the specified key is present in the map.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.find(m.hash(key), key)
	return ok
}

// Delete deletes the entry corresponding to the specified key from the
// map, reporting whether the key was present. Deleting an absent key is a
// noop.
func (m *Map[K, V]) Delete(key K) bool {
	digest := m.hash(key)
	i, ok := m.find(digest, key)
	if !ok {
		return false
	}

	// Backward-shift deletion: pull each following cluster member back one
	// slot, moving it one step closer to its home, until reaching a slot
	// that is empty or whose resident is already home (dib==1). The final
	// vacated slot becomes empty, so no tombstone ever exists and the
	// early-exit property of find is preserved.
	for {
		j := (i + 1) & m.mask
		if m.slots[j].dib <= 1 {
			m.slots[i] = Slot[K, V]{}
			break
		}
		m.slots[i] = m.slots[j]
		m.slots[i].dib--
		i = j
	}
	m.count--

	if debug {
		fmt.Printf("delete(%v): index=%d count=%d\n", key, i, m.count)
	}

	m.checkInvariants()
	return true
}

// Clear removes all entries from the map, retaining the current capacity.
func (m *Map[K, V]) Clear() {
	clear(m.slots)
	m.count = 0
	m.checkInvariants()
}

// All calls yield sequentially for each key and value present in the map.
// If yield returns false, iteration stops. Iteration order is a function
// of the current capacity and the hash function; it is not insertion order
// and is not stable across resizes or deletions; callers must not depend
// on it.
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	// Snapshot the slots so that iteration remains valid if the map is
	// resized during iteration.
	slots := m.slots
	for i := range slots {
		if slots[i].dib != 0 {
			if !yield(slots[i].key, slots[i].value) {
				return
			}
		}
	}
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.count
}

// Cap returns the current length of the map's slot array.
func (m *Map[K, V]) Cap() int {
	return len(m.slots)
}

// find locates the slot holding key, walking forward from the key's home
// slot. The walk stops as soon as it sees an empty slot or a resident
// displaced less than the distance the walk itself has traveled: in a
// Robin Hood table displacements along any probe sequence that could hold
// the key are non-decreasing, so the key cannot exist farther along.
func (m *Map[K, V]) find(digest uint64, key K) (uint64, bool) {
	i := digest & m.mask
	dib := uint64(1)
	for {
		s := &m.slots[i]
		if s.dib < dib {
			// Empty (dib==0), or the resident is richer than the probe is
			// long. Either way the key is absent.
			return 0, false
		}
		if s.digest == digest && s.key == key {
			return i, true
		}
		dib++
		i = (i + 1) & m.mask
	}
}

// maxCount returns the largest entry count permitted at the current
// capacity by the load factor bound.
func (m *Map[K, V]) maxCount() uint64 {
	return uint64(len(m.slots)) * m.maxLoadPercent / 100
}

// effectiveLimit returns the displacement cap insertion probes must honor
// at the current capacity.
func (m *Map[K, V]) effectiveLimit() uint64 {
	if m.limitWaived {
		return noDisplacementLimit
	}
	return m.limit
}

// displacementLimit returns the soft displacement cap for a table of the
// given capacity: the configured fixed limit if one was set, otherwise
// max(minDisplacementLimit, 2*log2(capacity)).
func (m *Map[K, V]) displacementLimit(capacity uint64) uint64 {
	if m.fixedLimit > 0 {
		return m.fixedLimit
	}
	return max(minDisplacementLimit, 2*log2Floor(capacity))
}

// uncheckedPut inserts an entry known not to be in the table (violating
// this requirement will cause the table to behave erratically). The caller
// has already ensured the load factor bound admits one more entry.
func (m *Map[K, V]) uncheckedPut(digest uint64, key K, value V) {
	s := Slot[K, V]{key: key, value: value, digest: digest, dib: 1}
	for {
		carried, ok := place(m.slots, m.mask, m.effectiveLimit(), s)
		if ok {
			return
		}

		// The probe traveled past the displacement cap. Grow and retry
		// with the entry the walk was carrying when it stopped: everything
		// placed so far (including any residents the walk swapped in) is
		// rehashed by the resize, so no entry is lost. If the table is
		// already as large as it is permitted to get, waive the soft cap
		// rather than fail an insert that still fits under the load
		// factor.
		if debug {
			fmt.Printf("put(%v): displacement %d exceeded limit %d at capacity %d\n",
				key, carried.dib-1, m.limit, len(m.slots))
		}
		if err := m.grow(uint64(len(m.slots)) * 2); err != nil {
			m.limitWaived = true
		}
		s = carried
		s.dib = 1
	}
}

// place probes slots for a position for entry s (whose dib must be 1),
// swapping with any richer resident encountered, per the Robin Hood
// insertion rule. It returns ok=true once the entry in hand lands in an
// empty slot. If the entry in hand is ever displaced past limit, place
// stops and returns it with ok=false; the array retains every entry it
// held before the call, but not the one returned.
func place[K comparable, V any](slots []Slot[K, V], mask, limit uint64, s Slot[K, V]) (Slot[K, V], bool) {
	i := s.digest & mask
	for {
		r := &slots[i]
		if r.dib == 0 {
			*r = s
			return Slot[K, V]{}, true
		}
		if r.dib < s.dib {
			// The resident is richer (closer to home) than the entry in
			// hand: steal its slot and carry the resident forward instead.
			s, *r = *r, s
		}
		s.dib++
		if s.dib-1 > limit {
			return s, false
		}
		i = (i + 1) & mask
	}
}

// grow replaces the slot array with one of newCapacity (a power of two)
// slots, re-inserting every occupied entry in slot order against the new
// array. Displacements are recomputed from scratch per entry since they
// are capacity-dependent; the cached digests make this a mask-and-probe
// per entry, with no rehashing of keys. If re-insertion trips the new
// capacity's displacement cap, the capacity is doubled again, up to
// maxCapacity, past which the cap is waived instead.
//
// grow returns ErrCapacityExceeded, leaving the map untouched, if
// newCapacity already exceeds maxCapacity. The replacement array is built
// completely before being installed, so a failure (or an allocation panic)
// part way through is never observable.
func (m *Map[K, V]) grow(newCapacity uint64) error {
	if newCapacity > m.maxCapacity {
		return ErrCapacityExceeded
	}

	for {
		limit := m.displacementLimit(newCapacity)
		waived := false
		slots := m.allocator.Alloc(int(newCapacity))
		if !m.rehashInto(slots, newCapacity-1, limit) {
			m.allocator.Free(slots)
			if newCapacity*2 <= m.maxCapacity {
				newCapacity *= 2
				continue
			}
			// The largest permitted capacity still cannot satisfy the soft
			// cap. Rebuild without it; the load factor bound still holds.
			slots = m.allocator.Alloc(int(newCapacity))
			m.rehashInto(slots, newCapacity-1, noDisplacementLimit)
			waived = true
		}

		if debug {
			fmt.Printf("grow: capacity=%d->%d limit=%d waived=%t\n",
				len(m.slots), newCapacity, limit, waived)
		}

		old := m.slots
		m.slots = slots
		m.mask = newCapacity - 1
		m.limit = limit
		m.limitWaived = waived
		m.allocator.Free(old)
		return nil
	}
}

// rehashInto re-inserts every occupied entry of the current slot array
// into slots, honoring limit. It reports whether every entry was placed;
// on false the destination array is abandoned by the caller.
func (m *Map[K, V]) rehashInto(slots []Slot[K, V], mask, limit uint64) bool {
	for i := range m.slots {
		if m.slots[i].dib == 0 {
			continue
		}
		s := m.slots[i]
		s.dib = 1
		if _, ok := place(slots, mask, limit, s); !ok {
			return false
		}
	}
	return true
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if len(m.slots) < minCapacity || len(m.slots)&(len(m.slots)-1) != 0 {
			panic(fmt.Sprintf("invariant failed: capacity %d is not a power of two >= %d\n%s",
				len(m.slots), minCapacity, m.debugString()))
		}
		if uint64(len(m.slots))-1 != m.mask {
			panic(fmt.Sprintf("invariant failed: mask %x does not match capacity %d\n%s",
				m.mask, len(m.slots), m.debugString()))
		}

		keys := make(map[K]struct{}, m.count)
		var count int
		for i := range m.slots {
			s := &m.slots[i]
			if s.dib == 0 {
				continue
			}
			count++

			if d := m.hash(s.key); d != s.digest {
				panic(fmt.Sprintf("invariant failed: slot(%d): cached digest %016x != hash(%v)=%016x\n%s",
					i, s.digest, s.key, d, m.debugString()))
			}
			if home := s.digest & m.mask; (home+s.dib-1)&m.mask != uint64(i) {
				panic(fmt.Sprintf("invariant failed: slot(%d): home %d + displacement %d does not reach slot\n%s",
					i, home, s.dib-1, m.debugString()))
			}
			if !m.limitWaived && s.dib-1 > m.limit {
				panic(fmt.Sprintf("invariant failed: slot(%d): displacement %d exceeds limit %d\n%s",
					i, s.dib-1, m.limit, m.debugString()))
			}
			if _, ok := keys[s.key]; ok {
				panic(fmt.Sprintf("invariant failed: slot(%d): duplicate key %v\n%s",
					i, s.key, m.debugString()))
			}
			keys[s.key] = struct{}{}

			// Every resident must be reachable through the early-exit walk.
			if j, ok := m.find(s.digest, s.key); !ok || j != uint64(i) {
				panic(fmt.Sprintf("invariant failed: slot(%d): %v not found by probe\n%s",
					i, s.key, m.debugString()))
			}
		}

		if count != m.count {
			panic(fmt.Sprintf("invariant failed: found %d occupied slots, but count is %d\n%s",
				count, m.count, m.debugString()))
		}
		if uint64(m.count) > m.maxCount() {
			panic(fmt.Sprintf("invariant failed: count %d exceeds load factor bound %d at capacity %d\n%s",
				m.count, m.maxCount(), len(m.slots), m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  count=%d  limit=%d  waived=%t\n",
		len(m.slots), m.count, m.limit, m.limitWaived)
	for i := range m.slots {
		s := &m.slots[i]
		if s.dib == 0 {
			fmt.Fprintf(&buf, "  %4d: empty\n", i)
		} else {
			fmt.Fprintf(&buf, "  %4d: %v [digest=%016x home=%d displacement=%d]\n",
				i, s.key, s.digest, s.digest&m.mask, s.dib-1)
		}
	}
	return buf.String()
}
