// This file is part of xvr - https://github.com/arfyslowy/xvr
//
// Copyright 2024 The Xvr Authors
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

package vm

import "github.com/pkg/errors"

// tableEntry is one Robin-Hood slot.
type tableEntry struct {
	key   Value
	value Value
	psl   uint32
}

// Table is an open-addressed Robin-Hood hash table keyed by Value. Capacity
// is always a power of two; it resizes when the load factor exceeds 0.8.
//
// A *Table is a stable identity: resizing replaces the internal entries
// slice in place, so a *Table held by a Reference never dangles across a
// resize. A Reference still re-resolves by key on every access, since
// Robin-Hood stealing can relocate an entry within the same backing array
// on any insert.
type Table struct {
	entries []tableEntry
	count   int
	minPsl  uint32
	maxPsl  uint32
}

const (
	tableInitialCapacity   = 8
	tableExpansionRate     = 2
	tableExpansionThresh   = 0.8
)

// NewTable allocates an empty table at the initial capacity.
func NewTable() *Table {
	return &Table{entries: make([]tableEntry, tableInitialCapacity)}
}

// NewTableWithCapacity allocates an empty table sized for at least n
// entries, rounded up to the next power of two and never below the initial
// capacity.
func NewTableWithCapacity(n int) *Table {
	capacity := tableInitialCapacity
	for capacity < n {
		capacity *= tableExpansionRate
	}
	return &Table{entries: make([]tableEntry, capacity)}
}

func badTableKey(key Value) error {
	if key.IsNull() || key.IsBoolean() {
		return errors.New("bad table key")
	}
	return nil
}

func (t *Table) probeAndInsert(key, value Value) error {
	h, err := Hash(key)
	if err != nil {
		return err
	}
	probe := h % uint32(len(t.entries))
	entry := tableEntry{key: key, value: value, psl: 0}
	for {
		eq, err := Equal(t.entries[probe].key, key)
		if err != nil {
			return err
		}
		if eq {
			t.entries[probe] = entry
			t.trackPsl(entry.psl)
			return nil
		}
		if t.entries[probe].key.IsNull() {
			t.entries[probe] = entry
			t.count++
			t.trackPsl(entry.psl)
			return nil
		}
		if t.entries[probe].psl < entry.psl {
			t.entries[probe], entry = entry, t.entries[probe]
		}
		probe = (probe + 1) % uint32(len(t.entries))
		entry.psl++
	}
}

func (t *Table) trackPsl(psl uint32) {
	if psl < t.minPsl {
		t.minPsl = psl
	}
	if psl > t.maxPsl {
		t.maxPsl = psl
	}
}

func (t *Table) adjustCapacity(newCapacity int) error {
	old := t.entries
	t.entries = make([]tableEntry, newCapacity)
	t.count = 0
	t.minPsl = 0
	t.maxPsl = 0
	for _, e := range old {
		if !e.key.IsNull() {
			if err := t.probeAndInsert(e.key, e.value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Insert adds or replaces the value bound to key. Before inserting, it
// resizes to double capacity if the load factor already exceeds 0.8.
func (t *Table) Insert(key, value Value) error {
	if err := badTableKey(key); err != nil {
		return err
	}
	if err := mustNotBeReference(value); err != nil {
		return err
	}
	if float64(t.count) > float64(len(t.entries))*tableExpansionThresh {
		if err := t.adjustCapacity(len(t.entries) * tableExpansionRate); err != nil {
			return err
		}
	}
	return t.probeAndInsert(key, value)
}

// Lookup returns the value bound to key, or Null() if key is unbound.
func (t *Table) Lookup(key Value) (Value, error) {
	v, ok, err := t.LookupEntry(key)
	if err != nil || !ok {
		return Value{}, err
	}
	return v, nil
}

// LookupEntry is Lookup plus an explicit existence flag, needed to
// distinguish "declared with value null" from "never declared".
func (t *Table) LookupEntry(key Value) (Value, bool, error) {
	if err := badTableKey(key); err != nil {
		return Value{}, false, err
	}
	h, err := Hash(key)
	if err != nil {
		return Value{}, false, err
	}
	probe := h % uint32(len(t.entries))
	for {
		eq, err := Equal(t.entries[probe].key, key)
		if err != nil {
			return Value{}, false, err
		}
		if eq {
			return t.entries[probe].value, true, nil
		}
		if t.entries[probe].key.IsNull() {
			return Null(), false, nil
		}
		probe = (probe + 1) % uint32(len(t.entries))
	}
}

// LookupKey returns the key Value actually stored for an equal key,
// preserving any metadata attached to it (a name string's declared type and
// const flag, in particular) that a freshly-constructed lookup key lacks.
func (t *Table) LookupKey(key Value) (Value, bool, error) {
	if err := badTableKey(key); err != nil {
		return Value{}, false, err
	}
	h, err := Hash(key)
	if err != nil {
		return Value{}, false, err
	}
	probe := h % uint32(len(t.entries))
	for {
		eq, err := Equal(t.entries[probe].key, key)
		if err != nil {
			return Value{}, false, err
		}
		if eq {
			return t.entries[probe].key, true, nil
		}
		if t.entries[probe].key.IsNull() {
			return Value{}, false, nil
		}
		probe = (probe + 1) % uint32(len(t.entries))
	}
}

// Remove deletes key from the table via back-shift deletion: each following
// entry is moved back one slot (its PSL lowered by one) until an empty slot
// or an entry already at its home slot is reached. It is a no-op if key is
// not present.
func (t *Table) Remove(key Value) error {
	if err := badTableKey(key); err != nil {
		return err
	}
	h, err := Hash(key)
	if err != nil {
		return err
	}
	cap32 := uint32(len(t.entries))
	probe := h % cap32
	for {
		eq, err := Equal(t.entries[probe].key, key)
		if err != nil {
			return err
		}
		if eq {
			break
		}
		if t.entries[probe].key.IsNull() {
			return nil
		}
		probe = (probe + 1) % cap32
	}

	wipe := probe
	for u := (probe + 1) % cap32; !t.entries[u].key.IsNull() && t.entries[u].psl > 0; u = (u + 1) % cap32 {
		t.entries[wipe] = t.entries[u]
		t.entries[wipe].psl--
		wipe = u
	}

	t.entries[wipe] = tableEntry{key: Null(), value: Null()}
	t.count--
	t.recomputePslBounds()
	return nil
}

// recomputePslBounds rescans every occupied slot to restore the min/max-PSL
// invariant after back-shift deletion, which lowers some entries' PSL but
// never updates the cached bounds itself.
func (t *Table) recomputePslBounds() {
	t.minPsl, t.maxPsl = 0, 0
	first := true
	for _, e := range t.entries {
		if e.key.IsNull() {
			continue
		}
		if first {
			t.minPsl, t.maxPsl = e.psl, e.psl
			first = false
			continue
		}
		if e.psl < t.minPsl {
			t.minPsl = e.psl
		}
		if e.psl > t.maxPsl {
			t.maxPsl = e.psl
		}
	}
}

// Count returns the number of bound keys.
func (t *Table) Count() int { return t.count }

// Capacity returns the current backing array size (always a power of two).
func (t *Table) Capacity() int { return len(t.entries) }

// MaxPsl returns the highest probe-sequence-length currently stored,
// exposed for the table-PSL-bound testable property.
func (t *Table) MaxPsl() uint32 { return t.maxPsl }

// Each calls fn for every bound (key, value) pair, in slot order.
func (t *Table) Each(fn func(key, value Value)) {
	for _, e := range t.entries {
		if !e.key.IsNull() {
			fn(e.key, e.value)
		}
	}
}

func stringifyTable(t *Table) string {
	s := "{"
	first := true
	t.Each(func(k, v Value) {
		if !first {
			s += ", "
		}
		first = false
		s += Stringify(k) + ": " + Stringify(v)
	})
	return s + "}"
}
