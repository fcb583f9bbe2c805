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

// Reference is a non-owning borrow into an Array slot, a Table key, or (via
// a scope's backing Table) a scope cell. It exists only to let INDEX and
// compound-assignment opcodes read-modify-write a container slot without
// duplicating the container.
//
// A Reference stores a locator (which array and which index, or which table
// and which key) rather than a pointer to the slot, and re-resolves it on
// every Get/Set. Because Table and Array are stable Go pointers whose
// resize only swaps an internal slice, the container itself never moves;
// only the slot an entry lives in can change, which a fresh lookup by
// key/index always accounts for.
//
// A Reference must never be stored inside a container or a scope cell: it
// may only live transiently on the evaluation stack, exactly as long as it
// takes to read or write through it.
type Reference struct {
	array *Array
	index int

	table *Table
	key   Value

	isArray bool
}

// NewArrayReference builds a reference to a[index].
func NewArrayReference(a *Array, index int) *Reference {
	return &Reference{array: a, index: index, isArray: true}
}

// NewTableReference builds a reference to t[key]. Used both for table
// values and for scope cells, whose backing storage is itself a Table.
func NewTableReference(t *Table, key Value) *Reference {
	return &Reference{table: t, key: key}
}

// Get resolves the reference and returns the current value at its target.
func (r *Reference) Get() (Value, error) {
	if r.isArray {
		return r.array.Get(r.index)
	}
	return r.table.Lookup(r.key)
}

// Set resolves the reference and overwrites the value at its target.
func (r *Reference) Set(v Value) error {
	if r.isArray {
		return r.array.Set(r.index, v)
	}
	key := r.key
	if stored, ok, err := r.table.LookupKey(r.key); err != nil {
		return err
	} else if ok {
		key = stored
	}
	return r.table.Insert(key, v)
}

// mustNotBeReference guards the "references never live in containers or
// scope cells" invariant at the one boundary where a Value crosses from the
// evaluation stack into storage.
func mustNotBeReference(v Value) error {
	if v.kind == KindReference {
		return errors.New("a reference value cannot be stored; it may only live on the evaluation stack")
	}
	return nil
}
