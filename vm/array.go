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

// Array is a growable, zero-indexed sequence of Values, the aggregate
// counterpart to Table. Unlike Table it needs no hashing: index bounds are
// the only thing that can go wrong.
type Array struct {
	items []Value
}

// NewArray allocates an empty array.
func NewArray() *Array { return &Array{} }

// NewArrayFrom wraps an existing slice of Values without copying.
func NewArrayFrom(items []Value) *Array { return &Array{items: items} }

// nextPowerOfTwo rounds n up to the nearest power of two, minimum 1.
func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// NewArrayWithCount allocates an array of count null elements whose backing
// capacity is rounded up to the next power of two.
func NewArrayWithCount(count int) *Array {
	return &Array{items: make([]Value, count, nextPowerOfTwo(count))}
}

// Length returns the element count.
func (a *Array) Length() int { return len(a.items) }

// Get returns the element at index, or an error if out of bounds.
func (a *Array) Get(index int) (Value, error) {
	if index < 0 || index >= len(a.items) {
		return Value{}, errors.Errorf("array index %d out of bounds (length %d)", index, len(a.items))
	}
	return a.items[index], nil
}

// Set overwrites the element at index, or appends if index == Length().
// Any other out-of-range index is an error.
func (a *Array) Set(index int, v Value) error {
	if err := mustNotBeReference(v); err != nil {
		return err
	}
	switch {
	case index == len(a.items):
		a.items = append(a.items, v)
		return nil
	case index < 0 || index > len(a.items):
		return errors.Errorf("array index %d out of bounds (length %d)", index, len(a.items))
	default:
		a.items[index] = v
		return nil
	}
}

// Push appends v to the end of the array.
func (a *Array) Push(v Value) { a.items = append(a.items, v) }

// Pop removes and returns the last element.
func (a *Array) Pop() (Value, error) {
	if len(a.items) == 0 {
		return Value{}, errors.New("pop from an empty array")
	}
	v := a.items[len(a.items)-1]
	a.items = a.items[:len(a.items)-1]
	return v, nil
}

// Insert shifts every element at or after index one slot forward and
// stores v at index. index == Length() is equivalent to Push.
func (a *Array) Insert(index int, v Value) error {
	if err := mustNotBeReference(v); err != nil {
		return err
	}
	if index < 0 || index > len(a.items) {
		return errors.Errorf("array index %d out of bounds (length %d)", index, len(a.items))
	}
	a.items = append(a.items, Value{})
	copy(a.items[index+1:], a.items[index:])
	a.items[index] = v
	return nil
}

// Remove deletes the element at index, shifting subsequent elements back.
func (a *Array) Remove(index int) error {
	if index < 0 || index >= len(a.items) {
		return errors.Errorf("array index %d out of bounds (length %d)", index, len(a.items))
	}
	copy(a.items[index:], a.items[index+1:])
	a.items = a.items[:len(a.items)-1]
	return nil
}

// Each calls fn for every element in order.
func (a *Array) Each(fn func(index int, v Value)) {
	for i, v := range a.items {
		fn(i, v)
	}
}

func stringifyArray(a *Array) string {
	s := "["
	for i, v := range a.items {
		if i > 0 {
			s += ", "
		}
		s += Stringify(v)
	}
	return s + "]"
}
