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

// Package bucket implements a bump-allocating arena used to back the
// short-lived lifetimes of AST nodes and the ropes of strings built during
// compilation and execution.
//
// A Bucket is a singly linked list of fixed-capacity regions. Partition
// requests are rounded up to 4-byte alignment and served from the head
// region; when the head can't fit a request, a new head region of the same
// capacity is prepended. Objects handed out by Partition live until the
// whole chain is freed with Free; there is no per-object reclamation.
package bucket

import "github.com/pkg/errors"

// Size presets for common allocation needs.
const (
	Tiny   = 1024 * 2
	Small  = 1024 * 4
	Medium = 1024 * 8
	Large  = 1024 * 16
	Huge   = 1024 * 32
)

// Bucket is one fixed-capacity region in the chain.
type Bucket struct {
	next     *Bucket
	data     []byte
	capacity int
	count    int
}

// Allocate returns a new single-region Bucket of the given capacity.
func Allocate(capacity int) (*Bucket, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("bucket: cannot allocate a bucket with zero capacity")
	}
	return &Bucket{data: make([]byte, capacity), capacity: capacity}, nil
}

// Partition carves `amount` bytes (rounded up to a 4-byte boundary) out of
// the bucket chain pointed to by *handle, prepending a fresh region if the
// current head can't fit the request. The returned slice is valid until the
// whole chain is freed.
func Partition(handle **Bucket, amount int) ([]byte, error) {
	if *handle == nil {
		return nil, errors.Errorf("bucket: expected a Bucket, got nil")
	}
	if amount%4 != 0 {
		amount += 4 - amount%4
	}
	head := *handle
	if head.capacity < amount {
		return nil, errors.Errorf("bucket: failed to partition %d bytes from a bucket of %d capacity", amount, head.capacity)
	}
	if head.capacity < head.count+amount {
		fresh, err := Allocate(head.capacity)
		if err != nil {
			return nil, err
		}
		fresh.next = head
		*handle = fresh
		head = fresh
	}
	start := head.count
	head.count += amount
	return head.data[start:head.count:head.count], nil
}

// Free releases every region in the chain and clears the handle.
func Free(handle **Bucket) {
	*handle = nil
}

// Regions reports how many regions are currently chained (mostly useful for
// tests asserting growth behavior).
func Regions(handle *Bucket) int {
	n := 0
	for b := handle; b != nil; b = b.next {
		n++
	}
	return n
}
