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

import "testing"

func TestStackPushPeekPop(t *testing.T) {
	s := NewStack()
	if err := s.Push(FromInteger(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(FromInteger(2)); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 2 {
		t.Fatalf("count = %d, want 2", s.Count())
	}

	top, err := s.Peek()
	if err != nil || top.AsInteger() != 2 {
		t.Fatalf("Peek() = (%v, %v), want (2, nil)", top, err)
	}
	if s.Count() != 2 {
		t.Fatal("Peek must not remove the value")
	}

	v, err := s.Pop()
	if err != nil || v.AsInteger() != 2 {
		t.Fatalf("Pop() = (%v, %v), want (2, nil)", v, err)
	}
	if s.Count() != 1 {
		t.Fatalf("count after Pop = %d, want 1", s.Count())
	}
}

func TestStackUnderflow(t *testing.T) {
	s := NewStack()
	if _, err := s.Pop(); err == nil {
		t.Fatal("expected an error popping an empty stack")
	}
	if _, err := s.Peek(); err == nil {
		t.Fatal("expected an error peeking an empty stack")
	}
}

func TestStackGrowsPastInitialCapacity(t *testing.T) {
	s := NewStack()
	const n = 100
	for i := 0; i < n; i++ {
		if err := s.Push(FromInteger(int32(i))); err != nil {
			t.Fatal(err)
		}
	}
	if s.Count() != n {
		t.Fatalf("count = %d, want %d", s.Count(), n)
	}
	for i := n - 1; i >= 0; i-- {
		v, err := s.Pop()
		if err != nil || v.AsInteger() != int32(i) {
			t.Fatalf("Pop() at depth %d = (%v, %v), want (%d, nil)", i, v, err, i)
		}
	}
}

func TestStackShrinksAfterDrainingBelowQuarterCapacity(t *testing.T) {
	s := NewStack()
	const n = 64
	for i := 0; i < n; i++ {
		if err := s.Push(FromInteger(int32(i))); err != nil {
			t.Fatal(err)
		}
	}
	grownCap := cap(s.data)
	if grownCap <= stackInitialCapacity {
		t.Fatalf("expected capacity to grow past %d pushes, got cap=%d", n, grownCap)
	}

	// Pop down past the quarter-capacity mark; the backing array must
	// shrink but never below stackInitialCapacity, and the remaining
	// values must stay intact through the reallocation.
	for s.Count() > 1 {
		if _, err := s.Pop(); err != nil {
			t.Fatal(err)
		}
	}
	if cap(s.data) >= grownCap {
		t.Fatalf("expected capacity to shrink from %d, got %d", grownCap, cap(s.data))
	}
	if cap(s.data) < stackInitialCapacity {
		t.Fatalf("capacity must never shrink below %d, got %d", stackInitialCapacity, cap(s.data))
	}
	v, err := s.Pop()
	if err != nil || v.AsInteger() != 0 {
		t.Fatalf("last remaining value = (%v, %v), want (0, nil)", v, err)
	}
}

func TestStackOverflow(t *testing.T) {
	s := &Stack{data: make([]Value, stackOverflowThreshold)}
	if err := s.Push(FromInteger(1)); err == nil {
		t.Fatal("expected an error pushing past stackOverflowThreshold")
	}
}

func TestStackResetFreesAndShrinks(t *testing.T) {
	s := NewStack()
	for i := 0; i < 50; i++ {
		if err := s.Push(FromInteger(int32(i))); err != nil {
			t.Fatal(err)
		}
	}
	s.Reset()
	if s.Count() != 0 {
		t.Fatalf("count after Reset = %d, want 0", s.Count())
	}
	if cap(s.data) != stackInitialCapacity {
		t.Fatalf("capacity after Reset = %d, want %d", cap(s.data), stackInitialCapacity)
	}
}

func TestStackValuesIsSnapshot(t *testing.T) {
	s := NewStack()
	s.Push(FromInteger(1))
	s.Push(FromInteger(2))
	snap := s.Values()
	if len(snap) != 2 || snap[0].AsInteger() != 1 || snap[1].AsInteger() != 2 {
		t.Fatalf("Values() = %v, want [1 2] bottom first", snap)
	}
	s.Push(FromInteger(3))
	if len(snap) != 2 {
		t.Fatal("Values() must return a snapshot, not a live view")
	}
}
