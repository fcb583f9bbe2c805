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

func TestArrayGetSetBounds(t *testing.T) {
	a := NewArrayFrom([]Value{FromInteger(10), FromInteger(20), FromInteger(30)})
	v, err := a.Get(1)
	if err != nil || v.AsInteger() != 20 {
		t.Fatalf("Get(1) = (%v, %v), want (20, nil)", v, err)
	}
	if err := a.Set(1, FromInteger(99)); err != nil {
		t.Fatal(err)
	}
	v, _ = a.Get(1)
	if v.AsInteger() != 99 {
		t.Fatalf("after Set(1, 99), Get(1) = %d", v.AsInteger())
	}
	if _, err := a.Get(10); err == nil {
		t.Fatal("expected an error indexing out of bounds")
	}
	if err := a.Set(10, FromInteger(1)); err == nil {
		t.Fatal("expected an error setting out of bounds")
	}
}

func TestArraySetAtLengthAppends(t *testing.T) {
	a := NewArray()
	if err := a.Set(0, FromInteger(1)); err != nil {
		t.Fatal(err)
	}
	if a.Length() != 1 {
		t.Fatalf("length = %d, want 1", a.Length())
	}
}

func TestArrayRejectsReferenceValue(t *testing.T) {
	a := NewArray()
	other := NewArray()
	ref := FromReference(NewArrayReference(other, 0))
	if err := a.Set(0, ref); err == nil {
		t.Fatal("expected an error storing a reference value in an array")
	}
}

func TestArrayInsertRemove(t *testing.T) {
	a := NewArrayFrom([]Value{FromInteger(1), FromInteger(3)})
	if err := a.Insert(1, FromInteger(2)); err != nil {
		t.Fatal(err)
	}
	want := []int32{1, 2, 3}
	for i, w := range want {
		v, err := a.Get(i)
		if err != nil || v.AsInteger() != w {
			t.Fatalf("index %d = %v, want %d", i, v, w)
		}
	}
	if err := a.Remove(1); err != nil {
		t.Fatal(err)
	}
	if a.Length() != 2 {
		t.Fatalf("length after Remove = %d, want 2", a.Length())
	}
	v, _ := a.Get(1)
	if v.AsInteger() != 3 {
		t.Fatalf("index 1 after removing index 1 = %d, want 3", v.AsInteger())
	}
}

func TestArrayPushPop(t *testing.T) {
	a := NewArray()
	a.Push(FromInteger(1))
	a.Push(FromInteger(2))
	v, err := a.Pop()
	if err != nil || v.AsInteger() != 2 {
		t.Fatalf("Pop() = (%v, %v), want (2, nil)", v, err)
	}
	if a.Length() != 1 {
		t.Fatalf("length = %d, want 1", a.Length())
	}
	if _, err := NewArray().Pop(); err == nil {
		t.Fatal("expected an error popping an empty array")
	}
}
