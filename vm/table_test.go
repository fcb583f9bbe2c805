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

func TestTableInsertLookupRemove(t *testing.T) {
	tb := NewTable()
	if err := tb.Insert(FromInteger(1), FromInteger(100)); err != nil {
		t.Fatal(err)
	}
	v, ok, err := tb.LookupEntry(FromInteger(1))
	if err != nil || !ok {
		t.Fatalf("lookup failed: ok=%v err=%v", ok, err)
	}
	if v.AsInteger() != 100 {
		t.Fatalf("got %d, want 100", v.AsInteger())
	}
	if err := tb.Remove(FromInteger(1)); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := tb.LookupEntry(FromInteger(1)); ok {
		t.Fatal("key should be gone after Remove")
	}
}

func TestTableRejectsNullAndBooleanKeys(t *testing.T) {
	tb := NewTable()
	if err := tb.Insert(Null(), FromInteger(1)); err == nil {
		t.Fatal("expected an error inserting a null key")
	}
	if err := tb.Insert(FromBoolean(true), FromInteger(1)); err == nil {
		t.Fatal("expected an error inserting a boolean key")
	}
}

func TestTableRejectsReferenceValue(t *testing.T) {
	tb := NewTable()
	other := NewTable()
	ref := FromReference(NewTableReference(other, FromInteger(1)))
	if err := tb.Insert(FromInteger(1), ref); err == nil {
		t.Fatal("expected an error storing a reference value in a table")
	}
}

func TestTableOverwriteDoesNotGrowCount(t *testing.T) {
	tb := NewTable()
	if err := tb.Insert(FromInteger(1), FromInteger(1)); err != nil {
		t.Fatal(err)
	}
	if err := tb.Insert(FromInteger(1), FromInteger(2)); err != nil {
		t.Fatal(err)
	}
	if tb.Count() != 1 {
		t.Fatalf("count = %d, want 1 after overwriting the same key", tb.Count())
	}
	v, err := tb.Lookup(FromInteger(1))
	if err != nil {
		t.Fatal(err)
	}
	if v.AsInteger() != 2 {
		t.Fatalf("got %d, want 2 (overwritten)", v.AsInteger())
	}
}

func TestTableResizesUnderLoad(t *testing.T) {
	tb := NewTable()
	const n = 200
	for i := 0; i < n; i++ {
		if err := tb.Insert(FromInteger(int32(i)), FromInteger(int32(i*2))); err != nil {
			t.Fatal(err)
		}
	}
	if tb.Count() != n {
		t.Fatalf("count = %d, want %d", tb.Count(), n)
	}
	for i := 0; i < n; i++ {
		v, ok, err := tb.LookupEntry(FromInteger(int32(i)))
		if err != nil || !ok {
			t.Fatalf("key %d missing after resizes: ok=%v err=%v", i, ok, err)
		}
		if v.AsInteger() != int32(i*2) {
			t.Fatalf("key %d = %d, want %d", i, v.AsInteger(), i*2)
		}
	}
	// capacity must always be a power of two.
	cap := tb.Capacity()
	if cap&(cap-1) != 0 {
		t.Fatalf("capacity %d is not a power of two", cap)
	}
}

func TestTablePslBound(t *testing.T) {
	tb := NewTable()
	for i := 0; i < 64; i++ {
		if err := tb.Insert(FromInteger(int32(i)), FromInteger(int32(i))); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 32; i++ {
		if err := tb.Remove(FromInteger(int32(i))); err != nil {
			t.Fatal(err)
		}
	}
	for i := 32; i < 64; i++ {
		_, ok, err := tb.LookupEntry(FromInteger(int32(i)))
		if err != nil || !ok {
			t.Fatalf("key %d should still be present", i)
		}
	}
	// Invariant: the highest PSL stored in any entry equals MaxPsl, and no
	// entry with PSL p has an empty slot within probe distance < p.
	var observedMax uint32
	for _, e := range tb.entries {
		if e.key.IsNull() {
			continue
		}
		if e.psl > observedMax {
			observedMax = e.psl
		}
	}
	if observedMax != tb.MaxPsl() {
		t.Fatalf("observed max PSL %d does not match MaxPsl() %d", observedMax, tb.MaxPsl())
	}
}

func TestTableRemoveMissingKeyIsNoop(t *testing.T) {
	tb := NewTable()
	if err := tb.Remove(FromInteger(42)); err != nil {
		t.Fatalf("removing an absent key must not error: %v", err)
	}
}

func TestTableStringKeys(t *testing.T) {
	b := newTestBucket(t)
	tb := NewTable()
	ka, _ := CreateString(b, "a")
	kb, _ := CreateString(b, "b")
	if err := tb.Insert(FromString(ka), FromInteger(1)); err != nil {
		t.Fatal(err)
	}
	if err := tb.Insert(FromString(kb), FromInteger(2)); err != nil {
		t.Fatal(err)
	}
	lookupKey, _ := CreateString(b, "b")
	v, ok, err := tb.LookupEntry(FromString(lookupKey))
	if err != nil || !ok {
		t.Fatalf("lookup by equal-but-distinct string key failed: ok=%v err=%v", ok, err)
	}
	if v.AsInteger() != 2 {
		t.Fatalf("got %d, want 2", v.AsInteger())
	}
}
