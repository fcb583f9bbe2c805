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

import (
	"testing"

	"github.com/arfyslowy/xvr/bucket"
)

func TestIsTruthy(t *testing.T) {
	cases := []struct {
		name    string
		v       Value
		want    bool
		wantErr bool
	}{
		{"false is falsy", FromBoolean(false), false, false},
		{"true is truthy", FromBoolean(true), true, false},
		{"zero integer is truthy", FromInteger(0), true, false},
		{"empty string is truthy", mustString(t, ""), true, false},
		{"null is an error", Null(), false, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := c.v.IsTruthy()
			if c.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want {
				t.Fatalf("IsTruthy() = %v, want %v", got, c.want)
			}
		})
	}
}

func mustString(t *testing.T, s string) Value {
	t.Helper()
	b, err := bucket.Allocate(256)
	if err != nil {
		t.Fatal(err)
	}
	str, err := CreateString(&b, s)
	if err != nil {
		t.Fatal(err)
	}
	return FromString(str)
}

func TestEqualCrossNumeric(t *testing.T) {
	eq, err := Equal(FromInteger(3), FromFloat(3.0))
	if err != nil {
		t.Fatal(err)
	}
	if !eq {
		t.Fatal("integer 3 should equal float 3.0")
	}
}

func TestEqualUnrelatedKindsNeverError(t *testing.T) {
	eq, err := Equal(FromInteger(1), FromBoolean(true))
	if err != nil {
		t.Fatalf("unrelated kinds must compare unequal, not error: %v", err)
	}
	if eq {
		t.Fatal("an int and a bool must never be equal")
	}
}

func TestEqualStringsByValue(t *testing.T) {
	b, err := bucket.Allocate(256)
	if err != nil {
		t.Fatal(err)
	}
	left, err := CreateString(&b, "abc")
	if err != nil {
		t.Fatal(err)
	}
	right, err := ConcatStrings(&b, mustLeaf(t, &b, "ab"), mustLeaf(t, &b, "c"))
	if err != nil {
		t.Fatal(err)
	}
	eq, err := Equal(FromString(left), FromString(right))
	if err != nil {
		t.Fatal(err)
	}
	if !eq {
		t.Fatal("a leaf and an equal-shaped rope must compare equal")
	}
}

func mustLeaf(t *testing.T, b **bucket.Bucket, s string) *String {
	t.Helper()
	str, err := CreateString(b, s)
	if err != nil {
		t.Fatal(err)
	}
	return str
}

func TestComparableOnlyNumericAndString(t *testing.T) {
	if !Comparable(FromInteger(1), FromFloat(2)) {
		t.Fatal("numeric-numeric must be comparable")
	}
	if Comparable(FromInteger(1), FromBoolean(true)) {
		t.Fatal("int-bool must not be comparable")
	}
	if Comparable(FromArray(NewArray()), FromArray(NewArray())) {
		t.Fatal("aggregates must not be comparable")
	}
}

func TestCompareOrdering(t *testing.T) {
	cmp, err := Compare(FromInteger(1), FromInteger(2))
	if err != nil {
		t.Fatal(err)
	}
	if cmp >= 0 {
		t.Fatalf("1 should compare less than 2, got %d", cmp)
	}
}

func TestHashAggregateIsError(t *testing.T) {
	if _, err := Hash(FromArray(NewArray())); err == nil {
		t.Fatal("expected an error hashing an array")
	}
}

func TestHashNullAndBooleans(t *testing.T) {
	h, err := Hash(Null())
	if err != nil || h != 0 {
		t.Fatalf("hash(null) = (%d, %v), want (0, nil)", h, err)
	}
	hf, _ := Hash(FromBoolean(false))
	ht, _ := Hash(FromBoolean(true))
	if hf != 0 || ht != 1 {
		t.Fatalf("hash(false)=%d hash(true)=%d, want 0,1", hf, ht)
	}
}

func TestCopyAggregateIsError(t *testing.T) {
	if _, err := Copy(FromArray(NewArray())); err == nil {
		t.Fatal("expected an error copying an array directly (must go through a Reference)")
	}
}

func TestUnwrapNonReferencePassesThrough(t *testing.T) {
	v := FromInteger(5)
	u, err := v.Unwrap()
	if err != nil {
		t.Fatal(err)
	}
	if u.AsInteger() != 5 {
		t.Fatal("Unwrap of a non-reference must return it unchanged")
	}
}

func TestStringifyScalars(t *testing.T) {
	if Stringify(Null()) != "null" {
		t.Fatal("stringify null")
	}
	if Stringify(FromBoolean(true)) != "true" {
		t.Fatal("stringify true")
	}
	if Stringify(FromInteger(42)) != "42" {
		t.Fatal("stringify integer")
	}
}
