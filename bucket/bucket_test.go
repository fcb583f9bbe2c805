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

package bucket

import "testing"

func TestAllocateZeroCapacity(t *testing.T) {
	if _, err := Allocate(0); err == nil {
		t.Fatal("expected an error allocating a zero-capacity bucket")
	}
}

func TestPartitionAlignment(t *testing.T) {
	b, err := Allocate(64)
	if err != nil {
		t.Fatal(err)
	}
	p, err := Partition(&b, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(p) != 4 {
		t.Fatalf("expected a 3-byte request to round up to 4, got %d", len(p))
	}
}

func TestPartitionGrowsChain(t *testing.T) {
	b, err := Allocate(8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Partition(&b, 8); err != nil {
		t.Fatal(err)
	}
	if Regions(b) != 1 {
		t.Fatalf("expected 1 region after filling the first, got %d", Regions(b))
	}
	if _, err := Partition(&b, 4); err != nil {
		t.Fatal(err)
	}
	if Regions(b) != 2 {
		t.Fatalf("expected a new region to be prepended, got %d", Regions(b))
	}
}

func TestPartitionTooLarge(t *testing.T) {
	b, err := Allocate(8)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Partition(&b, 9); err == nil {
		t.Fatal("expected an error requesting more than the bucket capacity")
	}
}

func TestPartitionNilHandle(t *testing.T) {
	var b *Bucket
	if _, err := Partition(&b, 4); err == nil {
		t.Fatal("expected an error partitioning a nil bucket")
	}
}

func TestFreeClearsHandle(t *testing.T) {
	b, err := Allocate(8)
	if err != nil {
		t.Fatal(err)
	}
	Free(&b)
	if b != nil {
		t.Fatal("expected Free to nil out the handle")
	}
}

func TestDataIsolation(t *testing.T) {
	b, err := Allocate(64)
	if err != nil {
		t.Fatal(err)
	}
	a, err := Partition(&b, 8)
	if err != nil {
		t.Fatal(err)
	}
	c, err := Partition(&b, 8)
	if err != nil {
		t.Fatal(err)
	}
	copy(a, "aaaaaaaa")
	copy(c, "cccccccc")
	if string(a) != "aaaaaaaa" || string(c) != "cccccccc" {
		t.Fatal("successive partitions must not alias")
	}
}
