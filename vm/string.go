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
	"strings"

	"github.com/arfyslowy/xvr/bucket"
	"github.com/pkg/errors"
)

// stringKind distinguishes the three rope variants.
type stringKind int

const (
	stringLeaf stringKind = iota
	stringNode
	stringName
)

// String is a reference-counted rope: a leaf owns an inline character
// payload, a node holds two retained children and a precomputed length, and
// a name additionally carries a declared type and const flag for use as a
// scope key. The character payload of leaves and names is partitioned out of
// a bucket (see bucket.Partition); the String header itself is an ordinary
// garbage-collected Go value, the idiomatic replacement for hand-placing it
// in the same arena as its bytes.
type String struct {
	kind       stringKind
	length     int
	refCount   int
	cachedHash uint32

	data []byte // leaf / name payload

	left, right *String // node children

	varType  Kind // name only
	constant bool // name only
}

// maxFragment is how much character payload CreateString will pack into a
// single bucket partition before splitting the remainder into further
// fragments folded together with concat.
const maxFragment = 4096

// CreateString builds a String from a Go string, splitting it into
// bucket-backed fragments and folding them with Concat when it doesn't fit
// in one partition.
func CreateString(handle **bucket.Bucket, s string) (*String, error) {
	return CreateStringLength(handle, []byte(s))
}

// CreateStringLength is CreateString for raw bytes.
func CreateStringLength(handle **bucket.Bucket, b []byte) (*String, error) {
	if len(b) <= maxFragment {
		return partitionLeaf(handle, b)
	}
	var result *String
	for i := 0; i < len(b); i += maxFragment {
		end := i + maxFragment
		if end > len(b) {
			end = len(b)
		}
		fragment, err := partitionLeaf(handle, b[i:end])
		if err != nil {
			return nil, err
		}
		if result == nil {
			result = fragment
			continue
		}
		result, err = ConcatStrings(handle, result, fragment)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func partitionLeaf(handle **bucket.Bucket, b []byte) (*String, error) {
	payload, err := bucket.Partition(handle, len(b))
	if err != nil {
		return nil, errors.Wrap(err, "create string")
	}
	copy(payload, b)
	return &String{kind: stringLeaf, length: len(b), refCount: 1, data: payload[:len(b)]}, nil
}

// CreateNameStringLength builds a name string: a leaf-like payload that also
// carries a declared type and const flag, used exclusively as a scope key.
func CreateNameStringLength(handle **bucket.Bucket, name string, varType Kind, constant bool) (*String, error) {
	if varType == KindNull {
		return nil, errors.New("can't declare a name string with type 'null'")
	}
	payload, err := bucket.Partition(handle, len(name))
	if err != nil {
		return nil, errors.Wrap(err, "create name string")
	}
	copy(payload, name)
	return &String{
		kind: stringName, length: len(name), refCount: 1,
		data: payload[:len(name)], varType: varType, constant: constant,
	}, nil
}

func incrementRefCount(s *String) {
	s.refCount++
	if s.kind == stringNode {
		incrementRefCount(s.left)
		incrementRefCount(s.right)
	}
}

func decrementRefCount(s *String) {
	s.refCount--
	if s.kind == stringNode {
		decrementRefCount(s.left)
		decrementRefCount(s.right)
	}
}

// CopyString bumps the refcount of str (and, recursively, its rope
// children) and returns it.
func CopyString(str *String) *String {
	if str.refCount == 0 {
		panic("can't copy a string with refcount of zero")
	}
	incrementRefCount(str)
	return str
}

// DeepCopyString flattens str into a fresh leaf, independent of the
// original rope's shape.
func DeepCopyString(handle **bucket.Bucket, str *String) (*String, error) {
	if str.refCount == 0 {
		return nil, errors.New("can't deep copy a string with refcount of zero")
	}
	if str.kind == stringName {
		return CreateNameStringLength(handle, string(str.data), str.varType, str.constant)
	}
	return CreateStringLength(handle, []byte(StringRawBuffer(str)))
}

// ConcatStrings builds a new node retaining both children. Concatenating a
// name string is forbidden.
func ConcatStrings(handle **bucket.Bucket, left, right *String) (*String, error) {
	if left.kind == stringName || right.kind == stringName {
		return nil, errors.New("can't concat a name string")
	}
	if left.refCount == 0 || right.refCount == 0 {
		return nil, errors.New("can't concatenate a string with refcount of zero")
	}
	incrementRefCount(left)
	incrementRefCount(right)
	return &String{
		kind: stringNode, length: left.length + right.length, refCount: 1,
		left: left, right: right,
	}, nil
}

// FreeString decrements the refcount of str and, recursively, its children.
func FreeString(str *String) {
	if str == nil {
		return
	}
	decrementRefCount(str)
}

func StringLength(str *String) int      { return str.length }
func StringRefCount(str *String) int    { return str.refCount }
func NameVarType(str *String) Kind      { return str.varType }
func NameConstant(str *String) bool     { return str.constant }
func IsNameString(str *String) bool     { return str.kind == stringName }

// StringRawBuffer flattens the rope (or returns the payload directly for a
// leaf/name) into a plain Go string.
func StringRawBuffer(str *String) string {
	if str.kind != stringNode {
		return string(str.data)
	}
	var b strings.Builder
	b.Grow(str.length)
	flattenInto(&b, str)
	return b.String()
}

func flattenInto(b *strings.Builder, str *String) {
	if str.kind == stringNode {
		flattenInto(b, str.left)
		flattenInto(b, str.right)
		return
	}
	b.Write(str.data)
}

// CompareStrings performs a lexicographic compare of the two ropes' flattened
// bytes, so the result is independent of how each rope was built.
// Name strings compare only against other name strings, byte for byte.
func CompareStrings(left, right *String) int {
	if left == right {
		return 0
	}
	if left.length == 0 || right.length == 0 {
		return left.length - right.length
	}
	if left.kind == stringName || right.kind == stringName {
		if left.kind != right.kind {
			panic("can't compare a name string to a non-name string")
		}
		return strings.Compare(string(left.data), string(right.data))
	}
	lb, rb := StringRawBuffer(left), StringRawBuffer(right)
	return strings.Compare(lb, rb)
}

func hashBytes(b []byte) uint32 {
	var hash uint32 = 2166136261
	for _, c := range b {
		hash *= uint32(c)
		hash ^= 16777619
	}
	return hash
}

// HashString computes (and caches on the rope root) the FNV-style hash of
// the logical character sequence.
func HashString(str *String) uint32 {
	if str.cachedHash != 0 {
		return str.cachedHash
	}
	if str.kind == stringNode {
		str.cachedHash = hashBytes([]byte(StringRawBuffer(str)))
	} else {
		str.cachedHash = hashBytes(str.data)
	}
	return str.cachedHash
}
