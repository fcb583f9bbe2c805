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

// Package vm implements the Xvr value system, rope strings, the Robin-Hood
// table, the scope chain, the value stack, and the bytecode-executing
// virtual machine itself. These pieces are bundled into one package because
// Value, String, Table, and Scope are mutually referential (a table's keys
// are Values, a Value can hold a Table, a Scope's cells are Reference
// targets) and splitting them across packages would just produce import
// cycles.
package vm

import (
	"math"

	"github.com/pkg/errors"
)

// Kind identifies which variant a Value currently holds.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindString
	KindArray
	KindTable
	KindFunction
	KindOpaque
	KindReference
	KindType
	KindAny
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "bool"
	case KindInteger:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindTable:
		return "table"
	case KindFunction:
		return "function"
	case KindOpaque:
		return "opaque"
	case KindReference:
		return "reference"
	case KindType:
		return "type"
	case KindAny:
		return "any"
	default:
		return "unknown"
	}
}

// Value is the fixed-size tagged variant shared by the AST, the compiler's
// data section, and the VM's stack/scope cells.
type Value struct {
	kind    Kind
	boolean bool
	integer int32
	float   float32
	str     *String
	array   *Array
	table   *Table
	ref     *Reference
	typ     Kind
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// FromBoolean wraps a bool.
func FromBoolean(b bool) Value { return Value{kind: KindBoolean, boolean: b} }

// FromInteger wraps a 32-bit signed integer.
func FromInteger(i int32) Value { return Value{kind: KindInteger, integer: i} }

// FromFloat wraps a 32-bit float.
func FromFloat(f float32) Value { return Value{kind: KindFloat, float: f} }

// FromString wraps a rope String. The caller transfers ownership of one
// reference count to the returned Value.
func FromString(s *String) Value { return Value{kind: KindString, str: s} }

// FromArray wraps an Array.
func FromArray(a *Array) Value { return Value{kind: KindArray, array: a} }

// FromTable wraps a Table.
func FromTable(t *Table) Value { return Value{kind: KindTable, table: t} }

// FromReference wraps a Reference. References may only live on the
// evaluation stack: never store the result of this call into a container or
// a scope cell.
func FromReference(r *Reference) Value { return Value{kind: KindReference, ref: r} }

// FromType wraps a declared-type marker, used for `istype`-style checks.
func FromType(k Kind) Value { return Value{kind: KindType, typ: k} }

func (v Value) Kind() Kind          { return v.kind }
func (v Value) IsNull() bool        { return v.kind == KindNull }
func (v Value) IsBoolean() bool     { return v.kind == KindBoolean }
func (v Value) IsInteger() bool     { return v.kind == KindInteger }
func (v Value) IsFloat() bool       { return v.kind == KindFloat }
func (v Value) IsNumeric() bool     { return v.kind == KindInteger || v.kind == KindFloat }
func (v Value) IsString() bool      { return v.kind == KindString }
func (v Value) IsArray() bool       { return v.kind == KindArray }
func (v Value) IsTable() bool       { return v.kind == KindTable }
func (v Value) IsReference() bool   { return v.kind == KindReference }
func (v Value) AsBoolean() bool     { return v.boolean }
func (v Value) AsInteger() int32    { return v.integer }
func (v Value) AsFloat() float32    { return v.float }
func (v Value) AsString() *String   { return v.str }
func (v Value) AsArray() *Array     { return v.array }
func (v Value) AsTable() *Table     { return v.table }
func (v Value) AsReference() *Reference { return v.ref }
func (v Value) AsType() Kind        { return v.typ }

// Number returns the numeric value widened to float64, coercing integers.
func (v Value) Number() float64 {
	if v.kind == KindInteger {
		return float64(v.integer)
	}
	return float64(v.float)
}

// Unwrap dereferences a reference value once; any other kind is returned
// unchanged.
func (v Value) Unwrap() (Value, error) {
	if v.kind != KindReference {
		return v, nil
	}
	return v.ref.Get()
}

// IsTruthy reports the truthiness of v: only `false` is falsy, `null` is an
// error, everything else is truthy.
func (v Value) IsTruthy() (bool, error) {
	if v.kind == KindNull {
		return false, errors.New("'null' is neither true nor false")
	}
	if v.kind == KindBoolean {
		return v.boolean, nil
	}
	return true, nil
}

func isNumericKind(k Kind) bool { return k == KindInteger || k == KindFloat }

// Equal implements cross-type numeric equality and deep string comparison;
// values of unrelated kinds are simply unequal (never an error).
func Equal(l, r Value) (bool, error) {
	switch {
	case l.kind == KindNull && r.kind == KindNull:
		return true, nil
	case l.kind == KindBoolean && r.kind == KindBoolean:
		return l.boolean == r.boolean, nil
	case isNumericKind(l.kind) && isNumericKind(r.kind):
		return l.Number() == r.Number(), nil
	case l.kind == KindString && r.kind == KindString:
		return CompareStrings(l.str, r.str) == 0, nil
	default:
		return false, nil
	}
}

// Comparable reports whether Compare is defined for this pair.
func Comparable(l, r Value) bool {
	if isNumericKind(l.kind) && isNumericKind(r.kind) {
		return true
	}
	return l.kind == KindString && r.kind == KindString
}

// Compare returns a negative, zero, or positive value per the usual
// three-way compare contract. Only defined for numeric-numeric and
// string-string pairs; callers must check Comparable first.
func Compare(l, r Value) (int, error) {
	if !Comparable(l, r) {
		return 0, errors.Errorf("cannot compare %s to %s", l.kind, r.kind)
	}
	if isNumericKind(l.kind) {
		ln, rn := l.Number(), r.Number()
		switch {
		case ln < rn:
			return -1, nil
		case ln > rn:
			return 1, nil
		default:
			return 0, nil
		}
	}
	return CompareStrings(l.str, r.str), nil
}

func hashUint32(x uint32) uint32 {
	x = ((x >> 16) ^ x) * 0x45d9f3b
	x = ((x >> 16) ^ x) * 0x45d9f3b
	x = (x >> 16) ^ x
	return x
}

// Hash returns the hash of a scalar or string value. Aggregates are not
// hashable.
func Hash(v Value) (uint32, error) {
	switch v.kind {
	case KindNull:
		return 0, nil
	case KindBoolean:
		if v.boolean {
			return 1, nil
		}
		return 0, nil
	case KindInteger:
		return hashUint32(uint32(v.integer)), nil
	case KindFloat:
		return hashUint32(math.Float32bits(v.float)), nil
	case KindString:
		return HashString(v.str), nil
	default:
		return 0, errors.Errorf("cannot hash a %s value", v.kind)
	}
}

// Copy shallow-copies a value, bumping refcounts for reference-counted
// payloads (strings). Aggregates are not copyable through this path; they
// are always handled by reference in the VM.
func Copy(v Value) (Value, error) {
	switch v.kind {
	case KindNull, KindBoolean, KindInteger, KindFloat:
		return v, nil
	case KindString:
		return FromString(CopyString(v.str)), nil
	default:
		return Value{}, errors.Errorf("cannot copy a %s value", v.kind)
	}
}

// Free releases any reference-counted resources held by v.
func Free(v Value) {
	if v.kind == KindString {
		FreeString(v.str)
	}
}

// Stringify renders a human-readable representation, used by PRINT and
// runtime error formatting.
func Stringify(v Value) string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBoolean:
		if v.boolean {
			return "true"
		}
		return "false"
	case KindInteger:
		return intToString(int64(v.integer))
	case KindFloat:
		return floatToString(float64(v.float))
	case KindString:
		return StringRawBuffer(v.str)
	case KindArray:
		return stringifyArray(v.array)
	case KindTable:
		return stringifyTable(v.table)
	case KindReference:
		inner, err := v.ref.Get()
		if err != nil {
			return "<invalid reference>"
		}
		return Stringify(inner)
	default:
		return "<" + v.kind.String() + ">"
	}
}
