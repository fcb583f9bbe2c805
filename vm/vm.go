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
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/arfyslowy/xvr/bucket"
	"github.com/arfyslowy/xvr/module"
)

// HostInterface is the explicit callback triple the driver supplies once at
// construction instead of process-wide function pointers. Print is invoked
// by PRINT, Error by recoverable runtime errors, AssertFailure by a failed
// ASSERT.
type HostInterface struct {
	Print         func(msg string)
	Error         func(msg string)
	AssertFailure func(msg string)
}

func noop(string) {}

func defaultHost() HostInterface {
	return HostInterface{Print: noop, Error: noop, AssertFailure: noop}
}

const (
	defaultStackSize       = 256
	defaultScopeBucketSize = bucket.Medium
	defaultStringBucketSize = bucket.Medium
)

// Option configures an Instance at construction time using the usual
// functional-options pattern.
type Option func(*Instance) error

// StackSize sets the initial capacity of the evaluation stack.
func StackSize(n int) Option {
	return func(i *Instance) error {
		i.stack = &Stack{data: make([]Value, 0, n)}
		return nil
	}
}

// ScopeBucketSize is accepted for symmetry with StringBucketSize, but scope
// frames here are ordinary GC'd Go values (see scope.go) rather than
// bucket-partitioned bytes, so this only reserves the field; it does not
// change allocation behavior.
func ScopeBucketSize(n int) Option {
	return func(i *Instance) error { i.scopeBucketSize = n; return nil }
}

// StringBucketSize sets the capacity of each region in the VM's string
// bucket, used to materialize string literals and runtime concatenations.
func StringBucketSize(n int) Option {
	return func(i *Instance) error { i.stringBucketSize = n; return nil }
}

// Host installs the print/error/assert-failure callback triple.
func Host(h HostInterface) Option {
	return func(i *Instance) error {
		if h.Print != nil {
			i.host.Print = h.Print
		}
		if h.Error != nil {
			i.host.Error = h.Error
		}
		if h.AssertFailure != nil {
			i.host.AssertFailure = h.AssertFailure
		}
		return nil
	}
}

// Instance is one running Xvr virtual machine: a module image, a program
// counter, a value stack, a scope chain, and the buckets that back strings
// and scopes materialized at runtime. Each Instance is independent: running
// two Instances concurrently is safe as long as each owns its own stack,
// scope chain, and buckets, and the HostInterface callbacks are themselves
// thread-safe.
type Instance struct {
	mod *module.Module
	pc  int

	stack *Stack
	scope *Scope

	stringBucket *bucket.Bucket
	scopeBucketSize int
	stringBucketSize int

	host HostInterface

	insCount int64
}

// New constructs an Instance bound to mod, ready to Run from the start of
// the code section.
func New(mod *module.Module, opts ...Option) (*Instance, error) {
	i := &Instance{
		mod:  mod,
		host: defaultHost(),
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	if i.stack == nil {
		i.stack = &Stack{data: make([]Value, 0, defaultStackSize)}
	}
	if i.scopeBucketSize == 0 {
		i.scopeBucketSize = defaultScopeBucketSize
	}
	if i.stringBucketSize == 0 {
		i.stringBucketSize = defaultStringBucketSize
	}
	strBucket, err := bucket.Allocate(i.stringBucketSize)
	if err != nil {
		return nil, err
	}
	i.stringBucket = strBucket
	i.scope = PushScope(nil)
	return i, nil
}

// Stack exposes the evaluation stack, mostly for tests and the `-d`/
// `--verbose` dump.
func (i *Instance) Stack() *Stack { return i.stack }

// Scope exposes the innermost scope frame, mostly for tests and the
// `-d`/`--verbose` dump.
func (i *Instance) Scope() *Scope { return i.scope }

// InstructionCount returns the number of instructions executed so far.
func (i *Instance) InstructionCount() int64 { return i.insCount }

// Load rebinds the instance to a freshly compiled module and rewinds the
// program counter to its start, leaving the stack and scope chain untouched.
// The REPL driver (cmd/xvr) uses this to compile and run one line at a time
// against a single long-lived Instance, so variables declared on one line
// stay visible to the next.
func (i *Instance) Load(mod *module.Module) {
	i.mod = mod
	i.pc = 0
}

// --- word-stream decoding ---

func (i *Instance) readOpcodeWord() (op Opcode, p1, p2, p3 byte) {
	code := i.mod.Code
	return Opcode(code[i.pc]), code[i.pc+1], code[i.pc+2], code[i.pc+3]
}

func (i *Instance) readImmediate() uint32 {
	return binary.LittleEndian.Uint32(i.mod.Code[i.pc:])
}

func (i *Instance) advance(words int) { i.pc += words * 4 }

// resolveStringData follows the jumps to data indirection: a READ string
// opcode carries a 32-bit jump index, jumps[index] is the byte offset into
// data where a 4-byte little-endian length prefix precedes the raw
// character payload.
func (i *Instance) resolveStringData(jumpIndex uint32) ([]byte, error) {
	if int(jumpIndex) >= len(i.mod.Jumps) {
		panic(errors.Errorf("malformed module: jump index %d out of range (%d entries)", jumpIndex, len(i.mod.Jumps)))
	}
	offset := i.mod.Jumps[jumpIndex]
	data := i.mod.Data
	if int(offset)+4 > len(data) {
		panic(errors.Errorf("malformed module: data offset %d out of range", offset))
	}
	length := binary.LittleEndian.Uint32(data[offset:])
	start := int(offset) + 4
	end := start + int(length)
	if end > len(data) {
		panic(errors.Errorf("malformed module: data span [%d:%d] out of range", start, end))
	}
	return data[start:end], nil
}

// Run executes the module from the current program counter until a RETURN
// opcode or a host-fatal error. User-visible runtime errors are routed to
// the host and do not stop execution; host-fatal conditions panic and are
// recovered here into a wrapped error that names the faulting pc and stack
// depth.
func (i *Instance) Run() (err error) {
	defer func() {
		if e := recover(); e != nil {
			switch e := e.(type) {
			case error:
				err = errors.Wrapf(e, "pc=%d op=%v stack=%d", i.pc, safeOpcodeAt(i), i.stack.Count())
			default:
				panic(e)
			}
		}
	}()

	i.insCount = 0
	for {
		i.pc = align4(i.pc)
		if i.pc >= len(i.mod.Code) {
			return errors.New("malformed module: fell off the end of the code section without RETURN")
		}
		op, p1, p2, p3 := i.readOpcodeWord()
		i.pc += 4

		if op == OpReturn {
			return nil
		}

		i.dispatch(op, p1, p2, p3)
		i.insCount++
	}
}

func safeOpcodeAt(i *Instance) Opcode {
	if i.pc < 0 || i.pc >= len(i.mod.Code) {
		return 0
	}
	return Opcode(i.mod.Code[i.pc])
}

func align4(n int) int { return (n + 3) &^ 3 }

// runtimeError routes a recoverable user-visible error to the host's Error
// callback. The caller is still responsible for freeing any
// operands already popped and for not pushing a result.
func (i *Instance) runtimeError(err error) {
	i.host.Error(err.Error())
}

func (i *Instance) dispatch(op Opcode, p1, p2, p3 byte) {
	switch op {
	case OpRead:
		i.execRead(ReadType(p1), p2, p3)
	case OpDeclare:
		i.execDeclare(p1, p2, p3)
	case OpAssign:
		i.execAssign()
	case OpAssignCompound:
		i.execAssignCompound()
	case OpAccess:
		i.execAccess()
	case OpDuplicate:
		i.execDuplicate(FollowOn(p1))
	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpModulo:
		i.execArithmetic(op, FollowOn(p1))
	case OpCompareEqual, OpCompareLess, OpCompareLessEqual, OpCompareGreater, OpCompareGreaterEqual:
		i.execCompare(op, FollowOn(p1))
	case OpAnd:
		i.execAnd()
	case OpOr:
		i.execOr()
	case OpTruthy:
		i.execTruthy()
	case OpNegate:
		i.execNegate()
	case OpConcat:
		i.execConcat()
	case OpIndex:
		i.execIndex(int(p1))
	case OpScopePush:
		i.scope = PushScope(i.scope)
	case OpScopePop:
		i.scope = PopScope(i.scope)
	case OpJump:
		i.execJump(JumpKind(p1), JumpCondition(p2))
	case OpEscape:
		i.execEscape()
	case OpAssert:
		i.execAssert(int(p1))
	case OpPrint:
		i.execPrint()
	case OpEliminate:
		i.mustPop()
	case OpPass:
		// no-op
	default:
		panic(errors.Errorf("unknown opcode %d", byte(op)))
	}
}

// mustPop pops one value, treating stack underflow as host-fatal (it can
// only happen from a malformed module, never from well-formed compiler
// output).
func (i *Instance) mustPop() Value {
	v, err := i.stack.Pop()
	if err != nil {
		panic(err)
	}
	return v
}

func (i *Instance) mustPush(v Value) {
	if err := i.stack.Push(v); err != nil {
		panic(err)
	}
}

// --- READ ---

func (i *Instance) execRead(rt ReadType, sub, nameLen byte) {
	switch rt {
	case ReadNull:
		i.mustPush(Null())
	case ReadTrue:
		i.mustPush(FromBoolean(true))
	case ReadFalse:
		i.mustPush(FromBoolean(false))
	case ReadInteger:
		v := int32(i.readImmediate())
		i.advance(1)
		i.mustPush(FromInteger(v))
	case ReadFloat:
		bits := i.readImmediate()
		i.advance(1)
		i.mustPush(FromFloat(math.Float32frombits(bits)))
	case ReadString:
		i.execReadString(StringSubKind(sub))
	case ReadArray:
		i.execReadArray()
	case ReadTable:
		i.execReadTable()
	default:
		panic(errors.Errorf("unknown READ type %d", byte(rt)))
	}
}

func (i *Instance) execReadString(sub StringSubKind) {
	jumpIndex := i.readImmediate()
	i.advance(1)
	raw, err := i.resolveStringData(jumpIndex)
	if err != nil {
		panic(err)
	}
	var s *String
	switch sub {
	case StringSubLeaf:
		s, err = CreateStringLength(&i.stringBucket, raw)
	case StringSubName:
		// Name strings carry their declared type/const flag separately
		// (DECLARE's p1/p2); a bare READ of a name (used to push the name
		// for ACCESS/ASSIGN/DECLARE) only needs the bytes, typed `any` and
		// non-const, since the scope entry itself carries the authoritative
		// type/const metadata.
		s, err = CreateNameStringLength(&i.stringBucket, string(raw), KindAny, false)
	default:
		panic(errors.Errorf("unknown string sub-kind %d", byte(sub)))
	}
	if err != nil {
		panic(err)
	}
	i.mustPush(FromString(s))
}

// execReadArray pops count elements in reverse so the constructed array
// preserves source order.
func (i *Instance) execReadArray() {
	count := int(i.readImmediate())
	i.advance(1)
	a := NewArrayWithCount(count)
	for k := count - 1; k >= 0; k-- {
		v, err := i.unwrapForStorage(i.mustPop())
		if err != nil {
			i.runtimeError(err)
			return
		}
		if err := a.Set(k, v); err != nil {
			i.runtimeError(err)
			return
		}
	}
	i.mustPush(FromArray(a))
}

// execReadTable pops count key/value pairs in reverse.
func (i *Instance) execReadTable() {
	count := int(i.readImmediate())
	i.advance(1)
	t := NewTableWithCapacity(count)
	pairs := make([][2]Value, count)
	for k := count - 1; k >= 0; k-- {
		value, err := i.unwrapForStorage(i.mustPop())
		if err != nil {
			i.runtimeError(err)
			return
		}
		key := i.mustPop()
		pairs[k] = [2]Value{key, value}
	}
	for _, p := range pairs {
		if err := t.Insert(p[0], p[1]); err != nil {
			i.runtimeError(err)
			continue
		}
	}
	i.mustPush(FromTable(t))
}

// --- DECLARE / ASSIGN / ACCESS ---

func (i *Instance) execDeclare(varType, constFlag, nameLen byte) {
	jumpIndex := i.readImmediate()
	i.advance(1)
	raw, err := i.resolveStringData(jumpIndex)
	if err != nil {
		panic(err)
	}
	name, err := CreateNameStringLength(&i.stringBucket, string(raw), Kind(varType), constFlag != 0)
	if err != nil {
		i.runtimeError(err)
		i.mustPop()
		return
	}
	value, err := i.unwrapForStorage(i.mustPop())
	if err != nil {
		i.runtimeError(err)
		return
	}
	if err := i.scope.Declare(name, value); err != nil {
		i.runtimeError(err)
		Free(value)
	}
}

// unwrapForStorage resolves a Reference (produced by ACCESS/INDEX on an
// aggregate) to the aggregate Value it points at before the value is stored
// into a scope cell or container slot: a Reference itself must never be
// stored, but the underlying *Array/*Table pointer it
// names may be shared freely, which is what gives assignment of an array or
// table variable its by-reference aliasing semantics.
func (i *Instance) unwrapForStorage(v Value) (Value, error) {
	return v.Unwrap()
}

func (i *Instance) execAssign() {
	nameVal := i.mustPop()
	value, err := i.unwrapForStorage(i.mustPop())
	if err != nil {
		i.runtimeError(err)
		return
	}
	if !nameVal.IsString() {
		panic(errors.New("ASSIGN expects a name string on top of stack"))
	}
	if err := i.scope.Assign(nameVal.AsString(), value); err != nil {
		i.runtimeError(err)
		Free(value)
	}
}

func (i *Instance) execAssignCompound() {
	value, err := i.unwrapForStorage(i.mustPop())
	if err != nil {
		i.runtimeError(err)
		return
	}
	key := i.mustPop()
	target := i.mustPop()

	ref, err := i.targetReference(target)
	if err != nil {
		i.runtimeError(err)
		Free(value)
		return
	}

	container, err := ref.Get()
	if err != nil {
		i.runtimeError(err)
		Free(value)
		return
	}

	switch container.Kind() {
	case KindArray:
		if !key.IsInteger() {
			i.runtimeError(errors.New("array index must be an integer"))
			Free(value)
			return
		}
		if err := container.AsArray().Set(int(key.AsInteger()), value); err != nil {
			i.runtimeError(err)
			Free(value)
		}
	case KindTable:
		if key.IsNull() || key.IsBoolean() {
			i.runtimeError(errors.New("bad table key"))
			Free(value)
			return
		}
		if err := container.AsTable().Insert(key, value); err != nil {
			i.runtimeError(err)
			Free(value)
		}
	default:
		i.runtimeError(errors.Errorf("cannot index-assign into a %s value", container.Kind()))
		Free(value)
	}
}

// targetReference resolves an ASSIGN_COMPOUND/INDEX target to a Reference:
// a name string is resolved through the scope chain, anything else (a
// reference already produced by a nested INDEX) is used as-is.
func (i *Instance) targetReference(target Value) (*Reference, error) {
	if target.IsString() {
		return i.scope.AccessAsPointer(target.AsString())
	}
	if target.IsReference() {
		return target.AsReference(), nil
	}
	return nil, errors.Errorf("cannot use a %s value as an assignment target", target.Kind())
}

// execAccess looks up the name on top of stack; arrays and tables push a
// Reference so subsequent INDEX/ASSIGN_COMPOUND mutate in place, everything
// else pushes a copy.
func (i *Instance) execAccess() {
	nameVal := i.mustPop()
	if !nameVal.IsString() {
		panic(errors.New("ACCESS expects a name string on top of stack"))
	}
	name := nameVal.AsString()

	value, ok, err := lookupScopeChain(i.scope, FromString(name), true)
	if err != nil {
		i.runtimeError(err)
		return
	}
	if !ok {
		i.runtimeError(errors.Errorf("undefined variable: %s", StringRawBuffer(name)))
		return
	}

	switch value.Kind() {
	case KindArray, KindTable:
		ref, err := i.scope.AccessAsPointer(name)
		if err != nil {
			i.runtimeError(err)
			return
		}
		i.mustPush(FromReference(ref))
	default:
		copied, err := Copy(value)
		if err != nil {
			i.runtimeError(err)
			return
		}
		i.mustPush(copied)
	}
}

func (i *Instance) execDuplicate(follow FollowOn) {
	top, err := i.stack.Peek()
	if err != nil {
		panic(err)
	}
	copied, err := Copy(top)
	if err != nil {
		i.runtimeError(err)
		return
	}
	i.mustPush(copied)
	if follow == FollowAccess {
		i.execAccess()
	}
}

// --- arithmetic / compare / logical ---

func (i *Instance) execArithmetic(op Opcode, follow FollowOn) {
	right := i.mustPop()
	left := i.mustPop()

	if !left.IsNumeric() || !right.IsNumeric() {
		i.runtimeError(errors.Errorf("cannot apply %v to %s and %s", op, left.Kind(), right.Kind()))
		Free(left)
		Free(right)
		return
	}

	result, err := arithmetic(op, left, right)
	if err != nil {
		i.runtimeError(err)
		return
	}
	i.mustPush(result)

	if follow == FollowAssign {
		// the fused layout is [name, result] with the result on top.
		value := i.mustPop()
		nameVal := i.mustPop()
		if !nameVal.IsString() {
			panic(errors.New("compound ASSIGN follow-on expects a name string"))
		}
		if err := i.scope.Assign(nameVal.AsString(), value); err != nil {
			i.runtimeError(err)
			Free(value)
		}
	}
}

func arithmetic(op Opcode, left, right Value) (Value, error) {
	if op == OpConcat {
		return Value{}, errors.New("CONCAT is not an arithmetic opcode")
	}
	bothInt := left.IsInteger() && right.IsInteger()

	if bothInt {
		l, r := left.AsInteger(), right.AsInteger()
		switch op {
		case OpAdd:
			return FromInteger(l + r), nil
		case OpSubtract:
			return FromInteger(l - r), nil
		case OpMultiply:
			return FromInteger(l * r), nil
		case OpDivide:
			if r == 0 {
				return Value{}, errors.New("Can't divide or modulo by zero")
			}
			return FromInteger(l / r), nil
		case OpModulo:
			if r == 0 {
				return Value{}, errors.New("Can't divide or modulo by zero")
			}
			return FromInteger(l % r), nil
		}
	}

	l, r := left.Number(), right.Number()
	switch op {
	case OpAdd:
		return FromFloat(float32(l + r)), nil
	case OpSubtract:
		return FromFloat(float32(l - r)), nil
	case OpMultiply:
		return FromFloat(float32(l * r)), nil
	case OpDivide:
		if r == 0 {
			return Value{}, errors.New("Can't divide or modulo by zero")
		}
		return FromFloat(float32(l / r)), nil
	case OpModulo:
		return Value{}, errors.New("Can't modulo a float")
	}
	return Value{}, errors.Errorf("unhandled arithmetic opcode %v", op)
}

func (i *Instance) execCompare(op Opcode, follow FollowOn) {
	right := i.mustPop()
	left := i.mustPop()

	var result bool
	var err error
	if op == OpCompareEqual {
		result, err = Equal(left, right)
	} else {
		if !Comparable(left, right) {
			i.runtimeError(errors.Errorf("cannot compare %s to %s", left.Kind(), right.Kind()))
			Free(left)
			Free(right)
			return
		}
		var cmp int
		cmp, err = Compare(left, right)
		if err == nil {
			switch op {
			case OpCompareLess:
				result = cmp < 0
			case OpCompareLessEqual:
				result = cmp <= 0
			case OpCompareGreater:
				result = cmp > 0
			case OpCompareGreaterEqual:
				result = cmp >= 0
			}
		}
	}
	if err != nil {
		i.runtimeError(err)
		return
	}
	if follow == FollowNegate {
		result = !result
	}
	i.mustPush(FromBoolean(result))
}

// execAnd and execOr give OpAnd/OpOr eager semantics: pop right, pop left,
// push the boolean combination of their truthiness. The compiler never
// emits these two opcodes itself (&& and || lower to DUPLICATE/JUMP/
// ELIMINATE for short-circuit evaluation), but they are part of the
// instruction set and must run correctly for any module that does emit
// them, hand-assembled or otherwise.
func (i *Instance) execAnd() {
	right := i.mustPop()
	left := i.mustPop()
	leftTruthy, err := left.IsTruthy()
	if err != nil {
		i.runtimeError(err)
		return
	}
	rightTruthy, err := right.IsTruthy()
	if err != nil {
		i.runtimeError(err)
		return
	}
	i.mustPush(FromBoolean(leftTruthy && rightTruthy))
}

func (i *Instance) execOr() {
	right := i.mustPop()
	left := i.mustPop()
	leftTruthy, err := left.IsTruthy()
	if err != nil {
		i.runtimeError(err)
		return
	}
	rightTruthy, err := right.IsTruthy()
	if err != nil {
		i.runtimeError(err)
		return
	}
	i.mustPush(FromBoolean(leftTruthy || rightTruthy))
}

func (i *Instance) execTruthy() {
	v := i.mustPop()
	truthy, err := v.IsTruthy()
	if err != nil {
		i.runtimeError(err)
		return
	}
	i.mustPush(FromBoolean(truthy))
}

func (i *Instance) execNegate() {
	v := i.mustPop()
	if !v.IsBoolean() {
		i.runtimeError(errors.Errorf("cannot negate a %s value", v.Kind()))
		return
	}
	i.mustPush(FromBoolean(!v.AsBoolean()))
}

func (i *Instance) execConcat() {
	right := i.mustPop()
	left := i.mustPop()
	if !left.IsString() || !right.IsString() {
		i.runtimeError(errors.Errorf("cannot concatenate %s and %s", left.Kind(), right.Kind()))
		Free(left)
		Free(right)
		return
	}
	s, err := ConcatStrings(&i.stringBucket, left.AsString(), right.AsString())
	if err != nil {
		i.runtimeError(err)
		return
	}
	i.mustPush(FromString(s))
}

// --- INDEX ---

func (i *Instance) execIndex(arity int) {
	var length Value
	if arity == 3 {
		length = i.mustPop()
	}
	index := i.mustPop()
	target := i.mustPop()

	resolved, err := target.Unwrap()
	if err != nil {
		i.runtimeError(err)
		return
	}

	switch resolved.Kind() {
	case KindString:
		i.execIndexString(resolved.AsString(), index, length, arity)
	case KindArray:
		i.execIndexArray(target, resolved.AsArray(), index)
	case KindTable:
		i.execIndexTable(target, resolved.AsTable(), index)
	default:
		i.runtimeError(errors.Errorf("cannot index a %s value", resolved.Kind()))
	}
}

func (i *Instance) execIndexString(s *String, index, length Value, arity int) {
	if !index.IsInteger() {
		i.runtimeError(errors.New("string index must be an integer"))
		return
	}
	raw := StringRawBuffer(s)
	start := int(index.AsInteger())
	end := start + 1
	if arity == 3 {
		if !length.IsInteger() {
			i.runtimeError(errors.New("string index length must be an integer"))
			return
		}
		end = start + int(length.AsInteger())
	}
	if start < 0 || end > len(raw) || start > end {
		i.runtimeError(errors.Errorf("string index [%d:%d] out of bounds (length %d)", start, end, len(raw)))
		return
	}
	sub, err := CreateStringLength(&i.stringBucket, []byte(raw[start:end]))
	if err != nil {
		i.runtimeError(err)
		return
	}
	i.mustPush(FromString(sub))
}

func (i *Instance) execIndexArray(target Value, a *Array, index Value) {
	if !index.IsInteger() {
		i.runtimeError(errors.New("array index must be an integer"))
		return
	}
	idx := int(index.AsInteger())
	elem, err := a.Get(idx)
	if err != nil {
		i.runtimeError(err)
		return
	}
	i.pushIndexResult(elem, func() Value { return FromReference(NewArrayReference(a, idx)) })
}

func (i *Instance) execIndexTable(target Value, t *Table, index Value) {
	if index.IsNull() || index.IsBoolean() {
		i.runtimeError(errors.New("bad table key"))
		return
	}
	elem, ok, err := t.LookupEntry(index)
	if err != nil {
		i.runtimeError(err)
		return
	}
	if !ok {
		i.mustPush(Null())
		return
	}
	key, err := Copy(index)
	if err != nil {
		i.runtimeError(err)
		return
	}
	i.pushIndexResult(elem, func() Value { return FromReference(NewTableReference(t, key)) })
}

// pushIndexResult pushes a Reference for aggregate elements (so a chained
// INDEX/ASSIGN_COMPOUND can mutate them in place) or a copy otherwise.
func (i *Instance) pushIndexResult(elem Value, ref func() Value) {
	switch elem.Kind() {
	case KindArray, KindTable:
		i.mustPush(ref())
	default:
		copied, err := Copy(elem)
		if err != nil {
			i.runtimeError(err)
			return
		}
		i.mustPush(copied)
	}
}

// --- JUMP / ESCAPE ---

// execJump decodes JUMP's offset relative to the address of the opcode word
// itself (i.pc-4, since the opcode word was just consumed by Run before
// dispatch), matching the compiler's patchRelativeJump convention, which
// measures every forward/backward branch from the JUMP instruction's own
// word rather than from the operand word that follows it.
func (i *Instance) execJump(kind JumpKind, cond JumpCondition) {
	opcodeAddr := i.pc - 4
	offset := i.readImmediate()
	i.advance(1)

	taken := true
	if cond != JumpAlways {
		v := i.mustPop()
		truthy, err := v.IsTruthy()
		if err != nil {
			i.runtimeError(err)
			return
		}
		if cond == JumpIfTrue {
			taken = truthy
		} else {
			taken = !truthy
		}
	}
	if !taken {
		return
	}
	switch kind {
	case JumpAbsolute:
		i.pc = int(offset)
	case JumpRelative:
		i.pc = opcodeAddr + int(int32(offset))
	default:
		panic(errors.Errorf("unknown jump kind %d", byte(kind)))
	}
}

// execEscape unconditionally applies the relative offset to pc and pops
// `depth` scope frames, implementing break/continue across nested scopes.
func (i *Instance) execEscape() {
	offsetWordAddr := i.pc
	offset := i.readImmediate()
	i.advance(1)
	depth := i.readImmediate()
	i.advance(1)

	for d := uint32(0); d < depth; d++ {
		i.scope = PopScope(i.scope)
	}
	i.pc = offsetWordAddr + int(int32(offset))
}

// --- ASSERT / PRINT ---

func (i *Instance) execAssert(arity int) {
	var message Value
	if arity == 2 {
		message = i.mustPop()
	}
	cond := i.mustPop()
	truthy, err := cond.IsTruthy()
	if err != nil {
		i.runtimeError(err)
		return
	}
	if truthy {
		Free(cond)
		Free(message)
		return
	}
	msg := "assertion failed"
	if arity == 2 {
		msg = Stringify(message)
	}
	i.host.AssertFailure(msg)
	Free(cond)
	Free(message)
}

func (i *Instance) execPrint() {
	v := i.mustPop()
	i.host.Print(Stringify(v))
	Free(v)
}
