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

// Scope is one frame of the lexical scope chain: a Table-backed set of name
// bindings with a link to its enclosing scope. PushScope/PopScope manage a
// refcount across the whole chain, walking every link on push/pop so a
// retained descendant keeps its ancestors alive. The Table itself is
// dropped (set nil) once a scope's refcount reaches zero, releasing its
// bindings as soon as nothing can still see them.
type Scope struct {
	next     *Scope
	table    *Table
	refCount int
}

// Each iterates the bindings declared directly in this frame (not its
// ancestors), for the `-d`/`--verbose` dump.
func (s *Scope) Each(fn func(key, value Value)) {
	if s == nil || s.table == nil {
		return
	}
	s.table.Each(fn)
}

// Parent returns the enclosing scope, or nil at the outermost frame.
func (s *Scope) Parent() *Scope {
	if s == nil {
		return nil
	}
	return s.next
}

// PushScope creates a new innermost scope linked to parent (nil for the
// outermost/global scope) and bumps the refcount of the whole chain.
func PushScope(parent *Scope) *Scope {
	s := &Scope{next: parent, table: NewTable()}
	incrementScopeRefCount(s)
	return s
}

// PopScope decrements the refcount of the whole chain (freeing any frame
// whose refcount hits zero) and returns the parent scope.
func PopScope(scope *Scope) *Scope {
	if scope == nil {
		return nil
	}
	decrementScopeRefCount(scope)
	return scope.next
}

func incrementScopeRefCount(scope *Scope) {
	for s := scope; s != nil; s = s.next {
		s.refCount++
	}
}

func decrementScopeRefCount(scope *Scope) {
	for s := scope; s != nil; s = s.next {
		s.refCount--
		if s.refCount == 0 {
			s.table = nil
		}
	}
}

// DeepCopyScope clones just the innermost frame (a fresh table with copied
// keys/values) while continuing to share the parent chain, used when a
// closure captures its defining scope by value.
func DeepCopyScope(scope *Scope) (*Scope, error) {
	newScope := &Scope{next: scope.next, table: NewTable()}
	incrementScopeRefCount(newScope)

	var walkErr error
	scope.table.Each(func(k, v Value) {
		if walkErr != nil {
			return
		}
		ck, err := Copy(k)
		if err != nil {
			walkErr = err
			return
		}
		cv, err := Copy(v)
		if err != nil {
			walkErr = err
			return
		}
		if err := newScope.table.Insert(ck, cv); err != nil {
			walkErr = err
		}
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return newScope, nil
}

func requireNameKey(key *String) error {
	if !IsNameString(key) {
		return errors.New("scope only allows name strings as keys")
	}
	return nil
}

func lookupScopeChain(scope *Scope, keyValue Value, recursive bool) (Value, bool, error) {
	for s := scope; s != nil; s = s.next {
		v, ok, err := s.table.LookupEntry(keyValue)
		if err != nil {
			return Value{}, false, err
		}
		if ok {
			return v, true, nil
		}
		if !recursive {
			return Value{}, false, nil
		}
	}
	return Value{}, false, nil
}

// Declare binds key to value in the innermost frame of scope. It is an
// error to redeclare a name already bound in that same frame, to assign a
// value of the wrong declared type, or to declare a const name as null.
func (scope *Scope) Declare(key *String, value Value) error {
	if err := requireNameKey(key); err != nil {
		return err
	}
	keyValue := FromString(key)

	if _, ok, err := scope.table.LookupEntry(keyValue); err != nil {
		return err
	} else if ok {
		return errors.Errorf("can't redefine a variable: %s", StringRawBuffer(key))
	}

	declaredType := NameVarType(key)
	if declaredType != KindAny && !value.IsNull() && declaredType != value.Kind() && value.Kind() != KindReference {
		return errors.Errorf("incorrect value type assigned in variable declaration '%s' (expected %s, got %s)",
			StringRawBuffer(key), declaredType, value.Kind())
	}

	if NameConstant(key) && value.IsNull() {
		return errors.Errorf("can't declare %s as const with value 'null'", StringRawBuffer(key))
	}

	return scope.table.Insert(FromString(CopyString(key)), value)
}

// Assign rebinds an existing name, searching outward through enclosing
// scopes. It is an error to assign to an undeclared name, the wrong
// declared type, or a const binding.
func (scope *Scope) Assign(key *String, value Value) error {
	if err := requireNameKey(key); err != nil {
		return err
	}
	keyValue := FromString(key)

	for s := scope; s != nil; s = s.next {
		existingKey, ok, err := s.findKey(keyValue)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		declaredType := NameVarType(existingKey)
		if declaredType != KindAny && !value.IsNull() && declaredType != value.Kind() {
			return errors.Errorf("incorrect value type assigned in variable assignment '%s' (expected %s, got %s)",
				StringRawBuffer(key), declaredType, value.Kind())
		}
		if NameConstant(existingKey) {
			return errors.Errorf("can't assign to const %s", StringRawBuffer(key))
		}
		return s.table.Insert(FromString(existingKey), value)
	}

	return errors.Errorf("undefined variable: %s", StringRawBuffer(key))
}

// findKey locates the frame's own stored name-string key so callers can
// inspect its declared type/const flag (the lookup key the caller passes in
// may be a transient String without that metadata attached).
func (s *Scope) findKey(keyValue Value) (*String, bool, error) {
	var found *String
	var walkErr error
	s.table.Each(func(k, _ Value) {
		if found != nil || walkErr != nil {
			return
		}
		eq, err := Equal(k, keyValue)
		if err != nil {
			walkErr = err
			return
		}
		if eq {
			found = k.AsString()
		}
	})
	if walkErr != nil {
		return nil, false, walkErr
	}
	return found, found != nil, nil
}

// AccessAsPointer resolves key to a Reference into the frame that declared
// it, searching outward through enclosing scopes.
func (scope *Scope) AccessAsPointer(key *String) (*Reference, error) {
	if err := requireNameKey(key); err != nil {
		return nil, err
	}
	keyValue := FromString(key)
	for s := scope; s != nil; s = s.next {
		if _, ok, err := s.table.LookupEntry(keyValue); err != nil {
			return nil, err
		} else if ok {
			return NewTableReference(s.table, keyValue), nil
		}
	}
	return nil, errors.Errorf("undefined variable: %s", StringRawBuffer(key))
}

// IsDeclared reports whether key is bound anywhere in the scope chain.
func (scope *Scope) IsDeclared(key *String) (bool, error) {
	if err := requireNameKey(key); err != nil {
		return false, err
	}
	_, ok, err := lookupScopeChain(scope, FromString(key), true)
	return ok, err
}
