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

package module

import (
	"bytes"

	"github.com/pkg/errors"
)

// RuntimeVersion is the major/minor/patch this implementation accepts,
// checked by DecodeBundle against a bundle's recorded version.
var RuntimeVersion = [3]byte{1, 0, 0}

// Bundle is the driver-level multi-module container: version triple, a
// build string, and a sequence of modules. There is deliberately no second
// serializer here; each module carries its own self-describing Encode
// output and the bundle just concatenates them behind a short header.
type Bundle struct {
	Major, Minor, Patch byte
	Build               string
	Modules             []*Module
}

// EncodeBundle serializes b: version triple, module count (one byte),
// zero-terminated 4-aligned build string, then each module's own
// self-describing Encode output concatenated in order.
func EncodeBundle(b *Bundle) ([]byte, error) {
	if len(b.Modules) > 255 {
		return nil, errors.Errorf("bundle: too many modules (%d, max 255)", len(b.Modules))
	}
	var buf bytes.Buffer
	buf.WriteByte(b.Major)
	buf.WriteByte(b.Minor)
	buf.WriteByte(b.Patch)
	buf.WriteByte(byte(len(b.Modules)))

	build := append([]byte(b.Build), 0)
	for len(build)%wordSize != 0 {
		build = append(build, 0)
	}
	buf.Write(build)

	for idx, m := range b.Modules {
		raw, err := m.Encode()
		if err != nil {
			return nil, errors.Wrapf(err, "bundle: encode module %d", idx)
		}
		buf.Write(raw)
	}
	return buf.Bytes(), nil
}

// DecodeBundle parses a bundle image previously produced by EncodeBundle. A
// major-version mismatch or a minor version newer than this runtime's is a
// hard failure; a patch/build mismatch is not fatal (callers may inspect
// Patch/Build themselves to warn).
func DecodeBundle(raw []byte) (*Bundle, error) {
	if len(raw) < 4 {
		return nil, errors.New("corrupt bundle: header truncated")
	}
	b := &Bundle{Major: raw[0], Minor: raw[1], Patch: raw[2]}
	moduleCount := int(raw[3])

	if b.Major != RuntimeVersion[0] {
		return nil, errors.Errorf("bundle: major version %d incompatible with runtime %d", b.Major, RuntimeVersion[0])
	}
	if b.Minor > RuntimeVersion[1] {
		return nil, errors.Errorf("bundle: minor version %d newer than runtime %d", b.Minor, RuntimeVersion[1])
	}

	pos := 4
	nul := bytes.IndexByte(raw[pos:], 0)
	if nul < 0 {
		return nil, errors.New("corrupt bundle: unterminated build string")
	}
	b.Build = string(raw[pos : pos+nul])
	pos += nul + 1
	for pos%wordSize != 0 {
		pos++
	}

	b.Modules = make([]*Module, 0, moduleCount)
	for idx := 0; idx < moduleCount; idx++ {
		if pos+24 > len(raw) {
			return nil, errors.Errorf("corrupt bundle: module %d header truncated", idx)
		}
		size := int(leUint32(raw[pos:]))
		if pos+size > len(raw) {
			return nil, errors.Errorf("corrupt bundle: module %d body truncated", idx)
		}
		mod, err := Decode(raw[pos : pos+size])
		if err != nil {
			return nil, errors.Wrapf(err, "bundle: decode module %d", idx)
		}
		b.Modules = append(b.Modules, mod)
		pos += size
	}
	return b, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
