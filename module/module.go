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

// Package module implements the Xvr module binary image: the little-endian,
// section-addressed container the compiler emits and the VM loads. Layout
// and Load/Save use the same encoding/binary, little-endian, length-prefixed
// flat byte buffer approach, adapted to Xvr's multi-section,
// tightly-packed-header format.
package module

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// wordSize is the alignment granularity for every section: all section
// offsets are from the start of the module buffer, and code/jumps/data are
// 4-byte-aligned words.
const wordSize = 4

// Module is a decoded Xvr module image: the header fields plus views into
// the three payload sections currently in use. Params and subs are reserved
// for user-defined-function support, which is out of scope here; this
// implementation always emits paramCount = subsCount = 0; the fields exist
// so the header shape stays forward compatible with the wire format's
// optional-offset packing rule.
type Module struct {
	Code  []byte
	Jumps []uint32 // absolute byte offsets into Data
	Data  []byte

	ParamCount uint32
	SubsCount  uint32
}

func align4(n int) int { return (n + wordSize - 1) &^ (wordSize - 1) }

// Encode serializes m into the bit-exact wire layout: a header of
// total-size/count fields followed by only the section-address fields
// whose count is nonzero, then the code/jumps/data bytes in that order.
func (m *Module) Encode() ([]byte, error) {
	jumpsCount := uint32(len(m.Jumps))
	dataCount := uint32(len(m.Data))

	headerFixed := 6 * 4 // size, jumpsCount, paramCount, dataCount, subsCount, codeAddr
	optional := 0
	if jumpsCount > 0 {
		optional += 4
	}
	if m.ParamCount > 0 {
		optional += 4
	}
	if dataCount > 0 {
		optional += 4
	}
	if m.SubsCount > 0 {
		optional += 4
	}

	codeAddr := uint32(headerFixed + optional)
	jumpsBytes := align4(len(m.Jumps) * 4)
	jumpsAddr := codeAddr + uint32(align4(len(m.Code)))
	dataAddr := jumpsAddr + uint32(jumpsBytes)

	totalSize := int(dataAddr) + align4(len(m.Data))

	var buf bytes.Buffer
	buf.Grow(totalSize)

	write32 := func(v uint32) error { return binary.Write(&buf, binary.LittleEndian, v) }

	if err := write32(uint32(totalSize)); err != nil {
		return nil, err
	}
	if err := write32(jumpsCount); err != nil {
		return nil, err
	}
	if err := write32(m.ParamCount); err != nil {
		return nil, err
	}
	if err := write32(dataCount); err != nil {
		return nil, err
	}
	if err := write32(m.SubsCount); err != nil {
		return nil, err
	}
	if err := write32(codeAddr); err != nil {
		return nil, err
	}
	if jumpsCount > 0 {
		if err := write32(jumpsAddr); err != nil {
			return nil, err
		}
	}
	if m.ParamCount > 0 {
		// reserved: no param section payload exists yet.
		if err := write32(0); err != nil {
			return nil, err
		}
	}
	if dataCount > 0 {
		if err := write32(dataAddr); err != nil {
			return nil, err
		}
	}
	if m.SubsCount > 0 {
		if err := write32(0); err != nil {
			return nil, err
		}
	}

	buf.Write(m.Code)
	buf.Write(make([]byte, align4(len(m.Code))-len(m.Code)))

	for _, j := range m.Jumps {
		if err := write32(j); err != nil {
			return nil, err
		}
	}
	buf.Write(make([]byte, jumpsBytes-len(m.Jumps)*4))

	buf.Write(m.Data)
	buf.Write(make([]byte, align4(len(m.Data))-len(m.Data)))

	return buf.Bytes(), nil
}

// Decode parses a module image previously produced by Encode (or an
// equivalent compliant encoder).
func Decode(raw []byte) (*Module, error) {
	if len(raw) < 24 {
		return nil, errors.New("corrupt module: header truncated")
	}
	r := bytes.NewReader(raw)

	var totalSize, jumpsCount, paramCount, dataCount, subsCount, codeAddr uint32
	for _, dst := range []*uint32{&totalSize, &jumpsCount, &paramCount, &dataCount, &subsCount, &codeAddr} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return nil, errors.Wrap(err, "corrupt module: header")
		}
	}
	if int(totalSize) != len(raw) {
		return nil, errors.Errorf("corrupt module: header says %d bytes, got %d", totalSize, len(raw))
	}

	var jumpsAddr, paramAddr, dataAddr, subsAddr uint32
	if jumpsCount > 0 {
		if err := binary.Read(r, binary.LittleEndian, &jumpsAddr); err != nil {
			return nil, errors.Wrap(err, "corrupt module: jumpsAddr")
		}
	}
	if paramCount > 0 {
		if err := binary.Read(r, binary.LittleEndian, &paramAddr); err != nil {
			return nil, errors.Wrap(err, "corrupt module: paramAddr")
		}
	}
	if dataCount > 0 {
		if err := binary.Read(r, binary.LittleEndian, &dataAddr); err != nil {
			return nil, errors.Wrap(err, "corrupt module: dataAddr")
		}
	}
	if subsCount > 0 {
		if err := binary.Read(r, binary.LittleEndian, &subsAddr); err != nil {
			return nil, errors.Wrap(err, "corrupt module: subsAddr")
		}
	}
	_ = paramAddr
	_ = subsAddr

	codeEnd := len(raw)
	switch {
	case jumpsCount > 0:
		codeEnd = int(jumpsAddr)
	case dataCount > 0:
		codeEnd = int(dataAddr)
	}
	if int(codeAddr) > len(raw) || codeEnd > len(raw) || codeEnd < int(codeAddr) {
		return nil, errors.New("corrupt module: code section out of range")
	}
	code := raw[codeAddr:codeEnd]

	var jumps []uint32
	if jumpsCount > 0 {
		jumpsEnd := int(jumpsAddr) + int(jumpsCount)*4
		if jumpsEnd > len(raw) {
			return nil, errors.New("corrupt module: jumps section out of range")
		}
		jr := bytes.NewReader(raw[jumpsAddr:jumpsEnd])
		jumps = make([]uint32, jumpsCount)
		if err := binary.Read(jr, binary.LittleEndian, jumps); err != nil {
			return nil, errors.Wrap(err, "corrupt module: jumps")
		}
	}

	var data []byte
	if dataCount > 0 {
		dataEnd := int(dataAddr) + int(dataCount)
		if dataEnd > len(raw) {
			return nil, errors.New("corrupt module: data section out of range")
		}
		data = raw[dataAddr:dataEnd]
	}

	return &Module{
		Code:       code,
		Jumps:      jumps,
		Data:       data,
		ParamCount: paramCount,
		SubsCount:  subsCount,
	}, nil
}

// Load reads and decodes a module image from disk.
func Load(path string) (*Module, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load module %s", path)
	}
	return Decode(raw)
}

// Save encodes and writes m to disk.
func (m *Module) Save(path string) error {
	raw, err := m.Encode()
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, raw, 0o666), "save module %s", path)
}
