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
	"encoding/binary"
	"testing"
)

func readHeader(t *testing.T, raw []byte) (totalSize, jumpsCount, paramCount, dataCount, subsCount, codeAddr uint32) {
	t.Helper()
	r := bytes.NewReader(raw)
	for _, dst := range []*uint32{&totalSize, &jumpsCount, &paramCount, &dataCount, &subsCount, &codeAddr} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			t.Fatal(err)
		}
	}
	return
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := &Module{
		Code:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
		Jumps: []uint32{0, 12, 100},
		Data:  []byte("foobar"),
	}
	raw, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded.Code, m.Code) {
		t.Fatalf("Code = %v, want %v", decoded.Code, m.Code)
	}
	if len(decoded.Jumps) != len(m.Jumps) {
		t.Fatalf("Jumps = %v, want %v", decoded.Jumps, m.Jumps)
	}
	for i := range m.Jumps {
		if decoded.Jumps[i] != m.Jumps[i] {
			t.Fatalf("Jumps[%d] = %d, want %d", i, decoded.Jumps[i], m.Jumps[i])
		}
	}
	if !bytes.Equal(decoded.Data, m.Data) {
		t.Fatalf("Data = %q, want %q", decoded.Data, m.Data)
	}
}

func TestEncodeDecodeEmptyModule(t *testing.T) {
	m := &Module{Code: []byte{1, 2, 3, 4}}
	raw, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded.Code, m.Code) {
		t.Fatalf("Code = %v, want %v", decoded.Code, m.Code)
	}
	if len(decoded.Jumps) != 0 {
		t.Fatalf("Jumps = %v, want empty", decoded.Jumps)
	}
	if len(decoded.Data) != 0 {
		t.Fatalf("Data = %v, want empty", decoded.Data)
	}
}

func TestEncodeDecodeDataNotMultipleOfWord(t *testing.T) {
	// "foo" is 3 bytes, exercising the data section's 4-byte pad-on-write
	// but exact-length round trip via the unpadded dataCount header field.
	m := &Module{Code: []byte{1, 2, 3, 4}, Data: []byte("foo")}
	raw, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded.Data) != "foo" {
		t.Fatalf("Data = %q, want %q", decoded.Data, "foo")
	}
}

func TestSectionOffsetsStayWithinTotalSize(t *testing.T) {
	m := &Module{
		Code:  []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
		Jumps: []uint32{4, 8},
		Data:  []byte("hello world"),
	}
	raw, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	totalSize, jumpsCount, _, dataCount, _, codeAddr := readHeader(t, raw)
	if int(totalSize) != len(raw) {
		t.Fatalf("totalSize = %d, want %d", totalSize, len(raw))
	}

	var jumpsAddr, dataAddr uint32
	r := bytes.NewReader(raw[24:])
	if err := binary.Read(r, binary.LittleEndian, &jumpsAddr); err != nil {
		t.Fatal(err)
	}
	if err := binary.Read(r, binary.LittleEndian, &dataAddr); err != nil {
		t.Fatal(err)
	}

	if int(codeAddr)+len(m.Code) > int(totalSize) {
		t.Fatalf("codeAddr+len(code) = %d exceeds totalSize %d", int(codeAddr)+len(m.Code), totalSize)
	}
	if int(jumpsAddr)+int(jumpsCount)*4 > int(totalSize) {
		t.Fatalf("jumpsAddr+jumpsCount*4 = %d exceeds totalSize %d", int(jumpsAddr)+int(jumpsCount)*4, totalSize)
	}
	if int(dataAddr)+int(dataCount) > int(totalSize) {
		t.Fatalf("dataAddr+dataCount = %d exceeds totalSize %d", int(dataAddr)+int(dataCount), totalSize)
	}
	if jumpsAddr < codeAddr {
		t.Fatalf("jumps section must follow code: jumpsAddr=%d codeAddr=%d", jumpsAddr, codeAddr)
	}
	if dataAddr < jumpsAddr {
		t.Fatalf("data section must follow jumps: dataAddr=%d jumpsAddr=%d", dataAddr, jumpsAddr)
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error decoding a header shorter than 24 bytes")
	}
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	m := &Module{Code: []byte{1, 2, 3, 4}}
	raw, err := m.Encode()
	if err != nil {
		t.Fatal(err)
	}
	raw = append(raw, 0, 0, 0, 0) // corrupt: totalSize header no longer matches len(raw)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected an error decoding a module whose totalSize header disagrees with its length")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := &Module{Code: []byte{9, 9, 9, 9}, Jumps: []uint32{0}, Data: []byte("x")}
	path := t.TempDir() + "/test.xvrm"
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}
	decoded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded.Code, m.Code) {
		t.Fatalf("Code = %v, want %v", decoded.Code, m.Code)
	}
}
