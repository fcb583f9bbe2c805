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

package compiler_test

import (
	"fmt"

	"github.com/arfyslowy/xvr/bucket"
	"github.com/arfyslowy/xvr/compiler"
	"github.com/arfyslowy/xvr/parser"
	"github.com/arfyslowy/xvr/vm"
)

// Shows the full source-to-execution pipeline: parse source text into an
// AST backed by a bucket arena, compile it to a module image, and run the
// image on a fresh Instance with a custom host.
func Example() {
	src := `
var total:int = 0;
var i:int = 1;
while (i <= 5) {
	total += i;
	i += 1;
}
print total;
`

	b, err := bucket.Allocate(bucket.Small)
	if err != nil {
		panic(err)
	}

	root, err := parser.Parse(src, &b)
	if err != nil {
		panic(err)
	}

	mod, err := compiler.New().Compile(root)
	if err != nil {
		panic(err)
	}

	host := vm.HostInterface{
		Print:         func(msg string) { fmt.Println(msg) },
		Error:         func(msg string) { fmt.Println("error:", msg) },
		AssertFailure: func(msg string) { fmt.Println("assert failed:", msg) },
	}
	i, err := vm.New(mod, vm.Host(host))
	if err == nil {
		err = i.Run()
	}
	if err != nil {
		panic(err)
	}

	// Output:
	// 15
}
