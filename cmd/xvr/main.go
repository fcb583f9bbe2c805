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

// Command xvr is the Xvr language driver: compile-and-run a source file, or
// drop into a line-at-a-time REPL.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/arfyslowy/xvr/ast"
	"github.com/arfyslowy/xvr/bucket"
	"github.com/arfyslowy/xvr/compiler"
	"github.com/arfyslowy/xvr/parser"
	"github.com/arfyslowy/xvr/vm"
)

const (
	versionMajor = 1
	versionMinor = 0
	versionPatch = 0
	versionBuild = "go"
)

type cmdLine struct {
	hasError     bool
	help         bool
	version      bool
	infile       string
	silentPrint  bool
	silentAssert bool
	removeAssert bool
	verbose      bool
}

func parseCmdLine(args []string) cmdLine {
	var c cmdLine
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			c.help = true
		case "-v", "--version":
			c.version = true
		case "-f", "--file":
			if i+1 >= len(args) {
				c.hasError = true
				continue
			}
			i++
			c.infile = args[i]
		case "--silent-print":
			c.silentPrint = true
		case "--silent-assert":
			c.silentAssert = true
		case "--remove-assert":
			c.removeAssert = true
		case "-d", "--verbose":
			c.verbose = true
		default:
			c.hasError = true
		}
	}
	return c
}

func usage(prog string) {
	fmt.Printf("Usage: %s [ -h (--help) | -v (--version) | -f (--file) source.xvr ]\n\n", prog)
}

func help(prog string) {
	usage(prog)
	fmt.Println("  -h, --help\t\t\tShow this help")
	fmt.Println("  -v, --version\t\t\tShow version")
	fmt.Println("  -f, --file infile\t\tParse, compile and run")
	fmt.Println("      --silent-print\t\tSuppress output from the print keywords")
	fmt.Println("      --silent-assert\t\tSuppress output from the assert keywords")
	fmt.Println("      --remove-assert\t\tDo not include the assert statement in the bytecode")
	fmt.Println("  -d, --verbose\t\t\tPrint debug information about Xvr internals")
}

func printVersion() {
	fmt.Printf("The Xvr Programming Language, Version %d.%d.%d %s\n\n", versionMajor, versionMinor, versionPatch, versionBuild)
}

// --- host callbacks, selected by the --silent-print/--silent-assert flags ---

func printCallback(msg string) { fmt.Println(msg) }
func noOpCallback(string)      {}

func errorAndExitCallback(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s", msg)
	os.Exit(-1)
}

func errorAndContinueCallback(msg string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
}

func assertFailureAndExitCallback(msg string) {
	fmt.Fprintf(os.Stderr, "Assert failure: %s\n", msg)
	os.Exit(-1)
}

func assertFailureAndContinueCallback(msg string) {
	fmt.Fprintf(os.Stderr, "Assert Failure: %s\n", msg)
}

func silentExitCallback(string) { os.Exit(-1) }

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(-1)
}

func main() {
	args := os.Args[1:]
	cmd := parseCmdLine(args)

	switch {
	case cmd.hasError:
		usage(os.Args[0])
	case cmd.help:
		help(os.Args[0])
	case cmd.version:
		printVersion()
	case cmd.infile != "":
		runFile(cmd)
	default:
		repl(os.Args[0])
	}
}

func runFile(cmd cmdLine) {
	source, err := os.ReadFile(cmd.infile)
	if err != nil {
		if os.IsNotExist(err) {
			fatal("ERROR: File not found '%s', exiting\n", cmd.infile)
		}
		fatal("ERROR: Unknown error while reading file '%s', exiting\n", cmd.infile)
	}
	if len(source) == 0 {
		fatal("ERROR: Could not parse an empty file '%s', exiting\n", cmd.infile)
	}

	host := vm.HostInterface{
		Print:         printCallback,
		Error:         errorAndExitCallback,
		AssertFailure: assertFailureAndExitCallback,
	}
	if cmd.silentPrint {
		host.Print = noOpCallback
	}
	if cmd.silentAssert {
		host.AssertFailure = silentExitCallback
	}

	handle, err := bucket.Allocate(bucket.Medium)
	if err != nil {
		fatal("Error: %s\n", err)
	}
	var parserOpts []parser.Option
	if cmd.removeAssert {
		parserOpts = append(parserOpts, parser.RemoveAssert())
	}

	root, err := parser.Parse(string(source), &handle, parserOpts...)
	if err != nil {
		fatal("Error: %s\n", err)
	}

	mod, err := compiler.New().Compile(root)
	if err != nil {
		fatal("Error: %s\n", err)
	}

	instance, err := vm.New(mod, vm.Host(host))
	if err != nil {
		fatal("Error: %s\n", err)
	}

	if err := instance.Run(); err != nil {
		fatal("Error: %s\n", err)
	}

	if cmd.verbose {
		dumpStack(instance)
		dumpScope(instance.Scope(), 0)
	}
}

// repl runs a read-compile-run loop against one long-lived Instance, so
// variables declared on one line stay visible to the next. Each line is its
// own lex/parse/compile pass with its own bucket-backed AST, compiling
// independently; a parser error silently skips that line's execution, same
// as the original's `parser.error` check.
func repl(prog string) {
	host := vm.HostInterface{
		Print:         printCallback,
		Error:         errorAndContinueCallback,
		AssertFailure: assertFailureAndContinueCallback,
	}

	seed, err := compiler.New().Compile(ast.NewBlock())
	if err != nil {
		fatal("Error: %s\n", err)
	}
	instance, err := vm.New(seed, vm.Host(host))
	if err != nil {
		fatal("Error: %s\n", err)
	}

	base := filepath.Base(prog)
	prompt := strings.TrimSuffix(base, filepath.Ext(base))
	interactive := isTerminal(os.Stdin)
	showPrompt := func() {
		if interactive {
			fmt.Printf("%s >> ", prompt)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	showPrompt()
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			showPrompt()
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		handle, err := bucket.Allocate(bucket.Small)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			showPrompt()
			continue
		}
		root, err := parser.Parse(line, &handle)
		if err != nil {
			showPrompt()
			continue
		}

		mod, err := compiler.New().Compile(root)
		if err != nil {
			showPrompt()
			continue
		}

		instance.Load(mod)
		if err := instance.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}

		showPrompt()
	}
}

func dumpStack(i *vm.Instance) {
	values := i.Stack().Values()
	if len(values) == 0 {
		return
	}
	fmt.Println("Stack Dump\n==========\ntype\tvalue")
	for _, v := range values {
		fmt.Printf("%s\t%s\n", v.Kind(), vm.Stringify(v))
	}
}

func dumpScope(scope *vm.Scope, depth int) {
	if scope == nil {
		return
	}
	printed := false
	scope.Each(func(key, value vm.Value) {
		if !key.IsString() || !vm.IsNameString(key.AsString()) {
			return
		}
		if !printed {
			fmt.Printf("Scope %d Dump\n==========\ntype\tname\tvalue\n", depth)
			printed = true
		}
		fmt.Printf("%s\t%s\t%s\n", value.Kind(), vm.StringRawBuffer(key.AsString()), vm.Stringify(value))
	})
	dumpScope(scope.Parent(), depth+1)
}
