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

// Package parser consumes the lexer's token stream and emits ast.Node trees
// (their strings partitioned from a caller-supplied bucket), so cmd/xvr is a
// runnable end-to-end pipeline.
// Hand-rolled recursive descent, with an error-accumulation style
// (ErrParse, maxErrors) rather than a parser-combinator/generator library.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arfyslowy/xvr/ast"
	"github.com/arfyslowy/xvr/bucket"
	"github.com/arfyslowy/xvr/lexer"
	"github.com/arfyslowy/xvr/vm"
)

const maxErrors = 10

// ErrParse encapsulates errors accumulated while parsing.
type ErrParse []struct {
	Pos lexer.Position
	Msg string
}

func (e ErrParse) Error() string {
	l := make([]string, 0, len(e))
	for _, err := range e {
		l = append(l, fmt.Sprintf("%s: %s", err.Pos, err.Msg))
	}
	return strings.Join(l, "\n")
}

// Parser turns one source text into an ast.Block representing the whole
// program. Name/leaf strings referenced by the tree are partitioned out of
// bucket, the caller's arena for the AST's string lifetime; the tree's nodes
// themselves are ordinary Go allocations.
type Parser struct {
	lex          *lexer.Lexer
	bucket       **bucket.Bucket
	cur          lexer.Token
	errs         ErrParse
	removeAssert bool
}

// Option configures a Parser at construction time.
type Option func(*Parser)

// RemoveAssert makes the parser drop assert statements entirely (emitting
// ast.Pass in their place) rather than compiling them, matching
// `--remove-assert`.
func RemoveAssert() Option {
	return func(p *Parser) { p.removeAssert = true }
}

// New returns a Parser over src, partitioning any strings it builds out of
// the bucket pointed to by handle.
func New(src string, handle **bucket.Bucket, opts ...Option) *Parser {
	p := &Parser{lex: lexer.New(src), bucket: handle}
	for _, opt := range opts {
		opt(p)
	}
	p.advance()
	return p
}

// Parse runs a full New(src, handle, opts...).ParseProgram() in one call,
// the entry point cmd/xvr and the REPL driver use.
func Parse(src string, handle **bucket.Bucket, opts ...Option) (*ast.Block, error) {
	return New(src, handle, opts...).ParseProgram()
}

func (p *Parser) fail(pos lexer.Position, format string, args ...interface{}) {
	if len(p.errs) >= maxErrors {
		return
	}
	p.errs = append(p.errs, struct {
		Pos lexer.Position
		Msg string
	}{pos, fmt.Sprintf(format, args...)})
}

// advance pulls the next non-error token from the lexer, recording any
// lexical errors encountered along the way as parse errors.
func (p *Parser) advance() {
	for {
		tok := p.lex.Next()
		if tok.Kind == lexer.Error {
			p.fail(tok.Pos, "%s", tok.Text)
			continue
		}
		p.cur = tok
		return
	}
}

func (p *Parser) expect(k lexer.Kind) lexer.Token {
	tok := p.cur
	if tok.Kind != k {
		p.fail(tok.Pos, "expected %v, got %v", k, tok.Kind)
		return tok
	}
	p.advance()
	return tok
}

func (p *Parser) expectIdentifier() lexer.Token {
	tok := p.cur
	if tok.Kind != lexer.Identifier {
		p.fail(tok.Pos, "expected an identifier, got %v", tok.Kind)
		return tok
	}
	p.advance()
	return tok
}

// ParseProgram parses the whole token stream into one top-level Block (no
// implicit inner scope: the VM's own outermost scope backs it). Parsing
// never stops at the first error; it accumulates up to maxErrors and
// resynchronizes one token at a time so later statements still get a
// chance to report their own problems.
func (p *Parser) ParseProgram() (*ast.Block, error) {
	block := ast.NewBlock()
	for p.cur.Kind != lexer.EOF && len(p.errs) < maxErrors {
		before := p.cur
		stmt := p.parseStatement()
		block.Append(stmt)
		if p.cur.Kind == before.Kind && p.cur.Pos == before.Pos && p.cur.Kind != lexer.EOF {
			// parseStatement made no progress (a malformed token it
			// couldn't resynchronize past); force forward progress.
			p.advance()
		}
	}
	if len(p.errs) > 0 {
		return nil, p.errs
	}
	return block, nil
}

// --- statements ---

func (p *Parser) parseStatement() ast.Node {
	switch p.cur.Kind {
	case lexer.KwVar, lexer.KwConst:
		return p.parseVarDecl()
	case lexer.KwIf:
		return p.parseIf()
	case lexer.KwWhile:
		return p.parseWhile()
	case lexer.KwBreak:
		p.advance()
		p.expect(lexer.Semicolon)
		return &ast.Break{}
	case lexer.KwContinue:
		p.advance()
		p.expect(lexer.Semicolon)
		return &ast.Continue{}
	case lexer.KwPrint:
		p.advance()
		expr := p.parseExpression()
		p.expect(lexer.Semicolon)
		return &ast.Print{Child: expr}
	case lexer.KwAssert:
		p.advance()
		cond := p.parseExpression()
		var msg ast.Node
		if p.cur.Kind == lexer.Comma {
			p.advance()
			msg = p.parseExpression()
		}
		p.expect(lexer.Semicolon)
		if p.removeAssert {
			return &ast.Pass{}
		}
		return &ast.Assert{Child: cond, Message: msg}
	case lexer.LBrace:
		return p.parseBlock()
	case lexer.EOF:
		return &ast.End{}
	default:
		return p.parseExprStatement()
	}
}

func (p *Parser) parseBlock() *ast.Block {
	p.expect(lexer.LBrace)
	block := ast.NewBlock()
	block.InnerScope = true
	for p.cur.Kind != lexer.RBrace && p.cur.Kind != lexer.EOF && len(p.errs) < maxErrors {
		before := p.cur
		block.Append(p.parseStatement())
		if p.cur.Kind == before.Kind && p.cur.Pos == before.Pos {
			p.advance()
		}
	}
	p.expect(lexer.RBrace)
	return block
}

func (p *Parser) parseTypeToken() vm.Kind {
	tok := p.cur
	switch tok.Kind {
	case lexer.TypeInt:
		p.advance()
		return vm.KindInteger
	case lexer.TypeFloat:
		p.advance()
		return vm.KindFloat
	case lexer.TypeBool:
		p.advance()
		return vm.KindBoolean
	case lexer.TypeString:
		p.advance()
		return vm.KindString
	case lexer.TypeArray:
		p.advance()
		return vm.KindArray
	case lexer.TypeTable:
		p.advance()
		return vm.KindTable
	case lexer.TypeAny:
		p.advance()
		return vm.KindAny
	default:
		p.fail(tok.Pos, "expected a type, got %v", tok.Kind)
		return vm.KindAny
	}
}

func (p *Parser) parseVarDecl() ast.Node {
	constant := p.cur.Kind == lexer.KwConst
	p.advance()
	nameTok := p.expectIdentifier()
	varType := vm.KindAny
	if p.cur.Kind == lexer.Colon {
		p.advance()
		varType = p.parseTypeToken()
	}

	var expr ast.Node
	if p.cur.Kind == lexer.Assign {
		p.advance()
		expr = p.parseExpression()
	}
	p.expect(lexer.Semicolon)

	name, err := vm.CreateNameStringLength(p.bucket, nameTok.Text, varType, constant)
	if err != nil {
		p.fail(nameTok.Pos, "%s", err)
		return &ast.Error{}
	}
	return &ast.VarDeclare{Name: name, Expr: expr}
}

func (p *Parser) parseIf() ast.Node {
	p.advance()
	p.expect(lexer.LParen)
	cond := p.parseExpression()
	p.expect(lexer.RParen)
	thenBranch := p.parseStatement()
	var elseBranch ast.Node
	if p.cur.Kind == lexer.KwElse {
		p.advance()
		elseBranch = p.parseStatement()
	}
	return &ast.IfThenElse{CondBranch: cond, ThenBranch: thenBranch, ElseBranch: elseBranch}
}

func (p *Parser) parseWhile() ast.Node {
	p.advance()
	p.expect(lexer.LParen)
	cond := p.parseExpression()
	p.expect(lexer.RParen)
	body := p.parseStatement()
	return &ast.WhileThen{CondBranch: cond, ThenBranch: body}
}

// parseExprStatement parses an expression that is also valid as the left-hand
// side of an assignment, then checks for a trailing assignment operator.
func (p *Parser) parseExprStatement() ast.Node {
	pos := p.cur.Pos
	expr := p.parseExpression()
	if op, ok := assignOpKind(p.cur.Kind); ok {
		p.advance()
		rhs := p.parseExpression()
		p.expect(lexer.Semicolon)
		return p.buildAssignWithValue(pos, expr, op, rhs)
	}
	p.expect(lexer.Semicolon)
	return expr
}

type assignOp int

const (
	assignPlain assignOp = iota
	assignAdd
	assignSub
	assignMul
	assignDiv
	assignMod
)

func assignOpKind(k lexer.Kind) (assignOp, bool) {
	switch k {
	case lexer.Assign:
		return assignPlain, true
	case lexer.PlusAssign:
		return assignAdd, true
	case lexer.MinusAssign:
		return assignSub, true
	case lexer.StarAssign:
		return assignMul, true
	case lexer.SlashAssign:
		return assignDiv, true
	case lexer.PercentAssign:
		return assignMod, true
	default:
		return 0, false
	}
}

func (op assignOp) varAssignFlag() ast.Flag {
	switch op {
	case assignAdd:
		return ast.FlagAddAssign
	case assignSub:
		return ast.FlagSubtractAssign
	case assignMul:
		return ast.FlagMultiplyAssign
	case assignDiv:
		return ast.FlagDivideAssign
	case assignMod:
		return ast.FlagModuloAssign
	default:
		return ast.FlagAssign
	}
}

func (op assignOp) binaryFlag() ast.Flag {
	switch op {
	case assignAdd:
		return ast.FlagAdd
	case assignSub:
		return ast.FlagSubtract
	case assignMul:
		return ast.FlagMultiply
	case assignDiv:
		return ast.FlagDivide
	case assignMod:
		return ast.FlagModulo
	default:
		return ast.FlagNone
	}
}

// buildAssignWithValue lowers `target OP rhs` into a VarAssign (name target)
// or an IndexAssign (index target). Compound ops on an index target desugar
// to a fresh read-combine Binary node, since ASSIGN_COMPOUND always
// overwrites rather than combining.
func (p *Parser) buildAssignWithValue(pos lexer.Position, target ast.Node, op assignOp, rhs ast.Node) ast.Node {
	switch t := target.(type) {
	case *ast.VarAccess:
		return &ast.VarAssign{Flag: op.varAssignFlag(), Name: t.Name, Expr: rhs}
	case *ast.Compound:
		if t.Flag != ast.FlagCompoundIndex {
			p.fail(pos, "invalid assignment target")
			return &ast.Error{}
		}
		value := rhs
		if op != assignPlain {
			value = &ast.Binary{Flag: op.binaryFlag(), Left: t, Right: rhs}
		}
		return &ast.IndexAssign{Target: t.Left, Key: t.Right, Value: value}
	default:
		p.fail(pos, "invalid assignment target")
		return &ast.Error{}
	}
}

// --- expressions (precedence climbing) ---

func (p *Parser) parseExpression() ast.Node { return p.parseLogicOr() }

func (p *Parser) parseLogicOr() ast.Node {
	left := p.parseLogicAnd()
	for p.cur.Kind == lexer.OrOr {
		p.advance()
		right := p.parseLogicAnd()
		left = &ast.Binary{Flag: ast.FlagOr, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseLogicAnd() ast.Node {
	left := p.parseEquality()
	for p.cur.Kind == lexer.AndAnd {
		p.advance()
		right := p.parseEquality()
		left = &ast.Binary{Flag: ast.FlagAnd, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseEquality() ast.Node {
	left := p.parseComparison()
	for p.cur.Kind == lexer.EqualEqual || p.cur.Kind == lexer.NotEqual {
		flag := ast.FlagCompareEqual
		if p.cur.Kind == lexer.NotEqual {
			flag = ast.FlagCompareNot
		}
		p.advance()
		right := p.parseComparison()
		left = &ast.Compare{Flag: flag, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseComparison() ast.Node {
	left := p.parseConcat()
	for {
		var flag ast.Flag
		switch p.cur.Kind {
		case lexer.Less:
			flag = ast.FlagCompareLess
		case lexer.LessEqual:
			flag = ast.FlagCompareLessEqual
		case lexer.Greater:
			flag = ast.FlagCompareGreater
		case lexer.GreaterEqual:
			flag = ast.FlagCompareGreaterEqual
		default:
			return left
		}
		p.advance()
		right := p.parseConcat()
		left = &ast.Compare{Flag: flag, Left: left, Right: right}
	}
}

// parseConcat handles string concatenation. Xvr reuses the `++` token for
// this: parsePostfix only ever consumes a trailing `++`/`--` as increment/
// decrement when the operand in front of it is an l-value (a variable or an
// index expression), so "foo" ++ "bar" falls through to here instead, while
// x++ is absorbed as postfix increment before parseConcat ever sees it.
func (p *Parser) parseConcat() ast.Node {
	left := p.parseAdditive()
	for p.cur.Kind == lexer.Increment {
		p.advance()
		right := p.parseAdditive()
		left = &ast.Binary{Flag: ast.FlagConcat, Left: left, Right: right}
	}
	return left
}

// isLvalue reports whether node can be the target of assignment or of
// prefix/postfix increment-decrement: a bare variable or an index into an
// array/table. The compiler accepts only a bare variable as an
// increment/decrement target and reports an error for an index.
func isLvalue(node ast.Node) bool {
	switch n := node.(type) {
	case *ast.VarAccess:
		return true
	case *ast.Compound:
		return n.Flag == ast.FlagCompoundIndex
	default:
		return false
	}
}

func (p *Parser) parseAdditive() ast.Node {
	left := p.parseMultiplicative()
	for {
		var flag ast.Flag
		switch p.cur.Kind {
		case lexer.Plus:
			flag = ast.FlagAdd
		case lexer.Minus:
			flag = ast.FlagSubtract
		default:
			return left
		}
		p.advance()
		right := p.parseMultiplicative()
		left = &ast.Binary{Flag: flag, Left: left, Right: right}
	}
}

func (p *Parser) parseMultiplicative() ast.Node {
	left := p.parseUnary()
	for {
		var flag ast.Flag
		switch p.cur.Kind {
		case lexer.Star:
			flag = ast.FlagMultiply
		case lexer.Slash:
			flag = ast.FlagDivide
		case lexer.Percent:
			flag = ast.FlagModulo
		default:
			return left
		}
		p.advance()
		right := p.parseUnary()
		left = &ast.Binary{Flag: flag, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() ast.Node {
	switch p.cur.Kind {
	case lexer.Bang:
		p.advance()
		child := p.parseUnary()
		return &ast.Unary{Flag: ast.FlagNegate, Child: child}
	case lexer.Minus:
		p.advance()
		child := p.parseUnary()
		return &ast.Binary{Flag: ast.FlagSubtract, Left: &ast.Value{Value: vm.FromInteger(0)}, Right: child}
	case lexer.Increment:
		pos := p.cur.Pos
		p.advance()
		child := p.parseUnary()
		if !isLvalue(child) {
			p.fail(pos, "prefix ++ requires a variable or index expression")
		}
		return &ast.Unary{Flag: ast.FlagIncrement, Child: child, Postfix: false}
	case lexer.Decrement:
		pos := p.cur.Pos
		p.advance()
		child := p.parseUnary()
		if !isLvalue(child) {
			p.fail(pos, "prefix -- requires a variable or index expression")
		}
		return &ast.Unary{Flag: ast.FlagDecrement, Child: child, Postfix: false}
	default:
		return p.parsePostfix()
	}
}

func (p *Parser) parsePostfix() ast.Node {
	node := p.parsePrimary()
	for {
		switch p.cur.Kind {
		case lexer.Increment:
			if !isLvalue(node) {
				return node
			}
			p.advance()
			node = &ast.Unary{Flag: ast.FlagIncrement, Child: node, Postfix: true}
		case lexer.Decrement:
			if !isLvalue(node) {
				return node
			}
			p.advance()
			node = &ast.Unary{Flag: ast.FlagDecrement, Child: node, Postfix: true}
		case lexer.LBracket:
			p.advance()
			index := p.parseExpression()
			arity := 2
			var length ast.Node
			if p.cur.Kind == lexer.Comma {
				p.advance()
				length = p.parseExpression()
				arity = 3
			}
			p.expect(lexer.RBracket)
			node = &ast.Compound{Flag: ast.FlagCompoundIndex, Left: node, Right: index, Length: length, Arity: arity}
		default:
			return node
		}
	}
}

func (p *Parser) parsePrimary() ast.Node {
	tok := p.cur
	switch tok.Kind {
	case lexer.Integer:
		p.advance()
		n, err := strconv.ParseInt(tok.Text, 10, 32)
		if err != nil {
			p.fail(tok.Pos, "invalid integer literal %q", tok.Text)
			return &ast.Error{}
		}
		return &ast.Value{Value: vm.FromInteger(int32(n))}
	case lexer.Float:
		p.advance()
		f, err := strconv.ParseFloat(tok.Text, 32)
		if err != nil {
			p.fail(tok.Pos, "invalid float literal %q", tok.Text)
			return &ast.Error{}
		}
		return &ast.Value{Value: vm.FromFloat(float32(f))}
	case lexer.String:
		p.advance()
		s, err := vm.CreateString(p.bucket, tok.Text)
		if err != nil {
			p.fail(tok.Pos, "%s", err)
			return &ast.Error{}
		}
		return &ast.Value{Value: vm.FromString(s)}
	case lexer.KwTrue:
		p.advance()
		return &ast.Value{Value: vm.FromBoolean(true)}
	case lexer.KwFalse:
		p.advance()
		return &ast.Value{Value: vm.FromBoolean(false)}
	case lexer.KwNull:
		p.advance()
		return &ast.Value{Value: vm.Null()}
	case lexer.Identifier:
		p.advance()
		name, err := vm.CreateNameStringLength(p.bucket, tok.Text, vm.KindAny, false)
		if err != nil {
			p.fail(tok.Pos, "%s", err)
			return &ast.Error{}
		}
		return &ast.VarAccess{Name: name}
	case lexer.LParen:
		p.advance()
		expr := p.parseExpression()
		p.expect(lexer.RParen)
		return &ast.Group{Child: expr}
	case lexer.LBracket:
		return p.parseArrayLiteral()
	case lexer.LBrace:
		return p.parseTableLiteral()
	default:
		p.fail(tok.Pos, "unexpected token %v", tok.Kind)
		p.advance()
		return &ast.Error{}
	}
}

func (p *Parser) parseArrayLiteral() ast.Node {
	p.advance() // '['
	var elems []ast.Node
	if p.cur.Kind != lexer.RBracket {
		elems = append(elems, p.parseExpression())
		for p.cur.Kind == lexer.Comma {
			p.advance()
			elems = append(elems, p.parseExpression())
		}
	}
	p.expect(lexer.RBracket)
	return &ast.Compound{Flag: ast.FlagCompoundCollection, Elements: elems}
}

func (p *Parser) parseTableLiteral() ast.Node {
	p.advance() // '{'
	var pairs []ast.Node
	if p.cur.Kind != lexer.RBrace {
		pairs = append(pairs, p.parseTablePair()...)
		for p.cur.Kind == lexer.Comma {
			p.advance()
			pairs = append(pairs, p.parseTablePair()...)
		}
	}
	p.expect(lexer.RBrace)
	return &ast.Compound{Flag: ast.FlagCompoundCollection, Pairs: pairs, IsTable: true}
}

func (p *Parser) parseTablePair() []ast.Node {
	key := p.parseExpression()
	p.expect(lexer.Colon)
	value := p.parseExpression()
	return []ast.Node{key, value}
}
