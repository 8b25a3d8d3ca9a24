// Package parser drives the semantic builder: it scans tokens and
// translates each construct into the builder's event surface. All semantics
// live in the builder; the parser only decides which events to fire.
package parser

import (
	"fmt"

	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
	"github.com/apoch/fugue/internal/lexer"
	"github.com/apoch/fugue/internal/semantics"
)

// blockStatementNames are call-like statements followed by a code block.
var blockStatementNames = map[string]bool{
	"task":        true,
	"thread":      true,
	"parallelfor": true,
}

type Parser struct {
	tokens  []lexer.Token
	pos     int
	builder *semantics.Builder
	errors  []*diagnostics.DiagnosticError
}

// Parse runs the preparse (function and type registration) and the main
// parse over the source, producing the elaborated program. Structural
// violations abort with an error; soft failures accumulate on the builder
// and set the program's fatal flag.
func Parse(source string) (program *ir.Program, diags []*diagnostics.DiagnosticError, err error) {
	defer func() {
		if r := recover(); r != nil {
			if failure, ok := r.(*diagnostics.ParserFailure); ok {
				err = failure
				return
			}
			err = fmt.Errorf("%w: %v", diagnostics.ErrStructural, r)
		}
	}()

	p := &Parser{builder: semantics.NewBuilder()}
	p.tokenize(source)
	p.preparse()
	p.pos = 0
	p.mainParse()

	diags = append(p.builder.Errors(), p.errors...)
	return p.builder.Program(), diags, nil
}

func (p *Parser) tokenize(source string) {
	l := lexer.New(source)
	for {
		tok := l.NextToken()
		p.tokens = append(p.tokens, tok)
		if tok.Type == lexer.EOF {
			return
		}
	}
}

func (p *Parser) cur() lexer.Token {
	return p.tokens[p.pos]
}

func (p *Parser) peek() lexer.Token {
	if p.pos+1 >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+1]
}

func (p *Parser) advance() lexer.Token {
	tok := p.cur()
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return tok
}

func (p *Parser) expect(t lexer.TokenType) lexer.Token {
	tok := p.cur()
	if tok.Type != t {
		panic(diagnostics.Failf("expected %s at %d:%d, found %q", t, tok.Line, tok.Column, tok.Literal))
	}
	return p.advance()
}

func (p *Parser) accept(t lexer.TokenType) bool {
	if p.cur().Type == t {
		p.advance()
		return true
	}
	return false
}

// --- preparse: register types and function shells ---

func (p *Parser) preparse() {
	for p.cur().Type != lexer.EOF {
		switch {
		case p.isKeyword("structure"), p.isKeyword("tuple"):
			p.parseCompositeDefinition()
		case p.isKeyword("function"), p.isKeyword("infix") && p.peek().Literal == "function":
			p.preparseFunction()
		default:
			p.advance()
		}
	}
}

func (p *Parser) isKeyword(word string) bool {
	return p.cur().Type == lexer.IDENT && p.cur().Literal == word
}

func (p *Parser) parseCompositeDefinition() {
	isTuple := p.advance().Literal == "tuple"
	name := p.expect(lexer.IDENT).Literal
	p.builder.BeginStructureDefinition(name, isTuple)
	p.expect(lexer.LBRACE)
	for p.cur().Type != lexer.RBRACE && p.cur().Type != lexer.EOF {
		typeName := p.expect(lexer.IDENT).Literal
		memberName := p.expect(lexer.IDENT).Literal
		p.builder.AddStructureMember(typeName, memberName)
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RBRACE)
	p.builder.CompleteStructureDefinition()
}

func (p *Parser) preparseFunction() {
	isInfix := false
	if p.isKeyword("infix") {
		isInfix = true
		p.advance()
	}
	p.advance() // function
	name := p.expect(lexer.IDENT).Literal
	p.builder.BeginFunctionPreparse(name)

	p.expect(lexer.LPAREN)
	for p.cur().Type != lexer.RPAREN && p.cur().Type != lexer.EOF {
		isRef := false
		if p.isKeyword("ref") {
			isRef = true
			p.advance()
		}
		typeName := p.expect(lexer.IDENT).Literal
		if typeName == "array" {
			elemType := p.expect(lexer.IDENT).Literal
			paramName := p.expect(lexer.IDENT).Literal
			p.builder.AddFunctionArrayParam(paramName, elemType)
		} else {
			paramName := p.expect(lexer.IDENT).Literal
			p.builder.AddFunctionParam(semantics.DeclaredParam{TypeName: typeName, Name: paramName, IsRef: isRef})
		}
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)

	if p.accept(lexer.ARROW) {
		for {
			typeName := p.expect(lexer.IDENT).Literal
			p.expect(lexer.LPAREN)
			retName := p.expect(lexer.IDENT).Literal
			p.expect(lexer.COMMA)
			initial := p.parseLiteralValue()
			p.expect(lexer.RPAREN)
			p.builder.AddFunctionReturn(typeName, retName, initial)
			if !p.accept(lexer.COMMA) {
				break
			}
		}
	}
	p.builder.CompleteFunctionPreparse(isInfix)
	p.skipBlock()
}

// parseLiteralValue consumes one literal token (optionally negated) into an
// RValue.
func (p *Parser) parseLiteralValue() ir.RValue {
	negative := p.accept(lexer.MINUS)
	tok := p.advance()
	switch tok.Type {
	case lexer.INTEGER:
		v, ok := lexer.ParseIntegerLiteral(tok.Literal)
		if !ok {
			panic(diagnostics.Failf("bad integer literal %q at %d:%d", tok.Literal, tok.Line, tok.Column))
		}
		if negative {
			v = -v
		}
		return ir.IntegerValue(v)
	case lexer.INTEGER16:
		v, ok := lexer.ParseInteger16Literal(tok.Literal)
		if !ok {
			panic(diagnostics.Failf("bad integer16 literal %q at %d:%d", tok.Literal, tok.Line, tok.Column))
		}
		if negative {
			v = -v
		}
		return ir.Integer16Value(v)
	case lexer.REAL:
		v, ok := lexer.ParseRealLiteral(tok.Literal)
		if !ok {
			panic(diagnostics.Failf("bad real literal %q at %d:%d", tok.Literal, tok.Line, tok.Column))
		}
		if negative {
			v = -v
		}
		return ir.RealValue(v)
	case lexer.STRING:
		return ir.StringValue(tok.Literal)
	case lexer.TRUE:
		return ir.BooleanValue(true)
	case lexer.FALSE:
		return ir.BooleanValue(false)
	}
	panic(diagnostics.Failf("expected a literal at %d:%d, found %q", tok.Line, tok.Column, tok.Literal))
}

// skipBlock consumes a brace-balanced block without firing events.
func (p *Parser) skipBlock() {
	p.expect(lexer.LBRACE)
	depth := 1
	for depth > 0 && p.cur().Type != lexer.EOF {
		switch p.cur().Type {
		case lexer.LBRACE:
			depth++
		case lexer.RBRACE:
			depth--
		}
		p.advance()
	}
}

// skipToBlock consumes tokens up to, but not including, the next top-level
// opening brace.
func (p *Parser) skipToBlock() {
	for p.cur().Type != lexer.LBRACE && p.cur().Type != lexer.EOF {
		p.advance()
	}
}

// --- main parse ---

func (p *Parser) mainParse() {
	for p.cur().Type != lexer.EOF {
		switch {
		case p.isKeyword("structure"), p.isKeyword("tuple"):
			// Registered during the preparse.
			p.skipToBlock()
			p.skipBlock()
		case p.isKeyword("function"), p.isKeyword("infix") && p.peek().Literal == "function":
			p.parseFunctionBody()
		default:
			p.parseStatement()
		}
	}
}

func (p *Parser) parseFunctionBody() {
	if p.isKeyword("infix") {
		p.advance()
	}
	p.advance() // function
	name := p.expect(lexer.IDENT).Literal
	p.skipToBlock()
	p.builder.BeginFunctionBody(name)
	p.expect(lexer.LBRACE)
	for p.cur().Type != lexer.RBRACE && p.cur().Type != lexer.EOF {
		p.parseStatement()
	}
	p.expect(lexer.RBRACE)
	p.builder.EndBlock()
}

func (p *Parser) parseBlock() {
	p.expect(lexer.LBRACE)
	p.builder.BeginBlock()
	for p.cur().Type != lexer.RBRACE && p.cur().Type != lexer.EOF {
		p.parseStatement()
	}
	p.expect(lexer.RBRACE)
	p.builder.EndBlock()
}

func (p *Parser) parseStatement() {
	tok := p.cur()
	p.builder.SetPosition(tok.Line, tok.Column)

	switch {
	case p.isKeyword("if"):
		p.parseIfChain()
	case p.isKeyword("while"):
		p.advance()
		p.builder.RegisterControlKeyword("while")
		p.parseCondition()
		p.builder.CompleteWhileCondition()
		p.parseBlock()
	case p.isKeyword("do"):
		p.advance()
		p.builder.RegisterControlKeyword("do")
		p.expect(lexer.LBRACE)
		p.builder.BeginBlock()
		for p.cur().Type != lexer.RBRACE && p.cur().Type != lexer.EOF {
			p.parseStatement()
		}
		p.expect(lexer.RBRACE)
		p.builder.EndDoWhileBody()
		if !p.isKeyword("while") {
			panic(diagnostics.Failf("do block requires a trailing while condition at %d:%d", p.cur().Line, p.cur().Column))
		}
		p.advance()
		p.parseCondition()
		p.builder.CompleteDoWhile()
	case p.isKeyword("break"):
		p.advance()
		p.builder.EmitBreak()
	case p.isKeyword("return"):
		p.advance()
		p.builder.EmitReturn()
	case p.isKeyword("const"):
		p.advance()
		p.builder.MarkNextDeclarationConst()
		p.parseExpressionStatement()
	case p.isKeyword("acceptmessage"):
		p.parseAcceptMessage()
	case p.isKeyword("responsemap"):
		p.parseResponseMap()
	case tok.Type == lexer.LBRACE:
		p.parseBlock()
	case tok.Type == lexer.INCREMENT || tok.Type == lexer.DECREMENT:
		increment := p.advance().Type == lexer.INCREMENT
		name := p.expect(lexer.IDENT).Literal
		p.builder.RegisterPreIncrement(name, increment)
	case tok.Type == lexer.IDENT && p.peek().Type == lexer.IDENT:
		// Composite or signature-typed declaration: TypeName varname.
		typeName := p.advance().Literal
		varName := p.advance().Literal
		p.builder.BeginParameterSet(typeName)
		p.builder.PushIdentifier(varName)
		p.builder.CountParameter()
		p.builder.CompleteStatement()
	default:
		p.parseExpressionStatement()
	}

	p.builder.MergeDeferredOperations()
}

func (p *Parser) parseIfChain() {
	p.advance()
	p.builder.RegisterControlKeyword("if")
	p.parseCondition()
	p.parseBlock()
	for p.isKeyword("elseif") {
		p.advance()
		p.builder.RegisterControlKeyword("elseif")
		p.parseCondition()
		p.parseBlock()
	}
	if p.isKeyword("else") {
		p.advance()
		p.builder.RegisterControlKeyword("else")
		p.parseBlock()
	}
}

func (p *Parser) parseCondition() {
	p.expect(lexer.LPAREN)
	p.builder.BeginConditionPhrase()
	p.parseExpressionInto()
	p.builder.TerminateInfixExpression()
	p.expect(lexer.RPAREN)
}

func (p *Parser) parseAcceptMessage() {
	p.advance()
	p.expect(lexer.LPAREN)
	message := p.expect(lexer.IDENT).Literal
	var params []semantics.DeclaredParam
	for p.accept(lexer.COMMA) {
		typeName := p.expect(lexer.IDENT).Literal
		paramName := p.expect(lexer.IDENT).Literal
		params = append(params, semantics.DeclaredParam{TypeName: typeName, Name: paramName})
	}
	p.expect(lexer.RPAREN)
	p.builder.BeginAcceptMessage(message, params)
	p.parseBlock()
}

func (p *Parser) parseResponseMap() {
	p.advance()
	name := p.expect(lexer.IDENT).Literal
	p.builder.BeginResponseMap(name)
	p.expect(lexer.LBRACE)
	p.builder.BeginBlock()
	for p.cur().Type != lexer.RBRACE && p.cur().Type != lexer.EOF {
		message := p.expect(lexer.IDENT).Literal
		p.expect(lexer.LPAREN)
		var params []semantics.DeclaredParam
		for p.cur().Type != lexer.RPAREN && p.cur().Type != lexer.EOF {
			typeName := p.expect(lexer.IDENT).Literal
			paramName := p.expect(lexer.IDENT).Literal
			params = append(params, semantics.DeclaredParam{TypeName: typeName, Name: paramName})
			if !p.accept(lexer.COMMA) {
				break
			}
		}
		p.expect(lexer.RPAREN)
		p.builder.BeginResponseMapEntry(message, params)
		p.parseBlock()
	}
	p.expect(lexer.RBRACE)
	p.builder.EndBlock()
}
