package parser

import (
	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
	"github.com/apoch/fugue/internal/lexer"
)

var infixTokens = map[lexer.TokenType]bool{
	lexer.PLUS:   true,
	lexer.MINUS:  true,
	lexer.STAR:   true,
	lexer.SLASH:  true,
	lexer.EQ:     true,
	lexer.NOTEQ:  true,
	lexer.LT:     true,
	lexer.GT:     true,
	lexer.LTEQ:   true,
	lexer.GTEQ:   true,
	lexer.AND:    true,
	lexer.OR:     true,
	lexer.BITAND: true,
	lexer.BITOR:  true,
	lexer.CONCAT: true,
}

var compoundAssignTokens = map[lexer.TokenType]bool{
	lexer.PLUSASSIGN:   true,
	lexer.MINUSASSIGN:  true,
	lexer.STARASSIGN:   true,
	lexer.SLASHASSIGN:  true,
	lexer.CONCATASSIGN: true,
}

// parseExpressionStatement parses one statement-level phrase.
func (p *Parser) parseExpressionStatement() {
	p.builder.BeginPhrase()
	p.parseExpressionInto()
	p.builder.TerminateInfixExpression()
}

// parseExpressionInto parses operands and operators into the open phrase.
func (p *Parser) parseExpressionInto() {
	p.parseOperand()
	for {
		tok := p.cur()
		switch {
		case tok.Type == lexer.ASSIGN:
			p.advance()
			p.builder.RegisterAssignment()
			p.parseOperand()
		case compoundAssignTokens[tok.Type]:
			p.advance()
			p.builder.RegisterCompoundAssignment(string(tok.Type))
			p.parseOperand()
		case infixTokens[tok.Type]:
			p.advance()
			p.builder.RegisterInfixOperator(string(tok.Type))
			p.parseOperand()
		case tok.Type == lexer.IDENT && p.builderKnowsInfix(tok.Literal):
			p.advance()
			p.builder.RegisterInfixOperator(tok.Literal)
			p.parseOperand()
		default:
			return
		}
	}
}

func (p *Parser) builderKnowsInfix(name string) bool {
	return p.builder.IsUserInfixOperator(name)
}

// parseOperand parses one operand of the open phrase.
func (p *Parser) parseOperand() {
	tok := p.cur()
	switch tok.Type {
	case lexer.INTEGER:
		p.advance()
		v, ok := lexer.ParseIntegerLiteral(tok.Literal)
		if !ok {
			panic(diagnostics.Failf("bad integer literal %q at %d:%d", tok.Literal, tok.Line, tok.Column))
		}
		p.builder.PushIntegerLiteral(v)
	case lexer.INTEGER16:
		p.advance()
		v, ok := lexer.ParseInteger16Literal(tok.Literal)
		if !ok {
			panic(diagnostics.Failf("bad integer16 literal %q at %d:%d", tok.Literal, tok.Line, tok.Column))
		}
		p.builder.PushInteger16Literal(v)
	case lexer.REAL:
		p.advance()
		v, ok := lexer.ParseRealLiteral(tok.Literal)
		if !ok {
			panic(diagnostics.Failf("bad real literal %q at %d:%d", tok.Literal, tok.Line, tok.Column))
		}
		p.builder.PushRealLiteral(v)
	case lexer.STRING:
		p.advance()
		p.builder.PushStringLiteral(tok.Literal)
	case lexer.TRUE:
		p.advance()
		p.builder.PushBooleanLiteral(true)
	case lexer.FALSE:
		p.advance()
		p.builder.PushBooleanLiteral(false)

	case lexer.MINUS:
		// Negative literal.
		next := p.peek()
		if next.Type != lexer.INTEGER && next.Type != lexer.INTEGER16 && next.Type != lexer.REAL {
			panic(diagnostics.Failf("unexpected %q at %d:%d", tok.Literal, tok.Line, tok.Column))
		}
		v := p.parseLiteralValue()
		p.pushLiteralOperand(v)

	case lexer.LPAREN:
		p.advance()
		p.builder.BeginPhrase()
		p.parseExpressionInto()
		p.builder.TerminateInfixExpression()
		p.expect(lexer.RPAREN)

	case lexer.LBRACE:
		p.parseArrayLiteral()

	case lexer.IDENT:
		p.parseIdentifierOperand()

	default:
		panic(diagnostics.Failf("unexpected %q at %d:%d", tok.Literal, tok.Line, tok.Column))
	}
}

func (p *Parser) parseIdentifierOperand() {
	name := p.advance().Literal
	switch p.cur().Type {
	case lexer.LPAREN:
		p.parseCall(name)

	case lexer.DOT:
		p.builder.PushIdentifier(name)
		for p.accept(lexer.DOT) {
			member := p.expect(lexer.IDENT).Literal
			p.builder.RegisterMemberAccess(member)
		}
		if p.cur().Type == lexer.ASSIGN {
			p.advance()
			p.builder.FinishMemberLValue()
			p.parseOperand()
			return
		}
		p.builder.ResetMemberAccess()

	case lexer.INCREMENT, lexer.DECREMENT:
		increment := p.advance().Type == lexer.INCREMENT
		p.builder.RegisterPostIncrement(name, increment)

	default:
		p.builder.PushIdentifier(name)
	}
}

// parseCall fires the parameter-set events for a call-like statement; the
// builder dispatches on the name. Task, thread and parallel-for statements
// continue into their body blocks.
func (p *Parser) parseCall(name string) {
	p.builder.BeginParameterSet(name)
	p.expect(lexer.LPAREN)
	for p.cur().Type != lexer.RPAREN && p.cur().Type != lexer.EOF {
		p.builder.BeginPhrase()
		p.parseExpressionInto()
		p.builder.TerminateInfixExpression()
		p.builder.CountParameter()
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RPAREN)
	p.builder.CompleteStatement()

	if blockStatementNames[name] && p.cur().Type == lexer.LBRACE {
		p.parseBlock()
	}
}

func (p *Parser) parseArrayLiteral() {
	p.expect(lexer.LBRACE)
	count := 0
	for p.cur().Type != lexer.RBRACE && p.cur().Type != lexer.EOF {
		p.builder.BeginPhrase()
		p.parseExpressionInto()
		p.builder.TerminateInfixExpression()
		count++
		if !p.accept(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.RBRACE)
	p.builder.CompleteArrayLiteral(count)
}

func (p *Parser) pushLiteralOperand(v ir.RValue) {
	switch v.Type {
	case ir.TypeInteger:
		p.builder.PushIntegerLiteral(v.AsInteger())
	case ir.TypeInteger16:
		p.builder.PushInteger16Literal(v.AsInteger16())
	case ir.TypeReal:
		p.builder.PushRealLiteral(v.AsReal())
	case ir.TypeBoolean:
		p.builder.PushBooleanLiteral(v.AsBoolean())
	case ir.TypeString:
		p.builder.PushStringLiteral(v.AsString())
	}
}
