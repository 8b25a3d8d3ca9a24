package lexer

import "testing"

func TestNextTokenScansOperatorsAndLiterals(t *testing.T) {
	input := `integer(x, 5)
x += 3
s.a = 2.5
p = a && b || c
w .= "tail"
n++
3s16
if(a >= b) { }
`
	tests := []struct {
		wantType    TokenType
		wantLiteral string
	}{
		{IDENT, "integer"}, {LPAREN, "("}, {IDENT, "x"}, {COMMA, ","}, {INTEGER, "5"}, {RPAREN, ")"},
		{IDENT, "x"}, {PLUSASSIGN, "+="}, {INTEGER, "3"},
		{IDENT, "s"}, {DOT, "."}, {IDENT, "a"}, {ASSIGN, "="}, {REAL, "2.5"},
		{IDENT, "p"}, {ASSIGN, "="}, {IDENT, "a"}, {AND, "&&"}, {IDENT, "b"}, {OR, "||"}, {IDENT, "c"},
		{IDENT, "w"}, {CONCATASSIGN, ".="}, {STRING, "tail"},
		{IDENT, "n"}, {INCREMENT, "++"},
		{INTEGER16, "3"},
		{IDENT, "if"}, {LPAREN, "("}, {IDENT, "a"}, {GTEQ, ">="}, {IDENT, "b"}, {RPAREN, ")"},
		{LBRACE, "{"}, {RBRACE, "}"},
		{EOF, ""},
	}

	l := New(input)
	for i, want := range tests {
		tok := l.NextToken()
		if tok.Type != want.wantType || tok.Literal != want.wantLiteral {
			t.Fatalf("token %d = (%s, %q), want (%s, %q)", i, tok.Type, tok.Literal, want.wantType, want.wantLiteral)
		}
	}
}

func TestStringEscapes(t *testing.T) {
	l := New(`"line\none\ttab\"quote\""`)
	tok := l.NextToken()
	if tok.Type != STRING {
		t.Fatalf("type = %s", tok.Type)
	}
	want := "line\none\ttab\"quote\""
	if tok.Literal != want {
		t.Errorf("literal = %q, want %q", tok.Literal, want)
	}
}

func TestLineCommentsAreSkipped(t *testing.T) {
	l := New("// leading comment\nx // trailing\ny")
	if tok := l.NextToken(); tok.Type != IDENT || tok.Literal != "x" {
		t.Fatalf("first token = (%s, %q)", tok.Type, tok.Literal)
	}
	if tok := l.NextToken(); tok.Type != IDENT || tok.Literal != "y" {
		t.Fatalf("second token = (%s, %q)", tok.Type, tok.Literal)
	}
}

func TestPositionsTrackLinesAndColumns(t *testing.T) {
	l := New("a\n  b")
	first := l.NextToken()
	second := l.NextToken()
	if first.Line != 1 {
		t.Errorf("first token line = %d", first.Line)
	}
	if second.Line != 2 {
		t.Errorf("second token line = %d", second.Line)
	}
	if second.Column <= first.Column {
		t.Errorf("second token column = %d, must account for indentation", second.Column)
	}
}
