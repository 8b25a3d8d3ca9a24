package serialization

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apoch/fugue/internal/parser"
)

func serialize(t *testing.T, source string) string {
	t.Helper()
	program, diags, err := parser.Parse(source)
	if err != nil {
		t.Fatalf("parse aborted: %v", err)
	}
	if program.HasFatalError() {
		t.Fatalf("build failed: %v", diags)
	}
	var out bytes.Buffer
	if err := Write(&out, program); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestSerializationEmitsReservedTokens(t *testing.T) {
	text := serialize(t, `
structure S { integer a, real b }
S s
integer(x, 5)
x = x + 3
`)

	for _, token := range []string{
		"Scope", "ParentScope", "Variables", "Ghosts", "Functions",
		"FunctionSignatureList", "TupleTypes", "TupleTypeHints", "TupleTypeMap",
		"StructureTypes", "StructureTypeHints", "StructureTypeMap", "Members",
		"Constants", "ResponseMaps", "Futures", "ListTypes", "ListSizes",
		"GlobalBlock", "BeginBlock", "EndBlock", "CurrentScope",
	} {
		if !strings.Contains(text, token) {
			t.Errorf("output lacks the reserved token %q", token)
		}
	}
}

func TestSerializationIndentsByBlockDepth(t *testing.T) {
	text := serialize(t, `
integer(x, 1)
if(x > 0) {
	x = 2
}
`)
	lines := strings.Split(text, "\n")

	// Operations of the global block indent one level; the if's true block
	// indents further.
	var sawTop, sawNested bool
	for _, line := range lines {
		if strings.HasPrefix(line, "\tInitializeValue") {
			sawTop = true
		}
		if strings.HasPrefix(line, "\t\t\tAssignValue") {
			sawNested = true
		}
	}
	if !sawTop {
		t.Error("global block operations must indent beneath GlobalBlock")
	}
	if !sawNested {
		t.Error("nested block operations must indent beneath their If")
	}
}

func TestSerializationKeepsOperationPayloadInline(t *testing.T) {
	text := serialize(t, `integer(x, 5)`)
	if !strings.Contains(text, "PushInteger 5") {
		t.Error("a literal push must keep its payload on the operation's line")
	}
	if !strings.Contains(text, "InitializeValue x") {
		t.Error("a variable operation must carry its name inline")
	}
}

func TestSerializationIsDeterministic(t *testing.T) {
	source := `
structure S { integer a, real b }
S s
s.a = 1
`
	first := serialize(t, source)
	second := serialize(t, source)
	if first != second {
		t.Error("serialization must be deterministic")
	}
}
