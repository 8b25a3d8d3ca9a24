package vm

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/apoch/fugue/internal/parser"
)

func runSource(t *testing.T, source string) string {
	t.Helper()
	program, diags, err := parser.Parse(source)
	if err != nil {
		t.Fatalf("parse aborted: %v", err)
	}
	if program.HasFatalError() {
		t.Fatalf("build failed: %v", diags)
	}

	var out bytes.Buffer
	machine := NewMachine(program, &out, strings.NewReader(""))

	done := make(chan error, 1)
	go func() { done <- machine.Run() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("execution failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("execution did not finish")
	}
	return out.String()
}

// The S1 end-to-end contract: the program prints 8.
func TestExecuteDeclarationSumAndWrite(t *testing.T) {
	out := runSource(t, `
integer(x, 5)
x = x + 3
debugwritestring(cast(string, x))
`)
	if out != "8\n" {
		t.Errorf("output = %q, want %q", out, "8\n")
	}
}

func TestExecuteIfChain(t *testing.T) {
	out := runSource(t, `
integer(a, 2)
integer(b, 2)
if(a > b) {
	debugwritestring("greater")
} elseif(a == b) {
	debugwritestring("equal")
} else {
	debugwritestring("lesser")
}
`)
	if out != "equal\n" {
		t.Errorf("output = %q, want %q", out, "equal\n")
	}
}

func TestExecuteElseBranchSkippedAfterElseIf(t *testing.T) {
	out := runSource(t, `
integer(a, 3)
if(a == 1) {
	debugwritestring("one")
} elseif(a == 3) {
	debugwritestring("three")
} else {
	debugwritestring("other")
}
`)
	if out != "three\n" {
		t.Errorf("output = %q, want %q", out, "three\n")
	}
}

func TestExecuteWhileLoop(t *testing.T) {
	out := runSource(t, `
integer(n, 0)
while(n < 3) {
	debugwritestring(cast(string, n))
	n += 1
}
`)
	if out != "0\n1\n2\n" {
		t.Errorf("output = %q", out)
	}
}

func TestExecuteBreakUnwindsLoop(t *testing.T) {
	out := runSource(t, `
integer(n, 0)
while(true) {
	if(n == 2) {
		break
	}
	n += 1
}
debugwritestring(cast(string, n))
`)
	if out != "2\n" {
		t.Errorf("output = %q, want %q", out, "2\n")
	}
}

func TestExecuteFunctionCall(t *testing.T) {
	out := runSource(t, `
function add(integer a, integer b) -> integer(ret, 0) {
	ret = a + b
}
integer(r, 0)
r = add(2, 3)
debugwritestring(cast(string, r))
`)
	if out != "5\n" {
		t.Errorf("output = %q, want %q", out, "5\n")
	}
}

func TestExecuteReferenceParameter(t *testing.T) {
	out := runSource(t, `
function bump(ref integer target) {
	target = target + 1
}
integer(x, 41)
bump(x)
debugwritestring(cast(string, x))
`)
	if out != "42\n" {
		t.Errorf("output = %q, want %q", out, "42\n")
	}
}

func TestExecuteStructureMembers(t *testing.T) {
	out := runSource(t, `
structure S { integer a, real b }
S s
s.a = 2
s.b = 3.5
integer(x, 0)
x = s.a
debugwritestring(cast(string, x))
`)
	if out != "2\n" {
		t.Errorf("output = %q, want %q", out, "2\n")
	}
}

func TestExecuteDeepMemberAccess(t *testing.T) {
	out := runSource(t, `
structure Inner { integer v }
structure Outer { Inner in }
Outer o
o.in.v = 9
integer(x, 0)
x = o.in.v
debugwritestring(cast(string, x))
`)
	if out != "9\n" {
		t.Errorf("output = %q, want %q", out, "9\n")
	}
}

// Short-circuit semantics: a LogicalAnd stops at the first false
// sub-result, so the guarded divide never runs.
func TestShortCircuitAndStopsEvaluation(t *testing.T) {
	out := runSource(t, `
integer(zero, 0)
boolean(safe, false)
safe = zero != 0 && 10 / zero > 1
debugwritestring(cast(string, safe))
`)
	if out != "false\n" {
		t.Errorf("output = %q, want %q", out, "false\n")
	}
}

func TestShortCircuitOrStopsEvaluation(t *testing.T) {
	out := runSource(t, `
integer(zero, 0)
boolean(ok, false)
ok = zero == 0 || 10 / zero > 1
debugwritestring(cast(string, ok))
`)
	if out != "true\n" {
		t.Errorf("output = %q, want %q", out, "true\n")
	}
}

// Task messaging: the S4 shape. The worker accepts a ping, replies to its
// caller, and the root task prints the reply.
func TestTaskMessagingRoundTrip(t *testing.T) {
	out := runSource(t, `
task("worker") {
	acceptmessage(ping, integer x) {
		sendmessage(caller, pong, x + 1)
	}
}
sendmessage("worker", ping, 41)
acceptmessage(pong, integer reply) {
	debugwritestring(cast(string, reply))
}
`)
	if out != "42\n" {
		t.Errorf("output = %q, want %q", out, "42\n")
	}
}

func TestPerSenderMessageOrdering(t *testing.T) {
	out := runSource(t, `
task("sink") {
	acceptmessage(item, integer a) {
		debugwritestring(cast(string, a))
	}
	acceptmessage(item, integer b) {
		debugwritestring(cast(string, b))
	}
}
sendmessage("sink", item, 1)
sendmessage("sink", item, 2)
`)
	if out != "1\n2\n" {
		t.Errorf("messages from one sender must arrive in send order, got %q", out)
	}
}

func TestFutureBlocksUntilProduced(t *testing.T) {
	out := runSource(t, `
function compute() -> integer(ret, 0) {
	ret = 21 * 2
}
future(f, compute())
debugwritestring(cast(string, f))
`)
	if out != "42\n" {
		t.Errorf("output = %q, want %q", out, "42\n")
	}
}

func TestParallelForCoversRange(t *testing.T) {
	out := runSource(t, `
task("collector") {
	integer(seen, 0)
	while(seen < 8) {
		acceptmessage(tick, integer v) {
			seen += 1
		}
	}
	debugwritestring(cast(string, seen))
}
parallelfor(i, 0, 8, 4) {
	sendmessage("collector", tick, i)
}
`)
	if out != "8\n" {
		t.Errorf("output = %q, want %q", out, "8\n")
	}
}

func TestArraysIndexAndLength(t *testing.T) {
	out := runSource(t, `
array(xs, integer, 3)
xs = {10, 20, 30}
integer(n, 0)
n = length(xs)
debugwritestring(cast(string, n))
`)
	if out != "3\n" {
		t.Errorf("output = %q, want %q", out, "3\n")
	}
}

func TestStringConcatenation(t *testing.T) {
	out := runSource(t, `
string(greeting, "hello")
greeting .= " world"
debugwritestring(greeting)
`)
	if out != "hello world\n" {
		t.Errorf("output = %q, want %q", out, "hello world\n")
	}
}

func TestConstantReassignmentFailsAtBuild(t *testing.T) {
	program, _, err := parser.Parse(`
const integer(limit, 9)
limit = 10
`)
	if err != nil {
		t.Fatalf("parse aborted: %v", err)
	}
	if !program.HasFatalError() {
		t.Fatal("reassigning a constant must set the fatal flag")
	}
	machine := NewMachine(program, &bytes.Buffer{}, strings.NewReader(""))
	if machine.Run() == nil {
		t.Fatal("a program with the fatal flag set must refuse to run")
	}
}

func TestSizeOfReportsCompositeFootprint(t *testing.T) {
	out := runSource(t, `
structure S { integer a, real b }
S s
integer(n, 0)
n = sizeof(s)
debugwritestring(cast(string, n))
`)
	if out != "8\n" {
		t.Errorf("output = %q, want %q", out, "8\n")
	}
}

func TestDirectOperationExecution(t *testing.T) {
	program, _, err := parser.Parse(`integer(x, 7)`)
	if err != nil {
		t.Fatal(err)
	}
	machine := NewMachine(program, &bytes.Buffer{}, strings.NewReader(""))
	root := machine.newTask("", nil)
	ctx := newContext(machine, root)
	ctx.pushFrame(program.GlobalScope)
	if err := ctx.runOps(program.GlobalInit); err != nil {
		t.Fatal(err)
	}
	v, err := ctx.ReadVariable("x")
	if err != nil {
		t.Fatal(err)
	}
	if v.AsInteger() != 7 {
		t.Errorf("x = %d, want 7", v.AsInteger())
	}
}
