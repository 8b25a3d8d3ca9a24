package parser

import (
	"testing"

	"github.com/apoch/fugue/internal/ir"
)

func buildProgram(t *testing.T, source string) *ir.Program {
	t.Helper()
	program, diags, err := Parse(source)
	if err != nil {
		t.Fatalf("parse aborted: %v", err)
	}
	if program.HasFatalError() {
		t.Fatalf("unexpected fatal errors: %v", diags)
	}
	return program
}

func buildExpectingFatal(t *testing.T, source string) *ir.Program {
	t.Helper()
	program, _, err := Parse(source)
	if err != nil {
		t.Fatalf("parse aborted: %v", err)
	}
	if !program.HasFatalError() {
		t.Fatal("expected the fatal flag to be set")
	}
	return program
}

func tokens(program *ir.Program, b *ir.Block) []string {
	scope := b.GetBoundScope()
	if scope == nil {
		scope = program.GlobalScope
	}
	var out []string
	for _, op := range b.Operations() {
		out = append(out, op.Payload(scope).Token)
	}
	return out
}

func assertTokens(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("operation stream = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("operation %d = %s, want %s (full stream %v)", i, got[i], want[i], got)
		}
	}
}

// The S1 lowering: declaration, infix sum, cast and console write.
func TestScenarioDeclarationSumAndWrite(t *testing.T) {
	program := buildProgram(t, `
integer(x, 5)
x = x + 3
debugwritestring(cast(string, x))
`)

	assertTokens(t, tokens(program, program.GlobalInit), []string{
		ir.TokenInitializeValue,
		ir.TokenPushInteger,
		ir.TokenAssignValue,
		ir.TokenPushOperation, // GetVariableValue x
		ir.TokenPushInteger,
		ir.TokenPushOperation, // Sum
		ir.TokenAssignValue,
		ir.TokenPushOperation, // TypeCast
		ir.TokenDebugWriteStringExpression,
	})

	ops := program.GlobalInit.Operations()
	sum, ok := ops[5].(*ir.PushOperation).Op.(*ir.Arithmetic)
	if !ok || sum.Kind != ir.ArithmeticSum {
		t.Fatal("the sixth operation must wrap the sum")
	}
	if sum.TypeTag != ir.TypeInteger || sum.FirstIsArray || sum.SecondIsArray || sum.NumParams != 2 {
		t.Errorf("sum carries (%s, %v, %v, %d)", sum.TypeTag, sum.FirstIsArray, sum.SecondIsArray, sum.NumParams)
	}
	if !program.UsesConsole {
		t.Error("console write must set the uses-console flag")
	}
}

// The S2 if-chain discipline: one If, one wrapped ElseIf ending in
// ExitIfChain, and the else body installed as the false block.
func TestScenarioIfChain(t *testing.T) {
	program := buildProgram(t, `
integer(a, 1)
integer(b, 2)
if(a > b) {
	a = 1
} elseif(a == b) {
	a = 2
} else {
	a = 3
}
`)

	ops := program.GlobalInit.Operations()
	ifOp, ok := ops[len(ops)-1].(*ir.If)
	if !ok {
		t.Fatalf("the statement must lower to a tail If, got %T", ops[len(ops)-1])
	}
	if ifOp.TrueBlock == nil || ifOp.FalseBlock == nil || ifOp.ElseIfs == nil {
		t.Fatal("the If must carry a true block, a false block and an elseif wrapper")
	}

	chain := ifOp.ElseIfs.Chain.Operations()
	elseIf, ok := chain[len(chain)-1].(*ir.ElseIf)
	if !ok {
		t.Fatalf("the wrapper chain must end in the ElseIf, got %T", chain[len(chain)-1])
	}
	body := elseIf.Body.Operations()
	if _, ok := body[len(body)-1].(*ir.ExitIfChain); !ok {
		t.Error("every elseif body must end in ExitIfChain")
	}
}

// The S3 lowering: structure declaration, member offsets, member stores.
func TestScenarioStructureMembers(t *testing.T) {
	program := buildProgram(t, `
structure S { integer a, real b }
S s
s.a = 2
s.b = 3.5
`)

	id := program.GlobalScope.GetStructureTypeID("S")
	if id == 0 {
		t.Fatal("structure S must be registered")
	}
	desc := program.Registry.GetStructureType(id)
	if desc == nil {
		t.Fatal("registry must resolve the structure ID")
	}
	if len(desc.MemberOrder) != 2 || desc.MemberOrder[0] != "a" || desc.MemberOrder[1] != "b" {
		t.Errorf("member order = %v", desc.MemberOrder)
	}
	if desc.GetMemberOffset("a") != 0 || desc.GetMemberOffset("b") != 4 {
		t.Errorf("offsets = [%d, %d], want [0, 4]", desc.GetMemberOffset("a"), desc.GetMemberOffset("b"))
	}

	ops := program.GlobalInit.Operations()
	storeA, ok := ops[len(ops)-3].(*ir.AssignStructure)
	if !ok || storeA.VarName != "s" || storeA.Member != "a" {
		t.Errorf("expected AssignStructure(s, a), got %T", ops[len(ops)-3])
	}
	storeB, ok := ops[len(ops)-1].(*ir.AssignStructure)
	if !ok || storeB.VarName != "s" || storeB.Member != "b" {
		t.Errorf("expected AssignStructure(s, b) at the tail, got %T", ops[len(ops)-1])
	}
}

// The S4 shape: the task body's scope parents to the global scope, the
// accept carries the payload types, and the send goes through the caller.
func TestScenarioTaskMessaging(t *testing.T) {
	program := buildProgram(t, `
task("w") {
	while(true) {
		acceptmessage(ping, integer x) {
			sendmessage(caller, pong, x + 1)
		}
	}
}
`)

	ops := program.GlobalInit.Operations()
	fork, ok := ops[len(ops)-1].(*ir.ForkTask)
	if !ok {
		t.Fatalf("expected a tail ForkTask, got %T", ops[len(ops)-1])
	}
	if name, ok := ops[len(ops)-2].(*ir.PushString); !ok || name.Value != "w" {
		t.Error("the task name literal must precede the fork")
	}
	if program.Debug.GetTaskName(fork) != "w" {
		t.Error("the debug table must track the task name by spawn site")
	}
	if fork.Body.GetBoundScope().ParentScope != program.GlobalScope {
		t.Error("task bodies must reparent to the global scope")
	}

	loop, ok := fork.Body.Operations()[len(fork.Body.Operations())-1].(*ir.WhileLoop)
	if !ok {
		t.Fatal("the task body must hold the while loop")
	}
	var accept *ir.AcceptMessage
	for _, op := range loop.Body.Operations() {
		if a, ok := op.(*ir.AcceptMessage); ok {
			accept = a
		}
	}
	if accept == nil {
		t.Fatal("the loop body must hold the accept")
	}
	if accept.MessageName != "ping" || len(accept.PayloadTypes) != 1 || accept.PayloadTypes[0] != ir.TypeInteger {
		t.Errorf("accept carries %q %v", accept.MessageName, accept.PayloadTypes)
	}
	if accept.AuxScope == nil {
		t.Error("the accept must carry its auxiliary scope")
	}

	handler := accept.Handler.Operations()
	if _, ok := handler[0].(*ir.PushOperation).Op.(*ir.GetTaskCaller); !ok {
		t.Error("the send must reference the caller")
	}
	send, ok := handler[len(handler)-1].(*ir.SendTaskMessage)
	if !ok {
		t.Fatalf("the handler must end in the send, got %T", handler[len(handler)-1])
	}
	if send.ByName || send.MessageName != "pong" || len(send.PayloadTypes) != 1 || send.PayloadTypes[0] != ir.TypeInteger {
		t.Errorf("send carries (%v, %q, %v)", send.ByName, send.MessageName, send.PayloadTypes)
	}
}

// The S5 contract: four arguments typed identifier and three integers; a
// violation pops the operands, sets the fatal flag and emits a NoOp.
func TestScenarioParallelFor(t *testing.T) {
	program := buildProgram(t, `
parallelfor(i, 0, 10, 4) {
	integer(y, 1)
}
`)
	ops := program.GlobalInit.Operations()
	pf, ok := ops[len(ops)-1].(*ir.ParallelFor)
	if !ok {
		t.Fatalf("expected a tail ParallelFor, got %T", ops[len(ops)-1])
	}
	if pf.CounterName != "i" {
		t.Errorf("counter = %q", pf.CounterName)
	}
	if pf.Body.GetBoundScope().GetVariableTypeLocal("i") != ir.TypeInteger {
		t.Error("the counter must live in the body's fresh child scope")
	}
}

func TestParallelForBoundsTypeViolationIsFatal(t *testing.T) {
	program := buildExpectingFatal(t, `parallelfor(i, 0, "ten", 4) { }`)
	found := false
	for _, op := range program.GlobalInit.Operations() {
		if _, ok := op.(*ir.NoOp); ok {
			found = true
		}
	}
	if !found {
		t.Error("the failed statement must leave a NoOp behind")
	}
}

// Precedence: for prec(+) < prec(*), a + b * c applies * to (b, c) and +
// to (a, that product).
func TestPrecedenceLowering(t *testing.T) {
	program := buildProgram(t, `
integer(a, 1)
integer(b, 2)
integer(c, 3)
integer(r, 0)
r = a + b * c
`)

	ops := program.GlobalInit.Operations()
	// Tail statement: a-read, b-read, c-read, product, sum, assign.
	sum, ok := ops[len(ops)-2].(*ir.PushOperation).Op.(*ir.Arithmetic)
	if !ok || sum.Kind != ir.ArithmeticSum {
		t.Fatalf("the outermost operation must be the sum, got %T", ops[len(ops)-2])
	}
	product, ok := ops[len(ops)-3].(*ir.PushOperation).Op.(*ir.Arithmetic)
	if !ok || product.Kind != ir.ArithmeticMultiply {
		t.Fatalf("the product must lower before the sum, got %T", ops[len(ops)-3])
	}
}

func TestLogicalAndOwnsItsOperandsForShortCircuit(t *testing.T) {
	program := buildProgram(t, `
boolean(p, true)
boolean(q, false)
boolean(r, false)
r = p && q
`)
	ops := program.GlobalInit.Operations()
	compound, ok := ops[len(ops)-2].(*ir.PushOperation).Op.(*ir.Compound)
	if !ok || compound.Kind != ir.CompoundLogicalAnd {
		t.Fatalf("expected a logical-and compound, got %T", ops[len(ops)-2])
	}
	if len(compound.SubOps) != 2 {
		t.Errorf("the compound must own both operand units, got %d", len(compound.SubOps))
	}
}

func TestTypeMismatchSetsFatalFlagAndParsingContinues(t *testing.T) {
	program := buildExpectingFatal(t, `
integer(x, 5)
x = "oops"
integer(y, 6)
`)
	// The later declaration still registered: parsing continued.
	if program.GlobalScope.GetVariableTypeLocal("y") != ir.TypeInteger {
		t.Error("parsing must continue after a soft failure")
	}
}

func TestCompoundAssignmentLowering(t *testing.T) {
	program := buildProgram(t, `
integer(x, 5)
x += 3
`)
	ops := program.GlobalInit.Operations()
	if _, ok := ops[len(ops)-1].(*ir.AssignValue); !ok {
		t.Fatal("compound assignment must end in the store")
	}
	arith, ok := ops[len(ops)-2].(*ir.PushOperation).Op.(*ir.Arithmetic)
	if !ok || arith.Kind != ir.ArithmeticSum {
		t.Fatal("compound assignment must route through the sum builder")
	}
	// The read of the target must come before the pushed operand.
	read, ok := ops[len(ops)-4].(*ir.PushOperation).Op.(*ir.GetVariableValue)
	if !ok || read.Name != "x" {
		t.Errorf("expected the target read below the operand, got %T", ops[len(ops)-4])
	}
}

func TestPostIncrementDefersToStatementBoundary(t *testing.T) {
	program := buildProgram(t, `
integer(x, 5)
x++
integer(y, 6)
`)
	ops := program.GlobalInit.Operations()
	// The increment sequence lands after x++'s statement: read, one, sum,
	// assign, then the y declaration follows.
	var sawIncrementAssign bool
	for i, op := range ops {
		if assign, ok := op.(*ir.AssignValue); ok && assign.Name == "x" && i > 2 {
			sawIncrementAssign = true
		}
	}
	if !sawIncrementAssign {
		t.Error("the deferred increment must merge into the block")
	}
	if program.GlobalScope.GetVariableTypeLocal("y") != ir.TypeInteger {
		t.Error("the following declaration must still parse")
	}
}

func TestFunctionDefinitionAndCall(t *testing.T) {
	program := buildProgram(t, `
function add(integer a, integer b) -> integer(ret, 0) {
	ret = a + b
}
integer(r, 0)
r = add(2, 3)
`)

	fn, ok := program.GlobalScope.GetFunction("add").(*ir.Function)
	if !ok {
		t.Fatal("add must be registered as a user function")
	}
	if len(fn.Params.MemberOrder) != 2 {
		t.Errorf("params = %v", fn.Params.MemberOrder)
	}
	if fn.GetReturnType(program.GlobalScope) != ir.TypeInteger {
		t.Error("return type must be integer")
	}
	if fn.Body == nil || fn.Body.NumOperations() == 0 {
		t.Fatal("the body must be attached")
	}
	// The return scope registers as a tuple type under the function name.
	if program.GlobalScope.GetTupleTypeID("add") == 0 {
		t.Error("the return scope must register as a tuple type named after the function")
	}
	// The body's first operations replay the return initialization with a
	// one-shot initialize in place of the trailing assignment.
	body := fn.Body.Operations()
	if _, ok := body[0].(*ir.InitializeValue); !ok {
		t.Error("the body must start with the return initialization")
	}
	if _, ok := body[2].(*ir.InitializeValue); !ok {
		t.Error("the trailing assignment must convert to a one-shot initialization")
	}
}

func TestInfixFunctionRequiresTwoParameters(t *testing.T) {
	buildExpectingFatal(t, `
infix function bad(integer a) -> integer(ret, 0) {
	ret = a
}
`)
}

func TestStructureSelfContainmentRejected(t *testing.T) {
	buildExpectingFatal(t, `structure S { integer a, S nested }`)
}

func TestChainedAssignment(t *testing.T) {
	program := buildProgram(t, `
integer(a, 0)
integer(b, 0)
a = b = 7
`)
	ops := program.GlobalInit.Operations()
	last, ok := ops[len(ops)-1].(*ir.AssignValue)
	if !ok || last.Name != "a" {
		t.Fatalf("the outer target must be stored last, got %T", ops[len(ops)-1])
	}
	if read, ok := ops[len(ops)-2].(*ir.PushOperation).Op.(*ir.GetVariableValue); !ok || read.Name != "b" {
		t.Error("the outer assignment must read the inner target back")
	}
}

func TestDeepMemberAssignmentBindsReferenceChain(t *testing.T) {
	program := buildProgram(t, `
structure Inner { integer v }
structure Outer { Inner in }
Outer o
o.in.v = 9
`)
	ops := program.GlobalInit.Operations()
	store, ok := ops[len(ops)-1].(*ir.AssignStructureIndirect)
	if !ok || store.Member != "v" {
		t.Fatalf("deep member stores must end in the indirect assignment, got %T", ops[len(ops)-1])
	}
	bind, ok := ops[len(ops)-3].(*ir.PushOperation).Op.(*ir.BindStructMemberReference)
	if !ok || bind.VarName != "o" || bind.Member != "in" {
		t.Errorf("the chain must start by binding o.in, got %T", ops[len(ops)-3])
	}
}

func TestMemberReadChainsThroughPriorOperation(t *testing.T) {
	program := buildProgram(t, `
structure Inner { integer v }
structure Outer { Inner in }
Outer o
integer(x, 0)
x = o.in.v
`)
	ops := program.GlobalInit.Operations()
	indirect, ok := ops[len(ops)-2].(*ir.PushOperation).Op.(*ir.ReadStructureIndirect)
	if !ok || indirect.Member != "v" {
		t.Fatalf("the deep read must go through ReadStructureIndirect, got %T", ops[len(ops)-2])
	}
	if indirect.Prior != ops[len(ops)-3] {
		t.Error("the indirect read must back-reference the prior push operation")
	}
	if indirect.GetType(program.GlobalScope) != ir.TypeInteger {
		t.Error("the indirect read must type through the hint chain")
	}
}

func TestFutureRegistersProducer(t *testing.T) {
	program := buildProgram(t, `
function compute() -> integer(ret, 41) {
	ret = 42
}
future(f, compute())
`)
	if program.GlobalScope.GetFuture("f") == nil {
		t.Fatal("the future's producer must register on the scope")
	}
	ops := program.GlobalInit.Operations()
	fork, ok := ops[len(ops)-1].(*ir.ForkFuture)
	if !ok || fork.VarName != "f" || fork.TypeTag != ir.TypeInteger {
		t.Errorf("expected ForkFuture(f, integer), got %T", ops[len(ops)-1])
	}
}

func TestResponseMapRegistration(t *testing.T) {
	program := buildProgram(t, `
responsemap handlers {
	ping(integer x) {
		integer(y, 1)
	}
	stop() {
		break
	}
}
`)
	m := program.GlobalScope.GetResponseMap("handlers")
	if m == nil {
		t.Fatal("the response map must register on the scope")
	}
	if len(m.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(m.Entries))
	}
	if m.Entries[0].MessageName != "ping" || len(m.Entries[0].PayloadTypes) != 1 {
		t.Error("the first entry must carry ping(integer)")
	}
	if m.Entries[1].MessageName != "stop" || len(m.Entries[1].PayloadTypes) != 0 {
		t.Error("the second entry must carry stop()")
	}
}
