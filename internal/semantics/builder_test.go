package semantics

import (
	"testing"

	"github.com/apoch/fugue/internal/ir"
)

// driveDeclaration fires the event sequence of `integer(name, value)`.
func driveDeclaration(b *Builder, name string, value int32) {
	b.BeginPhrase()
	b.BeginParameterSet("integer")
	b.BeginPhrase()
	b.PushIdentifier(name)
	b.TerminateInfixExpression()
	b.CountParameter()
	b.BeginPhrase()
	b.PushIntegerLiteral(value)
	b.TerminateInfixExpression()
	b.CountParameter()
	b.CompleteStatement()
	b.TerminateInfixExpression()
	b.MergeDeferredOperations()
}

func TestDeclarationEventSequence(t *testing.T) {
	b := NewBuilder()
	driveDeclaration(b, "x", 5)

	program := b.Program()
	if program.HasFatalError() {
		t.Fatalf("unexpected fatal: %v", b.Errors())
	}
	ops := program.GlobalInit.Operations()
	if len(ops) != 3 {
		t.Fatalf("declaration lowered to %d operations", len(ops))
	}
	if _, ok := ops[0].(*ir.InitializeValue); !ok {
		t.Error("a declaration starts with storage initialization")
	}
	if push, ok := ops[1].(*ir.PushInteger); !ok || push.Value != 5 {
		t.Error("the initial value pushes next")
	}
	if _, ok := ops[2].(*ir.AssignValue); !ok {
		t.Error("the store ends the declaration")
	}
	if program.GlobalScope.GetVariableTypeLocal("x") != ir.TypeInteger {
		t.Error("the variable must register on the global scope")
	}
}

func TestInfixLoweringEmitsOperandsBeforeOperator(t *testing.T) {
	b := NewBuilder()
	driveDeclaration(b, "x", 5)

	// x = x + 3
	b.BeginPhrase()
	b.PushIdentifier("x")
	b.RegisterAssignment()
	b.PushIdentifier("x")
	b.RegisterInfixOperator("+")
	b.PushIntegerLiteral(3)
	b.TerminateInfixExpression()
	b.MergeDeferredOperations()

	ops := b.Program().GlobalInit.Operations()
	tail := ops[len(ops)-4:]
	if _, ok := tail[0].(*ir.PushOperation); !ok {
		t.Error("the target read pushes first")
	}
	if push, ok := tail[1].(*ir.PushInteger); !ok || push.Value != 3 {
		t.Error("the literal operand pushes second")
	}
	sum, ok := tail[2].(*ir.PushOperation)
	if !ok {
		t.Fatal("the operator wraps third")
	}
	if arith, ok := sum.Op.(*ir.Arithmetic); !ok || arith.Kind != ir.ArithmeticSum || arith.NumParams != 2 {
		t.Error("the operator must be the binary sum")
	}
	if _, ok := tail[3].(*ir.AssignValue); !ok {
		t.Error("the assignment lands at the tail")
	}
}

func TestArithmeticTypeMismatchIsSoftFailure(t *testing.T) {
	b := NewBuilder()
	driveDeclaration(b, "x", 5)

	// x = x + "three": the mismatch sets the fatal flag, leaves a NoOp and
	// parsing stays consistent.
	b.BeginPhrase()
	b.PushIdentifier("x")
	b.RegisterAssignment()
	b.PushIdentifier("x")
	b.RegisterInfixOperator("+")
	b.PushStringLiteral("three")
	b.TerminateInfixExpression()
	b.MergeDeferredOperations()

	program := b.Program()
	if !program.HasFatalError() {
		t.Fatal("the mismatch must set the fatal flag")
	}
	ops := program.GlobalInit.Operations()
	if _, ok := ops[len(ops)-1].(*ir.NoOp); !ok {
		t.Error("the failed construct must leave a NoOp")
	}

	// The builder remains usable.
	driveDeclaration(b, "y", 1)
	if b.Program().GlobalScope.GetVariableTypeLocal("y") != ir.TypeInteger {
		t.Error("later statements must still build")
	}
}

func TestCallArityViolationPopsOperandsAnyway(t *testing.T) {
	b := NewBuilder()
	b.BeginFunctionPreparse("f")
	b.AddFunctionParam(DeclaredParam{TypeName: "integer", Name: "a"})
	b.CompleteFunctionPreparse(false)

	b.BeginPhrase()
	b.BeginParameterSet("f")
	b.BeginPhrase()
	b.PushIntegerLiteral(1)
	b.TerminateInfixExpression()
	b.CountParameter()
	b.BeginPhrase()
	b.PushIntegerLiteral(2)
	b.TerminateInfixExpression()
	b.CountParameter()
	b.CompleteStatement()
	b.TerminateInfixExpression()

	if !b.Program().HasFatalError() {
		t.Fatal("the arity violation must set the fatal flag")
	}
	if len(b.theStack) != 0 {
		t.Error("the operand pops must happen regardless of the failure")
	}
}

func TestStructuralViolationPanicsWithParserFailure(t *testing.T) {
	b := NewBuilder()
	defer func() {
		if recover() == nil {
			t.Fatal("a grammar-impossible state must abort the build")
		}
	}()
	b.TerminateInfixExpression()
}
