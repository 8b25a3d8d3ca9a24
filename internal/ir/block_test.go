package ir

import "testing"

// sumFixture builds the block shape of x = a + b: two wrapped reads, the
// wrapped sum, and the store.
func sumFixture(scope *ScopeDescription) *Block {
	b := NewBlock()
	b.Append(NewPushOperation(&GetVariableValue{Name: "a"}, scope))
	b.Append(NewPushOperation(&GetVariableValue{Name: "b"}, scope))
	b.Append(NewPushOperation(NewSumOperation(TypeInteger, false, false, 2), scope))
	b.Append(&AssignValue{Name: "x"})
	return b
}

func TestCountTailOpsGroupsParametersWithConsumer(t *testing.T) {
	scope := testScope()
	scope.AddVariable("a", TypeInteger, false)
	scope.AddVariable("b", TypeInteger, false)
	scope.AddVariable("x", TypeInteger, false)
	b := sumFixture(scope)

	// The tail logical operand is the whole statement: the assignment, its
	// sum, and the sum's two pushes.
	if got := b.CountTailOps(1, scope); got != 4 {
		t.Errorf("CountTailOps(1) = %d, want 4", got)
	}
}

func TestGetOperationFromEndSkipsSubOperations(t *testing.T) {
	scope := testScope()
	scope.AddVariable("a", TypeInteger, false)
	scope.AddVariable("b", TypeInteger, false)
	scope.AddVariable("x", TypeInteger, false)

	b := NewBlock()
	b.Append(&InitializeValue{Name: "x"})
	for _, op := range sumFixture(scope).Operations() {
		b.Append(op)
	}

	if _, ok := b.GetOperationFromEnd(0, scope).(*AssignValue); !ok {
		t.Error("offset 0 must be the assignment")
	}
	if _, ok := b.GetOperationFromEnd(1, scope).(*InitializeValue); !ok {
		t.Error("offset 1 must skip the assignment's whole operand group")
	}
}

func TestShiftUpTailOperation(t *testing.T) {
	b := NewBlock()
	first := &PushInteger{Value: 1}
	second := &PushInteger{Value: 2}
	third := &PushInteger{Value: 3}
	b.Append(first)
	b.Append(second)
	b.Append(third)

	b.ShiftUpTailOperation(2)

	ops := b.Operations()
	if ops[0] != third || ops[1] != first || ops[2] != second {
		t.Errorf("rotation order wrong: %v", ops)
	}
}

func TestShiftUpTailOperationGroupMovesWholeGroup(t *testing.T) {
	scope := testScope()
	scope.AddVariable("s", TypeInteger, false)

	// Member-store shape before rotation: store, then the value group.
	b := NewBlock()
	store := &AssignStructure{VarName: "s", Member: "a"}
	b.Append(store)
	value := &PushInteger{Value: 2}
	b.Append(value)

	b.ShiftUpTailOperationGroup(1, scope)

	ops := b.Operations()
	if ops[0] != value || ops[1] != store {
		t.Error("the value group must rotate above the store")
	}
}

func TestReverseTailOperationsSwapsOperandGroups(t *testing.T) {
	scope := testScope()
	scope.AddVariable("a", TypeInteger, false)

	b := NewBlock()
	valueA := NewPushOperation(&GetVariableValue{Name: "a"}, scope)
	valueB := &PushInteger{Value: 7}
	b.Append(valueA)
	b.Append(valueB)

	b.ReverseTailOperations(2, scope)

	ops := b.Operations()
	if ops[0] != valueB || ops[1] != valueA {
		t.Error("the two tail operand groups must swap")
	}
}

func TestEraseOperationRemovesByIdentity(t *testing.T) {
	b := NewBlock()
	keep := &PushInteger{Value: 1}
	drop := &PushInteger{Value: 1}
	b.Append(keep)
	b.Append(drop)

	b.EraseOperation(drop)

	if b.NumOperations() != 1 || b.Operations()[0] != keep {
		t.Error("erase must remove exactly the identified operation")
	}
}

func TestPopTailOperationTransfersOwnership(t *testing.T) {
	b := NewBlock()
	op := &NoOp{}
	b.Append(op)
	if got := b.PopTailOperation(); got != op {
		t.Error("pop must return the tail operation")
	}
	if b.NumOperations() != 0 {
		t.Error("pop must remove the operation")
	}
}
