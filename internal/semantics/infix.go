package semantics

import (
	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

// Precedence ladder, low to high. Assignment is handled outside the
// combining scan; calc-assign and increment forms never appear inside a
// phrase, and member access is lowered before the phrase terminates, but
// they keep their slots so user code reasoning about the ladder sees the
// full ordering.
const (
	precAssignment = iota
	precBitwise
	precLogical
	precEquality
	precComparison
	precUser
	precCalcAssign
	precAddition
	precMultiplication
	precBoolean
	precConcatenation
	precIncrement
	precMember
	precMax
)

func (b *Builder) operatorPrecedence(op string) int {
	switch op {
	case "=":
		return precAssignment
	case "&", "|":
		return precBitwise
	case "&&", "||":
		return precLogical
	case "==", "!=":
		return precEquality
	case ">", "<", ">=", "<=":
		return precComparison
	case "+", "-":
		return precAddition
	case "*", "/":
		return precMultiplication
	case "..":
		return precConcatenation
	case ".":
		return precMember
	}
	if b.isUserInfix(op) {
		return precUser
	}
	return -1
}

// IsUserInfixOperator reports whether the name resolves to a function
// declared infix; the parser consults it when classifying identifiers
// between operands.
func (b *Builder) IsUserInfixOperator(name string) bool {
	return b.isUserInfix(name)
}

func (b *Builder) isUserInfix(name string) bool {
	fn := b.currentScope.GetFunction(name)
	if fn == nil {
		return false
	}
	user, ok := fn.(*ir.Function)
	return ok && user.InfixName != ""
}

// infixUnit is one operand of a phrase: its emitted operations (nil while
// the operand is still lazy) plus the source entry and resolved type.
type infixUnit struct {
	ops   []ir.Operation
	entry stackEntry
	typ   ir.VariableTypeID
	elem  ir.VariableTypeID
}

func (u *infixUnit) isArray() bool {
	return u.typ == ir.TypeArray
}

// BeginPhrase opens a new infix expression context.
func (b *Builder) BeginPhrase() {
	b.phrases = append(b.phrases, &phrase{})
}

// BeginConditionPhrase opens a phrase whose value survives as an operand
// even in statement position; control-flow conditions consume it.
func (b *Builder) BeginConditionPhrase() {
	b.phrases = append(b.phrases, &phrase{keepValue: true})
}

// RegisterInfixOperator records an operator between two operands of the
// current phrase.
func (b *Builder) RegisterInfixOperator(op string) {
	p := b.currentPhrase()
	if p == nil {
		panic(diagnostics.Failf("infix operator %q outside a phrase", op))
	}
	p.operators = append(p.operators, op)
}

// RegisterAssignment consumes the operand parsed so far as an assignment
// target. Chained assignments stack their targets outermost first.
func (b *Builder) RegisterAssignment() {
	p := b.currentPhrase()
	if p == nil {
		panic(diagnostics.Failf("assignment outside a phrase"))
	}
	e := b.popEntry()
	p.operandCount--
	if e.kind != entryIdentifier {
		b.reportFatal("E110", "assignment target must be a variable name")
		return
	}
	if !b.currentScope.HasVariable(e.name) {
		b.reportFatal("E101", "variable %q is not declared", e.name)
		return
	}
	if b.currentScope.IsConstant(e.name) {
		b.reportFatal("E111", "constant %q may not be reassigned", e.name)
		return
	}
	p.assignTargets = append(p.assignTargets, e.name)
}

// RegisterCompoundAssignment consumes the operand parsed so far as the
// target of a calc-assign operator.
func (b *Builder) RegisterCompoundAssignment(operator string) {
	p := b.currentPhrase()
	if p == nil {
		panic(diagnostics.Failf("compound assignment outside a phrase"))
	}
	e := b.popEntry()
	p.operandCount--
	if e.kind != entryIdentifier || !b.currentScope.HasVariable(e.name) {
		b.reportFatal("E110", "compound assignment target must be a declared variable")
		return
	}
	if b.currentScope.IsConstant(e.name) {
		b.reportFatal("E111", "constant %q may not be reassigned", e.name)
		return
	}
	p.compoundTarget = e.name
	p.compoundOp = operator
}

// TerminateInfixExpression finalizes the open phrase, running lowering
// passes until nothing is left to do.
func (b *Builder) TerminateInfixExpression() {
	if len(b.phrases) == 0 {
		panic(diagnostics.Failf("phrase stack underflow"))
	}
	p := b.phrases[len(b.phrases)-1]
	b.phrases = b.phrases[:len(b.phrases)-1]

	units := b.partitionUnits(p)
	outer := b.currentPhrase()
	outerCount := 0
	if outer != nil {
		outerCount = outer.operandCount
	}
	for b.finalizeInfixExpression(p, &units) {
	}
	// A condition's value is popped by its control construct, not by a
	// phrase still open around it (a task or parallel-for call whose body
	// is being parsed).
	if p.keepValue && outer != nil {
		outer.operandCount = outerCount
	}
}

// partitionUnits pops the phrase's operands from the stack and, for emitted
// operands, their operation groups from the block tail.
func (b *Builder) partitionUnits(p *phrase) []infixUnit {
	units := make([]infixUnit, p.operandCount)
	scope := b.currentScope
	block := b.currentBlock()
	for i := p.operandCount - 1; i >= 0; i-- {
		e := b.popEntry()
		// popEntry decrements no counters; the phrase is already closed.
		u := infixUnit{entry: e, typ: b.entryType(e)}
		if e.kind == entryOperation {
			n := block.CountTailOps(1, scope)
			u.ops = make([]ir.Operation, n)
			for j := n - 1; j >= 0; j-- {
				u.ops[j] = block.PopTailOperation()
			}
		}
		if u.typ == ir.TypeArray {
			u.elem = b.unitElementType(u)
		}
		units[i] = u
	}
	return units
}

func (b *Builder) unitElementType(u infixUnit) ir.VariableTypeID {
	if u.entry.kind == entryIdentifier {
		return b.currentScope.GetArrayElementType(u.entry.name)
	}
	if u.entry.kind == entryOperation {
		if push, ok := u.entry.op.(*ir.PushOperation); ok {
			switch cons := push.Op.(type) {
			case *ir.ConsArray:
				return cons.ElementType
			case *ir.ConsArrayIndirect:
				return cons.ElementType
			}
		}
	}
	return ir.TypeError
}

// finalizeInfixExpression runs one lowering pass. It returns true when a
// chained assignment left more work behind.
func (b *Builder) finalizeInfixExpression(p *phrase, units *[]infixUnit) bool {
	// Chained assignment tail: a lone target with a pending Assign reads the
	// previous assignment's result and assigns it onward.
	if len(*units) == 0 && len(p.assignTargets) > 0 {
		target := p.assignTargets[len(p.assignTargets)-1]
		p.assignTargets = p.assignTargets[:len(p.assignTargets)-1]
		b.emit(ir.NewPushOperation(&ir.GetVariableValue{Name: b.lastAssignTarget}, b.currentScope))
		b.emit(&ir.AssignValue{Name: target})
		b.lastAssignTarget = target
		return len(p.assignTargets) > 0
	}

	if len(*units) == 0 {
		return false
	}

	// A lone lazy operand with no consumer context stays lazy: its meaning
	// belongs to the enclosing statement (declaration targets, type names).
	// Conditions materialize it; their value is consumed by the construct.
	if len(*units) == 1 && len(p.operators) == 0 && len(p.assignTargets) == 0 &&
		p.compoundTarget == "" && p.memberStoreOps == 0 && (*units)[0].ops == nil {
		u := (*units)[0]
		*units = nil
		if p.keepValue {
			ops := b.materializeUnit(&u)
			for _, op := range ops {
				b.emit(op)
			}
			b.pushOperationMarker(ops[len(ops)-1])
			return false
		}
		if len(b.phrases) > 0 || len(b.statements) > 0 {
			b.pushEntry(u.entry)
		}
		return false
	}

	final := b.lowerUnits(p, *units)
	*units = nil

	switch {
	case p.compoundTarget != "":
		b.completeCompoundAssignment(p, final)
	case p.memberStoreOps > 0:
		b.completeMemberAssignment(p, final)
	case len(p.assignTargets) > 0:
		target := p.assignTargets[len(p.assignTargets)-1]
		p.assignTargets = p.assignTargets[:len(p.assignTargets)-1]
		b.emitAssignment(target, final)
		return len(p.assignTargets) > 0
	default:
		b.completeExpressionValue(p, final)
	}
	return false
}

// lowerUnits applies the precedence scan and emits the surviving unit's
// operations onto the block, returning the final unit.
func (b *Builder) lowerUnits(p *phrase, units []infixUnit) infixUnit {
	if len(units) != len(p.operators)+1 {
		b.reportFatalNoEmit("E120", "expression has %d operands for %d operators", len(units), len(p.operators))
		b.emit(&ir.NoOp{})
		return infixUnit{typ: ir.TypeError}
	}

	if len(units) > 1 {
		// Every operand must agree with the expression's tail type; arrays
		// are accepted when they construct the element type.
		tail := units[len(units)-1]
		tailType := tail.typ
		if tail.isArray() {
			tailType = tail.elem
		}
		for _, u := range units {
			t := u.typ
			if u.isArray() {
				t = u.elem
			}
			if t != tailType {
				b.reportFatal("E121", "operand of type %s does not agree with expression type %s", t, tailType)
				return infixUnit{typ: ir.TypeError}
			}
		}
	}

	operators := append([]string(nil), p.operators...)
	for prec := precMax - 1; prec > precAssignment; prec-- {
		for i := 0; i < len(operators); {
			if b.operatorPrecedence(operators[i]) != prec {
				i++
				continue
			}
			combined, ok := b.combineUnits(operators[i], units[i], units[i+1])
			if !ok {
				return infixUnit{typ: ir.TypeError}
			}
			units[i] = combined
			units = append(units[:i+1], units[i+2:]...)
			operators = append(operators[:i], operators[i+1:]...)
		}
	}

	if len(units) != 1 {
		b.reportFatal("E122", "expression did not reduce to a single value")
		return infixUnit{typ: ir.TypeError}
	}

	final := units[0]
	for _, op := range b.materializeUnit(&final) {
		b.emit(op)
	}
	return final
}

// materializeUnit returns the unit's operations, emitting lazy operands'
// pushes on demand.
func (b *Builder) materializeUnit(u *infixUnit) []ir.Operation {
	if u.ops == nil {
		u.ops = b.materializeEntry(u.entry)
	}
	return u.ops
}

// combineUnits merges two neighboring units under one operator into a
// single compound unit.
func (b *Builder) combineUnits(operator string, first, second infixUnit) (infixUnit, bool) {
	scope := b.currentScope
	switch operator {
	case "&&", "||", "&", "|":
		return b.combineCompound(operator, first, second)

	case "+", "-", "*", "/":
		t := first.typ
		if first.isArray() {
			t = first.elem
		}
		if !t.IsNumeric() {
			b.reportFatal("E123", "operator %q requires numeric operands, not %s", operator, t)
			return infixUnit{}, false
		}
		arith := newArithmeticFor(operator, t, first.isArray(), second.isArray(), 2)
		ops := append(b.materializeUnit(&first), b.materializeUnit(&second)...)
		push := ir.NewPushOperation(arith, scope)
		return infixUnit{ops: append(ops, push), entry: stackEntry{kind: entryOperation, op: push}, typ: arith.GetType(scope)}, true

	case "==", "!=", ">", "<", ">=", "<=":
		cmp := ir.NewComparison(comparisonKindFor(operator), first.typ)
		ops := append(b.materializeUnit(&first), b.materializeUnit(&second)...)
		push := ir.NewPushOperation(cmp, scope)
		return infixUnit{ops: append(ops, push), entry: stackEntry{kind: entryOperation, op: push}, typ: ir.TypeBoolean}, true

	case "..":
		concat := ir.NewConcatenate(first.isArray(), second.isArray(), 2)
		ops := append(b.materializeUnit(&first), b.materializeUnit(&second)...)
		push := ir.NewPushOperation(concat, scope)
		return infixUnit{ops: append(ops, push), entry: stackEntry{kind: entryOperation, op: push}, typ: concat.GetType(scope)}, true
	}

	if b.isUserInfix(operator) {
		fn := b.currentScope.GetFunction(operator).(*ir.Function)
		params := fn.Params.MemberOrder
		if len(params) != 2 {
			b.reportFatal("E124", "infix function %q must take exactly two parameters", operator)
			return infixUnit{}, false
		}
		if fn.Params.GetVariableTypeLocal(params[0]) != first.typ || fn.Params.GetVariableTypeLocal(params[1]) != second.typ {
			b.reportFatal("E125", "operand types do not match infix function %q", operator)
			return infixUnit{}, false
		}
		invoke := ir.NewInvoke(operator, false)
		ops := append(b.materializeUnit(&first), b.materializeUnit(&second)...)
		push := ir.NewPushOperation(invoke, scope)
		return infixUnit{ops: append(ops, push), entry: stackEntry{kind: entryOperation, op: push}, typ: invoke.GetType(scope)}, true
	}

	b.reportFatal("E126", "unknown infix operator %q", operator)
	return infixUnit{}, false
}

// combineCompound folds two units into a short-circuiting compound op. A
// left unit that already is a compound of the same kind absorbs the right
// unit, keeping the sub-operation list flat.
func (b *Builder) combineCompound(operator string, first, second infixUnit) (infixUnit, bool) {
	scope := b.currentScope
	logical := operator == "&&" || operator == "||"
	if logical && first.typ != ir.TypeBoolean {
		b.reportFatal("E127", "operator %q requires boolean operands", operator)
		return infixUnit{}, false
	}
	if !logical && first.typ != ir.TypeInteger && first.typ != ir.TypeInteger16 && first.typ != ir.TypeBoolean {
		b.reportFatal("E128", "operator %q requires integer or boolean operands", operator)
		return infixUnit{}, false
	}

	if existing := compoundOf(first, operator); existing != nil {
		existing.CopyInstructionsToOp(b.materializeUnit(&second))
		return first, true
	}

	var compound *ir.Compound
	switch operator {
	case "&&":
		compound = ir.NewLogicalAnd()
	case "||":
		compound = ir.NewLogicalOr()
	case "&":
		compound = ir.NewBitwiseAnd(first.typ)
	case "|":
		compound = ir.NewBitwiseOr(first.typ)
	}
	compound.CopyInstructionsToOp(b.materializeUnit(&first))
	compound.CopyInstructionsToOp(b.materializeUnit(&second))
	push := ir.NewPushOperation(compound, scope)
	return infixUnit{ops: []ir.Operation{push}, entry: stackEntry{kind: entryOperation, op: push}, typ: compound.GetType(scope)}, true
}

func compoundOf(u infixUnit, operator string) *ir.Compound {
	if len(u.ops) != 1 {
		return nil
	}
	push, ok := u.ops[0].(*ir.PushOperation)
	if !ok {
		return nil
	}
	compound, ok := push.Op.(*ir.Compound)
	if !ok {
		return nil
	}
	if compoundTokenFor(operator) != compound.Kind {
		return nil
	}
	return compound
}

func compoundTokenFor(operator string) ir.CompoundKind {
	switch operator {
	case "&&":
		return ir.CompoundLogicalAnd
	case "||":
		return ir.CompoundLogicalOr
	case "&":
		return ir.CompoundBitwiseAnd
	}
	return ir.CompoundBitwiseOr
}

func newArithmeticFor(operator string, t ir.VariableTypeID, firstIsArray, secondIsArray bool, numParams int32) *ir.Arithmetic {
	switch operator {
	case "+":
		return ir.NewSumOperation(t, firstIsArray, secondIsArray, numParams)
	case "-":
		return ir.NewSubtractOperation(t, firstIsArray, secondIsArray, numParams)
	case "*":
		return ir.NewMultiplyOperation(t, firstIsArray, secondIsArray, numParams)
	}
	return ir.NewDivideOperation(t, firstIsArray, secondIsArray, numParams)
}

func comparisonKindFor(operator string) ir.ComparisonKind {
	switch operator {
	case "==":
		return ir.CompareEqual
	case "!=":
		return ir.CompareNotEqual
	case ">":
		return ir.CompareGreater
	case ">=":
		return ir.CompareGreaterEqual
	case "<":
		return ir.CompareLess
	}
	return ir.CompareLessEqual
}

// emitAssignment appends the store for a plain assignment target.
func (b *Builder) emitAssignment(target string, value infixUnit) {
	targetType := b.currentScope.GetVariableType(target)
	valueType := value.typ
	if value.isArray() && targetType == ir.TypeArray {
		valueType = ir.TypeArray
	}
	if targetType != valueType {
		b.reportFatal("E130", "cannot assign %s value to %s variable %q", valueType, targetType, target)
		return
	}
	b.emit(&ir.AssignValue{Name: target})
	b.lastAssignTarget = target
}

// completeExpressionValue leaves the phrase's value for its consumer: a
// marker for an enclosing phrase or statement, or nothing when the value is
// a bare statement-position expression, whose pushed result is unwrapped.
func (b *Builder) completeExpressionValue(p *phrase, final infixUnit) {
	if final.typ == ir.TypeError && final.entry.kind == entryOperation && final.entry.op == nil {
		return
	}
	tail := b.currentBlock().GetTailOperation()
	if p.keepValue || len(b.phrases) > 0 || len(b.statements) > 0 {
		if len(final.ops) > 0 {
			b.pushOperationMarker(final.ops[len(final.ops)-1])
		} else {
			b.pushEntry(final.entry)
		}
		return
	}

	// Statement position: a pushed result would leak on the value stack, so
	// the wrapper is unwrapped to its effectful form.
	if push, ok := tail.(*ir.PushOperation); ok && len(final.ops) > 0 && tail == final.ops[len(final.ops)-1] {
		b.currentBlock().ReplaceTailOperation(push.Op)
	}
}

// completeCompoundAssignment realizes the calc-assign forms: read the
// target, swap the value above the read, combine, store.
func (b *Builder) completeCompoundAssignment(p *phrase, value infixUnit) {
	target := p.compoundTarget
	targetType := b.currentScope.GetVariableType(target)

	if p.compoundOp == ".=" {
		if targetType != ir.TypeString || value.typ != ir.TypeString {
			b.reportFatal("E131", "concatenation assignment requires string operands")
			return
		}
	} else {
		if !targetType.IsNumeric() || value.typ != targetType {
			b.reportFatal("E132", "cannot apply %q to %s target and %s value", p.compoundOp, targetType, value.typ)
			return
		}
	}

	scope := b.currentScope
	block := b.currentBlock()
	b.emit(ir.NewPushOperation(&ir.GetVariableValue{Name: target}, scope))
	block.ReverseTailOperations(2, scope)

	if p.compoundOp == ".=" {
		b.emit(ir.NewPushOperation(ir.NewConcatenate(false, false, 2), scope))
	} else {
		b.emit(ir.NewPushOperation(newArithmeticFor(p.compoundOp[:1], targetType, false, false, 2), scope))
	}
	b.emit(&ir.AssignValue{Name: target})
	b.lastAssignTarget = target
}

// completeMemberAssignment rotates the freshly emitted value group above
// the store instruction so the store ends at the tail, then verifies the
// member types agree.
func (b *Builder) completeMemberAssignment(p *phrase, value infixUnit) {
	block := b.currentBlock()
	scope := b.currentScope
	block.ShiftUpTailOperationGroup(1, scope)

	if value.typ != p.memberFinalType {
		b.reportFatal("E133", "cannot assign %s value to %s member", value.typ, p.memberFinalType)
		return
	}
	if p.memberFinalType == ir.TypeStructure || p.memberFinalType == ir.TypeTuple {
		valueHint := ir.IDType(0)
		if value.entry.kind == entryOperation {
			valueHint = ir.CompositeHintOf(value.entry.op, scope)
		} else if value.entry.kind == entryIdentifier {
			valueHint = scope.GetVariableStructureHint(value.entry.name)
			if valueHint == 0 {
				valueHint = scope.GetVariableTupleHint(value.entry.name)
			}
		}
		if valueHint != p.memberFinalHint {
			b.reportFatal("E134", "composite value does not match the member's declared type")
		}
	}
}
