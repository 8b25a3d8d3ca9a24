package semantics

import (
	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

var primitiveTypeNames = map[string]ir.VariableTypeID{
	"integer":   ir.TypeInteger,
	"integer16": ir.TypeInteger16,
	"real":      ir.TypeReal,
	"boolean":   ir.TypeBoolean,
	"string":    ir.TypeString,
	"buffer":    ir.TypeBuffer,
}

// BeginParameterSet opens a call-like statement: the statement name is
// recorded and the passed-parameter counter starts at zero.
func (b *Builder) BeginParameterSet(name string) {
	b.statements = append(b.statements, pendingStatement{name: b.program.PoolString(name)})
	b.passedParamCount = append(b.passedParamCount, 0)
}

// CountParameter records one completed argument of the open statement.
func (b *Builder) CountParameter() {
	if len(b.passedParamCount) == 0 {
		panic(diagnostics.Failf("parameter outside a statement"))
	}
	b.passedParamCount[len(b.passedParamCount)-1]++
}

// MarkNextDeclarationConst makes the next declaration statement declare a
// constant.
func (b *Builder) MarkNextDeclarationConst() {
	b.constNext = true
}

// CompleteStatement closes the open call-like statement and dispatches on
// its name: a declaration, a builtin, or a user function call.
func (b *Builder) CompleteStatement() {
	if len(b.statements) == 0 {
		panic(diagnostics.Failf("statement completion without an open statement"))
	}
	st := b.statements[len(b.statements)-1]
	b.statements = b.statements[:len(b.statements)-1]
	count := b.passedParamCount[len(b.passedParamCount)-1]
	b.passedParamCount = b.passedParamCount[:len(b.passedParamCount)-1]

	if t, ok := primitiveTypeNames[st.name]; ok {
		b.completeDeclaration(st.name, t, count)
		return
	}

	switch st.name {
	case "array":
		b.completeArrayDeclaration(count)
	case "cast":
		b.completeCast(count)
	case "sizeof":
		b.completeSizeOf(count)
	case "length":
		b.completeLength(count)
	case "debugwritestring":
		b.completeDebugWrite(count)
	case "debugreadstring":
		b.completeDebugRead(count)
	case "task":
		b.completeTask(count)
	case "thread":
		b.completeThread(count)
	case "threadpool":
		b.completeThreadPool(count)
	case "future":
		b.completeFuture(count)
	case "parallelfor":
		b.completeParallelFor(count)
	case "sendmessage":
		b.completeSendMessage(count)
	case "acceptmessages":
		b.completeAcceptMessages(count)
	default:
		b.completeNamedStatement(st.name, count)
	}
}

// completeDeclaration lowers `type(name, value)` into initialize + assign.
func (b *Builder) completeDeclaration(typename string, t ir.VariableTypeID, count int) {
	isConst := b.constNext
	b.constNext = false
	units := b.popArgUnits(count)
	if count != 2 {
		b.reportFatal("E150", "%s declaration takes a name and an initial value", typename)
		return
	}
	target := units[0]
	value := units[1]
	if target.entry.kind != entryIdentifier {
		b.reportFatal("E151", "%s declaration requires a variable name", typename)
		return
	}
	valueType := value.typ
	if valueType != t {
		b.reportFatal("E152", "cannot initialize %s variable %q with a %s value", t, target.entry.name, valueType)
		return
	}
	name := target.entry.name
	if b.currentScope.HasVariableLocal(name) {
		b.reportFatal("E153", "variable %q is already declared in this scope", name)
		return
	}
	b.currentScope.AddVariable(name, t, false)
	if isConst {
		b.currentScope.AddConstant(name)
	}

	b.emit(&ir.InitializeValue{Name: name})
	for _, op := range b.materializeUnit(&value) {
		b.emit(op)
	}
	if isConst {
		b.emit(&ir.InitializeValue{Name: name})
	} else {
		b.emit(&ir.AssignValue{Name: name})
	}
}

// completeArrayDeclaration lowers `array(name, elementtype, size)`.
func (b *Builder) completeArrayDeclaration(count int) {
	b.constNext = false
	units := b.popArgUnits(count)
	if count != 3 {
		b.reportFatal("E150", "array declaration takes a name, an element type and a size")
		return
	}
	if units[0].entry.kind != entryIdentifier || units[1].entry.kind != entryIdentifier {
		b.reportFatal("E151", "array declaration requires a name and an element type name")
		return
	}
	elem, ok := primitiveTypeNames[units[1].entry.name]
	if !ok {
		b.reportFatal("E154", "unknown array element type %q", units[1].entry.name)
		return
	}
	if units[2].entry.kind != entryLiteral || units[2].typ != ir.TypeInteger {
		b.reportFatal("E152", "array size must be an integer literal")
		return
	}
	name := units[0].entry.name
	b.currentScope.AddArrayVariable(name, elem, units[2].entry.value.AsInteger())
	b.emit(&ir.InitializeValue{Name: name})
}

// CompleteArrayLiteral collects the last count operands into an array
// constructor operand.
func (b *Builder) CompleteArrayLiteral(count int) {
	units := b.popArgUnits(count)
	if count == 0 {
		b.reportFatal("E155", "array literal requires at least one element")
		return
	}
	elem := units[0].typ
	for _, u := range units {
		if u.typ != elem {
			b.reportFatal("E156", "array literal elements must share one type")
			return
		}
	}
	for i := range units {
		for _, op := range b.materializeUnit(&units[i]) {
			b.emit(op)
		}
	}
	cons := ir.NewConsArray(elem, int32(count))
	push := ir.NewPushOperation(cons, b.currentScope)
	b.emit(push)
	b.pushOperationMarker(push)
}

// completeCast lowers `cast(typename, expr)`.
func (b *Builder) completeCast(count int) {
	units := b.popArgUnits(count)
	if count != 2 {
		b.reportFatal("E150", "cast takes a type name and a value")
		return
	}
	if units[0].entry.kind != entryIdentifier {
		b.reportFatal("E151", "cast requires a type name")
		return
	}
	to, ok := primitiveTypeNames[units[0].entry.name]
	if !ok {
		b.reportFatal("E154", "unknown cast target type %q", units[0].entry.name)
		return
	}
	value := units[1]
	from := value.typ

	ops := b.materializeUnit(&value)
	inner := ops[len(ops)-1]
	if push, ok := inner.(*ir.PushOperation); ok {
		inner = push.Op
	}
	for _, op := range ops[:len(ops)-1] {
		b.emit(op)
	}
	push := ir.NewPushOperation(ir.NewTypeCast(from, to, inner), b.currentScope)
	b.emit(push)
	b.pushOperationMarker(push)
}

// completeSizeOf lowers `sizeof(name)`.
func (b *Builder) completeSizeOf(count int) {
	units := b.popArgUnits(count)
	if count != 1 || units[0].entry.kind != entryIdentifier {
		b.reportFatal("E150", "sizeof takes a variable name")
		return
	}
	push := ir.NewPushOperation(&ir.SizeOf{Name: units[0].entry.name}, b.currentScope)
	b.emit(push)
	b.pushOperationMarker(push)
}

// completeLength lowers `length(name)`: element count for arrays, character
// count for strings.
func (b *Builder) completeLength(count int) {
	units := b.popArgUnits(count)
	if count != 1 || units[0].entry.kind != entryIdentifier {
		b.reportFatal("E150", "length takes a variable name")
		return
	}
	name := units[0].entry.name
	var inner ir.Operation
	switch b.currentScope.GetVariableType(name) {
	case ir.TypeArray:
		inner = ir.NewArrayLength(name)
	case ir.TypeString:
		inner = ir.NewLength(name)
	default:
		b.reportFatal("E157", "length requires an array or string variable")
		return
	}
	push := ir.NewPushOperation(inner, b.currentScope)
	b.emit(push)
	b.pushOperationMarker(push)
}

// completeDebugWrite lowers `debugwritestring(expr)`.
func (b *Builder) completeDebugWrite(count int) {
	units := b.popArgUnits(count)
	if count != 1 {
		b.reportFatal("E150", "debugwritestring takes one value")
		return
	}
	if units[0].typ != ir.TypeString {
		b.reportFatal("E152", "debugwritestring requires a string value, not %s", units[0].typ)
		return
	}
	for _, op := range b.materializeUnit(&units[0]) {
		b.emit(op)
	}
	b.emit(&ir.DebugWriteStringExpression{})
	b.program.UsesConsole = true
}

// completeDebugRead lowers `debugreadstring()`.
func (b *Builder) completeDebugRead(count int) {
	if count != 0 {
		b.popArgUnits(count)
		b.reportFatal("E150", "debugreadstring takes no parameters")
		return
	}
	push := ir.NewPushOperation(&ir.DebugReadStaticString{}, b.currentScope)
	b.emit(push)
	b.pushOperationMarker(push)
	b.program.UsesConsole = true
}

// completeTask saves the task name and primes the next block to become the
// forked body.
func (b *Builder) completeTask(count int) {
	units := b.popArgUnits(count)
	if count != 1 || units[0].entry.kind != entryLiteral || units[0].typ != ir.TypeString {
		b.reportFatal("E150", "task takes a string name literal")
		return
	}
	b.savedTaskNames = append(b.savedTaskNames, units[0].entry.value.AsString())
	b.expectedBlockTypes = append(b.expectedBlockTypes, BlockTask)
}

// completeThread saves the worker and pool names and primes the next block.
func (b *Builder) completeThread(count int) {
	units := b.popArgUnits(count)
	if count != 2 ||
		units[0].entry.kind != entryLiteral || units[0].typ != ir.TypeString ||
		units[1].entry.kind != entryLiteral || units[1].typ != ir.TypeString {
		b.reportFatal("E150", "thread takes a worker name literal and a pool name literal")
		return
	}
	// Pool name rides on top of the worker name.
	b.savedTaskNames = append(b.savedTaskNames, units[0].entry.value.AsString(), units[1].entry.value.AsString())
	b.expectedBlockTypes = append(b.expectedBlockTypes, BlockThread)
}

// completeThreadPool lowers `threadpool(name, count)`.
func (b *Builder) completeThreadPool(count int) {
	units := b.popArgUnits(count)
	if count != 2 || units[0].typ != ir.TypeString || units[1].typ != ir.TypeInteger {
		b.reportFatal("E150", "threadpool takes a string name and an integer thread count")
		return
	}
	for i := range units {
		for _, op := range b.materializeUnit(&units[i]) {
			b.emit(op)
		}
	}
	b.emit(&ir.CreateThreadPool{})
}

// completeFuture binds a future's name to its producer operation and emits
// the fork.
func (b *Builder) completeFuture(count int) {
	units := b.popArgUnits(count)
	if count != 2 && count != 3 {
		b.reportFatal("E150", "future takes a name, a producer expression and optionally a pool flag")
		return
	}
	if units[0].entry.kind != entryIdentifier {
		b.reportFatal("E151", "future requires a variable name")
		return
	}
	useThreadPool := false
	if count == 3 {
		if units[2].entry.kind != entryLiteral || units[2].typ != ir.TypeBoolean {
			b.reportFatal("E152", "future's pool flag must be a boolean literal")
			return
		}
		useThreadPool = units[2].entry.value.AsBoolean()
	}

	producer, ok := b.unitProducer(&units[1])
	if !ok {
		b.reportFatal("E158", "future producer must be a single operation")
		return
	}
	name := units[0].entry.name
	t := producer.GetType(b.currentScope)
	b.currentScope.AddVariable(name, t, false)
	b.currentScope.AddFuture(name, producer)
	b.emit(ir.NewForkFuture(name, t, useThreadPool))
}

// unitProducer extracts a unit's single producing operation, unwrapping its
// push wrapper.
func (b *Builder) unitProducer(u *infixUnit) (ir.Operation, bool) {
	ops := b.materializeUnit(u)
	if len(ops) != 1 {
		return nil, false
	}
	if push, ok := ops[0].(*ir.PushOperation); ok {
		return push.Op, true
	}
	return ops[0], true
}

// completeParallelFor validates the four-argument form: counter name, lower
// bound, upper bound, thread count. The operand pops happen regardless of
// validity.
func (b *Builder) completeParallelFor(count int) {
	units := b.popArgUnits(count)
	if count != 4 {
		b.reportFatal("E159", "parallelfor takes a counter, two bounds and a thread count")
		return
	}
	if units[0].entry.kind != entryIdentifier {
		b.reportFatal("E159", "parallelfor's counter must be an identifier")
		return
	}
	for _, u := range units[1:] {
		if u.typ != ir.TypeInteger {
			b.reportFatal("E159", "parallelfor's bounds and thread count must be integers")
			return
		}
	}

	for i := 1; i < 4; i++ {
		for _, op := range b.materializeUnit(&units[i]) {
			b.emit(op)
		}
	}
	b.pendingParallelFor = units[0].entry.name
	b.expectedBlockTypes = append(b.expectedBlockTypes, BlockParallelFor)
}

// completeSendMessage lowers `sendmessage(target, message, payload...)`.
// The target is the caller keyword, the sender keyword, a task handle
// variable, or a name (string literal or string variable), which flips the
// by-name discriminator.
func (b *Builder) completeSendMessage(count int) {
	units := b.popArgUnits(count)
	if count < 2 {
		b.reportFatal("E150", "sendmessage takes a target and a message name")
		return
	}
	if units[1].entry.kind != entryIdentifier {
		b.reportFatal("E151", "sendmessage requires a message name")
		return
	}
	message := units[1].entry.name

	target := units[0]
	byName := false
	var targetOps []ir.Operation
	switch {
	case target.entry.kind == entryIdentifier && target.entry.name == "caller":
		targetOps = []ir.Operation{ir.NewPushOperation(&ir.GetTaskCaller{}, b.currentScope)}
	case target.entry.kind == entryIdentifier && target.entry.name == "sender":
		targetOps = []ir.Operation{ir.NewPushOperation(&ir.GetMessageSender{}, b.currentScope)}
	case target.typ == ir.TypeTaskHandle:
		targetOps = b.materializeUnit(&target)
	case target.typ == ir.TypeString:
		byName = true
		targetOps = b.materializeUnit(&target)
	default:
		b.reportFatal("E152", "sendmessage target must be a task handle or a task name")
		return
	}
	for _, op := range targetOps {
		b.emit(op)
	}

	payloadTypes := make([]ir.VariableTypeID, 0, count-2)
	for i := 2; i < count; i++ {
		payloadTypes = append(payloadTypes, units[i].typ)
		for _, op := range b.materializeUnit(&units[i]) {
			b.emit(op)
		}
	}
	b.emit(ir.NewSendTaskMessage(byName, message, payloadTypes))
}

// completeAcceptMessages lowers `acceptmessages(mapname)`: block on the
// named response map.
func (b *Builder) completeAcceptMessages(count int) {
	units := b.popArgUnits(count)
	if count != 1 || units[0].entry.kind != entryIdentifier {
		b.reportFatal("E150", "acceptmessages takes a response map name")
		return
	}
	name := units[0].entry.name
	if b.currentScope.GetResponseMap(name) == nil {
		b.reportFatal("E160", "response map %q is not declared", name)
		return
	}
	b.emit(ir.NewAcceptMessageFromResponseMap(name))
}

// completeNamedStatement handles the open-ended names: composite variable
// declarations, function-typed declarations and user function calls.
func (b *Builder) completeNamedStatement(name string, count int) {
	scope := b.currentScope

	if id := scope.GetStructureTypeID(name); id != 0 {
		b.completeCompositeDeclaration(name, id, true, count)
		return
	}
	// A function's return tuple shares the function's name; the call wins.
	if id := scope.GetTupleTypeID(name); id != 0 && scope.GetFunction(name) == nil {
		b.completeCompositeDeclaration(name, id, false, count)
		return
	}

	if scope.GetVariableType(name) == ir.TypeFunction && scope.GetFunction(name) == nil {
		b.completeIndirectCall(name, count)
		return
	}

	fn := scope.GetFunction(name)
	if fn == nil {
		if sig := scope.GetFunctionSignature(name); sig != nil {
			b.completeFunctionVariableDeclaration(name, sig, count)
			return
		}
		b.popArgUnits(count)
		b.reportFatal("E102", "no function or type named %q", name)
		return
	}
	b.completeFunctionCall(name, fn, count)
}

// completeFunctionVariableDeclaration declares a function-typed variable
// shaped by a named signature.
func (b *Builder) completeFunctionVariableDeclaration(signatureName string, sig *ir.FunctionSignature, count int) {
	b.constNext = false
	units := b.popArgUnits(count)
	if count != 1 || units[0].entry.kind != entryIdentifier {
		b.reportFatal("E151", "%s declaration requires a variable name", signatureName)
		return
	}
	name := units[0].entry.name
	if b.currentScope.HasVariableLocal(name) {
		b.reportFatal("E153", "variable %q is already declared in this scope", name)
		return
	}
	b.currentScope.AddFunctionVariable(name, sig)
	b.emit(&ir.InitializeValue{Name: name})
}

// completeIndirectCall invokes through a function-typed variable, checking
// the call against its declared signature.
func (b *Builder) completeIndirectCall(name string, count int) {
	units := b.popArgUnits(count)
	sig := b.currentScope.GetFunctionSignature(name)
	if sig == nil {
		b.reportFatal("E106", "function variable %q has no signature", name)
		return
	}
	if len(sig.Params) != count {
		b.reportFatal("E103", "function variable %q takes %d parameters, not %d", name, len(sig.Params), count)
		return
	}
	for i := range units {
		if sig.ParamFlags[i] == ir.ParamFlagIsReference {
			if units[i].entry.kind != entryIdentifier {
				b.reportFatal("E104", "reference parameter %d of %q requires a variable", i, name)
				return
			}
			b.emit(ir.NewPushOperation(&ir.BindReference{Name: units[i].entry.name}, b.currentScope))
			continue
		}
		if units[i].typ != sig.Params[i] {
			b.reportFatal("E105", "parameter %d of %q wants %s, not %s", i, name, sig.Params[i], units[i].typ)
			return
		}
		for _, op := range b.materializeUnit(&units[i]) {
			b.emit(op)
		}
	}
	push := ir.NewPushOperation(ir.NewInvokeIndirect(name), b.currentScope)
	b.emit(push)
	b.pushOperationMarker(push)
}

func (b *Builder) completeCompositeDeclaration(typename string, id ir.IDType, isStructure bool, count int) {
	b.constNext = false
	units := b.popArgUnits(count)
	if count != 1 || units[0].entry.kind != entryIdentifier {
		b.reportFatal("E151", "%s declaration requires a variable name", typename)
		return
	}
	name := units[0].entry.name
	if b.currentScope.HasVariableLocal(name) {
		b.reportFatal("E153", "variable %q is already declared in this scope", name)
		return
	}
	if isStructure {
		b.currentScope.AddStructureVariable(name, id)
	} else {
		b.currentScope.AddTupleVariable(name, id)
	}
	b.emit(&ir.InitializeValue{Name: name})
}

// completeFunctionCall checks arity and parameter types, binds reference
// parameters, and emits the invocation.
func (b *Builder) completeFunctionCall(name string, fn ir.FunctionBase, count int) {
	units := b.popArgUnits(count)
	params := fn.GetParamsScope()
	scope := b.currentScope

	var paramNames []string
	if params != nil {
		paramNames = params.MemberOrder
	}
	if len(paramNames) != count {
		b.reportFatal("E103", "function %q takes %d parameters, not %d", name, len(paramNames), count)
		return
	}

	for i, paramName := range paramNames {
		want := params.GetVariableTypeLocal(paramName)
		u := &units[i]

		if params.IsReference(paramName) {
			if u.entry.kind != entryIdentifier {
				b.reportFatal("E104", "reference parameter %q of %q requires a variable", paramName, name)
				return
			}
			if scope.GetVariableType(u.entry.name) != want {
				b.reportFatal("E105", "parameter %q of %q wants %s", paramName, name, want)
				return
			}
			b.emit(ir.NewPushOperation(&ir.BindReference{Name: u.entry.name}, scope))
			continue
		}

		got := u.typ
		if want == ir.TypeFunction && u.entry.kind == entryIdentifier && scope.GetFunction(u.entry.name) != nil {
			b.emit(ir.NewPushOperation(&ir.BindFunctionReference{Name: u.entry.name}, scope))
			continue
		}
		if got != want {
			b.reportFatal("E105", "parameter %q of %q wants %s, not %s", paramName, name, want, got)
			return
		}
		for _, op := range b.materializeUnit(u) {
			b.emit(op)
		}
	}

	push := ir.NewPushOperation(ir.NewInvoke(name, false), scope)
	b.emit(push)
	b.pushOperationMarker(push)
}

// popArgUnits pops the last count operands and, for emitted operands, their
// operation groups from the block tail, returning units in source order.
func (b *Builder) popArgUnits(count int) []infixUnit {
	units := make([]infixUnit, count)
	block := b.currentBlock()
	for i := count - 1; i >= 0; i-- {
		e := b.popEntry()
		if p := b.currentPhrase(); p != nil {
			p.operandCount--
		}
		u := infixUnit{entry: e, typ: b.entryType(e)}
		if e.kind == entryOperation {
			n := block.CountTailOps(1, b.currentScope)
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
