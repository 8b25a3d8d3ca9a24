package semantics

import (
	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

// RegisterMemberAccess records one .member step of a dot path. The base
// identifier operand is already on the stack.
func (b *Builder) RegisterMemberAccess(member string) {
	b.memberAccesses = append(b.memberAccesses, b.program.PoolString(member))
}

// ResetMemberAccess lowers the accumulated dot path as an r-value: undo the
// base identifier push, read the first member directly, then walk deeper
// through indirect reads chained on the previous push operation.
func (b *Builder) ResetMemberAccess() {
	path := b.memberAccesses
	b.memberAccesses = nil
	b.memberLevelRValue += len(path)

	base := b.popEntry()
	if p := b.currentPhrase(); p != nil {
		p.operandCount--
	}
	if base.kind != entryIdentifier {
		panic(diagnostics.Failf("member access without a base identifier"))
	}
	if len(path) == 0 {
		b.pushEntry(base)
		if p := b.currentPhrase(); p != nil {
			p.operandCount++
		}
		return
	}

	scope := b.currentScope
	baseType := scope.GetVariableType(base.name)

	var first ir.Operation
	switch baseType {
	case ir.TypeStructure:
		first = &ir.ReadStructure{VarName: base.name, Member: path[0]}
	case ir.TypeTuple:
		first = &ir.ReadTuple{VarName: base.name, Member: path[0]}
	default:
		b.reportFatal("E140", "variable %q of type %s has no members", base.name, baseType)
		b.pushOperationMarker(b.currentBlock().GetTailOperation())
		return
	}
	if first.GetType(scope) == ir.TypeError {
		b.reportFatal("E141", "no member %q in the type of %q", path[0], base.name)
		b.pushOperationMarker(b.currentBlock().GetTailOperation())
		return
	}

	prior := ir.NewPushOperation(first, scope)
	b.emit(prior)
	for _, member := range path[1:] {
		indirect := &ir.ReadStructureIndirect{Member: member, Prior: prior}
		if indirect.GetType(scope) == ir.TypeError {
			b.reportFatal("E141", "no member %q along the access path from %q", member, base.name)
			b.pushOperationMarker(b.currentBlock().GetTailOperation())
			return
		}
		prior = ir.NewPushOperation(indirect, scope)
		b.emit(prior)
	}
	b.pushOperationMarker(prior)
}

// FinishMemberLValue lowers the accumulated dot path as an assignment
// target: the store sequence is emitted now, and the phrase finalizer later
// rotates the value group above the store instruction.
func (b *Builder) FinishMemberLValue() {
	path := b.memberAccesses
	b.memberAccesses = nil
	b.memberLevelLValue += len(path)

	p := b.currentPhrase()
	if p == nil {
		panic(diagnostics.Failf("member assignment outside a phrase"))
	}
	base := b.popEntry()
	p.operandCount--
	if base.kind != entryIdentifier || len(path) == 0 {
		panic(diagnostics.Failf("member assignment without a base path"))
	}

	scope := b.currentScope
	baseType := scope.GetVariableType(base.name)

	if len(path) == 1 {
		switch baseType {
		case ir.TypeTuple:
			desc := scope.Registry.GetTupleType(scope.GetVariableTupleHint(base.name))
			if desc == nil || desc.GetMemberType(path[0]) == ir.TypeError {
				b.reportFatal("E141", "no member %q in the type of %q", path[0], base.name)
				return
			}
			b.emit(&ir.AssignTuple{VarName: base.name, Member: path[0]})
			p.memberStoreOps = 1
			p.memberFinalType = desc.GetMemberType(path[0])
			p.memberFinalHint = desc.GetMemberTypeHint(path[0])
		case ir.TypeStructure:
			desc := scope.Registry.GetStructureType(scope.GetVariableStructureHint(base.name))
			if desc == nil || desc.GetMemberType(path[0]) == ir.TypeError {
				b.reportFatal("E141", "no member %q in the type of %q", path[0], base.name)
				return
			}
			b.emit(&ir.AssignStructure{VarName: base.name, Member: path[0]})
			p.memberStoreOps = 1
			p.memberFinalType = desc.GetMemberType(path[0])
			p.memberFinalHint = desc.GetMemberTypeHint(path[0])
		default:
			b.reportFatal("E140", "variable %q of type %s has no members", base.name, baseType)
		}
		return
	}

	// Deep path: bind a reference chain down to the final member's owner,
	// then store indirectly.
	if baseType != ir.TypeStructure {
		b.reportFatal("E140", "deep member assignment requires a structure base, not %s", baseType)
		return
	}
	desc := scope.Registry.GetStructureType(scope.GetVariableStructureHint(base.name))
	if desc == nil {
		b.reportFatal("E141", "structure type of %q is not registered", base.name)
		return
	}

	storeOps := 0
	current := &desc.CompositeType
	for i, member := range path[:len(path)-1] {
		info, ok := current.Members[member]
		if !ok || (info.Type != ir.TypeStructure && info.Type != ir.TypeTuple) {
			b.reportFatal("E141", "member %q along the path from %q is not a composite", member, base.name)
			return
		}
		next := scope.Registry.GetComposite(info.TypeHint)
		if next == nil {
			b.reportFatal("E141", "composite type of member %q is not registered", member)
			return
		}
		if i == 0 {
			b.emit(ir.NewPushOperation(&ir.BindStructMemberReference{VarName: base.name, Member: member}, scope))
		} else {
			b.emit(ir.NewPushOperation(&ir.BindStructMemberReference{Member: member, Chained: true}, scope))
		}
		storeOps++
		current = next
	}

	last := path[len(path)-1]
	info, ok := current.Members[last]
	if !ok {
		b.reportFatal("E141", "no member %q at the end of the access path from %q", last, base.name)
		return
	}
	b.emit(&ir.AssignStructureIndirect{Member: last})
	p.memberStoreOps = storeOps + 1
	p.memberFinalType = info.Type
	p.memberFinalHint = info.TypeHint
}

// RegisterPreIncrement emits the read-add-store sequence for ++x / --x
// immediately.
func (b *Builder) RegisterPreIncrement(name string, increment bool) {
	for _, op := range b.incrementSequence(name, increment) {
		b.emit(op)
	}
}

// RegisterPostIncrement holds the read-add-store sequence for x++ / x--
// aside; it merges into the block at the next statement boundary.
func (b *Builder) RegisterPostIncrement(name string, increment bool) {
	b.deferredOps = append(b.deferredOps, b.incrementSequence(name, increment)...)
}

func (b *Builder) incrementSequence(name string, increment bool) []ir.Operation {
	scope := b.currentScope
	t := scope.GetVariableType(name)
	if !t.IsNumeric() {
		b.reportFatalNoEmit("E142", "cannot increment %s variable %q", t, name)
		return []ir.Operation{&ir.NoOp{}}
	}
	var one ir.Operation
	switch t {
	case ir.TypeInteger:
		one = &ir.PushInteger{Value: 1}
	case ir.TypeInteger16:
		one = &ir.PushInteger16{Value: 1}
	case ir.TypeReal:
		one = &ir.PushReal{Value: 1}
	}
	operator := "+"
	if !increment {
		operator = "-"
	}
	return []ir.Operation{
		ir.NewPushOperation(&ir.GetVariableValue{Name: name}, scope),
		one,
		ir.NewPushOperation(newArithmeticFor(operator, t, false, false, 2), scope),
		&ir.AssignValue{Name: name},
	}
}
