package ir

import "fmt"

const (
	TokenReadTuple                 = "ReadTuple"
	TokenAssignTuple               = "AssignTuple"
	TokenReadStructure             = "ReadStructure"
	TokenAssignStructure           = "AssignStructure"
	TokenReadStructureIndirect     = "ReadStructureIndirect"
	TokenAssignStructureIndirect   = "AssignStructureIndirect"
	TokenBindStructMemberReference = "BindStructMemberRef"
)

// CompositeHintOf resolves the composite type ID of the value an operation
// produces, following wrappers and indirect-read chains. Zero means the
// operation does not produce a composite.
func CompositeHintOf(op Operation, scope *ScopeDescription) IDType {
	switch o := op.(type) {
	case *PushOperation:
		return CompositeHintOf(o.Op, scope)
	case *GetVariableValue:
		if hint := scope.GetVariableStructureHint(o.Name); hint != 0 {
			return hint
		}
		return scope.GetVariableTupleHint(o.Name)
	case *ReadTuple:
		desc := scope.Registry.GetTupleType(scope.GetVariableTupleHint(o.VarName))
		if desc == nil {
			return 0
		}
		return desc.GetMemberTypeHint(o.Member)
	case *ReadStructure:
		desc := scope.Registry.GetStructureType(scope.GetVariableStructureHint(o.VarName))
		if desc == nil {
			return 0
		}
		return desc.GetMemberTypeHint(o.Member)
	case *ReadStructureIndirect:
		desc := scope.Registry.GetComposite(CompositeHintOf(o.Prior, scope))
		if desc == nil {
			return 0
		}
		return desc.GetMemberTypeHint(o.Member)
	case *Invoke:
		fn := scope.GetFunction(o.FunctionName)
		if fn == nil {
			return 0
		}
		if user, ok := fn.(*Function); ok && user.Returns != nil && len(user.Returns.MemberOrder) == 1 {
			ret := user.Returns.MemberOrder[0]
			if hint := user.Returns.StructureTypeHints[ret]; hint != 0 {
				return hint
			}
			return user.Returns.TupleTypeHints[ret]
		}
	}
	return 0
}

// ReadTuple reads a member of a tuple variable.
type ReadTuple struct {
	VarName string
	Member  string
}

func (op *ReadTuple) GetType(scope *ScopeDescription) VariableTypeID {
	desc := scope.Registry.GetTupleType(scope.GetVariableTupleHint(op.VarName))
	if desc == nil {
		return TypeError
	}
	return desc.GetMemberType(op.Member)
}

func (op *ReadTuple) NumParameters(*ScopeDescription) int { return 0 }

func (op *ReadTuple) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenReadTuple, Name: op.VarName, Member: op.Member}
}

func (op *ReadTuple) Execute(ctx ExecutionContext) (RValue, error) {
	return readCompositeMember(ctx, op.VarName, op.Member)
}

func (op *ReadTuple) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// AssignTuple pops the stack top into a member of a tuple variable.
type AssignTuple struct {
	VarName string
	Member  string
}

func (op *AssignTuple) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *AssignTuple) NumParameters(*ScopeDescription) int      { return 1 }

func (op *AssignTuple) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenAssignTuple, Name: op.VarName, Member: op.Member}
}

func (op *AssignTuple) Execute(ctx ExecutionContext) (RValue, error) {
	return NullValue(), writeCompositeMember(ctx, op.VarName, op.Member)
}

func (op *AssignTuple) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// ReadStructure reads a member of a structure variable.
type ReadStructure struct {
	VarName string
	Member  string
}

func (op *ReadStructure) GetType(scope *ScopeDescription) VariableTypeID {
	desc := scope.Registry.GetStructureType(scope.GetVariableStructureHint(op.VarName))
	if desc == nil {
		return TypeError
	}
	return desc.GetMemberType(op.Member)
}

func (op *ReadStructure) NumParameters(*ScopeDescription) int { return 0 }

func (op *ReadStructure) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenReadStructure, Name: op.VarName, Member: op.Member}
}

func (op *ReadStructure) Execute(ctx ExecutionContext) (RValue, error) {
	return readCompositeMember(ctx, op.VarName, op.Member)
}

func (op *ReadStructure) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// AssignStructure pops the stack top into a member of a structure variable.
type AssignStructure struct {
	VarName string
	Member  string
}

func (op *AssignStructure) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *AssignStructure) NumParameters(*ScopeDescription) int      { return 1 }

func (op *AssignStructure) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenAssignStructure, Name: op.VarName, Member: op.Member}
}

func (op *AssignStructure) Execute(ctx ExecutionContext) (RValue, error) {
	return NullValue(), writeCompositeMember(ctx, op.VarName, op.Member)
}

func (op *AssignStructure) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// ReadStructureIndirect reads a member of the composite value produced by a
// prior operation in the same block. Prior is a non-owning reference, valid
// only until the block is destroyed; the codec serializes it as an offset.
type ReadStructureIndirect struct {
	Member string
	Prior  Operation
}

func (op *ReadStructureIndirect) GetType(scope *ScopeDescription) VariableTypeID {
	desc := scope.Registry.GetComposite(CompositeHintOf(op.Prior, scope))
	if desc == nil {
		return TypeError
	}
	return desc.GetMemberType(op.Member)
}

func (op *ReadStructureIndirect) NumParameters(*ScopeDescription) int { return 1 }

func (op *ReadStructureIndirect) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenReadStructureIndirect, Member: op.Member, Prior: op.Prior}
}

func (op *ReadStructureIndirect) Execute(ctx ExecutionContext) (RValue, error) {
	container, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	return memberOf(container, op.Member)
}

func (op *ReadStructureIndirect) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// AssignStructureIndirect stores the stack top into a member of the
// composite addressed by the reference below it. Its expression type is
// Null: the store surfaces no value.
type AssignStructureIndirect struct {
	Member string
}

func (op *AssignStructureIndirect) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *AssignStructureIndirect) NumParameters(*ScopeDescription) int      { return 2 }

func (op *AssignStructureIndirect) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenAssignStructureIndirect, Member: op.Member}
}

func (op *AssignStructureIndirect) Execute(ctx ExecutionContext) (RValue, error) {
	value, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	addr, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	ref := addr.AsReference()
	if ref == nil {
		return NullValue(), fmt.Errorf("indirect assignment to %q requires a bound member reference", op.Member)
	}
	container := ref.Load()
	str, ok := container.Obj.(*StructureValue)
	if !ok {
		return NullValue(), fmt.Errorf("indirect assignment target %q is not a structure", op.Member)
	}
	str.Members[op.Member] = value
	return NullValue(), nil
}

func (op *AssignStructureIndirect) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// BindStructMemberReference produces an address of a structure member. The
// chained form pops a previously bound address and descends one member
// deeper.
type BindStructMemberReference struct {
	VarName string
	Member  string
	Chained bool
}

func (op *BindStructMemberReference) GetType(*ScopeDescription) VariableTypeID {
	return TypeAddress
}

func (op *BindStructMemberReference) NumParameters(*ScopeDescription) int {
	if op.Chained {
		return 1
	}
	return 0
}

func (op *BindStructMemberReference) Payload(*ScopeDescription) Payload {
	return Payload{
		Token:  TokenBindStructMemberReference,
		Name:   op.VarName,
		Member: op.Member,
		Flags:  []bool{op.Chained},
	}
}

func (op *BindStructMemberReference) Execute(ctx ExecutionContext) (RValue, error) {
	if op.Chained {
		addr, err := ctx.Pop()
		if err != nil {
			return NullValue(), err
		}
		ref := addr.AsReference()
		if ref == nil {
			return NullValue(), fmt.Errorf("chained member bind of %q requires a bound reference", op.Member)
		}
		container := ref.Load()
		str, ok := container.Obj.(*StructureValue)
		if !ok {
			return NullValue(), fmt.Errorf("chained member bind of %q is not over a structure", op.Member)
		}
		return AddressValue(&Reference{Composite: str, Member: op.Member}), nil
	}

	v, err := ctx.ReadVariable(op.VarName)
	if err != nil {
		return NullValue(), err
	}
	str, ok := v.Obj.(*StructureValue)
	if !ok {
		return NullValue(), fmt.Errorf("variable %q is not a structure", op.VarName)
	}
	return AddressValue(&Reference{Composite: str, Member: op.Member}), nil
}

func (op *BindStructMemberReference) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

func readCompositeMember(ctx ExecutionContext, varname, member string) (RValue, error) {
	v, err := ctx.ReadVariable(varname)
	if err != nil {
		return NullValue(), err
	}
	return memberOf(v, member)
}

func memberOf(v RValue, member string) (RValue, error) {
	switch container := v.Obj.(type) {
	case *TupleValue:
		if m, ok := container.Members[member]; ok {
			return m, nil
		}
	case *StructureValue:
		if m, ok := container.Members[member]; ok {
			return m, nil
		}
	default:
		return NullValue(), fmt.Errorf("value of type %s has no members", v.Type)
	}
	return NullValue(), fmt.Errorf("no member %q in composite value", member)
}

func writeCompositeMember(ctx ExecutionContext, varname, member string) error {
	value, err := ctx.Pop()
	if err != nil {
		return err
	}
	v, err := ctx.ReadVariable(varname)
	if err != nil {
		return err
	}
	switch container := v.Obj.(type) {
	case *TupleValue:
		container.Members[member] = value
	case *StructureValue:
		container.Members[member] = value
	default:
		return fmt.Errorf("variable %q of type %s has no members", varname, v.Type)
	}
	return nil
}
