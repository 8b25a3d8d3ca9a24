package ir

import "fmt"

const (
	TokenNoOp                  = "NoOp"
	TokenGetVariableValue      = "GetValue"
	TokenAssignValue           = "AssignValue"
	TokenInitializeValue       = "InitializeValue"
	TokenBindReference         = "BindReference"
	TokenBindFunctionReference = "BindFunctionReference"
	TokenSizeOf                = "SizeOf"
)

// NoOp does nothing. The builder emits one in place of every operation it
// could not create, so a soft failure never destabilizes later semantic
// actions.
type NoOp struct{}

func (op *NoOp) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *NoOp) NumParameters(*ScopeDescription) int      { return 0 }

func (op *NoOp) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenNoOp}
}

func (op *NoOp) Execute(ExecutionContext) (RValue, error) { return NullValue(), nil }
func (op *NoOp) ExecuteFast(ExecutionContext) error       { return nil }

// GetVariableValue reads a variable, or blocks on a future of the same name
// until its producer completes.
type GetVariableValue struct {
	Name string
}

func (op *GetVariableValue) GetType(scope *ScopeDescription) VariableTypeID {
	return scope.GetVariableType(op.Name)
}

func (op *GetVariableValue) NumParameters(*ScopeDescription) int { return 0 }

func (op *GetVariableValue) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenGetVariableValue, Name: op.Name}
}

func (op *GetVariableValue) Execute(ctx ExecutionContext) (RValue, error) {
	if ctx.CurrentScope().HasFuture(op.Name) {
		return ctx.ReadFuture(op.Name)
	}
	return ctx.ReadVariable(op.Name)
}

func (op *GetVariableValue) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// AssignValue pops the stack top into the named variable.
type AssignValue struct {
	Name string
}

func (op *AssignValue) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *AssignValue) NumParameters(*ScopeDescription) int      { return 1 }

func (op *AssignValue) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenAssignValue, Name: op.Name}
}

func (op *AssignValue) Execute(ctx ExecutionContext) (RValue, error) {
	v, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	return NullValue(), ctx.WriteVariable(op.Name, v)
}

func (op *AssignValue) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// InitializeValue installs the variable's storage. When a value is pending
// on the stack it becomes the initial contents; otherwise the declared
// type's default does. Initialization bypasses the constant check, which is
// how constants receive their one value.
type InitializeValue struct {
	Name string
}

func (op *InitializeValue) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *InitializeValue) NumParameters(*ScopeDescription) int      { return 0 }

func (op *InitializeValue) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenInitializeValue, Name: op.Name}
}

func (op *InitializeValue) Execute(ctx ExecutionContext) (RValue, error) {
	if _, err := ctx.Peek(); err == nil {
		v, err := ctx.Pop()
		if err != nil {
			return NullValue(), err
		}
		return NullValue(), ctx.InitializeVariable(op.Name, v)
	}
	return NullValue(), ctx.InitializeVariable(op.Name, defaultValue(ctx.CurrentScope(), op.Name))
}

func (op *InitializeValue) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

func defaultValue(scope *ScopeDescription, name string) RValue {
	switch scope.GetVariableType(name) {
	case TypeInteger:
		return IntegerValue(0)
	case TypeInteger16:
		return Integer16Value(0)
	case TypeReal:
		return RealValue(0)
	case TypeBoolean:
		return BooleanValue(false)
	case TypeString:
		return StringValue("")
	case TypeArray:
		return ArrayRValue(&ArrayValue{ElementType: scope.GetArrayElementType(name)})
	case TypeTuple:
		return instantiateComposite(scope, TypeTuple, scope.GetVariableTupleHint(name))
	case TypeStructure:
		return instantiateComposite(scope, TypeStructure, scope.GetVariableStructureHint(name))
	}
	return NullValue()
}

func instantiateComposite(scope *ScopeDescription, tag VariableTypeID, hint IDType) RValue {
	desc := scope.Registry.GetComposite(hint)
	if desc == nil {
		return NullValue()
	}
	members := make(map[string]RValue, len(desc.MemberOrder))
	for _, member := range desc.MemberOrder {
		info := desc.Members[member]
		switch info.Type {
		case TypeTuple, TypeStructure:
			members[member] = instantiateComposite(scope, info.Type, info.TypeHint)
		default:
			members[member] = zeroOf(info.Type)
		}
	}
	if tag == TypeTuple {
		return RValue{Type: TypeTuple, Obj: &TupleValue{TypeID: hint, Members: members}}
	}
	return RValue{Type: TypeStructure, Obj: &StructureValue{TypeID: hint, Members: members}}
}

func zeroOf(t VariableTypeID) RValue {
	switch t {
	case TypeInteger:
		return IntegerValue(0)
	case TypeInteger16:
		return Integer16Value(0)
	case TypeReal:
		return RealValue(0)
	case TypeBoolean:
		return BooleanValue(false)
	case TypeString:
		return StringValue("")
	}
	return NullValue()
}

// BindReference produces an address bound to the named variable's storage,
// for passing by reference.
type BindReference struct {
	Name string
}

func (op *BindReference) GetType(scope *ScopeDescription) VariableTypeID {
	return scope.GetVariableType(op.Name)
}

func (op *BindReference) NumParameters(*ScopeDescription) int { return 0 }

func (op *BindReference) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenBindReference, Name: op.Name}
}

func (op *BindReference) Execute(ctx ExecutionContext) (RValue, error) {
	ref, err := ctx.BindVariableReference(op.Name)
	if err != nil {
		return NullValue(), err
	}
	return AddressValue(ref), nil
}

func (op *BindReference) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// BindFunctionReference produces a callable reference to a declared
// function.
type BindFunctionReference struct {
	Name string
}

func (op *BindFunctionReference) GetType(*ScopeDescription) VariableTypeID { return TypeFunction }
func (op *BindFunctionReference) NumParameters(*ScopeDescription) int      { return 0 }

func (op *BindFunctionReference) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenBindFunctionReference, Name: op.Name}
}

func (op *BindFunctionReference) Execute(ctx ExecutionContext) (RValue, error) {
	if ctx.CurrentScope().GetFunction(op.Name) == nil {
		return NullValue(), fmt.Errorf("function %q is not declared", op.Name)
	}
	return FunctionValue(op.Name), nil
}

func (op *BindFunctionReference) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// SizeOf produces the storage footprint of the named variable in bytes.
type SizeOf struct {
	Name string
}

func (op *SizeOf) GetType(*ScopeDescription) VariableTypeID { return TypeInteger }
func (op *SizeOf) NumParameters(*ScopeDescription) int      { return 0 }

func (op *SizeOf) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenSizeOf, Name: op.Name}
}

func (op *SizeOf) Execute(ctx ExecutionContext) (RValue, error) {
	size, err := ctx.VariableStorageSize(op.Name)
	if err != nil {
		return NullValue(), err
	}
	return IntegerValue(size), nil
}

func (op *SizeOf) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}
