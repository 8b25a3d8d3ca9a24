package ir

import "fmt"

const (
	TokenInvoke         = "Invoke"
	TokenInvokeIndirect = "InvokeIndirect"
)

// Invoke calls a declared function. Arguments arrive on the stack in
// declaration order; the return value, if any, surfaces as the result.
type Invoke struct {
	FunctionName string

	// IsIndirect is set when the name was resolved through a function-typed
	// value rather than a declaration.
	IsIndirect bool
}

func NewInvoke(name string, isIndirect bool) *Invoke {
	return &Invoke{FunctionName: name, IsIndirect: isIndirect}
}

func (op *Invoke) GetType(scope *ScopeDescription) VariableTypeID {
	fn := scope.GetFunction(op.FunctionName)
	if fn == nil {
		return TypeError
	}
	return fn.GetReturnType(scope)
}

func (op *Invoke) NumParameters(scope *ScopeDescription) int {
	fn := scope.GetFunction(op.FunctionName)
	if fn == nil {
		return 0
	}
	params := fn.GetParamsScope()
	if params == nil {
		return 0
	}
	return len(params.MemberOrder)
}

func (op *Invoke) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenInvoke, Name: op.FunctionName, Flags: []bool{op.IsIndirect}}
}

func (op *Invoke) Execute(ctx ExecutionContext) (RValue, error) {
	return ctx.CallFunction(op.FunctionName)
}

func (op *Invoke) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// InvokeIndirect calls the function referenced by a function-typed variable.
type InvokeIndirect struct {
	Name string
}

func NewInvokeIndirect(name string) *InvokeIndirect {
	return &InvokeIndirect{Name: name}
}

func (op *InvokeIndirect) GetType(scope *ScopeDescription) VariableTypeID {
	sig := scope.GetFunctionSignature(op.Name)
	if sig == nil {
		return TypeError
	}
	if len(sig.Returns) == 0 {
		return TypeNull
	}
	return sig.Returns[0]
}

func (op *InvokeIndirect) NumParameters(scope *ScopeDescription) int {
	sig := scope.GetFunctionSignature(op.Name)
	if sig == nil {
		return 0
	}
	return len(sig.Params)
}

func (op *InvokeIndirect) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenInvokeIndirect, Name: op.Name}
}

func (op *InvokeIndirect) Execute(ctx ExecutionContext) (RValue, error) {
	ref, err := ctx.ReadVariable(op.Name)
	if err != nil {
		return NullValue(), err
	}
	if ref.Type != TypeFunction || ref.Str == "" {
		return NullValue(), fmt.Errorf("variable %q does not hold a function reference", op.Name)
	}
	return ctx.CallFunction(ref.Str)
}

func (op *InvokeIndirect) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}
