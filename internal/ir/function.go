package ir

// FunctionBase is the common contract of user functions and native-call
// stubs declared in a scope.
type FunctionBase interface {
	// GetReturnType reports the type produced by invoking the function from
	// the given scope.
	GetReturnType(scope *ScopeDescription) VariableTypeID

	// GetParamsScope exposes the parameter scope for arity and type checks.
	GetParamsScope() *ScopeDescription
}

// Function is a user-defined function: a parameter scope, a return scope and
// a body block. The params and returns scopes get their parent link
// established on demand and cleared during serialization so that serializing
// one function does not recursively emit its enclosing scope.
type Function struct {
	Params  *ScopeDescription
	Returns *ScopeDescription
	Body    *Block

	// InfixName is non-empty when the function was declared usable as an
	// infix operator (requires exactly two parameters).
	InfixName string
}

func NewFunction(params, returns *ScopeDescription, body *Block) *Function {
	return &Function{Params: params, Returns: returns, Body: body}
}

func (f *Function) GetParamsScope() *ScopeDescription {
	return f.Params
}

// GetReturnType returns the type of the sole return variable, or Null for a
// void function. Multiple returns surface as a tuple of the function's name,
// which callers resolve through the registered tuple type.
func (f *Function) GetReturnType(scope *ScopeDescription) VariableTypeID {
	if f.Returns == nil || len(f.Returns.MemberOrder) == 0 {
		return TypeNull
	}
	if len(f.Returns.MemberOrder) > 1 {
		return TypeTuple
	}
	return f.Returns.GetVariableTypeLocal(f.Returns.MemberOrder[0])
}

// SetBody attaches the body block once the main parse materializes it.
func (f *Function) SetBody(b *Block) {
	f.Body = b
}

// NativeCallStub is a function shell bound to an external library entry
// point. The marshalling layer is an external collaborator; the stub only
// records what the codec needs to round-trip the declaration.
type NativeCallStub struct {
	DLLName      string
	FunctionName string
	ReturnType   VariableTypeID
	ReturnHint   IDType
	Params       *ScopeDescription
}

func (n *NativeCallStub) GetParamsScope() *ScopeDescription {
	return n.Params
}

func (n *NativeCallStub) GetReturnType(scope *ScopeDescription) VariableTypeID {
	return n.ReturnType
}
