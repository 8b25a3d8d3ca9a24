package ir

const (
	TokenDebugWriteStringExpression = "DebugWriteString"
	TokenDebugReadStaticString      = "DebugReadString"
)

// DebugWriteStringExpression pops a string and writes it to the console with
// a trailing newline.
type DebugWriteStringExpression struct{}

func (op *DebugWriteStringExpression) GetType(*ScopeDescription) VariableTypeID { return TypeNull }
func (op *DebugWriteStringExpression) NumParameters(*ScopeDescription) int      { return 1 }

func (op *DebugWriteStringExpression) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenDebugWriteStringExpression}
}

func (op *DebugWriteStringExpression) Execute(ctx ExecutionContext) (RValue, error) {
	v, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	ctx.WriteConsole(v.AsString() + "\n")
	return NullValue(), nil
}

func (op *DebugWriteStringExpression) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

// DebugReadStaticString reads one line from the console and produces it.
type DebugReadStaticString struct{}

func (op *DebugReadStaticString) GetType(*ScopeDescription) VariableTypeID { return TypeString }
func (op *DebugReadStaticString) NumParameters(*ScopeDescription) int      { return 0 }

func (op *DebugReadStaticString) Payload(*ScopeDescription) Payload {
	return Payload{Token: TokenDebugReadStaticString}
}

func (op *DebugReadStaticString) Execute(ctx ExecutionContext) (RValue, error) {
	line, err := ctx.ReadConsole()
	if err != nil {
		return NullValue(), err
	}
	return StringValue(line), nil
}

func (op *DebugReadStaticString) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}
