package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apoch/fugue/internal/ir"
)

// Native-call shells and extension handoffs have no surface syntax; they
// round-trip from hand-built programs.
func TestRoundTripNativeCallStub(t *testing.T) {
	program := ir.NewProgram()
	params := ir.NewScopeDescription(program.Registry)
	params.AddVariable(program.PoolString("hwnd"), ir.TypeInteger, false)
	program.GlobalScope.AddFunction(program.PoolString("beep"), &ir.NativeCallStub{
		DLLName:      "user32.dll",
		FunctionName: "MessageBeep",
		ReturnType:   ir.TypeBoolean,
		Params:       params,
	})

	data, err := Write(program)
	require.NoError(t, err)
	loaded, err := Load(data)
	require.NoError(t, err)

	stub, ok := loaded.GlobalScope.GetFunction("beep").(*ir.NativeCallStub)
	require.True(t, ok, "the shell must load back as a native stub")
	assert.Equal(t, "user32.dll", stub.DLLName)
	assert.Equal(t, "MessageBeep", stub.FunctionName)
	assert.Equal(t, ir.TypeBoolean, stub.ReturnType)
	require.NotNil(t, stub.Params)
	assert.Equal(t, []string{"hwnd"}, stub.Params.MemberOrder)
}

func TestRoundTripHandoffOperations(t *testing.T) {
	program := ir.NewProgram()
	program.AddExtension("cudalib")

	body := ir.NewBlock()
	body.Append(&ir.PushInteger{Value: 7})
	program.GlobalInit.Append(ir.NewHandoffOperation("cudalib", body, 3))

	counterScope := ir.NewScopeDescription(program.Registry)
	counterScope.AddVariable(program.PoolString("i"), ir.TypeInteger, false)
	controlBody := ir.NewBlock()
	program.GlobalInit.Append(ir.NewHandoffControlOperation("cudalib", controlBody, "i", counterScope, 4))

	data, err := Write(program)
	require.NoError(t, err)
	loaded, err := Load(data)
	require.NoError(t, err)

	ops := loaded.GlobalInit.Operations()
	require.Len(t, ops, 2)

	handoff, ok := ops[0].(*ir.HandoffOperation)
	require.True(t, ok)
	assert.Equal(t, "cudalib", handoff.Library)
	assert.Equal(t, ir.HandleType(3), handoff.CodeHandle)
	require.Equal(t, 1, handoff.Body.NumOperations())

	control, ok := ops[1].(*ir.HandoffControlOperation)
	require.True(t, ok)
	assert.Equal(t, "i", control.CounterName)
	assert.Equal(t, ir.HandleType(4), control.CodeHandle)
	require.NotNil(t, control.Scope)
	assert.Equal(t, ir.TypeInteger, control.Scope.GetVariableTypeLocal("i"))

	assert.True(t, ir.BlocksEquivalent(program.GlobalInit, loaded.GlobalInit,
		program.GlobalScope, loaded.GlobalScope))
}
