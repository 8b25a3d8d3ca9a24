package bytecode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
	"github.com/apoch/fugue/internal/parser"
)

func buildProgram(t *testing.T, source string) *ir.Program {
	t.Helper()
	program, diags, err := parser.Parse(source)
	require.NoError(t, err)
	require.False(t, program.HasFatalError(), "diagnostics: %v", diags)
	return program
}

func roundTrip(t *testing.T, source string) (*ir.Program, *ir.Program) {
	t.Helper()
	original := buildProgram(t, source)
	data, err := Write(original)
	require.NoError(t, err)
	loaded, err := Load(data)
	require.NoError(t, err)
	return original, loaded
}

func TestRoundTripGlobalInitBlock(t *testing.T) {
	original, loaded := roundTrip(t, `
integer(x, 5)
x = x + 3
debugwritestring(cast(string, x))
`)
	assert.True(t, loaded.UsesConsole, "the uses-console flag must survive")
	assert.True(t, ir.BlocksEquivalent(original.GlobalInit, loaded.GlobalInit,
		original.GlobalScope, loaded.GlobalScope),
		"the global init block must round-trip operation by operation")
}

func TestRoundTripStructureDefinition(t *testing.T) {
	source := `
structure S { integer a, real b }
S s
s.a = 2
s.b = 3.5
`
	original, loaded := roundTrip(t, source)

	require.True(t, ir.BlocksEquivalent(original.GlobalInit, loaded.GlobalInit,
		original.GlobalScope, loaded.GlobalScope))

	origID := original.GlobalScope.GetStructureTypeID("S")
	loadedID := loaded.GlobalScope.GetStructureTypeID("S")
	assert.Equal(t, origID, loadedID, "type IDs are stable across the codec")

	desc := loaded.Registry.GetStructureType(loadedID)
	require.NotNil(t, desc)
	assert.Equal(t, []string{"a", "b"}, desc.MemberOrder)
	assert.Equal(t, int32(0), desc.GetMemberOffset("a"))
	assert.Equal(t, int32(4), desc.GetMemberOffset("b"), "offsets recompute on load")

	assert.Equal(t, loaded.GlobalScope.GetVariableStructureHint("s"), loadedID,
		"the variable hint must resolve in the registry")
}

func TestRoundTripFunctionsAndSignatures(t *testing.T) {
	original, loaded := roundTrip(t, `
function add(integer a, integer b) -> integer(ret, 0) {
	ret = a + b
}
integer(r, 0)
r = add(2, 3)
`)

	names := loaded.GlobalScope.FunctionOrder
	require.Equal(t, original.GlobalScope.FunctionOrder, names, "function set matches name by name")

	origFn := original.GlobalScope.GetFunction("add").(*ir.Function)
	loadedFn := loaded.GlobalScope.GetFunction("add").(*ir.Function)
	require.NotNil(t, loadedFn.Body)
	assert.Equal(t, origFn.Params.MemberOrder, loadedFn.Params.MemberOrder)
	assert.Equal(t, origFn.Returns.MemberOrder, loadedFn.Returns.MemberOrder)
	assert.True(t, ir.BlocksEquivalent(origFn.Body, loadedFn.Body, origFn.Params, loadedFn.Params))

	origSig := original.GlobalScope.GetFunctionSignature("add")
	loadedSig := loaded.GlobalScope.GetFunctionSignature("add")
	require.NotNil(t, loadedSig)
	assert.True(t, origSig.Matches(loadedSig))

	// The ghost records rebind the body to the parameter scope by ID.
	bodyScope := loadedFn.Body.GetBoundScope()
	require.NotNil(t, bodyScope)
	assert.Equal(t, loadedFn.Params, bodyScope.OwnerOf("a"))
}

func TestRoundTripTaskAndResponseConstructs(t *testing.T) {
	original, loaded := roundTrip(t, `
task("w") {
	while(true) {
		acceptmessage(ping, integer x) {
			sendmessage(caller, pong, x + 1)
		}
	}
}
`)
	require.True(t, ir.BlocksEquivalent(original.GlobalInit, loaded.GlobalInit,
		original.GlobalScope, loaded.GlobalScope))

	ops := loaded.GlobalInit.Operations()
	fork, ok := ops[len(ops)-1].(*ir.ForkTask)
	require.True(t, ok)
	assert.Equal(t, loaded.GlobalScope, fork.Body.GetBoundScope().ParentScope,
		"the task body's parent link must resolve to the loaded global scope")
}

func TestRoundTripFuturesAndConstants(t *testing.T) {
	original, loaded := roundTrip(t, `
function compute() -> integer(ret, 41) {
	ret = 42
}
const integer(limit, 9)
future(f, compute())
`)
	assert.True(t, loaded.GlobalScope.IsConstant("limit"))
	require.NotNil(t, loaded.GlobalScope.GetFuture("f"))
	assert.True(t, ir.OperationsEquivalent(
		original.GlobalScope.GetFuture("f"), loaded.GlobalScope.GetFuture("f"),
		original.GlobalScope, loaded.GlobalScope))
}

func TestRoundTripExtensionData(t *testing.T) {
	original := buildProgram(t, `integer(x, 1)`)
	original.AddExtension("imagelib")
	original.ExtensionData["imagelib"] = []byte{0xde, 0xad, 0xbe, 0xef}

	data, err := Write(original)
	require.NoError(t, err)
	loaded, err := Load(data)
	require.NoError(t, err)

	assert.Equal(t, []string{"imagelib"}, loaded.Extensions)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, loaded.ExtensionData["imagelib"])
}

// A wrong cookie fails before anything loads.
func TestBadCookieFails(t *testing.T) {
	program := buildProgram(t, `integer(x, 1)`)
	data, err := Write(program)
	require.NoError(t, err)

	data[0] ^= 0xff
	_, err = Load(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diagnostics.ErrInvalidBytecode))
	assert.Contains(t, err.Error(), "cookie")
}

// An unknown opcode fails with a diagnostic naming the offset and byte.
func TestUnknownOpcodeNamesOffsetAndByte(t *testing.T) {
	program := buildProgram(t, `integer(x, 1)`)
	data, err := Write(program)
	require.NoError(t, err)

	// Corrupt the first operation opcode of the global init block: find the
	// GlobalBlock/BeginBlock/CurrentScope prefix and stomp the next byte.
	idx := -1
	for i := 0; i+2 < len(data); i++ {
		if Instruction(data[i]) == InsGlobalBlock && Instruction(data[i+1]) == InsBeginBlock && Instruction(data[i+2]) == InsCurrentScope {
			idx = i + 3
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0, "global init block not found")
	data[idx] = 0xfe

	_, err = Load(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, diagnostics.ErrInvalidBytecode))
	assert.Contains(t, err.Error(), "0xfe")
	assert.Contains(t, err.Error(), "offset")
}

func TestTruncatedStreamFails(t *testing.T) {
	program := buildProgram(t, `integer(x, 1)`)
	data, err := Write(program)
	require.NoError(t, err)

	_, err = Load(data[:len(data)/2])
	require.Error(t, err)
	assert.True(t, errors.Is(err, diagnostics.ErrInvalidBytecode))
}

func TestExtensionRegistrarSeesBothPasses(t *testing.T) {
	program := buildProgram(t, `integer(x, 1)`)
	program.AddExtension("imagelib")
	data, err := Write(program)
	require.NoError(t, err)

	var calls []string
	registrar := registrarFunc(func(lib string) error {
		calls = append(calls, lib)
		return nil
	})
	_, err = LoadWithExtensions(data, registrar)
	require.NoError(t, err)
	assert.Equal(t, []string{"imagelib", "imagelib"}, calls,
		"each referenced library registers on both passes")
}

type registrarFunc func(string) error

func (f registrarFunc) Register(lib string) error { return f(lib) }

func TestLoadedProgramSerializesIdentically(t *testing.T) {
	original, loaded := roundTrip(t, `
structure S { integer a, real b }
S s
s.a = 2
`)
	first, err := Write(original)
	require.NoError(t, err)
	second, err := Write(loaded)
	require.NoError(t, err)
	assert.Equal(t, first, second, "write-load-write must be a fixed point")
}
