// Package semantics implements the parser-driven state machine that turns
// syntactic events into the elaborated program tree: scopes, typed
// variables, composite type descriptors and blocks of typed operations.
package semantics

import (
	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

// BlockType discriminates what the next opened block belongs to.
type BlockType int

const (
	BlockAnonymous BlockType = iota
	BlockGlobal
	BlockFunctionBody
	BlockIf
	BlockElseIf
	BlockElse
	BlockWhile
	BlockDoWhile
	BlockTask
	BlockThread
	BlockParallelFor
	BlockMsgHandler
	BlockResponseMap
	BlockResponseMapHandler
	BlockExtensionControl
	blockElseIfChain
)

type entryKind int

const (
	entryIdentifier entryKind = iota
	entryLiteral
	entryOperation
	entryScope
)

// stackEntry is one element of the builder's operand stream. Identifier and
// literal operands are lazy: no operations are emitted until a consumer
// decides what they mean. Operation entries mark units already emitted into
// the current block.
type stackEntry struct {
	kind  entryKind
	name  string
	value ir.RValue
	op    ir.Operation
	scope *ir.ScopeDescription
}

type blockEntry struct {
	block  *ir.Block
	kind   BlockType
	scope  *ir.ScopeDescription
	fnName string
}

// phrase tracks one infix expression in flight.
type phrase struct {
	operators    []string
	operandCount int

	// assignTargets collects leading l-value identifiers of chained
	// assignments, outermost first.
	assignTargets []string

	// member l-value state: the store sequence was emitted at registration
	// and must end at the tail once the r-value lands.
	memberStoreOps  int
	memberFinalType ir.VariableTypeID
	memberFinalHint ir.IDType

	// compound assignment state.
	compoundTarget string
	compoundOp     string

	// keepValue forces the phrase's result to stay on the operand stream
	// even in statement position; conditions need their value.
	keepValue bool
}

// pendingStatement tracks one call-like statement in flight.
type pendingStatement struct {
	name string
}

// Builder consumes grammar events and emits operations into the current
// block. It is single-threaded; all auxiliary stacks are pushed and popped
// in strict LIFO order. Type, arity and syntax violations set the program's
// fatal flag and substitute a NoOp so later events stay stable; structural
// violations panic with a ParserFailure that the pipeline recovers.
type Builder struct {
	program      *ir.Program
	currentScope *ir.ScopeDescription

	theStack           []stackEntry
	blocks             []blockEntry
	expectedBlockTypes []BlockType
	passedParamCount   []int
	statements         []pendingStatement
	phrases            []*phrase
	extensionControls  []string
	displacedScopes    []*ir.ScopeDescription
	savedTaskNames     []string
	responseMaps       []*ir.ResponseMap
	responseMapNames   []string
	deferredOps        []ir.Operation
	cachedOps          []ir.Operation
	memberAccesses     []string
	memberLevelLValue  int
	memberLevelRValue  int

	// returnInitOps queues each function's return-value initialization
	// operations, replayed when the body opens.
	returnInitOps map[string][]ir.Operation

	// preparseFn is the function currently collecting parameters.
	preparseFn *functionUnderConstruction

	// preparseStruct is the composite type currently collecting members.
	preparseStruct *structureUnderConstruction

	// pendingAccept carries an accept-message handler awaiting its block.
	pendingAccept *ir.AcceptMessage

	// pendingResponseEntry carries a response-map entry awaiting its block.
	pendingResponseEntry *ir.ResponseMapEntry

	// pendingParallelFor carries the counter name awaiting the body.
	pendingParallelFor string

	// lastAssignTarget feeds chained assignment reads.
	lastAssignTarget string

	// constNext marks the next declaration as a constant.
	constNext bool

	// pendingHandlerScope carries a prepared handler scope to the next
	// BeginBlock.
	pendingHandlerScope *ir.ScopeDescription

	extensionKeywords map[string]string
	codeHandleCounter ir.HandleType

	errors []*diagnostics.DiagnosticError
	pos    diagnostics.Position
}

// NewBuilder creates a builder targeting a fresh program. The global init
// block is the initially open block.
func NewBuilder() *Builder {
	program := ir.NewProgram()
	b := &Builder{
		program:       program,
		currentScope:  program.GlobalScope,
		returnInitOps: make(map[string][]ir.Operation),
	}
	b.blocks = append(b.blocks, blockEntry{block: program.GlobalInit, kind: BlockGlobal, scope: program.GlobalScope})
	return b
}

// Program returns the program under construction.
func (b *Builder) Program() *ir.Program {
	return b.program
}

// Errors returns the diagnostics recorded by soft failures.
func (b *Builder) Errors() []*diagnostics.DiagnosticError {
	return b.errors
}

// SetPosition records the source position attached to subsequent
// diagnostics.
func (b *Builder) SetPosition(line, column int) {
	b.pos = diagnostics.Position{Line: line, Column: column}
}

// CurrentScope exposes the active scope for tests.
func (b *Builder) CurrentScope() *ir.ScopeDescription {
	return b.currentScope
}

// currentBlock is the innermost open block.
func (b *Builder) currentBlock() *ir.Block {
	if len(b.blocks) == 0 {
		panic(diagnostics.Failf("no open block"))
	}
	return b.blocks[len(b.blocks)-1].block
}

func (b *Builder) emit(op ir.Operation) {
	b.currentBlock().Append(op)
}

// reportFatal records a soft failure, sets the program's fatal flag and
// emits a NoOp so the surrounding construct stays balanced.
func (b *Builder) reportFatal(code, format string, args ...any) {
	b.errors = append(b.errors, diagnostics.NewError(code, b.pos, format, args...))
	b.program.SetFatalError()
	b.emit(&ir.NoOp{})
}

// reportFatalNoEmit records a soft failure without a NoOp, for callers that
// substitute their own recovery.
func (b *Builder) reportFatalNoEmit(code, format string, args ...any) {
	b.errors = append(b.errors, diagnostics.NewError(code, b.pos, format, args...))
	b.program.SetFatalError()
}

// --- operand stream ---

func (b *Builder) pushEntry(e stackEntry) {
	b.theStack = append(b.theStack, e)
	if p := b.currentPhrase(); p != nil {
		p.operandCount++
	}
}

func (b *Builder) popEntry() stackEntry {
	if len(b.theStack) == 0 {
		panic(diagnostics.Failf("operand stack underflow"))
	}
	e := b.theStack[len(b.theStack)-1]
	b.theStack = b.theStack[:len(b.theStack)-1]
	return e
}

// PushIdentifier records an identifier operand. Identifiers stay lazy: no
// read is emitted until a consumer decides whether the name is a variable
// read, a declaration target or a type name.
func (b *Builder) PushIdentifier(name string) {
	b.pushEntry(stackEntry{kind: entryIdentifier, name: b.program.PoolString(name)})
}

// PushIntegerLiteral records a 32-bit integer literal operand.
func (b *Builder) PushIntegerLiteral(v int32) {
	b.pushEntry(stackEntry{kind: entryLiteral, value: ir.IntegerValue(v)})
}

// PushInteger16Literal records a 16-bit integer literal operand.
func (b *Builder) PushInteger16Literal(v int16) {
	b.pushEntry(stackEntry{kind: entryLiteral, value: ir.Integer16Value(v)})
}

// PushRealLiteral records a real literal operand.
func (b *Builder) PushRealLiteral(v float32) {
	b.pushEntry(stackEntry{kind: entryLiteral, value: ir.RealValue(v)})
}

// PushBooleanLiteral records a boolean literal operand.
func (b *Builder) PushBooleanLiteral(v bool) {
	b.pushEntry(stackEntry{kind: entryLiteral, value: ir.BooleanValue(v)})
}

// PushStringLiteral records a string literal operand; the text is interned
// in the program's pool.
func (b *Builder) PushStringLiteral(s string) {
	b.pushEntry(stackEntry{kind: entryLiteral, value: ir.StringValue(b.program.PoolString(s))})
}

// pushOperationMarker records an already-emitted unit whose tail operation
// is op.
func (b *Builder) pushOperationMarker(op ir.Operation) {
	b.pushEntry(stackEntry{kind: entryOperation, op: op})
}

// entryType resolves the primitive type an operand produces.
func (b *Builder) entryType(e stackEntry) ir.VariableTypeID {
	switch e.kind {
	case entryIdentifier:
		return b.currentScope.GetVariableType(e.name)
	case entryLiteral:
		return e.value.Type
	case entryOperation:
		return e.op.GetType(b.currentScope)
	}
	return ir.TypeError
}

// materializeEntry emits the push operations of a lazy operand and returns
// the unit's operations. Emitted operands return nil: their operations are
// already in the block.
func (b *Builder) materializeEntry(e stackEntry) []ir.Operation {
	switch e.kind {
	case entryIdentifier:
		if !b.currentScope.HasVariable(e.name) {
			b.reportFatalNoEmit("E101", "variable %q is not declared", e.name)
			return []ir.Operation{&ir.NoOp{}}
		}
		return []ir.Operation{ir.NewPushOperation(&ir.GetVariableValue{Name: e.name}, b.currentScope)}
	case entryLiteral:
		return []ir.Operation{literalPush(e.value)}
	}
	return nil
}

func literalPush(v ir.RValue) ir.Operation {
	switch v.Type {
	case ir.TypeInteger:
		return &ir.PushInteger{Value: v.AsInteger()}
	case ir.TypeInteger16:
		return &ir.PushInteger16{Value: v.AsInteger16()}
	case ir.TypeReal:
		return &ir.PushReal{Value: v.AsReal()}
	case ir.TypeBoolean:
		return &ir.PushBoolean{Value: v.AsBoolean()}
	case ir.TypeString:
		return &ir.PushString{Value: v.AsString()}
	}
	return &ir.NoOp{}
}

// --- statement boundaries ---

// MergeDeferredOperations flushes post-increment and other held-aside
// operations into the current block. The parser calls it at every statement
// boundary.
func (b *Builder) MergeDeferredOperations() {
	for _, op := range b.deferredOps {
		b.emit(op)
	}
	b.deferredOps = nil
}

func (b *Builder) currentPhrase() *phrase {
	if len(b.phrases) == 0 {
		return nil
	}
	return b.phrases[len(b.phrases)-1]
}
