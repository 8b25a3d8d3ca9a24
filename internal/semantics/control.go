package semantics

import (
	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

// RegisterControlKeyword primes the builder for the block a control keyword
// introduces. While-loops open their block immediately so the conditional
// can be injected before the body statements; elseifs redirect emission into
// the owning If's alternative chain.
func (b *Builder) RegisterControlKeyword(word string) {
	switch word {
	case "if":
		b.expectedBlockTypes = append(b.expectedBlockTypes, BlockIf)

	case "elseif":
		owner := b.nearestIf()
		if owner == nil {
			b.reportFatal("E170", "elseif without a preceding if")
			b.expectedBlockTypes = append(b.expectedBlockTypes, BlockAnonymous)
			return
		}
		wrapper := owner.EnsureWrapper()
		b.blocks = append(b.blocks, blockEntry{block: wrapper.Chain, kind: blockElseIfChain, scope: b.currentScope})
		b.expectedBlockTypes = append(b.expectedBlockTypes, BlockElseIf)

	case "else":
		b.expectedBlockTypes = append(b.expectedBlockTypes, BlockElse)

	case "while":
		body := ir.NewBlock()
		scope := b.currentScope.NewChildScope()
		body.BindToScope(scope)
		b.blocks = append(b.blocks, blockEntry{block: body, kind: BlockWhile, scope: scope})
		b.currentScope = scope
		b.expectedBlockTypes = append(b.expectedBlockTypes, BlockWhile)

	case "do":
		b.expectedBlockTypes = append(b.expectedBlockTypes, BlockDoWhile)

	default:
		if lib, ok := b.extensionKeyword(word); ok {
			b.extensionControls = append(b.extensionControls, word)
			b.program.AddExtension(lib)
			b.expectedBlockTypes = append(b.expectedBlockTypes, BlockExtensionControl)
			return
		}
		panic(diagnostics.Failf("unknown control keyword %q", word))
	}
}

// nearestIf walks the current block from the tail looking for the If that
// owns the chain in progress.
func (b *Builder) nearestIf() *ir.If {
	block := b.currentBlock()
	ops := block.Operations()
	for i := len(ops) - 1; i >= 0; i-- {
		switch op := ops[i].(type) {
		case *ir.If:
			return op
		case *ir.ElseIfWrapper, *ir.NoOp:
			continue
		default:
			return nil
		}
	}
	return nil
}

// CompleteWhileCondition closes the loop's condition expression and injects
// the conditional before the body statements.
func (b *Builder) CompleteWhileCondition() {
	cond := b.popEntry()
	if b.entryType(cond) != ir.TypeBoolean {
		b.reportFatal("E171", "while condition must be boolean, not %s", b.entryType(cond))
		return
	}
	b.emit(&ir.WhileLoopConditional{})
}

// BeginBlock opens the block primed by the last control keyword or
// statement; a bare block is anonymous.
func (b *Builder) BeginBlock() {
	expected := BlockAnonymous
	if len(b.expectedBlockTypes) > 0 {
		expected = b.expectedBlockTypes[len(b.expectedBlockTypes)-1]
		b.expectedBlockTypes = b.expectedBlockTypes[:len(b.expectedBlockTypes)-1]
	}

	switch expected {
	case BlockWhile:
		// The while keyword already opened the body.
		return

	case BlockIf, BlockElseIf:
		cond := b.popEntry()
		if b.entryType(cond) != ir.TypeBoolean {
			b.reportFatal("E171", "condition must be boolean, not %s", b.entryType(cond))
		}
		b.openChildBlock(expected)

	case BlockTask, BlockThread:
		// Concurrency bodies reparent to the global scope: no lexical
		// capture. The enclosing scope is displaced until the block exits.
		body := ir.NewBlock()
		scope := b.program.GlobalScope.NewChildScope()
		body.BindToScope(scope)
		b.displacedScopes = append(b.displacedScopes, b.currentScope)
		b.blocks = append(b.blocks, blockEntry{block: body, kind: expected, scope: scope})
		b.currentScope = scope

	case BlockParallelFor:
		body := ir.NewBlock()
		scope := b.currentScope.NewChildScope()
		scope.AddVariable(b.pendingParallelFor, ir.TypeInteger, false)
		body.BindToScope(scope)
		b.blocks = append(b.blocks, blockEntry{block: body, kind: expected, scope: scope})
		b.currentScope = scope

	case BlockMsgHandler, BlockResponseMapHandler:
		body := ir.NewBlock()
		scope := b.pendingHandlerScope
		b.pendingHandlerScope = nil
		body.BindToScope(scope)
		b.blocks = append(b.blocks, blockEntry{block: body, kind: expected, scope: scope})
		b.currentScope = scope

	case BlockResponseMap:
		// The map body holds entries, not operations; the block is a
		// placeholder emission target.
		b.blocks = append(b.blocks, blockEntry{block: ir.NewBlock(), kind: expected, scope: b.currentScope})

	default:
		b.openChildBlock(expected)
	}
}

func (b *Builder) openChildBlock(kind BlockType) {
	body := ir.NewBlock()
	scope := b.currentScope.NewChildScope()
	body.BindToScope(scope)
	b.blocks = append(b.blocks, blockEntry{block: body, kind: kind, scope: scope})
	b.currentScope = scope
}

// EndBlock closes the innermost block and realizes the construct it
// belongs to.
func (b *Builder) EndBlock() {
	if len(b.blocks) <= 1 {
		panic(diagnostics.Failf("block stack underflow"))
	}
	entry := b.blocks[len(b.blocks)-1]
	b.blocks = b.blocks[:len(b.blocks)-1]
	b.restoreScope(entry)

	switch entry.kind {
	case BlockIf:
		b.emit(ir.NewIf(entry.block))

	case BlockElseIf:
		entry.block.Append(&ir.ExitIfChain{})
		// The chain redirect sits below the body entry; the ElseIf lands in
		// the chain, then emission returns to the main block.
		chain := b.blocks[len(b.blocks)-1]
		if chain.kind != blockElseIfChain {
			panic(diagnostics.Failf("elseif body closed without its chain context"))
		}
		chain.block.Append(ir.NewElseIf(entry.block))
		b.blocks = b.blocks[:len(b.blocks)-1]

	case BlockElse:
		owner := b.nearestIf()
		if owner == nil {
			b.reportFatal("E170", "else without a preceding if")
			return
		}
		owner.SetFalseBlock(entry.block)

	case BlockWhile:
		b.emit(ir.NewWhileLoop(entry.block))

	case BlockTask:
		name := b.popSavedTaskName()
		b.emit(&ir.PushString{Value: name})
		fork := ir.NewForkTask(entry.block)
		b.emit(fork)
		b.program.Debug.TrackTaskName(fork, name)

	case BlockThread:
		pool := b.popSavedTaskName()
		name := b.popSavedTaskName()
		b.emit(&ir.PushString{Value: name})
		b.emit(&ir.PushString{Value: pool})
		fork := ir.NewForkThread(entry.block)
		b.emit(fork)
		b.program.Debug.TrackTaskName(fork, name)

	case BlockParallelFor:
		counter := b.pendingParallelFor
		b.pendingParallelFor = ""
		b.emit(ir.NewParallelFor(entry.block, counter, true, b.nextCodeHandle()))

	case BlockMsgHandler:
		accept := b.pendingAccept
		b.pendingAccept = nil
		accept.Handler = entry.block
		b.emit(accept)

	case BlockResponseMapHandler:
		e := b.pendingResponseEntry
		b.pendingResponseEntry = nil
		e.Handler = entry.block
		if len(b.responseMaps) == 0 {
			panic(diagnostics.Failf("response map entry outside a response map"))
		}
		b.responseMaps[len(b.responseMaps)-1].AddEntry(e)

	case BlockResponseMap:
		m := b.responseMaps[len(b.responseMaps)-1]
		b.responseMaps = b.responseMaps[:len(b.responseMaps)-1]
		name := b.responseMapNames[len(b.responseMapNames)-1]
		b.responseMapNames = b.responseMapNames[:len(b.responseMapNames)-1]
		b.currentScope.AddResponseMap(name, m)

	case BlockExtensionControl:
		word := b.extensionControls[len(b.extensionControls)-1]
		b.extensionControls = b.extensionControls[:len(b.extensionControls)-1]
		lib, _ := b.extensionKeyword(word)
		b.emit(ir.NewHandoffControlOperation(lib, entry.block, "", entry.scope, b.nextCodeHandle()))

	case BlockFunctionBody:
		b.completeFunctionBody(entry)

	default:
		b.emit(ir.NewExecuteBlock(entry.block))
	}
}

// restoreScope returns the current scope to whatever surrounds the closed
// block; task and thread bodies restore the displaced enclosing scope.
func (b *Builder) restoreScope(entry blockEntry) {
	switch entry.kind {
	case BlockTask, BlockThread:
		if len(b.displacedScopes) == 0 {
			panic(diagnostics.Failf("displaced scope stack underflow"))
		}
		b.currentScope = b.displacedScopes[len(b.displacedScopes)-1]
		b.displacedScopes = b.displacedScopes[:len(b.displacedScopes)-1]
	default:
		b.currentScope = b.blocks[len(b.blocks)-1].scope
	}
}

func (b *Builder) popSavedTaskName() string {
	if len(b.savedTaskNames) == 0 {
		panic(diagnostics.Failf("saved task name stack underflow"))
	}
	name := b.savedTaskNames[len(b.savedTaskNames)-1]
	b.savedTaskNames = b.savedTaskNames[:len(b.savedTaskNames)-1]
	return name
}

// EndDoWhileBody keeps the do-loop's body open for the trailing condition.
func (b *Builder) EndDoWhileBody() {
	if len(b.blocks) == 0 || b.blocks[len(b.blocks)-1].kind != BlockDoWhile {
		panic(diagnostics.Failf("do-while close without an open do block"))
	}
}

// CompleteDoWhile consumes the trailing condition, closes the body and
// emits the loop.
func (b *Builder) CompleteDoWhile() {
	cond := b.popEntry()
	if b.entryType(cond) != ir.TypeBoolean {
		b.reportFatal("E171", "do-while condition must be boolean, not %s", b.entryType(cond))
	}
	b.emit(&ir.WhileLoopConditional{})

	entry := b.blocks[len(b.blocks)-1]
	b.blocks = b.blocks[:len(b.blocks)-1]
	b.restoreScope(entry)
	b.emit(ir.NewDoWhileLoop(entry.block))
}

// EmitBreak appends a loop exit.
func (b *Builder) EmitBreak() {
	b.emit(&ir.Break{})
}

// EmitReturn appends a function return.
func (b *Builder) EmitReturn() {
	b.emit(&ir.Return{})
}

// BeginAcceptMessage primes a message handler: the payload parameters
// become the handler scope, with an auxiliary scope for per-message locals.
func (b *Builder) BeginAcceptMessage(messageName string, params []DeclaredParam) {
	handler := b.currentScope.NewChildScope()
	types := make([]ir.VariableTypeID, 0, len(params))
	for _, p := range params {
		t, ok := primitiveTypeNames[p.TypeName]
		if !ok {
			b.reportFatalNoEmit("E154", "unknown payload type %q", p.TypeName)
			t = ir.TypeError
		}
		handler.AddVariable(b.program.PoolString(p.Name), t, false)
		types = append(types, t)
	}
	aux := handler.NewChildScope()
	b.pendingAccept = ir.NewAcceptMessage(b.program.PoolString(messageName), types, nil, aux)
	b.expectedBlockTypes = append(b.expectedBlockTypes, BlockMsgHandler)
	b.openHandlerScope(handler)
}

func (b *Builder) openHandlerScope(handler *ir.ScopeDescription) {
	// BeginBlock will bind the handler block to this scope.
	b.pendingHandlerScope = handler
}

// BeginResponseMap opens a named response map context.
func (b *Builder) BeginResponseMap(name string) {
	b.responseMaps = append(b.responseMaps, ir.NewResponseMap())
	b.responseMapNames = append(b.responseMapNames, b.program.PoolString(name))
	b.expectedBlockTypes = append(b.expectedBlockTypes, BlockResponseMap)
}

// BeginResponseMapEntry primes one entry of the open response map.
func (b *Builder) BeginResponseMapEntry(messageName string, params []DeclaredParam) {
	handler := b.currentScope.NewChildScope()
	types := make([]ir.VariableTypeID, 0, len(params))
	for _, p := range params {
		t, ok := primitiveTypeNames[p.TypeName]
		if !ok {
			b.reportFatalNoEmit("E154", "unknown payload type %q", p.TypeName)
			t = ir.TypeError
		}
		handler.AddVariable(b.program.PoolString(p.Name), t, false)
		types = append(types, t)
	}
	b.pendingResponseEntry = &ir.ResponseMapEntry{
		MessageName:  b.program.PoolString(messageName),
		PayloadTypes: types,
		AuxScope:     handler.NewChildScope(),
	}
	b.expectedBlockTypes = append(b.expectedBlockTypes, BlockResponseMapHandler)
	b.openHandlerScope(handler)
}

// DeclaredParam is a typed parameter as the grammar spells it.
type DeclaredParam struct {
	TypeName string
	Name     string
	IsRef    bool
}

// RegisterExtensionKeyword associates a control keyword with a hosted
// library.
func (b *Builder) RegisterExtensionKeyword(library, keyword string) {
	if b.extensionKeywords == nil {
		b.extensionKeywords = make(map[string]string)
	}
	b.extensionKeywords[keyword] = library
}

func (b *Builder) extensionKeyword(word string) (string, bool) {
	lib, ok := b.extensionKeywords[word]
	return lib, ok
}

func (b *Builder) nextCodeHandle() ir.HandleType {
	b.codeHandleCounter++
	return b.codeHandleCounter
}
