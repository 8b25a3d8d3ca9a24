package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

// Writer flattens a program into the binary format. Scope and function IDs
// are dense and assigned on first encounter; the loader's two passes resolve
// the forward references this creates.
type Writer struct {
	buf     bytes.Buffer
	program *ir.Program

	scopeIDs    map[*ir.ScopeDescription]ir.IDType
	functionIDs map[string]ir.IDType
	nextScope   ir.IDType
	nextFn      ir.IDType
}

// Write serializes a program.
func Write(program *ir.Program) ([]byte, error) {
	w := &Writer{
		program:     program,
		scopeIDs:    make(map[*ir.ScopeDescription]ir.IDType),
		functionIDs: make(map[string]ir.IDType),
		nextScope:   1,
		nextFn:      1,
	}
	if err := w.writeProgram(); err != nil {
		return nil, err
	}
	trace.Debug().
		Int("bytes", w.buf.Len()).
		Int("scopes", len(w.scopeIDs)).
		Int("functions", len(w.functionIDs)).
		Msg("bytecode written")
	return w.buf.Bytes(), nil
}

func (w *Writer) writeProgram() error {
	w.buf.Write(bytecodeCookie)

	var flags uint32
	if w.program.UsesConsole {
		flags |= flagsUsesConsole
	}
	w.writeNumber(int32(flags))

	w.writeNumber(int32(len(w.program.Extensions)))
	for _, lib := range w.program.Extensions {
		w.writeCString(lib)
	}

	if err := w.writeScope(w.program.GlobalScope); err != nil {
		return err
	}

	w.writeInstruction(InsGlobalBlock)
	if err := w.writeBlock(w.program.GlobalInit, w.program.GlobalScope); err != nil {
		return err
	}

	w.writeInstruction(InsExtensionData)
	w.writeNumber(int32(len(w.program.ExtensionData)))
	for _, lib := range sortedKeys(w.program.ExtensionData) {
		data := w.program.ExtensionData[lib]
		w.writeCString(lib)
		w.writeNumber(int32(len(data)))
		w.buf.Write(data)
	}
	return nil
}

// --- primitive emitters ---

func (w *Writer) writeInstruction(ins Instruction) {
	w.buf.WriteByte(byte(ins))
}

func (w *Writer) writeNumber(v int32) {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(v))
	w.buf.Write(scratch[:])
}

func (w *Writer) writeFloat(v float32) {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], math.Float32bits(v))
	w.buf.Write(scratch[:])
}

func (w *Writer) writeFlag(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) writeCString(s string) {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
}

func (w *Writer) writeLPString(s string) {
	w.writeNumber(int32(len(s)))
	w.buf.WriteString(s)
}

// --- identity assignment ---

func (w *Writer) scopeID(scope *ir.ScopeDescription) ir.IDType {
	if scope == nil {
		return 0
	}
	if id, ok := w.scopeIDs[scope]; ok {
		return id
	}
	id := w.nextScope
	w.nextScope++
	w.scopeIDs[scope] = id
	return id
}

func (w *Writer) functionID(name string) ir.IDType {
	if id, ok := w.functionIDs[name]; ok {
		return id
	}
	id := w.nextFn
	w.nextFn++
	w.functionIDs[name] = id
	return id
}

// --- scope records ---

func (w *Writer) writeScope(scope *ir.ScopeDescription) error {
	w.writeInstruction(InsScope)
	w.writeNumber(w.scopeID(scope))
	w.writeInstruction(InsParentScope)
	w.writeNumber(w.scopeID(scope.ParentScope))

	w.writeInstruction(InsVariables)
	w.writeNumber(int32(len(scope.MemberOrder)))
	for _, name := range scope.MemberOrder {
		v := scope.Variables[name]
		w.writeFlag(v.IsReference)
		w.writeCString(name)
		w.writeNumber(int32(v.Type))
	}

	w.writeInstruction(InsGhosts)
	w.writeNumber(int32(len(scope.Ghosts)))
	for _, set := range scope.Ghosts {
		w.writeInstruction(InsGhostRecord)
		names := sortedKeys(set)
		w.writeNumber(int32(len(names)))
		for _, name := range names {
			w.writeCString(name)
			w.writeNumber(w.scopeID(set[name]))
		}
	}

	w.writeInstruction(InsFunctions)
	w.writeNumber(int32(len(scope.FunctionOrder)))
	for _, name := range scope.FunctionOrder {
		w.writeCString(name)
		w.writeNumber(w.functionID(name))
		w.writeNumber(0) // pad
		if err := w.writeFunctionBody(scope.Functions[name]); err != nil {
			return err
		}
	}

	w.writeInstruction(InsFunctionSignatureList)
	w.writeNumber(int32(len(scope.SignatureOrder)))
	for _, name := range scope.SignatureOrder {
		w.writeCString(name)
		w.writeInstruction(InsFunctionSignatureBegin)
		w.writeSignature(scope.FunctionSignatures[name])
	}

	if err := w.writeCompositeSections(scope); err != nil {
		return err
	}

	w.writeInstruction(InsConstants)
	constants := sortedKeys(scope.Constants)
	w.writeNumber(int32(len(constants)))
	for _, name := range constants {
		w.writeCString(name)
	}

	w.writeInstruction(InsResponseMaps)
	w.writeNumber(int32(len(scope.ResponseMapOrder)))
	for _, name := range scope.ResponseMapOrder {
		if err := w.writeResponseMap(name, scope.ResponseMaps[name], scope); err != nil {
			return err
		}
	}

	w.writeInstruction(InsFutures)
	w.writeNumber(int32(len(scope.FutureOrder)))
	for _, name := range scope.FutureOrder {
		w.writeCString(name)
		if err := w.writeOperation(scope.Futures[name], scope, nil, 0); err != nil {
			return err
		}
	}

	w.writeInstruction(InsListTypes)
	listNames := sortedKeys(scope.ListTypes)
	w.writeNumber(int32(len(listNames)))
	for _, name := range listNames {
		w.writeCString(name)
		w.writeNumber(int32(scope.ListTypes[name]))
	}
	w.writeInstruction(InsListSizes)
	sizeNames := sortedKeys(scope.ListSizes)
	w.writeNumber(int32(len(sizeNames)))
	for _, name := range sizeNames {
		w.writeCString(name)
		w.writeNumber(scope.ListSizes[name])
	}

	w.writeInstruction(InsEndScope)
	return nil
}

func (w *Writer) writeCompositeSections(scope *ir.ScopeDescription) error {
	w.writeInstruction(InsTupleTypes)
	tupleIDs := sortedIDs(scope.TupleTracker.Types)
	w.writeNumber(int32(len(tupleIDs)))
	for _, id := range tupleIDs {
		w.writeNumber(id)
		w.writeCompositeMembers(&scope.TupleTracker.Types[id].CompositeType)
	}
	w.writeInstruction(InsTupleTypeHints)
	w.writeHintMap(scope.TupleTypeHints)
	w.writeInstruction(InsTupleTypeMap)
	w.writeHintMap(scope.TupleTypes)

	w.writeInstruction(InsStructureTypes)
	structureIDs := sortedIDs(scope.StructureTracker.Types)
	w.writeNumber(int32(len(structureIDs)))
	for _, id := range structureIDs {
		w.writeNumber(id)
		w.writeCompositeMembers(&scope.StructureTracker.Types[id].CompositeType)
	}
	w.writeInstruction(InsStructureTypeHints)
	w.writeHintMap(scope.StructureTypeHints)
	w.writeInstruction(InsStructureTypeMap)
	w.writeHintMap(scope.StructureTypes)
	return nil
}

func (w *Writer) writeCompositeMembers(c *ir.CompositeType) {
	w.writeInstruction(InsMembers)
	w.writeNumber(int32(len(c.MemberOrder)))
	for _, name := range c.MemberOrder {
		info := c.Members[name]
		w.writeCString(name)
		w.writeNumber(int32(info.Type))
		// Composite members carry their type hint inline, right after the
		// tag; function members carry their signature name.
		if info.Type == ir.TypeTuple || info.Type == ir.TypeStructure {
			w.writeNumber(info.TypeHint)
		}
		if info.Type == ir.TypeFunction {
			w.writeCString(info.SignatureName)
		}
	}
}

func (w *Writer) writeHintMap(m map[string]ir.IDType) {
	names := sortedKeys(m)
	w.writeNumber(int32(len(names)))
	for _, name := range names {
		w.writeCString(name)
		w.writeNumber(m[name])
	}
}

func (w *Writer) writeResponseMap(name string, m *ir.ResponseMap, scope *ir.ScopeDescription) error {
	w.writeCString(name)
	w.writeNumber(int32(len(m.Entries)))
	for _, e := range m.Entries {
		w.writeCString(e.MessageName)
		w.writeNumber(int32(len(e.PayloadTypes)))
		for _, t := range e.PayloadTypes {
			w.writeNumber(int32(t))
		}
		if err := w.writeBlock(e.Handler, scope); err != nil {
			return err
		}
		if err := w.writeScope(e.AuxScope); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeFunctionBody(fn ir.FunctionBase) error {
	switch f := fn.(type) {
	case *ir.NativeCallStub:
		w.writeInstruction(InsCallDLL)
		w.writeCString(f.DLLName)
		w.writeCString(f.FunctionName)
		w.writeNumber(int32(f.ReturnType))
		w.writeNumber(f.ReturnHint)
		return w.writeScope(f.Params)

	case *ir.Function:
		if err := w.writeScope(f.Params); err != nil {
			return err
		}
		if err := w.writeScope(f.Returns); err != nil {
			return err
		}
		return w.writeBlock(f.Body, f.Params)
	}
	return fmt.Errorf("%w: function kind", diagnostics.ErrNotImplemented)
}

func (w *Writer) writeSignature(sig *ir.FunctionSignature) {
	w.writeNumber(int32(len(sig.Params)))
	for _, t := range sig.Params {
		w.writeNumber(int32(t))
	}
	w.writeNumber(int32(len(sig.Returns)))
	for _, t := range sig.Returns {
		w.writeNumber(int32(t))
	}
	w.writeNumber(int32(len(sig.ParamTypeHints)))
	for _, h := range sig.ParamTypeHints {
		w.writeNumber(h)
	}
	w.writeNumber(int32(len(sig.ParamFlags)))
	for _, f := range sig.ParamFlags {
		w.writeNumber(f)
	}
	w.writeNumber(int32(len(sig.NestedSignatures)))
	for _, nested := range sig.NestedSignatures {
		if nested == nil {
			w.writeInstruction(InsFunctionSignatureEnd)
			continue
		}
		w.writeInstruction(InsFunctionSignatureBegin)
		w.writeSignature(nested)
	}
	w.writeNumber(int32(len(sig.ReturnTypeHints)))
	for _, h := range sig.ReturnTypeHints {
		w.writeNumber(h)
	}
	w.writeInstruction(InsFunctionSignatureEnd)
}

// --- blocks and operations ---

func (w *Writer) writeBlock(b *ir.Block, enclosing *ir.ScopeDescription) error {
	w.writeInstruction(InsBeginBlock)
	scope := enclosing
	switch {
	case b.GetBoundScope() == nil:
		w.writeInstruction(InsNull)
	case !b.OwnsScope():
		w.writeInstruction(InsCurrentScope)
		scope = b.GetBoundScope()
	default:
		scope = b.GetBoundScope()
		if err := w.writeScope(scope); err != nil {
			return err
		}
	}

	ops := b.Operations()
	for i, op := range ops {
		if err := w.writeOperation(op, scope, ops, i); err != nil {
			return err
		}
	}
	w.writeInstruction(InsEndBlock)
	return nil
}

// writeOperation emits one operation. The surrounding op list and index
// resolve prior-operation back-pointers to small offsets.
func (w *Writer) writeOperation(op ir.Operation, scope *ir.ScopeDescription, siblings []ir.Operation, index int) error {
	payload := op.Payload(scope)
	opcode, ok := operationOpcodes[payload.Token]
	if !ok {
		return fmt.Errorf("%w: operation %q", diagnostics.ErrNotImplemented, payload.Token)
	}
	w.writeInstruction(opcode)

	switch opcode {
	case InsPushInteger:
		w.writeNumber(payload.Value.AsInteger())
	case InsPushInteger16:
		w.writeNumber(int32(payload.Value.AsInteger16()))
	case InsPushReal:
		w.writeFloat(payload.Value.AsReal())
	case InsPushBoolean:
		w.writeFlag(payload.Value.AsBoolean())
	case InsPushString:
		w.writeLPString(payload.Value.AsString())

	case InsPushOperation:
		w.writeFlag(payload.Flags[0])
		w.writeFlag(payload.Flags[1])
		return w.writeOperation(payload.Nested[0], scope, siblings, index)

	case InsNoOp, InsExitIfChain, InsWhileCondition, InsBreak, InsReturn,
		InsCreateThreadPool, InsGetMessageSender, InsGetTaskCaller,
		InsDebugWriteString, InsDebugReadString:
		// Opcode only.

	case InsAssignStructureIndirect:
		w.writeCString(payload.Member)

	case InsGetValue, InsAssignValue, InsInitializeValue, InsBindReference,
		InsBindFunctionReference, InsSizeOf, InsReadArray, InsWriteArray,
		InsArrayLength, InsLength, InsInvokeIndirect, InsAcceptMessageFromMap:
		w.writeCString(payload.Name)

	case InsInvoke:
		w.writeCString(payload.Name)
		w.writeFlag(payload.Flags[0])

	case InsReadTuple, InsAssignTuple, InsReadStructure, InsAssignStructure:
		w.writeCString(payload.Name)
		w.writeCString(payload.Member)

	case InsReadStructureIndirect:
		w.writeCString(payload.Member)
		offset, err := priorOffset(payload.Prior, siblings, index)
		if err != nil {
			return err
		}
		w.writeNumber(offset)

	case InsBindStructMemberRef:
		w.writeFlag(payload.Flags[0])
		w.writeCString(payload.Name)
		w.writeCString(payload.Member)

	case InsSum, InsSubtract, InsMultiply, InsDivide:
		w.writeNumber(int32(payload.TypeTag))
		w.writeFlag(payload.Flags[0])
		w.writeFlag(payload.Flags[1])
		w.writeNumber(payload.Numbers[0])

	case InsIsEqual, InsIsNotEqual, InsIsGreater, InsIsGreaterEqual, InsIsLesser, InsIsLesserEqual:
		w.writeNumber(int32(payload.TypeTag))

	case InsLogicalAnd, InsLogicalOr, InsBitwiseAnd, InsBitwiseOr:
		w.writeNumber(int32(payload.TypeTag))
		w.writeNumber(int32(len(payload.Nested)))
		for i, sub := range payload.Nested {
			if err := w.writeOperation(sub, scope, payload.Nested, i); err != nil {
				return err
			}
		}

	case InsIf:
		w.writeFlag(payload.Flags[0])
		w.writeFlag(payload.Flags[1])
		if err := w.writeBlock(payload.Blocks[0], scope); err != nil {
			return err
		}
		if payload.Flags[0] {
			if err := w.writeBlock(payload.Blocks[1], scope); err != nil {
				return err
			}
		}
		if payload.Flags[1] {
			if err := w.writeOperation(payload.Nested[0], scope, nil, 0); err != nil {
				return err
			}
		}

	case InsElseIf, InsElseIfWrapper, InsWhile, InsDoWhile, InsExecuteBlock, InsForkTask, InsForkThread:
		return w.writeBlock(payload.Blocks[0], scope)

	case InsForkFuture:
		w.writeCString(payload.Name)
		w.writeNumber(int32(payload.TypeTag))
		w.writeFlag(payload.Flags[0])

	case InsAcceptMessage:
		w.writeCString(payload.Name)
		w.writeNumber(int32(len(payload.Types)))
		for _, t := range payload.Types {
			w.writeNumber(int32(t))
		}
		if err := w.writeBlock(payload.Blocks[0], scope); err != nil {
			return err
		}
		return w.writeScope(payload.Scopes[0])

	case InsSendTaskMessage:
		w.writeFlag(payload.Flags[0])
		w.writeCString(payload.Name)
		w.writeNumber(int32(len(payload.Types)))
		for _, t := range payload.Types {
			w.writeNumber(int32(t))
		}

	case InsParallelFor:
		w.writeCString(payload.Name)
		w.writeFlag(payload.Flags[0])
		w.writeNumber(payload.Handle)
		return w.writeBlock(payload.Blocks[0], scope)

	case InsConsArray:
		w.writeNumber(int32(payload.TypeTag))
		w.writeNumber(payload.Numbers[0])

	case InsConsArrayIndirect:
		w.writeNumber(int32(payload.TypeTag))
		return w.writeOperation(payload.Nested[0], scope, siblings, index)

	case InsMap, InsReduce:
		return w.writeOperation(payload.Nested[0], scope, siblings, index)

	case InsConcat:
		w.writeFlag(payload.Flags[0])
		w.writeFlag(payload.Flags[1])
		w.writeNumber(payload.Numbers[0])

	case InsTypeCast, InsTypeCastToString, InsTypeCastBooleanToString, InsTypeCastBufferToString:
		w.writeNumber(int32(payload.TypeTag))
		w.writeNumber(int32(payload.TypeTag2))
		return w.writeOperation(payload.Nested[0], scope, siblings, index)

	case InsHandoff:
		w.writeCString(payload.Library)
		w.writeNumber(payload.Handle)
		return w.writeBlock(payload.Blocks[0], scope)

	case InsHandoffControl:
		w.writeCString(payload.Library)
		w.writeCString(payload.Name)
		w.writeNumber(payload.Handle)
		if err := w.writeScope(payload.Scopes[0]); err != nil {
			return err
		}
		return w.writeBlock(payload.Blocks[0], scope)

	default:
		return fmt.Errorf("%w: opcode %d has no encoder", diagnostics.ErrNotImplemented, opcode)
	}
	return nil
}

// priorOffset resolves an indirect read's back-pointer to its distance from
// the current operation within the block.
func priorOffset(prior ir.Operation, siblings []ir.Operation, index int) (int32, error) {
	for i := index - 1; i >= 0; i-- {
		if siblings[i] == prior {
			return int32(index - i), nil
		}
		if push, ok := siblings[i].(*ir.PushOperation); ok && push.Op == prior {
			return int32(index - i), nil
		}
	}
	return 0, fmt.Errorf("%w: indirect read references an operation outside its block", diagnostics.ErrStructural)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[i] > keys[j] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	return keys
}

func sortedIDs[V any](m map[ir.IDType]V) []ir.IDType {
	ids := make([]ir.IDType, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[i] > ids[j] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	return ids
}
