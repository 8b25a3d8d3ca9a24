package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

// ExtensionRegistrar is notified for every referenced hosted library; the
// loader calls it on both passes, mirroring the registration protocol.
type ExtensionRegistrar interface {
	Register(library string) error
}

// Loader rebuilds a program from its binary form in two passes over the
// same buffer. The first pass allocates scope descriptors and function
// shells keyed by their on-disk IDs without materializing operations; the
// second pass re-walks the stream, building operation trees and resolving
// parent scopes, functions and composite types by ID.
type Loader struct {
	data    []byte
	offset  int
	program *ir.Program
	prepass bool

	scopesByID    map[ir.IDType]*ir.ScopeDescription
	functionsByID map[ir.IDType]ir.FunctionBase

	// rollback holds scopes whose ownership has not yet transferred to the
	// program; a failed load drains it so a partial graph never leaks into
	// the registry.
	rollback map[*ir.ScopeDescription]bool

	// offsetFixups defers ComputeOffsets until every composite type is
	// registered, because member hints may reference types that appear
	// later in the stream.
	offsetFixups []offsetFixup

	registrar ExtensionRegistrar
}

type offsetFixup struct {
	composite *ir.CompositeType
	scope     *ir.ScopeDescription
}

// Load rebuilds a program from bytecode.
func Load(data []byte) (*ir.Program, error) {
	return LoadWithExtensions(data, nil)
}

// LoadWithExtensions rebuilds a program, notifying the registrar of every
// referenced hosted library on both passes.
func LoadWithExtensions(data []byte, registrar ExtensionRegistrar) (program *ir.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			program = nil
			err = fmt.Errorf("%w: %v", diagnostics.ErrInvalidBytecode, r)
		}
	}()
	return loadWithExtensions(data, registrar)
}

func loadWithExtensions(data []byte, registrar ExtensionRegistrar) (*ir.Program, error) {
	l := &Loader{
		data:          data,
		program:       ir.NewProgram(),
		scopesByID:    make(map[ir.IDType]*ir.ScopeDescription),
		functionsByID: make(map[ir.IDType]ir.FunctionBase),
		rollback:      make(map[*ir.ScopeDescription]bool),
		registrar:     registrar,
	}

	if err := l.pass(true); err != nil {
		l.drainRollback()
		return nil, err
	}
	trace.Debug().
		Int("scopes", len(l.scopesByID)).
		Int("functions", len(l.functionsByID)).
		Msg("prepass allocated shells")
	if err := l.pass(false); err != nil {
		l.drainRollback()
		return nil, err
	}
	for _, fix := range l.offsetFixups {
		fix.composite.ComputeOffsets(fix.scope)
	}
	trace.Debug().
		Int("bytes", len(l.data)).
		Int("compositeFixups", len(l.offsetFixups)).
		Msg("load complete")
	return l.program, nil
}

// drainRollback releases everything a failed load allocated.
func (l *Loader) drainRollback() {
	l.program.Teardown()
	l.rollback = make(map[*ir.ScopeDescription]bool)
}

func (l *Loader) adopt(scope *ir.ScopeDescription) {
	delete(l.rollback, scope)
}

func (l *Loader) pass(prepass bool) error {
	l.prepass = prepass
	l.offset = 0
	trace.Debug().Bool("prepass", prepass).Int("bytes", len(l.data)).Msg("bytecode pass")

	if len(l.data) < len(bytecodeCookie) || !bytes.Equal(l.data[:len(bytecodeCookie)], bytecodeCookie) {
		return fmt.Errorf("%w: bad header cookie", diagnostics.ErrInvalidBytecode)
	}
	l.offset = len(bytecodeCookie)

	flags, err := l.readNumber()
	if err != nil {
		return err
	}
	if uint32(flags)&flagsUsesConsole != 0 {
		l.program.UsesConsole = true
	}

	extCount, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < extCount; i++ {
		lib, err := l.readCString()
		if err != nil {
			return err
		}
		l.program.AddExtension(lib)
		if l.registrar != nil {
			if err := l.registrar.Register(lib); err != nil {
				return fmt.Errorf("%w: extension %q refused registration: %v", diagnostics.ErrInvalidBytecode, lib, err)
			}
		}
	}

	root, err := l.readScope()
	if err != nil {
		return err
	}
	l.adopt(root)
	if !l.prepass {
		l.program.GlobalScope = root
	}

	if err := l.expectInstruction(InsGlobalBlock); err != nil {
		return err
	}
	globalInit, err := l.readBlock(root)
	if err != nil {
		return err
	}
	if !l.prepass {
		l.program.GlobalInit = globalInit
	}

	if err := l.expectInstruction(InsExtensionData); err != nil {
		return err
	}
	blockCount, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < blockCount; i++ {
		lib, err := l.readCString()
		if err != nil {
			return err
		}
		size, err := l.readNumber()
		if err != nil {
			return err
		}
		if size < 0 || l.offset+int(size) > len(l.data) {
			return fmt.Errorf("%w: extension data block for %q overruns the stream", diagnostics.ErrInvalidBytecode, lib)
		}
		if !l.prepass {
			l.program.ExtensionData[lib] = append([]byte(nil), l.data[l.offset:l.offset+int(size)]...)
		}
		l.offset += int(size)
	}
	return nil
}

// --- primitive readers ---

func (l *Loader) readByte() (byte, error) {
	if l.offset >= len(l.data) {
		return 0, fmt.Errorf("%w: unexpected end of stream at offset %d", diagnostics.ErrInvalidBytecode, l.offset)
	}
	b := l.data[l.offset]
	l.offset++
	return b, nil
}

func (l *Loader) peekInstruction() (Instruction, error) {
	if l.offset >= len(l.data) {
		return 0, fmt.Errorf("%w: unexpected end of stream at offset %d", diagnostics.ErrInvalidBytecode, l.offset)
	}
	return Instruction(l.data[l.offset]), nil
}

// expectInstruction asserts the next opcode.
func (l *Loader) expectInstruction(want Instruction) error {
	at := l.offset
	got, err := l.readByte()
	if err != nil {
		return err
	}
	if Instruction(got) != want {
		return fmt.Errorf("%w: expected opcode 0x%02x at offset %d, found 0x%02x", diagnostics.ErrInvalidBytecode, byte(want), at, got)
	}
	return nil
}

func (l *Loader) readNumber() (int32, error) {
	if l.offset+4 > len(l.data) {
		return 0, fmt.Errorf("%w: truncated number at offset %d", diagnostics.ErrInvalidBytecode, l.offset)
	}
	v := int32(binary.LittleEndian.Uint32(l.data[l.offset:]))
	l.offset += 4
	return v, nil
}

func (l *Loader) readFloat() (float32, error) {
	if l.offset+4 > len(l.data) {
		return 0, fmt.Errorf("%w: truncated float at offset %d", diagnostics.ErrInvalidBytecode, l.offset)
	}
	v := math.Float32frombits(binary.LittleEndian.Uint32(l.data[l.offset:]))
	l.offset += 4
	return v, nil
}

func (l *Loader) readFlag() (bool, error) {
	b, err := l.readByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (l *Loader) readCString() (string, error) {
	end := bytes.IndexByte(l.data[l.offset:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated string at offset %d", diagnostics.ErrInvalidBytecode, l.offset)
	}
	s := string(l.data[l.offset : l.offset+end])
	l.offset += end + 1
	return l.intern(s), nil
}

func (l *Loader) readLPString() (string, error) {
	n, err := l.readNumber()
	if err != nil {
		return "", err
	}
	if n < 0 || l.offset+int(n) > len(l.data) {
		return "", fmt.Errorf("%w: string length %d overruns the stream at offset %d", diagnostics.ErrInvalidBytecode, n, l.offset)
	}
	s := string(l.data[l.offset : l.offset+int(n)])
	l.offset += int(n)
	return l.intern(s), nil
}

// intern pools strings on the second pass only; the first pass discards
// its decodes.
func (l *Loader) intern(s string) string {
	if l.prepass {
		return s
	}
	return l.program.PoolString(s)
}

func (l *Loader) readTypeTag() (ir.VariableTypeID, error) {
	n, err := l.readNumber()
	return ir.VariableTypeID(n), err
}

// --- scope records ---

func (l *Loader) readScope() (*ir.ScopeDescription, error) {
	if err := l.expectInstruction(InsScope); err != nil {
		return nil, err
	}
	id, err := l.readNumber()
	if err != nil {
		return nil, err
	}
	if err := l.expectInstruction(InsParentScope); err != nil {
		return nil, err
	}
	parentID, err := l.readNumber()
	if err != nil {
		return nil, err
	}

	var scope *ir.ScopeDescription
	if l.prepass {
		scope = ir.NewScopeDescription(l.program.Registry)
		if _, taken := l.scopesByID[id]; taken {
			return nil, fmt.Errorf("%w: scope ID %d appears twice", diagnostics.ErrInvalidBytecode, id)
		}
		l.scopesByID[id] = scope
		l.rollback[scope] = true
	} else {
		scope = l.scopesByID[id]
		if scope == nil {
			return nil, fmt.Errorf("%w: scope ID %d was not allocated by the prepass", diagnostics.ErrInvalidBytecode, id)
		}
		if parentID != 0 {
			parent := l.scopesByID[parentID]
			if parent == nil {
				return nil, fmt.Errorf("%w: parent scope ID %d does not resolve", diagnostics.ErrInvalidBytecode, parentID)
			}
			scope.SetParent(parent)
		}
	}

	if err := l.readVariables(scope); err != nil {
		return nil, err
	}
	if err := l.readGhosts(scope); err != nil {
		return nil, err
	}
	if err := l.readFunctions(scope); err != nil {
		return nil, err
	}
	if err := l.readSignatureList(scope); err != nil {
		return nil, err
	}
	if err := l.readCompositeSections(scope); err != nil {
		return nil, err
	}
	if err := l.readConstants(scope); err != nil {
		return nil, err
	}
	if err := l.readResponseMaps(scope); err != nil {
		return nil, err
	}
	if err := l.readFutures(scope); err != nil {
		return nil, err
	}
	if err := l.readListSections(scope); err != nil {
		return nil, err
	}
	return scope, l.expectInstruction(InsEndScope)
}

func (l *Loader) readVariables(scope *ir.ScopeDescription) error {
	if err := l.expectInstruction(InsVariables); err != nil {
		return err
	}
	n, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		isRef, err := l.readFlag()
		if err != nil {
			return err
		}
		name, err := l.readCString()
		if err != nil {
			return err
		}
		t, err := l.readTypeTag()
		if err != nil {
			return err
		}
		if !l.prepass {
			scope.AddVariable(name, t, isRef)
		}
	}
	return nil
}

func (l *Loader) readGhosts(scope *ir.ScopeDescription) error {
	if err := l.expectInstruction(InsGhosts); err != nil {
		return err
	}
	g, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < g; i++ {
		if err := l.expectInstruction(InsGhostRecord); err != nil {
			return err
		}
		m, err := l.readNumber()
		if err != nil {
			return err
		}
		if !l.prepass {
			scope.PushNewGhostSet()
		}
		for j := int32(0); j < m; j++ {
			name, err := l.readCString()
			if err != nil {
				return err
			}
			ownerID, err := l.readNumber()
			if err != nil {
				return err
			}
			if !l.prepass {
				owner := l.scopesByID[ownerID]
				if owner == nil {
					return fmt.Errorf("%w: ghost owner scope ID %d does not resolve", diagnostics.ErrInvalidBytecode, ownerID)
				}
				set := scope.Ghosts[len(scope.Ghosts)-1]
				set[name] = owner
			}
		}
	}
	return nil
}

func (l *Loader) readFunctions(scope *ir.ScopeDescription) error {
	if err := l.expectInstruction(InsFunctions); err != nil {
		return err
	}
	f, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < f; i++ {
		name, err := l.readCString()
		if err != nil {
			return err
		}
		id, err := l.readNumber()
		if err != nil {
			return err
		}
		if _, err := l.readNumber(); err != nil { // pad
			return err
		}

		ins, err := l.peekInstruction()
		if err != nil {
			return err
		}
		if ins == InsCallDLL {
			stub, err := l.readNativeStub(id)
			if err != nil {
				return err
			}
			if !l.prepass {
				scope.AddFunction(name, stub)
			}
			continue
		}

		fn, err := l.readUserFunction(id)
		if err != nil {
			return err
		}
		if !l.prepass {
			scope.AddFunction(name, fn)
		}
	}
	return nil
}

func (l *Loader) readNativeStub(id ir.IDType) (*ir.NativeCallStub, error) {
	if err := l.expectInstruction(InsCallDLL); err != nil {
		return nil, err
	}
	lib, err := l.readCString()
	if err != nil {
		return nil, err
	}
	entry, err := l.readCString()
	if err != nil {
		return nil, err
	}
	ret, err := l.readTypeTag()
	if err != nil {
		return nil, err
	}
	retHint, err := l.readNumber()
	if err != nil {
		return nil, err
	}
	params, err := l.readScope()
	if err != nil {
		return nil, err
	}
	l.adopt(params)

	if l.prepass {
		stub := &ir.NativeCallStub{}
		l.functionsByID[id] = stub
		return stub, nil
	}
	stub, ok := l.functionsByID[id].(*ir.NativeCallStub)
	if !ok {
		return nil, fmt.Errorf("%w: function ID %d changed shape between passes", diagnostics.ErrInvalidBytecode, id)
	}
	stub.DLLName = lib
	stub.FunctionName = entry
	stub.ReturnType = ret
	stub.ReturnHint = retHint
	stub.Params = params
	return stub, nil
}

func (l *Loader) readUserFunction(id ir.IDType) (*ir.Function, error) {
	params, err := l.readScope()
	if err != nil {
		return nil, err
	}
	returns, err := l.readScope()
	if err != nil {
		return nil, err
	}
	body, err := l.readBlock(params)
	if err != nil {
		return nil, err
	}
	l.adopt(params)
	l.adopt(returns)

	if l.prepass {
		fn := ir.NewFunction(nil, nil, nil)
		l.functionsByID[id] = fn
		return fn, nil
	}
	fn, ok := l.functionsByID[id].(*ir.Function)
	if !ok {
		return nil, fmt.Errorf("%w: function ID %d changed shape between passes", diagnostics.ErrInvalidBytecode, id)
	}
	fn.Params = params
	fn.Returns = returns
	fn.SetBody(body)
	return fn, nil
}

func (l *Loader) readSignatureList(scope *ir.ScopeDescription) error {
	if err := l.expectInstruction(InsFunctionSignatureList); err != nil {
		return err
	}
	s, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < s; i++ {
		name, err := l.readCString()
		if err != nil {
			return err
		}
		if err := l.expectInstruction(InsFunctionSignatureBegin); err != nil {
			return err
		}
		sig, err := l.readSignature()
		if err != nil {
			return err
		}
		if !l.prepass {
			scope.AddFunctionSignature(name, sig)
		}
	}
	return nil
}

func (l *Loader) readSignature() (*ir.FunctionSignature, error) {
	sig := ir.NewFunctionSignature()

	readTags := func() ([]ir.VariableTypeID, error) {
		n, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		tags := make([]ir.VariableTypeID, n)
		for i := range tags {
			if tags[i], err = l.readTypeTag(); err != nil {
				return nil, err
			}
		}
		return tags, nil
	}
	readNumbers := func() ([]int32, error) {
		n, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		nums := make([]int32, n)
		for i := range nums {
			if nums[i], err = l.readNumber(); err != nil {
				return nil, err
			}
		}
		return nums, nil
	}

	var err error
	if sig.Params, err = readTags(); err != nil {
		return nil, err
	}
	if sig.Returns, err = readTags(); err != nil {
		return nil, err
	}
	if sig.ParamTypeHints, err = readNumbers(); err != nil {
		return nil, err
	}
	if sig.ParamFlags, err = readNumbers(); err != nil {
		return nil, err
	}

	nSub, err := l.readNumber()
	if err != nil {
		return nil, err
	}
	sig.NestedSignatures = make([]*ir.FunctionSignature, nSub)
	for i := int32(0); i < nSub; i++ {
		ins, err := l.peekInstruction()
		if err != nil {
			return nil, err
		}
		if ins == InsFunctionSignatureEnd {
			l.offset++
			continue
		}
		if err := l.expectInstruction(InsFunctionSignatureBegin); err != nil {
			return nil, err
		}
		if sig.NestedSignatures[i], err = l.readSignature(); err != nil {
			return nil, err
		}
	}

	if sig.ReturnTypeHints, err = readNumbers(); err != nil {
		return nil, err
	}
	return sig, l.expectInstruction(InsFunctionSignatureEnd)
}

func (l *Loader) readCompositeSections(scope *ir.ScopeDescription) error {
	if err := l.expectInstruction(InsTupleTypes); err != nil {
		return err
	}
	n, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		id, err := l.readNumber()
		if err != nil {
			return err
		}
		t := ir.NewTupleType()
		if err := l.readCompositeMembers(&t.CompositeType); err != nil {
			return err
		}
		if !l.prepass {
			scope.TupleTracker.Types[id] = t
			l.program.Registry.RegisterTupleType(id, t, scope)
			l.offsetFixups = append(l.offsetFixups, offsetFixup{&t.CompositeType, scope})
		}
	}
	if err := l.expectInstruction(InsTupleTypeHints); err != nil {
		return err
	}
	if err := l.readHintMap(scope.TupleTypeHints); err != nil {
		return err
	}
	if err := l.expectInstruction(InsTupleTypeMap); err != nil {
		return err
	}
	if err := l.readHintMap(scope.TupleTypes); err != nil {
		return err
	}

	if err := l.expectInstruction(InsStructureTypes); err != nil {
		return err
	}
	if n, err = l.readNumber(); err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		id, err := l.readNumber()
		if err != nil {
			return err
		}
		s := ir.NewStructureType()
		if err := l.readCompositeMembers(&s.CompositeType); err != nil {
			return err
		}
		if !l.prepass {
			if len(s.MemberOrder) == 0 {
				return fmt.Errorf("%w: structure type %d declares no members", diagnostics.ErrInvalidBytecode, id)
			}
			scope.StructureTracker.Types[id] = s
			l.program.Registry.RegisterStructureType(id, s, scope)
			l.offsetFixups = append(l.offsetFixups, offsetFixup{&s.CompositeType, scope})
		}
	}
	if err := l.expectInstruction(InsStructureTypeHints); err != nil {
		return err
	}
	if err := l.readHintMap(scope.StructureTypeHints); err != nil {
		return err
	}
	if err := l.expectInstruction(InsStructureTypeMap); err != nil {
		return err
	}
	return l.readHintMap(scope.StructureTypes)
}

func (l *Loader) readCompositeMembers(c *ir.CompositeType) error {
	if err := l.expectInstruction(InsMembers); err != nil {
		return err
	}
	m, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < m; i++ {
		name, err := l.readCString()
		if err != nil {
			return err
		}
		t, err := l.readTypeTag()
		if err != nil {
			return err
		}
		info := ir.MemberInfo{Type: t}
		// Composite members carry their hint unconditionally after the tag.
		if t == ir.TypeTuple || t == ir.TypeStructure {
			if info.TypeHint, err = l.readNumber(); err != nil {
				return err
			}
		}
		if t == ir.TypeFunction {
			if info.SignatureName, err = l.readCString(); err != nil {
				return err
			}
		}
		if !l.prepass {
			c.MemberOrder = append(c.MemberOrder, name)
			c.Members[name] = info
		}
	}
	return nil
}

func (l *Loader) readHintMap(into map[string]ir.IDType) error {
	n, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		name, err := l.readCString()
		if err != nil {
			return err
		}
		id, err := l.readNumber()
		if err != nil {
			return err
		}
		if !l.prepass {
			into[name] = id
		}
	}
	return nil
}

func (l *Loader) readConstants(scope *ir.ScopeDescription) error {
	if err := l.expectInstruction(InsConstants); err != nil {
		return err
	}
	n, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		name, err := l.readCString()
		if err != nil {
			return err
		}
		if !l.prepass {
			scope.AddConstant(name)
		}
	}
	return nil
}

func (l *Loader) readResponseMaps(scope *ir.ScopeDescription) error {
	if err := l.expectInstruction(InsResponseMaps); err != nil {
		return err
	}
	n, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		name, err := l.readCString()
		if err != nil {
			return err
		}
		entryCount, err := l.readNumber()
		if err != nil {
			return err
		}
		m := ir.NewResponseMap()
		for j := int32(0); j < entryCount; j++ {
			message, err := l.readCString()
			if err != nil {
				return err
			}
			payloadCount, err := l.readNumber()
			if err != nil {
				return err
			}
			types := make([]ir.VariableTypeID, payloadCount)
			for k := range types {
				if types[k], err = l.readTypeTag(); err != nil {
					return err
				}
			}
			handler, err := l.readBlock(scope)
			if err != nil {
				return err
			}
			aux, err := l.readScope()
			if err != nil {
				return err
			}
			l.adopt(aux)
			m.AddEntry(&ir.ResponseMapEntry{
				MessageName:  message,
				PayloadTypes: types,
				Handler:      handler,
				AuxScope:     aux,
			})
		}
		if !l.prepass {
			scope.AddResponseMap(name, m)
		}
	}
	return nil
}

func (l *Loader) readFutures(scope *ir.ScopeDescription) error {
	if err := l.expectInstruction(InsFutures); err != nil {
		return err
	}
	n, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		name, err := l.readCString()
		if err != nil {
			return err
		}
		producer, err := l.readOperation(nil)
		if err != nil {
			return err
		}
		if !l.prepass {
			scope.AddFuture(name, producer)
		}
	}
	return nil
}

func (l *Loader) readListSections(scope *ir.ScopeDescription) error {
	if err := l.expectInstruction(InsListTypes); err != nil {
		return err
	}
	n, err := l.readNumber()
	if err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		name, err := l.readCString()
		if err != nil {
			return err
		}
		t, err := l.readTypeTag()
		if err != nil {
			return err
		}
		if !l.prepass {
			scope.ListTypes[name] = t
		}
	}
	if err := l.expectInstruction(InsListSizes); err != nil {
		return err
	}
	if n, err = l.readNumber(); err != nil {
		return err
	}
	for i := int32(0); i < n; i++ {
		name, err := l.readCString()
		if err != nil {
			return err
		}
		size, err := l.readNumber()
		if err != nil {
			return err
		}
		if !l.prepass {
			scope.ListSizes[name] = size
		}
	}
	return nil
}

// --- blocks and operations ---

func (l *Loader) readBlock(enclosing *ir.ScopeDescription) (*ir.Block, error) {
	if err := l.expectInstruction(InsBeginBlock); err != nil {
		return nil, err
	}
	block := ir.NewBlock()

	ins, err := l.peekInstruction()
	if err != nil {
		return nil, err
	}
	switch ins {
	case InsNull:
		l.offset++
	case InsCurrentScope:
		l.offset++
		block.BindToScope(enclosing)
		block.DoNotDeleteScope()
	case InsScope:
		scope, err := l.readScope()
		if err != nil {
			return nil, err
		}
		l.adopt(scope)
		block.BindToScope(scope)
	default:
		return nil, fmt.Errorf("%w: unexpected opcode 0x%02x opening a block's scope at offset %d", diagnostics.ErrInvalidBytecode, byte(ins), l.offset)
	}

	var ops []ir.Operation
	for {
		ins, err := l.peekInstruction()
		if err != nil {
			return nil, err
		}
		if ins == InsEndBlock {
			l.offset++
			break
		}
		op, err := l.readOperation(ops)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		block.Append(op)
	}
	return block, nil
}

// readOperation decodes one operation; siblings are the operations already
// decoded in the current block, used to resolve prior-operation offsets.
func (l *Loader) readOperation(siblings []ir.Operation) (ir.Operation, error) {
	at := l.offset
	opByte, err := l.readByte()
	if err != nil {
		return nil, err
	}
	opcode := Instruction(opByte)

	switch opcode {
	case InsPushInteger:
		v, err := l.readNumber()
		return &ir.PushInteger{Value: v}, err
	case InsPushInteger16:
		v, err := l.readNumber()
		return &ir.PushInteger16{Value: int16(v)}, err
	case InsPushReal:
		v, err := l.readFloat()
		return &ir.PushReal{Value: v}, err
	case InsPushBoolean:
		v, err := l.readFlag()
		return &ir.PushBoolean{Value: v}, err
	case InsPushString:
		v, err := l.readLPString()
		return &ir.PushString{Value: v}, err

	case InsPushOperation:
		consArray, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		consFromFunction, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		inner, err := l.readOperation(siblings)
		if err != nil {
			return nil, err
		}
		return &ir.PushOperation{Op: inner, IsConsArray: consArray, IsConsFromFunction: consFromFunction}, nil

	case InsNoOp:
		return &ir.NoOp{}, nil
	case InsExitIfChain:
		return &ir.ExitIfChain{}, nil
	case InsWhileCondition:
		return &ir.WhileLoopConditional{}, nil
	case InsBreak:
		return &ir.Break{}, nil
	case InsReturn:
		return &ir.Return{}, nil
	case InsCreateThreadPool:
		return &ir.CreateThreadPool{}, nil
	case InsGetMessageSender:
		return &ir.GetMessageSender{}, nil
	case InsGetTaskCaller:
		return &ir.GetTaskCaller{}, nil
	case InsDebugWriteString:
		return &ir.DebugWriteStringExpression{}, nil
	case InsDebugReadString:
		return &ir.DebugReadStaticString{}, nil

	case InsGetValue:
		name, err := l.readCString()
		return &ir.GetVariableValue{Name: name}, err
	case InsAssignValue:
		name, err := l.readCString()
		return &ir.AssignValue{Name: name}, err
	case InsInitializeValue:
		name, err := l.readCString()
		return &ir.InitializeValue{Name: name}, err
	case InsBindReference:
		name, err := l.readCString()
		return &ir.BindReference{Name: name}, err
	case InsBindFunctionReference:
		name, err := l.readCString()
		return &ir.BindFunctionReference{Name: name}, err
	case InsSizeOf:
		name, err := l.readCString()
		return &ir.SizeOf{Name: name}, err
	case InsReadArray:
		name, err := l.readCString()
		return ir.NewReadArray(name), err
	case InsWriteArray:
		name, err := l.readCString()
		return ir.NewWriteArray(name), err
	case InsArrayLength:
		name, err := l.readCString()
		return ir.NewArrayLength(name), err
	case InsLength:
		name, err := l.readCString()
		return ir.NewLength(name), err
	case InsInvokeIndirect:
		name, err := l.readCString()
		return ir.NewInvokeIndirect(name), err
	case InsAcceptMessageFromMap:
		name, err := l.readCString()
		return ir.NewAcceptMessageFromResponseMap(name), err

	case InsInvoke:
		name, err := l.readCString()
		if err != nil {
			return nil, err
		}
		indirect, err := l.readFlag()
		return ir.NewInvoke(name, indirect), err

	case InsReadTuple, InsAssignTuple, InsReadStructure, InsAssignStructure:
		name, err := l.readCString()
		if err != nil {
			return nil, err
		}
		member, err := l.readCString()
		if err != nil {
			return nil, err
		}
		switch opcode {
		case InsReadTuple:
			return &ir.ReadTuple{VarName: name, Member: member}, nil
		case InsAssignTuple:
			return &ir.AssignTuple{VarName: name, Member: member}, nil
		case InsReadStructure:
			return &ir.ReadStructure{VarName: name, Member: member}, nil
		default:
			return &ir.AssignStructure{VarName: name, Member: member}, nil
		}

	case InsReadStructureIndirect:
		member, err := l.readCString()
		if err != nil {
			return nil, err
		}
		offset, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		idx := len(siblings) - int(offset)
		if idx < 0 || idx >= len(siblings) {
			return nil, fmt.Errorf("%w: indirect read offset %d escapes the block at offset %d", diagnostics.ErrInvalidBytecode, offset, at)
		}
		return &ir.ReadStructureIndirect{Member: member, Prior: siblings[idx]}, nil

	case InsAssignStructureIndirect:
		member, err := l.readCString()
		return &ir.AssignStructureIndirect{Member: member}, err

	case InsBindStructMemberRef:
		chained, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		name, err := l.readCString()
		if err != nil {
			return nil, err
		}
		member, err := l.readCString()
		if err != nil {
			return nil, err
		}
		return &ir.BindStructMemberReference{VarName: name, Member: member, Chained: chained}, nil

	case InsSum, InsSubtract, InsMultiply, InsDivide:
		t, err := l.readTypeTag()
		if err != nil {
			return nil, err
		}
		firstIsArray, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		secondIsArray, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		numParams, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		switch opcode {
		case InsSum:
			return ir.NewSumOperation(t, firstIsArray, secondIsArray, numParams), nil
		case InsSubtract:
			return ir.NewSubtractOperation(t, firstIsArray, secondIsArray, numParams), nil
		case InsMultiply:
			return ir.NewMultiplyOperation(t, firstIsArray, secondIsArray, numParams), nil
		default:
			return ir.NewDivideOperation(t, firstIsArray, secondIsArray, numParams), nil
		}

	case InsIsEqual, InsIsNotEqual, InsIsGreater, InsIsGreaterEqual, InsIsLesser, InsIsLesserEqual:
		t, err := l.readTypeTag()
		if err != nil {
			return nil, err
		}
		kinds := map[Instruction]ir.ComparisonKind{
			InsIsEqual:        ir.CompareEqual,
			InsIsNotEqual:     ir.CompareNotEqual,
			InsIsGreater:      ir.CompareGreater,
			InsIsGreaterEqual: ir.CompareGreaterEqual,
			InsIsLesser:       ir.CompareLess,
			InsIsLesserEqual:  ir.CompareLessEqual,
		}
		return ir.NewComparison(kinds[opcode], t), nil

	case InsLogicalAnd, InsLogicalOr, InsBitwiseAnd, InsBitwiseOr:
		t, err := l.readTypeTag()
		if err != nil {
			return nil, err
		}
		subCount, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		var compound *ir.Compound
		switch opcode {
		case InsLogicalAnd:
			compound = ir.NewLogicalAnd()
		case InsLogicalOr:
			compound = ir.NewLogicalOr()
		case InsBitwiseAnd:
			compound = ir.NewBitwiseAnd(t)
		default:
			compound = ir.NewBitwiseOr(t)
		}
		// Sub-operations decode into a scratch list and move into the
		// compound, preserving short-circuit order.
		var scratch []ir.Operation
		for i := int32(0); i < subCount; i++ {
			sub, err := l.readOperation(scratch)
			if err != nil {
				return nil, err
			}
			scratch = append(scratch, sub)
		}
		compound.CopyInstructionsToOp(scratch)
		return compound, nil

	case InsIf:
		hasFalse, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		hasWrapper, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		trueBlock, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		op := ir.NewIf(trueBlock)
		if hasFalse {
			falseBlock, err := l.readBlock(nil)
			if err != nil {
				return nil, err
			}
			op.SetFalseBlock(falseBlock)
		}
		if hasWrapper {
			wrapper, err := l.readOperation(nil)
			if err != nil {
				return nil, err
			}
			w, ok := wrapper.(*ir.ElseIfWrapper)
			if !ok {
				return nil, fmt.Errorf("%w: if alternatives must be an elseif wrapper at offset %d", diagnostics.ErrInvalidBytecode, at)
			}
			op.ElseIfs = w
		}
		return op, nil

	case InsElseIf:
		body, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		return ir.NewElseIf(body), nil
	case InsElseIfWrapper:
		chain, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		return &ir.ElseIfWrapper{Chain: chain}, nil
	case InsWhile:
		body, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		return ir.NewWhileLoop(body), nil
	case InsDoWhile:
		body, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		return ir.NewDoWhileLoop(body), nil
	case InsExecuteBlock:
		body, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		return ir.NewExecuteBlock(body), nil
	case InsForkTask:
		body, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		return ir.NewForkTask(body), nil
	case InsForkThread:
		body, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		return ir.NewForkThread(body), nil

	case InsForkFuture:
		name, err := l.readCString()
		if err != nil {
			return nil, err
		}
		t, err := l.readTypeTag()
		if err != nil {
			return nil, err
		}
		pool, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		return ir.NewForkFuture(name, t, pool), nil

	case InsAcceptMessage:
		name, err := l.readCString()
		if err != nil {
			return nil, err
		}
		payloadCount, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		types := make([]ir.VariableTypeID, payloadCount)
		for i := range types {
			if types[i], err = l.readTypeTag(); err != nil {
				return nil, err
			}
		}
		handler, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		aux, err := l.readScope()
		if err != nil {
			return nil, err
		}
		l.adopt(aux)
		return ir.NewAcceptMessage(name, types, handler, aux), nil

	case InsSendTaskMessage:
		byName, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		name, err := l.readCString()
		if err != nil {
			return nil, err
		}
		payloadCount, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		types := make([]ir.VariableTypeID, payloadCount)
		for i := range types {
			if types[i], err = l.readTypeTag(); err != nil {
				return nil, err
			}
		}
		return ir.NewSendTaskMessage(byName, name, types), nil

	case InsParallelFor:
		counter, err := l.readCString()
		if err != nil {
			return nil, err
		}
		useThreads, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		handle, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		body, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		return ir.NewParallelFor(body, counter, useThreads, handle), nil

	case InsConsArray:
		t, err := l.readTypeTag()
		if err != nil {
			return nil, err
		}
		n, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		return ir.NewConsArray(t, n), nil

	case InsConsArrayIndirect:
		t, err := l.readTypeTag()
		if err != nil {
			return nil, err
		}
		producer, err := l.readOperation(siblings)
		if err != nil {
			return nil, err
		}
		return ir.NewConsArrayIndirect(t, producer), nil

	case InsMap:
		inner, err := l.readOperation(siblings)
		if err != nil {
			return nil, err
		}
		return ir.NewMapOperation(inner), nil
	case InsReduce:
		inner, err := l.readOperation(siblings)
		if err != nil {
			return nil, err
		}
		return ir.NewReduceOperation(inner), nil

	case InsConcat:
		firstIsArray, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		secondIsArray, err := l.readFlag()
		if err != nil {
			return nil, err
		}
		numParams, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		return ir.NewConcatenate(firstIsArray, secondIsArray, numParams), nil

	case InsTypeCast, InsTypeCastToString, InsTypeCastBooleanToString, InsTypeCastBufferToString:
		from, err := l.readTypeTag()
		if err != nil {
			return nil, err
		}
		to, err := l.readTypeTag()
		if err != nil {
			return nil, err
		}
		inner, err := l.readOperation(siblings)
		if err != nil {
			return nil, err
		}
		return ir.NewTypeCast(from, to, inner), nil

	case InsHandoff:
		lib, err := l.readCString()
		if err != nil {
			return nil, err
		}
		handle, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		body, err := l.readBlock(nil)
		if err != nil {
			return nil, err
		}
		return ir.NewHandoffOperation(lib, body, handle), nil

	case InsHandoffControl:
		lib, err := l.readCString()
		if err != nil {
			return nil, err
		}
		counter, err := l.readCString()
		if err != nil {
			return nil, err
		}
		handle, err := l.readNumber()
		if err != nil {
			return nil, err
		}
		scope, err := l.readScope()
		if err != nil {
			return nil, err
		}
		l.adopt(scope)
		body, err := l.readBlock(scope)
		if err != nil {
			return nil, err
		}
		return ir.NewHandoffControlOperation(lib, body, counter, scope, handle), nil
	}

	return nil, fmt.Errorf("%w: unknown opcode 0x%02x at offset %d", diagnostics.ErrInvalidBytecode, opByte, at)
}
