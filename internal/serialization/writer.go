// Package serialization renders a program as textual assembly: one token
// per significant event, tab-indented by block depth. The output is
// isomorphic to the IR; the assembler that reads it back is a separate
// program.
package serialization

import (
	"fmt"
	"io"
	"strconv"

	"github.com/apoch/fugue/internal/ir"
)

// Serializer writes the textual form of a program.
type Serializer struct {
	out     io.Writer
	program *ir.Program
	depth   int

	scopeIDs  map[*ir.ScopeDescription]ir.IDType
	nextScope ir.IDType
	err       error
}

// Write renders the program onto out.
func Write(out io.Writer, program *ir.Program) error {
	s := &Serializer{
		out:       out,
		program:   program,
		scopeIDs:  make(map[*ir.ScopeDescription]ir.IDType),
		nextScope: 1,
	}
	s.writeScope(program.GlobalScope)
	s.line("GlobalBlock")
	s.writeBlock(program.GlobalInit, program.GlobalScope)
	return s.err
}

// line emits one tab-indented record.
func (s *Serializer) line(fields ...string) {
	if s.err != nil {
		return
	}
	for i := 0; i < s.depth; i++ {
		if _, err := io.WriteString(s.out, "\t"); err != nil {
			s.err = err
			return
		}
	}
	for i, f := range fields {
		if i > 0 {
			if _, err := io.WriteString(s.out, " "); err != nil {
				s.err = err
				return
			}
		}
		if _, err := io.WriteString(s.out, f); err != nil {
			s.err = err
			return
		}
	}
	if _, err := io.WriteString(s.out, "\n"); err != nil {
		s.err = err
	}
}

func num(v int32) string {
	return strconv.FormatInt(int64(v), 10)
}

func boolToken(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func (s *Serializer) scopeID(scope *ir.ScopeDescription) ir.IDType {
	if scope == nil {
		return 0
	}
	if id, ok := s.scopeIDs[scope]; ok {
		return id
	}
	id := s.nextScope
	s.nextScope++
	s.scopeIDs[scope] = id
	return id
}

func (s *Serializer) writeScope(scope *ir.ScopeDescription) {
	s.line("Scope", num(s.scopeID(scope)))
	s.depth++
	s.line("ParentScope", num(s.scopeID(scope.ParentScope)))

	s.line("Variables", num(int32(len(scope.MemberOrder))))
	s.depth++
	for _, name := range scope.MemberOrder {
		v := scope.Variables[name]
		s.line(boolToken(v.IsReference), name, v.Type.String())
	}
	s.depth--

	s.line("Ghosts", num(int32(len(scope.Ghosts))))
	s.depth++
	for _, set := range scope.Ghosts {
		names := sortedKeys(set)
		s.line("GhostRecord", num(int32(len(names))))
		s.depth++
		for _, name := range names {
			s.line(name, num(s.scopeID(set[name])))
		}
		s.depth--
	}
	s.depth--

	s.line("Functions", num(int32(len(scope.FunctionOrder))))
	s.depth++
	for _, name := range scope.FunctionOrder {
		s.line(name)
		s.writeFunction(scope.Functions[name])
	}
	s.depth--

	s.line("FunctionSignatureList", num(int32(len(scope.SignatureOrder))))
	s.depth++
	for _, name := range scope.SignatureOrder {
		s.line(name)
		s.writeSignature(scope.FunctionSignatures[name])
	}
	s.depth--

	s.writeCompositeSections(scope)

	constants := sortedKeys(scope.Constants)
	s.line("Constants", num(int32(len(constants))))
	s.depth++
	for _, name := range constants {
		s.line(name)
	}
	s.depth--

	s.line("ResponseMaps", num(int32(len(scope.ResponseMapOrder))))
	s.depth++
	for _, name := range scope.ResponseMapOrder {
		m := scope.ResponseMaps[name]
		s.line(name, num(int32(len(m.Entries))))
		s.depth++
		for _, e := range m.Entries {
			tags := make([]string, 0, len(e.PayloadTypes)+2)
			tags = append(tags, e.MessageName, num(int32(len(e.PayloadTypes))))
			for _, t := range e.PayloadTypes {
				tags = append(tags, t.String())
			}
			s.line(tags...)
			s.writeBlock(e.Handler, scope)
			s.writeScope(e.AuxScope)
		}
		s.depth--
	}
	s.depth--

	s.line("Futures", num(int32(len(scope.FutureOrder))))
	s.depth++
	for _, name := range scope.FutureOrder {
		s.line(name)
		s.writeOperation(scope.Futures[name], scope, nil, 0)
	}
	s.depth--

	listNames := sortedKeys(scope.ListTypes)
	s.line("ListTypes", num(int32(len(listNames))))
	s.depth++
	for _, name := range listNames {
		s.line(name, scope.ListTypes[name].String())
	}
	s.depth--

	sizeNames := sortedKeys(scope.ListSizes)
	s.line("ListSizes", num(int32(len(sizeNames))))
	s.depth++
	for _, name := range sizeNames {
		s.line(name, num(scope.ListSizes[name]))
	}
	s.depth--

	s.depth--
}

func (s *Serializer) writeCompositeSections(scope *ir.ScopeDescription) {
	tupleIDs := sortedIDs(scope.TupleTracker.Types)
	s.line("TupleTypes", num(int32(len(tupleIDs))))
	s.depth++
	for _, id := range tupleIDs {
		s.line(num(id))
		s.writeMembers(&scope.TupleTracker.Types[id].CompositeType)
	}
	s.depth--
	s.line("TupleTypeHints", num(int32(len(scope.TupleTypeHints))))
	s.writeHintMap(scope.TupleTypeHints)
	s.line("TupleTypeMap", num(int32(len(scope.TupleTypes))))
	s.writeHintMap(scope.TupleTypes)

	structureIDs := sortedIDs(scope.StructureTracker.Types)
	s.line("StructureTypes", num(int32(len(structureIDs))))
	s.depth++
	for _, id := range structureIDs {
		s.line(num(id))
		s.writeMembers(&scope.StructureTracker.Types[id].CompositeType)
	}
	s.depth--
	s.line("StructureTypeHints", num(int32(len(scope.StructureTypeHints))))
	s.writeHintMap(scope.StructureTypeHints)
	s.line("StructureTypeMap", num(int32(len(scope.StructureTypes))))
	s.writeHintMap(scope.StructureTypes)
}

func (s *Serializer) writeMembers(c *ir.CompositeType) {
	s.depth++
	s.line("Members", num(int32(len(c.MemberOrder))))
	s.depth++
	for _, name := range c.MemberOrder {
		info := c.Members[name]
		fields := []string{name, info.Type.String()}
		if info.Type == ir.TypeTuple || info.Type == ir.TypeStructure {
			fields = append(fields, num(info.TypeHint))
		}
		if info.Type == ir.TypeFunction {
			fields = append(fields, info.SignatureName)
		}
		fields = append(fields, num(info.Offset))
		s.line(fields...)
	}
	s.depth--
	s.depth--
}

func (s *Serializer) writeHintMap(m map[string]ir.IDType) {
	s.depth++
	for _, name := range sortedKeys(m) {
		s.line(name, num(m[name]))
	}
	s.depth--
}

func (s *Serializer) writeFunction(fn ir.FunctionBase) {
	s.depth++
	switch f := fn.(type) {
	case *ir.NativeCallStub:
		s.line("CallDLL", f.DLLName, f.FunctionName, f.ReturnType.String(), num(f.ReturnHint))
		s.writeScope(f.Params)
	case *ir.Function:
		s.writeScope(f.Params)
		s.writeScope(f.Returns)
		s.writeBlock(f.Body, f.Params)
	}
	s.depth--
}

func (s *Serializer) writeSignature(sig *ir.FunctionSignature) {
	s.depth++
	s.line("FunctionSignatureBegin")
	s.depth++
	fields := []string{num(int32(len(sig.Params)))}
	for _, t := range sig.Params {
		fields = append(fields, t.String())
	}
	s.line(fields...)
	fields = []string{num(int32(len(sig.Returns)))}
	for _, t := range sig.Returns {
		fields = append(fields, t.String())
	}
	s.line(fields...)
	for _, nested := range sig.NestedSignatures {
		if nested == nil {
			s.line("Null")
			continue
		}
		s.writeSignature(nested)
	}
	s.depth--
	s.line("FunctionSignatureEnd")
	s.depth--
}

func (s *Serializer) writeBlock(b *ir.Block, enclosing *ir.ScopeDescription) {
	s.line("BeginBlock")
	s.depth++
	scope := enclosing
	switch {
	case b == nil:
		s.line("Null")
		s.depth--
		s.line("EndBlock")
		return
	case b.GetBoundScope() == nil:
		s.line("Null")
	case !b.OwnsScope():
		s.line("CurrentScope")
		scope = b.GetBoundScope()
	default:
		scope = b.GetBoundScope()
		s.writeScope(scope)
	}

	ops := b.Operations()
	for i, op := range ops {
		s.writeOperation(op, scope, ops, i)
	}
	s.depth--
	s.line("EndBlock")
}

// writeOperation emits the operation token and its inline payload on one
// line, then any owned blocks and nested structure beneath it.
func (s *Serializer) writeOperation(op ir.Operation, scope *ir.ScopeDescription, siblings []ir.Operation, index int) {
	payload := op.Payload(scope)

	fields := []string{payload.Token}
	if payload.Name != "" {
		fields = append(fields, payload.Name)
	}
	if payload.Member != "" {
		fields = append(fields, payload.Member)
	}
	if payload.Library != "" {
		fields = append(fields, payload.Library)
	}
	switch payload.Token {
	case ir.TokenPushInteger, ir.TokenPushInteger16, ir.TokenPushReal, ir.TokenPushString:
		fields = append(fields, payload.Value.Format())
	case ir.TokenPushBoolean:
		fields = append(fields, boolToken(payload.Value.AsBoolean()))
	}
	if payload.TypeTag != 0 {
		fields = append(fields, payload.TypeTag.String())
	}
	if payload.TypeTag2 != 0 {
		fields = append(fields, payload.TypeTag2.String())
	}
	for _, f := range payload.Flags {
		fields = append(fields, boolToken(f))
	}
	for _, n := range payload.Numbers {
		fields = append(fields, num(n))
	}
	for _, t := range payload.Types {
		fields = append(fields, t.String())
	}
	if payload.Handle != 0 {
		fields = append(fields, num(payload.Handle))
	}
	if payload.Prior != nil {
		fields = append(fields, fmt.Sprintf("@-%d", priorDistance(payload.Prior, siblings, index)))
	}
	s.line(fields...)

	if len(payload.Nested) > 0 || len(payload.Blocks) > 0 || len(payload.Scopes) > 0 {
		s.depth++
		for i, nested := range payload.Nested {
			s.writeOperation(nested, scope, payload.Nested, i)
		}
		for _, block := range payload.Blocks {
			s.writeBlock(block, scope)
		}
		for _, nested := range payload.Scopes {
			s.writeScope(nested)
		}
		s.depth--
	}
}

func priorDistance(prior ir.Operation, siblings []ir.Operation, index int) int {
	for i := index - 1; i >= 0; i-- {
		if siblings[i] == prior {
			return index - i
		}
		if push, ok := siblings[i].(*ir.PushOperation); ok && push.Op == prior {
			return index - i
		}
	}
	return 0
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
