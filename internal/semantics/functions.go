package semantics

import (
	"github.com/apoch/fugue/internal/diagnostics"
	"github.com/apoch/fugue/internal/ir"
)

type functionUnderConstruction struct {
	name    string
	params  *ir.ScopeDescription
	returns *ir.ScopeDescription
	initOps []ir.Operation
	sig     *ir.FunctionSignature
}

// BeginFunctionPreparse starts collecting a function's parameter and return
// lists. The preparse pass registers every function before any body parses,
// so forward calls resolve.
func (b *Builder) BeginFunctionPreparse(name string) {
	b.preparseFn = &functionUnderConstruction{
		name:    b.program.PoolString(name),
		params:  ir.NewScopeDescription(b.program.Registry),
		returns: ir.NewScopeDescription(b.program.Registry),
		sig:     ir.NewFunctionSignature(),
	}
}

// AddFunctionParam declares one parameter: a primitive (by value or by
// reference), a composite, or a function-typed slot named after a declared
// signature. Array parameters go through AddFunctionArrayParam.
func (b *Builder) AddFunctionParam(p DeclaredParam) {
	fn := b.preparseFn
	if fn == nil {
		panic(diagnostics.Failf("parameter outside a function definition"))
	}
	name := b.program.PoolString(p.Name)

	if t, ok := primitiveTypeNames[p.TypeName]; ok {
		fn.params.AddVariable(name, t, p.IsRef)
		flags := ir.ParamFlagNone
		if p.IsRef {
			flags = ir.ParamFlagIsReference
		}
		fn.sig.AddParamHinted(t, 0, flags, nil)
		return
	}
	if id := b.currentScope.GetStructureTypeID(p.TypeName); id != 0 {
		fn.params.AddStructureVariable(name, id)
		fn.sig.AddParamHinted(ir.TypeStructure, id, ir.ParamFlagNone, nil)
		return
	}
	if id := b.currentScope.GetTupleTypeID(p.TypeName); id != 0 {
		fn.params.AddTupleVariable(name, id)
		fn.sig.AddParamHinted(ir.TypeTuple, id, ir.ParamFlagNone, nil)
		return
	}
	if sig := b.currentScope.GetFunctionSignature(p.TypeName); sig != nil {
		fn.params.AddFunctionVariable(name, sig)
		fn.sig.AddParamHinted(ir.TypeFunction, 0, ir.ParamFlagNone, sig)
		return
	}
	b.reportFatalNoEmit("E154", "unknown parameter type %q", p.TypeName)
}

// AddFunctionArrayParam declares an array parameter with its element type.
func (b *Builder) AddFunctionArrayParam(name, elementTypeName string) {
	fn := b.preparseFn
	if fn == nil {
		panic(diagnostics.Failf("parameter outside a function definition"))
	}
	elem, ok := primitiveTypeNames[elementTypeName]
	if !ok {
		b.reportFatalNoEmit("E154", "unknown array element type %q", elementTypeName)
		return
	}
	fn.params.AddArrayVariable(b.program.PoolString(name), elem, -1)
	fn.sig.AddParamHinted(ir.TypeArray, 0, ir.ParamFlagNone, nil)
}

// AddFunctionReturn declares one return slot with its initial value; the
// initialization replays at the head of every activation.
func (b *Builder) AddFunctionReturn(typeName, name string, initial ir.RValue) {
	fn := b.preparseFn
	if fn == nil {
		panic(diagnostics.Failf("return declaration outside a function definition"))
	}
	t, ok := primitiveTypeNames[typeName]
	if !ok {
		b.reportFatalNoEmit("E154", "unknown return type %q", typeName)
		return
	}
	if initial.Type != t {
		b.reportFatalNoEmit("E152", "return %q initialized with %s, not %s", name, initial.Type, t)
		return
	}
	pooled := b.program.PoolString(name)
	fn.returns.AddVariable(pooled, t, false)
	fn.sig.AddReturn(t, 0)
	fn.initOps = append(fn.initOps,
		&ir.InitializeValue{Name: pooled},
		literalPush(initial),
		&ir.AssignValue{Name: pooled},
	)
}

// CompleteFunctionPreparse registers the collected function with the
// enclosing scope. The return scope is registered as a tuple type under the
// function's name; an infix declaration requires exactly two parameters.
func (b *Builder) CompleteFunctionPreparse(isInfix bool) {
	fn := b.preparseFn
	b.preparseFn = nil
	if fn == nil {
		panic(diagnostics.Failf("function completion without a definition in progress"))
	}
	if _, exists := b.currentScope.Functions[fn.name]; exists {
		b.reportFatalNoEmit("E161", "function %q is already declared", fn.name)
		return
	}
	if isInfix && len(fn.params.MemberOrder) != 2 {
		b.reportFatalNoEmit("E124", "infix function %q must take exactly two parameters", fn.name)
		isInfix = false
	}

	if len(fn.returns.MemberOrder) > 0 {
		returnTuple := ir.NewTupleType()
		for _, ret := range fn.returns.MemberOrder {
			returnTuple.AddMember(ret, fn.returns.GetVariableTypeLocal(ret))
		}
		returnTuple.ComputeOffsets(b.currentScope)
		b.currentScope.AddTupleType(fn.name, returnTuple)
	}

	user := ir.NewFunction(fn.params, fn.returns, nil)
	if isInfix {
		user.InfixName = fn.name
	}
	b.currentScope.AddFunction(fn.name, user)
	b.currentScope.AddFunctionSignature(fn.name, fn.sig)
	b.returnInitOps[fn.name] = fn.initOps
}

// AddNativeFunction registers a native-call stub collected during preparse.
func (b *Builder) AddNativeFunction(name, dllName, entryPoint string, returnType ir.VariableTypeID, returnHint ir.IDType, params *ir.ScopeDescription) {
	stub := &ir.NativeCallStub{
		DLLName:      dllName,
		FunctionName: entryPoint,
		ReturnType:   returnType,
		ReturnHint:   returnHint,
		Params:       params,
	}
	b.currentScope.AddFunction(b.program.PoolString(name), stub)
}

// BeginFunctionBody opens the body of a function registered during the
// preparse. The parameters and returns ghost into the body scope, and the
// queued return initializations replay with their trailing assignments
// converted to one-shot initializations.
func (b *Builder) BeginFunctionBody(name string) {
	fn, ok := b.currentScope.GetFunction(name).(*ir.Function)
	if !ok || fn == nil {
		panic(diagnostics.Failf("body for unregistered function %q", name))
	}

	body := ir.NewBlock()
	scope := b.currentScope.NewChildScope()
	scope.PushNewGhostSet()
	scope.GhostIntoScope(fn.Params)
	scope.GhostIntoScope(fn.Returns)
	body.BindToScope(scope)

	b.blocks = append(b.blocks, blockEntry{block: body, kind: BlockFunctionBody, scope: scope, fnName: name})
	b.currentScope = scope

	for _, op := range b.returnInitOps[name] {
		if assign, isAssign := op.(*ir.AssignValue); isAssign {
			b.emit(&ir.InitializeValue{Name: assign.Name})
			continue
		}
		b.emit(op)
	}
}

func (b *Builder) completeFunctionBody(entry blockEntry) {
	fn, ok := b.currentScope.GetFunction(entry.fnName).(*ir.Function)
	if !ok || fn == nil {
		panic(diagnostics.Failf("body completed for unregistered function %q", entry.fnName))
	}
	fn.SetBody(entry.block)
}

type structureUnderConstruction struct {
	name    string
	isTuple bool
	members []DeclaredParam
}

// BeginStructureDefinition starts collecting a composite type's members.
func (b *Builder) BeginStructureDefinition(name string, isTuple bool) {
	b.preparseStruct = &structureUnderConstruction{name: b.program.PoolString(name), isTuple: isTuple}
}

// AddStructureMember records one member; types resolve when the definition
// closes.
func (b *Builder) AddStructureMember(typeName, memberName string) {
	if b.preparseStruct == nil {
		panic(diagnostics.Failf("member outside a structure definition"))
	}
	b.preparseStruct.members = append(b.preparseStruct.members, DeclaredParam{
		TypeName: typeName,
		Name:     b.program.PoolString(memberName),
	})
}

// CompleteStructureDefinition resolves member types, computes offsets and
// registers the descriptor with the enclosing scope and the registry. A
// member whose type is not primitive resolves to a nested tuple, a nested
// structure, or (in structures only) a function signature; self-containment
// is rejected.
func (b *Builder) CompleteStructureDefinition() {
	def := b.preparseStruct
	b.preparseStruct = nil
	if def == nil {
		panic(diagnostics.Failf("structure completion without a definition in progress"))
	}

	if def.isTuple {
		t := ir.NewTupleType()
		for _, m := range def.members {
			if !b.resolveCompositeMember(&t.CompositeType, def.name, m, false) {
				return
			}
		}
		t.ComputeOffsets(b.currentScope)
		b.currentScope.AddTupleType(def.name, t)
		return
	}

	if len(def.members) == 0 {
		b.reportFatalNoEmit("E162", "structure %q must declare at least one member", def.name)
		return
	}
	s := ir.NewStructureType()
	for _, m := range def.members {
		if !b.resolveCompositeMember(&s.CompositeType, def.name, m, true) {
			return
		}
	}
	s.ComputeOffsets(b.currentScope)
	b.currentScope.AddStructureType(def.name, s)
}

func (b *Builder) resolveCompositeMember(c *ir.CompositeType, owner string, m DeclaredParam, allowFunctions bool) bool {
	if m.TypeName == owner {
		b.reportFatalNoEmit("E163", "type %q cannot contain itself", owner)
		return false
	}
	if t, ok := primitiveTypeNames[m.TypeName]; ok {
		c.AddMember(m.Name, t)
		return true
	}
	if id := b.currentScope.GetTupleTypeID(m.TypeName); id != 0 {
		c.AddCompositeMember(m.Name, ir.TypeTuple, id)
		return true
	}
	if id := b.currentScope.GetStructureTypeID(m.TypeName); id != 0 {
		c.AddCompositeMember(m.Name, ir.TypeStructure, id)
		return true
	}
	if allowFunctions {
		if sig := b.currentScope.GetFunctionSignature(m.TypeName); sig != nil {
			c.Members[m.Name] = ir.MemberInfo{Type: ir.TypeFunction, SignatureName: m.TypeName}
			c.MemberOrder = append(c.MemberOrder, m.Name)
			return true
		}
	}
	b.reportFatalNoEmit("E154", "unknown member type %q in %q", m.TypeName, owner)
	return false
}
