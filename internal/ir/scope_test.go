package ir

import "testing"

func TestVariableResolutionWalksParents(t *testing.T) {
	registry := NewTypeRegistry()
	root := NewScopeDescription(registry)
	root.AddVariable("g", TypeString, false)
	child := root.NewChildScope()
	child.AddVariable("l", TypeInteger, false)

	if got := child.GetVariableType("l"); got != TypeInteger {
		t.Errorf("local lookup = %s", got)
	}
	if got := child.GetVariableType("g"); got != TypeString {
		t.Errorf("parent lookup = %s", got)
	}
	if got := child.GetVariableType("missing"); got != TypeError {
		t.Errorf("unknown name must report the error type, got %s", got)
	}
	if root.HasVariable("l") {
		t.Error("resolution must stop at the null parent, not descend")
	}
}

func TestDuplicateVariableRejected(t *testing.T) {
	scope := testScope()
	scope.AddVariable("x", TypeInteger, false)
	defer func() {
		if recover() == nil {
			t.Fatal("duplicate declaration must panic")
		}
	}()
	scope.AddVariable("x", TypeReal, false)
}

func TestGhostingAliasesWithoutOwnershipTransfer(t *testing.T) {
	registry := NewTypeRegistry()
	params := NewScopeDescription(registry)
	params.AddVariable("arg", TypeInteger, false)

	body := NewScopeDescription(registry)
	body.PushNewGhostSet()
	body.GhostIntoScope(params)

	if got := body.GetVariableType("arg"); got != TypeInteger {
		t.Errorf("ghosted lookup = %s, want integer", got)
	}
	if body.OwnerOf("arg") != params {
		t.Error("the ghost must resolve to the owning scope")
	}
	if body.HasVariableLocal("arg") {
		t.Error("ghosting must not relocate the variable")
	}

	body.PopGhostSet()
	if body.HasVariable("arg") {
		t.Error("popping the ghost set must restore prior resolution")
	}
}

func TestNoScopeIsItsOwnAncestor(t *testing.T) {
	registry := NewTypeRegistry()
	a := NewScopeDescription(registry)
	b := a.NewChildScope()

	defer func() {
		if recover() == nil {
			t.Fatal("cyclic parent link must be rejected")
		}
	}()
	a.SetParent(b)
}

func TestConstantsResolveThroughAncestors(t *testing.T) {
	registry := NewTypeRegistry()
	root := NewScopeDescription(registry)
	root.AddVariable("limit", TypeInteger, false)
	root.AddConstant("limit")
	child := root.NewChildScope()

	if !child.IsConstant("limit") {
		t.Error("constants must be visible from child scopes")
	}
	if child.IsConstant("other") {
		t.Error("non-constants must not report constant")
	}
}

func TestResponseMapMatchHonorsOrderAndTypes(t *testing.T) {
	m := NewResponseMap()
	first := &ResponseMapEntry{MessageName: "ping", PayloadTypes: []VariableTypeID{TypeInteger}}
	second := &ResponseMapEntry{MessageName: "ping", PayloadTypes: []VariableTypeID{TypeInteger}}
	other := &ResponseMapEntry{MessageName: "ping", PayloadTypes: []VariableTypeID{TypeString}}
	m.AddEntry(first)
	m.AddEntry(second)
	m.AddEntry(other)

	if got := m.Match("ping", []VariableTypeID{TypeInteger}); got != first {
		t.Error("the first matching entry must win")
	}
	if got := m.Match("ping", []VariableTypeID{TypeString}); got != other {
		t.Error("payload types must discriminate entries")
	}
	if m.Match("pong", nil) != nil {
		t.Error("unknown message must not match")
	}
}
