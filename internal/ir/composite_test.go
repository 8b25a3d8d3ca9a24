package ir

import "testing"

func testScope() *ScopeDescription {
	return NewScopeDescription(NewTypeRegistry())
}

func TestComputeOffsetsSumsPrecedingSizes(t *testing.T) {
	scope := testScope()

	s := NewStructureType()
	s.AddMember("a", TypeInteger)
	s.AddMember("b", TypeReal)
	s.AddMember("c", TypeInteger16)
	s.AddMember("d", TypeBoolean)
	s.ComputeOffsets(scope)

	wantOffsets := map[string]int32{"a": 0, "b": 4, "c": 8, "d": 10}
	for name, want := range wantOffsets {
		if got := s.GetMemberOffset(name); got != want {
			t.Errorf("offset of %q = %d, want %d", name, got, want)
		}
	}
	if got := s.Size(scope); got != 11 {
		t.Errorf("size = %d, want 11", got)
	}
}

func TestComputeOffsetsIsIdempotent(t *testing.T) {
	scope := testScope()

	s := NewStructureType()
	s.AddMember("a", TypeInteger)
	s.AddMember("b", TypeReal)
	s.ComputeOffsets(scope)
	s.ComputeOffsets(scope)

	if got := s.GetMemberOffset("b"); got != 4 {
		t.Errorf("offset of b after repeated ComputeOffsets = %d, want 4", got)
	}
}

func TestNestedCompositeMemberSizesViaRegistry(t *testing.T) {
	scope := testScope()

	inner := NewStructureType()
	inner.AddMember("x", TypeInteger)
	inner.AddMember("y", TypeInteger)
	innerID := scope.AddStructureType("inner", inner)

	outer := NewStructureType()
	outer.AddMember("tag", TypeInteger16)
	outer.AddCompositeMember("payload", TypeStructure, innerID)
	outer.AddMember("trailer", TypeBoolean)
	outer.ComputeOffsets(scope)

	if got := outer.GetMemberOffset("payload"); got != 2 {
		t.Errorf("offset of payload = %d, want 2", got)
	}
	if got := outer.GetMemberOffset("trailer"); got != 10 {
		t.Errorf("offset of trailer = %d, want 10", got)
	}
}

func TestRegistryAssignsDenseUniqueIDs(t *testing.T) {
	registry := NewTypeRegistry()
	scope := NewScopeDescription(registry)

	first := NewTupleType()
	first.AddMember("a", TypeInteger)
	second := NewStructureType()
	second.AddMember("b", TypeReal)

	firstID := scope.AddTupleType("first", first)
	secondID := scope.AddStructureType("second", second)

	if firstID == secondID {
		t.Fatalf("IDs must be unique, both were %d", firstID)
	}
	if secondID != firstID+1 {
		t.Errorf("IDs must be dense: got %d then %d", firstID, secondID)
	}
	if registry.GetOwner(firstID) != scope || registry.GetOwner(secondID) != scope {
		t.Error("owner map must point each ID at the declaring scope")
	}
	if registry.GetTupleType(firstID) != first {
		t.Error("tuple descriptor lookup by ID failed")
	}
	if registry.GetStructureType(secondID) != second {
		t.Error("structure descriptor lookup by ID failed")
	}
}

func TestRegistryRejectsReRegistration(t *testing.T) {
	registry := NewTypeRegistry()
	scope := NewScopeDescription(registry)

	tup := NewTupleType()
	tup.AddMember("a", TypeInteger)
	id := scope.AddTupleType("t", tup)

	defer func() {
		if recover() == nil {
			t.Fatal("re-registering an ID must panic")
		}
	}()
	registry.RegisterTupleType(id, tup, scope)
}

func TestStructureRequiresAtLeastOneMember(t *testing.T) {
	scope := testScope()
	defer func() {
		if recover() == nil {
			t.Fatal("empty structure must be rejected")
		}
	}()
	scope.AddStructureType("empty", NewStructureType())
}
