package ir

// OperationsEquivalent reports whether two operations produce equal
// traversal payloads, recursing through nested operations and child blocks.
// It is the round-trip equality the codec tests rely on.
func OperationsEquivalent(a, b Operation, scopeA, scopeB *ScopeDescription) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	pa := a.Payload(scopeA)
	pb := b.Payload(scopeB)
	if pa.Token != pb.Token || pa.Name != pb.Name || pa.Member != pb.Member {
		return false
	}
	if pa.TypeTag != pb.TypeTag || pa.TypeTag2 != pb.TypeTag2 {
		return false
	}
	if pa.Library != pb.Library || pa.Handle != pb.Handle {
		return false
	}
	if !rvaluesEqual(pa.Value, pb.Value) {
		return false
	}
	if len(pa.Flags) != len(pb.Flags) || len(pa.Numbers) != len(pb.Numbers) || len(pa.Types) != len(pb.Types) {
		return false
	}
	for i := range pa.Flags {
		if pa.Flags[i] != pb.Flags[i] {
			return false
		}
	}
	for i := range pa.Numbers {
		if pa.Numbers[i] != pb.Numbers[i] {
			return false
		}
	}
	for i := range pa.Types {
		if pa.Types[i] != pb.Types[i] {
			return false
		}
	}
	if len(pa.Nested) != len(pb.Nested) || len(pa.Blocks) != len(pb.Blocks) {
		return false
	}
	for i := range pa.Nested {
		if !OperationsEquivalent(pa.Nested[i], pb.Nested[i], scopeA, scopeB) {
			return false
		}
	}
	for i := range pa.Blocks {
		if !BlocksEquivalent(pa.Blocks[i], pb.Blocks[i], scopeA, scopeB) {
			return false
		}
	}
	// Prior back-pointers are positional; equality of the surrounding block
	// order covers them.
	if (pa.Prior == nil) != (pb.Prior == nil) {
		return false
	}
	return true
}

// BlocksEquivalent compares two blocks operation by operation.
func BlocksEquivalent(a, b *Block, scopeA, scopeB *ScopeDescription) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	sa, sb := scopeA, scopeB
	if a.GetBoundScope() != nil {
		sa = a.GetBoundScope()
	}
	if b.GetBoundScope() != nil {
		sb = b.GetBoundScope()
	}
	opsA, opsB := a.Operations(), b.Operations()
	if len(opsA) != len(opsB) {
		return false
	}
	for i := range opsA {
		if !OperationsEquivalent(opsA[i], opsB[i], sa, sb) {
			return false
		}
	}
	return true
}

func rvaluesEqual(a, b RValue) bool {
	return a.Type == b.Type && a.Data == b.Data && a.Str == b.Str
}
