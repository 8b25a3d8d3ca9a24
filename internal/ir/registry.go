package ir

// TypeRegistry maps dense composite-type IDs to their descriptors and owning
// scopes. The registry lives on the Program (composite types outlive the
// scopes that declare them when referenced by other scopes' signatures) and
// is drained when the Program is torn down. IDs are monotonically assigned
// and never recycled within a Program lifetime.
type TypeRegistry struct {
	tuples     map[IDType]*TupleType
	structures map[IDType]*StructureType
	owners     map[IDType]*ScopeDescription

	nextID IDType
}

func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		tuples:     make(map[IDType]*TupleType),
		structures: make(map[IDType]*StructureType),
		owners:     make(map[IDType]*ScopeDescription),
		nextID:     1,
	}
}

// AllocateID hands out the next dense composite-type ID.
func (r *TypeRegistry) AllocateID() IDType {
	id := r.nextID
	r.nextID++
	return id
}

// NoteID records an externally assigned ID (bytecode loading) so later
// allocations never collide with it.
func (r *TypeRegistry) NoteID(id IDType) {
	if id >= r.nextID {
		r.nextID = id + 1
	}
}

// RegisterTupleType installs a tuple descriptor under the given ID, owned by
// the given scope. Re-registering an ID is a structural violation.
func (r *TypeRegistry) RegisterTupleType(id IDType, t *TupleType, owner *ScopeDescription) {
	if _, taken := r.owners[id]; taken {
		panic(failf("composite type ID %d registered twice", id))
	}
	r.tuples[id] = t
	r.owners[id] = owner
	r.NoteID(id)
}

// RegisterStructureType installs a structure descriptor under the given ID.
func (r *TypeRegistry) RegisterStructureType(id IDType, s *StructureType, owner *ScopeDescription) {
	if _, taken := r.owners[id]; taken {
		panic(failf("composite type ID %d registered twice", id))
	}
	r.structures[id] = s
	r.owners[id] = owner
	r.NoteID(id)
}

// GetTupleType returns the tuple descriptor for an ID, or nil.
func (r *TypeRegistry) GetTupleType(id IDType) *TupleType {
	return r.tuples[id]
}

// GetStructureType returns the structure descriptor for an ID, or nil.
func (r *TypeRegistry) GetStructureType(id IDType) *StructureType {
	return r.structures[id]
}

// GetComposite returns whichever descriptor the ID resolves to.
func (r *TypeRegistry) GetComposite(id IDType) *CompositeType {
	if t, ok := r.tuples[id]; ok {
		return &t.CompositeType
	}
	if s, ok := r.structures[id]; ok {
		return &s.CompositeType
	}
	return nil
}

// GetOwner returns the scope that declared the given composite type.
func (r *TypeRegistry) GetOwner(id IDType) *ScopeDescription {
	return r.owners[id]
}

// TupleIDs returns the registered tuple type IDs in ascending order.
func (r *TypeRegistry) TupleIDs() []IDType {
	return sortedIDs(r.tuples)
}

// StructureIDs returns the registered structure type IDs in ascending order.
func (r *TypeRegistry) StructureIDs() []IDType {
	return sortedIDs(r.structures)
}

func sortedIDs[V any](m map[IDType]V) []IDType {
	ids := make([]IDType, 0, len(m))
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

// Drain removes every entry owned by scopes of a torn-down Program.
func (r *TypeRegistry) Drain() {
	r.tuples = make(map[IDType]*TupleType)
	r.structures = make(map[IDType]*StructureType)
	r.owners = make(map[IDType]*ScopeDescription)
}
