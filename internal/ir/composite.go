package ir

import "fmt"

// MemberInfo describes a single member of a composite type.
type MemberInfo struct {
	Type VariableTypeID

	// Offset is the byte offset inside the composite's storage, assigned by
	// ComputeOffsets.
	Offset int32

	// TypeHint is the composite type ID for members of Tuple or Structure
	// type, zero otherwise.
	TypeHint IDType

	// SignatureName names the function signature for Function-typed members
	// of structures.
	SignatureName string
}

// CompositeType is the shared descriptor shape of tuples and structures:
// ordered members with byte offsets.
type CompositeType struct {
	MemberOrder []string
	Members     map[string]MemberInfo

	offsetsComputed bool
}

func newCompositeType() CompositeType {
	return CompositeType{Members: make(map[string]MemberInfo)}
}

// AddMember appends a member of a primitive type.
func (c *CompositeType) AddMember(name string, vartype VariableTypeID) {
	if _, exists := c.Members[name]; exists {
		panic(failf("duplicate member %q in composite type", name))
	}
	c.MemberOrder = append(c.MemberOrder, name)
	c.Members[name] = MemberInfo{Type: vartype}
}

// AddCompositeMember appends a member of Tuple or Structure type with its
// type hint.
func (c *CompositeType) AddCompositeMember(name string, vartype VariableTypeID, hint IDType) {
	if vartype != TypeTuple && vartype != TypeStructure {
		panic(failf("composite member %q must be of tuple or structure type", name))
	}
	if _, exists := c.Members[name]; exists {
		panic(failf("duplicate member %q in composite type", name))
	}
	c.MemberOrder = append(c.MemberOrder, name)
	c.Members[name] = MemberInfo{Type: vartype, TypeHint: hint}
}

// GetMemberType returns the type of the named member.
func (c *CompositeType) GetMemberType(name string) VariableTypeID {
	info, ok := c.Members[name]
	if !ok {
		return TypeError
	}
	return info.Type
}

// GetMemberTypeHint returns the composite type hint of the named member, or
// zero when the member carries none.
func (c *CompositeType) GetMemberTypeHint(name string) IDType {
	return c.Members[name].TypeHint
}

// GetMemberOffset returns the byte offset assigned by ComputeOffsets.
func (c *CompositeType) GetMemberOffset(name string) int32 {
	return c.Members[name].Offset
}

// ComputeOffsets assigns each member its byte offset: the sum of the sizes of
// all preceding members, with composite members sized via the registry.
// Idempotent.
func (c *CompositeType) ComputeOffsets(scope *ScopeDescription) {
	if c.offsetsComputed {
		return
	}

	var offset int32
	for _, name := range c.MemberOrder {
		info := c.Members[name]
		info.Offset = offset
		c.Members[name] = info
		offset += c.memberSize(info, scope)
	}
	c.offsetsComputed = true
}

// Size returns the total storage footprint of the composite.
func (c *CompositeType) Size(scope *ScopeDescription) int32 {
	var size int32
	for _, name := range c.MemberOrder {
		size += c.memberSize(c.Members[name], scope)
	}
	return size
}

func (c *CompositeType) memberSize(info MemberInfo, scope *ScopeDescription) int32 {
	switch info.Type {
	case TypeTuple:
		nested := scope.Registry.GetTupleType(info.TypeHint)
		if nested == nil {
			panic(failf("tuple type hint %d does not resolve in the registry", info.TypeHint))
		}
		return nested.Size(scope)
	case TypeStructure:
		nested := scope.Registry.GetStructureType(info.TypeHint)
		if nested == nil {
			panic(failf("structure type hint %d does not resolve in the registry", info.TypeHint))
		}
		return nested.Size(scope)
	default:
		return info.Type.StorageSize()
	}
}

// TupleType describes a tuple: ordered, offset-assigned members.
type TupleType struct {
	CompositeType
}

func NewTupleType() *TupleType {
	return &TupleType{CompositeType: newCompositeType()}
}

// StructureType describes a structure. Unlike tuples, structures may carry
// Function-typed members bound to a named signature, and must declare at
// least one member.
type StructureType struct {
	CompositeType
}

func NewStructureType() *StructureType {
	return &StructureType{CompositeType: newCompositeType()}
}

// AddFunctionMember appends a Function-typed member carrying the name of its
// signature.
func (s *StructureType) AddFunctionMember(name, signaturename string) {
	if _, exists := s.Members[name]; exists {
		panic(failf("duplicate member %q in structure type", name))
	}
	s.MemberOrder = append(s.MemberOrder, name)
	s.Members[name] = MemberInfo{Type: TypeFunction, SignatureName: signaturename}
}

func failf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
