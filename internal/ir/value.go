package ir

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// RValue is a stack-allocated tagged union. Small primitives live in Data to
// avoid heap allocation on the hot path; strings and handles ride in their
// own fields.
type RValue struct {
	Type VariableTypeID
	Data uint64 // int32/int16 bits, float32 bits, or bool (0/1)
	Str  string
	Obj  any // *ArrayValue, *TupleValue, *StructureValue, *Reference, TaskRef, []byte
}

// Constructors

func NullValue() RValue {
	return RValue{Type: TypeNull}
}

func IntegerValue(v int32) RValue {
	return RValue{Type: TypeInteger, Data: uint64(uint32(v))}
}

func Integer16Value(v int16) RValue {
	return RValue{Type: TypeInteger16, Data: uint64(uint16(v))}
}

func RealValue(v float32) RValue {
	return RValue{Type: TypeReal, Data: uint64(math.Float32bits(v))}
}

func BooleanValue(v bool) RValue {
	var data uint64
	if v {
		data = 1
	}
	return RValue{Type: TypeBoolean, Data: data}
}

func StringValue(s string) RValue {
	return RValue{Type: TypeString, Str: s}
}

func FunctionValue(name string) RValue {
	return RValue{Type: TypeFunction, Str: name}
}

func ArrayRValue(a *ArrayValue) RValue {
	return RValue{Type: TypeArray, Obj: a}
}

func TaskHandleValue(ref TaskRef) RValue {
	return RValue{Type: TypeTaskHandle, Obj: ref}
}

func BufferValue(b []byte) RValue {
	return RValue{Type: TypeBuffer, Obj: b}
}

// Accessors

func (v RValue) AsInteger() int32 {
	return int32(uint32(v.Data))
}

func (v RValue) AsInteger16() int16 {
	return int16(uint16(v.Data))
}

func (v RValue) AsReal() float32 {
	return math.Float32frombits(uint32(v.Data))
}

func (v RValue) AsBoolean() bool {
	return v.Data == 1
}

func (v RValue) AsString() string {
	return v.Str
}

func (v RValue) AsArray() *ArrayValue {
	a, _ := v.Obj.(*ArrayValue)
	return a
}

func (v RValue) Format() string {
	switch v.Type {
	case TypeNull:
		return "null"
	case TypeInteger:
		return fmt.Sprintf("%d", v.AsInteger())
	case TypeInteger16:
		return fmt.Sprintf("%d", v.AsInteger16())
	case TypeReal:
		return fmt.Sprintf("%g", v.AsReal())
	case TypeBoolean:
		if v.AsBoolean() {
			return "true"
		}
		return "false"
	case TypeString:
		return v.Str
	}
	return fmt.Sprintf("<%s>", v.Type)
}

// ArrayValue is the handle type for arrays: a homogeneous element sequence.
type ArrayValue struct {
	ElementType VariableTypeID
	Elements    []RValue
}

// TupleValue is an instantiated tuple: member storage keyed by name.
type TupleValue struct {
	TypeID  IDType
	Members map[string]RValue
}

// StructureValue is an instantiated structure.
type StructureValue struct {
	TypeID  IDType
	Members map[string]RValue
}

// Reference is a bound l-value: a direct pointer to a value slot. A member
// reference into a composite carries the owning instance and member name so
// indirect writes land in the composite's storage.
type Reference struct {
	Slot      *RValue
	Composite *StructureValue
	Member    string
}

// Load reads through the reference.
func (r *Reference) Load() RValue {
	if r.Composite != nil {
		return r.Composite.Members[r.Member]
	}
	return *r.Slot
}

// Store writes through the reference.
func (r *Reference) Store(v RValue) {
	if r.Composite != nil {
		r.Composite.Members[r.Member] = v
		return
	}
	*r.Slot = v
}

// AddressValue wraps a Reference into an RValue of Address type.
func AddressValue(r *Reference) RValue {
	return RValue{Type: TypeAddress, Obj: r}
}

func (v RValue) AsReference() *Reference {
	r, _ := v.Obj.(*Reference)
	return r
}

// TaskRef identifies a forked task. Handles are process-unique.
type TaskRef struct {
	ID uuid.UUID
}
