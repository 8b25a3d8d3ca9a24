package ir

// Parameter flags carried by function signatures.
const (
	ParamFlagNone        int32 = 0
	ParamFlagIsReference int32 = 1
)

// FunctionSignature describes a function-typed slot: parameter and return
// types, composite type hints, per-parameter flags, and nested signatures for
// higher-order parameters. NestedSignatures is parallel to Params and is
// non-nil only where the parameter is of Function type.
type FunctionSignature struct {
	Params           []VariableTypeID
	Returns          []VariableTypeID
	ParamTypeHints   []IDType
	ParamFlags       []int32
	NestedSignatures []*FunctionSignature
	ReturnTypeHints  []IDType
}

func NewFunctionSignature() *FunctionSignature {
	return &FunctionSignature{}
}

// AddParam appends a parameter of the given type with no hint or flags.
func (s *FunctionSignature) AddParam(t VariableTypeID) {
	s.AddParamHinted(t, 0, ParamFlagNone, nil)
}

// AddParamHinted appends a parameter with its composite type hint, flags, and
// (for Function-typed parameters) a nested signature.
func (s *FunctionSignature) AddParamHinted(t VariableTypeID, hint IDType, flags int32, nested *FunctionSignature) {
	s.Params = append(s.Params, t)
	s.ParamTypeHints = append(s.ParamTypeHints, hint)
	s.ParamFlags = append(s.ParamFlags, flags)
	s.NestedSignatures = append(s.NestedSignatures, nested)
}

// AddReturn appends a return slot.
func (s *FunctionSignature) AddReturn(t VariableTypeID, hint IDType) {
	s.Returns = append(s.Returns, t)
	s.ReturnTypeHints = append(s.ReturnTypeHints, hint)
}

// Matches reports whether two signatures agree slot for slot.
func (s *FunctionSignature) Matches(other *FunctionSignature) bool {
	if other == nil {
		return false
	}
	if len(s.Params) != len(other.Params) || len(s.Returns) != len(other.Returns) {
		return false
	}
	for i, p := range s.Params {
		if p != other.Params[i] {
			return false
		}
		if s.ParamFlags[i] != other.ParamFlags[i] {
			return false
		}
	}
	for i, r := range s.Returns {
		if r != other.Returns[i] {
			return false
		}
	}
	return true
}
