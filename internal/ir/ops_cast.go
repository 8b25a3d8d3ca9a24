package ir

import (
	"fmt"
	"strconv"
)

const (
	TokenTypeCast                = "TypeCast"
	TokenTypeCastToString        = "TypeCastToString"
	TokenTypeCastBooleanToString = "TypeCastBooleanToString"
	TokenTypeCastBufferToString  = "TypeCastBufferToString"
)

// TypeCast converts the result of its nested operation between primitive
// types. The to-string forms carry their own tokens so the codec can
// round-trip them without re-deriving the source type.
type TypeCast struct {
	FromType VariableTypeID
	ToType   VariableTypeID
	Inner    Operation
}

func NewTypeCast(from, to VariableTypeID, inner Operation) *TypeCast {
	return &TypeCast{FromType: from, ToType: to, Inner: inner}
}

func NewTypeCastToString(from VariableTypeID, inner Operation) *TypeCast {
	return &TypeCast{FromType: from, ToType: TypeString, Inner: inner}
}

func (op *TypeCast) token() string {
	if op.ToType != TypeString {
		return TokenTypeCast
	}
	switch op.FromType {
	case TypeBoolean:
		return TokenTypeCastBooleanToString
	case TypeBuffer:
		return TokenTypeCastBufferToString
	default:
		return TokenTypeCastToString
	}
}

func (op *TypeCast) GetType(*ScopeDescription) VariableTypeID { return op.ToType }

func (op *TypeCast) NumParameters(scope *ScopeDescription) int {
	return op.Inner.NumParameters(scope)
}

func (op *TypeCast) Payload(*ScopeDescription) Payload {
	return Payload{
		Token:    op.token(),
		TypeTag:  op.FromType,
		TypeTag2: op.ToType,
		Nested:   []Operation{op.Inner},
	}
}

func (op *TypeCast) Execute(ctx ExecutionContext) (RValue, error) {
	v, err := op.Inner.Execute(ctx)
	if err != nil {
		return NullValue(), err
	}
	return op.convert(v)
}

func (op *TypeCast) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

func (op *TypeCast) convert(v RValue) (RValue, error) {
	switch op.ToType {
	case TypeString:
		switch op.FromType {
		case TypeBuffer:
			b, _ := v.Obj.([]byte)
			return StringValue(string(b)), nil
		default:
			return StringValue(v.Format()), nil
		}

	case TypeInteger:
		switch op.FromType {
		case TypeInteger16:
			return IntegerValue(int32(v.AsInteger16())), nil
		case TypeReal:
			return IntegerValue(int32(v.AsReal())), nil
		case TypeString:
			n, err := strconv.ParseInt(v.AsString(), 10, 32)
			if err != nil {
				return NullValue(), fmt.Errorf("cannot cast %q to integer", v.AsString())
			}
			return IntegerValue(int32(n)), nil
		case TypeBoolean:
			if v.AsBoolean() {
				return IntegerValue(1), nil
			}
			return IntegerValue(0), nil
		}

	case TypeInteger16:
		switch op.FromType {
		case TypeInteger:
			return Integer16Value(int16(v.AsInteger())), nil
		case TypeReal:
			return Integer16Value(int16(v.AsReal())), nil
		case TypeString:
			n, err := strconv.ParseInt(v.AsString(), 10, 16)
			if err != nil {
				return NullValue(), fmt.Errorf("cannot cast %q to integer16", v.AsString())
			}
			return Integer16Value(int16(n)), nil
		}

	case TypeReal:
		switch op.FromType {
		case TypeInteger:
			return RealValue(float32(v.AsInteger())), nil
		case TypeInteger16:
			return RealValue(float32(v.AsInteger16())), nil
		case TypeString:
			f, err := strconv.ParseFloat(v.AsString(), 32)
			if err != nil {
				return NullValue(), fmt.Errorf("cannot cast %q to real", v.AsString())
			}
			return RealValue(float32(f)), nil
		}

	case TypeBoolean:
		switch op.FromType {
		case TypeString:
			switch v.AsString() {
			case "true":
				return BooleanValue(true), nil
			case "false":
				return BooleanValue(false), nil
			}
			return NullValue(), fmt.Errorf("cannot cast %q to boolean", v.AsString())
		case TypeInteger:
			return BooleanValue(v.AsInteger() != 0), nil
		}

	case TypeBuffer:
		if op.FromType == TypeString {
			return BufferValue([]byte(v.AsString())), nil
		}
	}

	return NullValue(), fmt.Errorf("no cast from %s to %s", op.FromType, op.ToType)
}
