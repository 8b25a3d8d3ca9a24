package ir

import "fmt"

// ComparisonKind selects the relation of a comparison operation.
type ComparisonKind int32

const (
	CompareEqual ComparisonKind = iota
	CompareNotEqual
	CompareGreater
	CompareGreaterEqual
	CompareLess
	CompareLessEqual
)

const (
	TokenEqual        = "IsEqual"
	TokenNotEqual     = "IsNotEqual"
	TokenGreater      = "IsGreater"
	TokenGreaterEqual = "IsGreaterEqual"
	TokenLess         = "IsLesser"
	TokenLessEqual    = "IsLesserEqual"
)

var comparisonTokens = map[ComparisonKind]string{
	CompareEqual:        TokenEqual,
	CompareNotEqual:     TokenNotEqual,
	CompareGreater:      TokenGreater,
	CompareGreaterEqual: TokenGreaterEqual,
	CompareLess:         TokenLess,
	CompareLessEqual:    TokenLessEqual,
}

// Comparison relates two operands of one element type and produces Boolean.
// Ordering relations require a numeric element type; equality additionally
// accepts Boolean and String.
type Comparison struct {
	Kind    ComparisonKind
	TypeTag VariableTypeID
}

func NewComparison(kind ComparisonKind, t VariableTypeID) *Comparison {
	return &Comparison{Kind: kind, TypeTag: t}
}

func (op *Comparison) GetType(*ScopeDescription) VariableTypeID { return TypeBoolean }
func (op *Comparison) NumParameters(*ScopeDescription) int      { return 2 }

func (op *Comparison) Payload(*ScopeDescription) Payload {
	return Payload{Token: comparisonTokens[op.Kind], TypeTag: op.TypeTag}
}

func (op *Comparison) Execute(ctx ExecutionContext) (RValue, error) {
	second, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}
	first, err := ctx.Pop()
	if err != nil {
		return NullValue(), err
	}

	switch op.Kind {
	case CompareEqual, CompareNotEqual:
		eq, err := op.equal(first, second)
		if err != nil {
			return NullValue(), err
		}
		if op.Kind == CompareNotEqual {
			eq = !eq
		}
		return BooleanValue(eq), nil
	}

	cmp, err := op.order(first, second)
	if err != nil {
		return NullValue(), err
	}
	switch op.Kind {
	case CompareGreater:
		return BooleanValue(cmp > 0), nil
	case CompareGreaterEqual:
		return BooleanValue(cmp >= 0), nil
	case CompareLess:
		return BooleanValue(cmp < 0), nil
	case CompareLessEqual:
		return BooleanValue(cmp <= 0), nil
	}
	return NullValue(), fmt.Errorf("unknown comparison kind %d", op.Kind)
}

func (op *Comparison) ExecuteFast(ctx ExecutionContext) error {
	_, err := op.Execute(ctx)
	return err
}

func (op *Comparison) equal(first, second RValue) (bool, error) {
	switch op.TypeTag {
	case TypeInteger:
		return first.AsInteger() == second.AsInteger(), nil
	case TypeInteger16:
		return first.AsInteger16() == second.AsInteger16(), nil
	case TypeReal:
		return first.AsReal() == second.AsReal(), nil
	case TypeBoolean:
		return first.AsBoolean() == second.AsBoolean(), nil
	case TypeString:
		return first.AsString() == second.AsString(), nil
	}
	return false, fmt.Errorf("equality is not defined over %s", op.TypeTag)
}

func (op *Comparison) order(first, second RValue) (int, error) {
	switch op.TypeTag {
	case TypeInteger:
		a, b := first.AsInteger(), second.AsInteger()
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		}
		return 0, nil
	case TypeInteger16:
		return int(first.AsInteger16()) - int(second.AsInteger16()), nil
	case TypeReal:
		a, b := first.AsReal(), second.AsReal()
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("ordering is not defined over %s", op.TypeTag)
}
