package basic

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// DecimalValue 定点小数
type DecimalValue struct {
	value decimal.Decimal
}

// NewDecimalValue 创建DECIMAL值
func NewDecimalValue(d decimal.Decimal) Value {
	return DecimalValue{value: d}
}

// ParseDecimalValue 从字符串解析DECIMAL值
func ParseDecimalValue(s string) (Value, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidValue, "decimal %q: %v", s, err)
	}
	return DecimalValue{value: d}, nil
}

func (d DecimalValue) DataType() ValType { return DecimalVal }
func (d DecimalValue) IsNull() bool { return false }
func (d DecimalValue) Raw() interface{} { return d.value }
func (d DecimalValue) ToString() string { return d.value.String() }

// Decimal 获取底层decimal
func (d DecimalValue) Decimal() decimal.Decimal { return d.value }

// Add 相加
func (d DecimalValue) Add(other DecimalValue) DecimalValue {
	return DecimalValue{value: d.value.Add(other.value)}
}

// Sub 相减
func (d DecimalValue) Sub(other DecimalValue) DecimalValue {
	return DecimalValue{value: d.value.Sub(other.value)}
}

// Compare0 与整数比较
func (d DecimalValue) Compare0(n int64) int {
	return d.value.Cmp(decimal.NewFromInt(n))
}

func (d DecimalValue) Compare(other Value) (int, error) {
	if r, ok := compareNull(d, other); ok {
		return r, nil
	}
	switch x := other.(type) {
	case DecimalValue:
		return d.value.Cmp(x.value), nil
	case IntValue:
		return d.Compare0(int64(x.value)), nil
	case BigIntValue:
		return d.Compare0(x.value), nil
	}
	return 0, incomparable(d, other)
}
