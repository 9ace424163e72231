package basic

import (
	"strconv"
)

// IntValue 32位整数
type IntValue struct {
	value int32
}

// NewIntValue 创建INT值
func NewIntValue(v int32) Value {
	return IntValue{value: v}
}

func (i IntValue) DataType() ValType { return IntVal }
func (i IntValue) IsNull() bool { return false }
func (i IntValue) Raw() interface{} { return i.value }
func (i IntValue) ToString() string { return strconv.Itoa(int(i.value)) }

// Int64 转为int64
func (i IntValue) Int64() int64 { return int64(i.value) }

func (i IntValue) Compare(other Value) (int, error) {
	if r, ok := compareNull(i, other); ok {
		return r, nil
	}
	n, ok := toInt64(other)
	if !ok {
		if d, isDec := other.(DecimalValue); isDec {
			return -d.Compare0(int64(i.value)), nil
		}
		return 0, incomparable(i, other)
	}
	return compareInt64(int64(i.value), n), nil
}

// BigIntValue 64位整数
type BigIntValue struct {
	value int64
}

// NewBigIntValue 创建BIGINT值
func NewBigIntValue(v int64) Value {
	return BigIntValue{value: v}
}

func (b BigIntValue) DataType() ValType { return BigIntVal }
func (b BigIntValue) IsNull() bool { return false }
func (b BigIntValue) Raw() interface{} { return b.value }
func (b BigIntValue) ToString() string { return strconv.FormatInt(b.value, 10) }

// Int64 转为int64
func (b BigIntValue) Int64() int64 { return b.value }

func (b BigIntValue) Compare(other Value) (int, error) {
	if r, ok := compareNull(b, other); ok {
		return r, nil
	}
	n, ok := toInt64(other)
	if !ok {
		if d, isDec := other.(DecimalValue); isDec {
			return -d.Compare0(b.value), nil
		}
		return 0, incomparable(b, other)
	}
	return compareInt64(b.value, n), nil
}

func toInt64(v Value) (int64, bool) {
	switch x := v.(type) {
	case IntValue:
		return int64(x.value), true
	case BigIntValue:
		return x.value, true
	}
	return 0, false
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
