package basic

import "strings"

// VarcharValue 变长字符串
type VarcharValue struct {
	value string
}

// NewVarcharValue 创建VARCHAR值
func NewVarcharValue(s string) Value {
	return VarcharValue{value: s}
}

func (v VarcharValue) DataType() ValType { return VarcharVal }
func (v VarcharValue) IsNull() bool { return false }
func (v VarcharValue) Raw() interface{} { return v.value }
func (v VarcharValue) ToString() string { return v.value }

func (v VarcharValue) Compare(other Value) (int, error) {
	if r, ok := compareNull(v, other); ok {
		return r, nil
	}
	s, ok := other.(VarcharValue)
	if !ok {
		return 0, incomparable(v, other)
	}
	return strings.Compare(v.value, s.value), nil
}
