package basic

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ValType 列值类型
type ValType int

const (
	NullVal ValType = iota
	IntVal
	BigIntVal
	VarcharVal
	DecimalVal
)

func (t ValType) String() string {
	switch t {
	case NullVal:
		return "NULL"
	case IntVal:
		return "INT"
	case BigIntVal:
		return "BIGINT"
	case VarcharVal:
		return "VARCHAR"
	case DecimalVal:
		return "DECIMAL"
	default:
		return fmt.Sprintf("ValType(%d)", int(t))
	}
}

// Value 行数据中的一个列值，行负载是有序的Value序列
type Value interface {
	DataType() ValType
	IsNull() bool
	Raw() interface{}
	ToString() string
	// Compare 返回 -1, 0, 1；NULL 小于任何非NULL值
	Compare(other Value) (int, error)
}

// NullValue NULL值
type NullValue struct{}

// NewNullValue 创建NULL值
func NewNullValue() Value {
	return NullValue{}
}

func (NullValue) DataType() ValType { return NullVal }
func (NullValue) IsNull() bool { return true }
func (NullValue) Raw() interface{} { return nil }
func (NullValue) ToString() string { return "NULL" }
func (NullValue) Compare(other Value) (int, error) {
	if other == nil || other.IsNull() {
		return 0, nil
	}
	return -1, nil
}

// compareNull 处理NULL参与的比较，handled=false时调用方继续比较
func compareNull(self, other Value) (result int, handled bool) {
	if other == nil || other.IsNull() {
		return 1, true
	}
	return 0, false
}

func incomparable(self, other Value) error {
	return errors.Wrapf(ErrIncomparable, "%s vs %s", self.DataType(), other.DataType())
}

// FormatRow 格式化一行数据，用于日志
func FormatRow(values []Value) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			parts[i] = "NULL"
			continue
		}
		parts[i] = v.ToString()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// CopyRow 复制行负载，各Value不可变，浅拷贝即可
func CopyRow(values []Value) []Value {
	out := make([]Value, len(values))
	copy(out, values)
	return out
}
