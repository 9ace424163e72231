package basic

import "errors"

// 数据类型相关错误
var (
	ErrIncomparable = errors.New("incomparable values")
	ErrInvalidValue = errors.New("invalid value")
)
