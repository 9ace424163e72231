package basic

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smartystreets/assertions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntCompare(t *testing.T) {
	c, err := NewIntValue(3).Compare(NewBigIntValue(5))
	require.NoError(t, err)
	if msg := assertions.ShouldEqual(c, -1); msg != "" {
		t.Error(msg)
	}

	c, err = NewBigIntValue(5).Compare(NewIntValue(5))
	require.NoError(t, err)
	assert.Equal(t, 0, c)

	c, err = NewIntValue(5).Compare(NewNullValue())
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	_, err = NewIntValue(5).Compare(NewVarcharValue("5"))
	assert.ErrorIs(t, err, ErrIncomparable)
}

func TestDecimalValue(t *testing.T) {
	t.Run("解析", func(t *testing.T) {
		v, err := ParseDecimalValue("10.25")
		require.NoError(t, err)
		if msg := assertions.ShouldEqual(v.ToString(), "10.25"); msg != "" {
			t.Error(msg)
		}

		_, err = ParseDecimalValue("ten")
		assert.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("运算与比较", func(t *testing.T) {
		a := NewDecimalValue(decimal.NewFromFloat(1.5)).(DecimalValue)
		b := NewDecimalValue(decimal.NewFromInt(2)).(DecimalValue)
		assert.Equal(t, "3.5", a.Add(b).ToString())
		assert.Equal(t, "-0.5", a.Sub(b).ToString())

		c, err := b.Compare(NewIntValue(2))
		require.NoError(t, err)
		assert.Equal(t, 0, c)

		c, err = NewIntValue(1).Compare(a)
		require.NoError(t, err)
		assert.Equal(t, -1, c)
	})
}

func TestNullAndVarchar(t *testing.T) {
	c, err := NewNullValue().Compare(NewVarcharValue("a"))
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = NewVarcharValue("b").Compare(NewVarcharValue("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	assert.Equal(t, "(1, abc, NULL)", FormatRow([]Value{NewIntValue(1), NewVarcharValue("abc"), nil}))
}
