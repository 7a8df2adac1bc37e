package checked

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddSubMul(t *testing.T) {
	tests := []struct {
		name    string
		fn      func(a, b uint64) (uint64, error)
		a, b    uint64
		want    uint64
		wantErr error
	}{
		{"add", Add, 2, 3, 5, nil},
		{"add overflow", Add, math.MaxUint64, 1, 0, ErrOverflow},
		{"sub", Sub, 5, 3, 2, nil},
		{"sub underflow", Sub, 3, 5, 0, ErrOverflow},
		{"mul", Mul, 1 << 31, 1 << 31, 1 << 62, nil},
		{"mul overflow", Mul, 1 << 32, 1 << 32, 0, ErrOverflow},
		{"div", Div, 7, 2, 3, nil},
		{"div zero", Div, 7, 0, 0, ErrDivisionByZero},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(tt.a, tt.b)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPow10(t *testing.T) {
	v, err := Pow10(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	v, err = Pow10(19)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000_000_000_000), v)

	_, err = Pow10(20)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestAddI64(t *testing.T) {
	v, err := AddI64(100, 86400)
	require.NoError(t, err)
	assert.Equal(t, int64(86500), v)

	_, err = AddI64(math.MaxInt64, 1)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestWide(t *testing.T) {
	// balance * seconds * apy exceeds u64 but the quotient fits.
	got, err := From(math.MaxUint64).Mul(86400).Mul(3650).Div(315_360_000_000).Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/1000), got)

	_, err = From(math.MaxUint64).Mul(2).Uint64()
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = From(1).Div(0).Mul(5).Uint64()
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMulDiv(t *testing.T) {
	got, err := MulDiv(1_000_000, 500_000, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), got)

	got, err = MulDiv(math.MaxUint64, 1_000_000, 2_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64/2), got)
}
