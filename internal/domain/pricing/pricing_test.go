package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCalculate(t *testing.T) {
	tests := []struct {
		name      string
		in        Input
		wantSub   decimal.Decimal
		wantTotal decimal.Decimal
		wantPts   decimal.Decimal
		wantErr   error
	}{
		{
			name: "SAVE10 example",
			in: Input{
				Lines:        []Line{{UnitPrice: d(500), Quantity: 2}},
				Discount:     d(100),
				ShippingCost: d(50),
			},
			wantSub:   d(1000),
			wantTotal: d(950),
			wantPts:   decimal.Zero,
		},
		{
			name: "free shipping zeroes shipping",
			in: Input{
				Lines:        []Line{{UnitPrice: d(100), Quantity: 1}},
				FreeShipping: true,
				ShippingCost: d(50),
			},
			wantSub:   d(100),
			wantTotal: d(100),
			wantPts:   decimal.Zero,
		},
		{
			name: "points redeemed",
			in: Input{
				Lines:        []Line{{UnitPrice: d(300), Quantity: 1}},
				ShippingCost: d(20),
				PointsUsed:   2,
				PointPrice:   d(100),
			},
			wantSub:   d(300),
			wantTotal: d(120),
			wantPts:   d(200),
		},
		{
			name: "overshoot within one point is absorbed",
			in: Input{
				Lines:      []Line{{UnitPrice: d(250), Quantity: 1}},
				PointsUsed: 3,
				PointPrice: d(100),
			},
			wantSub:   d(250),
			wantTotal: decimal.Zero,
			wantPts:   d(250),
		},
		{
			name: "overshoot beyond one point rejected",
			in: Input{
				Lines:      []Line{{UnitPrice: d(250), Quantity: 1}},
				PointsUsed: 4,
				PointPrice: d(100),
			},
			wantErr: ErrOverRedemption,
		},
		{
			name: "overshoot allowed with partial coverage",
			in: Input{
				Lines:        []Line{{UnitPrice: d(250), Quantity: 1}},
				PointsUsed:   10,
				PointPrice:   d(100),
				AllowPartial: true,
			},
			wantSub:   d(250),
			wantTotal: decimal.Zero,
			wantPts:   d(250),
		},
		{
			name: "discount capped at subtotal",
			in: Input{
				Lines:    []Line{{UnitPrice: d(40), Quantity: 1}},
				Discount: d(100),
			},
			wantSub:   d(40),
			wantTotal: decimal.Zero,
			wantPts:   decimal.Zero,
		},
		{
			name: "points with zero price",
			in: Input{
				Lines:      []Line{{UnitPrice: d(40), Quantity: 1}},
				PointsUsed: 1,
			},
			wantErr: ErrInvalidPointPrice,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.in)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.wantSub.Equal(got.Subtotal), "subtotal: want %s got %s", tt.wantSub, got.Subtotal)
			assert.True(t, tt.wantTotal.Equal(got.Total), "total: want %s got %s", tt.wantTotal, got.Total)
			assert.True(t, tt.wantPts.Equal(got.PointsValue), "points value: want %s got %s", tt.wantPts, got.PointsValue)

			identity := got.Subtotal.Sub(got.Discount).Add(got.Shipping).Sub(got.PointsValue)
			assert.True(t, identity.Equal(got.Total))
			assert.False(t, got.Total.IsNegative())
		})
	}
}

func TestCalculate_Idempotent(t *testing.T) {
	in := Input{
		Lines:        []Line{{UnitPrice: d(199), Quantity: 3}, {UnitPrice: d(51), Quantity: 1}},
		Discount:     d(65),
		ShippingCost: d(30),
		PointsUsed:   2,
		PointPrice:   decimal.RequireFromString("12.5"),
	}

	first, err := Calculate(in)
	require.NoError(t, err)
	second, err := Calculate(in)
	require.NoError(t, err)

	assert.True(t, first.Total.Equal(second.Total))
	assert.True(t, first.PointsValue.Equal(second.PointsValue))
}

func TestPointsFor(t *testing.T) {
	assert.Equal(t, int64(3), PointsFor(d(350), d(100)))
	assert.Equal(t, int64(0), PointsFor(d(99), d(100)))
	assert.Equal(t, int64(0), PointsFor(d(350), decimal.Zero))
}

func TestEarned(t *testing.T) {
	assert.Equal(t, int64(9), Earned(d(950), decimal.RequireFromString("0.01")))
	assert.Equal(t, int64(0), Earned(d(950), decimal.Zero))
}
