package inventory

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockMutation_RequiredMinimum(t *testing.T) {
	five := int64(5)
	assert.Equal(t, int64(3), StockMutation{Delta: -3}.RequiredMinimum())
	assert.Equal(t, int64(5), StockMutation{Delta: -3, ExpectedMinimum: &five}.RequiredMinimum())
	assert.Equal(t, int64(0), StockMutation{Delta: 4}.RequiredMinimum())
}

func TestValidateBatch(t *testing.T) {
	p, l := uuid.New(), uuid.New()

	assert.ErrorIs(t, ValidateBatch(nil, "k"), ErrInvalidMutation)
	assert.ErrorIs(t, ValidateBatch([]StockMutation{{ProductID: p, LocationID: l, Delta: 1}}, ""), ErrInvalidMutation)
	assert.ErrorIs(t, ValidateBatch([]StockMutation{{ProductID: p, LocationID: l, Delta: 0}}, "k"), ErrInvalidMutation)
	assert.ErrorIs(t, ValidateBatch([]StockMutation{
		{ProductID: p, LocationID: l, Delta: 1},
		{ProductID: p, LocationID: l, Delta: -1},
	}, "k"), ErrInvalidMutation)
	assert.NoError(t, ValidateBatch([]StockMutation{{ProductID: p, LocationID: l, Delta: -1}}, "k"))
}

func TestPlanDeductions(t *testing.T) {
	p := uuid.New()
	big, small := uuid.New(), uuid.New()
	records := []StockRecord{
		{ProductID: p, LocationID: small, QuantityOnHand: 2},
		{ProductID: p, LocationID: big, QuantityOnHand: 5},
	}

	t.Run("largest location first then spill over", func(t *testing.T) {
		deds, err := PlanDeductions([]DemandLine{{EdgeID: uuid.New(), ProductID: p, Quantity: 6}}, records)
		require.NoError(t, err)
		require.Len(t, deds, 2)
		assert.Equal(t, big, deds[0].LocationID)
		assert.Equal(t, int64(5), deds[0].Quantity)
		assert.Equal(t, small, deds[1].LocationID)
		assert.Equal(t, int64(1), deds[1].Quantity)
	})

	t.Run("lines on the same product share the balance", func(t *testing.T) {
		_, err := PlanDeductions([]DemandLine{
			{EdgeID: uuid.New(), ProductID: p, Quantity: 4},
			{EdgeID: uuid.New(), ProductID: p, Quantity: 4},
		}, records)
		assert.ErrorIs(t, err, ErrStockConflict)
	})

	t.Run("input records are not modified", func(t *testing.T) {
		_, err := PlanDeductions([]DemandLine{{EdgeID: uuid.New(), ProductID: p, Quantity: 7}}, records)
		require.NoError(t, err)
		assert.Equal(t, int64(2), records[0].QuantityOnHand)
		assert.Equal(t, int64(5), records[1].QuantityOnHand)
	})
}
