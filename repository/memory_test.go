package repository

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seed-order-service/models"
)

func TestMemoryStore_RollbackDiscardsWork(t *testing.T) {
	store := NewMemoryStore()
	store.SetProductStock(1, 5)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx Tx) error {
		id, err := tx.InsertOrder(ctx, &models.Order{OrderNumber: "ORD-1"})
		require.NoError(t, err)
		require.NoError(t, tx.InsertItem(ctx, id, models.OrderItem{ProductID: 1, Quantity: 2}))
		ok, err := tx.DecrementStock(ctx, 1, 2)
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stock, _ := store.ProductStock(1)
	assert.Equal(t, 5, stock)
	assert.Equal(t, 0, store.OrderCount())
}

func TestMemoryStore_ConditionalDecrement(t *testing.T) {
	store := NewMemoryStore()
	store.SetProductStock(1, 2)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.DecrementStock(ctx, 1, 3)
		assert.False(t, ok)
		ok, _ = tx.DecrementStock(ctx, 99, 1)
		assert.False(t, ok)
		_, err = tx.ProductStock(ctx, 99)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_UniqueOrderNumber(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	insert := func(number string) error {
		return store.WithTx(ctx, func(tx Tx) error {
			_, err := tx.InsertOrder(ctx, &models.Order{OrderNumber: number, Status: models.StatusPending})
			return err
		})
	}
	require.NoError(t, insert("ORD-1"))
	assert.ErrorIs(t, insert("ORD-1"), ErrDuplicateOrderNumber)

	o, err := store.GetOrderByNumber(ctx, "ORD-1")
	require.NoError(t, err)
	assert.NotNil(t, o.Items)
}

func TestMemoryStore_ListOrdersHugePage(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.WithTx(ctx, func(tx Tx) error {
		_, err := tx.InsertOrder(ctx, &models.Order{OrderNumber: "ORD-1", Status: models.StatusPending})
		return err
	}))

	orders, total, err := store.ListOrders(ctx, models.OrderFilter{Page: math.MaxInt, Limit: 50})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, int64(1), total)
}
