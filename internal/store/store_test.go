package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Samidius-mag/MP-sub000/internal/model"
	"github.com/Samidius-mag/MP-sub000/internal/store/config"
)

func newTestStore(t *testing.T) Store {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("DATABASE_DSN не задан")
	}

	store, err := NewStore(config.Config{DBDsn: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testOrder(clientID int64, orderID string) model.Order {
	return model.Order{
		Key: model.OrderKey{
			ClientID:    clientID,
			Marketplace: model.MarketplaceWildberries,
			OrderID:     orderID,
		},
		Data: model.OrderData{
			Status:      model.StatusNew,
			Type:        model.OrderTypeFBS,
			TotalAmount: 150000,
			Items: []model.OrderItem{
				{Article: "ART-1", Quantity: 1, UnitPrice: 150000, LineTotal: 150000},
			},
			CreatedAt: time.Now().UTC(),
		},
	}
}

func TestStoreOrderUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clientID := time.Now().UnixNano()
	order := testOrder(clientID, "716523456")

	// первая запись
	res, err := store.OrderUpsert(ctx, order)
	require.NoError(t, err)
	require.True(t, res.IsNew)

	// повторная запись тех же данных: строка одна, перехода нет
	res, err = store.OrderUpsert(ctx, order)
	require.NoError(t, err)
	require.False(t, res.IsNew)
	require.Equal(t, model.StatusNew, res.PreviousStatus)

	orders, err := store.OrderList(ctx, clientID, OrderFilter{History: true})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	createdAt := orders[0].Data.CreatedAt

	// смена статуса: прежний статус возвращается, created_at не меняется
	order.Data.Status = model.StatusShipped
	res, err = store.OrderUpsert(ctx, order)
	require.NoError(t, err)
	require.False(t, res.IsNew)
	require.Equal(t, model.StatusNew, res.PreviousStatus)

	orders, err = store.OrderList(ctx, clientID, OrderFilter{History: true})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, model.StatusShipped, orders[0].Data.Status)
	require.Equal(t, createdAt, orders[0].Data.CreatedAt)
}

func TestStoreDeposit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clientID := time.Now().UnixNano()

	// начальный баланс ноль
	balance, err := store.DepositBalance(ctx, clientID)
	require.NoError(t, err)
	require.Equal(t, int64(0), balance)

	// пополнение
	entry := model.LedgerEntry{Key: model.LedgerKey{ClientID: clientID}}
	entry.Data.Amount = 300000
	entry.Data.Type = model.TransactionDeposit
	_, err = store.DepositAppend(ctx, entry)
	require.NoError(t, err)

	// списание больше баланса отклоняется без записи
	entry.Data.Amount = -400000
	entry.Data.Type = model.TransactionOrderPayment
	_, err = store.DepositAppend(ctx, entry)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	balance, err = store.DepositBalance(ctx, clientID)
	require.NoError(t, err)
	require.Equal(t, int64(300000), balance)

	// списание с платежным идентификатором
	entry.Data.Amount = -100000
	entry.Data.PaymentID = fmt.Sprintf("order_payment:%d:wildberries:1", clientID)
	_, err = store.DepositAppend(ctx, entry)
	require.NoError(t, err)

	// повтор того же платежа пропускается
	_, err = store.DepositAppend(ctx, entry)
	require.ErrorIs(t, err, ErrDuplicateRequest)

	balance, err = store.DepositBalance(ctx, clientID)
	require.NoError(t, err)
	require.Equal(t, int64(200000), balance)

	// цепочка журнала сходится
	history, err := store.DepositHistory(ctx, clientID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	for i, e := range history {
		require.Equal(t, e.Data.BalanceAfter, e.Data.BalanceBefore+e.Data.Amount)
		if i > 0 {
			require.Equal(t, history[i-1].Data.BalanceAfter, e.Data.BalanceBefore)
		}
	}
}

func TestStoreCostLookup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clientID := time.Now().UnixNano()

	require.NoError(t, store.WarehouseStockPut(ctx, clientID, "4600000000001", "ART-1", 70000, 5))
	require.NoError(t, store.PriceListPut(ctx, clientID, "ART-2", 90000))

	price, err := store.CostByBarcode(ctx, clientID, "4600000000001")
	require.NoError(t, err)
	require.Equal(t, int64(70000), price)

	price, err = store.CostByArticle(ctx, clientID, "ART-2")
	require.NoError(t, err)
	require.Equal(t, int64(90000), price)

	_, err = store.CostByBarcode(ctx, clientID, "нет такого")
	require.ErrorIs(t, err, ErrNoRows)
}
