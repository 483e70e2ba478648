package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Samidius-mag/MP-sub000/internal/marketplace"
	"github.com/Samidius-mag/MP-sub000/internal/model"
)

func TestResolveStatusPrecedence(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		raw  marketplace.RawOrder
		st   *marketplace.RawStatus
		want model.Status
	}{
		{
			// флаг отмены сильнее статуса задания
			name: "флаг отмены против confirm",
			raw:  marketplace.RawOrder{IsCancel: true, CreatedAt: now},
			st:   &marketplace.RawStatus{SupplierStatus: "confirm"},
			want: model.StatusCancelled,
		},
		{
			name: "статус задания confirm",
			raw:  marketplace.RawOrder{CreatedAt: now},
			st:   &marketplace.RawStatus{SupplierStatus: "confirm"},
			want: model.StatusInAssembly,
		},
		{
			// статус покупателя перекрывает статус продавца
			name: "sold перекрывает confirm",
			raw:  marketplace.RawOrder{CreatedAt: now},
			st:   &marketplace.RawStatus{SupplierStatus: "confirm", CustomerStatus: "sold"},
			want: model.StatusDelivered,
		},
		{
			name: "отмена покупателем перекрывает deliver",
			raw:  marketplace.RawOrder{CreatedAt: now},
			st:   &marketplace.RawStatus{SupplierStatus: "deliver", CustomerStatus: "canceled_by_client"},
			want: model.StatusCancelled,
		},
		{
			// старый заказ без сопоставленного статуса считается доставленным
			name: "просроченный без статуса",
			raw:  marketplace.RawOrder{CreatedAt: now.Add(-4 * 24 * time.Hour)},
			st:   nil,
			want: model.StatusDelivered,
		},
		{
			// просрочка сильнее родного статуса
			name: "просроченный с родным статусом",
			raw:  marketplace.RawOrder{CreatedAt: now.Add(-5 * 24 * time.Hour), Status: "delivering"},
			st:   nil,
			want: model.StatusDelivered,
		},
		{
			name: "родной статус ozon",
			raw:  marketplace.RawOrder{CreatedAt: now, Status: "delivering"},
			st:   nil,
			want: model.StatusShipped,
		},
		{
			name: "родной статус яндекса",
			raw:  marketplace.RawOrder{CreatedAt: now, Status: "PROCESSING"},
			st:   nil,
			want: model.StatusInAssembly,
		},
		{
			name: "ничего не известно",
			raw:  marketplace.RawOrder{CreatedAt: now},
			st:   nil,
			want: model.StatusNew,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveStatus(statusInput{raw: tt.raw, st: tt.st, now: now})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyOrderType(t *testing.T) {
	dbw := true
	fbs := false

	tests := []struct {
		name string
		raw  marketplace.RawOrder
		want model.OrderType
	}{
		{"явный признак доставки маркетплейсом", marketplace.RawOrder{MarketplaceDelivery: &dbw}, model.OrderTypeDBW},
		{"явный признак отгрузки продавцом", marketplace.RawOrder{MarketplaceDelivery: &fbs, DeliveryType: "dbs"}, model.OrderTypeFBS},
		{"тип доставки dbs", marketplace.RawOrder{DeliveryType: "dbs"}, model.OrderTypeDBS},
		{"тип доставки fbo", marketplace.RawOrder{DeliveryType: "fbo"}, model.OrderTypeDBW},
		{"текст склада", marketplace.RawOrder{WarehouseDescription: "Склад WB Коледино"}, model.OrderTypeDBW},
		{"доставка своими силами", marketplace.RawOrder{WarehouseDescription: "доставка своими силами"}, model.OrderTypeDBS},
		{"по умолчанию FBS", marketplace.RawOrder{}, model.OrderTypeFBS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyOrderType(tt.raw))
		})
	}
}

func TestNormalize(t *testing.T) {
	raw := marketplace.RawOrder{
		ID:           "716523456",
		AssignmentID: "716523456",
		CreatedAt:    time.Now().Add(-time.Hour),
		DeliveryType: "fbs",
		TotalAmount:  0, // сумма должна сложиться из позиций
		Customer:     marketplace.RawCustomer{Name: "Иванов И.", Phone: "+79990001122"},
		Address:      "Москва, ул. Ленина, 1",
		Items: []marketplace.RawItem{
			{ProductID: "123456", Article: "ART-1", Quantity: 2, Price: 50000},
			{ProductID: "", Article: ""}, // битая позиция пропускается
		},
	}
	st := &marketplace.RawStatus{AssignmentID: "716523456", SupplierStatus: "confirm", CustomerStatus: "waiting"}

	meta := func(productID string) (ProductMeta, bool) {
		require.Equal(t, "123456", productID)
		return ProductMeta{Name: "Кружка", Brand: "ACME"}, true
	}

	order, err := Normalize(42, model.MarketplaceWildberries, raw, st, meta)
	require.NoError(t, err)

	assert.Equal(t, model.OrderKey{ClientID: 42, Marketplace: model.MarketplaceWildberries, OrderID: "716523456"}, order.Key)
	assert.Equal(t, model.StatusInAssembly, order.Data.Status)
	assert.Equal(t, model.OrderTypeFBS, order.Data.Type)
	require.Len(t, order.Data.Items, 1)

	item := order.Data.Items[0]
	assert.Equal(t, "Кружка", item.Name)
	assert.Equal(t, "ACME", item.Brand)
	assert.Equal(t, "ART-1", item.Article)
	assert.Equal(t, int64(100000), item.LineTotal)
	assert.Equal(t, "confirm", item.SupplierStatus)
	assert.Equal(t, int64(100000), order.Data.TotalAmount)
}

func TestNormalizeMalformed(t *testing.T) {
	_, err := Normalize(42, model.MarketplaceOzon, marketplace.RawOrder{}, nil, nil)
	require.ErrorIs(t, err, ErrMalformedPayload)
}
