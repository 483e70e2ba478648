package marketplace

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Samidius-mag/MP-sub000/internal/model"
)

// Wildberries. Один заказ = одно сборочное задание с одной позицией.
// Суммы приходят целыми числами в копейках

type wildberries struct {
	api    *resty.Client // marketplace-api
	prices *resty.Client // discounts-prices-api
	zaplog *zap.Logger
}

func NewWildberries(apiAddr string, pricesAddr string, zaplog *zap.Logger) Client {
	return &wildberries{
		api:    newRestyClient(apiAddr),
		prices: newRestyClient(pricesAddr),
		zaplog: zaplog,
	}
}

// JSON ответы Wildberries

type wbOrdersResponse struct {
	Next   int64     `json:"next"`
	Orders []wbOrder `json:"orders"`
}

type wbOrder struct {
	ID           int64     `json:"id"`
	RID          string    `json:"rid"`
	CreatedAt    time.Time `json:"createdAt"`
	IsCancel     bool      `json:"isCancel"`
	DeliveryType string    `json:"deliveryType"`
	Article      string    `json:"article"`
	NmID         int64     `json:"nmId"`
	Price        int64     `json:"price"`
	Skus         []string  `json:"skus"`
	Offices      []string  `json:"offices"`
	Address      *struct {
		FullAddress string `json:"fullAddress"`
	} `json:"address"`
}

type wbStatusesResponse struct {
	Orders []struct {
		ID             int64  `json:"id"`
		SupplierStatus string `json:"supplierStatus"`
		WbStatus       string `json:"wbStatus"`
	} `json:"orders"`
}

func (wb *wildberries) FetchOrders(ctx context.Context, creds model.Credentials, from, to time.Time) ([]RawOrder, error) {
	const path = "/api/v3/orders"

	var raws []RawOrder
	next := int64(0)
	for {
		var out wbOrdersResponse
		resp, err := wb.api.R().
			SetContext(ctx).
			SetHeader("Authorization", creds.APIKey).
			SetQueryParams(map[string]string{
				"limit":    "1000",
				"next":     strconv.FormatInt(next, 10),
				"dateFrom": strconv.FormatInt(from.Unix(), 10),
				"dateTo":   strconv.FormatInt(to.Unix(), 10),
			}).
			SetResult(&out).
			Get(path)
		if err != nil {
			return nil, err
		}
		if err := checkResponse(model.MarketplaceWildberries, path, resp); err != nil {
			return nil, err
		}

		for _, o := range out.Orders {
			raws = append(raws, wb.toRawOrder(o))
		}

		// пагинация курсором next
		if out.Next == 0 || len(out.Orders) == 0 {
			break
		}
		next = out.Next
	}
	return raws, nil
}

func (wb *wildberries) toRawOrder(o wbOrder) RawOrder {
	raw := RawOrder{
		ID:                   strconv.FormatInt(o.ID, 10),
		AssignmentID:         strconv.FormatInt(o.ID, 10),
		CreatedAt:            o.CreatedAt,
		IsCancel:             o.IsCancel,
		DeliveryType:         o.DeliveryType,
		WarehouseDescription: strings.Join(o.Offices, ", "),
		TotalAmount:          o.Price,
		TrackingNumber:       o.RID,
	}
	if o.Address != nil {
		raw.Address = o.Address.FullAddress
	}
	item := RawItem{
		ProductID: strconv.FormatInt(o.NmID, 10),
		Article:   o.Article,
		Quantity:  1,
		Price:     o.Price,
		Total:     o.Price,
	}
	if len(o.Skus) > 0 {
		item.Barcode = o.Skus[0]
	}
	raw.Items = []RawItem{item}
	return raw
}

// FetchAssignments возвращает новые сборочные задания.
// У Wildberries идентификатор задания совпадает с идентификатором заказа
func (wb *wildberries) FetchAssignments(ctx context.Context, creds model.Credentials, orderType model.OrderType) ([]RawAssignment, error) {
	const path = "/api/v3/orders/new"

	var out wbOrdersResponse
	resp, err := wb.api.R().
		SetContext(ctx).
		SetHeader("Authorization", creds.APIKey).
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(model.MarketplaceWildberries, path, resp); err != nil {
		return nil, err
	}

	assignments := make([]RawAssignment, 0, len(out.Orders))
	for _, o := range out.Orders {
		id := strconv.FormatInt(o.ID, 10)
		assignments = append(assignments, RawAssignment{
			ID:        id,
			OrderID:   id,
			Status:    "new",
			CreatedAt: o.CreatedAt,
		})
	}
	return assignments, nil
}

func (wb *wildberries) FetchStatuses(ctx context.Context, creds model.Credentials, assignmentIDs []string, orderType model.OrderType) ([]RawStatus, error) {
	const path = "/api/v3/orders/status"

	if len(assignmentIDs) == 0 {
		return nil, nil
	}

	var out wbStatusesResponse
	headers := map[string]string{"Authorization": creds.APIKey}
	if err := postWithEncodings(ctx, wb.api, model.MarketplaceWildberries, path, headers, assignmentIDs, &out); err != nil {
		return nil, err
	}

	statuses := make([]RawStatus, 0, len(out.Orders))
	for _, s := range out.Orders {
		statuses = append(statuses, RawStatus{
			AssignmentID:   strconv.FormatInt(s.ID, 10),
			SupplierStatus: s.SupplierStatus,
			CustomerStatus: s.WbStatus,
		})
	}
	return statuses, nil
}

func (wb *wildberries) PushPrices(ctx context.Context, creds model.Credentials, updates []PriceUpdate) error {
	const path = "/api/v2/upload/task"

	if len(updates) == 0 {
		return nil
	}

	type wbPrice struct {
		NmID  int64 `json:"nmID"`
		Price int64 `json:"price"`
	}
	data := make([]wbPrice, 0, len(updates))
	for _, u := range updates {
		nmID, err := strconv.ParseInt(u.ProductID, 10, 64)
		if err != nil {
			wb.zaplog.Warn("wildberries: нечисловой nmID, пропуск",
				zap.String("product_id", u.ProductID))
			continue
		}
		// API цен принимает целые рубли
		data = append(data, wbPrice{NmID: nmID, Price: u.Price / 100})
	}

	resp, err := wb.prices.R().
		SetContext(ctx).
		SetHeader("Authorization", creds.APIKey).
		SetBody(map[string]any{"data": data}).
		Post(path)
	if err != nil {
		return err
	}
	return checkResponse(model.MarketplaceWildberries, path, resp)
}
