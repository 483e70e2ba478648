package marketplace

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Samidius-mag/MP-sub000/internal/model"
	"github.com/Samidius-mag/MP-sub000/internal/money"
)

// Ozon. Заказ = отправление (posting) с несколькими позициями.
// Цены приходят десятичными строками ("1234.5600"), перевод в копейки
// через money.Parse, без плавающей точки

type ozon struct {
	api    *resty.Client
	zaplog *zap.Logger
}

func NewOzon(addr string, zaplog *zap.Logger) Client {
	return &ozon{
		api:    newRestyClient(addr),
		zaplog: zaplog,
	}
}

// JSON ответы Ozon

type ozonPosting struct {
	PostingNumber  string    `json:"posting_number"`
	OrderID        int64     `json:"order_id"`
	Status         string    `json:"status"`
	Substatus      string    `json:"substatus"`
	CreatedAt      time.Time `json:"in_process_at"`
	TrackingNumber string    `json:"tracking_number"`
	DeliveryMethod struct {
		Name      string `json:"name"`
		Warehouse string `json:"warehouse"`
	} `json:"delivery_method"`
	Customer struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	} `json:"customer"`
	AnalyticsData struct {
		City         string `json:"city"`
		DeliveryType string `json:"delivery_type"`
	} `json:"analytics_data"`
	Products []struct {
		SKU      int64  `json:"sku"`
		OfferID  string `json:"offer_id"`
		Name     string `json:"name"`
		Price    string `json:"price"`
		Quantity int    `json:"quantity"`
	} `json:"products"`
}

type ozonListResponse struct {
	Result struct {
		Postings []ozonPosting `json:"postings"`
		HasNext  bool          `json:"has_next"`
	} `json:"result"`
}

type ozonGetResponse struct {
	Result ozonPosting `json:"result"`
}

func (oz *ozon) request(creds model.Credentials) *resty.Request {
	return oz.api.R().
		SetHeader("Client-Id", creds.ClientID).
		SetHeader("Api-Key", creds.APIKey)
}

func (oz *ozon) FetchOrders(ctx context.Context, creds model.Credentials, from, to time.Time) ([]RawOrder, error) {
	const path = "/v3/posting/fbs/list"

	var raws []RawOrder
	offset := 0
	for {
		var out ozonListResponse
		resp, err := oz.request(creds).
			SetContext(ctx).
			SetBody(map[string]any{
				"dir": "ASC",
				"filter": map[string]any{
					"since": from.Format(time.RFC3339),
					"to":    to.Format(time.RFC3339),
				},
				"limit":  1000,
				"offset": offset,
				"with":   map[string]any{"analytics_data": true},
			}).
			SetResult(&out).
			Post(path)
		if err != nil {
			return nil, err
		}
		if err := checkResponse(model.MarketplaceOzon, path, resp); err != nil {
			return nil, err
		}

		for _, p := range out.Result.Postings {
			raws = append(raws, oz.toRawOrder(p))
		}

		// пагинация смещением
		if !out.Result.HasNext {
			break
		}
		offset += len(out.Result.Postings)
	}
	return raws, nil
}

func (oz *ozon) toRawOrder(p ozonPosting) RawOrder {
	raw := RawOrder{
		ID:           p.PostingNumber,
		AssignmentID: p.PostingNumber,
		CreatedAt:    p.CreatedAt,
		IsCancel:     p.Status == "cancelled",
		Status:       p.Status,
		DeliveryType: p.AnalyticsData.DeliveryType,
		Customer: RawCustomer{
			Name:  p.Customer.Name,
			Phone: p.Customer.Phone,
			Email: p.Customer.Email,
		},
		Address:              p.AnalyticsData.City,
		WarehouseDescription: p.DeliveryMethod.Warehouse,
		TrackingNumber:       p.TrackingNumber,
	}

	for _, pr := range p.Products {
		price, err := money.Parse(pr.Price)
		if err != nil {
			oz.zaplog.Warn("ozon: не разобрана цена позиции",
				zap.String("posting", p.PostingNumber),
				zap.String("price", pr.Price))
			continue
		}
		total := price * int64(pr.Quantity)
		raw.Items = append(raw.Items, RawItem{
			ProductID: strconv.FormatInt(pr.SKU, 10),
			Article:   pr.OfferID,
			Name:      pr.Name,
			Quantity:  pr.Quantity,
			Price:     price,
			Total:     total,
		})
		raw.TotalAmount += total
	}
	return raw
}

// FetchAssignments возвращает необработанные отправления
func (oz *ozon) FetchAssignments(ctx context.Context, creds model.Credentials, orderType model.OrderType) ([]RawAssignment, error) {
	const path = "/v3/posting/fbs/unfulfilled/list"

	var out ozonListResponse
	resp, err := oz.request(creds).
		SetContext(ctx).
		SetBody(map[string]any{
			"dir":    "ASC",
			"filter": map[string]any{},
			"limit":  1000,
			"offset": 0,
		}).
		SetResult(&out).
		Post(path)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(model.MarketplaceOzon, path, resp); err != nil {
		return nil, err
	}

	assignments := make([]RawAssignment, 0, len(out.Result.Postings))
	for _, p := range out.Result.Postings {
		assignments = append(assignments, RawAssignment{
			ID:        p.PostingNumber,
			OrderID:   p.PostingNumber,
			Status:    p.Status,
			CreatedAt: p.CreatedAt,
		})
	}
	return assignments, nil
}

// FetchStatuses опрашивает отправления по одному: у Ozon нет
// группового метода статусов
func (oz *ozon) FetchStatuses(ctx context.Context, creds model.Credentials, assignmentIDs []string, orderType model.OrderType) ([]RawStatus, error) {
	const path = "/v3/posting/fbs/get"

	statuses := make([]RawStatus, 0, len(assignmentIDs))
	for _, id := range assignmentIDs {
		var out ozonGetResponse
		resp, err := oz.request(creds).
			SetContext(ctx).
			SetBody(map[string]string{"posting_number": id}).
			SetResult(&out).
			Post(path)
		if err != nil {
			return nil, err
		}
		if err := checkResponse(model.MarketplaceOzon, path, resp); err != nil {
			return nil, err
		}

		statuses = append(statuses, RawStatus{
			AssignmentID:   id,
			SupplierStatus: out.Result.Status,
			CustomerStatus: out.Result.Substatus,
		})
	}
	return statuses, nil
}

func (oz *ozon) PushPrices(ctx context.Context, creds model.Credentials, updates []PriceUpdate) error {
	const path = "/v1/product/import/prices"

	if len(updates) == 0 {
		return nil
	}

	type ozonPrice struct {
		ProductID int64  `json:"product_id"`
		Price     string `json:"price"`
	}
	prices := make([]ozonPrice, 0, len(updates))
	for _, u := range updates {
		productID, err := strconv.ParseInt(u.ProductID, 10, 64)
		if err != nil {
			oz.zaplog.Warn("ozon: нечисловой product_id, пропуск",
				zap.String("product_id", u.ProductID))
			continue
		}
		prices = append(prices, ozonPrice{
			ProductID: productID,
			Price:     money.Format(u.Price),
		})
	}

	resp, err := oz.request(creds).
		SetContext(ctx).
		SetBody(map[string]any{"prices": prices}).
		Post(path)
	if err != nil {
		return err
	}
	return checkResponse(model.MarketplaceOzon, path, resp)
}
