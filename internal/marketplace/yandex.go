package marketplace

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/Samidius-mag/MP-sub000/internal/model"
)

// Яндекс Маркет. Кампания (creds.ClientID) входит в путь запроса.
// Суммы приходят числами в рублях, перевод в копейки с округлением
// на границе API

type yandex struct {
	api    *resty.Client
	zaplog *zap.Logger
}

func NewYandex(addr string, zaplog *zap.Logger) Client {
	return &yandex{
		api:    newRestyClient(addr),
		zaplog: zaplog,
	}
}

const yandexDateLayout = "02-01-2006 15:04:05"

// JSON ответы Яндекс Маркета

type yandexOrder struct {
	ID           int64  `json:"id"`
	Status       string `json:"status"`
	Substatus    string `json:"substatus"`
	CreationDate string `json:"creationDate"`
	Fake         bool   `json:"fake"`
	ItemsTotal   float64 `json:"itemsTotal"`
	Items        []struct {
		OfferID   string  `json:"offerId"`
		OfferName string  `json:"offerName"`
		Count     int     `json:"count"`
		Price     float64 `json:"price"`
		ShopSku   string  `json:"shopSku"`
	} `json:"items"`
	Delivery struct {
		Type    string `json:"type"`
		Address struct {
			Country string `json:"country"`
			City    string `json:"city"`
			Street  string `json:"street"`
			House   string `json:"house"`
		} `json:"address"`
	} `json:"delivery"`
	Buyer struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Phone     string `json:"phone"`
		Email     string `json:"email"`
	} `json:"buyer"`
}

type yandexOrdersResponse struct {
	Orders []yandexOrder `json:"orders"`
	Pager  struct {
		PagesCount  int `json:"pagesCount"`
		CurrentPage int `json:"currentPage"`
	} `json:"pager"`
}

type yandexOrderResponse struct {
	Order yandexOrder `json:"order"`
}

func toMinor(rub float64) int64 {
	return int64(math.Round(rub * 100))
}

func (ya *yandex) FetchOrders(ctx context.Context, creds model.Credentials, from, to time.Time) ([]RawOrder, error) {
	path := fmt.Sprintf("/campaigns/%s/orders", creds.ClientID)

	var raws []RawOrder
	page := 1
	for {
		var out yandexOrdersResponse
		resp, err := ya.api.R().
			SetContext(ctx).
			SetHeader("Api-Key", creds.APIKey).
			SetQueryParams(map[string]string{
				"fromDate": from.Format("02-01-2006"),
				"toDate":   to.Format("02-01-2006"),
				"page":     strconv.Itoa(page),
				"pageSize": "50",
			}).
			SetResult(&out).
			Get(path)
		if err != nil {
			return nil, err
		}
		if err := checkResponse(model.MarketplaceYandex, path, resp); err != nil {
			return nil, err
		}

		for _, o := range out.Orders {
			// тестовые заказы Маркета не импортируем
			if o.Fake {
				continue
			}
			raws = append(raws, ya.toRawOrder(o))
		}

		// пагинация номером страницы
		if out.Pager.CurrentPage >= out.Pager.PagesCount || len(out.Orders) == 0 {
			break
		}
		page++
	}
	return raws, nil
}

func (ya *yandex) toRawOrder(o yandexOrder) RawOrder {
	id := strconv.FormatInt(o.ID, 10)
	raw := RawOrder{
		ID:           id,
		AssignmentID: id,
		IsCancel:     o.Status == "CANCELLED",
		Status:       o.Status,
		DeliveryType: o.Delivery.Type,
		TotalAmount:  toMinor(o.ItemsTotal),
		Customer: RawCustomer{
			Name:  o.Buyer.FirstName + " " + o.Buyer.LastName,
			Phone: o.Buyer.Phone,
			Email: o.Buyer.Email,
		},
		Address: fmt.Sprintf("%s, %s, %s %s",
			o.Delivery.Address.Country,
			o.Delivery.Address.City,
			o.Delivery.Address.Street,
			o.Delivery.Address.House),
	}
	if t, err := time.Parse(yandexDateLayout, o.CreationDate); err == nil {
		raw.CreatedAt = t
	}
	for _, it := range o.Items {
		price := toMinor(it.Price)
		raw.Items = append(raw.Items, RawItem{
			ProductID: it.ShopSku,
			Article:   it.OfferID,
			Name:      it.OfferName,
			Quantity:  it.Count,
			Price:     price,
			Total:     price * int64(it.Count),
		})
	}
	return raw
}

// FetchAssignments возвращает заказы в обработке
func (ya *yandex) FetchAssignments(ctx context.Context, creds model.Credentials, orderType model.OrderType) ([]RawAssignment, error) {
	path := fmt.Sprintf("/campaigns/%s/orders", creds.ClientID)

	var out yandexOrdersResponse
	resp, err := ya.api.R().
		SetContext(ctx).
		SetHeader("Api-Key", creds.APIKey).
		SetQueryParam("status", "PROCESSING").
		SetResult(&out).
		Get(path)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(model.MarketplaceYandex, path, resp); err != nil {
		return nil, err
	}

	assignments := make([]RawAssignment, 0, len(out.Orders))
	for _, o := range out.Orders {
		id := strconv.FormatInt(o.ID, 10)
		a := RawAssignment{ID: id, OrderID: id, Status: o.Status}
		if t, err := time.Parse(yandexDateLayout, o.CreationDate); err == nil {
			a.CreatedAt = t
		}
		assignments = append(assignments, a)
	}
	return assignments, nil
}

// FetchStatuses опрашивает заказы по одному
func (ya *yandex) FetchStatuses(ctx context.Context, creds model.Credentials, assignmentIDs []string, orderType model.OrderType) ([]RawStatus, error) {
	statuses := make([]RawStatus, 0, len(assignmentIDs))
	for _, id := range assignmentIDs {
		path := fmt.Sprintf("/campaigns/%s/orders/%s", creds.ClientID, id)

		var out yandexOrderResponse
		resp, err := ya.api.R().
			SetContext(ctx).
			SetHeader("Api-Key", creds.APIKey).
			SetResult(&out).
			Get(path)
		if err != nil {
			return nil, err
		}
		if err := checkResponse(model.MarketplaceYandex, path, resp); err != nil {
			return nil, err
		}

		statuses = append(statuses, RawStatus{
			AssignmentID:   id,
			SupplierStatus: out.Order.Status,
			CustomerStatus: out.Order.Substatus,
		})
	}
	return statuses, nil
}

func (ya *yandex) PushPrices(ctx context.Context, creds model.Credentials, updates []PriceUpdate) error {
	path := fmt.Sprintf("/campaigns/%s/offer-prices/updates", creds.ClientID)

	if len(updates) == 0 {
		return nil
	}

	type yandexPrice struct {
		OfferID string `json:"offerId"`
		Price   struct {
			Value      float64 `json:"value"`
			CurrencyID string  `json:"currencyId"`
		} `json:"price"`
	}
	offers := make([]yandexPrice, 0, len(updates))
	for _, u := range updates {
		p := yandexPrice{OfferID: u.ProductID}
		p.Price.Value = float64(u.Price) / 100
		p.Price.CurrencyID = "RUR"
		offers = append(offers, p)
	}

	resp, err := ya.api.R().
		SetContext(ctx).
		SetHeader("Api-Key", creds.APIKey).
		SetBody(map[string]any{"offers": offers}).
		Post(path)
	if err != nil {
		return err
	}
	return checkResponse(model.MarketplaceYandex, path, resp)
}
