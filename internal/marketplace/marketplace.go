// Пакет marketplace содержит клиентов внешних API маркетплейсов.
// Клиенты только получают сырые данные и не интерпретируют их:
// словарь статусов возвращается как есть, бизнес-логика живет выше.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Samidius-mag/MP-sub000/internal/model"
)

// Сырые данные маркетплейса

type RawOrder struct {
	ID                   string
	AssignmentID         string
	CreatedAt            time.Time
	IsCancel             bool
	Status               string // родная строка статуса, без преобразования
	DeliveryType         string
	WarehouseDescription string
	MarketplaceDelivery  *bool // явный признак доставки силами маркетплейса
	TotalAmount          int64 // минорные единицы
	Customer             RawCustomer
	Address              string
	TrackingNumber       string
	Items                []RawItem
}

type RawCustomer struct {
	Name  string
	Phone string
	Email string
}

type RawItem struct {
	ProductID string
	Article   string
	Barcode   string
	Name      string
	Brand     string
	Quantity  int
	Price     int64
	Total     int64
}

// RawAssignment - сборочное задание маркетплейса со своим жизненным циклом
type RawAssignment struct {
	ID        string
	OrderID   string
	Status    string
	CreatedAt time.Time
}

// RawStatus - пара статусов задания: со стороны продавца и со стороны
// покупателя. Поля могут противоречить друг другу, разбор выше
type RawStatus struct {
	AssignmentID   string
	SupplierStatus string
	CustomerStatus string
}

type PriceUpdate struct {
	ProductID string
	Price     int64
}

// Client - общий контракт клиента маркетплейса
type Client interface {
	FetchOrders(ctx context.Context, creds model.Credentials, from, to time.Time) ([]RawOrder, error)
	FetchAssignments(ctx context.Context, creds model.Credentials, orderType model.OrderType) ([]RawAssignment, error)
	FetchStatuses(ctx context.Context, creds model.Credentials, assignmentIDs []string, orderType model.OrderType) ([]RawStatus, error)
	PushPrices(ctx context.Context, creds model.Credentials, updates []PriceUpdate) error
}

// ErrPermissionScope - токен действителен, но выдан не на ту категорию
// методов. Пользователю нужно перевыпустить токен, а не менять пароль
var ErrPermissionScope = errors.New("api token lacks required scope")

// APIError - прочие ошибки HTTP-уровня
type APIError struct {
	Marketplace model.Marketplace
	Endpoint    string
	StatusCode  int
	Body        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Marketplace, e.Endpoint, e.StatusCode, e.Body)
}

// Transient сообщает, имеет ли смысл повтор на следующем цикле
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case 429, 503, 504:
		return true
	}
	return false
}

const (
	requestTimeout = 30 * time.Second
	retryCount     = 2 // всего до трех попыток
)

// newRestyClient создает HTTP-клиент с таймаутом и повтором
// временных ошибок (429/503/504, обрывы соединения).
// Заголовок Retry-After учитывается при расчете паузы
func newRestyClient(addr string) *resty.Client {
	return resty.New().
		SetBaseURL(addr).
		SetTimeout(requestTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			switch r.StatusCode() {
			case 429, 503, 504:
				return true
			}
			return false
		}).
		SetRetryAfter(func(c *resty.Client, r *resty.Response) (time.Duration, error) {
			if s := r.Header().Get("Retry-After"); s != "" {
				if sec, err := strconv.Atoi(s); err == nil {
					return time.Duration(sec) * time.Second, nil
				}
			}
			// 0 - использовать стандартную экспоненциальную паузу
			return 0, nil
		})
}

// checkResponse разбирает неуспешный ответ. 401 с указанием на область
// действия токена выделяется отдельно от прочих ошибок авторизации
func checkResponse(mp model.Marketplace, endpoint string, resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}

	body := string(resp.Body())
	if resp.StatusCode() == 401 && strings.Contains(strings.ToLower(body), "scope") {
		return fmt.Errorf("%s %s: %w", mp, endpoint, ErrPermissionScope)
	}

	return &APIError{
		Marketplace: mp,
		Endpoint:    endpoint,
		StatusCode:  resp.StatusCode(),
		Body:        truncate(body, 512),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Перебор кодировок тела запроса.
// Маркетплейсы по-разному принимают идентификаторы (число, строка,
// объект) и меняют это между версиями API. Вместо вложенных try/catch -
// упорядоченный список кодировщиков, который перебирается при отказе
// валидации (400/422) до первого успеха

type idsEncoding struct {
	name   string
	encode func(ids []string) (any, error)
}

var idsEncodings = []idsEncoding{
	{
		name: "int64",
		encode: func(ids []string) (any, error) {
			nums := make([]int64, 0, len(ids))
			for _, id := range ids {
				n, err := strconv.ParseInt(id, 10, 64)
				if err != nil {
					return nil, err
				}
				nums = append(nums, n)
			}
			return map[string]any{"orders": nums}, nil
		},
	},
	{
		name: "string",
		encode: func(ids []string) (any, error) {
			return map[string]any{"orders": ids}, nil
		},
	},
	{
		name: "object",
		encode: func(ids []string) (any, error) {
			objs := make([]map[string]string, 0, len(ids))
			for _, id := range ids {
				objs = append(objs, map[string]string{"id": id})
			}
			return map[string]any{"orders": objs}, nil
		},
	},
}

// postWithEncodings отправляет POST, перебирая кодировки идентификаторов.
// Ошибки кроме отказа валидации прерывают перебор сразу
func postWithEncodings(ctx context.Context, c *resty.Client, mp model.Marketplace, endpoint string, headers map[string]string, ids []string, out any) error {
	var lastErr error
	for _, enc := range idsEncodings {
		body, err := enc.encode(ids)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := c.R().
			SetContext(ctx).
			SetHeaders(headers).
			SetBody(body).
			SetResult(out).
			Post(endpoint)
		if err != nil {
			return err
		}
		if resp.StatusCode() == 400 || resp.StatusCode() == 422 {
			lastErr = checkResponse(mp, endpoint, resp)
			continue
		}
		return checkResponse(mp, endpoint, resp)
	}
	return fmt.Errorf("all request encodings rejected: %w", lastErr)
}
