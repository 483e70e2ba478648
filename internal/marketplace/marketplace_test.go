package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Samidius-mag/MP-sub000/internal/model"
)

func TestWildberriesFetchOrdersPagination(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/orders", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("Authorization"))

		calls++
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("next") {
		case "0":
			w.Write([]byte(`{"next": 5, "orders": [
				{"id": 101, "rid": "rid-101", "createdAt": "2026-08-20T10:00:00Z",
				 "article": "ART-1", "nmId": 555, "price": 150000, "skus": ["4600000000001"]}
			]}`))
		default:
			w.Write([]byte(`{"next": 0, "orders": [
				{"id": 102, "rid": "rid-102", "createdAt": "2026-08-21T10:00:00Z",
				 "article": "ART-2", "nmId": 556, "price": 90000, "isCancel": true}
			]}`))
		}
	}))
	defer srv.Close()

	wb := NewWildberries(srv.URL, srv.URL, zap.NewNop())
	raws, err := wb.FetchOrders(context.Background(), model.Credentials{APIKey: "test-key"},
		time.Now().Add(-24*time.Hour), time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	require.Len(t, raws, 2)
	assert.Equal(t, "101", raws[0].ID)
	assert.Equal(t, int64(150000), raws[0].TotalAmount)
	require.Len(t, raws[0].Items, 1)
	assert.Equal(t, "4600000000001", raws[0].Items[0].Barcode)
	assert.Equal(t, "555", raws[0].Items[0].ProductID)
	assert.True(t, raws[1].IsCancel)
}

// временная ошибка 429 с Retry-After повторяется, ответ приходит
// со второй попытки
func TestWildberriesRetryOn429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"next": 0, "orders": []}`))
	}))
	defer srv.Close()

	wb := NewWildberries(srv.URL, srv.URL, zap.NewNop())
	_, err := wb.FetchOrders(context.Background(), model.Credentials{APIKey: "k"},
		time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

// 401 с упоминанием области действия токена - отдельная ошибка,
// повторы бессмысленны
func TestPermissionScope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"title": "unauthorized", "detail": "token scope does not allow this method"}`))
	}))
	defer srv.Close()

	wb := NewWildberries(srv.URL, srv.URL, zap.NewNop())
	_, err := wb.FetchOrders(context.Background(), model.Credentials{APIKey: "k"},
		time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermissionScope))
}

// обычный 401 без указания на scope - APIError, не ErrPermissionScope
func TestUnauthorizedWithoutScope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"title": "unauthorized", "detail": "invalid token"}`))
	}))
	defer srv.Close()

	wb := NewWildberries(srv.URL, srv.URL, zap.NewNop())
	_, err := wb.FetchOrders(context.Background(), model.Credentials{APIKey: "k"},
		time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPermissionScope))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 401, apiErr.StatusCode)
	assert.False(t, apiErr.Transient())
}

// сервер отвергает числовую кодировку идентификаторов, строковая
// принимается; перебор останавливается на первом успехе
func TestWildberriesStatusEncodingFallback(t *testing.T) {
	var bodies []map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v3/orders/status", r.URL.Path)

		var body map[string]json.RawMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)

		var asNumbers struct {
			Orders []int64 `json:"orders"`
		}
		if err := json.Unmarshal(mustMarshal(t, body), &asNumbers); err == nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"title": "bad request", "detail": "orders must be strings"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"orders": [
			{"id": 101, "supplierStatus": "confirm", "wbStatus": "waiting"}
		]}`))
	}))
	defer srv.Close()

	wb := NewWildberries(srv.URL, srv.URL, zap.NewNop())
	statuses, err := wb.FetchStatuses(context.Background(), model.Credentials{APIKey: "k"},
		[]string{"101"}, model.OrderTypeFBS)
	require.NoError(t, err)

	assert.Len(t, bodies, 2)
	require.Len(t, statuses, 1)
	assert.Equal(t, "101", statuses[0].AssignmentID)
	assert.Equal(t, "confirm", statuses[0].SupplierStatus)
	assert.Equal(t, "waiting", statuses[0].CustomerStatus)
}

func mustMarshal(t *testing.T, body map[string]json.RawMessage) []byte {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	return b
}

func TestOzonFetchOrdersParsesPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v3/posting/fbs/list", r.URL.Path)
		require.Equal(t, "12345", r.Header.Get("Client-Id"))
		require.Equal(t, "api-key", r.Header.Get("Api-Key"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": {"has_next": false, "postings": [
			{"posting_number": "0101-1", "order_id": 7, "status": "awaiting_packaging",
			 "in_process_at": "2026-08-22T09:00:00Z",
			 "analytics_data": {"city": "Москва", "delivery_type": "FBS"},
			 "products": [
				{"sku": 900, "offer_id": "ART-9", "name": "Товар", "price": "1500.0000", "quantity": 2},
				{"sku": 901, "offer_id": "ART-10", "name": "Другой", "price": "99.90", "quantity": 1}
			]}
		]}}`))
	}))
	defer srv.Close()

	oz := NewOzon(srv.URL, zap.NewNop())
	raws, err := oz.FetchOrders(context.Background(),
		model.Credentials{APIKey: "api-key", ClientID: "12345"},
		time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	require.Len(t, raws, 1)
	raw := raws[0]
	assert.Equal(t, "0101-1", raw.ID)
	assert.Equal(t, "awaiting_packaging", raw.Status)
	require.Len(t, raw.Items, 2)
	assert.Equal(t, int64(150000), raw.Items[0].Price)
	assert.Equal(t, int64(300000), raw.Items[0].Total)
	assert.Equal(t, int64(9990), raw.Items[1].Price)
	assert.Equal(t, int64(309990), raw.TotalAmount)
}

func TestAPIErrorTransient(t *testing.T) {
	for code, want := range map[int]bool{429: true, 503: true, 504: true, 400: false, 401: false, 500: false} {
		e := &APIError{Marketplace: model.MarketplaceOzon, StatusCode: code}
		assert.Equal(t, want, e.Transient(), "status %d", code)
	}
}
