// Пакет normalizer переводит сырые данные маркетплейсов в каноническую
// модель заказа. Чистые функции без побочных эффектов
package normalizer

import (
	"errors"
	"strings"
	"time"

	"github.com/Samidius-mag/MP-sub000/internal/marketplace"
	"github.com/Samidius-mag/MP-sub000/internal/model"
)

// ErrMalformedPayload - в сыром заказе нет полей идентификации.
// Такой заказ пропускается, пакет импорта продолжается
var ErrMalformedPayload = errors.New("malformed payload")

// StaleAfter - возраст, после которого заказ без сопоставленного
// статуса считается доставленным
const StaleAfter = 72 * time.Hour

// ProductMeta - обогащение позиции из кэша товаров, когда маркетплейс
// не прислал название/бренд/артикул
type ProductMeta struct {
	Article string
	Name    string
	Brand   string
}

type MetaLookup func(productID string) (ProductMeta, bool)

// Разбор статуса.
// Правила перебираются по порядку до первого сработавшего, приоритет
// задан их положением в списке, а не вложенными условиями

type statusInput struct {
	raw marketplace.RawOrder
	st  *marketplace.RawStatus
	now time.Time
}

type statusRule struct {
	name  string
	apply func(in statusInput) (model.Status, bool)
}

var statusRules = []statusRule{
	{
		// явный флаг отмены сильнее любого статуса задания
		name: "cancel_flag",
		apply: func(in statusInput) (model.Status, bool) {
			if in.raw.IsCancel {
				return model.StatusCancelled, true
			}
			return "", false
		},
	},
	{
		// сопоставленная пара статусов сборочного задания
		name: "assignment_status",
		apply: func(in statusInput) (model.Status, bool) {
			if in.st == nil {
				return "", false
			}
			return AssignmentStatus(*in.st)
		},
	},
	{
		// старый заказ без сопоставленного статуса считаем доставленным:
		// иначе он навсегда застревает в new из-за пробелов выгрузки
		name: "stale_delivered",
		apply: func(in statusInput) (model.Status, bool) {
			if in.raw.CreatedAt.IsZero() {
				return "", false
			}
			if in.now.Sub(in.raw.CreatedAt) > StaleAfter {
				return model.StatusDelivered, true
			}
			return "", false
		},
	},
	{
		// родное простое поле статуса
		name: "native_status",
		apply: func(in statusInput) (model.Status, bool) {
			st, ok := nativeStatuses[in.raw.Status]
			return st, ok
		},
	},
}

func resolveStatus(in statusInput) model.Status {
	for _, rule := range statusRules {
		if st, ok := rule.apply(in); ok {
			return st
		}
	}
	return model.StatusNew
}

// Статус покупателя может перекрывать статус продавца: "товар получен"
// означает доставку независимо от того, что видит продавец
var customerOverrides = map[string]model.Status{
	"sold":               model.StatusDelivered,
	"received":           model.StatusDelivered,
	"canceled":           model.StatusCancelled,
	"canceled_by_client": model.StatusCancelled,
	"declined_by_client": model.StatusCancelled,
}

var supplierStatuses = map[string]model.Status{
	"new":                model.StatusNew,
	"awaiting_packaging": model.StatusNew,
	"awaiting_approve":   model.StatusNew,
	"confirm":            model.StatusInAssembly,
	"awaiting_deliver":   model.StatusInAssembly,
	"PROCESSING":         model.StatusInAssembly,
	"complete":           model.StatusShipped,
	"deliver":            model.StatusShipped,
	"delivering":         model.StatusShipped,
	"DELIVERY":           model.StatusShipped,
	"PICKUP":             model.StatusShipped,
	"delivered":          model.StatusDelivered,
	"DELIVERED":          model.StatusDelivered,
	"cancel":             model.StatusCancelled,
	"cancelled":          model.StatusCancelled,
	"CANCELLED":          model.StatusCancelled,
}

// AssignmentStatus сопоставляет пару статусов задания с каноническим
// статусом. Сначала перекрытия покупателя, затем словарь продавца
func AssignmentStatus(st marketplace.RawStatus) (model.Status, bool) {
	if s, ok := customerOverrides[st.CustomerStatus]; ok {
		return s, true
	}
	if s, ok := supplierStatuses[st.SupplierStatus]; ok {
		return s, true
	}
	return "", false
}

// Простые статусы Ozon и Яндекс Маркета
var nativeStatuses = map[string]model.Status{
	"awaiting_packaging": model.StatusNew,
	"awaiting_approve":   model.StatusNew,
	"UNPAID":             model.StatusNew,
	"awaiting_deliver":   model.StatusInAssembly,
	"PROCESSING":         model.StatusInAssembly,
	"delivering":         model.StatusShipped,
	"driver_pickup":      model.StatusShipped,
	"DELIVERY":           model.StatusShipped,
	"PICKUP":             model.StatusShipped,
	"delivered":          model.StatusDelivered,
	"DELIVERED":          model.StatusDelivered,
	"cancelled":          model.StatusCancelled,
	"CANCELLED":          model.StatusCancelled,
}

// Тип заказа: явный признак -> строка типа доставки -> текст склада -> FBS

func classifyOrderType(raw marketplace.RawOrder) model.OrderType {
	if raw.MarketplaceDelivery != nil {
		if *raw.MarketplaceDelivery {
			return model.OrderTypeDBW
		}
		return model.OrderTypeFBS
	}

	switch strings.ToLower(raw.DeliveryType) {
	case "fbs":
		return model.OrderTypeFBS
	case "dbs", "courier_seller":
		return model.OrderTypeDBS
	case "dbw", "fbo", "fby", "wbgo":
		return model.OrderTypeDBW
	}

	warehouse := strings.ToLower(raw.WarehouseDescription)
	switch {
	case strings.Contains(warehouse, "маркетплейс") || strings.Contains(warehouse, "склад wb") || strings.Contains(warehouse, "склад ozon"):
		return model.OrderTypeDBW
	case strings.Contains(warehouse, "продавц") || strings.Contains(warehouse, "своими силами"):
		return model.OrderTypeDBS
	}

	return model.OrderTypeFBS
}

// Normalize собирает канонический заказ из сырого заказа, пары статусов
// задания (если нашлась) и кэша товаров (если передан)
func Normalize(clientID int64, mp model.Marketplace, raw marketplace.RawOrder, st *marketplace.RawStatus, meta MetaLookup) (model.Order, error) {
	if raw.ID == "" || clientID == 0 {
		return model.Order{}, ErrMalformedPayload
	}

	now := time.Now()
	createdAt := raw.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	order := model.Order{
		Key: model.OrderKey{
			ClientID:    clientID,
			Marketplace: mp,
			OrderID:     raw.ID,
		},
		Data: model.OrderData{
			Status: resolveStatus(statusInput{raw: raw, st: st, now: now}),
			Type:   classifyOrderType(raw),
			Customer: model.Customer{
				Name:  raw.Customer.Name,
				Phone: raw.Customer.Phone,
				Email: raw.Customer.Email,
			},
			DeliveryAddress: raw.Address,
			TrackingNumber:  raw.TrackingNumber,
			TotalAmount:     raw.TotalAmount,
			CreatedAt:       createdAt,
			UpdatedAt:       now,
		},
	}

	for _, ri := range raw.Items {
		// позиция без идентификации пропускается, заказ остается
		if ri.Article == "" && ri.ProductID == "" {
			continue
		}

		item := model.OrderItem{
			Article:           ri.Article,
			Name:              ri.Name,
			Quantity:          ri.Quantity,
			UnitPrice:         ri.Price,
			LineTotal:         ri.Total,
			Brand:             ri.Brand,
			Barcode:           ri.Barcode,
			ExternalProductID: ri.ProductID,
			AssignmentID:      raw.AssignmentID,
		}
		if item.Quantity <= 0 {
			item.Quantity = 1
		}
		if item.LineTotal == 0 {
			item.LineTotal = item.UnitPrice * int64(item.Quantity)
		}
		if st != nil {
			item.SupplierStatus = st.SupplierStatus
			item.MarketplaceStatus = st.CustomerStatus
		}

		// обогащение из кэша товаров
		if meta != nil && ri.ProductID != "" {
			if m, ok := meta(ri.ProductID); ok {
				if item.Article == "" {
					item.Article = m.Article
				}
				if item.Name == "" {
					item.Name = m.Name
				}
				if item.Brand == "" {
					item.Brand = m.Brand
				}
			}
		}

		order.Data.Items = append(order.Data.Items, item)
	}

	if order.Data.TotalAmount == 0 {
		for _, it := range order.Data.Items {
			order.Data.TotalAmount += it.LineTotal
		}
	}

	return order, nil
}
