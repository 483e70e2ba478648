package model

import "time"

// Маркетплейсы

type Marketplace string

const (
	MarketplaceWildberries Marketplace = "wildberries"
	MarketplaceOzon        Marketplace = "ozon"
	MarketplaceYandex      Marketplace = "yandex_market"
)

// Статусы заказа. Прямой путь new -> in_assembly -> shipped -> delivered,
// cancelled достижим из любого нетерминального статуса
type Status string

const (
	StatusNew        Status = "new"
	StatusInAssembly Status = "in_assembly"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Типы заказа: FBS - отгрузка продавцом, DBW - доставка со склада
// маркетплейса, DBS - доставка продавцом
type OrderType string

const (
	OrderTypeFBS OrderType = "FBS"
	OrderTypeDBW OrderType = "DBW"
	OrderTypeDBS OrderType = "DBS"
)

// Заказы

type Order struct {
	Key  OrderKey
	Data OrderData
}

// OrderKey - тройка идентификации заказа. Одна строка на тройку
type OrderKey struct {
	ClientID    int64
	Marketplace Marketplace
	OrderID     string
}

type OrderData struct {
	Status          Status
	Type            OrderType
	TotalAmount     int64 // в минорных единицах (копейки)
	Customer        Customer
	DeliveryAddress string
	Items           []OrderItem
	TrackingNumber  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// OrderItem - позиция заказа. Хранится как JSON-массив внутри заказа,
// замещается целиком при каждом обновлении
type OrderItem struct {
	Article           string `json:"article"`
	Name              string `json:"name"`
	Quantity          int    `json:"quantity"`
	UnitPrice         int64  `json:"unit_price"`
	LineTotal         int64  `json:"line_total"`
	Brand             string `json:"brand,omitempty"`
	Barcode           string `json:"barcode,omitempty"`
	ExternalProductID string `json:"external_product_id,omitempty"`
	AssignmentID      string `json:"assignment_id,omitempty"`
	SupplierStatus    string `json:"supplier_status,omitempty"`
	MarketplaceStatus string `json:"marketplace_status,omitempty"`
}

// Депозит и история

type TransactionType string

const (
	TransactionDeposit      TransactionType = "deposit"
	TransactionWithdrawal   TransactionType = "withdrawal"
	TransactionOrderPayment TransactionType = "order_payment"
	TransactionReturn       TransactionType = "return"
)

type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusCompleted EntryStatus = "completed"
	EntryStatusFailed    EntryStatus = "failed"
)

type LedgerEntry struct {
	Key  LedgerKey
	Data LedgerData
}

type LedgerKey struct {
	ClientID  int64
	Operation int64
}

type LedgerData struct {
	Amount        int64 // со знаком: >0 пополнение, <0 списание
	BalanceBefore int64
	BalanceAfter  int64
	Type          TransactionType
	Description   string
	PaymentID     string
	Status        EntryStatus
	CreatedAt     time.Time
}

// Клиенты

type Credentials struct {
	APIKey   string
	ClientID string // Client-Id для Ozon, campaignId для Яндекс Маркета
}

type Client struct {
	ID           int64
	Name         string
	NotifyUserID int64
	Credentials  map[Marketplace]Credentials
}

func (c Client) CredentialsFor(m Marketplace) (Credentials, bool) {
	creds, ok := c.Credentials[m]
	if !ok || creds.APIKey == "" {
		return Credentials{}, false
	}
	return creds, true
}

// Настройки ценообразования клиента для одного маркетплейса

type PricingSettings struct {
	ClientID                   int64
	Marketplace                Marketplace
	TargetMarginPercent        float64
	AcquiringPercent           float64
	FirstLiterRate             int64 // тариф за первый литр, минорные единицы
	ExtraLiterRate             int64 // тариф за каждый следующий литр
	WarehouseCoef              float64
	HandlingFee                int64
	MinPurchasePrice           int64
	MaxPurchasePrice           int64
	FallbackCostRatio          float64 // доля от цены продажи, если закупочная цена неизвестна
	MaintainMarginInPromotions bool
	AutoExitPromotions         bool
}

// ProductSnapshot - кэш товара маркетплейса с текущей ценой, комиссией
// и габаритами для расчета логистики
type ProductSnapshot struct {
	ClientID          int64
	Marketplace       Marketplace
	ProductID         string
	Article           string
	Name              string
	Brand             string
	Price             int64 // текущая цена на витрине, минорные единицы
	PurchasePrice     int64 // 0, если нет в прайс-листе
	CommissionPercent float64
	WidthCM           int
	HeightCM          int
	LengthCM          int
	InPromotion       bool
	DiscountPercent   float64
	UpdatedAt         time.Time
}

// PriceChange - запись аудита изменения цены автоматикой
type PriceChange struct {
	ClientID    int64
	Marketplace Marketplace
	ProductID   string
	OldPrice    int64
	NewPrice    int64
	Reason      string
	Source      string
	CreatedAt   time.Time
}
