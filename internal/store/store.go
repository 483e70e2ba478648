package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Samidius-mag/MP-sub000/internal/model"
	"github.com/Samidius-mag/MP-sub000/internal/store/config"
)

// UpsertResult - что произошло при записи заказа. По этому значению
// оркестратор решает, списывать ли депозит
type UpsertResult struct {
	IsNew          bool
	PreviousStatus model.Status
}

// OrderFilter - фильтры списка заказов. History=false скрывает заказы
// new старше суток (застрявшие из-за пробелов выгрузки), History=true
// показывает все
type OrderFilter struct {
	Status      model.Status
	Marketplace model.Marketplace
	Search      string
	History     bool
	Limit       int
	Offset      int
}

type Store interface {
	ClientList(ctx context.Context) ([]model.Client, error)

	OrderUpsert(ctx context.Context, order model.Order) (UpsertResult, error)
	OrderList(ctx context.Context, clientID int64, f OrderFilter) ([]model.Order, error)
	OrderOpen(ctx context.Context, clientID int64, mp model.Marketplace) ([]model.Order, error)
	OrderSetStatus(ctx context.Context, key model.OrderKey, status model.Status) error

	DepositBalance(ctx context.Context, clientID int64) (int64, error)
	DepositAppend(ctx context.Context, entry model.LedgerEntry) (model.LedgerEntry, error)
	DepositHistory(ctx context.Context, clientID int64) ([]model.LedgerEntry, error)
	DepositWithdrawals(ctx context.Context, clientID int64) ([]model.LedgerEntry, error)
	DepositByPaymentID(ctx context.Context, clientID int64, paymentID string) (model.LedgerEntry, error)

	CostByBarcode(ctx context.Context, clientID int64, barcode string) (int64, error)
	CostByArticle(ctx context.Context, clientID int64, article string) (int64, error)
	WarehouseStockPut(ctx context.Context, clientID int64, barcode string, article string, purchasePrice int64, quantity int) error
	PriceListPut(ctx context.Context, clientID int64, article string, purchasePrice int64) error

	PricingSettingsGet(ctx context.Context, clientID int64, mp model.Marketplace) (model.PricingSettings, error)
	PricingSettingsPut(ctx context.Context, s model.PricingSettings) error
	ProductSnapshotUpsert(ctx context.Context, p model.ProductSnapshot) error
	ProductSnapshotGet(ctx context.Context, clientID int64, mp model.Marketplace, productID string) (model.ProductSnapshot, error)
	ProductSnapshotList(ctx context.Context, clientID int64, mp model.Marketplace) ([]model.ProductSnapshot, error)
	PriceChangeLog(ctx context.Context, c model.PriceChange) error

	Close() error
}

var (
	ErrNoRows            = errors.New("no rows")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrAmountIncorrect   = errors.New("amount value is incorrect")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type store struct {
	database *sql.DB
}

func NewStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	// Таблица клиентов с реквизитами маркетплейсов
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS clients (" +
			" id BIGSERIAL PRIMARY KEY," +
			" name VARCHAR (100) NOT NULL," +
			" notify_user_id BIGINT NOT NULL DEFAULT 0," +
			" wb_api_key TEXT NOT NULL DEFAULT ''," +
			" ozon_client_id TEXT NOT NULL DEFAULT ''," +
			" ozon_api_key TEXT NOT NULL DEFAULT ''," +
			" yandex_campaign_id TEXT NOT NULL DEFAULT ''," +
			" yandex_api_key TEXT NOT NULL DEFAULT ''" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица заказов.
	// Одна строка на тройку (клиент, маркетплейс, номер заказа),
	// позиции лежат JSON-массивом и замещаются целиком
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS orders (" +
			" client_id BIGINT NOT NULL," +
			" marketplace VARCHAR (20) NOT NULL," +
			" marketplace_order_id VARCHAR (50) NOT NULL," +
			" status VARCHAR (15) NOT NULL," +
			" order_type VARCHAR (5) NOT NULL," +
			" total_amount BIGINT NOT NULL," +
			" customer_name TEXT NOT NULL DEFAULT ''," +
			" customer_phone TEXT NOT NULL DEFAULT ''," +
			" customer_email TEXT NOT NULL DEFAULT ''," +
			" delivery_address TEXT NOT NULL DEFAULT ''," +
			" items JSONB NOT NULL DEFAULT '[]'," +
			" tracking_number TEXT NOT NULL DEFAULT ''," +
			" created_at TIMESTAMP NOT NULL," +
			" updated_at TIMESTAMP NOT NULL," +
			" PRIMARY KEY (client_id, marketplace, marketplace_order_id)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Таблица депозита.
	// Журнал только на добавление: баланс - это balance_after последней
	// завершенной записи, отдельного изменяемого поля баланса нет.
	// Записи не редактируются и не удаляются, исправление - новой
	// записью типа return
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS deposits (" +
			" client_id BIGINT NOT NULL," +
			" operation BIGSERIAL," +
			" amount BIGINT NOT NULL," +
			" balance_before BIGINT NOT NULL," +
			" balance_after BIGINT NOT NULL," +
			" transaction_type VARCHAR (15) NOT NULL," +
			" description TEXT NOT NULL DEFAULT ''," +
			" payment_id TEXT NOT NULL DEFAULT ''," +
			" status VARCHAR (10) NOT NULL," +
			" created_at TIMESTAMP NOT NULL," +
			" PRIMARY KEY (client_id, operation)" +
			" );")
	if err != nil {
		return nil, err
	}
	// Защита от повторного списания за один и тот же заказ
	_, err = db.Exec(
		"CREATE UNIQUE INDEX IF NOT EXISTS deposits_payment_id" +
			" ON deposits (client_id, payment_id)" +
			" WHERE payment_id <> '';")
	if err != nil {
		return nil, err
	}

	// Остатки склада и прайс-лист для расчета закупочной стоимости
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS warehouse_stock (" +
			" client_id BIGINT NOT NULL," +
			" barcode VARCHAR (50) NOT NULL," +
			" article VARCHAR (100) NOT NULL DEFAULT ''," +
			" purchase_price BIGINT NOT NULL," +
			" quantity INTEGER NOT NULL DEFAULT 0," +
			" PRIMARY KEY (client_id, barcode)" +
			" );")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS price_list (" +
			" client_id BIGINT NOT NULL," +
			" article VARCHAR (100) NOT NULL," +
			" purchase_price BIGINT NOT NULL," +
			" PRIMARY KEY (client_id, article)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Настройки ценообразования и кэш товаров
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS pricing_settings (" +
			" client_id BIGINT NOT NULL," +
			" marketplace VARCHAR (20) NOT NULL," +
			" target_margin_percent DOUBLE PRECISION NOT NULL," +
			" acquiring_percent DOUBLE PRECISION NOT NULL," +
			" first_liter_rate BIGINT NOT NULL," +
			" extra_liter_rate BIGINT NOT NULL," +
			" warehouse_coef DOUBLE PRECISION NOT NULL DEFAULT 1," +
			" handling_fee BIGINT NOT NULL DEFAULT 0," +
			" min_purchase_price BIGINT NOT NULL DEFAULT 0," +
			" max_purchase_price BIGINT NOT NULL DEFAULT 0," +
			" fallback_cost_ratio DOUBLE PRECISION NOT NULL DEFAULT 0.7," +
			" maintain_margin BOOLEAN NOT NULL DEFAULT FALSE," +
			" auto_exit BOOLEAN NOT NULL DEFAULT FALSE," +
			" PRIMARY KEY (client_id, marketplace)" +
			" );")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS product_cache (" +
			" client_id BIGINT NOT NULL," +
			" marketplace VARCHAR (20) NOT NULL," +
			" product_id VARCHAR (50) NOT NULL," +
			" article VARCHAR (100) NOT NULL DEFAULT ''," +
			" name TEXT NOT NULL DEFAULT ''," +
			" brand TEXT NOT NULL DEFAULT ''," +
			" price BIGINT NOT NULL," +
			" purchase_price BIGINT NOT NULL DEFAULT 0," +
			" commission_percent DOUBLE PRECISION NOT NULL DEFAULT 0," +
			" width_cm INTEGER NOT NULL DEFAULT 0," +
			" height_cm INTEGER NOT NULL DEFAULT 0," +
			" length_cm INTEGER NOT NULL DEFAULT 0," +
			" in_promotion BOOLEAN NOT NULL DEFAULT FALSE," +
			" discount_percent DOUBLE PRECISION NOT NULL DEFAULT 0," +
			" updated_at TIMESTAMP NOT NULL," +
			" PRIMARY KEY (client_id, marketplace, product_id)" +
			" );")
	if err != nil {
		return nil, err
	}

	// Аудит изменений цен автоматикой
	_, err = db.Exec(
		"CREATE TABLE IF NOT EXISTS price_changes (" +
			" id BIGSERIAL PRIMARY KEY," +
			" client_id BIGINT NOT NULL," +
			" marketplace VARCHAR (20) NOT NULL," +
			" product_id VARCHAR (50) NOT NULL," +
			" old_price BIGINT NOT NULL," +
			" new_price BIGINT NOT NULL," +
			" reason TEXT NOT NULL DEFAULT ''," +
			" source TEXT NOT NULL DEFAULT ''," +
			" created_at TIMESTAMP NOT NULL" +
			" );")
	if err != nil {
		return nil, err
	}

	return &store{database: db}, nil
}

func (store *store) Close() error {
	return store.database.Close()
}

// Клиенты

func (store *store) ClientList(ctx context.Context) ([]model.Client, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT id, name, notify_user_id,"+
			" wb_api_key, ozon_client_id, ozon_api_key,"+
			" yandex_campaign_id, yandex_api_key"+
			" FROM clients"+
			" ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []model.Client
	for rows.Next() {
		var c model.Client
		var wbKey, ozonClientID, ozonKey, yandexCampaign, yandexKey string
		err := rows.Scan(&c.ID, &c.Name, &c.NotifyUserID,
			&wbKey, &ozonClientID, &ozonKey, &yandexCampaign, &yandexKey)
		if err != nil {
			return nil, err
		}
		c.Credentials = map[model.Marketplace]model.Credentials{}
		if wbKey != "" {
			c.Credentials[model.MarketplaceWildberries] = model.Credentials{APIKey: wbKey}
		}
		if ozonKey != "" {
			c.Credentials[model.MarketplaceOzon] = model.Credentials{APIKey: ozonKey, ClientID: ozonClientID}
		}
		if yandexKey != "" {
			c.Credentials[model.MarketplaceYandex] = model.Credentials{APIKey: yandexKey, ClientID: yandexCampaign}
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// Заказы

func (store *store) OrderUpsert(ctx context.Context, order model.Order) (UpsertResult, error) {
	items, err := json.Marshal(order.Data.Items)
	if err != nil {
		return UpsertResult{}, err
	}

	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return UpsertResult{}, err
	}
	defer tx.Rollback()

	// Чтение прежнего статуса под блокировкой строки, чтобы два
	// параллельных импорта не увидели один и тот же переход
	var prev model.Status
	row := tx.QueryRowContext(ctx,
		"SELECT status FROM orders"+
			" WHERE client_id = $1 AND marketplace = $2 AND marketplace_order_id = $3"+
			" FOR UPDATE",
		order.Key.ClientID, order.Key.Marketplace, order.Key.OrderID)
	err = row.Scan(&prev)

	switch {
	case err == sql.ErrNoRows:
		_, err = tx.ExecContext(ctx,
			"INSERT INTO orders (client_id, marketplace, marketplace_order_id,"+
				" status, order_type, total_amount,"+
				" customer_name, customer_phone, customer_email,"+
				" delivery_address, items, tracking_number, created_at, updated_at)"+
				" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now())",
			order.Key.ClientID, order.Key.Marketplace, order.Key.OrderID,
			order.Data.Status, order.Data.Type, order.Data.TotalAmount,
			order.Data.Customer.Name, order.Data.Customer.Phone, order.Data.Customer.Email,
			order.Data.DeliveryAddress, items, order.Data.TrackingNumber, order.Data.CreatedAt)
		if err != nil {
			return UpsertResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return UpsertResult{}, err
		}
		return UpsertResult{IsNew: true}, nil

	case err != nil:
		return UpsertResult{}, err
	}

	// Обновление: created_at сохраняется от первой записи
	_, err = tx.ExecContext(ctx,
		"UPDATE orders"+
			" SET status = $4, order_type = $5, total_amount = $6,"+
			" customer_name = $7, customer_phone = $8, customer_email = $9,"+
			" delivery_address = $10, items = $11, tracking_number = $12,"+
			" updated_at = now()"+
			" WHERE client_id = $1 AND marketplace = $2 AND marketplace_order_id = $3",
		order.Key.ClientID, order.Key.Marketplace, order.Key.OrderID,
		order.Data.Status, order.Data.Type, order.Data.TotalAmount,
		order.Data.Customer.Name, order.Data.Customer.Phone, order.Data.Customer.Email,
		order.Data.DeliveryAddress, items, order.Data.TrackingNumber)
	if err != nil {
		return UpsertResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{IsNew: false, PreviousStatus: prev}, nil
}

const orderColumns = "client_id, marketplace, marketplace_order_id," +
	" status, order_type, total_amount," +
	" customer_name, customer_phone, customer_email," +
	" delivery_address, items, tracking_number, created_at, updated_at"

func scanOrder(rows *sql.Rows) (model.Order, error) {
	var o model.Order
	var items []byte
	err := rows.Scan(&o.Key.ClientID, &o.Key.Marketplace, &o.Key.OrderID,
		&o.Data.Status, &o.Data.Type, &o.Data.TotalAmount,
		&o.Data.Customer.Name, &o.Data.Customer.Phone, &o.Data.Customer.Email,
		&o.Data.DeliveryAddress, &items, &o.Data.TrackingNumber,
		&o.Data.CreatedAt, &o.Data.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	if err := json.Unmarshal(items, &o.Data.Items); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (store *store) OrderList(ctx context.Context, clientID int64, f OrderFilter) ([]model.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE client_id = $1"
	args := []any{clientID}

	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Marketplace != "" {
		args = append(args, f.Marketplace)
		query += fmt.Sprintf(" AND marketplace = $%d", len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+strings.ToLower(f.Search)+"%")
		query += fmt.Sprintf(" AND (LOWER(marketplace_order_id) LIKE $%d"+
			" OR LOWER(customer_name) LIKE $%d"+
			" OR LOWER(tracking_number) LIKE $%d)", len(args), len(args), len(args))
	}
	if !f.History {
		// заказы new старше суток скрываются из рабочего списка
		query += " AND NOT (status = 'new' AND created_at < now() - interval '1 day')"
	}

	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// OrderOpen возвращает нетерминальные заказы для повторного опроса статуса
func (store *store) OrderOpen(ctx context.Context, clientID int64, mp model.Marketplace) ([]model.Order, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders"+
			" WHERE client_id = $1 AND marketplace = $2"+
			"   AND status NOT IN ('delivered', 'cancelled')"+
			" ORDER BY created_at",
		clientID, mp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (store *store) OrderSetStatus(ctx context.Context, key model.OrderKey, status model.Status) error {
	res, err := store.database.ExecContext(ctx,
		"UPDATE orders SET status = $4, updated_at = now()"+
			" WHERE client_id = $1 AND marketplace = $2 AND marketplace_order_id = $3",
		key.ClientID, key.Marketplace, key.OrderID, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

// Депозит

func (store *store) DepositBalance(ctx context.Context, clientID int64) (int64, error) {
	var balance int64
	row := store.database.QueryRowContext(ctx,
		"SELECT balance_after FROM deposits"+
			" WHERE client_id = $1 AND status = 'completed'"+
			" ORDER BY operation DESC"+
			" LIMIT 1",
		clientID)
	err := row.Scan(&balance)
	if err != nil && err != sql.ErrNoRows { // нет записей - баланс ноль
		return 0, err
	}
	return balance, nil
}

// DepositAppend добавляет запись журнала. Чтение баланса и вставка
// выполняются в одной транзакции под advisory-блокировкой клиента,
// чтобы параллельные списания не порвали цепочку balance_before/after
func (store *store) DepositAppend(ctx context.Context, entry model.LedgerEntry) (model.LedgerEntry, error) {
	if entry.Data.Amount == 0 {
		return model.LedgerEntry{}, ErrAmountIncorrect
	}

	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	defer tx.Rollback()

	// Сериализация операций одного клиента
	if _, err := tx.ExecContext(ctx,
		"SELECT pg_advisory_xact_lock($1)", entry.Key.ClientID); err != nil {
		return model.LedgerEntry{}, err
	}

	// Проверка: списание за этот заказ уже было
	if entry.Data.PaymentID != "" {
		var exists int
		row := tx.QueryRowContext(ctx,
			"SELECT 1 FROM deposits"+
				" WHERE client_id = $1 AND payment_id = $2",
			entry.Key.ClientID, entry.Data.PaymentID)
		err := row.Scan(&exists)
		if err == nil {
			return model.LedgerEntry{}, ErrDuplicateRequest
		}
		if err != sql.ErrNoRows {
			return model.LedgerEntry{}, err
		}
	}

	// Актуальный баланс внутри транзакции
	var balance int64
	row := tx.QueryRowContext(ctx,
		"SELECT balance_after FROM deposits"+
			" WHERE client_id = $1 AND status = 'completed'"+
			" ORDER BY operation DESC"+
			" LIMIT 1",
		entry.Key.ClientID)
	err = row.Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return model.LedgerEntry{}, err
	}

	// Проверка достаточности средств при списании
	if entry.Data.Amount < 0 && balance+entry.Data.Amount < 0 {
		return model.LedgerEntry{}, ErrInsufficientFunds
	}

	entry.Data.BalanceBefore = balance
	entry.Data.BalanceAfter = balance + entry.Data.Amount
	if entry.Data.Status == "" {
		entry.Data.Status = model.EntryStatusCompleted
	}

	row = tx.QueryRowContext(ctx,
		"INSERT INTO deposits (client_id, amount, balance_before, balance_after,"+
			" transaction_type, description, payment_id, status, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())"+
			" RETURNING operation, created_at",
		entry.Key.ClientID, entry.Data.Amount,
		entry.Data.BalanceBefore, entry.Data.BalanceAfter,
		entry.Data.Type, entry.Data.Description, entry.Data.PaymentID, entry.Data.Status)
	err = row.Scan(&entry.Key.Operation, &entry.Data.CreatedAt)
	if err != nil {
		// Гонка по уникальному индексу payment_id
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return model.LedgerEntry{}, ErrDuplicateRequest
		}
		return model.LedgerEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.LedgerEntry{}, err
	}
	return entry, nil
}

const depositColumns = "client_id, operation, amount, balance_before, balance_after," +
	" transaction_type, description, payment_id, status, created_at"

func scanDeposit(rows *sql.Rows) (model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := rows.Scan(&e.Key.ClientID, &e.Key.Operation,
		&e.Data.Amount, &e.Data.BalanceBefore, &e.Data.BalanceAfter,
		&e.Data.Type, &e.Data.Description, &e.Data.PaymentID,
		&e.Data.Status, &e.Data.CreatedAt)
	return e, err
}

func (store *store) depositSelect(ctx context.Context, query string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (store *store) DepositHistory(ctx context.Context, clientID int64) ([]model.LedgerEntry, error) {
	return store.depositSelect(ctx,
		"SELECT "+depositColumns+" FROM deposits"+
			" WHERE client_id = $1"+
			" ORDER BY operation",
		clientID)
}

func (store *store) DepositWithdrawals(ctx context.Context, clientID int64) ([]model.LedgerEntry, error) {
	return store.depositSelect(ctx,
		"SELECT "+depositColumns+" FROM deposits"+
			" WHERE client_id = $1 AND amount < 0"+
			" ORDER BY operation",
		clientID)
}

func (store *store) DepositByPaymentID(ctx context.Context, clientID int64, paymentID string) (model.LedgerEntry, error) {
	entries, err := store.depositSelect(ctx,
		"SELECT "+depositColumns+" FROM deposits"+
			" WHERE client_id = $1 AND payment_id = $2",
		clientID, paymentID)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if len(entries) == 0 {
		return model.LedgerEntry{}, ErrNoRows
	}
	return entries[0], nil
}

// Закупочная стоимость: склад по штрихкоду, прайс-лист по артикулу

func (store *store) CostByBarcode(ctx context.Context, clientID int64, barcode string) (int64, error) {
	var price int64
	row := store.database.QueryRowContext(ctx,
		"SELECT purchase_price FROM warehouse_stock"+
			" WHERE client_id = $1 AND barcode = $2 AND quantity > 0",
		clientID, barcode)
	err := row.Scan(&price)
	if err == sql.ErrNoRows {
		return 0, ErrNoRows
	}
	return price, err
}

func (store *store) CostByArticle(ctx context.Context, clientID int64, article string) (int64, error) {
	var price int64
	row := store.database.QueryRowContext(ctx,
		"SELECT purchase_price FROM price_list"+
			" WHERE client_id = $1 AND article = $2",
		clientID, article)
	err := row.Scan(&price)
	if err == sql.ErrNoRows {
		return 0, ErrNoRows
	}
	return price, err
}

func (store *store) WarehouseStockPut(ctx context.Context, clientID int64, barcode string, article string, purchasePrice int64, quantity int) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO warehouse_stock (client_id, barcode, article, purchase_price, quantity)"+
			" VALUES ($1, $2, $3, $4, $5)"+
			" ON CONFLICT (client_id, barcode) DO UPDATE"+
			" SET article = $3, purchase_price = $4, quantity = $5",
		clientID, barcode, article, purchasePrice, quantity)
	return err
}

func (store *store) PriceListPut(ctx context.Context, clientID int64, article string, purchasePrice int64) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO price_list (client_id, article, purchase_price)"+
			" VALUES ($1, $2, $3)"+
			" ON CONFLICT (client_id, article) DO UPDATE"+
			" SET purchase_price = $3",
		clientID, article, purchasePrice)
	return err
}

// Ценообразование

func (store *store) PricingSettingsGet(ctx context.Context, clientID int64, mp model.Marketplace) (model.PricingSettings, error) {
	var s model.PricingSettings
	row := store.database.QueryRowContext(ctx,
		"SELECT client_id, marketplace, target_margin_percent, acquiring_percent,"+
			" first_liter_rate, extra_liter_rate, warehouse_coef, handling_fee,"+
			" min_purchase_price, max_purchase_price, fallback_cost_ratio,"+
			" maintain_margin, auto_exit"+
			" FROM pricing_settings"+
			" WHERE client_id = $1 AND marketplace = $2",
		clientID, mp)
	err := row.Scan(&s.ClientID, &s.Marketplace, &s.TargetMarginPercent, &s.AcquiringPercent,
		&s.FirstLiterRate, &s.ExtraLiterRate, &s.WarehouseCoef, &s.HandlingFee,
		&s.MinPurchasePrice, &s.MaxPurchasePrice, &s.FallbackCostRatio,
		&s.MaintainMarginInPromotions, &s.AutoExitPromotions)
	if err == sql.ErrNoRows {
		return model.PricingSettings{}, ErrNoRows
	}
	return s, err
}

func (store *store) PricingSettingsPut(ctx context.Context, s model.PricingSettings) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO pricing_settings (client_id, marketplace, target_margin_percent,"+
			" acquiring_percent, first_liter_rate, extra_liter_rate, warehouse_coef,"+
			" handling_fee, min_purchase_price, max_purchase_price, fallback_cost_ratio,"+
			" maintain_margin, auto_exit)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)"+
			" ON CONFLICT (client_id, marketplace) DO UPDATE"+
			" SET target_margin_percent = $3, acquiring_percent = $4,"+
			" first_liter_rate = $5, extra_liter_rate = $6, warehouse_coef = $7,"+
			" handling_fee = $8, min_purchase_price = $9, max_purchase_price = $10,"+
			" fallback_cost_ratio = $11, maintain_margin = $12, auto_exit = $13",
		s.ClientID, s.Marketplace, s.TargetMarginPercent, s.AcquiringPercent,
		s.FirstLiterRate, s.ExtraLiterRate, s.WarehouseCoef, s.HandlingFee,
		s.MinPurchasePrice, s.MaxPurchasePrice, s.FallbackCostRatio,
		s.MaintainMarginInPromotions, s.AutoExitPromotions)
	return err
}

const productColumns = "client_id, marketplace, product_id, article, name, brand," +
	" price, purchase_price, commission_percent," +
	" width_cm, height_cm, length_cm, in_promotion, discount_percent, updated_at"

func (store *store) ProductSnapshotUpsert(ctx context.Context, p model.ProductSnapshot) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO product_cache ("+productColumns+")"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())"+
			" ON CONFLICT (client_id, marketplace, product_id) DO UPDATE"+
			" SET article = $4, name = $5, brand = $6, price = $7, purchase_price = $8,"+
			" commission_percent = $9, width_cm = $10, height_cm = $11, length_cm = $12,"+
			" in_promotion = $13, discount_percent = $14, updated_at = now()",
		p.ClientID, p.Marketplace, p.ProductID, p.Article, p.Name, p.Brand,
		p.Price, p.PurchasePrice, p.CommissionPercent,
		p.WidthCM, p.HeightCM, p.LengthCM, p.InPromotion, p.DiscountPercent)
	return err
}

func scanProduct(row interface{ Scan(...any) error }) (model.ProductSnapshot, error) {
	var p model.ProductSnapshot
	err := row.Scan(&p.ClientID, &p.Marketplace, &p.ProductID, &p.Article, &p.Name, &p.Brand,
		&p.Price, &p.PurchasePrice, &p.CommissionPercent,
		&p.WidthCM, &p.HeightCM, &p.LengthCM, &p.InPromotion, &p.DiscountPercent, &p.UpdatedAt)
	return p, err
}

func (store *store) ProductSnapshotGet(ctx context.Context, clientID int64, mp model.Marketplace, productID string) (model.ProductSnapshot, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM product_cache"+
			" WHERE client_id = $1 AND marketplace = $2 AND product_id = $3",
		clientID, mp, productID)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return model.ProductSnapshot{}, ErrNoRows
	}
	return p, err
}

func (store *store) ProductSnapshotList(ctx context.Context, clientID int64, mp model.Marketplace) ([]model.ProductSnapshot, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+productColumns+" FROM product_cache"+
			" WHERE client_id = $1 AND marketplace = $2"+
			" ORDER BY product_id",
		clientID, mp)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []model.ProductSnapshot
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (store *store) PriceChangeLog(ctx context.Context, c model.PriceChange) error {
	_, err := store.database.ExecContext(ctx,
		"INSERT INTO price_changes (client_id, marketplace, product_id,"+
			" old_price, new_price, reason, source, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, now())",
		c.ClientID, c.Marketplace, c.ProductID,
		c.OldPrice, c.NewPrice, c.Reason, c.Source)
	return err
}
