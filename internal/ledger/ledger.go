// Пакет ledger - операции с депозитом клиента поверх журнала store.
// Баланс нигде не кэшируется, всегда выводится из журнала
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Samidius-mag/MP-sub000/internal/model"
	"github.com/Samidius-mag/MP-sub000/internal/money"
	"github.com/Samidius-mag/MP-sub000/internal/store"
)

// ErrDuplicateSettlement - списание за этот заказ уже есть в журнале.
// Для оркестратора это не ошибка, а признак повторного импорта
var ErrDuplicateSettlement = errors.New("settlement already recorded")

// InsufficientFundsError - на депозите не хватает средств. Ожидаемое
// бизнес-состояние: заказ остается new и будет оплачен на следующем
// цикле после пополнения
type InsufficientFundsError struct {
	CurrentBalance int64
	Required       int64
	Shortfall      int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: balance %s, required %s, shortfall %s",
		money.Format(e.CurrentBalance), money.Format(e.Required), money.Format(e.Shortfall))
}

// PaymentID - детерминированный идентификатор платежа по заказу.
// Без временной составляющей: повторный импорт дает тот же идентификатор
func PaymentID(key model.OrderKey) string {
	return fmt.Sprintf("order_payment:%d:%s:%s", key.ClientID, key.Marketplace, key.OrderID)
}

// RefundID - идентификатор возврата по заказу
func RefundID(key model.OrderKey) string {
	return fmt.Sprintf("return:%d:%s:%s", key.ClientID, key.Marketplace, key.OrderID)
}

// Store - нужная ledger часть хранилища
type Store interface {
	DepositBalance(ctx context.Context, clientID int64) (int64, error)
	DepositAppend(ctx context.Context, entry model.LedgerEntry) (model.LedgerEntry, error)
	DepositHistory(ctx context.Context, clientID int64) ([]model.LedgerEntry, error)
	DepositWithdrawals(ctx context.Context, clientID int64) ([]model.LedgerEntry, error)
	DepositByPaymentID(ctx context.Context, clientID int64, paymentID string) (model.LedgerEntry, error)
}

type Ledger interface {
	GetBalance(ctx context.Context, clientID int64) (int64, error)
	Deposit(ctx context.Context, clientID int64, amount int64, description string) (model.LedgerEntry, error)
	Withdraw(ctx context.Context, clientID int64, amount int64, description string) (model.LedgerEntry, error)
	DebitForOrder(ctx context.Context, order model.Order, amount int64) (model.LedgerEntry, error)
	RefundForOrder(ctx context.Context, order model.Order) (model.LedgerEntry, error)
	GetHistory(ctx context.Context, clientID int64) ([]model.LedgerEntry, error)
	GetWithdrawals(ctx context.Context, clientID int64) ([]model.LedgerEntry, error)
}

type ledger struct {
	store Store
}

func NewLedger(store Store) Ledger {
	return &ledger{store: store}
}

func (l *ledger) GetBalance(ctx context.Context, clientID int64) (int64, error) {
	return l.store.DepositBalance(ctx, clientID)
}

func (l *ledger) GetHistory(ctx context.Context, clientID int64) ([]model.LedgerEntry, error) {
	return l.store.DepositHistory(ctx, clientID)
}

func (l *ledger) GetWithdrawals(ctx context.Context, clientID int64) ([]model.LedgerEntry, error) {
	return l.store.DepositWithdrawals(ctx, clientID)
}

func (l *ledger) Deposit(ctx context.Context, clientID int64, amount int64, description string) (model.LedgerEntry, error) {
	if amount <= 0 {
		return model.LedgerEntry{}, store.ErrAmountIncorrect
	}
	entry := model.LedgerEntry{Key: model.LedgerKey{ClientID: clientID}}
	entry.Data.Amount = amount
	entry.Data.Type = model.TransactionDeposit
	entry.Data.Description = description
	return l.store.DepositAppend(ctx, entry)
}

func (l *ledger) Withdraw(ctx context.Context, clientID int64, amount int64, description string) (model.LedgerEntry, error) {
	if amount <= 0 {
		return model.LedgerEntry{}, store.ErrAmountIncorrect
	}
	entry := model.LedgerEntry{Key: model.LedgerKey{ClientID: clientID}}
	entry.Data.Amount = -amount
	entry.Data.Type = model.TransactionWithdrawal
	entry.Data.Description = description

	result, err := l.store.DepositAppend(ctx, entry)
	if errors.Is(err, store.ErrInsufficientFunds) {
		return model.LedgerEntry{}, l.insufficientFunds(ctx, entry.Key.ClientID, amount)
	}
	return result, err
}

// DebitForOrder списывает закупочную стоимость заказа. При нехватке
// средств журнал и заказ не меняются, возвращается структурная ошибка
// с балансом и недостачей
func (l *ledger) DebitForOrder(ctx context.Context, order model.Order, amount int64) (model.LedgerEntry, error) {
	if amount <= 0 {
		return model.LedgerEntry{}, store.ErrAmountIncorrect
	}

	balance, err := l.store.DepositBalance(ctx, order.Key.ClientID)
	if err != nil {
		return model.LedgerEntry{}, err
	}
	if balance < amount {
		return model.LedgerEntry{}, &InsufficientFundsError{
			CurrentBalance: balance,
			Required:       amount,
			Shortfall:      amount - balance,
		}
	}

	entry := model.LedgerEntry{Key: model.LedgerKey{ClientID: order.Key.ClientID}}
	entry.Data.Amount = -amount
	entry.Data.Type = model.TransactionOrderPayment
	entry.Data.Description = fmt.Sprintf("Оплата заказа %s (%s)", order.Key.OrderID, order.Key.Marketplace)
	entry.Data.PaymentID = PaymentID(order.Key)

	result, err := l.store.DepositAppend(ctx, entry)
	switch {
	case errors.Is(err, store.ErrDuplicateRequest):
		return model.LedgerEntry{}, ErrDuplicateSettlement
	case errors.Is(err, store.ErrInsufficientFunds):
		// гонка: баланс успел уменьшиться между чтением и записью
		return model.LedgerEntry{}, l.insufficientFunds(ctx, order.Key.ClientID, amount)
	}
	return result, err
}

// RefundForOrder возвращает списанную за заказ сумму при его отмене.
// Исправление только новой записью: исходная запись не трогается
func (l *ledger) RefundForOrder(ctx context.Context, order model.Order) (model.LedgerEntry, error) {
	payment, err := l.store.DepositByPaymentID(ctx, order.Key.ClientID, PaymentID(order.Key))
	if errors.Is(err, store.ErrNoRows) {
		// заказ не был оплачен, возвращать нечего
		return model.LedgerEntry{}, ErrDuplicateSettlement
	}
	if err != nil {
		return model.LedgerEntry{}, err
	}

	entry := model.LedgerEntry{Key: model.LedgerKey{ClientID: order.Key.ClientID}}
	entry.Data.Amount = -payment.Data.Amount // платеж отрицательный, возврат положительный
	entry.Data.Type = model.TransactionReturn
	entry.Data.Description = fmt.Sprintf("Возврат по заказу %s (%s)", order.Key.OrderID, order.Key.Marketplace)
	entry.Data.PaymentID = RefundID(order.Key)

	result, err := l.store.DepositAppend(ctx, entry)
	if errors.Is(err, store.ErrDuplicateRequest) {
		return model.LedgerEntry{}, ErrDuplicateSettlement
	}
	return result, err
}

func (l *ledger) insufficientFunds(ctx context.Context, clientID int64, required int64) error {
	balance, err := l.store.DepositBalance(ctx, clientID)
	if err != nil {
		return err
	}
	return &InsufficientFundsError{
		CurrentBalance: balance,
		Required:       required,
		Shortfall:      required - balance,
	}
}
