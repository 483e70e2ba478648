package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Samidius-mag/MP-sub000/internal/marketplace"
	"github.com/Samidius-mag/MP-sub000/internal/model"
	"github.com/Samidius-mag/MP-sub000/internal/money"
	"github.com/Samidius-mag/MP-sub000/internal/notifier"
	"github.com/Samidius-mag/MP-sub000/internal/pricing/config"
	"github.com/Samidius-mag/MP-sub000/internal/store"
)

// Store - нужная автоматике цен часть хранилища
type Store interface {
	ClientList(ctx context.Context) ([]model.Client, error)
	PricingSettingsGet(ctx context.Context, clientID int64, mp model.Marketplace) (model.PricingSettings, error)
	ProductSnapshotList(ctx context.Context, clientID int64, mp model.Marketplace) ([]model.ProductSnapshot, error)
	PriceChangeLog(ctx context.Context, c model.PriceChange) error
}

// Automation периодически пересчитывает цены по кэшу товаров и
// отправляет изменившиеся на маркетплейс, с аудитом каждого изменения
type Automation struct {
	cfg      config.Config
	store    Store
	clients  map[model.Marketplace]marketplace.Client
	notifier notifier.Notifier
	zaplog   *zap.Logger
}

func NewAutomation(cfg config.Config, store Store,
	clients map[model.Marketplace]marketplace.Client,
	notifier notifier.Notifier, zaplog *zap.Logger) *Automation {

	return &Automation{
		cfg:      cfg,
		store:    store,
		clients:  clients,
		notifier: notifier,
		zaplog:   zaplog,
	}
}

func (a *Automation) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := a.RunPass(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunPass - один проход по всем клиентам. Ошибки одного товара или
// клиента не прерывают проход
func (a *Automation) RunPass(ctx context.Context) error {
	clients, err := a.store.ClientList(ctx)
	if err != nil {
		return err
	}

	for _, cl := range clients {
		for mp, mc := range a.clients {
			creds, ok := cl.CredentialsFor(mp)
			if !ok {
				continue
			}
			a.processMarketplace(ctx, cl, mp, mc, creds)
		}
	}
	return nil
}

func (a *Automation) processMarketplace(ctx context.Context, cl model.Client,
	mp model.Marketplace, mc marketplace.Client, creds model.Credentials) {

	settings, err := a.store.PricingSettingsGet(ctx, cl.ID, mp)
	if errors.Is(err, store.ErrNoRows) {
		// ценообразование для клиента не настроено
		return
	}
	if err != nil {
		a.zaplog.Error("настройки ценообразования не прочитаны",
			zap.Int64("client_id", cl.ID),
			zap.String("marketplace", string(mp)),
			zap.Error(err))
		return
	}

	products, err := a.store.ProductSnapshotList(ctx, cl.ID, mp)
	if err != nil {
		a.zaplog.Error("кэш товаров не прочитан",
			zap.Int64("client_id", cl.ID),
			zap.String("marketplace", string(mp)),
			zap.Error(err))
		return
	}

	var updates []marketplace.PriceUpdate
	infeasible := 0
	for _, p := range products {
		result, err := CalculateOptimalPrice(p, settings, a.cfg.ToleranceMinor)

		var inf *InfeasibleError
		if errors.As(err, &inf) {
			// параметры не оставляют места для цены: товар пропускается,
			// владельцу настроек сообщается один раз за проход
			infeasible++
			a.zaplog.Warn("расчет цены невозможен",
				zap.Int64("client_id", cl.ID),
				zap.String("product_id", p.ProductID),
				zap.Float64("denominator", inf.Denominator))
			continue
		}
		if err != nil {
			a.zaplog.Error("расчет цены не выполнен",
				zap.Int64("client_id", cl.ID),
				zap.String("product_id", p.ProductID),
				zap.Error(err))
			continue
		}

		switch result.RecommendedAction {
		case ActionAdjustPrice:
			updates = append(updates, marketplace.PriceUpdate{
				ProductID: p.ProductID,
				Price:     result.ListedPrice,
			})
			if err := a.store.PriceChangeLog(ctx, model.PriceChange{
				ClientID:    cl.ID,
				Marketplace: mp,
				ProductID:   p.ProductID,
				OldPrice:    p.Price,
				NewPrice:    result.ListedPrice,
				Reason:      string(result.RecommendedAction),
				Source:      "pricing_automation",
			}); err != nil {
				a.zaplog.Error("аудит изменения цены не записан",
					zap.Int64("client_id", cl.ID),
					zap.String("product_id", p.ProductID),
					zap.Error(err))
			}

		case ActionExitPromotion:
			a.notifier.Notify(ctx, cl.NotifyUserID,
				"Рекомендован выход из акции",
				fmt.Sprintf("Товар %s: маржа %.1f%% ниже половины целевой. Выведите товар из акции",
					p.ProductID, result.RealizedMarginPercent))

		case ActionWarningLowMargin:
			a.notifier.Notify(ctx, cl.NotifyUserID,
				"Низкая маржа",
				fmt.Sprintf("Товар %s: маржа %.1f%% при цене %s",
					p.ProductID, result.RealizedMarginPercent, money.Format(p.Price)))
		}
	}

	if infeasible > 0 {
		a.notifier.Notify(ctx, cl.NotifyUserID,
			"Ошибка настроек ценообразования",
			fmt.Sprintf("Для %d товаров (%s) комиссия, эквайринг и целевая маржа не оставляют места для цены",
				infeasible, mp))
	}

	if len(updates) == 0 {
		return
	}
	if err := mc.PushPrices(ctx, creds, updates); err != nil {
		a.zaplog.Error("цены не отправлены",
			zap.Int64("client_id", cl.ID),
			zap.String("marketplace", string(mp)),
			zap.Error(err))
		return
	}
	a.zaplog.Info("цены обновлены",
		zap.Int64("client_id", cl.ID),
		zap.String("marketplace", string(mp)),
		zap.Int("count", len(updates)))
}
