// Пакет settlement - оркестратор цикла импорта и оплаты заказов.
// Один цикл: получить сырые заказы, нормализовать, записать, списать
// депозит за заказы, впервые ставшие оплачиваемыми, обновить статусы
// открытых заказов
package settlement

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Samidius-mag/MP-sub000/internal/ledger"
	"github.com/Samidius-mag/MP-sub000/internal/marketplace"
	"github.com/Samidius-mag/MP-sub000/internal/model"
	"github.com/Samidius-mag/MP-sub000/internal/money"
	"github.com/Samidius-mag/MP-sub000/internal/normalizer"
	"github.com/Samidius-mag/MP-sub000/internal/notifier"
	"github.com/Samidius-mag/MP-sub000/internal/settlement/config"
	"github.com/Samidius-mag/MP-sub000/internal/store"
)

// Store - нужная оркестратору часть хранилища
type Store interface {
	ClientList(ctx context.Context) ([]model.Client, error)
	OrderUpsert(ctx context.Context, order model.Order) (store.UpsertResult, error)
	OrderOpen(ctx context.Context, clientID int64, mp model.Marketplace) ([]model.Order, error)
	OrderSetStatus(ctx context.Context, key model.OrderKey, status model.Status) error
	CostByBarcode(ctx context.Context, clientID int64, barcode string) (int64, error)
	CostByArticle(ctx context.Context, clientID int64, article string) (int64, error)
	ProductSnapshotGet(ctx context.Context, clientID int64, mp model.Marketplace, productID string) (model.ProductSnapshot, error)
	PricingSettingsGet(ctx context.Context, clientID int64, mp model.Marketplace) (model.PricingSettings, error)
}

type Orchestrator struct {
	cfg      config.Config
	store    Store
	ledger   ledger.Ledger
	clients  map[model.Marketplace]marketplace.Client
	notifier notifier.Notifier
	zaplog   *zap.Logger
}

func NewOrchestrator(cfg config.Config, store Store, ledger ledger.Ledger,
	clients map[model.Marketplace]marketplace.Client,
	notifier notifier.Notifier, zaplog *zap.Logger) *Orchestrator {

	if cfg.ClientConcurrency <= 0 {
		cfg.ClientConcurrency = 4
	}
	if cfg.ImportWindow <= 0 {
		cfg.ImportWindow = 7 * 24 * time.Hour
	}
	if cfg.FallbackCostRatio <= 0 {
		cfg.FallbackCostRatio = 0.7
	}

	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		ledger:   ledger,
		clients:  clients,
		notifier: notifier,
		zaplog:   zaplog,
	}
}

// Run крутит циклы импорта до отмены контекста
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		if err := o.RunCycle(ctx); err != nil {
			// ошибка уровня ресурсов (база недоступна) - останов
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle выполняет один цикл по всем клиентам. Клиенты независимы
// и обрабатываются параллельно с ограничением; ошибка одного клиента
// не прерывает остальных
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	clients, err := o.store.ClientList(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.ClientConcurrency)
	for _, cl := range clients {
		cl := cl
		g.Go(func() error {
			o.processClient(gctx, cl)
			return nil
		})
	}
	return g.Wait()
}

func (o *Orchestrator) processClient(ctx context.Context, cl model.Client) {
	for mp, mc := range o.clients {
		creds, ok := cl.CredentialsFor(mp)
		if !ok {
			o.zaplog.Debug("маркетплейс не настроен",
				zap.Int64("client_id", cl.ID),
				zap.String("marketplace", string(mp)))
			continue
		}

		if err := o.importMarketplace(ctx, cl, mp, mc, creds); err != nil {
			if errors.Is(err, marketplace.ErrPermissionScope) {
				// токен без нужной области действия: требуется перевыпуск,
				// повторы бесполезны до ручного вмешательства
				o.zaplog.Warn("токен без нужных прав",
					zap.Int64("client_id", cl.ID),
					zap.String("marketplace", string(mp)),
					zap.Error(err))
				o.notifier.Notify(ctx, cl.NotifyUserID,
					"Неверные права API-токена",
					"Перевыпустите токен "+string(mp)+" с правами на работу с заказами")
			} else {
				o.zaplog.Error("импорт не выполнен",
					zap.Int64("client_id", cl.ID),
					zap.String("marketplace", string(mp)),
					zap.Error(err))
			}
			continue
		}

		if err := o.refreshOpenOrders(ctx, cl, mp, mc, creds); err != nil {
			o.zaplog.Error("обновление открытых заказов не выполнено",
				zap.Int64("client_id", cl.ID),
				zap.String("marketplace", string(mp)),
				zap.Error(err))
		}
	}
}

func (o *Orchestrator) importMarketplace(ctx context.Context, cl model.Client,
	mp model.Marketplace, mc marketplace.Client, creds model.Credentials) error {

	to := time.Now()
	from := to.Add(-o.cfg.ImportWindow)

	raws, err := mc.FetchOrders(ctx, creds, from, to)
	if err != nil {
		return err
	}

	statusByID := o.fetchStatusMap(ctx, cl, mp, mc, creds, raws)

	for _, raw := range raws {
		var st *marketplace.RawStatus
		if s, ok := statusByID[raw.AssignmentID]; ok {
			st = &s
		}

		order, err := normalizer.Normalize(cl.ID, mp, raw, st, o.metaLookup(ctx, cl.ID, mp))
		if err != nil {
			// битый заказ пропускается, пакет продолжается
			o.zaplog.Warn("заказ не нормализован",
				zap.Int64("client_id", cl.ID),
				zap.String("marketplace", string(mp)),
				zap.String("raw_id", raw.ID),
				zap.Error(err))
			continue
		}

		res, err := o.store.OrderUpsert(ctx, order)
		if err != nil {
			// сбой записи одного заказа не валит пакет
			o.zaplog.Error("заказ не записан",
				zap.Int64("client_id", cl.ID),
				zap.String("marketplace", string(mp)),
				zap.String("order_id", order.Key.OrderID),
				zap.Error(err))
			continue
		}

		// Заказ подлежит оплате: сейчас new (первая оплата либо повтор
		// после нехватки средств), или впервые увиден уже в работе.
		// Повторное списание отсекает детерминированный payment_id
		payable := order.Data.Status == model.StatusNew ||
			(res.IsNew && order.Data.Status != model.StatusCancelled)
		if payable {
			o.settleOrder(ctx, cl, order)
			continue
		}

		// Отмена уже оплаченного заказа - возврат на депозит
		if order.Data.Status == model.StatusCancelled &&
			res.PreviousStatus != model.StatusCancelled && res.PreviousStatus != model.StatusNew {
			o.refundOrder(ctx, cl, order)
		}
	}
	return nil
}

// fetchStatusMap получает пары статусов сборочных заданий. Ошибка не
// фатальна: нормализация обойдется возрастом и родным статусом
func (o *Orchestrator) fetchStatusMap(ctx context.Context, cl model.Client,
	mp model.Marketplace, mc marketplace.Client, creds model.Credentials,
	raws []marketplace.RawOrder) map[string]marketplace.RawStatus {

	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		if raw.AssignmentID != "" {
			ids = append(ids, raw.AssignmentID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	statuses, err := mc.FetchStatuses(ctx, creds, ids, model.OrderTypeFBS)
	if err != nil {
		o.zaplog.Warn("статусы заданий не получены",
			zap.Int64("client_id", cl.ID),
			zap.String("marketplace", string(mp)),
			zap.Error(err))
		return nil
	}

	statusByID := make(map[string]marketplace.RawStatus, len(statuses))
	for _, st := range statuses {
		statusByID[st.AssignmentID] = st
	}
	return statusByID
}

// settleOrder списывает закупочную стоимость заказа с депозита.
// При нехватке средств заказ остается new и будет оплачен на
// следующем цикле: повторных побочных эффектов не будет благодаря
// детерминированному идентификатору платежа
func (o *Orchestrator) settleOrder(ctx context.Context, cl model.Client, order model.Order) {
	cost, degraded, err := o.resolveCost(ctx, cl.ID, order)
	if err != nil {
		o.zaplog.Error("закупочная стоимость не рассчитана",
			zap.Int64("client_id", cl.ID),
			zap.String("order_id", order.Key.OrderID),
			zap.Error(err))
		return
	}
	if degraded {
		o.zaplog.Warn("закупочная стоимость оценена по доле от цены продажи",
			zap.Int64("client_id", cl.ID),
			zap.String("order_id", order.Key.OrderID),
			zap.String("cost", money.Format(cost)))
	}

	_, err = o.ledger.DebitForOrder(ctx, order, cost)

	var insufficient *ledger.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		o.zaplog.Info("недостаточно средств, заказ отложен",
			zap.Int64("client_id", cl.ID),
			zap.String("order_id", order.Key.OrderID),
			zap.String("balance", money.Format(insufficient.CurrentBalance)),
			zap.String("required", money.Format(insufficient.Required)))
		o.notifier.Notify(ctx, cl.NotifyUserID,
			"Недостаточно средств на депозите",
			"Для оплаты заказа "+order.Key.OrderID+" не хватает "+
				money.Format(insufficient.Shortfall)+" ₽. Пополните депозит")
		return

	case errors.Is(err, ledger.ErrDuplicateSettlement):
		// повторный импорт уже оплаченного заказа. Если импорт успел
		// перезаписать статус в new, возвращаем оплаченный заказ
		// в in_assembly без второго списания
		o.zaplog.Debug("списание уже выполнено",
			zap.Int64("client_id", cl.ID),
			zap.String("order_id", order.Key.OrderID))
		if order.Data.Status == model.StatusNew {
			if err := o.store.OrderSetStatus(ctx, order.Key, model.StatusInAssembly); err != nil {
				o.zaplog.Error("статус оплаченного заказа не восстановлен",
					zap.Int64("client_id", cl.ID),
					zap.String("order_id", order.Key.OrderID),
					zap.Error(err))
			}
		}
		return

	case err != nil:
		o.zaplog.Error("списание не выполнено",
			zap.Int64("client_id", cl.ID),
			zap.String("order_id", order.Key.OrderID),
			zap.Error(err))
		return
	}

	// Статус двигается только из new: заказ, впервые увиденный уже
	// отгруженным или доставленным, оплачивается без отката статуса
	if order.Data.Status == model.StatusNew {
		if err := o.store.OrderSetStatus(ctx, order.Key, model.StatusInAssembly); err != nil {
			o.zaplog.Error("статус заказа не обновлен после оплаты",
				zap.Int64("client_id", cl.ID),
				zap.String("order_id", order.Key.OrderID),
				zap.Error(err))
		}
	}
	o.notifier.Notify(ctx, cl.NotifyUserID,
		"Заказ оплачен",
		"Заказ "+order.Key.OrderID+" оплачен с депозита, сумма "+money.Format(cost)+" ₽")
}

func (o *Orchestrator) refundOrder(ctx context.Context, cl model.Client, order model.Order) {
	entry, err := o.ledger.RefundForOrder(ctx, order)
	if errors.Is(err, ledger.ErrDuplicateSettlement) {
		return
	}
	if err != nil {
		o.zaplog.Error("возврат не выполнен",
			zap.Int64("client_id", cl.ID),
			zap.String("order_id", order.Key.OrderID),
			zap.Error(err))
		return
	}
	o.notifier.Notify(ctx, cl.NotifyUserID,
		"Возврат по отмененному заказу",
		"По заказу "+order.Key.OrderID+" возвращено "+money.Format(entry.Data.Amount)+" ₽")
}

// resolveCost считает закупочную стоимость заказа по позициям:
// склад по штрихкоду -> прайс-лист по артикулу -> доля от цены продажи.
// degraded=true, если хотя бы одна позиция оценена по доле
func (o *Orchestrator) resolveCost(ctx context.Context, clientID int64, order model.Order) (int64, bool, error) {
	ratio := o.cfg.FallbackCostRatio
	if s, err := o.store.PricingSettingsGet(ctx, clientID, order.Key.Marketplace); err == nil && s.FallbackCostRatio > 0 {
		ratio = s.FallbackCostRatio
	}

	var total int64
	degraded := false
	for _, item := range order.Data.Items {
		unit, ok, err := o.resolveUnitCost(ctx, clientID, item)
		if err != nil {
			return 0, false, err
		}
		if !ok {
			unit = int64(float64(item.UnitPrice) * ratio)
			degraded = true
		}
		total += unit * int64(item.Quantity)
	}
	return total, degraded, nil
}

func (o *Orchestrator) resolveUnitCost(ctx context.Context, clientID int64, item model.OrderItem) (int64, bool, error) {
	if item.Barcode != "" {
		cost, err := o.store.CostByBarcode(ctx, clientID, item.Barcode)
		if err == nil {
			return cost, true, nil
		}
		if !errors.Is(err, store.ErrNoRows) {
			return 0, false, err
		}
	}
	if item.Article != "" {
		cost, err := o.store.CostByArticle(ctx, clientID, item.Article)
		if err == nil {
			return cost, true, nil
		}
		if !errors.Is(err, store.ErrNoRows) {
			return 0, false, err
		}
	}
	return 0, false, nil
}

func (o *Orchestrator) metaLookup(ctx context.Context, clientID int64, mp model.Marketplace) normalizer.MetaLookup {
	return func(productID string) (normalizer.ProductMeta, bool) {
		p, err := o.store.ProductSnapshotGet(ctx, clientID, mp, productID)
		if err != nil {
			return normalizer.ProductMeta{}, false
		}
		return normalizer.ProductMeta{
			Article: p.Article,
			Name:    p.Name,
			Brand:   p.Brand,
		}, true
	}
}

// порядок прямого пути статусов, для отсечения обратных переходов
var statusRank = map[model.Status]int{
	model.StatusNew:        0,
	model.StatusInAssembly: 1,
	model.StatusShipped:    2,
	model.StatusDelivered:  3,
}

// refreshOpenOrders повторно опрашивает статусы незавершенных заказов.
// Переход в отгрузку/доставку/отмену записывается и без события оплаты
func (o *Orchestrator) refreshOpenOrders(ctx context.Context, cl model.Client,
	mp model.Marketplace, mc marketplace.Client, creds model.Credentials) error {

	open, err := o.store.OrderOpen(ctx, cl.ID, mp)
	if err != nil {
		return err
	}
	if len(open) == 0 {
		return nil
	}

	ids := make([]string, 0, len(open))
	byAssignment := make(map[string]model.Order, len(open))
	for _, order := range open {
		id := order.Key.OrderID
		if len(order.Data.Items) > 0 && order.Data.Items[0].AssignmentID != "" {
			id = order.Data.Items[0].AssignmentID
		}
		ids = append(ids, id)
		byAssignment[id] = order
	}

	statuses, err := mc.FetchStatuses(ctx, creds, ids, model.OrderTypeFBS)
	if err != nil {
		return err
	}

	for _, st := range statuses {
		order, ok := byAssignment[st.AssignmentID]
		if !ok {
			continue
		}
		newStatus, ok := normalizer.AssignmentStatus(st)
		if !ok || newStatus == order.Data.Status {
			continue
		}
		// обратные переходы не записываются: продавец может еще отдавать
		// awaiting_packaging по только что оплаченному заказу
		if newStatus != model.StatusCancelled &&
			statusRank[newStatus] <= statusRank[order.Data.Status] {
			continue
		}

		if err := o.store.OrderSetStatus(ctx, order.Key, newStatus); err != nil {
			o.zaplog.Error("статус заказа не обновлен",
				zap.Int64("client_id", cl.ID),
				zap.String("order_id", order.Key.OrderID),
				zap.Error(err))
			continue
		}
		o.zaplog.Info("переход статуса заказа",
			zap.Int64("client_id", cl.ID),
			zap.String("order_id", order.Key.OrderID),
			zap.String("from", string(order.Data.Status)),
			zap.String("to", string(newStatus)))

		if newStatus == model.StatusCancelled && order.Data.Status != model.StatusNew {
			o.refundOrder(ctx, cl, order)
		}
	}
	return nil
}
