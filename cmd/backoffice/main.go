package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/Samidius-mag/MP-sub000/internal/config"
	"github.com/Samidius-mag/MP-sub000/internal/ledger"
	"github.com/Samidius-mag/MP-sub000/internal/logger"
	"github.com/Samidius-mag/MP-sub000/internal/marketplace"
	"github.com/Samidius-mag/MP-sub000/internal/model"
	"github.com/Samidius-mag/MP-sub000/internal/notifier"
	"github.com/Samidius-mag/MP-sub000/internal/pricing"
	"github.com/Samidius-mag/MP-sub000/internal/settlement"
	"github.com/Samidius-mag/MP-sub000/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.GetConfig()

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	clients := map[model.Marketplace]marketplace.Client{
		model.MarketplaceWildberries: marketplace.NewWildberries(
			cfg.Marketplace.WildberriesAddr, cfg.Marketplace.WildberriesPricesAddr, zaplog),
		model.MarketplaceOzon:   marketplace.NewOzon(cfg.Marketplace.OzonAddr, zaplog),
		model.MarketplaceYandex: marketplace.NewYandex(cfg.Marketplace.YandexAddr, zaplog),
	}

	ledger := ledger.NewLedger(store)
	notifier := notifier.NewLogNotifier(zaplog)
	orchestrator := settlement.NewOrchestrator(cfg.Settlement, store, ledger, clients, notifier, zaplog)
	automation := pricing.NewAutomation(cfg.Pricing, store, clients, notifier, zaplog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orchestrator.Run(gctx)
	})
	g.Go(func() error {
		return automation.Run(gctx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
