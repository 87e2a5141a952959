package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pmichalski/copydesk/internal/billing"
	"github.com/pmichalski/copydesk/internal/config"
	"github.com/pmichalski/copydesk/internal/deps"
	"github.com/pmichalski/copydesk/internal/processor"
	"github.com/pmichalski/copydesk/internal/server"
	"github.com/pmichalski/copydesk/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := config.NewConfig()
	if err != nil {
		log.Fatal(err)
	}

	storage, err := storage.NewPostgresStorage(ctx, config.DatabaseURI)
	if err != nil {
		config.Logger.Fatal(err)
	}

	deps := deps.NewDependencies(config.Key)
	client := processor.NewClient(config.ProcessorURL, config.ProcessorAPIKey)
	notifier := &billing.LogNotifier{Logger: deps.Logger}

	tiers, err := billing.ParseTopUpTiers(config.TopUpTiers)
	if err != nil {
		config.Logger.Fatalf("bad top-up tiers: %v", err)
	}

	issuer := billing.NewIssuer(storage, client, deps.Logger)
	orders := billing.NewOrders(storage, client, notifier, deps.Logger,
		config.MinTopUpAmount(), tiers, config.SuccessURL, config.CancelURL)
	reconciler := billing.NewReconciler(storage, issuer, notifier, deps.Logger)

	go issuer.RunPDFBackfill(ctx, time.Minute)

	srv := server.NewServer(storage, orders, reconciler, issuer, config, deps)
	if err := srv.Run(ctx); err != nil {
		config.Logger.Fatal(err)
	}
}
