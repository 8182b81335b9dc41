package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"reverie/internal/billing"
	"reverie/internal/config"
	"reverie/internal/observability"
	"reverie/internal/reconcile"
	"reverie/internal/store"
	"reverie/internal/stripeapi"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("RV_CONFIG"))
	if err != nil {
		bootLog := observability.NewLogger("info", true)
		bootLog.Fatal().Err(err).Msg("config error")
	}
	log := observability.NewLogger(cfg.Log.Level, cfg.Dev.Mode)

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("store error")
	}
	defer st.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx, st.DB()); err != nil {
		log.Fatal().Err(err).Msg("migration error")
	}

	provider := stripeapi.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.APIBaseURL)
	observer := observability.NewBillingObserver(log)
	billingSvc := billing.NewService(cfg, st, provider, observer, log)

	svc := reconcile.NewService(st, billingSvc, log)
	report, err := svc.Run(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("reconciliation failed")
	}
	log.Info().
		Int("customers_reconciled", report.CustomersReconciled).
		Int("customers_failed", report.CustomersFailed).
		Int("grants_expired", report.GrantsExpired).
		Msg("reconciliation complete")
}
