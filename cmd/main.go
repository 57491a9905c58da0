package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"storefront/internal/auth"
	"storefront/internal/config"
	"storefront/internal/discovery"
	"storefront/internal/events"
	httpapi "storefront/internal/http"
	"storefront/internal/logkey"
	"storefront/internal/metrics"
	"storefront/internal/payment"
	"storefront/internal/repository"
	"storefront/internal/service"

	_ "storefront/docs"
)

// @title Storefront API
// @version 1.0
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	if err := run(log); err != nil {
		log.Error("storefront stopped", slog.String(logkey.ERROR, err.Error()))
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store repository.Store
	if cfg.DatabaseURL != "" {
		pg, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		store = pg
		log.Info("using postgres store")
	} else {
		store = repository.NewMemoryStore()
		log.Warn("DATABASE_URL not set, using in-memory store")
	}
	defer store.Close()

	pub, err := events.Open(events.Options{
		Driver:         cfg.EventsDriver,
		KafkaBrokers:   cfg.KafkaBrokers,
		KafkaTopic:     cfg.KafkaTopic,
		RabbitURL:      cfg.RabbitURL,
		RabbitExchange: cfg.RabbitExchange,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Warn("close publisher", slog.String(logkey.ERROR, err.Error()))
		}
	}()

	keys, err := auth.NewKeys(cfg.JWTSecret)
	if err != nil {
		return err
	}
	m := metrics.New()
	gw := payment.NewGateway(payment.Config{
		KeyID:         cfg.RazorpayKeyID,
		KeySecret:     cfg.RazorpayKeySecret,
		WebhookSecret: cfg.RazorpayWebhookSecret,
		Currency:      cfg.Currency,
	}, payment.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret))

	srv := httpapi.NewServer(httpapi.Deps{
		Products:          service.NewProductService(store.Products(), store.Ledger()),
		Carts:             service.NewCartService(store.Carts(), store.Products()),
		Checkout:          service.NewCheckoutService(store, gw, pub, m, log),
		Keys:              keys,
		Metrics:           m,
		Logger:            log,
		LowStockThreshold: cfg.LowStockThreshold,
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Engine(),
	}

	if cfg.ConsulAddr != "" {
		deregister, err := discovery.Register(cfg.ConsulAddr, discovery.Registration{
			Name: cfg.ServiceName,
			Host: cfg.ServiceHost,
			Port: cfg.Port,
		})
		if err != nil {
			// сервис работает и без consul
			log.Warn("consul registration failed", slog.String(logkey.ERROR, err.Error()))
		} else {
			defer func() {
				if err := deregister(); err != nil {
					log.Warn("consul deregister", slog.String(logkey.ERROR, err.Error()))
				}
			}()
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
