// Package main запускает сервис проверки платежей маркетплейса.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/marketplace-payments/internal/config"
	"github.com/mmeshcher/marketplace-payments/internal/gateway"
	"github.com/mmeshcher/marketplace-payments/internal/handler"
	"github.com/mmeshcher/marketplace-payments/internal/middleware"
	"github.com/mmeshcher/marketplace-payments/internal/notify"
	"github.com/mmeshcher/marketplace-payments/internal/repository"
	"github.com/mmeshcher/marketplace-payments/internal/service"
	"github.com/mmeshcher/marketplace-payments/internal/ticket"
	"github.com/mmeshcher/marketplace-payments/internal/verification"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	gw := gateway.NewClient(gateway.Options{
		APIURL:       cfg.GatewayAPIURL,
		AuthURL:      cfg.GatewayAuthURL,
		ClientID:     cfg.GatewayClientID,
		ClientSecret: cfg.GatewayClientSecret,
		APIKey:       cfg.GatewayAPIKey,
		Timeout:      cfg.GatewayTimeout,
		RetryMax:     2,
		TokenSaver:   repo,
	}, logger.Named("gateway"))

	var notifier verification.Notifier
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.DialAMQP(cfg.AMQPURL, cfg.NotifyExchange, cfg.AdminAlertEmail, logger.Named("notify"))
		if err != nil {
			sugar.Fatalw("notification broker error", "error", err.Error())
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	} else {
		sugar.Warn("AMQP_URL is not set, notifications are written to the log only")
		notifier = notify.NewLogNotifier(logger.Named("notify"), cfg.AdminAlertEmail)
	}

	engine := verification.NewEngine(repo, gw, ticket.NewIssuer(), notifier, logger.Named("verification"), verification.Options{
		MaxOrdersPerCycle: cfg.MaxOrdersPerCycle,
		MaxOrderAge:       cfg.MaxOrderAge,
		StuckThreshold:    cfg.StuckOrderThreshold,
		// Запас сверх таймаута шлюза на обращения к базе.
		OrderTimeout: cfg.GatewayTimeout + 10*time.Second,
	})

	svc := service.NewService(repo, engine)
	h := handler.NewHandler(svc, logger, middleware.NewAdminAuth(cfg.AdminToken))

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           h.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Периодическая проверка оплаты
	g.Go(func() error {
		sugar.Infow("starting payment verification", "interval", cfg.VerifyInterval.String())
		engine.Start(ctx, cfg.VerifyInterval)
		return nil
	})

	// Административный HTTP API
	g.Go(func() error {
		sugar.Infow("starting admin server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
