package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventshare/ledger/internal/api"
	"github.com/eventshare/ledger/internal/config"
	"github.com/eventshare/ledger/internal/db"
	"github.com/eventshare/ledger/internal/gateway"
	"github.com/eventshare/ledger/internal/handler"
	"github.com/eventshare/ledger/internal/infrastructure/kafka"
	"github.com/eventshare/ledger/internal/infrastructure/redis"
	"github.com/eventshare/ledger/internal/observability"
	core "github.com/eventshare/ledger/internal/repository/postgres"
	service "github.com/eventshare/ledger/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	// Инициализируем логи, метрики, трейсы
	shutdown, _ := observability.Setup("ledger-service")
	defer shutdown(context.Background())

	// Подключаемся к Postgres
	database, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, "migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Инициализируем зависимости
	walletRepo := core.NewPostgresWalletRepository(database)
	transactionRepo := core.NewPostgresTransactionRepository(database)
	discountRepo := core.NewPostgresDiscountRepository(database)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()
	producer := kafka.NewProducer(cfg.KafkaBrokers)
	defer producer.Close()
	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayMerchantID, cfg.GatewayID)

	discountSvc := service.NewDiscountService(discountRepo, redisClient)
	ledgerSvc := service.NewLedgerService(walletRepo, transactionRepo, discountRepo, discountSvc, gatewayClient, redisClient, producer, cfg.CallbackBaseURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Асинхронные подтверждения шлюза идут в тот же идемпотентный settle
	confirmationConsumer := kafka.NewConsumer(cfg.KafkaBrokers, "gateway-confirmations", "ledger-service-group", ledgerSvc)
	go confirmationConsumer.Consume(ctx)
	defer confirmationConsumer.Close()

	reconciler := service.NewReconciler(transactionRepo, ledgerSvc, cfg.ReconcileInterval, cfg.PendingTimeout)
	go reconciler.Run(ctx)

	// Настраиваем роутер
	h := handler.NewHandler(ledgerSvc, discountSvc, cfg.GatewayID)
	router := api.SetupRouter(h, redisClient, cfg.JWTSecret)

	// Запускаем сервер
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		log.Printf("Starting server on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	log.Println("Server stopped")
}
