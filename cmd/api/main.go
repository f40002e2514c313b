package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/beatsgarage/beatstore/internal/checkout"
	"github.com/beatsgarage/beatstore/internal/clock"
	"github.com/beatsgarage/beatstore/internal/config"
	"github.com/beatsgarage/beatstore/internal/httpx"
	kafkax "github.com/beatsgarage/beatstore/internal/kafka"
	"github.com/beatsgarage/beatstore/internal/mailer"
	"github.com/beatsgarage/beatstore/internal/notify"
	"github.com/beatsgarage/beatstore/internal/orders"
	"github.com/beatsgarage/beatstore/internal/paypal"
	"github.com/beatsgarage/beatstore/internal/postgres"
	"github.com/beatsgarage/beatstore/internal/recon"
	"github.com/beatsgarage/beatstore/internal/redisx"
	"github.com/beatsgarage/beatstore/migrations"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := migrations.Apply(ctx, db); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per lifecycle topic
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024)
	pCreated.Start(ctx)
	pCompleted := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCompleted, 1024)
	pCompleted.Start(ctx)
	pFailed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderFailed, 1024)
	pFailed.Start(ctx)

	// Payment provider
	pp, err := paypal.NewClient(paypal.Config{
		ClientID:  cfg.PayPalClientID,
		Secret:    cfg.PayPalSecret,
		BaseURL:   cfg.PayPalBaseURL,
		WebhookID: cfg.PayPalWebhookID,
	})
	if err != nil {
		log.Fatalf("paypal: %v", err)
	}

	// Mailer (used by the manual resend path; bulk sends run in cmd/notifier)
	smtp, err := mailer.NewSMTP(mailer.Config{
		Host: cfg.SMTPHost, Port: cfg.SMTPPort,
		User: cfg.SMTPUser, Pass: cfg.SMTPPass, From: cfg.MailFrom,
	})
	if err != nil {
		log.Fatalf("mailer: %v", err)
	}

	repo := &orders.Repo{DB: db}
	clk := clock.NewSystem()

	checkoutSvc := &checkout.Service{
		Repo:        repo,
		Provider:    pp,
		Producer:    pCreated,
		Clock:       clk,
		ServiceName: cfg.ServiceName,
	}
	reconSvc := &recon.Service{
		Repo:        repo,
		Provider:    pp,
		Dedup:       &redisx.Dedup{Client: rdb, Service: "recon"},
		Completed:   pCompleted,
		Failed:      pFailed,
		Clock:       clk,
		ServiceName: cfg.ServiceName,
	}
	notifySvc := &notify.Service{Repo: repo, Mailer: smtp}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Checkout: checkoutSvc,
		Recon:    reconSvc,
		Notify:   notifySvc,
		Catalog:  repo,
		Cache:    &redisx.Cache{Client: rdb},
	}
	oh.Register(router)
	wh := &httpx.WebhookHandler{Verifier: pp, Recon: reconSvc}
	wh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)

	// close inboxes -> flush & close writers, then stop the loops
	pCreated.Close()
	pCompleted.Close()
	pFailed.Close()
	cancel()
	pCreated.WaitClosed()
	pCompleted.WaitClosed()
	pFailed.WaitClosed()
}
