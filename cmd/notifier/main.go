package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/beatsgarage/beatstore/internal/config"
	kafkax "github.com/beatsgarage/beatstore/internal/kafka"
	"github.com/beatsgarage/beatstore/internal/mailer"
	"github.com/beatsgarage/beatstore/internal/notify"
	"github.com/beatsgarage/beatstore/internal/orders"
	"github.com/beatsgarage/beatstore/internal/postgres"
	"github.com/beatsgarage/beatstore/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	smtp, err := mailer.NewSMTP(mailer.Config{
		Host: cfg.SMTPHost, Port: cfg.SMTPPort,
		User: cfg.SMTPUser, Pass: cfg.SMTPPass, From: cfg.MailFrom,
	})
	if err != nil {
		log.Fatalf("mailer: %v", err)
	}

	svc := &notify.Service{
		Repo:   &orders.Repo{DB: db},
		Mailer: smtp,
		Dedup:  &redisx.Dedup{Client: rdb, Service: "notify"},
	}

	consumer := kafkax.NewConsumer(cfg.KafkaBrokers, "beatstore-notifier", orders.TopicOrderCompleted, 4)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("shutting down...")
		cancel()
	}()

	log.Printf("notifier consuming %s", orders.TopicOrderCompleted)
	if err := consumer.Start(ctx, svc.HandleOrderCompleted); err != nil {
		log.Fatalf("consumer: %v", err)
	}
}
