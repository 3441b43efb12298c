package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"example.com/postfeed/cmd/server"
	"example.com/postfeed/cmd/worker"
	appkafka "example.com/postfeed/internal/broker"
	"example.com/postfeed/internal/cache"
	"example.com/postfeed/internal/feed"
	config "example.com/postfeed/internal/init"
	"example.com/postfeed/internal/middleware"
	"example.com/postfeed/internal/store"
	"github.com/google/uuid"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open the configured store; SQL/CQL backends run their migrations here
	st, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Store initialization failed: %v", err)
	}
	defer st.Close()

	switch cfg.Mode {
	case "migrate":
		log.Println("Migrations applied")
		return
	case "server":
	default:
		log.Fatalf("unknown mode: %s", cfg.Mode)
	}

	instanceID := uuid.NewString()
	pageCache := cache.New(nil)
	opts := []feed.Option{feed.WithPageSize(cfg.PageSize)}

	if cfg.KafkaEnabled {
		groupID := cfg.KafkaGroupID
		if groupID == "" {
			groupID = "postfeed-cache-" + instanceID
		}
		kafkaCfg := appkafka.KafkaConfig{
			Brokers:      []string{cfg.KafkaBroker},
			Topic:        cfg.KafkaTopic,
			Partition:    cfg.KafkaPartition,
			GroupID:      groupID,
			WriteTimeout: cfg.KafkaWriteTO,
			ReadTimeout:  cfg.KafkaReadTO,
		}

		// Writer announces this instance's mutations
		kafkaWriter, err := appkafka.NewKafkaWriter(kafkaCfg)
		if err != nil {
			log.Fatalf("Kafka writer init failed: %v", err)
		}
		defer kafkaWriter.Close()
		opts = append(opts, feed.WithPublisher(&appkafka.EventPublisher{Writer: kafkaWriter}, instanceID))

		// Listener invalidates the local cache on other instances' mutations
		listener := worker.New(pageCache, appkafka.NewKafkaReader(kafkaCfg), instanceID, 0, 0)
		defer listener.Close()
		go listener.Run(ctx)
	}

	svc := feed.New(st, pageCache, opts...)
	server.Run(ctx, svc, middleware.NewAuth(cfg.JWTSecret), server.Config{
		Addr:     cfg.ServerAddr,
		CertFile: cfg.TLSCertFile,
		KeyFile:  cfg.TLSKeyFile,
	})

	log.Println("Shutdown completed")
}
