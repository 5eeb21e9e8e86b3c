package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docket-desk/internal/application/delivery"
	"github.com/docket-desk/internal/config"
	"github.com/docket-desk/internal/infrastructure/dynamo"
	jwtinfra "github.com/docket-desk/internal/infrastructure/jwt"
	s3infra "github.com/docket-desk/internal/infrastructure/s3"
	"github.com/docket-desk/internal/infrastructure/smtp"
	"github.com/docket-desk/internal/infrastructure/sns"
	"github.com/docket-desk/internal/infrastructure/storeclient"
	transporthttp "github.com/docket-desk/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	deps := &transporthttp.Deps{}

	if cfg.RemoteStore() {
		// Gateway mode: items live behind a remote store, attachments are unavailable.
		log.Printf("Using remote item store at %s", cfg.ItemStoreURL)
		deps.Store = storeclient.New(cfg)
	} else {
		dynamoClient, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			log.Fatalf("dynamodb client: %v", err)
		}
		dynamo.Bootstrap(ctx, dynamoClient, cfg.DynamoTables)
		repo := dynamo.NewItemRepo(dynamoClient, cfg.DynamoTables)
		deps.Store = repo

		s3Client, err := s3infra.NewClient(ctx, cfg)
		if err != nil {
			log.Printf("WARN: attachments disabled, s3 client not available: %v", err)
		} else {
			deps.Objects = s3infra.NewStore(s3Client, cfg.S3BucketName)
			deps.AttachmentItems = repo
		}
	}

	var publishers delivery.MultiPublisher
	if cfg.SNSTopicARN != "" {
		if snsClient, err := sns.NewClient(ctx, cfg); err == nil {
			publishers = append(publishers, sns.NewPublisher(snsClient, cfg.SNSTopicARN))
		} else {
			log.Printf("WARN: SNS publisher not available: %v", err)
		}
	}
	if cfg.DeliveryMailTo != "" {
		publishers = append(publishers, smtp.NewDigestPublisher(smtp.NewMailer(cfg), cfg.DeliveryMailTo))
	}
	if len(publishers) > 0 {
		deps.Publisher = publishers
	}

	// Without a public key only development runs, under a fixed local identity.
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		deps.Verifier = p
	} else if cfg.AppEnv == "development" {
		log.Printf("WARN: JWT provider not available, using local identity: %v", err)
	} else {
		log.Fatalf("jwt provider: %v", err)
	}

	router := transporthttp.NewRouter(ctx, cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	stop()
	log.Println("Server stopped")
}
