package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	gosync "sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/jcopacetic/definit/internal/config"
	"github.com/jcopacetic/definit/internal/crypto"
	"github.com/jcopacetic/definit/internal/db"
	"github.com/jcopacetic/definit/internal/domain"
	"github.com/jcopacetic/definit/internal/hubspot"
	"github.com/jcopacetic/definit/internal/middleware"
	"github.com/jcopacetic/definit/internal/msgraph"
	"github.com/jcopacetic/definit/internal/repository"
	"github.com/jcopacetic/definit/internal/sync"
	"github.com/jcopacetic/definit/internal/wizard"
)

// customerSource adapts the repositories to the webhook handler's lookup
// surface.
type customerSource struct {
	customers repository.CustomerRepository
	features  repository.FeatureRepository
}

func (s *customerSource) CustomerByPortalID(ctx context.Context, portalID string) (domain.Customer, error) {
	return s.customers.GetByPortalID(ctx, portalID)
}

func (s *customerSource) ActiveBinding(ctx context.Context, customerID uuid.UUID) (domain.FeatureBinding, error) {
	return s.features.GetActiveByCustomer(ctx, customerID)
}

// decodeKey accepts the encryption key as base64 or raw 32 bytes.
func decodeKey(raw string) (crypto.StaticKey, error) {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == 32 {
		return crypto.StaticKey(decoded), nil
	}
	if len(raw) == 32 {
		return crypto.StaticKey(raw), nil
	}
	return nil, fmt.Errorf("encryption key must be 32 bytes, raw or base64")
}

func graphCredentials(customer domain.Customer, keys crypto.KeyProvider) (msgraph.Credentials, error) {
	var creds msgraph.Credentials
	for _, field := range []struct {
		name   string
		secret crypto.Secret
		target *string
	}{
		{"tenant id", customer.GraphTenantID, &creds.TenantID},
		{"client id", customer.GraphClientID, &creds.ClientID},
		{"client secret", customer.GraphClientSecret, &creds.ClientSecret},
		{"scopes", customer.GraphScopes, &creds.Scopes},
		{"site id", customer.GraphSiteID, &creds.SiteID},
		{"drive id", customer.GraphDriveID, &creds.DriveID},
	} {
		value, err := field.secret.Reveal(keys)
		if err != nil {
			return msgraph.Credentials{}, fmt.Errorf("failed to read msgraph %s: %w", field.name, err)
		}
		*field.target = value
	}
	return creds, nil
}

func main() {
	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	keys, err := decodeKey(cfg.Server.EncryptionKey)
	if err != nil {
		log.Fatalf("Invalid encryption key: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, conn.Pool, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Create repositories
	customerRepo := repository.NewCustomerRepository(conn.Pool)
	featureRepo := repository.NewFeatureRepository(conn.Pool)
	wizardRepo := repository.NewWizardRepository(conn.Pool)

	customers := &customerSource{customers: customerRepo, features: featureRepo}

	// Writers are cached per customer so concurrent webhook deliveries for
	// the same tenant serialize their appends on a shared lock.
	var writerMu gosync.Mutex
	writers := map[uuid.UUID]*sync.Writer{}
	writerFor := func(customer domain.Customer) (*sync.Writer, error) {
		writerMu.Lock()
		defer writerMu.Unlock()
		if writer, ok := writers[customer.ID]; ok {
			return writer, nil
		}

		creds, err := graphCredentials(customer, keys)
		if err != nil {
			return nil, err
		}
		writer := sync.NewWriter(msgraph.New(creds), featureRepo)
		writers[customer.ID] = writer
		return writer, nil
	}

	engineFor := func(_ context.Context, customer domain.Customer, binding *domain.FeatureBinding) (*sync.Engine, error) {
		token, err := customer.HubSpotAccessToken.Reveal(keys)
		if err != nil {
			return nil, fmt.Errorf("failed to read hubspot access token: %w", err)
		}
		writer, err := writerFor(customer)
		if err != nil {
			return nil, err
		}
		crm := hubspot.New(customer.HubSpotPortalID, token)
		return sync.NewEngine(crm, writer, binding), nil
	}

	driveFor := func(ctx context.Context, customerID uuid.UUID) (wizard.Drive, error) {
		customer, err := customerRepo.GetByID(ctx, customerID)
		if err != nil {
			return nil, err
		}
		creds, err := graphCredentials(customer, keys)
		if err != nil {
			return nil, err
		}
		return msgraph.New(creds), nil
	}

	wizardService := wizard.NewService(driveFor, wizardRepo, featureRepo)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	webhookHandler := middleware.LoggingMiddleware(
		sync.SignatureMiddleware(customers, keys,
			sync.NewHTTPHandler(customers, engineFor)),
	)

	http.Handle("/webhooks/hubspot", webhookHandler)
	http.Handle("/wizard/", corsHandler.Handler(middleware.LoggingMiddleware(wizard.NewHTTPHandler(wizardService))))

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting sync server on %s", cfg.Server.Addr)
		log.Printf("Webhook endpoint available at %s/webhooks/hubspot", cfg.Server.Addr)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
