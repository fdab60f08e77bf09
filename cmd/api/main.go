package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fireledger/importer/internal/api/handlers"
	"github.com/fireledger/importer/internal/api/middleware"
	"github.com/fireledger/importer/internal/credentials"
	"github.com/fireledger/importer/internal/importer"
	"github.com/fireledger/importer/internal/importjob"
	"github.com/fireledger/importer/internal/infra/bigquery"
	"github.com/fireledger/importer/internal/ledger"
	"github.com/fireledger/importer/internal/logger"
	"github.com/fireledger/importer/internal/provider"
)

func main() {
	// Parse command-line flags
	var (
		port        = flag.String("port", "8080", "HTTP server port")
		environment = flag.String("environment", os.Getenv("PLAID_ENV"), "provider environment: sandbox, development or production (or set PLAID_ENV env)")
		clientID    = flag.String("client-id", os.Getenv("PLAID_CLIENT_ID"), "provider client id (or set PLAID_CLIENT_ID env)")
		secret      = flag.String("secret", os.Getenv("PLAID_SECRET"), "provider secret (or set PLAID_SECRET env)")
		publicKey   = flag.String("public-key", os.Getenv("PLAID_PUBLIC_KEY"), "provider public key (or set PLAID_PUBLIC_KEY env)")
		credBucket  = flag.String("credentials-bucket", os.Getenv("CREDENTIALS_BUCKET"), "GCS bucket holding user credentials (or set CREDENTIALS_BUCKET env)")
		bqProject   = flag.String("bq-project", os.Getenv("BQ_PROJECT"), "BigQuery project for the transaction sink (or set BQ_PROJECT env)")
		bqDataset   = flag.String("bq-dataset", os.Getenv("BQ_DATASET"), "BigQuery dataset for the transaction sink (or set BQ_DATASET env)")
	)
	flag.Parse()

	// Initialize logger
	log := logger.New()

	ctx := context.Background()

	env := provider.Environment(*environment)
	if env == "" {
		env = provider.EnvSandbox
	}
	if *clientID == "" || *secret == "" {
		log.Warn().Msg("No provider credentials configured - upstream calls will fail")
	}
	client := provider.NewHTTPClient(env, *clientID, *secret, *publicKey)

	// Credential store: GCS-backed when a bucket is configured, in-memory
	// otherwise.
	var creds credentials.Store
	if *credBucket != "" {
		gcsStore, err := credentials.NewGCS(ctx, *credBucket, "credentials")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create credential store")
		}
		defer gcsStore.Close()
		creds = gcsStore
	} else {
		log.Warn().Msg("No credentials bucket configured - falling back to in-memory credential store")
		creds = credentials.NewMemory()
	}

	// The ledger side is served by in-memory fixtures until a real ledger
	// backend is plugged in behind the same interfaces.
	accounts := ledger.NewMemoryRepository()
	currencies := accounts.Currencies()
	jobRepo := importjob.NewMemoryRepository()

	flow := importer.NewFlow(jobRepo, creds, client, log)
	dispatcher := importer.NewDispatcher(jobRepo, creds, accounts, currencies, log)
	normalizer := importer.NewNormalizer(importer.NewPlaceholderMapper(1_000_000))
	engine := importer.NewEngine(jobRepo, creds, accounts, client, normalizer, log)

	// Batch sink: BigQuery when configured.
	var sink handlers.BatchSink
	if *bqProject != "" && *bqDataset != "" {
		bqSink, err := bigquery.NewSink(ctx, *bqProject, *bqDataset)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery sink")
		}
		defer bqSink.Close()
		sink = bqSink
	} else {
		log.Warn().Msg("No BigQuery sink configured - imported batches stay in memory only")
	}

	importHandler := handlers.NewImportHandler(flow, dispatcher, engine, jobRepo, jobRepo, jobRepo, sink, log)

	// Create router
	mux := http.NewServeMux()

	mux.HandleFunc("/import/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			importHandler.Callback(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/import/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			importHandler.ExchangeToken(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/import/accounts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			importHandler.Accounts(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/import/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			importHandler.CreateJob(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/import/jobs/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/import/jobs/")
		jobKey, action, _ := strings.Cut(rest, "/")
		if jobKey == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job key is required")
			return
		}
		switch {
		case action == "configuration" && r.Method == http.MethodGet:
			importHandler.GetConfiguration(w, r, jobKey)
		case action == "configuration" && r.Method == http.MethodPost:
			importHandler.PostConfiguration(w, r, jobKey)
		case action == "run" && r.Method == http.MethodPost:
			importHandler.Run(w, r, jobKey)
		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Apply middleware
	// RequestID wraps Logger so the access log sees the assigned id.
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Str("environment", string(env)).Msg("Starting import API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
