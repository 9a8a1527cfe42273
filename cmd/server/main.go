/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger backend server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (best effort) and decode environment config
  2. Parse command-line flags (flags override environment)
  3. Open the SQLite ledger store and the LevelDB blob store
  4. Ensure system accounts, load the spark catalog
  5. Start the divergence verifier and the HTTP server

CONFIGURATION:
  Flags:
    -port     HTTP server port (default: 8080)
    -db       SQLite ledger database path (":memory:" for in-memory)
    -blobs    LevelDB blob store directory
    -sparks   Spark catalog JSON file ("" = start empty)
  Environment (also read from ./.env):
    LOG_LEVEL        zerolog level (default: info)
    VERIFY_INTERVAL  divergence scan interval (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the verifier, close both stores
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Ledger persistence
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/blobstore"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/perm"
	"github.com/warp/ledger-engine/router"
	"github.com/warp/ledger-engine/spark"
	"github.com/warp/ledger-engine/store/sqlite"
)

type envConfig struct {
	LogLevel       string        `env:"LOG_LEVEL,default=info"`
	VerifyInterval time.Duration `env:"VERIFY_INTERVAL,default=1h"`
}

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	var env envConfig
	if err := envdecode.Decode(&env); err != nil {
		fmt.Fprintf(os.Stderr, "failed to decode environment: %v\n", err)
		os.Exit(1)
	}

	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "ledger.db", "SQLite ledger database path")
	blobPath := flag.String("blobs", "blobs.db", "LevelDB blob store directory")
	sparksFile := flag.String("sparks", "sparks.json", "spark catalog JSON file (empty = none)")
	flag.Parse()

	level, err := zerolog.ParseLevel(env.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("failed to open ledger store")
	}
	defer store.Close()

	blobs, err := blobstore.Open(*blobPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *blobPath).Msg("failed to open blob store")
	}
	defer blobs.Close()

	engine := ledger.NewEngine(store, log)
	if err := engine.EnsureSystemAccounts(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure system accounts")
	}

	catalog := spark.NewCatalog()
	if *sparksFile != "" {
		catalog, err = spark.LoadFile(*sparksFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", *sparksFile).Msg("failed to load spark catalog")
		}
		log.Info().Int("sparks", catalog.Len()).Str("file", *sparksFile).Msg("spark catalog loaded")
	}

	valueRouter := router.New(engine, blobs, log)
	sparks := spark.NewEngine(catalog, engine, blobs, log)
	perms := perm.New(engine, log)

	verifier := router.NewVerifier(engine, blobs, env.VerifyInterval, log)
	verifier.Start()
	defer verifier.Stop()

	handler := api.NewHandler(engine, valueRouter, sparks, perms, blobs, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", *port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("forced shutdown")
	}

	log.Info().Msg("server stopped")
}
