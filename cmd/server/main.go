/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the mileage tracker server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize the record store (sqlite, sheets, or demo)
  3. Create the telemetry client and session service when configured
  4. Configure the HTTP router and the daily fetch scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -backend  Record store backend: sqlite, sheets, demo (default: sqlite)
  -db       SQLite database path (default: mileage.db)
            Use ":memory:" for in-memory database

ENVIRONMENT:
  LEASE_START / LEASE_END           Lease window (YYYY-MM-DD)
  LEASE_ANNUAL_KM                   Annual allowance (default: 20000)
  LEASE_TOTAL_KM                    Whole-lease allowance (default: 40000)
  LEASE_TOLERANCE_KM                Contract tolerance (default: 3000)
  SHEETS_SPREADSHEET_ID             Spreadsheet backend coordinates
  SHEETS_CLIENT_EMAIL / SHEETS_PRIVATE_KEY
  TOYOTA_USERNAME / TOYOTA_PASSWORD Telemetry account (optional)
  MILEAGE_PASSWORD_HASH             bcrypt hash gating writes (optional)
  JWT_SECRET                        Session token signing key

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the fetch scheduler
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/mileage.db"

  # Run against the spreadsheet backend
  ./server -backend=sheets

  # Run the canned demo dataset in memory
  ./server -backend=demo

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Daily ingestion
  - store/sqlite/sqlite.go, store/sheets/sheets.go: Backends
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/kmtrack/mileage-engine/api"
	"github.com/kmtrack/mileage-engine/auth"
	"github.com/kmtrack/mileage-engine/mileage"
	memstore "github.com/kmtrack/mileage-engine/mileage/store"
	"github.com/kmtrack/mileage-engine/store/sheets"
	"github.com/kmtrack/mileage-engine/store/sqlite"
	"github.com/kmtrack/mileage-engine/telemetry"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	backend := flag.String("backend", "sqlite", "Record store backend: sqlite, sheets, demo")
	dbPath := flag.String("db", "mileage.db", "SQLite database path")
	flag.Parse()

	lease, err := leaseFromEnv()
	if err != nil {
		log.Fatalf("Invalid lease configuration: %v", err)
	}

	// Initialize store
	store, closeStore, err := openStore(*backend, *dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize %s store: %v", *backend, err)
	}
	defer closeStore()

	// Telemetry is optional; without credentials the fetch endpoints and
	// the scheduler stay off.
	var fetcher telemetry.Fetcher
	if user := os.Getenv("TOYOTA_USERNAME"); user != "" {
		client, err := telemetry.NewClient(telemetry.ClientConfig{
			Username: user,
			Password: os.Getenv("TOYOTA_PASSWORD"),
		})
		if err != nil {
			log.Fatalf("Failed to initialize telemetry client: %v", err)
		}
		fetcher = client
	}

	sessions := auth.NewService(os.Getenv("MILEAGE_PASSWORD_HASH"), os.Getenv("JWT_SECRET"), 24*time.Hour)

	// Initialize handler
	handler := api.NewHandler(store, lease, fetcher, sessions)

	// Daily odometer ingestion
	var scheduler *api.FetchScheduler
	if handler.Ingestor != nil {
		scheduler = api.NewFetchScheduler(handler.Ingestor)
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func openStore(backend, dbPath string) (mileage.RecordStore, func(), error) {
	switch backend {
	case "sqlite":
		st, err := sqlite.New(dbPath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	case "sheets":
		st, err := sheets.New(sheets.Config{
			SpreadsheetID: os.Getenv("SHEETS_SPREADSHEET_ID"),
			SheetName:     os.Getenv("SHEETS_SHEET_NAME"),
			ClientEmail:   os.Getenv("SHEETS_CLIENT_EMAIL"),
			PrivateKeyPEM: os.Getenv("SHEETS_PRIVATE_KEY"),
		})
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	case "demo":
		return memstore.NewDemo(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func leaseFromEnv() (mileage.LeaseConfig, error) {
	lease := mileage.LeaseConfig{
		AnnualAllowanceKm: envInt("LEASE_ANNUAL_KM", 20000),
		TotalAllowedKm:    envInt("LEASE_TOTAL_KM", 40000),
		ToleranceKm:       envInt("LEASE_TOLERANCE_KM", 3000),
	}

	var err error
	if lease.Start, err = envDate("LEASE_START", "2025-07-08"); err != nil {
		return lease, err
	}
	if lease.End, err = envDate("LEASE_END", "2027-07-08"); err != nil {
		return lease, err
	}
	return lease, lease.Validate()
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDate(key, fallback string) (mileage.Date, error) {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	return mileage.ParseDate(v)
}
