package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	anomalypostgres "solarwatch/internal/anomaly/infrastructure/postgres"
	anomalyhttp "solarwatch/internal/anomaly/interfaces/http"
	"solarwatch/internal/anomaly/ledger"
	"solarwatch/internal/anomaly/notify"
	"solarwatch/internal/auroravision"
	"solarwatch/internal/auth"
	"solarwatch/internal/observability/metrics"
	"solarwatch/internal/poller"
	"solarwatch/internal/report"
	telemetrypostgres "solarwatch/internal/telemetry/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	metrics.Init()

	fleet, err := poller.LoadConfig(cfg.FleetConfig)
	if err != nil {
		logger.Fatalf("fleet config error: %v", err)
	}

	source, err := auroravision.NewClient(cfg.AuroraBaseURL, cfg.AuroraAPIKey, cfg.AuroraUsername, cfg.AuroraPassword)
	if err != nil {
		logger.Fatalf("aurora client error: %v", err)
	}

	channel, err := buildChannel(cfg, logger)
	if err != nil {
		logger.Fatalf("notification channel error: %v", err)
	}

	var (
		store   ledger.Store
		archive poller.Archive
		lister  report.SeriesLister
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		store = anomalypostgres.NewLedgerStore(db)
		readings := telemetrypostgres.NewReadingsRepository(db)
		archive = readings
		lister = readings
	} else {
		fileStore, err := ledger.NewFileStore(fleet.LedgerPath)
		if err != nil {
			logger.Fatalf("ledger file store error: %v", err)
		}
		store = fileStore
	}

	broker := anomalyhttp.NewSSEBroker()

	fleetPoller, err := poller.NewPoller(fleet, source, channel,
		poller.WithStore(store),
		poller.WithArchive(archive),
		poller.WithLogger(logger),
		poller.WithListener(broker),
	)
	if err != nil {
		logger.Fatalf("poller error: %v", err)
	}

	scheduler := poller.NewScheduler(fleetPoller, fleet.PollInterval, logger)
	go scheduler.Start(context.Background())

	issuesHandler, err := anomalyhttp.NewHandler(fleetPoller.Ledger())
	if err != nil {
		logger.Fatalf("issues handler error: %v", err)
	}
	reportBuilder, err := report.NewBuilder(fleet.Devices(), lister, fleetPoller.Ledger())
	if err != nil {
		logger.Fatalf("report builder error: %v", err)
	}
	reportHandler, err := report.NewHandler(reportBuilder)
	if err != nil {
		logger.Fatalf("report handler error: %v", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/issues", issuesHandler)
	mux.Handle("/api/v1/issues/stream", anomalyhttp.NewStreamHandler(broker, fleetPoller.Ledger()))
	mux.Handle("/api/v1/reports/daily.xlsx", reportHandler)
	mux.Handle("/api/v1/reports/daily.pdf", reportHandler)
	mux.HandleFunc("/api/v1/poll/run", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := fleetPoller.RunCycle(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

type config struct {
	HTTPAddr        string
	DatabaseURL     string
	FleetConfig     string
	AuroraBaseURL   string
	AuroraAPIKey    string
	AuroraUsername  string
	AuroraPassword  string
	TelegramToken   string
	TelegramChatID  string
	AlertWebhookURL string
	JWTSecret       string
}

func loadConfig() config {
	cfg := config{
		HTTPAddr:        getenvDefault("HTTP_ADDR", ":8080"),
		DatabaseURL:     getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		FleetConfig:     getenvDefault("FLEET_CONFIG", ""),
		AuroraBaseURL:   getenvDefault("AURORA_BASE_URL", ""),
		AuroraAPIKey:    getenvDefault("AURORA_API_KEY", ""),
		AuroraUsername:  getenvDefault("AURORA_USERNAME", ""),
		AuroraPassword:  getenvDefault("AURORA_PASSWORD", ""),
		TelegramToken:   getenvDefault("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:  getenvDefault("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL: getenvDefault("ALERT_WEBHOOK_URL", ""),
		JWTSecret:       getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	if cfg.AuroraBaseURL == "" {
		log.Fatal("AURORA_BASE_URL is required")
	}
	if cfg.AuroraAPIKey == "" {
		log.Fatal("AURORA_API_KEY is required")
	}
	if cfg.AuroraUsername == "" || cfg.AuroraPassword == "" {
		log.Fatal("AURORA_USERNAME and AURORA_PASSWORD are required")
	}
	if cfg.TelegramToken == "" || cfg.TelegramChatID == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("AUTH_JWT_SECRET is required")
	}
	return cfg
}

func buildChannel(cfg config, logger *log.Logger) (notify.Channel, error) {
	telegram, err := notify.NewTelegramChannel(cfg.TelegramToken, cfg.TelegramChatID)
	if err != nil {
		return nil, err
	}
	if cfg.AlertWebhookURL == "" {
		return telegram, nil
	}
	webhook, err := notify.NewWebhookChannel(cfg.AlertWebhookURL)
	if err != nil {
		return nil, err
	}
	logger.Printf("alert webhook enabled: %s", cfg.AlertWebhookURL)
	return notify.NewMultiChannel(telegram, webhook), nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the wrapped writer so streaming handlers keep
// working behind the logging middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
