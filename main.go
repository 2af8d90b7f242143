package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"hemlarm-relay/internal/alarms/notify"
	"hemlarm-relay/internal/audit"
	"hemlarm-relay/internal/auth"
	devicememory "hemlarm-relay/internal/devices/infrastructure/memory"
	ingestapp "hemlarm-relay/internal/ingestion/application"
	"hemlarm-relay/internal/ingestion/infrastructure/dynamo"
	ingestpostgres "hemlarm-relay/internal/ingestion/infrastructure/postgres"
	ingestsqlite "hemlarm-relay/internal/ingestion/infrastructure/sqlite"
	ingesthttp "hemlarm-relay/internal/ingestion/interfaces/http"
	"hemlarm-relay/internal/ingestion/interfaces/ws"
	liveness "hemlarm-relay/internal/liveness/application"
	motionlog "hemlarm-relay/internal/motionlog/domain"
	logmemory "hemlarm-relay/internal/motionlog/infrastructure/memory"
	"hemlarm-relay/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	driverMemory   = "memory"
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverDynamo   = "dynamodb"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("store open error: %v", err)
	}
	defer store.close()

	notifyCfg, err := notify.LoadConfig()
	if err != nil {
		logger.Fatalf("notify config error: %v", err)
	}
	notifier, err := notify.Build(notifyCfg, logger)
	if err != nil {
		logger.Fatalf("notifier error: %v", err)
	}

	broker := ingesthttp.NewSSEBroker()
	opts := []ingestapp.Option{
		ingestapp.WithLogger(logger),
		ingestapp.WithPublisher(broker),
		ingestapp.WithNotifyMode(cfg.NotifyMode),
		ingestapp.WithTimeouts(cfg.NotifyTimeout, cfg.SinkTimeout),
		ingestapp.WithLogWindow(cfg.LogWindow),
	}
	if notifier != nil {
		opts = append(opts, ingestapp.WithNotifier(notifier, notifyCfg.Recipients...))
	} else {
		logger.Printf("notify: no recipients configured, alerts disabled")
	}
	if store.sink != nil {
		opts = append(opts, ingestapp.WithSink(store.sink))
	}

	registry := devicememory.NewRegistry()
	service, err := ingestapp.NewService(registry, logmemory.NewStore(cfg.LogWindow), opts...)
	if err != nil {
		logger.Fatalf("ingestion service error: %v", err)
	}
	if store.loader != nil {
		restored, err := service.Restore(ctx, store.loader)
		if err != nil {
			logger.Printf("restore devices error: %v", err)
		} else {
			logger.Printf("restored %d devices from %s", restored, cfg.StoreDriver)
		}
	}

	metrics.Init(service, store.db, logger)

	monitor, err := liveness.NewMonitor(registry,
		liveness.WithLogger(logger),
		liveness.WithInterval(cfg.LivenessInterval),
		liveness.WithThreshold(cfg.LivenessThreshold),
		liveness.WithStaleHandler(service.DeviceStale),
	)
	if err != nil {
		logger.Fatalf("liveness monitor error: %v", err)
	}
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		monitor.Start(ctx)
	}()

	var auditLogger audit.Logger = audit.NewLogWriter(logger)
	if cfg.StoreDriver == driverPostgres {
		auditLogger = audit.NewRepository(store.db)
	}
	apiHandler, err := ingesthttp.NewHandler(service,
		ingesthttp.WithLogger(logger),
		ingesthttp.WithAuditLogger(auditLogger),
	)
	if err != nil {
		logger.Fatalf("ingestion handler error: %v", err)
	}
	bridge, err := ws.NewBridge(service, logger)
	if err != nil {
		logger.Fatalf("websocket bridge error: %v", err)
	}
	metrics.RegisterClientGauges(broker.Clients, bridge.Connections)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ws/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)
	if cfg.JWTSecret == "" {
		logger.Printf("auth: AUTH_JWT_SECRET not set, admin routes are open")
	}

	mux := http.NewServeMux()
	mux.Handle("/api/events/stream", ingesthttp.NewStreamHandler(broker))
	mux.Handle("/api/", authMiddleware.Wrap(apiHandler))
	mux.Handle("/ws/sensor", bridge)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(recoverMiddleware(corsMiddleware(mux, cfg.CORSOrigin), logger), logger),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the process so event streams unblock Shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		// Hijacked sensor connections are not tracked by the server.
		bridge.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("http shutdown error: %v", err)
		}
	}()

	logger.Printf("http listening on %s (store=%s, notify_mode=%s)", cfg.HTTPAddr, cfg.StoreDriver, cfg.NotifyMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server error: %v", err)
	}
	<-shutdownDone
	<-monitorDone
	service.Shutdown()
	logger.Printf("shutdown complete")
}

type config struct {
	HTTPAddr          string
	StoreDriver       string
	DatabaseURL       string
	SQLitePath        string
	DeviceTable       string
	LogTable          string
	LivenessInterval  time.Duration
	LivenessThreshold time.Duration
	LogWindow         int
	NotifyMode        string
	NotifyTimeout     time.Duration
	SinkTimeout       time.Duration
	CORSOrigin        string
	JWTSecret         string
}

func loadConfig() config {
	cfg := config{
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":5000"),
		StoreDriver:       getenvDefault("STORE_DRIVER", driverMemory),
		DatabaseURL:       getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		SQLitePath:        getenvDefault("SQLITE_PATH", "hemlarm.db"),
		DeviceTable:       getenvDefault("DYNAMODB_DEVICE_TABLE", ""),
		LogTable:          getenvDefault("DYNAMODB_LOG_TABLE", ""),
		LivenessInterval:  getenvDuration("LIVENESS_INTERVAL", liveness.DefaultInterval),
		LivenessThreshold: getenvDuration("LIVENESS_THRESHOLD", liveness.DefaultThreshold),
		LogWindow:         getenvIntDefault("LOG_WINDOW", motionlog.DefaultWindow),
		NotifyMode:        getenvDefault("NOTIFY_MODE", ingestapp.NotifyAlarmActive),
		NotifyTimeout:     getenvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		SinkTimeout:       getenvDuration("SINK_TIMEOUT", 5*time.Second),
		CORSOrigin:        getenvDefault("CORS_ORIGIN", "*"),
		JWTSecret:         getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", "")),
	}
	switch cfg.StoreDriver {
	case driverMemory, driverSQLite:
	case driverPostgres:
		if cfg.DatabaseURL == "" {
			log.Fatal("DATABASE_URL or PG_DSN is required for STORE_DRIVER=postgres")
		}
	case driverDynamo:
		if cfg.DeviceTable == "" || cfg.LogTable == "" {
			log.Fatal("DYNAMODB_DEVICE_TABLE and DYNAMODB_LOG_TABLE are required for STORE_DRIVER=dynamodb")
		}
	default:
		log.Fatalf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.LogWindow <= 0 {
		log.Fatal("LOG_WINDOW must be positive")
	}
	return cfg
}

type durableStore interface {
	ingestapp.DurableSink
	ingestapp.DeviceLoader
}

type storeHandle struct {
	sink   ingestapp.DurableSink
	loader ingestapp.DeviceLoader
	db     *sql.DB
	close  func()
}

func openStore(ctx context.Context, cfg config, logger *log.Logger) (storeHandle, error) {
	noop := func() {}
	switch cfg.StoreDriver {
	case driverPostgres:
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			return storeHandle{}, err
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return storeHandle{}, err
		}
		sink, err := ingestpostgres.NewSink(db)
		if err != nil {
			_ = db.Close()
			return storeHandle{}, err
		}
		if err := sink.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return storeHandle{}, err
		}
		return newStoreHandle(sink, db, func() { _ = db.Close() }), nil
	case driverSQLite:
		sink, err := ingestsqlite.Open(cfg.SQLitePath)
		if err != nil {
			return storeHandle{}, err
		}
		return newStoreHandle(sink, sink.DB(), func() { _ = sink.Close() }), nil
	case driverDynamo:
		client, err := dynamo.NewClient(ctx)
		if err != nil {
			return storeHandle{}, err
		}
		sink, err := dynamo.NewSink(client, cfg.DeviceTable, cfg.LogTable)
		if err != nil {
			return storeHandle{}, err
		}
		return newStoreHandle(sink, nil, noop), nil
	default:
		logger.Printf("store: memory only, state is lost on restart")
		return storeHandle{close: noop}, nil
	}
}

func newStoreHandle(store durableStore, db *sql.DB, closeFn func()) storeHandle {
	return storeHandle{sink: store, loader: store, db: db, close: closeFn}
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("invalid %s=%q, using %s", key, value, fallback)
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, recorder.status, time.Since(start))
	})
}

func recoverMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Printf("http panic: %s %s: %v", r.Method, r.URL.Path, rec)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal error"}` + "\n"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, origin string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
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

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("http: hijack unsupported")
	}
	return hijacker.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
