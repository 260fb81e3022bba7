package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lease-ledger/internal/clients"
	"lease-ledger/internal/clock"
	"lease-ledger/internal/config"
	"lease-ledger/internal/logger"
	"lease-ledger/internal/repository"
	"lease-ledger/internal/service"
	"lease-ledger/internal/transport/auth"
	"lease-ledger/internal/transport/rest"
	"lease-ledger/internal/transport/websocket"
	"lease-ledger/pkg/database/postgres"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// ledgerStore is everything the services need from a storage driver.
type ledgerStore interface {
	service.LedgerStore
	service.ReportStore
	service.AuditStore
	service.CustomerStore
	service.PaymentCounter
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using system env or defaults")
	}

	cfg := config.Load()

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	// top-level context which we can cancel on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.NewSystemClock(cfg.Location())

	store, tokens, db := mustInitStore(ctx, cfg, lg)

	var exportCache service.ExportCache
	var redisClient *clients.RedisClient
	if cfg.Redis.Enabled {
		redisClient = mustInitRedis(cfg.Redis, lg)
		exportCache = redisClient
	} else {
		lg.Warn("redis disabled, export status tracking is off")
	}

	exportStorage, err := clients.NewLocalStorage(cfg.ExportDir, cfg.FilesPublicPrefix, cfg.ExternalURL)
	if err != nil {
		lg.Fatal("export storage init error", zap.Error(err))
	}
	proofs := mustInitProofStore(ctx, cfg, lg)

	wsHub := websocket.NewHub(lg.Named("ws"))
	go wsHub.Run(ctx)
	wsClient := clients.NewWebSocketClient(wsHub)

	ledger := service.NewLedger(store, clk, lg.Named("ledger")).WithNotifier(wsClient)
	aggregator := service.NewAggregator(store, clk, lg.Named("reports"))
	exporter := service.NewPaymentExportService(aggregator, store, exportCache, exportStorage, wsClient, clk, lg.Named("export"))

	handler := rest.NewHandler(rest.Services{
		Customers: service.NewCustomerService(store, ledger),
		Ledger:    ledger,
		Reports:   aggregator,
		Audit:     service.NewAuditLog(store),
		Exporter:  exporter,
		Exports:   service.NewExportService(exportCache, clk),
		Proofs:    proofs,
	}, clk, lg.Named("http"))

	sanctumMiddleware := auth.SanctumMiddleware(tokens, lg.Named("auth"))
	router := handler.InitRouterWithAuth(sanctumMiddleware)

	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID, err := auth.GetUserID(r.Context())
		if err != nil {
			rest.ErrorUnauthorized(w, "Unauthorized")
			return
		}
		lg.Debug("ws connected", zap.Int64("user_id", userID))
		wsHub.HandleWebSocket(w, r, userID)
	})

	// /files and /health stay public; everything else goes through auth
	root := chi.NewRouter()
	root.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				lg.Warn("health: postgres ping failed", zap.Error(err))
				rest.ErrorUnavailable(w, "database unavailable")
				return
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()); err != nil {
				lg.Warn("health: redis ping failed", zap.Error(err))
				rest.ErrorUnavailable(w, "cache unavailable")
				return
			}
		}
		rest.Success(w, "ok", nil)
	})
	root.Get(cfg.FilesPublicPrefix+"/{file}", serveFile(exportStorage))
	if local, ok := proofs.(*clients.StorageClient); ok {
		router.Get(local.PublicPrefix+"/{file}", serveFile(local))
	}
	root.Mount("/", router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      withCORS(root),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		lg.Info("http server listening", zap.String("port", cfg.Port), zap.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	go cleanupExports(ctx, exportStorage, cfg.ExportMaxAge, lg)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-srvErr:
		if err != nil {
			lg.Fatal("http server error", zap.Error(err))
		}
	case sig := <-stop:
		lg.Info("shutdown signal received", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			lg.Error("http server shutdown error", zap.Error(err))
		}

		// stops the websocket hub
		cancel()

		if err := postgres.Close(db); err != nil {
			lg.Error("postgres close error", zap.Error(err))
		}
		if err := redisClient.Close(); err != nil {
			lg.Error("redis close error", zap.Error(err))
		}

		lg.Info("shutdown complete")
	}
}

func mustInitStore(ctx context.Context, cfg config.AppConfig, lg *zap.Logger) (ledgerStore, auth.TokenFinder, *sql.DB) {
	switch cfg.StorageDriver {
	case "memory":
		store := repository.NewMemoryStore()
		if cfg.DevToken != "" {
			store.AddToken(cfg.DevToken, cfg.DevTokenUserID, nil)
		}
		lg.Warn("using in-memory storage, data is lost on restart")
		return store, store, nil
	case "postgres":
		db, err := postgres.NewPostgresConnection(ctx, postgres.ConnectionInfo{
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Username:        cfg.Postgres.User,
			DBName:          cfg.Postgres.DBName,
			SSLMode:         cfg.Postgres.SSLMode,
			Password:        cfg.Postgres.Password,
			MaxOpenConns:    cfg.Postgres.MaxConns,
			ConnMaxIdleTime: 5 * time.Minute,
		})
		if err != nil {
			lg.Fatal("postgres init error", zap.Error(err))
		}
		store := repository.NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			lg.Fatal("postgres schema error", zap.Error(err))
		}
		return store, repository.NewPersonalAccessTokenRepository(db, lg.Named("tokens")), db
	default:
		lg.Fatal("unknown STORAGE_DRIVER", zap.String("driver", cfg.StorageDriver))
		return nil, nil, nil
	}
}

func mustInitRedis(cfg config.RedisConfig, lg *zap.Logger) *clients.RedisClient {
	client, err := clients.NewRedisClient(clients.RedisConfig{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: time.Duration(cfg.DialTimeout) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		PoolSize:    cfg.PoolSize,
		Prefix:      cfg.Prefix,
	})
	if err != nil {
		lg.Fatal("redis init error", zap.Error(err))
	}
	return client
}

func mustInitProofStore(ctx context.Context, cfg config.AppConfig, lg *zap.Logger) rest.ProofStore {
	switch cfg.ProofStorage {
	case "s3":
		s3, err := clients.NewS3Client(ctx, clients.S3Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			UseSSL:          cfg.S3.UseSSL,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			URLTTL:          time.Duration(cfg.S3.URLTTLMinutes) * time.Minute,
		})
		if err != nil {
			lg.Fatal("s3 init error", zap.Error(err))
		}
		if err := s3.EnsureBucket(ctx, cfg.S3.Region); err != nil {
			lg.Fatal("s3 bucket error", zap.Error(err))
		}
		return s3
	case "local":
		local, err := clients.NewLocalStorage(cfg.ProofDir, "/proofs", cfg.ExternalURL)
		if err != nil {
			lg.Fatal("proof storage init error", zap.Error(err))
		}
		return local
	default:
		lg.Fatal("unknown PROOF_STORAGE", zap.String("driver", cfg.ProofStorage))
		return nil
	}
}

func serveFile(storage *clients.StorageClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := storage.Path(chi.URLParam(r, "file"))
		if err != nil {
			if os.IsNotExist(err) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, "failed to access file", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", clients.OriginalName(chi.URLParam(r, "file"))))
		http.ServeFile(w, r, path)
	}
}

func cleanupExports(ctx context.Context, storage *clients.StorageClient, maxAge time.Duration, lg *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := storage.CleanupOlderThan(maxAge)
			if err != nil {
				lg.Warn("export cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				lg.Debug("old exports removed", zap.Int("count", removed))
			}
		}
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")

			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
