package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "modernc.org/sqlite"

	"github.com/example/stockauth/internal/cipher"
	cfg "github.com/example/stockauth/internal/config"
	"github.com/example/stockauth/internal/metrics"
	"github.com/example/stockauth/internal/token"
)

type App struct {
	DB          Store
	Cipher      *cipher.Cipher
	Tokens      *token.Service
	Loader      *IdentityLoader
	Log         *slog.Logger
	rateLimiter *RateLimiter
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write json: %v", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// newRouter builds the route table and middleware chain. Routes are named so
// the diagnostic scope and metrics can report the resolved handler.
func newRouter(app *App) *mux.Router {
	r := mux.NewRouter()

	// outermost first: the diagnostic scope must exist before anything logs,
	// and the gate must run before the policy check reads its result
	r.Use(app.RequestScope)
	r.Use(app.Logging)
	r.Use(SecurityHeaders)
	r.Use(app.CORS)
	r.Use(app.RateLimit)
	r.Use(app.Authenticate)
	r.Use(app.RequireAuth)

	// Operational endpoints (public)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET").Name("health")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if p, ok := app.DB.(interface{ ping() bool }); ok {
			if !p.ping() {
				w.WriteHeader(503)
				w.Write([]byte(`{"ready":false}`))
				return
			}
		}
		w.WriteHeader(200)
		w.Write([]byte(`{"ready":true}`))
	}).Methods("GET").Name("ready")
	r.Handle("/metrics", metrics.Handler()).Methods("GET").Name("metrics")
	r.HandleFunc("/errors", app.HandleErrors).Name("errors")

	// Authentication endpoints (public)
	r.HandleFunc("/api/login", app.HandleLogin).Methods("POST").Name("login")
	r.HandleFunc("/api/register", app.HandleRegister).Methods("POST").Name("register")

	// Everything below requires an authenticated identity
	r.HandleFunc("/api/me", app.HandleMe).Methods("GET").Name("me")
	r.HandleFunc("/api/users", app.HandleListUsers).Methods("GET").Name("listUsers")
	r.HandleFunc("/api/roles", app.HandleListRoles).Methods("GET").Name("listRoles")
	r.HandleFunc("/api/roles", app.HandleCreateRole).Methods("POST").Name("createRole")
	r.HandleFunc("/api/user-roles", app.HandleAssignRole).Methods("POST").Name("assignRole")

	return r
}

func main() {
	c, err := cfg.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(c.LogLevel)

	credCipher, err := cipher.New(c.CipherSecret)
	if err != nil {
		log.Fatalf("cipher init: %v", err)
	}

	var db Store
	switch c.DBAdapter {
	case "sqlite":
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			log.Fatalf("sqlite init: %v", err)
		}
		db = s
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			log.Fatalf("postgres config error: %v", err)
		}

		logger.Info("applying database migrations")
		if err := ApplyMigrations("./migrations", dsn); err != nil {
			log.Fatalf("migrations: %v", err)
		}

		p, err := NewPostgresDB(dsn)
		if err != nil {
			log.Fatalf("postgres init: %v", err)
		}
		db = p
		logger.Info("connected to PostgreSQL")
	case "memory":
		logger.Warn("using in-memory database (not recommended for production)")
		db = NewMemoryDB()
	default:
		log.Fatalf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	app := &App{
		DB:          db,
		Cipher:      credCipher,
		Tokens:      token.NewService(c.JwtSecret),
		Log:         logger,
		rateLimiter: NewRateLimiter(300),
	}
	app.Loader = NewIdentityLoader(db, credCipher, logger)

	r := newRouter(app)

	srv := &http.Server{Handler: r, Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		fmt.Println("Starting stockauth server on", c.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown failed:%+v", err)
	}
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	fmt.Println("Server exited properly")
}
