package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"distress.org/internal/audit"
	"distress.org/internal/auth"
	"distress.org/internal/cases"
	"distress.org/internal/httpapi"
	"distress.org/internal/obs"
	"distress.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := os.Getenv("DISTRESS_AUTH_SECRET")
	if secret == "" {
		log.Fatal("DISTRESS_AUTH_SECRET is required")
	}

	tokenOpts := []auth.TokenOption{}
	if raw := os.Getenv("DISTRESS_TOKEN_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse DISTRESS_TOKEN_TTL: %v", err)
		}
		tokenOpts = append(tokenOpts, auth.WithTTL(ttl))
	}
	tokens, err := auth.NewTokenService(secret, tokenOpts...)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	// Storage: Postgres when a DSN is configured, in-memory otherwise. The
	// in-memory stores exist for local development only.
	var (
		caseStore cases.Store
		userStore auth.UserStore
		auditLog  audit.Store
		probe     httpapi.ReadyProbe
		pgStore   *pg.Store
	)
	if dsn := os.Getenv("DISTRESS_PG_DSN"); dsn != "" {
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		caseStore = pgStore
		userStore = pgStore.Users()
		auditLog = pgStore.Audit()
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Println("DISTRESS_PG_DSN not set, using in-memory stores")
		mem := audit.NewInMemory()
		caseStore = cases.NewInMemory(mem)
		userStore = auth.NewInMemoryUsers()
		auditLog = mem
	}

	directory, err := auth.NewDirectory(userStore)
	if err != nil {
		log.Fatalf("user directory: %v", err)
	}
	guard := auth.NewGuard(auth.DefaultTable())

	engine, err := cases.NewEngine(caseStore, guard, directory, auditLog)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	api := httpapi.New(engine, tokens, directory, probe, version)

	addr := os.Getenv("DISTRESS_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting distress-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	log.Println("Stopped")
}
