package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sentra.one/internal/catalog"
	"sentra.one/internal/entitlement"
	"sentra.one/internal/httpapi"
	"sentra.one/internal/obs"
	"sentra.one/internal/points"
	"sentra.one/internal/store/mem"
	"sentra.one/internal/store/pg"
	"sentra.one/internal/tariff"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		db       *sql.DB
		tariffSt tariff.Store
		entSt    entitlement.Store
		pointsSt points.Store
	)
	if dsn := os.Getenv("SENTRA_PG_DSN"); dsn != "" {
		store, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db = store.DB()
		tariffSt, entSt, pointsSt = store, store, store
	} else {
		store := mem.New()
		tariffSt, entSt, pointsSt = store, store, store
		log.Println("SENTRA_PG_DSN is not set, using in-memory store")
	}

	cat := catalog.NewInMemory(catalog.Builtin())

	tariffs, err := tariff.NewService(tariffSt)
	if err != nil {
		log.Fatalf("tariff service: %v", err)
	}
	ents, err := entitlement.NewService(entSt, tariffs, cat)
	if err != nil {
		log.Fatalf("entitlement service: %v", err)
	}
	pts, err := points.NewService(pointsSt, ents)
	if err != nil {
		log.Fatalf("points service: %v", err)
	}

	api := httpapi.New(cat, tariffs, ents, pts, httpapi.ReadyProbe{DB: db}, version)

	addr := os.Getenv("SENTRA_HTTP_ADDR")
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

	log.Printf("Starting sentra-api %s on %s", version, srv.Addr)

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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
