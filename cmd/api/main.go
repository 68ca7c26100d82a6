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

	"worklane.org/internal/httpapi"
	"worklane.org/internal/obs"
	"worklane.org/internal/rbac"
	"worklane.org/internal/store/pg"
	"worklane.org/internal/stream"
	"worklane.org/internal/tracking"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		rbacStore     rbac.Store
		trackingStore tracking.Store
		probe         httpapi.ReadyProbe
		pgStore       *pg.Store
	)
	if dsn := os.Getenv("WORKLANE_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		rbacStore = pgStore
		trackingStore = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
		log.Printf("storage: postgres")
	} else {
		rbacStore = rbac.NewInMemory()
		trackingStore = tracking.NewInMemory()
		log.Printf("storage: in-memory (set WORKLANE_PG_DSN for postgres)")
	}

	rbacSvc, err := rbac.NewService(rbacStore)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	events := stream.New()
	trackingOpts := []tracking.Option{tracking.WithEvents(events)}
	if raw := os.Getenv("WORKLANE_INACTIVITY_TIMEOUT"); raw != "" {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse WORKLANE_INACTIVITY_TIMEOUT: %v", err)
		}
		trackingOpts = append(trackingOpts, tracking.WithInactivityTimeout(timeout))
	}
	trackingSvc, err := tracking.NewService(trackingStore, trackingOpts...)
	if err != nil {
		log.Fatalf("tracking service: %v", err)
	}

	api := httpapi.New(probe, version, rbacSvc, trackingSvc, events)

	addr := os.Getenv("WORKLANE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		// No WriteTimeout: /v1/sessions/stream holds the response open.
		IdleTimeout: 60 * time.Second,
	}

	log.Printf("Starting worklane-api %s on %s", version, srv.Addr)

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
