// Package main runs limed, the HTTP emulation gateway for the LIME
// messaging engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kinhtkblbp/limenode/pkg/httpemu"
	"github.com/kinhtkblbp/limenode/pkg/limelog"
	"github.com/kinhtkblbp/limenode/pkg/storage"
)

func main() {
	port := flag.Int("port", 8765, "HTTP listener port")
	backend := flag.String("storage", "memory", "envelope storage backend: memory or sqlite")
	sqlitePath := flag.String("sqlite-path", "./lime-storage.db", "path to the SQLite database file (storage=sqlite)")
	storageTTL := flag.Duration("storage-ttl", 0, "envelope expiry for the sqlite backend, 0 disables")
	requestTimeout := flag.Duration("request-timeout", 60*time.Second, "HTTP long-poll and correlated-response timeout")
	remoteIdleTimeout := flag.Duration("remote-idle-timeout", 0, "liveness ping timeout, 0 disables")
	rateLimit := flag.Int("rate-limit", 0, "requests per minute per identity, 0 disables")
	domain := flag.String("domain", "lime.local", "domain of the gateway's own node (lime@<domain>/gateway)")
	writeExceptions := flag.Bool("write-exceptions", false, "include error detail in 5xx response bodies")

	flag.Parse()

	fmt.Println("limed — LIME HTTP emulation gateway")
	fmt.Println("====================================")
	fmt.Println()

	var store storage.Storage
	switch *backend {
	case "memory":
		store = storage.NewMemory()
		fmt.Println("storage backend: memory")
	case "sqlite":
		fmt.Printf("storage backend: sqlite (%s)\n", *sqlitePath)
		s, err := storage.OpenSQLite(*sqlitePath, storage.SQLiteOptions{TTL: *storageTTL})
		if err != nil {
			log.Fatalf("open sqlite storage: %v", err)
		}
		store = s
	default:
		log.Fatalf("unknown storage backend %q", *backend)
	}

	logger := limelog.Default()

	listener := httpemu.New(store, httpemu.Config{
		RequestTimeout:          *requestTimeout,
		RemoteIdleTimeout:       *remoteIdleTimeout,
		RateLimitPerMinute:      *rateLimit,
		WriteExceptionsToOutput: *writeExceptions,
		LocalDomain:             *domain,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go listener.Serve(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: listener.Engine(),
	}

	go func() {
		fmt.Printf("listening on :%d\n", *port)
		fmt.Println()
		fmt.Println("Endpoints:")
		fmt.Printf("  GET    http://localhost:%d/messages/\n", *port)
		fmt.Printf("  POST   http://localhost:%d/messages/\n", *port)
		fmt.Printf("  GET    http://localhost:%d/storage/messages/\n", *port)
		fmt.Printf("  DELETE http://localhost:%d/storage/messages/:id\n", *port)
		fmt.Printf("  GET    http://localhost:%d/commands/:resource/\n", *port)
		fmt.Printf("  GET    http://localhost:%d/storage/notifications/\n", *port)
		fmt.Printf("  POST   http://localhost:%d/notifications/\n", *port)
		fmt.Printf("  GET    http://localhost:%d/health\n", *port)
		fmt.Printf("  GET    http://localhost:%d/metrics\n", *port)
		fmt.Println()

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nshutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Printf("error during shutdown: %v\n", err)
	}
	if err := store.Close(); err != nil {
		fmt.Printf("error closing storage: %v\n", err)
	}
	fmt.Println("goodbye")
}
