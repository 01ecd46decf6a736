// Command node-controller runs the Node Controller service: own-identity
// bootstrap, peer registry, liveness probing, and gossip exchange.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"

	"dgrid/internal/audit"
	"dgrid/internal/config"
	"dgrid/internal/node"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8000", "HTTP listen address")
	dbPath := flag.String("db", "/var/lib/dgrid/node-controller.db", "path to SQLite database")
	configPath := flag.String("config", "/etc/dgrid/node-controller/config.json", "path to config.json")
	auditPath := flag.String("audit-log", "/var/lib/dgrid/node-controller/audit.jsonl", "path to JSONL audit log")
	flag.Parse()

	if err := audit.Init(*auditPath); err != nil {
		log.Printf("node-controller: audit log unavailable: %v", err)
	}
	defer audit.Close()

	db, err := sql.Open("sqlite3", *dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		log.Fatalf("node-controller: open database: %v", err)
	}
	defer db.Close()

	store := node.NewStore(db)
	if err := store.EnsureSchema(); err != nil {
		log.Fatalf("node-controller: schema init: %v", err)
	}

	cfg, err := config.Load(*configPath, config.RoleRegistry, *listenAddr)
	if err != nil {
		log.Fatalf("node-controller: load config: %v", err)
	}

	self := node.Node{NodeUID: cfg.NodeUID, Role: node.Role(cfg.Role), Port: cfg.PublicPort, IPv4Address: cfg.PublicIP}
	registry := node.NewRegistry(store, self)
	registry.Start()
	defer registry.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	upnpSvc, err := node.Bootstrap(ctx, cfg, registry)
	cancel()
	if err != nil {
		log.Printf("node-controller: bootstrap failed: %v", err)
	}
	defer node.Shutdown(upnpSvc, cfg.PublicPort)

	r := mux.NewRouter()
	node.NewHandler(registry).Register(r)

	srv := &http.Server{
		Addr:         *listenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("node-controller: listening on %s (node_uid=%s)", *listenAddr, cfg.NodeUID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("node-controller: server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("node-controller: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("node-controller: shutdown error: %v", err)
	}
}
