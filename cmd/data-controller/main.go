// Command data-controller runs the Data Controller service: publishes
// local directories to the BitTorrent swarm and downloads datasets by
// magnet link.
package main

import (
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
	"dgrid/internal/datactl"
	"dgrid/internal/dataset"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8002", "HTTP listen address")
	dbPath := flag.String("db", "/var/lib/dgrid/data-controller.db", "path to SQLite database")
	storageRoot := flag.String("storage-root", "/var/lib/dgrid/datasets", "root of datasets/<dataset_uid> directories")
	auditPath := flag.String("audit-log", "/var/lib/dgrid/data-controller/audit.jsonl", "path to JSONL audit log")
	flag.Parse()

	if err := audit.Init(*auditPath); err != nil {
		log.Printf("data-controller: audit log unavailable: %v", err)
	}
	defer audit.Close()

	db, err := sql.Open("sqlite3", *dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		log.Fatalf("data-controller: open database: %v", err)
	}
	defer db.Close()

	store := dataset.NewStore(db)
	if err := store.EnsureSchema(); err != nil {
		log.Fatalf("data-controller: schema init: %v", err)
	}

	swarm, err := datactl.NewSwarm(*storageRoot)
	if err != nil {
		log.Fatalf("data-controller: swarm client init: %v", err)
	}
	defer swarm.Close()

	svc := datactl.NewService(datactl.Config{StorageRoot: *storageRoot}, store, swarm)

	r := mux.NewRouter()
	datactl.NewHandler(svc).Register(r)
	r.HandleFunc("/ping", pingHandler).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         *listenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("data-controller: listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("data-controller: server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("data-controller: shutting down")
	srv.Close()
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"success"}`))
}
