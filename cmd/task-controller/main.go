// Command task-controller runs the Task Controller service: the
// creator-side scheduler that fans a grid-search task out across
// accepted executors and reduces their partial results into one answer.
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
	"dgrid/internal/taskctl"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8004", "HTTP listen address")
	dbPath := flag.String("db", "/var/lib/dgrid/task-controller.db", "path to SQLite database")
	nodeAddr := flag.String("node-controller", "http://127.0.0.1:8000", "local Node Controller base URL")
	envAddr := flag.String("env-controller", "http://127.0.0.1:8001", "local Environment Controller base URL")
	dataAddr := flag.String("data-controller", "http://127.0.0.1:8002", "local Data Controller base URL")
	auditPath := flag.String("audit-log", "/var/lib/dgrid/task-controller/audit.jsonl", "path to JSONL audit log")
	flag.Parse()

	if err := audit.Init(*auditPath); err != nil {
		log.Printf("task-controller: audit log unavailable: %v", err)
	}
	defer audit.Close()

	db, err := sql.Open("sqlite3", *dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		log.Fatalf("task-controller: open database: %v", err)
	}
	defer db.Close()

	store := taskctl.NewStore(db)
	if err := store.EnsureSchema(); err != nil {
		log.Fatalf("task-controller: schema init: %v", err)
	}

	svc := taskctl.NewService(
		store,
		taskctl.NewNodeClient(*nodeAddr),
		taskctl.NewEnvClient(*envAddr),
		taskctl.NewDataClient(*dataAddr),
	)

	r := mux.NewRouter()
	taskctl.NewHandler(svc).Register(r)
	r.HandleFunc("/ping", pingHandler).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         *listenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("task-controller: listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("task-controller: server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("task-controller: shutting down")
	srv.Close()
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"success"}`))
}
