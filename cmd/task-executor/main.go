// Command task-executor runs the Task Executor service: accepts subtask
// offers, pulls the image and dataset, runs the container, and serves the
// result back to the creator that polls it.
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
	"dgrid/internal/taskexecutor"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8003", "HTTP listen address")
	dbPath := flag.String("db", "/var/lib/dgrid/task-executor.db", "path to SQLite database")
	subtasksDir := flag.String("subtasks-dir", "/var/lib/dgrid/subtasks", "root of subtasks/<subtask_uid>/config.json directories")
	envAddr := flag.String("env-controller", "http://127.0.0.1:8001", "local Environment Controller base URL")
	dataAddr := flag.String("data-controller", "http://127.0.0.1:8002", "local Data Controller base URL")
	auditPath := flag.String("audit-log", "/var/lib/dgrid/task-executor/audit.jsonl", "path to JSONL audit log")
	flag.Parse()

	if err := audit.Init(*auditPath); err != nil {
		log.Printf("task-executor: audit log unavailable: %v", err)
	}
	defer audit.Close()

	db, err := sql.Open("sqlite3", *dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		log.Fatalf("task-executor: open database: %v", err)
	}
	defer db.Close()

	store := taskexecutor.NewStore(db)
	if err := store.EnsureSchema(); err != nil {
		log.Fatalf("task-executor: schema init: %v", err)
	}

	svc := taskexecutor.NewService(
		taskexecutor.Config{SubtasksDir: *subtasksDir},
		store,
		taskexecutor.NewEnvClient(*envAddr),
		taskexecutor.NewDataClient(*dataAddr),
	)

	r := mux.NewRouter()
	taskexecutor.NewHandler(svc).Register(r)
	r.HandleFunc("/ping", pingHandler).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         *listenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("task-executor: listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("task-executor: server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("task-executor: shutting down")
	srv.Close()
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"success"}`))
}
