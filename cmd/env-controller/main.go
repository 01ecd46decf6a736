// Command env-controller runs the Environment Controller service: builds
// and pushes subtask container images, pulls images for local execution,
// and runs subtask containers.
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
	"dgrid/internal/dockerclient"
	"dgrid/internal/envctl"
	"dgrid/internal/image"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8001", "HTTP listen address")
	dbPath := flag.String("db", "/var/lib/dgrid/env-controller.db", "path to SQLite database")
	namespace := flag.String("namespace", "dgrid", "image tag namespace")
	buildContexts := flag.String("build-contexts", "/var/lib/dgrid/tasks", "root of tasks/<task_kind>/subtasks/<subtask_kind> source trees")
	runtimeDir := flag.String("runtime-dir", "/var/lib/dgrid/runtime", "root of runtime/<subtask_uid>/{input,output} directories")
	auditPath := flag.String("audit-log", "/var/lib/dgrid/env-controller/audit.jsonl", "path to JSONL audit log")
	flag.Parse()

	if err := audit.Init(*auditPath); err != nil {
		log.Printf("env-controller: audit log unavailable: %v", err)
	}
	defer audit.Close()

	db, err := sql.Open("sqlite3", *dbPath+"?_journal_mode=WAL&_busy_timeout=30000")
	if err != nil {
		log.Fatalf("env-controller: open database: %v", err)
	}
	defer db.Close()

	images := image.NewStore(db)
	runs := envctl.NewContainerStore(db)
	if err := envctl.EnsureSchema(images, runs); err != nil {
		log.Fatalf("env-controller: schema init: %v", err)
	}

	svc := envctl.NewService(envctl.Config{
		Namespace:     *namespace,
		BuildContexts: *buildContexts,
		RuntimeDir:    *runtimeDir,
	}, images, runs, dockerclient.New())

	r := mux.NewRouter()
	envctl.NewHandler(svc).Register(r)
	r.HandleFunc("/ping", pingHandler).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:         *listenAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("env-controller: listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("env-controller: server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("env-controller: shutting down")
	srv.Close()
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"success"}`))
}
