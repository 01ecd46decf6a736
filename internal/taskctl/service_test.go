package taskctl

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"dgrid/internal/node"
)

func TestCreateTask_PersistsCreatingRow(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(store, NewNodeClient("http://127.0.0.1:0"), nil, nil)

	taskUID, err := svc.CreateTask("creator-a", TaskTypeGridSearch, map[string]interface{}{
		"subtasks_params": []interface{}{},
	}, "/data/unused")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	task, ok, err := svc.GetTask(taskUID)
	if err != nil || !ok {
		t.Fatalf("get task: ok=%v err=%v", ok, err)
	}
	if task.CreatorUID != "creator-a" {
		t.Fatalf("unexpected creator, got %+v", task)
	}
	// CreateTask starts its scheduling goroutine immediately; status may
	// already have advanced past creating by the time we observe it, so
	// only assert the row exists and fields round-trip correctly.
}

// fakeExecutor serves /subtask/offer, /subtask/start, /subtask/get, and
// /subtask/result for one executor in the scheduling job's happy path.
func fakeExecutor(t *testing.T, result []map[string]interface{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/subtask/offer", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "success", "verdict": "accepted"})
	})
	mux.HandleFunc("/subtask/start", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "creating"})
	})
	mux.HandleFunc("/subtask/get", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	})
	mux.HandleFunc("/subtask/result", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"status": "success", "result": result})
	})
	return httptest.NewServer(mux)
}

func TestSchedulingJob_HappyPathPicksBestResult(t *testing.T) {
	executorA := fakeExecutor(t, []map[string]interface{}{{"criterion": "gini", "f1_score": 0.7}})
	defer executorA.Close()
	executorB := fakeExecutor(t, []map[string]interface{}{{"criterion": "entropy", "f1_score": 0.95}})
	defer executorB.Close()

	nodesServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addrA := executorA.Listener.Addr().String()
		addrB := executorB.Listener.Addr().String()
		portA, hostA := splitHostPort(t, addrA)
		portB, hostB := splitHostPort(t, addrB)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"nodes": []node.Wire{
				{NodeUID: "exec-a", IPAddress: hostA, Port: portA, Role: "executor", Status: "active"},
				{NodeUID: "exec-b", IPAddress: hostB, Port: portB, Role: "executor", Status: "active"},
			},
		})
	}))
	defer nodesServer.Close()

	envMux := http.NewServeMux()
	envMux.HandleFunc("/image/push", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "building", "image_tag": "dgrid/grid_search:abc"})
	})
	envMux.HandleFunc("/image/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"image_tag": "dgrid/grid_search:abc", "status": "pushed"})
	})
	envServer := httptest.NewServer(envMux)
	defer envServer.Close()

	dataMux := http.NewServeMux()
	dataMux.HandleFunc("/data/publish", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"dataset_uid": "ds1"})
	})
	dataMux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"dataset_uid": "ds1", "status": "available", "magnet_link": "magnet:?xt=urn:btih:abc",
		})
	})
	dataServer := httptest.NewServer(dataMux)
	defer dataServer.Close()

	nodes := NewNodeClient(nodesServer.URL)
	env := NewEnvClient(envServer.URL)
	data := NewDataClient(dataServer.URL)

	store := newTestStore(t)
	svc := NewService(store, nodes, env, data)

	taskUID, err := svc.CreateTask("creator-a", TaskTypeGridSearch, map[string]interface{}{
		"subtasks_params": []interface{}{
			map[string]interface{}{"criterion": "gini"},
			map[string]interface{}{"criterion": "entropy"},
		},
	}, "/data/source")
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var task Task
	for time.Now().Before(deadline) {
		task, _, err = svc.GetTask(taskUID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status.Terminal() {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if task.Status != TaskSuccess {
		t.Fatalf("expected task to succeed, got status=%s", task.Status)
	}
	if len(task.Result) != 1 || task.Result[0]["criterion"] != "entropy" {
		t.Fatalf("expected entropy config to win, got %+v", task.Result)
	}
}

func splitHostPort(t *testing.T, addr string) (int, string) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port %s: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port %s: %v", portStr, err)
	}
	return port, host
}
