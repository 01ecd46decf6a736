package node

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	db := newTestDB(t)
	t.Cleanup(func() { db.Close() })
	s := NewStore(db)
	if err := s.EnsureSchema(); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func TestStore_UpsertThenGet(t *testing.T) {
	s := newTestStore(t)
	n := Node{
		NodeUID:     "n1",
		IPv4Address: "10.0.0.1",
		Port:        8003,
		Role:        RoleExecutor,
		Status:      StatusActive,
		LastPing:    time.Unix(500, 0),
	}
	if err := s.Upsert(n); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, ok, err := s.Get("n1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got != n {
		t.Errorf("got %+v, want %+v", got, n)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown node")
	}
}

func TestStore_UpsertPreservesNodeUIDOnConflict(t *testing.T) {
	s := newTestStore(t)
	n := Node{NodeUID: "n1", IPv4Address: "10.0.0.1", Port: 1, Role: RoleExecutor, Status: StatusActive}
	s.Upsert(n)

	n.IPv4Address = "10.0.0.2"
	n.Port = 2
	s.Upsert(n)

	got, _, _ := s.Get("n1")
	if got.NodeUID != "n1" {
		t.Fatalf("node_uid changed across update: %s", got.NodeUID)
	}
	if got.IPv4Address != "10.0.0.2" || got.Port != 2 {
		t.Fatalf("expected refreshed endpoint, got %s:%d", got.IPv4Address, got.Port)
	}
}

func TestStore_ByRoleAndStatus(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(Node{NodeUID: "a", Role: RoleExecutor, Status: StatusActive, IPv4Address: "1.1.1.1", Port: 1})
	s.Upsert(Node{NodeUID: "b", Role: RoleExecutor, Status: StatusInactive, IPv4Address: "1.1.1.2", Port: 1})
	s.Upsert(Node{NodeUID: "c", Role: RoleCreator, Status: StatusActive, IPv4Address: "1.1.1.3", Port: 1})

	got, err := s.ByRoleAndStatus(RoleExecutor, StatusActive)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].NodeUID != "a" {
		t.Fatalf("expected only node a, got %+v", got)
	}
}

func TestStore_SetStatus(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(Node{NodeUID: "a", Role: RoleExecutor, Status: StatusUnknown, IPv4Address: "1.1.1.1", Port: 1})
	if err := s.SetStatus("a", StatusActive); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, _, _ := s.Get("a")
	if got.Status != StatusActive {
		t.Fatalf("expected active, got %s", got.Status)
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)
	s.Upsert(Node{NodeUID: "a", Role: RoleExecutor, Status: StatusActive, IPv4Address: "1.1.1.1", Port: 1})
	if err := s.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, _ := s.Get("a")
	if ok {
		t.Fatal("expected node to be gone after delete")
	}
}

func TestStore_AllEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty store, got %d", len(got))
	}
}
