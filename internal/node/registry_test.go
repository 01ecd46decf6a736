package node

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func newTestRegistry(t *testing.T) *Registry {
	db := newTestDB(t)
	t.Cleanup(func() { db.Close() })
	store := NewStore(db)
	if err := store.EnsureSchema(); err != nil {
		t.Fatalf("schema: %v", err)
	}
	self := Node{NodeUID: "self", IPv4Address: "10.0.0.1", Port: 8000, Role: RoleCreator}
	return NewRegistry(store, self)
}

func TestHandshake_Idempotent(t *testing.T) {
	r := newTestRegistry(t)
	peer := Node{NodeUID: "peer1", IPv4Address: "10.0.0.2", Port: 8003, Role: RoleExecutor}

	if _, err := r.Handshake(peer); err != nil {
		t.Fatalf("first handshake: %v", err)
	}
	peer.Port = 9003
	if _, err := r.Handshake(peer); err != nil {
		t.Fatalf("second handshake: %v", err)
	}

	all, err := r.store.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one row after two handshakes, got %d", len(all))
	}
	if all[0].Port != 9003 {
		t.Errorf("expected latest port 9003, got %d", all[0].Port)
	}
	if all[0].Status != StatusActive {
		t.Errorf("expected active status, got %s", all[0].Status)
	}
}

func TestHandshake_ReturnsSelfIdentity(t *testing.T) {
	r := newTestRegistry(t)
	peer := Node{NodeUID: "peer1", IPv4Address: "10.0.0.2", Port: 8003, Role: RoleExecutor}

	self, err := r.Handshake(peer)
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if self.NodeUID != "self" {
		t.Errorf("expected self identity returned, got %s", self.NodeUID)
	}
}

func TestExchange_UpsertsAndReturnsPriorKnownSet(t *testing.T) {
	r := newTestRegistry(t)
	known := Node{NodeUID: "known1", IPv4Address: "10.0.0.3", Port: 8000, Role: RoleRegistry, Status: StatusActive}
	if err := r.store.Upsert(known); err != nil {
		t.Fatalf("seed known: %v", err)
	}

	incoming := []Node{
		{NodeUID: "new1", IPv4Address: "10.0.0.4", Port: 8003, Role: RoleExecutor, Status: StatusActive},
	}
	result, err := r.Exchange(incoming)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if len(result) != 1 || result[0].NodeUID != "known1" {
		t.Fatalf("expected exchange to return the prior known set, got %+v", result)
	}

	all, err := r.store.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected new1 to have been upserted, got %d rows", len(all))
	}
}

func TestExchange_CommutativeOnInputOrder(t *testing.T) {
	r1 := newTestRegistry(t)
	r2 := newTestRegistry(t)

	seed := Node{NodeUID: "seed", IPv4Address: "10.0.0.9", Port: 8000, Role: RoleRegistry, Status: StatusActive}
	r1.store.Upsert(seed)
	r2.store.Upsert(seed)

	a := Node{NodeUID: "a", IPv4Address: "10.0.0.10", Port: 8003, Role: RoleExecutor, Status: StatusActive}
	b := Node{NodeUID: "b", IPv4Address: "10.0.0.11", Port: 8003, Role: RoleExecutor, Status: StatusActive}

	res1, err := r1.Exchange([]Node{a, b})
	if err != nil {
		t.Fatalf("exchange 1: %v", err)
	}
	res2, err := r2.Exchange([]Node{b, a})
	if err != nil {
		t.Fatalf("exchange 2: %v", err)
	}
	if len(res1) != len(res2) {
		t.Fatalf("expected same-sized result regardless of input order: %d vs %d", len(res1), len(res2))
	}
}

func TestEnableUnknownNode_Fails(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.Enable("ghost", "10.0.0.5", 8003); err == nil {
		t.Fatal("expected error enabling an unknown node")
	}
}

func TestDisableThenEnable_FlipsStatus(t *testing.T) {
	r := newTestRegistry(t)
	peer := Node{NodeUID: "peer1", IPv4Address: "10.0.0.2", Port: 8003, Role: RoleExecutor}
	r.Handshake(peer)

	if err := r.Disable("peer1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	n, _, _ := r.store.Get("peer1")
	if n.Status != StatusInactive {
		t.Fatalf("expected inactive after disable, got %s", n.Status)
	}

	if err := r.Enable("peer1", "10.0.0.20", 9003); err != nil {
		t.Fatalf("enable: %v", err)
	}
	n, _, _ = r.store.Get("peer1")
	if n.Status != StatusActive || n.Port != 9003 {
		t.Fatalf("expected active with refreshed endpoint, got status=%s port=%d", n.Status, n.Port)
	}
}

func TestNodeUID_ImmutableAcrossUpdates(t *testing.T) {
	r := newTestRegistry(t)
	peer := Node{NodeUID: "stable-uid", IPv4Address: "10.0.0.2", Port: 8003, Role: RoleExecutor}
	r.Handshake(peer)

	peer.IPv4Address = "10.0.0.200"
	peer.Port = 7777
	r.Handshake(peer)

	n, ok, err := r.store.Get("stable-uid")
	if err != nil || !ok {
		t.Fatalf("expected node to exist: ok=%v err=%v", ok, err)
	}
	if n.NodeUID != "stable-uid" {
		t.Fatalf("node_uid must not change, got %s", n.NodeUID)
	}
	if n.IPv4Address != "10.0.0.200" || n.Port != 7777 {
		t.Fatalf("expected endpoint to have been updated, got %s:%d", n.IPv4Address, n.Port)
	}
}

func TestActiveExecutors_FiltersByRoleAndStatus(t *testing.T) {
	r := newTestRegistry(t)
	r.store.Upsert(Node{NodeUID: "e1", Role: RoleExecutor, Status: StatusActive, IPv4Address: "1.1.1.1", Port: 1})
	r.store.Upsert(Node{NodeUID: "e2", Role: RoleExecutor, Status: StatusInactive, IPv4Address: "1.1.1.2", Port: 1})
	r.store.Upsert(Node{NodeUID: "c1", Role: RoleCreator, Status: StatusActive, IPv4Address: "1.1.1.3", Port: 1})

	executors, err := r.ActiveExecutors()
	if err != nil {
		t.Fatalf("active executors: %v", err)
	}
	if len(executors) != 1 || executors[0].NodeUID != "e1" {
		t.Fatalf("expected only e1, got %+v", executors)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	for _, s := range []Status{StatusUnknown, StatusActive, StatusInactive} {
		parsed, err := ParseStatus(string(s))
		if err != nil || parsed != s {
			t.Errorf("round trip failed for %s: %v", s, err)
		}
	}
	if _, err := ParseStatus("bogus"); err == nil {
		t.Error("expected unknown status string to be rejected")
	}
}

func TestWireRoundTrip(t *testing.T) {
	n := Node{
		NodeUID:     "abc",
		IPv4Address: "10.0.0.1",
		Port:        8000,
		Role:        RoleExecutor,
		Status:      StatusActive,
		LastPing:    time.Unix(1000, 0),
	}
	back, err := FromWire(n.ToWire())
	if err != nil {
		t.Fatalf("from wire: %v", err)
	}
	if back != n {
		t.Errorf("round trip mismatch: got %+v, want %+v", back, n)
	}
}
