package dataset

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *Store {
	db, err := sql.Open("sqlite3", ":memory:?_journal_mode=WAL")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := NewStore(db)
	if err := s.EnsureSchema(); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func TestAvailableRequiresMagnetLinkOnPublisherSide(t *testing.T) {
	s := newTestStore(t)
	d := Dataset{DatasetUID: "d1", Path: "/data/d1", Status: StatusCreating}
	s.Upsert(d)

	s.SetStatus("d1", StatusPublishing)
	s.SetMagnetLink("d1", "urn:btih:deadbeef")
	s.SetStatus("d1", StatusAvailable)

	got, _, _ := s.Get("d1")
	if got.Status != StatusAvailable {
		t.Fatalf("expected available, got %s", got.Status)
	}
	if got.MagnetLink == "" {
		t.Fatal("expected non-empty magnet link once available")
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get("ghost")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown dataset")
	}
}

func TestTerminal(t *testing.T) {
	if !StatusAvailable.Terminal() {
		t.Error("available should be terminal")
	}
	if StatusDownloading.Terminal() {
		t.Error("downloading should not be terminal")
	}
}
