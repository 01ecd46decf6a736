package image

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

func TestUpsertThenGet(t *testing.T) {
	s := newTestStore(t)
	img := Image{ImageTag: "dgrid/grid_search:abc123", Status: StatusBuilding}
	if err := s.Upsert(img); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, ok, err := s.Get(img.ImageTag)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusBuilding {
		t.Errorf("expected building, got %s", got.Status)
	}
}

func TestRepeatBuildIsIdempotentTag(t *testing.T) {
	s := newTestStore(t)
	tag := "dgrid/grid_search:abc123"
	s.Upsert(Image{ImageTag: tag, Status: StatusBuilding})
	s.SetStatus(tag, StatusPushed)
	s.Upsert(Image{ImageTag: tag, Status: StatusBuilding})

	got, _, _ := s.Get(tag)
	if got.ImageTag != tag {
		t.Fatalf("image_tag changed across repeat build: %s", got.ImageTag)
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []Status{StatusPushed, StatusPulled, StatusBuildError, StatusPushError, StatusPullError, StatusArchived}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	nonTerminal := []Status{StatusCreating, StatusBuilding, StatusPushing, StatusPulling}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("expected %s to not be terminal", s)
		}
	}
}

func TestParseStatusRejectsUnknown(t *testing.T) {
	if _, err := ParseStatus("bogus"); err == nil {
		t.Error("expected error for unknown status")
	}
}
