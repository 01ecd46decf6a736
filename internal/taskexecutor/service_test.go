package taskexecutor

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

func newTestService(t *testing.T) *Service {
	store := newTestStore(t)
	return NewService(Config{SubtasksDir: t.TempDir()}, store, nil, nil)
}

func TestOffer_IdempotentOnSubtaskUID(t *testing.T) {
	svc := newTestService(t)
	accepted1, err := svc.Offer("s1", "creator-a")
	if err != nil || !accepted1 {
		t.Fatalf("first offer: accepted=%v err=%v", accepted1, err)
	}
	accepted2, err := svc.Offer("s1", "creator-a")
	if err != nil || !accepted2 {
		t.Fatalf("second offer: accepted=%v err=%v", accepted2, err)
	}

	all, err := svc.GetSubtasks()
	if err != nil {
		t.Fatalf("get subtasks: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one subtask row after two offers, got %d", len(all))
	}
}

func TestOffer_AlwaysAccepts(t *testing.T) {
	svc := newTestService(t)
	accepted, err := svc.Offer("s1", "creator-a")
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if !accepted {
		t.Fatal("expected offer to always be accepted")
	}
}

func TestStart_RequiresWaitingParamsRow(t *testing.T) {
	svc := newTestService(t)
	err := svc.Start(nil, "ghost", "tag", "ds1", "", nil)
	if err == nil {
		t.Fatal("expected error starting a subtask with no waiting_params row")
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusError, StatusTimeout, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusWaitingParams, StatusCreating, StatusRunning} {
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
