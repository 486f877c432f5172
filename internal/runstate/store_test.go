package runstate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func newTestRun(t *testing.T, s *Store, id string) *RunState {
	t.Helper()
	rs := New("golang", "generics", 10, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if id != "" {
		rs.ID = id
	}
	if err := s.Create(rs); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rs
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	rs := newTestRun(t, s, "")

	if rs.State != StateFetching {
		t.Errorf("State = %q, want %q", rs.State, StateFetching)
	}
	if rs.Version != CurrentVersion {
		t.Errorf("Version = %d, want %d", rs.Version, CurrentVersion)
	}
	if rs.CreatedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("CreatedAt = %q", rs.CreatedAt)
	}

	got, err := s.Get(rs.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Query != "generics" {
		t.Errorf("Query = %q, want %q", got.Query, "generics")
	}
	if got.FetchLimit != 10 {
		t.Errorf("FetchLimit = %d, want 10", got.FetchLimit)
	}
	if got.Results == nil {
		t.Error("Results should be an empty slice, not nil")
	}
}

func TestNewIDsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	rs := newTestRun(t, s, "run-1")
	if err := s.Create(rs); err == nil {
		t.Fatal("expected error creating duplicate run")
	}
}

func TestCreateRejectsPathIDs(t *testing.T) {
	s := newTestStore(t)
	rs := New("golang", "q", 1, time.Now())
	rs.ID = "../escape"
	if err := s.Create(rs); err == nil {
		t.Fatal("expected error for id containing a path separator")
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	rs := newTestRun(t, s, "run-1")

	updated, err := s.Update(rs.ID, func(r *RunState) error {
		r.State = StateFiltering
		r.Results = append(r.Results, StageResult{Stage: StageFetch, Posts: []Post{{ID: "p1", Title: "One"}}})
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.UpdatedAt == rs.UpdatedAt {
		t.Error("UpdatedAt should change on update")
	}

	got, _ := s.Get(rs.ID)
	if got.State != StateFiltering {
		t.Errorf("State = %q, want %q", got.State, StateFiltering)
	}
	if len(got.Posts()) != 1 {
		t.Errorf("len(Posts()) = %d, want 1", len(got.Posts()))
	}
}

func TestUpdateAbortDoesNotWrite(t *testing.T) {
	s := newTestStore(t)
	rs := newTestRun(t, s, "run-1")

	_, err := s.Update(rs.ID, func(r *RunState) error {
		r.State = StateDone
		return errors.New("nope")
	})
	if err == nil {
		t.Fatal("expected error from Update")
	}
	got, _ := s.Get(rs.ID)
	if got.State != StateFetching {
		t.Errorf("State = %q, want unchanged %q", got.State, StateFetching)
	}
}

func TestSaveMissingRun(t *testing.T) {
	s := newTestStore(t)
	rs := New("golang", "q", 1, time.Now())
	if err := s.Save(rs); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Save(uncreated) error = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	a := newTestRun(t, s, "aaa")
	b := newTestRun(t, s, "bbb")
	newTestRun(t, s, "ccc")

	a.State = StateDone
	if err := s.Save(a); err != nil {
		t.Fatal(err)
	}
	b.State = StateFailed
	if err := s.Save(b); err != nil {
		t.Fatal(err)
	}

	// Stray files and broken dirs are skipped.
	os.WriteFile(filepath.Join(s.BaseDir(), "notes.txt"), []byte("x"), 0o644)
	os.MkdirAll(filepath.Join(s.BaseDir(), "broken"), 0o755)

	all, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(List) = %d, want 3", len(all))
	}
	if all[0].ID != "aaa" || all[2].ID != "ccc" {
		t.Errorf("List order = %s,%s,%s", all[0].ID, all[1].ID, all[2].ID)
	}

	done, _ := s.List(StateDone)
	if len(done) != 1 || done[0].ID != "aaa" {
		t.Errorf("List(DONE) = %v", done)
	}
}

func TestListMissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope"))
	runs, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("len(List) = %d, want 0", len(runs))
	}
}

func TestResolve(t *testing.T) {
	s := newTestStore(t)
	newTestRun(t, s, "abc123")
	newTestRun(t, s, "abd456")

	id, err := s.Resolve("abc")
	if err != nil || id != "abc123" {
		t.Errorf("Resolve(abc) = %q, %v", id, err)
	}
	id, err = s.Resolve("abd456")
	if err != nil || id != "abd456" {
		t.Errorf("Resolve(full) = %q, %v", id, err)
	}
	if _, err := s.Resolve("ab"); err == nil || !strings.Contains(err.Error(), "ambiguous") {
		t.Errorf("Resolve(ab) error = %v, want ambiguous", err)
	}
	if _, err := s.Resolve("zzz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(zzz) error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	rs := newTestRun(t, s, "run-1")
	if err := s.Delete(rs.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(rs.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete error = %v", err)
	}
	if err := s.Delete(rs.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v", err)
	}
}

func TestSavePrompt(t *testing.T) {
	s := newTestStore(t)
	rs := newTestRun(t, s, "run-1")
	if err := s.SavePrompt(rs.ID, StageAnalyze, "p1", "# prompt"); err != nil {
		t.Fatalf("SavePrompt: %v", err)
	}
	got, err := s.GetPrompt(rs.ID, StageAnalyze, "p1")
	if err != nil {
		t.Fatalf("GetPrompt: %v", err)
	}
	if got != "# prompt" {
		t.Errorf("GetPrompt = %q", got)
	}
	if _, err := s.GetPrompt(rs.ID, StageReport, "report"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPrompt(missing) error = %v, want ErrNotFound", err)
	}
}

func TestLock(t *testing.T) {
	s := newTestStore(t)
	rs := newTestRun(t, s, "run-1")

	unlock, err := s.Lock(rs.ID)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if _, err := s.Lock(rs.ID); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Lock error = %v, want ErrLocked", err)
	}
	unlock()

	unlock, err = s.Lock(rs.ID)
	if err != nil {
		t.Fatalf("Lock after unlock: %v", err)
	}
	unlock()
}

func TestLockStale(t *testing.T) {
	s := newTestStore(t)
	rs := newTestRun(t, s, "run-1")

	path := filepath.Join(s.BaseDir(), rs.ID, ".advance.lock")
	if err := os.WriteFile(path, []byte("999 old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * StaleLockAge)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	unlock, err := s.Lock(rs.ID)
	if err != nil {
		t.Fatalf("Lock over stale lock: %v", err)
	}
	unlock()
}

func TestLockRefreshedWhileHeld(t *testing.T) {
	orig := lockRefresh
	lockRefresh = 10 * time.Millisecond
	t.Cleanup(func() { lockRefresh = orig })

	s := newTestStore(t)
	rs := newTestRun(t, s, "run-1")
	unlock, err := s.Lock(rs.ID)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	// Simulate a stage that has been running longer than StaleLockAge.
	path := filepath.Join(s.BaseDir(), rs.ID, ".advance.lock")
	old := time.Now().Add(-2 * StaleLockAge)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat lock: %v", err)
		}
		if time.Since(info.ModTime()) < StaleLockAge {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("held lock was never refreshed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := s.Lock(rs.ID); !errors.Is(err, ErrLocked) {
		t.Fatalf("Lock during long stage error = %v, want ErrLocked", err)
	}

	unlock()
	unlock()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file after unlock: %v", err)
	}
}

func TestLockConcurrent(t *testing.T) {
	s := newTestStore(t)
	rs := newTestRun(t, s, "run-1")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
		unlocks  []func()
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := s.Lock(rs.ID)
			if err != nil {
				return
			}
			mu.Lock()
			acquired++
			unlocks = append(unlocks, unlock)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if acquired != 1 {
		t.Errorf("acquired = %d, want exactly 1", acquired)
	}
	for _, u := range unlocks {
		u()
	}
}

func TestLockMissingRun(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Lock("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lock(missing) error = %v, want ErrNotFound", err)
	}
}
