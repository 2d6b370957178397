package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/tazhate/tododav/internal/domain"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newTestStorage(t)
	if err := s.migrate(); err != nil {
		t.Errorf("second migrate: %v", err)
	}
}

func TestLoadCacheEmpty(t *testing.T) {
	s := newTestStorage(t)
	snap, err := s.LoadCache()
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if snap != nil {
		t.Errorf("got %+v, want nil", snap)
	}
}

func TestSaveAndLoadCache(t *testing.T) {
	s := newTestStorage(t)
	fetched := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)

	first := &CacheSnapshot{
		FetchedAt: fetched,
		Selection: "sel-1",
		Items: []CachedTodo{
			{UID: "a", Contents: "first", Calendar: "/cal/", Location: "/cal/a.ics", ETag: "1", Data: "BEGIN:VCALENDAR"},
			{UID: "b", Contents: "second", Completed: true},
		},
	}
	if err := s.SaveCache(first); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	second := &CacheSnapshot{
		FetchedAt: fetched.Add(time.Hour),
		Selection: "sel-2",
		Items:     []CachedTodo{{UID: "c", Contents: "third"}},
	}
	if err := s.SaveCache(second); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	got, err := s.LoadCache()
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if got == nil {
		t.Fatal("LoadCache: got nil")
	}
	if !got.FetchedAt.Equal(second.FetchedAt) {
		t.Errorf("FetchedAt: got %v, want %v", got.FetchedAt, second.FetchedAt)
	}
	if got.Selection != "sel-2" {
		t.Errorf("Selection: got %q", got.Selection)
	}
	if len(got.Items) != 1 || got.Items[0].UID != "c" {
		t.Errorf("Items: got %+v, want replaced list", got.Items)
	}
}

func TestCacheKeepsOrderAndFields(t *testing.T) {
	s := newTestStorage(t)
	items := []CachedTodo{
		{UID: "z", Contents: "last letter", Completed: true, Calendar: "/c/", Location: "/c/z.ics", ETag: "e1", Data: "data-z"},
		{UID: "a", Contents: "first letter"},
	}
	if err := s.SaveCache(&CacheSnapshot{FetchedAt: time.Now(), Items: items}); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}

	got, err := s.LoadCache()
	if err != nil {
		t.Fatalf("LoadCache: %v", err)
	}
	if len(got.Items) != 2 {
		t.Fatalf("Items: got %d", len(got.Items))
	}
	if got.Items[0] != items[0] || got.Items[1] != items[1] {
		t.Errorf("Items: got %+v, want %+v", got.Items, items)
	}
}

func TestClearCache(t *testing.T) {
	s := newTestStorage(t)
	if err := s.SaveCache(&CacheSnapshot{FetchedAt: time.Now(), Items: []CachedTodo{{UID: "a"}}}); err != nil {
		t.Fatalf("SaveCache: %v", err)
	}
	if err := s.ClearCache(); err != nil {
		t.Fatalf("ClearCache: %v", err)
	}
	got, err := s.LoadCache()
	if err != nil || got != nil {
		t.Errorf("after clear: got %+v, %v", got, err)
	}
}

func TestUsers(t *testing.T) {
	s := newTestStorage(t)

	u := &domain.User{TelegramID: 42, Name: "Alice", Role: domain.RoleOwner, Digest: true}
	if err := s.CreateUser(u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == 0 {
		t.Error("ID not assigned")
	}

	got, err := s.GetUserByTelegramID(42)
	if err != nil || got == nil {
		t.Fatalf("GetUserByTelegramID: %v, %v", got, err)
	}
	if got.Name != "Alice" || !got.Digest {
		t.Errorf("user: got %+v", got)
	}

	if err := s.SetUserDigest(42, false); err != nil {
		t.Fatalf("SetUserDigest: %v", err)
	}
	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 || users[0].Digest {
		t.Errorf("users: got %+v", users)
	}

	missing, err := s.GetUserByTelegramID(7)
	if err != nil || missing != nil {
		t.Errorf("missing user: got %+v, %v", missing, err)
	}
}
