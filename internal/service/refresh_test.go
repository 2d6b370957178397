package service

import (
	"context"
	"errors"
	"testing"

	"github.com/tazhate/tododav/internal/clients/caldav"
	"github.com/tazhate/tododav/internal/domain"
)

func testSettings(calendars ...domain.Calendar) domain.Settings {
	s := domain.DefaultSettings()
	s.Account = domain.Account{
		ServerURL:   "https://dav.example.com",
		Credentials: domain.Credentials{Username: "alice", Password: "secret"},
	}
	s.Calendars = calendars
	return s
}

func newTestRefresher(b Backend) *Refresher {
	r := NewRefresher(func(domain.Account) Backend { return b })
	r.now = clock
	return r
}

func ids(items []domain.Todo) []string {
	out := make([]string, 0, len(items))
	for _, t := range items {
		out = append(out, t.ID)
	}
	return out
}

func equalIDs(got []domain.Todo, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func TestFetchNotConfigured(t *testing.T) {
	tests := []struct {
		name     string
		settings domain.Settings
	}{
		{"no calendars", testSettings()},
		{"no password", func() domain.Settings {
			s := testSettings(domain.Calendar{DisplayName: "Tasks", URL: "/a/"})
			s.Account.Credentials.Password = ""
			return s
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			state, err := newTestRefresher(backend).Fetch(context.Background(), tt.settings)
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if len(state.Items) != 0 {
				t.Errorf("items: got %v, want none", ids(state.Items))
			}
			if !state.Timestamp.Equal(fixedNow) {
				t.Errorf("timestamp: got %v, want %v", state.Timestamp, fixedNow)
			}
			if len(backend.queries) != 0 || backend.discover != 0 {
				t.Errorf("remote calls: %d queries, %d discover", len(backend.queries), backend.discover)
			}
		})
	}
}

func TestFetchMergesCalendarsInOrder(t *testing.T) {
	backend := newFakeBackend()
	backend.pending["/a/"] = []caldav.Object{
		todoObject("/a/", "1", "one", false),
		todoObject("/a/", "2", "two", false),
	}
	backend.pending["/b/"] = []caldav.Object{todoObject("/b/", "3", "three", false)}

	settings := testSettings(
		domain.Calendar{DisplayName: "A", URL: "/a/"},
		domain.Calendar{DisplayName: "B", URL: "/b/"},
	)
	state, err := newTestRefresher(backend).Fetch(context.Background(), settings)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !equalIDs(state.Items, "1", "2", "3") {
		t.Errorf("items: got %v", ids(state.Items))
	}
	if state.Selection != settings.Selection() {
		t.Error("selection fingerprint not recorded")
	}
	if len(backend.queries) != 2 {
		t.Errorf("queries: got %d, want 2", len(backend.queries))
	}
}

func TestFetchIncludeCompleted(t *testing.T) {
	backend := newFakeBackend()
	backend.pending["/a/"] = []caldav.Object{todoObject("/a/", "1", "one", false)}
	backend.completed["/a/"] = []caldav.Object{
		todoObject("/a/", "9", "done yesterday", true),
		todoObject("/a/", "1", "one", false),
	}

	settings := testSettings(domain.Calendar{DisplayName: "A", URL: "/a/"})
	r := newTestRefresher(backend)

	state, err := r.Fetch(context.Background(), settings)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !equalIDs(state.Items, "1") {
		t.Errorf("without completed: got %v", ids(state.Items))
	}

	settings.IncludeCompleted = true
	state, err = r.Fetch(context.Background(), settings)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !equalIDs(state.Items, "1", "9") {
		t.Errorf("with completed: got %v, want [1 9]", ids(state.Items))
	}
}

func TestFetchFailsWhole(t *testing.T) {
	backend := newFakeBackend()
	backend.pending["/a/"] = []caldav.Object{todoObject("/a/", "1", "one", false)}
	backend.queryErr["/b/"] = errors.New("connection reset")

	r := newTestRefresher(backend)
	settings := testSettings(
		domain.Calendar{DisplayName: "A", URL: "/a/"},
		domain.Calendar{DisplayName: "B", URL: "/b/"},
	)
	if _, err := r.Fetch(context.Background(), settings); err == nil {
		t.Fatal("Fetch: expected error")
	}
	if got := r.Busy(); got != 0 {
		t.Errorf("busy after failure: got %d, want 0", got)
	}
}

func TestFetchSkipsMalformed(t *testing.T) {
	backend := newFakeBackend()
	backend.pending["/a/"] = []caldav.Object{
		{Calendar: "/a/", Location: "/a/bad.ics", Data: "BEGIN:VCALENDAR\nEND:VCALENDAR"},
		todoObject("/a/", "1", "one", false),
	}
	state, err := newTestRefresher(backend).Fetch(context.Background(), testSettings(domain.Calendar{DisplayName: "A", URL: "/a/"}))
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !equalIDs(state.Items, "1") {
		t.Errorf("items: got %v", ids(state.Items))
	}
}

func TestFetchResolvesCalendarsByName(t *testing.T) {
	backend := newFakeBackend()
	backend.calendars = []caldav.Calendar{
		{DisplayName: "Home", URL: "/home/"},
		{DisplayName: "Tasks", URL: "/tasks/"},
	}
	backend.pending["/tasks/"] = []caldav.Object{todoObject("/tasks/", "1", "one", false)}

	settings := testSettings(
		domain.Calendar{DisplayName: "tasks"},
		domain.Calendar{DisplayName: "Missing"},
	)
	state, err := newTestRefresher(backend).Fetch(context.Background(), settings)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if backend.discover != 1 {
		t.Errorf("discover: got %d, want 1", backend.discover)
	}
	if len(backend.queries) != 1 || backend.queries[0] != "/tasks/" {
		t.Errorf("queries: got %v, want [/tasks/]", backend.queries)
	}
	if !equalIDs(state.Items, "1") {
		t.Errorf("items: got %v", ids(state.Items))
	}
}

type blockingBackend struct {
	*fakeBackend
	started chan struct{}
	release chan struct{}
}

func (b *blockingBackend) Query(ctx context.Context, calendarPath string, filter *caldav.Filter) ([]caldav.Object, error) {
	b.started <- struct{}{}
	<-b.release
	return b.fakeBackend.Query(ctx, calendarPath, filter)
}

func TestBusyCountsInflightQueries(t *testing.T) {
	backend := &blockingBackend{
		fakeBackend: newFakeBackend(),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	r := newTestRefresher(backend)
	settings := testSettings(
		domain.Calendar{DisplayName: "A", URL: "/a/"},
		domain.Calendar{DisplayName: "B", URL: "/b/"},
	)

	done := make(chan error, 1)
	go func() {
		_, err := r.Fetch(context.Background(), settings)
		done <- err
	}()

	<-backend.started
	<-backend.started
	if got := r.Busy(); got != 2 {
		t.Errorf("busy while querying: got %d, want 2", got)
	}
	close(backend.release)

	if err := <-done; err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := r.Busy(); got != 0 {
		t.Errorf("busy after fetch: got %d, want 0", got)
	}
}
