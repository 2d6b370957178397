package caldav

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recorded struct {
	method      string
	path        string
	ifMatch     string
	ifNoneMatch string
	contentType string
	user        string
	pass        string
	body        string
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recorded
	status   int
	etag     string
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	user, pass, _ := r.BasicAuth()

	s.mu.Lock()
	s.requests = append(s.requests, recorded{
		method:      r.Method,
		path:        r.URL.Path,
		ifMatch:     r.Header.Get("If-Match"),
		ifNoneMatch: r.Header.Get("If-None-Match"),
		contentType: r.Header.Get("Content-Type"),
		user:        user,
		pass:        pass,
		body:        string(body),
	})
	status, etag := s.status, s.etag
	s.mu.Unlock()

	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	w.WriteHeader(status)
}

func (s *fakeServer) last(t *testing.T) recorded {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatal("no request recorded")
	}
	return s.requests[len(s.requests)-1]
}

func newTestClient(t *testing.T, fs *fakeServer) *Client {
	t.Helper()
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/remote.php/dav", "alice", "secret")
}

func TestUpdateSendsConditionalPut(t *testing.T) {
	fs := &fakeServer{status: http.StatusNoContent, etag: `"rev-2"`}
	c := newTestClient(t, fs)

	etag, err := c.Update(context.Background(), "/remote.php/dav/calendars/alice/tasks/a.ics", "BEGIN:VCALENDAR", "rev-1", ContentType)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if etag != "rev-2" {
		t.Errorf("etag: got %q, want %q", etag, "rev-2")
	}

	req := fs.last(t)
	if req.method != http.MethodPut {
		t.Errorf("method: got %s", req.method)
	}
	if req.path != "/remote.php/dav/calendars/alice/tasks/a.ics" {
		t.Errorf("path: got %s", req.path)
	}
	if req.ifMatch != `"rev-1"` {
		t.Errorf("If-Match: got %q", req.ifMatch)
	}
	if req.contentType != ContentType {
		t.Errorf("Content-Type: got %q", req.contentType)
	}
	if req.user != "alice" || req.pass != "secret" {
		t.Errorf("auth: got %q/%q", req.user, req.pass)
	}
	if req.body != "BEGIN:VCALENDAR" {
		t.Errorf("body: got %q", req.body)
	}
}

func TestUpdatePreconditionFailed(t *testing.T) {
	fs := &fakeServer{status: http.StatusPreconditionFailed}
	c := newTestClient(t, fs)

	_, err := c.Update(context.Background(), "/x.ics", "data", `"stale"`, ContentType)
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("got %v, want ErrPreconditionFailed", err)
	}
	if got := fs.last(t).ifMatch; got != `"stale"` {
		t.Errorf("If-Match: got %q, want already-quoted tag unchanged", got)
	}
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"ok", http.StatusNoContent, nil},
		{"gone", http.StatusNotFound, ErrNotFound},
		{"stale", http.StatusPreconditionFailed, ErrPreconditionFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeServer{status: tt.status}
			c := newTestClient(t, fs)

			err := c.Delete(context.Background(), "/cal/a.ics", "rev-1")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Delete: got %v, want %v", err, tt.wantErr)
			}

			req := fs.last(t)
			if req.method != http.MethodDelete || req.ifMatch != `"rev-1"` {
				t.Errorf("request: got %s If-Match=%q", req.method, req.ifMatch)
			}
		})
	}
}

func TestDeleteServerError(t *testing.T) {
	fs := &fakeServer{status: http.StatusInternalServerError}
	c := newTestClient(t, fs)

	err := c.Delete(context.Background(), "/cal/a.ics", "rev-1")
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrPreconditionFailed) {
		t.Errorf("got %v, want generic error", err)
	}
}

func TestCreate(t *testing.T) {
	fs := &fakeServer{status: http.StatusCreated, etag: `W/"new"`}
	c := newTestClient(t, fs)

	obj, err := c.Create(context.Background(), "/cal/tasks", "uid-1", "BEGIN:VCALENDAR")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if obj.Location != "/cal/tasks/uid-1.ics" {
		t.Errorf("location: got %q", obj.Location)
	}
	if obj.ETag != "new" {
		t.Errorf("etag: got %q", obj.ETag)
	}

	req := fs.last(t)
	if req.ifNoneMatch != "*" || req.ifMatch != "" {
		t.Errorf("conditions: If-None-Match=%q If-Match=%q", req.ifNoneMatch, req.ifMatch)
	}
}

func TestContentType(t *testing.T) {
	if want := "text/calendar; charset=utf-8"; ContentType != want {
		t.Errorf("got %q, want %q", ContentType, want)
	}
}

func TestIsConfigured(t *testing.T) {
	if NewClient("", "a", "b").IsConfigured() {
		t.Error("missing URL must not be configured")
	}
	if NewClient("https://dav.example.com", "a", "").IsConfigured() {
		t.Error("missing password must not be configured")
	}
	if !NewClient("https://dav.example.com", "a", "b").IsConfigured() {
		t.Error("complete account must be configured")
	}
}

func TestSupportsTodos(t *testing.T) {
	if !(Calendar{}).SupportsTodos() {
		t.Error("empty component set must accept todos")
	}
	if (Calendar{Components: []string{"VEVENT"}}).SupportsTodos() {
		t.Error("event-only calendar must not accept todos")
	}
	if !(Calendar{Components: []string{"VEVENT", "VTODO"}}).SupportsTodos() {
		t.Error("mixed calendar must accept todos")
	}
}
