package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tazhate/tododav/internal/clients/caldav"
	"github.com/tazhate/tododav/internal/domain"
	"github.com/tazhate/tododav/internal/storage"
)

var fixedNow = time.Date(2024, time.March, 10, 8, 30, 15, 0, time.UTC)

func clock() time.Time { return fixedNow }

type write struct {
	Location    string
	Payload     string
	ETag        string
	ContentType string
}

// fakeBackend serves objects per calendar path. Objects listed under
// completed are only returned for the recently-completed filter.
type fakeBackend struct {
	mu        sync.Mutex
	pending   map[string][]caldav.Object
	completed map[string][]caldav.Object
	queryErr  map[string]error
	calendars []caldav.Calendar

	updateETag string
	updateErr  error
	deleteErr  error
	createErr  error

	queries  []string
	updates  []write
	deletes  []write
	creates  []write
	discover int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pending:   make(map[string][]caldav.Object),
		completed: make(map[string][]caldav.Object),
		queryErr:  make(map[string]error),
	}
}

func (f *fakeBackend) connect() ConnectFunc {
	return func(domain.Account) Backend { return f }
}

func (f *fakeBackend) Query(_ context.Context, calendarPath string, filter *caldav.Filter) ([]caldav.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, calendarPath)
	if err := f.queryErr[calendarPath]; err != nil {
		return nil, err
	}
	todo := filter.Child(caldav.ElemCompFilter, "VTODO")
	if todo != nil && todo.Child(caldav.ElemPropFilter, "DUE") != nil {
		return f.pending[calendarPath], nil
	}
	return f.completed[calendarPath], nil
}

func (f *fakeBackend) DiscoverCalendars(context.Context) ([]caldav.Calendar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discover++
	return f.calendars, nil
}

func (f *fakeBackend) Update(_ context.Context, location, payload, etag, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return "", f.updateErr
	}
	f.updates = append(f.updates, write{location, payload, etag, contentType})
	return f.updateETag, nil
}

func (f *fakeBackend) Delete(_ context.Context, location, etag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, write{Location: location, ETag: etag})
	return nil
}

func (f *fakeBackend) Create(_ context.Context, calendarPath, uid, payload string) (caldav.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return caldav.Object{}, f.createErr
	}
	location := calendarPath + uid + ".ics"
	f.creates = append(f.creates, write{Location: location, Payload: payload})
	obj := caldav.Object{Calendar: calendarPath, Location: location, ETag: "created", Data: payload}
	f.pending[calendarPath] = append(f.pending[calendarPath], obj)
	return obj, nil
}

func todoObject(calendar, uid, summary string, completed bool) caldav.Object {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VTODO",
		"UID:" + uid,
		"SUMMARY:" + summary,
		"DUE:20240311T090000Z",
	}
	if completed {
		lines = append(lines, "STATUS:COMPLETED", "COMPLETED:20240310T070000Z")
	}
	lines = append(lines, "END:VTODO", "END:VCALENDAR")

	return caldav.Object{
		Calendar: calendar,
		Location: fmt.Sprintf("%s%s.ics", calendar, uid),
		ETag:     "etag-" + uid,
		Data:     strings.Join(lines, "\r\n"),
	}
}

type memoryStore struct {
	mu    sync.Mutex
	snap  *storage.CacheSnapshot
	saves int
}

func (m *memoryStore) SaveCache(snap *storage.CacheSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.saves++
	return nil
}

func (m *memoryStore) LoadCache() (*storage.CacheSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap, nil
}
