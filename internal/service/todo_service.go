package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/tazhate/tododav/internal/clients/caldav"
	"github.com/tazhate/tododav/internal/domain"
	"github.com/tazhate/tododav/internal/ics"
	"github.com/tazhate/tododav/internal/storage"
)

const prodID = "-//tododav//EN"

// ErrNotConfigured is returned by operations that need an account and a
// selected calendar.
var ErrNotConfigured = errors.New("caldav account or calendars not configured")

// SnapshotStore persists the cache between restarts
type SnapshotStore interface {
	SaveCache(snap *storage.CacheSnapshot) error
	LoadCache() (*storage.CacheSnapshot, error)
}

// TodoService owns the settings and the cached todo list. The cache is
// replaced wholesale by refreshes and dispatched actions.
type TodoService struct {
	mu       sync.RWMutex
	settings domain.Settings
	cache    *domain.CacheState

	persistMu sync.Mutex

	refresher    *Refresher
	connect      ConnectFunc
	store        SnapshotStore
	saveSettings func(domain.Settings) error
	now          func() time.Time
}

// NewTodoService creates the service. store may be nil.
func NewTodoService(settings domain.Settings, store SnapshotStore, connect ConnectFunc) *TodoService {
	if connect == nil {
		connect = CalDAVConnect
	}
	return &TodoService{
		settings:  settings,
		refresher: NewRefresher(connect),
		connect:   connect,
		store:     store,
		now:       time.Now,
	}
}

// OnSettingsChange registers a callback that persists new settings
func (s *TodoService) OnSettingsChange(save func(domain.Settings) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveSettings = save
}

func (s *TodoService) Settings() domain.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings replaces the settings. A changed selection makes the cache
// stale; the next refresh picks it up.
func (s *TodoService) SetSettings(settings domain.Settings) error {
	s.mu.Lock()
	s.settings = settings
	save := s.saveSettings
	s.mu.Unlock()

	if save != nil {
		if err := save(settings); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	return nil
}

// Busy returns the number of outbound requests in flight
func (s *TodoService) Busy() int64 {
	return s.refresher.Busy()
}

// Cache returns the current snapshot, or nil before the first fetch
func (s *TodoService) Cache() *domain.CacheState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return nil
	}
	c := *s.cache
	c.Items = append([]domain.Todo(nil), s.cache.Items...)
	return &c
}

// Items returns all cached todos
func (s *TodoService) Items() []domain.Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return nil
	}
	return append([]domain.Todo(nil), s.cache.Items...)
}

// Visible returns the list view. Unless expanded, at most Settings.Show items
// are returned.
func (s *TodoService) Visible(showCompleted, expanded bool) []domain.Todo {
	limit := s.Settings().Show
	if expanded {
		limit = 0
	}
	return domain.Visible(s.Items(), showCompleted, limit)
}

// Find looks a todo up by ID or short reference
func (s *TodoService) Find(ref string) (domain.Todo, bool) {
	return domain.Find(s.Items(), ref)
}

// IsStale reports whether the cache must be refetched now
func (s *TodoService) IsStale() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache.IsStale(s.now(), s.settings.Interval(), s.settings.Selection())
}

// Refresh fetches a new snapshot and swaps it in. On failure the previous
// snapshot is kept.
func (s *TodoService) Refresh(ctx context.Context) error {
	settings := s.Settings()

	state, err := s.refresher.Fetch(ctx, settings)
	if err != nil {
		return fmt.Errorf("refresh todos: %w", err)
	}

	s.mu.Lock()
	if s.settings.Selection() != state.Selection {
		// Settings changed while fetching; the next refresh covers them.
		s.mu.Unlock()
		log.Debug("discard refresh for outdated selection")
		return nil
	}
	s.cache = &state
	s.mu.Unlock()

	s.persist()
	log.Info("todos refreshed", "items", len(state.Items))
	return nil
}

// RefreshIfStale refreshes when the cache is stale and reports whether it did
func (s *TodoService) RefreshIfStale(ctx context.Context) (bool, error) {
	if !s.IsStale() {
		return false, nil
	}
	if err := s.Refresh(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// Dispatch applies a user action. The remote write runs first, without
// holding the cache; the local change is then applied to whatever list is
// current, so concurrent actions and refreshes are not lost. The new list is
// kept even if the remote write fails; its error is returned. The timestamp
// is moved back one interval so the next staleness check reconciles with the
// server.
func (s *TodoService) Dispatch(ctx context.Context, action domain.Action) error {
	err := domain.Perform(ctx, s.Items(), action)

	s.mu.Lock()
	if s.cache != nil {
		s.cache = &domain.CacheState{
			Items:     domain.Apply(s.cache.Items, action),
			Timestamp: s.now().Add(-s.settings.Interval()),
			Selection: s.cache.Selection,
		}
	}
	s.mu.Unlock()

	s.persist()
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(string(action.Kind)), action.ID, err)
	}
	return nil
}

// Create adds a new todo, due now, to the first selected calendar
func (s *TodoService) Create(ctx context.Context, contents string) (domain.Todo, error) {
	contents = strings.TrimSpace(contents)
	if contents == "" {
		return domain.Todo{}, fmt.Errorf("todo text cannot be empty")
	}

	settings := s.Settings()
	if !settings.Ready() {
		return domain.Todo{}, ErrNotConfigured
	}

	backend := s.connect(settings.Account)
	calendars, err := s.refresher.resolveCalendars(ctx, backend, settings.Calendars[:1])
	if err != nil {
		return domain.Todo{}, err
	}
	if len(calendars) == 0 {
		return domain.Todo{}, fmt.Errorf("calendar %q not found", settings.Calendars[0].DisplayName)
	}

	uid := uuid.NewString()
	payload := newTodoPayload(uid, contents, s.now())

	done := s.refresher.track()
	obj, err := backend.Create(ctx, calendars[0].URL, uid, payload)
	done()
	if err != nil {
		return domain.Todo{}, fmt.Errorf("create todo: %w", err)
	}

	todo, err := Materialize(obj, backend, s.now)
	if err != nil {
		return domain.Todo{}, err
	}

	if err := s.Refresh(ctx); err != nil {
		log.Warn("refresh after create failed", "err", err)
		s.appendOptimistic(todo, settings)
	}
	return todo, nil
}

func (s *TodoService) appendOptimistic(todo domain.Todo, settings domain.Settings) {
	s.mu.Lock()
	state := domain.CacheState{
		Timestamp: s.now().Add(-settings.Interval()),
		Selection: settings.Selection(),
	}
	if s.cache != nil {
		state.Items = append(state.Items, s.cache.Items...)
	}
	state.Items = append(state.Items, todo)
	s.cache = &state
	s.mu.Unlock()

	s.persist()
}

func newTodoPayload(uid, contents string, now time.Time) string {
	stamp := caldav.FormatStamp(now)

	task := ics.NewNode()
	task.Set("UID", uid)
	task.Set("DTSTAMP", stamp)
	task.Set("CREATED", stamp)
	task.Set("SUMMARY", contents)
	task.Set("DUE", stamp)
	task.Set("STATUS", "NEEDS-ACTION")

	cal := ics.NewNode()
	cal.Set("VERSION", "2.0")
	cal.Set("PRODID", prodID)
	cal.AppendBlock("VTODO", task)

	root := ics.NewNode()
	root.AppendBlock("VCALENDAR", cal)
	return ics.Revert(root)
}

// DiscoverCalendars lists the calendars of the configured account that
// accept todos
func (s *TodoService) DiscoverCalendars(ctx context.Context) ([]caldav.Calendar, error) {
	settings := s.Settings()
	if !settings.Account.Complete() {
		return nil, ErrNotConfigured
	}

	done := s.refresher.track()
	all, err := s.connect(settings.Account).DiscoverCalendars(ctx)
	done()
	if err != nil {
		return nil, fmt.Errorf("discover calendars: %w", err)
	}

	var out []caldav.Calendar
	for _, c := range all {
		if c.SupportsTodos() {
			out = append(out, c)
		}
	}
	return out, nil
}

// Restore loads the persisted snapshot and rebinds its todos to the
// configured account. It does nothing when no snapshot is stored.
func (s *TodoService) Restore() error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.LoadCache()
	if err != nil {
		return fmt.Errorf("load cache: %w", err)
	}
	if snap == nil {
		return nil
	}

	settings := s.Settings()
	var backend Backend
	if settings.Account.Complete() {
		backend = s.connect(settings.Account)
	}

	state := domain.CacheState{Timestamp: snap.FetchedAt, Selection: snap.Selection}
	for _, it := range snap.Items {
		var ops domain.TodoOps
		if backend != nil && it.Data != "" {
			restored, err := Materialize(caldav.Object{
				Calendar: it.Calendar,
				Location: it.Location,
				ETag:     it.ETag,
				Data:     it.Data,
			}, backend, s.now)
			if err != nil {
				log.Warn("skip cached todo", "uid", it.UID, "err", err)
				continue
			}
			ops = restored.Ops()
		}
		state.Items = append(state.Items, domain.NewTodo(it.UID, it.Contents, it.Completed, ops))
	}

	s.mu.Lock()
	s.cache = &state
	s.mu.Unlock()

	log.Info("restored cached todos", "items", len(state.Items), "fetched_at", snap.FetchedAt)
	return nil
}

// persist saves the current cache. Saves are serialized so an older list
// never overwrites a newer one.
func (s *TodoService) persist() {
	if s.store == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	current := s.Cache()
	if current == nil {
		return
	}
	state := *current

	snap := &storage.CacheSnapshot{FetchedAt: state.Timestamp, Selection: state.Selection}
	for _, t := range state.Items {
		item := storage.CachedTodo{UID: t.ID, Contents: t.Contents, Completed: t.Completed}
		if res, ok := t.Ops().(*Resource); ok {
			obj := res.Object()
			item.Calendar = obj.Calendar
			item.Location = obj.Location
			item.ETag = obj.ETag
			item.Data = obj.Data
		}
		snap.Items = append(snap.Items, item)
	}

	if err := s.store.SaveCache(snap); err != nil {
		log.Warn("failed to save todo cache", "err", err)
	}
}
