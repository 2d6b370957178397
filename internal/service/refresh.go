package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/tazhate/tododav/internal/clients/caldav"
	"github.com/tazhate/tododav/internal/domain"
)

// Backend is the remote side of the todo list
type Backend interface {
	Writer
	Query(ctx context.Context, calendarPath string, filter *caldav.Filter) ([]caldav.Object, error)
	DiscoverCalendars(ctx context.Context) ([]caldav.Calendar, error)
	Create(ctx context.Context, calendarPath, uid, payload string) (caldav.Object, error)
}

// ConnectFunc returns a backend for an account
type ConnectFunc func(domain.Account) Backend

// CalDAVConnect connects with the CalDAV client
func CalDAVConnect(a domain.Account) Backend {
	return caldav.NewClient(a.ServerURL, a.Credentials.Username, a.Credentials.Password)
}

// Refresher fetches todos for the selected calendars. It does not own the
// cache; it only produces new snapshots.
type Refresher struct {
	connect ConnectFunc
	now     func() time.Time
	busy    atomic.Int64
}

func NewRefresher(connect ConnectFunc) *Refresher {
	if connect == nil {
		connect = CalDAVConnect
	}
	return &Refresher{connect: connect, now: time.Now}
}

// Busy returns the number of outbound requests in flight. Informational only.
func (r *Refresher) Busy() int64 {
	return r.busy.Load()
}

// track counts one outbound request until done is called
func (r *Refresher) track() (done func()) {
	r.busy.Add(1)
	return func() { r.busy.Add(-1) }
}

// Fetch queries every selected calendar concurrently and returns a new
// snapshot. Incomplete settings give an empty snapshot without remote calls.
// If any query fails the whole fetch fails.
func (r *Refresher) Fetch(ctx context.Context, settings domain.Settings) (domain.CacheState, error) {
	now := r.now()
	state := domain.CacheState{Timestamp: now, Selection: settings.Selection()}
	if !settings.Ready() {
		return state, nil
	}

	backend := r.connect(settings.Account)
	calendars, err := r.resolveCalendars(ctx, backend, settings.Calendars)
	if err != nil {
		return domain.CacheState{}, err
	}

	filters := []*caldav.Filter{caldav.PendingFilter(settings.DueTimeRange, now)}
	if settings.IncludeCompleted {
		filters = append(filters, caldav.RecentlyCompletedFilter(now))
	}

	results := make([][][]domain.Todo, len(calendars))
	g, gctx := errgroup.WithContext(ctx)
	for ci, cal := range calendars {
		results[ci] = make([][]domain.Todo, len(filters))
		for fi, filter := range filters {
			g.Go(func() error {
				done := r.track()
				defer done()

				objects, err := backend.Query(gctx, cal.URL, filter)
				if err != nil {
					return fmt.Errorf("query %q: %w", cal.DisplayName, err)
				}
				results[ci][fi] = r.materialize(objects, backend)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return domain.CacheState{}, err
	}

	seen := make(map[string]bool)
	for _, perCalendar := range results {
		for _, todos := range perCalendar {
			for _, t := range todos {
				key := t.ID
				if res, ok := t.Ops().(*Resource); ok {
					key = res.location
				}
				if seen[key] {
					continue
				}
				seen[key] = true
				state.Items = append(state.Items, t)
			}
		}
	}

	log.Debug("fetched todos", "calendars", len(calendars), "items", len(state.Items))
	return state, nil
}

func (r *Refresher) materialize(objects []caldav.Object, w Writer) []domain.Todo {
	todos := make([]domain.Todo, 0, len(objects))
	for _, obj := range objects {
		todo, err := Materialize(obj, w, r.now)
		if err != nil {
			log.Warn("skip calendar object", "location", obj.Location, "err", err)
			continue
		}
		todos = append(todos, todo)
	}
	return todos
}

// resolveCalendars fills in missing collection URLs by display name
func (r *Refresher) resolveCalendars(ctx context.Context, backend Backend, selected []domain.Calendar) ([]domain.Calendar, error) {
	resolved := make([]domain.Calendar, 0, len(selected))
	var missing []domain.Calendar
	for _, c := range selected {
		if c.URL != "" {
			resolved = append(resolved, c)
		} else {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return resolved, nil
	}

	done := r.track()
	found, err := backend.DiscoverCalendars(ctx)
	done()
	if err != nil {
		return nil, fmt.Errorf("discover calendars: %w", err)
	}

	for _, want := range missing {
		match := false
		for _, cal := range found {
			if strings.EqualFold(strings.TrimSpace(cal.DisplayName), strings.TrimSpace(want.DisplayName)) {
				resolved = append(resolved, domain.Calendar{DisplayName: cal.DisplayName, URL: cal.URL})
				match = true
				break
			}
		}
		if !match {
			log.Warn("selected calendar not found", "name", want.DisplayName)
		}
	}
	return resolved, nil
}
