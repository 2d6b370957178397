package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tazhate/tododav/internal/clients/caldav"
	"github.com/tazhate/tododav/internal/domain"
	"github.com/tazhate/tododav/internal/ics"
)

// ErrMalformed is returned for objects without a VCALENDAR/VTODO pair
var ErrMalformed = errors.New("malformed calendar object")

// Writer performs conditional writes of calendar objects
type Writer interface {
	// Update replaces the object and returns its new entity tag, if known
	Update(ctx context.Context, location, payload, etag, contentType string) (string, error)
	Delete(ctx context.Context, location, etag string) error
}

// Resource is the server object behind a todo. It implements
// domain.TodoOps; every write carries the entity tag it was read with.
type Resource struct {
	mu       sync.Mutex
	calendar string
	location string
	etag     string
	header   *ics.Node // VCALENDAR scalars, kept for VERSION/PRODID
	task     *ics.Node // The VTODO block

	writer Writer
	now    func() time.Time
}

// Materialize decodes a fetched object into a todo bound to its resource
func Materialize(obj caldav.Object, w Writer, now func() time.Time) (domain.Todo, error) {
	root, err := ics.Convert(obj.Data)
	if err != nil {
		return domain.Todo{}, fmt.Errorf("decode %s: %w", obj.Location, err)
	}

	cals := root.Blocks("VCALENDAR")
	if len(cals) == 0 {
		return domain.Todo{}, fmt.Errorf("%s: no VCALENDAR: %w", obj.Location, ErrMalformed)
	}
	tasks := cals[0].Blocks("VTODO")
	if len(tasks) == 0 {
		return domain.Todo{}, fmt.Errorf("%s: no VTODO: %w", obj.Location, ErrMalformed)
	}
	task := tasks[0]

	if now == nil {
		now = time.Now
	}
	r := &Resource{
		calendar: obj.Calendar,
		location: obj.Location,
		etag:     obj.ETag,
		header:   cals[0],
		task:     task,
		writer:   w,
		now:      now,
	}

	return domain.NewTodo(task.Text("UID"), task.Text("SUMMARY"), task.Has("COMPLETED"), r), nil
}

// Complete marks the task completed on the server
func (r *Resource) Complete(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task.Has("COMPLETED") {
		return nil
	}

	task := r.task.Clone()
	task.Set("STATUS", "COMPLETED")
	task.Set("COMPLETED", caldav.FormatStamp(r.now()))
	task.Set("PERCENT-COMPLETE", "100")
	return r.push(ctx, task)
}

// Edit changes the task summary on the server
func (r *Resource) Edit(ctx context.Context, contents string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.task.Text("SUMMARY") == contents {
		return nil
	}

	task := r.task.Clone()
	task.Set("SUMMARY", contents)
	return r.push(ctx, task)
}

// Remove deletes the object from the server
func (r *Resource) Remove(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.writer.Delete(ctx, r.location, r.etag); err != nil {
		return fmt.Errorf("remove todo: %w", err)
	}
	return nil
}

// push writes task and adopts it once the server accepted it
func (r *Resource) push(ctx context.Context, task *ics.Node) error {
	etag, err := r.writer.Update(ctx, r.location, r.encode(task), r.etag, caldav.ContentType)
	if err != nil {
		return fmt.Errorf("update todo: %w", err)
	}
	r.task = task
	if etag != "" {
		r.etag = etag
	}
	return nil
}

// encode wraps task in a minimal VCALENDAR
func (r *Resource) encode(task *ics.Node) string {
	cal := ics.NewNode()
	for _, key := range []string{"VERSION", "PRODID"} {
		if v := r.header.Text(key); v != "" {
			cal.Set(key, v)
		}
	}
	cal.AppendBlock("VTODO", task)

	root := ics.NewNode()
	root.AppendBlock("VCALENDAR", cal)
	return ics.Revert(root)
}

// Object returns the current state of the resource as a calendar object
func (r *Resource) Object() caldav.Object {
	r.mu.Lock()
	defer r.mu.Unlock()

	return caldav.Object{
		Calendar: r.calendar,
		Location: r.location,
		ETag:     r.etag,
		Data:     r.encode(r.task),
	}
}
