package domain

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
)

// TodoOps are the remote mutations bound to the resource a todo came from
type TodoOps interface {
	Complete(ctx context.Context) error
	Edit(ctx context.Context, contents string) error
	Remove(ctx context.Context) error
}

type Todo struct {
	ID        string // UID of the VTODO
	Contents  string // SUMMARY
	Completed bool

	ops TodoOps
}

// NewTodo binds a todo to its remote operations. ops may be nil for todos
// that are not backed by a server object.
func NewTodo(id, contents string, completed bool, ops TodoOps) Todo {
	return Todo{ID: id, Contents: contents, Completed: completed, ops: ops}
}

// Ops returns the bound remote operations, or nil.
func (t Todo) Ops() TodoOps {
	return t.ops
}

func (t Todo) complete(ctx context.Context) error {
	if t.ops == nil {
		return nil
	}
	return t.ops.Complete(ctx)
}

func (t Todo) edit(ctx context.Context, contents string) error {
	if t.ops == nil {
		return nil
	}
	return t.ops.Edit(ctx, contents)
}

func (t Todo) remove(ctx context.Context) error {
	if t.ops == nil {
		return nil
	}
	return t.ops.Remove(ctx)
}

// ShortRef is a short stable handle for a todo ID, small enough for chat
// button payloads.
func ShortRef(id string) string {
	sum := sha1.Sum([]byte(id))
	return hex.EncodeToString(sum[:4])
}

// Status returns a checkbox for list output
func (t Todo) Status() string {
	if t.Completed {
		return "✅"
	}
	return "⬜"
}

// Visible applies the list view: completed todos are hidden unless
// showCompleted is set, and at most limit items are returned (limit <= 0
// means no limit).
func Visible(items []Todo, showCompleted bool, limit int) []Todo {
	out := make([]Todo, 0, len(items))
	for _, t := range items {
		if t.Completed && !showCompleted {
			continue
		}
		out = append(out, t)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Find returns the todo with the given ID or short reference
func Find(items []Todo, ref string) (Todo, bool) {
	for _, t := range items {
		if t.ID == ref {
			return t, true
		}
	}
	for _, t := range items {
		if ShortRef(t.ID) == ref {
			return t, true
		}
	}
	return Todo{}, false
}
