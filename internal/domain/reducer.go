package domain

import (
	"context"
	"fmt"
)

type ActionKind string

const (
	ActionRemove ActionKind = "REMOVE_TODO"
	ActionToggle ActionKind = "TOGGLE_TODO"
	ActionUpdate ActionKind = "UPDATE_TODO"
)

// Action is a user intent against one todo
type Action struct {
	Kind     ActionKind
	ID       string
	Contents string
}

func RemoveTodo(id string) Action {
	return Action{Kind: ActionRemove, ID: id}
}

func ToggleTodo(id string) Action {
	return Action{Kind: ActionToggle, ID: id}
}

func UpdateTodo(id, contents string) Action {
	return Action{Kind: ActionUpdate, ID: id, Contents: contents}
}

// Reduce applies action to state and returns the new list. The matched todo's
// remote operation runs as a side effect; its error is returned alongside the
// new list, which already reflects the intent and is not rolled back.
// An unmatched ID leaves the list unchanged. An unknown action kind panics.
func Reduce(ctx context.Context, state []Todo, action Action) ([]Todo, error) {
	err := Perform(ctx, state, action)
	return Apply(state, action), err
}

// Perform runs the remote operation of the todo action targets in state.
// Nothing happens for an unmatched ID.
func Perform(ctx context.Context, state []Todo, action Action) error {
	mustKnow(action.Kind)
	idx := indexOf(state, action.ID)
	if idx < 0 {
		return nil
	}

	t := state[idx]
	switch {
	case action.Kind == ActionToggle:
		return t.complete(ctx)
	case action.Kind == ActionUpdate && action.Contents != "":
		return t.edit(ctx, action.Contents)
	default:
		return t.remove(ctx)
	}
}

// Apply returns the list as it looks after action, without side effects.
// state is not modified.
func Apply(state []Todo, action Action) []Todo {
	mustKnow(action.Kind)
	idx := indexOf(state, action.ID)
	if idx < 0 {
		return state
	}

	switch {
	case action.Kind == ActionToggle:
		return replace(state, idx, func(t Todo) Todo {
			t.Completed = !t.Completed
			return t
		})
	case action.Kind == ActionUpdate && action.Contents != "":
		return replace(state, idx, func(t Todo) Todo {
			t.Contents = action.Contents
			return t
		})
	default:
		out := make([]Todo, 0, len(state)-1)
		out = append(out, state[:idx]...)
		return append(out, state[idx+1:]...)
	}
}

func mustKnow(kind ActionKind) {
	switch kind {
	case ActionRemove, ActionToggle, ActionUpdate:
	default:
		panic(fmt.Sprintf("unknown action %q", kind))
	}
}

func indexOf(state []Todo, id string) int {
	for i, t := range state {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func replace(state []Todo, idx int, f func(Todo) Todo) []Todo {
	out := make([]Todo, len(state))
	copy(out, state)
	out[idx] = f(out[idx])
	return out
}
