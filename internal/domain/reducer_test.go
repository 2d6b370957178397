package domain

import (
	"context"
	"errors"
	"testing"
)

type spyOps struct {
	completeCalls int
	editCalls     []string
	removeCalls   int
	err           error
}

func (s *spyOps) Complete(context.Context) error {
	s.completeCalls++
	return s.err
}

func (s *spyOps) Edit(_ context.Context, contents string) error {
	s.editCalls = append(s.editCalls, contents)
	return s.err
}

func (s *spyOps) Remove(context.Context) error {
	s.removeCalls++
	return s.err
}

type fixture struct {
	first, second *spyOps
	state         []Todo
}

func newFixture() fixture {
	first, second := &spyOps{}, &spyOps{}
	return fixture{
		first:  first,
		second: second,
		state: []Todo{
			NewTodo("1234", "Existing todo", true, first),
			NewTodo("5678", "Second existing todo", false, second),
		},
	}
}

type view struct {
	id        string
	contents  string
	completed bool
}

func views(items []Todo) []view {
	out := make([]view, len(items))
	for i, t := range items {
		out[i] = view{t.ID, t.Contents, t.Completed}
	}
	return out
}

func assertItems(t *testing.T, got []Todo, want ...view) {
	t.Helper()
	gv := views(got)
	if len(gv) != len(want) {
		t.Fatalf("items: got %+v, want %+v", gv, want)
	}
	for i := range want {
		if gv[i] != want[i] {
			t.Errorf("item %d: got %+v, want %+v", i, gv[i], want[i])
		}
	}
}

func TestReduceRemove(t *testing.T) {
	f := newFixture()

	got, err := Reduce(context.Background(), f.state, RemoveTodo("1234"))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	assertItems(t, got, view{"5678", "Second existing todo", false})

	if f.first.removeCalls != 1 {
		t.Errorf("remove calls: got %d, want 1", f.first.removeCalls)
	}
	if f.second.removeCalls != 0 {
		t.Errorf("unrelated remove calls: got %d", f.second.removeCalls)
	}
	if len(f.state) != 2 {
		t.Errorf("input state mutated: %d items", len(f.state))
	}
}

func TestReduceRemoveLast(t *testing.T) {
	ops := &spyOps{}
	got, _ := Reduce(context.Background(), []Todo{NewTodo("1234", "Existing todo", true, ops)}, RemoveTodo("1234"))
	if len(got) != 0 {
		t.Errorf("got %+v, want empty", views(got))
	}
}

func TestReduceToggle(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want []view
	}{
		{"completed to open", "1234", []view{
			{"1234", "Existing todo", false},
			{"5678", "Second existing todo", false},
		}},
		{"open to completed", "5678", []view{
			{"1234", "Existing todo", true},
			{"5678", "Second existing todo", true},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			got, err := Reduce(context.Background(), f.state, ToggleTodo(tt.id))
			if err != nil {
				t.Fatalf("Reduce: %v", err)
			}
			assertItems(t, got, tt.want...)

			if f.state[0].Completed != true || f.state[1].Completed != false {
				t.Error("input state mutated")
			}
		})
	}
}

func TestReduceToggleCallsComplete(t *testing.T) {
	f := newFixture()
	Reduce(context.Background(), f.state, ToggleTodo("1234"))

	if f.first.completeCalls != 1 {
		t.Errorf("complete calls: got %d, want 1", f.first.completeCalls)
	}
	if f.second.completeCalls != 0 {
		t.Errorf("unrelated complete calls: got %d", f.second.completeCalls)
	}
}

func TestReduceUpdate(t *testing.T) {
	f := newFixture()

	got, err := Reduce(context.Background(), f.state, UpdateTodo("1234", "Existing todo: edited"))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	assertItems(t, got,
		view{"1234", "Existing todo: edited", true},
		view{"5678", "Second existing todo", false},
	)

	if len(f.first.editCalls) != 1 || f.first.editCalls[0] != "Existing todo: edited" {
		t.Errorf("edit calls: got %q", f.first.editCalls)
	}
}

func TestReduceUpdateEmptyRemoves(t *testing.T) {
	f := newFixture()

	got, err := Reduce(context.Background(), f.state, UpdateTodo("5678", ""))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	assertItems(t, got, view{"1234", "Existing todo", true})

	if f.second.removeCalls != 1 {
		t.Errorf("remove calls: got %d, want 1", f.second.removeCalls)
	}
	if len(f.second.editCalls) != 0 {
		t.Errorf("edit must not be called, got %q", f.second.editCalls)
	}
}

func TestReduceUnknownID(t *testing.T) {
	actions := []Action{
		RemoveTodo("0000"),
		ToggleTodo("0000"),
		UpdateTodo("0000", "text"),
		UpdateTodo("0000", ""),
	}

	for _, a := range actions {
		t.Run(string(a.Kind), func(t *testing.T) {
			f := newFixture()
			got, err := Reduce(context.Background(), f.state, a)
			if err != nil {
				t.Fatalf("Reduce: %v", err)
			}
			assertItems(t, got, views(f.state)...)

			for _, ops := range []*spyOps{f.first, f.second} {
				if ops.completeCalls+ops.removeCalls+len(ops.editCalls) != 0 {
					t.Errorf("unexpected side effect: %+v", ops)
				}
			}
		})
	}
}

func TestReduceKeepsOptimisticStateOnError(t *testing.T) {
	f := newFixture()
	f.first.err = errors.New("412 precondition failed")

	got, err := Reduce(context.Background(), f.state, ToggleTodo("1234"))
	if err == nil {
		t.Fatal("expected remote error")
	}
	assertItems(t, got,
		view{"1234", "Existing todo", false},
		view{"5678", "Second existing todo", false},
	)
}

func TestReduceWithoutOps(t *testing.T) {
	state := []Todo{NewTodo("1", "local", false, nil)}
	got, err := Reduce(context.Background(), state, ToggleTodo("1"))
	if err != nil {
		t.Fatalf("Reduce: %v", err)
	}
	assertItems(t, got, view{"1", "local", true})
}

func TestReduceUnknownActionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on unknown action")
		}
	}()
	Reduce(context.Background(), nil, Action{Kind: "UNKNOWN"})
}

func TestApplyHasNoSideEffects(t *testing.T) {
	tests := []struct {
		name   string
		action Action
		want   []view
	}{
		{"remove", RemoveTodo("1234"), []view{{"5678", "Second existing todo", false}}},
		{"toggle", ToggleTodo("5678"), []view{{"1234", "Existing todo", true}, {"5678", "Second existing todo", true}}},
		{"update", UpdateTodo("1234", "edited"), []view{{"1234", "edited", true}, {"5678", "Second existing todo", false}}},
		{"empty update", UpdateTodo("5678", ""), []view{{"1234", "Existing todo", true}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			before := views(f.state)

			assertItems(t, Apply(f.state, tt.action), tt.want...)
			assertItems(t, f.state, before...)
			for _, ops := range []*spyOps{f.first, f.second} {
				if ops.completeCalls+ops.removeCalls+len(ops.editCalls) != 0 {
					t.Errorf("unexpected side effect: %+v", ops)
				}
			}
		})
	}
}

func TestPerformOnlyRunsRemoteOperation(t *testing.T) {
	f := newFixture()

	if err := Perform(context.Background(), f.state, UpdateTodo("5678", "")); err != nil {
		t.Fatalf("Perform: %v", err)
	}
	if f.second.removeCalls != 1 || len(f.second.editCalls) != 0 {
		t.Errorf("second: got %+v, want one remove", f.second)
	}
	assertItems(t, f.state, views(newFixture().state)...)
}
