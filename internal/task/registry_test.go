package task

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/dshills/assetstorm/internal/fault"
)

func noop(context.Context) error { return nil }

func TestRegistry_RegisterResolve(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Task{Name: "styles", Deps: []string{"sprites"}, Action: noop}); err != nil {
		t.Fatalf("Register error = %v", err)
	}

	got, err := r.Resolve("styles")
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if got.Name != "styles" || !reflect.DeepEqual(got.Deps, []string{"sprites"}) {
		t.Errorf("Resolve = %+v", got)
	}
}

func TestRegistry_RegisterCopiesDeps(t *testing.T) {
	r := NewRegistry()
	deps := []string{"a"}
	r.MustRegister(Task{Name: "b", Deps: deps, Action: noop})
	deps[0] = "mutated"

	got, _ := r.Resolve("b")
	if got.Deps[0] != "a" {
		t.Errorf("Deps[0] = %q, want a", got.Deps[0])
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{Name: "views", Action: noop})

	err := r.Register(Task{Name: "views", Action: noop})
	var dup *DuplicateTaskError
	if !errors.As(err, &dup) {
		t.Fatalf("Register duplicate error = %v, want DuplicateTaskError", err)
	}
	if dup.Name != "views" {
		t.Errorf("Name = %q, want views", dup.Name)
	}
	if fault.KindOf(err) != fault.KindScheduling {
		t.Errorf("KindOf = %v, want scheduling", fault.KindOf(err))
	}
}

func TestRegistry_InvalidTask(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(Task{Action: noop}); fault.KindOf(err) != fault.KindConfig {
		t.Errorf("empty name error = %v, want config fault", err)
	}
	if err := r.Register(Task{Name: "x"}); fault.KindOf(err) != fault.KindConfig {
		t.Errorf("nil action error = %v, want config fault", err)
	}
}

func TestRegistry_GroupingTask(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{Name: "a", Deps: []string{"b"}})
	r.MustRegister(Task{Name: "b", Deps: []string{"a"}})

	if err := r.Freeze(); fault.KindOf(err) != fault.KindScheduling {
		t.Errorf("Freeze error = %v, want scheduling fault", err)
	}
}

func TestRegistry_Unknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Resolve("missing")
	var unk *UnknownTaskError
	if !errors.As(err, &unk) {
		t.Fatalf("Resolve error = %v, want UnknownTaskError", err)
	}
	if unk.Name != "missing" {
		t.Errorf("Name = %q, want missing", unk.Name)
	}
}

func TestRegistry_ValidateUnknownDep(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{Name: "default", Deps: []string{"nope"}, Action: noop})

	err := r.Validate()
	var unk *UnknownTaskError
	if !errors.As(err, &unk) {
		t.Fatalf("Validate error = %v, want UnknownTaskError", err)
	}
	if unk.Name != "nope" || unk.RequiredBy != "default" {
		t.Errorf("UnknownTaskError = %+v", unk)
	}
}

func TestRegistry_CycleAnyOrder(t *testing.T) {
	orders := [][]Task{
		{
			{Name: "A", Deps: []string{"B"}, Action: noop},
			{Name: "B", Deps: []string{"A"}, Action: noop},
		},
		{
			{Name: "B", Deps: []string{"A"}, Action: noop},
			{Name: "A", Deps: []string{"B"}, Action: noop},
		},
	}

	for i, tasks := range orders {
		r := NewRegistry()
		for _, tk := range tasks {
			r.MustRegister(tk)
		}

		err := r.Freeze()
		var cyc *CyclicDependencyError
		if !errors.As(err, &cyc) {
			t.Fatalf("order %d: Freeze error = %v, want CyclicDependencyError", i, err)
		}

		members := append([]string(nil), cyc.Members()...)
		sort.Strings(members)
		if !reflect.DeepEqual(members, []string{"A", "B"}) {
			t.Errorf("order %d: cycle members = %v, want [A B]", i, members)
		}
		if !reflect.DeepEqual(cyc.Cycle, []string{"A", "B", "A"}) {
			t.Errorf("order %d: Cycle = %v, want [A B A]", i, cyc.Cycle)
		}
		if r.Frozen() {
			t.Errorf("order %d: registry should not freeze with a cycle", i)
		}
	}
}

func TestRegistry_SelfCycle(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{Name: "loop", Deps: []string{"loop"}, Action: noop})

	var cyc *CyclicDependencyError
	if err := r.Validate(); !errors.As(err, &cyc) {
		t.Fatalf("Validate error = %v, want CyclicDependencyError", err)
	}
	if !reflect.DeepEqual(cyc.Members(), []string{"loop"}) {
		t.Errorf("Members = %v, want [loop]", cyc.Members())
	}
}

func TestRegistry_LongerCycleRotated(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{Name: "c", Deps: []string{"a"}, Action: noop})
	r.MustRegister(Task{Name: "b", Deps: []string{"c"}, Action: noop})
	r.MustRegister(Task{Name: "a", Deps: []string{"b"}, Action: noop})
	r.MustRegister(Task{Name: "root", Deps: []string{"b"}, Action: noop})

	var cyc *CyclicDependencyError
	if err := r.Validate(); !errors.As(err, &cyc) {
		t.Fatalf("Validate error = %v", err)
	}
	if !reflect.DeepEqual(cyc.Cycle, []string{"a", "b", "c", "a"}) {
		t.Errorf("Cycle = %v, want [a b c a]", cyc.Cycle)
	}
}

func TestRegistry_Freeze(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{Name: "a", Action: noop})

	if err := r.Freeze(); err != nil {
		t.Fatalf("Freeze error = %v", err)
	}
	if err := r.Register(Task{Name: "b", Action: noop}); !errors.Is(err, ErrFrozen) {
		t.Errorf("Register after Freeze error = %v, want ErrFrozen", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"watch", "views", "default"} {
		r.MustRegister(Task{Name: n, Action: noop})
	}

	want := []string{"default", "views", "watch"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}
