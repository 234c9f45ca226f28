package watcher

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// mockWatcher feeds hand-written events to a DebouncedWatcher.
type mockWatcher struct {
	events chan Event
	errors chan error
	once   sync.Once
}

func newMockWatcher() *mockWatcher {
	return &mockWatcher{events: make(chan Event, 100), errors: make(chan error, 100)}
}

func (m *mockWatcher) Watch(string) error          { return nil }
func (m *mockWatcher) WatchRecursive(string) error { return nil }
func (m *mockWatcher) Events() <-chan Event        { return m.events }
func (m *mockWatcher) Errors() <-chan error        { return m.errors }

func (m *mockWatcher) Close() error {
	m.once.Do(func() {
		close(m.events)
		close(m.errors)
	})
	return nil
}

func TestNewDebouncedWatcher_DefaultDelay(t *testing.T) {
	dw := NewDebouncedWatcher(newMockWatcher(), 0)
	defer dw.Close()

	if dw.Delay() != DefaultDebounce {
		t.Errorf("Delay = %v, want %v", dw.Delay(), DefaultDebounce)
	}
}

func TestDebouncedWatcher_EventCoalescing(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, 50*time.Millisecond)
	defer dw.Close()

	mock.events <- Event{Path: "/a/main.scss", Op: OpWrite, Timestamp: time.Now()}
	time.Sleep(10 * time.Millisecond)
	mock.events <- Event{Path: "/a/main.scss", Op: OpChmod, Timestamp: time.Now()}
	time.Sleep(10 * time.Millisecond)
	mock.events <- Event{Path: "/a/main.scss", Op: OpWrite, Timestamp: time.Now()}

	select {
	case ev := <-dw.Events():
		if ev.Path != "/a/main.scss" {
			t.Errorf("Path = %q", ev.Path)
		}
		if !ev.Op.Has(OpWrite) || !ev.Op.Has(OpChmod) {
			t.Errorf("Op = %v, want write|chmod merged", ev.Op)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced event")
	}

	select {
	case ev := <-dw.Events():
		t.Errorf("unexpected second event %+v", ev)
	case <-time.After(120 * time.Millisecond):
	}
}

func TestDebouncedWatcher_DifferentPaths(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, 30*time.Millisecond)
	defer dw.Close()

	mock.events <- Event{Path: "/a", Op: OpWrite}
	mock.events <- Event{Path: "/b", Op: OpWrite}

	seen := map[string]bool{}
	timeout := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-dw.Events():
			seen[ev.Path] = true
		case <-timeout:
			t.Fatalf("got events for %v, want /a and /b", seen)
		}
	}
}

func TestDebouncedWatcher_ErrorForwarding(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, 30*time.Millisecond)
	defer dw.Close()

	want := errors.New("inotify overflow")
	mock.errors <- want

	select {
	case err := <-dw.Errors():
		if err != want {
			t.Errorf("error = %v, want %v", err, want)
		}
	case <-time.After(time.Second):
		t.Fatal("error not forwarded")
	}
}

func TestDebouncedWatcher_Flush(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, time.Hour)
	defer dw.Close()

	mock.events <- Event{Path: "/x", Op: OpCreate}
	deadline := time.Now().Add(time.Second)
	for dw.PendingCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	dw.Flush()
	select {
	case ev := <-dw.Events():
		if ev.Path != "/x" {
			t.Errorf("Path = %q, want /x", ev.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("Flush did not deliver the pending event")
	}
	if dw.PendingCount() != 0 {
		t.Errorf("PendingCount = %d, want 0", dw.PendingCount())
	}
}

func TestDebouncedWatcher_CloseWithPending(t *testing.T) {
	mock := newMockWatcher()
	dw := NewDebouncedWatcher(mock, time.Hour)

	mock.events <- Event{Path: "/x", Op: OpWrite}
	time.Sleep(10 * time.Millisecond)

	if err := dw.Close(); err != nil {
		t.Fatalf("Close error = %v", err)
	}
	if err := dw.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
	if _, ok := <-dw.Events(); ok {
		t.Error("Events channel should be closed")
	}
}

func TestOp(t *testing.T) {
	if (OpWrite | OpChmod).String() != "UNKNOWN" || OpWrite.String() != "WRITE" {
		t.Error("unexpected Op strings")
	}
	if OpChmod.Content() {
		t.Error("chmod alone should not count as a content change")
	}
	if !(OpChmod | OpWrite).Content() {
		t.Error("write should count as a content change")
	}
	if !(OpCreate | OpWrite).Has(OpCreate) {
		t.Error("Has(OpCreate) = false")
	}
}
