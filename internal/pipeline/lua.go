package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/assetstorm/internal/fault"
)

// LuaFunc is the global a transform script must define:
//
//	function transform(path, contents)
//	  return contents:gsub("DEBUG", "false")
//	end
//
// Returning nil and a message fails the file.
const LuaFunc = "transform"

// ErrLuaClosed is returned by a Lua stage used after Close.
var ErrLuaClosed = errors.New("lua stage closed")

// LuaStage is a per-file transform implemented by a Lua script.
//
// gopher-lua states are not goroutine-safe; the stage serializes calls
// across lanes.
type LuaStage struct {
	path string

	mu     sync.Mutex
	L      *lua.LState
	fn     *lua.LFunction
	closed bool
}

// Lua loads the script at path. A missing or invalid script, or one
// without a transform function, is a configuration fault.
func Lua(path string) (*LuaStage, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, &fault.Error{Kind: fault.KindConfig, Path: path, Message: "cannot load lua transform: " + err.Error(), Err: err}
	}

	fn, ok := L.GetGlobal(LuaFunc).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fault.Config(path, "lua transform must define function %q", LuaFunc)
	}

	return &LuaStage{path: path, L: L, fn: fn}, nil
}

// openSafeLibraries opens the libraries a content transform needs. io,
// os, package and debug stay closed.
func openSafeLibraries(L *lua.LState) {
	for _, open := range []lua.LGFunction{lua.OpenBase, lua.OpenTable, lua.OpenString, lua.OpenMath} {
		open(L)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
}

// Name implements Stage.
func (s *LuaStage) Name() string { return "lua:" + s.path }

// Kind implements Stage.
func (s *LuaStage) Kind() StageKind { return PerFile }

// Apply implements Stage.
func (s *LuaStage) Apply(ctx context.Context, records []FileRecord) ([]FileRecord, error) {
	out := make([]FileRecord, 0, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		contents, err := s.call(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.WithContents(contents))
	}
	return out, nil
}

func (s *LuaStage) call(rec FileRecord) (result []byte, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrLuaClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	top := s.L.GetTop()
	defer s.L.SetTop(top)

	if err := s.L.CallByParam(lua.P{Fn: s.fn, NRet: 2, Protect: true},
		lua.LString(rec.Path), lua.LString(rec.Contents)); err != nil {
		return nil, err
	}

	ret, msg := s.L.Get(-2), s.L.Get(-1)
	switch v := ret.(type) {
	case lua.LString:
		return []byte(v), nil
	case *lua.LNilType:
		if msg != lua.LNil {
			return nil, errors.New(msg.String())
		}
		return nil, errors.New("transform returned nil")
	default:
		return nil, fmt.Errorf("transform returned %s, want string", ret.Type())
	}
}

// Close releases the Lua state.
func (s *LuaStage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
	return nil
}
