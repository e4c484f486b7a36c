package loader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
)

// Defaults for the Lua runtime
const (
	DefaultCacheSize   = 128
	DefaultCallTimeout = 5 * time.Second
)

// globals removed from every plugin state
var unsafeGlobals = []string{"dofile", "loadfile", "load", "loadstring", "require", "module"}

type chunkKey struct {
	path    string
	size    int64
	modTime int64
}

// LuaLoader loads plugin modules written in Lua. Each module runs in its
// own state with the base, table, string and math libraries only.
type LuaLoader struct {
	cache       *lru.Cache[chunkKey, *lua.FunctionProto]
	cacheSize   int
	callTimeout time.Duration
	logger      *zap.Logger
}

// LuaOption configures a LuaLoader
type LuaOption func(*LuaLoader)

// WithCacheSize sets how many compiled chunks are kept
func WithCacheSize(n int) LuaOption {
	return func(l *LuaLoader) {
		if n > 0 {
			l.cacheSize = n
		}
	}
}

// WithCallTimeout bounds every call into a module. Zero disables the bound.
func WithCallTimeout(d time.Duration) LuaOption {
	return func(l *LuaLoader) {
		l.callTimeout = d
	}
}

// NewLuaLoader creates a Lua module loader
func NewLuaLoader(logger *zap.Logger, opts ...LuaOption) (*LuaLoader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &LuaLoader{
		cacheSize:   DefaultCacheSize,
		callTimeout: DefaultCallTimeout,
		logger:      logger.Named("lua"),
	}
	for _, opt := range opts {
		opt(l)
	}

	cache, err := lru.New[chunkKey, *lua.FunctionProto](l.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk cache: %w", err)
	}
	l.cache = cache
	return l, nil
}

// Load compiles (or reuses) the chunk at path and runs it in a fresh state
func (l *LuaLoader) Load(ctx context.Context, path string) (Module, error) {
	proto, err := l.compile(path)
	if err != nil {
		return nil, err
	}

	L := newState(l.logger.With(zap.String("module", path)))

	exports, err := runChunk(ctx, L, proto)
	if err != nil {
		L.Close()
		return nil, fmt.Errorf("lua %s: %w", path, err)
	}

	return &luaModule{
		path:        path,
		L:           L,
		exports:     exports,
		callTimeout: l.callTimeout,
	}, nil
}

func (l *LuaLoader) compile(path string) (*lua.FunctionProto, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	key := chunkKey{path: path, size: info.Size(), modTime: info.ModTime().UnixNano()}
	if proto, ok := l.cache.Get(key); ok {
		return proto, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	chunk, err := parse.Parse(bufio.NewReader(file), path)
	if err != nil {
		return nil, fmt.Errorf("syntax error: %w", err)
	}
	proto, err := lua.Compile(chunk, path)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	l.cache.Add(key, proto)
	l.logger.Debug("lua chunk compiled", zap.String("path", path))
	return proto, nil
}

func newState(logger *zap.Logger) *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	for _, name := range unsafeGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	// print goes to the host log instead of stdout
	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		logger.Debug(strings.Join(parts, "\t"))
		return 0
	}))

	return L
}

func runChunk(ctx context.Context, L *lua.LState, proto *lua.FunctionProto) (exports *lua.LTable, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	L.SetContext(ctx)
	defer L.RemoveContext()

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, err
	}
	ret := L.Get(-1)
	L.Pop(1)

	if t, ok := ret.(*lua.LTable); ok {
		return t, nil
	}
	return nil, nil
}

type luaModule struct {
	path        string
	mu          sync.Mutex
	L           *lua.LState
	exports     *lua.LTable
	callTimeout time.Duration
	closed      bool
}

func (m *luaModule) Path() string {
	return m.path
}

// lookup checks the returned export table first, then globals
func (m *luaModule) lookup(name string) lua.LValue {
	if m.exports != nil {
		if v := m.exports.RawGetString(name); v != lua.LNil {
			return v
		}
	}
	return m.L.GetGlobal(name)
}

func (m *luaModule) Func(name string) (api.Func, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrModuleClosed
	}

	v := m.lookup(name)
	if v == lua.LNil {
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, m.path)
	}
	fn, ok := v.(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotCallable, name, v.Type())
	}

	return func(ctx context.Context, args ...any) (any, error) {
		return m.call(ctx, name, fn, args)
	}, nil
}

func (m *luaModule) Value(name string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrModuleClosed
	}

	v := m.lookup(name)
	switch v.(type) {
	case *lua.LNilType:
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, name, m.path)
	case *lua.LFunction:
		return nil, fmt.Errorf("%s is a function, not a definition", name)
	}
	return toGoValue(v), nil
}

func (m *luaModule) call(ctx context.Context, name string, fn *lua.LFunction, args []any) (result any, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrModuleClosed
	}

	if m.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
	}

	L := m.L
	top := L.GetTop()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua %s panicked: %v", name, r)
		}
		L.SetTop(top)
		L.RemoveContext()
	}()

	L.SetContext(ctx)

	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLuaValue(L, a)
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: lua.MultRet, Protect: true}, largs...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("lua %s: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("lua %s: %w", name, err)
	}

	nret := L.GetTop() - top
	if nret == 0 {
		return nil, nil
	}
	first := L.Get(top + 1)
	// nil, "message" is the Lua convention for a failed call
	if first == lua.LNil && nret >= 2 {
		if msg, ok := L.Get(top + 2).(lua.LString); ok {
			return nil, errors.New(string(msg))
		}
	}
	return toGoValue(first), nil
}

func (m *luaModule) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.L.Close()
	return nil
}
