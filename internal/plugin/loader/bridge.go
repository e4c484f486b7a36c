package loader

import (
	"context"
	"encoding/json"
	"math"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-plugin-runtime/internal/plugin/api"
)

// toGoValue converts a Lua value into a JSON-like Go value.
// Integral numbers become int64, tables become []any or map[string]any.
func toGoValue(lv lua.LValue) any {
	return toGoVisited(lv, make(map[*lua.LTable]bool))
}

func toGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case nil, *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		defer delete(visited, v)
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	maxN := 0
	count := 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if n, ok := k.(lua.LNumber); ok && float64(n) == math.Trunc(float64(n)) && n > 0 {
			if int(n) > maxN {
				maxN = int(n)
			}
			return
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = toGoVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		default:
			key = k.String()
		}
		m[key] = toGoVisited(v, visited)
	})
	return m
}

// toLuaValue converts a Go value for use inside L
func toLuaValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case time.Time:
		return lua.LString(val.Format(time.RFC3339Nano))
	case []any:
		t := L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, toLuaValue(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	case []map[string]any:
		t := L.CreateTable(len(val), 0)
		for i, item := range val {
			t.RawSetInt(i+1, toLuaValue(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, toLuaValue(L, item))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, lua.LString(item))
		}
		return t
	case *api.PluginContext:
		return contextTable(L, val)
	default:
		return viaJSON(L, v)
	}
}

// viaJSON converts structs and other values through their JSON encoding
func viaJSON(L *lua.LState, v any) lua.LValue {
	data, err := json.Marshal(v)
	if err != nil {
		ud := L.NewUserData()
		ud.Value = v
		return ud
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return lua.LNil
	}
	return toLuaValue(L, generic)
}

func callContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// pushResult pushes true, or nil plus the error message
func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func varArgs(L *lua.LState, from int) []any {
	args := make([]any, 0, L.GetTop())
	for i := from; i <= L.GetTop(); i++ {
		args = append(args, toGoValue(L.Get(i)))
	}
	return args
}

// contextTable exposes a PluginContext to Lua as
// ctx.plugin_id, ctx.log.*, ctx.db.exec/query and ctx.pubsub.publish.
func contextTable(L *lua.LState, pc *api.PluginContext) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("plugin_id", lua.LString(pc.PluginID))

	logger := pc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logTable := L.NewTable()
	for level, fn := range map[string]func(string, ...zap.Field){
		"debug": logger.Debug,
		"info":  logger.Info,
		"warn":  logger.Warn,
		"error": logger.Error,
	} {
		logFn := fn
		logTable.RawSetString(level, L.NewFunction(func(L *lua.LState) int {
			msg := L.CheckString(1)
			var fields []zap.Field
			if extra, ok := L.Get(2).(*lua.LTable); ok {
				if m, ok := toGoValue(extra).(map[string]any); ok {
					for k, v := range m {
						fields = append(fields, zap.Any(k, v))
					}
				}
			}
			logFn(msg, fields...)
			return 0
		}))
	}
	t.RawSetString("log", logTable)

	if pc.DB != nil {
		db := pc.DB
		dbTable := L.NewTable()
		dbTable.RawSetString("exec", L.NewFunction(func(L *lua.LState) int {
			return pushResult(L, db.Exec(callContext(L), L.CheckString(1), varArgs(L, 2)...))
		}))
		dbTable.RawSetString("query", L.NewFunction(func(L *lua.LState) int {
			rows, err := db.Query(callContext(L), L.CheckString(1), varArgs(L, 2)...)
			if err != nil {
				return pushResult(L, err)
			}
			L.Push(toLuaValue(L, rows))
			return 1
		}))
		t.RawSetString("db", dbTable)
	}

	if pc.PubSub != nil {
		bus := pc.PubSub
		busTable := L.NewTable()
		busTable.RawSetString("publish", L.NewFunction(func(L *lua.LState) int {
			topic := L.CheckString(1)
			payload, _ := toGoValue(L.Get(2)).(map[string]any)
			return pushResult(L, bus.Publish(callContext(L), topic, payload))
		}))
		t.RawSetString("pubsub", busTable)
	}

	if pc.GraphQL != nil {
		schema := pc.GraphQL
		gqlTable := L.NewTable()
		gqlTable.RawSetString("has_type", L.NewFunction(func(L *lua.LState) int {
			_, ok := schema.Type(L.CheckString(1))
			L.Push(lua.LBool(ok))
			return 1
		}))
		gqlTable.RawSetString("invalidate", L.NewFunction(func(L *lua.LState) int {
			schema.Invalidate()
			return 0
		}))
		t.RawSetString("graphql", gqlTable)
	}

	return t
}
