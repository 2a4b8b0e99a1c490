package loadctx

import (
	lua "github.com/yuin/gopher-lua"
)

// toGoValue converts a Lua value to a Go value. Cycles in tables are broken
// by returning nil for a revisited table.
func toGoValue(lv lua.LValue) any {
	return toGoValueVisited(lv, make(map[*lua.LTable]bool))
}

func toGoValueVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	// Lua numbers are doubles; converting them to float64 uniformly keeps
	// the output shape identical to a decoded JSON payload.
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return tableToGo(v, visited)
	case *lua.LUserData:
		return v.Value
	default:
		return nil
	}
}

// tableToGo converts a Lua table to a []any when it is a contiguous
// 1-indexed array, otherwise to a map[string]any.
func tableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	maxN := t.MaxN()
	if maxN > 0 && t.Len() == maxN {
		arr := make([]any, 0, maxN)
		for i := 1; i <= maxN; i++ {
			arr = append(arr, toGoValueVisited(t.RawGetInt(i), visited))
		}
		return arr
	}

	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			m[string(ks)] = toGoValueVisited(v, visited)
		}
	})
	return m
}

// toLuaValue converts a Go value to a Lua value on the given state.
func toLuaValue(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(toLuaValue(L, item))
		}
		return t
	case []string:
		t := L.NewTable()
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			L.SetField(t, k, toLuaValue(L, item))
		}
		return t
	case map[string]string:
		t := L.NewTable()
		for k, item := range val {
			L.SetField(t, k, lua.LString(item))
		}
		return t
	default:
		return lua.LNil
	}
}

// mapToLua converts an input payload to a Lua table.
func mapToLua(L *lua.LState, m map[string]any) *lua.LTable {
	t := L.NewTable()
	for k, v := range m {
		L.SetField(t, k, toLuaValue(L, v))
	}
	return t
}

// tableString reads a string field from a table, with ok reporting presence.
func tableString(t *lua.LTable, key string) (string, bool) {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s), true
	}
	return "", false
}

func tableBool(t *lua.LTable, key string) bool {
	if b, ok := t.RawGetString(key).(lua.LBool); ok {
		return bool(b)
	}
	return false
}

func tableFunc(t *lua.LTable, key string) (*lua.LFunction, bool) {
	if fn, ok := t.RawGetString(key).(*lua.LFunction); ok {
		return fn, true
	}
	return nil, false
}

func tableStrings(t *lua.LTable, key string) []string {
	raw, ok := t.RawGetString(key).(*lua.LTable)
	if !ok {
		return nil
	}
	out := make([]string, 0, raw.Len())
	raw.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			out = append(out, string(s))
		}
	})
	return out
}
