package scripting

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// toGo converts a Lua value for the bus. Scalars become Go values; tables and
// functions stay opaque lua.LValues so a Lua listener gets the same object
// back. Userdata created by toLua is unwrapped.
func toGo(v lua.LValue) any {
	switch lv := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(lv)
	case lua.LNumber:
		return float64(lv)
	case lua.LString:
		return string(lv)
	case *lua.LUserData:
		return lv.Value
	default:
		return v
	}
}

// toLua converts a bus value for a Lua listener.
func toLua(L *lua.LState, v any) lua.LValue {
	switch gv := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return gv
	case bool:
		return lua.LBool(gv)
	case string:
		return lua.LString(gv)
	case int:
		return lua.LNumber(gv)
	case int32:
		return lua.LNumber(gv)
	case int64:
		return lua.LNumber(gv)
	case uint32:
		return lua.LNumber(gv)
	case float32:
		return lua.LNumber(gv)
	case float64:
		return lua.LNumber(gv)
	case []string:
		t := L.CreateTable(len(gv), 0)
		for _, s := range gv {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.CreateTable(len(gv), 0)
		for _, item := range gv {
			t.Append(toLua(L, item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(gv))
		for k, item := range gv {
			t.RawSetString(k, toLua(L, item))
		}
		return t
	case fmt.Stringer:
		return lua.LString(gv.String())
	default:
		ud := L.NewUserData()
		ud.Value = v
		return ud
	}
}

// stringList reads the array part of a Lua table as strings.
func stringList(t *lua.LTable) []string {
	if t == nil {
		return nil
	}
	n := t.Len()
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, lua.LVAsString(t.RawGetInt(i)))
	}
	return out
}
