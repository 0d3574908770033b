package lua

import (
	"errors"
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// errCyclicTable is returned when a table contains itself.
var errCyclicTable = errors.New("cannot convert a table that contains itself")

// toGo converts a Lua value into the types encoding/json understands.
// Tables with a contiguous array part and nothing else become slices; other
// tables become maps keyed by the string form of their keys. A table may be
// referenced more than once but must not contain itself.
func toGo(v lua.LValue) (any, error) {
	return convertValue(v, make(map[*lua.LTable]bool))
}

// convertValue tracks the tables on the current path in parents.
func convertValue(v lua.LValue, parents map[*lua.LTable]bool) (any, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return nil, nil
	case lua.LBool:
		return bool(v), nil
	case lua.LNumber:
		f := float64(v)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	case lua.LString:
		return string(v), nil
	case *lua.LTable:
		if parents[v] {
			return nil, errCyclicTable
		}
		parents[v] = true
		defer delete(parents, v)
		return tableToGo(v, parents)
	default:
		return v.String(), nil
	}
}

func tableToGo(t *lua.LTable, parents map[*lua.LTable]bool) (any, error) {
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n := t.Len(); n > 0 && n == count {
		list := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			item, err := convertValue(t.RawGetInt(i), parents)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	}

	m := make(map[string]any, count)
	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		m[k.String()], err = convertValue(v, parents)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// toLua converts decoded JSON or plain Go values into Lua values.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []any:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			t.Append(toLua(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(v))
		for key, item := range v {
			t.RawSetString(key, toLua(L, item))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(v))
		for key, item := range v {
			t.RawSetString(key, lua.LString(item))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

// stringValues flattens a string or an array of strings.
func stringValues(v lua.LValue) []string {
	t, ok := v.(*lua.LTable)
	if !ok {
		return []string{valueString(v)}
	}
	values := make([]string, 0, t.Len())
	for i := 1; i <= t.Len(); i++ {
		values = append(values, valueString(t.RawGetInt(i)))
	}
	return values
}

// valueString is the text form used for headers and bodies; nil is empty.
func valueString(v lua.LValue) string {
	if v == lua.LNil {
		return ""
	}
	return v.String()
}
