package lua

import (
	"fmt"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"

	"responsekit/internal/cookies"
	"responsekit/internal/headers"
	"responsekit/internal/request"
	"responsekit/internal/response"
)

// method wraps fn so that it works with both colon and dot syntax. fn gets
// the stack index of its first real argument.
func method(L *lua.LState, self *lua.LTable, fn func(L *lua.LState, base int) int) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		base := 1
		if L.GetTop() >= 1 && L.Get(1) == self {
			base = 2
		}
		return fn(L, base)
	})
}

// newRequestTable creates the req table passed to handlers.
func newRequestTable(L *lua.LState, req *request.Request) *lua.LTable {
	t := L.NewTable()

	t.RawSetString("method", lua.LString(req.Method))
	t.RawSetString("url", lua.LString(req.URL))
	t.RawSetString("path", lua.LString(req.Path))
	t.RawSetString("host", lua.LString(req.Host))

	headersTable := L.NewTable()
	for key, values := range req.Headers() {
		if len(values) > 0 {
			headersTable.RawSetString(key, lua.LString(values[0]))
		}
	}
	t.RawSetString("headers", headersTable)
	t.RawSetString("params", toLua(L, req.Params()))

	queryTable := L.NewTable()
	for key, values := range req.Raw().URL.Query() {
		if len(values) > 0 {
			queryTable.RawSetString(key, lua.LString(values[0]))
		}
	}
	t.RawSetString("query", queryTable)

	t.RawSetString("header", method(L, t, func(L *lua.LState, base int) int {
		L.Push(lua.LString(req.Header(L.CheckString(base))))
		return 1
	}))
	t.RawSetString("param", method(L, t, func(L *lua.LState, base int) int {
		L.Push(lua.LString(req.Param(L.CheckString(base))))
		return 1
	}))
	t.RawSetString("query_param", method(L, t, func(L *lua.LState, base int) int {
		L.Push(lua.LString(req.Query(L.CheckString(base))))
		return 1
	}))
	t.RawSetString("body", method(L, t, func(L *lua.LState, _ int) int {
		body, err := req.Body()
		if err != nil {
			L.RaiseError("read body: %s", err.Error())
			return 0
		}
		L.Push(lua.LString(body))
		return 1
	}))
	t.RawSetString("json", method(L, t, func(L *lua.LState, base int) int {
		path := L.OptString(base, "@this")
		result, ok, err := req.JSON(path)
		if err != nil {
			L.RaiseError("read body: %s", err.Error())
			return 0
		}
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(toLua(L, result.Value()))
		return 1
	}))
	t.RawSetString("cookie", method(L, t, func(L *lua.LState, base int) int {
		value, ok := req.Cookies().Get(L.CheckString(base))
		if !ok {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(value))
		return 1
	}))

	return t
}

// newResponseTable creates the res table passed to handlers. Configuration
// methods return the table for chaining and raise a Lua error when they make
// the builder's error sticky. Terminal methods raise their error.
func newResponseTable(L *lua.LState, res *response.Builder) *lua.LTable {
	t := L.NewTable()

	chain := func(L *lua.LState, apply func()) int {
		before := res.Err()
		apply()
		if err := res.Err(); err != nil && before == nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		L.Push(t)
		return 1
	}
	finish := func(L *lua.LState, err error) int {
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}

	t.RawSetString("status", method(L, t, func(L *lua.LState, base int) int {
		code := L.CheckInt(base)
		return chain(L, func() { res.Status(code) })
	}))
	t.RawSetString("status_text", method(L, t, func(L *lua.LState, base int) int {
		text := L.CheckString(base)
		return chain(L, func() { res.StatusText(text) })
	}))
	t.RawSetString("option", method(L, t, func(L *lua.LState, base int) int {
		cfg, err := tableToInit(L.CheckTable(base))
		if err != nil {
			L.ArgError(base, err.Error())
			return 0
		}
		return chain(L, func() { res.Option(cfg.Options()...) })
	}))
	t.RawSetString("headers", method(L, t, func(L *lua.LState, base int) int {
		h, err := tableToHeaders(L.CheckTable(base))
		if err != nil {
			L.ArgError(base, err.Error())
			return 0
		}
		return chain(L, func() { res.Headers(h) })
	}))

	setHeader := method(L, t, func(L *lua.LState, base int) int {
		key := L.CheckString(base)
		var values []string
		for i := base + 1; i <= L.GetTop(); i++ {
			values = append(values, stringValues(L.Get(i))...)
		}
		return chain(L, func() { res.SetHeader(key, values...) })
	})
	t.RawSetString("set_header", setHeader)
	t.RawSetString("header", setHeader)

	t.RawSetString("get_header", method(L, t, func(L *lua.LState, base int) int {
		if L.GetTop() < base {
			L.Push(toLua(L, res.Header().Map()))
			return 1
		}
		values := res.Header().Values(L.CheckString(base))
		if len(values) == 0 {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(values[0]))
		return 1
	}))

	setCookie := method(L, t, func(L *lua.LState, base int) int {
		name := L.CheckString(base)
		value := valueString(L.Get(base + 1))
		opts, err := cookieOptions(L.OptTable(base+2, nil))
		if err != nil {
			L.ArgError(base+2, err.Error())
			return 0
		}
		return chain(L, func() { res.SetCookie(name, value, opts) })
	})
	t.RawSetString("set_cookie", setCookie)
	t.RawSetString("cookie", setCookie)

	t.RawSetString("delete_cookie", method(L, t, func(L *lua.LState, base int) int {
		name := L.CheckString(base)
		opts, err := cookieOptions(L.OptTable(base+1, nil))
		if err != nil {
			L.ArgError(base+1, err.Error())
			return 0
		}
		return chain(L, func() { res.DeleteCookie(name, opts) })
	}))

	t.RawSetString("locals", method(L, t, func(L *lua.LState, base int) int {
		key := L.CheckString(base)
		if L.GetTop() > base {
			value, err := toGo(L.Get(base + 1))
			if err != nil {
				L.ArgError(base+1, err.Error())
				return 0
			}
			res.Locals[key] = value
			L.Push(t)
			return 1
		}
		L.Push(toLua(L, res.Locals[key]))
		return 1
	}))

	t.RawSetString("json", method(L, t, func(L *lua.LState, base int) int {
		body, err := toGo(L.Get(base))
		if err != nil {
			L.ArgError(base, err.Error())
			return 0
		}
		return finish(L, res.JSON(body))
	}))
	t.RawSetString("send", method(L, t, func(L *lua.LState, base int) int {
		var body any
		switch v := L.Get(base).(type) {
		case *lua.LNilType:
		case *lua.LTable:
			L.ArgError(base, "send expects a string, use json for tables")
			return 0
		default:
			body = valueString(v)
		}
		return finish(L, res.Send(body))
	}))
	t.RawSetString("redirect", method(L, t, func(L *lua.LState, base int) int {
		url := L.CheckString(base)
		code := L.OptInt(base+1, 0)
		return finish(L, res.Redirect(url, code))
	}))
	t.RawSetString("is_ready", method(L, t, func(L *lua.LState, _ int) int {
		L.Push(lua.LBool(res.IsReady()))
		return 1
	}))

	return t
}

// tableToInit reads {status = 201, status_text = "Created", headers = {...}}.
func tableToInit(t *lua.LTable) (response.Init, error) {
	var cfg response.Init

	switch v := t.RawGetString("status").(type) {
	case *lua.LNilType:
	case lua.LNumber:
		code := int(v)
		cfg.Status = &code
	default:
		return cfg, fmt.Errorf("status must be a number")
	}
	switch v := t.RawGetString("status_text").(type) {
	case *lua.LNilType:
	case lua.LString:
		text := string(v)
		cfg.StatusText = &text
	default:
		return cfg, fmt.Errorf("status_text must be a string")
	}
	switch v := t.RawGetString("headers").(type) {
	case *lua.LNilType:
	case *lua.LTable:
		h, err := tableToHeaders(v)
		if err != nil {
			return cfg, err
		}
		cfg.Headers = h
	default:
		return cfg, fmt.Errorf("headers must be a table")
	}
	return cfg, nil
}

// tableToHeaders accepts either an ordered list of {name, value} pairs or a
// name to value table. Values may be arrays of strings. Table keys are taken
// in sorted order since Lua does not keep insertion order.
func tableToHeaders(t *lua.LTable) (*headers.Headers, error) {
	h := headers.New()

	if n := t.Len(); n > 0 {
		for i := 1; i <= n; i++ {
			pair, ok := t.RawGetInt(i).(*lua.LTable)
			if !ok || pair.Len() < 2 {
				return nil, fmt.Errorf("header %d must be a {name, value} pair", i)
			}
			h.Add(valueString(pair.RawGetInt(1)), valueString(pair.RawGetInt(2)))
		}
		return h, nil
	}

	values := make(map[string][]string)
	var keys []string
	t.ForEach(func(k, v lua.LValue) {
		keys = append(keys, k.String())
		values[k.String()] = stringValues(v)
	})
	sort.Strings(keys)
	for _, key := range keys {
		h.Set(key, values[key]...)
	}
	return h, nil
}

// cookieOptions reads {path, domain, max_age, expires, secure, http_only,
// partitioned, same_site}. expires is a Unix timestamp in seconds.
func cookieOptions(t *lua.LTable) (*cookies.Options, error) {
	if t == nil {
		return nil, nil
	}

	opts := &cookies.Options{
		Domain:      valueString(t.RawGetString("domain")),
		Path:        valueString(t.RawGetString("path")),
		Secure:      lua.LVAsBool(t.RawGetString("secure")),
		HTTPOnly:    lua.LVAsBool(t.RawGetString("http_only")),
		Partitioned: lua.LVAsBool(t.RawGetString("partitioned")),
	}
	if v, ok := t.RawGetString("max_age").(lua.LNumber); ok {
		opts.MaxAge = int(v)
	}
	if v, ok := t.RawGetString("expires").(lua.LNumber); ok {
		opts.Expires = time.Unix(int64(v), 0).UTC()
	}

	sameSite, err := cookies.ParseSameSite(valueString(t.RawGetString("same_site")))
	if err != nil {
		return nil, err
	}
	opts.SameSite = sameSite
	return opts, nil
}
