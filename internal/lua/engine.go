// Package lua runs request handlers written in Lua on top of gopher-lua.
//
// Scripts in the scripts directory register handlers with
//
//	route("GET", "/hello/{name}", function(req, res)
//	    res:status(200):set_header("X-Name", req:param("name")):send("hi")
//	end)
//
// Each script is compiled once. Its routes are discovered at startup in a
// throwaway state, and the script is executed again in each pooled state the
// first time that state serves one of its routes.
package lua

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"responsekit/internal/config"
	"responsekit/internal/request"
	"responsekit/internal/response"
)

const (
	// LuaCallStackSize sets the call stack size for Lua states
	LuaCallStackSize = 120
	// LuaRegistrySize sets the registry size for Lua states
	LuaRegistrySize = 120 * 20

	scriptRoutesPrefix = "routes_"
)

// Route is a handler registered by a script. Index is the position of the
// route() call within the script.
type Route struct {
	Script  string
	Index   int
	Method  string
	Pattern string
}

// Engine owns the compiled scripts, their routes and the state pool.
type Engine struct {
	scriptsDir     string
	handlerTimeout time.Duration
	compiler       *ScriptCompiler
	scripts        []string
	routes         []Route
	statePool      *StatePool
}

// NewEngine compiles every .lua file under cfg.ScriptsDir and discovers the
// routes they register. A missing directory yields an engine without routes.
func NewEngine(cfg config.LuaConfig) (*Engine, error) {
	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = config.DefaultHandlerTimeout
	}
	poolSize := cfg.StatePoolSize
	if poolSize <= 0 {
		poolSize = config.DefaultStatePoolSize
	}

	e := &Engine{
		scriptsDir:     cfg.ScriptsDir,
		handlerTimeout: timeout,
		compiler:       NewScriptCompiler(),
	}
	e.statePool = NewStatePool(poolSize, e.newState)

	if err := e.loadScripts(); err != nil {
		return nil, err
	}
	for _, name := range e.scripts {
		if err := e.discoverRoutes(name); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) newState() *lua.LState {
	L := lua.NewState(lua.Options{
		CallStackSize: LuaCallStackSize,
		RegistrySize:  LuaRegistrySize,
	})
	e.setupBasicBindings(L)
	return L
}

// setupBasicBindings sets up the globals every state needs.
func (e *Engine) setupBasicBindings(L *lua.LState) {
	L.SetGlobal("log", L.NewFunction(func(L *lua.LState) int {
		slog.Info("lua_log",
			"message", L.ToString(1),
			"component", "lua_engine")
		return 0
	}))
}

// loadScripts compiles all .lua files in the scripts directory. Scripts are
// named by their slash-separated path relative to the directory, without
// the extension.
func (e *Engine) loadScripts() error {
	if _, err := os.Stat(e.scriptsDir); errors.Is(err, fs.ErrNotExist) {
		slog.Warn("lua_scripts_dir_missing",
			"dir", e.scriptsDir,
			"component", "lua_engine")
		return nil
	}

	return filepath.WalkDir(e.scriptsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".lua") {
			return err
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read script %s: %w", path, err)
		}
		rel, err := filepath.Rel(e.scriptsDir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(strings.TrimSuffix(rel, ".lua"))

		if _, err := e.compiler.Compile(name, string(content)); err != nil {
			return err
		}
		e.scripts = append(e.scripts, name)
		slog.Info("lua_script_loaded",
			"script", name,
			"component", "lua_engine")
		return nil
	})
}

// discoverRoutes runs a script in an isolated state and records its route()
// calls. Routes already registered by an earlier script are skipped.
func (e *Engine) discoverRoutes(name string) error {
	script, _ := e.compiler.Get(name)

	L := e.newState()
	defer L.Close()

	index := 0
	L.SetGlobal("route", L.NewFunction(routeFunc(func(method, pattern string, _ *lua.LFunction) {
		route := Route{Script: name, Index: index, Method: method, Pattern: pattern}
		index++
		if existing, dup := e.findRoute(method, pattern); dup {
			slog.Warn("lua_route_duplicate",
				"method", method,
				"pattern", pattern,
				"script", name,
				"registered_by", existing.Script,
				"component", "lua_engine")
			return
		}
		e.routes = append(e.routes, route)
	})))

	ctx, cancel := context.WithTimeout(context.Background(), e.handlerTimeout)
	defer cancel()
	L.SetContext(ctx)

	if err := script.Run(L); err != nil {
		return fmt.Errorf("lua script %s failed: %w", name, err)
	}
	slog.Info("lua_routes_discovered",
		"script", name,
		"count", index,
		"component", "lua_engine")
	return nil
}

func (e *Engine) findRoute(method, pattern string) (Route, bool) {
	for _, r := range e.routes {
		if r.Method == method && r.Pattern == pattern {
			return r, true
		}
	}
	return Route{}, false
}

// routeFunc implements route(method, pattern, handler).
func routeFunc(record func(method, pattern string, fn *lua.LFunction)) lua.LGFunction {
	return func(L *lua.LState) int {
		method := strings.ToUpper(L.CheckString(1))
		pattern := L.CheckString(2)
		fn := L.CheckFunction(3)

		if !isValidMethod(method) {
			L.ArgError(1, "unsupported method: "+method)
			return 0
		}
		if !strings.HasPrefix(pattern, "/") {
			L.ArgError(2, "pattern must start with '/'")
			return 0
		}
		record(method, pattern, fn)
		return 0
	}
}

func isValidMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}

// Routes returns the discovered routes in registration order.
func (e *Engine) Routes() []Route {
	return append([]Route(nil), e.routes...)
}

// Scripts returns the loaded script names.
func (e *Engine) Scripts() []string {
	return append([]string(nil), e.scripts...)
}

// Stats is served on /debug/lua-pool.
type Stats struct {
	Pool    PoolStats    `json:"pool"`
	Scripts []ScriptInfo `json:"scripts"`
}

// ScriptInfo describes a compiled script.
type ScriptInfo struct {
	Name       string    `json:"name"`
	Hash       string    `json:"hash"`
	CompiledAt time.Time `json:"compiled_at"`
}

// Stats reports state pool usage and the compiled scripts.
func (e *Engine) Stats() Stats {
	stats := Stats{
		Pool:    e.statePool.Stats(),
		Scripts: make([]ScriptInfo, 0, len(e.scripts)),
	}
	for _, name := range e.scripts {
		script, ok := e.compiler.Get(name)
		if !ok {
			continue
		}
		stats.Scripts = append(stats.Scripts, ScriptInfo{
			Name:       script.Name,
			Hash:       script.Hash,
			CompiledAt: script.CompileTime,
		})
	}
	return stats
}

// Close releases the pooled states.
func (e *Engine) Close() {
	e.statePool.Close()
}

// Serve runs the Lua handler for route against req and res. It returns when
// the handler returns, fails, or exceeds the handler timeout.
func (e *Engine) Serve(ctx context.Context, route Route, req *request.Request, res *response.Builder) error {
	ctx, cancel := context.WithTimeout(ctx, e.handlerTimeout)
	defer cancel()

	L, err := e.statePool.Get(ctx)
	if err != nil {
		return fmt.Errorf("lua handler %s %s: %w", route.Method, route.Pattern, err)
	}
	L.SetContext(ctx)
	err = e.call(L, route, req, res)
	L.RemoveContext()

	if ctxErr := ctx.Err(); ctxErr != nil {
		// The state may have been interrupted mid-call.
		e.statePool.Discard(L)
		if err != nil {
			return fmt.Errorf("lua handler %s %s: %w", route.Method, route.Pattern, ctxErr)
		}
		return nil
	}
	e.statePool.Put(L)

	if err != nil {
		return fmt.Errorf("lua handler %s %s: %w", route.Method, route.Pattern, err)
	}
	return nil
}

func (e *Engine) call(L *lua.LState, route Route, req *request.Request, res *response.Builder) error {
	fn, err := e.handler(L, route)
	if err != nil {
		return err
	}
	return L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, newRequestTable(L, req), newResponseTable(L, res))
}

// handler returns the function for route in L, executing the route's script
// in L once and keeping its handlers in the registry.
func (e *Engine) handler(L *lua.LState, route Route) (*lua.LFunction, error) {
	reg := L.Get(lua.RegistryIndex).(*lua.LTable)
	key := scriptRoutesPrefix + route.Script

	handlers, loaded := reg.RawGetString(key).(*lua.LTable)
	if !loaded {
		script, exists := e.compiler.Get(route.Script)
		if !exists {
			return nil, fmt.Errorf("script not found: %s", route.Script)
		}

		handlers = L.NewTable()
		L.SetGlobal("route", L.NewFunction(routeFunc(func(_, _ string, fn *lua.LFunction) {
			handlers.Append(fn)
		})))
		if err := script.Run(L); err != nil {
			return nil, fmt.Errorf("script execution error: %w", err)
		}
		reg.RawSetString(key, handlers)
	}

	fn, ok := handlers.RawGetInt(route.Index + 1).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("script %s did not register handler %d", route.Script, route.Index)
	}
	return fn, nil
}
