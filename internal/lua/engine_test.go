package lua

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"

	"responsekit/internal/config"
	"responsekit/internal/request"
	"responsekit/internal/response"
)

func newTestEngine(t *testing.T, scripts map[string]string, timeout time.Duration) *Engine {
	t.Helper()
	engine, err := newEngineFromScripts(t, scripts, timeout)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func newEngineFromScripts(t *testing.T, scripts map[string]string, timeout time.Duration) (*Engine, error) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range scripts {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir failed: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write script failed: %v", err)
		}
	}
	return NewEngine(config.LuaConfig{
		Enabled:        true,
		ScriptsDir:     dir,
		StatePoolSize:  2,
		HandlerTimeout: timeout,
	})
}

// serve runs the engine route matching pattern against a request built from
// method, target and body, with params set as chi URL parameters.
func serve(t *testing.T, e *Engine, pattern, method, target, body string, params map[string]string) (*response.Builder, error) {
	t.Helper()

	var route *Route
	for _, r := range e.Routes() {
		if r.Pattern == pattern {
			r := r
			route = &r
			break
		}
	}
	if route == nil {
		t.Fatalf("route %s not registered", pattern)
	}

	r := httptest.NewRequest(method, target, strings.NewReader(body))
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))

	req := request.New(r, 0)
	res := response.NewWithRequest(req)
	return res, e.Serve(context.Background(), *route, req, res)
}

func TestEngineDiscoversRoutes(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"a.lua": `
route("GET", "/a", function(req, res) res:send("a") end)
route("post", "/b", function(req, res) res:send("b") end)
`,
		"nested/b.lua": `
route("GET", "/a", function(req, res) res:send("shadowed") end)
route("GET", "/c", function(req, res) res:send("c") end)
`,
		"notes.txt": "ignored",
	}, time.Second)

	want := []Route{
		{Script: "a", Index: 0, Method: "GET", Pattern: "/a"},
		{Script: "a", Index: 1, Method: "POST", Pattern: "/b"},
		{Script: "nested/b", Index: 1, Method: "GET", Pattern: "/c"},
	}
	if diff := cmp.Diff(want, e.Routes()); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "nested/b"}, e.Scripts()); diff != "" {
		t.Errorf("scripts mismatch (-want +got):\n%s", diff)
	}

	res, err := serve(t, e, "/c", "GET", "/c", "", nil)
	if err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if got := string(res.Response().Body()); got != "c" {
		t.Errorf("Expected body 'c', got '%s'", got)
	}
}

func TestEngineMissingScriptsDir(t *testing.T) {
	e, err := NewEngine(config.LuaConfig{ScriptsDir: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	defer e.Close()

	if len(e.Routes()) != 0 {
		t.Errorf("Expected no routes, got %d", len(e.Routes()))
	}
}

func TestEngineRejectsBadScripts(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{name: "syntax error", script: `route("GET", "/x", function(req, res)`},
		{name: "runtime error", script: `error("boom")`},
		{name: "bad method", script: `route("FETCH", "/x", function() end)`},
		{name: "pattern without slash", script: `route("GET", "x", function() end)`},
		{name: "missing handler", script: `route("GET", "/x")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newEngineFromScripts(t, map[string]string{"bad.lua": tt.script}, time.Second); err == nil {
				t.Error("expected error but got nil")
			}
		})
	}
}

func TestServeBuildsResponses(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		method     string
		body       string
		wantStatus int
		wantText   string
		wantBody   string
		wantHeader map[string]string
	}{
		{
			name: "chained send",
			script: `res:status(201):status_text("Created")
				:set_header("X-Name", req:param("name"))
				:send("hello " .. req:param("name"))`,
			wantStatus: 201,
			wantText:   "Created",
			wantBody:   "hello ada",
			wantHeader: map[string]string{"X-Name": "ada", "Content-Type": "text/plain;charset=utf-8"},
		},
		{
			name:       "dot syntax",
			script:     `res.status(202); res.header("X-Dot", "1"); res.send("dot")`,
			wantStatus: 202,
			wantText:   "OK",
			wantBody:   "dot",
			wantHeader: map[string]string{"X-Dot": "1"},
		},
		{
			name:       "json",
			script:     `res:json({id = 1, tags = {"a", "b"}})`,
			wantStatus: 200,
			wantText:   "OK",
			wantBody:   `{"id":1,"tags":["a","b"]}`,
			wantHeader: map[string]string{"Content-Type": "application/json;charset=utf-8"},
		},
		{
			name:       "redirect",
			script:     `res:status(500):redirect("/login", 301)`,
			wantStatus: 301,
			wantHeader: map[string]string{"Location": "/login"},
		},
		{
			name:       "request json",
			script:     `res:send(req:json("user.name"))`,
			method:     "POST",
			body:       `{"user":{"name":"ada"}}`,
			wantStatus: 200,
			wantText:   "OK",
			wantBody:   "ada",
		},
		{
			name:       "request body and query",
			script:     `res:send(req:body() .. "/" .. req:query_param("q") .. "/" .. req.query.q .. "/" .. req.method)`,
			method:     "PUT",
			body:       "raw",
			wantStatus: 200,
			wantText:   "OK",
			wantBody:   "raw/x/x/PUT",
		},
		{
			name:       "option merge",
			script:     `res:status_text("Missing"):option({status = 404, headers = {["X-A"] = "1"}}):send("nf")`,
			wantStatus: 404,
			wantText:   "Missing",
			wantBody:   "nf",
			wantHeader: map[string]string{"X-A": "1"},
		},
		{
			name:       "ordered headers",
			script:     `res:headers({{"X-B", "2"}, {"X-A", "1"}}):send("")`,
			wantStatus: 200,
			wantText:   "OK",
			wantHeader: map[string]string{"X-B": "2", "X-A": "1"},
		},
		{
			name:       "cookie",
			script:     `res:set_cookie("sid", "abc", {http_only = true}):send("ok")`,
			wantStatus: 200,
			wantText:   "OK",
			wantBody:   "ok",
			wantHeader: map[string]string{"Set-Cookie": "sid=abc; Path=/; HttpOnly; SameSite=Lax"},
		},
		{
			name:       "locals",
			script:     `res:locals("user", "ada"); res:send(res:locals("user"))`,
			wantStatus: 200,
			wantText:   "OK",
			wantBody:   "ada",
		},
		{
			name:       "get header",
			script:     `res:set_header("X-A", "1"); res:send(res:get_header("X-A") .. tostring(res:get_header("X-B")))`,
			wantStatus: 200,
			wantText:   "OK",
			wantBody:   "1nil",
		},
		{
			name:       "is ready",
			script:     `local before = res:is_ready(); res:send(""); if before or not res:is_ready() then error("bad state") end`,
			wantStatus: 200,
			wantText:   "OK",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := tt.method
			if method == "" {
				method = "GET"
			}
			script := `route("` + method + `", "/t/{name}", function(req, res)
` + tt.script + `
end)`
			e := newTestEngine(t, map[string]string{"t.lua": script}, time.Second)

			res, err := serve(t, e, "/t/{name}", method, "/t/ada?q=x", tt.body, map[string]string{"name": "ada"})
			if err != nil {
				t.Fatalf("Serve failed: %v", err)
			}
			resp := res.Response()
			if resp == nil {
				t.Fatal("Expected a finalized response")
			}
			if resp.Status() != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, resp.Status())
			}
			if resp.StatusText() != tt.wantText {
				t.Errorf("Expected status text '%s', got '%s'", tt.wantText, resp.StatusText())
			}
			if got := string(resp.Body()); got != tt.wantBody {
				t.Errorf("Expected body '%s', got '%s'", tt.wantBody, got)
			}
			for k, v := range tt.wantHeader {
				if got := resp.Header().Get(k); got != v {
					t.Errorf("Expected header %s '%s', got '%s'", k, v, got)
				}
			}
		})
	}
}

func TestServeOrderedHeadersKeepOrder(t *testing.T) {
	e := newTestEngine(t, map[string]string{"t.lua": `
route("GET", "/h", function(req, res)
	res:headers({{"X-B", "2"}, {"X-A", "1"}}):send("")
end)`}, time.Second)

	res, err := serve(t, e, "/h", "GET", "/h", "", nil)
	if err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	want := []string{"X-B", "X-A", "Content-Type"}
	if diff := cmp.Diff(want, res.Response().Header().Keys()); diff != "" {
		t.Errorf("header order mismatch (-want +got):\n%s", diff)
	}
}

func TestServeErrors(t *testing.T) {
	tests := []struct {
		name      string
		script    string
		wantError error
	}{
		{name: "lua error", script: `error("boom")`},
		{name: "empty header", script: `res:set_header("X-A", "")`, wantError: response.ErrInvalidArgument},
		{name: "send table", script: `res:send({1})`},
		{name: "double send", script: `res:send("a"); res:send("b")`},
		{name: "bad redirect", script: `res:redirect("/x", 200)`},
		{name: "bad same site", script: `res:set_cookie("a", "b", {same_site = "maybe"})`},
		{name: "json cycle", script: `local t = {}; t.self = t; res:json(t)`},
		{name: "json nested cycle", script: `local t = {list = {}}; t.list[1] = t; res:json(t)`},
		{name: "locals cycle", script: `local t = {}; t.self = t; res:locals("t", t); res:send("ok")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := `route("GET", "/e", function(req, res)
` + tt.script + `
end)`
			e := newTestEngine(t, map[string]string{"e.lua": script}, time.Second)

			res, err := serve(t, e, "/e", "GET", "/e", "", nil)
			if err == nil {
				t.Fatal("expected error but got nil")
			}
			if tt.wantError != nil && !errors.Is(res.Err(), tt.wantError) {
				t.Errorf("Expected builder error %v, got %v", tt.wantError, res.Err())
			}
		})
	}
}

func TestServeKeepsFirstResponseOnDoubleSend(t *testing.T) {
	e := newTestEngine(t, map[string]string{"e.lua": `
route("GET", "/e", function(req, res)
	res:send("first")
	local ok = pcall(function() res:send("second") end)
	if ok then error("second send succeeded") end
end)`}, time.Second)

	res, err := serve(t, e, "/e", "GET", "/e", "", nil)
	if err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	if got := string(res.Response().Body()); got != "first" {
		t.Errorf("Expected first body to be kept, got '%s'", got)
	}
}

func TestServeTimeoutReplacesState(t *testing.T) {
	e := newTestEngine(t, map[string]string{"slow.lua": `
route("GET", "/slow", function(req, res)
	while true do end
end)`}, 50*time.Millisecond)

	_, err := serve(t, e, "/slow", "GET", "/slow", "", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if stats := e.Stats().Pool; stats.Created != 1 || stats.Available != 1 {
		t.Errorf("Expected interrupted state to be replaced, got %+v", stats)
	}
}

func TestServeWaiterServedAfterTimeout(t *testing.T) {
	dir := t.TempDir()
	script := `
route("GET", "/slow", function(req, res)
	while true do end
end)
route("GET", "/fast", function(req, res)
	res:send("fast")
end)`
	if err := os.WriteFile(filepath.Join(dir, "mixed.lua"), []byte(script), 0o644); err != nil {
		t.Fatalf("write script failed: %v", err)
	}
	e, err := NewEngine(config.LuaConfig{
		Enabled:        true,
		ScriptsDir:     dir,
		StatePoolSize:  1,
		HandlerTimeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	t.Cleanup(e.Close)

	var slow Route
	for _, r := range e.Routes() {
		if r.Pattern == "/slow" {
			slow = r
		}
	}
	slowDone := make(chan error, 1)
	go func() {
		req := request.New(httptest.NewRequest("GET", "/slow", nil), 0)
		slowDone <- e.Serve(context.Background(), slow, req, response.NewWithRequest(req))
	}()

	// Wait for the slow handler to hold the only state, then queue behind it
	// well before it times out.
	deadline := time.Now().Add(time.Second)
	for e.Stats().Pool.Created == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	res, err := serve(t, e, "/fast", "GET", "/fast", "", nil)
	if err != nil {
		t.Fatalf("Expected waiting handler to be served, got %v", err)
	}
	if got := string(res.Response().Body()); got != "fast" {
		t.Errorf("Expected body 'fast', got '%s'", got)
	}
	if err := <-slowDone; !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded for slow handler, got %v", err)
	}
}

func TestServeReusesPooledStates(t *testing.T) {
	e := newTestEngine(t, map[string]string{"count.lua": `
local calls = 0
route("GET", "/count", function(req, res)
	calls = calls + 1
	res:send(tostring(calls))
end)`}, time.Second)

	for i, want := range []string{"1", "2", "3"} {
		res, err := serve(t, e, "/count", "GET", "/count", "", nil)
		if err != nil {
			t.Fatalf("Serve %d failed: %v", i, err)
		}
		if got := string(res.Response().Body()); got != want {
			t.Errorf("Expected body '%s', got '%s'", want, got)
		}
	}
	if stats := e.Stats().Pool; stats.Created != 1 || stats.Available != 1 {
		t.Errorf("Expected one pooled state, got %+v", stats)
	}
}

func TestEngineStatsListsScripts(t *testing.T) {
	e := newTestEngine(t, map[string]string{
		"a.lua":     `route("GET", "/a", function(req, res) res:send("a") end)`,
		"sub/b.lua": `route("GET", "/b", function(req, res) res:send("b") end)`,
	}, time.Second)

	stats := e.Stats()
	if stats.Pool.Max != 2 {
		t.Errorf("Expected pool max 2, got %d", stats.Pool.Max)
	}

	var names []string
	for _, s := range stats.Scripts {
		names = append(names, s.Name)
		if s.Hash == "" {
			t.Errorf("Expected hash for script %s", s.Name)
		}
		if s.CompiledAt.IsZero() {
			t.Errorf("Expected compile time for script %s", s.Name)
		}
	}
	if diff := cmp.Diff([]string{"a", "sub/b"}, names); diff != "" {
		t.Errorf("script names mismatch (-want +got):\n%s", diff)
	}
}
