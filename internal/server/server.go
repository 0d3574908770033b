// Package server serves handlers written against the response builder.
// It owns the chi router, global middleware, the routes declared in the
// configuration and the routes registered by Lua scripts.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/metrics"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"responsekit/internal/config"
	"responsekit/internal/cookies"
	"responsekit/internal/headers"
	"responsekit/internal/lua"
	"responsekit/internal/request"
	"responsekit/internal/response"
)

// ErrNotFinalized is reported when a handler returns without a terminal call.
var ErrNotFinalized = errors.New("handler returned without finalizing the response")

// HandlerFunc handles one request by driving res to a terminal call.
type HandlerFunc func(req *request.Request, res *response.Builder) error

// Middleware wraps a HandlerFunc. Every handler in a chain sees the same
// builder, so Locals set by a middleware are visible to the handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Server is the HTTP entry point.
type Server struct {
	config         *config.Config
	router         *chi.Mux
	luaEngine      *lua.Engine
	middleware     []Middleware
	defaultHeaders *headers.Headers
	version        string
	startTime      time.Time
}

// New creates a server with global middleware, /health, the declared routes
// and, when enabled, the Lua routes.
func New(cfg *config.Config, version string) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	s := &Server{
		config:    cfg,
		router:    chi.NewRouter(),
		version:   version,
		startTime: time.Now(),
	}
	if len(cfg.Response.Headers) > 0 {
		s.defaultHeaders = headers.FromMap(cfg.Response.Headers)
	}

	s.setupMiddleware()
	if cfg.Middleware.RequestID {
		s.Use(RequestIDHeader)
	}

	s.Handle(http.MethodGet, "/health", s.health)
	if cfg.Middleware.Metrics {
		s.router.Handle("/metrics", metrics.Handler())
	}

	if cfg.Lua.Enabled {
		engine, err := lua.NewEngine(cfg.Lua)
		if err != nil {
			return nil, fmt.Errorf("failed to start lua engine: %w", err)
		}
		s.luaEngine = engine
		s.Handle(http.MethodGet, "/debug/lua-pool", s.luaPoolStats)
	}

	for _, route := range cfg.Routes {
		h, err := declaredHandler(route)
		if err != nil {
			s.Stop()
			return nil, fmt.Errorf("failed to setup route %s %s: %w", route.Method, route.Pattern, err)
		}
		s.Handle(route.Method, route.Pattern, h)
	}
	slog.Info("routes_declared",
		"count", len(cfg.Routes),
		"component", "server")

	if s.luaEngine != nil {
		for _, route := range s.luaEngine.Routes() {
			s.Handle(route.Method, route.Pattern, func(req *request.Request, res *response.Builder) error {
				return s.luaEngine.Serve(req.Context(), route, req, res)
			})
		}
		slog.Info("lua_routing_initialized",
			"scripts", len(s.luaEngine.Scripts()),
			"routes", len(s.luaEngine.Routes()),
			"component", "lua")
	}

	return s, nil
}

// Use appends builder-level middleware. It applies to every route, including
// routes registered earlier, and must be called before serving starts.
func (s *Server) Use(mw ...Middleware) {
	s.middleware = append(s.middleware, mw...)
}

// Handle registers h for method and pattern.
func (s *Server) Handle(method, pattern string, h HandlerFunc) {
	s.router.Method(method, pattern, s.adapt(h))
}

// Handler returns the HTTP handler for the server, wrapped for cleartext
// HTTP/2 when configured.
func (s *Server) Handler() http.Handler {
	if s.config.Server.H2C {
		return h2c.NewHandler(s.router, &http2.Server{})
	}
	return s.router
}

// Stop releases the Lua engine.
func (s *Server) Stop() {
	if s.luaEngine != nil {
		s.luaEngine.Close()
	}
}

// setupMiddleware configures global chi middleware
func (s *Server) setupMiddleware() {
	mw := s.config.Middleware

	if mw.RequestID {
		s.router.Use(middleware.RequestID)
	}
	if mw.RealIP {
		s.router.Use(middleware.RealIP)
	}
	if mw.Logging {
		s.router.Use(middleware.Logger)
	}
	if mw.Recovery {
		s.router.Use(middleware.Recoverer)
	}
	if mw.Metrics {
		s.router.Use(metrics.Collector(metrics.CollectorOpts{
			Host:  false,
			Proto: true,
			Skip: func(r *http.Request) bool {
				return r.URL.Path == "/metrics"
			},
		}))
	}
	if mw.Timeout > 0 {
		s.router.Use(middleware.Timeout(time.Duration(mw.Timeout) * time.Second))
	}
	if mw.Throttle > 0 {
		s.router.Use(middleware.Throttle(mw.Throttle))
	}

	// Request size limits
	s.router.Use(middleware.RequestSize(s.config.RequestLimits.MaxBodySize))

	if mw.Compress > 0 {
		s.router.Use(middleware.Compress(mw.Compress, mw.CompressType...))
	}
	if mw.CleanPath {
		s.router.Use(middleware.CleanPath)
	}
	if mw.StripSlashes {
		s.router.Use(middleware.StripSlashes)
	}
}

// newBuilder creates the builder for req, starting from the configured defaults.
func (s *Server) newBuilder(req *request.Request) *response.Builder {
	opts := []response.Option{
		response.WithStatus(s.config.Response.Status),
		response.WithStatusText(s.config.Response.StatusText),
	}
	if s.defaultHeaders != nil {
		opts = append(opts, response.WithHeaders(s.defaultHeaders.Clone()))
	}
	return response.NewWithRequest(req, opts...)
}

// adapt turns h, wrapped in the server middleware, into an http.HandlerFunc.
func (s *Server) adapt(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := request.New(r, s.config.RequestLimits.MaxBodySize)
		res := s.newBuilder(req)

		chain := h
		for i := len(s.middleware) - 1; i >= 0; i-- {
			chain = s.middleware[i](chain)
		}

		err := chain(req, res)
		if err == nil && !res.IsReady() {
			err = ErrNotFinalized
		}
		if err != nil {
			s.fail(w, req.Raw(), err)
			return
		}
		s.write(w, req.Raw(), res.Response())
	}
}

// write materializes resp and counts it.
func (s *Server) write(w http.ResponseWriter, r *http.Request, resp *response.Response) {
	if err := response.Write(w, r, resp); err != nil {
		if errors.Is(err, response.ErrInvalidStatus) {
			s.fail(w, r, err)
			return
		}
		slog.Error("response_write_failed",
			"error", err,
			"path", r.URL.Path,
			"component", "server")
		return
	}
	observe(resp)
}

// fail logs err and answers with a plain 500 built by a fresh builder.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	slog.Error("handler_error",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"component", "server")

	res := response.New(
		response.WithStatus(http.StatusInternalServerError),
		response.WithStatusText(http.StatusText(http.StatusInternalServerError)),
	)
	if err := res.Send(http.StatusText(http.StatusInternalServerError)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if err := response.Write(w, r, res.Response()); err != nil {
		slog.Error("response_write_failed",
			"error", err,
			"path", r.URL.Path,
			"component", "server")
		return
	}
	observe(res.Response())
}

// declaredHandler builds the handler for a route declared in the configuration.
func declaredHandler(route config.Route) (HandlerFunc, error) {
	cookieOpts := make([]*cookies.Options, len(route.Cookies))
	for i, c := range route.Cookies {
		opts, err := c.Options()
		if err != nil {
			return nil, fmt.Errorf("cookie %s: %w", c.Name, err)
		}
		cookieOpts[i] = opts
	}

	headerKeys := make([]string, 0, len(route.Headers))
	for k := range route.Headers {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	return func(req *request.Request, res *response.Builder) error {
		if route.Status != 0 {
			res.Status(route.Status)
			if route.StatusText == "" {
				res.StatusText(http.StatusText(route.Status))
			}
		}
		if route.StatusText != "" {
			res.StatusText(route.StatusText)
		}
		for _, k := range headerKeys {
			res.SetHeader(k, route.Headers[k])
		}
		for i, c := range route.Cookies {
			res.SetCookie(c.Name, c.Value, cookieOpts[i])
		}

		switch {
		case route.Redirect != nil:
			return res.Redirect(route.Redirect.URL, route.Redirect.Status)
		case route.JSON != nil:
			return res.JSON(route.JSON)
		default:
			return res.Send(*route.Body)
		}
	}, nil
}
