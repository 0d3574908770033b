package server

import (
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"responsekit/internal/request"
	"responsekit/internal/response"
)

var responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "responsekit_responses_total",
	Help: "Responses written, by terminal call and status code.",
}, []string{"kind", "code"})

func observe(resp *response.Response) {
	responsesTotal.WithLabelValues(string(resp.Kind()), strconv.Itoa(resp.Status())).Inc()
}

type HealthStatus struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Routes     int    `json:"routes"`
	LuaScripts int    `json:"lua_scripts"`
	LuaRoutes  int    `json:"lua_routes"`
}

func (s *Server) health(_ *request.Request, res *response.Builder) error {
	status := HealthStatus{
		Status:  "healthy",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
		Routes:  len(s.config.Routes),
	}
	if s.luaEngine != nil {
		status.LuaScripts = len(s.luaEngine.Scripts())
		status.LuaRoutes = len(s.luaEngine.Routes())
	}
	return res.SetHeader("Cache-Control", "no-store").JSON(status)
}

func (s *Server) luaPoolStats(_ *request.Request, res *response.Builder) error {
	return res.JSON(s.luaEngine.Stats())
}

// RequestIDHeader echoes the request ID assigned by chi's RequestID
// middleware as X-Request-Id and stores it in Locals["request_id"].
func RequestIDHeader(next HandlerFunc) HandlerFunc {
	return func(req *request.Request, res *response.Builder) error {
		if id := middleware.GetReqID(req.Context()); id != "" {
			res.Locals["request_id"] = id
			res.SetHeader(middleware.RequestIDHeader, id)
		}
		return next(req, res)
	}
}
