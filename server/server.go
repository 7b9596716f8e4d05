// Package server exposes the planner and the robot over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/history"
	"github.com/op13/liquidplan/protocol"
)

// MethodPath is a key in a RouteTable
type MethodPath struct {
	Method, Path string
}

// RouteTable maps methods and paths to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes as "METHOD /path", sorted
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, k.Method+" "+k.Path)
	}
	sort.Strings(routes)
	return routes
}

// Bind adds every route to a router
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
}

// HTTPer has a route table
type HTTPer interface {
	RT() RouteTable
}

// BoolT is the {"bool": value} body used by the lock routes
type BoolT struct {
	Bool bool `json:"bool"`
}

// Reply encodes v as JSON with the given status
func Reply(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error to an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, protocol.ErrUnknown), errors.Is(err, history.ErrNotFound):
		return http.StatusNotFound
	case fault.IsConfig(err):
		return http.StatusBadRequest
	case fault.IsHardware(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Fail writes err with the status StatusFor picks
func Fail(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusFor(err))
}

// NewRouter binds the routes of every HTTPer, the lock routes, the endpoint
// listing and the metrics endpoint.  reg may be nil to leave out /metrics.
func NewRouter(l *Locker, reg *prometheus.Registry, hs ...HTTPer) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Use(middleware.Recoverer)
	root.Use(l.Check)

	rt := RouteTable{}
	for _, h := range hs {
		for k, v := range h.RT() {
			rt[k] = v
		}
	}
	Inject(rt, l)
	if reg != nil {
		rt[MethodPath{http.MethodGet, "/metrics"}] = promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP
	}
	endpoints := append(rt.Endpoints(), "GET /endpoints")
	sort.Strings(endpoints)
	rt[MethodPath{http.MethodGet, "/endpoints"}] = func(w http.ResponseWriter, r *http.Request) {
		Reply(w, http.StatusOK, endpoints)
	}
	rt.Bind(root)
	root.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, fmt.Sprintf("no route %s %s, see GET /endpoints", r.Method, r.URL.Path), http.StatusNotFound)
	})
	return root
}
