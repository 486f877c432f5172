// Package router maps task complexity classes to inference backends.
package router

import (
	"sort"

	"github.com/lucasnoah/agentgist/internal/config"
	"github.com/lucasnoah/agentgist/internal/errs"
)

// Complexity is the routing class attached to a unit of work.
type Complexity string

const (
	Simple  Complexity = "simple"
	Complex Complexity = "complex"
)

// Task identifies a kind of inference work.
type Task string

const (
	TaskAnalyze Task = "analyze"
	TaskReport  Task = "report"
)

// ComplexityFor returns the fixed complexity class of a task kind. Unknown
// tasks get an empty class, which Select rejects.
func ComplexityFor(t Task) Complexity {
	switch t {
	case TaskAnalyze:
		return Simple
	case TaskReport:
		return Complex
	default:
		return ""
	}
}

// Router resolves a complexity class to a configured backend. It is read-only
// after construction and safe for concurrent use.
type Router struct {
	routes   map[Complexity]string
	backends map[string]config.Backend
}

// New builds a Router from the routing keys and backend table of cfg.
func New(cfg *config.Config) *Router {
	routes := map[Complexity]string{}
	if cfg.BackendForSimple != "" {
		routes[Simple] = cfg.BackendForSimple
	}
	if cfg.BackendForComplex != "" {
		routes[Complex] = cfg.BackendForComplex
	}
	backends := make(map[string]config.Backend, len(cfg.Backends))
	for id, b := range cfg.Backends {
		b.ID = id
		backends[id] = b
	}
	return &Router{routes: routes, backends: backends}
}

// Select returns the backend mapped to c.
func (r *Router) Select(c Complexity) (config.Backend, error) {
	id, ok := r.routes[c]
	if !ok {
		return config.Backend{}, &errs.UnroutableTaskError{Complexity: string(c)}
	}
	b, ok := r.backends[id]
	if !ok {
		return config.Backend{}, &errs.UnroutableTaskError{Complexity: string(c), Backend: id}
	}
	return b, nil
}

// SelectFor is Select(ComplexityFor(t)).
func (r *Router) SelectFor(t Task) (config.Backend, error) {
	return r.Select(ComplexityFor(t))
}

// Route is one row of the routing table.
type Route struct {
	Complexity Complexity `json:"complexity"`
	Backend    string     `json:"backend"`
	Model      string     `json:"model"`
}

// Table returns the routing table sorted by complexity, for display.
func (r *Router) Table() []Route {
	out := make([]Route, 0, len(r.routes))
	for c, id := range r.routes {
		out = append(out, Route{Complexity: c, Backend: id, Model: r.backends[id].Model})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Complexity > out[j].Complexity })
	return out
}
