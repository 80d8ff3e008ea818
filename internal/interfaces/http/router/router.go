package router

import (
	"fmt"
	"net/http"
	"path"
	"sort"

	"github.com/gin-gonic/gin"
)

// RouteRegistrar mounts a set of routes under the versioned API group
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// RouteDescriber is implemented by registrars that can list their routes
// before they are mounted.
type RouteDescriber interface {
	DescribeRoutes(parent string) []Route
}

// Route is one mounted endpoint
type Route struct {
	Method string
	Path   string
	Group  string
}

// Router owns the versioned API prefix and the registrars mounted under it
type Router struct {
	engine     *gin.Engine
	apiVersion string
	registrars []RouteRegistrar
}

type RouterOption func(*Router)

// WithAPIVersion sets the version segment of the base path, e.g. "v1"
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		if version != "" {
			r.apiVersion = version
		}
	}
}

func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register queues a registrar for Setup
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// BasePath returns the versioned API prefix
func (r *Router) BasePath() string {
	return "/api/" + r.apiVersion
}

// Routes lists every route the registered groups will mount, sorted by path
// then method.
func (r *Router) Routes() []Route {
	var routes []Route
	for _, reg := range r.registrars {
		if d, ok := reg.(RouteDescriber); ok {
			routes = append(routes, d.DescribeRoutes(r.BasePath())...)
		}
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

// Setup mounts all registrars. Two groups claiming the same method and path
// is a wiring mistake and is reported instead of letting gin panic.
func (r *Router) Setup() error {
	seen := make(map[string]string)
	for _, route := range r.Routes() {
		key := route.Method + " " + route.Path
		if owner, dup := seen[key]; dup {
			return fmt.Errorf("route %s registered by both %q and %q", key, owner, route.Group)
		}
		seen[key] = route.Group
	}

	api := r.engine.Group(r.BasePath())
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
	return nil
}

// DomainGroup collects the routes of one functional area. Nothing is mounted
// until RegisterRoutes runs.
type DomainGroup struct {
	name       string
	prefix     string
	routes     []routeDefinition
	subgroups  []*DomainGroup
	middleware []gin.HandlerFunc
}

type routeDefinition struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use attaches middleware to every route of the group and its subgroups
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

func (dg *DomainGroup) handle(method, path string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, routeDefinition{method: method, path: path, handlers: handlers})
	return dg
}

func (dg *DomainGroup) GET(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, path, handlers)
}

func (dg *DomainGroup) POST(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, path, handlers)
}

func (dg *DomainGroup) DELETE(path string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodDelete, path, handlers)
}

// Group adds a nested group and returns it
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	subgroup := NewDomainGroup(name, prefix)
	dg.subgroups = append(dg.subgroups, subgroup)
	return subgroup
}

func (dg *DomainGroup) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group(dg.prefix, dg.middleware...)
	for _, route := range dg.routes {
		group.Handle(route.method, route.path, route.handlers...)
	}
	for _, subgroup := range dg.subgroups {
		subgroup.RegisterRoutes(group)
	}
}

// DescribeRoutes lists the group's routes joined onto parent
func (dg *DomainGroup) DescribeRoutes(parent string) []Route {
	base := joinPath(parent, dg.prefix)
	routes := make([]Route, 0, len(dg.routes))
	for _, route := range dg.routes {
		routes = append(routes, Route{Method: route.method, Path: joinPath(base, route.path), Group: dg.name})
	}
	for _, subgroup := range dg.subgroups {
		routes = append(routes, subgroup.DescribeRoutes(base)...)
	}
	return routes
}

func (dg *DomainGroup) Name() string   { return dg.name }
func (dg *DomainGroup) Prefix() string { return dg.prefix }

// joinPath mirrors gin's group path joining, keeping a trailing slash only
// when the relative part has one.
func joinPath(base, rel string) string {
	if rel == "" {
		return base
	}
	joined := path.Join(base, rel)
	if rel[len(rel)-1] == '/' && joined[len(joined)-1] != '/' {
		return joined + "/"
	}
	return joined
}
