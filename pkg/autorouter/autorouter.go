package autorouter

import (
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/samber/oops"
	"go.uber.org/zap"

	"github.com/danghamo/nearby/pkg/logger"
)

// Middleware wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Options configures how handlers are registered
type Options struct {
	Prefix       string // URL prefix, e.g. "/api/v1/"
	MethodPrefix string // JSON-RPC namespace, e.g. "chat." gives "chat.Send"
	Middleware   []Middleware
}

// Route describes one registered endpoint
type Route struct {
	Path   string
	Method string
}

// AutoRouter registers every exported func(http.ResponseWriter, *http.Request)
// method of a handler struct as a JSON-RPC endpoint
type AutoRouter struct {
	mux    *http.ServeMux
	opts   Options
	logger *logger.Logger
	routes *[]Route
}

// New creates an auto router on mux
func New(mux *http.ServeMux, opts Options, log *logger.Logger) *AutoRouter {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &AutoRouter{
		mux:    mux,
		opts:   opts,
		logger: log.WithComponent("autorouter"),
		routes: &[]Route{},
	}
}

// With returns a router sharing the mux and route list with extra options
// applied. Middleware passed here runs before the router's own.
func (ar *AutoRouter) With(methodPrefix string, mw ...Middleware) *AutoRouter {
	opts := ar.opts
	opts.MethodPrefix = methodPrefix
	opts.Middleware = append(append([]Middleware{}, mw...), ar.opts.Middleware...)
	return &AutoRouter{mux: ar.mux, opts: opts, logger: ar.logger, routes: ar.routes}
}

// Register adds every handler method of handler. It returns the routes added.
func (ar *AutoRouter) Register(handler interface{}) ([]Route, error) {
	handlerType := reflect.TypeOf(handler)
	if handlerType == nil {
		return nil, oops.In("autorouter").Errorf("handler is nil")
	}
	if handlerType.Kind() == reflect.Ptr {
		handlerType = handlerType.Elem()
	}
	if handlerType.Kind() != reflect.Struct {
		return nil, oops.In("autorouter").
			With("type", handlerType.String()).
			Errorf("handler must be a struct or pointer to struct")
	}

	value := reflect.ValueOf(handler)
	var added []Route
	for i := 0; i < value.NumMethod(); i++ {
		name := value.Type().Method(i).Name
		method := value.Method(i)
		if !isHandlerFunc(method) {
			continue
		}

		route := Route{Path: ar.path(name), Method: name}
		ar.mux.Handle(route.Path, ar.wrap(method))
		added = append(added, route)

		ar.logger.Debug("Route registered",
			zap.String("path", route.Path),
			zap.String("handler", handlerType.Name()+"."+name),
		)
	}

	if len(added) == 0 {
		return nil, oops.In("autorouter").
			With("type", handlerType.String()).
			Errorf("handler has no routable methods")
	}
	*ar.routes = append(*ar.routes, added...)
	return added, nil
}

// MustRegister is Register that panics on error
func (ar *AutoRouter) MustRegister(handler interface{}) []Route {
	routes, err := ar.Register(handler)
	if err != nil {
		panic(err)
	}
	return routes
}

// Paths returns the sorted paths registered through this router
func (ar *AutoRouter) Paths() []string {
	paths := make([]string, 0, len(*ar.routes))
	for _, r := range *ar.routes {
		paths = append(paths, r.Path)
	}
	sort.Strings(paths)
	return paths
}

func (ar *AutoRouter) path(methodName string) string {
	if ar.opts.MethodPrefix != "" {
		return ar.opts.Prefix + ar.opts.MethodPrefix + methodName
	}
	return ar.opts.Prefix + strings.ToLower(methodName)
}

func (ar *AutoRouter) wrap(method reflect.Value) http.Handler {
	fn, ok := method.Interface().(func(http.ResponseWriter, *http.Request))
	var h http.Handler
	if ok {
		h = http.HandlerFunc(fn)
	} else {
		h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method.Call([]reflect.Value{reflect.ValueOf(w), reflect.ValueOf(r)})
		})
	}

	for i := len(ar.opts.Middleware) - 1; i >= 0; i-- {
		h = ar.opts.Middleware[i](h)
	}
	return h
}

var (
	responseWriterType = reflect.TypeOf((*http.ResponseWriter)(nil)).Elem()
	requestType        = reflect.TypeOf((*http.Request)(nil))
)

// isHandlerFunc matches func(http.ResponseWriter, *http.Request) with no results
func isHandlerFunc(method reflect.Value) bool {
	t := method.Type()
	if t.Kind() != reflect.Func || t.NumIn() != 2 || t.NumOut() != 0 {
		return false
	}
	return t.In(0) == responseWriterType && t.In(1) == requestType
}
