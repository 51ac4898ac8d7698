package server

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// registration errors
var (
	ErrBadPattern        = errors.New("invalid route pattern")
	ErrUnsupportedMethod = errors.New("method cannot be registered")
)

// HandlerFunc handles a routed request by building the response.
// A returned error becomes the server-error response.
type HandlerFunc func(req *Request, res *Response) error

var paramNamePattern = regexp.MustCompile(`^\w+$`)

// segment is one compiled piece of a route pattern
type segment struct {
	literal string
	param   string
}

func (s segment) isParam() bool { return s.param != "" }

// Route binds a method and path pattern to a handler
type Route struct {
	Method   Method
	Pattern  string
	segments []segment
	handler  HandlerFunc
}

// Match is the result of a successful route lookup
type Match struct {
	Route  *Route
	Params map[string]string
}

// Router manages routes per method; lookup is by registration order
type Router struct {
	mu     sync.RWMutex
	routes map[Method][]*Route
}

// NewRouter creates a new Router instance
func NewRouter() *Router {
	return &Router{
		routes: make(map[Method][]*Route),
	}
}

// Register adds a route handler for a method and pattern. Registering the
// same pattern again replaces the handler and keeps its position.
func (r *Router) Register(method Method, pattern string, handler HandlerFunc) error {
	switch method {
	case MethodGet, MethodPost, MethodPut, MethodDelete:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s %s", ErrBadPattern, method, pattern)
	}

	segments, err := compilePattern(pattern)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, route := range r.routes[method] {
		if route.Pattern == pattern {
			route.handler = handler
			return nil
		}
	}
	r.routes[method] = append(r.routes[method], &Route{
		Method:   method,
		Pattern:  pattern,
		segments: segments,
		handler:  handler,
	})
	return nil
}

// Match finds the first route registered for method whose pattern matches path
func (r *Router) Match(method Method, path string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parts := strings.Split(path, "/")
	for _, route := range r.routes[method] {
		if params, ok := matchSegments(parts, route.segments); ok {
			return &Match{Route: route, Params: params}, true
		}
	}
	return nil, false
}

// Methods lists the methods with at least one route matching path
func (r *Router) Methods(path string) []Method {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parts := strings.Split(path, "/")
	var methods []Method
	for _, m := range knownMethods {
		for _, route := range r.routes[m] {
			if _, ok := matchSegments(parts, route.segments); ok {
				methods = append(methods, m)
				break
			}
		}
	}
	return methods
}

// compilePattern splits a pattern on '/'. A segment written <name> binds
// one or more non-slash characters; anything else must match exactly.
func compilePattern(pattern string) ([]segment, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("%w: %q must start with /", ErrBadPattern, pattern)
	}

	parts := strings.Split(pattern, "/")
	segments := make([]segment, 0, len(parts))
	seen := make(map[string]bool)

	for _, part := range parts {
		if !strings.HasPrefix(part, "<") && !strings.HasSuffix(part, ">") {
			segments = append(segments, segment{literal: part})
			continue
		}

		name := strings.TrimSuffix(strings.TrimPrefix(part, "<"), ">")
		if len(part) < 2 || part[0] != '<' || part[len(part)-1] != '>' || !paramNamePattern.MatchString(name) {
			return nil, fmt.Errorf("%w: %q has malformed parameter %q", ErrBadPattern, pattern, part)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %q repeats parameter %q", ErrBadPattern, pattern, name)
		}
		seen[name] = true
		segments = append(segments, segment{param: name})
	}
	return segments, nil
}

func matchSegments(parts []string, segments []segment) (map[string]string, bool) {
	// Must have same number of segments
	if len(parts) != len(segments) {
		return nil, false
	}

	params := make(map[string]string)
	for i, seg := range segments {
		if seg.isParam() {
			if parts[i] == "" {
				return nil, false
			}
			params[seg.param] = parts[i]
		} else if parts[i] != seg.literal {
			return nil, false
		}
	}
	return params, true
}
