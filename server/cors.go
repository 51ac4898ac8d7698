package server

import (
	"slices"
	"sync"
)

// CORS holds the origins allowed to make credentialed cross-origin requests
type CORS struct {
	mu      sync.RWMutex
	origins []string
}

func NewCORS(origins ...string) *CORS {
	return &CORS{origins: slices.Clone(origins)}
}

// Allow adds an origin to the allow-list
func (c *CORS) Allow(origin string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.origins, origin) {
		c.origins = append(c.origins, origin)
	}
}

func (c *CORS) Allowed(origin string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.origins, origin)
}

// Annotate adds the allow headers when the request's Origin is listed
func (c *CORS) Annotate(req *Request, res *Response) {
	origin, ok := req.Header("Origin")
	if !ok || !c.Allowed(origin) {
		return
	}
	res.Header.Set("Access-Control-Allow-Origin", origin)
	res.Header.Set("Access-Control-Allow-Credentials", "true")
}
