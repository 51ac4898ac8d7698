package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// parse errors; the engine answers them with the not-found response
var (
	ErrBadRequestLine = errors.New("invalid request line")
	ErrUnknownMethod  = errors.New("unknown method")
)

// Method is an HTTP request method understood by the engine
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodDelete  Method = "DELETE"
	MethodHead    Method = "HEAD"
	MethodOptions Method = "OPTIONS"
)

// methods in the order they are reported to clients
var knownMethods = []Method{MethodGet, MethodPost, MethodPut, MethodDelete, MethodHead, MethodOptions}

// ParseMethod maps a request-line token to a Method
func ParseMethod(s string) (Method, error) {
	for _, m := range knownMethods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// Request represents an incoming HTTP request
type Request struct {
	Method     Method
	Path       string
	RawQuery   string
	Protocol   string
	Headers    map[string]string
	Cookies    map[string]string
	Body       []byte
	Content    Content
	Params     map[string]string
	RemoteAddr string
	SessionID  string
}

// Header returns a header value; keys are matched as received
func (r *Request) Header(key string) (string, bool) {
	v, ok := r.Headers[key]
	return v, ok
}

// HasCookieHeader reports whether the client sent a Cookie header at all
func (r *Request) HasCookieHeader() bool {
	_, ok := r.Headers["Cookie"]
	return ok
}

func (r *Request) Cookie(name string) (string, bool) {
	v, ok := r.Cookies[name]
	return v, ok
}

func (r *Request) Param(name string) string {
	return r.Params[name]
}

// Content is the decoded key/value data of a query string or body.
// Values are strings, raw bytes for uploaded files, or decoded JSON values.
type Content map[string]any

// String returns a value as text, formatting non-string values
func (c Content) String(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Bytes returns a value as raw bytes
func (c Content) Bytes(key string) []byte {
	switch v := c[key].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}

// merge layers other over c
func (c Content) merge(other Content) {
	for k, v := range other {
		c[k] = v
	}
}

// ParseRequest turns a frame into a Request. Content holds the decoded query
// string; the body is decoded later, once a route has matched.
func ParseRequest(frame *Frame, remoteAddr string) (*Request, error) {
	lines := bytes.Split(frame.Header, lineDelimiter)

	method, target, protocol, err := parseRequestLineFromBytes(lines[0])
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:     method,
		Protocol:   protocol,
		Headers:    parseHeadersFromBytes(lines[1:]),
		Body:       frame.Body,
		Content:    Content{},
		Params:     map[string]string{},
		RemoteAddr: remoteAddr,
	}

	path, query, hasQuery := strings.Cut(target, "?")
	req.Path = safePathDecode(path)
	if hasQuery {
		req.RawQuery = query
		req.Content = parseKeyValuePairs(query)
	}

	req.Cookies = parseCookies(req.Headers)

	return req, nil
}

// parseRequestLineFromBytes splits METHOD SP PATH SP PROTOCOL
func parseRequestLineFromBytes(line []byte) (Method, string, string, error) {
	parts := bytes.Split(line, []byte(" "))
	if len(parts) != 3 || len(parts[1]) == 0 || len(parts[2]) == 0 {
		return "", "", "", fmt.Errorf("%w: %q", ErrBadRequestLine, line)
	}
	method, err := ParseMethod(string(parts[0]))
	if err != nil {
		return "", "", "", err
	}
	return method, string(parts[1]), string(parts[2]), nil
}

// parseHeadersFromBytes splits each line on the first ": ", keeping later
// colons in the value. Lines without the separator are skipped.
func parseHeadersFromBytes(headerLines [][]byte) map[string]string {
	headerMap := make(map[string]string, len(headerLines))
	sep := []byte(": ")
	for _, line := range headerLines {
		key, value, ok := bytes.Cut(line, sep)
		if !ok || len(key) == 0 {
			continue
		}
		headerMap[string(key)] = string(value)
	}
	return headerMap
}

// parseCookies decodes the Cookie header. The result is never nil.
func parseCookies(headers map[string]string) map[string]string {
	cookies := make(map[string]string)
	raw, ok := headers["Cookie"]
	if !ok {
		return cookies
	}
	for _, piece := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(piece), "=")
		if !ok || name == "" {
			continue
		}
		cookies[name] = value
	}
	return cookies
}

// EncodeCookies renders a cookie mapping as a Cookie header value
func EncodeCookies(cookies map[string]string) string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(cookies[name])
	}
	return b.String()
}

// parseKeyValuePairs decodes query strings and url-encoded forms: pairs
// split on '&', then once on '='. A pair without '=' gets an empty value.
func parseKeyValuePairs(data string) Content {
	result := make(Content, 8)
	for _, pair := range strings.Split(data, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		result[safeURLDecode(key)] = safeURLDecode(value)
	}
	return result
}

// safePathDecode decodes a request path; '+' stays literal
func safePathDecode(encoded string) string {
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return encoded
	}
	return decoded
}

// safeURLDecode decodes a URL-encoded string, returning original on error
func safeURLDecode(encoded string) string {
	decoded, err := url.QueryUnescape(encoded)
	if err != nil {
		return encoded
	}
	return decoded
}
