package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	StatusOK                  = 200
	StatusFound               = 302
	StatusNotFound            = 404
	StatusInternalServerError = 500
)

// reason phrases for the codes the engine emits
var statusText = map[int]string{
	200: "OK",
	201: "Created",
	204: "No Content",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	500: "Internal Server Error",
	501: "Not Implemented",
	503: "Service Unavailable",
}

const (
	notFoundBody    = "Content Not Found"
	serverErrorBody = "Internal Server Error"
	httpDateFormat  = "Mon, 02 Jan 2006 15:04:05 GMT"
	protocolVersion = "HTTP/1.1"
)

// field is one response header line
type field struct {
	key   string
	value string
}

// Header is an ordered list of response header fields
type Header struct {
	fields []field
}

// Set replaces the value of key in place, or appends it
func (h *Header) Set(key, value string) {
	for i := range h.fields {
		if h.fields[i].key == key {
			h.fields[i].value = value
			return
		}
	}
	h.fields = append(h.fields, field{key, value})
}

// Add appends a field even if key is already present
func (h *Header) Add(key, value string) {
	h.fields = append(h.fields, field{key, value})
}

func (h *Header) Get(key string) (string, bool) {
	for _, f := range h.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return "", false
}

func (h *Header) Del(key string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if f.key != key {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Keys returns field names in insertion order
func (h *Header) Keys() []string {
	keys := make([]string, len(h.fields))
	for i, f := range h.fields {
		keys[i] = f.key
	}
	return keys
}

func (h *Header) Len() int { return len(h.fields) }

// Response is built incrementally by handlers and middleware and
// serialized once by the engine.
type Response struct {
	Code   int
	Header Header

	body    []byte
	hasBody bool

	serverName string
	now        func() time.Time
}

// NewResponse returns a response with no status set
func NewResponse() *Response {
	return &Response{
		serverName: DefaultConfig().ServerName,
		now:        time.Now,
	}
}

func newResponseFor(cfg *Config) *Response {
	res := NewResponse()
	res.serverName = cfg.ServerName
	return res
}

// StatusLine renders e.g. "HTTP/1.1 200 OK"; empty while no status is set
func (r *Response) StatusLine() string {
	if r.Code == 0 {
		return ""
	}
	reason, ok := statusText[r.Code]
	if !ok {
		reason = "Unknown"
	}
	return protocolVersion + " " + strconv.Itoa(r.Code) + " " + reason
}

// HasStatus reports whether a status operation has run
func (r *Response) HasStatus() bool { return r.Code != 0 }

func (r *Response) Body() []byte { return r.body }

func (r *Response) HasBody() bool { return r.hasBody }

// SetBody stores the body as bytes
func (r *Response) SetBody(body []byte) {
	r.body = body
	r.hasBody = true
}

// SetText stores a text body, encoded to bytes
func (r *Response) SetText(body string) {
	r.SetBody([]byte(body))
}

// ClearBody drops the body; headers, including Content-Length, stay
func (r *Response) ClearBody() {
	r.body = nil
	r.hasBody = false
}

// stamp sets the standard headers every status operation carries
func (r *Response) stamp(code int) {
	if r.now == nil {
		r.now = time.Now
	}
	r.Code = code
	r.Header.Set("Date", r.now().UTC().Format(httpDateFormat))
	r.Header.Set("Connection", "close")
	r.Header.Set("Server", r.serverName)
}

// setLength derives Content-Length from the encoded body when both body
// and content type are present
func (r *Response) setLength() {
	if _, ok := r.Header.Get("Content-Type"); !ok || len(r.body) == 0 {
		return
	}
	r.Header.Set("Content-Length", strconv.Itoa(len(r.body)))
}

// OK sets 200 with the given body and content type
func (r *Response) OK(contentType string, body []byte) *Response {
	r.stamp(StatusOK)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	if body != nil {
		r.SetBody(body)
	}
	r.setLength()
	return r
}

// OKText is OK with a text body
func (r *Response) OKText(contentType, body string) *Response {
	return r.OK(contentType, []byte(body))
}

// HTML answers 200 text/html, or not found when content is empty
func (r *Response) HTML(content string) *Response {
	if content == "" {
		return r.NotFound()
	}
	return r.OKText("text/html", content)
}

// JSON answers 200 application/json with v encoded, or not found when v is nil
func (r *Response) JSON(v any) error {
	if v == nil {
		r.NotFound()
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding json response: %w", err)
	}
	r.OK("application/json", data)
	return nil
}

// NotFound sets 404 with a plain text body
func (r *Response) NotFound() *Response {
	r.stamp(StatusNotFound)
	r.Header.Set("Content-Type", "text/plain")
	r.SetText(notFoundBody)
	r.setLength()
	return r
}

// ServerError sets 500 with a plain text body
func (r *Response) ServerError() *Response {
	r.stamp(StatusInternalServerError)
	r.Header.Set("Content-Type", "text/plain")
	r.SetText(serverErrorBody)
	r.setLength()
	return r
}

// Redirect sets 302 pointing at uri
func (r *Response) Redirect(uri string) *Response {
	r.stamp(StatusFound)
	r.Header.Set("Location", uri)
	return r
}

// OptionsAllowed answers a preflight with the methods allowed for a path.
// requestHeaders echoes Access-Control-Request-Headers when non-empty.
func (r *Response) OptionsAllowed(methods []Method, requestHeaders string) *Response {
	names := make([]string, len(methods))
	for i, m := range methods {
		names[i] = string(m)
	}
	r.Header.Set("Access-Control-Allow-Methods", strings.Join(names, ", "))
	if requestHeaders != "" {
		r.Header.Set("Access-Control-Allow-Headers", requestHeaders)
	}
	r.stamp(StatusOK)
	r.ClearBody()
	return r
}

// Bytes serializes the response: status line, headers in insertion order,
// a blank line, then the body followed by a trailing separator.
func (r *Response) Bytes() []byte {
	buf := responseBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	defer func() {
		if buf.Cap() <= maxPoolBufferSize {
			responseBufferPool.Put(buf)
		}
	}()

	buf.WriteString(r.StatusLine())
	buf.Write(lineDelimiter)
	for _, f := range r.Header.fields {
		buf.WriteString(f.key)
		buf.WriteString(": ")
		buf.WriteString(f.value)
		buf.Write(lineDelimiter)
	}
	buf.Write(lineDelimiter)
	if r.hasBody {
		buf.Write(r.body)
		buf.Write(headerDelimiter)
	}

	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result
}
