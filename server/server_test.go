package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StaticDir = t.TempDir()
	return New(cfg)
}

// respond frames raw the way a connection would and runs it through the engine
func respond(t *testing.T, srv *Server, raw string) *Response {
	t.Helper()
	frame, err := ReadFrame(strings.NewReader(raw), srv.Config().limits())
	require.NoError(t, err)
	return srv.Respond(frame, "127.0.0.1:4000")
}

func TestDispatchPathParams(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Get("/users/<id>", func(req *Request, res *Response) error {
		res.OKText("text/plain", "user "+req.Param("id"))
		return nil
	}))

	res := respond(t, srv, "GET /users/42 HTTP/1.1\r\nHost: localhost\r\n\r\n")
	assert.Equal(t, StatusOK, res.Code)
	assert.Equal(t, "user 42", string(res.Body()))

	res = respond(t, srv, "GET /users/42/extra HTTP/1.1\r\nHost: localhost\r\n\r\n")
	assert.Equal(t, StatusNotFound, res.Code)
}

func TestDispatchDecodesBody(t *testing.T) {
	srv := newTestServer(t)
	var got Content
	require.NoError(t, srv.Post("/submit", func(req *Request, res *Response) error {
		got = req.Content
		res.OKText("text/plain", "ok")
		return nil
	}))

	body := "a=1&b=2"
	raw := "POST /submit HTTP/1.1\r\nContent-Type: application/x-www-form-urlencoded\r\nContent-Length: " +
		strconv.Itoa(len(body)) + "\r\n\r\n" + body
	res := respond(t, srv, raw)
	require.Equal(t, StatusOK, res.Code)
	assert.Equal(t, Content{"a": "1", "b": "2"}, got)

	// body values win over query values
	raw = "POST /submit?a=0&c=3 HTTP/1.1\r\nContent-Length: 3\r\n\r\na=9"
	respond(t, srv, raw)
	assert.Equal(t, Content{"a": "9", "c": "3"}, got)
}

func TestDispatchMalformedJSONIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	called := false
	require.NoError(t, srv.Put("/items/<id>", func(req *Request, res *Response) error {
		called = true
		return nil
	}))

	raw := "PUT /items/1 HTTP/1.1\r\nContent-Type: application/json\r\nContent-Length: 6\r\n\r\n{\"a\": "
	res := respond(t, srv, raw)
	assert.Equal(t, StatusNotFound, res.Code)
	assert.False(t, called)
}

func TestUnmatchedRequests(t *testing.T) {
	srv := newTestServer(t)

	res := respond(t, srv, "GET /missing.html HTTP/1.1\r\n\r\n")
	assert.Equal(t, StatusNotFound, res.Code)
	ct, _ := res.Header.Get("Content-Type")
	assert.Equal(t, "text/plain", ct)
	length, _ := res.Header.Get("Content-Length")
	assert.Equal(t, strconv.Itoa(len(res.Body())), length)

	res = respond(t, srv, "DELETE /anything HTTP/1.1\r\n\r\n")
	assert.Equal(t, StatusNotFound, res.Code)

	// unknown methods and broken request lines never reach a handler
	res = respond(t, srv, "BREW /pot HTTP/1.1\r\n\r\n")
	assert.Equal(t, StatusNotFound, res.Code)
	res = respond(t, srv, "GET\r\n\r\n")
	assert.Equal(t, StatusNotFound, res.Code)
}

func TestStaticFallback(t *testing.T) {
	srv := newTestServer(t)
	dir := srv.Config().StaticDir
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>home</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.css"), []byte("body{}"), 0o644))

	res := respond(t, srv, "GET / HTTP/1.1\r\n\r\n")
	require.Equal(t, StatusOK, res.Code)
	assert.Equal(t, "<h1>home</h1>", string(res.Body()))
	ct, _ := res.Header.Get("Content-Type")
	assert.Equal(t, "text/html", ct)

	res = respond(t, srv, "GET /app.css HTTP/1.1\r\n\r\n")
	ct, _ = res.Header.Get("Content-Type")
	assert.Equal(t, "text/css", ct)

	res = respond(t, srv, "GET /../secret HTTP/1.1\r\n\r\n")
	assert.Equal(t, StatusNotFound, res.Code)

	// routes take precedence over files
	require.NoError(t, srv.Get("/app.css", func(req *Request, res *Response) error {
		res.OKText("text/css", "routed")
		return nil
	}))
	res = respond(t, srv, "GET /app.css HTTP/1.1\r\n\r\n")
	assert.Equal(t, "routed", string(res.Body()))
}

func TestOptionsPreflight(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Post("/items/<id>", noopHandler))
	require.NoError(t, srv.Get("/items/<id>", noopHandler))

	res := respond(t, srv, "OPTIONS /items/7 HTTP/1.1\r\nAccess-Control-Request-Headers: X-Token\r\n\r\n")
	assert.Equal(t, StatusOK, res.Code)
	methods, _ := res.Header.Get("Access-Control-Allow-Methods")
	assert.Equal(t, "GET, POST", methods)
	headers, _ := res.Header.Get("Access-Control-Allow-Headers")
	assert.Equal(t, "X-Token", headers)
	assert.False(t, res.HasBody())
}

func TestCORSAnnotation(t *testing.T) {
	srv := newTestServer(t)
	srv.AllowOrigin("http://localhost:8080")
	require.NoError(t, srv.Get("/ping", noopHandler))

	res := respond(t, srv, "GET /ping HTTP/1.1\r\nOrigin: http://localhost:8080\r\n\r\n")
	origin, _ := res.Header.Get("Access-Control-Allow-Origin")
	assert.Equal(t, "http://localhost:8080", origin)
	creds, _ := res.Header.Get("Access-Control-Allow-Credentials")
	assert.Equal(t, "true", creds)

	res = respond(t, srv, "GET /ping HTTP/1.1\r\nOrigin: http://evil.example\r\n\r\n")
	_, ok := res.Header.Get("Access-Control-Allow-Origin")
	assert.False(t, ok)
}

func TestHeadUsesGetRoute(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Get("/page", func(req *Request, res *Response) error {
		res.HTML("<p>page</p>")
		return nil
	}))

	res := respond(t, srv, "HEAD /page HTTP/1.1\r\n\r\n")
	assert.Equal(t, StatusOK, res.Code)
	assert.False(t, res.HasBody())
	length, _ := res.Header.Get("Content-Length")
	assert.Equal(t, "11", length)
	assert.True(t, strings.HasSuffix(string(res.Bytes()), "Content-Length: 11\r\n\r\n"))
}

func TestHandlerOutcomes(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Get("/error", func(req *Request, res *Response) error {
		return errors.New("database unavailable")
	}))
	require.NoError(t, srv.Get("/panic", func(req *Request, res *Response) error {
		var m map[string]int
		m["x"] = 1
		return nil
	}))
	require.NoError(t, srv.Get("/silent", func(req *Request, res *Response) error {
		res.Header.Set("X-Touched", "yes")
		return nil
	}))
	require.NoError(t, srv.Get("/redirect", func(req *Request, res *Response) error {
		res.Redirect("/elsewhere")
		return nil
	}))

	tests := []struct {
		path string
		code int
	}{
		{"/error", StatusInternalServerError},
		{"/panic", StatusInternalServerError},
		{"/silent", StatusNotFound},
		{"/redirect", StatusFound},
	}
	for _, tt := range tests {
		res := respond(t, srv, "GET "+tt.path+" HTTP/1.1\r\n\r\n")
		assert.Equal(t, tt.code, res.Code, tt.path)
	}
}

func TestMiddlewareFailureIsServerError(t *testing.T) {
	failing := func(req *Request, res *Response) (*Request, *Response, error) {
		return nil, nil, errors.New("middleware broke")
	}

	t.Run("before routing", func(t *testing.T) {
		srv := newTestServer(t)
		called := false
		require.NoError(t, srv.Get("/", func(req *Request, res *Response) error {
			called = true
			return noopHandler(req, res)
		}))
		srv.Use(Middleware{Name: "broken", Before: true, Handle: failing})

		res := respond(t, srv, "GET / HTTP/1.1\r\n\r\n")
		assert.Equal(t, StatusInternalServerError, res.Code)
		assert.False(t, called)
	})

	t.Run("after routing", func(t *testing.T) {
		srv := newTestServer(t)
		require.NoError(t, srv.Get("/", noopHandler))
		srv.Use(Middleware{Name: "broken", After: true, Handle: failing})

		res := respond(t, srv, "GET / HTTP/1.1\r\n\r\n")
		assert.Equal(t, StatusInternalServerError, res.Code)
		assert.Equal(t, serverErrorBody, string(res.Body()))
	})
}

func TestMiddlewareSeesHandlerResponse(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Get("/", noopHandler))

	var seen int
	srv.Use(Middleware{Name: "observer", After: true, Handle: func(req *Request, res *Response) (*Request, *Response, error) {
		seen = res.Code
		res.Header.Set("X-Observed", "1")
		return req, res, nil
	}})

	res := respond(t, srv, "GET / HTTP/1.1\r\n\r\n")
	assert.Equal(t, StatusOK, seen)
	_, ok := res.Header.Get("X-Observed")
	assert.True(t, ok)
}

func TestSessionMiddlewareOnServer(t *testing.T) {
	srv := newTestServer(t)
	srv.Use(SessionMiddleware(srv.Sessions()))
	require.NoError(t, srv.Get("/", func(req *Request, res *Response) error {
		srv.Sessions().Write(req.SessionID, SessionData{"visits": 1})
		return noopHandler(req, res)
	}))

	res := respond(t, srv, "GET / HTTP/1.1\r\n\r\n")
	setCookie, ok := res.Header.Get("Set-Cookie")
	require.True(t, ok)
	token := strings.TrimSuffix(strings.TrimPrefix(setCookie, "sid="), "; Path=/; HttpOnly")

	data, ok := srv.Sessions().Read(token)
	require.True(t, ok)
	assert.Equal(t, 1, data["visits"])

	res = respond(t, srv, "GET / HTTP/1.1\r\nCookie: sid="+token+"\r\n\r\n")
	_, ok = res.Header.Get("Set-Cookie")
	assert.False(t, ok)
}

func TestRegisterThroughServer(t *testing.T) {
	srv := newTestServer(t)
	assert.ErrorIs(t, srv.Handle(MethodHead, "/x", noopHandler), ErrUnsupportedMethod)
	assert.ErrorIs(t, srv.Delete("no-slash", noopHandler), ErrBadPattern)
}

func serveTestServer(t *testing.T, srv *Server) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	return ln.Addr().String(), cancel, done
}

func roundTrip(t *testing.T, addr, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = conn.Write([]byte(raw))
	require.NoError(t, err)
	conn.(*net.TCPConn).CloseWrite()

	response, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(response)
}

// Integration test
func TestIntegration(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Get("/ping", func(req *Request, res *Response) error {
		res.OKText("text/plain", "pong")
		return nil
	}))
	require.NoError(t, srv.Post("/echo/<word>", func(req *Request, res *Response) error {
		res.OKText("text/plain", req.Param("word")+":"+req.Content.String("msg"))
		return nil
	}))

	addr, cancel, done := serveTestServer(t, srv)

	response := roundTrip(t, addr, "GET /ping HTTP/1.1\r\nHost: localhost\r\n\r\n")
	assert.True(t, strings.HasPrefix(response, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, response, "Connection: close\r\n")
	assert.Contains(t, response, "Content-Length: 4\r\n")
	assert.True(t, strings.HasSuffix(response, "\r\n\r\npong\r\n\r\n"))

	body := "msg=hello+there"
	response = roundTrip(t, addr, "POST /echo/say HTTP/1.1\r\nContent-Length: "+strconv.Itoa(len(body))+"\r\n\r\n"+body)
	assert.Contains(t, response, "say:hello there")

	response = roundTrip(t, addr, "GET /nope HTTP/1.1\r\n\r\n")
	assert.True(t, strings.HasPrefix(response, "HTTP/1.1 404 Not Found\r\n"))

	// an incomplete request gets no response at all
	response = roundTrip(t, addr, "GET /ping HTTP/1.1\r\nHost: local")
	assert.Empty(t, response)

	// a short body is a framing failure too
	response = roundTrip(t, addr, "POST /echo/x HTTP/1.1\r\nContent-Length: 50\r\n\r\nmsg=")
	assert.Empty(t, response)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestIntegrationConcurrentClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaticDir = t.TempDir()
	cfg.MaxConnections = 4
	srv := New(cfg)
	require.NoError(t, srv.Get("/n/<n>", func(req *Request, res *Response) error {
		res.OKText("text/plain", req.Param("n"))
		return nil
	}))

	addr, cancel, done := serveTestServer(t, srv)
	defer func() {
		cancel()
		<-done
	}()

	results := make(chan string, 20)
	for i := 0; i < 20; i++ {
		i := i
		go func() {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				results <- err.Error()
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(5 * time.Second))
			conn.Write([]byte("GET /n/" + strconv.Itoa(i) + " HTTP/1.1\r\n\r\n"))
			response, _ := io.ReadAll(conn)
			results <- string(response)
		}()
	}

	for j := 0; j < 20; j++ {
		response := <-results
		assert.True(t, strings.HasPrefix(response, "HTTP/1.1 200 OK"), response)
	}
}

func TestServeClosedListener(t *testing.T) {
	srv := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln.Close()

	err = srv.Serve(context.Background(), ln)
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestHandleConnOverPipe(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.Get("/pipe", func(req *Request, res *Response) error {
		res.OKText("text/plain", "through the pipe")
		return nil
	}))

	client, server := net.Pipe()
	go srv.HandleConn(server)

	client.SetDeadline(time.Now().Add(5 * time.Second))
	_, err := client.Write([]byte("GET /pipe HTTP/1.1\r\n\r\n"))
	require.NoError(t, err)

	response, err := io.ReadAll(client)
	require.NoError(t, err)
	assert.Contains(t, string(response), "through the pipe")
}
