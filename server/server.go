package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Stage is the point a request has reached; failures are logged with it
type Stage string

const (
	StageFramed         Stage = "FRAMED"
	StageParsed         Stage = "PARSED"
	StagePreMiddleware  Stage = "PRE_MIDDLEWARE"
	StageRouted         Stage = "ROUTED"
	StageContentDecoded Stage = "CONTENT_DECODED"
	StageHandled        Stage = "HANDLED"
	StagePostMiddleware Stage = "POST_MIDDLEWARE"
	StageSerialized     Stage = "SERIALIZED"
)

// Server owns the router, middleware pipeline, session store and CORS list.
// Routes and middlewares are registered before Serve is called.
type Server struct {
	config   *Config
	router   *Router
	pipeline *Pipeline
	sessions *SessionStore
	cors     *CORS
	static   StaticProvider
	logger   zerolog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStatic replaces the directory provider used for unmatched GETs
func WithStatic(p StaticProvider) Option {
	return func(s *Server) { s.static = p }
}

// New creates a server; a nil config means DefaultConfig
func New(cfg *Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:   cfg,
		router:   NewRouter(),
		pipeline: NewPipeline(),
		sessions: NewSessionStore(cfg.SessionCookie, cfg.SessionTTL),
		cors:     NewCORS(),
		static:   DirProvider{Root: cfg.StaticDir},
		logger:   zerolog.Nop(),
	}
	if cfg.MaxConnections > 0 {
		s.slots = make(chan struct{}, cfg.MaxConnections)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Config() *Config { return s.config }
func (s *Server) Router() *Router { return s.router }
func (s *Server) Pipeline() *Pipeline { return s.pipeline }
func (s *Server) Sessions() *SessionStore { return s.sessions }
func (s *Server) CORS() *CORS { return s.cors }
func (s *Server) Logger() *zerolog.Logger { return &s.logger }
func (s *Server) Static() StaticProvider { return s.static }
func (s *Server) Use(m Middleware) { s.pipeline.Use(m) }
func (s *Server) AllowOrigin(origin string) { s.cors.Allow(origin) }

// Handle registers handler for method and pattern
func (s *Server) Handle(method Method, pattern string, handler HandlerFunc) error {
	return s.router.Register(method, pattern, handler)
}

func (s *Server) Get(pattern string, handler HandlerFunc) error {
	return s.Handle(MethodGet, pattern, handler)
}

func (s *Server) Post(pattern string, handler HandlerFunc) error {
	return s.Handle(MethodPost, pattern, handler)
}

func (s *Server) Put(pattern string, handler HandlerFunc) error {
	return s.Handle(MethodPut, pattern, handler)
}

func (s *Server) Delete(pattern string, handler HandlerFunc) error {
	return s.Handle(MethodDelete, pattern, handler)
}

// Start binds host:port, allows that origin for CORS and serves until
// SIGINT or SIGTERM.
func (s *Server) Start(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	s.AllowOrigin("http://" + addr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return s.ListenAndServe(ctx, addr)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, one goroutine each, until ctx is done.
// It then closes ln, waits for in-flight connections and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	if s.config.SessionTTL > 0 && s.config.SweepInterval > 0 {
		go s.sweepSessions(ctx)
	}

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("serving")

	for {
		if !s.acquire(ctx) {
			break
		}
		conn, err := ln.Accept()
		if err != nil {
			s.release()
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return err
			}
			s.logger.Warn().Err(err).Msg("error accepting connection")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.release()
			s.HandleConn(conn)
		}()
	}

	s.wg.Wait()
	s.logger.Info().Msg("server stopped")
	return nil
}

// acquire takes a connection slot, waiting while MaxConnections are busy
func (s *Server) acquire(ctx context.Context) bool {
	if s.slots == nil {
		return ctx.Err() == nil
	}
	select {
	case s.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) release() {
	if s.slots != nil {
		<-s.slots
	}
}

func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Sweep(); n > 0 {
				s.logger.Debug().Int("expired", n).Msg("swept sessions")
			}
		}
	}
}

// HandleConn serves exactly one request on conn and closes it. Framing
// failures close the connection without a response.
func (s *Server) HandleConn(conn net.Conn) {
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	log := s.logger.With().Str("remote", remote).Logger()

	if s.config.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	frame, err := ReadFrame(conn, s.config.limits())
	if err != nil {
		log.Debug().Err(err).Msg("dropping connection before a complete request")
		return
	}

	res := s.Respond(frame, remote)

	if s.config.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if _, err := conn.Write(res.Bytes()); err != nil {
		log.Debug().Err(err).Msg("error writing response")
		return
	}
	log.Debug().Str("stage", string(StageSerialized)).Int("status", res.Code).Msg("response written")
}

// Respond turns a framed request into its final response
func (s *Server) Respond(frame *Frame, remote string) (res *Response) {
	defer func() {
		if err := recover(); err != nil {
			s.logger.Error().Str("remote", remote).Msgf("PANIC recovered: %v\n%s", err, debug.Stack())
			res = newResponseFor(s.config).ServerError()
		}
	}()

	req, err := ParseRequest(frame, remote)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote", remote).Str("stage", string(StageFramed)).Msg("unparseable request")
		return newResponseFor(s.config).NotFound()
	}
	return s.Dispatch(req)
}

// Dispatch runs a parsed request through CORS, the pre-phase middlewares,
// routing and the handler, then the post-phase middlewares.
func (s *Server) Dispatch(req *Request) *Response {
	log := s.logger.With().
		Str("remote", req.RemoteAddr).
		Str("method", string(req.Method)).
		Str("path", req.Path).
		Logger()

	res := newResponseFor(s.config)
	s.cors.Annotate(req, res)

	req, res, err := s.pipeline.RunBefore(req, res)
	if err != nil {
		log.Error().Err(err).Str("stage", string(StagePreMiddleware)).Msg("middleware failed")
		res.ServerError()
	} else {
		res = s.route(req, res, log)
	}

	if req.Method == MethodHead {
		res.ClearBody()
	}

	_, out, err := s.pipeline.RunAfter(req, res)
	if err != nil {
		log.Error().Err(err).Str("stage", string(StagePostMiddleware)).Msg("middleware failed")
		return newResponseFor(s.config).ServerError()
	}
	return out
}

// route matches the request, decodes its body and runs the handler.
// HEAD reuses GET routes, OPTIONS is answered from the route table, and
// an unmatched GET falls back to the static provider.
func (s *Server) route(req *Request, res *Response, log zerolog.Logger) *Response {
	lookup := req.Method
	switch req.Method {
	case MethodOptions:
		requested, _ := req.Header("Access-Control-Request-Headers")
		return res.OptionsAllowed(s.router.Methods(req.Path), requested)
	case MethodHead:
		lookup = MethodGet
	}

	match, ok := s.router.Match(lookup, req.Path)
	if !ok {
		if lookup == MethodGet {
			return s.serveStatic(req, res)
		}
		return res.NotFound()
	}
	req.Params = match.Params

	if req.Method == MethodPost || req.Method == MethodPut {
		contentType, _ := req.Header("Content-Type")
		content, err := DecodeBody(contentType, req.Body)
		if err != nil {
			log.Debug().Err(err).Str("stage", string(StageRouted)).Msg("body decode failed")
			return res.NotFound()
		}
		if req.Content == nil {
			req.Content = Content{}
		}
		req.Content.merge(content)
	}

	return s.runHandler(match.Route, req, res, log)
}

func (s *Server) runHandler(route *Route, req *Request, res *Response, log zerolog.Logger) (out *Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stage", string(StageHandled)).Str("route", route.Pattern).
				Msgf("PANIC recovered: %v\n%s", r, debug.Stack())
			out = res.ServerError()
		}
	}()

	if err := route.handler(req, res); err != nil {
		log.Error().Err(err).Str("stage", string(StageHandled)).Str("route", route.Pattern).Msg("handler failed")
		return res.ServerError()
	}
	if !res.HasStatus() {
		return res.NotFound()
	}
	return res
}

// serveStatic answers from the static provider, or not found
func (s *Server) serveStatic(req *Request, res *Response) *Response {
	if s.static == nil {
		return res.NotFound()
	}
	content, ok := s.static.Open(req.Path)
	if !ok {
		return res.NotFound()
	}
	path := req.Path
	if path == "/" {
		path = "/index.html"
	}
	return res.OK(ContentTypeFor(path), content)
}
