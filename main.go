package main

import (
	"flag"
	"os"

	"github.com/codetesla51/magicserver/server"
	"github.com/rs/zerolog"
)

func main() {
	host := flag.String("host", "0.0.0.0", "address to bind")
	port := flag.Int("port", 8080, "port to listen on")
	static := flag.String("static", "public", "directory served for unmatched GET requests")
	logFile := flag.String("log-file", "magicserver.log", "access log file, empty to disable")
	debug := flag.Bool("debug", false, "verbose logging and coloured access log on stdout")
	flag.Parse()

	cfg := server.DefaultConfig()
	cfg.StaticDir = *static
	cfg.Debug = *debug

	logger := server.NewLogger(os.Stderr, cfg.Debug)

	srv := server.New(cfg, server.WithLogger(logger))
	srv.Use(server.SessionMiddleware(srv.Sessions()))

	cfg.EnableLogging = *logFile != "" || cfg.Debug

	if cfg.EnableLogging && *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Fatal().Err(err).Str("file", *logFile).Msg("failed to open access log")
		}
		defer f.Close()
		srv.Use(server.AccessLog(f, cfg.Debug))
	} else if cfg.EnableLogging {
		srv.Use(server.AccessLog(nil, true))
	}

	registerRoutes(srv, logger)

	if err := srv.Start(*host, *port); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}

func registerRoutes(srv *server.Server, logger zerolog.Logger) {
	routes := []struct {
		method  server.Method
		pattern string
		handler server.HandlerFunc
	}{
		{server.MethodGet, "/hello/<name>", func(req *server.Request, res *server.Response) error {
			res.HTML("<h1>Hello " + req.Param("name") + "</h1>")
			return nil
		}},
		{server.MethodGet, "/session", func(req *server.Request, res *server.Response) error {
			data, _ := srv.Sessions().Read(req.SessionID)
			return res.JSON(map[string]any{"sid": req.SessionID, "data": data})
		}},
		{server.MethodPost, "/session", func(req *server.Request, res *server.Response) error {
			data := server.SessionData{}
			for k, v := range req.Content {
				if _, isFile := v.([]byte); !isFile {
					data[k] = v
				}
			}
			srv.Sessions().Write(req.SessionID, data)
			res.Redirect("/session")
			return nil
		}},
		{server.MethodDelete, "/session", func(req *server.Request, res *server.Response) error {
			srv.Sessions().Delete(req.SessionID)
			res.OKText("text/plain", "session deleted")
			return nil
		}},
	}

	for _, r := range routes {
		if err := srv.Handle(r.method, r.pattern, r.handler); err != nil {
			logger.Fatal().Err(err).Str("pattern", r.pattern).Msg("failed to register route")
		}
	}
}
